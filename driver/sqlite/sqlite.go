// Package sqlite implements the SQLite backend for the driver.Driver
// contract.
//
// Grounded on rediwo-redi-orm/internal/drivers/sqlite/driver.go for the
// database/sql + mattn/go-sqlite3 connection/Exec/Query shape and
// mapping.go's fieldTypeToSQL for the storage-type-to-column-type mapping.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/toasty-orm/toasty/driver"
	"github.com/toasty-orm/toasty/driver/sqlgen"
	"github.com/toasty-orm/toasty/logger"
	"github.com/toasty-orm/toasty/schema"
	"github.com/toasty-orm/toasty/stmt"
	"github.com/toasty-orm/toasty/tserr"
)

type Driver struct {
	db  *sql.DB
	Log logger.Logger
}

// Open connects to a SQLite database at path (use ":memory:" for an
// ephemeral in-process database, as the conformance suite does).
func Open(path string) (*Driver, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, tserr.Driver(err)
	}
	return &Driver{db: db, Log: logger.NewDefaultLogger("driver/sqlite")}, nil
}

func (d *Driver) Capability() driver.Capability { return driver.SQLITE }

func (d *Driver) Close() error { return d.db.Close() }

type dialect struct{}

func (dialect) Placeholder(int) string    { return "?" }
func (dialect) QuoteIdent(name string) string { return `"` + strings.ReplaceAll(name, `"`, `""`) + `"` }

func (d *Driver) RegisterSchema(ctx context.Context, db *schema.DbSchema) error {
	for i := range db.Tables {
		ddl := createTableDDL(&db.Tables[i])
		if _, err := d.db.ExecContext(ctx, ddl); err != nil {
			return tserr.Driver(err)
		}
		for _, idx := range db.Tables[i].Indices {
			if _, err := d.db.ExecContext(ctx, createIndexDDL(&db.Tables[i], idx)); err != nil {
				return tserr.Driver(err)
			}
		}
	}
	return nil
}

func (d *Driver) ResetDb(ctx context.Context, db *schema.DbSchema) error {
	for i := range db.Tables {
		q := fmt.Sprintf("DELETE FROM %s", dialect{}.QuoteIdent(db.Tables[i].Name))
		if _, err := d.db.ExecContext(ctx, q); err != nil {
			return tserr.Driver(err)
		}
	}
	return nil
}

func createTableDDL(table *schema.Table) string {
	var cols []string
	for _, c := range table.Columns {
		col := fmt.Sprintf("%s %s", dialect{}.QuoteIdent(c.Name), storageTypeToSQL(c.StorageType))
		if c.PrimaryKey && len(table.PrimaryKey.Columns) == 1 {
			col += " PRIMARY KEY"
			if c.AutoIncrement {
				col += " AUTOINCREMENT"
			}
		} else if !c.Nullable {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}
	if len(table.PrimaryKey.Columns) > 1 {
		names := make([]string, len(table.PrimaryKey.Columns))
		for i, cid := range table.PrimaryKey.Columns {
			names[i] = dialect{}.QuoteIdent(table.Columns[cid.Index].Name)
		}
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(names, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", dialect{}.QuoteIdent(table.Name), strings.Join(cols, ", "))
}

func createIndexDDL(table *schema.Table, idx schema.DbIndex) string {
	names := make([]string, len(idx.Columns))
	for i, cid := range idx.Columns {
		names[i] = dialect{}.QuoteIdent(table.Columns[cid.Index].Name)
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	indexName := dialect{}.QuoteIdent(table.Name + "_" + idx.Name)
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique, indexName, dialect{}.QuoteIdent(table.Name), strings.Join(names, ", "))
}

func storageTypeToSQL(t schema.StorageType) string {
	switch t.Kind {
	case schema.StorageBoolean, schema.StorageInteger, schema.StorageUnsignedInteger:
		return "INTEGER"
	case schema.StorageText, schema.StorageVarChar, schema.StorageUuid:
		return "TEXT"
	case schema.StorageBlob:
		return "BLOB"
	case schema.StorageTimestamp, schema.StorageDate, schema.StorageTime, schema.StorageDateTime:
		return "DATETIME"
	case schema.StorageDecimal, schema.StorageBigDecimal:
		return "TEXT" // SQLite has no native decimal type; stored as text to preserve precision
	default:
		return "TEXT"
	}
}

func (d *Driver) Exec(ctx context.Context, db *schema.DbSchema, op driver.Operation) (*driver.Response, error) {
	switch v := op.(type) {
	case driver.QuerySql:
		return d.execQuerySql(ctx, db, v)
	case driver.GetByKey:
		return d.execGetByKey(ctx, db, v)
	case driver.QueryPk:
		return d.execQueryPk(ctx, db, v)
	case driver.UpdateByKey:
		return d.execUpdateByKey(ctx, db, v)
	case driver.FindPkByIndex:
		return d.execFindPkByIndex(ctx, db, v)
	case driver.TransactionOperation:
		return d.execTransaction(ctx, v)
	default:
		return nil, tserr.UnsupportedFeature(fmt.Sprintf("sqlite: unsupported operation %T", op))
	}
}

func (d *Driver) execQuerySql(ctx context.Context, db *schema.DbSchema, op driver.QuerySql) (*driver.Response, error) {
	s := op.Stmt
	switch {
	case s.Query != nil:
		sqlText, args, err := sqlgen.Query(db, s.Query, dialect{})
		if err != nil {
			return nil, err
		}
		return d.query(ctx, sqlText, args)
	case s.Insert != nil:
		sqlText, args, err := sqlgen.Insert(db, s.Insert, dialect{})
		if err != nil {
			return nil, err
		}
		if _, ok := s.Insert.Returning.(stmt.ReturningStar); ok {
			return d.query(ctx, sqlText, args)
		}
		resp, err := d.exec(ctx, sqlText, args)
		if err != nil {
			return nil, err
		}
		if op.LastInsertIdHack && resp.LastInsertID != 0 {
			return d.lastInsertIdHack(ctx, db, s, resp.LastInsertID)
		}
		return resp, nil
	case s.Update != nil:
		sqlText, args, err := sqlgen.Update(db, s.Update, dialect{})
		if err != nil {
			return nil, err
		}
		if _, ok := s.Update.Returning.(stmt.ReturningStar); ok {
			return d.query(ctx, sqlText, args)
		}
		return d.exec(ctx, sqlText, args)
	case s.Delete != nil:
		sqlText, args, err := sqlgen.Delete(db, s.Delete, dialect{})
		if err != nil {
			return nil, err
		}
		if _, ok := s.Delete.Returning.(stmt.ReturningStar); ok {
			return d.query(ctx, sqlText, args)
		}
		return d.exec(ctx, sqlText, args)
	default:
		return nil, tserr.Adhoc("sqlite: empty statement")
	}
}

// lastInsertIdHack re-SELECTs the row SQLite just inserted, since SQLite's
// go driver doesn't surface RETURNING results through database/sql --
// mirrors the MySQL RETURNING workaround named in driver.QuerySql, applied
// here too since both drivers share the database/sql Result.LastInsertId
// path.
func (d *Driver) lastInsertIdHack(ctx context.Context, db *schema.DbSchema, s *stmt.Statement, id int64) (*driver.Response, error) {
	tgt, ok := s.Insert.Target.(stmt.InsertTargetTable)
	if !ok {
		return nil, tserr.Adhoc("sqlite: last_insert_id_hack requires a table target")
	}
	table := db.Table(schema.TableId(tgt.Table))
	if table == nil || len(table.PrimaryKey.Columns) != 1 {
		return nil, tserr.Adhoc("sqlite: last_insert_id_hack requires a single-column primary key")
	}
	pkCol := table.Columns[table.PrimaryKey.Columns[0].Index]
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", dialect{}.QuoteIdent(table.Name), dialect{}.QuoteIdent(pkCol.Name))
	return d.query(ctx, q, []any{id})
}

func (d *Driver) execGetByKey(ctx context.Context, db *schema.DbSchema, op driver.GetByKey) (*driver.Response, error) {
	table := db.Table(op.Table)
	if table == nil {
		return nil, tserr.Adhoc("sqlite: unknown table %d", op.Table)
	}
	if len(op.Keys) == 0 {
		return &driver.Response{Rows: emptyRows{}}, nil
	}
	pkCols := table.PrimaryKeyColumns()
	names := make([]string, len(pkCols))
	for i, c := range pkCols {
		names[i] = dialect{}.QuoteIdent(c.Name)
	}

	var where string
	var args []any
	if len(pkCols) == 1 {
		placeholders := make([]string, len(op.Keys))
		for i, k := range op.Keys {
			fields, _ := k.AsRecord()
			v := k
			if len(fields) == 1 {
				v = fields[0]
			}
			args = append(args, v.Raw())
			placeholders[i] = "?"
		}
		where = fmt.Sprintf("%s IN (%s)", names[0], strings.Join(placeholders, ", "))
	} else {
		var branches []string
		for _, k := range op.Keys {
			fields, _ := k.AsRecord()
			var eqs []string
			for i, f := range fields {
				eqs = append(eqs, fmt.Sprintf("%s = ?", names[i]))
				args = append(args, f.Raw())
			}
			branches = append(branches, "("+strings.Join(eqs, " AND ")+")")
		}
		where = strings.Join(branches, " OR ")
	}

	q := fmt.Sprintf("SELECT * FROM %s WHERE %s", dialect{}.QuoteIdent(table.Name), where)
	return d.query(ctx, q, args)
}

func (d *Driver) execQueryPk(ctx context.Context, db *schema.DbSchema, op driver.QueryPk) (*driver.Response, error) {
	table := db.Table(op.Table)
	if table == nil {
		return nil, tserr.Adhoc("sqlite: unknown table %d", op.Table)
	}
	where, args, err := sqlgen_renderFilter(db, table, op.Filter)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT * FROM %s", dialect{}.QuoteIdent(table.Name))
	if where != "" {
		q += " WHERE " + where
	}
	return d.query(ctx, q, args)
}

func (d *Driver) execFindPkByIndex(ctx context.Context, db *schema.DbSchema, op driver.FindPkByIndex) (*driver.Response, error) {
	table := db.Table(op.Table)
	if table == nil {
		return nil, tserr.Adhoc("sqlite: unknown table %d", op.Table)
	}
	pkCols := table.PrimaryKeyColumns()
	pkNames := make([]string, len(pkCols))
	for i, c := range pkCols {
		pkNames[i] = dialect{}.QuoteIdent(c.Name)
	}
	where, args, err := sqlgen_renderFilter(db, table, op.Filter)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(pkNames, ", "), dialect{}.QuoteIdent(table.Name))
	if where != "" {
		q += " WHERE " + where
	}
	return d.query(ctx, q, args)
}

func (d *Driver) execUpdateByKey(ctx context.Context, db *schema.DbSchema, op driver.UpdateByKey) (*driver.Response, error) {
	table := db.Table(op.Table)
	if table == nil {
		return nil, tserr.Adhoc("sqlite: unknown table %d", op.Table)
	}

	var sets []string
	var args []any
	for colIdx, assign := range op.Assignments {
		where, exprArgs, err := sqlgen_renderFilter(db, table, assign.Expr)
		_ = exprArgs
		if err != nil {
			return nil, err
		}
		sets = append(sets, fmt.Sprintf("%s = %s", dialect{}.QuoteIdent(table.Columns[colIdx].Name), where))
		args = append(args, exprArgs...)
	}

	q := fmt.Sprintf("UPDATE %s SET %s", dialect{}.QuoteIdent(table.Name), strings.Join(sets, ", "))

	where := stmt.And(op.Filter, op.Condition)
	if where != nil && !stmt.IsTrue(where) {
		whereSQL, whereArgs, err := sqlgen_renderFilter(db, table, where)
		if err != nil {
			return nil, err
		}
		q += " WHERE " + whereSQL
		args = append(args, whereArgs...)
	}

	if _, ok := op.Returning.(stmt.ReturningStar); ok {
		q += " RETURNING *"
		return d.query(ctx, q, args)
	}
	return d.exec(ctx, q, args)
}

// sqlgen_renderFilter is a small adapter so driver ops that only carry a
// bare stmt.Expr (not a full Statement) can still reuse sqlgen's expression
// renderer.
func sqlgen_renderFilter(db *schema.DbSchema, table *schema.Table, e stmt.Expr) (string, []any, error) {
	if e == nil || stmt.IsTrue(e) {
		return "", nil, nil
	}
	fakeSelect := stmt.Query{Body: stmt.Select{
		Source: stmt.SourceTable{Table: stmt.TableRef{Table: int(table.Id)}},
		Filter: e,
	}}
	sqlText, args, err := sqlgen.Query(db, &fakeSelect, dialect{})
	if err != nil {
		return "", nil, err
	}
	const marker = " WHERE "
	idx := strings.Index(sqlText, marker)
	if idx < 0 {
		return "", args, nil
	}
	return sqlText[idx+len(marker):], args, nil
}

func (d *Driver) execTransaction(ctx context.Context, op driver.TransactionOperation) (*driver.Response, error) {
	var q string
	switch op.Transaction.Op {
	case driver.TxStart:
		q = "BEGIN"
	case driver.TxCommit:
		q = "COMMIT"
	case driver.TxRollback:
		q = "ROLLBACK"
	case driver.TxSavepoint:
		q = "SAVEPOINT " + dialect{}.QuoteIdent(op.Transaction.Name)
	case driver.TxRollbackTo:
		q = "ROLLBACK TO " + dialect{}.QuoteIdent(op.Transaction.Name)
	case driver.TxRelease:
		q = "RELEASE " + dialect{}.QuoteIdent(op.Transaction.Name)
	default:
		return nil, tserr.UnsupportedFeature("sqlite: unknown transaction op")
	}
	if _, err := d.db.ExecContext(ctx, q); err != nil {
		return nil, tserr.Driver(err)
	}
	return &driver.Response{}, nil
}

func (d *Driver) exec(ctx context.Context, q string, args []any) (*driver.Response, error) {
	d.Log.Debug("exec: %s", q)
	res, err := d.db.ExecContext(ctx, q, args...)
	if err != nil {
		d.Log.Error("exec failed: %s: %v", q, err)
		return nil, tserr.Driver(err)
	}
	affected, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return &driver.Response{RowsAffected: affected, LastInsertID: lastID}, nil
}

func (d *Driver) query(ctx context.Context, q string, args []any) (*driver.Response, error) {
	d.Log.Debug("query: %s", q)
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		d.Log.Error("query failed: %s: %v", q, err)
		return nil, tserr.Driver(err)
	}
	return &driver.Response{Rows: &sqlRows{rows: rows}}, nil
}

// sqlRows adapts database/sql.Rows to driver.Rows, scanning each column into
// an any and converting it with rawToValue so the caller doesn't need to
// know column types ahead of time.
type sqlRows struct {
	rows *sql.Rows
	cols []*sql.ColumnType
}

func (r *sqlRows) Next(ctx context.Context) (*driver.Row, error) {
	if !r.rows.Next() {
		return nil, r.rows.Err()
	}
	if r.cols == nil {
		cols, err := r.rows.ColumnTypes()
		if err != nil {
			return nil, tserr.Driver(err)
		}
		r.cols = cols
	}
	raw := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, tserr.Driver(err)
	}
	values := make([]stmt.Value, len(raw))
	for i, v := range raw {
		values[i] = rawToValue(v)
	}
	return &driver.Row{Values: values}, nil
}

func (r *sqlRows) Close() error { return r.rows.Close() }

func rawToValue(v any) stmt.Value {
	switch t := v.(type) {
	case nil:
		return stmt.Null()
	case int64:
		return stmt.I64(t)
	case float64:
		return stmt.F64(t)
	case []byte:
		return stmt.String(string(t))
	case string:
		return stmt.String(t)
	case bool:
		return stmt.Bool(t)
	default:
		return stmt.String(fmt.Sprintf("%v", t))
	}
}

type emptyRows struct{}

func (emptyRows) Next(context.Context) (*driver.Row, error) { return nil, nil }
func (emptyRows) Close() error                              { return nil }
