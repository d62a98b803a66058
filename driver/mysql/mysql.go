// Package mysql implements the MySQL backend for the driver.Driver
// contract.
//
// Grounded on driver/sqlite's database/sql-based shape, adapted to MySQL's
// own syntax: backtick-quoted identifiers, "?" placeholders (shared with
// SQLite), AUTO_INCREMENT instead of AUTOINCREMENT, and no RETURNING
// support at all (driver.MYSQL.ReturningFromMutation is false): any
// RETURNING clause is dropped before an INSERT/UPDATE/DELETE is rendered.
// An INSERT with QuerySql.LastInsertIdHack set, which op.go's planner sets
// for this backend's INSERTs, is followed by the last_insert_id_hack
// re-SELECT whenever MySQL reports a non-zero last-insert id; UPDATE and
// DELETE report rows affected only.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

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

// Open connects to MySQL at dsn (go-sql-driver/mysql DSN form,
// "user:pass@tcp(host:3306)/db").
func Open(dsn string) (*Driver, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, tserr.Driver(err)
	}
	return &Driver{db: db, Log: logger.NewDefaultLogger("driver/mysql")}, nil
}

func (d *Driver) Capability() driver.Capability { return driver.MYSQL }

func (d *Driver) Close() error { return d.db.Close() }

type dialect struct{}

func (dialect) Placeholder(int) string { return "?" }
func (dialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *Driver) RegisterSchema(ctx context.Context, db *schema.DbSchema) error {
	for i := range db.Tables {
		if _, err := d.db.ExecContext(ctx, createTableDDL(&db.Tables[i])); err != nil {
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
				col += " AUTO_INCREMENT"
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
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE=InnoDB", dialect{}.QuoteIdent(table.Name), strings.Join(cols, ", "))
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
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, indexName, dialect{}.QuoteIdent(table.Name), strings.Join(names, ", "))
}

func storageTypeToSQL(t schema.StorageType) string {
	switch t.Kind {
	case schema.StorageBoolean:
		return "TINYINT(1)"
	case schema.StorageInteger:
		if t.Width == 8 {
			return "BIGINT"
		}
		return "INT"
	case schema.StorageUnsignedInteger:
		if t.Width == 8 {
			return "BIGINT UNSIGNED"
		}
		return "INT UNSIGNED"
	case schema.StorageText:
		return "TEXT"
	case schema.StorageVarChar:
		if t.VarCharN > 0 {
			return fmt.Sprintf("VARCHAR(%d)", t.VarCharN)
		}
		return "VARCHAR(255)"
	case schema.StorageBlob:
		return "BLOB"
	case schema.StorageUuid:
		return "CHAR(36)" // MySQL has no native UUID column type
	case schema.StorageTimestamp:
		return "TIMESTAMP"
	case schema.StorageDate:
		return "DATE"
	case schema.StorageTime:
		return "TIME"
	case schema.StorageDateTime:
		return "DATETIME"
	case schema.StorageDecimal:
		return "DECIMAL(20,6)"
	case schema.StorageBigDecimal:
		return "DECIMAL(65,10)"
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
		return nil, tserr.UnsupportedFeature(fmt.Sprintf("mysql: unsupported operation %T", op))
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
		ins := *s.Insert
		ins.Returning = nil
		sqlText, args, err := sqlgen.Insert(db, &ins, dialect{})
		if err != nil {
			return nil, err
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
		upd := *s.Update
		upd.Returning = nil
		sqlText, args, err := sqlgen.Update(db, &upd, dialect{})
		if err != nil {
			return nil, err
		}
		return d.exec(ctx, sqlText, args)
	case s.Delete != nil:
		del := *s.Delete
		del.Returning = nil
		sqlText, args, err := sqlgen.Delete(db, &del, dialect{})
		if err != nil {
			return nil, err
		}
		return d.exec(ctx, sqlText, args)
	default:
		return nil, tserr.Adhoc("mysql: empty statement")
	}
}

// lastInsertIdHack re-SELECTs the row MySQL just inserted, since MySQL has
// no RETURNING clause at all (unlike SQLite, where the same method name
// covers the narrower case of database/sql not surfacing it).
func (d *Driver) lastInsertIdHack(ctx context.Context, db *schema.DbSchema, s *stmt.Statement, id int64) (*driver.Response, error) {
	tgt, ok := s.Insert.Target.(stmt.InsertTargetTable)
	if !ok {
		return nil, tserr.Adhoc("mysql: last_insert_id_hack requires a table target")
	}
	table := db.Table(schema.TableId(tgt.Table))
	if table == nil || len(table.PrimaryKey.Columns) != 1 {
		return nil, tserr.Adhoc("mysql: last_insert_id_hack requires a single-column primary key")
	}
	pkCol := table.Columns[table.PrimaryKey.Columns[0].Index]
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", dialect{}.QuoteIdent(table.Name), dialect{}.QuoteIdent(pkCol.Name))
	return d.query(ctx, q, []any{id})
}

func (d *Driver) execGetByKey(ctx context.Context, db *schema.DbSchema, op driver.GetByKey) (*driver.Response, error) {
	table := db.Table(op.Table)
	if table == nil {
		return nil, tserr.Adhoc("mysql: unknown table %d", op.Table)
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
		return nil, tserr.Adhoc("mysql: unknown table %d", op.Table)
	}
	where, args, err := renderFilter(db, table, op.Filter)
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
		return nil, tserr.Adhoc("mysql: unknown table %d", op.Table)
	}
	pkCols := table.PrimaryKeyColumns()
	pkNames := make([]string, len(pkCols))
	for i, c := range pkCols {
		pkNames[i] = dialect{}.QuoteIdent(c.Name)
	}
	where, args, err := renderFilter(db, table, op.Filter)
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
		return nil, tserr.Adhoc("mysql: unknown table %d", op.Table)
	}

	var sets []string
	var args []any
	for colIdx, assign := range op.Assignments {
		rendered, exprArgs, err := renderFilter(db, table, assign.Expr)
		if err != nil {
			return nil, err
		}
		sets = append(sets, fmt.Sprintf("%s = %s", dialect{}.QuoteIdent(table.Columns[colIdx].Name), rendered))
		args = append(args, exprArgs...)
	}

	q := fmt.Sprintf("UPDATE %s SET %s", dialect{}.QuoteIdent(table.Name), strings.Join(sets, ", "))

	if where := stmt.And(op.Filter, op.Condition); where != nil && !stmt.IsTrue(where) {
		whereSQL, filterArgs, err := renderFilter(db, table, where)
		if err != nil {
			return nil, err
		}
		q += " WHERE " + whereSQL
		args = append(args, filterArgs...)
	}

	return d.exec(ctx, q, args)
}

// renderFilter mirrors driver/sqlite's sqlgen_renderFilter adapter.
func renderFilter(db *schema.DbSchema, table *schema.Table, e stmt.Expr) (string, []any, error) {
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
		q = "START TRANSACTION"
	case driver.TxCommit:
		q = "COMMIT"
	case driver.TxRollback:
		q = "ROLLBACK"
	case driver.TxSavepoint:
		q = "SAVEPOINT " + dialect{}.QuoteIdent(op.Transaction.Name)
	case driver.TxRollbackTo:
		q = "ROLLBACK TO SAVEPOINT " + dialect{}.QuoteIdent(op.Transaction.Name)
	case driver.TxRelease:
		q = "RELEASE SAVEPOINT " + dialect{}.QuoteIdent(op.Transaction.Name)
	default:
		return nil, tserr.UnsupportedFeature("mysql: unknown transaction op")
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
