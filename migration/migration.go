// Package migration implements schema-diffing and DDL emission: given an
// introspected (or previously-registered) schema.DbSchema and the
// schema.DbSchema a program wants now, it computes the column/table/index
// changes needed and renders them as DDL text for a driver/sqlgen.Dialect,
// respecting that backend's driver.Capability.TableAlter limits.
//
// Scope matches SPEC_FULL.md's Non-goals: this is not a migration-authoring
// CLI (no snapshot files, no interactive rename prompts) -- just the
// SchemaDiff + DDL-emission primitives for bringing a live database in line
// with a schema. No other package of this module calls into it.
//
// Grounded on rediwo-redi-orm/migration/base_migrator.go's
// BaseMigrator.CompareSchema/GenerateMigrationSQL split (database-agnostic
// diffing delegating only type-to-SQL rendering to a per-backend
// specialization) and types/migration.go's ChangeType/SchemaChange shape,
// reworked around schema.DbSchema/driver.Capability instead of the
// teacher's schema.Schema/types.TableInfo pair.
package migration

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/toasty-orm/toasty/driver"
	"github.com/toasty-orm/toasty/driver/sqlgen"
	"github.com/toasty-orm/toasty/schema"
	"github.com/toasty-orm/toasty/tserr"
)

// ChangeKind mirrors rediwo-redi-orm's types.ChangeType enum, narrowed to
// the operations this package actually emits DDL for.
type ChangeKind int

const (
	CreateTable ChangeKind = iota
	DropTable
	AddColumn
	DropColumn
	AlterColumnNullability
	AddIndex
	DropIndex
)

func (k ChangeKind) String() string {
	switch k {
	case CreateTable:
		return "CREATE_TABLE"
	case DropTable:
		return "DROP_TABLE"
	case AddColumn:
		return "ADD_COLUMN"
	case DropColumn:
		return "DROP_COLUMN"
	case AlterColumnNullability:
		return "ALTER_COLUMN"
	case AddIndex:
		return "ADD_INDEX"
	case DropIndex:
		return "DROP_INDEX"
	default:
		return "?"
	}
}

// SchemaChange is one diff entry, analogous to rediwo-redi-orm's
// types.SchemaChange -- enough information for DDLFor to render it without
// consulting the diff again.
type SchemaChange struct {
	Kind   ChangeKind
	Table  schema.Table
	Column *schema.Column // set for AddColumn/DropColumn/AlterColumnNullability
	Index  *schema.DbIndex // set for AddIndex/DropIndex

	// RequiresTableRebuild is set when the target backend's
	// driver.Capability.TableAlter can't express this change in place (e.g.
	// SQLite can't DROP COLUMN, or a nullability flip where
	// AlterColumnNullability is false); DDLFor then emits the
	// create-new/copy/drop-old rebuild sequence instead of a single ALTER.
	RequiresTableRebuild bool
}

// Migration is one computed, ID-stamped unit of schema change -- applying
// `Changes` in order brings `From` in line with `To`.
type Migration struct {
	ID      string
	From    *schema.DbSchema
	To      *schema.DbSchema
	Changes []SchemaChange
}

// Diff computes the changes needed to bring `from` (nil means an empty
// database) in line with `to`, capability-aware: a change this backend's
// TableAlter can't express in place is flagged RequiresTableRebuild rather
// than silently emitting DDL the driver would reject.
func Diff(from, to *schema.DbSchema, cap driver.Capability) *Migration {
	m := &Migration{ID: uuid.NewString(), From: from, To: to}

	existing := map[string]*schema.Table{}
	if from != nil {
		for i := range from.Tables {
			existing[from.Tables[i].Name] = &from.Tables[i]
		}
	}
	wanted := map[string]bool{}

	for i := range to.Tables {
		table := to.Tables[i]
		wanted[table.Name] = true
		old, ok := existing[table.Name]
		if !ok {
			m.Changes = append(m.Changes, SchemaChange{Kind: CreateTable, Table: table})
			continue
		}
		m.Changes = append(m.Changes, diffColumns(*old, table, cap)...)
		m.Changes = append(m.Changes, diffIndices(*old, table)...)
	}

	if from != nil {
		for _, old := range from.Tables {
			if !wanted[old.Name] {
				m.Changes = append(m.Changes, SchemaChange{Kind: DropTable, Table: old})
			}
		}
	}

	return m
}

func diffColumns(old, next schema.Table, cap driver.Capability) []SchemaChange {
	oldCols := map[string]schema.Column{}
	for _, c := range old.Columns {
		oldCols[c.Name] = c
	}
	nextCols := map[string]bool{}

	var changes []SchemaChange
	for _, c := range next.Columns {
		nextCols[c.Name] = true
		oldCol, ok := oldCols[c.Name]
		if !ok {
			col := c
			changes = append(changes, SchemaChange{Kind: AddColumn, Table: next, Column: &col,
				RequiresTableRebuild: !cap.TableAlter.AddColumn})
			continue
		}
		if oldCol.Nullable != c.Nullable {
			col := c
			changes = append(changes, SchemaChange{Kind: AlterColumnNullability, Table: next, Column: &col,
				RequiresTableRebuild: !cap.TableAlter.AlterColumnNullability})
		}
	}
	for _, oldCol := range old.Columns {
		if !nextCols[oldCol.Name] {
			col := oldCol
			changes = append(changes, SchemaChange{Kind: DropColumn, Table: next, Column: &col,
				RequiresTableRebuild: !cap.TableAlter.DropColumn})
		}
	}
	return changes
}

func diffIndices(old, next schema.Table) []SchemaChange {
	oldIdx := map[string]schema.DbIndex{}
	for _, ix := range old.Indices {
		oldIdx[ix.Name] = ix
	}
	nextIdx := map[string]bool{}

	var changes []SchemaChange
	for i := range next.Indices {
		ix := next.Indices[i]
		nextIdx[ix.Name] = true
		if _, ok := oldIdx[ix.Name]; !ok {
			idx := ix
			changes = append(changes, SchemaChange{Kind: AddIndex, Table: next, Index: &idx})
		}
	}
	for _, ix := range old.Indices {
		if !nextIdx[ix.Name] {
			idx := ix
			changes = append(changes, SchemaChange{Kind: DropIndex, Table: next, Index: &idx})
		}
	}
	return changes
}

// DDLFor renders one change to DDL statements for dialect d. A change with
// RequiresTableRebuild set always renders the create-new/copy/drop-old
// sequence regardless of kind, matching spec.md's fallback rule for
// backends whose TableAlter can't express the change in place.
func DDLFor(change SchemaChange, d sqlgen.Dialect, columnDDL func(schema.Column) string) ([]string, error) {
	if change.RequiresTableRebuild {
		return rebuildTableDDL(change, d, columnDDL), nil
	}

	switch change.Kind {
	case CreateTable:
		return nil, tserr.Adhoc("migration: CreateTable DDL is driver-specific; call the driver's own createTableDDL")
	case DropTable:
		return []string{fmt.Sprintf("DROP TABLE %s", d.QuoteIdent(change.Table.Name))}, nil
	case AddColumn:
		if change.Column == nil {
			return nil, tserr.Adhoc("migration: AddColumn change missing Column")
		}
		return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
			d.QuoteIdent(change.Table.Name), columnDDL(*change.Column))}, nil
	case DropColumn:
		if change.Column == nil {
			return nil, tserr.Adhoc("migration: DropColumn change missing Column")
		}
		return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
			d.QuoteIdent(change.Table.Name), d.QuoteIdent(change.Column.Name))}, nil
	case AlterColumnNullability:
		if change.Column == nil {
			return nil, tserr.Adhoc("migration: AlterColumnNullability change missing Column")
		}
		clause := "SET NOT NULL"
		if change.Column.Nullable {
			clause = "DROP NOT NULL"
		}
		return []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s",
			d.QuoteIdent(change.Table.Name), d.QuoteIdent(change.Column.Name), clause)}, nil
	case AddIndex:
		if change.Index == nil {
			return nil, tserr.Adhoc("migration: AddIndex change missing Index")
		}
		return []string{createIndexDDL(change.Table, *change.Index, d)}, nil
	case DropIndex:
		if change.Index == nil {
			return nil, tserr.Adhoc("migration: DropIndex change missing Index")
		}
		return []string{fmt.Sprintf("DROP INDEX %s", d.QuoteIdent(change.Index.Name))}, nil
	default:
		return nil, tserr.UnsupportedFeature(fmt.Sprintf("migration: unhandled change kind %v", change.Kind))
	}
}

// rebuildTableDDL implements the create-new/copy/drop-old fallback spec.md
// describes for TableAlter limitations that rule out an in-place ALTER:
// create a shadow table under the target shape, copy rows through the
// columns both shapes share, drop the original, and rename the shadow into
// place. Grounded on SQLite's own documented ALTER TABLE workaround (the
// same one rediwo-redi-orm/drivers/sqlite/migrator.go's
// GenerateModifyColumnSQL implements for SQLite specifically); generalized
// here across any backend whose Capability.TableAlter flags force it.
func rebuildTableDDL(change SchemaChange, d sqlgen.Dialect, columnDDL func(schema.Column) string) []string {
	shadow := change.Table.Name + "__toasty_rebuild"
	var colDefs []string
	var copyCols []string
	for _, c := range change.Table.Columns {
		colDefs = append(colDefs, columnDDL(c))
		if change.Kind == AddColumn && change.Column != nil && c.Name == change.Column.Name {
			continue
		}
		copyCols = append(copyCols, d.QuoteIdent(c.Name))
	}
	colList := ""
	for i, c := range copyCols {
		if i > 0 {
			colList += ", "
		}
		colList += c
	}
	defList := ""
	for i, c := range colDefs {
		if i > 0 {
			defList += ", "
		}
		defList += c
	}
	return []string{
		fmt.Sprintf("CREATE TABLE %s (%s)", d.QuoteIdent(shadow), defList),
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", d.QuoteIdent(shadow), colList, colList, d.QuoteIdent(change.Table.Name)),
		fmt.Sprintf("DROP TABLE %s", d.QuoteIdent(change.Table.Name)),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.QuoteIdent(shadow), d.QuoteIdent(change.Table.Name)),
	}
}

func createIndexDDL(table schema.Table, ix schema.DbIndex, d sqlgen.Dialect) string {
	unique := ""
	if ix.Unique {
		unique = "UNIQUE "
	}
	cols := ""
	for i, cid := range ix.Columns {
		if i > 0 {
			cols += ", "
		}
		if c := table.Column(cid); c != nil {
			cols += d.QuoteIdent(c.Name)
		}
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, d.QuoteIdent(ix.Name), d.QuoteIdent(table.Name), cols)
}
