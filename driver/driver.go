// Package driver declares Toasty's backend contract: the Capability matrix
// a driver advertises, the Operation variants the executor issues, and the
// Driver interface itself. Concrete drivers (sqlite, postgres, mysql,
// dynamo) live in sibling packages and each implement this contract.
//
// Grounded on spec section 6.3/6.4 (no teacher/pack file models a
// capability-negotiated multi-backend driver contract this directly;
// rediwo-redi-orm's drivers.Driver interface is the closest shape and is
// reused for the register_schema/exec/reset_db method names).
package driver

import (
	"context"

	"github.com/toasty-orm/toasty/schema"
	"github.com/toasty-orm/toasty/stmt"
)

// StorageTypeSupport lists which optional storage encodings a backend
// natively supports; unsupported ones still round-trip (the app Value/Type
// unions carry every variant unconditionally) but may use a less efficient
// encoding (e.g. decimal-as-text).
type StorageTypeSupport struct {
	NativeTimestamp bool
	NativeDate      bool
	NativeTime      bool
	NativeDateTime  bool
	NativeUuid      bool
	Decimal         bool
	BigDecimal      bool
}

// TableAlterSupport lists which DDL alterations a backend can perform
// in-place; migrations fall back to create-new/copy/drop-old for anything
// false here.
type TableAlterSupport struct {
	RenameTable            bool
	RenameColumn           bool
	AddColumn              bool
	DropColumn             bool
	AlterColumnNullability bool
}

// Capability is a backend's negotiated feature set; the planner and
// executor branch on these fields instead of on a backend-name string.
type Capability struct {
	Sql                    bool
	CteWithUpdate          bool
	ReturningFromMutation  bool
	IndexOrPredicate       bool
	PrimaryKeyNePredicate  bool
	StorageTypes           StorageTypeSupport
	AutoIncrement          bool
	TableAlter             TableAlterSupport
}

var SQLITE = Capability{
	Sql:                   true,
	CteWithUpdate:         false,
	ReturningFromMutation: true,
	IndexOrPredicate:      true,
	PrimaryKeyNePredicate: true,
	StorageTypes: StorageTypeSupport{
		NativeTimestamp: true,
		NativeDate:      false,
		NativeTime:      false,
		NativeDateTime:  false,
		NativeUuid:      false,
		Decimal:         false,
		BigDecimal:      false,
	},
	AutoIncrement: true,
	TableAlter: TableAlterSupport{
		RenameTable:            true,
		RenameColumn:           true,
		AddColumn:              true,
		DropColumn:             false,
		AlterColumnNullability: false,
	},
}

var POSTGRESQL = Capability{
	Sql:                   true,
	CteWithUpdate:         true,
	ReturningFromMutation: true,
	IndexOrPredicate:      true,
	PrimaryKeyNePredicate: true,
	StorageTypes: StorageTypeSupport{
		NativeTimestamp: true,
		NativeDate:      true,
		NativeTime:      true,
		NativeDateTime:  true,
		NativeUuid:      true,
		Decimal:         true,
		BigDecimal:      true,
	},
	AutoIncrement: true,
	TableAlter: TableAlterSupport{
		RenameTable:            true,
		RenameColumn:           true,
		AddColumn:              true,
		DropColumn:             true,
		AlterColumnNullability: true,
	},
}

var MYSQL = Capability{
	Sql:                   true,
	CteWithUpdate:         false,
	ReturningFromMutation: false, // driver emulates via last_insert_id_hack
	IndexOrPredicate:      true,
	PrimaryKeyNePredicate: true,
	StorageTypes: StorageTypeSupport{
		NativeTimestamp: true,
		NativeDate:      true,
		NativeTime:      true,
		NativeDateTime:  true,
		NativeUuid:      false,
		Decimal:         true,
		BigDecimal:      false,
	},
	AutoIncrement: true,
	TableAlter: TableAlterSupport{
		RenameTable:            true,
		RenameColumn:           true,
		AddColumn:              true,
		DropColumn:             true,
		AlterColumnNullability: true,
	},
}

var DYNAMODB = Capability{
	Sql:                   false,
	CteWithUpdate:         false,
	ReturningFromMutation: true,
	IndexOrPredicate:      false,
	PrimaryKeyNePredicate: false,
	StorageTypes: StorageTypeSupport{
		NativeTimestamp: false,
		NativeDate:      false,
		NativeTime:      false,
		NativeDateTime:  false,
		NativeUuid:      false,
		Decimal:         false,
		BigDecimal:      false,
	},
	AutoIncrement: false,
	TableAlter: TableAlterSupport{
		RenameTable:            false,
		RenameColumn:           false,
		AddColumn:              true,
		DropColumn:             true,
		AlterColumnNullability: false,
	},
}

// TransactionOp is one of Start | Commit | Rollback | Savepoint | RollbackTo
// | Release.
type TransactionOp int

const (
	TxStart TransactionOp = iota
	TxCommit
	TxRollback
	TxSavepoint
	TxRollbackTo
	TxRelease
)

type Transaction struct {
	Op        TransactionOp
	Isolation string // meaningful for TxStart; "" => driver default
	Name      string // meaningful for TxSavepoint/TxRollbackTo/TxRelease
}

// Operation is the sum type of requests the executor issues to a driver.
type Operation interface {
	operationKind() string
}

// QuerySql sends a fully-lowered, fully-substituted statement for the
// driver to serialize and execute. LastInsertIdHack requests the
// MySQL-specific RETURNING workaround: after an INSERT with no native
// RETURNING support, re-SELECT the row by last_insert_id().
type QuerySql struct {
	Stmt              *stmt.Statement
	Returning         stmt.Returning
	LastInsertIdHack  bool
}

func (QuerySql) operationKind() string { return "query_sql" }

// GetByKey fetches rows by an exact primary/secondary key tuple list.
type GetByKey struct {
	Table        schema.TableId
	Keys         []stmt.Value // each a Record matching the key's column order
	Columns      []schema.ColumnId
	SelectFilter stmt.Expr // additional residual filter, or nil
}

func (GetByKey) operationKind() string { return "get_by_key" }

// QueryPk scans a contiguous primary-key range (partition key fixed, local
// key range-bounded), used for has-many preloads on partitioned backends.
type QueryPk struct {
	Table   schema.TableId
	Filter  stmt.Expr
	Columns []schema.ColumnId
}

func (QueryPk) operationKind() string { return "query_pk" }

// UpdateByKey performs a targeted update (optionally conditional) against
// one key tuple. Filter selects which rows to update (nil => every row);
// Condition is an additional read-modify-write guard (§4.5): on a backend
// without CteWithUpdate the executor runs the update inside a savepoint and
// reports tserr.ConditionFailed when no row was updated; "Filter matched
// nothing" and "Condition failed" are not told apart.
type UpdateByKey struct {
	Table       schema.TableId
	Key         stmt.Value
	Filter      stmt.Expr
	Assignments map[int]stmt.Assignment // keyed by ColumnId.Index
	Condition   stmt.Expr
	Returning   stmt.Returning
}

func (UpdateByKey) operationKind() string { return "update_by_key" }

// FindPkByIndex resolves a secondary-index filter to the owning table's
// primary keys, used when an index covers a filter but execution still
// needs the full row via a follow-up GetByKey.
type FindPkByIndex struct {
	Table  schema.TableId
	Index  *schema.DbIndex
	Filter stmt.Expr
}

func (FindPkByIndex) operationKind() string { return "find_pk_by_index" }

// TransactionOperation wraps a Transaction control command.
type TransactionOperation struct{ Transaction Transaction }

func (TransactionOperation) operationKind() string { return "transaction" }

// Row is one returned record: one value per column the driver's query
// selected, in that order. The drivers read whole rows for GetByKey and
// QueryPk without narrowing them to the operation's Columns list.
type Row struct {
	Values []stmt.Value
}

// Rows is a pull-based result stream. Next returns (nil, nil) at end of
// stream; Close releases any underlying cursor/connection resources early.
type Rows interface {
	Next(ctx context.Context) (*Row, error)
	Close() error
}

// Response is a driver call's result.
type Response struct {
	Rows         Rows
	RowsAffected int64
	LastInsertID int64
}

// Driver is the contract every backend implements; the executor never
// branches on backend identity, only on the Capability it returns.
type Driver interface {
	Capability() Capability
	RegisterSchema(ctx context.Context, db *schema.DbSchema) error
	Exec(ctx context.Context, db *schema.DbSchema, op Operation) (*Response, error)
	ResetDb(ctx context.Context, db *schema.DbSchema) error
}
