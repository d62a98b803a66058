package stmt

// Statement is the top-level sum type: Query | Insert | Update | Delete.
type Statement struct {
	Query  *Query
	Insert *Insert
	Update *Update
	Delete *Delete
}

func (s *Statement) Kind() string {
	switch {
	case s.Query != nil:
		return "query"
	case s.Insert != nil:
		return "insert"
	case s.Update != nil:
		return "update"
	case s.Delete != nil:
		return "delete"
	default:
		return "empty"
	}
}

// Lock is a pessimistic row lock requested on a Query (`FOR UPDATE` / `FOR
// SHARE`); KV backends reject a non-empty Locks at plan time (§5).
type Lock int

const (
	LockNone Lock = iota
	LockForUpdate
	LockForShare
)

// With represents a WITH clause (named CTEs); kept minimal since only the
// conditional-update CTE rewrite (§4.5) constructs one in this codebase.
type With struct {
	Name  string
	Query *Query
}

type Query struct {
	With    []With
	Body    ExprSet
	OrderBy []OrderByExpr
	Limit   Expr // nil => no limit
	Offset  Expr // nil => no offset
	Locks   []Lock
}

type OrderByExpr struct {
	Expr Expr
	Desc bool
}

// ExprSet is Select | Values | SetOp | Update -- the body of a Query.
type ExprSet interface {
	exprSetKind() string
}

type Select struct {
	Source    Source
	Filter    Expr
	Returning Returning
}

func (Select) exprSetKind() string { return "select" }

// Values is a literal row source, `VALUES (...), (...)`.
type Values struct {
	Rows [][]Expr
}

func (Values) exprSetKind() string { return "values" }

type SetOpKind int

const (
	SetOpUnion SetOpKind = iota
	SetOpUnionAll
	SetOpIntersect
	SetOpExcept
)

type SetOp struct {
	Op       SetOpKind
	Operands []ExprSet
}

func (SetOp) exprSetKind() string { return "set_op" }

// UpdateBody lets an Update appear as a Query body when used as a CTE
// sub-statement in the conditional-update rewrite (§4.5).
type UpdateBody struct{ Update *Update }

func (UpdateBody) exprSetKind() string { return "update" }

// Source is Model | Table | Values, i.e. what a Select reads from.
type Source interface {
	sourceKind() string
}

// SourceModel is a model-space source: `SELECT ... FROM <Model>`. Include
// lists relation paths to preload (§4.4 step 5); Via optionally names a
// specific relation to traverse when the source is reached through a
// nested/self query.
type SourceModel struct {
	Model   int // schema.ModelId
	Include []Path
	Via     *string
}

func (SourceModel) sourceKind() string { return "model" }

// Path is a dotted relation path used by Include, e.g. "todos" or
// "todos.tags".
type Path []string

// SourceTable is a table-space source with explicit joins, produced by the
// lowerer's relation-rewriting (or authored directly for raw SQL escape
// hatches in tests).
type SourceTable struct {
	Table TableRef
	Joins []Join
}

func (SourceTable) sourceKind() string { return "table" }

type TableRef struct {
	Table int // schema.TableId / index into db schema's Tables
	Alias string
}

type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
)

type Join struct {
	Kind      JoinKind
	Table     TableRef
	Condition Expr
}

// SourceValues treats a Values set as the FROM source (used for multi-row
// INSERT ... SELECT * FROM (VALUES ...) lowering).
type SourceValues struct{ Values Values }

func (SourceValues) sourceKind() string { return "values" }

// Returning is Star | Expr | Value | Changed.
type Returning interface {
	returningKind() string
}

type ReturningStar struct{}

func (ReturningStar) returningKind() string { return "star" }

type ReturningExpr struct{ Expr Expr }

func (ReturningExpr) returningKind() string { return "expr" }

type ReturningValue struct{ Value Value }

func (ReturningValue) returningKind() string { return "value" }

// ReturningChanged reports only whether any row was affected, not its
// contents (used by conditional updates, §4.5).
type ReturningChanged struct{}

func (ReturningChanged) returningKind() string { return "changed" }

// InsertTarget is Model | Table.
type InsertTarget interface {
	insertTargetKind() string
}

type InsertTargetModel struct{ Model int }

func (InsertTargetModel) insertTargetKind() string { return "model" }

type InsertTargetTable struct {
	Table   int
	Columns []int
}

func (InsertTargetTable) insertTargetKind() string { return "table" }

// Insert's Source must simplify to Values or Select (enforced by the
// builder / schema-generator contract, §6.1).
type Insert struct {
	Target    InsertTarget
	Source    *Query
	Returning Returning
}

// UpdateTarget is Model | Table.
type UpdateTarget interface {
	updateTargetKind() string
}

type UpdateTargetModel struct{ Model int }

func (UpdateTargetModel) updateTargetKind() string { return "model" }

type UpdateTargetTable struct{ Table int }

func (UpdateTargetTable) updateTargetKind() string { return "table" }

type AssignOp int

const (
	AssignSet AssignOp = iota
	AssignInsert // append to a HasMany/list-valued field
	AssignRemove // remove from a HasMany/list-valued field
)

type Assignment struct {
	Op   AssignOp
	Expr Expr
}

// Update's Assignments are keyed by field index (model-space) or column
// index (table-space, post-lowering).
type Update struct {
	Target      UpdateTarget
	Assignments map[int]Assignment
	Filter      Expr // nil => unconditional
	Condition   Expr // nil => no read-modify-write check (§4.5)
	Returning   Returning
}

type Delete struct {
	From      Source
	Filter    Expr
	Returning Returning
}
