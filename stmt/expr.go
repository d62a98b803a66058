package stmt

// Expr is the expression sum type. Every concrete expression node implements
// Expr by returning its own ExprKind; callers switch on Kind() (or use a type
// switch on the concrete struct, which is the more common idiom in this
// codebase, mirroring how FieldConditionImpl/AndCondition were switched over
// in the teacher's query builder).
type Expr interface {
	exprKind() ExprKind
}

type ExprKind int

const (
	KindValue ExprKind = iota
	KindDefault
	KindErrorExpr
	KindReference
	KindArg
	KindAnd
	KindOr
	KindNot
	KindBinaryOp
	KindIsNull
	KindBeginsWith
	KindLike
	KindInList
	KindInSubquery
	KindConcat
	KindConcatStr
	KindRecord
	KindList
	KindProject
	KindCast
	KindMap
	KindStmt
	KindFuncCount
	KindKey
	KindEnumCtor
)

// --- constants & sentinels ---

type ExprValue struct{ Value Value }

func (ExprValue) exprKind() ExprKind { return KindValue }

// ExprDefault evaluates to the column/field's default value at write time;
// never stable (depends on table metadata, possibly a sequence).
type ExprDefault struct{}

func (ExprDefault) exprKind() ExprKind { return KindDefault }

// ExprError represents a statement that is known to always fail; used by the
// lowerer/planner to short-circuit clearly-unsatisfiable branches.
type ExprError struct{ Message string }

func (ExprError) exprKind() ExprKind { return KindErrorExpr }

// --- references ---

// RefTarget discriminates what a Reference points at.
type RefTarget int

const (
	RefColumn RefTarget = iota
	RefField
	RefSelfField
	RefModel
)

// ExprReference names a column (table-space) or field (model-space) by
// index, plus a nesting depth for correlated subqueries (0 = current scope,
// 1 = immediate parent scope, etc). After lowering consumes a correlated
// reference into a back-ref, the stored copy's Nesting is reset to 0 (see
// lower package); the original depth is only meaningful while the expression
// tree is still attached to its originating nested statement.
type ExprReference struct {
	Target  RefTarget
	Index   int // column index (table-space) or FieldId.Index (model-space)
	Nesting int
}

func (ExprReference) exprKind() ExprKind { return KindReference }

// ExprArg references a positional input slot substituted at execution time
// (see engine.VarTable / Arg substitution in exec_statement).
type ExprArg struct {
	Position int
	Nesting  int
}

func (ExprArg) exprKind() ExprKind { return KindArg }

// --- composites ---

type ExprAnd struct{ Operands []Expr }

func (ExprAnd) exprKind() ExprKind { return KindAnd }

type ExprOr struct{ Operands []Expr }

func (ExprOr) exprKind() ExprKind { return KindOr }

type ExprNot struct{ Expr Expr }

func (ExprNot) exprKind() ExprKind { return KindNot }

type BinaryOp int

const (
	OpEq BinaryOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpIsA
)

// Negate returns the operator such that `NOT (a op b)` == `a Negate(op) b`
// under three-valued logic for Eq/Ne and strict orderings for Lt/Le/Gt/Ge.
// IsA has no negation counterpart and panics if negated; callers must wrap
// it in ExprNot instead.
func (op BinaryOp) Negate() BinaryOp {
	switch op {
	case OpEq:
		return OpNe
	case OpNe:
		return OpEq
	case OpLt:
		return OpGe
	case OpGe:
		return OpLt
	case OpGt:
		return OpLe
	case OpLe:
		return OpGt
	default:
		panic("stmt: BinaryOp.Negate called on non-negatable op (IsA)")
	}
}

func (op BinaryOp) IsEq() bool { return op == OpEq }
func (op BinaryOp) IsNe() bool { return op == OpNe }

func (op BinaryOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpIsA:
		return "IS A"
	default:
		return "?"
	}
}

type ExprBinaryOp struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

func (ExprBinaryOp) exprKind() ExprKind { return KindBinaryOp }

type ExprIsNull struct {
	Expr     Expr
	Negate   bool // true => IS NOT NULL
}

func (ExprIsNull) exprKind() ExprKind { return KindIsNull }

type ExprBeginsWith struct {
	Expr   Expr
	Prefix Expr
}

func (ExprBeginsWith) exprKind() ExprKind { return KindBeginsWith }

type ExprLike struct {
	Expr    Expr
	Pattern Expr
}

func (ExprLike) exprKind() ExprKind { return KindLike }

// ExprInList represents `expr IN (list)`. List is itself an Expr so that it
// may be a literal Expr(Value(List(...))), an Arg (batch-loaded IN), or
// (pre-simplification) built from a Record/List literal constructor.
type ExprInList struct {
	Expr Expr
	List Expr
}

func (ExprInList) exprKind() ExprKind { return KindInList }

// ExprInSubquery represents `expr IN (SELECT ...)`.
type ExprInSubquery struct {
	Expr  Expr
	Query *Query
}

func (ExprInSubquery) exprKind() ExprKind { return KindInSubquery }

type ExprConcat struct{ Operands []Expr }

func (ExprConcat) exprKind() ExprKind { return KindConcat }

// ExprConcatStr is a template-string concat: alternating literal fragments
// and Expr holes, e.g. `"{}#{}".format(a, b)`, used by DynamoDB enum
// encoding (`{discriminant}#{json}`).
type ExprConcatStr struct {
	Fragments []string
	Holes     []Expr
}

func (ExprConcatStr) exprKind() ExprKind { return KindConcatStr }

type ExprRecord struct{ Fields []Expr }

func (ExprRecord) exprKind() ExprKind { return KindRecord }

type ExprList struct{ Items []Expr }

func (ExprList) exprKind() ExprKind { return KindList }

// Projection selects a subset of a Record's fields by index, in order; used
// by ExprProject to implement `base.field` / sub-projection chains.
type Projection struct{ Indices []int }

func (p Projection) IsIdentity() bool { return len(p.Indices) == 0 }

type ProjectBase int

const (
	ProjectBaseExpr ProjectBase = iota
	ProjectBaseSelf
)

type ExprProject struct {
	Base       ProjectBase
	BaseExpr   Expr // meaningful when Base == ProjectBaseExpr
	Projection Projection
}

func (ExprProject) exprKind() ExprKind { return KindProject }

type ExprCast struct {
	Expr Expr
	To   Type
}

func (ExprCast) exprKind() ExprKind { return KindCast }

// ExprMap evaluates Body with Arg(_, 0) bound to each element produced by
// Base, collecting results into a list (used by the OR-to-ANY(MAP(...))
// fan-out rewrite for backends without index_or_predicate, e.g. DynamoDB).
type ExprMap struct {
	Base Expr
	Body Expr
}

func (ExprMap) exprKind() ExprKind { return KindMap }

// ExprAny wraps a list-valued expression (typically an ExprMap) and asks
// "is any element true"; paired with ExprMap for the ANY(MAP(...)) rewrite.
type ExprAny struct{ Expr Expr }

func (ExprAny) exprKind() ExprKind { return KindMap } // shares lowering path with Map

// ExprStmt embeds a nested statement as a scalar/row-producing expression
// (a correlated subquery). The lowerer extracts these into HIR statements
// (see extractSubStatement in package lower).
type ExprStmt struct{ Stmt *Statement }

func (ExprStmt) exprKind() ExprKind { return KindStmt }

// FuncCount is the only aggregate function in scope (§3.2).
type FuncCount struct {
	Arg    Expr // nil => COUNT(*)
	Filter Expr // nil => no FILTER clause
}

type ExprFunc struct{ Count FuncCount }

func (ExprFunc) exprKind() ExprKind { return KindFuncCount }

// ExprKeyCtor constructs a composite primary-key tuple from model-space
// field references; always lowered away before execution (§3.2).
type ExprKeyCtor struct {
	Model  int
	Fields []Expr
}

func (ExprKeyCtor) exprKind() ExprKind { return KindKey }

// ExprEnumCtor constructs an embedded-enum value: a variant discriminant
// plus its fields, as a Record.
type ExprEnumCtor struct {
	Variant int
	Fields  ExprRecord
}

func (ExprEnumCtor) exprKind() ExprKind { return KindEnumCtor }

// --- constructors mirroring Expr::and / Expr::or flattening behavior ---

// And builds a conjunction, flattening nested ExprAnd nodes the way the
// teacher's AndCondition.And did for SQL text (types/conditions.go), but at
// the IR level so the simplifier can later fold it further.
func And(exprs ...Expr) Expr {
	var flat []Expr
	for _, e := range exprs {
		if and, ok := e.(ExprAnd); ok {
			flat = append(flat, and.Operands...)
		} else if e != nil {
			flat = append(flat, e)
		}
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return ExprAnd{Operands: flat}
}

func Or(exprs ...Expr) Expr {
	var flat []Expr
	for _, e := range exprs {
		if or, ok := e.(ExprOr); ok {
			flat = append(flat, or.Operands...)
		} else if e != nil {
			flat = append(flat, e)
		}
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return ExprOr{Operands: flat}
}

func Not(e Expr) Expr { return ExprNot{Expr: e} }

func Eq(lhs, rhs Expr) Expr  { return ExprBinaryOp{Op: OpEq, LHS: lhs, RHS: rhs} }
func Ne(lhs, rhs Expr) Expr  { return ExprBinaryOp{Op: OpNe, LHS: lhs, RHS: rhs} }
func Lit(v Value) Expr       { return ExprValue{Value: v} }
func ColRef(idx int) Expr    { return ExprReference{Target: RefColumn, Index: idx} }
func FieldRef(idx int) Expr  { return ExprReference{Target: RefField, Index: idx} }
func ArgRef(pos int) Expr    { return ExprArg{Position: pos} }

// IsTrue/IsFalse test for the boolean literal constants produced by the
// simplifier's fold rules.
func IsTrue(e Expr) bool {
	v, ok := e.(ExprValue)
	b, isBool := v.Value.AsBool()
	return ok && isBool && b
}

func IsFalse(e Expr) bool {
	v, ok := e.(ExprValue)
	b, isBool := v.Value.AsBool()
	return ok && isBool && !b
}

func IsNullLit(e Expr) bool {
	v, ok := e.(ExprValue)
	return ok && v.Value.IsNull()
}

func BoolLit(b bool) Expr { return ExprValue{Value: Bool(b)} }
func NullLit() Expr       { return ExprValue{Value: Null()} }
