// Package index implements the index planner: given a table-space
// statement's filter, it picks the cheapest available index that can drive
// execution and splits the filter into the part the index itself can
// satisfy (index_filter), the part a covering scan result still needs
// checked (result_filter), and the part that must be re-checked after
// execution because the backend cannot evaluate it at all (post_filter).
//
// Grounded on original_source/crates/toasty/src/engine/index.rs (and its
// index_match/or_rewrite submodules), reworked as ordinary recursion over
// stmt.Expr instead of the Rust source's ExprContext-threaded visitor.
package index

import (
	"github.com/toasty-orm/toasty/driver"
	"github.com/toasty-orm/toasty/schema"
	"github.com/toasty-orm/toasty/stmt"
	"github.com/toasty-orm/toasty/tserr"
)

// IndexPlan is the chosen access path for one table-space statement.
type IndexPlan struct {
	Index *schema.DbIndex

	// IndexFilter is the portion of the original filter the index itself
	// can evaluate (equality/IN/range over the index's columns).
	IndexFilter stmt.Expr

	// ResultFilter, when non-nil, is residual filtering the driver must
	// still apply to rows the index produced (columns the index doesn't
	// cover, or comparisons it can't evaluate itself).
	ResultFilter stmt.Expr

	// PostFilter, when non-nil, must be re-applied by the executor after
	// the driver returns rows, because the backend can't evaluate
	// ResultFilter at all (a KV store with no filter-expression support).
	PostFilter stmt.Expr

	// KeyValues, when non-nil, is a literal Expr(List(Record(...))) or an
	// Arg placeholder the executor can route directly to GetByKey instead
	// of a full index scan.
	KeyValues stmt.Expr

	// HasPkKeys is true when Index is the table's primary key and
	// KeyValues was successfully extracted -- the fast path for
	// find-by-primary-key.
	HasPkKeys bool
}

// Plan chooses an index for stmt's filter against table, given what the
// backend's capability allows.
func Plan(table *schema.Table, cap driver.Capability, filter stmt.Expr) (*IndexPlan, error) {
	if filter == nil {
		filter = stmt.BoolLit(true)
	}

	var best *schema.DbIndex
	var bestMatched int
	allIndices := collectIndices(table)
	for i := range allIndices {
		idx := allIndices[i]
		matched := matchedPrefixLen(idx, filter)
		if matched == 0 {
			continue
		}
		if best == nil || matched > bestMatched || (matched == bestMatched && idx.Unique) {
			best = idx
			bestMatched = matched
		}
	}

	if best == nil {
		if !cap.Sql {
			return nil, tserr.NoViableIndex(table.Name, "no available index matches the query filter")
		}
		// SQL backends can always fall back to a full scan; report that as
		// a plan whose index_filter is trivially true.
		return &IndexPlan{ResultFilter: filter}, nil
	}

	indexFilter, resultFilter := partitionFilter(best, filter)
	keyValues := tryExtractKeyValues(best, indexFilter)

	if !cap.IndexOrPredicate {
		indexFilter = orRewrite(indexFilter)
	}

	plan := &IndexPlan{
		Index:       best,
		IndexFilter: indexFilter,
		KeyValues:   keyValues,
		HasPkKeys:   isPrimaryKey(table, best) && keyValues != nil,
	}
	if !stmt.IsTrue(resultFilter) {
		plan.ResultFilter = resultFilter
		if !cap.Sql {
			plan.PostFilter = filter
		}
	}
	return plan, nil
}

func collectIndices(table *schema.Table) []*schema.DbIndex {
	out := make([]*schema.DbIndex, 0, len(table.Indices)+1)
	if len(table.PrimaryKey.Columns) > 0 {
		out = append(out, &schema.DbIndex{Name: "<primary>", Columns: table.PrimaryKey.Columns, Unique: true})
	}
	for i := range table.Indices {
		out = append(out, &table.Indices[i])
	}
	return out
}

func isPrimaryKey(table *schema.Table, idx *schema.DbIndex) bool {
	if len(idx.Columns) != len(table.PrimaryKey.Columns) {
		return false
	}
	for i, c := range idx.Columns {
		if c != table.PrimaryKey.Columns[i] {
			return false
		}
	}
	return true
}

// matchedPrefixLen reports how many of idx's leading columns have a
// comparison (any binary operator) or IN-list conjunct in filter; an index
// with 0 is unusable, per
// the Rust source's "first column must match" rule.
func matchedPrefixLen(idx *schema.DbIndex, filter stmt.Expr) int {
	conjuncts := flattenAnd(filter)
	matched := 0
	for _, col := range idx.Columns {
		if !anyConjunctTargets(conjuncts, col) {
			break
		}
		matched++
	}
	return matched
}

func anyConjunctTargets(conjuncts []stmt.Expr, col schema.ColumnId) bool {
	for _, c := range conjuncts {
		if conjunctTargets(c, col) {
			return true
		}
	}
	return false
}

func conjunctTargets(e stmt.Expr, col schema.ColumnId) bool {
	switch v := e.(type) {
	case stmt.ExprBinaryOp:
		return refIndexMatches(v.LHS, col) || refIndexMatches(v.RHS, col)
	case stmt.ExprInList:
		return refIndexMatches(v.Expr, col)
	default:
		return false
	}
}

func refIndexMatches(e stmt.Expr, col schema.ColumnId) bool {
	ref, ok := e.(stmt.ExprReference)
	return ok && ref.Target == stmt.RefColumn && ref.Index == col.Index
}

func flattenAnd(e stmt.Expr) []stmt.Expr {
	if and, ok := e.(stmt.ExprAnd); ok {
		var out []stmt.Expr
		for _, operand := range and.Operands {
			out = append(out, flattenAnd(operand)...)
		}
		return out
	}
	return []stmt.Expr{e}
}

// partitionFilter splits filter into the conjuncts that reference only
// idx's columns (index_filter) and everything else (result_filter).
func partitionFilter(idx *schema.DbIndex, filter stmt.Expr) (indexFilter, resultFilter stmt.Expr) {
	conjuncts := flattenAnd(filter)
	var idxParts, restParts []stmt.Expr
	for _, c := range conjuncts {
		if conjunctOnlyReferences(c, idx) {
			idxParts = append(idxParts, c)
		} else {
			restParts = append(restParts, c)
		}
	}
	if len(idxParts) == 0 {
		return stmt.BoolLit(true), filter
	}
	return stmt.And(idxParts...), stmt.And(restParts...)
}

func conjunctOnlyReferences(e stmt.Expr, idx *schema.DbIndex) bool {
	ok := true
	stmt.Walk(e, func(node stmt.Expr) {
		if ref, isRef := node.(stmt.ExprReference); isRef && ref.Target == stmt.RefColumn {
			found := false
			for _, col := range idx.Columns {
				if col.Index == ref.Index {
					found = true
					break
				}
			}
			if !found {
				ok = false
			}
		}
	})
	return ok
}

// tryExtractKeyValues extracts a literal key-tuple list from indexFilter for
// direct key-based routing (GetByKey/batch get), mirroring
// try_extract_key_values/extract_key_record. Must be called before
// orRewrite folds Or into ANY(MAP(...)).
func tryExtractKeyValues(idx *schema.DbIndex, indexFilter stmt.Expr) stmt.Expr {
	switch v := indexFilter.(type) {
	case stmt.ExprInList:
		if arg, ok := v.List.(stmt.ExprArg); ok {
			return arg
		}
		lit, ok := v.List.(stmt.ExprValue)
		if !ok {
			return nil
		}
		items, ok := lit.Value.AsList()
		if !ok {
			return nil
		}
		records := make([]stmt.Value, len(items))
		for i, item := range items {
			if _, isRecord := item.AsRecord(); isRecord {
				records[i] = item
			} else {
				records[i] = stmt.Record(item)
			}
		}
		return stmt.Lit(stmt.List(records...))
	case stmt.ExprOr:
		records := make([]stmt.Value, 0, len(v.Operands))
		for _, branch := range v.Operands {
			rec, ok := extractKeyRecord(idx, branch)
			if !ok {
				return nil
			}
			records = append(records, rec)
		}
		return stmt.Lit(stmt.List(records...))
	default:
		rec, ok := extractKeyRecord(idx, indexFilter)
		if !ok {
			return nil
		}
		return stmt.Lit(stmt.List(rec))
	}
}

func extractKeyRecord(idx *schema.DbIndex, e stmt.Expr) (stmt.Value, bool) {
	switch v := e.(type) {
	case stmt.ExprBinaryOp:
		if v.Op.IsEq() && len(idx.Columns) == 1 {
			if lit, ok := v.RHS.(stmt.ExprValue); ok {
				return stmt.Record(lit.Value), true
			}
		}
		return stmt.Value{}, false
	case stmt.ExprAnd:
		if len(v.Operands) != len(idx.Columns) {
			return stmt.Value{}, false
		}
		fields := make([]stmt.Value, len(idx.Columns))
		set := make([]bool, len(idx.Columns))
		for _, operand := range v.Operands {
			bin, ok := operand.(stmt.ExprBinaryOp)
			if !ok || !bin.Op.IsEq() {
				return stmt.Value{}, false
			}
			ref, ok := bin.LHS.(stmt.ExprReference)
			if !ok {
				return stmt.Value{}, false
			}
			pos := -1
			for i, col := range idx.Columns {
				if col.Index == ref.Index {
					pos = i
					break
				}
			}
			if pos < 0 {
				return stmt.Value{}, false
			}
			lit, ok := bin.RHS.(stmt.ExprValue)
			if !ok {
				return stmt.Value{}, false
			}
			fields[pos] = lit.Value
			set[pos] = true
		}
		for _, ok := range set {
			if !ok {
				return stmt.Value{}, false
			}
		}
		return stmt.Record(fields...), true
	default:
		return stmt.Value{}, false
	}
}

// orRewrite canonicalizes a top-level Or index filter into ANY(MAP(...))
// form for backends without native OR-in-key-condition support (e.g.
// DynamoDB), so the driver sees one key-condition shape regardless of how
// many branches the original filter had.
func orRewrite(e stmt.Expr) stmt.Expr {
	or, ok := e.(stmt.ExprOr)
	if !ok {
		return e
	}
	// Each branch becomes one element of a synthetic list; Body re-asserts
	// the branch predicate with Arg(_, 0) bound to that element, so a
	// backend without index_or_predicate evaluates one key condition per
	// branch instead of a single compound OR.
	return stmt.ExprAny{Expr: stmt.ExprMap{
		Base: stmt.ExprList{Items: or.Operands},
		Body: stmt.ArgRef(0),
	}}
}
