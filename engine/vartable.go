// Package engine implements the executor: it runs an op.Plan's Actions
// against a driver.Driver in order, threading intermediate results through
// a VarTable, and wraps multi-action plans in a transaction.
//
// Grounded on original_source/crates/toasty/src/engine/exec_statement.rs and
// engine/planner/update.rs for the VarTable/Output and conditional-update
// shapes; no teacher package attempts a comparable executor, so the
// surrounding plumbing (context-aware row draining, logger.Default-style logging)
// follows rediwo-redi-orm's driver/base query-execution conventions.
package engine

import (
	"github.com/toasty-orm/toasty/planner/op"
	"github.com/toasty-orm/toasty/stmt"
)

// VarSlot holds one materialized result plus a use-count: the number of
// remaining actions that still need to read it. A slot is freed (its rows
// dropped) once its count reaches zero, bounding the executor's working set
// to what the remaining plan actually needs.
type VarSlot struct {
	Rows     []stmt.Value
	RefCount int
	freed    bool
}

// VarTable is the executor's slab of lazy value slots, indexed by
// op.VarRef, each carrying its own use-count.
type VarTable struct {
	slots []VarSlot
}

func NewVarTable() *VarTable {
	return &VarTable{}
}

// Alloc reserves a new slot with the given expected use-count (how many
// later actions will read it) and returns its ref.
func (vt *VarTable) Alloc(useCount int) op.VarRef {
	ref := op.VarRef(len(vt.slots))
	vt.slots = append(vt.slots, VarSlot{RefCount: useCount})
	return ref
}

// Set stores rows into an already-allocated slot, growing the table if the
// planner allocated the ref ahead of the slot existing (the common case,
// since Build() hands out VarRefs before Run() has a VarTable).
func (vt *VarTable) Set(ref op.VarRef, rows []stmt.Value) {
	for int(ref) >= len(vt.slots) {
		vt.slots = append(vt.slots, VarSlot{})
	}
	vt.slots[ref].Rows = rows
}

// Stream returns a slot's rows without consuming a use. Used when a value
// is read more than once within the same action (e.g. both for a filter
// substitution and for the final projection).
func (vt *VarTable) Stream(ref op.VarRef) []stmt.Value {
	if int(ref) >= len(vt.slots) {
		return nil
	}
	return vt.slots[ref].Rows
}

// Count reports how many rows are currently materialized in a slot.
func (vt *VarTable) Count(ref op.VarRef) int {
	return len(vt.Stream(ref))
}

// Release records that one consumer of ref has finished with it; once every
// expected consumer has released it, the slot's rows are dropped to bound
// memory use across a long plan.
func (vt *VarTable) Release(ref op.VarRef) {
	if int(ref) >= len(vt.slots) {
		return
	}
	slot := &vt.slots[ref]
	if slot.freed {
		return
	}
	slot.RefCount--
	if slot.RefCount <= 0 {
		slot.Rows = nil
		slot.freed = true
	}
}
