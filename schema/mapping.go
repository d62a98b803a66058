package schema

import "github.com/toasty-orm/toasty/stmt"

// FieldMask is a bitset over a model's primitive leaves (spec §3.1,
// GLOSSARY). The union of every field's mask, for one model, equals the
// full leaf set -- used to detect full vs. partial coverage under update
// (e.g. "did this UPDATE touch every primitive leaf of an embedded
// struct?").
type FieldMask struct {
	bits []uint64
}

func NewFieldMask(numLeaves int) FieldMask {
	return FieldMask{bits: make([]uint64, (numLeaves+63)/64)}
}

func (m *FieldMask) Set(leaf int) {
	word, bit := leaf/64, uint(leaf%64)
	for len(m.bits) <= word {
		m.bits = append(m.bits, 0)
	}
	m.bits[word] |= 1 << bit
}

func (m FieldMask) Test(leaf int) bool {
	word, bit := leaf/64, uint(leaf%64)
	if word >= len(m.bits) {
		return false
	}
	return m.bits[word]&(1<<bit) != 0
}

// Union returns a new mask with bits set in either operand.
func (m FieldMask) Union(other FieldMask) FieldMask {
	n := len(m.bits)
	if len(other.bits) > n {
		n = len(other.bits)
	}
	out := FieldMask{bits: make([]uint64, n)}
	for i := 0; i < n; i++ {
		var a, b uint64
		if i < len(m.bits) {
			a = m.bits[i]
		}
		if i < len(other.bits) {
			b = other.bits[i]
		}
		out.bits[i] = a | b
	}
	return out
}

// IsFull reports whether every bit below numLeaves is set.
func (m FieldMask) IsFull(numLeaves int) bool {
	for leaf := 0; leaf < numLeaves; leaf++ {
		if !m.Test(leaf) {
			return false
		}
	}
	return true
}

// FieldMapping is one of Primitive | Struct | Enum | Relation -- how a
// single root-model field projects onto storage columns.
type FieldMapping interface {
	fieldMappingKind() string
	Mask() FieldMask
}

// PrimitiveMapping covers a scalar field that maps to exactly one column.
// LoweringIndex is this field's position in the model's model_to_table
// expression list (spec §3.1).
type PrimitiveMapping struct {
	Column        ColumnId
	LoweringIndex int
	FieldMaskV    FieldMask
	SubProjection *Projection
}

func (PrimitiveMapping) fieldMappingKind() string { return "primitive" }
func (m PrimitiveMapping) Mask() FieldMask         { return m.FieldMaskV }

// StructMapping covers an embedded-struct field, flattened across multiple
// columns. Columns maps each flattened leaf's lowering index to its column,
// preserving declaration order (an IndexMap in the Rust source; here an
// ordered slice of pairs since Go lacks an ordered map type).
type StructMapping struct {
	Fields        []FieldMapping // one entry per leaf of the embedded struct
	Columns       []StructColumnEntry
	FieldMaskV    FieldMask
	SubProjection *Projection
}

type StructColumnEntry struct {
	LoweringIndex int
	Column        ColumnId
}

func (StructMapping) fieldMappingKind() string { return "struct" }
func (m StructMapping) Mask() FieldMask         { return m.FieldMaskV }

// EnumMapping covers an embedded-enum field: one discriminant column plus
// one nullable column per variant field (only the active variant's columns
// are non-null in a given row).
type EnumMapping struct {
	DiscColumn    ColumnId
	DiscLowering  int
	Variants      []EnumVariantMapping
	FieldMaskV    FieldMask
	SubProjection *Projection
}

type EnumVariantMapping struct {
	Discriminant int
	Fields       []FieldMapping
}

func (EnumMapping) fieldMappingKind() string { return "enum" }
func (m EnumMapping) Mask() FieldMask         { return m.FieldMaskV }

// RelationMapping covers a BelongsTo/HasMany/HasOne field. A BelongsTo field
// carries the owning table's own generated foreign-key columns, one per
// Target's primary-key field in primary-key order, so the lowerer can
// rewrite a direct reference or assignment into a column-level key
// comparison without a join (spec §4.2 "relation elimination"). A
// HasMany/HasOne field carries no column of its own; instead it names the
// paired BelongsTo field's foreign-key columns on the child table and this
// model's own key columns they must match, so the operation planner can
// batch-load the child rows and Associate them (spec §4.4 step 5).
type RelationMapping struct {
	FieldMaskV  FieldMask
	Target      ModelId
	TargetTable TableId

	// FKColumns is set for BelongsTo.
	FKColumns []ColumnId

	// ChildFKColumns/OwnerKeyColumns are set for HasMany/HasOne, in matching
	// pairwise order.
	ChildFKColumns  []ColumnId
	OwnerKeyColumns []ColumnId
}

func (RelationMapping) fieldMappingKind() string { return "relation" }
func (m RelationMapping) Mask() FieldMask        { return m.FieldMaskV }

// Projection selects a sub-range of leaves within a field's own mask-space,
// used when a struct/enum field is itself further projected (e.g. selecting
// only one field of an embedded struct).
type Projection struct {
	Leaves []int
}

// ModelMapping is the full field-by-field mapping for one Root model, plus
// its two canonical projections.
type ModelMapping struct {
	Model ModelId
	Table TableId

	// Fields holds one FieldMapping per entry in the model's field list,
	// indexed the same way (Field.ID.Index).
	Fields []FieldMapping

	// ModelToTable is the ordered list of expressions (over model-space
	// field references) that populate column values at INSERT/UPDATE,
	// indexed by lowering index.
	ModelToTable []stmt.Expr

	// TableToModel reconstructs a model record from a row: each entry is
	// the column (or columns, for struct/enum fields) used to populate one
	// model leaf, in field-declaration order.
	TableToModel []ColumnId
}

// NumLeaves returns the total primitive-leaf count for this model, i.e. the
// bit-width every FieldMask in this mapping is relative to.
func (mm *ModelMapping) NumLeaves() int {
	total := 0
	for _, fm := range mm.Fields {
		total += maskWidth(fm)
	}
	return total
}

func maskWidth(fm FieldMapping) int {
	switch v := fm.(type) {
	case StructMapping:
		return len(v.Fields)
	case EnumMapping:
		n := 0
		for _, variant := range v.Variants {
			n += len(variant.Fields)
		}
		return n + 1 // + discriminant
	default:
		return 1
	}
}

// Mapping is the full schema-to-storage mapping: one ModelMapping per Root
// model.
type Mapping struct {
	Models map[ModelId]*ModelMapping
}

func NewMapping() *Mapping {
	return &Mapping{Models: make(map[ModelId]*ModelMapping)}
}

func (m *Mapping) Get(model ModelId) (*ModelMapping, bool) {
	mm, ok := m.Models[model]
	return mm, ok
}
