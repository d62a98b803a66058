// Package schema implements Toasty's application schema (models, fields,
// relations, embedded types), database schema (tables, columns, indices),
// and the Mapping that projects one onto the other (spec §3.1).
//
// The teacher (rediwo-redi-orm/schema) models a flat Prisma-like schema with
// string-keyed relations; this package generalizes that shape to the
// richer model the spec requires -- embedded structs/enums, composite
// primary keys, and an explicit lowering Mapping -- while keeping the same
// builder-style API and snake_case/pluralize naming helpers
// (utils.ToSnakeCase / utils.Pluralize) the teacher uses for default table
// names.
package schema

import (
	"github.com/toasty-orm/toasty/stmt"
)

// ModelId identifies a Model within an AppSchema. IDs are issued by the
// Builder at registration time and are immutable thereafter (replacing the
// teacher's global OnceLock-style counters with a schema-owned registry,
// per the re-architecture notes).
type ModelId int

// FieldId names one field within a model by its ordered position. For
// EmbeddedEnum models, variant fields are numbered globally across all
// variants so each has a unique Index within the enum (spec §3.1).
type FieldId struct {
	Model ModelId
	Index int
}

// Model is one of Root | EmbeddedStruct | EmbeddedEnum.
type Model interface {
	modelKind() string
	ID() ModelId
	AllFields() []Field
}

// AutoGenStrategy selects how a field's value is produced when omitted on
// insert.
type AutoGenStrategy int

const (
	AutoGenNone AutoGenStrategy = iota
	AutoGenId                  // UUID
	AutoGenIncrement
)

// FieldTy is one of Primitive | Embedded | BelongsTo | HasMany | HasOne.
type FieldTy interface {
	fieldTyKind() string
}

type FieldTyPrimitive struct {
	Type stmt.Type
	// Model is meaningful when Type is TypeId or TypeModel: the target
	// model this identifier/value refers to.
	Model ModelId
}

func (FieldTyPrimitive) fieldTyKind() string { return "primitive" }

// FieldTyEmbedded points at an EmbeddedStruct or EmbeddedEnum model nested
// by value inside the owning model's storage.
type FieldTyEmbedded struct{ Target ModelId }

func (FieldTyEmbedded) fieldTyKind() string { return "embedded" }

// FKPair relates one source (owning-side) field to one target (referenced)
// field; BelongsTo.ForeignKey is a slice to support composite foreign keys.
type FKPair struct {
	Source FieldId
	Target FieldId
}

// FieldTyBelongsTo is the "many" side's pointer to the "one" side. Pair
// names the paired HasMany/HasOne field on Target, or nil for a one-way
// relation with no inverse accessor (spec §3.1 invariant).
type FieldTyBelongsTo struct {
	Target     ModelId
	ForeignKey []FKPair
	Pair       *FieldId
}

func (FieldTyBelongsTo) fieldTyKind() string { return "belongs_to" }

type FieldTyHasMany struct {
	Target       ModelId
	SingularName string
	Pair         FieldId
}

func (FieldTyHasMany) fieldTyKind() string { return "has_many" }

type FieldTyHasOne struct {
	Target ModelId
	Pair   FieldId
}

func (FieldTyHasOne) fieldTyKind() string { return "has_one" }

// Field is one member of a model's ordered field list.
type Field struct {
	ID            FieldId
	Name          string // application name
	StorageName   string // optional column/attribute override; "" => derive from Name
	Nullable      bool
	PrimaryKey    bool
	AutoGenerated AutoGenStrategy
	Ty            FieldTy
}

// IsRelation reports whether the field's type is one of the three relation
// kinds, as opposed to Primitive/Embedded.
func (f Field) IsRelation() bool {
	switch f.Ty.(type) {
	case FieldTyBelongsTo, FieldTyHasMany, FieldTyHasOne:
		return true
	default:
		return false
	}
}

// PrimaryKey describes a Root model's primary key, split into a partition
// subset (used for KV partition-key routing) and a local subset (sort/range
// keys within the partition). For SQL backends the two subsets are usually
// just concatenated back together; for DynamoDB they map onto the table's
// partition key and sort key respectively.
type PrimaryKeySpec struct {
	Partition []FieldId
	Local     []FieldId
}

func (pk PrimaryKeySpec) AllFields() []FieldId {
	out := make([]FieldId, 0, len(pk.Partition)+len(pk.Local))
	out = append(out, pk.Partition...)
	out = append(out, pk.Local...)
	return out
}

// Index is an application-level secondary index declaration. Fields lists
// the model fields it covers, in prefix order.
type Index struct {
	Name   string
	Fields []FieldId
	Unique bool
}

// RootModel is a persisted entity.
type RootModel struct {
	Id         ModelId
	Name       string
	StorageName string
	Fields     []Field
	PrimaryKey PrimaryKeySpec
	Indices    []Index
}

func (m *RootModel) modelKind() string  { return "root" }
func (m *RootModel) ID() ModelId        { return m.Id }
func (m *RootModel) AllFields() []Field { return m.Fields }

// EmbeddedStructModel is an unnamed nested record flattened into the
// parent's columns by the Mapping.
type EmbeddedStructModel struct {
	Id     ModelId
	Fields []Field
}

func (m *EmbeddedStructModel) modelKind() string  { return "embedded_struct" }
func (m *EmbeddedStructModel) ID() ModelId        { return m.Id }
func (m *EmbeddedStructModel) AllFields() []Field { return m.Fields }

// EnumVariant is one arm of an EmbeddedEnum: a discriminant value plus the
// fields carried by that arm (each field's FieldId.Index is globally unique
// across the enum's variants, per spec §3.1).
type EnumVariant struct {
	Discriminant int
	Fields       []Field
}

type EmbeddedEnumModel struct {
	Id       ModelId
	Variants []EnumVariant
}

func (m *EmbeddedEnumModel) modelKind() string { return "embedded_enum" }
func (m *EmbeddedEnumModel) ID() ModelId       { return m.Id }
func (m *EmbeddedEnumModel) AllFields() []Field {
	var out []Field
	for _, v := range m.Variants {
		out = append(out, v.Fields...)
	}
	return out
}
