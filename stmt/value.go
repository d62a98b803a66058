// Package stmt implements Toasty's statement intermediate representation:
// the sum-type trees for Query/Insert/Update/Delete and the Expr language
// they are built from.
package stmt

import (
	"fmt"
	"time"
)

// Type is a storage-independent application type carried by expressions and
// fields. It mirrors schema.FieldTy's Primitive variants but lives in stmt so
// that Expr/Value can reference types without importing schema (schema
// imports stmt, not the reverse).
type Type int

const (
	TypeUnknown Type = iota
	TypeNull
	TypeBool
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeString
	TypeBytes
	TypeUuid
	TypeId
	TypeTimestamp
	TypeDate
	TypeTime
	TypeDateTime
	TypeDecimal
	TypeBigDecimal
	TypeList
	TypeRecord
	TypeSparseRecord
	TypeEnum
	TypeModel
	TypeForeignKey
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeI8, TypeI16, TypeI32, TypeI64:
		return "int"
	case TypeU8, TypeU16, TypeU32, TypeU64:
		return "uint"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeUuid:
		return "uuid"
	case TypeId:
		return "id"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeTime:
		return "time"
	case TypeDateTime:
		return "datetime"
	case TypeDecimal:
		return "decimal"
	case TypeBigDecimal:
		return "bigdecimal"
	case TypeList:
		return "list"
	case TypeRecord:
		return "record"
	case TypeSparseRecord:
		return "sparse_record"
	case TypeEnum:
		return "enum"
	case TypeModel:
		return "model"
	case TypeForeignKey:
		return "foreign_key"
	default:
		return "unknown"
	}
}

// IsNumeric reports whether the type participates in arithmetic/ordering
// comparisons without an explicit cast.
func (t Type) IsNumeric() bool {
	switch t {
	case TypeI8, TypeI16, TypeI32, TypeI64, TypeU8, TypeU16, TypeU32, TypeU64, TypeDecimal, TypeBigDecimal:
		return true
	default:
		return false
	}
}

// Value is a runtime constant carried by the IR. Value is a closed sum type;
// exactly one of the typed fields is meaningful, selected by Kind.
//
// Unlike the Rust source, Go has no zero-cost tagged unions with payloads, so
// Value stores a Kind discriminant plus an `any` payload and typed helpers
// for the common cases. All variants are present unconditionally (no feature
// gates); drivers query Capability.StorageTypes to decide how to encode them.
type Value struct {
	Kind ValueKind
	data any
}

type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueI64
	ValueU64
	ValueF64
	ValueString
	ValueBytes
	ValueUuid
	ValueTimestamp
	ValueDate
	ValueTime
	ValueDateTime
	ValueDecimal
	ValueBigDecimal
	ValueRecord
	ValueList
	ValueSparseRecord
	ValueEnum
)

func Null() Value                  { return Value{Kind: ValueNull} }
func Bool(v bool) Value            { return Value{Kind: ValueBool, data: v} }
func I64(v int64) Value            { return Value{Kind: ValueI64, data: v} }
func U64(v uint64) Value           { return Value{Kind: ValueU64, data: v} }
func F64(v float64) Value          { return Value{Kind: ValueF64, data: v} }
func String(v string) Value        { return Value{Kind: ValueString, data: v} }
func Bytes(v []byte) Value         { return Value{Kind: ValueBytes, data: v} }
func Uuid(v [16]byte) Value        { return Value{Kind: ValueUuid, data: v} }
func Timestamp(v time.Time) Value  { return Value{Kind: ValueTimestamp, data: v} }
func DateTimeVal(v time.Time) Value { return Value{Kind: ValueDateTime, data: v} }
func Decimal(v string) Value       { return Value{Kind: ValueDecimal, data: v} }
func BigDecimal(v string) Value    { return Value{Kind: ValueBigDecimal, data: v} }

// Record is an ordered tuple of values (e.g. a composite key or a row).
func Record(fields ...Value) Value { return Value{Kind: ValueRecord, data: fields} }

// List is a homogeneous sequence of values.
func List(items ...Value) Value { return Value{Kind: ValueList, data: items} }

// Enum constructs a discriminated-union value: a discriminant plus the
// fields of the selected variant, as a Record.
type EnumValue struct {
	Variant int
	Fields  Value // Record
}

func Enum(variant int, fields Value) Value {
	return Value{Kind: ValueEnum, data: EnumValue{Variant: variant, Fields: fields}}
}

// SparseRecord is a partial row: only a subset of a model's fields are
// present, keyed by FieldId index. Produced by `load()` on projected
// queries; see schema.FieldMask for the companion bitset.
type SparseRecordValue struct {
	Fields map[int]Value
}

func SparseRecord(fields map[int]Value) Value {
	return Value{Kind: ValueSparseRecord, data: SparseRecordValue{Fields: fields}}
}

func (v Value) IsNull() bool { return v.Kind == ValueNull }

func (v Value) AsBool() (bool, bool) {
	b, ok := v.data.(bool)
	return b, v.Kind == ValueBool && ok
}

func (v Value) AsI64() (int64, bool) {
	i, ok := v.data.(int64)
	return i, v.Kind == ValueI64 && ok
}

func (v Value) AsString() (string, bool) {
	s, ok := v.data.(string)
	return s, v.Kind == ValueString && ok
}

func (v Value) AsRecord() ([]Value, bool) {
	r, ok := v.data.([]Value)
	return r, v.Kind == ValueRecord && ok
}

func (v Value) AsList() ([]Value, bool) {
	l, ok := v.data.([]Value)
	return l, v.Kind == ValueList && ok
}

func (v Value) AsEnum() (EnumValue, bool) {
	e, ok := v.data.(EnumValue)
	return e, v.Kind == ValueEnum && ok
}

func (v Value) AsSparseRecord() (SparseRecordValue, bool) {
	s, ok := v.data.(SparseRecordValue)
	return s, v.Kind == ValueSparseRecord && ok
}

// Raw returns the underlying Go value for driver marshalling; callers must
// switch on Kind first.
func (v Value) Raw() any { return v.data }

func (v Value) String() string {
	switch v.Kind {
	case ValueNull:
		return "null"
	case ValueRecord:
		fields, _ := v.AsRecord()
		return fmt.Sprintf("Record%v", fields)
	case ValueList:
		items, _ := v.AsList()
		return fmt.Sprintf("List%v", items)
	default:
		return fmt.Sprintf("%v", v.data)
	}
}

// Equal performs a best-effort structural comparison, used by the simplifier
// for constant folding and dedup. It does not implement SQL three-valued
// equality (see BinaryOpEq evaluation for that); Null never equals anything,
// including Null, consistent with three-valued semantics.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case ValueNull:
		return false
	case ValueRecord, ValueList:
		a, _ := v.AsRecord()
		if v.Kind == ValueList {
			a, _ = v.AsList()
		}
		b, _ := other.AsRecord()
		if other.Kind == ValueList {
			b, _ = other.AsList()
		}
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	default:
		return v.data == other.data
	}
}
