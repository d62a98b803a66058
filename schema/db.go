package schema

import "github.com/toasty-orm/toasty/stmt"

// TableId / ColumnId are stable identifiers assigned when a DbSchema is
// built, mirroring ModelId/FieldId's registry-issued-at-build-time pattern.
type TableId int

type ColumnId struct {
	Table TableId
	Index int
}

// StorageType enumerates the portable storage types a driver may back a
// column with (spec §3.1). Width is meaningful for Integer/UnsignedInteger;
// Precision is meaningful for the temporal types.
type StorageTypeKind int

const (
	StorageBoolean StorageTypeKind = iota
	StorageInteger
	StorageUnsignedInteger
	StorageText
	StorageVarChar
	StorageBlob
	StorageUuid
	StorageTimestamp
	StorageDate
	StorageTime
	StorageDateTime
	StorageDecimal
	StorageBigDecimal
)

type StorageType struct {
	Kind      StorageTypeKind
	Width     int // bytes, for Integer/UnsignedInteger: 1, 2, 4, 8
	VarCharN  int // for VarChar
	Precision int // for Timestamp/Time/DateTime
}

// CompatibleWith reports whether this storage type can back the given
// application type (spec §7's type-compatibility matrix).
func (t StorageType) CompatibleWith(appTy stmt.Type) bool {
	switch t.Kind {
	case StorageBoolean:
		return appTy == stmt.TypeBool
	case StorageInteger:
		switch appTy {
		case stmt.TypeI8, stmt.TypeI16, stmt.TypeI32, stmt.TypeI64:
			return true
		}
		return false
	case StorageUnsignedInteger:
		switch appTy {
		case stmt.TypeU8, stmt.TypeU16, stmt.TypeU32, stmt.TypeU64:
			return true
		}
		return false
	case StorageText, StorageVarChar:
		return appTy == stmt.TypeString || appTy == stmt.TypeEnum
	case StorageBlob:
		return appTy == stmt.TypeBytes
	case StorageUuid:
		return appTy == stmt.TypeUuid || appTy == stmt.TypeId
	case StorageTimestamp:
		return appTy == stmt.TypeTimestamp
	case StorageDate:
		return appTy == stmt.TypeDate
	case StorageTime:
		return appTy == stmt.TypeTime
	case StorageDateTime:
		return appTy == stmt.TypeDateTime
	case StorageDecimal:
		return appTy == stmt.TypeDecimal
	case StorageBigDecimal:
		return appTy == stmt.TypeBigDecimal
	default:
		return false
	}
}

type Column struct {
	Id            ColumnId
	Name          string
	AppType       stmt.Type
	StorageType   StorageType
	Nullable      bool
	AutoIncrement bool
	PrimaryKey    bool
}

type DbIndex struct {
	Name    string
	Columns []ColumnId
	Unique  bool
}

type DbPrimaryKey struct {
	Columns []ColumnId
}

type Table struct {
	Id         TableId
	Name       string
	Columns    []Column
	PrimaryKey DbPrimaryKey
	Indices    []DbIndex
}

func (t *Table) Column(id ColumnId) *Column {
	if id.Index < 0 || id.Index >= len(t.Columns) {
		return nil
	}
	return &t.Columns[id.Index]
}

// PrimaryKeyColumns returns the table's primary key columns in declared
// order (used by the driver contract's GetByKey/key-tuple construction).
func (t *Table) PrimaryKeyColumns() []Column {
	out := make([]Column, 0, len(t.PrimaryKey.Columns))
	for _, cid := range t.PrimaryKey.Columns {
		if c := t.Column(cid); c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// DbSchema is the full set of tables a Schema compiles to.
type DbSchema struct {
	Tables []Table
}

func (d *DbSchema) Table(id TableId) *Table {
	if int(id) < 0 || int(id) >= len(d.Tables) {
		return nil
	}
	return &d.Tables[id]
}

func (d *DbSchema) TableByName(name string) *Table {
	for i := range d.Tables {
		if d.Tables[i].Name == name {
			return &d.Tables[i]
		}
	}
	return nil
}
