package schema

import (
	"fmt"

	"github.com/toasty-orm/toasty/stmt"
	"github.com/toasty-orm/toasty/tserr"
	"github.com/toasty-orm/toasty/utils"
)

// Builder accumulates models, issuing ModelIds at registration time
// (replacing the teacher's global counters with a schema-owned registry,
// per the re-architecture notes in spec §9). Build() derives the database
// schema and mapping by convention -- one table per Root model, one column
// per primitive leaf -- the same way the teacher's schema.New(name) derives
// a default table name via utils.ToSnakeCase + utils.Pluralize.
type Builder struct {
	models []Model
	byName map[string]ModelId
	err    error
}

func NewBuilder() *Builder {
	return &Builder{byName: make(map[string]ModelId)}
}

func (b *Builder) nextId() ModelId { return ModelId(len(b.models)) }

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// FieldSpec is the declarative description of one field, consumed by
// RootModel/EmbeddedStruct/EmbeddedEnum.
type FieldSpec struct {
	Name          string
	StorageName   string
	Nullable      bool
	PrimaryKey    bool
	AutoGenerated AutoGenStrategy
	Ty            FieldTy
}

// RootModel registers a persisted entity. pkPartition/pkLocal name the
// primary-key fields by application name; when both are empty, every field
// marked PrimaryKey in fields is used as the (single-subset) partition key.
func (b *Builder) RootModel(name, storageName string, fields []FieldSpec, indices []Index, pkPartition, pkLocal []string) ModelId {
	id := b.nextId()
	builtFields := make([]Field, len(fields))
	byFieldName := make(map[string]int, len(fields))
	for i, spec := range fields {
		builtFields[i] = Field{
			ID:            FieldId{Model: id, Index: i},
			Name:          spec.Name,
			StorageName:   spec.StorageName,
			Nullable:      spec.Nullable,
			PrimaryKey:    spec.PrimaryKey,
			AutoGenerated: spec.AutoGenerated,
			Ty:            spec.Ty,
		}
		byFieldName[spec.Name] = i
	}

	resolve := func(names []string) []FieldId {
		out := make([]FieldId, 0, len(names))
		for _, n := range names {
			idx, ok := byFieldName[n]
			if !ok {
				b.fail(tserr.Adhoc("model %s: primary key field %q not found", name, n))
				continue
			}
			out = append(out, FieldId{Model: id, Index: idx})
		}
		return out
	}

	var pk PrimaryKeySpec
	if len(pkPartition) > 0 || len(pkLocal) > 0 {
		pk = PrimaryKeySpec{Partition: resolve(pkPartition), Local: resolve(pkLocal)}
	} else {
		for i, f := range builtFields {
			if f.PrimaryKey {
				pk.Partition = append(pk.Partition, FieldId{Model: id, Index: i})
			}
		}
	}

	if storageName == "" {
		storageName = utils.Pluralize(utils.ToSnakeCase(name))
	}

	m := &RootModel{
		Id:          id,
		Name:        name,
		StorageName: storageName,
		Fields:      builtFields,
		PrimaryKey:  pk,
		Indices:     indices,
	}
	b.models = append(b.models, m)
	b.byName[name] = id
	return id
}

func (b *Builder) EmbeddedStruct(name string, fields []FieldSpec) ModelId {
	id := b.nextId()
	builtFields := make([]Field, len(fields))
	for i, spec := range fields {
		builtFields[i] = Field{
			ID:       FieldId{Model: id, Index: i},
			Name:     spec.Name,
			Nullable: spec.Nullable,
			Ty:       spec.Ty,
		}
	}
	m := &EmbeddedStructModel{Id: id, Fields: builtFields}
	b.models = append(b.models, m)
	b.byName[name] = id
	return id
}

// VariantSpec describes one arm of an embedded enum.
type VariantSpec struct {
	Discriminant int
	Fields       []FieldSpec
}

func (b *Builder) EmbeddedEnum(name string, variants []VariantSpec) ModelId {
	id := b.nextId()
	nextIndex := 0
	builtVariants := make([]EnumVariant, len(variants))
	for vi, spec := range variants {
		fields := make([]Field, len(spec.Fields))
		for i, fs := range spec.Fields {
			fields[i] = Field{
				ID:       FieldId{Model: id, Index: nextIndex},
				Name:     fs.Name,
				Nullable: true, // only the active variant's columns are non-null
				Ty:       fs.Ty,
			}
			nextIndex++
		}
		builtVariants[vi] = EnumVariant{Discriminant: spec.Discriminant, Fields: fields}
	}
	m := &EmbeddedEnumModel{Id: id, Variants: builtVariants}
	b.models = append(b.models, m)
	b.byName[name] = id
	return id
}

// Build derives the DbSchema and Mapping by convention and validates
// relation invariants, returning the immutable Schema.
func (b *Builder) Build() (*Schema, error) {
	if b.err != nil {
		return nil, b.err
	}

	s := &Schema{
		Models: make(map[ModelId]Model, len(b.models)),
		byName: b.byName,
	}
	for _, m := range b.models {
		s.Models[m.ID()] = m
	}

	db := &DbSchema{}
	mapping := NewMapping()

	// First pass: allocate one table per Root model so FK target columns
	// can be resolved in any declaration order.
	tableOf := make(map[ModelId]TableId)
	for _, m := range b.models {
		root, ok := m.(*RootModel)
		if !ok {
			continue
		}
		tid := TableId(len(db.Tables))
		db.Tables = append(db.Tables, Table{Id: tid, Name: root.StorageName})
		tableOf[root.Id] = tid
	}

	for _, m := range b.models {
		root, ok := m.(*RootModel)
		if !ok {
			continue
		}
		if err := lowerRootModel(s, db, mapping, root, tableOf); err != nil {
			return nil, err
		}
	}

	// Second pass: HasMany/HasOne fields borrow their child table's
	// foreign-key columns from the paired BelongsTo field, which may be
	// declared on a model processed after this one above.
	for _, m := range b.models {
		root, ok := m.(*RootModel)
		if !ok {
			continue
		}
		if err := resolveInverseRelations(mapping, root, tableOf); err != nil {
			return nil, err
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	s.Db = db
	s.Mapping = mapping
	return s, nil
}

// lowerRootModel derives one Root model's table columns, indices, and
// ModelMapping. Embedded structs/enums are flattened; BelongsTo fields get
// one generated foreign-key column per target primary-key field;
// HasMany/HasOne fields carry no column (RelationMapping only).
func lowerRootModel(s *Schema, db *DbSchema, mapping *Mapping, root *RootModel, tableOf map[ModelId]TableId) error {
	tid := tableOf[root.Id]
	table := &db.Tables[tid]

	mm := &ModelMapping{Model: root.Id, Table: tid}
	mm.Fields = make([]FieldMapping, len(root.Fields))

	addColumn := func(name string, appTy stmt.Type, nullable, autoIncrement bool) ColumnId {
		cid := ColumnId{Table: tid, Index: len(table.Columns)}
		st, err := defaultStorageType(appTy)
		if err != nil {
			return cid
		}
		table.Columns = append(table.Columns, Column{
			Id: cid, Name: name, AppType: appTy, StorageType: st,
			Nullable: nullable, AutoIncrement: autoIncrement,
		})
		return cid
	}

	loweringIdx := 0

	for i, f := range root.Fields {
		leafStart := loweringIdx
		switch ty := f.Ty.(type) {
		case FieldTyPrimitive:
			colName := f.StorageName
			if colName == "" {
				colName = utils.ToSnakeCase(f.Name)
			}
			autoIncr := f.AutoGenerated == AutoGenIncrement
			cid := addColumn(colName, ty.Type, f.Nullable, autoIncr)
			mask := NewFieldMask(1)
			mask.Set(0)
			mm.Fields[i] = PrimitiveMapping{Column: cid, LoweringIndex: loweringIdx, FieldMaskV: mask}
			mm.ModelToTable = append(mm.ModelToTable, stmt.FieldRef(i))
			mm.TableToModel = append(mm.TableToModel, cid)
			loweringIdx++
			if f.PrimaryKey {
				table.PrimaryKey.Columns = append(table.PrimaryKey.Columns, cid)
				table.Columns[cid.Index].PrimaryKey = true
			}

		case FieldTyEmbedded:
			target, ok := s.Models[ty.Target]
			if !ok {
				return tserr.Adhoc("model %s field %s: embedded target not found", root.Name, f.Name)
			}
			switch em := target.(type) {
			case *EmbeddedStructModel:
				var entries []StructColumnEntry
				var fieldMappings []FieldMapping
				for _, leaf := range em.Fields {
					colName := utils.ToSnakeCase(f.Name) + "_" + utils.ToSnakeCase(leaf.Name)
					prim, ok := leaf.Ty.(FieldTyPrimitive)
					if !ok {
						return tserr.Adhoc("embedded struct %s: only primitive leaves supported", f.Name)
					}
					cid := addColumn(colName, prim.Type, true, false)
					entries = append(entries, StructColumnEntry{LoweringIndex: loweringIdx, Column: cid})
					leafMask := NewFieldMask(1)
					leafMask.Set(0)
					fieldMappings = append(fieldMappings, PrimitiveMapping{Column: cid, LoweringIndex: loweringIdx, FieldMaskV: leafMask})
					mm.ModelToTable = append(mm.ModelToTable, stmt.FieldRef(i))
					mm.TableToModel = append(mm.TableToModel, cid)
					loweringIdx++
				}
				mask := NewFieldMask(len(em.Fields))
				for k := range em.Fields {
					mask.Set(k)
				}
				mm.Fields[i] = StructMapping{Fields: fieldMappings, Columns: entries, FieldMaskV: mask}

			case *EmbeddedEnumModel:
				discName := utils.ToSnakeCase(f.Name) + "_kind"
				discCol := addColumn(discName, stmt.TypeI32, true, false)
				var variants []EnumVariantMapping
				leafCount := 0
				for _, variant := range em.Variants {
					var fieldMappings []FieldMapping
					for _, leaf := range variant.Fields {
						colName := fmt.Sprintf("%s_%d_%s", utils.ToSnakeCase(f.Name), variant.Discriminant, utils.ToSnakeCase(leaf.Name))
						prim, ok := leaf.Ty.(FieldTyPrimitive)
						if !ok {
							return tserr.Adhoc("embedded enum %s: only primitive leaves supported", f.Name)
						}
						cid := addColumn(colName, prim.Type, true, false)
						leafMask := NewFieldMask(1)
						leafMask.Set(0)
						fieldMappings = append(fieldMappings, PrimitiveMapping{Column: cid, LoweringIndex: loweringIdx, FieldMaskV: leafMask})
						mm.ModelToTable = append(mm.ModelToTable, stmt.FieldRef(i))
						mm.TableToModel = append(mm.TableToModel, cid)
						loweringIdx++
						leafCount++
					}
					variants = append(variants, EnumVariantMapping{Discriminant: variant.Discriminant, Fields: fieldMappings})
				}
				mask := NewFieldMask(leafCount + 1)
				for k := 0; k <= leafCount; k++ {
					mask.Set(k)
				}
				mm.Fields[i] = EnumMapping{DiscColumn: discCol, DiscLowering: loweringIdx - leafCount - 1, Variants: variants, FieldMaskV: mask}
				mm.ModelToTable = append(mm.ModelToTable, stmt.FieldRef(i))
				mm.TableToModel = append(mm.TableToModel, discCol)
			}

		case FieldTyBelongsTo:
			var fkCols []ColumnId
			for _, pair := range ty.ForeignKey {
				targetField, _ := s.Field(pair.Target)
				prim := targetField.Ty.(FieldTyPrimitive)
				colName := utils.ToSnakeCase(f.Name) + "_id"
				if len(ty.ForeignKey) > 1 {
					colName = utils.ToSnakeCase(f.Name) + "_" + utils.ToSnakeCase(targetField.Name)
				}
				cid := addColumn(colName, prim.Type, f.Nullable, false)
				fkCols = append(fkCols, cid)
			}
			mask := NewFieldMask(1)
			mask.Set(0)
			mm.Fields[i] = RelationMapping{
				FieldMaskV:  mask,
				Target:      ty.Target,
				TargetTable: tableOf[ty.Target],
				FKColumns:   fkCols,
			}

		case FieldTyHasMany:
			mm.Fields[i] = RelationMapping{FieldMaskV: NewFieldMask(0), Target: ty.Target, TargetTable: tableOf[ty.Target]}

		case FieldTyHasOne:
			mm.Fields[i] = RelationMapping{FieldMaskV: NewFieldMask(0), Target: ty.Target, TargetTable: tableOf[ty.Target]}
		}
		_ = leafStart
	}

	for _, idx := range root.Indices {
		var cols []ColumnId
		for _, fid := range idx.Fields {
			if fm, ok := mm.Fields[fid.Index].(PrimitiveMapping); ok {
				cols = append(cols, fm.Column)
			}
		}
		table.Indices = append(table.Indices, DbIndex{Name: idx.Name, Columns: cols, Unique: idx.Unique})
	}

	mapping.Models[root.Id] = mm
	return nil
}

// resolveInverseRelations fills in a HasMany/HasOne field's ChildFKColumns
// and OwnerKeyColumns once every model's BelongsTo columns exist, since the
// paired BelongsTo field may live on a model built later in declaration
// order than the HasMany/HasOne side.
func resolveInverseRelations(mapping *Mapping, root *RootModel, tableOf map[ModelId]TableId) error {
	mm, ok := mapping.Models[root.Id]
	if !ok {
		return tserr.Adhoc("model %s: no mapping", root.Name)
	}

	for i, f := range root.Fields {
		var pair FieldId
		switch ty := f.Ty.(type) {
		case FieldTyHasMany:
			pair = ty.Pair
		case FieldTyHasOne:
			pair = ty.Pair
		default:
			continue
		}
		childMM, ok := mapping.Models[pair.Model]
		if !ok {
			return tserr.Adhoc("model %s field %s: no mapping for paired model", root.Name, f.Name)
		}
		if pair.Index < 0 || pair.Index >= len(childMM.Fields) {
			return tserr.Adhoc("model %s field %s: paired field index out of range", root.Name, f.Name)
		}
		belongsTo, ok := childMM.Fields[pair.Index].(RelationMapping)
		if !ok {
			return tserr.Adhoc("model %s field %s: paired field is not a relation", root.Name, f.Name)
		}
		rel := mm.Fields[i].(RelationMapping)
		rel.ChildFKColumns = belongsTo.FKColumns
		rel.OwnerKeyColumns = ownKeyColumns(mm, root)
		mm.Fields[i] = rel
	}
	return nil
}

// ownKeyColumns returns a root model's own primary-key columns, in
// declaration order, for matching against a paired BelongsTo's foreign-key
// columns.
func ownKeyColumns(mm *ModelMapping, root *RootModel) []ColumnId {
	var cols []ColumnId
	for _, fid := range root.PrimaryKey.AllFields() {
		if prim, ok := mm.Fields[fid.Index].(PrimitiveMapping); ok {
			cols = append(cols, prim.Column)
		}
	}
	return cols
}

func defaultStorageType(appTy stmt.Type) (StorageType, error) {
	switch appTy {
	case stmt.TypeBool:
		return StorageType{Kind: StorageBoolean}, nil
	case stmt.TypeI8:
		return StorageType{Kind: StorageInteger, Width: 1}, nil
	case stmt.TypeI16:
		return StorageType{Kind: StorageInteger, Width: 2}, nil
	case stmt.TypeI32:
		return StorageType{Kind: StorageInteger, Width: 4}, nil
	case stmt.TypeI64:
		return StorageType{Kind: StorageInteger, Width: 8}, nil
	case stmt.TypeU8:
		return StorageType{Kind: StorageUnsignedInteger, Width: 1}, nil
	case stmt.TypeU16:
		return StorageType{Kind: StorageUnsignedInteger, Width: 2}, nil
	case stmt.TypeU32:
		return StorageType{Kind: StorageUnsignedInteger, Width: 4}, nil
	case stmt.TypeU64:
		return StorageType{Kind: StorageUnsignedInteger, Width: 8}, nil
	case stmt.TypeString, stmt.TypeEnum:
		return StorageType{Kind: StorageText}, nil
	case stmt.TypeBytes:
		return StorageType{Kind: StorageBlob}, nil
	case stmt.TypeUuid, stmt.TypeId:
		return StorageType{Kind: StorageUuid}, nil
	case stmt.TypeTimestamp:
		return StorageType{Kind: StorageTimestamp}, nil
	case stmt.TypeDate:
		return StorageType{Kind: StorageDate}, nil
	case stmt.TypeTime:
		return StorageType{Kind: StorageTime}, nil
	case stmt.TypeDateTime:
		return StorageType{Kind: StorageDateTime}, nil
	case stmt.TypeDecimal:
		return StorageType{Kind: StorageDecimal}, nil
	case stmt.TypeBigDecimal:
		return StorageType{Kind: StorageBigDecimal}, nil
	default:
		return StorageType{}, tserr.UnsupportedFeature(fmt.Sprintf("no default storage type for %s", appTy))
	}
}
