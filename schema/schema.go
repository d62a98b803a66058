package schema

import (
	"fmt"

	"github.com/toasty-orm/toasty/tserr"
)

// Schema bundles the application schema, the database schema, and the
// mapping between them -- the three pieces §3.1 says make up "Schema".
// It is immutable after Build (§5's concurrency model: "shared by
// shared-reference").
type Schema struct {
	Models  map[ModelId]Model
	Db      *DbSchema
	Mapping *Mapping

	byName map[string]ModelId
}

func (s *Schema) ModelByName(name string) (Model, bool) {
	id, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return s.Models[id], true
}

func (s *Schema) Root(id ModelId) (*RootModel, bool) {
	m, ok := s.Models[id]
	if !ok {
		return nil, false
	}
	root, ok := m.(*RootModel)
	return root, ok
}

// Field looks up a field by FieldId across any model kind.
func (s *Schema) Field(id FieldId) (Field, bool) {
	m, ok := s.Models[id.Model]
	if !ok {
		return Field{}, false
	}
	fields := m.AllFields()
	if id.Index < 0 || id.Index >= len(fields) {
		return Field{}, false
	}
	return fields[id.Index], true
}

// Validate checks the cross-model invariants from spec §3.1: every
// BelongsTo is paired with a HasMany/HasOne on the target (or explicitly
// one-way), every HasMany/HasOne pairs with a BelongsTo, and foreign-key
// fields are primitive and type-compatible with the referenced primary-key
// fields. This only runs against schema-builder output, never against user
// statement input; it reports the first violation it finds as a returned
// error and does not panic.
func (s *Schema) Validate() error {
	for id, m := range s.Models {
		for _, f := range m.AllFields() {
			switch ty := f.Ty.(type) {
			case FieldTyBelongsTo:
				if err := s.validateBelongsTo(id, f, ty); err != nil {
					return err
				}
			case FieldTyHasMany:
				if err := s.validatePairedBelongsTo(ty.Target, ty.Pair, f); err != nil {
					return err
				}
			case FieldTyHasOne:
				if err := s.validatePairedBelongsTo(ty.Target, ty.Pair, f); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Schema) validateBelongsTo(owner ModelId, f Field, ty FieldTyBelongsTo) error {
	if len(ty.ForeignKey) == 0 {
		return tserr.Adhoc("model %d field %s: BelongsTo has no foreign key pairs", owner, f.Name)
	}
	for _, pair := range ty.ForeignKey {
		sourceField, ok := s.Field(pair.Source)
		if !ok {
			return tserr.Adhoc("model %d field %s: foreign key source field not found", owner, f.Name)
		}
		prim, ok := sourceField.Ty.(FieldTyPrimitive)
		if !ok {
			return tserr.Adhoc("model %d field %s: foreign key source must be primitive", owner, f.Name)
		}
		targetField, ok := s.Field(pair.Target)
		if !ok {
			return tserr.Adhoc("model %d field %s: foreign key target field not found", owner, f.Name)
		}
		targetPrim, ok := targetField.Ty.(FieldTyPrimitive)
		if !ok || targetPrim.Type != prim.Type {
			return tserr.Adhoc("model %d field %s: foreign key type mismatch with target primary key", owner, f.Name)
		}
	}
	if ty.Pair != nil {
		pairField, ok := s.Field(*ty.Pair)
		if !ok {
			return tserr.Adhoc("model %d field %s: paired field not found", owner, f.Name)
		}
		switch pairField.Ty.(type) {
		case FieldTyHasMany, FieldTyHasOne:
		default:
			return tserr.Adhoc("model %d field %s: paired field is not HasMany/HasOne", owner, f.Name)
		}
	}
	return nil
}

func (s *Schema) validatePairedBelongsTo(target ModelId, pair FieldId, self Field) error {
	pairField, ok := s.Field(pair)
	if !ok {
		return tserr.Adhoc("field %s: pair field not found on model %d", self.Name, target)
	}
	if _, ok := pairField.Ty.(FieldTyBelongsTo); !ok {
		return tserr.Adhoc("field %s: pair field must be BelongsTo", self.Name)
	}
	return nil
}

func (s *Schema) String() string {
	return fmt.Sprintf("Schema{models=%d, tables=%d}", len(s.Models), len(s.Db.Tables))
}
