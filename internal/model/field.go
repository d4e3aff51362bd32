package model

// FieldSpec describes a writable project metadata field.
type FieldSpec struct {
	Name string    `json:"name" yaml:"name"`
	Kind ValueKind `json:"kind" yaml:"kind"`
	// Category is set for taxonomy-backed fields. Values of such fields are
	// normalized against the category vocabulary before they are stored.
	Category Category `json:"category,omitempty" yaml:"category,omitempty"`
}

// Normalized reports whether values of the field are normalized.
func (f FieldSpec) Normalized() bool {
	return f.Category != ""
}

// FieldRegistry is an indexed collection of field specs.
type FieldRegistry struct {
	Fields     []FieldSpec
	byName     map[string]*FieldSpec
	byCategory map[Category]*FieldSpec
}

// NewFieldRegistry creates a FieldRegistry with indexed lookups.
func NewFieldRegistry(fields []FieldSpec) *FieldRegistry {
	r := &FieldRegistry{
		Fields:     fields,
		byName:     make(map[string]*FieldSpec, len(fields)),
		byCategory: make(map[Category]*FieldSpec, len(fields)),
	}
	for i := range r.Fields {
		f := &r.Fields[i]
		r.byName[f.Name] = f
		if f.Category != "" {
			r.byCategory[f.Category] = f
		}
	}
	return r
}

// ByName returns the spec for the named field, or nil if not found.
func (r *FieldRegistry) ByName(name string) *FieldSpec {
	return r.byName[name]
}

// ByCategory returns the field backed by the given category, or nil.
func (r *FieldRegistry) ByCategory(c Category) *FieldSpec {
	return r.byCategory[c]
}

// DefaultFields is the project metadata schema. Each category has a
// string-array field of the same name.
func DefaultFields() []FieldSpec {
	fields := make([]FieldSpec, 0, 12)
	for _, c := range Categories() {
		fields = append(fields, FieldSpec{Name: string(c), Kind: KindStringArray, Category: c})
	}
	return append(fields,
		FieldSpec{Name: "title", Kind: KindString},
		FieldSpec{Name: "abstract", Kind: KindString},
		FieldSpec{Name: "notes", Kind: KindString},
		FieldSpec{Name: "keywords", Kind: KindStringArray},
		FieldSpec{Name: "protocol", Kind: KindObject},
	)
}

// DefaultFieldRegistry returns a registry over DefaultFields.
func DefaultFieldRegistry() *FieldRegistry {
	return NewFieldRegistry(DefaultFields())
}
