package record

// FieldKind distinguishes how emptiness is judged for a field value.
type FieldKind int

const (
	// FieldKindScalar is filled when the value is non-nil and not an empty string.
	FieldKindScalar FieldKind = iota
	// FieldKindList is filled when the value is a non-empty list.
	FieldKindList
)

// Field describes one diff- and scoring-relevant field of a scope record.
type Field struct {
	Key  string
	Kind FieldKind
}

// Registry is the shared catalogue of scope record fields. Audit history
// diffing and completion scoring consult the same registry so that both
// apply identical emptiness rules.
type Registry struct {
	fields map[string]Field
}

// NewRegistry builds a registry from explicit field definitions.
func NewRegistry(fields ...Field) *Registry {
	indexed := make(map[string]Field, len(fields))
	for _, field := range fields {
		indexed[field.Key] = field
	}
	return &Registry{fields: indexed}
}

// DefaultRegistry returns the registry covering the built-in scope sections.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Field{Key: "name", Kind: FieldKindScalar},
		Field{Key: "company", Kind: FieldKindScalar},
		Field{Key: "email", Kind: FieldKindScalar},
		Field{Key: "phone", Kind: FieldKindScalar},
		Field{Key: "website", Kind: FieldKindScalar},
		Field{Key: "address", Kind: FieldKindScalar},
		Field{Key: "city", Kind: FieldKindScalar},
		Field{Key: "region", Kind: FieldKindScalar},
		Field{Key: "summary", Kind: FieldKindScalar},
		Field{Key: "stage", Kind: FieldKindScalar},
		Field{Key: "budget", Kind: FieldKindScalar},
		Field{Key: "start_date", Kind: FieldKindScalar},
		Field{Key: "end_date", Kind: FieldKindScalar},
		Field{Key: "tags", Kind: FieldKindList},
		Field{Key: "contacts", Kind: FieldKindList},
		Field{Key: "documents", Kind: FieldKindList},
		Field{Key: "milestones", Kind: FieldKindList},
		Field{Key: "notes", Kind: FieldKindList},
	)
}

// Lookup returns the definition for the key. Unknown keys are treated as
// scalar fields so callers never need a registered entry to proceed.
func (r *Registry) Lookup(key string) Field {
	if r != nil {
		if field, ok := r.fields[key]; ok {
			return field
		}
	}
	return Field{Key: key, Kind: FieldKindScalar}
}

// Filled reports whether the value counts toward completion for the field.
func (r *Registry) Filled(key string, value interface{}) bool {
	if value == nil {
		return false
	}
	switch r.Lookup(key).Kind {
	case FieldKindList:
		list, ok := value.([]interface{})
		return ok && len(list) > 0
	default:
		if text, ok := value.(string); ok {
			return text != ""
		}
		return true
	}
}
