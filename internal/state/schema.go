package state

import "fmt"

// Schema is the ordered list of fields a rule's state is made of.
type Schema []Field

// Validate checks every field declaration and rejects duplicate names.
func (s Schema) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, f := range s {
		if err := f.Validate(); err != nil {
			return err
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field name %q in schema", f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// FieldByName returns the schema field with the given name.
func (s Schema) FieldByName(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// InitialState builds the starting state map with every field at its default.
func (s Schema) InitialState() map[string]any {
	initial := make(map[string]any, len(s))
	for _, f := range s {
		initial[f.Name] = f.Default()
	}
	return initial
}

// NormalizeState validates a complete state map: its keys must be exactly the
// schema's field names and every value must be in its field's domain.
// Returns the normalized map.
func (s Schema) NormalizeState(in map[string]any) (map[string]any, error) {
	if len(in) != len(s) {
		return nil, fmt.Errorf("state has %d keys, schema has %d fields", len(in), len(s))
	}
	return s.NormalizeUpdate(in)
}

// NormalizeUpdate validates a partial state map: every key must name a schema
// field and every value must be in its field's domain. Keys not present are
// left to the caller to fill from prior state.
func (s Schema) NormalizeUpdate(in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for name, value := range in {
		f, ok := s.FieldByName(name)
		if !ok {
			return nil, fmt.Errorf("state key %q is not in the schema", name)
		}
		normalized, err := f.Normalize(value)
		if err != nil {
			return nil, err
		}
		out[name] = normalized
	}
	return out, nil
}
