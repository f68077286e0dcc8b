package schema

import (
	"encoding/json"
	"fmt"
)

// ValidationError reports a record that does not satisfy its kind's
// schema.
type ValidationError struct {
	Kind  string
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: missing required field %q", e.Kind, e.Field)
}

// ValidateFunc checks one decoded record document.
type ValidateFunc func(doc map[string]any) error

// Registry maps record kinds to validators, decoupling the engine from
// any particular schema description format.
type Registry struct {
	validators map[string]ValidateFunc
}

func NewRegistry() *Registry {
	return &Registry{validators: make(map[string]ValidateFunc)}
}

func (r *Registry) Register(kind string, fn ValidateFunc) {
	r.validators[kind] = fn
}

// Validate checks rec against the validator registered for kind.
// Kinds without a registered validator pass unchecked.
func (r *Registry) Validate(kind string, rec any) error {
	fn, ok := r.validators[kind]
	if !ok {
		return nil
	}
	doc, err := asDocument(rec)
	if err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return fn(doc)
}

// Default returns a registry preloaded with validators for every kind
// the engine persists. Field names are the stored (tag) names.
func Default() *Registry {
	r := NewRegistry()
	r.Register("devices", Required("devices", "serial_number", "status"))
	r.Register("device_pairings", Required("device_pairings", "user_id", "device_serial", "pairing_status"))
	r.Register("users", Required("users", "id", "name"))
	r.Register("climbing_sessions", Required("climbing_sessions", "session_id", "user_id", "device_serial", "session_state"))
	r.Register("session_events", Required("session_events", "session_id", "device_serial", "create_at"))
	r.Register("emergency_contacts", Required("emergency_contacts", "user_id", "name", "phone"))
	return r
}

// Required builds a validator that checks the listed fields are present
// and non-empty.
func Required(kind string, fields ...string) ValidateFunc {
	return func(doc map[string]any) error {
		for _, f := range fields {
			v, ok := doc[f]
			if !ok || v == nil {
				return &ValidationError{Kind: kind, Field: f}
			}
			if s, isStr := v.(string); isStr && s == "" {
				return &ValidationError{Kind: kind, Field: f}
			}
		}
		return nil
	}
}

func asDocument(rec any) (map[string]any, error) {
	if doc, ok := rec.(map[string]any); ok {
		return doc, nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return doc, nil
}
