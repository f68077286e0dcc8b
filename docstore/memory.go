package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"cairn/models"
	"cairn/schema"
)

// MemoryStore is an in-process Store used by tests and broker-less
// local runs. Records are held as JSON documents so field predicates
// match the same stored names the Firestore implementation queries.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string]map[string]json.RawMessage
	schemas *schema.Registry
}

func NewMemoryStore(schemas *schema.Registry) *MemoryStore {
	return &MemoryStore{
		data:    make(map[string]map[string]json.RawMessage),
		schemas: schemas,
	}
}

func (s *MemoryStore) Create(ctx context.Context, kind, id string, rec any) error {
	if err := s.schemas.Validate(kind, rec); err != nil {
		return err
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", kind, id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.data[kind]
	if !ok {
		coll = make(map[string]json.RawMessage)
		s.data[kind] = coll
	}
	if _, exists := coll[id]; exists {
		return fmt.Errorf("create %s/%s: already exists", kind, id)
	}
	coll[id] = raw
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, kind, id string, out any) error {
	s.mu.RLock()
	raw, ok := s.data[kind][id]
	s.mu.RUnlock()

	if !ok {
		return models.ErrNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s/%s: %w", kind, id, err)
	}
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, kind, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.data[kind][id]
	if !ok {
		return models.ErrNotFound
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode %s/%s: %w", kind, id, err)
	}
	for field, value := range fields {
		doc[field] = value
	}

	updated, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", kind, id, err)
	}
	s.data[kind][id] = updated
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, kind string, filter Filter, out any) error {
	s.mu.RLock()
	var matches []json.RawMessage
	for _, raw := range s.data[kind] {
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		if matchesFilter(doc, filter) {
			matches = append(matches, raw)
		}
	}
	s.mu.RUnlock()

	slice := reflect.ValueOf(out).Elem()
	elemType := slice.Type().Elem()
	for _, raw := range matches {
		elem := reflect.New(elemType)
		if err := json.Unmarshal(raw, elem.Interface()); err != nil {
			return fmt.Errorf("decode %s: %w", kind, err)
		}
		slice.Set(reflect.Append(slice, elem.Elem()))
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[kind], id)
	return nil
}

func matchesFilter(doc map[string]any, filter Filter) bool {
	for field, want := range filter {
		got, ok := doc[field]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(normalize(got), normalize(want)) {
			return false
		}
	}
	return true
}

// normalize round-trips a value through JSON so typed filter values
// (enums, ints) compare equal to their decoded document counterparts.
func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
