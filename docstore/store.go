package docstore

import "context"

// Kinds of records the engine persists. The names double as Firestore
// collection names.
const (
	KindDevice       = "devices"
	KindPairing      = "device_pairings"
	KindUser         = "users"
	KindSession      = "climbing_sessions"
	KindSessionEvent = "session_events"
	KindContact      = "emergency_contacts"
)

// Filter is a conjunction of equality predicates over stored field
// names (the json/firestore tag names of the models package).
type Filter map[string]any

// Store is keyed record storage with typed create/read/update/query by
// field predicates. Implementations return models.ErrNotFound for
// missing records on Get and Update; Delete is idempotent.
type Store interface {
	Create(ctx context.Context, kind, id string, rec any) error
	Get(ctx context.Context, kind, id string, out any) error
	Update(ctx context.Context, kind, id string, fields map[string]any) error
	// Query decodes all matching records into out, which must be a
	// pointer to a slice of the kind's record type.
	Query(ctx context.Context, kind string, filter Filter, out any) error
	Delete(ctx context.Context, kind, id string) error
}
