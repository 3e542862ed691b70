package domain

import "github.com/google/uuid"

// SubjectID is the authenticated subject carried in session tokens ("sub").
// We model it as an opaque identifier: it is the account ID at sign-in time.
type SubjectID string

// RecordKey is the store-assigned key of a record within a collection.
type RecordKey string

// NewRecordKey returns a time-ordered push key (UUIDv7), so lexical key order
// follows insertion order.
func NewRecordKey() RecordKey {
	return RecordKey(uuid.Must(uuid.NewV7()).String())
}

// Collection names a top-level keyed collection in the realtime store.
type Collection string

const (
	CollectionMembers   Collection = "members"
	CollectionLineItems Collection = "line_items"
)

// Collections lists every collection the relay serves.
var Collections = []Collection{CollectionMembers, CollectionLineItems}

// Valid reports whether c is one of the served collections.
func (c Collection) Valid() bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}
