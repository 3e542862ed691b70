package realtime

import "errors"

var (
	// ErrUnknownCollection indicates the collection is not served by the store.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrInvalidKey indicates an empty or malformed record key.
	ErrInvalidKey = errors.New("invalid record key")

	// ErrFeedUnavailable indicates the store is not currently receiving
	// change notifications.
	ErrFeedUnavailable = errors.New("change feed unavailable")
)
