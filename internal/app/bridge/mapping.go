package bridge

import (
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/frontend"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/realtime"
)

// MergeID returns a shallow copy of value with "id" set to key.
func MergeID(value domain.Record, key domain.RecordKey) domain.Record {
	return value.WithID(key)
}

// MapEvent turns a store change into the front-end event for it. Member
// removals have no front-end event and report false.
func MapEvent(evt realtime.Event) (frontend.Event, bool) {
	var typ string
	switch evt.Collection {
	case domain.CollectionMembers:
		switch evt.Kind {
		case realtime.ChildAdded:
			typ = frontend.EventMemberAdded
		case realtime.ChildChanged:
			typ = frontend.EventMemberUpdated
		default:
			return frontend.Event{}, false
		}
	case domain.CollectionLineItems:
		switch evt.Kind {
		case realtime.ChildAdded:
			typ = frontend.EventLineItemAdded
		case realtime.ChildChanged:
			typ = frontend.EventLineItemUpdated
		case realtime.ChildRemoved:
			typ = frontend.EventLineItemDeleted
		default:
			return frontend.Event{}, false
		}
	default:
		return frontend.Event{}, false
	}
	return frontend.Event{Type: typ, Payload: MergeID(evt.Value, evt.Key)}, true
}
