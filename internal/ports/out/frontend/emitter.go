package frontend

import "context"

// Event types delivered to the front-end.
const (
	EventAuth               = "auth"
	EventLoginFailed        = "loginFailed"
	EventMemberAdded        = "memberAdded"
	EventMemberUpdated      = "memberUpdated"
	EventLineItemAdded      = "lineItemAdded"
	EventLineItemUpdated    = "lineItemUpdated"
	EventLineItemDeleted    = "lineItemDeleted"
	EventMembersRetrieved   = "membersRetrieved"
	EventLineItemsRetrieved = "lineItemsRetrieved"
)

// Event is one notification for the front-end.
// Payload must be JSON-encodable; it is nil for loginFailed.
type Event struct {
	Type    string
	Payload any
}

// Emitter delivers events to a single front-end session.
type Emitter interface {
	Emit(ctx context.Context, evt Event) error
}
