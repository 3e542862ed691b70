package bridge

import "github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"

// Inbound command names.
const (
	CommandAddMember      = "addMember"
	CommandUpdateMember   = "updateMember"
	CommandAddLineItem    = "addLineItem"
	CommandUpdateLineItem = "updateLineItem"
	CommandDeleteLineItem = "deleteLineItem"
	CommandLogin          = "login"
	CommandLogout         = "logout"
)

// Command is one front-end request. Record is set for the record commands,
// Email and Password for login.
type Command struct {
	Name     string
	Record   domain.Record
	Email    string
	Password string
}

// IsRecordCommand reports whether name mutates a collection.
func IsRecordCommand(name string) bool {
	switch name {
	case CommandAddMember, CommandUpdateMember, CommandAddLineItem, CommandUpdateLineItem, CommandDeleteLineItem:
		return true
	default:
		return false
	}
}
