package wsapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/app/bridge"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
)

// FrameTypeError is the server frame sent for frames the relay cannot decode.
const FrameTypeError = "error"

// Frame is one JSON message in either direction.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errBadPayload = errors.New("invalid payload")

func parseFrame(data []byte) (bridge.Command, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return bridge.Command{}, errors.New("invalid frame")
	}
	return decodeCommand(frame)
}

// decodeCommand turns an inbound frame into a bridge command.
func decodeCommand(frame Frame) (bridge.Command, error) {
	name := strings.TrimSpace(frame.Type)
	switch {
	case name == bridge.CommandLogout:
		return bridge.Command{Name: name}, nil
	case name == bridge.CommandLogin:
		var p loginPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return bridge.Command{}, fmt.Errorf("%w: login expects {email,password}", errBadPayload)
		}
		return bridge.Command{Name: name, Email: p.Email, Password: p.Password}, nil
	case bridge.IsRecordCommand(name):
		var rec domain.Record
		if err := json.Unmarshal(frame.Payload, &rec); err != nil || rec == nil {
			return bridge.Command{}, fmt.Errorf("%w: %s expects a JSON object", errBadPayload, name)
		}
		return bridge.Command{Name: name, Record: rec}, nil
	default:
		return bridge.Command{}, fmt.Errorf("unsupported frame type %q", frame.Type)
	}
}
