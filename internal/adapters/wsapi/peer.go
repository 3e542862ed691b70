package wsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/frontend"
)

// peer writes frames to one connection. It implements frontend.Emitter.
type peer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newPeer(encoder *json.Encoder) *peer {
	return &peer{encoder: encoder}
}

func (p *peer) writeFrame(frame Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

func (p *peer) Emit(ctx context.Context, evt frontend.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame := Frame{Type: evt.Type}
	if evt.Payload != nil {
		raw, err := json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", evt.Type, err)
		}
		frame.Payload = raw
	}
	return p.writeFrame(frame)
}

func writeError(p *peer, code, message string) error {
	raw, err := json.Marshal(errorEnvelope{Error: errorBody{Code: code, Message: message}})
	if err != nil {
		return err
	}
	return p.writeFrame(Frame{Type: FrameTypeError, Payload: raw})
}
