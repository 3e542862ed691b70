package wsapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/net/websocket"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/app/bridge"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/app/facade"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/metrics"
)

const (
	maxFramePayloadBytes   = 64 * 1024
	maxDecodeErrorsPerConn = 5
)

type Options struct {
	Backend *facade.Backend
	Logger  *slog.Logger
	Metrics *metrics.Relay
}

// Handler serves one front-end session per WebSocket connection.
type Handler struct {
	backend *facade.Backend
	log     *slog.Logger
	metrics *metrics.Relay
	ws      websocket.Handler
}

func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{backend: opts.Backend, log: logger, metrics: opts.Metrics}
	h.ws = websocket.Handler(h.serveConn)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.ws.ServeHTTP(w, r)
}

func (h *Handler) serveConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()
	conn.MaxPayloadBytes = maxFramePayloadBytes

	req := conn.Request()
	ctx, cancel := context.WithCancel(req.Context())
	logger := h.log.With("remote", req.RemoteAddr)

	// Unblock the read loop when the server shuts down.
	stopClose := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stopClose()

	h.metrics.SessionOpened()
	defer h.metrics.SessionClosed()

	p := newPeer(json.NewEncoder(conn))
	auth := h.backend.NewAuth()
	if token := tokenFromRequest(req); token != "" {
		if _, err := auth.Resume(ctx, token); err != nil {
			logger.Info("session resume failed", "err", err)
		}
	}

	b := bridge.New(h.backend, auth, p, bridge.Options{Logger: logger, Metrics: h.metrics})
	b.Run(ctx)
	defer func() {
		cancel()
		b.Wait()
	}()

	decodeErrors := 0
	for {
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			if !errors.Is(err, websocket.ErrFrameTooLarge) {
				if !errors.Is(err, io.EOF) {
					logger.Debug("websocket read ended", "err", err)
				}
				return
			}
			decodeErrors++
			_ = writeError(p, "INVALID_ARGUMENT", "frame too large")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}

		cmd, err := parseFrame(data)
		if err != nil {
			decodeErrors++
			_ = writeError(p, "INVALID_ARGUMENT", err.Error())
			if decodeErrors >= maxDecodeErrorsPerConn {
				logger.Warn("closing connection after repeated invalid frames")
				return
			}
			continue
		}
		decodeErrors = 0

		b.Handle(ctx, cmd)
	}
}

// tokenFromRequest reads a session token from the Authorization header or
// the token query parameter.
func tokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		const prefix = "bearer "
		if len(authz) > len(prefix) && strings.EqualFold(authz[:len(prefix)], prefix) {
			return strings.TrimSpace(authz[len(prefix):])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
