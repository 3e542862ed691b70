package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/app/bridge"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/app/facade"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/metrics"
)

const maxBodyBytes = 64 * 1024

// Server implements the REST mirror of the front-end commands.
type Server struct {
	backend *facade.Backend
	log     *slog.Logger
	metrics *metrics.Relay
}

func NewServer(backend *facade.Backend, logger *slog.Logger, m *metrics.Relay) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{backend: backend, log: logger, metrics: m}
}

func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body CreateSessionRequest
	if err := decodeJSONBody(w, r, &body); err != nil {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid request body", map[string]any{"body": err.Error()})
		return
	}

	session, err := s.backend.NewAuth().SignIn(r.Context(), string(body.Email), body.Password)
	if err != nil {
		s.log.Info("login failed", "err", err)
		s.metrics.LoginFailed()
		s.metrics.CommandHandled(bridge.CommandLogin, metrics.ResultRejected)
		writeAPIError(w, r, http.StatusUnauthorized, "LOGIN_FAILED", "sign-in failed", nil)
		return
	}
	s.metrics.CommandHandled(bridge.CommandLogin, metrics.ResultOK)

	writeJSON(w, http.StatusCreated, SessionResponse{
		Token:     session.Token,
		Subject:   string(session.Subject),
		Email:     openapi_types.Email(session.Email),
		ExpiresAt: session.ExpiresAt,
	})
}

func (s *Server) ListRecords(coll domain.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.backend.Collection(coll)
		if !ok {
			writeAPIError(w, r, http.StatusNotFound, "NOT_FOUND", "unknown collection", nil)
			return
		}
		children, err := c.Ref().List(r.Context())
		if err != nil {
			requestLogger(s.log, r).Error("list records failed", "collection", coll, "err", err)
			writeFacadeError(w, r, err)
			return
		}
		out := RecordListResponse{Items: make([]domain.Record, 0, len(children))}
		for _, child := range children {
			out.Items = append(out.Items, child.Value.WithID(child.Key))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) CreateRecord(coll domain.Collection) http.HandlerFunc {
	command := commandFor(coll, "add")
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.backend.Collection(coll)
		if !ok {
			writeAPIError(w, r, http.StatusNotFound, "NOT_FOUND", "unknown collection", nil)
			return
		}
		rec, ok := s.decodeRecord(w, r)
		if !ok {
			return
		}

		key, err := c.Add(r.Context(), rec)
		if err != nil {
			s.fail(w, r, command, err)
			return
		}
		s.metrics.CommandHandled(command, metrics.ResultOK)
		writeJSON(w, http.StatusCreated, rec.WithID(key))
	}
}

// UpdateRecord overwrites the record at the path id. The path id replaces any
// id in the body.
func (s *Server) UpdateRecord(coll domain.Collection) http.HandlerFunc {
	command := commandFor(coll, "update")
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.backend.Collection(coll)
		if !ok {
			writeAPIError(w, r, http.StatusNotFound, "NOT_FOUND", "unknown collection", nil)
			return
		}
		id, ok := bindRecordID(w, r)
		if !ok {
			return
		}
		rec, ok := s.decodeRecord(w, r)
		if !ok {
			return
		}

		rec = rec.WithID(id)
		if err := c.Update(r.Context(), rec); err != nil {
			s.fail(w, r, command, err)
			return
		}
		s.metrics.CommandHandled(command, metrics.ResultOK)
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) DeleteRecord(coll domain.Collection) http.HandlerFunc {
	command := commandFor(coll, "delete")
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.backend.Collection(coll)
		if !ok {
			writeAPIError(w, r, http.StatusNotFound, "NOT_FOUND", "unknown collection", nil)
			return
		}
		id, ok := bindRecordID(w, r)
		if !ok {
			return
		}

		if err := c.Delete(r.Context(), domain.Record{domain.IDField: string(id)}); err != nil {
			s.fail(w, r, command, err)
			return
		}
		s.metrics.CommandHandled(command, metrics.ResultOK)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, command string, err error) {
	requestLogger(s.log, r).Error("command failed", "command", command, "err", err)
	s.metrics.CommandHandled(command, metrics.ResultRejected)
	writeFacadeError(w, r, err)
}

func (s *Server) decodeRecord(w http.ResponseWriter, r *http.Request) (domain.Record, bool) {
	var rec domain.Record
	if err := decodeJSONBody(w, r, &rec); err != nil {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid request body", map[string]any{"body": err.Error()})
		return nil, false
	}
	if rec == nil {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid request body", map[string]any{"body": "must be a JSON object"})
		return nil, false
	}
	return rec, true
}

func bindRecordID(w http.ResponseWriter, r *http.Request) (domain.RecordKey, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil || id == "" {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid path parameter", map[string]any{"id": "must be a non-empty string"})
		return "", false
	}
	return domain.RecordKey(id), true
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

// commandFor names REST operations after the matching front-end command, so
// both transports share metric labels.
func commandFor(coll domain.Collection, op string) string {
	switch {
	case coll == domain.CollectionMembers && op == "add":
		return bridge.CommandAddMember
	case coll == domain.CollectionMembers && op == "update":
		return bridge.CommandUpdateMember
	case coll == domain.CollectionLineItems && op == "add":
		return bridge.CommandAddLineItem
	case coll == domain.CollectionLineItems && op == "update":
		return bridge.CommandUpdateLineItem
	case coll == domain.CollectionLineItems && op == "delete":
		return bridge.CommandDeleteLineItem
	default:
		return op + ":" + string(coll)
	}
}
