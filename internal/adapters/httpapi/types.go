package httpapi

import (
	"time"

	"github.com/oapi-codegen/nullable"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
)

// ErrorResponse is the JSON error envelope for every non-2xx response.
type ErrorResponse struct {
	Error struct {
		Code      string                            `json:"code"`
		Message   string                            `json:"message"`
		Details   nullable.Nullable[map[string]any] `json:"details,omitempty"`
		RequestId nullable.Nullable[string]         `json:"requestId,omitempty"`
	} `json:"error"`
}

type CreateSessionRequest struct {
	Email    openapi_types.Email `json:"email"`
	Password string              `json:"password"`
}

type SessionResponse struct {
	Token     string              `json:"token"`
	Subject   string              `json:"subject"`
	Email     openapi_types.Email `json:"email"`
	ExpiresAt time.Time           `json:"expiresAt"`
}

// RecordListResponse lists records ordered by key, each with its "id".
type RecordListResponse struct {
	Items []domain.Record `json:"items"`
}
