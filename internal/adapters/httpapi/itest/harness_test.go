package itest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/httpapi"
	memaccountrepo "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/memory/accountrepo"
	memclock "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/memory/clock"
	memrealtime "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/memory/realtime"
	pgaccountrepo "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/postgres/accountrepo"
	pgrealtime "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/postgres/realtime"
	postgres_testutil "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/postgres/testutil"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/sqlite"
	sqliteaccountrepo "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/sqlite/accountrepo"
	sqliterealtime "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/sqlite/realtime"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/wsapi"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/app/facade"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/auth/sessiontoken"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/config"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/logging"
	accountrepoport "github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/accountrepo"
	realtimeport "github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/realtime"
)

type backend string

const (
	backendMemory   backend = "memory"
	backendSQLite   backend = "sqlite"
	backendPostgres backend = "postgres"
)

const (
	itestEmail    = "treasurer@example.com"
	itestPassword = "ledger"
)

func backendsFromEnv(t *testing.T) []backend {
	t.Helper()
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ITEST_BACKEND"))) {
	case "", "memory":
		return []backend{backendMemory}
	case "sqlite":
		return []backend{backendSQLite}
	case "postgres":
		return []backend{backendPostgres}
	case "all":
		return []backend{backendMemory, backendSQLite, backendPostgres}
	default:
		t.Fatalf("unknown ITEST_BACKEND value (expected memory|sqlite|postgres|all)")
		return nil
	}
}

type testServer struct {
	baseURL string
	client  *http.Client
}

func newTestServer(t *testing.T, b backend) *testServer {
	t.Helper()

	clk := memclock.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	logger := logging.Discard()

	var (
		store    realtimeport.Store
		accounts accountrepoport.Repository
	)

	switch b {
	case backendPostgres:
		pool := postgres_testutil.OpenMigratedPool(t)
		pgStore, err := pgrealtime.NewStore(context.Background(), pool, logger)
		if err != nil {
			t.Fatalf("pgrealtime.NewStore() err=%v", err)
		}
		t.Cleanup(pgStore.Close)
		store = pgStore
		accounts = pgaccountrepo.NewRepo(pool)
	case backendSQLite:
		db, err := sqlite.Open(filepath.Join(t.TempDir(), "itest.db"))
		if err != nil {
			t.Fatalf("sqlite.Open() err=%v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		store = sqliterealtime.NewStore(db)
		accounts = sqliteaccountrepo.NewRepo(db)
	case backendMemory:
		store = memrealtime.NewStore()
		accounts = memaccountrepo.NewRepo()
	default:
		t.Fatalf("unknown backend: %s", b)
	}

	// Session tokens use the real clock; the manual clock only stamps accounts.
	tokens := sessiontoken.New(config.SessionConfig{
		Secret:    []byte(strings.Repeat("i", 32)),
		Issuer:    "itest-issuer",
		TTL:       time.Hour,
		ClockSkew: time.Minute,
	})
	be := facade.New(store, accounts, tokens, clk)
	if _, err := be.CreateAccount(context.Background(), itestEmail, itestPassword); err != nil {
		t.Fatalf("CreateAccount() err=%v", err)
	}

	api := httpapi.NewServer(be, logger, nil)
	handler := httpapi.NewRouterWithOptions(api, httpapi.RouterOptions{
		AuthMiddleware: httpapi.NewAuthMiddleware(tokens),
		WebSocket:      wsapi.NewHandler(wsapi.Options{Backend: be, Logger: logger}),
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{
		baseURL: srv.URL,
		client:  srv.Client(),
	}
}

func (s *testServer) url(path string) string {
	if strings.HasPrefix(path, "/") {
		return s.baseURL + path
	}
	return s.baseURL + "/" + path
}

func (s *testServer) doJSON(t *testing.T, method string, path string, token string, body any) (int, []byte, http.Header) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.url(path), r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, resp.Header
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()
	status, body, _ := s.doJSON(t, http.MethodPost, "/v1/session", "", map[string]any{
		"email":    itestEmail,
		"password": itestPassword,
	})
	if status != http.StatusCreated {
		t.Fatalf("login status=%d body=%s", status, string(body))
	}
	got := mustUnmarshal[struct {
		Token string `json:"token"`
	}](t, body)
	if got.Token == "" {
		t.Fatalf("empty token; body=%s", string(body))
	}
	return got.Token
}

type errorResponse struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestId string `json:"requestId"`
	} `json:"error"`
}

func mustUnmarshal[T any](t *testing.T, b []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v\nbody=%s", err, string(b))
	}
	return out
}

func requireErrorCode(t *testing.T, status int, body []byte, wantStatus int, wantCode string) {
	t.Helper()
	if status != wantStatus {
		t.Fatalf("status=%d want=%d body=%s", status, wantStatus, string(body))
	}
	got := mustUnmarshal[errorResponse](t, body)
	if got.Error.Code != wantCode {
		t.Fatalf("error.code=%q want=%q body=%s", got.Error.Code, wantCode, string(body))
	}
	if got.Error.RequestId == "" {
		t.Fatalf("expected error.requestId; body=%s", string(body))
	}
}

func requireHeaderPresent(t *testing.T, h http.Header, key string) {
	t.Helper()
	if strings.TrimSpace(h.Get(key)) == "" {
		t.Fatalf("expected header %q to be present", key)
	}
}
