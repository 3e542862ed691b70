package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
)

func TestCreateSession(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)

	rec := tr.do(t, http.MethodPost, "/v1/session", "", `{"email":"Treasurer@example.com","password":"ledger"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var got SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Token == "" || got.Email != testEmail || got.Subject == "" {
		t.Fatalf("session=%+v", got)
	}
	if rec := tr.do(t, http.MethodGet, "/v1/members", "Bearer "+got.Token, ""); rec.Code != http.StatusOK {
		t.Fatalf("token from /v1/session rejected: status=%d", rec.Code)
	}
}

func TestCreateSession_Failures(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	cases := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{name: "wrong password", body: `{"email":"treasurer@example.com","password":"nope"}`, wantStatus: http.StatusUnauthorized, wantCode: "LOGIN_FAILED"},
		{name: "unknown account", body: `{"email":"nobody@example.com","password":"ledger"}`, wantStatus: http.StatusUnauthorized, wantCode: "LOGIN_FAILED"},
		{name: "malformed email", body: `{"email":"not-an-email","password":"ledger"}`, wantStatus: http.StatusUnprocessableEntity, wantCode: "VALIDATION_ERROR"},
		{name: "bad json", body: `{`, wantStatus: http.StatusUnprocessableEntity, wantCode: "VALIDATION_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := tr.do(t, http.MethodPost, "/v1/session", "", tc.body)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status=%d want=%d body=%s", rec.Code, tc.wantStatus, rec.Body.String())
			}
			if er := decodeError(t, rec); er.Error.Code != tc.wantCode {
				t.Fatalf("code=%q want=%q", er.Error.Code, tc.wantCode)
			}
		})
	}
}

func TestRecords_CreateListUpdateDelete(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	authz := tr.bearer(t)

	rec := tr.do(t, http.MethodPost, "/v1/line-items", authz, `{"amount":12.5,"memo":"dues"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rec.Code, rec.Body.String())
	}
	var created domain.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id, _ := created.ID()
	if id == "" || created["memo"] != "dues" {
		t.Fatalf("created=%v", created)
	}

	stored, err := tr.store.Once(context.Background(), domain.CollectionLineItems)
	if err != nil {
		t.Fatalf("Once() err=%v", err)
	}
	if _, hasID := stored[id]["id"]; hasID || stored[id]["amount"] != 12.5 {
		t.Fatalf("stored body=%v, want the unmodified request body", stored[id])
	}

	rec = tr.do(t, http.MethodPut, "/v1/line-items/"+string(id), authz, `{"id":"ignored","amount":20}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = tr.do(t, http.MethodGet, "/v1/line-items", authz, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status=%d", rec.Code)
	}
	var list RecordListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0]["id"] != string(id) || list.Items[0]["amount"] != 20.0 {
		t.Fatalf("list=%v", list.Items)
	}
	if _, hasMemo := list.Items[0]["memo"]; hasMemo {
		t.Fatalf("update must overwrite the whole record: %v", list.Items[0])
	}

	if rec := tr.do(t, http.MethodDelete, "/v1/line-items/"+string(id), authz, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = tr.do(t, http.MethodGet, "/v1/line-items", authz, "")
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Items == nil || len(list.Items) != 0 {
		t.Fatalf("list after delete=%v, want []", list.Items)
	}
}

func TestRecords_MembersCannotBeDeleted(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	rec := tr.do(t, http.MethodDelete, "/v1/members/abc", tr.bearer(t), "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want 405", rec.Code)
	}
	if er := decodeError(t, rec); er.Error.Code != "METHOD_NOT_ALLOWED" {
		t.Fatalf("code=%q", er.Error.Code)
	}
}

func TestRecords_InvalidBodies_422(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	authz := tr.bearer(t)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/v1/members", `{`},
		{http.MethodPost, "/v1/members", `null`},
		{http.MethodPost, "/v1/members", `["a"]`},
		{http.MethodPost, "/v1/members", `{"a":1}{"b":2}`},
		{http.MethodPut, "/v1/members/abc", `"text"`},
	} {
		rec := tr.do(t, tc.method, tc.path, authz, tc.body)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s %s %q: status=%d body=%s", tc.method, tc.path, tc.body, rec.Code, rec.Body.String())
		}
		if er := decodeError(t, rec); er.Error.Code != "VALIDATION_ERROR" {
			t.Fatalf("code=%q", er.Error.Code)
		}
	}

	all, err := tr.store.Once(context.Background(), domain.CollectionMembers)
	if err != nil {
		t.Fatalf("Once() err=%v", err)
	}
	if len(all) != 0 {
		t.Fatalf("invalid requests reached the store: %v", all)
	}
}

func TestCommandFor(t *testing.T) {
	t.Parallel()

	if got := commandFor(domain.CollectionLineItems, "update"); got != "updateLineItem" {
		t.Fatalf("commandFor()=%q", got)
	}
	if got := commandFor(domain.CollectionMembers, "delete"); got != "delete:members" {
		t.Fatalf("commandFor()=%q", got)
	}
}
