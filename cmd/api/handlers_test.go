package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"signflow/access"
	"signflow/audit"
	"signflow/notify"
	"signflow/signing"
)

func newTestServer() *server {
	codec := access.LinkCodec{}
	notifier := notify.NotifierFunc(func(context.Context, string, string, string) error { return nil })
	dispatcher := notify.NewDispatcher(notifier, codec, "https://sign.example.com/s", zerolog.Nop())
	engine := signing.NewService(signing.NewMemoryStore(), audit.NewMemoryLog(), dispatcher)
	return &server{engine: engine, codec: codec, log: zerolog.Nop()}
}

func createTestSession(t *testing.T, srv *server) (id string, fieldIDs map[string]string) {
	t.Helper()
	body := `{
		"document_ref": "doc-1",
		"document_name": "Purchase Agreement",
		"signers": [
			{"email": "a@example.com", "name": "Alice"},
			{"email": "b@example.com", "name": "Bob"}
		],
		"fields": [
			{"kind": "signature", "label": "Alice signature", "required": true, "page": 1, "signer_email": "a@example.com"},
			{"kind": "signature", "label": "Bob signature", "required": true, "page": 1, "signer_email": "b@example.com"}
		]
	}`
	req := httptest.NewRequest(http.MethodPost, "/sessions/", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ID     string `json:"id"`
		Fields []struct {
			ID          string `json:"id"`
			SignerEmail string `json:"signer_email"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	fieldIDs = map[string]string{}
	for _, f := range resp.Fields {
		fieldIDs[f.SignerEmail] = f.ID
	}
	return resp.ID, fieldIDs
}

func signerURL(t *testing.T, codec access.Codec, sessionID, email, action string) string {
	t.Helper()
	token, err := codec.Issue(sessionID, email)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return fmt.Sprintf("/sessions/%s/%s?email=%s&token=%s", sessionID, action, email, token)
}

func TestCreateSession_BadInput(t *testing.T) {
	srv := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/sessions/", bytes.NewReader([]byte(`{"document_ref":"doc","signers":[]}`)))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty signers, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/sessions/", bytes.NewReader([]byte(`not json`)))
	rec = httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}
}

func TestSignerRoutes_RequireToken(t *testing.T) {
	srv := newTestServer()
	id, _ := createTestSession(t, srv)

	url := fmt.Sprintf("/sessions/%s/sign?email=a@example.com&token=bogus", id)
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader([]byte(`{"values":[]}`)))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}

	// A valid token for another signer must not pass.
	otherToken, _ := srv.codec.Issue(id, "b@example.com")
	url = fmt.Sprintf("/sessions/%s/sign?email=a@example.com&token=%s", id, otherToken)
	req = httptest.NewRequest(http.MethodPost, url, bytes.NewReader([]byte(`{"values":[]}`)))
	rec = httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for mismatched token, got %d", rec.Code)
	}
}

func TestSigningFlowOverHTTP(t *testing.T) {
	srv := newTestServer()
	id, fieldIDs := createTestSession(t, srv)
	routes := srv.routes()

	// View is logged without mutating status.
	req := httptest.NewRequest(http.MethodPost, signerURL(t, srv.codec, id, "a@example.com", "view"), nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("view: expected 200, got %d", rec.Code)
	}

	// Missing required field reports the missing ids.
	req = httptest.NewRequest(http.MethodPost, signerURL(t, srv.codec, id, "a@example.com", "sign"), bytes.NewReader([]byte(`{"values":[]}`)))
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var incomplete struct {
		MissingFields []string `json:"missing_fields"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &incomplete); err != nil {
		t.Fatalf("decode 422 body: %v", err)
	}
	if len(incomplete.MissingFields) != 1 || incomplete.MissingFields[0] != fieldIDs["a@example.com"] {
		t.Fatalf("unexpected missing fields: %v", incomplete.MissingFields)
	}

	signBody := func(email string) []byte {
		return []byte(fmt.Sprintf(`{"values":[{"field_id":%q,"value":"signed"}]}`, fieldIDs[email]))
	}

	req = httptest.NewRequest(http.MethodPost, signerURL(t, srv.codec, id, "a@example.com", "sign"), bytes.NewReader(signBody("a@example.com")))
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first sign: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Duplicate signing attempt maps to 409.
	req = httptest.NewRequest(http.MethodPost, signerURL(t, srv.codec, id, "a@example.com", "sign"), bytes.NewReader(signBody("a@example.com")))
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate sign: expected 409, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, signerURL(t, srv.codec, id, "b@example.com", "sign"), bytes.NewReader(signBody("b@example.com")))
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("second sign: expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil)
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	var session struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.Status != "completed" {
		t.Fatalf("expected completed, got %s", session.Status)
	}

	req = httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/events", nil)
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	var events struct {
		Events []struct {
			Type string `json:"type"`
		} `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	counts := map[string]int{}
	for _, e := range events.Events {
		counts[e.Type]++
	}
	if counts["sent"] != 2 || counts["opened"] != 1 || counts["signed"] != 2 {
		t.Fatalf("unexpected event counts: %v", counts)
	}
}

func TestDeclineOverHTTP(t *testing.T) {
	srv := newTestServer()
	id, _ := createTestSession(t, srv)
	routes := srv.routes()

	req := httptest.NewRequest(http.MethodPost, signerURL(t, srv.codec, id, "a@example.com", "decline"), bytes.NewReader([]byte(`{"reason":"wrong document"}`)))
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("decline: expected 200, got %d", rec.Code)
	}

	// Any further signing maps to 409.
	req = httptest.NewRequest(http.MethodPost, signerURL(t, srv.codec, id, "b@example.com", "sign"), bytes.NewReader([]byte(`{"values":[]}`)))
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("sign after decline: expected 409, got %d", rec.Code)
	}
}

func TestSessionNotFound(t *testing.T) {
	srv := newTestServer()
	routes := srv.routes()

	req := httptest.NewRequest(http.MethodGet, "/sessions/unknown", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/sessions/unknown/extend", bytes.NewReader([]byte(`{"additional_days":5}`)))
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("extend unknown: expected 404, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/sessions/unknown", nil)
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel unknown: expected 404, got %d", rec.Code)
	}
}
