package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"legalflow/internal/search"
	"legalflow/internal/workflow"
)

func doRequest(t *testing.T, h http.Handler, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(actorHeader, actor)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPServer(f.svc, "*", 0, 0).Handler()

	rr := doRequest(t, h, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS header")
	}
}

func TestReadyEndpointReportsDatabase(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPServer(f.svc, "", 0, 0).Handler()

	rr := doRequest(t, h, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	f.store.pingErr = errors.New("connection refused")
	rr = doRequest(t, h, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := decodeJSON(t, rr)["status"]; got != "not_ready" {
		t.Fatalf("status = %v", got)
	}
}

func TestPreflightIsAnsweredWithoutActor(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPServer(f.svc, "https://app.test", 0, 0).Handler()
	rr := doRequest(t, h, http.MethodOptions, "/api/documents", "", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestActorHeaderIsRequired(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPServer(f.svc, "", 0, 0).Handler()

	cases := []struct {
		name  string
		actor string
		code  int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"unknown user", "0000", http.StatusForbidden},
		{"known user", nikRequester, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, h, http.MethodGet, "/api/inbox", tc.actor, nil)
			if rr.Code != tc.code {
				t.Fatalf("expected %d, got %d: %s", tc.code, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestDocumentRoutes(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPServer(f.svc, "", 0, 0).Handler()

	rr := doRequest(t, h, http.MethodPost, "/api/documents", nikRequester, map[string]any{"title": "Vendor MSA"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	docID, _ := decodeJSON(t, rr)["id"].(string)
	if docID == "" {
		t.Fatalf("create returned no id")
	}

	rr = doRequest(t, h, http.MethodPost, "/api/documents/"+docID+"/submit", nikRequester, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, h, http.MethodGet, "/api/documents/"+docID+"/approvers", nikRequester, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("approvers: expected 200, got %d", rr.Code)
	}
	if niks := decodeJSON(t, rr)["approverNiks"].([]any); len(niks) != 1 || niks[0] != nikSupervisor {
		t.Fatalf("approvers = %v", niks)
	}

	rr = doRequest(t, h, http.MethodPost, "/api/documents/"+docID+"/decide", nikOutsider, map[string]any{"decisionId": "d1", "decision": "approve"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("outsider decide: expected 403, got %d", rr.Code)
	}
	if code := decodeJSON(t, rr)["code"]; code != "NOT_AUTHORIZED" {
		t.Fatalf("code = %v", code)
	}

	rr = doRequest(t, h, http.MethodPost, "/api/documents/"+docID+"/decide", nikSupervisor, map[string]any{"decisionId": "d2", "decision": "approve"})
	if rr.Code != http.StatusOK {
		t.Fatalf("decide: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if status := decodeJSON(t, rr)["ownerStatus"]; status != string(workflow.StatusPendingGM) {
		t.Fatalf("ownerStatus = %v", status)
	}

	rr = doRequest(t, h, http.MethodPost, "/api/documents/"+docID+"/withdraw", nikRequester, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("withdraw: expected 409, got %d", rr.Code)
	}

	rr = doRequest(t, h, http.MethodGet, "/api/documents/"+docID+"/history", nikRequester, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", rr.Code)
	}
	if items := decodeJSON(t, rr)["items"].([]any); len(items) != 2 {
		t.Fatalf("history items = %d, want 2", len(items))
	}

	rr = doRequest(t, h, http.MethodGet, "/api/documents/"+docID+"/can-act", nikGM, nil)
	if rr.Code != http.StatusOK || decodeJSON(t, rr)["canAct"] != true {
		t.Fatalf("can-act: %d %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, h, http.MethodGet, "/api/documents/doc_missing", nikRequester, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing document: expected 404, got %d", rr.Code)
	}
}

func TestDecideRejectsMalformedBody(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPServer(f.svc, "", 0, 0).Handler()
	doc := f.submittedDocument(t)

	req := httptest.NewRequest(http.MethodPost, "/api/documents/"+doc.ID+"/decide", strings.NewReader("{"))
	req.Header.Set(actorHeader, nikSupervisor)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	rr = doRequest(t, h, http.MethodPost, "/api/documents/"+doc.ID+"/decide", nikSupervisor, map[string]any{"decision": "APPROVE"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing decision id: expected 422, got %d", rr.Code)
	}
}

func TestMultipartCommentUpload(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPServer(f.svc, "", 0, 0).Handler()
	doc := f.documentInDiscussion(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("body", "Redline attached."); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := mw.CreateFormFile("attachments", "redline.docx")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fmt.Fprint(part, "redline")
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/documents/"+doc.ID+"/comments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(actorHeader, nikRequester)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if n := len(decodeJSON(t, rr)["attachments"].([]any)); n != 1 {
		t.Fatalf("attachments = %d, want 1", n)
	}

	rr = doRequest(t, h, http.MethodGet, "/api/documents/"+doc.ID+"/comments", nikRequester, nil)
	items := decodeJSON(t, rr)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("comments = %d, want 1", len(items))
	}
	if urls := items[0].(map[string]any)["attachmentUrls"].([]any); len(urls) != 1 {
		t.Fatalf("attachment urls = %v", urls)
	}
}

func TestSearchRouteValidatesQuery(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPServer(f.svc, "", 0, 0).Handler()

	if rr := doRequest(t, h, http.MethodGet, "/api/search", nikRequester, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty query: expected 400, got %d", rr.Code)
	}
	if rr := doRequest(t, h, http.MethodGet, "/api/search?q=msa&limit=-1", nikRequester, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("negative limit: expected 400, got %d", rr.Code)
	}
	rr := doRequest(t, h, http.MethodGet, "/api/search?q=msa&limit=5&type=document", nikRequester, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("search: expected 200, got %d", rr.Code)
	}
	if f.search.lastQuery.Limit != 5 || f.search.lastQuery.FilterType != search.ResultDocument {
		t.Fatalf("query = %+v", f.search.lastQuery)
	}

	rr = doRequest(t, h, http.MethodGet, "/api/search?q=indemnity&type=Comment&documentId=doc_1", nikRequester, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("comment search: expected 200, got %d", rr.Code)
	}
	if f.search.lastQuery.FilterType != search.ResultComment || f.search.lastQuery.FilterDocumentID != "doc_1" {
		t.Fatalf("query = %+v", f.search.lastQuery)
	}
	if rr := doRequest(t, h, http.MethodGet, "/api/search?q=msa&type=agreement", nikRequester, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown type: expected 400, got %d", rr.Code)
	}
}

func TestRateLimitPerActor(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPServer(f.svc, "", 1, 2).Handler()

	for i := 0; i < 2; i++ {
		if rr := doRequest(t, h, http.MethodGet, "/api/inbox", nikRequester, nil); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr := doRequest(t, h, http.MethodGet, "/api/inbox", nikRequester, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	// Another caller has its own bucket.
	if rr := doRequest(t, h, http.MethodGet, "/api/inbox", nikSupervisor, nil); rr.Code != http.StatusOK {
		t.Fatalf("other actor: expected 200, got %d", rr.Code)
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err  error
		code int
		name string
	}{
		{workflow.InvalidState(workflow.StatusDraft, "nope"), http.StatusConflict, "INVALID_STATE"},
		{workflow.NotAuthorized("nope"), http.StatusForbidden, "NOT_AUTHORIZED"},
		{workflow.AlreadyDecided("apr_1", workflow.ApprovalApproved), http.StatusConflict, "ALREADY_DECIDED"},
		{workflow.NoApproverResolved(workflow.ApprovalSupervisor, "IT", nil), http.StatusUnprocessableEntity, "NO_APPROVER_RESOLVED"},
		{workflow.GateNotSatisfied("finance"), http.StatusConflict, "GATE_NOT_SATISFIED"},
		{workflow.DuplicateAgreement("doc_1", "agr_1"), http.StatusConflict, "DUPLICATE_AGREEMENT"},
		{workflow.Validation("bad"), http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{workflow.NotFound("document", "doc_1"), http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("wrapped: %w", workflow.NotAuthorized("x")), http.StatusForbidden, "NOT_AUTHORIZED"},
		{domainError(http.StatusTeapot, "TEAPOT", "short and stout", nil), http.StatusTeapot, "TEAPOT"},
		{errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tc := range cases {
		status, code, _, _ := mapError(tc.err)
		if status != tc.code || code != tc.name {
			t.Fatalf("mapError(%v) = %d %s, want %d %s", tc.err, status, code, tc.code, tc.name)
		}
	}
}
