package leads

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/danmuck/chatctl/internal/testutil/testlog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "leads.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	srv := httptest.NewServer(Router(NewAPI("test", store, zerolog.Nop()), zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv
}

func postLead(t *testing.T, srv *httptest.Server, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(srv.URL+"/api/leads", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func getLeads(t *testing.T, srv *httptest.Server, query string) map[string]any {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/leads" + query)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return decoded
}

func TestCreateLeadSucceeds(t *testing.T) {
	testlog.Start(t)
	srv := newTestAPI(t)

	resp, body := postLead(t, srv, submission("dana@example.com"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status: %d body: %v", resp.StatusCode, body)
	}
	if body["success"] != true {
		t.Fatalf("success flag: %v", body)
	}
	data, ok := body["data"].(map[string]any)
	if !ok || data["leadId"] == "" || data["email"] != "dana@example.com" {
		t.Fatalf("unexpected data: %v", body["data"])
	}
}

func TestCreateLeadFieldValidation(t *testing.T) {
	testlog.Start(t)
	srv := newTestAPI(t)

	resp, body := postLead(t, srv, Submission{Email: "not-an-email"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	errs, ok := body["errors"].(map[string]any)
	if !ok {
		t.Fatalf("missing field errors: %v", body)
	}
	for _, field := range []string{"name", "email", "phone"} {
		if errs[field] == nil {
			t.Fatalf("missing error for %s: %v", field, errs)
		}
	}
}

func TestCreateLeadDuplicateEmailConflicts(t *testing.T) {
	testlog.Start(t)
	srv := newTestAPI(t)

	if resp, body := postLead(t, srv, submission("dana@example.com")); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first post: %d %v", resp.StatusCode, body)
	}
	// Same address with different case is still a duplicate.
	resp, body := postLead(t, srv, submission("Dana@Example.com"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status: %d body: %v", resp.StatusCode, body)
	}
	if body["success"] != false {
		t.Fatalf("success flag: %v", body)
	}
}

func TestListLeadsPaginationEnvelope(t *testing.T) {
	testlog.Start(t)
	srv := newTestAPI(t)

	for i := 0; i < 5; i++ {
		if resp, body := postLead(t, srv, submission(fmt.Sprintf("user%d@example.com", i))); resp.StatusCode != http.StatusCreated {
			t.Fatalf("post %d: %d %v", i, resp.StatusCode, body)
		}
	}

	body := getLeads(t, srv, "?page=2&limit=2")
	if body["page"] != float64(2) || body["limit"] != float64(2) {
		t.Fatalf("page/limit: %v", body)
	}
	if body["total"] != float64(5) || body["totalPages"] != float64(3) {
		t.Fatalf("totals: %v", body)
	}
	if body["hasNext"] != true || body["hasPrev"] != true {
		t.Fatalf("has flags: %v", body)
	}
	data, ok := body["data"].([]any)
	if !ok || len(data) != 2 {
		t.Fatalf("data page: %v", body["data"])
	}

	last := getLeads(t, srv, "?page=3&limit=2")
	if last["hasNext"] != false || last["hasPrev"] != true {
		t.Fatalf("last page flags: %v", last)
	}

	empty := getLeads(t, srv, "")
	if empty["page"] != float64(1) || empty["limit"] != float64(20) {
		t.Fatalf("defaults: %v", empty)
	}
}

func TestCreateLeadMalformedBody(t *testing.T) {
	testlog.Start(t)
	srv := newTestAPI(t)

	resp, err := http.Post(srv.URL+"/api/leads", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}
