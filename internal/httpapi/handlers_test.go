package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"qonaq.org/internal/auth"
	"qonaq.org/internal/kv"
	"qonaq.org/internal/session"
	"qonaq.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("QONAQ_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	store := kv.NewMemory()
	svc := session.New(store)
	api := New(ReadyProbe{Store: store}, "test", svc, stream.New(), AdminGate{User: "admin", Password: "123456"})
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) adminToken() string {
	c.t.Helper()
	resp := c.post("/v1/admin/login", map[string]any{
		"username": "admin",
		"password": "123456",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("admin login failed: %d", resp.StatusCode)
	}
	payload := decode[adminLoginResponse](c.t, resp)
	if payload.Token == "" {
		c.t.Fatal("empty token issued")
	}
	return payload.Token
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (c *apiClient) startSession(user, app, typ string) string {
	c.t.Helper()
	resp := c.post("/v1/sessions/start", map[string]any{
		"username": user,
		"app":      app,
		"type":     typ,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("start session: unexpected status %d", resp.StatusCode)
	}
	payload := decode[map[string]any](c.t, resp)
	id, _ := payload["session_id"].(string)
	if id == "" {
		c.t.Fatalf("missing session_id in %v", payload)
	}
	return id
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestSessionLifecycleFlow(t *testing.T) {
	api := newTestAPI(t)

	// Start a session for alice.
	resp := api.post("/v1/sessions/start", map[string]any{
		"username": "alice",
		"app":      "crm",
		"type":     "web",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	started := decode[startSessionResponse](t, resp)
	if started.SessionID == "" || started.Session.Status != session.StatusActive {
		t.Fatalf("unexpected start response: %+v", started)
	}
	if len(started.History) != 1 {
		t.Fatalf("expected single history entry, got %+v", started.History)
	}

	// Confirm with email and department.
	resp = api.post("/v1/sessions/confirm", map[string]any{
		"session_id": started.SessionID,
		"email":      "a@x.com",
		"department": "sales",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm: unexpected status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Status shows the session as active with stored fields.
	resp = api.get("/v1/status/user", url.Values{"username": []string{"alice"}}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: unexpected status %d", resp.StatusCode)
	}
	status := decode[session.UserStatus](t, resp)
	if len(status.Active) != 1 || status.Active[0] != started.SessionID {
		t.Fatalf("session missing from active list: %+v", status)
	}
	if status.History[0].Email != "a@x.com" {
		t.Fatalf("confirmation not visible in status: %+v", status.History[0])
	}

	// Logout empties the active list and flips the status.
	resp = api.post("/v1/sessions/logout", map[string]any{
		"username":   "alice",
		"session_id": started.SessionID,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: unexpected status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/v1/status/user", url.Values{"username": []string{"alice"}}, nil)
	status = decode[session.UserStatus](t, resp)
	if len(status.Active) != 0 {
		t.Fatalf("active list not empty after logout: %+v", status.Active)
	}
	if status.History[0].Status != session.StatusLoggedOut {
		t.Fatalf("status not logged_out: %+v", status.History[0])
	}
}

func TestLogoutUnknownSession(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/sessions/logout", map[string]any{
		"username":   "alice",
		"session_id": "no-such-id",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["error"] != "session not found" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestConfirmUnknownSession(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/sessions/confirm", map[string]any{
		"session_id": "ghost",
		"email":      "a@x.com",
		"department": "sales",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestStartValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/sessions/start", map[string]any{
		"username": "",
		"app":      "crm",
		"type":     "web",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAdminLoginGate(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/admin/login", map[string]any{
		"username": "admin",
		"password": "wrong",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for bad credentials, got %d", resp.StatusCode)
	}

	token := api.adminToken()
	if token == "" {
		t.Fatal("expected token for valid credentials")
	}
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/v1/admin/users", "/v1/admin/logs", "/v1/admin/cache"} {
		resp := api.get(path, nil, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %d", path, resp.StatusCode)
		}
	}
}

func TestAdminUsersReport(t *testing.T) {
	api := newTestAPI(t)
	token := api.adminToken()
	authHeader := map[string]string{"Authorization": "Bearer " + token}

	bobID := api.startSession("bob", "erp", "api")
	api.startSession("alice", "crm", "web")

	resp := api.get("/v1/admin/users", nil, authHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	report := decode[struct {
		Users []session.UserSessions `json:"users"`
	}](t, resp)
	if len(report.Users) != 2 || report.Users[0].User != "alice" || report.Users[1].User != "bob" {
		t.Fatalf("unexpected report: %+v", report.Users)
	}
	if report.Users[0].Sessions[0].ExpiresAt == "" {
		t.Fatal("expected expiry estimate on admin report")
	}

	// Log bob out; active-only view must omit him entirely.
	resp = api.post("/v1/sessions/logout", map[string]any{
		"username":   "bob",
		"session_id": bobID,
	}, nil)
	resp.Body.Close()

	resp = api.get("/v1/admin/users", url.Values{"active": []string{"1"}}, authHeader)
	report = decode[struct {
		Users []session.UserSessions `json:"users"`
	}](t, resp)
	if len(report.Users) != 1 || report.Users[0].User != "alice" {
		t.Fatalf("active-only report wrong: %+v", report.Users)
	}
}

func TestAdminLogsAndCache(t *testing.T) {
	api := newTestAPI(t)
	token := api.adminToken()
	authHeader := map[string]string{"Authorization": "Bearer " + token}

	id := api.startSession("alice", "crm", "web")
	resp := api.post("/v1/sessions/confirm", map[string]any{
		"session_id": id,
		"email":      "a@x.com",
		"department": "sales",
	}, nil)
	resp.Body.Close()

	resp = api.get("/v1/admin/logs", nil, authHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logs: unexpected status %d", resp.StatusCode)
	}
	logs := decode[struct {
		Count int      `json:"count"`
		Logs  []string `json:"logs"`
	}](t, resp)
	if logs.Count != 1 || len(logs.Logs) != 1 {
		t.Fatalf("unexpected logs payload: %+v", logs)
	}

	resp = api.get("/v1/admin/cache", nil, authHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cache: unexpected status %d", resp.StatusCode)
	}
	cache := decode[struct {
		Count   int               `json:"count"`
		Entries map[string]string `json:"entries"`
	}](t, resp)
	if cache.Count != 1 {
		t.Fatalf("unexpected cache payload: %+v", cache)
	}
	if _, ok := cache.Entries["cache:session:"+id]; !ok {
		t.Fatalf("cache entry for %s missing: %+v", id, cache.Entries)
	}
}

func TestReadyz(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/readyz", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready, got %d", resp.StatusCode)
	}
}
