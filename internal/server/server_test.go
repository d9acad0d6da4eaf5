package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"opsboard/internal/config"
	"opsboard/internal/db"
	"opsboard/internal/domain"
	"opsboard/internal/engine"
	"opsboard/internal/expand"
	"opsboard/internal/migrate"
	"opsboard/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestEngine(t *testing.T, cfg *config.Config) engine.Engine {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg).WithClock(func() time.Time { return time.Date(2024, 2, 10, 10, 0, 0, 0, time.UTC) })
	ctx := context.Background()
	if _, err := e.InitBoard(ctx, "boss", "Boss"); err != nil {
		t.Fatalf("init board: %v", err)
	}
	for _, o := range []engine.OwnerCreateOptions{
		{ID: "ana", Name: "Ana", Role: "operator"},
		{ID: "ben", Name: "Ben", Role: "operator"},
	} {
		o.ActorID = "boss"
		if _, err := e.CreateOwner(ctx, o); err != nil {
			t.Fatalf("create owner %s: %v", o.ID, err)
		}
	}
	return e
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	return newTestServerWithAuth(t, AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true, AllowDevLogin: true})
}

func newTestServerWithAuth(t *testing.T, authCfg AuthConfig) (*testServer, func()) {
	t.Helper()
	e := newTestEngine(t, config.Default("shop"))
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: authCfg})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func createCriticalTemplate(t *testing.T, srv *testServer) domain.TaskTemplate {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/templates", map[string]any{
		"title":              "Open register",
		"owner_id":           "ana",
		"time_of_day":        "09:00",
		"weekdays":           []string{"WEEKDAYS"},
		"is_critical":        true,
		"points_on_complete": 10,
		"points_on_skip":     -5,
	}, as("boss"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create template status %d: %s", res.StatusCode, string(data))
	}
	var tpl domain.TaskTemplate
	if err := json.Unmarshal(data, &tpl); err != nil {
		t.Fatalf("unmarshal template: %v", err)
	}
	if !tpl.EvidenceRequired {
		t.Fatalf("critical template should require evidence by default")
	}
	return tpl
}

func TestFebruaryFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	tpl := createCriticalTemplate(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/months/2024-02/apply", nil, as("boss"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("apply status %d: %s", res.StatusCode, string(data))
	}
	var applied ApplyMonthResponse
	if err := json.Unmarshal(data, &applied); err != nil {
		t.Fatalf("unmarshal apply: %v", err)
	}
	if applied.Created != 21 || applied.Skipped != 0 {
		t.Fatalf("unexpected apply result: %+v", applied)
	}

	// Applying again creates nothing.
	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/months/2024-02/apply", nil, as("boss"))
	if err := json.Unmarshal(data, &applied); err != nil {
		t.Fatalf("unmarshal apply: %v", err)
	}
	if applied.Created != 0 || applied.Skipped != 21 {
		t.Fatalf("second apply should be a no-op: %+v", applied)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/instances?month=2024-02&owner_id=ana", nil, as("ana"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var page engine.InstancePage
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 21 {
		t.Fatalf("expected 21 instances, got %d", len(page.Items))
	}

	monday := expand.InstanceID(tpl.ID, "2024-02-05")
	tuesday := expand.InstanceID(tpl.ID, "2024-02-06")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/instances/"+monday+"/complete", map[string]any{"evidence": []string{"till.jpg"}}, as("ana"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	var done engine.TransitionResult
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatalf("unmarshal transition: %v", err)
	}
	if done.Instance.Status != domain.StatusDone || done.Entry.Amount != 10 {
		t.Fatalf("unexpected completion: %+v", done)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/instances/"+monday+"/skip", map[string]any{"reason": "late"}, as("ana"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "invalid_transition" {
		t.Fatalf("expected 409 invalid_transition, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/instances/"+tuesday+"/skip", map[string]any{"reason": "sick"}, as("ana"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("skip status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/points/total?month=2024-02", nil, as("ana"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("total status %d: %s", res.StatusCode, string(data))
	}
	var total TotalResponse
	if err := json.Unmarshal(data, &total); err != nil {
		t.Fatalf("unmarshal total: %v", err)
	}
	if total.OwnerID != "ana" || total.Total != 5 {
		t.Fatalf("unexpected total: %+v", total)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/points/ranking?month=2024-02", nil, as("boss"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ranking status %d: %s", res.StatusCode, string(data))
	}
	var ranking RankingResponse
	if err := json.Unmarshal(data, &ranking); err != nil {
		t.Fatalf("unmarshal ranking: %v", err)
	}
	if len(ranking.Items) != 1 || ranking.Items[0].OwnerID != "ana" || ranking.Items[0].Total != 5 {
		t.Fatalf("unexpected ranking: %+v", ranking.Items)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	tpl := createCriticalTemplate(t, srv)
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/months/2024-02/apply", nil, as("boss")); res.StatusCode != http.StatusOK {
		t.Fatalf("apply status %d: %s", res.StatusCode, string(data))
	}
	monday := expand.InstanceID(tpl.ID, "2024-02-05")

	cases := []struct {
		name    string
		method  string
		path    string
		body    any
		headers map[string]string
		status  int
		code    string
	}{
		{name: "unauthenticated", method: http.MethodGet, path: "/v0/instances", status: http.StatusUnauthorized, code: "unauthorized"},
		{name: "operator cannot apply", method: http.MethodPost, path: "/v0/months/2024-03/apply", headers: as("ana"), status: http.StatusForbidden, code: "forbidden"},
		{name: "bad month", method: http.MethodPost, path: "/v0/months/2024-13/apply", headers: as("boss"), status: http.StatusBadRequest, code: "invalid_month"},
		{name: "missing instance", method: http.MethodGet, path: "/v0/instances/nope", headers: as("boss"), status: http.StatusNotFound, code: "not_found"},
		{name: "evidence required", method: http.MethodPost, path: "/v0/instances/" + monday + "/complete", body: map[string]any{}, headers: as("ana"), status: http.StatusUnprocessableEntity, code: "evidence_required"},
		{name: "skip reason required", method: http.MethodPost, path: "/v0/instances/" + monday + "/skip", body: map[string]any{"reason": "  "}, headers: as("ana"), status: http.StatusUnprocessableEntity, code: "skip_reason_required"},
		{name: "other operator", method: http.MethodPost, path: "/v0/instances/" + monday + "/complete", body: map[string]any{"evidence": []string{"x"}}, headers: as("ben"), status: http.StatusForbidden, code: "not_task_owner"},
		{name: "bad template time", method: http.MethodPost, path: "/v0/templates", body: map[string]any{"title": "x", "owner_id": "ana", "weekdays": []string{"MON"}, "time_of_day": "25:00"}, headers: as("boss"), status: http.StatusBadRequest, code: "bad_request"},
		{name: "bad range", method: http.MethodGet, path: "/v0/points/ranking?from=2024-03-01&to=2024-02-01", headers: as("boss"), status: http.StatusBadRequest, code: "invalid_date"},
		{name: "duplicate owner", method: http.MethodPost, path: "/v0/owners", body: map[string]any{"id": "ana", "name": "Ana again"}, headers: as("boss"), status: http.StatusConflict, code: "already_exists"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, client, tc.method, srv.URL+tc.path, tc.body, tc.headers)
			if res.StatusCode != tc.status {
				t.Fatalf("status %d, want %d: %s", res.StatusCode, tc.status, string(data))
			}
			if code := errorCode(t, data); code != tc.code {
				t.Fatalf("code %q, want %q", code, tc.code)
			}
		})
	}
}

func TestVisibilityHidesOtherOwnersChannelTasks(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	createCriticalTemplate(t, srv)
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/channels", map[string]any{"id": "web", "name": "Web shop"}, as("boss")); res.StatusCode != http.StatusCreated {
		t.Fatalf("create channel status %d: %s", res.StatusCode, string(data))
	}
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/templates", map[string]any{
		"title":      "Answer web orders",
		"owner_id":   "ana",
		"channel_id": "web",
		"weekdays":   []string{"MON"},
	}, as("boss")); res.StatusCode != http.StatusCreated {
		t.Fatalf("create channel template status %d: %s", res.StatusCode, string(data))
	}
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/months/2024-02/apply", nil, as("boss"))

	count := func(actor string) int {
		res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/instances?month=2024-02", nil, as(actor))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("list status %d: %s", res.StatusCode, string(data))
		}
		var page engine.InstancePage
		if err := json.Unmarshal(data, &page); err != nil {
			t.Fatalf("unmarshal page: %v", err)
		}
		return len(page.Items)
	}
	// 21 weekday tasks without a channel plus 4 Monday web tasks.
	if n := count("ana"); n != 25 {
		t.Fatalf("ana should see 25 tasks, got %d", n)
	}
	if n := count("ben"); n != 21 {
		t.Fatalf("ben should only see the channel-less tasks, got %d", n)
	}
	if n := count("boss"); n != 25 {
		t.Fatalf("boss should see everything, got %d", n)
	}
}

func TestBearerAndAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"owner_id": "ana"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("dev login response: %s %v", string(data), err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.OwnerID != "ana" || me.Role != "operator" || me.Elevated || me.Source != "jwt" {
		t.Fatalf("unexpected principal: %+v", me)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token should be 401, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"owner_id": "ghost"}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown owner login should be 401, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{"owner_id": "ben", "name": "till"}, as("boss"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil || key.Key == "" {
		t.Fatalf("key response: %s %v", string(data), err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via key status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &me); err != nil || me.OwnerID != "ben" || me.Source != "api_key" {
		t.Fatalf("unexpected key principal: %+v %v", me, err)
	}
}

func TestDevLoginDisabledByDefault(t *testing.T) {
	srv, cleanup := newTestServerWithAuth(t, AuthConfig{JWTSecret: testSecret})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"owner_id": "boss"}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dev login without the flag should be 401, got %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/months/2024-03/apply", nil, as("boss"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("actor header without the flag should be 401, got %d", res.StatusCode)
	}

	token, err := signDevToken(testSecret, "boss", time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"owner_id": "boss"}, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("dev login route should not exist, got %d", res.StatusCode)
	}
	spec, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if spec.StatusCode != http.StatusOK || bytes.Contains(data, []byte("/auth/dev/login")) {
		t.Fatalf("openapi should not list dev login: %d", spec.StatusCode)
	}
}

func TestAPIKeyListAndRevoke(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{"owner_id": "ben", "name": "till"}, as("boss"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/api-keys?owner_id=ben", nil, as("boss"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list keys status %d: %s", res.StatusCode, string(data))
	}
	var list APIKeyList
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != key.ID || list.Items[0].Name != "till" {
		t.Fatalf("unexpected keys: %+v", list.Items)
	}
	if bytes.Contains(data, []byte("key_hash")) || bytes.Contains(data, []byte(key.Key)) {
		t.Fatalf("list must not leak key material: %s", string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/api-keys", nil, as("ana"))
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("operators cannot list keys, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/api-keys/"+key.ID, nil, as("boss"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key should be 401, got %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/api-keys/"+key.ID, nil, as("boss"))
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("second revoke should be 404, got %d", res.StatusCode)
	}

	events, err := srv.Engine.ListEvents(context.Background(), repo.EventFilters{Type: "apikey.revoked", Limit: 5}, "boss")
	if err != nil || len(events) != 1 || events[0].EntityID != key.ID {
		t.Fatalf("revoke event missing: %+v %v", events, err)
	}
}

func TestMonthSummary(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	createCriticalTemplate(t, srv)

	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/months/2024-02/apply", nil, as("boss")); res.StatusCode != http.StatusOK {
		t.Fatalf("apply status %d: %s", res.StatusCode, string(data))
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/months/2024-02/summary", nil, as("boss"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("summary status %d: %s", res.StatusCode, string(data))
	}
	var summary MonthSummaryResponse
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.Counts[domain.StatusPending] != 21 || summary.Counts[domain.StatusDone] != 0 {
		t.Fatalf("unexpected counts: %+v", summary.Counts)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/months/2024-13/summary", nil, as("boss"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad month should be 400, got %d", res.StatusCode)
	}
}

func TestIncidentEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/incidents", map[string]any{"title": "Freezer alarm", "severity": "high"}, as("ana"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("open incident status %d: %s", res.StatusCode, string(data))
	}
	var in domain.Incident
	if err := json.Unmarshal(data, &in); err != nil {
		t.Fatalf("unmarshal incident: %v", err)
	}
	if in.OwnerID != "ana" || in.Status != domain.IncidentOpen {
		t.Fatalf("unexpected incident: %+v", in)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/incidents/"+in.ID+"/resolve", nil, as("boss"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/incidents/"+in.ID+"/resolve", nil, as("boss"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "incident_resolved" {
		t.Fatalf("second resolve should conflict, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=incident.resolved", nil, as("boss"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var evts EventList
	if err := json.Unmarshal(data, &evts); err != nil || len(evts.Items) != 1 {
		t.Fatalf("expected one resolve event: %s %v", string(data), err)
	}
}

func TestWebhookDelivery(t *testing.T) {
	var mu sync.Mutex
	var got []webhookEvent
	var secrets []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, evt)
		secrets = append(secrets, r.Header.Get("X-Opsboard-Secret"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	cfg := config.Default("shop")
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"owner.created"}, Secret: "s3cret"}}
	e := newTestEngine(t, cfg)
	ctx := context.Background()

	d := NewWebhookDispatcher(e, nil)
	if d == nil {
		t.Fatalf("dispatcher should be built when a webhook is configured")
	}
	d.SeedCursors(ctx)
	if _, err := e.CreateChannel(ctx, engine.ChannelCreateOptions{ID: "web", Name: "Web shop", ActorID: "boss"}); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if _, err := e.CreateOwner(ctx, engine.OwnerCreateOptions{ID: "zoe", Name: "Zoe", ActorID: "boss"}); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %+v", got)
	}
	if got[0].Type != "owner.created" || got[0].EntityID != "zoe" || got[0].BoardID != "shop" {
		t.Fatalf("unexpected delivery: %+v", got[0])
	}
	if secrets[0] != "s3cret" {
		t.Fatalf("secret header missing")
	}
}

func TestNoDispatcherWithoutWebhooks(t *testing.T) {
	e := newTestEngine(t, config.Default("shop"))
	if NewWebhookDispatcher(e, nil) != nil {
		t.Fatalf("dispatcher should be nil without webhooks")
	}
}
