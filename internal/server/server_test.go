package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"piplan/internal/config"
	"piplan/internal/db"
	"piplan/internal/domain"
	"piplan/internal/engine"
	"piplan/internal/logging"
	"piplan/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("piplan-test"), logging.Discard())
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth, Log: logging.Discard()})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{Timeout: 10 * time.Second},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
	return out
}

func createDemoPlan(t *testing.T, ts *testServer, headers map[string]string) PlanResponse {
	t.Helper()
	resp, body := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/plans", map[string]any{"demo": true}, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create plan status %d: %s", resp.StatusCode, string(body))
	}
	return decode[PlanResponse](t, body)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	resp, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", resp.StatusCode)
	}
	if got := decode[map[string]string](t, body)["status"]; got != "ok" {
		t.Fatalf("unexpected health body %s", string(body))
	}
}

func TestCreateAndReadPlan(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	plan := createDemoPlan(t, ts, nil)
	if plan.Run.Status != domain.RunCompleted || plan.Run.ProjectID != "piplan-test" {
		t.Fatalf("unexpected run %+v", plan.Run)
	}
	if plan.Summary.Accepted == 0 || len(plan.Assignments) != plan.Summary.Accepted {
		t.Fatalf("expected accepted assignments, got %+v", plan.Summary)
	}
	if len(plan.Unassigned) != 1 || plan.Unassigned[0] != 402 {
		t.Fatalf("expected story 402 unassigned, got %v", plan.Unassigned)
	}

	resp, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/plans/"+plan.Run.ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get plan status %d: %s", resp.StatusCode, string(body))
	}
	got := decode[PlanResponse](t, body)
	if got.Run.ID != plan.Run.ID || len(got.Assignments) != len(plan.Assignments) {
		t.Fatalf("stored plan differs: %+v", got.Run)
	}

	resp, body = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/plans/"+plan.Run.ID+"/assignments?team=team-a", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assignments status %d: %s", resp.StatusCode, string(body))
	}
	for _, a := range decode[[]domain.Assignment](t, body) {
		if a.TeamID != "team-a" {
			t.Fatalf("team filter leaked %+v", a)
		}
	}

	resp, body = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/plans/"+plan.Run.ID+"/risks", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("risks status %d: %s", resp.StatusCode, string(body))
	}
	risks := decode[RiskResponse](t, body)
	found := false
	for _, r := range risks.Risks {
		if r.ID == "risk-no-team" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected risk-no-team in %+v", risks.Risks)
	}
}

func TestCreatePlanFromSnapshot(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	snapshot := map[string]any{
		"iterations": []string{"I1", "I2"},
		"teams":      []map[string]any{{"id": "a", "name": "Alpha", "capacity": 10}},
		"features": []map[string]any{{
			"id": 1, "title": "Only", "business_value": 10,
			"user_stories": []map[string]any{
				{"id": 11, "title": "fits", "assigned_team": "a", "effort": 8},
				{"id": 12, "title": "next", "assigned_team": "Alpha", "effort": 8},
			},
		}},
	}
	buffer := 0.0
	resp, body := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/plans", map[string]any{
		"snapshot":        snapshot,
		"capacity_buffer": buffer,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create plan status %d: %s", resp.StatusCode, string(body))
	}
	plan := decode[PlanResponse](t, body)
	if len(plan.Assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %+v", plan.Assignments)
	}
	if plan.Assignments[0].Iteration != "I1" || plan.Assignments[1].Iteration != "I2" {
		t.Fatalf("unexpected placement %+v", plan.Assignments)
	}
	if plan.Assignments[1].TeamID != "a" {
		t.Fatalf("team name should resolve to id, got %s", plan.Assignments[1].TeamID)
	}
}

func TestCreatePlanBadRequests(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	cases := []struct {
		name string
		body any
		code string
	}{
		{"missing snapshot", map[string]any{}, "bad_request"},
		{"duplicate features", map[string]any{"snapshot": map[string]any{"features": []map[string]any{{"id": 1}, {"id": 1}}}}, "invalid_snapshot"},
		{"duplicate stories", map[string]any{"snapshot": map[string]any{"features": []map[string]any{
			{"id": 1, "user_stories": []map[string]any{{"id": 7, "assigned_team": "a", "effort": 3}}},
			{"id": 2, "user_stories": []map[string]any{{"id": 7, "assigned_team": "a", "effort": 3}}},
		}}}, "invalid_snapshot"},
		{"negative effort", map[string]any{"snapshot": map[string]any{"features": []map[string]any{
			{"id": 1, "user_stories": []map[string]any{{"id": 1, "assigned_team": "a", "effort": -10}}},
		}}}, "invalid_snapshot"},
		{"buffer out of range", map[string]any{"demo": true, "capacity_buffer": 1.5}, "invalid_plan_request"},
		{"unknown team", map[string]any{"demo": true, "teams": []string{"nobody"}}, "invalid_plan_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/plans", tc.body, nil)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", resp.StatusCode, string(body))
			}
			env := decode[apiError](t, body)
			if env.Body.Code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, env.Body.Code)
			}
		})
	}
}

func TestUnknownRun(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	for _, suffix := range []string{"", "/events", "/assignments", "/risks", "/board"} {
		resp, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/plans/missing"+suffix, nil, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d: %s", suffix, resp.StatusCode, string(body))
		}
		if env := decode[apiError](t, body); env.Body.Code != "not_found" {
			t.Fatalf("%s: unexpected error body %s", suffix, string(body))
		}
	}
}

func TestEventsPaging(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	plan := createDemoPlan(t, ts, nil)
	base := ts.URL + "/v0/plans/" + plan.Run.ID + "/events"

	var all []domain.Event
	cursor := ""
	for range 100 {
		url := base + "?limit=7"
		if cursor != "" {
			url += "&cursor=" + cursor
		}
		resp, body := doJSON(t, ts.Client(), http.MethodGet, url, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("events status %d: %s", resp.StatusCode, string(body))
		}
		page := decode[paginatedEvents](t, body)
		if len(page.Items) > 7 {
			t.Fatalf("page exceeds limit: %d", len(page.Items))
		}
		all = append(all, page.Items...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if len(all) == 0 {
		t.Fatalf("expected events")
	}
	for i, evt := range all {
		if evt.Seq != i+1 {
			t.Fatalf("event %d has seq %d", i, evt.Seq)
		}
	}
	if last := all[len(all)-1]; last.Type != "gap_filling.start" {
		t.Fatalf("expected trace to end with gap filling, got %s", last.Type)
	}

	resp, body := doJSON(t, ts.Client(), http.MethodGet, base+"?type=assignment.accepted&limit=200", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("filtered events status %d: %s", resp.StatusCode, string(body))
	}
	accepted := decode[paginatedEvents](t, body)
	if len(accepted.Items) != plan.Summary.Accepted {
		t.Fatalf("expected %d accepted events, got %d", plan.Summary.Accepted, len(accepted.Items))
	}

	resp, _ = doJSON(t, ts.Client(), http.MethodGet, base+"?cursor=abc", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d", resp.StatusCode)
	}
}

func TestListPlansPaging(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	ids := map[string]bool{}
	for range 3 {
		ids[createDemoPlan(t, ts, nil).Run.ID] = true
	}
	resp, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/plans?limit=2", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", resp.StatusCode, string(body))
	}
	first := decode[paginatedRuns](t, body)
	if len(first.Items) != 2 || first.NextCursor == "" {
		t.Fatalf("unexpected first page %+v", first)
	}
	resp, body = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/plans?limit=2&cursor="+first.NextCursor, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list page 2 status %d: %s", resp.StatusCode, string(body))
	}
	second := decode[paginatedRuns](t, body)
	if len(second.Items) != 1 || second.NextCursor != "" {
		t.Fatalf("unexpected second page %+v", second)
	}
	for _, r := range append(first.Items, second.Items...) {
		delete(ids, r.ID)
	}
	if len(ids) != 0 {
		t.Fatalf("runs missing from listing: %v", ids)
	}

	resp, _ = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/plans?cursor=nopipe", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d", resp.StatusCode)
	}
}

func TestBoardFormats(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	plan := createDemoPlan(t, ts, nil)
	base := ts.URL + "/v0/plans/" + plan.Run.ID + "/board"

	resp, body := doJSON(t, ts.Client(), http.MethodGet, base+"?format=csv", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("board status %d: %s", resp.StatusCode, string(body))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %s", ct)
	}
	if !strings.Contains(string(body), "Sprint 1") || !strings.Contains(string(body), "Team Alpha") {
		t.Fatalf("board missing headers: %s", string(body))
	}

	resp, body = doJSON(t, ts.Client(), http.MethodGet, base, nil, nil)
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("expected html board, got %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(string(body), "<table") {
		t.Fatalf("expected html table: %s", string(body))
	}

	resp, _ = doJSON(t, ts.Client(), http.MethodGet, base+"?format=pdf", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", resp.StatusCode)
	}
}

func TestJWTAuth(t *testing.T) {
	secret := "test-secret"
	ts := newTestServer(t, AuthConfig{JWTSecret: secret})

	resp, _ := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health should stay open, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/openapi.json", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("openapi should stay open, got %d", resp.StatusCode)
	}

	resp, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/plans", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if env := decode[apiError](t, body); env.Body.Code != "unauthorized" {
		t.Fatalf("unexpected error body %s", string(body))
	}

	bad := signToken(t, "wrong-secret", "alice")
	resp, _ = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/plans", nil, map[string]string{"Authorization": "Bearer " + bad})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign token, got %d", resp.StatusCode)
	}

	good := map[string]string{"Authorization": "Bearer " + signToken(t, secret, "alice")}
	plan := createDemoPlan(t, ts, good)
	resp, body = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/plans/"+plan.Run.ID, nil, good)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", resp.StatusCode, string(body))
	}
}

func TestOpenAPIDeclaresBearerAuth(t *testing.T) {
	ts := newTestServer(t, AuthConfig{JWTSecret: "s"})
	resp, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/openapi.json", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", resp.StatusCode)
	}
	doc := decode[map[string]any](t, body)
	components, _ := doc["components"].(map[string]any)
	schemes, _ := components["securitySchemes"].(map[string]any)
	if _, ok := schemes["bearerAuth"]; !ok {
		t.Fatalf("bearerAuth scheme missing: %v", components)
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/v0/plans/{run_id}/board"]; !ok {
		t.Fatalf("board route missing from openapi paths")
	}
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestOpenAPIConcurrentFirstRequests(t *testing.T) {
	ts := newTestServer(t, AuthConfig{JWTSecret: "s"})
	const n = 8
	bodies := make([][]byte, n)
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := ts.Client().Get(ts.URL + "/v0/openapi.json")
			if err != nil {
				return
			}
			defer resp.Body.Close()
			codes[i] = resp.StatusCode
			bodies[i], _ = io.ReadAll(resp.Body)
		}()
	}
	wg.Wait()
	for i := range n {
		if codes[i] != http.StatusOK {
			t.Fatalf("request %d: status %d", i, codes[i])
		}
		if !bytes.Equal(bodies[i], bodies[0]) {
			t.Fatalf("request %d served a different document", i)
		}
	}
}
