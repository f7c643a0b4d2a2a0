package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"prodplan/internal/config"
	"prodplan/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("API_TOKENS", "")
	s, err := NewServer(config.Default())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

var paintingBody = []byte(`{
	"tenantId": "t_test",
	"orders": [
		{"id": "A", "durationMin": 120, "resources": ["st"], "attributes": {"color": "yellow"}},
		{"id": "B", "durationMin": 180, "resources": ["st"], "attributes": {"color": "red"}},
		{"id": "C", "durationMin": 60, "resources": ["st"], "attributes": {"color": "yellow"}},
		{"id": "D", "durationMin": 120, "resources": ["st"], "attributes": {"color": "red"}}
	],
	"resources": [{"id": "st", "changeoverGroup": "paint"}],
	"changeover": {"defaults": [{"group": "paint", "attribute": "color", "minutes": 30}]}
}`)

func postPlan(t *testing.T, s *Server, body []byte) model.Plan {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/plans", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	s.PlansHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("plan create: got %d: %s", rr.Code, rr.Body.String())
	}
	var plan model.Plan
	if err := json.Unmarshal(rr.Body.Bytes(), &plan); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	return plan
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestPlanCreateGetList(t *testing.T) {
	s := newTestServer(t)
	plan := postPlan(t, s, paintingBody)
	if plan.Status != model.StatusOptimal {
		t.Fatalf("status: got %s", plan.Status)
	}
	if plan.TotalChangeoverMin != 30 || plan.MakespanMin != 510 {
		t.Fatalf("objective terms: changeover=%d makespan=%d", plan.TotalChangeoverMin, plan.MakespanMin)
	}
	if len(plan.Assignments) != 4 {
		t.Fatalf("assignments: got %d", len(plan.Assignments))
	}

	// GET by id
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/plans/"+plan.ID, nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	s.PlanByIDHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("plan get: %d", rr.Code)
	}

	// List
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/plans?limit=5", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	s.PlansHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("plan list: %d", rr.Code)
	}
	var idx struct {
		Items []model.Plan `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &idx); err != nil || len(idx.Items) != 1 {
		t.Fatalf("plan list body: %s err=%v", rr.Body.String(), err)
	}
}

func TestPlanInvalidInputIs400(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"tenantId":"t_test","orders":[{"id":"A","durationMin":60,"resources":["nope"]}],"resources":[{"id":"st"}]}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/plans", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	s.PlansHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400: %s", rr.Code, rr.Body.String())
	}
}

func TestPlanFromStoredProblemData(t *testing.T) {
	s := newTestServer(t)
	// seed problem data
	ob := []byte(`{"tenantId":"t_test","orders":[
		{"id":"A","durationMin":60,"resources":["st"],"attributes":{"color":"yellow"}},
		{"id":"B","durationMin":60,"resources":["st"],"attributes":{"color":"red"}}
	]}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewReader(ob))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", "admin")
	s.OrdersHandler(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("orders create: got %d", rr.Code)
	}
	rb := []byte(`{"tenantId":"t_test","resources":[{"id":"st","changeoverGroup":"paint"}]}`)
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/resources", bytes.NewReader(rb))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", "admin")
	s.ResourcesHandler(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("resources create: got %d", rr.Code)
	}
	cb := []byte(`{"tenantId":"t_test","changeover":{"defaults":[{"group":"paint","attribute":"color","minutes":30}]}}`)
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPut, "/v1/changeover", bytes.NewReader(cb))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", "admin")
	s.ChangeoverHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("changeover put: got %d", rr.Code)
	}

	plan := postPlan(t, s, []byte(`{"tenantId":"t_test","fromStore":true}`))
	if plan.Status != model.StatusOptimal {
		t.Fatalf("status: got %s", plan.Status)
	}
	if plan.TotalChangeoverMin != 30 {
		t.Fatalf("changeover: got %d, want 30", plan.TotalChangeoverMin)
	}
	if len(plan.Assignments) != 2 {
		t.Fatalf("assignments: got %d", len(plan.Assignments))
	}
}

func TestPlanCompletedEnqueuesWebhook(t *testing.T) {
	s := newTestServer(t)
	subBody := []byte(`{"tenantId":"t_test","url":"https://example.invalid/webhook","events":["plan.completed"],"secret":"shh"}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader(subBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	s.SubscriptionsHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create sub: %d", rr.Code)
	}

	postPlan(t, s, paintingBody)

	due, err := s.Store.FetchDueWebhookDeliveries(context.Background(), 5)
	if err != nil {
		t.Fatalf("fetch due: %v", err)
	}
	if len(due) == 0 {
		t.Fatal("expected a pending delivery for plan.completed")
	}
	if due[0].EventType != "plan.completed" {
		t.Fatalf("event type: got %s", due[0].EventType)
	}
}

func TestPlannerConfigOverlay(t *testing.T) {
	s := newTestServer(t)
	put := []byte(`{"config":{"timeLimitSec":5,"weights":{"changeover":900}}}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/v1/admin/planner/config", bytes.NewReader(put))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	s.AdminPlannerConfigHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("put config: %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/planner/config", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	s.PlannerConfigHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("get config: %d", rr.Code)
	}
	var body struct {
		Defaults struct {
			TimeLimitSec float64 `json:"timeLimitSec"`
			Weights      struct {
				Changeover float64 `json:"changeover"`
				Lateness   float64 `json:"lateness"`
			} `json:"weights"`
		} `json:"defaults"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Defaults.TimeLimitSec != 5 || body.Defaults.Weights.Changeover != 900 {
		t.Fatalf("overlay not applied: %+v", body.Defaults)
	}
	if body.Defaults.Weights.Lateness != 10000 {
		t.Fatalf("untouched weight should keep default: %+v", body.Defaults.Weights)
	}
}

func TestAdminConfigRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/planner/config", nil)
	req.Header.Set("X-Role", "planner")
	s.AdminPlannerConfigHandler(rr, req)
	if rr.Code != 403 {
		t.Fatalf("got %d, want 403", rr.Code)
	}
}

// sseRecorder is a minimal ResponseWriter that implements http.Flusher
// and captures writes for SSE tests.
type sseRecorder struct {
	hdr  http.Header
	buf  bytes.Buffer
	code int
}

func (r *sseRecorder) Header() http.Header {
	if r.hdr == nil {
		r.hdr = http.Header{}
	}
	return r.hdr
}
func (r *sseRecorder) WriteHeader(c int)           { r.code = c }
func (r *sseRecorder) Write(p []byte) (int, error) { return r.buf.Write(p) }
func (r *sseRecorder) Flush()                      {}

func TestPlanEventsSSE(t *testing.T) {
	s := newTestServer(t)
	plan := postPlan(t, s, paintingBody)

	sseReq := httptest.NewRequest(http.MethodGet, "/v1/plans/"+plan.ID+"/events/stream", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sseReq = sseReq.WithContext(ctx)
	sseReq.Header.Set("X-Tenant-Id", "t_test")
	sseReq.Header.Set("X-Role", "admin")

	rec := &sseRecorder{}
	done := make(chan struct{})
	go func() {
		s.PlanByIDHandler(rec, sseReq)
		close(done)
	}()

	// give the handler time to subscribe and send the heartbeat
	time.Sleep(50 * time.Millisecond)
	s.Broker.Publish(plan.ID, SSEEvent{Type: "plan.progress", Data: map[string]any{"planId": plan.ID}})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if bytes.Contains(rec.buf.Bytes(), []byte("event: plan.progress")) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !bytes.Contains(rec.buf.Bytes(), []byte("event: plan.progress")) {
		t.Fatalf("SSE did not contain expected event. Body: %s", rec.buf.String())
	}
	cancel()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("handler did not exit after cancel")
	}
}

func TestBearerTokenRoles(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("API_TOKENS", "plantok=planner,roottok=admin")
	s, err := NewServer(config.Default())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	// no token: rejected when tokens are configured
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/plans", nil)
	s.PlansHandler(rr, req)
	if rr.Code != 403 {
		t.Fatalf("anonymous: got %d, want 403", rr.Code)
	}

	// planner token can list plans
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/plans", nil)
	req.Header.Set("Authorization", "Bearer plantok")
	s.PlansHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("planner: got %d", rr.Code)
	}

	// planner token cannot touch admin config
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/admin/planner/config", nil)
	req.Header.Set("Authorization", "Bearer plantok")
	s.AdminPlannerConfigHandler(rr, req)
	if rr.Code != 403 {
		t.Fatalf("planner on admin route: got %d, want 403", rr.Code)
	}

	// admin token can
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/admin/planner/config", nil)
	req.Header.Set("Authorization", "Bearer roottok")
	s.AdminPlannerConfigHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("admin: got %d", rr.Code)
	}
}

func TestPlanListIgnoresGarbageLimit(t *testing.T) {
	s := newTestServer(t)
	postPlan(t, s, paintingBody)

	for _, v := range []string{"abc", "-5", "0", "1e3"} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/plans?limit="+v, nil)
		req.Header.Set("X-Tenant-Id", "t_test")
		req.Header.Set("X-Role", "admin")
		s.PlansHandler(rr, req)
		if rr.Code != 200 {
			t.Fatalf("limit=%s: got %d, want 200: %s", v, rr.Code, rr.Body.String())
		}
		var idx struct {
			Items []model.Plan `json:"items"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &idx); err != nil {
			t.Fatalf("limit=%s: decode: %v", v, err)
		}
		if len(idx.Items) != 1 {
			t.Fatalf("limit=%s: got %d items, want the default limit to apply", v, len(idx.Items))
		}
	}
}
