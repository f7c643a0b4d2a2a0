package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"prodplan/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu         sync.Mutex
	orders     map[string]map[string]model.Order    // tenant -> order id -> order
	resources  map[string]map[string]model.Resource // tenant -> resource id -> resource
	rules      map[string]model.ChangeoverRules     // tenant -> rules
	plans      map[string]model.Plan                // plan id -> plan
	plansByTen map[string][]string                  // tenant -> plan ids, insertion order
	cfg        map[string]map[string]any            // tenant -> planner config
	subs       map[string][]model.Subscription      // tenant -> subscriptions
	deliveries map[string]*memDelivery              // id -> delivery state
	order      []string                             // delivery ids, FIFO
}

type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
}

func NewMemory() *Memory {
	return &Memory{
		orders:     map[string]map[string]model.Order{},
		resources:  map[string]map[string]model.Resource{},
		rules:      map[string]model.ChangeoverRules{},
		plans:      map[string]model.Plan{},
		plansByTen: map[string][]string{},
		cfg:        map[string]map[string]any{},
		subs:       map[string][]model.Subscription{},
		deliveries: map[string]*memDelivery{},
	}
}

func (m *Memory) UpsertOrders(ctx context.Context, tenantID string, orders []model.Order) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orders[tenantID] == nil {
		m.orders[tenantID] = map[string]model.Order{}
	}
	for _, o := range orders {
		m.orders[tenantID][o.ID] = o
	}
	return len(orders), nil
}

func (m *Memory) ListOrders(ctx context.Context, tenantID string) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Order, 0, len(m.orders[tenantID]))
	for _, o := range m.orders[tenantID] {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpsertResources(ctx context.Context, tenantID string, resources []model.Resource) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resources[tenantID] == nil {
		m.resources[tenantID] = map[string]model.Resource{}
	}
	for _, r := range resources {
		m.resources[tenantID][r.ID] = r
	}
	return len(resources), nil
}

func (m *Memory) ListResources(ctx context.Context, tenantID string) ([]model.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Resource, 0, len(m.resources[tenantID]))
	for _, r := range m.resources[tenantID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveChangeoverRules(ctx context.Context, tenantID string, rules model.ChangeoverRules) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[tenantID] = rules
	return nil
}

func (m *Memory) GetChangeoverRules(ctx context.Context, tenantID string) (model.ChangeoverRules, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rules[tenantID], nil
}

func (m *Memory) SavePlan(ctx context.Context, plan model.Plan) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	m.plans[plan.ID] = plan
	m.plansByTen[plan.TenantID] = append(m.plansByTen[plan.TenantID], plan.ID)
	return plan.ID, nil
}

func (m *Memory) GetPlan(ctx context.Context, tenantID, id string) (model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok || p.TenantID != tenantID {
		return model.Plan{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPlans(ctx context.Context, tenantID, cursor string, limit int) ([]model.Plan, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.plansByTen[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	out := []model.Plan{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		out = append(out, m.plans[ids[i]])
		next = ids[i]
	}
	if start+len(out) >= len(ids) {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) GetPlannerConfig(ctx context.Context, tenantID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg[tenantID], nil
}

func (m *Memory) SavePlannerConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg[tenantID] = cfg
	return nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Subscription{}
	for _, s := range m.subs[tenantID] {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Subscription(nil), m.subs[tenantID]...), nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[tenantID]
	for i, s := range subs {
		if s.ID == id {
			m.subs[tenantID] = append(subs[:i], subs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.deliveries[id] = &memDelivery{WebhookDelivery: WebhookDelivery{
		ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType,
		URL: url, Secret: secret, Payload: payload, Status: "pending", CreatedAt: time.Now(),
	}}
	m.order = append(m.order, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.order {
		d := m.deliveries[id]
		if d.Status != "pending" || d.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, d.WebhookDelivery)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
	} else if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = "failed"
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}
