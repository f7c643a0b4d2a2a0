package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"prodplan/internal/changeover"
	"prodplan/internal/metrics"
	"prodplan/internal/model"
	"prodplan/internal/opt"
	"prodplan/internal/webhooks"
)

// PlansHandler handles POST/GET /v1/plans
func (s *Server) PlansHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		p := s.getPrincipal(r)
		if !p.CanPlan() {
			writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path)
			return
		}
		var req model.PlanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.TenantID == "" {
			req.TenantID = p.Tenant
		}
		plan, err := s.runPlan(r.Context(), req)
		if err != nil {
			var inv *opt.InvalidInputError
			if errors.As(err, &inv) {
				writeProblem(w, http.StatusBadRequest, "Invalid plan request", inv.Reason, r.URL.Path)
				return
			}
			writeProblem(w, http.StatusInternalServerError, "Plan failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, plan)
	case http.MethodGet:
		p := s.getPrincipal(r)
		if !p.CanPlan() {
			writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path)
			return
		}
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		items, next, err := s.Store.ListPlans(r.Context(), p.Tenant, cursor, limit)
		if err != nil {
			writeProblem(w, 500, "List plans failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// runPlan resolves the effective problem and solver settings, runs the
// search, persists the plan and fans events out to streams and webhooks.
func (s *Server) runPlan(ctx context.Context, req model.PlanRequest) (model.Plan, error) {
	cfg := s.Cfg
	if doc, err := s.Store.GetPlannerConfig(ctx, req.TenantID); err == nil && doc != nil {
		cfg = cfg.Overlay(doc)
	}

	orders, resources, rules := req.Orders, req.Resources, req.Changeover
	if req.FromStore {
		var err error
		if len(orders) == 0 {
			if orders, err = s.Store.ListOrders(ctx, req.TenantID); err != nil {
				return model.Plan{}, err
			}
		}
		if len(resources) == 0 {
			if resources, err = s.Store.ListResources(ctx, req.TenantID); err != nil {
				return model.Plan{}, err
			}
		}
		if len(rules.Defaults) == 0 && len(rules.Pairs) == 0 {
			if rules, err = s.Store.GetChangeoverRules(ctx, req.TenantID); err != nil {
				return model.Plan{}, err
			}
		}
	}

	mirror := cfg.MirrorPolicy
	if req.MirrorPolicy != "" {
		mirror = req.MirrorPolicy
	}
	horizon := cfg.HorizonMin
	if req.HorizonMin > 0 {
		horizon = req.HorizonMin
	}
	weights := cfg.Weights
	if req.Weights != nil {
		weights = *req.Weights
	}
	timeLimit := cfg.TimeLimitSec
	if req.TimeLimitSec > 0 {
		timeLimit = req.TimeLimitSec
	}

	pool, err := opt.BuildPool(orders, resources, changeover.NewRules(rules, changeover.ParseMirrorPolicy(mirror)), horizon)
	if err != nil {
		return model.Plan{}, err
	}

	planID := "pl_" + uuid.NewString()
	mode := "alns"
	if len(pool.Orders) <= cfg.ExhaustiveLimit {
		mode = "exact"
	}
	res, err := opt.Solve(pool, opt.Params{
		Weights:         weights,
		TimeLimit:       time.Duration(timeLimit * float64(time.Second)),
		Workers:         cfg.Workers,
		ExhaustiveLimit: cfg.ExhaustiveLimit,
		MaxIterations:   cfg.MaxIterations,
		Hints:           req.Hints,
	}, func(imp opt.Improvement) {
		s.Broker.Publish(planID, SSEEvent{Type: "plan.progress", Data: map[string]any{
			"planId":    planID,
			"iteration": imp.Iteration,
			"objective": imp.Objective,
			"elapsedMs": imp.Elapsed.Milliseconds(),
		}})
	})
	if err != nil {
		return model.Plan{}, err
	}

	metrics.PlanRuns.WithLabelValues(mode, res.Status).Inc()
	metrics.PlanDuration.Observe(res.Elapsed.Seconds())
	metrics.PlanIterations.Observe(float64(res.Iterations))

	plan := model.Plan{
		ID:                 planID,
		TenantID:           req.TenantID,
		Status:             res.Status,
		Assignments:        res.Assignments,
		Unsatisfiable:      res.Unsatisfiable,
		TotalLatenessMin:   res.Breakdown.Lateness,
		TotalChangeoverMin: res.Breakdown.Changeover,
		MakespanMin:        res.Breakdown.Makespan,
		Objective:          res.Objective,
		Breakdown:          opt.Provenance(res.Weights, res.Breakdown),
		Weights:            res.Weights,
		Loads:              res.Loads,
		ElapsedMs:          res.Elapsed.Milliseconds(),
		Iterations:         res.Iterations,
		CreatedAt:          time.Now().UTC(),
	}
	if _, err := s.Store.SavePlan(ctx, plan); err != nil {
		return model.Plan{}, err
	}

	summary := map[string]any{
		"planId":             plan.ID,
		"status":             plan.Status,
		"objective":          plan.Objective,
		"totalLatenessMin":   plan.TotalLatenessMin,
		"totalChangeoverMin": plan.TotalChangeoverMin,
		"makespanMin":        plan.MakespanMin,
	}
	s.Broker.Publish(planID, SSEEvent{Type: "plan.completed", Data: summary})
	event := webhooks.EventPlanCompleted
	if plan.Status == model.StatusInfeasible {
		event = webhooks.EventPlanInfeasible
	}
	s.Pub.Emit(ctx, req.TenantID, event, summary)
	return plan, nil
}

// PlanByIDHandler handles GET /v1/plans/{id} and /v1/plans/{id}/events/stream
func (s *Server) PlanByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/plans/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	p := s.getPrincipal(r)
	if !p.CanPlan() {
		writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path)
		return
	}
	if len(parts) > 2 && parts[1] == "events" && parts[2] == "stream" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.streamPlanEvents(w, r, id)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	plan, err := s.Store.GetPlan(r.Context(), p.Tenant, id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Plan not found", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// streamPlanEvents serves progress and completion events over SSE.
func (s *Server) streamPlanEvents(w http.ResponseWriter, r *http.Request, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	// initial heartbeat
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"planId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
	flusher.Flush()
	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"planId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// OrdersHandler handles POST/GET /v1/orders
func (s *Server) OrdersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		p := s.getPrincipal(r)
		if !p.CanPlan() {
			writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path)
			return
		}
		var req struct {
			TenantID string        `json:"tenantId"`
			Orders   []model.Order `json:"orders"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.TenantID == "" {
			req.TenantID = p.Tenant
		}
		n, err := s.Store.UpsertOrders(r.Context(), req.TenantID, req.Orders)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Upsert orders failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"upserted": n})
	case http.MethodGet:
		_, tenant := s.withTenant(r)
		items, err := s.Store.ListOrders(r.Context(), tenant)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List orders failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ResourcesHandler handles POST/GET /v1/resources
func (s *Server) ResourcesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		p := s.getPrincipal(r)
		if !p.CanPlan() {
			writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path)
			return
		}
		var req struct {
			TenantID  string           `json:"tenantId"`
			Resources []model.Resource `json:"resources"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.TenantID == "" {
			req.TenantID = p.Tenant
		}
		n, err := s.Store.UpsertResources(r.Context(), req.TenantID, req.Resources)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Upsert resources failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"upserted": n})
	case http.MethodGet:
		_, tenant := s.withTenant(r)
		items, err := s.Store.ListResources(r.Context(), tenant)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List resources failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ChangeoverHandler handles PUT/GET /v1/changeover
func (s *Server) ChangeoverHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		p := s.getPrincipal(r)
		if !p.CanPlan() {
			writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path)
			return
		}
		var req struct {
			TenantID   string                `json:"tenantId"`
			Changeover model.ChangeoverRules `json:"changeover"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.TenantID == "" {
			req.TenantID = p.Tenant
		}
		if err := s.Store.SaveChangeoverRules(r.Context(), req.TenantID, req.Changeover); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Save changeover failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case http.MethodGet:
		_, tenant := s.withTenant(r)
		rules, err := s.Store.GetChangeoverRules(r.Context(), tenant)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Get changeover failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"changeover": rules})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// PlannerConfigHandler returns the effective planner configuration
func (s *Server) PlannerConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/planner/config" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	cfg := s.Cfg
	if doc, _ := s.Store.GetPlannerConfig(r.Context(), p.Tenant); doc != nil {
		cfg = cfg.Overlay(doc)
	}
	writeJSON(w, 200, map[string]any{"defaults": cfg.Doc()})
}

// AdminPlannerConfigHandler gets/sets the tenant planner config overlay
func (s *Server) AdminPlannerConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/planner/config" {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		cfg, _ := s.Store.GetPlannerConfig(r.Context(), p.Tenant)
		if cfg == nil {
			cfg = map[string]any{}
		}
		writeJSON(w, 200, map[string]any{"config": cfg})
	case http.MethodPut:
		var body struct {
			Config map[string]any `json:"config"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if body.Config == nil {
			writeProblem(w, 400, "Missing config", "", r.URL.Path)
			return
		}
		if err := s.Store.SavePlannerConfig(r.Context(), p.Tenant, body.Config); err != nil {
			writeProblem(w, 500, "Save failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 200, map[string]bool{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.TenantID == "" {
			req.TenantID = p.Tenant
		}
		if req.URL == "" {
			writeProblem(w, 400, "Missing url", "", r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		items, err := s.Store.ListSubscriptions(r.Context(), p.Tenant)
		if err != nil {
			writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 200, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(405)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id); err != nil {
		writeProblem(w, 500, "Delete subscription failed", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(204)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when using Postgres store
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}
