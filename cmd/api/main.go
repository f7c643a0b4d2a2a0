package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"prodplan/internal/api"
	"prodplan/internal/config"
	"prodplan/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	srvDeps, err := api.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	metrics.RegisterDefault()

	mux := http.NewServeMux()

	// Planning
	mux.HandleFunc("/v1/plans", srvDeps.PlansHandler)
	mux.HandleFunc("/v1/plans/", srvDeps.PlanByIDHandler) // includes /events/stream
	mux.HandleFunc("/v1/plans/ws", srvDeps.PlanWSHandler)

	// Problem data
	mux.HandleFunc("/v1/orders", srvDeps.OrdersHandler)
	mux.HandleFunc("/v1/resources", srvDeps.ResourcesHandler)
	mux.HandleFunc("/v1/changeover", srvDeps.ChangeoverHandler)

	// Planner config
	mux.HandleFunc("/v1/planner/config", srvDeps.PlannerConfigHandler)
	mux.HandleFunc("/v1/admin/planner/config", srvDeps.AdminPlannerConfigHandler)

	// Subscriptions
	mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", srvDeps.SubscriptionByIDHandler)

	// Health & metrics
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
	mux.Handle("/metrics", metrics.Handler())

	addr := cfg.Addr
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}

	limited := api.RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst)(mux)
	handler := logMiddleware(api.MetricsMiddleware(limited))

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("API listening on %s", addr)
	if srvDeps.Pub != nil {
		worker := srvDeps.NewWebhookWorker()
		worker.Start()
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		dur := time.Since(start)
		log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
	})
}
