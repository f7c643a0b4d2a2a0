package store

import (
	"context"
	"errors"
	"time"

	"prodplan/internal/model"
)

// Store is the persistence interface used by the API server. It holds
// the problem data the planner can be run against, the solved plans,
// per-tenant planner config, and the webhook delivery queue.
type Store interface {
	// Problem data
	UpsertOrders(ctx context.Context, tenantID string, orders []model.Order) (int, error)
	ListOrders(ctx context.Context, tenantID string) ([]model.Order, error)
	UpsertResources(ctx context.Context, tenantID string, resources []model.Resource) (int, error)
	ListResources(ctx context.Context, tenantID string) ([]model.Resource, error)
	SaveChangeoverRules(ctx context.Context, tenantID string, rules model.ChangeoverRules) error
	GetChangeoverRules(ctx context.Context, tenantID string) (model.ChangeoverRules, error)

	// Plans
	SavePlan(ctx context.Context, plan model.Plan) (string, error)
	GetPlan(ctx context.Context, tenantID, id string) (model.Plan, error)
	ListPlans(ctx context.Context, tenantID, cursor string, limit int) ([]model.Plan, string, error)

	// Planner config overlay per tenant
	GetPlannerConfig(ctx context.Context, tenantID string) (map[string]any, error)
	SavePlannerConfig(ctx context.Context, tenantID string, cfg map[string]any) error

	// Subscriptions & webhook deliveries
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID string) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error
	EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error
}

var ErrNotFound = errors.New("not found")
