package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"prodplan/internal/model"
)

// Postgres persists problem data and plans. Plans are stored as JSONB
// documents keyed by id; problem data is relational so it can be edited
// piecemeal between runs.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Ping reports database connectivity, used by the readiness probe.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// MigrateDir applies *.sql files from dir in name order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(b)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) UpsertOrders(ctx context.Context, tenantID string, orders []model.Order) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	n := 0
	for _, o := range orders {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders (tenant_id, id, duration_min, due_min, resources, attrs)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (tenant_id, id) DO UPDATE SET
				duration_min=EXCLUDED.duration_min, due_min=EXCLUDED.due_min,
				resources=EXCLUDED.resources, attrs=EXCLUDED.attrs`,
			tenantID, o.ID, o.DurationMin, o.DueMin, toJSON(o.Resources), toJSON(o.Attributes))
		if err != nil {
			return 0, err
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *Postgres) ListOrders(ctx context.Context, tenantID string) ([]model.Order, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, duration_min, due_min, resources, attrs FROM orders WHERE tenant_id=$1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Order{}
	for rows.Next() {
		var o model.Order
		var due sql.NullInt64
		var res, attrs []byte
		if err := rows.Scan(&o.ID, &o.DurationMin, &due, &res, &attrs); err != nil {
			return nil, err
		}
		if due.Valid {
			d := int(due.Int64)
			o.DueMin = &d
		}
		_ = json.Unmarshal(res, &o.Resources)
		if len(attrs) > 0 {
			_ = json.Unmarshal(attrs, &o.Attributes)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertResources(ctx context.Context, tenantID string, resources []model.Resource) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	n := 0
	for _, r := range resources {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO resources (tenant_id, id, name, changeover_group, accumulative)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (tenant_id, id) DO UPDATE SET
				name=EXCLUDED.name, changeover_group=EXCLUDED.changeover_group,
				accumulative=EXCLUDED.accumulative`,
			tenantID, r.ID, r.Name, r.ChangeoverGroup, r.Accumulative)
		if err != nil {
			return 0, err
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *Postgres) ListResources(ctx context.Context, tenantID string) ([]model.Resource, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, changeover_group, accumulative FROM resources WHERE tenant_id=$1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Resource{}
	for rows.Next() {
		var r model.Resource
		if err := rows.Scan(&r.ID, &r.Name, &r.ChangeoverGroup, &r.Accumulative); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveChangeoverRules(ctx context.Context, tenantID string, rules model.ChangeoverRules) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM changeover_defaults WHERE tenant_id=$1`, tenantID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM changeover_pairs WHERE tenant_id=$1`, tenantID); err != nil {
		return err
	}
	for _, d := range rules.Defaults {
		if _, err := tx.ExecContext(ctx, `INSERT INTO changeover_defaults (tenant_id, grp, attribute, minutes) VALUES ($1,$2,$3,$4)`,
			tenantID, d.Group, d.Attribute, d.Minutes); err != nil {
			return err
		}
	}
	for _, pr := range rules.Pairs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO changeover_pairs (tenant_id, grp, attribute, from_val, to_val, minutes) VALUES ($1,$2,$3,$4,$5,$6)`,
			tenantID, pr.Group, pr.Attribute, pr.From, pr.To, pr.Minutes); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) GetChangeoverRules(ctx context.Context, tenantID string) (model.ChangeoverRules, error) {
	var out model.ChangeoverRules
	rows, err := p.db.QueryContext(ctx, `SELECT grp, attribute, minutes FROM changeover_defaults WHERE tenant_id=$1`, tenantID)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var d model.ChangeoverDefault
		if err := rows.Scan(&d.Group, &d.Attribute, &d.Minutes); err != nil {
			return out, err
		}
		out.Defaults = append(out.Defaults, d)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}
	prows, err := p.db.QueryContext(ctx, `SELECT grp, attribute, from_val, to_val, minutes FROM changeover_pairs WHERE tenant_id=$1`, tenantID)
	if err != nil {
		return out, err
	}
	defer prows.Close()
	for prows.Next() {
		var pr model.ChangeoverPair
		if err := prows.Scan(&pr.Group, &pr.Attribute, &pr.From, &pr.To, &pr.Minutes); err != nil {
			return out, err
		}
		out.Pairs = append(out.Pairs, pr)
	}
	return out, prows.Err()
}

func (p *Postgres) SavePlan(ctx context.Context, plan model.Plan) (string, error) {
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO plans (id, tenant_id, status, created_at, doc) VALUES ($1,$2,$3,$4,$5)`,
		plan.ID, plan.TenantID, plan.Status, plan.CreatedAt, toJSON(plan))
	if err != nil {
		return "", err
	}
	return plan.ID, nil
}

func (p *Postgres) GetPlan(ctx context.Context, tenantID, id string) (model.Plan, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM plans WHERE tenant_id=$1 AND id=$2`, tenantID, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Plan{}, ErrNotFound
	}
	if err != nil {
		return model.Plan{}, err
	}
	var plan model.Plan
	if err := json.Unmarshal(doc, &plan); err != nil {
		return model.Plan{}, err
	}
	return plan, nil
}

func (p *Postgres) ListPlans(ctx context.Context, tenantID, cursor string, limit int) ([]model.Plan, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id, doc FROM plans WHERE tenant_id=$1 AND id > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id, doc FROM plans WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Plan{}
	var last string
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, "", err
		}
		var plan model.Plan
		if err := json.Unmarshal(doc, &plan); err != nil {
			return nil, "", err
		}
		out = append(out, plan)
		last = id
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func (p *Postgres) GetPlannerConfig(ctx context.Context, tenantID string) (map[string]any, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT cfg FROM planner_config WHERE tenant_id=$1`, tenantID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg map[string]any
	_ = json.Unmarshal(doc, &cfg)
	return cfg, nil
}

func (p *Postgres) SavePlannerConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO planner_config (tenant_id, cfg) VALUES ($1,$2)
		ON CONFLICT (tenant_id) DO UPDATE SET cfg=EXCLUDED.cfg`,
		tenantID, toJSON(cfg))
	return err
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`,
		s.ID, s.TenantID, s.URL, toJSON(s.Events), s.Secret)
	if err != nil {
		return model.Subscription{}, err
	}
	return s, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	subs, err := p.ListSubscriptions(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := []model.Subscription{}
	for _, s := range subs {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, url, events, secret FROM subscriptions WHERE tenant_id=$1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		s := model.Subscription{TenantID: tenantID}
		var events []byte
		if err := rows.Scan(&s.ID, &s.URL, &events, &s.Secret); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(events, &s.Events)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, attempts, status, next_attempt_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,'pending',now(),now())`,
		id, tenantID, subscriptionID, eventType, url, secret, payload)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, subscription_id, event_type, url, secret, payload, attempts, status, created_at
		FROM webhook_deliveries
		WHERE status='pending' AND next_attempt_at <= now()
		ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Attempts, &d.Status, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `
			UPDATE webhook_deliveries SET status='delivered', attempts=attempts+1,
				last_error=$2, response_code=$3, latency_ms=$4 WHERE id=$1`,
			id, lastError, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET attempts=attempts+1, next_attempt_at=$2,
			last_error=$3, response_code=$4, latency_ms=$5 WHERE id=$1`,
		id, nextAttemptAt, lastError, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET status='failed', attempts=attempts+1,
			last_error=$2, response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, lastError, responseCode, latencyMs)
	return err
}

func toJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
