package model

import "time"

// Core domain types for the sequencing planner.

// Order is a schedulable unit of work. Durations and due times are in
// planning minutes relative to the horizon start.
type Order struct {
	ID          string            `json:"id"`
	DurationMin int               `json:"durationMin"`
	DueMin      *int              `json:"dueMin,omitempty"`
	Resources   []string          `json:"resources"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Resource is a capacity unit running one order at a time. Accumulative
// selects max-composition of multi-attribute changeovers instead of sum.
type Resource struct {
	ID              string `json:"id"`
	Name            string `json:"name,omitempty"`
	ChangeoverGroup string `json:"changeoverGroup,omitempty"`
	Accumulative    bool   `json:"accumulative,omitempty"`
}

// ChangeoverDefault is the attribute-level fallback setup time for a group.
type ChangeoverDefault struct {
	Group     string  `json:"group"`
	Attribute string  `json:"attribute"`
	Minutes   float64 `json:"minutes"`
}

// ChangeoverPair is an exact directed from→to setup time. The reverse
// direction is independent and may differ.
type ChangeoverPair struct {
	Group     string  `json:"group"`
	Attribute string  `json:"attribute"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Minutes   float64 `json:"minutes"`
}

type ChangeoverRules struct {
	Defaults []ChangeoverDefault `json:"defaults,omitempty"`
	Pairs    []ChangeoverPair    `json:"pairs,omitempty"`
}

// Weights are the fixed priority weights of the composed objective.
// Each tier is intended to dominate every tier below it.
type Weights struct {
	Lateness    float64 `json:"lateness" yaml:"lateness"`
	Changeover  float64 `json:"changeover" yaml:"changeover"`
	Makespan    float64 `json:"makespan" yaml:"makespan"`
	Balance     float64 `json:"balance" yaml:"balance"`
	Compactness float64 `json:"compactness" yaml:"compactness"`
}

func DefaultWeights() Weights {
	return Weights{Lateness: 10000, Changeover: 500, Makespan: 100, Balance: 50, Compactness: 1}
}

// PlanRequest carries one planning problem. When Orders/Resources are
// empty and FromStore is set, the stored problem data for the tenant is
// used instead.
type PlanRequest struct {
	TenantID     string          `json:"tenantId,omitempty"`
	Orders       []Order         `json:"orders,omitempty"`
	Resources    []Resource      `json:"resources,omitempty"`
	Changeover   ChangeoverRules `json:"changeover,omitempty"`
	Weights      *Weights        `json:"weights,omitempty"`
	TimeLimitSec float64         `json:"timeLimitSec,omitempty"`
	HorizonMin   int             `json:"horizonMin,omitempty"`
	MirrorPolicy string          `json:"mirrorPolicy,omitempty"` // default | forward
	FromStore    bool            `json:"fromStore,omitempty"`
	Hints        []Assignment    `json:"hints,omitempty"`
}

// Assignment is one order's solved placement.
type Assignment struct {
	OrderID    string `json:"orderId"`
	ResourceID string `json:"resourceId"`
	StartMin   int    `json:"startMin"`
	EndMin     int    `json:"endMin"`
	SetupMin   int    `json:"setupMin"`
}

// ResourceLoad reports per-resource busy time against the makespan.
type ResourceLoad struct {
	ResourceID  string  `json:"resourceId"`
	BusyMin     int     `json:"busyMin"`
	Utilization float64 `json:"utilization"`
}

// Plan statuses.
const (
	StatusOptimal    = "optimal"
	StatusFeasible   = "feasible"
	StatusTimedOut   = "timed_out"
	StatusInfeasible = "infeasible"
)

// Plan is the solver output: a full sequence-and-timing schedule plus
// the objective provenance needed to audit the priority hierarchy.
type Plan struct {
	ID                 string             `json:"id"`
	TenantID           string             `json:"tenantId"`
	Status             string             `json:"status"`
	Assignments        []Assignment       `json:"assignments"`
	Unsatisfiable      []string           `json:"unsatisfiable,omitempty"`
	TotalLatenessMin   int                `json:"totalLatenessMin"`
	TotalChangeoverMin int                `json:"totalChangeoverMin"`
	MakespanMin        int                `json:"makespanMin"`
	Objective          float64            `json:"objective"`
	Breakdown          map[string]float64 `json:"breakdown,omitempty"`
	Weights            Weights            `json:"weights"`
	Loads              []ResourceLoad     `json:"loads,omitempty"`
	ElapsedMs          int64              `json:"elapsedMs"`
	Iterations         int                `json:"iterations,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
}

// SubscriptionRequest registers a webhook endpoint for plan events.
type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}
