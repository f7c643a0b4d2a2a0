package opt

import (
	"fmt"
	"sort"

	"prodplan/internal/changeover"
	"prodplan/internal/model"
)

// InvalidInputError reports problem data that fails validation before
// any search starts.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string { return "invalid input: " + e.Reason }

func invalidf(format string, args ...any) error {
	return &InvalidInputError{Reason: fmt.Sprintf(format, args...)}
}

// Pool groups the orders of one planning run by candidate resource and
// carries the precomputed changeover tables the sequencer consults.
// Orders and resources are held sorted by id so every search iterates
// deterministically.
type Pool struct {
	Orders    []model.Order
	Resources []model.Resource

	// Eligible maps order index to its candidate resource indices.
	Eligible [][]int
	// ByResource maps resource index to the order indices it may run.
	ByResource [][]int
	// Tables holds the pair-cost table per resource index. Resources
	// sharing a (group, mode) share one table.
	Tables []*changeover.Table

	Horizon int
}

// BuildPool validates the problem data and precomputes per-resource
// pair-cost tables. A zero horizon is replaced with one wide enough to
// hold every order with worst-case setups back to back.
func BuildPool(orders []model.Order, resources []model.Resource, rules *changeover.Rules, horizon int) (*Pool, error) {
	if len(orders) == 0 {
		return nil, invalidf("no orders")
	}
	if len(resources) == 0 {
		return nil, invalidf("no resources")
	}

	orders = append([]model.Order(nil), orders...)
	resources = append([]model.Resource(nil), resources...)
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	sort.Slice(resources, func(i, j int) bool { return resources[i].ID < resources[j].ID })

	resIdx := make(map[string]int, len(resources))
	for i, r := range resources {
		if r.ID == "" {
			return nil, invalidf("resource with empty id")
		}
		if _, dup := resIdx[r.ID]; dup {
			return nil, invalidf("duplicate resource id %q", r.ID)
		}
		resIdx[r.ID] = i
	}

	p := &Pool{
		Orders:     orders,
		Resources:  resources,
		Eligible:   make([][]int, len(orders)),
		ByResource: make([][]int, len(resources)),
		Horizon:    horizon,
	}

	seen := make(map[string]bool, len(orders))
	for oi, o := range orders {
		if o.ID == "" {
			return nil, invalidf("order with empty id")
		}
		if seen[o.ID] {
			return nil, invalidf("duplicate order id %q", o.ID)
		}
		seen[o.ID] = true
		if o.DurationMin <= 0 {
			return nil, invalidf("order %q has non-positive duration", o.ID)
		}
		if len(o.Resources) == 0 {
			return nil, invalidf("order %q has no eligible resource", o.ID)
		}
		elig := make([]int, 0, len(o.Resources))
		for _, rid := range o.Resources {
			ri, ok := resIdx[rid]
			if !ok {
				return nil, invalidf("order %q references unknown resource %q", o.ID, rid)
			}
			elig = append(elig, ri)
		}
		sort.Ints(elig)
		// drop duplicate references
		elig = dedupInts(elig)
		p.Eligible[oi] = elig
		for _, ri := range elig {
			p.ByResource[ri] = append(p.ByResource[ri], oi)
		}
	}

	// Shared tables per (group, mode). Queried once per ordered pair per
	// resource during search, so resolution happens exactly once here.
	type tabKey struct {
		group string
		acc   bool
	}
	tabs := map[tabKey]*changeover.Table{}
	p.Tables = make([]*changeover.Table, len(resources))
	for ri, r := range resources {
		k := tabKey{r.ChangeoverGroup, r.Accumulative}
		t, ok := tabs[k]
		if !ok {
			mode := changeover.Additive
			if r.Accumulative {
				mode = changeover.Accumulative
			}
			t = changeover.BuildTable(rules, r.ChangeoverGroup, mode, orders)
			tabs[k] = t
		}
		p.Tables[ri] = t
	}

	if p.Horizon <= 0 {
		p.Horizon = defaultHorizon(p)
	}
	return p, nil
}

// defaultHorizon is wide enough for any sequence: all durations plus the
// worst setup before every order.
func defaultHorizon(p *Pool) int {
	maxSetup := 0
	n := len(p.Orders)
	for _, t := range p.Tables {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if i != j && t.Cost(i, j) > maxSetup {
					maxSetup = t.Cost(i, j)
				}
			}
		}
	}
	total := 0
	for _, o := range p.Orders {
		total += o.DurationMin
	}
	return total + n*maxSetup
}

// checkStructure looks for orders that cannot meet the horizon under
// any assignment: a duration longer than the horizon, or a set of
// orders tied to a single resource whose combined duration exceeds it.
// Returns the unsatisfiable order ids, empty when none are provable.
func (p *Pool) checkStructure() []string {
	var unsat []string
	for oi, o := range p.Orders {
		if o.DurationMin > p.Horizon {
			unsat = append(unsat, p.Orders[oi].ID)
		}
	}
	for ri := range p.Resources {
		sum := 0
		var sole []int
		for _, oi := range p.ByResource[ri] {
			if len(p.Eligible[oi]) == 1 {
				sum += p.Orders[oi].DurationMin
				sole = append(sole, oi)
			}
		}
		if sum > p.Horizon {
			for _, oi := range sole {
				unsat = append(unsat, p.Orders[oi].ID)
			}
		}
	}
	sort.Strings(unsat)
	return dedupStrings(unsat)
}

func dedupInts(xs []int) []int {
	out := xs[:0]
	for i, v := range xs {
		if i == 0 || v != xs[i-1] {
			out = append(out, v)
		}
	}
	return out
}

func dedupStrings(xs []string) []string {
	out := xs[:0]
	for i, v := range xs {
		if i == 0 || v != xs[i-1] {
			out = append(out, v)
		}
	}
	return out
}
