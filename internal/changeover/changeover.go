package changeover

import (
	"math"

	"prodplan/internal/model"
)

// Mode selects how per-attribute costs compose into one transition cost.
type Mode int

const (
	Additive     Mode = iota // sum over attributes
	Accumulative             // max over attributes
)

// MirrorPolicy decides what an unspecified reverse direction of a pair
// entry resolves to.
type MirrorPolicy int

const (
	// MirrorNone falls through to the attribute default (tier 2).
	MirrorNone MirrorPolicy = iota
	// MirrorForward reuses the forward entry for the reverse direction.
	MirrorForward
)

func ParseMirrorPolicy(s string) MirrorPolicy {
	if s == "forward" {
		return MirrorForward
	}
	return MirrorNone
}

type defaultKey struct {
	group, attribute string
}

type pairKey struct {
	group, attribute, from, to string
}

// Rules resolves setup minutes between attribute states. Resolution is
// three-tiered: exact pair entry, then attribute default when the values
// differ, then zero. Absence of a rule is never an error.
type Rules struct {
	defaults map[defaultKey]float64
	pairs    map[pairKey]float64
	mirror   MirrorPolicy
}

func NewRules(r model.ChangeoverRules, mirror MirrorPolicy) *Rules {
	rs := &Rules{
		defaults: make(map[defaultKey]float64, len(r.Defaults)),
		pairs:    make(map[pairKey]float64, len(r.Pairs)),
		mirror:   mirror,
	}
	for _, d := range r.Defaults {
		rs.defaults[defaultKey{d.Group, d.Attribute}] = d.Minutes
	}
	for _, p := range r.Pairs {
		rs.pairs[pairKey{p.Group, p.Attribute, p.From, p.To}] = p.Minutes
	}
	return rs
}

// Cost resolves the setup minutes for one attribute transition.
func (r *Rules) Cost(group, attribute, from, to string) float64 {
	if v, ok := r.pairs[pairKey{group, attribute, from, to}]; ok {
		return v
	}
	if from == to {
		return 0
	}
	if r.mirror == MirrorForward {
		if v, ok := r.pairs[pairKey{group, attribute, to, from}]; ok {
			return v
		}
	}
	if v, ok := r.defaults[defaultKey{group, attribute}]; ok {
		return v
	}
	return 0
}

// Transition composes the multi-attribute cost between two orders'
// attribute states. Attributes present on only one side contribute zero.
func (r *Rules) Transition(group string, mode Mode, from, to map[string]string) float64 {
	total := 0.0
	peak := 0.0
	for attr, tv := range to {
		fv, ok := from[attr]
		if !ok {
			continue
		}
		c := r.Cost(group, attr, fv, tv)
		total += c
		peak = math.Max(peak, c)
	}
	if mode == Accumulative {
		return peak
	}
	return total
}
