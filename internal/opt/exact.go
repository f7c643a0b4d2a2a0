package opt

import (
	"time"

	"prodplan/internal/model"
)

// exact proves optimality by enumerating every assignment-and-sequence
// combination. Resources are filled one at a time and orders are only
// ever appended to the open resource's tail, so the timing of a placed
// order never changes again. That makes lateness, makespan, start sum
// and overflow of a partial solution true lower bounds for every
// completion, which is what the pruning relies on. Changeover and
// balance are left out of the bound: appends can still reduce the
// balance spread, and a resolved setup is not a bound on setups the
// remaining orders will add.
func (p *Pool) exact(w model.Weights, sh *shared, deadline time.Time) string {
	e := &exactSearch{p: p, w: w, sh: sh, deadline: deadline}
	s := newSolution(len(p.Resources))
	used := make([]bool, len(p.Orders))
	e.fill(0, len(p.Orders), used, s)
	sh.addIterations(e.nodes)
	if e.timedOut {
		return model.StatusTimedOut
	}
	return model.StatusOptimal
}

type exactSearch struct {
	p        *Pool
	w        model.Weights
	sh       *shared
	deadline time.Time
	nodes    int
	timedOut bool
}

// fill extends resource ri with one more unplaced order, or freezes ri
// and moves to the next resource. Each distinct solution is constructed
// exactly once: its per-resource sequences dictate a single path of
// appends and freezes.
func (e *exactSearch) fill(ri, left int, used []bool, s *Solution) {
	if e.timedOut {
		return
	}
	e.nodes++
	if e.nodes%1024 == 0 && time.Now().After(e.deadline) {
		e.timedOut = true
		return
	}
	p := e.p
	if left == 0 {
		b, _ := p.Evaluate(s)
		e.sh.improve(Scalar(e.w, b), s, e.nodes)
		return
	}
	if ri == len(p.Resources) {
		return
	}
	for _, oi := range p.ByResource[ri] {
		if used[oi] {
			continue
		}
		q := s.Seq[ri]
		s.Seq[ri] = append(q, oi)
		used[oi] = true
		b, _ := p.Evaluate(s)
		if obj, _ := e.sh.snapshotObj(); e.bound(b) < obj-1e-9 {
			e.fill(ri, left-1, used, s)
		}
		used[oi] = false
		s.Seq[ri] = q
		if e.timedOut {
			return
		}
	}
	e.fill(ri+1, left, used, s)
}

// bound is a valid lower bound on any completion of a partial solution
// built by tail appends.
func (e *exactSearch) bound(b Breakdown) float64 {
	v := e.w.Lateness*float64(b.Lateness) +
		e.w.Makespan*float64(b.Makespan) +
		e.w.Compactness*float64(b.StartSum)
	if b.Overflow > 0 {
		v += 10 * e.w.Lateness * float64(b.Overflow)
	}
	return v
}

// snapshotObj avoids cloning the solution when only the bound is needed.
func (sh *shared) snapshotObj() (float64, bool) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.obj, sh.sol != nil
}
