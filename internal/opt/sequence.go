package opt

import "prodplan/internal/model"

// Solution holds one ordered sequence of order indices per resource
// index. The precedence relation between two orders on a resource is
// their position in the slice; timing follows from it.
type Solution struct {
	Seq [][]int
}

func newSolution(resources int) *Solution {
	return &Solution{Seq: make([][]int, resources)}
}

func (s *Solution) clone() *Solution {
	out := &Solution{Seq: make([][]int, len(s.Seq))}
	for i, q := range s.Seq {
		out.Seq[i] = append([]int(nil), q...)
	}
	return out
}

// find locates an order in the solution. Returns resource index and
// position, or (-1, -1) when unassigned.
func (s *Solution) find(oi int) (int, int) {
	for ri, q := range s.Seq {
		for pos, v := range q {
			if v == oi {
				return ri, pos
			}
		}
	}
	return -1, -1
}

func (s *Solution) remove(ri, pos int) {
	q := s.Seq[ri]
	s.Seq[ri] = append(q[:pos], q[pos+1:]...)
}

func (s *Solution) insert(ri, pos, oi int) {
	q := s.Seq[ri]
	if pos >= len(q) {
		s.Seq[ri] = append(q, oi)
		return
	}
	q = append(q, 0)
	copy(q[pos+1:], q[pos:])
	q[pos] = oi
	s.Seq[ri] = q
}

// Timing is the left-justified schedule of a solution: per order index
// the start, end and applied setup minutes, plus per-resource busy time.
type Timing struct {
	Start []int
	End   []int
	Setup []int
	Busy  []int
}

// Breakdown holds the raw (unweighted) objective terms.
type Breakdown struct {
	Lateness   int `json:"lateness"`
	Changeover int `json:"changeover"`
	Makespan   int `json:"makespan"`
	Imbalance  int `json:"imbalance"`
	StartSum   int `json:"startSum"`
	// Overflow counts minutes scheduled past the horizon. A feasible
	// schedule has zero overflow.
	Overflow int `json:"overflow,omitempty"`
}

// Evaluate computes timing and objective terms for a solution. Orders
// run back to back with a gap equal to the resolved changeover between
// their attribute states; the first order on a resource starts at zero.
func (p *Pool) Evaluate(s *Solution) (Breakdown, *Timing) {
	n := len(p.Orders)
	tm := &Timing{
		Start: make([]int, n),
		End:   make([]int, n),
		Setup: make([]int, n),
		Busy:  make([]int, len(p.Resources)),
	}
	var b Breakdown
	minBusy := -1
	for ri, q := range s.Seq {
		t := 0
		prev := -1
		tab := p.Tables[ri]
		for _, oi := range q {
			setup := 0
			if prev >= 0 {
				setup = tab.Cost(prev, oi)
			}
			start := t + setup
			end := start + p.Orders[oi].DurationMin
			tm.Start[oi] = start
			tm.End[oi] = end
			tm.Setup[oi] = setup
			b.Changeover += setup
			b.StartSum += start
			if due := p.Orders[oi].DueMin; due != nil && end > *due {
				b.Lateness += end - *due
			}
			if end > p.Horizon {
				b.Overflow += end - p.Horizon
			}
			t = end
			prev = oi
		}
		tm.Busy[ri] = t
		if t > b.Makespan {
			b.Makespan = t
		}
		if minBusy < 0 || t < minBusy {
			minBusy = t
		}
	}
	if len(s.Seq) > 1 && minBusy >= 0 {
		b.Imbalance = b.Makespan - minBusy
	}
	return b, tm
}

// Scalar composes the weighted objective. Horizon overflow is penalized
// above the lateness tier so the search is always driven back toward
// feasibility.
func Scalar(w model.Weights, b Breakdown) float64 {
	v := w.Lateness*float64(b.Lateness) +
		w.Changeover*float64(b.Changeover) +
		w.Makespan*float64(b.Makespan) +
		w.Balance*float64(b.Imbalance) +
		w.Compactness*float64(b.StartSum)
	if b.Overflow > 0 {
		v += 10 * w.Lateness * float64(b.Overflow)
	}
	return v
}

// Provenance maps each term to its weighted contribution, so callers can
// verify that no lower tier outweighed a higher one.
func Provenance(w model.Weights, b Breakdown) map[string]float64 {
	out := map[string]float64{
		"lateness":    w.Lateness * float64(b.Lateness),
		"changeover":  w.Changeover * float64(b.Changeover),
		"makespan":    w.Makespan * float64(b.Makespan),
		"balance":     w.Balance * float64(b.Imbalance),
		"compactness": w.Compactness * float64(b.StartSum),
	}
	if b.Overflow > 0 {
		out["overflow"] = 10 * w.Lateness * float64(b.Overflow)
	}
	return out
}

// assignments renders a solved solution into the output contract.
func (p *Pool) assignments(s *Solution, tm *Timing) []model.Assignment {
	out := make([]model.Assignment, 0, len(p.Orders))
	for ri, q := range s.Seq {
		for _, oi := range q {
			out = append(out, model.Assignment{
				OrderID:    p.Orders[oi].ID,
				ResourceID: p.Resources[ri].ID,
				StartMin:   tm.Start[oi],
				EndMin:     tm.End[oi],
				SetupMin:   tm.Setup[oi],
			})
		}
	}
	// stable output order: by start, then order id
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			a, b := out[j-1], out[j]
			if b.StartMin < a.StartMin || (b.StartMin == a.StartMin && b.OrderID < a.OrderID) {
				out[j-1], out[j] = b, a
			} else {
				break
			}
		}
	}
	return out
}

// loads reports per-resource busy minutes against the makespan.
func (p *Pool) loads(tm *Timing, makespan int) []model.ResourceLoad {
	out := make([]model.ResourceLoad, len(p.Resources))
	for ri := range p.Resources {
		u := 0.0
		if makespan > 0 {
			u = float64(tm.Busy[ri]) / float64(makespan)
		}
		out[ri] = model.ResourceLoad{ResourceID: p.Resources[ri].ID, BusyMin: tm.Busy[ri], Utilization: u}
	}
	return out
}

// solutionFromHints rebuilds a solution from previously solved
// assignments. Returns nil when the hints do not cover the pool.
func (p *Pool) solutionFromHints(hints []model.Assignment) *Solution {
	if len(hints) == 0 {
		return nil
	}
	oIdx := make(map[string]int, len(p.Orders))
	for i, o := range p.Orders {
		oIdx[o.ID] = i
	}
	rIdx := make(map[string]int, len(p.Resources))
	for i, r := range p.Resources {
		rIdx[r.ID] = i
	}
	type slot struct {
		oi, ri, start int
	}
	slots := make([]slot, 0, len(hints))
	covered := map[int]bool{}
	for _, h := range hints {
		oi, ok := oIdx[h.OrderID]
		if !ok {
			return nil
		}
		ri, ok := rIdx[h.ResourceID]
		if !ok {
			return nil
		}
		eligible := false
		for _, e := range p.Eligible[oi] {
			if e == ri {
				eligible = true
				break
			}
		}
		if !eligible || covered[oi] {
			return nil
		}
		covered[oi] = true
		slots = append(slots, slot{oi, ri, h.StartMin})
	}
	if len(covered) != len(p.Orders) {
		return nil
	}
	s := newSolution(len(p.Resources))
	// hint start times fix the per-resource order of execution
	for i := 1; i < len(slots); i++ {
		for j := i; j > 0 && (slots[j].start < slots[j-1].start ||
			(slots[j].start == slots[j-1].start && slots[j].oi < slots[j-1].oi)); j-- {
			slots[j], slots[j-1] = slots[j-1], slots[j]
		}
	}
	for _, sl := range slots {
		s.Seq[sl.ri] = append(s.Seq[sl.ri], sl.oi)
	}
	return s
}
