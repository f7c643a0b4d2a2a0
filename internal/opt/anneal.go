package opt

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"prodplan/internal/model"
)

// anneal runs the adaptive large-neighborhood search: parallel workers
// with derived seeds destroy and repair the incumbent, sharing only the
// read-only pool and the best bound. Returns timed_out when the
// deadline cut the search, feasible when the iteration cap was reached
// first.
func (p *Pool) anneal(w model.Weights, sh *shared, params Params, deadline time.Time) string {
	var wg sync.WaitGroup
	capped := false
	var mu sync.Mutex
	for wi := 0; wi < params.Workers; wi++ {
		wg.Add(1)
		go func(wid int) {
			defer wg.Done()
			hitCap := p.annealWorker(w, sh, params.Seed+int64(wid), deadline, params.MaxIterations)
			if hitCap {
				mu.Lock()
				capped = true
				mu.Unlock()
			}
		}(wi)
	}
	wg.Wait()
	if capped {
		return model.StatusFeasible
	}
	return model.StatusTimedOut
}

func (p *Pool) annealWorker(w model.Weights, sh *shared, seed int64, deadline time.Time, maxIter int) bool {
	rng := rand.New(rand.NewSource(seed))
	_, curr := sh.snapshot()
	_, currObj := p.scalarOf(w, curr)

	remW := []float64{1, 1} // random, related
	insW := []float64{1, 1} // greedy, regret2
	temp := 1.0
	const cooling = 0.995

	iters := 0
	for {
		if time.Now().After(deadline) {
			sh.addIterations(iters)
			return false
		}
		if maxIter > 0 && iters >= maxIter {
			sh.addIterations(iters)
			return true
		}
		iters++

		k := 1 + rng.Intn(3)
		op := rouletteSelect(remW, rng)
		ip := rouletteSelect(insW, rng)

		var removed []int
		switch op {
		case 0:
			removed = p.randomRemoval(curr, k, rng)
		case 1:
			removed = p.relatedRemoval(curr, k, rng)
		}
		for _, oi := range removed {
			ri, pos := curr.find(oi)
			curr.remove(ri, pos)
		}
		switch ip {
		case 0:
			p.greedyInsert(w, curr, removed)
		case 1:
			p.regretInsert(w, curr, removed)
		}
		p.twoOptImprove(w, curr)
		p.crossSwapImprove(w, curr)
		_, currObj = p.scalarOf(w, curr)

		bestObj, _ := sh.snapshotObj()
		delta := currObj - bestObj
		if delta < 0 || rng.Float64() < math.Exp(-delta/(temp+1e-9)) {
			if delta < 0 && sh.improve(currObj, curr, iters) {
				remW[op] += 0.1
				insW[ip] += 0.1
			} else {
				remW[op] += 0.01
				insW[ip] += 0.01
			}
		} else {
			remW[op] = math.Max(0.01, remW[op]*0.999)
			insW[ip] = math.Max(0.01, insW[ip]*0.999)
		}
		temp *= cooling
	}
}

func (p *Pool) scalarOf(w model.Weights, s *Solution) (Breakdown, float64) {
	b, _ := p.Evaluate(s)
	return b, Scalar(w, b)
}

// greedySeed builds the initial incumbent: orders by due date (earliest
// first, undated last), each placed at its cheapest feasible slot.
func (p *Pool) greedySeed(w model.Weights) *Solution {
	idx := make([]int, len(p.Orders))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		da, db := p.Orders[idx[a]].DueMin, p.Orders[idx[b]].DueMin
		switch {
		case da != nil && db != nil && *da != *db:
			return *da < *db
		case da != nil && db == nil:
			return true
		case da == nil && db != nil:
			return false
		}
		return idx[a] < idx[b]
	})
	s := newSolution(len(p.Resources))
	p.greedyInsert(w, s, idx)
	return s
}

func (p *Pool) randomRemoval(s *Solution, k int, rng *rand.Rand) []int {
	all := make([]int, 0, len(p.Orders))
	for _, q := range s.Seq {
		all = append(all, q...)
	}
	sort.Ints(all)
	removed := []int{}
	for i := 0; i < k && len(all) > 0; i++ {
		j := rng.Intn(len(all))
		removed = append(removed, all[j])
		all = append(all[:j], all[j+1:]...)
	}
	return removed
}

// relatedRemoval removes a seed order plus the orders cheapest to run
// next to it, so the repair step can regroup matching attribute states.
func (p *Pool) relatedRemoval(s *Solution, k int, rng *rand.Rand) []int {
	all := make([]int, 0, len(p.Orders))
	for _, q := range s.Seq {
		all = append(all, q...)
	}
	if len(all) == 0 {
		return nil
	}
	sort.Ints(all)
	anchor := all[rng.Intn(len(all))]
	tab := p.Tables[p.Eligible[anchor][0]]
	type scored struct {
		oi, cost int
	}
	rel := []scored{}
	for _, oi := range all {
		if oi == anchor {
			continue
		}
		c := tab.Cost(anchor, oi) + tab.Cost(oi, anchor)
		rel = append(rel, scored{oi, c})
	}
	sort.Slice(rel, func(a, b int) bool {
		if rel[a].cost != rel[b].cost {
			return rel[a].cost < rel[b].cost
		}
		return rel[a].oi < rel[b].oi
	})
	removed := []int{anchor}
	for i := 0; i < len(rel) && len(removed) < k; i++ {
		removed = append(removed, rel[i].oi)
	}
	return removed
}

// greedyInsert repairs by repeatedly taking the globally cheapest
// (order, resource, position) insertion.
func (p *Pool) greedyInsert(w model.Weights, s *Solution, removed []int) {
	pending := append([]int(nil), removed...)
	for len(pending) > 0 {
		bestN, bestR, bestP := -1, -1, -1
		bestObj := math.MaxFloat64
		for ni, oi := range pending {
			obj, ri, pos := p.cheapestSlot(w, s, oi)
			if obj < bestObj-1e-9 {
				bestObj, bestN, bestR, bestP = obj, ni, ri, pos
			}
		}
		oi := pending[bestN]
		s.insert(bestR, bestP, oi)
		pending = append(pending[:bestN], pending[bestN+1:]...)
	}
}

// regretInsert repairs by largest regret-2 first: the order that loses
// the most if denied its best slot is placed before the others.
func (p *Pool) regretInsert(w model.Weights, s *Solution, removed []int) {
	pending := append([]int(nil), removed...)
	for len(pending) > 0 {
		bestN := -1
		bestRegret := -1.0
		bestR, bestP := -1, -1
		for ni, oi := range pending {
			b1, b2 := math.MaxFloat64, math.MaxFloat64
			r1, p1 := -1, -1
			for _, ri := range p.Eligible[oi] {
				for pos := 0; pos <= len(s.Seq[ri]); pos++ {
					s.insert(ri, pos, oi)
					_, obj := p.scalarOf(w, s)
					s.remove(ri, pos)
					if obj < b1 {
						b2, b1 = b1, obj
						r1, p1 = ri, pos
					} else if obj < b2 {
						b2 = obj
					}
				}
			}
			regret := b2 - b1
			if regret > bestRegret+1e-9 || bestN < 0 {
				bestRegret, bestN, bestR, bestP = regret, ni, r1, p1
			}
		}
		oi := pending[bestN]
		s.insert(bestR, bestP, oi)
		pending = append(pending[:bestN], pending[bestN+1:]...)
	}
}

func (p *Pool) cheapestSlot(w model.Weights, s *Solution, oi int) (float64, int, int) {
	bestObj := math.MaxFloat64
	bestR, bestP := -1, -1
	for _, ri := range p.Eligible[oi] {
		for pos := 0; pos <= len(s.Seq[ri]); pos++ {
			s.insert(ri, pos, oi)
			_, obj := p.scalarOf(w, s)
			s.remove(ri, pos)
			if obj < bestObj-1e-9 {
				bestObj, bestR, bestP = obj, ri, pos
			}
		}
	}
	return bestObj, bestR, bestP
}

// twoOptImprove reverses segments within each resource sequence while
// it keeps lowering the objective (single first-improvement pass).
func (p *Pool) twoOptImprove(w model.Weights, s *Solution) {
	_, base := p.scalarOf(w, s)
	for ri := range s.Seq {
		q := s.Seq[ri]
		n := len(q)
		for i := 0; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				reverse(q, i, k)
				_, obj := p.scalarOf(w, s)
				if obj < base-1e-9 {
					base = obj
				} else {
					reverse(q, i, k)
				}
			}
		}
	}
}

// crossSwapImprove exchanges orders between resources when both remain
// eligible and the objective drops.
func (p *Pool) crossSwapImprove(w model.Weights, s *Solution) {
	if len(s.Seq) < 2 {
		return
	}
	_, base := p.scalarOf(w, s)
	for a := 0; a < len(s.Seq); a++ {
		for b := a + 1; b < len(s.Seq); b++ {
			for i := 0; i < len(s.Seq[a]); i++ {
				for j := 0; j < len(s.Seq[b]); j++ {
					oa, ob := s.Seq[a][i], s.Seq[b][j]
					if !p.eligibleOn(oa, b) || !p.eligibleOn(ob, a) {
						continue
					}
					s.Seq[a][i], s.Seq[b][j] = ob, oa
					_, obj := p.scalarOf(w, s)
					if obj < base-1e-9 {
						base = obj
					} else {
						s.Seq[a][i], s.Seq[b][j] = oa, ob
					}
				}
			}
		}
	}
}

func (p *Pool) eligibleOn(oi, ri int) bool {
	for _, e := range p.Eligible[oi] {
		if e == ri {
			return true
		}
	}
	return false
}

func reverse(q []int, i, k int) {
	for a, b := i, k; a < b; a, b = a+1, b-1 {
		q[a], q[b] = q[b], q[a]
	}
}

func rouletteSelect(weights []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	r := rng.Float64() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return i
		}
	}
	return len(weights) - 1
}
