package opt

import (
	"errors"
	"sync"
	"time"

	"prodplan/internal/model"
)

// Params configures one solver run.
type Params struct {
	Weights model.Weights
	// TimeLimit is the wall-clock budget; the only cancellation
	// mechanism. Zero means DefaultTimeLimit.
	TimeLimit time.Duration
	// Workers is the number of parallel search workers in heuristic
	// mode. Exact mode is single-threaded.
	Workers int
	Seed    int64
	// ExhaustiveLimit is the order count up to which the driver proves
	// optimality by exhaustive branch-and-bound.
	ExhaustiveLimit int
	// MaxIterations caps heuristic iterations; zero means run until the
	// deadline.
	MaxIterations int
	// Hints warm-start the search from a previous plan's assignments.
	Hints []model.Assignment
}

const (
	DefaultTimeLimit       = 30 * time.Second
	DefaultWorkers         = 4
	DefaultExhaustiveLimit = 9
)

// Improvement is emitted whenever the shared best bound improves.
type Improvement struct {
	Iteration int           `json:"iteration"`
	Objective float64       `json:"objective"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Result is the terminal state of one search.
type Result struct {
	Status        string
	Assignments   []model.Assignment
	Breakdown     Breakdown
	Objective     float64
	Weights       model.Weights
	Loads         []model.ResourceLoad
	Unsatisfiable []string
	Elapsed       time.Duration
	Iterations    int
}

// Solve runs the search driver: structural validation, then exhaustive
// branch-and-bound for small instances or adaptive large-neighborhood
// search under the time budget for larger ones. The call blocks until a
// terminal status is reached.
func Solve(p *Pool, params Params, onImprove func(Improvement)) (Result, error) {
	if p == nil {
		return Result{}, errors.New("nil pool")
	}
	w := params.Weights
	if w == (model.Weights{}) {
		w = model.DefaultWeights()
	}
	if w.Lateness < 0 || w.Changeover < 0 || w.Makespan < 0 || w.Balance < 0 || w.Compactness < 0 {
		return Result{}, errors.New("objective weights must be non-negative")
	}
	if params.TimeLimit <= 0 {
		params.TimeLimit = DefaultTimeLimit
	}
	if params.Workers <= 0 {
		params.Workers = DefaultWorkers
	}
	if params.ExhaustiveLimit <= 0 {
		params.ExhaustiveLimit = DefaultExhaustiveLimit
	}
	if params.Seed == 0 {
		params.Seed = 1
	}

	start := time.Now()
	if unsat := p.checkStructure(); len(unsat) > 0 {
		return Result{Status: model.StatusInfeasible, Unsatisfiable: unsat, Weights: w, Elapsed: time.Since(start)}, nil
	}

	deadline := start.Add(params.TimeLimit)
	sh := newShared(start, onImprove)

	// incumbent: prior plan if hinted, otherwise a greedy seed
	if hs := p.solutionFromHints(params.Hints); hs != nil {
		b, _ := p.Evaluate(hs)
		sh.improve(Scalar(w, b), hs, 0)
	}
	seed := p.greedySeed(w)
	{
		b, _ := p.Evaluate(seed)
		sh.improve(Scalar(w, b), seed, 0)
	}

	var status string
	if len(p.Orders) <= params.ExhaustiveLimit {
		status = p.exact(w, sh, deadline)
	} else {
		status = p.anneal(w, sh, params, deadline)
	}

	obj, best := sh.snapshot()
	b, tm := p.Evaluate(best)
	if b.Overflow > 0 && status == model.StatusOptimal {
		// the completed enumeration visited every assignment, so an
		// overflowing optimum proves nothing fits the horizon
		return Result{Status: model.StatusInfeasible, Weights: w, Elapsed: time.Since(start), Iterations: sh.iterations()}, nil
	}
	// a heuristic or timed-out search that still overflows is not a
	// proof; report the incumbent and surface the overflow in the
	// breakdown
	return Result{
		Status:      status,
		Assignments: p.assignments(best, tm),
		Breakdown:   b,
		Objective:   obj,
		Weights:     w,
		Loads:       p.loads(tm, b.Makespan),
		Elapsed:     time.Since(start),
		Iterations:  sh.iterations(),
	}, nil
}

// shared is the monotonically improving best bound, updated through a
// single synchronization point per improvement.
type shared struct {
	mu        sync.Mutex
	obj       float64
	sol       *Solution
	iters     int
	start     time.Time
	onImprove func(Improvement)
}

func newShared(start time.Time, onImprove func(Improvement)) *shared {
	return &shared{obj: 0, start: start, onImprove: onImprove}
}

// improve installs a strictly better solution (ties broken by
// lexicographic sequence order, for reproducible runs). Returns whether
// the bound moved.
func (sh *shared) improve(obj float64, s *Solution, iter int) bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.sol != nil && obj > sh.obj-1e-9 {
		if obj > sh.obj+1e-9 || !lexLess(s, sh.sol) {
			return false
		}
	}
	sh.obj = obj
	sh.sol = s.clone()
	if sh.onImprove != nil {
		sh.onImprove(Improvement{Iteration: iter, Objective: obj, Elapsed: time.Since(sh.start)})
	}
	return true
}

func (sh *shared) snapshot() (float64, *Solution) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.obj, sh.sol.clone()
}

func (sh *shared) addIterations(n int) {
	sh.mu.Lock()
	sh.iters += n
	sh.mu.Unlock()
}

func (sh *shared) iterations() int {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.iters
}

func lexLess(a, b *Solution) bool {
	for i := range a.Seq {
		qa, qb := a.Seq[i], b.Seq[i]
		for k := 0; k < len(qa) && k < len(qb); k++ {
			if qa[k] != qb[k] {
				return qa[k] < qb[k]
			}
		}
		if len(qa) != len(qb) {
			return len(qa) < len(qb)
		}
	}
	return false
}
