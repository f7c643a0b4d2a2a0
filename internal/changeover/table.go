package changeover

import (
	"math"

	"prodplan/internal/model"
)

// Table is a dense order-pair cost matrix for one (group, mode). The
// solver queries every ordered pair once per resource, so rule
// resolution is done up front and rounded to whole minutes.
type Table struct {
	n    int
	cost []int
}

// BuildTable resolves the transition cost for every ordered order pair.
func BuildTable(rules *Rules, group string, mode Mode, orders []model.Order) *Table {
	n := len(orders)
	t := &Table{n: n, cost: make([]int, n*n)}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			c := rules.Transition(group, mode, orders[i].Attributes, orders[j].Attributes)
			t.cost[i*n+j] = int(math.Round(c))
		}
	}
	return t
}

// Cost returns the setup minutes for running order j directly after
// order i. Indices are positions in the order slice the table was built
// from.
func (t *Table) Cost(i, j int) int {
	return t.cost[i*t.n+j]
}
