// Package transition generates regime paths for simulation.
package transition

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"RegimeSim/internal/domain/models"
	domsvc "RegimeSim/internal/domain/service"
	"RegimeSim/internal/services/panel"
)

// Markov is a first-order regime chain estimated from observed labels.
// Transitions are counted between consecutive rows that both carry a known
// consensus label.
type Markov struct {
	states []models.RegimeID
	index  map[models.RegimeID]int
	// counts[i][j] is the number of i -> j transitions.
	counts    [][]int
	frequency []int
	now       func() time.Time
}

// Estimate builds the chain from the first n rows of a regime panel.
func Estimate(labels models.Panel, n int) (*Markov, error) {
	rows := panel.Consensus(labels, n)
	m := &Markov{index: make(map[models.RegimeID]int), now: time.Now}
	for _, row := range rows {
		if row.Known() {
			if _, ok := m.index[row.Regime]; !ok {
				m.index[row.Regime] = -1
				m.states = append(m.states, row.Regime)
			}
		}
	}
	if len(m.states) == 0 {
		return nil, fmt.Errorf("estimate transitions: %w: no labelled rows", models.ErrMissingInput)
	}
	sort.Slice(m.states, func(i, j int) bool { return m.states[i] < m.states[j] })
	for i, s := range m.states {
		m.index[s] = i
	}

	k := len(m.states)
	m.counts = make([][]int, k)
	for i := range m.counts {
		m.counts[i] = make([]int, k)
	}
	m.frequency = make([]int, k)
	prev := -1
	for _, row := range rows {
		if !row.Known() {
			prev = -1
			continue
		}
		cur := m.index[row.Regime]
		m.frequency[cur]++
		if prev >= 0 {
			m.counts[prev][cur]++
		}
		prev = cur
	}
	return m, nil
}

// States returns the known regimes in ascending order.
func (m *Markov) States() []models.RegimeID {
	return append([]models.RegimeID(nil), m.states...)
}

// Probabilities returns the row-normalised transition matrix over States. A
// state never left uses the overall regime frequencies.
func (m *Markov) Probabilities() [][]float64 {
	out := make([][]float64, len(m.states))
	for i := range out {
		out[i] = m.row(i)
	}
	return out
}

func (m *Markov) row(i int) []float64 {
	weights := m.counts[i]
	total := sum(weights)
	if total == 0 {
		weights, total = m.frequency, sum(m.frequency)
	}
	p := make([]float64, len(weights))
	for j, w := range weights {
		p[j] = float64(w) / float64(total)
	}
	return p
}

// Generate returns a path of steps regimes starting at start. An unknown
// start regime is replaced by the most frequent one. Every emitted regime
// occurs in the estimation data.
func (m *Markov) Generate(ctx context.Context, start models.RegimeID, steps int, seed int64) ([]models.RegimeID, error) {
	if steps < 1 {
		return nil, models.NewPreconditionError("steps", fmt.Sprintf("must be at least 1, got %d", steps))
	}
	if seed == 0 {
		seed = m.now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	cur, ok := m.index[start]
	if !ok {
		cur = argmax(m.frequency)
	}
	path := make([]models.RegimeID, steps)
	path[0] = m.states[cur]
	for t := 1; t < steps; t++ {
		if t%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cur = pick(rng, m.row(cur))
		path[t] = m.states[cur]
	}
	return path, nil
}

func pick(rng *rand.Rand, p []float64) int {
	u := rng.Float64()
	var acc float64
	last := 0
	for j, v := range p {
		if v <= 0 {
			continue
		}
		acc += v
		last = j
		if u < acc {
			return j
		}
	}
	return last
}

func sum(xs []int) int {
	var s int
	for _, x := range xs {
		s += x
	}
	return s
}

func argmax(xs []int) int {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return best
}

var _ domsvc.RegimePathGenerator = (*Markov)(nil)
