// Package scenario draws joint innovation paths from a fitted model set
// along a regime path.
package scenario

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"RegimeSim/internal/domain/models"
	"RegimeSim/internal/services/guard"
)

// Request describes one simulation call.
type Request struct {
	// Products selects and orders the output columns. Empty means the model
	// set's universe.
	Products   []models.Product
	RegimePath []models.RegimeID
	PathCount  int
	// Seed makes the call reproducible. Zero picks a time-based seed, which
	// is reported back.
	Seed int64
}

// Sampler draws scenario paths. It is safe for concurrent use.
type Sampler struct {
	upperCap       int
	fallback       Fallback
	independenceDF int
	workers        int
	seed           func() int64
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithUpperCap bounds the per-regime draw batch.
func WithUpperCap(n int) Option {
	return func(s *Sampler) {
		if n > 0 {
			s.upperCap = n
		}
	}
}

// WithFallback sets the policy for regimes without a fitted model.
func WithFallback(f Fallback) Option {
	return func(s *Sampler) {
		if f != "" {
			s.fallback = f
		}
	}
}

// WithIndependenceDF overrides the degrees of freedom used by the
// independence fallback. Zero keeps the pooled model's value.
func WithIndependenceDF(df int) Option {
	return func(s *Sampler) { s.independenceDF = df }
}

// WithWorkers bounds the number of paths drawn concurrently.
func WithWorkers(n int) Option {
	return func(s *Sampler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithSeedSource sets where seeds come from when a request carries none.
func WithSeedSource(fn func() int64) Option {
	return func(s *Sampler) {
		if fn != nil {
			s.seed = fn
		}
	}
}

// NewSampler creates a Sampler.
func NewSampler(opts ...Option) *Sampler {
	s := &Sampler{
		upperCap: guard.DefaultUpperCap,
		fallback: FallbackNearest,
		workers:  runtime.GOMAXPROCS(0),
		seed:     func() int64 { return time.Now().UnixNano() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Simulate draws req.PathCount paths following req.RegimePath. Precondition
// violations are reported before anything is drawn. Regimes that cannot be
// sampled produce skipped steps with a reason; they never fail the call.
func (s *Sampler) Simulate(ctx context.Context, set *models.ModelSet, req Request) ([]models.SimulationPath, models.SimulationReport, error) {
	products, err := validate(set, req)
	if err != nil {
		return nil, models.SimulationReport{}, err
	}

	seed := req.Seed
	if seed == 0 {
		seed = s.seed()
	}
	report := models.SimulationReport{
		Paths:      req.PathCount,
		Steps:      len(req.RegimePath),
		Seed:       seed,
		Fallbacks:  map[models.RegimeID]models.RegimeID{},
		BatchSizes: map[models.RegimeID]int{},
	}

	plans := make(map[models.RegimeID]resolution)
	for _, r := range req.RegimePath {
		if _, ok := plans[r]; ok {
			continue
		}
		res := s.resolve(set, products, r)
		plans[r] = res
		if res.plan != nil {
			report.BatchSizes[r] = res.plan.batch
			if res.plan.fallback == FallbackNearest {
				report.Fallbacks[r] = res.plan.modelRegime
			}
		}
	}

	master := rand.New(rand.NewSource(seed))
	seeds := make([]int64, req.PathCount)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	paths := make([]models.SimulationPath, req.PathCount)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			paths[i] = drawPath(i, seeds[i], products, req.RegimePath, plans)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, models.SimulationReport{}, fmt.Errorf("simulate paths: %w", err)
	}

	summarize(&report, paths, req.RegimePath, plans)
	return paths, report, nil
}

func validate(set *models.ModelSet, req Request) ([]models.Product, error) {
	if set == nil {
		return nil, models.NewPreconditionError("models", "no fitted model set")
	}
	if !models.SupportedFamily(set.Family) {
		return nil, models.NewPreconditionError("family", fmt.Sprintf("unsupported copula family %q", set.Family))
	}
	if req.PathCount < 1 {
		return nil, models.NewPreconditionError("path_count", fmt.Sprintf("must be at least 1, got %d", req.PathCount))
	}
	if len(req.RegimePath) == 0 {
		return nil, models.NewPreconditionError("regime_path", "empty regime path")
	}
	for t, r := range req.RegimePath {
		if r < 0 {
			return nil, models.NewPreconditionError("regime_path", fmt.Sprintf("step %d has undefined regime %d", t, r))
		}
	}

	products := req.Products
	if len(products) == 0 {
		products = set.Products
	}
	known := make(map[models.Product]bool, len(set.Products))
	for _, p := range set.Products {
		known[p] = true
	}
	seen := make(map[models.Product]bool, len(products))
	for _, p := range products {
		if !known[p] {
			return nil, models.NewPreconditionError("products", fmt.Sprintf("product %q is not in the universe", p))
		}
		if seen[p] {
			return nil, models.NewPreconditionError("products", fmt.Sprintf("product %q requested twice", p))
		}
		seen[p] = true
	}
	return append([]models.Product(nil), products...), nil
}

// deck deals the rows of one batch in a random order without replacement,
// reshuffling once every row has been dealt.
type deck struct {
	rows  [][]float64
	order []int
	next  int
}

func (d *deck) deal(rng *rand.Rand) []float64 {
	if d.next == len(d.order) {
		d.order, d.next = rng.Perm(len(d.rows)), 0
	}
	row := d.rows[d.order[d.next]]
	d.next++
	return row
}

// drawPath is deterministic in its seed. Batches are drawn on the first
// step of each regime, in path order. Steps of one regime reuse a row only
// after the whole batch has been dealt.
func drawPath(index int, seed int64, products []models.Product, regimes []models.RegimeID, plans map[models.RegimeID]resolution) models.SimulationPath {
	rng := rand.New(rand.NewSource(seed))
	decks := make(map[*plan]*deck)
	path := models.SimulationPath{
		Index:    index,
		Seed:     seed,
		Products: append([]models.Product(nil), products...),
		Steps:    make([]models.PathStep, len(regimes)),
	}
	for t, r := range regimes {
		step := models.PathStep{Step: t, Regime: r, Values: make([]models.Innovation, len(products))}
		for i := range step.Values {
			step.Values[i] = models.Undefined()
		}
		res := plans[r]
		if res.plan == nil {
			step.Skipped, step.Code, step.Reason = true, res.code, res.reason
			path.Steps[t] = step
			continue
		}
		p := res.plan
		d, ok := decks[p]
		if !ok {
			d = &deck{rows: drawBatch(rng, p)}
			decks[p] = d
		}
		row := d.deal(rng)
		for j, col := range p.columns {
			if col >= 0 {
				step.Values[col] = models.Innovation(row[j])
			}
		}
		step.ModelRegime = p.modelRegime
		step.Fallback = string(p.fallback)
		path.Steps[t] = step
	}
	return path
}

func summarize(report *models.SimulationReport, paths []models.SimulationPath, regimes []models.RegimeID, plans map[models.RegimeID]resolution) {
	skipped := make(map[models.RegimeID]int)
	for _, r := range regimes {
		if plans[r].plan == nil {
			skipped[r]++
		}
	}
	per := 0
	for _, c := range skipped {
		per += c
	}
	report.SkippedSteps = per * len(paths)
	report.SampledSteps = (len(regimes) - per) * len(paths)

	ids := make([]models.RegimeID, 0, len(skipped))
	for r := range skipped {
		ids = append(ids, r)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, r := range ids {
		report.Skips = append(report.Skips, models.SkipSummary{
			Regime: r,
			Count:  skipped[r] * len(paths),
			Code:   plans[r].code,
			Reason: plans[r].reason,
		})
	}
}
