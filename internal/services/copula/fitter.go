// Package copula fits one dependency model per market regime from aligned
// label and return panels.
package copula

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"RegimeSim/internal/domain/models"
	"RegimeSim/internal/services/guard"
	"RegimeSim/internal/services/panel"
)

// Fitter estimates regime copulas. It holds no state between calls.
type Fitter struct {
	workers int
	now     func() time.Time
}

// Option configures a Fitter.
type Option func(*Fitter)

// WithWorkers bounds the number of regimes fitted concurrently.
func WithWorkers(n int) Option {
	return func(f *Fitter) {
		if n > 0 {
			f.workers = n
		}
	}
}

// WithClock overrides the fit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(f *Fitter) {
		if now != nil {
			f.now = now
		}
	}
}

// NewFitter creates a Fitter.
func NewFitter(opts ...Option) *Fitter {
	f := &Fitter{workers: runtime.GOMAXPROCS(0), now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fit estimates one model per regime present in the aligned labels, plus a
// pooled model over every complete row. Regimes with fewer than two usable
// rows are reported as unfit without affecting the others. Only an
// unsupported family or a cancelled context aborts the call.
func (f *Fitter) Fit(ctx context.Context, al panel.Aligned, family models.Family) (*models.ModelSet, models.FitReport, error) {
	if !models.SupportedFamily(family) {
		return nil, models.FitReport{}, models.NewPreconditionError("family", fmt.Sprintf("unsupported copula family %q", family))
	}

	part := classify(al)
	ids := part.regimes()
	fits := make([]models.RegimeFit, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for k, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fits[k] = fitRegime(part.sample(al.Returns, id), family)
			return nil
		})
	}
	var pooled models.RegimeFit
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		pooled = fitRegime(part.pooled(al.Returns), family)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, models.FitReport{}, fmt.Errorf("fit regimes: %w", err)
	}

	set := &models.ModelSet{
		Family:   family,
		Products: al.Labels.Products(),
		Regimes:  make(map[models.RegimeID]*models.RegimeFit, len(fits)),
		Pooled:   pooled.Model,
		FittedAt: f.now().UTC(),
	}
	report := models.FitReport{
		Family:          family,
		Rows:            al.Length,
		UnlabeledRows:   part.unlabeled,
		ConflictingRows: part.conflicting,
		Fitted:          []models.RegimeID{},
		Unfit:           []models.RegimeID{},
		Regimes:         fits,
	}
	for i := range fits {
		rf := fits[i]
		set.Regimes[rf.Regime] = &rf
		if rf.Fitted() {
			report.Fitted = append(report.Fitted, rf.Regime)
		} else {
			report.Unfit = append(report.Unfit, rf.Regime)
		}
	}
	return set, report, nil
}

func fitRegime(s sample, family models.Family) models.RegimeFit {
	rf := models.RegimeFit{Regime: s.regime, Status: models.StatusUnfit, Rows: len(s.data), RawDF: models.Estimate(math.NaN())}
	if !guard.Usable(len(s.data)) {
		rf.Reason = fmt.Sprintf("%v: %d usable rows, need %d", models.ErrDegenerateFit, len(s.data), guard.MinObservations)
		return rf
	}

	d := len(s.products)
	u := PseudoObservations(s.data)
	corr := [][]float64{{1}}
	if d > 1 {
		est := estimateT(u)
		rf.RawDF, rf.Converged = models.Estimate(est.nu), est.converged
		corr = est.correlation
	}
	df := guard.DegreesOfFreedom(float64(rf.RawDF))
	if d > 1 {
		if _, c, ok := logLikelihood(u, float64(df)); ok {
			corr = c
		}
	}
	sym, _, _, err := Factor(corr)
	if err != nil {
		rf.Reason = fmt.Sprintf("%v: %v", models.ErrDegenerateFit, err)
		return rf
	}

	pool := make(map[models.Product]models.Series, d)
	for j, prod := range s.products {
		col := make(models.Series, len(s.data))
		for i, row := range s.data {
			col[i] = row[j]
		}
		sort.Float64s(col)
		pool[prod] = col
	}

	rf.Status = models.StatusFitted
	rf.Model = &models.CopulaModel{
		Regime:       s.regime,
		Family:       family,
		Products:     append([]models.Product(nil), s.products...),
		Correlation:  Rows(sym),
		DF:           df,
		Observations: len(s.data),
		Pool:         pool,
	}
	return rf
}
