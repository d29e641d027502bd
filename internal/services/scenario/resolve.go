package scenario

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"RegimeSim/internal/domain/models"
	"RegimeSim/internal/services/copula"
	"RegimeSim/internal/services/guard"
)

// Fallback decides what a step uses when its regime has no fitted model.
type Fallback string

const (
	// FallbackNearest borrows the model of the closest fitted regime id,
	// preferring the lower id on ties.
	FallbackNearest Fallback = "nearest"
	// FallbackIndependence samples the pooled marginals with identity
	// correlation.
	FallbackIndependence Fallback = "independence"
	// FallbackSkip leaves the step undefined.
	FallbackSkip Fallback = "skip"
)

// ParseFallback validates a fallback policy name. The empty string selects
// FallbackNearest.
func ParseFallback(s string) (Fallback, error) {
	switch f := Fallback(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FallbackNearest, nil
	case FallbackNearest, FallbackIndependence, FallbackSkip:
		return f, nil
	default:
		return "", models.NewPreconditionError("fallback", fmt.Sprintf("unknown policy %q", s))
	}
}

// plan is a model prepared for drawing.
type plan struct {
	modelRegime models.RegimeID
	fallback    Fallback
	df          int
	batch       int
	lower       *mat.TriDense
	// columns maps the model dimension to the request product index.
	columns []int
	pools   []models.Series
}

// resolution is the outcome of resolving one requested regime.
type resolution struct {
	plan   *plan
	code   models.SkipCode
	reason string
}

func skip(code models.SkipCode, format string, args ...interface{}) resolution {
	return resolution{code: code, reason: fmt.Sprintf(format, args...)}
}

func (s *Sampler) resolve(set *models.ModelSet, products []models.Product, r models.RegimeID) resolution {
	if m := set.Model(r); m != nil {
		return s.prepare(m, r, "", nil, products)
	}
	missing := fmt.Sprintf("%v for regime %d", models.ErrNoFittedModel, r)
	if f, ok := set.Regimes[r]; ok && f.Reason != "" {
		missing = fmt.Sprintf("regime %d unfit: %s", r, f.Reason)
	}

	switch s.fallback {
	case FallbackNearest:
		id, ok := nearest(set, r)
		if !ok {
			return skip(models.SkipUnfitNoFallback, "%s; no fitted regime to borrow", missing)
		}
		return s.prepare(set.Model(id), id, FallbackNearest, nil, products)
	case FallbackIndependence:
		if set.Pooled == nil {
			return skip(models.SkipNoPool, "%s; no pooled model", missing)
		}
		df := set.Pooled.DF
		if s.independenceDF > 0 {
			df = s.independenceDF
		}
		eye := make([][]float64, set.Pooled.Dim())
		for i := range eye {
			eye[i] = make([]float64, len(eye))
			eye[i][i] = 1
		}
		return s.prepare(set.Pooled, models.UnknownRegime, FallbackIndependence, &override{df: df, corr: eye}, products)
	default:
		return skip(models.SkipUnfitNoFallback, "%s", missing)
	}
}

// override replaces the dependence structure of a borrowed model.
type override struct {
	df   int
	corr [][]float64
}

func (s *Sampler) prepare(m *models.CopulaModel, id models.RegimeID, fb Fallback, ov *override, products []models.Product) resolution {
	corr, df := m.Correlation, m.DF
	if ov != nil {
		corr, df = ov.corr, ov.df
	}
	// loaded models are not trusted to carry a coerced value
	df = guard.DegreesOfFreedom(float64(df))

	n := guard.SampleCount(s.upperCap, m.Observations)
	if !guard.CanSample(n) {
		return skip(models.SkipInsufficientSample, "%v: batch of %d draws for regime %d, need %d",
			models.ErrInsufficientSample, n, id, guard.MinSampleSize)
	}
	if m.Dim() == 0 {
		return skip(models.SkipInvalidModel, "regime %d model has no products", id)
	}
	if len(corr) != m.Dim() {
		return skip(models.SkipInvalidModel, "regime %d correlation is %dx%d for %d products", id, len(corr), len(corr), m.Dim())
	}
	_, chol, _, err := copula.Factor(corr)
	if err != nil {
		return skip(models.SkipInvalidModel, "regime %d: %v", id, err)
	}

	p := &plan{
		modelRegime: id,
		fallback:    fb,
		df:          df,
		batch:       n,
		lower:       copula.LowerFactor(chol),
		columns:     make([]int, m.Dim()),
		pools:       make([]models.Series, m.Dim()),
	}
	for j, prod := range m.Products {
		p.columns[j] = indexOf(products, prod)
		pool := finite(m.Pool[prod])
		if len(pool) == 0 {
			return skip(models.SkipInsufficientSample, "%v: regime %d has no innovations for %s", models.ErrInsufficientSample, id, prod)
		}
		p.pools[j] = pool
	}
	return resolution{plan: p}
}

// nearest returns the fitted regime closest to r, preferring the lower id.
func nearest(set *models.ModelSet, r models.RegimeID) (models.RegimeID, bool) {
	var (
		best  models.RegimeID
		found bool
	)
	for _, id := range set.RegimeIDs() {
		if id == r || set.Model(id) == nil {
			continue
		}
		if !found || abs(id-r) < abs(best-r) {
			best, found = id, true
		}
	}
	return best, found
}

func abs(r models.RegimeID) models.RegimeID {
	if r < 0 {
		return -r
	}
	return r
}

func indexOf(products []models.Product, prod models.Product) int {
	for i, p := range products {
		if p == prod {
			return i
		}
	}
	return -1
}

// finite returns a sorted copy of s without NaN or infinite values.
func finite(s models.Series) models.Series {
	out := make(models.Series, 0, len(s))
	for _, v := range s {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}
