package scenario

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegimeSim/internal/domain/models"
)

func pool(n int, offset float64) models.Series {
	s := make(models.Series, n)
	for i := range s {
		s[i] = offset + float64(i)/float64(n)
	}
	return s
}

func testModel(r models.RegimeID, obs int, products ...models.Product) *models.CopulaModel {
	d := len(products)
	corr := make([][]float64, d)
	for i := range corr {
		corr[i] = make([]float64, d)
		for j := range corr[i] {
			corr[i][j] = 0.5
		}
		corr[i][i] = 1
	}
	pools := make(map[models.Product]models.Series, d)
	for i, p := range products {
		pools[p] = pool(obs, float64(10*int(r)+i))
	}
	return &models.CopulaModel{
		Regime:       r,
		Family:       models.FamilyT,
		Products:     products,
		Correlation:  corr,
		DF:           4,
		Observations: obs,
		Pool:         pools,
	}
}

func testSet(ms ...*models.CopulaModel) *models.ModelSet {
	set := &models.ModelSet{
		Family:   models.FamilyT,
		Products: []models.Product{"A", "B", "C"},
		Regimes:  map[models.RegimeID]*models.RegimeFit{},
	}
	for _, m := range ms {
		set.Regimes[m.Regime] = &models.RegimeFit{Regime: m.Regime, Status: models.StatusFitted, Model: m, Rows: m.Observations}
	}
	return set
}

func TestSimulateFourStepPath(t *testing.T) {
	set := testSet(testModel(1, 50, "A", "B"), testModel(2, 50, "A", "B"))
	s := NewSampler(WithUpperCap(1000))

	paths, rep, err := s.Simulate(context.Background(), set, Request{
		Products:   []models.Product{"A", "B"},
		RegimePath: []models.RegimeID{1, 1, 2, 2},
		PathCount:  1,
		Seed:       42,
	})
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Len(t, paths[0].Steps, 4)
	assert.Equal(t, 4, rep.SampledSteps)
	assert.Zero(t, rep.SkippedSteps)
	assert.Equal(t, map[models.RegimeID]int{1: 50, 2: 50}, rep.BatchSizes)

	for i, step := range paths[0].Steps {
		assert.False(t, step.Skipped, "step %d", i)
		assert.Equal(t, step.Regime, step.ModelRegime)
		require.Len(t, step.Values, 2)
		for j, v := range step.Values {
			require.True(t, v.Defined(), "step %d product %d", i, j)
			lo := float64(10*int(step.Regime) + j)
			assert.GreaterOrEqual(t, float64(v), lo)
			assert.LessOrEqual(t, float64(v), lo+1)
		}
	}
}

func TestSimulatePreconditions(t *testing.T) {
	set := testSet(testModel(1, 10, "A", "B"))
	cases := []struct {
		name string
		set  *models.ModelSet
		req  Request
	}{
		{"nil set", nil, Request{RegimePath: []models.RegimeID{1}, PathCount: 1}},
		{"unknown product", set, Request{Products: []models.Product{"A", "Z"}, RegimePath: []models.RegimeID{1}, PathCount: 1}},
		{"duplicate product", set, Request{Products: []models.Product{"A", "A"}, RegimePath: []models.RegimeID{1}, PathCount: 1}},
		{"empty path", set, Request{PathCount: 1}},
		{"negative regime", set, Request{RegimePath: []models.RegimeID{1, -1}, PathCount: 1}},
		{"zero paths", set, Request{RegimePath: []models.RegimeID{1}, PathCount: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			paths, _, err := NewSampler().Simulate(context.Background(), tc.set, tc.req)
			require.Error(t, err)
			assert.True(t, models.IsPrecondition(err))
			assert.Nil(t, paths)
		})
	}
}

func TestSimulateSkipsSmallBatch(t *testing.T) {
	set := testSet(testModel(1, 30, "A", "B"), testModel(2, 1, "A", "B"))
	paths, rep, err := NewSampler(WithFallback(FallbackSkip)).Simulate(context.Background(), set, Request{
		RegimePath: []models.RegimeID{1, 2, 1},
		PathCount:  3,
		Seed:       7,
	})
	require.NoError(t, err)
	require.Len(t, paths, 3)
	for _, p := range paths {
		step := p.Steps[1]
		assert.True(t, step.Skipped)
		assert.Contains(t, step.Reason, models.ErrInsufficientSample.Error())
		for _, v := range step.Values {
			assert.False(t, v.Defined())
		}
		assert.False(t, p.Steps[0].Skipped)
	}
	assert.Equal(t, 3, rep.SkippedSteps)
	assert.Equal(t, 6, rep.SampledSteps)
	require.Len(t, rep.Skips, 1)
	assert.Equal(t, models.RegimeID(2), rep.Skips[0].Regime)
	assert.Equal(t, 3, rep.Skips[0].Count)
	assert.Equal(t, models.SkipInsufficientSample, rep.Skips[0].Code)
}

func TestSimulateSkipCodes(t *testing.T) {
	unfit := func() *models.ModelSet {
		set := testSet(testModel(1, 10, "A"))
		set.Regimes[4] = &models.RegimeFit{Regime: 4, Status: models.StatusUnfit, Reason: "degenerate fit: 1 usable rows, need 2"}
		return set
	}
	malformed := testModel(2, 10, "A", "B")
	malformed.Correlation = [][]float64{{1}}

	tests := []struct {
		name     string
		set      *models.ModelSet
		fallback Fallback
		regime   models.RegimeID
		code     models.SkipCode
		reason   string
	}{
		{"unfit regime", unfit(), FallbackSkip, 4, models.SkipUnfitNoFallback, "regime 4 unfit"},
		{"absent regime", testSet(testModel(1, 10, "A")), FallbackSkip, 7, models.SkipUnfitNoFallback, models.ErrNoFittedModel.Error()},
		{"nothing to borrow", &models.ModelSet{Family: models.FamilyT, Products: []models.Product{"A"}}, FallbackNearest, 2, models.SkipUnfitNoFallback, "no fitted regime to borrow"},
		{"no pooled model", unfit(), FallbackIndependence, 4, models.SkipNoPool, "no pooled model"},
		{"small batch", testSet(testModel(1, 1, "A")), FallbackSkip, 1, models.SkipInsufficientSample, models.ErrInsufficientSample.Error()},
		{"malformed model", testSet(malformed), FallbackSkip, 2, models.SkipInvalidModel, "correlation is 1x1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			paths, rep, err := NewSampler(WithFallback(tc.fallback)).Simulate(context.Background(), tc.set, Request{
				Products:   []models.Product{"A"},
				RegimePath: []models.RegimeID{tc.regime},
				PathCount:  2,
				Seed:       3,
			})
			require.NoError(t, err)
			step := paths[0].Steps[0]
			require.True(t, step.Skipped)
			assert.Equal(t, tc.code, step.Code)
			assert.Contains(t, step.Reason, tc.reason)
			require.Len(t, rep.Skips, 1)
			assert.Equal(t, tc.code, rep.Skips[0].Code)
			assert.Equal(t, 2, rep.Skips[0].Count)
		})
	}
}

func TestSimulateMissingModelIsNotInsufficientSample(t *testing.T) {
	paths, _, err := NewSampler(WithFallback(FallbackSkip)).Simulate(context.Background(), testSet(testModel(1, 10, "A")), Request{
		Products:   []models.Product{"A"},
		RegimePath: []models.RegimeID{5},
		PathCount:  1,
		Seed:       1,
	})
	require.NoError(t, err)
	assert.NotContains(t, paths[0].Steps[0].Reason, models.ErrInsufficientSample.Error())
}

func TestSimulateUpperCapBoundsBatch(t *testing.T) {
	set := testSet(testModel(1, 500, "A"))
	_, rep, err := NewSampler(WithUpperCap(20)).Simulate(context.Background(), set, Request{
		Products:   []models.Product{"A"},
		RegimePath: []models.RegimeID{1},
		PathCount:  1,
		Seed:       1,
	})
	require.NoError(t, err)
	assert.Equal(t, 20, rep.BatchSizes[1])
}

func TestSimulateAbsentProductIsUndefined(t *testing.T) {
	set := testSet(testModel(1, 20, "A", "B"))
	paths, _, err := NewSampler().Simulate(context.Background(), set, Request{
		Products:   []models.Product{"C", "A", "B"},
		RegimePath: []models.RegimeID{1, 1},
		PathCount:  2,
		Seed:       3,
	})
	require.NoError(t, err)
	for _, p := range paths {
		for _, step := range p.Steps {
			assert.False(t, step.Values[0].Defined())
			assert.True(t, step.Values[1].Defined())
			assert.True(t, step.Values[2].Defined())
		}
		v, ok := p.Value(0, "C")
		assert.True(t, ok)
		assert.False(t, v.Defined())
	}
}

func TestSimulateDeterministicWithSeed(t *testing.T) {
	set := testSet(testModel(1, 40, "A", "B"), testModel(2, 40, "A", "B"))
	req := Request{
		Products:   []models.Product{"A", "B"},
		RegimePath: []models.RegimeID{1, 2, 2, 1, 2},
		PathCount:  8,
		Seed:       99,
	}
	a, _, err := NewSampler(WithWorkers(1)).Simulate(context.Background(), set, req)
	require.NoError(t, err)
	b, _, err := NewSampler(WithWorkers(4)).Simulate(context.Background(), set, req)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	req.Seed = 100
	c, _, err := NewSampler().Simulate(context.Background(), set, req)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestSimulateSeedSource(t *testing.T) {
	set := testSet(testModel(1, 10, "A"))
	s := NewSampler(WithSeedSource(func() int64 { return 1234 }))
	paths, rep, err := s.Simulate(context.Background(), set, Request{RegimePath: []models.RegimeID{1}, PathCount: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(1234), rep.Seed)
	assert.NotEqual(t, paths[0].Seed, paths[1].Seed)
}

func TestSimulateNearestFallback(t *testing.T) {
	set := testSet(testModel(1, 10, "A"), testModel(3, 10, "A"), testModel(6, 10, "A"))
	set.Regimes[4] = &models.RegimeFit{Regime: 4, Status: models.StatusUnfit, Reason: "degenerate fit: 1 usable rows, need 2"}

	paths, rep, err := NewSampler().Simulate(context.Background(), set, Request{
		Products:   []models.Product{"A"},
		RegimePath: []models.RegimeID{2, 4, 5, 0, 9},
		PathCount:  1,
		Seed:       5,
	})
	require.NoError(t, err)
	got := make([]models.RegimeID, 0, 5)
	for _, step := range paths[0].Steps {
		require.False(t, step.Skipped)
		assert.Equal(t, string(FallbackNearest), step.Fallback)
		got = append(got, step.ModelRegime)
	}
	assert.Equal(t, []models.RegimeID{1, 3, 6, 1, 6}, got)
	assert.Equal(t, models.RegimeID(3), rep.Fallbacks[4])
}

func TestSimulateIndependenceFallback(t *testing.T) {
	set := testSet(testModel(1, 10, "A", "B"))
	set.Pooled = testModel(0, 30, "A", "B", "C")
	set.Pooled.Correlation = [][]float64{{1, 0.9, 0.9}, {0.9, 1, 0.9}, {0.9, 0.9, 1}}

	paths, _, err := NewSampler(WithFallback(FallbackIndependence), WithIndependenceDF(3)).Simulate(context.Background(), set, Request{
		RegimePath: []models.RegimeID{2},
		PathCount:  1,
		Seed:       11,
	})
	require.NoError(t, err)
	step := paths[0].Steps[0]
	assert.False(t, step.Skipped)
	assert.Equal(t, string(FallbackIndependence), step.Fallback)
	assert.Equal(t, models.UnknownRegime, step.ModelRegime)
	for _, v := range step.Values {
		assert.True(t, v.Defined())
	}
}

func TestSimulateIndependenceWithoutPooledSkips(t *testing.T) {
	set := testSet(testModel(1, 10, "A"))
	paths, rep, err := NewSampler(WithFallback(FallbackIndependence)).Simulate(context.Background(), set, Request{
		RegimePath: []models.RegimeID{2},
		PathCount:  1,
		Seed:       11,
	})
	require.NoError(t, err)
	assert.True(t, paths[0].Steps[0].Skipped)
	assert.Contains(t, paths[0].Steps[0].Reason, "no pooled model")
	assert.Equal(t, 1, rep.SkippedSteps)
}

func TestSimulateCoercesStoredDF(t *testing.T) {
	m := testModel(1, 10, "A", "B")
	m.DF = 0
	paths, _, err := NewSampler().Simulate(context.Background(), testSet(m), Request{
		Products:   []models.Product{"A", "B"},
		RegimePath: []models.RegimeID{1},
		PathCount:  1,
		Seed:       2,
	})
	require.NoError(t, err)
	assert.False(t, paths[0].Steps[0].Skipped)
}

func TestSimulateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewSampler().Simulate(ctx, testSet(testModel(1, 10, "A")), Request{
		RegimePath: []models.RegimeID{1},
		PathCount:  4,
		Seed:       1,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseFallback(t *testing.T) {
	f, err := ParseFallback("")
	require.NoError(t, err)
	assert.Equal(t, FallbackNearest, f)

	f, err = ParseFallback(" Independence ")
	require.NoError(t, err)
	assert.Equal(t, FallbackIndependence, f)

	_, err = ParseFallback("closest")
	assert.True(t, models.IsPrecondition(err))
}

func TestChiSquarePositive(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, df := range []int{1, 2, 30, 513, 1_000_000} {
		for i := 0; i < 100; i++ {
			assert.Greater(t, chiSquare(rng, df), 0.0)
		}
	}
}

func TestMarginalInterpolatesPool(t *testing.T) {
	p := []float64{1, 2, 3, 4}
	assert.Equal(t, 1.0, marginal(p, 0))
	assert.Equal(t, 4.0, marginal(p, 1))
	assert.Equal(t, 1.0, marginal(p, -0.2))
	v := marginal(p, 0.5)
	assert.GreaterOrEqual(t, v, 2.0)
	assert.LessOrEqual(t, v, 3.0)
}

func TestDeckDealsWithoutReplacement(t *testing.T) {
	rows := [][]float64{{0}, {1}, {2}, {3}}
	d := &deck{rows: rows}
	rng := rand.New(rand.NewSource(6))

	for round := 0; round < 3; round++ {
		seen := map[float64]bool{}
		for range rows {
			row := d.deal(rng)
			assert.False(t, seen[row[0]], "round %d dealt row %v twice", round, row[0])
			seen[row[0]] = true
		}
		assert.Len(t, seen, len(rows))
	}
}

func TestSimulateStepsDoNotRepeatWithinBatch(t *testing.T) {
	const batch = 5
	// a wide pool keeps distinct draws from landing on the same pool endpoint
	set := testSet(testModel(1, 2000, "A", "B"))
	regimes := make([]models.RegimeID, 2*batch)
	for i := range regimes {
		regimes[i] = 1
	}
	paths, rep, err := NewSampler(WithUpperCap(batch)).Simulate(context.Background(), set, Request{
		Products:   []models.Product{"A", "B"},
		RegimePath: regimes,
		PathCount:  3,
		Seed:       21,
	})
	require.NoError(t, err)
	require.Equal(t, batch, rep.BatchSizes[1])

	for _, p := range paths {
		first := map[[2]models.Innovation]bool{}
		for _, step := range p.Steps[:batch] {
			key := [2]models.Innovation{step.Values[0], step.Values[1]}
			assert.False(t, first[key], "path %d repeated a row before the batch was exhausted", p.Index)
			first[key] = true
		}
		// the second pass deals the same batch again
		for _, step := range p.Steps[batch:] {
			assert.True(t, first[[2]models.Innovation{step.Values[0], step.Values[1]}])
		}
	}
}
