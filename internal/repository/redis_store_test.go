package repository

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegimeSim/internal/domain/models"
	domrepo "RegimeSim/internal/domain/repository"
	"RegimeSim/pkg/cache"
)

func newStore(t *testing.T) *CacheStore {
	t.Helper()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	return NewCacheStore(mc, time.Minute)
}

func TestCacheStorePanelKeepsEmptyProducts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	u := models.MustUniverse("regup", "regdown", "nonspin")
	p, err := models.NewPanel(models.PanelReturns, u, map[models.Product]models.Series{
		"regup":   {0.1, math.NaN(), 0.3},
		"nonspin": {1},
	})
	require.NoError(t, err)

	require.NoError(t, s.SavePanel(ctx, p))
	got, err := s.LoadPanel(ctx, models.PanelReturns)
	require.NoError(t, err)

	assert.Equal(t, models.PanelReturns, got.Kind())
	assert.Equal(t, u.Products(), got.Products())
	assert.True(t, got.IsEmpty("regdown"))
	r := got.Series("regup")
	require.Len(t, r, 3)
	assert.True(t, math.IsNaN(r[1]))

	_, err = s.LoadPanel(ctx, models.PanelRegimes)
	assert.ErrorIs(t, err, domrepo.ErrNotFound)
}

func TestCacheStoreModelsRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.LoadModels(ctx)
	require.ErrorIs(t, err, domrepo.ErrNotFound)

	set := &models.ModelSet{
		Family:   models.FamilyT,
		Products: []models.Product{"regup", "regdown"},
		Regimes: map[models.RegimeID]*models.RegimeFit{
			1: {
				Regime: 1, Status: models.StatusFitted, Rows: 4, RawDF: 3.7, Converged: true,
				Model: &models.CopulaModel{
					Regime: 1, Family: models.FamilyT,
					Products:     []models.Product{"regup", "regdown"},
					Correlation:  [][]float64{{1, 0.4}, {0.4, 1}},
					DF:           4,
					Observations: 4,
					Pool:         map[models.Product]models.Series{"regup": {1, 2, 3, 4}, "regdown": {5, 6, 7, 8}},
				},
			},
			2: {Regime: 2, Status: models.StatusUnfit, Rows: 1, RawDF: models.Estimate(math.NaN()), Reason: "degenerate fit"},
		},
		FittedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, s.SaveModels(ctx, set))

	got, err := s.LoadModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, set.Products, got.Products)
	assert.Equal(t, []models.RegimeID{1, 2}, got.RegimeIDs())
	m := got.Model(1)
	require.NotNil(t, m)
	assert.Equal(t, 4, m.DF)
	assert.Equal(t, set.Regimes[1].Model.Correlation, m.Correlation)
	assert.Nil(t, got.Model(2))
	assert.True(t, got.Regimes[2].RawDF.Undefined())
	assert.True(t, set.FittedAt.Equal(got.FittedAt))
}

func TestCacheStoreCoercesStoredDF(t *testing.T) {
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	s := NewCacheStore(mc, 0)
	ctx := context.Background()

	doc := `{"family":"t","products":["regup"],"regimes":{"3":{"regime":3,"status":"fitted","rows":5,"raw_df":null,"converged":false,
		"model":{"regime":3,"family":"t","products":["regup"],"correlation":[[1]],"df":0,"observations":5,"pool":{"regup":[1,2,3,4,5]}}}},
		"pooled":{"regime":0,"family":"t","products":["regup"],"correlation":[[1]],"df":-2,"observations":5,"pool":{"regup":[1,2,3,4,5]}}}`
	require.NoError(t, mc.Set(ctx, modelsKey, []byte(doc), 0))

	got, err := s.LoadModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Model(3).DF)
	assert.Equal(t, 1, got.Pooled.DF)
}

func TestCacheStoreRejectsNilSet(t *testing.T) {
	err := newStore(t).SaveModels(context.Background(), nil)
	assert.True(t, models.IsPrecondition(err))
}

func TestCacheStoreLock(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	ok, err := s.TryLock(ctx, "fit", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.TryLock(ctx, "fit", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.Unlock(ctx, "fit"))
	ok, err = s.TryLock(ctx, "fit", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
