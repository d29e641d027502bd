package server

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegimeSim/internal/domain/models"
	"RegimeSim/internal/repository"
	"RegimeSim/internal/services/copula"
	"RegimeSim/internal/services/scenario"
	"RegimeSim/internal/usecase"
	"RegimeSim/pkg/cache"
	"RegimeSim/pkg/config"
	applogger "RegimeSim/pkg/logger"
)

type waveLoader struct{}

func (waveLoader) Load(_ context.Context, kind models.PanelKind, u models.Universe) (models.Sources, error) {
	out := models.Sources{}
	for k, p := range u.Products() {
		v := make([]float64, 24)
		for i := range v {
			if kind == models.PanelRegimes {
				v[i] = float64(1 + i%2)
			} else {
				v[i] = math.Cos(float64(i*(k+1))) + 0.1*float64(i%5)
			}
		}
		out[p] = models.SourceResult{Source: &models.RawSource{Matrix: models.Vector(v)}}
	}
	return out, nil
}

func newApp(t *testing.T, c cache.Service) *App {
	t.Helper()
	store := repository.NewCacheStore(c, 0)
	engine := usecase.NewScenarioEngine(
		models.MustUniverse("hubPrices", "regup"),
		models.FamilyT,
		waveLoader{},
		copula.NewFitter(),
		scenario.NewSampler(),
		nil,
		applogger.Nop(),
		usecase.WithPanelStore(store),
		usecase.WithModelStore(store),
		usecase.WithLocker(store),
	)
	return New(config.Default(), applogger.Nop(), engine, nil, nil, c)
}

func TestPrepareFitsThenRestores(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()

	first := newApp(t, mc)
	require.NoError(t, first.Prepare(context.Background()))
	set := first.Engine().Models()
	require.NotNil(t, set)
	assert.NotNil(t, set.Model(1))

	// a second process sharing the store picks the fitted set up
	second := newApp(t, mc)
	require.NoError(t, second.Prepare(context.Background()))
	require.NotNil(t, second.Engine().Models())
	assert.Equal(t, set.FittedAt.Unix(), second.Engine().Models().FittedAt.Unix())
}

func TestShutdownWithoutServer(t *testing.T) {
	a := newApp(t, cache.NewMemoryCache())
	assert.NoError(t, a.Shutdown(context.Background()))
}
