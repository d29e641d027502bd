package transition

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegimeSim/internal/domain/models"
)

func labelPanel(t *testing.T, data map[models.Product]models.Series) models.Panel {
	t.Helper()
	p, err := models.NewPanel(models.PanelRegimes, models.MustUniverse("A", "B"), data)
	require.NoError(t, err)
	return p
}

func TestEstimateCountsConsecutiveKnownRows(t *testing.T) {
	nan := math.NaN()
	p := labelPanel(t, map[models.Product]models.Series{"A": {1, 1, 2, 2, 1, nan, 3}})
	m, err := Estimate(p, 7)
	require.NoError(t, err)

	assert.Equal(t, []models.RegimeID{1, 2, 3}, m.States())
	probs := m.Probabilities()
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 0}, probs[0], 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 0}, probs[1], 1e-12)
	// regime 3 is never left; its row falls back to regime frequencies
	assert.InDeltaSlice(t, []float64{3.0 / 6, 2.0 / 6, 1.0 / 6}, probs[2], 1e-12)
}

func TestEstimateWithoutLabels(t *testing.T) {
	p := labelPanel(t, map[models.Product]models.Series{"A": {math.NaN(), 0}})
	_, err := Estimate(p, 2)
	assert.ErrorIs(t, err, models.ErrMissingInput)
}

func TestGenerateEmitsKnownRegimes(t *testing.T) {
	p := labelPanel(t, map[models.Product]models.Series{
		"A": {1, 2, 2, 4, 4, 1, 2},
		"B": {1, 2, math.NaN(), 4, 4, 1, 2},
	})
	m, err := Estimate(p, 7)
	require.NoError(t, err)

	path, err := m.Generate(context.Background(), 4, 200, 17)
	require.NoError(t, err)
	require.Len(t, path, 200)
	assert.Equal(t, models.RegimeID(4), path[0])
	for _, r := range path {
		assert.Contains(t, []models.RegimeID{1, 2, 4}, r)
	}

	again, err := m.Generate(context.Background(), 4, 200, 17)
	require.NoError(t, err)
	assert.Equal(t, path, again)
}

func TestGenerateUnknownStartUsesMostFrequent(t *testing.T) {
	p := labelPanel(t, map[models.Product]models.Series{"A": {2, 2, 2, 1}})
	m, err := Estimate(p, 4)
	require.NoError(t, err)

	path, err := m.Generate(context.Background(), 0, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []models.RegimeID{2}, path)

	_, err = m.Generate(context.Background(), 1, 0, 1)
	assert.True(t, models.IsPrecondition(err))
}
