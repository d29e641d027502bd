package repository

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegimeSim/internal/domain/models"
)

func TestDecodeSource(t *testing.T) {
	t.Run("bare vector with nulls", func(t *testing.T) {
		src, err := DecodeSource([]byte(` [1.5, null, -2] `))
		require.NoError(t, err)
		require.NotNil(t, src.Matrix)
		assert.Equal(t, 3, src.Matrix.Rows)
		assert.Equal(t, 1, src.Matrix.Cols)
		assert.Equal(t, 1.5, src.Matrix.Data[0])
		assert.True(t, math.IsNaN(src.Matrix.Data[1]))
	})

	t.Run("row vector", func(t *testing.T) {
		src, err := DecodeSource([]byte(`[[1, 2, 3]]`))
		require.NoError(t, err)
		assert.Equal(t, 1, src.Matrix.Rows)
		assert.Equal(t, 3, src.Matrix.Cols)
		assert.Equal(t, []float64{1, 2, 3}, src.Matrix.Data)
	})

	t.Run("record keeps field order", func(t *testing.T) {
		src, err := DecodeSource([]byte(`{"fields":[{"name":"timestamp","values":[1,2]},{"name":"regup","values":[[0.1],[null]]}]}`))
		require.NoError(t, err)
		require.NotNil(t, src.Record)
		require.Len(t, src.Record.Fields, 2)
		assert.Equal(t, "timestamp", src.Record.Fields[0].Name)
		assert.Equal(t, 2, src.Record.Fields[1].Values.Rows)
		assert.True(t, math.IsNaN(src.Record.Fields[1].Values.Data[1]))
	})

	t.Run("ragged matrix", func(t *testing.T) {
		_, err := DecodeSource([]byte(`[[1, 2], [3]]`))
		assert.ErrorIs(t, err, models.ErrInvalidShape)
	})

	t.Run("scalar document", func(t *testing.T) {
		_, err := DecodeSource([]byte(`42`))
		assert.ErrorIs(t, err, models.ErrInvalidShape)
	})
}

func TestFileSourceLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "returnsTable_regup.json"), []byte(`[0.1, 0.2, null]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "regimeLabels_regup.json"), []byte(`[1, 2, 1]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "returnsTable_nonspin.json"), []byte(`not json`), 0o644))

	u := models.MustUniverse("regup", "regdown", "nonspin")
	s := NewFileSource(dir)

	got, err := s.Load(context.Background(), models.PanelReturns, u)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.NoError(t, got["regup"].Err)
	assert.Equal(t, 3, got["regup"].Source.Matrix.Rows)

	assert.ErrorIs(t, got["regdown"].Err, models.ErrMissingInput)
	assert.Nil(t, got["regdown"].Source)

	assert.Error(t, got["nonspin"].Err)
	assert.NotErrorIs(t, got["nonspin"].Err, models.ErrMissingInput)

	labels, err := s.Load(context.Background(), models.PanelRegimes, u)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 1}, labels["regup"].Source.Matrix.Data)
}

func TestFileSourceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFileSource(t.TempDir()).Load(ctx, models.PanelReturns, models.MustUniverse("regup"))
	assert.ErrorIs(t, err, context.Canceled)
}
