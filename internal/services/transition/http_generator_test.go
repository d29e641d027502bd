package transition

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegimeSim/internal/domain/models"
	"RegimeSim/pkg/config"
)

func TestHTTPGeneratorRetriesAndDecodes(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/regime/path", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req pathRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, models.RegimeID(2), req.Start)
		path := make([]models.RegimeID, req.Steps)
		for i := range path {
			path[i] = req.Start
		}
		_ = json.NewEncoder(w).Encode(pathResponse{Path: path})
	}))
	defer srv.Close()

	g := NewHTTPGenerator(config.TransitionConfig{ServiceURL: srv.URL, Timeout: time.Second, Attempts: 2})
	path, err := g.Generate(context.Background(), 2, 3, 9)
	require.NoError(t, err)
	assert.Equal(t, []models.RegimeID{2, 2, 2}, path)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPGeneratorRejectsInvalidPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(pathResponse{Path: []models.RegimeID{1, -1}})
	}))
	defer srv.Close()

	g := NewHTTPGenerator(config.TransitionConfig{ServiceURL: srv.URL})
	_, err := g.Generate(context.Background(), 1, 2, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid regime")

	_, err = g.Generate(context.Background(), 1, 3, 1)
	assert.Contains(t, err.Error(), "got 2 steps")
}

func TestHTTPGeneratorNotConfigured(t *testing.T) {
	g := NewHTTPGenerator(config.TransitionConfig{})
	_, err := g.Generate(context.Background(), 1, 2, 1)
	assert.Error(t, err)
}

func TestHTTPGeneratorKeepsUnknownSteps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(pathResponse{Path: []models.RegimeID{1, models.UnknownRegime, 2}})
	}))
	defer srv.Close()

	g := NewHTTPGenerator(config.TransitionConfig{ServiceURL: srv.URL})
	path, err := g.Generate(context.Background(), 1, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, []models.RegimeID{1, models.UnknownRegime, 2}, path)
}
