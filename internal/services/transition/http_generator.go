package transition

import (
	"context"
	"fmt"
	"time"

	"RegimeSim/internal/domain/models"
	domsvc "RegimeSim/internal/domain/service"
	"RegimeSim/pkg/config"
	xhttp "RegimeSim/pkg/http"
)

const defaultTimeout = 3 * time.Second

// HTTPGenerator asks an external transition service for regime paths.
type HTTPGenerator struct {
	client *xhttp.Client
}

// NewHTTPGenerator builds the client from the transition config section.
func NewHTTPGenerator(cfg config.TransitionConfig) *HTTPGenerator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	if cfg.ServiceURL == "" {
		return &HTTPGenerator{}
	}
	return &HTTPGenerator{client: xhttp.NewClient(
		xhttp.WithBaseURL(cfg.ServiceURL),
		xhttp.WithTimeout(timeout),
		xhttp.WithRetry(attempts, 50*time.Millisecond),
	)}
}

type pathRequest struct {
	Start models.RegimeID `json:"start"`
	Steps int             `json:"steps"`
	Seed  int64           `json:"seed"`
}

type pathResponse struct {
	Path []models.RegimeID `json:"path"`
}

// Generate posts to /regime/path. The response must hold exactly steps
// regimes, each a regime key or UnknownRegime; unknown steps are resolved
// by the sampler's fallback.
func (g *HTTPGenerator) Generate(ctx context.Context, start models.RegimeID, steps int, seed int64) ([]models.RegimeID, error) {
	if steps < 1 {
		return nil, models.NewPreconditionError("steps", fmt.Sprintf("must be at least 1, got %d", steps))
	}
	if g.client == nil {
		return nil, fmt.Errorf("transition http client not initialized")
	}
	var resp pathResponse
	err := g.client.PostJSON(ctx, "/regime/path", pathRequest{Start: start, Steps: steps, Seed: seed}, &resp)
	if err != nil {
		return nil, fmt.Errorf("post regime path: %w", err)
	}
	if len(resp.Path) != steps {
		return nil, fmt.Errorf("regime path: got %d steps, want %d", len(resp.Path), steps)
	}
	for t, r := range resp.Path {
		if r < models.UnknownRegime {
			return nil, fmt.Errorf("regime path: step %d has invalid regime %d", t, r)
		}
	}
	return resp.Path, nil
}

var _ domsvc.RegimePathGenerator = (*HTTPGenerator)(nil)
