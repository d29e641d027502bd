package repository

import (
	"context"
	"errors"
	"time"

	"RegimeSim/internal/domain/models"
)

// ErrNotFound is returned by stores that hold nothing under the requested key.
var ErrNotFound = errors.New("not found")

// SourceLoader fetches the raw per-product sources of one panel kind. A
// product whose source cannot be read is reported through its SourceResult,
// never as a call error.
type SourceLoader interface {
	Load(ctx context.Context, kind models.PanelKind, universe models.Universe) (models.Sources, error)
}

type PanelStore interface {
	SavePanel(ctx context.Context, p models.Panel) error
	LoadPanel(ctx context.Context, kind models.PanelKind) (models.Panel, error)
}

type ModelStore interface {
	SaveModels(ctx context.Context, set *models.ModelSet) error
	LoadModels(ctx context.Context) (*models.ModelSet, error)
}

// Locker serialises work across engine instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// PathPublisher streams simulated paths to downstream consumers.
type PathPublisher interface {
	Publish(ctx context.Context, runID string, paths []models.SimulationPath) error
	Close() error
}

type ScenarioSink interface {
	Init(ctx context.Context) error // ensure tables
	Store(ctx context.Context, runID string, paths []models.SimulationPath) error
	Close() error
}

type Metrics interface {
	RecordFit(outcome string, regimes int)
	RecordSkippedSteps(code string, steps int)
	RecordPaths(paths int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
