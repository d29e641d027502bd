package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RegimeSim/internal/domain/models"
	domrepo "RegimeSim/internal/domain/repository"
	"RegimeSim/internal/services/guard"
	"RegimeSim/pkg/cache"
)

const (
	modelsKey   = "models:current"
	panelKeyFmt = "panel:%s"
)

// CacheStore keeps panels and the current model set as JSON documents in a
// cache.Service: Redis, or the in-process cache when Redis is disabled.
type CacheStore struct {
	c   cache.Service
	ttl time.Duration
}

// NewCacheStore stores entries with the given TTL; zero keeps them forever.
func NewCacheStore(c cache.Service, ttl time.Duration) *CacheStore {
	return &CacheStore{c: c, ttl: ttl}
}

func (s *CacheStore) SavePanel(ctx context.Context, p models.Panel) error {
	if err := s.c.Set(ctx, fmt.Sprintf(panelKeyFmt, p.Kind()), p, s.ttl); err != nil {
		return fmt.Errorf("save %s panel: %w", p.Kind(), err)
	}
	return nil
}

func (s *CacheStore) LoadPanel(ctx context.Context, kind models.PanelKind) (models.Panel, error) {
	var p models.Panel
	if err := s.c.Get(ctx, fmt.Sprintf(panelKeyFmt, kind), &p); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return models.Panel{}, fmt.Errorf("%s panel: %w", kind, domrepo.ErrNotFound)
		}
		return models.Panel{}, fmt.Errorf("load %s panel: %w", kind, err)
	}
	return p, nil
}

func (s *CacheStore) SaveModels(ctx context.Context, set *models.ModelSet) error {
	if set == nil {
		return models.NewPreconditionError("models", "model set is nil")
	}
	if err := s.c.Set(ctx, modelsKey, set, s.ttl); err != nil {
		return fmt.Errorf("save models: %w", err)
	}
	return nil
}

// LoadModels restores the stored set. Degrees of freedom pass through the
// guard again, so a hand-edited document cannot carry df < 1.
func (s *CacheStore) LoadModels(ctx context.Context) (*models.ModelSet, error) {
	var set models.ModelSet
	if err := s.c.Get(ctx, modelsKey, &set); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, fmt.Errorf("models: %w", domrepo.ErrNotFound)
		}
		return nil, fmt.Errorf("load models: %w", err)
	}
	if set.Regimes == nil {
		set.Regimes = map[models.RegimeID]*models.RegimeFit{}
	}
	for _, f := range set.Regimes {
		if f.Model != nil {
			f.Model.DF = guard.DegreesOfFreedom(float64(f.Model.DF))
		}
	}
	if set.Pooled != nil {
		set.Pooled.DF = guard.DegreesOfFreedom(float64(set.Pooled.DF))
	}
	return &set, nil
}

func (s *CacheStore) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.c.TryLock(ctx, key, ttl)
}

func (s *CacheStore) Unlock(ctx context.Context, key string) error {
	return s.c.Unlock(ctx, key)
}

var (
	_ domrepo.PanelStore = (*CacheStore)(nil)
	_ domrepo.ModelStore = (*CacheStore)(nil)
	_ domrepo.Locker     = (*CacheStore)(nil)
)
