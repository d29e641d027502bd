package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"RegimeSim/internal/domain/models"
	domrepo "RegimeSim/internal/domain/repository"
	domsvc "RegimeSim/internal/domain/service"
	"RegimeSim/internal/services/copula"
	"RegimeSim/internal/services/panel"
	"RegimeSim/internal/services/scenario"
	"RegimeSim/internal/services/transition"
	applogger "RegimeSim/pkg/logger"
)

// ErrFitInProgress is returned when another instance holds the fit lock.
var ErrFitInProgress = errors.New("fit already in progress")

const (
	fitLockKey = "lock:fit"
	fitLockTTL = 5 * time.Minute
)

// ScenarioEngine runs the assemble, fit and simulate pipeline and holds the
// current model set. The set is replaced wholesale on refit, so concurrent
// simulations keep the set they started with.
type ScenarioEngine struct {
	universe models.Universe
	family   models.Family
	seed     int64
	loader   domrepo.SourceLoader
	fitter   *copula.Fitter
	sampler  *scenario.Sampler
	metrics  domrepo.Metrics
	log      *applogger.Logger

	panels    domrepo.PanelStore
	store     domrepo.ModelStore
	locker    domrepo.Locker
	publisher domrepo.PathPublisher
	sink      domrepo.ScenarioSink
	remote    domsvc.RegimePathGenerator

	aligned atomic.Pointer[panel.Aligned]
	set     atomic.Pointer[models.ModelSet]
	chain   atomic.Pointer[transition.Markov]
}

// EngineOption attaches an optional collaborator.
type EngineOption func(*ScenarioEngine)

func WithPanelStore(s domrepo.PanelStore) EngineOption {
	return func(e *ScenarioEngine) { e.panels = s }
}

func WithModelStore(s domrepo.ModelStore) EngineOption {
	return func(e *ScenarioEngine) { e.store = s }
}

func WithLocker(l domrepo.Locker) EngineOption {
	return func(e *ScenarioEngine) { e.locker = l }
}

func WithPublisher(p domrepo.PathPublisher) EngineOption {
	return func(e *ScenarioEngine) { e.publisher = p }
}

func WithSink(s domrepo.ScenarioSink) EngineOption {
	return func(e *ScenarioEngine) { e.sink = s }
}

// WithRegimeGenerator replaces the empirical transition chain with an
// external generator.
func WithRegimeGenerator(g domsvc.RegimePathGenerator) EngineOption {
	return func(e *ScenarioEngine) { e.remote = g }
}

// WithDefaultSeed fixes the seed of requests that carry none.
func WithDefaultSeed(seed int64) EngineOption {
	return func(e *ScenarioEngine) { e.seed = seed }
}

func NewScenarioEngine(
	universe models.Universe,
	family models.Family,
	loader domrepo.SourceLoader,
	fitter *copula.Fitter,
	sampler *scenario.Sampler,
	metrics domrepo.Metrics,
	log *applogger.Logger,
	opts ...EngineOption,
) *ScenarioEngine {
	if log == nil {
		log = applogger.Nop()
	}
	e := &ScenarioEngine{
		universe: universe,
		family:   family,
		loader:   loader,
		fitter:   fitter,
		sampler:  sampler,
		metrics:  metrics,
		log:      log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AssembleResult carries the diagnostics of one assembly.
type AssembleResult struct {
	Regimes   panel.Report          `json:"regimes"`
	Returns   panel.Report          `json:"returns"`
	Alignment panel.AlignmentReport `json:"alignment"`
	Length    int                   `json:"length"`
}

// Assemble loads both panels, aligns them and keeps the result for Fit.
func (e *ScenarioEngine) Assemble(ctx context.Context) (*AssembleResult, error) {
	start := time.Now()
	labelSrc, err := e.loader.Load(ctx, models.PanelRegimes, e.universe)
	if err != nil {
		e.recordError("assemble")
		return nil, fmt.Errorf("load regime labels: %w", err)
	}
	returnSrc, err := e.loader.Load(ctx, models.PanelReturns, e.universe)
	if err != nil {
		e.recordError("assemble")
		return nil, fmt.Errorf("load returns: %w", err)
	}

	labels, labelRep := panel.Assemble(models.PanelRegimes, e.universe, labelSrc)
	returns, returnRep := panel.Assemble(models.PanelReturns, e.universe, returnSrc)
	e.logAssembly(labelRep)
	e.logAssembly(returnRep)

	al, alRep, err := panel.Align(labels, returns)
	if err != nil {
		e.recordError("assemble")
		return nil, fmt.Errorf("align panels: %w", err)
	}
	e.aligned.Store(&al)

	if e.panels != nil {
		for _, p := range []models.Panel{al.Labels, al.Returns} {
			if err := e.panels.SavePanel(ctx, p); err != nil {
				e.recordError("persist")
				e.log.Warn("panel not persisted", applogger.String("kind", string(p.Kind())), applogger.Error(err))
			}
		}
	}

	e.recordLatency("assemble", start)
	e.log.Info("panels assembled",
		applogger.Int("length", al.Length),
		applogger.Int("labels_loaded", labelRep.Loaded),
		applogger.Int("returns_loaded", returnRep.Loaded),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return &AssembleResult{Regimes: labelRep, Returns: returnRep, Alignment: alRep, Length: al.Length}, nil
}

func (e *ScenarioEngine) logAssembly(rep panel.Report) {
	for _, d := range rep.Products {
		if d.Status == panel.StatusLoaded {
			e.log.Info("product loaded",
				applogger.String("kind", string(rep.Kind)),
				applogger.String("product", string(d.Product)),
				applogger.Int("observations", d.Observations),
				applogger.Int("valid", d.Valid),
			)
			continue
		}
		e.log.Warn("product unavailable",
			applogger.String("kind", string(rep.Kind)),
			applogger.String("product", string(d.Product)),
			applogger.String("status", string(d.Status)),
			applogger.String("reason", d.Error),
		)
	}
}

// Fit fits one model per regime on the assembled panels, assembling first
// when nothing is held yet, and replaces the current model set.
func (e *ScenarioEngine) Fit(ctx context.Context, family models.Family) (*models.FitReport, error) {
	if family == "" {
		family = e.family
	}
	if !models.SupportedFamily(family) {
		return nil, models.NewPreconditionError("family", fmt.Sprintf("unsupported copula family %q", family))
	}

	if e.locker != nil {
		ok, err := e.locker.TryLock(ctx, fitLockKey, fitLockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire fit lock: %w", err)
		}
		if !ok {
			return nil, ErrFitInProgress
		}
		defer func() {
			if err := e.locker.Unlock(context.WithoutCancel(ctx), fitLockKey); err != nil {
				e.log.Warn("fit lock not released", applogger.Error(err))
			}
		}()
	}

	al := e.aligned.Load()
	if al == nil {
		if _, err := e.Assemble(ctx); err != nil {
			return nil, err
		}
		al = e.aligned.Load()
	}

	start := time.Now()
	set, report, err := e.fitter.Fit(ctx, *al, family)
	if err != nil {
		e.recordError("fit")
		return nil, err
	}
	e.set.Store(set)
	e.refreshChain(al)

	if e.metrics != nil {
		e.metrics.RecordFit(string(models.StatusFitted), len(report.Fitted))
		e.metrics.RecordFit(string(models.StatusUnfit), len(report.Unfit))
	}
	for _, f := range report.Regimes {
		if f.Status == models.StatusUnfit {
			e.log.Warn("regime not fitted",
				applogger.Int("regime", int(f.Regime)),
				applogger.Int("rows", f.Rows),
				applogger.String("reason", f.Reason),
			)
		}
	}

	if e.store != nil {
		if err := e.store.SaveModels(ctx, set); err != nil {
			e.recordError("persist")
			e.log.Warn("model set not persisted", applogger.Error(err))
		}
	}

	e.recordLatency("fit", start)
	e.log.Info("models fitted",
		applogger.String("family", string(family)),
		applogger.Int("rows", report.Rows),
		applogger.Int("fitted", len(report.Fitted)),
		applogger.Int("unfit", len(report.Unfit)),
		applogger.Int("conflicting_rows", report.ConflictingRows),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return &report, nil
}

func (e *ScenarioEngine) refreshChain(al *panel.Aligned) {
	chain, err := transition.Estimate(al.Labels, al.Length)
	if err != nil {
		e.chain.Store(nil)
		e.log.Warn("transition chain unavailable", applogger.Error(err))
		return
	}
	e.chain.Store(chain)
}

// Restore loads the persisted model set and panels, if any. It is a no-op
// without stores.
func (e *ScenarioEngine) Restore(ctx context.Context) error {
	if e.store != nil {
		set, err := e.store.LoadModels(ctx)
		switch {
		case errors.Is(err, domrepo.ErrNotFound):
		case err != nil:
			return fmt.Errorf("restore models: %w", err)
		default:
			e.set.Store(set)
			e.log.Info("model set restored", applogger.Int("regimes", len(set.Regimes)), applogger.Any("fitted_at", set.FittedAt))
		}
	}
	if e.panels == nil {
		return nil
	}
	labels, err := e.panels.LoadPanel(ctx, models.PanelRegimes)
	if err != nil {
		return ignoreNotFound(err)
	}
	returns, err := e.panels.LoadPanel(ctx, models.PanelReturns)
	if err != nil {
		return ignoreNotFound(err)
	}
	al, _, err := panel.Align(labels, returns)
	if err != nil {
		return fmt.Errorf("restore panels: %w", err)
	}
	e.aligned.Store(&al)
	e.refreshChain(&al)
	return nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, domrepo.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("restore panels: %w", err)
}

// Models returns the current model set, or nil before the first fit.
func (e *ScenarioEngine) Models() *models.ModelSet {
	return e.set.Load()
}

// SimulateInput is a simulation request. RegimePath wins over Steps; with
// Steps the path is generated from Start by the transition model.
type SimulateInput struct {
	Products   []models.Product
	RegimePath []models.RegimeID
	Steps      int
	Start      models.RegimeID
	PathCount  int
	Seed       int64
	Publish    bool
}

// SimulateResult is one simulation run.
type SimulateResult struct {
	RunID         string                  `json:"run_id"`
	RegimePath    []models.RegimeID       `json:"regime_path"`
	Paths         []models.SimulationPath `json:"paths"`
	Report        models.SimulationReport `json:"report"`
	PublishErrors []string                `json:"publish_errors,omitempty"`
}

// Simulate draws scenario paths from the current model set.
func (e *ScenarioEngine) Simulate(ctx context.Context, in SimulateInput) (*SimulateResult, error) {
	start := time.Now()
	seed := in.Seed
	if seed == 0 {
		seed = e.seed
	}

	path := in.RegimePath
	if len(path) == 0 && in.Steps > 0 {
		var err error
		if path, err = e.generatePath(ctx, in.Start, in.Steps, seed); err != nil {
			e.recordError("simulate")
			return nil, err
		}
	}

	paths, report, err := e.sampler.Simulate(ctx, e.set.Load(), scenario.Request{
		Products:   in.Products,
		RegimePath: path,
		PathCount:  in.PathCount,
		Seed:       seed,
	})
	if err != nil {
		e.recordError("simulate")
		return nil, err
	}

	res := &SimulateResult{RunID: uuid.NewString(), RegimePath: path, Paths: paths, Report: report}
	if e.metrics != nil {
		e.metrics.RecordPaths(len(paths))
		for _, s := range report.Skips {
			e.metrics.RecordSkippedSteps(string(s.Code), s.Count)
		}
	}
	if in.Publish {
		res.PublishErrors = e.publish(ctx, res.RunID, paths)
	}

	e.recordLatency("simulate", start)
	e.log.Info("scenarios simulated",
		applogger.String("run_id", res.RunID),
		applogger.Int("paths", report.Paths),
		applogger.Int("steps", report.Steps),
		applogger.Int64("seed", report.Seed),
		applogger.Int("skipped_steps", report.SkippedSteps),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return res, nil
}

// Stream runs a simulation and hands the paths to fn in index order. It
// stops at the first error returned by fn or when ctx ends.
func (e *ScenarioEngine) Stream(ctx context.Context, in SimulateInput, fn func(models.SimulationPath) error) (*SimulateResult, error) {
	res, err := e.Simulate(ctx, in)
	if err != nil {
		return nil, err
	}
	for _, p := range res.Paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := fn(p); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (e *ScenarioEngine) generatePath(ctx context.Context, start models.RegimeID, steps int, seed int64) ([]models.RegimeID, error) {
	if start < 0 {
		return nil, models.NewPreconditionError("start", fmt.Sprintf("negative regime id %d", start))
	}
	var gen domsvc.RegimePathGenerator
	if chain := e.chain.Load(); chain != nil {
		gen = chain
	}
	if e.remote != nil {
		gen = e.remote
	}
	if gen == nil {
		return nil, models.NewPreconditionError("steps", "no regime transition model available; fit first or pass a regime path")
	}
	path, err := gen.Generate(ctx, start, steps, seed)
	if err != nil {
		return nil, fmt.Errorf("generate regime path: %w", err)
	}
	return path, nil
}

func (e *ScenarioEngine) publish(ctx context.Context, runID string, paths []models.SimulationPath) []string {
	var errs []string
	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, runID, paths); err != nil {
			e.recordError("publish")
			e.log.Error("paths not published", applogger.String("run_id", runID), applogger.Error(err))
			errs = append(errs, fmt.Sprintf("kafka: %v", err))
		}
	}
	if e.sink != nil {
		if err := e.sink.Store(ctx, runID, paths); err != nil {
			e.recordError("publish")
			e.log.Error("paths not stored", applogger.String("run_id", runID), applogger.Error(err))
			errs = append(errs, fmt.Sprintf("clickhouse: %v", err))
		}
	}
	return errs
}

func (e *ScenarioEngine) recordError(kind string) {
	if e.metrics != nil {
		e.metrics.RecordError(kind)
	}
}

func (e *ScenarioEngine) recordLatency(op string, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordLatency(op, time.Since(start).Seconds())
	}
}

// Close releases the publication backends.
func (e *ScenarioEngine) Close() {
	if e.publisher != nil {
		_ = e.publisher.Close()
	}
	if e.sink != nil {
		_ = e.sink.Close()
	}
}
