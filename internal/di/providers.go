package di

import (
	"context"
	"fmt"
	"time"

	"RegimeSim/internal/domain/models"
	"RegimeSim/internal/domain/repository"
	"RegimeSim/internal/handler/api"
	internalrepo "RegimeSim/internal/repository"
	"RegimeSim/internal/service/ratelimit"
	"RegimeSim/internal/services/copula"
	"RegimeSim/internal/services/scenario"
	"RegimeSim/internal/services/transition"
	"RegimeSim/internal/usecase"
	"RegimeSim/pkg/cache"
	pkgch "RegimeSim/pkg/clickhouse"
	"RegimeSim/pkg/config"
	xhttp "RegimeSim/pkg/http"
	pkgkafka "RegimeSim/pkg/kafka"
	applogger "RegimeSim/pkg/logger"
	"RegimeSim/pkg/metrics"
	"RegimeSim/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideUniverse builds the product universe; an empty list selects the
// default products.
func ProvideUniverse(cfg *config.Config) (models.Universe, error) {
	products := models.DefaultProducts
	if len(cfg.Engine.Products) > 0 {
		products = models.ProductsFromStrings(cfg.Engine.Products)
	}
	u, err := models.NewUniverse(products...)
	if err != nil {
		return models.Universe{}, fmt.Errorf("universe: %w", err)
	}
	return u, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client. It returns nil when
// ClickHouse is neither enabled nor the series source.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled && cfg.Engine.Source != "clickhouse" {
		return nil, nil
	}
	client, err := pkgch.NewClient(pkgch.FromAppConfig(cfg.ClickHouse)...)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	// Initialize schema
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := append([]string{"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database},
		internalrepo.SchemaStatements(seriesTable(cfg), scenarioTable(cfg))...)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

func seriesTable(cfg *config.Config) string {
	return cfg.ClickHouse.Database + "." + cfg.ClickHouse.SeriesTable
}

func scenarioTable(cfg *config.Config) string {
	return cfg.ClickHouse.Database + "." + cfg.ClickHouse.ScenarioTable
}

// ProvideCache creates the Redis cache. When Redis is disabled an
// in-process cache backs the fit lock and the panel and model stores.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Redis.MemoryMaxSize)), nil
	}
	c, err := cache.NewRedisCache(cache.FromAppConfig(cfg.Redis)...)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is
// disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(pkgkafka.FromAppConfig(cfg.Kafka)...)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	return producer, nil
}

// ProvideSourceLoader selects where product series are read from.
func ProvideSourceLoader(cfg *config.Config, ch *pkgch.Client, log *applogger.Logger) (repository.SourceLoader, error) {
	switch cfg.Engine.Source {
	case "clickhouse":
		if ch == nil {
			return nil, fmt.Errorf("source loader: clickhouse client unavailable")
		}
		src := internalrepo.NewCHSeriesSource(ch, seriesTable(cfg))
		src.SetLogger(log)
		return src, nil
	default:
		src := internalrepo.NewFileSource(cfg.Data.Dir)
		src.SetLogger(log)
		return src, nil
	}
}

// ProvideFitter creates the copula fitter.
func ProvideFitter(cfg *config.Config) *copula.Fitter {
	return copula.NewFitter(copula.WithWorkers(cfg.Engine.Workers))
}

// ProvideSampler creates the scenario sampler.
func ProvideSampler(cfg *config.Config) (*scenario.Sampler, error) {
	fb, err := scenario.ParseFallback(cfg.Engine.Fallback)
	if err != nil {
		return nil, fmt.Errorf("sampler: %w", err)
	}
	return scenario.NewSampler(
		scenario.WithUpperCap(cfg.Engine.UpperCap),
		scenario.WithFallback(fb),
		scenario.WithIndependenceDF(cfg.Engine.IndependenceDF),
		scenario.WithWorkers(cfg.Engine.Workers),
	), nil
}

// ProvideScenarioEngine assembles the engine and attaches whichever
// backends are configured.
func ProvideScenarioEngine(
	cfg *config.Config,
	universe models.Universe,
	loader repository.SourceLoader,
	fitter *copula.Fitter,
	sampler *scenario.Sampler,
	m repository.Metrics,
	log *applogger.Logger,
	ch *pkgch.Client,
	c cache.Service,
	producer *pkgkafka.Producer,
) (*usecase.ScenarioEngine, error) {
	opts := []usecase.EngineOption{usecase.WithDefaultSeed(cfg.Engine.Seed)}

	if c != nil {
		store := internalrepo.NewCacheStore(c, cfg.Redis.TTL)
		opts = append(opts,
			usecase.WithPanelStore(store),
			usecase.WithModelStore(store),
			usecase.WithLocker(store),
		)
	}
	if producer != nil {
		opts = append(opts, usecase.WithPublisher(internalrepo.NewKafkaPathPublisher(producer, cfg.Kafka.Topic)))
	}
	if ch != nil && cfg.ClickHouse.Enabled {
		sink := internalrepo.NewCHScenarioSink(ch, scenarioTable(cfg))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sink.Init(ctx); err != nil {
			return nil, fmt.Errorf("scenario sink: %w", err)
		}
		opts = append(opts, usecase.WithSink(sink))
	}
	if cfg.Transition.ServiceURL != "" {
		opts = append(opts, usecase.WithRegimeGenerator(transition.NewHTTPGenerator(cfg.Transition)))
	}

	return usecase.NewScenarioEngine(
		universe,
		models.Family(cfg.Engine.Family),
		loader,
		fitter,
		sampler,
		m,
		log,
		opts...,
	), nil
}

// ProvideLimiter creates the per-client simulation budget.
func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Server.SimulateBurst, cfg.Server.SimulateRefill)
}

// ProvideHandler creates the scenario HTTP handler.
func ProvideHandler(log *applogger.Logger, engine *usecase.ScenarioEngine, limiter *ratelimit.Limiter) *api.ScenariosEchoHandler {
	return api.NewScenariosEchoHandler(log, engine, limiter)
}

// ProvideHTTPServer creates the Echo server.
func ProvideHTTPServer(cfg *config.Config, h *api.ScenariosEchoHandler, log *applogger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(h, log,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetrics(metricsPath, prometheus.DefaultRegisterer, prometheus.DefaultGatherer),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	engine *usecase.ScenarioEngine,
	srv *xhttp.Server,
	ch *pkgch.Client,
	c cache.Service,
) *server.App {
	return server.New(cfg, log, engine, srv, ch, c)
}
