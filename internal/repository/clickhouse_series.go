package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"RegimeSim/internal/domain/models"
	domrepo "RegimeSim/internal/domain/repository"
	pkgch "RegimeSim/pkg/clickhouse"
	applogger "RegimeSim/pkg/logger"
)

// SchemaStatements returns the DDL for the series and scenario tables.
func SchemaStatements(seriesTable, scenarioTable string) []string {
	return []string{seriesDDL(seriesTable), scenarioDDL(scenarioTable)}
}

func seriesDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            kind     LowCardinality(String),
            product  LowCardinality(String),
            idx      UInt32,
            value    Nullable(Float64)
        ) ENGINE = ReplacingMergeTree
        ORDER BY (kind, product, idx)`, table)
}

func scenarioDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            run_id        String,
            path          UInt32,
            seed          Int64,
            step          UInt32,
            regime        Int32,
            model_regime  Int32,
            product       LowCardinality(String),
            value         Nullable(Float64),
            skipped       UInt8,
            reason        String,
            created_at    DateTime64(3)
        ) ENGINE = MergeTree
        ORDER BY (run_id, path, step, product)`, table)
}

// CHSeriesSource loads product series stored one value per row.
type CHSeriesSource struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHSeriesSource(ch *pkgch.Client, table string) *CHSeriesSource {
	return &CHSeriesSource{db: ch.DB(), table: table}
}

// SetLogger injects a structured logger.
func (s *CHSeriesSource) SetLogger(l *applogger.Logger) { s.l = l }

// Load queries each product in turn. A product without rows is reported as
// missing input; a query failure is reported for that product only.
func (s *CHSeriesSource) Load(ctx context.Context, kind models.PanelKind, universe models.Universe) (models.Sources, error) {
	out := make(models.Sources, universe.Len())
	for _, prod := range universe.Products() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		series, err := s.series(ctx, kind, prod)
		if err != nil {
			out[prod] = models.SourceResult{Err: err}
			continue
		}
		out[prod] = models.SourceResult{Source: &models.RawSource{Matrix: models.Vector(series)}}
	}
	return out, nil
}

func (s *CHSeriesSource) series(ctx context.Context, kind models.PanelKind, prod models.Product) ([]float64, error) {
	start := time.Now()
	const qtpl = `
        SELECT idx, value
        FROM %s
        WHERE kind = ? AND product = ?
        ORDER BY idx ASC
    `
	q := fmt.Sprintf(qtpl, s.table)
	rows, err := s.db.QueryContext(ctx, q, string(kind), string(prod))
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse series query error",
				applogger.String("table", s.table),
				applogger.String("product", string(prod)),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()

	out := make([]float64, 0, 1024)
	for rows.Next() {
		var (
			idx uint32
			v   sql.NullFloat64
		)
		if err := rows.Scan(&idx, &v); err != nil {
			return nil, fmt.Errorf("scan series: %w", err)
		}
		if v.Valid {
			out = append(out, v.Float64)
		} else {
			out = append(out, math.NaN())
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no %s rows for %s", models.ErrMissingInput, kind, prod)
	}
	if s.l != nil {
		s.l.Debug("clickhouse series ok",
			applogger.String("product", string(prod)),
			applogger.String("kind", string(kind)),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

// CHScenarioSink stores simulated steps, one row per product and step.
type CHScenarioSink struct {
	ch    *pkgch.Client
	table string
	now   func() time.Time
}

func NewCHScenarioSink(ch *pkgch.Client, table string) *CHScenarioSink {
	return &CHScenarioSink{ch: ch, table: table, now: time.Now}
}

func (s *CHScenarioSink) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, []string{scenarioDDL(s.table)})
}

const sinkChunkSize = 2000

var scenarioColumns = []string{
	"run_id", "path", "seed", "step", "regime", "model_regime",
	"product", "value", "skipped", "reason", "created_at",
}

func (s *CHScenarioSink) Store(ctx context.Context, runID string, paths []models.SimulationPath) error {
	created := s.now().UTC()
	var rows [][]any
	for _, p := range paths {
		for _, st := range p.Steps {
			skipped := uint8(0)
			if st.Skipped {
				skipped = 1
			}
			for i, prod := range p.Products {
				var v any // NULL
				if i < len(st.Values) && st.Values[i].Defined() {
					v = float64(st.Values[i])
				}
				rows = append(rows, []any{
					runID,
					uint32(p.Index),
					p.Seed,
					uint32(st.Step),
					int32(st.Regime),
					int32(st.ModelRegime),
					string(prod),
					v,
					skipped,
					st.Reason,
					created,
				})
			}
		}
	}
	if _, err := s.ch.InsertRows(ctx, s.table, scenarioColumns, rows, sinkChunkSize); err != nil {
		return fmt.Errorf("store scenario steps: %w", err)
	}
	return nil
}

func (s *CHScenarioSink) Close() error {
	return nil // pool owned by pkg client
}

var (
	_ domrepo.SourceLoader = (*CHSeriesSource)(nil)
	_ domrepo.ScenarioSink = (*CHScenarioSink)(nil)
)
