package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"RegimeSim/internal/domain/models"
	domrepo "RegimeSim/internal/domain/repository"
	applogger "RegimeSim/pkg/logger"
)

// File name stems of the exported tables, one file per product.
const (
	returnsStem = "returnsTable_"
	regimeStem  = "regimeLabels_"
)

// FileSource reads per-product JSON exports from a directory.
type FileSource struct {
	dir string
	l   *applogger.Logger
}

func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// SetLogger injects a structured logger.
func (s *FileSource) SetLogger(l *applogger.Logger) { s.l = l }

// Path returns the file holding prod's source of the given kind.
func (s *FileSource) Path(kind models.PanelKind, prod models.Product) string {
	stem := returnsStem
	if kind == models.PanelRegimes {
		stem = regimeStem
	}
	return filepath.Join(s.dir, stem+string(prod)+".json")
}

// Load reads every product of the universe. Unreadable products are reported
// in their SourceResult; only context cancellation fails the call.
func (s *FileSource) Load(ctx context.Context, kind models.PanelKind, universe models.Universe) (models.Sources, error) {
	out := make(models.Sources, universe.Len())
	for _, prod := range universe.Products() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := s.Path(kind, prod)
		src, err := readSource(path)
		if err != nil && s.l != nil {
			s.l.Warn("source unavailable",
				applogger.String("product", string(prod)),
				applogger.String("path", path),
				applogger.Error(err),
			)
		}
		out[prod] = models.SourceResult{Source: src, Err: err}
	}
	return out, nil
}

func readSource(path string) (*models.RawSource, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrMissingInput, filepath.Base(path))
		}
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	src, err := DecodeSource(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return src, nil
}

type fieldJSON struct {
	Name   string          `json:"name"`
	Values json.RawMessage `json:"values"`
}

type recordJSON struct {
	Fields []fieldJSON `json:"fields"`
}

// DecodeSource parses a bare numeric array (1-D or 2-D) or a record of named
// fields. null entries decode to NaN.
func DecodeSource(b []byte) (*models.RawSource, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty document", models.ErrInvalidShape)
	}
	switch b[0] {
	case '[':
		m, err := decodeMatrix(b)
		if err != nil {
			return nil, err
		}
		return &models.RawSource{Matrix: m}, nil
	case '{':
		var rec recordJSON
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, err
		}
		out := &models.Record{Fields: make([]models.Field, 0, len(rec.Fields))}
		for _, f := range rec.Fields {
			m, err := decodeMatrix(f.Values)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			out.Fields = append(out.Fields, models.Field{Name: f.Name, Values: m})
		}
		return &models.RawSource{Record: out}, nil
	default:
		return nil, fmt.Errorf("%w: expected array or object", models.ErrInvalidShape)
	}
}

func decodeMatrix(b []byte) (*models.Matrix, error) {
	var flat []*float64
	if err := json.Unmarshal(b, &flat); err == nil {
		return models.Vector(values(flat)), nil
	}
	var rows [][]*float64
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidShape, err)
	}
	m := &models.Matrix{Rows: len(rows)}
	for i, r := range rows {
		if i == 0 {
			m.Cols = len(r)
		} else if len(r) != m.Cols {
			return nil, fmt.Errorf("%w: ragged row %d", models.ErrInvalidShape, i)
		}
		m.Data = append(m.Data, values(r)...)
	}
	return m, nil
}

func values(in []*float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	return out
}

var _ domrepo.SourceLoader = (*FileSource)(nil)
