package panel

import (
	"fmt"
	"sort"
	"strings"

	"RegimeSim/internal/domain/models"
)

// SelectField picks the data field of a structured record for product:
//  1. a field whose name contains the product name,
//  2. else the first field whose name mentions neither time nor date,
//  3. else the first field.
//
// Fields are scanned in declared order so the choice is deterministic.
func SelectField(product models.Product, fields []models.Field) (models.Field, bool) {
	if len(fields) == 0 {
		return models.Field{}, false
	}
	name := string(product)
	if name != "" {
		for _, f := range fields {
			if strings.Contains(f.Name, name) {
				return f, true
			}
		}
	}
	for _, f := range fields {
		if !isTimeField(f.Name) {
			return f, true
		}
	}
	return fields[0], true
}

func isTimeField(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "time") || strings.Contains(n, "date")
}

// Flatten turns a matrix with one dimension of size 1 into a series. Values
// are copied unchanged; a true 2-D matrix is rejected.
func Flatten(m *models.Matrix) (models.Series, error) {
	if m == nil {
		return models.Series{}, nil
	}
	if m.Rows < 0 || m.Cols < 0 || m.Rows*m.Cols != len(m.Data) {
		return nil, fmt.Errorf("%w: %dx%d matrix holds %d values", models.ErrInvalidShape, m.Rows, m.Cols, len(m.Data))
	}
	if m.Rows > 1 && m.Cols > 1 {
		return nil, fmt.Errorf("%w: %dx%d is not a vector", models.ErrInvalidShape, m.Rows, m.Cols)
	}
	out := make(models.Series, len(m.Data))
	copy(out, m.Data)
	return out, nil
}

// extract resolves the series carried by one raw source.
func extract(product models.Product, src *models.RawSource) (models.Series, string, error) {
	switch {
	case src == nil:
		return nil, "", models.ErrMissingInput
	case src.Record != nil:
		f, ok := SelectField(product, src.Record.Fields)
		if !ok {
			return nil, "", fmt.Errorf("%w: record has no fields", models.ErrMissingInput)
		}
		s, err := Flatten(f.Values)
		return s, f.Name, err
	case src.Matrix != nil:
		s, err := Flatten(src.Matrix)
		return s, "", err
	default:
		return nil, "", fmt.Errorf("%w: source carries no data", models.ErrMissingInput)
	}
}

// distinctRegimes lists the valid regime ids of a label series in ascending order.
func distinctRegimes(labels models.Series) []models.RegimeID {
	seen := make(map[models.RegimeID]struct{})
	out := make([]models.RegimeID, 0, 4)
	for i := range labels {
		id, ok := models.LabelAt(labels, i)
		if !ok {
			continue
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
