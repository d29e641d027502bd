package panel

import "RegimeSim/internal/domain/models"

// RowLabel is the regime of one aligned row.
type RowLabel struct {
	Regime models.RegimeID
	// Conflict is set when labelled products disagree; Regime is then unknown.
	Conflict bool
}

// Known reports whether the row carries a usable regime.
func (l RowLabel) Known() bool { return !l.Conflict && l.Regime.Valid() }

// Consensus labels each of the first n rows with the regime every labelled,
// non-empty product agrees on. A row without any known label is unknown; a
// row whose products disagree is a conflict.
func Consensus(labels models.Panel, n int) []RowLabel {
	var cols []models.Series
	for _, prod := range labels.Products() {
		if labels.Len(prod) > 0 {
			cols = append(cols, labels.Series(prod))
		}
	}
	out := make([]RowLabel, n)
	for i := range out {
		for _, col := range cols {
			r, ok := models.LabelAt(col, i)
			if !ok {
				continue
			}
			if out[i].Regime.Valid() && r != out[i].Regime {
				out[i] = RowLabel{Conflict: true}
				break
			}
			out[i].Regime = r
		}
	}
	return out
}
