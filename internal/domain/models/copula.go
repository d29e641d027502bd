package models

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"time"
)

// Family names a dependency model family.
type Family string

// FamilyT is the elliptical Student-t copula with an integer tail-weight.
const FamilyT Family = "t"

// SupportedFamily reports whether the engine can fit and sample f.
func SupportedFamily(f Family) bool { return f == FamilyT }

// CopulaModel is the dependency model fitted for one regime.
type CopulaModel struct {
	Regime RegimeID `json:"regime"`
	Family Family   `json:"family"`
	// Products are the dimensions active in the regime, in universe order.
	Products []Product `json:"products"`
	// Correlation is the scale matrix over Products.
	Correlation [][]float64 `json:"correlation"`
	// DF is the integer degrees-of-freedom, always >= 1.
	DF int `json:"df"`
	// Observations is the number of rows the model was fitted on.
	Observations int `json:"observations"`
	// Pool holds the sorted innovations of each product in the regime; it
	// backs the marginal (inverse empirical CDF) transform.
	Pool map[Product]Series `json:"pool"`
}

// Dim returns the number of active products.
func (m *CopulaModel) Dim() int { return len(m.Products) }

// FitStatus is the outcome of fitting one regime.
type FitStatus string

const (
	StatusFitted FitStatus = "fitted"
	StatusUnfit  FitStatus = "unfit"
)

// Estimate is a raw numeric estimate that may be undefined (NaN), written to
// JSON as null.
type Estimate float64

// Undefined reports whether the estimate is NaN.
func (e Estimate) Undefined() bool { return math.IsNaN(float64(e)) }

func (e Estimate) MarshalJSON() ([]byte, error) {
	f := float64(e)
	if math.IsNaN(f) {
		return []byte("null"), nil
	}
	if math.IsInf(f, 1) {
		return json.Marshal(math.MaxFloat64)
	}
	if math.IsInf(f, -1) {
		return json.Marshal(-math.MaxFloat64)
	}
	return json.Marshal(f)
}

func (e *Estimate) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*e = Estimate(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*e = Estimate(f)
	return nil
}

// RegimeFit is the per-regime entry of a model set. Unfit regimes hold no model.
type RegimeFit struct {
	Regime    RegimeID     `json:"regime"`
	Status    FitStatus    `json:"status"`
	Model     *CopulaModel `json:"model,omitempty"`
	Rows      int          `json:"rows"`
	RawDF     Estimate     `json:"raw_df"`
	Converged bool         `json:"converged"`
	Reason    string       `json:"reason,omitempty"`
}

// Fitted reports whether the entry carries a usable model.
func (f *RegimeFit) Fitted() bool {
	return f != nil && f.Status == StatusFitted && f.Model != nil
}

// ModelSet is the regime -> model mapping produced by one fit. It is never
// mutated after construction; a refit produces a new set.
type ModelSet struct {
	Family   Family                  `json:"family"`
	Products []Product               `json:"products"`
	Regimes  map[RegimeID]*RegimeFit `json:"regimes"`
	// Pooled is fitted on all usable rows regardless of regime. The
	// independence fallback borrows its marginals.
	Pooled   *CopulaModel `json:"pooled,omitempty"`
	FittedAt time.Time    `json:"fitted_at"`
}

// RegimeIDs returns the regime keys in ascending order.
func (s *ModelSet) RegimeIDs() []RegimeID {
	ids := make([]RegimeID, 0, len(s.Regimes))
	for id := range s.Regimes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Model returns the fitted model for r, or nil when r is unfit or absent.
func (s *ModelSet) Model(r RegimeID) *CopulaModel {
	if s == nil {
		return nil
	}
	if f, ok := s.Regimes[r]; ok && f.Fitted() {
		return f.Model
	}
	return nil
}

// FitReport summarises a fit.
type FitReport struct {
	Family          Family      `json:"family"`
	Rows            int         `json:"rows"`
	UnlabeledRows   int         `json:"unlabeled_rows"`
	ConflictingRows int         `json:"conflicting_rows"`
	Fitted          []RegimeID  `json:"fitted"`
	Unfit           []RegimeID  `json:"unfit"`
	Regimes         []RegimeFit `json:"regimes"`
}
