package models

import (
	"bytes"
	"encoding/json"
	"math"
)

// Innovation is one sampled value. NaN means explicitly undefined and is
// written to JSON as null.
type Innovation float64

// Defined reports whether the value was sampled.
func (v Innovation) Defined() bool { return !math.IsNaN(float64(v)) }

// MarshalJSON writes undefined values as null.
func (v Innovation) MarshalJSON() ([]byte, error) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

// UnmarshalJSON reads null as undefined.
func (v *Innovation) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Innovation(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Innovation(f)
	return nil
}

// Undefined is the value for products absent from the step's model.
func Undefined() Innovation { return Innovation(math.NaN()) }

// PathStep is one simulated step.
type PathStep struct {
	Step int `json:"step"`
	// Regime is the regime requested by the regime path.
	Regime RegimeID `json:"regime"`
	// ModelRegime is the regime whose model produced the values; it differs
	// from Regime when a fallback was used and is zero when skipped.
	ModelRegime RegimeID     `json:"model_regime"`
	Fallback    string       `json:"fallback,omitempty"`
	Values      []Innovation `json:"values"`
	Skipped     bool         `json:"skipped"`
	Code        SkipCode     `json:"code,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

// SimulationPath is one scenario draw, owned by the caller that requested it.
type SimulationPath struct {
	Index    int        `json:"index"`
	Seed     int64      `json:"seed"`
	Products []Product  `json:"products"`
	Steps    []PathStep `json:"steps"`
}

// Len returns the number of steps.
func (p *SimulationPath) Len() int { return len(p.Steps) }

// Value returns the value of prod at step t, and false when prod is not part
// of the path.
func (p *SimulationPath) Value(t int, prod Product) (Innovation, bool) {
	if t < 0 || t >= len(p.Steps) {
		return Undefined(), false
	}
	for i, q := range p.Products {
		if q == prod {
			return p.Steps[t].Values[i], true
		}
	}
	return Undefined(), false
}

// SkipCode classifies why a step was skipped. The set is closed so it can
// label metrics; Reason carries the detail.
type SkipCode string

const (
	// SkipUnfitNoFallback: the regime has no fitted model and the fallback
	// policy found nothing to use.
	SkipUnfitNoFallback SkipCode = "unfit_no_fallback"
	// SkipInsufficientSample: the model's draw batch or innovation pool is
	// too small.
	SkipInsufficientSample SkipCode = "insufficient_sample"
	// SkipNoPool: the independence fallback has no pooled model.
	SkipNoPool SkipCode = "no_pool"
	// SkipInvalidModel: the stored model is malformed.
	SkipInvalidModel SkipCode = "invalid_model"
)

// SkipSummary aggregates skipped steps of one regime.
type SkipSummary struct {
	Regime RegimeID `json:"regime"`
	Count  int      `json:"count"`
	Code   SkipCode `json:"code"`
	Reason string   `json:"reason"`
}

// SimulationReport is the in-band diagnostic of one simulation call.
type SimulationReport struct {
	Paths        int                   `json:"paths"`
	Steps        int                   `json:"steps"`
	Seed         int64                 `json:"seed"`
	SampledSteps int                   `json:"sampled_steps"`
	SkippedSteps int                   `json:"skipped_steps"`
	Fallbacks    map[RegimeID]RegimeID `json:"fallbacks,omitempty"`
	Skips        []SkipSummary         `json:"skips,omitempty"`
	// BatchSizes is the per-regime draw batch size after the sample-size floor.
	BatchSizes map[RegimeID]int `json:"batch_sizes,omitempty"`
}
