// Package panel assembles per-product raw series into panels covering the
// full product universe, and aligns regime-label and returns panels.
package panel

import (
	"errors"

	"RegimeSim/internal/domain/models"
)

// Status is the per-product outcome of an assembly.
type Status string

const (
	StatusLoaded  Status = "loaded"
	StatusEmpty   Status = "empty"
	StatusMissing Status = "missing"
	StatusInvalid Status = "invalid"
)

// Diagnostic describes what assembly did for one product.
type Diagnostic struct {
	Product      models.Product    `json:"product"`
	Status       Status            `json:"status"`
	Field        string            `json:"field,omitempty"`
	Observations int               `json:"observations"`
	Valid        int               `json:"valid"`
	Regimes      []models.RegimeID `json:"regimes,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Report is the diagnostic of one assembly, in universe order.
type Report struct {
	Kind     models.PanelKind `json:"kind"`
	Products []Diagnostic     `json:"products"`
	Loaded   int              `json:"loaded"`
	Missing  int              `json:"missing"`
	Invalid  int              `json:"invalid"`
}

// Diagnostic returns the entry for product.
func (r Report) Diagnostic(product models.Product) (Diagnostic, bool) {
	for _, d := range r.Products {
		if d.Product == product {
			return d, true
		}
	}
	return Diagnostic{}, false
}

type result struct {
	product models.Product
	series  models.Series
	field   string
	err     error
}

// Assemble builds a panel of kind over universe from per-product sources.
// A product whose source is absent or unreadable maps to an empty series;
// assembly never fails because of a single product.
func Assemble(kind models.PanelKind, universe models.Universe, sources models.Sources) (models.Panel, Report) {
	results := make([]result, 0, universe.Len())
	for _, prod := range universe.Products() {
		res := result{product: prod}
		sr, ok := sources[prod]
		switch {
		case !ok:
			res.err = models.ErrMissingInput
		case sr.Err != nil:
			res.err = sr.Err
		default:
			res.series, res.field, res.err = extract(prod, sr.Source)
		}
		if res.err != nil {
			res.series = models.Series{}
		}
		results = append(results, res)
	}

	data := make(map[models.Product]models.Series, len(results))
	for _, r := range results {
		data[r.product] = r.series
	}
	// Keys come from the universe itself, so NewPanel cannot reject them.
	p, _ := models.NewPanel(kind, universe, data)

	return p, diagnose(kind, results)
}

func diagnose(kind models.PanelKind, results []result) Report {
	rep := Report{Kind: kind, Products: make([]Diagnostic, 0, len(results))}
	for _, r := range results {
		d := Diagnostic{
			Product:      r.product,
			Field:        r.field,
			Observations: r.series.Len(),
			Valid:        r.series.Valid(),
		}
		switch {
		case r.err == nil && r.series.Len() == 0:
			d.Status = StatusEmpty
		case r.err == nil:
			d.Status = StatusLoaded
			rep.Loaded++
		case errors.Is(r.err, models.ErrMissingInput):
			d.Status = StatusMissing
			d.Error = r.err.Error()
			rep.Missing++
		default:
			d.Status = StatusInvalid
			d.Error = r.err.Error()
			rep.Invalid++
		}
		if kind == models.PanelRegimes && d.Status == StatusLoaded {
			d.Regimes = distinctRegimes(r.series)
		}
		rep.Products = append(rep.Products, d)
	}
	return rep
}
