package models

import (
	"encoding/json"
	"fmt"
)

// PanelKind tells regime-label panels from returns panels.
type PanelKind string

const (
	PanelRegimes PanelKind = "regime"
	PanelReturns PanelKind = "returns"
)

// Panel maps every product of a universe to a series. Keys are fixed to the
// universe and kept in universe order; a product without data maps to an
// empty series, so callers only ever check emptiness. A Panel is immutable:
// accessors hand out copies.
type Panel struct {
	kind     PanelKind
	universe Universe
	series   map[Product]Series
}

// NewPanel builds a panel over universe. Products missing from data get an
// empty series; products outside the universe are rejected.
func NewPanel(kind PanelKind, universe Universe, data map[Product]Series) (Panel, error) {
	p := Panel{
		kind:     kind,
		universe: universe,
		series:   make(map[Product]Series, universe.Len()),
	}
	for prod := range data {
		if !universe.Contains(prod) {
			return Panel{}, NewPreconditionError("panel", fmt.Sprintf("product %q is not in the universe", prod))
		}
	}
	for _, prod := range universe.products {
		p.series[prod] = data[prod].Clone()
	}
	return p, nil
}

// Kind returns the panel kind.
func (p Panel) Kind() PanelKind { return p.kind }

// Universe returns the product universe the panel covers.
func (p Panel) Universe() Universe { return p.universe }

// Products returns the panel keys in universe order.
func (p Panel) Products() []Product { return p.universe.Products() }

// Series returns a copy of the series stored for prod. Unknown products yield
// an empty series.
func (p Panel) Series(prod Product) Series {
	return p.series[prod].Clone()
}

// Len returns the observation count stored for prod.
func (p Panel) Len(prod Product) int { return len(p.series[prod]) }

// IsEmpty reports whether prod has no observations.
func (p Panel) IsEmpty(prod Product) bool { return len(p.series[prod]) == 0 }

// View calls fn with the stored series for each product in universe order.
// fn must not modify the slice.
func (p Panel) View(fn func(prod Product, s Series)) {
	for _, prod := range p.universe.products {
		fn(prod, p.series[prod])
	}
}

type panelEntryJSON struct {
	Product Product `json:"product"`
	Series  Series  `json:"series"`
}

type panelJSON struct {
	Kind    PanelKind        `json:"kind"`
	Entries []panelEntryJSON `json:"entries"`
}

// MarshalJSON keeps every product, including empty ones, in universe order.
func (p Panel) MarshalJSON() ([]byte, error) {
	out := panelJSON{Kind: p.kind, Entries: make([]panelEntryJSON, 0, p.universe.Len())}
	for _, prod := range p.universe.products {
		s := p.series[prod]
		if s == nil {
			s = Series{}
		}
		out.Entries = append(out.Entries, panelEntryJSON{Product: prod, Series: s})
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a panel; the universe is rebuilt from the entry order.
func (p *Panel) UnmarshalJSON(data []byte) error {
	var in panelJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	products := make([]Product, len(in.Entries))
	values := make(map[Product]Series, len(in.Entries))
	for i, e := range in.Entries {
		products[i] = e.Product
		values[e.Product] = e.Series
	}
	u, err := NewUniverse(products...)
	if err != nil {
		return fmt.Errorf("decode panel: %w", err)
	}
	out, err := NewPanel(in.Kind, u, values)
	if err != nil {
		return fmt.Errorf("decode panel: %w", err)
	}
	*p = out
	return nil
}
