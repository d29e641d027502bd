package panel

import (
	"fmt"

	"RegimeSim/internal/domain/models"
)

// Aligned holds a regime-label panel and a returns panel of equal length for
// every product that has both; the other products are empty in both.
type Aligned struct {
	Labels  models.Panel
	Returns models.Panel
	Length  int
}

// AlignmentEntry records how one product was trimmed.
type AlignmentEntry struct {
	Product       models.Product `json:"product"`
	LabelLength   int            `json:"label_length"`
	ReturnsLength int            `json:"returns_length"`
	Aligned       int            `json:"aligned"`
	Dropped       bool           `json:"dropped"`
}

// AlignmentReport is the diagnostic of Align.
type AlignmentReport struct {
	Length   int              `json:"length"`
	Products []AlignmentEntry `json:"products"`
}

// Align reconciles lengths. Each product keeps the most recent observations
// common to its labels and returns, then all non-empty products are cut to
// the shortest of them the same way. Observation order is preserved. A
// product with labels but no returns (or the reverse) is emptied.
func Align(labels, returns models.Panel) (Aligned, AlignmentReport, error) {
	if labels.Kind() != models.PanelRegimes || returns.Kind() != models.PanelReturns {
		return Aligned{}, AlignmentReport{}, models.NewPreconditionError("panels",
			fmt.Sprintf("expected regime and returns panels, got %q and %q", labels.Kind(), returns.Kind()))
	}
	if !sameProducts(labels.Products(), returns.Products()) {
		return Aligned{}, AlignmentReport{}, models.NewPreconditionError("panels", "panels cover different product universes")
	}

	universe := labels.Universe()
	common := -1
	entries := make([]AlignmentEntry, 0, universe.Len())
	for _, prod := range universe.Products() {
		e := AlignmentEntry{Product: prod, LabelLength: labels.Len(prod), ReturnsLength: returns.Len(prod)}
		n := min(e.LabelLength, e.ReturnsLength)
		if n == 0 {
			e.Dropped = e.LabelLength > 0 || e.ReturnsLength > 0
		} else if common < 0 || n < common {
			common = n
		}
		entries = append(entries, e)
	}
	if common < 0 {
		common = 0
	}

	lab := make(map[models.Product]models.Series, universe.Len())
	ret := make(map[models.Product]models.Series, universe.Len())
	for i := range entries {
		e := &entries[i]
		if min(e.LabelLength, e.ReturnsLength) == 0 {
			continue
		}
		lab[e.Product] = labels.Series(e.Product).Tail(common)
		ret[e.Product] = returns.Series(e.Product).Tail(common)
		e.Aligned = common
	}

	lp, err := models.NewPanel(models.PanelRegimes, universe, lab)
	if err != nil {
		return Aligned{}, AlignmentReport{}, err
	}
	rp, err := models.NewPanel(models.PanelReturns, universe, ret)
	if err != nil {
		return Aligned{}, AlignmentReport{}, err
	}
	return Aligned{Labels: lp, Returns: rp, Length: common}, AlignmentReport{Length: common, Products: entries}, nil
}

func sameProducts(a, b []models.Product) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
