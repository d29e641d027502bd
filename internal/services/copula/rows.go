package copula

import (
	"math"
	"sort"

	"RegimeSim/internal/domain/models"
	"RegimeSim/internal/services/panel"
)

// sample is the row-major data one regime is fitted on.
type sample struct {
	regime   models.RegimeID
	products []models.Product
	data     [][]float64
}

// partition is the classification of aligned rows by consensus label.
type partition struct {
	rows        map[models.RegimeID][]int
	active      map[models.RegimeID][]models.Product
	products    []models.Product
	length      int
	unlabeled   int
	conflicting int
}

// classify assigns every aligned row the label all labelled products agree
// on. Rows where no product carries a known label are unlabeled; rows where
// products disagree are conflicting. Neither contributes to any regime.
func classify(al panel.Aligned) partition {
	p := partition{
		rows:   make(map[models.RegimeID][]int),
		active: make(map[models.RegimeID][]models.Product),
		length: al.Length,
	}
	labels := make(map[models.Product]models.Series)
	for _, prod := range al.Labels.Products() {
		if al.Labels.Len(prod) == 0 || al.Returns.Len(prod) == 0 {
			continue
		}
		p.products = append(p.products, prod)
		labels[prod] = al.Labels.Series(prod)
	}

	for _, prod := range p.products {
		seen := make(map[models.RegimeID]bool)
		for i := range labels[prod] {
			if r, ok := models.LabelAt(labels[prod], i); ok && !seen[r] {
				seen[r] = true
				p.active[r] = append(p.active[r], prod)
			}
		}
	}

	for i, row := range panel.Consensus(al.Labels, al.Length) {
		switch {
		case row.Conflict:
			p.conflicting++
		case !row.Known():
			p.unlabeled++
		default:
			p.rows[row.Regime] = append(p.rows[row.Regime], i)
		}
	}
	return p
}

// regimes returns every regime that occurs anywhere in the labels, ascending.
func (p partition) regimes() []models.RegimeID {
	ids := make([]models.RegimeID, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// gather extracts the complete rows of the given products at the given row
// indices. A row with NaN in any product is dropped.
func gather(returns models.Panel, products []models.Product, rows []int) [][]float64 {
	cols := make([]models.Series, len(products))
	for j, prod := range products {
		cols[j] = returns.Series(prod)
	}
	out := make([][]float64, 0, len(rows))
	for _, i := range rows {
		row := make([]float64, len(products))
		complete := true
		for j, col := range cols {
			if i >= len(col) || math.IsNaN(col[i]) || math.IsInf(col[i], 0) {
				complete = false
				break
			}
			row[j] = col[i]
		}
		if complete {
			out = append(out, row)
		}
	}
	return out
}

func (p partition) sample(returns models.Panel, r models.RegimeID) sample {
	return sample{
		regime:   r,
		products: p.active[r],
		data:     gather(returns, p.active[r], p.rows[r]),
	}
}

// pooled gathers every complete row over all non-empty products, whatever
// its label.
func (p partition) pooled(returns models.Panel) sample {
	all := make([]int, p.length)
	for i := range all {
		all[i] = i
	}
	return sample{products: p.products, data: gather(returns, p.products, all)}
}
