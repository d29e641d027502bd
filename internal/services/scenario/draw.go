package scenario

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// exactChiSquareDF is the largest df whose chi-square draw sums squared
// normals; above it the Wilson-Hilferty approximation is used.
const exactChiSquareDF = 512

// chiSquare draws from a chi-square distribution with df degrees of freedom.
// The result is strictly positive.
func chiSquare(rng *rand.Rand, df int) float64 {
	for {
		var w float64
		if df <= exactChiSquareDF {
			for k := 0; k < df; k++ {
				g := rng.NormFloat64()
				w += g * g
			}
		} else {
			k := float64(df)
			c := 2 / (9 * k)
			w = k * math.Pow(1-c+rng.NormFloat64()*math.Sqrt(c), 3)
		}
		if w > 0 {
			return w
		}
	}
}

// drawBatch draws p.batch joint vectors of the plan's model. Each row holds
// one value per model dimension, already mapped through the marginals.
func drawBatch(rng *rand.Rand, p *plan) [][]float64 {
	d := len(p.pools)
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(p.df)}
	g := mat.NewVecDense(d, nil)
	z := mat.NewVecDense(d, nil)

	out := make([][]float64, p.batch)
	for b := range out {
		for i := 0; i < d; i++ {
			g.SetVec(i, rng.NormFloat64())
		}
		z.MulVec(p.lower, g)
		scale := math.Sqrt(chiSquare(rng, p.df) / float64(p.df))

		row := make([]float64, d)
		for i := 0; i < d; i++ {
			u := t.CDF(z.AtVec(i) / scale)
			row[i] = marginal(p.pools[i], u)
		}
		out[b] = row
	}
	return out
}

// marginal maps a uniform to the empirical distribution of a sorted pool by
// linear interpolation.
func marginal(pool []float64, u float64) float64 {
	if math.IsNaN(u) {
		u = 0.5
	}
	u = math.Max(0, math.Min(1, u))
	if len(pool) == 1 {
		return pool[0]
	}
	return stat.Quantile(u, stat.LinInterp, pool, nil)
}
