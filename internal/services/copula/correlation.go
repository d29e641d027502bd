package copula

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// shrinkSteps are the weights tried, in order, when pulling a correlation
// matrix toward the identity until it factorizes. The last step is the
// identity itself, which always does.
var shrinkSteps = []float64{0, 1e-8, 1e-6, 1e-4, 1e-3, 1e-2, 0.05, 0.1, 0.25, 0.5, 1}

// PseudoObservations maps every column of data (rows x cols) to ranks/(n+1).
// Ties receive their average rank.
func PseudoObservations(data [][]float64) [][]float64 {
	n := len(data)
	if n == 0 {
		return nil
	}
	d := len(data[0])
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, d)
	}
	idx := make([]int, n)
	for j := 0; j < d; j++ {
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return data[idx[a]][j] < data[idx[b]][j] })
		for start := 0; start < n; {
			end := start + 1
			for end < n && data[idx[end]][j] == data[idx[start]][j] {
				end++
			}
			// ranks are 1-based; the tie block [start, end) shares the mean rank
			rank := float64(start+end+1) / 2
			for k := start; k < end; k++ {
				out[idx[k]][j] = rank / float64(n+1)
			}
			start = end
		}
	}
	return out
}

// CorrelationOf returns the Pearson correlation of the columns of x
// (rows x cols). Undefined entries (constant columns) become 0 off the
// diagonal; the diagonal is always 1.
func CorrelationOf(x [][]float64) [][]float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	d := len(x[0])
	flat := make([]float64, 0, n*d)
	for _, row := range x {
		flat = append(flat, row...)
	}
	sym := mat.NewSymDense(d, nil)
	stat.CorrelationMatrix(sym, mat.NewDense(n, d, flat), nil)

	out := identity(d)
	for i := 0; i < d; i++ {
		for j := 0; j < i; j++ {
			v := sym.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			v = math.Max(-1, math.Min(1, v))
			out[i][j], out[j][i] = v, v
		}
	}
	return out
}

// Factor returns the Cholesky factorization of corr, shrinking the matrix
// toward the identity when it is not positive definite. The returned matrix
// is the one actually factorized.
func Factor(corr [][]float64) (*mat.SymDense, *mat.Cholesky, float64, error) {
	d := len(corr)
	if d == 0 {
		return nil, nil, 0, fmt.Errorf("empty correlation matrix")
	}
	for i, row := range corr {
		if len(row) != d {
			return nil, nil, 0, fmt.Errorf("correlation row %d has %d entries, want %d", i, len(row), d)
		}
	}
	for _, lambda := range shrinkSteps {
		sym := mat.NewSymDense(d, nil)
		for i := 0; i < d; i++ {
			sym.SetSym(i, i, 1)
			for j := 0; j < i; j++ {
				v := 0.5 * (corr[i][j] + corr[j][i])
				if math.IsNaN(v) || math.IsInf(v, 0) {
					v = 0
				}
				sym.SetSym(i, j, (1-lambda)*v)
			}
		}
		var chol mat.Cholesky
		if chol.Factorize(sym) {
			return sym, &chol, lambda, nil
		}
	}
	return nil, nil, 1, fmt.Errorf("correlation matrix does not factorize")
}

// LowerFactor returns L with corr = L * L^T.
func LowerFactor(chol *mat.Cholesky) *mat.TriDense {
	var l mat.TriDense
	chol.LTo(&l)
	return &l
}

// Rows converts a symmetric matrix to nested slices.
func Rows(sym *mat.SymDense) [][]float64 {
	d := sym.SymmetricDim()
	out := make([][]float64, d)
	for i := range out {
		out[i] = make([]float64, d)
		for j := range out[i] {
			out[i][j] = sym.At(i, j)
		}
	}
	return out
}

func identity(d int) [][]float64 {
	out := make([][]float64, d)
	for i := range out {
		out[i] = make([]float64, d)
		out[i][i] = 1
	}
	return out
}
