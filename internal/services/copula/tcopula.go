package copula

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	minNu = 1e-2
	maxNu = 1e3
)

// nuGrid seeds the optimiser with the best of a coarse scan.
var nuGrid = []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20, 30, 50, 100}

// estimate is the result of a t-copula fit on pseudo-observations.
type estimate struct {
	nu          float64
	converged   bool
	correlation [][]float64
}

// quantiles maps pseudo-observations through the Student-t inverse CDF.
func quantiles(u [][]float64, nu float64) [][]float64 {
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: nu}
	x := make([][]float64, len(u))
	for i, row := range u {
		x[i] = make([]float64, len(row))
		for j, v := range row {
			x[i][j] = t.Quantile(v)
		}
	}
	return x
}

// logLikelihood is the t-copula log-density of u summed over rows, with the
// correlation profiled out at nu.
func logLikelihood(u [][]float64, nu float64) (float64, [][]float64, bool) {
	if len(u) == 0 || nu <= 0 || math.IsNaN(nu) {
		return math.NaN(), nil, false
	}
	d := float64(len(u[0]))
	x := quantiles(u, nu)
	sym, chol, _, err := Factor(CorrelationOf(x))
	if err != nil {
		return math.NaN(), nil, false
	}

	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: nu}
	lgA, _ := math.Lgamma((nu + d) / 2)
	lgB, _ := math.Lgamma(nu / 2)
	c := lgA - lgB - d/2*math.Log(nu*math.Pi) - 0.5*chol.LogDet()

	var (
		ll  float64
		sol mat.VecDense
	)
	for _, row := range x {
		v := mat.NewVecDense(len(row), row)
		if err := chol.SolveVecTo(&sol, v); err != nil {
			return math.NaN(), nil, false
		}
		q := mat.Dot(v, &sol)
		ll += c - (nu+d)/2*math.Log1p(q/nu)
		for _, xi := range row {
			ll -= t.LogProb(xi)
		}
	}
	if math.IsNaN(ll) || math.IsInf(ll, 0) {
		return math.NaN(), nil, false
	}
	return ll, Rows(sym), true
}

// estimateT fits the tail-weight of a t-copula by profile maximum likelihood
// over log(nu). When no candidate yields a finite likelihood the raw
// estimate is NaN. When the optimiser fails the best grid point is kept and
// the fit is marked as not converged.
func estimateT(u [][]float64) estimate {
	objective := func(nu float64) float64 {
		if nu < minNu || nu > maxNu {
			return math.Inf(1)
		}
		ll, _, ok := logLikelihood(u, nu)
		if !ok {
			return math.Inf(1)
		}
		return -ll
	}

	start, best := math.NaN(), math.Inf(1)
	for _, nu := range nuGrid {
		if f := objective(nu); f < best {
			start, best = nu, f
		}
	}
	if math.IsNaN(start) {
		return estimate{nu: math.NaN(), correlation: CorrelationOf(u)}
	}

	raw, converged := start, false
	problem := optimize.Problem{
		Func: func(theta []float64) float64 { return objective(math.Exp(theta[0])) },
	}
	settings := &optimize.Settings{
		MajorIterations: 200,
		FuncEvaluations: 400,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-8, Iterations: 20},
	}
	res, err := optimize.Minimize(problem, []float64{math.Log(start)}, settings, &optimize.NelderMead{})
	if err == nil && res != nil && res.F <= best && !math.IsNaN(res.F) {
		raw, converged = math.Exp(res.X[0]), true
	}

	_, corr, ok := logLikelihood(u, raw)
	if !ok {
		_, corr, _ = logLikelihood(u, start)
	}
	return estimate{nu: raw, converged: converged, correlation: corr}
}
