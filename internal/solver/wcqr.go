// Package solver fits weighted convex quantile regression (wCQR) frontiers
// with one predictor, formulated as a linear program.
//
// The frontier is concave in x. Its values at the distinct sorted predictor
// values are the decision variables, and the concavity is imposed through
// non-increasing slopes between neighbours. This is equivalent to the Afriat
// formulation for a single regressor but needs O(n) rows instead of O(n²).
//
// InteriorPoint exploits the banded structure of that program and is the
// solver for pipeline-sized problems. Simplex hands the dense program to
// gonum's lp.Simplex and only suits small problems.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// DefaultSimplexMaxPoints bounds the dense LP handed to lp.Simplex, whose
// cost grows with the cube of the point count.
const DefaultSimplexMaxPoints = 250

// DefaultTolerance is passed to lp.Simplex.
const DefaultTolerance = 1e-10

// ErrTooLarge is returned when a problem has more points than MaxPoints.
var ErrTooLarge = errors.New("problem exceeds solver point limit")

// Problem is one weighted quantile regression of Y on X at level Tau. New
// problems carry a slope lower bound of 0, which forces a non-decreasing
// frontier; UnboundSlope removes it.
type Problem struct {
	X, Y, W []float64
	Tau     float64

	lower    float64
	hasLower bool
}

// NewProblem checks the inputs and returns a problem with the default slope
// lower bound.
func NewProblem(x, y, w []float64, tau float64) (*Problem, error) {
	if len(x) == 0 {
		return nil, errors.New("problem has no points")
	}
	if len(y) != len(x) || len(w) != len(x) {
		return nil, fmt.Errorf("length mismatch: x=%d y=%d w=%d", len(x), len(y), len(w))
	}
	if !(tau > 0 && tau < 1) {
		return nil, fmt.Errorf("tau must lie in (0, 1), got %v", tau)
	}
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) || math.IsInf(x[i], 0) || math.IsInf(y[i], 0) {
			return nil, fmt.Errorf("point %d is not finite", i)
		}
		if w[i] < 0 || math.IsNaN(w[i]) || math.IsInf(w[i], 0) {
			return nil, fmt.Errorf("point %d has invalid weight %v", i, w[i])
		}
	}
	if floats.Sum(w) <= 0 {
		return nil, errors.New("problem weights sum to zero")
	}
	return &Problem{X: x, Y: y, W: w, Tau: tau, hasLower: true}, nil
}

// SetSlopeLowerBound constrains every frontier slope to at least l.
func (p *Problem) SetSlopeLowerBound(l float64) {
	p.lower, p.hasLower = l, true
}

// UnboundSlope removes the slope lower bound.
func (p *Problem) UnboundSlope() {
	p.lower, p.hasLower = 0, false
}

// SlopeLowerBound returns the bound and whether one is set.
func (p *Problem) SlopeLowerBound() (float64, bool) {
	return p.lower, p.hasLower
}

// Result is a solved problem. Frontier is aligned with Problem.X.
type Result struct {
	Frontier  []float64
	Objective float64
}

// Simplex solves problems with lp.Simplex. The zero value uses the defaults.
// It serves as the reference for InteriorPoint.
type Simplex struct {
	Tol       float64
	MaxPoints int
}

func (s Simplex) tol() float64 {
	if s.Tol > 0 {
		return s.Tol
	}
	return DefaultTolerance
}

func (s Simplex) maxPoints() int {
	if s.MaxPoints > 0 {
		return s.MaxPoints
	}
	return DefaultSimplexMaxPoints
}

// Fit solves p. The simplex loop itself cannot be interrupted, so ctx is only
// checked before it starts.
func (s Simplex) Fit(ctx context.Context, p *Problem) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	n := len(p.X)
	if n > s.maxPoints() {
		return Result{}, fmt.Errorf("%w: %d points, limit %d", ErrTooLarge, n, s.maxPoints())
	}

	lpp := build(p)
	obj, sol, err := lp.Simplex(lpp.c, lpp.a, lpp.b, s.tol(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("simplex: %w", err)
	}

	values := make([]float64, len(lpp.unique))
	for j := range values {
		values[j] = sol[lpp.fp(j)] - sol[lpp.fn(j)]
	}
	frontier := make([]float64, n)
	for i, g := range lpp.group {
		frontier[i] = values[g]
	}
	return Result{Frontier: frontier, Objective: obj}, nil
}

// program is the standard-form LP: minimise c·z subject to a·z = b, z >= 0.
//
// Column layout, with m distinct x values and n points:
//
//	[0, m)          fp_j  positive part of f_j
//	[m, 2m)         fn_j  negative part of f_j
//	[2m, 2m+n)      ep_i  residual above the frontier
//	[2m+n, 2m+2n)   en_i  residual below the frontier
//	then            s_k   concavity slack, k in [0, m-2)
//	then            t     slope bound slack, when the bound applies
type program struct {
	c, b   []float64
	a      *mat.Dense
	unique []float64
	group  []int
	m, n   int
}

func (q *program) fp(j int) int { return j }
func (q *program) fn(j int) int { return q.m + j }
func (q *program) ep(i int) int { return 2*q.m + i }
func (q *program) en(i int) int { return 2*q.m + q.n + i }
func (q *program) s(k int) int  { return 2*q.m + 2*q.n + k }

// groupByX returns the sorted distinct x values and the group of each point.
func groupByX(x []float64) ([]float64, []int) {
	unique := append([]float64(nil), x...)
	sort.Float64s(unique)
	k := 0
	for i := range unique {
		if i == 0 || unique[i] != unique[k-1] {
			unique[k] = unique[i]
			k++
		}
	}
	unique = unique[:k]

	group := make([]int, len(x))
	for i, v := range x {
		group[i] = sort.SearchFloat64s(unique, v)
	}
	return unique, group
}

func build(p *Problem) *program {
	unique, group := groupByX(p.X)
	q := &program{unique: unique, group: group, m: len(unique), n: len(p.X)}

	concave := 0
	if q.m >= 3 {
		concave = q.m - 2
	}
	bound := p.hasLower && q.m >= 2

	cols := 2*q.m + 2*q.n + concave
	rows := q.n + concave
	if bound {
		cols++
		rows++
	}

	q.c = make([]float64, cols)
	q.b = make([]float64, rows)
	q.a = mat.NewDense(rows, cols, nil)

	for i := 0; i < q.n; i++ {
		q.c[q.ep(i)] = p.W[i] * p.Tau
		q.c[q.en(i)] = p.W[i] * (1 - p.Tau)

		g := group[i]
		q.a.Set(i, q.fp(g), 1)
		q.a.Set(i, q.fn(g), -1)
		q.a.Set(i, q.ep(i), 1)
		q.a.Set(i, q.en(i), -1)
		q.b[i] = p.Y[i]
	}

	// Slopes between neighbours must not increase:
	// d2*(f[j+1]-f[j]) - d1*(f[j+2]-f[j+1]) - s = 0.
	for k := 0; k < concave; k++ {
		row := q.n + k
		d1 := unique[k+1] - unique[k]
		d2 := unique[k+2] - unique[k+1]
		q.setF(row, k, -d2)
		q.setF(row, k+1, d1+d2)
		q.setF(row, k+2, -d1)
		q.a.Set(row, q.s(k), -1)
	}

	// Under concavity the last slope is the smallest, so bounding it bounds
	// them all: f[m-1] - f[m-2] - t = L*d.
	if bound {
		row := rows - 1
		d := unique[q.m-1] - unique[q.m-2]
		q.setF(row, q.m-1, 1)
		q.setF(row, q.m-2, -1)
		q.a.Set(row, cols-1, -1)
		q.b[row] = p.lower * d
	}

	// Keep b non-negative for the phase one start.
	for r := range q.b {
		if q.b[r] < 0 {
			q.b[r] = -q.b[r]
			row := q.a.RawRowView(r)
			floats.Scale(-1, row)
		}
	}
	return q
}

// setF writes coefficient v for f_j, split into its two columns.
func (q *program) setF(row, j int, v float64) {
	q.a.Set(row, q.fp(j), v)
	q.a.Set(row, q.fn(j), -v)
}
