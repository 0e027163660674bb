package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultMaxPoints admits one point per cell of the default 70x400 bagging
// grid.
const DefaultMaxPoints = 70 * 400

const (
	// DefaultInteriorTolerance bounds the relative residuals and duality gap
	// at which InteriorPoint stops.
	DefaultInteriorTolerance = 1e-9
	// DefaultMaxIterations caps the predictor-corrector steps.
	DefaultMaxIterations = 200
)

// ErrNotConverged is returned when InteriorPoint runs out of iterations.
var ErrNotConverged = errors.New("interior point method did not converge")

// InteriorPoint solves problems with a Mehrotra predictor-corrector
// interior-point method on the same linear program as Simplex. The frontier
// values are the only free variables and every constraint row touches at most
// three neighbouring values, so each Newton step reduces to a pentadiagonal
// system that is factorised in linear time. The zero value uses the defaults.
type InteriorPoint struct {
	Tol       float64
	MaxIter   int
	MaxPoints int
}

func (s InteriorPoint) tol() float64 {
	if s.Tol > 0 {
		return s.Tol
	}
	return DefaultInteriorTolerance
}

func (s InteriorPoint) maxIter() int {
	if s.MaxIter > 0 {
		return s.MaxIter
	}
	return DefaultMaxIterations
}

func (s InteriorPoint) maxPoints() int {
	if s.MaxPoints > 0 {
		return s.MaxPoints
	}
	return DefaultMaxPoints
}

// Fit solves p. ctx is checked before every iteration.
func (s InteriorPoint) Fit(ctx context.Context, p *Problem) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	n := len(p.X)
	if n > s.maxPoints() {
		return Result{}, fmt.Errorf("%w: %d points, limit %d", ErrTooLarge, n, s.maxPoints())
	}

	q := newFrontierLP(p)
	values, err := s.solve(ctx, q, p.Tau)
	if err != nil {
		return Result{}, err
	}
	for j := range values {
		values[j] = q.yMid + q.yScale*values[j]
	}

	frontier := make([]float64, n)
	for i, x := range p.X {
		frontier[i] = q.evaluate(values, x)
	}
	return Result{Frontier: frontier, Objective: checkLoss(p, frontier)}, nil
}

// lpRow is one constraint row: coef·f[col] >= h over up to three
// consecutive frontier values, in increasing column order.
type lpRow struct {
	col  [3]int
	coef [3]float64
	size int
	h    float64
}

// frontierLP is the problem rescaled to unit ranges. Only points with
// positive weight enter it; knots are their distinct x values.
type frontierLP struct {
	knots []float64 // original x of each knot, increasing
	u     []float64 // knots mapped into [0, 1]
	g     []int     // knot of each point
	y, w  []float64
	rows  []lpRow

	xMin, xScale float64
	yMid, yScale float64
	// edgeSlope extends a single-knot frontier beyond its knot.
	edgeSlope float64
}

func newFrontierLP(p *Problem) *frontierLP {
	q := &frontierLP{}

	var xs, ys, ws []float64
	for i := range p.X {
		if p.W[i] > 0 {
			xs = append(xs, p.X[i])
			ys = append(ys, p.Y[i])
			ws = append(ws, p.W[i])
		}
	}
	q.knots, q.g = groupByX(xs)
	m := len(q.knots)

	q.xMin = q.knots[0]
	q.xScale = q.knots[m-1] - q.knots[0]
	if q.xScale == 0 {
		q.xScale = 1
	}
	lo, hi := floats.Min(ys), floats.Max(ys)
	q.yMid, q.yScale = (lo+hi)/2, (hi-lo)/2
	if q.yScale == 0 {
		q.yScale = 1
	}

	q.u = make([]float64, m)
	for j, x := range q.knots {
		q.u[j] = (x - q.xMin) / q.xScale
	}
	q.y = make([]float64, len(ys))
	for i, y := range ys {
		q.y[i] = (y - q.yMid) / q.yScale
	}
	// Mean weight 1 keeps the starting point balanced.
	q.w = append([]float64(nil), ws...)
	floats.Scale(float64(len(ws))/floats.Sum(ws), q.w)

	// f[k+1] lies on or above the chord through its neighbours.
	for k := 0; k+2 < m; k++ {
		d0 := q.u[k+1] - q.u[k]
		d1 := q.u[k+2] - q.u[k+1]
		q.rows = append(q.rows, lpRow{
			col:  [3]int{k, k + 1, k + 2},
			coef: [3]float64{-d1 / (d0 + d1), 1, -d0 / (d0 + d1)},
			size: 3,
		})
	}
	// Under concavity the last slope is the smallest, so bounding it bounds
	// them all.
	if l, ok := p.SlopeLowerBound(); ok && m >= 2 {
		d := q.u[m-1] - q.u[m-2]
		q.rows = append(q.rows, lpRow{
			col:  [3]int{m - 2, m - 1},
			coef: [3]float64{-1, 1},
			size: 2,
			h:    l * q.xScale / q.yScale * d,
		})
	}
	if l, ok := p.SlopeLowerBound(); ok && l > 0 {
		q.edgeSlope = l
	}
	return q
}

// evaluate returns the piecewise-linear frontier through values at the
// knots, extended linearly beyond them.
func (q *frontierLP) evaluate(values []float64, x float64) float64 {
	m := len(q.knots)
	j := sort.SearchFloat64s(q.knots, x)
	if j < m && q.knots[j] == x {
		return values[j]
	}
	if m == 1 {
		return values[0] + q.edgeSlope*(x-q.knots[0])
	}
	switch {
	case j == 0:
		j = 1
	case j == m:
		j = m - 1
	}
	x0, x1 := q.knots[j-1], q.knots[j]
	return values[j-1] + (values[j]-values[j-1])*(x-x0)/(x1-x0)
}

// checkLoss is the weighted quantile loss of frontier on p.
func checkLoss(p *Problem, frontier []float64) float64 {
	var loss float64
	for i, y := range p.Y {
		r := y - frontier[i]
		if r >= 0 {
			loss += p.W[i] * p.Tau * r
		} else {
			loss -= p.W[i] * (1 - p.Tau) * r
		}
	}
	return loss
}

// ipState holds the iterate. Primal: f, the residual split ep/en and the
// row slacks sl. Dual: lam for the residual rows, mu for the constraint rows
// and the bound slacks za = tau*w - lam, zb = (1-tau)*w + lam.
type ipState struct {
	f           []float64
	ep, en, sl  []float64
	lam, za, zb []float64
	mu          []float64
}

func newIPState(m, n, k int) *ipState {
	return &ipState{
		f:  make([]float64, m),
		ep: make([]float64, n), en: make([]float64, n), sl: make([]float64, k),
		lam: make([]float64, n), za: make([]float64, n), zb: make([]float64, n), mu: make([]float64, k),
	}
}

func (s InteriorPoint) solve(ctx context.Context, q *frontierLP, tau float64) ([]float64, error) {
	m, n, k := len(q.u), len(q.y), len(q.rows)
	tw := make([]float64, n)
	uw := make([]float64, n)
	for i, w := range q.w {
		tw[i], uw[i] = tau*w, (1-tau)*w
	}

	x := newIPState(m, n, k)
	for i, y := range q.y {
		x.ep[i] = math.Max(y, 0) + 1
		x.en[i] = math.Max(-y, 0) + 1
		x.lam[i] = (tau - 0.5) * q.w[i]
		x.za[i] = tw[i] - x.lam[i]
		x.zb[i] = uw[i] + x.lam[i]
	}
	for r := range q.rows {
		x.sl[r], x.mu[r] = 1, 1
	}

	var (
		rp    = make([]float64, n) // y - f[g] - ep + en
		rh    = make([]float64, k) // h - G f + sl
		rd    = make([]float64, m) // -(E'lam + G'mu)
		ra    = make([]float64, n) // tw - lam - za
		rb    = make([]float64, n) // uw + lam - zb
		theta = make([]float64, n)
		phi   = make([]float64, k)
		cp    = make([]float64, n)
		cn    = make([]float64, n)
		cs    = make([]float64, k)
		aff   = newIPState(m, n, k)
		step  = newIPState(m, n, k)
		chol  mat.BandCholesky
	)
	bw := min(2, m-1)
	total := float64(2*n + k)
	tol := s.tol()

	for iter := 0; iter < s.maxIter(); iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for i := range rp {
			rp[i] = q.y[i] - x.f[q.g[i]] - x.ep[i] + x.en[i]
			ra[i] = tw[i] - x.lam[i] - x.za[i]
			rb[i] = uw[i] + x.lam[i] - x.zb[i]
		}
		for j := range rd {
			rd[j] = 0
		}
		for i, lam := range x.lam {
			rd[q.g[i]] -= lam
		}
		for r, row := range q.rows {
			rh[r] = row.h - row.dot(x.f) + x.sl[r]
			for a := 0; a < row.size; a++ {
				rd[row.col[a]] -= row.coef[a] * x.mu[r]
			}
		}

		gap := floats.Dot(x.ep, x.za) + floats.Dot(x.en, x.zb) + floats.Dot(x.sl, x.mu)
		primal := floats.Dot(tw, x.ep) + floats.Dot(uw, x.en)
		dual := floats.Dot(q.y, x.lam)
		for r, row := range q.rows {
			dual += row.h * x.mu[r]
		}
		pres := math.Max(normInf(rp), normInf(rh))
		dres := math.Max(normInf(rd), math.Max(normInf(ra), normInf(rb)))
		if pres < tol && dres < tol && math.Abs(primal-dual) < tol*(1+math.Abs(primal)) {
			return x.f, nil
		}
		nu := gap / total

		for i := range theta {
			theta[i] = x.ep[i]/x.za[i] + x.en[i]/x.zb[i]
		}
		for r := range phi {
			phi[r] = x.mu[r] / x.sl[r]
		}
		if err := factorNormal(&chol, q, theta, phi, m, bw); err != nil {
			return nil, err
		}

		// Predictor.
		for i := range cp {
			cp[i] = -x.ep[i] * x.za[i]
			cn[i] = -x.en[i] * x.zb[i]
		}
		for r := range cs {
			cs[r] = -x.sl[r] * x.mu[r]
		}
		if err := direction(aff, &chol, q, x, theta, phi, rp, rh, rd, ra, rb, cp, cn, cs); err != nil {
			return nil, err
		}
		ap, ad := stepLengths(x, aff)
		affGap := 0.0
		for i := range x.ep {
			affGap += (x.ep[i] + ap*aff.ep[i]) * (x.za[i] + ad*aff.za[i])
			affGap += (x.en[i] + ap*aff.en[i]) * (x.zb[i] + ad*aff.zb[i])
		}
		for r := range x.sl {
			affGap += (x.sl[r] + ap*aff.sl[r]) * (x.mu[r] + ad*aff.mu[r])
		}
		sigma := math.Min(1, math.Pow(affGap/gap, 3))

		// Corrector.
		for i := range cp {
			cp[i] = sigma*nu - x.ep[i]*x.za[i] - aff.ep[i]*aff.za[i]
			cn[i] = sigma*nu - x.en[i]*x.zb[i] - aff.en[i]*aff.zb[i]
		}
		for r := range cs {
			cs[r] = sigma*nu - x.sl[r]*x.mu[r] - aff.sl[r]*aff.mu[r]
		}
		if err := direction(step, &chol, q, x, theta, phi, rp, rh, rd, ra, rb, cp, cn, cs); err != nil {
			return nil, err
		}
		ap, ad = stepLengths(x, step)
		ap, ad = math.Min(1, 0.99*ap), math.Min(1, 0.99*ad)

		floats.AddScaled(x.f, ap, step.f)
		floats.AddScaled(x.ep, ap, step.ep)
		floats.AddScaled(x.en, ap, step.en)
		floats.AddScaled(x.sl, ap, step.sl)
		floats.AddScaled(x.lam, ad, step.lam)
		floats.AddScaled(x.za, ad, step.za)
		floats.AddScaled(x.zb, ad, step.zb)
		floats.AddScaled(x.mu, ad, step.mu)
	}
	return nil, fmt.Errorf("%w after %d iterations", ErrNotConverged, s.maxIter())
}

func (row lpRow) dot(f []float64) float64 {
	var v float64
	for a := 0; a < row.size; a++ {
		v += row.coef[a] * f[row.col[a]]
	}
	return v
}

// factorNormal factorises E'Θ⁻¹E + G'ΦG, the Newton system reduced to the
// frontier values. A small ridge is added if the matrix is not numerically
// positive definite.
func factorNormal(chol *mat.BandCholesky, q *frontierLP, theta, phi []float64, m, bw int) error {
	data := make([]float64, m*(bw+1))
	at := func(i, j int) *float64 { return &data[i*(bw+1)+j-i] }
	for i, th := range theta {
		*at(q.g[i], q.g[i]) += 1 / th
	}
	for r, row := range q.rows {
		for a := 0; a < row.size; a++ {
			for b := a; b < row.size; b++ {
				*at(row.col[a], row.col[b]) += phi[r] * row.coef[a] * row.coef[b]
			}
		}
	}

	var maxDiag float64
	for j := 0; j < m; j++ {
		maxDiag = math.Max(maxDiag, *at(j, j))
	}
	for ridge := 1e-14; ridge < 1e-4; ridge *= 100 {
		for j := 0; j < m; j++ {
			*at(j, j) += ridge * (1 + maxDiag)
		}
		if chol.Factorize(mat.NewSymBandDense(m, bw, append([]float64(nil), data...))) {
			return nil
		}
	}
	return errors.New("newton system is not positive definite")
}

// direction solves the Newton system for the given complementarity targets.
func direction(d *ipState, chol *mat.BandCholesky, q *frontierLP, x *ipState,
	theta, phi, rp, rh, rd, ra, rb, cp, cn, cs []float64) error {
	m := len(d.f)
	t1 := d.lam // reused as scratch before lam is written
	rhs := make([]float64, m)
	for i := range t1 {
		t1[i] = rp[i] - cp[i]/x.za[i] + x.ep[i]*ra[i]/x.za[i] + cn[i]/x.zb[i] - x.en[i]*rb[i]/x.zb[i]
		rhs[q.g[i]] += t1[i] / theta[i]
	}
	for r, row := range q.rows {
		t2 := rh[r] + cs[r]/x.mu[r]
		d.mu[r] = t2 // scratch
		for a := 0; a < row.size; a++ {
			rhs[row.col[a]] += row.coef[a] * phi[r] * t2
		}
	}
	for j := range rhs {
		rhs[j] -= rd[j]
	}

	df := mat.NewVecDense(m, d.f)
	if err := chol.SolveVecTo(df, mat.NewVecDense(m, rhs)); err != nil {
		var c mat.Condition
		if !errors.As(err, &c) {
			return err
		}
	}

	for i := range d.lam {
		d.lam[i] = (t1[i] - d.f[q.g[i]]) / theta[i]
		d.za[i] = ra[i] - d.lam[i]
		d.zb[i] = rb[i] + d.lam[i]
		d.ep[i] = (cp[i] - x.ep[i]*d.za[i]) / x.za[i]
		d.en[i] = (cn[i] - x.en[i]*d.zb[i]) / x.zb[i]
	}
	for r, row := range q.rows {
		d.mu[r] = phi[r] * (d.mu[r] - row.dot(d.f))
		d.sl[r] = (cs[r] - x.sl[r]*d.mu[r]) / x.mu[r]
	}
	return nil
}

// stepLengths returns the largest primal and dual steps in (0, 1] that keep
// the iterate non-negative.
func stepLengths(x, d *ipState) (primal, dual float64) {
	primal = math.Min(maxStep(x.ep, d.ep), math.Min(maxStep(x.en, d.en), maxStep(x.sl, d.sl)))
	dual = math.Min(maxStep(x.za, d.za), math.Min(maxStep(x.zb, d.zb), maxStep(x.mu, d.mu)))
	return primal, dual
}

func maxStep(v, dv []float64) float64 {
	alpha := 1.0
	for i, d := range dv {
		if d < 0 {
			alpha = math.Min(alpha, -v[i]/d)
		}
	}
	return alpha
}

func normInf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Norm(v, math.Inf(1))
}
