package estimator

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

var (
	// ErrNotConverged is returned when an iteration exhausts its bound.
	ErrNotConverged = errors.New("iteration did not converge")

	// ErrInvalidData is returned for unusable count series or parameters.
	ErrInvalidData = errors.New("invalid estimator input")
)

const (
	// Tolerance is the relative change in m that ends an iteration.
	Tolerance = 1e-8

	// chiSquare95 is the 0.95 quantile of the chi-square distribution with
	// one degree of freedom.
	chiSquare95 = 3.841458820694124

	// z95 is the two-sided 0.95 normal quantile, used for starting points.
	z95 = 1.959963984540054

	// leaCoulsonConstant appears in the Lea-Coulson method of the median:
	// r/m - ln(m) = 1.24.
	leaCoulsonConstant = 1.24
)

// Interval is a confidence interval for m.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// NewtonLD returns the maximum-likelihood m under the Luria-Delbrück model.
func NewtonLD(counts []int, maxIter int) (float64, error) {
	h, err := prepare(counts, maxIter, ldKernel)
	if err != nil {
		return 0, err
	}
	return newton(h, counts, maxIter)
}

// NewtonMK returns the maximum-likelihood m under the Mandelbrot-Koch model
// with relative mutant fitness w.
func NewtonMK(counts []int, w float64, maxIter int) (float64, error) {
	if !(w > 0) || math.IsInf(w, 0) {
		return 0, fmt.Errorf("%w: fitness weight must be positive, got %v", ErrInvalidData, w)
	}
	h, err := prepare(counts, maxIter, func(n int) kernel { return mkKernel(n, w) })
	if err != nil {
		return 0, err
	}
	return newton(h, counts, maxIter)
}

// ConfintLD returns the 95% likelihood-ratio interval for m under the
// Luria-Delbrück model.
func ConfintLD(counts []int, maxIter int) (Interval, error) {
	h, err := prepare(counts, maxIter, ldKernel)
	if err != nil {
		return Interval{}, err
	}
	return confint(h, counts, maxIter)
}

// ConfintMK returns the 95% likelihood-ratio interval for m under the
// Mandelbrot-Koch model.
func ConfintMK(counts []int, w float64, maxIter int) (Interval, error) {
	if !(w > 0) || math.IsInf(w, 0) {
		return Interval{}, fmt.Errorf("%w: fitness weight must be positive, got %v", ErrInvalidData, w)
	}
	h, err := prepare(counts, maxIter, func(n int) kernel { return mkKernel(n, w) })
	if err != nil {
		return Interval{}, err
	}
	return confint(h, counts, maxIter)
}

func prepare(counts []int, maxIter int, build func(n int) kernel) (kernel, error) {
	if maxIter < 1 {
		return nil, fmt.Errorf("%w: max iterations must be positive, got %d", ErrInvalidData, maxIter)
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("%w: no counts", ErrInvalidData)
	}
	maxCount := 0
	for i, x := range counts {
		if x < 0 {
			return nil, fmt.Errorf("%w: count %d is negative (%d)", ErrInvalidData, i, x)
		}
		maxCount = max(maxCount, x)
	}
	if maxCount == 0 {
		return nil, fmt.Errorf("%w: all counts are zero", ErrInvalidData)
	}
	return build(maxCount), nil
}

func newton(h kernel, counts []int, maxIter int) (float64, error) {
	m := initialGuess(counts)
	for i := 0; i < maxIter; i++ {
		l := h.likelihood(m, counts)

		var next float64
		switch {
		case math.IsNaN(l.score) || math.IsNaN(l.curvature):
			return 0, fmt.Errorf("%w: likelihood undefined at m=%g", ErrNotConverged, m)
		case l.curvature < 0:
			next = m - l.score/l.curvature
		case l.score > 0:
			next = 2 * m
		default:
			next = m / 2
		}
		if next <= 0 {
			next = m / 2
		}

		if math.Abs(next-m) <= Tolerance*m {
			return next, nil
		}
		m = next
	}
	return 0, fmt.Errorf("%w after %d iterations (last m=%g)", ErrNotConverged, maxIter, m)
}

// initialGuess uses the p0 method when some cultures have no mutants and
// the Lea-Coulson method of the median otherwise.
func initialGuess(counts []int) float64 {
	zeros := 0
	for _, x := range counts {
		if x == 0 {
			zeros++
		}
	}
	if zeros > 0 && zeros < len(counts) {
		return -math.Log(float64(zeros) / float64(len(counts)))
	}

	sorted := slices.Clone(counts)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	r := float64(sorted[mid])
	if len(sorted)%2 == 0 {
		r = (float64(sorted[mid-1]) + r) / 2
	}

	// r/m - ln(m) - 1.24 is decreasing in m, positive near 0 and negative at
	// m = r for r >= 1.
	lo, hi := 1e-8, math.Max(r, 1)
	for i := 0; i < 200; i++ {
		mid := (lo + hi) / 2
		if r/mid-math.Log(mid)-leaCoulsonConstant > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

func confint(h kernel, counts []int, maxIter int) (Interval, error) {
	mHat, err := newton(h, counts, maxIter)
	if err != nil {
		return Interval{}, err
	}
	at := h.likelihood(mHat, counts)
	cutoff := at.value - chiSquare95/2

	// g is positive inside the interval and negative outside.
	g := func(m float64) (float64, float64) {
		l := h.likelihood(m, counts)
		return l.value - cutoff, l.score
	}

	se := mHat
	if at.curvature < 0 {
		se = 1 / math.Sqrt(-at.curvature)
	}

	lowerBracket, err := bracket(g, mHat, 0.5, maxIter)
	if err != nil {
		return Interval{}, fmt.Errorf("lower limit: %w", err)
	}
	lower, err := findRoot(g, lowerBracket, mHat, math.Max(mHat-z95*se, (lowerBracket+mHat)/2), maxIter)
	if err != nil {
		return Interval{}, fmt.Errorf("lower limit: %w", err)
	}

	upperBracket, err := bracket(g, mHat, 2, maxIter)
	if err != nil {
		return Interval{}, fmt.Errorf("upper limit: %w", err)
	}
	upper, err := findRoot(g, mHat, upperBracket, math.Min(mHat+z95*se, (mHat+upperBracket)/2), maxIter)
	if err != nil {
		return Interval{}, fmt.Errorf("upper limit: %w", err)
	}

	return Interval{Lower: lower, Upper: upper}, nil
}

// bracket scales m by factor until g turns negative.
func bracket(g func(float64) (float64, float64), m, factor float64, maxIter int) (float64, error) {
	x := m
	for i := 0; i < maxIter; i++ {
		x *= factor
		v, _ := g(x)
		if v < 0 || math.IsInf(v, -1) {
			return x, nil
		}
		if x == 0 || math.IsInf(x, 0) {
			break
		}
	}
	return 0, fmt.Errorf("%w: no sign change after %d steps", ErrNotConverged, maxIter)
}

// findRoot runs Newton's method on g inside [a, b], where g(a) and g(b) have
// opposite signs, falling back to bisection when a step leaves the bracket.
func findRoot(g func(float64) (float64, float64), a, b, x float64, maxIter int) (float64, error) {
	fa, _ := g(a)
	for i := 0; i < maxIter; i++ {
		fx, dfx := g(x)
		if fx == 0 {
			return x, nil
		}
		if (fx < 0) == (fa < 0) {
			a, fa = x, fx
		} else {
			b = x
		}

		next := x - fx/dfx
		lo, hi := math.Min(a, b), math.Max(a, b)
		if math.IsNaN(next) || math.IsInf(next, 0) || next <= lo || next >= hi {
			next = (a + b) / 2
		}
		if math.Abs(next-x) <= Tolerance*math.Abs(x) {
			return next, nil
		}
		x = next
	}
	return 0, fmt.Errorf("%w after %d iterations", ErrNotConverged, maxIter)
}
