// Package estimator fits the expected number of mutations per culture (m)
// to fluctuation-assay mutant counts by maximum likelihood.
//
// Two mutant-count distributions are supported. The Luria-Delbrück model
// (Lea-Coulson form) assumes mutants grow as fast as wildtype. The
// Mandelbrot-Koch model takes a relative mutant fitness w. Both have
// generating function exp(m*h(z)) with h_0 = -1 and
//
//	LD: h_k = 1/(k(k+1))
//	MK: h_k = B(k, 1+1/w)/w
//
// for k >= 1, so probabilities and their derivatives in m follow from one
// recursion and two convolutions.
package estimator

import "math"

// kernel holds h_0..h_n for one model.
type kernel []float64

func ldKernel(n int) kernel {
	h := make(kernel, n+1)
	h[0] = -1
	for k := 1; k <= n; k++ {
		h[k] = 1 / (float64(k) * float64(k+1))
	}
	return h
}

func mkKernel(n int, w float64) kernel {
	h := make(kernel, n+1)
	h[0] = -1
	if n == 0 {
		return h
	}
	// B(k+1, a) = B(k, a) * k / (k + a), with B(1, a) = 1/a and a = 1 + 1/w.
	h[1] = 1 / (1 + w)
	for k := 1; k < n; k++ {
		h[k+1] = h[k] * float64(k) / (float64(k+1) + 1/w)
	}
	return h
}

// distribution holds p_0..p_n and its first two derivatives in m.
type distribution struct {
	p, d1, d2 []float64
}

func (h kernel) distribution(m float64) distribution {
	n := len(h) - 1
	d := distribution{
		p:  make([]float64, n+1),
		d1: make([]float64, n+1),
		d2: make([]float64, n+1),
	}

	d.p[0] = math.Exp(-m)
	for j := 1; j <= n; j++ {
		var s float64
		for k := 1; k <= j; k++ {
			s += float64(k) * h[k] * d.p[j-k]
		}
		d.p[j] = m * s / float64(j)
	}

	for j := 0; j <= n; j++ {
		var s float64
		for k := 0; k <= j; k++ {
			s += h[k] * d.p[j-k]
		}
		d.d1[j] = s
	}
	for j := 0; j <= n; j++ {
		var s float64
		for k := 0; k <= j; k++ {
			s += h[k] * d.d1[j-k]
		}
		d.d2[j] = s
	}
	return d
}

// likelihood is the log-likelihood of counts at m with its score and
// second derivative.
type likelihood struct {
	value, score, curvature float64
}

func (h kernel) likelihood(m float64, counts []int) likelihood {
	d := h.distribution(m)
	var l likelihood
	for _, x := range counts {
		p := d.p[x]
		r1 := d.d1[x] / p
		l.value += math.Log(p)
		l.score += r1
		l.curvature += d.d2[x]/p - r1*r1
	}
	return l
}

// ProbLD returns the Luria-Delbrück probabilities of 0..n mutants given m.
func ProbLD(m float64, n int) []float64 {
	if n < 0 {
		return nil
	}
	return ldKernel(n).distribution(m).p
}

// ProbMK returns the Mandelbrot-Koch probabilities of 0..n mutants given m
// and relative mutant fitness w.
func ProbMK(m, w float64, n int) []float64 {
	if n < 0 || w <= 0 {
		return nil
	}
	return mkKernel(n, w).distribution(m).p
}
