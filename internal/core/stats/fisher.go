package stats

import (
	"math"
)

// logFactorials holds ln(i!) for i in [0, n].
type logFactorials []float64

func newLogFactorials(n int) logFactorials {
	lf := make(logFactorials, n+1)
	for i := 2; i <= n; i++ {
		lf[i] = lf[i-1] + math.Log(float64(i))
	}
	return lf
}

func (lf logFactorials) choose(n, k int) float64 {
	return lf[n] - lf[k] - lf[n-k]
}

// logHypergeomPMF is ln P(X = k) for X ~ Hypergeom(total, successes, draws).
func (lf logFactorials) logHypergeomPMF(k, total, successes, draws int) float64 {
	return lf.choose(successes, k) + lf.choose(total-successes, draws-k) - lf.choose(total, draws)
}

// fisherGreater is the one-sided ("greater") Fisher exact p-value for the
// 2x2 table [[a, b], [c, d]]: the upper hypergeometric tail P(X >= a) with
// the table's margins. The tail is summed in log space.
func (lf logFactorials) fisherGreater(a, b, c, d int) float64 {
	total := a + b + c + d
	rowA := a + b
	colA := a + c
	hi := min(rowA, colA)

	terms := make([]float64, 0, hi-a+1)
	maxTerm := math.Inf(-1)
	for k := a; k <= hi; k++ {
		t := lf.logHypergeomPMF(k, total, colA, rowA)
		terms = append(terms, t)
		if t > maxTerm {
			maxTerm = t
		}
	}
	if math.IsInf(maxTerm, -1) {
		return 0
	}
	sum := 0.0
	for _, t := range terms {
		sum += math.Exp(t - maxTerm)
	}
	p := math.Exp(maxTerm + math.Log(sum))
	return math.Min(1, math.Max(0, p))
}

// oddsRatio is (a*d)/(b*c), with 0.5 added to every cell when any cell is
// zero so the ratio stays finite.
func oddsRatio(a, b, c, d int) float64 {
	fa, fb, fc, fd := float64(a), float64(b), float64(c), float64(d)
	if a == 0 || b == 0 || c == 0 || d == 0 {
		fa, fb, fc, fd = fa+0.5, fb+0.5, fc+0.5, fd+0.5
	}
	return (fa * fd) / (fb * fc)
}
