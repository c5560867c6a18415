package stats

import (
	"fmt"
	"math"
	"sort"

	"github.com/agenthands/genefuse/internal/core/apperr"
)

const (
	MethodBH         = "fdr_bh"
	MethodBY         = "fdr_by"
	MethodBonferroni = "bonferroni"
	MethodHolm       = "holm"
)

// Adjust applies a multiple-testing correction to p, returning adjusted
// values in input order.
func Adjust(p []float64, method string) ([]float64, error) {
	m := len(p)
	out := make([]float64, m)
	if m == 0 {
		return out, nil
	}
	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return p[order[i]] < p[order[j]] })

	switch method {
	case MethodBH, "", MethodBY:
		scale := 1.0
		if method == MethodBY {
			scale = 0
			for i := 1; i <= m; i++ {
				scale += 1 / float64(i)
			}
		}
		running := 1.0
		for rank := m; rank >= 1; rank-- {
			idx := order[rank-1]
			v := p[idx] * float64(m) / float64(rank) * scale
			running = math.Min(running, v)
			out[idx] = math.Min(1, running)
		}
	case MethodBonferroni:
		for i, v := range p {
			out[i] = math.Min(1, v*float64(m))
		}
	case MethodHolm:
		running := 0.0
		for rank := 1; rank <= m; rank++ {
			idx := order[rank-1]
			v := math.Min(1, p[idx]*float64(m-rank+1))
			running = math.Max(running, v)
			out[idx] = running
		}
	default:
		return nil, apperr.Input(apperr.CodeInvalidParameter, "stats.Adjust",
			fmt.Sprintf("unknown correction method %q; use %s, %s, %s or %s", method, MethodBH, MethodBY, MethodBonferroni, MethodHolm)).
			With("fdr_method", method)
	}
	return out, nil
}
