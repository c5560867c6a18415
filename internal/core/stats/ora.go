package stats

import (
	"fmt"
	"math"
	"sort"

	"github.com/agenthands/genefuse/internal/core/apperr"
	"github.com/agenthands/genefuse/internal/core/model"
)

// MinORAGenes is the smallest gene list ORA accepts.
const MinORAGenes = 3

type ORAOptions struct {
	// Background is the gene universe. Empty means the union of all gene sets.
	Background []string
	// BackgroundSize overrides the universe size used for the d cell.
	BackgroundSize int
	PCutoff        float64
	MinOverlap     int
	FDRMethod      string
}

func DefaultORAOptions() ORAOptions {
	return ORAOptions{PCutoff: 0.05, MinOverlap: 3, FDRMethod: MethodBH}
}

type ORAResult struct {
	Records        []model.ORARecord
	Tested         int
	BackgroundSize int
}

// RunORA tests every gene set for over-representation of geneList with a
// one-sided Fisher exact test. All sets meeting MinOverlap are corrected
// together before the PCutoff filter is applied to raw p-values. Records come
// back sorted by p-value, then name.
func RunORA(geneList []string, geneSets map[string][]string, opts ORAOptions) (*ORAResult, error) {
	const op = "stats.RunORA"
	genes := model.UniqueSorted(geneList)
	if len(genes) < MinORAGenes {
		return nil, apperr.Precondition(op, MinORAGenes, len(genes))
	}
	if opts.MinOverlap < 1 {
		opts.MinOverlap = 1
	}
	if opts.PCutoff <= 0 || opts.PCutoff > 1 {
		return nil, apperr.Input(apperr.CodeInvalidParameter, op,
			fmt.Sprintf("p_cutoff must be within (0, 1], got %v", opts.PCutoff)).With("p_cutoff", opts.PCutoff)
	}
	if len(geneSets) == 0 {
		return nil, apperr.Input(apperr.CodeNoTestableSets, op, "no gene sets supplied")
	}

	universe := make(map[string]struct{})
	if len(opts.Background) > 0 {
		for _, g := range opts.Background {
			if g != "" {
				universe[g] = struct{}{}
			}
		}
	} else {
		for _, set := range geneSets {
			for _, g := range set {
				if g != "" {
					universe[g] = struct{}{}
				}
			}
		}
	}
	bgSize := len(universe)
	if opts.BackgroundSize > 0 {
		bgSize = opts.BackgroundSize
	}

	query := make(map[string]struct{}, len(genes))
	for _, g := range genes {
		if _, ok := universe[g]; ok {
			query[g] = struct{}{}
		}
	}

	names := make([]string, 0, len(geneSets))
	for n := range geneSets {
		names = append(names, n)
	}
	sort.Strings(names)

	lf := newLogFactorials(max(bgSize, len(universe)))
	var (
		records []model.ORARecord
		pvals   []float64
	)
	for _, name := range names {
		set := make(map[string]struct{}, len(geneSets[name]))
		for _, g := range geneSets[name] {
			if _, ok := universe[g]; ok {
				set[g] = struct{}{}
			}
		}
		var hits []string
		for g := range query {
			if _, ok := set[g]; ok {
				hits = append(hits, g)
			}
		}
		if len(hits) < opts.MinOverlap {
			continue
		}
		sort.Strings(hits)

		a := len(hits)
		b := len(query) - a
		c := len(set) - a
		d := bgSize - a - b - c
		if d < 0 {
			return nil, apperr.Internal(op, "background smaller than the contingency table").
				With("pathway", name).With("a", a).With("b", b).With("c", c).With("background_size", bgSize)
		}
		p := lf.fisherGreater(a, b, c, d)
		or := oddsRatio(a, b, c, d)
		if math.IsNaN(p) || math.IsInf(p, 0) || math.IsNaN(or) || math.IsInf(or, 0) {
			return nil, apperr.Internal(op, "non-finite Fisher statistic").
				With("pathway", name).With("a", a).With("b", b).With("c", c).With("d", d)
		}
		pvals = append(pvals, p)
		records = append(records, model.ORARecord{
			PathwayName:    name,
			PValue:         p,
			OddsRatio:      or,
			HitGenes:       hits,
			HitCount:       a,
			PathwaySize:    len(set),
			BackgroundSize: bgSize,
			OverlapRatio:   fmt.Sprintf("%d/%d", a, len(set)),
		})
	}

	fdr, err := Adjust(pvals, opts.FDRMethod)
	if err != nil {
		return nil, err
	}
	out := make([]model.ORARecord, 0, len(records))
	for i := range records {
		records[i].FDR = fdr[i]
		if records[i].PValue <= opts.PCutoff {
			out = append(out, records[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PValue != out[j].PValue {
			return out[i].PValue < out[j].PValue
		}
		return out[i].PathwayName < out[j].PathwayName
	})
	return &ORAResult{Records: out, Tested: len(records), BackgroundSize: bgSize}, nil
}
