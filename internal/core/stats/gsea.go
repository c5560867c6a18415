package stats

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/agenthands/genefuse/internal/core/apperr"
	"github.com/agenthands/genefuse/internal/core/model"
)

// MinGSEAGenes is the smallest ranking GSEA accepts after validation.
const MinGSEAGenes = 10

// PCG stream ids for the two generators derived from one seed.
const (
	permutationStream = 0x5851f42d4c957f2d
	jitterStream      = 0x6a09e667f3bcc908
)

type GSEAOptions struct {
	MinSize        int
	MaxSize        int
	PermutationNum int
	Seed           uint64
	// TopN caps each direction. Zero or less keeps everything.
	TopN int
	// Weight is the exponent applied to |score| in the running sum.
	Weight float64
	// TieFraction is the duplicate-score fraction above which ties are
	// jittered. Zero jitters as soon as any score repeats.
	TieFraction float64
}

func DefaultGSEAOptions() GSEAOptions {
	return GSEAOptions{
		MinSize:        5,
		MaxSize:        500,
		PermutationNum: 1000,
		Seed:           42,
		TopN:           20,
		Weight:         1,
	}
}

type GSEAResult struct {
	Up       []model.GSEARecord
	Down     []model.GSEARecord
	Tested   int
	Warnings []string
}

type gseaSet struct {
	name  string
	genes []int // indices into the ranking, ascending
	es    float64
	rank  int
	null  []float64
	nes   float64
	pval  float64
	pos   float64 // mean of non-negative null ES
	neg   float64 // mean |negative null ES|
}

// RunGSEA runs a pre-ranked gene set enrichment analysis. Identical inputs
// and seed produce identical output.
func RunGSEA(ranking map[string]float64, geneSets map[string][]string, opts GSEAOptions) (*GSEAResult, error) {
	const op = "stats.RunGSEA"
	if opts.PermutationNum < 1 {
		return nil, apperr.Input(apperr.CodeInvalidParameter, op,
			fmt.Sprintf("permutation_num must be at least 1, got %d", opts.PermutationNum)).With("permutation_num", opts.PermutationNum)
	}
	if opts.MinSize > opts.MaxSize && opts.MaxSize > 0 {
		return nil, apperr.Input(apperr.CodeInvalidParameter, op,
			fmt.Sprintf("min_size %d exceeds max_size %d", opts.MinSize, opts.MaxSize))
	}

	ranked, warnings := ValidateRanking(ranking)
	if len(ranked) < MinGSEAGenes {
		return nil, apperr.Precondition(op, MinGSEAGenes, len(ranked))
	}
	if w := breakTies(ranked, opts.Seed, opts.TieFraction); w != "" {
		warnings = append(warnings, w)
	}

	n := len(ranked)
	index := make(map[string]int, n)
	weights := make([]float64, n)
	var total float64
	for i, g := range ranked {
		index[g.Gene] = i
		weights[i] = math.Pow(math.Abs(g.Score), opts.Weight)
		total += weights[i]
	}
	if total == 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		for i := range weights {
			weights[i] = 1
		}
		warnings = append(warnings, "ranking weights degenerate, using unweighted running sum")
	}

	names := make([]string, 0, len(geneSets))
	for name := range geneSets {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		sets    []*gseaSet
		skipped int
	)
	for _, name := range names {
		seen := make(map[int]struct{})
		var idx []int
		for _, g := range geneSets[name] {
			if i, ok := index[g]; ok {
				if _, dup := seen[i]; !dup {
					seen[i] = struct{}{}
					idx = append(idx, i)
				}
			}
		}
		if len(idx) == 0 || len(idx) < opts.MinSize || (opts.MaxSize > 0 && len(idx) > opts.MaxSize) {
			skipped++
			continue
		}
		if len(idx) == n {
			warnings = append(warnings, fmt.Sprintf("gene set %s covers the whole ranking and was skipped", name))
			continue
		}
		sort.Ints(idx)
		sets = append(sets, &gseaSet{name: name, genes: idx})
	}
	if len(sets) == 0 {
		return nil, apperr.New(apperr.KindStatisticalPrecondition, apperr.CodeNoTestableSets, op,
			fmt.Sprintf("no gene sets with %d-%d genes in the ranking", opts.MinSize, opts.MaxSize)).
			With("skipped", skipped).With("ranking_size", n)
	}
	if skipped > 0 {
		warnings = append(warnings, fmt.Sprintf("skipped %d gene sets outside size range %d-%d", skipped, opts.MinSize, opts.MaxSize))
	}

	for _, s := range sets {
		s.es, s.rank = enrichmentScore(s.genes, weights, n)
		s.null = make([]float64, opts.PermutationNum)
	}

	rng := rand.New(rand.NewPCG(opts.Seed, permutationStream))
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	buf := make([]int, 0, 64)
	for p := 0; p < opts.PermutationNum; p++ {
		rng.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		for _, s := range sets {
			buf = buf[:0]
			for _, g := range s.genes {
				buf = append(buf, perm[g])
			}
			sort.Ints(buf)
			s.null[p], _ = enrichmentScore(buf, weights, n)
		}
	}

	if err := normalize(op, sets); err != nil {
		return nil, err
	}

	var posNull, negNull []float64
	permMax := make([]float64, opts.PermutationNum)
	permMin := make([]float64, opts.PermutationNum)
	for p := range permMax {
		permMax[p] = math.Inf(-1)
		permMin[p] = math.Inf(1)
	}
	for _, s := range sets {
		for p, v := range s.null {
			var nv float64
			if v >= 0 {
				nv = ratio(v, s.pos)
				posNull = append(posNull, nv)
			} else {
				nv = ratio(v, s.neg)
				negNull = append(negNull, nv)
			}
			permMax[p] = math.Max(permMax[p], nv)
			permMin[p] = math.Min(permMin[p], nv)
		}
	}
	sort.Float64s(posNull)
	sort.Float64s(negNull)

	var posObs, negObs []float64
	for _, s := range sets {
		if s.nes >= 0 {
			posObs = append(posObs, s.nes)
		} else {
			negObs = append(negObs, s.nes)
		}
	}
	sort.Float64s(posObs)
	sort.Float64s(negObs)

	result := &GSEAResult{Tested: len(sets), Warnings: warnings}
	for _, s := range sets {
		var fdr, fwer float64
		if s.nes >= 0 {
			fdr = tailRatio(countAtLeast(posNull, s.nes), len(posNull), countAtLeast(posObs, s.nes), len(posObs))
			fwer = float64(countAtLeastUnsorted(permMax, s.nes)) / float64(opts.PermutationNum)
		} else {
			fdr = tailRatio(countAtMost(negNull, s.nes), len(negNull), countAtMost(negObs, s.nes), len(negObs))
			fwer = float64(countAtMostUnsorted(permMin, s.nes)) / float64(opts.PermutationNum)
		}
		rec := model.GSEARecord{
			PathwayName: s.name,
			ES:          s.es,
			NES:         s.nes,
			PValue:      s.pval,
			FDR:         fdr,
			FWER:        fwer,
			LeadGenes:   leadingEdge(s, ranked),
			GeneSize:    len(s.genes),
			RankAtMax:   s.rank,
		}
		switch {
		case rec.Upregulated():
			result.Up = append(result.Up, rec)
		case rec.NES < 0:
			result.Down = append(result.Down, rec)
		}
	}
	result.Up = topByMagnitude(result.Up, opts.TopN)
	result.Down = topByMagnitude(result.Down, opts.TopN)
	return result, nil
}

// enrichmentScore walks the weighted running sum over hit positions only.
// The maximum deviation sits right after a hit, the minimum right before one.
func enrichmentScore(hits []int, weights []float64, n int) (float64, int) {
	var norm float64
	for _, h := range hits {
		norm += weights[h]
	}
	weight := func(pos int) float64 { return weights[pos] }
	if norm == 0 {
		norm = float64(len(hits))
		weight = func(int) float64 { return 1 }
	}
	missNorm := float64(n - len(hits))

	var (
		cum       float64
		best      float64
		bestRank  int
		worst     float64
		worstRank int
	)
	for j, pos := range hits {
		misses := float64(pos - j)
		if pos > 0 {
			if before := cum/norm - misses/missNorm; before < worst {
				worst, worstRank = before, pos-1
			}
		}
		cum += weight(pos)
		if after := cum/norm - misses/missNorm; after > best {
			best, bestRank = after, pos
		}
	}
	if best >= -worst {
		return best, bestRank
	}
	return worst, worstRank
}

func normalize(op string, sets []*gseaSet) error {
	for _, s := range sets {
		var (
			posSum, negSum, absSum float64
			posN, negN             int
			posHit, negHit         int
		)
		for _, v := range s.null {
			absSum += math.Abs(v)
			if v >= 0 {
				posSum += v
				posN++
				if v >= s.es {
					posHit++
				}
			} else {
				negSum -= v
				negN++
				if v <= s.es {
					negHit++
				}
			}
		}
		fallback := absSum / float64(len(s.null))
		s.pos, s.neg = fallback, fallback
		if posN > 0 && posSum > 0 {
			s.pos = posSum / float64(posN)
		}
		if negN > 0 {
			s.neg = negSum / float64(negN)
		}

		denom := s.pos
		if s.es < 0 {
			denom = s.neg
		}
		if denom == 0 || math.IsNaN(denom) {
			return apperr.Internal(op, "permutation null has zero magnitude").
				With("pathway", s.name).With("es", s.es).With("gene_size", len(s.genes))
		}
		s.nes = s.es / denom
		if math.IsNaN(s.nes) || math.IsInf(s.nes, 0) {
			return apperr.Internal(op, "non-finite normalized enrichment score").
				With("pathway", s.name).With("es", s.es).With("null_mean", denom)
		}

		permutations := float64(len(s.null))
		switch {
		case s.es >= 0 && posN > 0:
			s.pval = float64(posHit) / float64(posN)
		case s.es < 0 && negN > 0:
			s.pval = float64(negHit) / float64(negN)
		default:
			s.pval = 1 / (permutations + 1)
		}
	}
	return nil
}

func leadingEdge(s *gseaSet, ranked []RankedGene) []string {
	var out []string
	for _, pos := range s.genes {
		if (s.es >= 0 && pos <= s.rank) || (s.es < 0 && pos > s.rank) {
			out = append(out, ranked[pos].Gene)
		}
	}
	return out
}

// breakTies adds seeded jitter inside each run of equal scores. The jitter is
// bounded by half the smallest gap between distinct scores and is sorted
// descending within the run, so the ranking order never changes.
func breakTies(ranked []RankedGene, seed uint64, fraction float64) string {
	n := len(ranked)
	distinct := 1
	minGap := math.Inf(1)
	for i := 1; i < n; i++ {
		if gap := ranked[i-1].Score - ranked[i].Score; gap > 0 {
			distinct++
			minGap = math.Min(minGap, gap)
		}
	}
	dups := n - distinct
	if dups == 0 || float64(dups)/float64(n) <= fraction {
		return ""
	}
	eps := 1e-9
	if !math.IsInf(minGap, 1) {
		eps = math.Min(eps, minGap/2)
	}

	rng := rand.New(rand.NewPCG(seed, jitterStream))
	for start := 0; start < n; {
		end := start + 1
		for end < n && ranked[end].Score == ranked[start].Score {
			end++
		}
		if end-start > 1 {
			jitter := make([]float64, end-start)
			for i := range jitter {
				jitter[i] = rng.Float64() * eps
			}
			sort.Sort(sort.Reverse(sort.Float64Slice(jitter)))
			for i := start; i < end; i++ {
				ranked[i].Score += jitter[i-start]
			}
		}
		start = end
	}
	return fmt.Sprintf("%d of %d ranking scores were tied; applied seeded jitter", dups, n)
}

func ratio(v, denom float64) float64 {
	if denom == 0 {
		return 0
	}
	return v / denom
}

func tailRatio(nullTail, nullTotal, obsTail, obsTotal int) float64 {
	if nullTotal == 0 || obsTotal == 0 || obsTail == 0 {
		return 1
	}
	a := float64(nullTail) / float64(nullTotal)
	b := float64(obsTail) / float64(obsTotal)
	return math.Min(1, a/b)
}

// countAtLeast counts values >= x in an ascending slice.
func countAtLeast(sorted []float64, x float64) int {
	return len(sorted) - sort.SearchFloat64s(sorted, x)
}

// countAtMost counts values <= x in an ascending slice.
func countAtMost(sorted []float64, x float64) int {
	return sort.Search(len(sorted), func(i int) bool { return sorted[i] > x })
}

func countAtLeastUnsorted(vals []float64, x float64) int {
	n := 0
	for _, v := range vals {
		if v >= x {
			n++
		}
	}
	return n
}

func countAtMostUnsorted(vals []float64, x float64) int {
	n := 0
	for _, v := range vals {
		if v <= x {
			n++
		}
	}
	return n
}

func topByMagnitude(recs []model.GSEARecord, n int) []model.GSEARecord {
	sort.SliceStable(recs, func(i, j int) bool {
		ai, aj := math.Abs(recs[i].NES), math.Abs(recs[j].NES)
		if ai != aj {
			return ai > aj
		}
		return recs[i].PathwayName < recs[j].PathwayName
	})
	if n > 0 && len(recs) > n {
		recs = recs[:n]
	}
	return recs
}
