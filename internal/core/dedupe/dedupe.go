// Package dedupe clusters redundant enrichment terms into modules by the
// Jaccard similarity of their genes.
package dedupe

import (
	"sort"

	"github.com/agenthands/genefuse/internal/core/model"
)

const DefaultThreshold = 0.45

// Record is one term offered to the deduplicator.
type Record = model.TaggedRecord

type Deduplicator struct {
	Threshold float64
}

func NewDeduplicator(threshold float64) *Deduplicator {
	return &Deduplicator{Threshold: threshold}
}

// Jaccard is |a∩b| / |a∪b| over the distinct genes of a and b. It is 0 when
// either side is empty.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	sa := toSet(a)
	sb := toSet(b)
	inter := 0
	for g := range sa {
		if _, ok := sb[g]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Deduplicate groups records greedily. Records are visited by FDR ascending,
// then gene count descending; each unassigned record opens a module and pulls
// in every later unassigned record whose similarity to it reaches the
// threshold. Every input record lands in exactly one module.
func (d *Deduplicator) Deduplicate(records []Record) []model.Module {
	if len(records) == 0 {
		return []model.Module{}
	}
	type entry struct {
		rec       Record
		genes     map[string]struct{}
		pval, fdr float64
	}
	data := make([]entry, len(records))
	for i, r := range records {
		p, fdr := model.Significance(r.Record)
		data[i] = entry{rec: r, genes: toSet(model.Genes(r.Record)), pval: p, fdr: fdr}
	}
	sort.SliceStable(data, func(i, j int) bool {
		if data[i].fdr != data[j].fdr {
			return data[i].fdr < data[j].fdr
		}
		return len(data[i].genes) > len(data[j].genes)
	})

	assigned := make([]bool, len(data))
	var modules []model.Module
	for i := range data {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		rep := data[i]
		mod := model.Module{
			RepresentativeTerm: model.Term(rep.rec.Record),
			FDR:                rep.fdr,
			PValue:             rep.pval,
			Source:             rep.rec.Source,
			Genes:              sortedKeys(rep.genes),
			Members:            []Record{rep.rec},
		}
		for j := i + 1; j < len(data); j++ {
			if assigned[j] {
				continue
			}
			if jaccardSets(rep.genes, data[j].genes) >= d.Threshold {
				assigned[j] = true
				mod.Members = append(mod.Members, data[j].rec)
			}
		}
		mod.ClusterSize = len(mod.Members)
		modules = append(modules, mod)
	}
	return modules
}

func jaccardSets(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for g := range a {
		if _, ok := b[g]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func toSet(genes []string) map[string]struct{} {
	s := make(map[string]struct{}, len(genes))
	for _, g := range genes {
		if g != "" {
			s[g] = struct{}{}
		}
	}
	return s
}

func sortedKeys(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func RecordsFromORA(source string, recs []model.ORARecord) []Record {
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, Record{Source: source, Record: r})
	}
	return out
}

// RecordsFromGSEA tags GSEA terms; they are scored by their leading-edge genes.
func RecordsFromGSEA(source string, recs []model.GSEARecord) []Record {
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, Record{Source: source, Record: r})
	}
	return out
}
