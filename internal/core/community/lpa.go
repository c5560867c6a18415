// Package community groups fusion modules into themes: modules that share
// genes without being close enough to merge.
package community

import (
	"sort"

	"github.com/agenthands/genefuse/internal/core/dedupe"
	"github.com/agenthands/genefuse/internal/core/model"
)

// DefaultThemeThreshold is the module-to-module Jaccard at which two modules
// are linked.
const DefaultThemeThreshold = 0.2

type Theme struct {
	ID      int      `json:"id"`
	Label   string   `json:"label"`
	Modules []string `json:"modules"`
	Genes   []string `json:"genes"`
}

// LabelPropagationDetector links modules whose genes overlap and runs label
// propagation over the weighted graph. Edge weight is the shared gene count.
type LabelPropagationDetector struct {
	MaxIterations int
	Threshold     float64
}

func NewLabelPropagationDetector() *LabelPropagationDetector {
	return &LabelPropagationDetector{
		MaxIterations: 20,
		Threshold:     DefaultThemeThreshold,
	}
}

// Detect returns themes of two or more modules, largest first. Nodes are
// visited in input order and ties keep the current label, else take the
// smallest, so results are deterministic.
func (d *LabelPropagationDetector) Detect(modules []model.Module) []Theme {
	n := len(modules)
	if n < 2 {
		return nil
	}

	adj := make([]map[int]int, n)
	for i := range adj {
		adj[i] = make(map[int]int)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if dedupe.Jaccard(modules[i].Genes, modules[j].Genes) < d.Threshold {
				continue
			}
			w := shared(modules[i].Genes, modules[j].Genes)
			adj[i][j] = w
			adj[j][i] = w
		}
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = i
	}
	for iter := 0; iter < d.MaxIterations; iter++ {
		changed := 0
		for u := 0; u < n; u++ {
			if len(adj[u]) == 0 {
				continue
			}
			counts := make(map[int]int)
			maxCount := 0
			for v, w := range adj[u] {
				counts[labels[v]] += w
				maxCount = max(maxCount, counts[labels[v]])
			}
			if counts[labels[u]] == maxCount {
				continue
			}
			best := -1
			for label, c := range counts {
				if c == maxCount && (best < 0 || label < best) {
					best = label
				}
			}
			labels[u] = best
			changed++
		}
		if changed == 0 {
			break
		}
	}

	groups := make(map[int][]int)
	for i, l := range labels {
		groups[l] = append(groups[l], i)
	}
	var themes []Theme
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		themes = append(themes, buildTheme(modules, members))
	}
	sort.Slice(themes, func(i, j int) bool {
		if len(themes[i].Modules) != len(themes[j].Modules) {
			return len(themes[i].Modules) > len(themes[j].Modules)
		}
		return themes[i].Label < themes[j].Label
	})
	for i := range themes {
		themes[i].ID = i + 1
	}
	return themes
}

// buildTheme labels the theme after its lowest-FDR module; members come in
// module order, which is already FDR order.
func buildTheme(modules []model.Module, members []int) Theme {
	sort.Ints(members)
	t := Theme{Label: modules[members[0]].RepresentativeTerm}
	seen := make(map[string]struct{})
	for _, i := range members {
		t.Modules = append(t.Modules, modules[i].RepresentativeTerm)
		for _, g := range modules[i].Genes {
			if _, ok := seen[g]; !ok {
				seen[g] = struct{}{}
				t.Genes = append(t.Genes, g)
			}
		}
	}
	sort.Strings(t.Genes)
	return t
}

func shared(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, g := range a {
		set[g] = struct{}{}
	}
	n := 0
	for _, g := range b {
		if _, ok := set[g]; ok {
			n++
			delete(set, g)
		}
	}
	return n
}
