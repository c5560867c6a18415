package genesets

import (
	"fmt"

	"github.com/agenthands/genefuse/internal/core/model"
)

const (
	DefaultMinSize = 5
	DefaultMaxSize = 500
)

// Validate drops sets whose size falls outside [minSize, maxSize].
func Validate(sets map[string]model.GeneSet, minSize, maxSize int) (map[string]model.GeneSet, []string) {
	kept := make(map[string]model.GeneSet, len(sets))
	small, large := 0, 0
	for n, s := range sets {
		switch {
		case s.Size() < minSize:
			small++
		case s.Size() > maxSize:
			large++
		default:
			kept[n] = s
		}
	}
	var warnings []string
	if small > 0 {
		warnings = append(warnings, fmt.Sprintf("excluded %d gene sets smaller than %d genes", small, minSize))
	}
	if large > 0 {
		warnings = append(warnings, fmt.Sprintf("excluded %d gene sets larger than %d genes", large, maxSize))
	}
	return kept, warnings
}

type Stats struct {
	TotalSets   int     `json:"total_sets"`
	TotalGenes  int     `json:"total_genes"`
	UniqueGenes int     `json:"unique_genes"`
	AvgSize     float64 `json:"avg_size"`
	MinSize     int     `json:"min_size"`
	MaxSize     int     `json:"max_size"`
}

func ComputeStats(sets map[string]model.GeneSet) Stats {
	if len(sets) == 0 {
		return Stats{}
	}
	st := Stats{TotalSets: len(sets), MinSize: -1}
	unique := make(map[string]struct{})
	for _, s := range sets {
		n := s.Size()
		st.TotalGenes += n
		if st.MinSize < 0 || n < st.MinSize {
			st.MinSize = n
		}
		if n > st.MaxSize {
			st.MaxSize = n
		}
		for _, g := range s.Genes {
			unique[g] = struct{}{}
		}
	}
	st.UniqueGenes = len(unique)
	st.AvgSize = float64(st.TotalGenes) / float64(st.TotalSets)
	return st
}
