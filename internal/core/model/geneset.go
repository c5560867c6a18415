package model

import (
	"sort"
	"time"
)

type GeneSet struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Genes       []string `json:"genes"`
}

// NewGeneSet returns a gene set whose genes are deduplicated and sorted.
// Empty gene names are dropped.
func NewGeneSet(name, description string, genes []string) GeneSet {
	return GeneSet{Name: name, Description: description, Genes: UniqueSorted(genes)}
}

func (g GeneSet) Size() int { return len(g.Genes) }

// Merge unions other's genes into g.
func (g GeneSet) Merge(other GeneSet) GeneSet {
	all := make([]string, 0, len(g.Genes)+len(other.Genes))
	all = append(all, g.Genes...)
	all = append(all, other.Genes...)
	desc := g.Description
	if desc == "" {
		desc = other.Description
	}
	return NewGeneSet(g.Name, desc, all)
}

type Collection struct {
	Source       string             `json:"source"`
	Species      string             `json:"species"`
	Version      string             `json:"version"`
	DownloadDate time.Time          `json:"download_date"`
	ContentHash  string             `json:"content_hash"`
	Sets         map[string]GeneSet `json:"sets"`
}

func (c *Collection) Len() int { return len(c.Sets) }

// Names returns the set names in lexicographic order.
func (c *Collection) Names() []string {
	names := make([]string, 0, len(c.Sets))
	for n := range c.Sets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GeneMap returns the collection as name -> genes.
func (c *Collection) GeneMap() map[string][]string {
	out := make(map[string][]string, len(c.Sets))
	for n, s := range c.Sets {
		out[n] = s.Genes
	}
	return out
}

func UniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
