package genesets

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/agenthands/genefuse/internal/core/model"
)

// ParseGMT reads tab-separated gene-set lines of the form
// name<TAB>description<TAB>gene1<TAB>gene2...
// Blank lines and '#' comments are ignored. Malformed lines and sets without
// genes are skipped with a warning. A name seen again is merged into the
// earlier set.
func ParseGMT(r io.Reader) (map[string]model.GeneSet, []string, error) {
	sets := make(map[string]model.GeneSet)
	var warnings []string

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 3 {
			warnings = append(warnings, fmt.Sprintf("line %d: expected at least 3 fields, got %d; skipped", lineNum, len(parts)))
			continue
		}
		name := strings.TrimSpace(parts[0])
		if name == "" {
			warnings = append(warnings, fmt.Sprintf("line %d: empty gene set name; skipped", lineNum))
			continue
		}
		genes := make([]string, 0, len(parts)-2)
		for _, g := range parts[2:] {
			// Weighted libraries write GENE,1.0.
			g, _, _ = strings.Cut(g, ",")
			if g = strings.TrimSpace(g); g != "" {
				genes = append(genes, g)
			}
		}
		if len(genes) == 0 {
			warnings = append(warnings, fmt.Sprintf("line %d: gene set %q has no genes; skipped", lineNum, name))
			continue
		}
		gs := model.NewGeneSet(name, strings.TrimSpace(parts[1]), genes)
		if prev, ok := sets[name]; ok {
			warnings = append(warnings, fmt.Sprintf("line %d: duplicate gene set %q; merged", lineNum, name))
			gs = prev.Merge(gs)
		}
		sets[name] = gs
	}
	if err := sc.Err(); err != nil {
		return nil, warnings, fmt.Errorf("read gmt: %w", err)
	}
	return sets, warnings, nil
}

func ReadGMTFile(path string) (map[string]model.GeneSet, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ParseGMT(f)
}

// WriteGMT writes sets sorted by name with sorted genes.
func WriteGMT(w io.Writer, sets map[string]model.GeneSet) error {
	names := make([]string, 0, len(sets))
	for n := range sets {
		names = append(names, n)
	}
	sort.Strings(names)

	bw := bufio.NewWriter(w)
	for _, n := range names {
		gs := sets[n]
		desc := strings.ReplaceAll(gs.Description, "\t", " ")
		if _, err := fmt.Fprintf(bw, "%s\t%s\t%s\n", n, desc, strings.Join(model.UniqueSorted(gs.Genes), "\t")); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// FromGeneMap builds gene sets from a name -> genes map.
func FromGeneMap(in map[string][]string) map[string]model.GeneSet {
	out := make(map[string]model.GeneSet, len(in))
	for name, genes := range in {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		gs := model.NewGeneSet(name, "", genes)
		if gs.Size() == 0 {
			continue
		}
		if prev, ok := out[name]; ok {
			gs = prev.Merge(gs)
		}
		out[name] = gs
	}
	return out
}

// GeneMap flattens sets to name -> genes.
func GeneMap(sets map[string]model.GeneSet) map[string][]string {
	out := make(map[string][]string, len(sets))
	for n, s := range sets {
		out[n] = s.Genes
	}
	return out
}
