package stats

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// LargeScore is the magnitude above which a ranking score is reported as
// suspicious. It is kept, not dropped.
const LargeScore = 1e10

// RankedGene is one entry of a pre-ranked list.
type RankedGene struct {
	Gene  string
	Score float64
}

// ValidateRanking drops empty gene names and non-finite scores and returns
// the rest ordered by score descending, then gene name.
func ValidateRanking(ranking map[string]float64) ([]RankedGene, []string) {
	var (
		out      []RankedGene
		warnings []string
		dropped  int
		large    int
	)
	for gene, score := range ranking {
		gene = strings.TrimSpace(gene)
		if gene == "" || math.IsNaN(score) || math.IsInf(score, 0) {
			dropped++
			continue
		}
		if math.Abs(score) >= LargeScore {
			large++
		}
		out = append(out, RankedGene{Gene: gene, Score: score})
	}
	sortRanking(out)
	if dropped > 0 {
		warnings = append(warnings, fmt.Sprintf("dropped %d ranking entries with empty names or non-finite scores", dropped))
	}
	if large > 0 {
		warnings = append(warnings, fmt.Sprintf("%d ranking scores have magnitude >= %g", large, LargeScore))
	}
	return out, warnings
}

// ParseRanking converts textual scores, dropping the ones that do not parse.
func ParseRanking(raw map[string]string) (map[string]float64, []string) {
	out := make(map[string]float64, len(raw))
	var bad []string
	for gene, text := range raw {
		v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			bad = append(bad, gene)
			continue
		}
		out[gene] = v
	}
	if len(bad) == 0 {
		return out, nil
	}
	sort.Strings(bad)
	return out, []string{fmt.Sprintf("dropped %d unparsable ranking scores: %s", len(bad), truncateList(bad, 10))}
}

// ReadRNK reads a two-column "gene<TAB>score" file. Lines starting with '#'
// and a non-numeric header line are skipped. A gene listed twice keeps its
// last score.
func ReadRNK(r io.Reader) (map[string]float64, []string, error) {
	raw := make(map[string]string)
	var warnings []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			warnings = append(warnings, fmt.Sprintf("line %d: expected gene and score", lineNo))
			continue
		}
		if lineNo == 1 {
			if _, err := strconv.ParseFloat(fields[1], 64); err != nil {
				continue
			}
		}
		raw[fields[0]] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, warnings, fmt.Errorf("read ranking: %w", err)
	}
	parsed, w := ParseRanking(raw)
	return parsed, append(warnings, w...), nil
}

func sortRanking(r []RankedGene) {
	sort.Slice(r, func(i, j int) bool {
		if r[i].Score != r[j].Score {
			return r[i].Score > r[j].Score
		}
		return r[i].Gene < r[j].Gene
	})
}

func truncateList(items []string, n int) string {
	if len(items) <= n {
		return strings.Join(items, ", ")
	}
	return strings.Join(items[:n], ", ") + fmt.Sprintf(" (+%d more)", len(items)-n)
}
