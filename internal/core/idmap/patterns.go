package idmap

import (
	"regexp"
	"strings"

	"github.com/agenthands/genefuse/internal/core/species"
)

type IDType string

const (
	EnsemblHuman IDType = "ensembl_human"
	EnsemblMouse IDType = "ensembl_mouse"
	EnsemblRat   IDType = "ensembl_rat"
	Entrez       IDType = "entrez"
	UniProt      IDType = "uniprot"
	Symbol       IDType = "symbol"
)

// DetectSampleSize is the number of leading ids inspected by DetectIDType.
const DetectSampleSize = 100

type pattern struct {
	idType  IDType
	species string
	scope   string
	re      *regexp.Regexp
}

// Patterns are tried in order; an id counts for the first one it matches.
var patterns = []pattern{
	{EnsemblHuman, species.Human, "ensembl.gene", regexp.MustCompile(`^ENSG\d{11}$`)},
	{EnsemblMouse, species.Mouse, "ensembl.gene", regexp.MustCompile(`^ENSMUSG\d{11}$`)},
	{EnsemblRat, species.Rat, "ensembl.gene", regexp.MustCompile(`^ENSRNOG\d{11}$`)},
	{Entrez, species.Human, "entrezgene", regexp.MustCompile(`^\d+$`)},
	{UniProt, species.Human, "uniprot", regexp.MustCompile(`^[OPQ][0-9][A-Z0-9]{3}[0-9]$|^[A-NR-Z][0-9]([A-Z][A-Z0-9]{2}[0-9]){1,2}$`)},
	{Symbol, species.Human, "symbol", regexp.MustCompile(`^[A-Z][A-Z0-9\-]+$`)},
}

var ensemblVersion = regexp.MustCompile(`^(ENS[A-Z]*G\d+)\.\d+$`)

type Detection struct {
	IDType     IDType         `json:"id_type"`
	Species    string         `json:"species"`
	Confidence float64        `json:"confidence"`
	Matched    int            `json:"matched"`
	Sampled    int            `json:"sampled"`
	Method     species.Method `json:"method"`
}

// DetectIDType classifies up to the first DetectSampleSize ids. The most
// frequent type wins, ties going to the earlier pattern. With no match at
// all the result is (symbol, human) at the default confidence.
func DetectIDType(ids []string) Detection {
	sample := ids
	if len(sample) > DetectSampleSize {
		sample = sample[:DetectSampleSize]
	}
	counts := make([]int, len(patterns))
	matched := 0
	for _, id := range sample {
		id = strings.TrimSpace(id)
		for i, p := range patterns {
			if p.re.MatchString(id) {
				counts[i]++
				matched++
				break
			}
		}
	}
	if matched == 0 {
		return Detection{
			IDType:     Symbol,
			Species:    species.Human,
			Confidence: species.DefaultConfidence,
			Sampled:    len(sample),
			Method:     species.MethodDefault,
		}
	}
	best := 0
	for i := range counts {
		if counts[i] > counts[best] {
			best = i
		}
	}
	return Detection{
		IDType:     patterns[best].idType,
		Species:    patterns[best].species,
		Confidence: float64(counts[best]) / float64(matched),
		Matched:    matched,
		Sampled:    len(sample),
		Method:     species.MethodIDPattern,
	}
}

// Scope returns the resolver query scope for an id type.
func Scope(t IDType) string {
	for _, p := range patterns {
		if p.idType == t {
			return p.scope
		}
	}
	return "symbol"
}

// CleanID trims whitespace and strips an Ensembl version suffix.
func CleanID(id string) string {
	id = strings.TrimSpace(id)
	if m := ensemblVersion.FindStringSubmatch(id); m != nil {
		return m[1]
	}
	return id
}

// LooksLikeSymbol reports whether s has the shape of a gene symbol in any
// letter case.
func LooksLikeSymbol(s string) bool {
	return patterns[len(patterns)-1].re.MatchString(strings.ToUpper(s))
}
