package species

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/agenthands/genefuse/internal/core/apperr"
)

const (
	Human = "human"
	Mouse = "mouse"
	Rat   = "rat"
)

// DefaultConfidence is reported when no evidence identifies the species.
const DefaultConfidence = 0.3

// SourceNameConfidence is reported when a source name mentions an alias.
const SourceNameConfidence = 0.9

type Method string

const (
	MethodIDPattern  Method = "id_pattern"
	MethodSourceName Method = "source_name"
	MethodExplicit   Method = "explicit"
	MethodDefault    Method = "default"
)

type Info struct {
	Key           string
	Name          string
	TaxonID       int
	EnsemblPrefix string
	Aliases       []string
}

var supported = []Info{
	{Key: Human, Name: "Homo sapiens", TaxonID: 9606, EnsemblPrefix: "ENSG", Aliases: []string{"human", "hsa", "homo sapiens", "h.sapiens"}},
	{Key: Mouse, Name: "Mus musculus", TaxonID: 10090, EnsemblPrefix: "ENSMUSG", Aliases: []string{"mouse", "mmu", "mus musculus", "m.musculus"}},
	{Key: Rat, Name: "Rattus norvegicus", TaxonID: 10116, EnsemblPrefix: "ENSRNOG", Aliases: []string{"rat", "rno", "rattus norvegicus", "r.norvegicus"}},
}

type Detection struct {
	Species    string  `json:"species"`
	Confidence float64 `json:"confidence"`
	Method     Method  `json:"method"`
}

func Supported() []Info {
	out := make([]Info, len(supported))
	copy(out, supported)
	return out
}

func Lookup(key string) (Info, bool) {
	for _, s := range supported {
		if s.Key == key {
			return s, true
		}
	}
	return Info{}, false
}

func TaxonID(key string) (int, bool) {
	info, ok := Lookup(key)
	return info.TaxonID, ok
}

// DetectFromIDs votes on the Ensembl prefix of each id. Confidence is the
// winning count over all ids carrying a known prefix.
func DetectFromIDs(ids []string) Detection {
	counts := make(map[string]int, len(supported))
	matched := 0
	for _, id := range ids {
		id = strings.ToUpper(strings.TrimSpace(id))
		if key := prefixSpecies(id); key != "" {
			counts[key]++
			matched++
		}
	}
	if matched == 0 {
		return Detection{Species: Human, Confidence: DefaultConfidence, Method: MethodDefault}
	}
	best, bestCount := "", -1
	for _, s := range supported {
		if counts[s.Key] > bestCount {
			best, bestCount = s.Key, counts[s.Key]
		}
	}
	return Detection{Species: best, Confidence: float64(bestCount) / float64(matched), Method: MethodIDPattern}
}

func prefixSpecies(id string) string {
	for _, s := range supported {
		rest, ok := strings.CutPrefix(id, s.EnsemblPrefix)
		if !ok || rest == "" {
			continue
		}
		if rest[0] >= '0' && rest[0] <= '9' {
			return s.Key
		}
	}
	return ""
}

// DetectFromSourceName looks for any alias inside name.
func DetectFromSourceName(name string) Detection {
	lower := strings.ToLower(name)
	for _, s := range supported {
		for _, alias := range s.Aliases {
			if strings.Contains(lower, alias) {
				return Detection{Species: s.Key, Confidence: SourceNameConfidence, Method: MethodSourceName}
			}
		}
	}
	return Detection{Species: Human, Confidence: DefaultConfidence, Method: MethodDefault}
}

// Validate resolves an explicit species argument. Matching is exact on the
// aliases, case-insensitive.
func Validate(input string) (Detection, error) {
	norm := strings.ToLower(strings.TrimSpace(input))
	for _, s := range supported {
		for _, alias := range s.Aliases {
			if norm == alias {
				return Detection{Species: s.Key, Confidence: 1.0, Method: MethodExplicit}, nil
			}
		}
	}
	e := apperr.Input(apperr.CodeUnsupportedSpecies, "species.Validate",
		fmt.Sprintf("unsupported species %q; supported: %s", input, strings.Join(keys(), ", "))).
		With("species", input)
	if s := Suggest(norm); s != "" {
		e.Msg += fmt.Sprintf("; did you mean %q?", s)
		e.With("suggestion", s)
	}
	return Detection{}, e
}

// Suggest returns the supported species whose closest alias is within edit
// distance 3 of input, or "".
func Suggest(input string) string {
	if input == "" {
		return ""
	}
	best, bestDist := "", 4
	for _, s := range supported {
		for _, alias := range s.Aliases {
			if d := levenshtein.ComputeDistance(input, alias); d < bestDist {
				best, bestDist = s.Key, d
			}
		}
	}
	return best
}

// SupportsOrthology reports whether gene sets for src can be projected to dst.
func SupportsOrthology(src, dst string) bool {
	if src == dst {
		return true
	}
	_, okSrc := Lookup(src)
	_, okDst := Lookup(dst)
	return okSrc && okDst
}

func keys() []string {
	out := make([]string, 0, len(supported))
	for _, s := range supported {
		out = append(out, s.Key)
	}
	sort.Strings(out)
	return out
}
