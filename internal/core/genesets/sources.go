package genesets

import (
	"fmt"
	"sort"

	"github.com/agenthands/genefuse/internal/core/species"
)

type Support string

const (
	SupportNative       Support = "native"
	SupportOrthology    Support = "orthology"
	SupportLimited      Support = "limited"
	SupportUserProvided Support = "user_provided"
)

type Source struct {
	Key          string
	DisplayName  string
	CacheDays    int
	AutoDownload bool
	LicenseNote  string
	// Library returns the provider library name for a species.
	Library func(speciesKey string) string
}

// DefaultCacheDays applies to custom sources not present in the registry.
const DefaultCacheDays = 30

var registry = map[string]Source{
	"reactome": {
		Key: "reactome", DisplayName: "Reactome Pathways", CacheDays: 30, AutoDownload: true,
		Library: func(string) string { return "Reactome_2022" },
	},
	"wikipathways": {
		Key: "wikipathways", DisplayName: "WikiPathways", CacheDays: 30, AutoDownload: true,
		Library: func(sp string) string {
			if sp == species.Human {
				return "WikiPathway_2023_Human"
			}
			return "WikiPathway_2021_Mouse"
		},
	},
	"go_bp": {
		Key: "go_bp", DisplayName: "GO Biological Process", CacheDays: 30, AutoDownload: true,
		Library: func(string) string { return "GO_Biological_Process_2023" },
	},
	"kegg": {
		Key: "kegg", DisplayName: "KEGG Pathways", CacheDays: 365, AutoDownload: false,
		LicenseNote: "KEGG data requires licensing for commercial use. Please provide your own GMT file.",
	},
}

func LookupSource(key string) (Source, bool) {
	s, ok := registry[key]
	return s, ok
}

func SourceKeys() []string {
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func SpeciesSupport(sourceKey, speciesKey string) Support {
	switch sourceKey {
	case "reactome":
		if speciesKey == species.Human {
			return SupportNative
		}
		if species.SupportsOrthology(species.Human, speciesKey) {
			return SupportOrthology
		}
		return SupportLimited
	case "wikipathways", "go_bp":
		if speciesKey == species.Human || speciesKey == species.Mouse {
			return SupportNative
		}
		return SupportLimited
	}
	return SupportUserProvided
}

func cacheDays(sourceKey string) int {
	if s, ok := registry[sourceKey]; ok {
		return s.CacheDays
	}
	return DefaultCacheDays
}

func cacheKey(sourceKey, speciesKey string) string {
	return fmt.Sprintf("%s/%s_%s.gmt", cachePrefix, sourceKey, speciesKey)
}

func indexKey(sourceKey, speciesKey string) string {
	return sourceKey + "/" + speciesKey
}
