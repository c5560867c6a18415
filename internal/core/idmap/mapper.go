package idmap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/agenthands/genefuse/internal/core/apperr"
	"github.com/agenthands/genefuse/internal/core/common"
	"github.com/agenthands/genefuse/internal/core/model"
	"github.com/agenthands/genefuse/internal/core/species"
)

// DefaultTTL is how long a resolved mapping query stays cached.
const DefaultTTL = 30 * 24 * time.Hour

type Resolution struct {
	Symbol   string `json:"symbol"`
	EntrezID string `json:"entrez_id"`
}

// Resolver translates ids within a scope to canonical symbols. Ids absent
// from the returned map are treated as unresolved.
type Resolver interface {
	Resolve(ctx context.Context, ids []string, scope string, taxon int) (map[string]Resolution, error)
}

type Mapper struct {
	Resolver Resolver
	Cache    MappingCache
	TTL      time.Duration
	Logger   *slog.Logger
}

func NewMapper(resolver Resolver, cache MappingCache, logger *slog.Logger) *Mapper {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Mapper{
		Resolver: resolver,
		Cache:    cache,
		TTL:      DefaultTTL,
		Logger:   common.Component(logger, "idmap"),
	}
}

// Map resolves ids to gene symbols. An empty or "auto" species takes the
// species implied by the detected id type. Resolver failure never fails the
// call: the ids map to themselves and a warning is recorded.
func (m *Mapper) Map(ctx context.Context, ids []string, speciesKey string) (model.MappingResult, Detection, error) {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = CleanID(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	if len(cleaned) == 0 {
		return model.MappingResult{}, Detection{}, apperr.Input(apperr.CodeEmptyGeneList, "idmap.Map", "gene list is empty")
	}

	unique, duplicated := dedupeOrdered(cleaned)
	det := DetectIDType(unique)

	var warnings []string
	if det.Method == species.MethodDefault {
		warnings = append(warnings, fmt.Sprintf(
			"could not detect identifier type; assuming %s/%s (confidence %.2f)", det.IDType, det.Species, det.Confidence))
	}
	if speciesKey == "" || speciesKey == "auto" {
		speciesKey = det.Species
	}
	taxon, ok := species.TaxonID(speciesKey)
	if !ok {
		return model.MappingResult{}, det, apperr.Input(apperr.CodeUnsupportedSpecies, "idmap.Map",
			fmt.Sprintf("unsupported species %q", speciesKey)).With("species", speciesKey)
	}

	key := cacheKey(det.IDType, speciesKey, unique)
	resolved, hit := m.Cache.Get(ctx, key)
	if hit {
		m.Logger.Debug("mapping cache hit", slog.String("key", key))
	} else {
		var warn string
		resolved, warn = m.resolve(ctx, unique, det.IDType, taxon)
		if warn != "" {
			warnings = append(warnings, warn)
		} else if err := m.Cache.Set(ctx, key, resolved, m.TTL); err != nil {
			m.Logger.Warn("mapping cache write failed", slog.String("error", err.Error()))
		}
	}

	mapping := make(map[string]string, len(unique))
	var unmapped []string
	for _, id := range unique {
		sym := resolved[id]
		if sym == "" {
			sym = id
		}
		if sym == id && !LooksLikeSymbol(id) {
			unmapped = append(unmapped, id)
			continue
		}
		mapping[id] = sym
	}

	report := model.MappingReport{
		InputCount:      len(cleaned),
		MappedCount:     len(mapping),
		UnmappedCount:   len(unmapped),
		DuplicatedCount: len(duplicated),
		UnmappedIDs:     head(unmapped, model.MaxReportedIDs),
		DuplicatedIDs:   head(duplicated, model.MaxReportedIDs),
		SourceType:      string(det.IDType),
		TargetType:      string(Symbol),
		Species:         speciesKey,
	}
	if report.UnmappedCount > 0 {
		m.Logger.Info("identifiers left unmapped",
			slog.Int("unmapped", report.UnmappedCount),
			slog.Int("input", report.InputCount))
	}

	return model.MappingResult{
		Mapping:  mapping,
		Report:   report,
		Warnings: warnings,
		Order:    unique,
	}, det, nil
}

// resolve queries the resolver, falling back to identity on any failure.
// The returned warning is empty only when the resolver answered.
func (m *Mapper) resolve(ctx context.Context, ids []string, t IDType, taxon int) (map[string]string, string) {
	identity := func() map[string]string {
		out := make(map[string]string, len(ids))
		for _, id := range ids {
			out[id] = id
		}
		return out
	}
	if m.Resolver == nil {
		return identity(), "identifier resolver unavailable; using identity mapping"
	}
	res, err := m.Resolver.Resolve(ctx, ids, Scope(t), taxon)
	if err != nil {
		m.Logger.Warn("identifier resolution failed", slog.String("error", err.Error()))
		return identity(), fmt.Sprintf("identifier resolution failed (%v); using identity mapping", err)
	}
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		r, ok := res[id]
		switch {
		case ok && r.Symbol != "":
			out[id] = r.Symbol
		case ok && r.EntrezID != "":
			out[id] = r.EntrezID
		default:
			out[id] = id
		}
	}
	return out, ""
}

func cacheKey(t IDType, speciesKey string, ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|", t, speciesKey)
	h.Write([]byte(strings.Join(sorted, ",")))
	return "idmap/" + hex.EncodeToString(h.Sum(nil))
}

// dedupeOrdered returns the unique ids in first-seen order and the ids that
// occurred more than once, also in first-seen order.
func dedupeOrdered(ids []string) (unique, duplicated []string) {
	counts := make(map[string]int, len(ids))
	for _, id := range ids {
		counts[id]++
		if counts[id] == 1 {
			unique = append(unique, id)
		}
	}
	for _, id := range unique {
		if counts[id] > 1 {
			duplicated = append(duplicated, id)
		}
	}
	return unique, duplicated
}

func head(ids []string, n int) []string {
	if len(ids) > n {
		ids = ids[:n]
	}
	return append([]string{}, ids...)
}
