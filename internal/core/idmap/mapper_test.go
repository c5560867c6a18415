package idmap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/genefuse/internal/core/apperr"
	"github.com/agenthands/genefuse/internal/core/common"
	"github.com/agenthands/genefuse/internal/core/species"
)

type fakeResolver struct {
	results map[string]Resolution
	err     error
	calls   int
	scope   string
	taxon   int
}

func (f *fakeResolver) Resolve(ctx context.Context, ids []string, scope string, taxon int) (map[string]Resolution, error) {
	f.calls++
	f.scope = scope
	f.taxon = taxon
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func TestMapResolvesEntrez(t *testing.T) {
	r := &fakeResolver{results: map[string]Resolution{
		"7157": {Symbol: "TP53"},
		"4193": {Symbol: "MDM2"},
		"581":  {EntrezID: "581"},
	}}
	m := NewMapper(r, NewMemoryCache(), common.Discard())

	res, det, err := m.Map(context.Background(), []string{"7157", "4193", "581", "7157", "999999"}, "auto")
	require.NoError(t, err)

	assert.Equal(t, Entrez, det.IDType)
	assert.Equal(t, "entrezgene", r.scope)
	assert.Equal(t, 9606, r.taxon)
	assert.Equal(t, map[string]string{"7157": "TP53", "4193": "MDM2"}, res.Mapping)
	assert.Equal(t, []string{"TP53", "MDM2"}, res.Symbols())

	rep := res.Report
	assert.Equal(t, 5, rep.InputCount)
	assert.Equal(t, 2, rep.MappedCount)
	assert.Equal(t, 2, rep.UnmappedCount)
	assert.Equal(t, []string{"581", "999999"}, rep.UnmappedIDs)
	assert.Equal(t, 1, rep.DuplicatedCount)
	assert.Equal(t, []string{"7157"}, rep.DuplicatedIDs)
	assert.Equal(t, "entrez", rep.SourceType)
	assert.Equal(t, "symbol", rep.TargetType)
	assert.Equal(t, species.Human, rep.Species)
	assert.Empty(t, res.Warnings)
}

func TestMapUsesCache(t *testing.T) {
	r := &fakeResolver{results: map[string]Resolution{"ENSG00000141510": {Symbol: "TP53"}}}
	m := NewMapper(r, NewMemoryCache(), common.Discard())

	for i := 0; i < 2; i++ {
		res, _, err := m.Map(context.Background(), []string{"ENSG00000141510.16"}, "")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"ENSG00000141510": "TP53"}, res.Mapping)
	}
	assert.Equal(t, 1, r.calls)
}

func TestMapResolverFailureDegrades(t *testing.T) {
	r := &fakeResolver{err: errors.New("timeout")}
	cache := NewMemoryCache()
	m := NewMapper(r, cache, common.Discard())

	res, _, err := m.Map(context.Background(), []string{"TP53", "BRCA1"}, "human")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"TP53": "TP53", "BRCA1": "BRCA1"}, res.Mapping)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "identity mapping")

	// Degraded answers are not cached.
	_, _, err = m.Map(context.Background(), []string{"TP53", "BRCA1"}, "human")
	require.NoError(t, err)
	assert.Equal(t, 2, r.calls)
}

func TestMapWithoutResolver(t *testing.T) {
	m := NewMapper(nil, nil, common.Discard())
	res, _, err := m.Map(context.Background(), []string{"TP53"}, "human")
	require.NoError(t, err)
	assert.Equal(t, []string{"TP53"}, res.Symbols())
	assert.Contains(t, res.Warnings[0], "unavailable")
}

func TestMapWarnsOnDefaultDetection(t *testing.T) {
	m := NewMapper(nil, nil, common.Discard())
	res, det, err := m.Map(context.Background(), []string{"trp53", "mdm2"}, "mouse")
	require.NoError(t, err)
	assert.Equal(t, species.MethodDefault, det.Method)
	assert.Contains(t, res.Warnings[0], "could not detect identifier type")
	assert.Equal(t, "mouse", res.Report.Species)
}

func TestMapErrors(t *testing.T) {
	m := NewMapper(nil, nil, common.Discard())

	_, _, err := m.Map(context.Background(), []string{" ", ""}, "human")
	assert.Equal(t, apperr.CodeEmptyGeneList, apperr.CodeOf(err))

	_, _, err = m.Map(context.Background(), []string{"TP53"}, "yeast")
	assert.True(t, apperr.IsKind(err, apperr.KindInput))
	assert.Equal(t, apperr.CodeUnsupportedSpecies, apperr.CodeOf(err))
}

func TestMemoryCacheExpires(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(context.Background(), "k", map[string]string{"a": "A"}, time.Hour))
	got, ok := c.Get(context.Background(), "k")
	assert.True(t, ok)
	assert.Equal(t, "A", got["a"])

	now = now.Add(2 * time.Hour)
	_, ok = c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestBadgerCacheRoundTrip(t *testing.T) {
	c, err := OpenBadgerCache("", common.Discard())
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Get(context.Background(), "missing")
	assert.False(t, ok)

	require.NoError(t, c.Set(context.Background(), "k", map[string]string{"7157": "TP53"}, time.Hour))
	got, ok := c.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"7157": "TP53"}, got)
}

func TestCacheKeyOrderInsensitive(t *testing.T) {
	a := cacheKey(Symbol, "human", []string{"A", "B"})
	b := cacheKey(Symbol, "human", []string{"B", "A"})
	c := cacheKey(Symbol, "mouse", []string{"A", "B"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
