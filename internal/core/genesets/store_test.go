package genesets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/genefuse/internal/blob"
	"github.com/agenthands/genefuse/internal/core/apperr"
	"github.com/agenthands/genefuse/internal/core/common"
	"github.com/agenthands/genefuse/internal/core/model"
)

type fakeProvider struct {
	sets    map[string][]string
	err     error
	calls   int
	library string
}

func (f *fakeProvider) Fetch(ctx context.Context, library, organism string) (map[string][]string, error) {
	f.calls++
	f.library = library
	if f.err != nil {
		return nil, f.err
	}
	return f.sets, nil
}

func newTestStore(p Provider) (*Store, *blob.MemoryStore, *time.Time) {
	b := blob.NewMemory()
	s := NewStore(b, p, common.Discard())
	s.MinSize, s.MaxSize = 2, 10
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, b, &now
}

func reactomeSets() map[string][]string {
	return map[string][]string{
		"Apoptosis":      {"TP53", "BAX", "BCL2"},
		"Cell Cycle":     {"CDK1", "CCNB1", "TP53"},
		"Too Small":      {"X"},
		"Signal (dupes)": {"EGFR", "EGFR", "KRAS"},
	}
}

func TestLoadDownloadsThenUsesCache(t *testing.T) {
	p := &fakeProvider{sets: reactomeSets()}
	s, b, _ := newTestStore(p)
	ctx := context.Background()

	coll, info, err := s.Load(ctx, "reactome", "human", "")
	require.NoError(t, err)
	assert.Equal(t, OriginDownload, info.Origin)
	assert.Equal(t, "Reactome_2022", p.library)
	assert.Equal(t, 3, coll.Len())
	assert.Equal(t, "Reactome_2022", coll.Version)
	assert.Len(t, coll.ContentHash, 16)
	assert.NotEmpty(t, info.Warnings)

	_, err = b.Head(ctx, "genesets/reactome_human.gmt")
	require.NoError(t, err)
	_, err = b.Head(ctx, "genesets/index.json")
	require.NoError(t, err)

	// A fresh store over the same blobs reads the cache without downloading.
	s2 := NewStore(b, p, common.Discard())
	s2.MinSize, s2.MaxSize = 2, 10
	s2.now = s.now
	coll2, info2, err := s2.Load(ctx, "reactome", "human", "")
	require.NoError(t, err)
	assert.Equal(t, OriginCache, info2.Origin)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, coll.ContentHash, coll2.ContentHash)
	assert.Equal(t, coll.Sets, coll2.Sets)
	assert.True(t, coll.DownloadDate.Equal(coll2.DownloadDate))
}

func TestLoadExpiredCacheRedownloads(t *testing.T) {
	p := &fakeProvider{sets: reactomeSets()}
	s, _, now := newTestStore(p)
	ctx := context.Background()

	_, _, err := s.Load(ctx, "reactome", "human", "")
	require.NoError(t, err)

	*now = now.Add(31 * 24 * time.Hour)
	_, info, err := s.Load(ctx, "reactome", "human", "")
	require.NoError(t, err)
	assert.Equal(t, OriginDownload, info.Origin)
	assert.Equal(t, 2, p.calls)
}

func TestLoadCorruptCacheIsMiss(t *testing.T) {
	p := &fakeProvider{sets: reactomeSets()}
	s, b, _ := newTestStore(p)
	ctx := context.Background()

	_, _, err := s.Load(ctx, "reactome", "human", "")
	require.NoError(t, err)

	_, err = blob.Replace(ctx, b, "genesets/reactome_human.gmt", strings.NewReader("garbage\n"), blob.PutOptions{})
	require.NoError(t, err)
	s.loaded = map[string]*model.Collection{}

	_, info, err := s.Load(ctx, "reactome", "human", "")
	require.NoError(t, err)
	assert.Equal(t, OriginDownload, info.Origin)
	assert.Equal(t, 2, p.calls)
}

func TestLoadCorruptIndexIsMiss(t *testing.T) {
	p := &fakeProvider{sets: reactomeSets()}
	s, b, _ := newTestStore(p)
	ctx := context.Background()

	_, err := b.Put(ctx, "genesets/index.json", strings.NewReader("{not json"), blob.PutOptions{})
	require.NoError(t, err)

	_, info, err := s.Load(ctx, "reactome", "human", "")
	require.NoError(t, err)
	assert.Equal(t, OriginDownload, info.Origin)
}

func TestLoadCustomPath(t *testing.T) {
	s, _, _ := newTestStore(nil)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kegg.gmt")
	require.NoError(t, os.WriteFile(path, []byte(
		"hsa04115\tp53 signaling\tTP53\tMDM2\tBAX\n"+
			"hsa04110\tcell cycle\tCDK1\tCCNB1\n"+
			"hsa04115\tp53 signaling\tCDKN1A\n"), 0o644))

	coll, info, err := s.Load(ctx, "kegg", "human", path)
	require.NoError(t, err)
	assert.Equal(t, OriginCustom, info.Origin)
	assert.Equal(t, "custom", coll.Version)
	assert.Equal(t, []string{"BAX", "CDKN1A", "MDM2", "TP53"}, coll.Sets["hsa04115"].Genes)

	// The custom file is cached: KEGG now loads without a path.
	coll2, info2, err := s.Load(ctx, "kegg", "human", "")
	require.NoError(t, err)
	assert.Equal(t, OriginCache, info2.Origin)
	assert.Equal(t, coll.ContentHash, coll2.ContentHash)
}

func TestLoadCustomPathErrors(t *testing.T) {
	s, _, _ := newTestStore(nil)
	ctx := context.Background()

	_, _, err := s.Load(ctx, "kegg", "human", "/does/not/exist.gmt")
	assert.True(t, apperr.IsKind(err, apperr.KindSourceUnavailable))

	path := filepath.Join(t.TempDir(), "tiny.gmt")
	require.NoError(t, os.WriteFile(path, []byte("P\td\tA\n"), 0o644))
	_, _, err = s.Load(ctx, "custom", "human", path)
	assert.True(t, apperr.IsKind(err, apperr.KindSourceUnavailable))
	assert.Contains(t, err.Error(), "size range")
}

func TestLoadManualSourceNamesMissingParameter(t *testing.T) {
	s, _, _ := newTestStore(nil)
	_, _, err := s.Load(context.Background(), "kegg", "human", "")
	require.Error(t, err)

	assert.True(t, apperr.IsKind(err, apperr.KindSourceUnavailable))
	assert.Equal(t, apperr.CodeMissingGeneSet, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "custom_path")
	assert.Contains(t, err.Error(), "licensing")
}

func TestLoadUnknownSource(t *testing.T) {
	s, _, _ := newTestStore(nil)
	_, _, err := s.Load(context.Background(), "msigdb", "human", "")
	assert.True(t, apperr.IsKind(err, apperr.KindInput))

	_, _, err = s.Load(context.Background(), " ", "human", "")
	assert.True(t, apperr.IsKind(err, apperr.KindInput))
}

func TestLoadDownloadFailure(t *testing.T) {
	p := &fakeProvider{err: errors.New("503 service unavailable")}
	s, _, _ := newTestStore(p)
	_, _, err := s.Load(context.Background(), "go_bp", "human", "")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindSourceUnavailable))
	assert.Equal(t, apperr.CodeDownloadFailed, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "download failed")
	assert.Contains(t, err.Error(), "503")

	s2, _, _ := newTestStore(nil)
	_, _, err = s2.Load(context.Background(), "go_bp", "human", "")
	assert.Equal(t, apperr.CodeDownloadFailed, apperr.CodeOf(err))

	empty := &fakeProvider{sets: map[string][]string{}}
	s3, _, _ := newTestStore(empty)
	_, _, err = s3.Load(context.Background(), "go_bp", "human", "")
	assert.Equal(t, apperr.CodeDownloadFailed, apperr.CodeOf(err))
}

func TestAvailableSourcesAndClearCache(t *testing.T) {
	p := &fakeProvider{sets: reactomeSets()}
	s, b, _ := newTestStore(p)
	ctx := context.Background()

	_, _, err := s.Load(ctx, "reactome", "human", "")
	require.NoError(t, err)
	_, _, err = s.Load(ctx, "go_bp", "human", "")
	require.NoError(t, err)

	status := s.AvailableSources(ctx, "human")
	require.Len(t, status, 4)
	byID := map[string]SourceStatus{}
	for _, st := range status {
		byID[st.ID] = st
	}
	assert.True(t, byID["reactome"].Cached)
	assert.False(t, byID["kegg"].Cached)
	assert.False(t, byID["kegg"].AutoDownload)
	assert.Equal(t, SupportUserProvided, byID["kegg"].SpeciesSupport)

	n, err := s.ClearCache(ctx, "reactome")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = b.Head(ctx, "genesets/reactome_human.gmt")
	assert.ErrorIs(t, err, blob.ErrNotFound)

	n, err = s.ClearCache(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, st := range s.AvailableSources(ctx, "human") {
		assert.False(t, st.Cached, st.ID)
	}
}
