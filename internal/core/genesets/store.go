package genesets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agenthands/genefuse/internal/blob"
	"github.com/agenthands/genefuse/internal/core/apperr"
	"github.com/agenthands/genefuse/internal/core/common"
	"github.com/agenthands/genefuse/internal/core/model"
)

const (
	cachePrefix = "genesets"
	indexBlob   = cachePrefix + "/index.json"
)

// Provider downloads a named gene-set library.
type Provider interface {
	Fetch(ctx context.Context, library, organism string) (map[string][]string, error)
}

type Origin string

const (
	OriginCustom   Origin = "custom"
	OriginCache    Origin = "cache"
	OriginDownload Origin = "download"
)

type LoadInfo struct {
	Source       string    `json:"source"`
	Species      string    `json:"species"`
	Version      string    `json:"version"`
	DownloadDate time.Time `json:"download_date"`
	ContentHash  string    `json:"content_hash"`
	Origin       Origin    `json:"origin"`
	Stats        Stats     `json:"stats"`
	Warnings     []string  `json:"warnings,omitempty"`
}

type IndexEntry struct {
	CacheFile    string    `json:"cache_file"`
	DownloadDate time.Time `json:"download_date"`
	ContentHash  string    `json:"content_hash"`
	Version      string    `json:"version"`
}

type SourceStatus struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	AutoDownload   bool    `json:"auto_download"`
	Cached         bool    `json:"cached"`
	SpeciesSupport Support `json:"species_support"`
	CacheDays      int     `json:"cache_days"`
	LicenseNote    string  `json:"license_note,omitempty"`
}

// Store loads gene-set collections, caching them as GMT objects in a blob
// store alongside a JSON index. Returned collections are shared and must not
// be modified.
type Store struct {
	Blob     blob.Store
	Provider Provider
	MinSize  int
	MaxSize  int
	Logger   *slog.Logger

	mu     sync.Mutex
	loaded map[string]*model.Collection
	now    func() time.Time
}

func NewStore(b blob.Store, provider Provider, logger *slog.Logger) *Store {
	return &Store{
		Blob:     b,
		Provider: provider,
		MinSize:  DefaultMinSize,
		MaxSize:  DefaultMaxSize,
		Logger:   common.Component(logger, "genesets"),
		loaded:   make(map[string]*model.Collection),
		now:      time.Now,
	}
}

// Load resolves a collection for (sourceKey, speciesKey). A custom path wins,
// then a valid cache entry, then an auto-download. Sources without
// auto-download and without a cache entry require customPath.
func (s *Store) Load(ctx context.Context, sourceKey, speciesKey, customPath string) (*model.Collection, LoadInfo, error) {
	const op = "genesets.Load"
	sourceKey = strings.TrimSpace(sourceKey)
	if sourceKey == "" {
		return nil, LoadInfo{}, apperr.Input(apperr.CodeInvalidParameter, op, "gene set source is required").With("parameter", "source")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if customPath != "" {
		return s.loadCustom(ctx, sourceKey, speciesKey, customPath)
	}

	src, known := LookupSource(sourceKey)
	index := s.readIndex(ctx)
	if entry, ok := index[indexKey(sourceKey, speciesKey)]; ok {
		if coll, info, ok := s.loadCached(ctx, sourceKey, speciesKey, entry); ok {
			return coll, info, nil
		}
	}

	if !known {
		return nil, LoadInfo{}, apperr.Input(apperr.CodeInvalidParameter, op,
			fmt.Sprintf("unknown gene set source %q; provide custom_path or one of: %s", sourceKey, strings.Join(SourceKeys(), ", "))).
			With("source", sourceKey)
	}
	if src.AutoDownload {
		return s.download(ctx, src, speciesKey, index)
	}

	msg := fmt.Sprintf("source %q requires manual download; provide a GMT file via the custom_path parameter", sourceKey)
	if src.LicenseNote != "" {
		msg += ". " + src.LicenseNote
	}
	return nil, LoadInfo{}, apperr.SourceUnavailable(apperr.CodeMissingGeneSet, op, msg).
		With("source", sourceKey).
		With("missing_parameter", "custom_path")
}

func (s *Store) loadCustom(ctx context.Context, sourceKey, speciesKey, path string) (*model.Collection, LoadInfo, error) {
	sets, warnings, err := ReadGMTFile(path)
	if err != nil {
		return nil, LoadInfo{}, apperr.Wrap(apperr.KindSourceUnavailable, apperr.CodeMissingGeneSet, "genesets.Load", err,
			fmt.Sprintf("cannot read custom gene set file %s", filepath.Base(path))).
			With("source", sourceKey).
			With("custom_path", path)
	}
	kept, vw := Validate(sets, s.MinSize, s.MaxSize)
	warnings = append(warnings, vw...)
	if len(kept) == 0 {
		return nil, LoadInfo{}, apperr.SourceUnavailable(apperr.CodeMissingGeneSet, "genesets.Load",
			fmt.Sprintf("custom gene set file %s has no gene sets within size range [%d, %d]", filepath.Base(path), s.MinSize, s.MaxSize)).
			With("source", sourceKey).
			With("custom_path", path)
	}
	coll := s.collection(sourceKey, speciesKey, "custom", kept)
	s.persist(ctx, coll, s.readIndex(ctx))
	s.Logger.Info("loaded custom gene sets",
		slog.String("source", sourceKey),
		slog.String("path", path),
		slog.Int("sets", coll.Len()))
	return coll, s.info(coll, OriginCustom, warnings), nil
}

// loadCached returns ok=false for expired, missing or corrupt entries.
func (s *Store) loadCached(ctx context.Context, sourceKey, speciesKey string, entry IndexEntry) (*model.Collection, LoadInfo, bool) {
	log := s.Logger.With(slog.String("source", sourceKey), slog.String("species", speciesKey))
	maxAge := time.Duration(cacheDays(sourceKey)) * 24 * time.Hour
	if s.now().Sub(entry.DownloadDate) > maxAge {
		log.Info("gene set cache expired", slog.Time("download_date", entry.DownloadDate))
		return nil, LoadInfo{}, false
	}

	memoKey := indexKey(sourceKey, speciesKey)
	if coll, ok := s.loaded[memoKey]; ok && coll.ContentHash == entry.ContentHash && coll.DownloadDate.Equal(entry.DownloadDate) {
		return coll, s.info(coll, OriginCache, nil), true
	}

	_, rc, err := s.Blob.Get(ctx, entry.CacheFile)
	if err != nil {
		log.Warn("gene set cache unreadable; treating as miss", slog.String("error", err.Error()))
		return nil, LoadInfo{}, false
	}
	defer rc.Close()
	sets, warnings, err := ParseGMT(rc)
	if err != nil || len(sets) == 0 {
		log.Warn("gene set cache corrupt; treating as miss", slog.Any("error", err))
		return nil, LoadInfo{}, false
	}
	kept, vw := Validate(sets, s.MinSize, s.MaxSize)
	warnings = append(warnings, vw...)
	if model.ContentHash(GeneMap(sets)) != entry.ContentHash && model.ContentHash(GeneMap(kept)) != entry.ContentHash {
		log.Warn("gene set cache hash mismatch; treating as miss")
		return nil, LoadInfo{}, false
	}

	coll := &model.Collection{
		Source:       sourceKey,
		Species:      speciesKey,
		Version:      entry.Version,
		DownloadDate: entry.DownloadDate,
		ContentHash:  model.ContentHash(GeneMap(kept)),
		Sets:         kept,
	}
	if coll.ContentHash == entry.ContentHash {
		s.loaded[memoKey] = coll
	}
	log.Info("loaded gene sets from cache", slog.Int("sets", coll.Len()))
	return coll, s.info(coll, OriginCache, warnings), true
}

func (s *Store) download(ctx context.Context, src Source, speciesKey string, index map[string]IndexEntry) (*model.Collection, LoadInfo, error) {
	const op = "genesets.Load"
	library := src.Library(speciesKey)
	fail := func(err error, msg string) (*model.Collection, LoadInfo, error) {
		e := apperr.SourceUnavailable(apperr.CodeDownloadFailed, op, msg).
			With("source", src.Key).
			With("library", library)
		e.Err = err
		return nil, LoadInfo{}, e
	}
	if s.Provider == nil {
		return fail(nil, fmt.Sprintf("download failed for %s: no gene set provider configured", src.Key))
	}

	s.Logger.Info("downloading gene sets", slog.String("source", src.Key), slog.String("library", library))
	raw, err := s.Provider.Fetch(ctx, library, speciesKey)
	if err != nil {
		return fail(err, fmt.Sprintf("download failed for %s", src.Key))
	}
	sets := FromGeneMap(raw)
	if len(sets) == 0 {
		return fail(nil, fmt.Sprintf("download failed for %s: library %s returned no gene sets", src.Key, library))
	}
	kept, warnings := Validate(sets, s.MinSize, s.MaxSize)
	if len(kept) == 0 {
		return fail(nil, fmt.Sprintf("download failed for %s: no gene sets within size range [%d, %d]", src.Key, s.MinSize, s.MaxSize))
	}

	coll := s.collection(src.Key, speciesKey, library, kept)
	s.persist(ctx, coll, index)
	return coll, s.info(coll, OriginDownload, warnings), nil
}

func (s *Store) collection(sourceKey, speciesKey, version string, sets map[string]model.GeneSet) *model.Collection {
	return &model.Collection{
		Source:       sourceKey,
		Species:      speciesKey,
		Version:      version,
		DownloadDate: s.now().UTC(),
		ContentHash:  model.ContentHash(GeneMap(sets)),
		Sets:         sets,
	}
}

// persist writes the collection and its index entry. Failures are logged:
// the caller still gets the collection it asked for.
func (s *Store) persist(ctx context.Context, coll *model.Collection, index map[string]IndexEntry) {
	key := cacheKey(coll.Source, coll.Species)
	var buf bytes.Buffer
	if err := WriteGMT(&buf, coll.Sets); err != nil {
		s.Logger.Warn("encode gene set cache failed", slog.String("error", err.Error()))
		return
	}
	if _, err := blob.Replace(ctx, s.Blob, key, &buf, blob.PutOptions{
		ContentType: "text/tab-separated-values",
		Metadata:    map[string]string{"source": coll.Source, "species": coll.Species, "content_hash": coll.ContentHash},
	}); err != nil {
		s.Logger.Warn("write gene set cache failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	index[indexKey(coll.Source, coll.Species)] = IndexEntry{
		CacheFile:    key,
		DownloadDate: coll.DownloadDate,
		ContentHash:  coll.ContentHash,
		Version:      coll.Version,
	}
	if err := s.writeIndex(ctx, index); err != nil {
		s.Logger.Warn("write gene set index failed", slog.String("error", err.Error()))
		return
	}
	s.loaded[indexKey(coll.Source, coll.Species)] = coll
}

// readIndex returns an empty index when none exists or it cannot be decoded.
func (s *Store) readIndex(ctx context.Context) map[string]IndexEntry {
	index := make(map[string]IndexEntry)
	_, rc, err := s.Blob.Get(ctx, indexBlob)
	if err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			s.Logger.Warn("gene set index unreadable", slog.String("error", err.Error()))
		}
		return index
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err == nil {
		err = json.Unmarshal(data, &index)
	}
	if err != nil {
		s.Logger.Warn("gene set index corrupt; starting empty", slog.String("error", err.Error()))
		return make(map[string]IndexEntry)
	}
	return index
}

func (s *Store) writeIndex(ctx context.Context, index map[string]IndexEntry) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	_, err = blob.Replace(ctx, s.Blob, indexBlob, bytes.NewReader(data), blob.PutOptions{ContentType: "application/json"})
	return err
}

func (s *Store) info(coll *model.Collection, origin Origin, warnings []string) LoadInfo {
	return LoadInfo{
		Source:       coll.Source,
		Species:      coll.Species,
		Version:      coll.Version,
		DownloadDate: coll.DownloadDate,
		ContentHash:  coll.ContentHash,
		Origin:       origin,
		Stats:        ComputeStats(coll.Sets),
		Warnings:     warnings,
	}
}

// AvailableSources lists the registered sources with their cache status for
// speciesKey.
func (s *Store) AvailableSources(ctx context.Context, speciesKey string) []SourceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.readIndex(ctx)
	out := make([]SourceStatus, 0, len(registry))
	for _, key := range SourceKeys() {
		src := registry[key]
		cached := false
		if entry, ok := index[indexKey(key, speciesKey)]; ok {
			cached = s.now().Sub(entry.DownloadDate) <= time.Duration(src.CacheDays)*24*time.Hour
		}
		out = append(out, SourceStatus{
			ID:             key,
			Name:           src.DisplayName,
			AutoDownload:   src.AutoDownload,
			Cached:         cached,
			SpeciesSupport: SpeciesSupport(key, speciesKey),
			CacheDays:      src.CacheDays,
			LicenseNote:    src.LicenseNote,
		})
	}
	return out
}

// ClearCache removes cached collections for sourceKey, or all of them when
// sourceKey is empty. It returns the number of index entries removed.
func (s *Store) ClearCache(ctx context.Context, sourceKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.readIndex(ctx)
	removed := 0
	for k, entry := range index {
		if sourceKey != "" && !strings.HasPrefix(k, sourceKey+"/") {
			continue
		}
		if _, err := s.Blob.Delete(ctx, entry.CacheFile); err != nil {
			return removed, fmt.Errorf("delete %s: %w", entry.CacheFile, err)
		}
		delete(index, k)
		delete(s.loaded, k)
		removed++
	}
	if err := s.writeIndex(ctx, index); err != nil {
		return removed, err
	}
	s.Logger.Info("cleared gene set cache", slog.String("source", sourceKey), slog.Int("entries", removed))
	return removed, nil
}
