package core

import (
	"context"
	"sync"
	"time"

	"github.com/agenthands/genefuse/internal/core/apperr"
	"github.com/agenthands/genefuse/internal/core/common"
	"github.com/agenthands/genefuse/internal/core/genesets"
	"github.com/agenthands/genefuse/internal/core/idmap"
	"github.com/agenthands/genefuse/internal/core/model"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type executedQuery struct {
	Query  string
	Params map[string]interface{}
}

type MockDriver struct {
	mu       sync.Mutex
	Executed []executedQuery
	Err      error
	// Results answers queries by their text.
	Results map[string]neo4j.EagerResult
}

func (m *MockDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Executed = append(m.Executed, executedQuery{Query: query, Params: params})
	if m.Err != nil {
		return neo4j.EagerResult{}, m.Err
	}
	return m.Results[query], nil
}

func (m *MockDriver) BuildIndices(ctx context.Context) error {
	return nil
}

func (m *MockDriver) Close(ctx context.Context) error {
	return nil
}

var loadedAt = time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

// MockLoader serves fixed gene sets per source; errs wins over sets.
type MockLoader struct {
	Sets map[string]map[string][]string
	Errs map[string]error
}

func (m *MockLoader) Load(ctx context.Context, source, speciesKey, customPath string) (*model.Collection, genesets.LoadInfo, error) {
	if err := m.Errs[source]; err != nil {
		return nil, genesets.LoadInfo{}, err
	}
	raw, ok := m.Sets[source]
	if !ok {
		return nil, genesets.LoadInfo{}, apperr.SourceUnavailable(apperr.CodeDownloadFailed, "mock.Load", "no such source "+source)
	}
	coll := &model.Collection{
		Source:       source,
		Species:      speciesKey,
		Version:      source + "_test",
		DownloadDate: loadedAt,
		Sets:         make(map[string]model.GeneSet, len(raw)),
	}
	for name, genes := range raw {
		coll.Sets[name] = model.NewGeneSet(name, "", genes)
	}
	coll.ContentHash = model.ContentHash(coll.GeneMap())
	return coll, genesets.LoadInfo{
		Source:       source,
		Species:      speciesKey,
		Version:      coll.Version,
		DownloadDate: loadedAt,
		ContentHash:  coll.ContentHash,
		Origin:       genesets.OriginCache,
	}, nil
}

type MockArchive struct {
	mu   sync.Mutex
	Runs []model.PipelineMetadata
}

func (m *MockArchive) SaveRun(ctx context.Context, meta model.PipelineMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Runs = append(m.Runs, meta)
	return nil
}

type observation struct {
	Op      string
	Success bool
}

type MockObserver struct {
	mu  sync.Mutex
	Obs []observation
}

func (m *MockObserver) Observe(op string, success bool, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Obs = append(m.Obs, observation{Op: op, Success: success})
}

func newTestPipeline(loader GeneSetLoader) (*Pipeline, *MockArchive, *MockObserver) {
	logger := common.Discard()
	p := NewPipeline(idmap.NewMapper(nil, nil, logger), loader, "test", logger)
	archive := &MockArchive{}
	observer := &MockObserver{}
	p.Archive = archive
	p.Metrics = observer
	return p, archive, observer
}
