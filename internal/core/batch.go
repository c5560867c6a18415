package core

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/agenthands/genefuse/internal/core/apperr"
	"github.com/agenthands/genefuse/internal/core/common"
	"github.com/agenthands/genefuse/internal/core/model"
	"github.com/agenthands/genefuse/internal/core/stats"
	"golang.org/x/sync/errgroup"
)

const DefaultBatchConcurrency = 4

// ProgressFunc is called once per finished sample. Calls are serialized.
type ProgressFunc func(sample string, done, total int)

type BatchRequest struct {
	Method     string
	GeneLists  map[string][]string
	Rankings   map[string]map[string]float64
	Source     string
	Species    string
	CustomPath string
	ORA        stats.ORAOptions
	GSEA       stats.GSEAOptions
	Progress   ProgressFunc
}

type SampleResult struct {
	Sample string          `json:"sample"`
	Status model.RunStatus `json:"status"`
	RunID  string          `json:"run_id,omitempty"`
	ORA    *ORAResponse    `json:"ora,omitempty"`
	GSEA   *GSEAResponse   `json:"gsea,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type BatchResult struct {
	Status       model.RunStatus `json:"status"`
	Method       string          `json:"method"`
	TotalSamples int             `json:"total_samples"`
	Successful   int             `json:"successful"`
	Failed       int             `json:"failed"`
	Results      []SampleResult  `json:"results"`
}

// Batch runs many samples with one configuration on a bounded worker pool.
// Samples only read gene-set state, so the cache should be warmed by one
// prior run.
type Batch struct {
	Pipeline    *Pipeline
	Concurrency int
	Logger      *slog.Logger
}

func NewBatch(p *Pipeline, concurrency int, logger *slog.Logger) *Batch {
	if concurrency < 1 {
		concurrency = DefaultBatchConcurrency
	}
	return &Batch{Pipeline: p, Concurrency: concurrency, Logger: common.Component(logger, "batch")}
}

type sample struct {
	name    string
	genes   []string
	ranking map[string]float64
}

func (b *Batch) Run(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	const op = "core.Batch.Run"
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = MethodORA
	}
	if method != MethodORA && method != MethodGSEA {
		return nil, apperr.Input(apperr.CodeInvalidParameter, op,
			fmt.Sprintf("unknown method %q; use ORA or GSEA", req.Method)).With("method", req.Method)
	}

	samples := collectSamples(method, req)
	if len(samples) == 0 {
		return nil, apperr.Input(apperr.CodeEmptyGeneList, op, "no gene lists provided")
	}

	results := make([]SampleResult, len(samples))
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.Concurrency)
	for i, s := range samples {
		g.Go(func() error {
			results[i] = b.runSample(gctx, method, s, req)
			mu.Lock()
			done++
			if req.Progress != nil {
				req.Progress(s.name, done, len(samples))
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := &BatchResult{Method: method, TotalSamples: len(samples), Results: results, Status: model.RunFailed}
	for _, r := range results {
		if r.Status == model.RunOK {
			out.Successful++
		} else {
			out.Failed++
		}
	}
	if out.Successful > 0 {
		out.Status = model.RunOK
	}
	b.Logger.Info("batch complete", "method", method, "samples", out.TotalSamples,
		"successful", out.Successful, "failed", out.Failed)
	return out, nil
}

func collectSamples(method string, req BatchRequest) []sample {
	var samples []sample
	for name, genes := range req.GeneLists {
		s := sample{name: name, genes: genes}
		if method == MethodGSEA {
			// A plain list carries no ranking; every gene scores the same.
			s.ranking = make(map[string]float64, len(genes))
			for _, g := range genes {
				s.ranking[g] = 1.0
			}
		}
		samples = append(samples, s)
	}
	for name, ranking := range req.Rankings {
		if _, dup := req.GeneLists[name]; dup {
			continue
		}
		s := sample{name: name, ranking: ranking}
		for g := range ranking {
			s.genes = append(s.genes, g)
		}
		sort.Strings(s.genes)
		samples = append(samples, s)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].name < samples[j].name })
	return samples
}

func (b *Batch) runSample(ctx context.Context, method string, s sample, req BatchRequest) SampleResult {
	res := SampleResult{Sample: s.name}
	if err := ctx.Err(); err != nil {
		res.Status, res.Error = model.RunFailed, err.Error()
		return res
	}
	var err error
	if method == MethodORA {
		var r *ORAResponse
		r, err = b.Pipeline.RunORA(ctx, ORARequest{Genes: s.genes, Source: req.Source, Species: req.Species, CustomPath: req.CustomPath, Options: req.ORA})
		if err == nil {
			res.ORA, res.RunID = r, r.Metadata.RunID
		}
	} else {
		var r *GSEAResponse
		r, err = b.Pipeline.RunGSEA(ctx, GSEARequest{Ranking: s.ranking, Source: req.Source, Species: req.Species, CustomPath: req.CustomPath, Options: req.GSEA})
		if err == nil {
			res.GSEA, res.RunID = r, r.Metadata.RunID
		}
	}
	if err != nil {
		b.Logger.Error("batch sample failed", "sample", s.name, "error", err)
		res.Status, res.Error = model.RunFailed, err.Error()
		res.RunID = failedRunID(err)
		return res
	}
	res.Status = model.RunOK
	return res
}

// MaxExportedGenes caps the hit genes written per CSV row.
const MaxExportedGenes = 10

var batchCSVHeader = []string{"Sample", "Pathway", "Direction", "P-value", "FDR", "Odds Ratio", "NES", "Overlap", "Hit Genes"}

// WriteBatchCSV writes one row per pathway of every successful sample.
func WriteBatchCSV(w io.Writer, res *BatchResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(batchCSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	genes := func(g []string) string {
		if len(g) > MaxExportedGenes {
			g = g[:MaxExportedGenes]
		}
		return strings.Join(g, ", ")
	}
	for _, s := range res.Results {
		if s.Status != model.RunOK {
			continue
		}
		var rows [][]string
		if s.ORA != nil {
			for _, r := range s.ORA.Results {
				rows = append(rows, []string{s.Sample, r.PathwayName, "", f(r.PValue), f(r.FDR), f(r.OddsRatio), "", r.OverlapRatio, genes(r.HitGenes)})
			}
		}
		if s.GSEA != nil {
			for _, r := range s.GSEA.Up {
				rows = append(rows, []string{s.Sample, r.PathwayName, "up", f(r.PValue), f(r.FDR), "", f(r.NES), "", genes(r.LeadGenes)})
			}
			for _, r := range s.GSEA.Down {
				rows = append(rows, []string{s.Sample, r.PathwayName, "down", f(r.PValue), f(r.FDR), "", f(r.NES), "", genes(r.LeadGenes)})
			}
		}
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("write csv rows for %s: %w", s.Sample, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteBatchJSON(w io.Writer, res *BatchResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode batch json: %w", err)
	}
	return nil
}
