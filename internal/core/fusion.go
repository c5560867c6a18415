package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/agenthands/genefuse/internal/core/apperr"
	"github.com/agenthands/genefuse/internal/core/common"
	"github.com/agenthands/genefuse/internal/core/community"
	"github.com/agenthands/genefuse/internal/core/dedupe"
	"github.com/agenthands/genefuse/internal/core/model"
	"github.com/agenthands/genefuse/internal/core/stats"
	"github.com/google/uuid"
)

var DefaultFusionSources = []string{"reactome", "kegg", "wikipathways"}

type FusionRequest struct {
	Method  string
	Genes   []string
	Ranking map[string]float64
	Sources []string
	Species string
	ORA     stats.ORAOptions
	GSEA    stats.GSEAOptions
}

// SourceRun records what happened to one source of a fusion request.
type SourceRun struct {
	Source string          `json:"source"`
	Status model.RunStatus `json:"status"`
	RunID  string          `json:"run_id"`
	Terms  int             `json:"terms"`
	Error  string          `json:"error,omitempty"`
}

type FusionResult struct {
	RunID              string               `json:"run_id"`
	Status             model.RunStatus      `json:"status"`
	Method             string               `json:"method"`
	FusionResults      []model.Module       `json:"fusion_results"`
	Themes             []community.Theme    `json:"themes"`
	Records            []model.TaggedRecord `json:"records"`
	TotalOriginalTerms int                  `json:"total_original_terms"`
	TotalModules       int                  `json:"total_modules"`
	Sources            []string             `json:"sources"`
	Warnings           []string             `json:"warnings"`
	Runs               []SourceRun          `json:"runs"`
}

// Fusion runs the pipeline once per gene-set source and merges the results
// into deduplicated modules. A failing source is recorded and skipped.
type Fusion struct {
	Pipeline     *Pipeline
	Deduplicator *dedupe.Deduplicator
	Themes       *community.LabelPropagationDetector
	Graph        *GraphExporter
	Metrics      Observer
	Logger       *slog.Logger
}

func NewFusion(p *Pipeline, threshold float64, logger *slog.Logger) *Fusion {
	return &Fusion{
		Pipeline:     p,
		Deduplicator: dedupe.NewDeduplicator(threshold),
		Themes:       community.NewLabelPropagationDetector(),
		Logger:       common.Component(logger, "fusion"),
	}
}

func (f *Fusion) Run(ctx context.Context, req FusionRequest) (*FusionResult, error) {
	const op = "core.Fusion.Run"
	start := time.Now()
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = MethodORA
	}
	if method != MethodORA && method != MethodGSEA {
		return nil, apperr.Input(apperr.CodeInvalidParameter, op,
			fmt.Sprintf("unknown method %q; use ORA or GSEA", req.Method)).With("method", req.Method)
	}
	if method == MethodORA {
		if len(req.Genes) == 0 {
			req.Genes = rankedIDs(req.Ranking)
		}
		if len(req.Genes) == 0 {
			return nil, apperr.Input(apperr.CodeEmptyGeneList, op, "gene list is empty")
		}
	} else if len(req.Ranking) == 0 {
		return nil, apperr.Input(apperr.CodeEmptyGeneList, op, "ranking is empty")
	}
	sources := req.Sources
	if len(sources) == 0 {
		sources = DefaultFusionSources
	}

	f.Logger.Info("starting fusion analysis", "method", method, "sources", sources)
	out := &FusionResult{
		RunID:   uuid.NewString(),
		Method:  method,
		Sources: sources,
	}
	var failures []string
	for _, source := range sources {
		tagged, warnings, runID, err := f.runSource(ctx, method, source, req)
		if err != nil {
			f.Logger.Error("source failed", "source", source, "error", err)
			msg := fmt.Sprintf("Source %s failed: %v", source, err)
			out.Warnings = append(out.Warnings, msg)
			failures = append(failures, msg)
			out.Runs = append(out.Runs, SourceRun{Source: source, Status: model.RunFailed, RunID: runID, Error: err.Error()})
			continue
		}
		for _, w := range warnings {
			out.Warnings = append(out.Warnings, fmt.Sprintf("[%s] %s", source, w))
		}
		out.Records = append(out.Records, tagged...)
		out.Runs = append(out.Runs, SourceRun{Source: source, Status: model.RunOK, RunID: runID, Terms: len(tagged)})
	}

	if len(failures) == len(sources) {
		f.observe(false, start)
		return nil, apperr.SourceUnavailable(apperr.CodeAllSourcesFailed, op,
			"all gene set sources failed: "+strings.Join(failures, "; ")).
			With("sources", strings.Join(sources, ","))
	}

	f.Logger.Info("deduplicating terms", "terms", len(out.Records))
	out.FusionResults = f.Deduplicator.Deduplicate(out.Records)
	out.TotalOriginalTerms = len(out.Records)
	out.TotalModules = len(out.FusionResults)
	if f.Themes != nil {
		out.Themes = f.Themes.Detect(out.FusionResults)
	}
	out.Themes = nonNil(out.Themes)
	out.Status = model.RunOK
	out.Records = nonNil(out.Records)
	out.Warnings = nonNil(out.Warnings)
	f.Logger.Info("fusion complete", "run_id", out.RunID, "terms", out.TotalOriginalTerms, "modules", out.TotalModules)

	if f.Graph != nil {
		if err := f.Graph.ExportFusion(ctx, out); err != nil {
			f.Logger.Warn("graph export failed", "run_id", out.RunID, "error", err)
			out.Warnings = append(out.Warnings, fmt.Sprintf("graph export failed: %v", err))
		}
	}
	f.observe(true, start)
	return out, nil
}

func (f *Fusion) runSource(ctx context.Context, method, source string, req FusionRequest) ([]model.TaggedRecord, []string, string, error) {
	if method == MethodORA {
		res, err := f.Pipeline.RunORA(ctx, ORARequest{Genes: req.Genes, Source: source, Species: req.Species, Options: req.ORA})
		if err != nil {
			return nil, nil, failedRunID(err), err
		}
		return dedupe.RecordsFromORA(source, res.Results), res.Warnings, res.Metadata.RunID, nil
	}

	res, err := f.Pipeline.RunGSEA(ctx, GSEARequest{Ranking: req.Ranking, Source: source, Species: req.Species, Options: req.GSEA})
	if err != nil {
		return nil, nil, failedRunID(err), err
	}
	tagged := dedupe.RecordsFromGSEA(source, res.Up)
	tagged = append(tagged, dedupe.RecordsFromGSEA(source, res.Down)...)
	return tagged, res.Warnings, res.Metadata.RunID, nil
}

// rankedIDs returns the ranking's ids in sorted order so identifier detection
// sees the same sample on every request.
func rankedIDs(ranking map[string]float64) []string {
	ids := make([]string, 0, len(ranking))
	for id := range ranking {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *Fusion) observe(ok bool, start time.Time) {
	if f.Metrics != nil {
		f.Metrics.Observe("fusion", ok, time.Since(start))
	}
}

func failedRunID(err error) string {
	var re *RunError
	if errors.As(err, &re) {
		return re.Metadata.RunID
	}
	return ""
}
