package core

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/agenthands/genefuse/internal/core/apperr"
	"github.com/agenthands/genefuse/internal/core/common"
	"github.com/agenthands/genefuse/internal/core/genesets"
	"github.com/agenthands/genefuse/internal/core/idmap"
	"github.com/agenthands/genefuse/internal/core/ledger"
	"github.com/agenthands/genefuse/internal/core/model"
	"github.com/agenthands/genefuse/internal/core/species"
	"github.com/agenthands/genefuse/internal/core/stats"
)

// LowSpeciesConfidence is the detection confidence below which the pipeline
// warns that the species was guessed.
const LowSpeciesConfidence = 0.8

const (
	MethodORA  = "ORA"
	MethodGSEA = "GSEA"
)

type GeneSetLoader interface {
	Load(ctx context.Context, sourceKey, speciesKey, customPath string) (*model.Collection, genesets.LoadInfo, error)
}

type Archiver interface {
	SaveRun(ctx context.Context, meta model.PipelineMetadata) error
}

type Observer interface {
	Observe(op string, success bool, elapsed time.Duration)
}

// RunError is returned by every failed run. Metadata is the frozen record of
// the failure.
type RunError struct {
	Err      error
	Metadata model.PipelineMetadata
}

func (e *RunError) Error() string { return e.Err.Error() }
func (e *RunError) Unwrap() error { return e.Err }

type ORARequest struct {
	Genes      []string
	Source     string
	Species    string
	CustomPath string
	Options    stats.ORAOptions
}

type GSEARequest struct {
	Ranking    map[string]float64
	Source     string
	Species    string
	CustomPath string
	Options    stats.GSEAOptions
}

type ORAResponse struct {
	Status        model.RunStatus        `json:"status"`
	Method        string                 `json:"method"`
	Results       []model.ORARecord      `json:"results"`
	Metadata      model.PipelineMetadata `json:"metadata"`
	MappingReport model.MappingReport    `json:"mapping_report"`
	Warnings      []string               `json:"warnings"`
}

type GSEAResponse struct {
	Status        model.RunStatus        `json:"status"`
	Method        string                 `json:"method"`
	Up            []model.GSEARecord     `json:"up_regulated"`
	Down          []model.GSEARecord     `json:"down_regulated"`
	Metadata      model.PipelineMetadata `json:"metadata"`
	MappingReport model.MappingReport    `json:"mapping_report"`
	Warnings      []string               `json:"warnings"`
}

// Pipeline runs one enrichment request end to end: species, mapping, gene
// sets, statistics, output. Each call owns its own ledger.
type Pipeline struct {
	Mapper          *idmap.Mapper
	GeneSets        GeneSetLoader
	Archive         Archiver
	Metrics         Observer
	SoftwareVersion string
	Logger          *slog.Logger
}

func NewPipeline(mapper *idmap.Mapper, sets GeneSetLoader, softwareVersion string, logger *slog.Logger) *Pipeline {
	if mapper == nil {
		mapper = idmap.NewMapper(nil, nil, logger)
	}
	return &Pipeline{
		Mapper:          mapper,
		GeneSets:        sets,
		SoftwareVersion: softwareVersion,
		Logger:          common.Component(logger, "pipeline"),
	}
}

// run carries the per-call state shared by the stages.
type run struct {
	p        *Pipeline
	ledger   *ledger.Ledger
	warnings []string
	started  time.Time
	op       string
}

func (p *Pipeline) begin(op, method string, params map[string]any) *run {
	r := &run{p: p, ledger: ledger.New(p.SoftwareVersion, p.Logger), started: time.Now(), op: op}
	r.record(r.ledger.SetMethod(method))
	r.record(r.ledger.SetParameters(params))
	return r
}

// record logs a ledger update the ledger refused. Only a frozen ledger
// refuses updates.
func (r *run) record(err error) {
	if err != nil {
		r.p.Logger.Debug("ledger update ignored", "run_id", r.ledger.RunID(), "op", r.op, "error", err)
	}
}

func (r *run) warn(msgs ...string) {
	for _, m := range msgs {
		if m == "" {
			continue
		}
		r.warnings = append(r.warnings, m)
		r.record(r.ledger.AddWarning(m))
	}
}

func (r *run) stage(s model.Stage) {
	r.record(r.ledger.MarkStage(s))
	r.p.Logger.Debug("stage complete", "run_id", r.ledger.RunID(), "stage", s)
}

func (r *run) fail(ctx context.Context, err error) *RunError {
	meta := r.ledger.Fail(err)
	kind, _ := apperr.KindOf(err)
	r.p.Logger.Error("enrichment run failed",
		"run_id", meta.RunID, "op", r.op, "kind", kind, "error", err)
	r.finish(ctx, meta, false)
	return &RunError{Err: err, Metadata: meta}
}

func (r *run) freeze(ctx context.Context) (model.PipelineMetadata, error) {
	meta, err := r.ledger.Freeze()
	if err != nil {
		return model.PipelineMetadata{}, r.fail(ctx, err)
	}
	r.finish(ctx, meta, true)
	return meta, nil
}

func (r *run) finish(ctx context.Context, meta model.PipelineMetadata, ok bool) {
	if r.p.Metrics != nil {
		r.p.Metrics.Observe(r.op, ok, time.Since(r.started))
	}
	if r.p.Archive != nil {
		if err := r.p.Archive.SaveRun(ctx, meta); err != nil {
			r.p.Logger.Warn("failed to archive run", "run_id", meta.RunID, "error", err)
		}
	}
}

// resolveSpecies runs the species stage. "auto" or empty detects from ids.
func (r *run) resolveSpecies(requested string, ids []string) (species.Detection, error) {
	if requested == "" || strings.EqualFold(requested, "auto") {
		det := species.DetectFromIDs(ids)
		if det.Confidence < LowSpeciesConfidence {
			r.warn(fmt.Sprintf("Low confidence in species detection (%.2f). Assuming %s. Specify explicitly if incorrect.",
				det.Confidence, det.Species))
		}
		return det, nil
	}
	return species.Validate(requested)
}

func (r *run) loadGeneSets(ctx context.Context, source, speciesKey, customPath string) (*model.Collection, error) {
	if source == "" {
		if customPath == "" {
			return nil, apperr.Input(apperr.CodeInvalidParameter, r.op, "gene set source is required").
				With("missing_parameter", "source")
		}
		source = "custom"
	}
	if r.p.GeneSets == nil {
		return nil, apperr.SourceUnavailable(apperr.CodeMissingGeneSet, r.op, "no gene set store configured")
	}
	coll, info, err := r.p.GeneSets.Load(ctx, source, speciesKey, customPath)
	if err != nil {
		return nil, err
	}
	r.warn(info.Warnings...)
	r.record(r.ledger.SetGeneSetInfo(source, info.Version, coll.GeneMap(), info.DownloadDate))
	return coll, nil
}

func mappingWarnings(res model.MappingResult) []string {
	out := append([]string(nil), res.Warnings...)
	if rep := res.Report; rep.UnmappedCount > 0 {
		first := rep.UnmappedIDs
		if len(first) > 5 {
			first = first[:5]
		}
		out = append(out, fmt.Sprintf("Failed to map %d/%d genes. First few: %s",
			rep.UnmappedCount, rep.InputCount, strings.Join(first, ", ")))
	}
	return out
}

func inputSummary(count int, sp species.Detection, det idmap.Detection) model.InputSummary {
	return model.InputSummary{
		InputCount:        count,
		Species:           sp.Species,
		SpeciesConfidence: sp.Confidence,
		SpeciesMethod:     string(sp.Method),
		IDType:            string(det.IDType),
		IDTypeConfidence:  det.Confidence,
	}
}

// RunORA executes an over-representation run. Failures come back as
// *RunError wrapping the structured cause.
func (p *Pipeline) RunORA(ctx context.Context, req ORARequest) (*ORAResponse, error) {
	opts := req.Options
	r := p.begin("ora", MethodORA, map[string]any{
		"source":          req.Source,
		"p_cutoff":        opts.PCutoff,
		"min_overlap":     opts.MinOverlap,
		"fdr_method":      opts.FDRMethod,
		"background_size": opts.BackgroundSize,
		"custom_path":     req.CustomPath,
	})

	if len(req.Genes) == 0 {
		return nil, r.fail(ctx, apperr.Input(apperr.CodeEmptyGeneList, "pipeline.RunORA", "gene list is empty"))
	}

	sp, err := r.resolveSpecies(req.Species, req.Genes)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.stage(model.StageSpecies)

	mapped, det, err := p.Mapper.Map(ctx, req.Genes, sp.Species)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.warn(mappingWarnings(mapped)...)
	r.record(r.ledger.SetMappingReport(mapped.Report))
	r.record(r.ledger.SetInputSummary(inputSummary(len(req.Genes), sp, det)))
	symbols := mapped.Symbols()
	if len(symbols) < stats.MinORAGenes {
		return nil, r.fail(ctx, apperr.Precondition("pipeline.RunORA", stats.MinORAGenes, len(symbols)))
	}
	r.stage(model.StageMapping)

	coll, err := r.loadGeneSets(ctx, req.Source, sp.Species, req.CustomPath)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.stage(model.StageGeneSets)

	res, err := stats.RunORA(symbols, coll.GeneMap(), opts)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.record(r.ledger.SetParameters(map[string]any{"background_size": res.BackgroundSize}))
	r.stage(model.StageStatistics)

	significant := 0
	for _, rec := range res.Records {
		if rec.FDR <= opts.PCutoff {
			significant++
		}
	}
	r.record(r.ledger.SetOutputSummary(model.OutputSummary{TestedSets: res.Tested, SignificantSets: significant}))
	r.stage(model.StageOutput)

	meta, err := r.freeze(ctx)
	if err != nil {
		return nil, err
	}
	p.Logger.Info("ora run complete", "run_id", meta.RunID, "source", meta.GeneSetSource,
		"tested", res.Tested, "returned", len(res.Records))

	return &ORAResponse{
		Status:        model.RunOK,
		Method:        MethodORA,
		Results:       nonNil(res.Records),
		Metadata:      meta,
		MappingReport: mapped.Report,
		Warnings:      nonNil(r.warnings),
	}, nil
}

// RunGSEA executes a pre-ranked GSEA run. Ranking keys are mapped to symbols
// first; when several ids land on one symbol the largest |score| wins.
func (p *Pipeline) RunGSEA(ctx context.Context, req GSEARequest) (*GSEAResponse, error) {
	opts := req.Options
	r := p.begin("gsea", MethodGSEA, map[string]any{
		"source":          req.Source,
		"min_size":        opts.MinSize,
		"max_size":        opts.MaxSize,
		"permutation_num": opts.PermutationNum,
		"seed":            opts.Seed,
		"top_n":           opts.TopN,
		"weight":          opts.Weight,
		"custom_path":     req.CustomPath,
	})

	if len(req.Ranking) == 0 {
		return nil, r.fail(ctx, apperr.Input(apperr.CodeEmptyGeneList, "pipeline.RunGSEA", "ranking is empty"))
	}
	ids := rankedIDs(req.Ranking)

	sp, err := r.resolveSpecies(req.Species, ids)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.stage(model.StageSpecies)

	mapped, det, err := p.Mapper.Map(ctx, ids, sp.Species)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.warn(mappingWarnings(mapped)...)
	r.record(r.ledger.SetMappingReport(mapped.Report))
	r.record(r.ledger.SetInputSummary(inputSummary(len(req.Ranking), sp, det)))
	ranking := mapRanking(req.Ranking, ids, mapped.Mapping)
	r.stage(model.StageMapping)

	coll, err := r.loadGeneSets(ctx, req.Source, sp.Species, req.CustomPath)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.stage(model.StageGeneSets)

	res, err := stats.RunGSEA(ranking, coll.GeneMap(), opts)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.warn(res.Warnings...)
	r.stage(model.StageStatistics)

	r.record(r.ledger.SetOutputSummary(model.OutputSummary{
		TestedSets:      res.Tested,
		SignificantSets: len(res.Up) + len(res.Down),
		Upregulated:     len(res.Up),
		Downregulated:   len(res.Down),
	}))
	r.stage(model.StageOutput)

	meta, err := r.freeze(ctx)
	if err != nil {
		return nil, err
	}
	p.Logger.Info("gsea run complete", "run_id", meta.RunID, "source", meta.GeneSetSource,
		"tested", res.Tested, "up", len(res.Up), "down", len(res.Down))

	return &GSEAResponse{
		Status:        model.RunOK,
		Method:        MethodGSEA,
		Up:            nonNil(res.Up),
		Down:          nonNil(res.Down),
		Metadata:      meta,
		MappingReport: mapped.Report,
		Warnings:      nonNil(r.warnings),
	}, nil
}

// mapRanking rekeys scores by symbol. Unmapped ids keep their own name.
func mapRanking(ranking map[string]float64, ids []string, mapping map[string]string) map[string]float64 {
	out := make(map[string]float64, len(ranking))
	for _, id := range ids {
		score := ranking[id]
		key := idmap.CleanID(id)
		if sym, ok := mapping[key]; ok && sym != "" {
			key = sym
		}
		if prev, seen := out[key]; seen && math.Abs(prev) >= math.Abs(score) {
			continue
		}
		out[key] = score
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
