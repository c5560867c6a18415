package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/agenthands/genefuse/internal/core/apperr"
	"github.com/agenthands/genefuse/internal/core/ledger"
	"github.com/agenthands/genefuse/internal/core/model"
	"github.com/agenthands/genefuse/internal/core/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func p53Loader() *MockLoader {
	return &MockLoader{Sets: map[string]map[string][]string{
		"reactome": {
			"P53_PATHWAY": {"TP53", "MDM2", "BAX", "CDKN1A"},
			"UNRELATED":   {"FOO", "BAR"},
		},
	}}
}

func permissiveORA() stats.ORAOptions {
	opts := stats.DefaultORAOptions()
	opts.MinOverlap = 1
	opts.PCutoff = 1
	return opts
}

func TestPipelineRunORA(t *testing.T) {
	loader := p53Loader()
	p, archive, observer := newTestPipeline(loader)

	res, err := p.RunORA(context.Background(), ORARequest{
		Genes:   []string{"TP53", "MDM2", "BAX"},
		Source:  "reactome",
		Species: "human",
		Options: permissiveORA(),
	})
	require.NoError(t, err)

	require.Len(t, res.Results, 1)
	assert.Equal(t, "P53_PATHWAY", res.Results[0].PathwayName)
	assert.Equal(t, "3/4", res.Results[0].OverlapRatio)
	assert.Equal(t, model.RunOK, res.Status)
	assert.Equal(t, MethodORA, res.Method)

	meta := res.Metadata
	assert.Equal(t, model.RunOK, meta.Status)
	assert.Equal(t, model.Stages, meta.Stages)
	assert.Equal(t, "reactome", meta.GeneSetSource)
	assert.Equal(t, "reactome_test", meta.GeneSetVersion)
	coll, _, _ := loader.Load(context.Background(), "reactome", "human", "")
	assert.Equal(t, coll.ContentHash, meta.GeneSetHash)
	assert.Equal(t, "human", meta.InputSummary.Species)
	assert.Equal(t, "symbol", meta.InputSummary.IDType)
	assert.Equal(t, 1, meta.OutputSummary.TestedSets)
	assert.Equal(t, 1, meta.OutputSummary.SignificantSets)
	assert.Equal(t, 6, meta.Parameters["background_size"])
	assert.Equal(t, 3, res.MappingReport.MappedCount)
	assert.Contains(t, res.Warnings, "identifier resolver unavailable; using identity mapping")

	require.Len(t, archive.Runs, 1)
	assert.Equal(t, meta.RunID, archive.Runs[0].RunID)
	assert.Equal(t, []observation{{Op: "ora", Success: true}}, observer.Obs)
}

func TestPipelineRunORA_SourceFailureYieldsRecord(t *testing.T) {
	loader := &MockLoader{Errs: map[string]error{
		"kegg": apperr.SourceUnavailable(apperr.CodeMissingGeneSet, "mock.Load", "kegg requires custom_path"),
	}}
	p, archive, observer := newTestPipeline(loader)

	_, err := p.RunORA(context.Background(), ORARequest{
		Genes: []string{"TP53", "MDM2", "BAX"}, Source: "kegg", Species: "human", Options: permissiveORA(),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindSourceUnavailable))

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	meta := runErr.Metadata
	assert.Equal(t, model.RunFailed, meta.Status)
	assert.Contains(t, meta.Error, "custom_path")
	assert.Equal(t, []model.Stage{model.StageSpecies, model.StageMapping}, meta.Stages)
	assert.Equal(t, "ORA", meta.Method)

	require.Len(t, archive.Runs, 1)
	assert.Equal(t, model.RunFailed, archive.Runs[0].Status)
	assert.Equal(t, []observation{{Op: "ora", Success: false}}, observer.Obs)
}

func TestPipelineRunORA_InputErrors(t *testing.T) {
	p, _, _ := newTestPipeline(p53Loader())
	ctx := context.Background()

	_, err := p.RunORA(ctx, ORARequest{Source: "reactome", Options: permissiveORA()})
	assert.Equal(t, apperr.CodeEmptyGeneList, apperr.CodeOf(err))

	_, err = p.RunORA(ctx, ORARequest{Genes: []string{"TP53", "MDM2", "BAX"}, Source: "reactome", Species: "martian", Options: permissiveORA()})
	assert.Equal(t, apperr.CodeUnsupportedSpecies, apperr.CodeOf(err))

	_, err = p.RunORA(ctx, ORARequest{Genes: []string{"TP53", "MDM2"}, Source: "reactome", Species: "human", Options: permissiveORA()})
	assert.True(t, apperr.IsKind(err, apperr.KindStatisticalPrecondition))
	assert.Contains(t, err.Error(), "at least 3 genes required, got 2")

	_, err = p.RunORA(ctx, ORARequest{Genes: []string{"TP53", "MDM2", "BAX"}, Species: "human", Options: permissiveORA()})
	assert.True(t, apperr.IsKind(err, apperr.KindInput))
}

func TestPipelineRunORA_AutoSpeciesWarns(t *testing.T) {
	p, _, _ := newTestPipeline(p53Loader())
	res, err := p.RunORA(context.Background(), ORARequest{
		Genes: []string{"TP53", "MDM2", "BAX"}, Source: "reactome", Species: "auto", Options: permissiveORA(),
	})
	require.NoError(t, err)
	assert.Equal(t, "human", res.Metadata.InputSummary.Species)
	assert.Contains(t, res.Warnings[0], "Low confidence in species detection (0.30)")
	assert.Equal(t, res.Warnings, res.Metadata.Warnings)
}

func linearRanking(n int) map[string]float64 {
	r := make(map[string]float64, n)
	for i := 0; i < n; i++ {
		r[fmt.Sprintf("G%03d", i)] = float64(n - i)
	}
	return r
}

func geneRange(from, to int) []string {
	var out []string
	for i := from; i < to; i++ {
		out = append(out, fmt.Sprintf("G%03d", i))
	}
	return out
}

func rankedLoader() *MockLoader {
	return &MockLoader{Sets: map[string]map[string][]string{
		"reactome": {
			"TOP":    geneRange(0, 15),
			"BOTTOM": geneRange(85, 100),
		},
		"wikipathways": {
			"TOP_ALIAS": geneRange(0, 14),
		},
	}}
}

func testGSEAOptions() stats.GSEAOptions {
	opts := stats.DefaultGSEAOptions()
	opts.MinSize = 5
	opts.MaxSize = 50
	opts.PermutationNum = 100
	return opts
}

func TestPipelineRunGSEA(t *testing.T) {
	p, archive, _ := newTestPipeline(rankedLoader())
	res, err := p.RunGSEA(context.Background(), GSEARequest{
		Ranking: linearRanking(100), Source: "reactome", Species: "human", Options: testGSEAOptions(),
	})
	require.NoError(t, err)

	require.Len(t, res.Up, 1)
	require.Len(t, res.Down, 1)
	assert.Equal(t, "TOP", res.Up[0].PathwayName)
	assert.Equal(t, "BOTTOM", res.Down[0].PathwayName)

	out := res.Metadata.OutputSummary
	assert.Equal(t, 2, out.TestedSets)
	assert.Equal(t, 1, out.Upregulated)
	assert.Equal(t, 1, out.Downregulated)
	assert.Equal(t, 100, res.Metadata.Parameters["permutation_num"])
	assert.Equal(t, model.Stages, res.Metadata.Stages)
	assert.Len(t, archive.Runs, 1)
}

func TestPipelineRunGSEA_Deterministic(t *testing.T) {
	p, _, _ := newTestPipeline(rankedLoader())
	req := GSEARequest{Ranking: linearRanking(100), Source: "reactome", Species: "human", Options: testGSEAOptions()}

	a, err := p.RunGSEA(context.Background(), req)
	require.NoError(t, err)
	b, err := p.RunGSEA(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a.Up, b.Up)
	assert.Equal(t, a.Down, b.Down)
	assert.Equal(t, a.Metadata.GeneSetHash, b.Metadata.GeneSetHash)
	assert.NotEqual(t, a.Metadata.RunID, b.Metadata.RunID)
}

func TestPipelineRunGSEA_TooFewGenes(t *testing.T) {
	p, _, _ := newTestPipeline(rankedLoader())
	_, err := p.RunGSEA(context.Background(), GSEARequest{
		Ranking: linearRanking(5), Source: "reactome", Species: "human", Options: testGSEAOptions(),
	})
	assert.True(t, apperr.IsKind(err, apperr.KindStatisticalPrecondition))
	assert.Contains(t, err.Error(), "at least 10 genes required, got 5")
}

func TestMapRankingKeepsLargestScore(t *testing.T) {
	ranking := map[string]float64{"ENSG00000141510": 2, "TP53": -3, "MDM2": 1}
	mapping := map[string]string{"ENSG00000141510": "TP53", "TP53": "TP53", "MDM2": "MDM2"}
	out := mapRanking(ranking, []string{"ENSG00000141510", "MDM2", "TP53"}, mapping)
	assert.Equal(t, map[string]float64{"TP53": -3, "MDM2": 1}, out)
}

func TestRunLogsRefusedLedgerUpdates(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p := NewPipeline(nil, nil, "test", logger)

	r := p.begin("ora", MethodORA, map[string]any{"source": "reactome"})
	assert.NotContains(t, buf.String(), "ledger update ignored")

	r.ledger.Fail(errors.New("boom"))
	r.warn("late warning")
	r.stage(model.StageOutput)

	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("ledger update ignored")))
	assert.Contains(t, buf.String(), ledger.ErrFrozen.Error())
	assert.Equal(t, []string{"late warning"}, r.warnings)
	assert.NotContains(t, r.ledger.Snapshot().Warnings, "late warning")
}
