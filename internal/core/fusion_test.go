package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/agenthands/genefuse/internal/core/apperr"
	"github.com/agenthands/genefuse/internal/core/common"
	"github.com/agenthands/genefuse/internal/core/model"
	"github.com/agenthands/genefuse/internal/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fusionLoader() *MockLoader {
	return &MockLoader{
		Sets: map[string]map[string][]string{
			"a": {
				"P53_PATHWAY": {"TP53", "MDM2", "BAX", "CDKN1A"},
				"APOPTOSIS":   {"TP53", "CASP3", "CASP8", "CASP9"},
			},
			"c": {
				"P53_SIGNALING": {"TP53", "MDM2", "BAX", "CDKN1A", "GADD45A"},
			},
		},
		Errs: map[string]error{
			"b": apperr.SourceUnavailable(apperr.CodeDownloadFailed, "mock.Load", "provider down"),
		},
	}
}

func newTestFusion(loader GeneSetLoader) *Fusion {
	p, _, _ := newTestPipeline(loader)
	return NewFusion(p, 0.45, common.Discard())
}

func TestFusionIsolatesFailingSource(t *testing.T) {
	f := newTestFusion(fusionLoader())
	res, err := f.Run(context.Background(), FusionRequest{
		Method:  "ora",
		Genes:   []string{"TP53", "MDM2", "BAX"},
		Sources: []string{"a", "b"},
		Species: "human",
		ORA:     permissiveORA(),
	})
	require.NoError(t, err)

	assert.Equal(t, model.RunOK, res.Status)
	assert.Equal(t, MethodORA, res.Method)
	require.NotEmpty(t, res.Records)
	for _, r := range res.Records {
		assert.Equal(t, "a", r.Source)
	}
	assert.Equal(t, len(res.Records), res.TotalOriginalTerms)
	assert.Equal(t, len(res.FusionResults), res.TotalModules)

	var failed bool
	for _, w := range res.Warnings {
		if strings.HasPrefix(w, "Source b failed") {
			failed = true
		}
	}
	assert.True(t, failed, "warnings %v", res.Warnings)

	require.Len(t, res.Runs, 2)
	assert.Equal(t, model.RunOK, res.Runs[0].Status)
	assert.Equal(t, model.RunFailed, res.Runs[1].Status)
	assert.NotEmpty(t, res.Runs[1].RunID)
}

func TestFusionMergesAcrossSources(t *testing.T) {
	f := newTestFusion(fusionLoader())
	res, err := f.Run(context.Background(), FusionRequest{
		Genes:   []string{"TP53", "MDM2", "BAX", "CDKN1A"},
		Sources: []string{"a", "c"},
		Species: "human",
		ORA:     permissiveORA(),
	})
	require.NoError(t, err)

	// P53_PATHWAY (a) and P53_SIGNALING (c) share all four hit genes.
	total := 0
	var merged *model.Module
	for i, m := range res.FusionResults {
		total += m.ClusterSize
		if m.ClusterSize == 2 {
			merged = &res.FusionResults[i]
		}
	}
	assert.Equal(t, res.TotalOriginalTerms, total)
	require.NotNil(t, merged)
	sources := []string{merged.Members[0].Source, merged.Members[1].Source}
	assert.ElementsMatch(t, []string{"a", "c"}, sources)

	// APOPTOSIS shares only TP53 with the merged module: linked, not merged.
	require.Len(t, res.Themes, 1)
	assert.Equal(t, merged.RepresentativeTerm, res.Themes[0].Label)
	assert.Contains(t, res.Themes[0].Modules, "APOPTOSIS")
}

func TestFusionAllSourcesFail(t *testing.T) {
	f := newTestFusion(fusionLoader())
	_, err := f.Run(context.Background(), FusionRequest{
		Genes:   []string{"TP53", "MDM2", "BAX"},
		Sources: []string{"b", "missing"},
		Species: "human",
		ORA:     permissiveORA(),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindSourceUnavailable))
	assert.Equal(t, apperr.CodeAllSourcesFailed, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "Source b failed")
}

func TestFusionRejectsUnknownMethod(t *testing.T) {
	f := newTestFusion(fusionLoader())
	_, err := f.Run(context.Background(), FusionRequest{Method: "magic", Genes: []string{"TP53"}})
	assert.True(t, apperr.IsKind(err, apperr.KindInput))
}

func TestFusionRejectsEmptyInput(t *testing.T) {
	cases := []struct {
		name string
		req  FusionRequest
	}{
		{"ora without genes", FusionRequest{Method: "ora", Sources: []string{"a", "c"}, Species: "human"}},
		{"gsea without ranking", FusionRequest{Method: "gsea", Sources: []string{"a", "c"}, Species: "human"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, archive, _ := newTestPipeline(fusionLoader())
			f := NewFusion(p, 0.45, common.Discard())
			_, err := f.Run(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindInput))
			assert.Equal(t, apperr.CodeEmptyGeneList, apperr.CodeOf(err))
			assert.Empty(t, archive.Runs, "no source should be tried")
		})
	}
}

func TestFusionORAFallsBackToRankingIDs(t *testing.T) {
	f := newTestFusion(fusionLoader())
	res, err := f.Run(context.Background(), FusionRequest{
		Method:  "ora",
		Ranking: map[string]float64{"TP53": 3, "MDM2": 2, "BAX": 1},
		Sources: []string{"a"},
		Species: "human",
		ORA:     permissiveORA(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Records)
	assert.Equal(t, "P53_PATHWAY", model.Term(res.Records[0].Record))
}

func TestRankedIDsSorted(t *testing.T) {
	assert.Equal(t, []string{"BAX", "MDM2", "TP53"}, rankedIDs(map[string]float64{"TP53": 1, "BAX": 2, "MDM2": 3}))
	assert.Empty(t, rankedIDs(nil))
}

func TestFusionGSEA(t *testing.T) {
	f := newTestFusion(rankedLoader())
	res, err := f.Run(context.Background(), FusionRequest{
		Method:  "GSEA",
		Ranking: linearRanking(100),
		Sources: []string{"reactome", "wikipathways"},
		Species: "human",
		GSEA:    testGSEAOptions(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalOriginalTerms)
	// TOP and TOP_ALIAS share 14 of 15 leading-edge genes
	assert.Equal(t, 2, res.TotalModules)
	for _, r := range res.Records {
		_, isGSEA := r.Record.(model.GSEARecord)
		assert.True(t, isGSEA)
	}
}

func TestFusionExportsGraph(t *testing.T) {
	mock := &MockDriver{}
	f := newTestFusion(fusionLoader())
	f.Graph = NewGraphExporter(mock, common.Discard())

	res, err := f.Run(context.Background(), FusionRequest{
		Genes:   []string{"TP53", "MDM2", "BAX", "CDKN1A"},
		Sources: []string{"a", "c"},
		Species: "human",
		ORA:     permissiveORA(),
	})
	require.NoError(t, err)

	require.Len(t, mock.Executed, 1+2*res.TotalModules)
	assert.Equal(t, driver.SaveRunNodeQuery, mock.Executed[0].Query)
	assert.Equal(t, res.RunID, mock.Executed[0].Params["run_id"])
	assert.Equal(t, driver.SaveModuleNodeQuery, mock.Executed[1].Query)
	assert.Equal(t, driver.SaveModuleMembersQuery, mock.Executed[2].Query)
	members := mock.Executed[2].Params["members"].([]interface{})
	first := members[0].(map[string]interface{})
	assert.Equal(t, true, first["representative"])
}

func TestFusionGraphFailureIsWarning(t *testing.T) {
	f := newTestFusion(fusionLoader())
	f.Graph = NewGraphExporter(&MockDriver{Err: errors.New("connection refused")}, common.Discard())

	res, err := f.Run(context.Background(), FusionRequest{
		Genes: []string{"TP53", "MDM2", "BAX"}, Sources: []string{"a"}, Species: "human", ORA: permissiveORA(),
	})
	require.NoError(t, err)
	assert.Contains(t, res.Warnings[len(res.Warnings)-1], "graph export failed")
}
