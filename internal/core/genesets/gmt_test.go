package genesets

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/genefuse/internal/core/model"
)

func TestParseGMTMergesDuplicateNames(t *testing.T) {
	in := "P53_PATHWAY\tfirst\tTP53\tMDM2\n" +
		"OTHER\tx\tEGFR\n" +
		"P53_PATHWAY\tsecond\tMDM2\tBAX\tTP53\n"
	sets, warnings, err := ParseGMT(strings.NewReader(in))
	require.NoError(t, err)

	require.Contains(t, sets, "P53_PATHWAY")
	assert.Equal(t, []string{"BAX", "MDM2", "TP53"}, sets["P53_PATHWAY"].Genes)
	assert.Equal(t, "first", sets["P53_PATHWAY"].Description)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "duplicate gene set")
}

func TestParseGMTSkipsMalformedLines(t *testing.T) {
	in := "# comment\n\n" +
		"TOO_SHORT\tdesc\n" +
		"NO_GENES\tdesc\t \t\n" +
		"WEIGHTED\tdesc\tTP53,1.0\tBAX,0.5\n" +
		"GOOD\t\tA\tB\r\n"
	sets, warnings, err := ParseGMT(strings.NewReader(in))
	require.NoError(t, err)

	assert.Len(t, sets, 2)
	assert.Equal(t, []string{"BAX", "TP53"}, sets["WEIGHTED"].Genes)
	assert.Equal(t, []string{"A", "B"}, sets["GOOD"].Genes)
	assert.Len(t, warnings, 2)
}

func TestGMTRoundTrip(t *testing.T) {
	orig := map[string]model.GeneSet{
		"P1": model.NewGeneSet("P1", "a description", []string{"C", "A", "B"}),
		"P2": model.NewGeneSet("P2", "", []string{"Z"}),
	}
	var buf bytes.Buffer
	require.NoError(t, WriteGMT(&buf, orig))

	back, warnings, err := ParseGMT(&buf)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, orig, back)
	assert.Equal(t, model.ContentHash(GeneMap(orig)), model.ContentHash(GeneMap(back)))
}

func TestReadGMTFileMissing(t *testing.T) {
	_, _, err := ReadGMTFile("/nonexistent/file.gmt")
	assert.Error(t, err)
}

func TestFromGeneMap(t *testing.T) {
	sets := FromGeneMap(map[string][]string{"P": {"B", "A", "A"}, "": {"X"}, "EMPTY": {""}})
	assert.Len(t, sets, 1)
	assert.Equal(t, []string{"A", "B"}, sets["P"].Genes)
}

func TestValidateAndStats(t *testing.T) {
	sets := map[string]model.GeneSet{
		"small": model.NewGeneSet("small", "", []string{"A"}),
		"ok":    model.NewGeneSet("ok", "", []string{"A", "B", "C"}),
		"large": model.NewGeneSet("large", "", []string{"A", "B", "C", "D", "E"}),
	}
	kept, warnings := Validate(sets, 2, 4)
	assert.Len(t, kept, 1)
	assert.Contains(t, kept, "ok")
	assert.Len(t, warnings, 2)

	st := ComputeStats(sets)
	assert.Equal(t, 3, st.TotalSets)
	assert.Equal(t, 9, st.TotalGenes)
	assert.Equal(t, 5, st.UniqueGenes)
	assert.Equal(t, 1, st.MinSize)
	assert.Equal(t, 5, st.MaxSize)
	assert.InDelta(t, 3.0, st.AvgSize, 1e-12)

	assert.Equal(t, Stats{}, ComputeStats(nil))
}

func TestSpeciesSupport(t *testing.T) {
	assert.Equal(t, SupportNative, SpeciesSupport("reactome", "human"))
	assert.Equal(t, SupportOrthology, SpeciesSupport("reactome", "rat"))
	assert.Equal(t, SupportLimited, SpeciesSupport("reactome", "zebrafish"))
	assert.Equal(t, SupportNative, SpeciesSupport("go_bp", "mouse"))
	assert.Equal(t, SupportLimited, SpeciesSupport("wikipathways", "rat"))
	assert.Equal(t, SupportUserProvided, SpeciesSupport("kegg", "human"))

	src, ok := LookupSource("wikipathways")
	require.True(t, ok)
	assert.Equal(t, "WikiPathway_2023_Human", src.Library("human"))
	assert.Equal(t, "WikiPathway_2021_Mouse", src.Library("mouse"))
	assert.Equal(t, []string{"go_bp", "kegg", "reactome", "wikipathways"}, SourceKeys())
}
