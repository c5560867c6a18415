package community

import (
	"fmt"
	"testing"

	"github.com/agenthands/genefuse/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func module(term string, genes ...string) model.Module {
	return model.Module{RepresentativeTerm: term, Genes: genes, ClusterSize: 1}
}

func genes(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%02d", prefix, i)
	}
	return out
}

func TestLPA_DisconnectedThemes(t *testing.T) {
	a, b := genes("A", 10), genes("B", 10)
	modules := []model.Module{
		module("A1", a[0:6]...),
		module("B1", b[0:6]...),
		module("A2", a[3:9]...),
		module("B2", b[3:9]...),
		module("LONE", "X1", "X2"),
	}

	themes := NewLabelPropagationDetector().Detect(modules)
	require.Len(t, themes, 2)
	assert.Equal(t, []string{"A1", "A2"}, themes[0].Modules)
	assert.Equal(t, "A1", themes[0].Label)
	assert.Equal(t, 1, themes[0].ID)
	assert.Equal(t, a[0:9], themes[0].Genes)
	assert.Equal(t, []string{"B1", "B2"}, themes[1].Modules)
}

func TestLPA_BridgeKeepsTrianglesApart(t *testing.T) {
	// Two tight triangles of modules joined by one weak link.
	p, q := genes("P", 12), genes("Q", 12)
	modules := []model.Module{
		module("P1", p[0:8]...),
		module("P2", p[1:9]...),
		module("P3", p[2:10]...),
		module("Q1", q[0:8]...),
		module("Q2", q[1:9]...),
		module("Q3", append(q[2:10:10], p[7], p[8], p[9])...),
	}

	d := NewLabelPropagationDetector()
	d.Threshold = 0.1
	themes := d.Detect(modules)
	require.Len(t, themes, 2)
	assert.ElementsMatch(t, []string{"P1", "P2", "P3"}, themes[0].Modules)
	assert.ElementsMatch(t, []string{"Q1", "Q2", "Q3"}, themes[1].Modules)
}

func TestLPA_NoThemes(t *testing.T) {
	d := NewLabelPropagationDetector()
	assert.Nil(t, d.Detect(nil))
	assert.Nil(t, d.Detect([]model.Module{module("A", "G1")}))
	assert.Empty(t, d.Detect([]model.Module{module("A", "G1", "G2"), module("B", "G3", "G4")}))
}

func TestLPA_Deterministic(t *testing.T) {
	a := genes("A", 10)
	modules := []model.Module{module("M1", a[0:5]...), module("M2", a[2:7]...), module("M3", a[4:9]...)}
	d := NewLabelPropagationDetector()
	assert.Equal(t, d.Detect(modules), d.Detect(modules))
}
