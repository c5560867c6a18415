package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agenthands/genefuse/internal/core/common"
	"github.com/agenthands/genefuse/internal/core/model"
	"github.com/agenthands/genefuse/internal/driver"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// GraphExporter writes fusion runs into a property graph: one Run node, its
// Module nodes, the member Pathway nodes and their Gene nodes.
type GraphExporter struct {
	Driver driver.GraphDriver
	Logger *slog.Logger
}

func NewGraphExporter(d driver.GraphDriver, logger *slog.Logger) *GraphExporter {
	return &GraphExporter{Driver: d, Logger: common.Component(logger, "graph")}
}

func (g *GraphExporter) BuildIndices(ctx context.Context) error {
	return g.Driver.BuildIndices(ctx)
}

func (g *GraphExporter) ExportFusion(ctx context.Context, res *FusionResult) error {
	runParams := map[string]interface{}{
		"run_id":               res.RunID,
		"method":               res.Method,
		"created_at":           time.Now().UTC(),
		"sources":              res.Sources,
		"total_original_terms": res.TotalOriginalTerms,
		"total_modules":        res.TotalModules,
	}
	if _, err := g.Driver.ExecuteQuery(ctx, driver.SaveRunNodeQuery, runParams); err != nil {
		return fmt.Errorf("failed to save run node: %w", err)
	}

	for rank, mod := range res.FusionResults {
		moduleID := uuid.NewString()
		params := map[string]interface{}{
			"run_id":              res.RunID,
			"uuid":                moduleID,
			"representative_term": mod.RepresentativeTerm,
			"fdr":                 mod.FDR,
			"p_value":             mod.PValue,
			"source":              mod.Source,
			"cluster_size":        mod.ClusterSize,
			"rank":                rank,
		}
		if _, err := g.Driver.ExecuteQuery(ctx, driver.SaveModuleNodeQuery, params); err != nil {
			return fmt.Errorf("failed to save module %q: %w", mod.RepresentativeTerm, err)
		}

		members := make([]interface{}, 0, len(mod.Members))
		for i, m := range mod.Members {
			p, fdr := model.Significance(m.Record)
			members = append(members, map[string]interface{}{
				"term":           model.Term(m.Record),
				"source":         m.Source,
				"p_value":        p,
				"fdr":            fdr,
				"representative": i == 0,
				"genes":          model.Genes(m.Record),
			})
		}
		memberParams := map[string]interface{}{"uuid": moduleID, "members": members}
		if _, err := g.Driver.ExecuteQuery(ctx, driver.SaveModuleMembersQuery, memberParams); err != nil {
			return fmt.Errorf("failed to link members of module %q: %w", mod.RepresentativeTerm, err)
		}
	}

	g.Logger.Info("exported fusion run to graph", "run_id", res.RunID, "modules", len(res.FusionResults))
	return nil
}

type GraphModule struct {
	UUID               string   `json:"uuid"`
	RepresentativeTerm string   `json:"representative_term"`
	ClusterSize        int      `json:"cluster_size"`
	Members            []string `json:"members"`
}

// RunModules reads back the modules of an exported run in rank order.
func (g *GraphExporter) RunModules(ctx context.Context, runID string) ([]GraphModule, error) {
	res, err := g.Driver.ExecuteQuery(ctx, driver.GetRunModulesQuery, map[string]interface{}{"run_id": runID})
	if err != nil {
		return nil, fmt.Errorf("failed to read modules of run %s: %w", runID, err)
	}
	out := make([]GraphModule, 0, len(res.Records))
	for _, rec := range res.Records {
		var m GraphModule
		var size int64
		var members []any
		if m.UUID, _, err = neo4j.GetRecordValue[string](rec, "uuid"); err != nil {
			return nil, err
		}
		if m.RepresentativeTerm, _, err = neo4j.GetRecordValue[string](rec, "representative_term"); err != nil {
			return nil, err
		}
		if size, _, err = neo4j.GetRecordValue[int64](rec, "cluster_size"); err != nil {
			return nil, err
		}
		if members, _, err = neo4j.GetRecordValue[[]any](rec, "members"); err != nil {
			return nil, err
		}
		m.ClusterSize = int(size)
		m.Members = make([]string, 0, len(members))
		for _, v := range members {
			if name, ok := v.(string); ok {
				m.Members = append(m.Members, name)
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// DeleteRun removes a run and its modules. Pathway and Gene nodes are shared
// across runs and stay.
func (g *GraphExporter) DeleteRun(ctx context.Context, runID string) error {
	if _, err := g.Driver.ExecuteQuery(ctx, driver.DeleteRunQuery, map[string]interface{}{"run_id": runID}); err != nil {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	g.Logger.Info("deleted run from graph", "run_id", runID)
	return nil
}
