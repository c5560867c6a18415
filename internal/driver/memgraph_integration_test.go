//go:build integration

package driver

import (
	"context"
	"os"
	"testing"

	"github.com/agenthands/genefuse/internal/core/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemgraphRunRoundTrip(t *testing.T) {
	uri := os.Getenv("MEMGRAPH_URI")
	if uri == "" {
		t.Skip("MEMGRAPH_URI not set")
	}
	ctx := context.Background()
	d, err := NewMemgraphDriver(ctx, uri, os.Getenv("MEMGRAPH_USER"), os.Getenv("MEMGRAPH_PASSWORD"), common.Discard())
	require.NoError(t, err)
	defer d.Close(ctx)
	require.NoError(t, d.BuildIndices(ctx))

	runID := uuid.NewString()
	moduleID := uuid.NewString()
	_, err = d.ExecuteQuery(ctx, SaveRunNodeQuery, map[string]interface{}{
		"run_id": runID, "method": "ORA", "created_at": "2026-01-01T00:00:00Z",
		"sources": []string{"reactome"}, "total_original_terms": 1, "total_modules": 1,
	})
	require.NoError(t, err)
	_, err = d.ExecuteQuery(ctx, SaveModuleNodeQuery, map[string]interface{}{
		"run_id": runID, "uuid": moduleID, "representative_term": "P53_PATHWAY",
		"fdr": 0.01, "p_value": 0.001, "source": "reactome", "cluster_size": 1, "rank": 0,
	})
	require.NoError(t, err)
	_, err = d.ExecuteQuery(ctx, SaveModuleMembersQuery, map[string]interface{}{
		"uuid": moduleID,
		"members": []interface{}{map[string]interface{}{
			"term": "P53_PATHWAY", "source": "reactome", "p_value": 0.001, "fdr": 0.01,
			"representative": true, "genes": []interface{}{"TP53", "MDM2"},
		}},
	})
	require.NoError(t, err)

	res, err := d.ExecuteQuery(ctx, GetRunModulesQuery, map[string]interface{}{"run_id": runID})
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)

	_, err = d.ExecuteQuery(ctx, DeleteRunQuery, map[string]interface{}{"run_id": runID})
	require.NoError(t, err)
	res, err = d.ExecuteQuery(ctx, GetRunModulesQuery, map[string]interface{}{"run_id": runID})
	require.NoError(t, err)
	assert.Empty(t, res.Records)
}
