//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/agenthands/genefuse/internal/core/common"
	"github.com/agenthands/genefuse/internal/core/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRunStore(t *testing.T) {
	dsn := os.Getenv("GENEFUSE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GENEFUSE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, Postgres, dsn, common.Discard())
	require.NoError(t, err)
	defer s.Close()

	id := uuid.NewString()
	require.NoError(t, s.SaveRun(ctx, testMeta(id, time.Now(), model.RunOK)))
	require.NoError(t, s.SaveRun(ctx, testMeta(id, time.Now(), model.RunFailed)))

	got, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, got.Status)

	runs, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
