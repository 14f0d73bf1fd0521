package store

import (
	"context"
	"os"
	"testing"

	"tile-curator/internal/classify"
	"tile-curator/internal/dataset"
	"tile-curator/internal/migrate"
	"tile-curator/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinRegions(t *testing.T) {
	assert.Equal(t, "3,14,15", joinRegions([]int{3, 14, 15}))
	assert.Equal(t, "", joinRegions(nil))
}

func TestBeginRunRejectsBadID(t *testing.T) {
	r := NewRecorder(nil)
	assert.Error(t, r.BeginRun(context.Background(), "not-a-uuid", 0, nil))
}

func TestRecorderPostgres(t *testing.T) {
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	db, err := utils.OpenPostgres(dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, migrate.EnsureSchema(db))

	ctx := context.Background()
	r := NewRecorder(db)
	run := uuid.NewString()
	require.NoError(t, r.BeginRun(ctx, run, 7, []int{1, 2}))
	require.NoError(t, r.RecordTile(ctx, run, dataset.EmittedTile{Region: 1, Quadkey: "0213", Label: classify.Built, Subset: "train"}))
	require.NoError(t, r.RecordTile(ctx, run, dataset.EmittedTile{Region: 1, Quadkey: "0212", Label: classify.Empty, Subset: "train"}))
	require.NoError(t, r.FinishRun(ctx, run, 1))

	counts, err := r.SubsetCounts(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]int{"train": {"built": 1, "empty": 1}}, counts)
	_, _ = db.ExecContext(ctx, "DELETE FROM _dataset_runs WHERE id=$1", run)
}
