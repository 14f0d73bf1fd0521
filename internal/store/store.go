// 包 store：数据集运行记录写入 PostgreSQL
package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"tile-curator/internal/dataset"
	"tile-curator/internal/logger"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Recorder：实现 dataset.Recorder
type Recorder struct {
	db *sql.DB
}

func NewRecorder(db *sql.DB) *Recorder { return &Recorder{db: db} }

func parseRunID(runID string) (uuid.UUID, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "run id %q", runID)
	}
	return id, nil
}

func joinRegions(regions []int) string {
	parts := make([]string, 0, len(regions))
	for _, r := range regions {
		parts = append(parts, strconv.Itoa(r))
	}
	return strings.Join(parts, ",")
}

func (r *Recorder) BeginRun(ctx context.Context, runID string, seed int64, regions []int) error {
	id, err := parseRunID(runID)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, "INSERT INTO _dataset_runs(id, seed, regions) VALUES($1, $2, $3)", id.String(), seed, joinRegions(regions))
	if err != nil {
		return errors.Wrap(err, "insert run")
	}
	logger.L().Debug("db_run_begin", "run", runID)
	return nil
}

func (r *Recorder) RecordTile(ctx context.Context, runID string, t dataset.EmittedTile) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO _dataset_tiles(run_id, region, quadkey, label, subset) VALUES($1, $2, $3, $4, $5) ON CONFLICT (run_id, quadkey) DO NOTHING",
		runID, t.Region, t.Quadkey, string(t.Label), t.Subset)
	return errors.Wrap(err, "insert tile")
}

func (r *Recorder) FinishRun(ctx context.Context, runID string, triplets int) error {
	res, err := r.db.ExecContext(ctx, "UPDATE _dataset_runs SET finished_at=now(), triplets=$2 WHERE id=$1", runID, triplets)
	if err != nil {
		return errors.Wrap(err, "finish run")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("run %s not found", runID)
	}
	logger.L().Debug("db_run_finish", "run", runID, "triplets", triplets)
	return nil
}

// SubsetCounts：某次运行各子集/标签的瓦片数
func (r *Recorder) SubsetCounts(ctx context.Context, runID string) (map[string]map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT subset, label, COUNT(*) FROM _dataset_tiles WHERE run_id=$1 GROUP BY subset, label", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]map[string]int{}
	for rows.Next() {
		var subset, label string
		var n int
		if err := rows.Scan(&subset, &label, &n); err != nil {
			return nil, err
		}
		if out[subset] == nil {
			out[subset] = map[string]int{}
		}
		out[subset][label] = n
	}
	return out, rows.Err()
}

var _ dataset.Recorder = (*Recorder)(nil)
