package migrate

import (
	"database/sql"

	"tile-curator/internal/logger"
)

// 背景：首次运行自动创建运行记录表，保障后续写入
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _dataset_runs (
            id UUID PRIMARY KEY,
            seed BIGINT NOT NULL,
            regions TEXT NOT NULL,
            started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            finished_at TIMESTAMPTZ,
            triplets INT NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS _dataset_tiles (
            run_id UUID NOT NULL REFERENCES _dataset_runs(id) ON DELETE CASCADE,
            region INT NOT NULL,
            quadkey TEXT NOT NULL,
            label TEXT NOT NULL,
            subset TEXT NOT NULL,
            PRIMARY KEY (run_id, quadkey)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_dataset_tiles_subset ON _dataset_tiles(run_id, subset, label)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
