// 程序入口：按区域顺序生成 train/valid/test 数据集；参数来自环境变量，命令行参数可覆盖区域列表
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tile-curator/internal/bing"
	"tile-curator/internal/claims"
	"tile-curator/internal/config"
	"tile-curator/internal/dataset"
	"tile-curator/internal/fetch"
	"tile-curator/internal/logger"
	"tile-curator/internal/mapswipe"
	"tile-curator/internal/metrics"
	"tile-curator/internal/middleware"
	"tile-curator/internal/migrate"
	"tile-curator/internal/regions"
	"tile-curator/internal/store"
	"tile-curator/internal/tilecache"
	"tile-curator/internal/utils"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	l := logger.Setup()
	l.Debug("log_init_ok")

	cfg, err := config.Load()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	if len(os.Args) > 1 {
		ids, err := config.ParseProjects(strings.Join(os.Args[1:], ","))
		if err != nil {
			l.Error("config_error", "err", err)
			os.Exit(1)
		}
		cfg.Projects = ids
	}
	if len(cfg.Projects) == 0 {
		l.Error("config_error", "err", "no projects: set DATASET_PROJECTS or pass ids as arguments")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", middleware.Wrap(metrics.Handler()))
		go func() {
			l.Info("metrics_listen", "addr", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				l.Error("metrics_listen_error", "err", err)
			}
		}()
	}

	imagery, err := bing.Handshake(ctx, logger.Client(l, 30*time.Second), cfg.BingMetadataURL, cfg.BingKey)
	if err != nil {
		l.Error("bing_handshake_error", "err", err)
		os.Exit(1)
	}
	cache, err := tilecache.New(cfg.TileCacheDir, "jpg", 1<<16)
	if err != nil {
		l.Error("tile_cache_error", "err", err)
		os.Exit(1)
	}
	limiter := fetch.NewLimiter(fetch.QuotaInterval(cfg.QuotaPerDay))
	l.Info("fetch_limiter", "interval_ms", limiter.Interval().Milliseconds())

	regionStore, err := regions.Open(cfg.RegionDBDir)
	if err != nil {
		l.Error("region_store_error", "err", err)
		os.Exit(1)
	}
	defer regionStore.Close()

	source := mapswipe.NewClient(mapswipe.Options{
		HTTP:        logger.Client(l, 10*time.Minute),
		APIURL:      cfg.MapSwipeAPIURL,
		ProjectsURL: cfg.ProjectsGeoJSONURL,
		Workdir:     cfg.Workdir,
		Regions:     regionStore,
	})

	var set claims.Set = claims.NewMemory()
	if cfg.ClaimsBackend == config.ClaimsRedis {
		rc := utils.OpenRedisFromEnv()
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
			os.Exit(1)
		}
		set = claims.NewRedis(rc, cfg.ClaimsRedisKey)
		l.Info("claims_backend", "backend", "redis")
	}

	cur := &dataset.Curator{
		Source:    source,
		Fetcher:   fetch.New(imagery, cache, limiter),
		Cache:     cache,
		Claims:    set,
		Policy:    cfg.Policy,
		Weights:   cfg.Weights,
		Seed:      cfg.Seed,
		MaxSize:   cfg.MaxSize,
		OutDir:    cfg.OutputDir,
		Overwrite: cfg.Overwrite,
		CopyFiles: cfg.CopyFiles,
	}
	if cfg.RecordDB {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			l.Error("db_ping_error", "err", err)
			os.Exit(1)
		}
		if err := migrate.EnsureSchema(db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		cur.Recorder = store.NewRecorder(db)
	}

	sum, err := cur.Run(ctx, cfg.Projects)
	if err != nil {
		switch {
		case errors.Is(err, bing.ErrQuotaExceeded):
			l.Error("dataset_quota_exceeded", "err", err)
		case errors.Is(err, dataset.ErrOutputExists):
			l.Error("dataset_output_exists", "dir", cfg.OutputDir, "hint", "set DATASET_OVERWRITE=true to replace it")
		default:
			l.Error("dataset_error", "err", err)
		}
		os.Exit(1)
	}
	l.Info("dataset_ok", "run", sum.RunID, "triplets", sum.Triplets,
		"train", sum.Counts[dataset.SubsetTrain], "valid", sum.Counts[dataset.SubsetValid], "test", sum.Counts[dataset.SubsetTest])
}
