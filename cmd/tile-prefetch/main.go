// 程序入口：预热区域瓦片缓存；多个 worker 共用同一个配额限流器
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tile-curator/internal/bing"
	"tile-curator/internal/config"
	"tile-curator/internal/fetch"
	"tile-curator/internal/logger"
	"tile-curator/internal/mapswipe"
	"tile-curator/internal/metrics"
	"tile-curator/internal/middleware"
	"tile-curator/internal/regions"
	"tile-curator/internal/tilecache"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	l := logger.Setup()

	cfg, err := config.Load()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	if len(os.Args) > 1 {
		if cfg.Projects, err = config.ParseProjects(strings.Join(os.Args[1:], ",")); err != nil {
			l.Error("config_error", "err", err)
			os.Exit(1)
		}
	}
	if len(cfg.Projects) == 0 {
		l.Error("config_error", "err", "no projects")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", middleware.Wrap(metrics.Handler()))
		go func() {
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
	f := fetch.New(imagery, cache, fetch.NewLimiter(fetch.QuotaInterval(cfg.QuotaPerDay)))

	for _, id := range cfg.Projects {
		qks, err := source.RegionQuadkeys(ctx, id)
		if err != nil {
			l.Error("region_error", "region", id, "err", err)
			os.Exit(1)
		}
		t0 := time.Now()
		st, err := fetch.Prefetch(ctx, f, qks, cfg.FetchWorkers)
		l.Info("prefetch_region", "region", id, "total", st.Total, "present", st.Present, "absent", st.Absent,
			"failed", st.Failed, "ms", time.Since(t0).Milliseconds())
		if err != nil {
			l.Error("prefetch_error", "region", id, "err", err)
			os.Exit(1)
		}
	}
	l.Info("prefetch_ok", "regions", len(cfg.Projects))
}
