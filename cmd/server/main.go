package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agenthands/genefuse/internal/blob"
	"github.com/agenthands/genefuse/internal/config"
	"github.com/agenthands/genefuse/internal/core"
	"github.com/agenthands/genefuse/internal/core/common"
	"github.com/agenthands/genefuse/internal/core/genesets"
	"github.com/agenthands/genefuse/internal/core/idmap"
	"github.com/agenthands/genefuse/internal/core/stats"
	"github.com/agenthands/genefuse/internal/driver"
	"github.com/agenthands/genefuse/internal/metrics"
	"github.com/agenthands/genefuse/internal/resolver"
	"github.com/agenthands/genefuse/internal/server"
	"github.com/agenthands/genefuse/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := common.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	common.SetLogger(logger)
	if envErr != nil {
		logger.Info("no .env file found, using defaults")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.toml"
	}
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	blobStore, err := blob.Open(ctx, blob.Config{
		Driver: cfg.Cache.Driver,
		Dir:    cfg.Cache.Dir,
		S3: blob.S3Config{
			Bucket:    cfg.Cache.S3.Bucket,
			Region:    cfg.Cache.S3.Region,
			Endpoint:  cfg.Cache.S3.Endpoint,
			PathStyle: cfg.Cache.S3.PathStyle,
		},
	})
	if err != nil {
		return err
	}

	provider := resolver.NewEnrichr(cfg.Provider.BaseURL,
		resolver.WithTimeout(time.Duration(cfg.Provider.TimeoutS)*time.Second),
		resolver.WithLogger(logger))
	sets := genesets.NewStore(blobStore, provider, logger)
	sets.MinSize, sets.MaxSize = cfg.ORA.MinSetSize, cfg.ORA.MaxSetSize

	mapper, closeMapper, err := newMapper(cfg, logger)
	if err != nil {
		return err
	}
	defer closeMapper()

	p := core.NewPipeline(mapper, sets, cfg.SoftwareVersion, logger)
	fusion := core.NewFusion(p, cfg.Dedupe.Threshold, logger)
	batch := core.NewBatch(p, cfg.Concurrency.Batch, logger)
	srv := server.NewServer(p, fusion, batch, logger)
	srv.Sources = sets
	srv.Defaults = server.Defaults{
		ORA: stats.ORAOptions{
			PCutoff:    cfg.ORA.PCutoff,
			MinOverlap: cfg.ORA.MinOverlap,
			FDRMethod:  cfg.ORA.FDRMethod,
		},
		GSEA: stats.GSEAOptions{
			MinSize:        cfg.GSEA.MinSize,
			MaxSize:        cfg.GSEA.MaxSize,
			PermutationNum: cfg.GSEA.PermutationNum,
			Seed:           cfg.GSEA.Seed,
			TopN:           cfg.GSEA.TopN,
			Weight:         cfg.GSEA.Weight,
		},
		FusionSources: cfg.Fusion.Sources,
	}

	if cfg.Metrics.Enabled {
		rec := metrics.NewRecorder()
		p.Metrics = rec
		fusion.Metrics = rec
		srv.Metrics = rec.Handler()
	}

	if cfg.Archive.Driver != "" && cfg.Archive.Driver != "none" {
		runs, err := store.Open(ctx, store.Dialect(cfg.Archive.Driver), cfg.Archive.DSN, logger)
		if err != nil {
			return err
		}
		defer runs.Close()
		p.Archive = runs
		srv.Runs = runs
	}

	if cfg.Graph.Enabled {
		d, err := driver.NewMemgraphDriver(ctx, cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password, logger)
		if err != nil {
			return err
		}
		defer d.Close(context.Background())
		fusion.Graph = core.NewGraphExporter(d, logger)
		if err := fusion.Graph.BuildIndices(ctx); err != nil {
			logger.Warn("graph index setup failed", "error", err)
		}
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// newMapper wires the identifier resolver and its cache. A disabled resolver
// leaves the mapper on identity mapping.
func newMapper(cfg *config.Config, logger *slog.Logger) (*idmap.Mapper, func(), error) {
	if !cfg.Mapping.Enabled {
		return idmap.NewMapper(nil, nil, logger), func() {}, nil
	}
	cache, err := idmap.OpenBadgerCache(cfg.Mapping.CacheDir, logger)
	if err != nil {
		return nil, nil, err
	}
	res := resolver.NewMyGene(cfg.Mapping.BaseURL,
		resolver.WithTimeout(time.Duration(cfg.Mapping.TimeoutS)*time.Second),
		resolver.WithLogger(logger))
	m := idmap.NewMapper(res, cache, logger)
	if cfg.Mapping.CacheDays > 0 {
		m.TTL = time.Duration(cfg.Mapping.CacheDays) * 24 * time.Hour
	}
	closeFn := func() {
		if err := cache.Close(); err != nil {
			logger.Warn("mapping cache close failed", "error", err)
		}
	}
	return m, closeFn, nil
}
