// Command greenhoused serves the greenhouse seed tracking API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"greenhouse/internal/adapters/httpapi"
	"greenhouse/internal/adapters/reports"
	"greenhouse/internal/blob"
	"greenhouse/internal/catalog"
	"greenhouse/internal/config"
	"greenhouse/internal/core"
	"greenhouse/internal/observability"
)

var exitFunc = os.Exit

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("greenhoused", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath string
		envFile    string
		check      bool
	)
	fs.StringVar(&configPath, "config", ".", "directory holding greenhouse.yaml, or a yaml file path")
	fs.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")
	fs.BoolVar(&check, "check", false, "build every component and exit without serving")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		_, _ = fmt.Fprintf(stderr, "load %s: %v\n", envFile, err)
		return 1
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	logger := observability.InitLogger("greenhoused", cfg.Log.Level, cfg.Log.Pretty)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return 1
	}
	defer a.close(ctx)

	if check {
		_, _ = fmt.Fprintln(stdout, "configuration ok")
		return 0
	}
	if err := a.serve(ctx); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		return 1
	}
	return 0
}

type app struct {
	cfg     config.Config
	logger  zerolog.Logger
	store   io.Closer
	worker  *reports.Worker
	handler http.Handler
}

func build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	recorder := observability.NewPrometheusRecorder()

	store, closer, err := core.OpenPersistentStore(ctx, cfg.StorageOptions(), core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	svc := core.NewService(store,
		core.WithLogger(observability.NewLogger(logger.With().Str("component", "service").Logger())),
		core.WithMetricsRecorder(recorder),
		core.WithPhaseRecorder(recorder),
		core.WithTracer(observability.NewTracer(logger)),
		core.WithAuditRecorder(observability.NewAuditLog(logger)),
		core.WithDefaultCapacity(cfg.Greenhouse.DefaultCapacity),
	)

	if cfg.Catalog.Path != "" {
		cat, err := catalog.LoadFile(cfg.Catalog.Path)
		if err != nil {
			_ = closer.Close()
			return nil, err
		}
		summary, err := catalog.Import(ctx, svc, cat)
		if err != nil {
			_ = closer.Close()
			return nil, err
		}
		logger.Info().
			Int("seed_types", summary.SeedTypesCreated).
			Int("substrates", summary.SubstratesCreated).
			Int("skipped", summary.Skipped).
			Msg("catalog imported")
	}

	blobs, err := blob.Open(ctx, cfg.BlobOptions())
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	worker := reports.NewWorker(svc, blobs,
		reports.WithPrefix(cfg.Reports.Prefix),
		reports.WithQueueSize(cfg.Reports.QueueSize),
		reports.WithLogger(observability.NewLogger(logger.With().Str("component", "reports").Logger())),
		reports.WithStatusRecorder(recorder),
	)
	worker.Start()

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  closer,
		worker: worker,
		handler: httpapi.NewRouter(svc, worker, httpapi.Options{
			Logger:      logger,
			CORSOrigins: cfg.Server.CORSOrigins,
		}),
	}, nil
}

func (a *app) serve(ctx context.Context) error {
	server := &http.Server{Addr: a.cfg.Server.Addr, Handler: a.handler}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().
			Str("addr", a.cfg.Server.Addr).
			Str("storage", a.cfg.Storage.Driver).
			Str("blob", a.cfg.Blob.Driver).
			Msg("greenhoused listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (a *app) close(ctx context.Context) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.worker.Stop(stopCtx); err != nil {
		a.logger.Warn().Err(err).Msg("report worker did not stop cleanly")
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close store")
	}
}
