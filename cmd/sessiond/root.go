package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sessiond/internal/api"
	"sessiond/internal/assets"
	"sessiond/internal/config"
	"sessiond/internal/engine"
	"sessiond/internal/history"
	"sessiond/internal/httpapi"
	"sessiond/internal/manager"
	"sessiond/internal/probe"
	"sessiond/internal/queue"
	"sessiond/internal/registry"
	"sessiond/internal/toolbridge"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "sessiond",
		Short:         "Local LLM inference session manager",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	o.bind(root)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, o)
		},
	}
	backendsCmd := &cobra.Command{
		Use:   "backends",
		Short: "Print the acceleration backends usable on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.resolve(cmd)
			if err != nil {
				return err
			}
			p := newProber(cfg, nil)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p.Probe(cmd.Context()))
		},
	}
	root.AddCommand(serveCmd, backendsCmd)
	// serve is the default
	root.RunE = serveCmd.RunE
	return root
}

func newProber(cfg config.Config, log *zerolog.Logger) *probe.Prober {
	return probe.NewDefault(uint64(max(cfg.VRAMBudgetMB, 0))<<20, log)
}

func runServe(cmd *cobra.Command, o *options) error {
	cfg, err := o.resolve(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, o.logFormat)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, log)
}

// serve wires the stack and blocks until ctx ends.
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	reg, err := registry.New(cfg.ModelsDir, &log)
	if err != nil {
		return err
	}
	store, err := assets.NewStore(assets.Config{
		Type:        cfg.Store.Type,
		ModelsDir:   reg.Dir(),
		Path:        cfg.Store.Path,
		RedisAddr:   cfg.Store.RedisAddr,
		RedisDB:     cfg.Store.RedisDB,
		RedisPrefix: cfg.Store.RedisPrefix,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	prober := newProber(cfg, &log)
	q := queue.New(queue.Config{Name: "sessions", MaxDepth: cfg.MaxQueueDepth, MaxWait: seconds(cfg.MaxWaitSeconds), Logger: &log})
	eng := engine.New(cfg.Threads)
	defer eng.Close()
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Engine:      eng,
		Backends:    prober,
		Assets:      store,
		History:     history.NewStore(store, &log),
		Queue:       q,
		IdleTimeout: seconds(cfg.IdleTimeoutSeconds),
		Publisher:   manager.LogPublisher{Log: log},
		Logger:      &log,
	})
	svc := api.New(api.Config{
		Registry:       reg,
		Prober:         prober,
		Manager:        mgr,
		Queue:          q,
		Bridge:         toolbridge.New(toolbridge.Config{Timeout: seconds(cfg.ToolCallTimeoutSeconds), Logger: &log}),
		Assets:         store,
		DefaultBackend: cfg.DefaultBackend,
		DefaultUseMMap: *cfg.UseMMap,
		Threads:        cfg.Threads,
		Logger:         &log,
	})

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetRequestTimeoutSeconds(int64(cfg.RequestTimeoutSeconds))
	httpapi.SetRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", reg.Dir()).Bool("engine", engine.LlamaBuilt).Msg("sessiond listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := reg.Watch(gctx); err != nil {
			log.Warn().Err(err).Msg("models dir watch disabled")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown error")
		}
		svc.Close()
		if err := mgr.Close(sctx); err != nil {
			log.Warn().Err(err).Msg("manager close")
		}
		return nil
	})
	err = g.Wait()
	log.Info().Msg("sessiond stopped")
	return err
}
