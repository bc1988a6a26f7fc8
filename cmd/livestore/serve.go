package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Gammanik/livestore/internal/api"
	"github.com/Gammanik/livestore/internal/config"
	"github.com/Gammanik/livestore/internal/metastore"
	"github.com/Gammanik/livestore/internal/metrics"
	"github.com/Gammanik/livestore/internal/store"
)

var log = logrus.WithField("logger", "main")

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Logging.Apply(); err != nil {
		return err
	}

	opts := store.Options{
		BroadcastCapacity: cfg.Store.BroadcastCapacity,
		ReadBufferSize:    cfg.Store.ReadBufferSize,
		IngestPacing:      cfg.Store.IngestPacing,
	}

	// Журнал загрузок хранит только метаданные
	if cfg.Journal.Path != "" {
		journal, err := metastore.NewBoltJournal(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer journal.Close()
		opts.Journal = journal
		log.WithField("path", cfg.Journal.Path).Info("Upload journal enabled")
	}

	if cfg.Metrics.Enabled {
		opts.Metrics = metrics.New()
	}

	handler := &api.ResourceHandler{
		Store:   store.New(opts),
		Metrics: opts.Metrics,
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Listening on %s", cfg.Server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Живые выдачи могут ждать незавершенные загрузки сколько угодно,
	// поэтому по истечении таймаута соединения закрываются принудительно
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Graceful shutdown timed out, closing connections")
		server.Close()
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
