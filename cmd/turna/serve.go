package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/turna/console/internal/api"
	"github.com/turna/console/internal/jobs"
	"github.com/turna/console/internal/models"
	"github.com/turna/console/internal/storage"
	"github.com/turna/console/internal/upload"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local console server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), a)
		},
	}

	cmd.Flags().String("listen", "", "listen address")
	cmd.Flags().String("data-dir", "", "directory for the spool and history")
	cmd.Flags().Duration("poll-interval", 0, "job status polling interval")
	cmd.Flags().Bool("extract", false, "create an extraction job after every upload")
	cmd.Flags().Int("page-size", 0, "default file list page size")
	return cmd
}

func runServer(parent context.Context, a *app) error {
	cfg := a.cfg
	logger := a.logger

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	spool, err := storage.NewSpool(cfg.Storage.SpoolDir)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}

	store := a.openHistory()
	if store == nil {
		return fmt.Errorf("history store %s could not be opened", cfg.Storage.HistoryPath)
	}
	defer store.Close()

	ctx, stop := signalContext(parent)
	defer stop()

	poller := jobs.NewPoller(a.client, cfg.Processing.PollInterval, logger)
	defer poller.Stop()

	queue := upload.NewQueue(poller)
	uploader := upload.NewUploader(queue, a.client, poller, upload.Options{
		AutoExtract: cfg.Processing.AutoExtract,
		Recorder:    store,
		Logger:      logger,
	})

	e := api.NewServer(&api.Dependencies{
		Context:  ctx,
		Backend:  a.client,
		Queue:    queue,
		Uploader: uploader,
		Poller:   poller,
		Spool:    spool,
		History:  store,
		PageSize: cfg.Processing.PageSize,
		Version:  Version,
		Logger:   logger,
	}, api.MiddlewareOptions{
		Dev:         cfg.IsDev(),
		CORSOrigins: cfg.Server.CORSOrigins,
		BodyLimit:   cfg.Server.BodyLimit,
	})

	// Catch up on extraction jobs that finished while nobody watched them.
	go reconcileJobs(ctx, a, poller)
	go pruneSpool(ctx, a, spool, queue)

	s := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.ListenAddr).
			Str("backend", a.client.BaseURL()).
			Bool("auto_extract", uploader.AutoExtract()).
			Dur("poll_interval", poller.Interval()).
			Msg("starting console")
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down console")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("console stopped")
	return nil
}

const spoolPruneInterval = 10 * time.Minute

// reconcileJobs periodically resolves watched jobs through one list request.
func reconcileJobs(ctx context.Context, a *app, poller *jobs.Poller) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if len(poller.Active()) == 0 {
			continue
		}
		n, err := poller.Reconcile(ctx, a.client, models.JobTypeExtract, 100)
		if err != nil {
			a.logger.Warn().Err(err).Msg("job reconciliation failed")
			continue
		}
		if n > 0 {
			a.logger.Info().Int("resolved", n).Msg("jobs reconciled")
		}
	}
}

// pruneSpool removes spooled files that no longer belong to a queue entry.
func pruneSpool(ctx context.Context, a *app, spool *storage.Spool, queue *upload.Queue) {
	retention := a.cfg.Processing.SpoolRetention
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(spoolPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		queued := make(map[string]struct{})
		for _, p := range queue.Snapshot() {
			if p.File.SpoolID != "" {
				queued[p.File.SpoolID] = struct{}{}
			}
		}
		n := spool.Prune(retention, func(id string) bool {
			_, ok := queued[id]
			return ok
		})
		if n > 0 {
			a.logger.Info().Int("removed", n).Msg("spool pruned")
		}
	}
}
