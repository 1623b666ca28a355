package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitea.kood.tech/petrkubec/matrimony/backend/logger"
	"gitea.kood.tech/petrkubec/matrimony/backend/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "matrimony:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := initRedis(ctx, cfg, log)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	if err := os.MkdirAll(cfg.AvatarDir, 0o755); err != nil {
		return fmt.Errorf("avatar dir: %w", err)
	}

	st := store.NewPostgres(db)
	srv := newServer(cfg, st, newRevoker(rdb), newLimiter(rdb, cfg.MatchRateLimit), log)

	retention := newRetentionJob(st, cfg.HistoryRetention, cfg.RetentionCron, log)
	if err := retention.Start(ctx); err != nil {
		return err
	}
	defer retention.Stop()

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("matrimony backend listening", "port", cfg.Port, "env", cfg.Env)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	// Shutdown does not track hijacked websocket connections.
	srv.hub.closeAll()
	return nil
}
