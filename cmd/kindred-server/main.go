// Command kindred-server runs the membership API as a long-lived HTTP server.
// The same router backs the serverless function in api/.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "kindred-collective-backend/api"
	"kindred-collective-backend/pkg/config"
	"kindred-collective-backend/pkg/database"
	"kindred-collective-backend/pkg/logger"
	"kindred-collective-backend/pkg/notify"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()
	log := logger.NewLoggerOrNop(cfg.LogLevel, cfg.LogFormat, "kindred-server")
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	store, err := database.NewStore(api.StoreConfig(cfg))
	if err != nil {
		log.Fatal("failed to open store", zap.String("database", cfg.DatabaseType()), zap.Error(err))
	}
	defer store.Close()

	notifier, closeNotifier := notify.New(cfg, log)
	defer closeNotifier()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(cfg, store, notifier, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting http server", zap.String("addr", srv.Addr), zap.String("database", cfg.DatabaseType()))
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("graceful shutdown incomplete", zap.Error(err))
	}
}
