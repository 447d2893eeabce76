// Command invite-mailer consumes the invite email stream and delivers each
// message over SMTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"kindred-collective-backend/pkg/config"
	"kindred-collective-backend/pkg/logger"
	"kindred-collective-backend/pkg/notify"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()
	log := logger.NewLoggerOrNop(cfg.LogLevel, cfg.LogFormat, "invite-mailer")
	defer log.Sync()

	if cfg.RedisAddr == "" {
		log.Fatal("REDIS_ADDR is required")
	}
	mailer := notify.NewMailerFromConfig(cfg)
	if mailer == nil {
		log.Fatal("SMTP_HOST_PORT is required")
	}

	client := notify.NewRedisClient(cfg)
	defer client.Close()

	consumer, err := os.Hostname()
	if err != nil || consumer == "" {
		consumer = "mailer-1"
	}
	worker := notify.NewWorker(client, mailer, notify.WorkerConfig{
		Stream:     cfg.InviteStream,
		Consumer:   consumer,
		RetryDelay: cfg.MailerRetryDelay,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.Run(ctx); err != nil {
		log.Fatal("invite mailer stopped", zap.Error(err))
	}
	log.Info("invite mailer stopped")
}
