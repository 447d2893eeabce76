package notify

import (
	"crypto/tls"
	"net"
	"time"

	"kindred-collective-backend/pkg/config"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// NewRedisClient 根据配置创建 Redis 客户端
func NewRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewMailerFromConfig builds the SMTP mailer, or nil when SMTP is not configured.
func NewMailerFromConfig(cfg *config.Config) *Mailer {
	if cfg.SMTPHostPort == "" {
		return nil
	}
	server := SMTPServer{
		HostPort: cfg.SMTPHostPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
	}
	if cfg.SMTPTLS {
		host, _, err := net.SplitHostPort(cfg.SMTPHostPort)
		if err != nil {
			host = cfg.SMTPHostPort
		}
		server.TLS = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}
	return NewMailer(server, cfg.SMTPFrom)
}

// New picks the delivery channel: the Redis stream when REDIS_ADDR is set,
// direct SMTP in a goroutine when only SMTP is set, otherwise a log line.
// The returned close func releases the Redis client, if any.
func New(cfg *config.Config, logger *zap.Logger) (Notifier, func() error) {
	if cfg.RedisAddr != "" {
		client := NewRedisClient(cfg)
		logger.Info("invite emails queued to redis", zap.String("stream", cfg.InviteStream))
		return NewRedisQueue(client, cfg.InviteStream), client.Close
	}
	if mailer := NewMailerFromConfig(cfg); mailer != nil {
		logger.Info("invite emails sent directly over smtp")
		return NewAsyncSender(mailer, 30*time.Second, logger), func() error { return nil }
	}
	return NewLogNotifier(logger), func() error { return nil }
}
