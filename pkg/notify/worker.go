package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// WorkerConfig configures the stream consumer.
type WorkerConfig struct {
	Stream      string
	Group       string
	Consumer    string
	MaxAttempts int
	BatchSize   int64
	Block       time.Duration

	// RetryDelay 首次重试间隔，每次失败翻倍，上限 MaxRetryDelay
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// Worker consumes invite emails from the stream and sends them. A failed
// send is re-published with an incremented attempt count and a not_before
// deadline until MaxAttempts, then dropped with an error log. The worker
// waits for a message's deadline before sending it.
type Worker struct {
	client *redis.Client
	queue  *RedisQueue
	sender Sender
	cfg    WorkerConfig
	logger *zap.Logger

	// 测试中可替换
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewWorker(client *redis.Client, sender Sender, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if cfg.Group == "" {
		cfg.Group = "invite-mailer"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "mailer-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 15 * time.Minute
	}
	return &Worker{
		client: client,
		queue:  NewRedisQueue(client, cfg.Stream),
		sender: sender,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryDelay is the wait before attempt number attempts+1.
func (w *Worker) retryDelay(attempts int) time.Duration {
	d := w.cfg.RetryDelay
	for i := 1; i < attempts && d < w.cfg.MaxRetryDelay; i++ {
		d *= 2
	}
	if d > w.cfg.MaxRetryDelay {
		d = w.cfg.MaxRetryDelay
	}
	return d
}

// EnsureGroup 创建消费者组（已存在则忽略）
func (w *Worker) EnsureGroup(ctx context.Context) error {
	err := w.client.XGroupCreateMkStream(ctx, w.cfg.Stream, w.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Run blocks until ctx is cancelled. Messages left pending by a previous run
// of this consumer are handled first.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.EnsureGroup(ctx); err != nil {
		return err
	}
	if _, err := w.drain(ctx, "0"); err != nil && ctx.Err() == nil {
		return err
	}

	w.logger.Info("invite mailer started",
		zap.String("stream", w.cfg.Stream),
		zap.String("group", w.cfg.Group),
		zap.String("consumer", w.cfg.Consumer),
	)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := w.readBatch(ctx, ">", w.cfg.Block); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("failed to read invite stream", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessAvailable handles every message currently readable without blocking.
func (w *Worker) ProcessAvailable(ctx context.Context) (int, error) {
	return w.drain(ctx, ">")
}

func (w *Worker) drain(ctx context.Context, start string) (int, error) {
	total := 0
	for {
		n, err := w.readBatch(ctx, start, -1)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}

// readBatch 读取并处理一批消息；block < 0 表示不阻塞
func (w *Worker) readBatch(ctx context.Context, start string, block time.Duration) (int, error) {
	streams, err := w.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    w.cfg.Group,
		Consumer: w.cfg.Consumer,
		Streams:  []string{w.cfg.Stream, start},
		Count:    w.cfg.BatchSize,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	n := 0
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			w.handle(ctx, msg)
			n++
		}
	}
	return n, nil
}

func (w *Worker) ack(ctx context.Context, id string) {
	if err := w.client.XAck(ctx, w.cfg.Stream, w.cfg.Group, id).Err(); err != nil {
		w.logger.Error("failed to ack invite email", zap.String("message_id", id), zap.Error(err))
	}
}

func (w *Worker) handle(ctx context.Context, msg redis.XMessage) {
	item, err := decodeMessage(msg.Values)
	if err != nil {
		w.logger.Error("dropping malformed invite email", zap.String("message_id", msg.ID), zap.Error(err))
		w.ack(ctx, msg.ID)
		return
	}
	if wait := item.NotBefore.Sub(w.now()); wait > 0 {
		// 取消时不确认，消息留在 pending 中由下次启动处理
		if err := w.sleep(ctx, wait); err != nil {
			return
		}
	}
	defer w.ack(ctx, msg.ID)

	email := item.Email
	if err := w.sender.Send(ctx, email); err != nil {
		attempts := item.Attempts + 1
		delay := w.retryDelay(attempts)
		fields := []zap.Field{
			zap.String("invitation_id", email.InvitationID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		}
		if attempts >= w.cfg.MaxAttempts {
			w.logger.Error("giving up on invite email", fields...)
			return
		}
		w.logger.Warn("invite email failed, requeueing", append(fields, zap.Duration("retry_in", delay))...)
		next := queued{Email: email, Attempts: attempts, NotBefore: w.now().Add(delay)}
		if _, err := w.queue.publish(ctx, next); err != nil {
			w.logger.Error("failed to requeue invite email", zap.String("invitation_id", email.InvitationID), zap.Error(err))
		}
		return
	}

	w.logger.Info("invite email sent",
		zap.String("invitation_id", email.InvitationID),
		zap.String("organisation_id", email.OrganisationID),
	)
}
