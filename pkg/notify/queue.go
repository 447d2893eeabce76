package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultStreamMaxLen = 10000

// RedisQueue publishes invite emails to a Redis stream for the mailer worker.
type RedisQueue struct {
	client *redis.Client
	stream string
}

func NewRedisQueue(client *redis.Client, stream string) *RedisQueue {
	return &RedisQueue{client: client, stream: stream}
}

// NotifyInvite 发布邀请邮件到 Redis Streams
func (q *RedisQueue) NotifyInvite(ctx context.Context, msg InviteEmail) error {
	_, err := q.publish(ctx, queued{Email: msg})
	return err
}

// queued 是 Stream 中的一条邀请邮件及其重试状态
type queued struct {
	Email     InviteEmail
	Attempts  int
	// NotBefore 为零表示立即发送
	NotBefore time.Time
}

func (q *RedisQueue) publish(ctx context.Context, item queued) (string, error) {
	data, err := json.Marshal(item.Email)
	if err != nil {
		return "", fmt.Errorf("failed to marshal invite email: %w", err)
	}
	values := map[string]interface{}{
		"data":      string(data),
		"attempts":  strconv.Itoa(item.Attempts),
		"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
	}
	if !item.NotBefore.IsZero() {
		values["not_before"] = strconv.FormatInt(item.NotBefore.UnixMilli(), 10)
	}
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: defaultStreamMaxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish invite email: %w", err)
	}
	return id, nil
}

// decodeMessage 解析 Stream 消息
func decodeMessage(values map[string]interface{}) (queued, error) {
	var item queued
	raw, ok := values["data"].(string)
	if !ok {
		return item, fmt.Errorf("stream message has no data field")
	}
	if err := json.Unmarshal([]byte(raw), &item.Email); err != nil {
		return item, fmt.Errorf("failed to parse invite email: %w", err)
	}
	if s, ok := values["attempts"].(string); ok {
		item.Attempts, _ = strconv.Atoi(s)
	}
	if s, ok := values["not_before"].(string); ok {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			item.NotBefore = time.UnixMilli(ms)
		}
	}
	return item, nil
}
