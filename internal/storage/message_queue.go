package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"serial-logger/internal/config"
	"serial-logger/pkg/protocol"
)

// Publisher forwards recorded events to a downstream system.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, e *protocol.Event) error
	Close() error
}

type MessageQueue struct {
	client  *redis.Client
	channel string
	limit   int64
	log     *logrus.Logger
}

func NewMessageQueue(cfg config.RedisConfig, log *logrus.Logger) (*MessageQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	log.Infof("Redis connected: %s (channel %s)", cfg.Addr, cfg.Channel)

	return newMessageQueue(client, cfg.Channel, cfg.HistoryLimit, log), nil
}

func newMessageQueue(client *redis.Client, channel string, limit int64, log *logrus.Logger) *MessageQueue {
	return &MessageQueue{
		client:  client,
		channel: channel,
		limit:   limit,
		log:     log,
	}
}

func (mq *MessageQueue) Name() string {
	return "redis"
}

// Publish sends e on the pub/sub channel and keeps a capped copy in a
// per-port list.
func (mq *MessageQueue) Publish(ctx context.Context, e *protocol.Event) error {
	jsonData, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := mq.client.Publish(ctx, mq.channel, jsonData).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	listKey := ListKey(e.Source)
	if err := mq.client.LPush(ctx, listKey, jsonData).Err(); err != nil {
		mq.log.Warnf("Save to list %s failed: %v", listKey, err)
		return nil
	}

	if mq.limit > 0 {
		if err := mq.client.LTrim(ctx, listKey, 0, mq.limit-1).Err(); err != nil {
			mq.log.Warnf("Trim list %s failed: %v", listKey, err)
		}
	}

	return nil
}

// Recent returns up to n of the latest events kept for source, newest first.
func (mq *MessageQueue) Recent(ctx context.Context, source string, n int64) ([]protocol.Event, error) {
	if n <= 0 {
		return nil, nil
	}

	items, err := mq.client.LRange(ctx, ListKey(source), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent events: %w", err)
	}

	events := make([]protocol.Event, 0, len(items))
	for _, item := range items {
		var e protocol.Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			mq.log.Warnf("Skip undecodable list entry: %v", err)
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

func (mq *MessageQueue) Close() error {
	return mq.client.Close()
}

// ListKey is the Redis list holding recent events of one serial port.
func ListKey(source string) string {
	return fmt.Sprintf("serial:%s:events", source)
}
