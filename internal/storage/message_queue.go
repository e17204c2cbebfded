package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/firemen2709/sds200-scanner-dashboard/internal/config"
	"github.com/firemen2709/sds200-scanner-dashboard/pkg/protocol"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// MessageQueue publishes snapshots to Redis: the latest document under key,
// a pub/sub notification on channel and a capped history list.
type MessageQueue struct {
	client  *redis.Client
	key     string
	channel string
	history int64
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
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	log.Infof("connected to redis at %s", cfg.Addr)

	return &MessageQueue{
		client:  client,
		key:     cfg.Key,
		channel: cfg.Channel,
		history: cfg.History,
		log:     log,
	}, nil
}

func (mq *MessageQueue) Name() string {
	return "redis"
}

func (mq *MessageQueue) historyKey() string {
	return mq.key + ":history"
}

// Publish writes the snapshot in a single pipeline.
func (mq *MessageQueue) Publish(ctx context.Context, snap *protocol.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}

	pipe := mq.client.TxPipeline()
	pipe.Set(ctx, mq.key, data, 0)
	pipe.Publish(ctx, mq.channel, data)
	if mq.history > 0 {
		pipe.LPush(ctx, mq.historyKey(), data)
		pipe.LTrim(ctx, mq.historyKey(), 0, mq.history-1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish snapshot to redis: %w", err)
	}
	return nil
}

func (mq *MessageQueue) Latest(ctx context.Context) (*protocol.Snapshot, error) {
	data, err := mq.client.Get(ctx, mq.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot from redis: %w", err)
	}
	return decode(data)
}

// History returns up to n recent snapshots, newest first.
func (mq *MessageQueue) History(ctx context.Context, n int64) ([]*protocol.Snapshot, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := mq.client.LRange(ctx, mq.historyKey(), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read snapshot history: %w", err)
	}

	snaps := make([]*protocol.Snapshot, 0, len(items))
	for _, item := range items {
		snap, err := decode([]byte(item))
		if err != nil {
			mq.log.Warnf("skipping unreadable history entry: %v", err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Subscribe returns the pub/sub handle for live snapshot notifications.
func (mq *MessageQueue) Subscribe(ctx context.Context) *redis.PubSub {
	return mq.client.Subscribe(ctx, mq.channel)
}

func (mq *MessageQueue) Close() error {
	return mq.client.Close()
}
