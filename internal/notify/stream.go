package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mmeshcher/redio/internal/model"
)

// DefaultStreamMaxLen ограничивает длину потока уведомлений.
const DefaultStreamMaxLen = 10000

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// StreamPublisher записывает уведомления в поток Redis командой XADD.
type StreamPublisher struct {
	client redis.UniversalClient
	adder  streamAdder
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewStreamPublisher подключается к Redis и проверяет соединение.
func NewStreamPublisher(ctx context.Context, addr, stream string, logger *zap.Logger) (*StreamPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	logger.Info("connected to redis",
		zap.String("addr", addr),
		zap.String("stream", stream),
		zap.Int64("maxLen", DefaultStreamMaxLen))

	return &StreamPublisher{
		client: rdb,
		adder:  rdb,
		stream: stream,
		maxLen: DefaultStreamMaxLen,
		logger: logger,
	}, nil
}

// Name возвращает имя получателя для логов и метрик.
func (p *StreamPublisher) Name() string {
	return "redis_stream"
}

// Publish добавляет уведомления в поток по одному в порядке номеров.
func (p *StreamPublisher) Publish(ctx context.Context, events []model.Event) error {
	for _, e := range events {
		args := &redis.XAddArgs{
			Stream: p.stream,
			Values: map[string]any{
				"id":        e.ID.String(),
				"seq":       strconv.FormatInt(e.Seq, 10),
				"kind":      string(e.Kind),
				"pool":      e.Pool.String(),
				"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
				"payload":   string(e.Payload),
			},
		}
		if p.maxLen > 0 {
			args.MaxLen = p.maxLen
			args.Approx = true
		}

		if err := p.adder.XAdd(ctx, args).Err(); err != nil {
			return fmt.Errorf("xadd event %d to %s: %w", e.Seq, p.stream, err)
		}
	}
	return nil
}

// Close закрывает соединение с Redis.
func (p *StreamPublisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
