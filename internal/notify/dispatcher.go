package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/redio/internal/metrics"
	"github.com/mmeshcher/redio/internal/model"
)

// DefaultBatchSize задаёт число уведомлений, забираемых из журнала за один проход.
const DefaultBatchSize = 100

// EventSource описывает журнал недоставленных уведомлений.
type EventSource interface {
	PendingEvents(ctx context.Context, limit int) ([]model.Event, error)
	MarkEventsDelivered(ctx context.Context, seqs []int64) error
}

// Dispatcher периодически доставляет недоставленные уведомления всем получателям.
// Пачка отмечается доставленной, только если её приняли все получатели.
type Dispatcher struct {
	source     EventSource
	publishers []Publisher
	interval   time.Duration
	logger     *zap.Logger
	metrics    *metrics.LedgerMetrics
}

// NewDispatcher создаёт диспетчер уведомлений.
func NewDispatcher(source EventSource, interval time.Duration, logger *zap.Logger, publishers ...Publisher) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Dispatcher{
		source:     source,
		publishers: publishers,
		interval:   interval,
		logger:     logger,
		metrics:    metrics.Ledger(),
	}
}

// Run доставляет уведомления до отмены контекста.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.publishers) == 0 {
		return nil
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("event dispatch failed", zap.Error(err))
			}
		}
	}
}

// DispatchOnce доставляет одну пачку и возвращает число отмеченных доставленными уведомлений.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	events, err := d.source.PendingEvents(ctx, DefaultBatchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	for _, p := range d.publishers {
		err := p.Publish(ctx, events)
		d.metrics.ObserveDelivery(p.Name(), len(events), err)
		if err == nil {
			continue
		}

		var throttled *RetryAfterError
		if errors.As(err, &throttled) && throttled.Delay > 0 {
			d.logger.Info("publisher throttled",
				zap.String("publisher", p.Name()),
				zap.Duration("retryAfter", throttled.Delay))
			timer := time.NewTimer(throttled.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
		return 0, err
	}

	seqs := make([]int64, len(events))
	for i, e := range events {
		seqs[i] = e.Seq
	}
	if err := d.source.MarkEventsDelivered(ctx, seqs); err != nil {
		return 0, err
	}

	d.logger.Debug("events delivered", zap.Int("count", len(seqs)), zap.Int64("lastSeq", seqs[len(seqs)-1]))
	return len(seqs), nil
}
