// Package notify доставляет уведомления из журнала внешним подписчикам.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/redio/internal/model"
)

// Publisher доставляет пачку уведомлений одному получателю.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, events []model.Event) error
}

// RetryAfterError сообщает, что получатель просит повторить доставку не раньше Delay.
type RetryAfterError struct {
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("receiver throttled delivery, retry after %s", e.Delay)
}
