package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/redio/internal/model"
)

// WebhookClient отправляет уведомления POST-запросом на внешний адрес.
type WebhookClient struct {
	url        string
	httpClient *http.Client
}

// NewWebhookClient создаёт HTTP-клиент для доставки уведомлений по указанному адресу.
func NewWebhookClient(url string) *WebhookClient {
	url = strings.TrimRight(url, "/")
	if url != "" && !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}

	return &WebhookClient{
		url: url,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Name возвращает имя получателя для логов и метрик.
func (c *WebhookClient) Name() string {
	return "webhook"
}

// Publish отправляет пачку уведомлений JSON-массивом.
// Ответ 429 возвращается как *RetryAfterError.
func (c *WebhookClient) Publish(ctx context.Context, events []model.Event) error {
	if c == nil || c.url == "" {
		return fmt.Errorf("webhook client not configured")
	}
	if len(events) == 0 {
		return nil
	}

	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RetryAfterError{Delay: retryAfter}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
