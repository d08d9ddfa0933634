package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/zulandar/droptrack/internal/models"
)

// Backend wraps the delivery backend endpoints used by chat and
// notifications.
type Backend struct {
	client *Client
	base   string
}

// NewBackend returns a Backend rooted at baseURL (no trailing slash).
func NewBackend(client *Client, baseURL string) (*Backend, error) {
	if client == nil {
		return nil, fmt.Errorf("api: client is required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("api: base url is required")
	}
	return &Backend{client: client, base: baseURL}, nil
}

// Client returns the underlying request client.
func (b *Backend) Client() *Client { return b.client }

func (b *Backend) url(format string, args ...any) string {
	escaped := make([]any, len(args))
	for i, a := range args {
		escaped[i] = url.PathEscape(fmt.Sprint(a))
	}
	return b.base + fmt.Sprintf(format, escaped...)
}

// fetch reads u with the cold-start retry profile and returns the payload
// normalized under key.
func (b *Backend) fetch(ctx context.Context, u, key string) (json.RawMessage, error) {
	r := b.client.FetchAPI(ctx, http.MethodGet, u, nil, key)
	if !r.Success {
		return nil, &FetchError{Status: r.Status, Message: r.Message, Err: r.Err}
	}
	return r.Data, nil
}

// call performs a request and returns the body of a 2xx response.
func (b *Backend) call(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	resp, err := b.client.Do(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("api: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return raw, &StatusError{Status: resp.StatusCode, Message: ErrorMessage(raw, http.StatusText(resp.StatusCode))}
	}
	return raw, nil
}

// StatusError is a non-2xx backend response that was not retried further.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// FetchError is a read that failed after the cold-start retry profile.
// Message is meant for the user.
type FetchError struct {
	Status  int
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	msg := e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("status %d: %s", e.Status, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("api: %s: %v", msg, e.Err)
	}
	return "api: " + msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// UserMessage returns the notice to show for the failure.
func (e *FetchError) UserMessage() string { return e.Message }

// ChatMessages returns the authoritative message list for an order.
func (b *Backend) ChatMessages(ctx context.Context, orderID string) ([]models.Message, error) {
	payload, err := b.fetch(ctx, b.url("/chat/%s", orderID), "mensagens")
	if err != nil {
		return nil, fmt.Errorf("api: chat messages %s: %w", orderID, err)
	}
	msgs, _ := DecodePayload[models.Message](payload, "mensagens")
	return msgs, nil
}

// SendChatMessage posts a message. The acknowledgement is returned raw;
// its shape is not reliable enough to merge into the view.
func (b *Backend) SendChatMessage(ctx context.Context, orderID, text string) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]string{"mensagem": text})
	if err != nil {
		return nil, fmt.Errorf("api: encode message: %w", err)
	}
	raw, err := b.call(ctx, http.MethodPost, b.url("/chat/%s", orderID), body)
	if err != nil {
		return nil, fmt.Errorf("api: send message %s: %w", orderID, err)
	}
	return raw, nil
}

// MarkMessageRead marks a single message as read.
func (b *Backend) MarkMessageRead(ctx context.Context, messageID string) error {
	if _, err := b.call(ctx, http.MethodPut, b.url("/chat/mensagem/%s/ler", messageID), nil); err != nil {
		return fmt.Errorf("api: mark read %s: %w", messageID, err)
	}
	return nil
}

// MarkAllRead marks every message of an order as read.
func (b *Backend) MarkAllRead(ctx context.Context, orderID string) error {
	if _, err := b.call(ctx, http.MethodPut, b.url("/chat/%s/ler-todas", orderID), nil); err != nil {
		return fmt.Errorf("api: mark all read %s: %w", orderID, err)
	}
	return nil
}

// Notifications returns the user's notifications.
func (b *Backend) Notifications(ctx context.Context) ([]models.Notification, error) {
	payload, err := b.fetch(ctx, b.base+"/notifications", "notifications")
	if err != nil {
		return nil, fmt.Errorf("api: notifications: %w", err)
	}
	items, _ := DecodePayload[models.Notification](payload, "notifications")
	return items, nil
}
