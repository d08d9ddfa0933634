package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// User-facing messages for degraded FetchAPI outcomes.
const (
	MsgServiceStarting = "service may be starting up, try again in a few seconds"
	MsgSessionExpired  = "session expired, log in again"
	MsgBadResponse     = "could not process server response"
	MsgRequestFailed   = "request failed"
	MsgCompleted       = "operation completed"
)

// Result is the normalized outcome of a FetchAPI call. Degradable failures
// become Success=false with a readable Message.
type Result struct {
	Success bool
	Status  int
	Data    []byte // normalized payload; nil when the shape was unrecognized
	Message string
	Err     error // transport, auth or context cause; nil when a response was read
}

// FetchAPI performs a request with the cold-start retry profile and
// normalizes the body under key. Caller options apply after the profile.
func (c *Client) FetchAPI(ctx context.Context, method, url string, body []byte, key string, opts ...Option) Result {
	opts = append([]Option{c.coldStartOption()}, opts...)
	resp, err := c.Do(ctx, method, url, body, opts...)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoToken), errors.Is(err, ErrUnauthorized):
			return Result{Message: MsgSessionExpired, Err: err}
		case ctx.Err() != nil:
			return Result{Message: MsgRequestFailed, Err: err}
		default:
			c.logger.Warn().Err(err).Str("url", url).Msg("api: backend unreachable")
			return Result{Message: MsgServiceStarting, Err: err}
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Result{Status: resp.StatusCode, Message: MsgBadResponse, Err: err}
	}
	return processResponse(resp.StatusCode, raw, key)
}

func processResponse(status int, raw []byte, key string) Result {
	if status >= 500 {
		return Result{Status: status, Message: ErrorMessage(raw, MsgServiceStarting)}
	}
	if status < 200 || status >= 300 {
		return Result{Status: status, Message: ErrorMessage(raw, MsgRequestFailed)}
	}
	if len(raw) == 0 || status == http.StatusNoContent {
		return Result{Success: true, Status: status, Message: MsgCompleted}
	}
	doc, err := decode(raw)
	if err != nil {
		return Result{Status: status, Message: MsgBadResponse}
	}
	if m, ok := asObject(doc); ok && m["success"] == false {
		return Result{Status: status, Message: ErrorMessage(raw, MsgRequestFailed)}
	}
	data, _, ok := Normalize(raw, key)
	if !ok {
		log.Warn().Str("key", key).Int("bytes", len(raw)).Msg("api: unrecognized response shape")
	}
	return Result{Success: true, Status: status, Data: data, Message: ErrorMessage(raw, MsgCompleted)}
}
