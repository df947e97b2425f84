// Package remote is the HTTP transport to the bin service backend.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"binsync/internal/apperr"
	"binsync/internal/config"
	"binsync/internal/models"
	"binsync/internal/syncer"

	"golang.org/x/time/rate"
)

const (
	bookingsPath = "/api/v1/bookings"
	feedbackPath = "/api/v1/feedback"
)

var kindPaths = map[models.Kind]string{
	models.KindBooking:  bookingsPath,
	models.KindFeedback: feedbackPath,
}

// Client calls the backend with an API key and a client-side rate limit.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(cfg config.RemoteConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = models.DefaultOperationTimeout
	}

	limit := rate.Inf
	burst := cfg.RateLimit.Burst
	if cfg.RateLimit.RPS > 0 {
		limit = rate.Limit(cfg.RateLimit.RPS)
		if burst <= 0 {
			burst = 1
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// Fetch GETs path and decodes the JSON body into out.
func (c *Client) Fetch(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return apperr.System("build request", err)
	}
	c.addHeaders(req)
	return c.do(req, out)
}

// DeliverBooking sends a queued booking. The operation id doubles as the
// idempotency key so a redelivery after a lost response is harmless.
func (c *Client) DeliverBooking(ctx context.Context, op models.PendingOperation) error {
	var b models.Booking
	if err := op.DecodePayload(&b); err != nil {
		return apperr.Validation(fmt.Sprintf("booking %s: bad payload: %v", op.ID, err))
	}
	return c.post(ctx, bookingsPath, op.ID, b)
}

func (c *Client) DeliverFeedback(ctx context.Context, op models.PendingOperation) error {
	var f models.Feedback
	if err := op.DecodePayload(&f); err != nil {
		return apperr.Validation(fmt.Sprintf("feedback %s: bad payload: %v", op.ID, err))
	}
	return c.post(ctx, feedbackPath, op.ID, f)
}

// Send is the direct online path for a mutation of kind.
func (c *Client) Send(ctx context.Context, kind models.Kind, payload any) error {
	path, ok := kindPaths[kind]
	if !ok {
		return apperr.Validation(fmt.Sprintf("unsupported operation kind %q", kind))
	}
	return c.post(ctx, path, "", payload)
}

// Deliveries returns the delivery functions per kind, in drain order.
func (c *Client) Deliveries() []Delivery {
	return []Delivery{
		{Kind: models.KindBooking, Fn: c.DeliverBooking},
		{Kind: models.KindFeedback, Fn: c.DeliverFeedback},
	}
}

// Delivery binds a kind to its delivery function.
type Delivery struct {
	Kind models.Kind
	Fn   syncer.DeliveryFunc
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return apperr.Validation(fmt.Sprintf("encode request: %v", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return apperr.System("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	c.addHeaders(req)
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return apperr.Network("rate limiter", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return apperr.Wrap(apperr.KindTimeout, "request timed out", err)
		}
		return apperr.Network(fmt.Sprintf("%s %s", req.Method, req.URL.Path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return classify(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.System("decode response", err)
	}
	return nil
}

// classify maps an unsuccessful response onto an error kind. Client-side
// rejections are permanent, everything else may pass on a later attempt.
func classify(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	msg := extractMessage(body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	// только 5xx и 429 имеет смысл повторять
	var e *apperr.Error
	switch code := resp.StatusCode; {
	case code >= http.StatusInternalServerError, code == http.StatusTooManyRequests:
		e = apperr.Network(msg, nil)
	case code == http.StatusConflict:
		e = apperr.BusinessRule(msg)
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		e = apperr.System(msg, nil)
	case code >= http.StatusBadRequest:
		e = apperr.Validation(msg)
	default:
		e = apperr.System(msg, nil)
	}
	return e.WithDetail("status", resp.StatusCode)
}

func extractMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(body))
}
