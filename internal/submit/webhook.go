package submit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/fuua/internal/order"
	"github.com/noah-isme/fuua/internal/resilience"
)

// Webhook POSTs the ticket as signed JSON to a kitchen endpoint.
type Webhook struct {
	URL       string
	Secret    string
	Client    resilience.HTTPClient
	UserAgent string
	Logger    *zerolog.Logger
}

// Submit implements order.Submitter. Non-2xx responses are errors.
func (wh Webhook) Submit(ctx context.Context, wraps []order.ConfirmedWrap) error {
	if wh.URL == "" {
		return errors.New("submit: webhook url not configured")
	}
	t := TicketFor(ctx, wraps)
	ctx, span := otel.Tracer("submit.Webhook").Start(ctx, "Webhook.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("fuua.ticket_id", t.ID))

	body, err := t.Encode()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("submit: encode ticket: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return err
	}
	ts := time.Now().Unix()
	ua := wh.UserAgent
	if ua == "" {
		ua = "fuua-orders/1.0"
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", ua)
	req.Header.Set("X-Ticket-ID", t.ID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Idempotency-Key", t.ID)
	if wh.Secret != "" {
		req.Header.Set("X-Signature", ComputeSignature(wh.Secret, ts, t.ID, body))
	}

	resp, err := wh.Client.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook delivery failed")
		return fmt.Errorf("submit: webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, resp.Status)
		return &resilience.StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	logger := loggerFor(ctx, wh.Logger, "submit.webhook")
	logger.Info().Str("ticket_id", t.ID).Int("status", resp.StatusCode).Msg("order delivered")
	return nil
}

// ComputeSignature is HMAC-SHA256 over "<ts>.<ticketID>.<body>", hex encoded.
func ComputeSignature(secret string, ts int64, ticketID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(ticketID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// NewHTTPClient returns an instrumented client for kitchen deliveries.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
