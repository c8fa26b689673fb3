package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// WebhookTransport POSTs every frame as JSON to a fixed URL.
type WebhookTransport struct {
	url    string
	client *http.Client
}

// NewWebhookTransport returns a transport posting to url. A nil client gets a
// default one with a 10s timeout.
func NewWebhookTransport(url string, client *http.Client) *WebhookTransport {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookTransport{url: url, client: client}
}

func (w *WebhookTransport) Name() string { return "webhook" }

// Send posts the frame; any non-2xx response is an error.
func (w *WebhookTransport) Send(ctx context.Context, frame Frame) error {
	body, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Name", frame.Event)
	req.Header.Set("X-Event-Channel", frame.Channel)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", w.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: unexpected status %d", w.url, resp.StatusCode)
	}
	return nil
}

// LogTransport writes every frame to the logger. Used by the CLI when no
// other transport is configured.
type LogTransport struct {
	logger zerolog.Logger
}

// NewLogTransport returns a LogTransport.
func NewLogTransport(logger zerolog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (l *LogTransport) Name() string { return "log" }

func (l *LogTransport) Send(_ context.Context, frame Frame) error {
	data, err := json.Marshal(frame.Data)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	l.logger.Info().
		Str("channel", frame.Channel).
		Str("event", frame.Event).
		Str("record_id", frame.Data.RecordID()).
		Str("action", frame.Data.Action).
		RawJSON("data", data).
		Msg("change event")
	return nil
}

// MultiTransport sends every frame to each of its transports.
type MultiTransport []Transport

func (m MultiTransport) Name() string {
	name := "multi("
	for i, t := range m {
		if i > 0 {
			name += ","
		}
		name += t.Name()
	}
	return name + ")"
}

// Send tries every transport and joins their errors.
func (m MultiTransport) Send(ctx context.Context, frame Frame) error {
	var errs []error
	for _, t := range m {
		if err := t.Send(ctx, frame); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}
