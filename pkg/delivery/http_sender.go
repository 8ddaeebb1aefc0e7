package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

// HTTPSender posts delivery requests to a provider endpoint. The dedup key
// travels both in the payload and in the Idempotency-Key header so providers
// can dedup at either layer.
type HTTPSender struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

func NewHTTPSender(endpoint, apiKey string, logger *slog.Logger) *HTTPSender {
	return &HTTPSender{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: defaultTimeout},
		logger:   logger.With("module", "delivery"),
	}
}

func (s *HTTPSender) Send(ctx context.Context, req Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return NewFatalError(fmt.Errorf("failed to marshal delivery request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return NewFatalError(fmt.Errorf("failed to create delivery request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.DedupKey)

	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return NewTransientError(fmt.Errorf("delivery request failed: %w", err))
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.logger.InfoContext(ctx, "Message delivered",
			"dedup_key", req.DedupKey, "channel", req.Channel, "status", resp.StatusCode)

		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return NewTransientError(fmt.Errorf("provider returned status %d: %s", resp.StatusCode, readBody(resp.Body)))
	default:
		return NewFatalError(fmt.Errorf("provider rejected delivery with status %d: %s", resp.StatusCode, readBody(resp.Body)))
	}
}

func readBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 1024))
	if err != nil {
		return ""
	}

	return string(body)
}
