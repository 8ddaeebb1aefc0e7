package delivery

import (
	"context"
	"log/slog"
)

// LogSender writes deliveries to the log instead of a provider. Used in
// development and as the default when no provider endpoint is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("module", "delivery")}
}

func (s *LogSender) Send(ctx context.Context, req Request) error {
	s.logger.InfoContext(ctx, "Message delivered (log sender)",
		"dedup_key", req.DedupKey,
		"entity_id", req.EntityID,
		"template_id", req.TemplateID,
		"channel", req.Channel,
	)

	return nil
}
