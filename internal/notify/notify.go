// Package notify delivers rendered notifications to chat recipients.
package notify

import (
	"context"
	"log/slog"
)

// Sink delivers to a single recipient. SendPhoto is the rich form; SendText
// is the plain fallback every sink must support.
type Sink interface {
	SendPhoto(ctx context.Context, recipientID, caption, media string) error
	SendText(ctx context.Context, recipientID, text string) error
}

// LogSink writes notifications to the log instead of a chat. Used when no
// bot token is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) SendPhoto(ctx context.Context, recipientID, caption, media string) error {
	s.logger.Info("notification", "recipient", recipientID, "media", media, "text", caption)
	return nil
}

func (s *LogSink) SendText(ctx context.Context, recipientID, text string) error {
	s.logger.Info("notification", "recipient", recipientID, "text", text)
	return nil
}
