package telegram

import (
	"context"
	"log/slog"

	"medal-notifier/pkg/notifier"
)

// MockAnnouncer logs announcements instead of sending them.
// Used in local development when no bot token is configured.
type MockAnnouncer struct {
	logger *slog.Logger
}

// NewMockAnnouncer creates a new mock announcer.
func NewMockAnnouncer(logger *slog.Logger) *MockAnnouncer {
	return &MockAnnouncer{logger: logger}
}

// Announce logs the announcement.
func (m *MockAnnouncer) Announce(_ context.Context, destination string, clip *notifier.Clip, author string) error {
	m.logger.Info("MOCK ANNOUNCEMENT",
		"destination", destination,
		"content_id", clip.ContentID,
		"author", author,
		"url", clip.URL)
	return nil
}

// Ready always reports ready.
func (m *MockAnnouncer) Ready(context.Context) error { return nil }
