// Package telegram delivers clip announcements and hosts the admin command surface.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"medal-notifier/pkg/notifier"

	"github.com/codeGROOVE-dev/retry-go"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Bot sends announcements and handles admin commands over one Telegram bot.
type Bot struct {
	api    *tgbotapi.BotAPI
	store  Store
	poller Triggerer
	logger *slog.Logger
}

// Store is the slice of the tracking store the command surface needs.
type Store interface {
	AddCreator(ctx context.Context, tenantID, creatorID string) error
	RemoveCreator(ctx context.Context, tenantID, creatorID string) error
	SetDestination(ctx context.Context, tenantID, channelID string) error
	SetCredential(ctx context.Context, apiKey string) error
	Snapshot(ctx context.Context, tenantID string) (*notifier.TenantSnapshot, error)
}

// Triggerer runs an on-demand poll pass.
type Triggerer interface {
	Trigger(ctx context.Context) error
}

// New creates the bot from an API token. The poller is supplied later via
// StartCommands: the bot is also the announcer the poll monitor is built on.
func New(token string, store Store, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Bot{
		api:    api,
		store:  store,
		logger: logger,
	}, nil
}

// Ready reports whether the bot can reach the Telegram API. The poll
// scheduler gates its first pass on this.
func (b *Bot) Ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.api.GetMe(); err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	return nil
}

// Announce sends one clip announcement to the destination channel.
//
// An unresolvable destination (deleted channel, bot removed) fails exactly like
// a transport fault: the caller keeps the baseline unchanged and the same clip
// is retried on the next pass.
func (b *Bot) Announce(ctx context.Context, destination string, clip *notifier.Clip, author string) error {
	msg, err := newMessage(destination, FormatAnnouncement(clip, author))
	if err != nil {
		return err
	}

	err = retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return retry.Unrecoverable(err)
			}

			startTime := time.Now()
			_, sendErr := b.api.Send(msg)
			duration := time.Since(startTime)

			if sendErr != nil {
				b.logger.Warn("Telegram send failed, will retry",
					"destination", destination,
					"content_id", clip.ContentID,
					"duration_ms", duration.Milliseconds(),
					"error", sendErr)
				return sendErr
			}

			b.logger.Info("Announcement delivered",
				"destination", destination,
				"content_id", clip.ContentID,
				"duration_ms", duration.Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
	)
	if err != nil {
		return fmt.Errorf("after retries: %w", err)
	}
	return nil
}

// newMessage builds a message for a numeric chat ID or an @channel username.
func newMessage(destination, text string) (tgbotapi.MessageConfig, error) {
	if strings.HasPrefix(destination, "@") {
		return tgbotapi.NewMessageToChannel(destination, text), nil
	}
	chatID, err := strconv.ParseInt(destination, 10, 64)
	if err != nil {
		return tgbotapi.MessageConfig{}, fmt.Errorf("unresolvable destination %q: %w", destination, err)
	}
	return tgbotapi.NewMessage(chatID, text), nil
}
