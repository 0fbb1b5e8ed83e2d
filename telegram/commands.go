package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"medal-notifier/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const helpText = `Medal clip notifier commands:
/medal track <creatorID> - track a Medal creator in this chat
/medal untrack <creatorID> - stop tracking a creator
/medal channel [chatID] - set the announcement channel (defaults to this chat)
/medal apikey <key> - set the Medal API key (shared by all chats)
/medal list - show tracked creators
/medal test - run a poll pass now
/medal help - this message`

// StartCommands begins handling admin commands via long polling. It returns
// after spawning the update loop; the loop exits when ctx is cancelled.
func (b *Bot) StartCommands(ctx context.Context, poller Triggerer) {
	b.poller = poller

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.api.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				b.handleUpdate(ctx, update)
			}
		}
	}()

	b.logger.Info("Telegram command handler started", "bot", b.api.Self.UserName)
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() || msg.Command() != "medal" {
		return
	}

	if !b.isAuthorized(msg) {
		b.reply(msg.Chat.ID, "Only chat administrators can configure clip tracking.")
		return
	}

	args := strings.Fields(msg.CommandArguments())
	sub := ""
	if len(args) > 0 {
		sub = args[0]
	}

	tenantID := strconv.FormatInt(msg.Chat.ID, 10)
	b.logger.Info("Admin command received",
		"tenant_id", tenantID,
		"command", sub,
		"from", msg.From.ID)

	switch sub {
	case "track":
		b.handleTrack(ctx, msg, tenantID, args[1:])
	case "untrack":
		b.handleUntrack(ctx, msg, tenantID, args[1:])
	case "channel":
		b.handleChannel(ctx, msg, tenantID, args[1:])
	case "apikey":
		b.handleAPIKey(ctx, msg, args[1:])
	case "list":
		b.handleList(ctx, msg, tenantID)
	case "test":
		b.handleTest(ctx, msg)
	default:
		b.reply(msg.Chat.ID, helpText)
	}
}

// isAuthorized restricts group-chat commands to chat administrators.
// Private chats are always allowed: the user owns that tenant.
func (b *Bot) isAuthorized(msg *tgbotapi.Message) bool {
	if msg.Chat.IsPrivate() {
		return true
	}
	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: msg.Chat.ID,
			UserID: msg.From.ID,
		},
	})
	if err != nil {
		b.logger.Warn("Chat member lookup failed", "chat_id", msg.Chat.ID, "error", err)
		return false
	}
	return member.IsCreator() || member.IsAdministrator()
}

func (b *Bot) handleTrack(ctx context.Context, msg *tgbotapi.Message, tenantID string, args []string) {
	if len(args) != 1 {
		b.reply(msg.Chat.ID, "Usage: /medal track <creatorID>")
		return
	}
	creatorID := args[0]

	switch err := b.store.AddCreator(ctx, tenantID, creatorID); {
	case errors.Is(err, storage.ErrAlreadyTracked):
		b.reply(msg.Chat.ID, fmt.Sprintf("Creator %s is already tracked here.", creatorID))
	case err != nil:
		b.logger.Error("Track command failed", "tenant_id", tenantID, "creator_id", creatorID, "error", err)
		b.reply(msg.Chat.ID, "Failed to track creator, try again later.")
	default:
		b.reply(msg.Chat.ID, fmt.Sprintf("✅ Tracking creator %s. New clips will be announced.", creatorID))
	}
}

func (b *Bot) handleUntrack(ctx context.Context, msg *tgbotapi.Message, tenantID string, args []string) {
	if len(args) != 1 {
		b.reply(msg.Chat.ID, "Usage: /medal untrack <creatorID>")
		return
	}
	creatorID := args[0]

	switch err := b.store.RemoveCreator(ctx, tenantID, creatorID); {
	case errors.Is(err, storage.ErrNotTracked):
		b.reply(msg.Chat.ID, fmt.Sprintf("Creator %s is not tracked here.", creatorID))
	case err != nil:
		b.logger.Error("Untrack command failed", "tenant_id", tenantID, "creator_id", creatorID, "error", err)
		b.reply(msg.Chat.ID, "Failed to untrack creator, try again later.")
	default:
		b.reply(msg.Chat.ID, fmt.Sprintf("✅ Stopped tracking creator %s.", creatorID))
	}
}

func (b *Bot) handleChannel(ctx context.Context, msg *tgbotapi.Message, tenantID string, args []string) {
	destination := strconv.FormatInt(msg.Chat.ID, 10)
	if len(args) == 1 {
		destination = args[0]
	}
	if !strings.HasPrefix(destination, "@") {
		if _, err := strconv.ParseInt(destination, 10, 64); err != nil {
			b.reply(msg.Chat.ID, "Channel must be a numeric chat ID or an @username.")
			return
		}
	}

	if err := b.store.SetDestination(ctx, tenantID, destination); err != nil {
		b.logger.Error("Channel command failed", "tenant_id", tenantID, "error", err)
		b.reply(msg.Chat.ID, "Failed to set the announcement channel, try again later.")
		return
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("✅ Clips will be announced to %s.", destination))
}

func (b *Bot) handleAPIKey(ctx context.Context, msg *tgbotapi.Message, args []string) {
	if len(args) != 1 {
		b.reply(msg.Chat.ID, "Usage: /medal apikey <key>")
		return
	}

	if err := b.store.SetCredential(ctx, args[0]); err != nil {
		b.logger.Error("API key command failed", "error", err)
		b.reply(msg.Chat.ID, "Failed to save the API key, try again later.")
		return
	}
	b.reply(msg.Chat.ID, "✅ API key saved. Polling is active for all chats.")
}

func (b *Bot) handleList(ctx context.Context, msg *tgbotapi.Message, tenantID string) {
	snap, err := b.store.Snapshot(ctx, tenantID)
	if err != nil {
		if storage.IsNotFound(err) {
			b.reply(msg.Chat.ID, "Nothing is tracked in this chat yet. Use /medal track <creatorID>.")
			return
		}
		b.logger.Error("List command failed", "tenant_id", tenantID, "error", err)
		b.reply(msg.Chat.ID, "Failed to load tracked creators, try again later.")
		return
	}
	if len(snap.Creators) == 0 {
		b.reply(msg.Chat.ID, "Nothing is tracked in this chat yet. Use /medal track <creatorID>.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Tracked creators:\n")
	for creatorID, lastSeen := range snap.Creators {
		if lastSeen == "" {
			lastSeen = "(nothing announced yet)"
		}
		fmt.Fprintf(&sb, "• %s — last clip: %s\n", creatorID, lastSeen)
	}
	if snap.Tenant.DestinationChannel != "" {
		fmt.Fprintf(&sb, "Announcing to: %s", snap.Tenant.DestinationChannel)
	} else {
		sb.WriteString("No announcement channel set. Use /medal channel.")
	}
	b.reply(msg.Chat.ID, sb.String())
}

func (b *Bot) handleTest(ctx context.Context, msg *tgbotapi.Message) {
	if err := b.poller.Trigger(ctx); err != nil {
		b.logger.Error("Manual poll pass failed", "error", err)
		b.reply(msg.Chat.ID, "❌ Poll pass failed, check the logs.")
		return
	}
	b.reply(msg.Chat.ID, "✅ Poll pass completed.")
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("Failed to send reply", "chat_id", chatID, "error", err)
	}
}
