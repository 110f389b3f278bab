package bot

import (
	"context"
	"strings"

	"github.com/mmynk/splitbot/internal/intake"
	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/platform"
	"github.com/mmynk/splitbot/internal/render"
	"github.com/mmynk/splitbot/internal/wizard"
)

// PrivateChatText answers members who talk to the bot outside a group.
const PrivateChatText = "Add me to a group chat to start tracking shared expenses."

// command returns the bot command in text ("/menu@splitbot" -> "menu"), or "".
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	name, _, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name)
}

func (b *Bot) onText(ctx context.Context, t *turn) error {
	text := strings.TrimSpace(t.Text)

	// Private chats have positive ids; the ledger only exists inside groups.
	if t.ChatID > 0 {
		if command(text) != "" {
			_, err := b.send(ctx, t.ChatID, render.Rendered{Text: PrivateChatText})
			return err
		}
		return nil
	}

	switch command(text) {
	case "start", "menu":
		return b.sendMenu(ctx, t)
	case "expense":
		return b.startForm(ctx, t, models.KindExpense)
	case "settle":
		return b.startForm(ctx, t, models.KindSettlement)
	case "help":
		_, err := b.send(ctx, t.ChatID, b.render.Help())
		return err
	}

	res, err := b.wizard.HandleText(ctx, t.target(""), text)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	// The typed value lives on in the form; the member's message is clutter.
	b.deleteMessage(ctx, t.ChatID, t.MessageID)
	return b.apply(ctx, t, res)
}

func (b *Bot) startForm(ctx context.Context, t *turn, kind models.DraftKind) error {
	res, err := b.wizard.Start(ctx, wizard.StartInput{ChatID: t.ChatID, UserID: t.UserID, Kind: kind})
	if err != nil {
		return err
	}
	if t.Kind == platform.EventText && res.Event.Kind == wizard.EventStarted {
		b.deleteMessage(ctx, t.ChatID, t.MessageID)
	}
	return b.apply(ctx, t, res)
}

func (b *Bot) onAttachment(ctx context.Context, t *turn) error {
	if t.ChatID > 0 {
		return nil
	}
	return b.intake.Submit(ctx, intake.Attachment{
		ChatID:       t.ChatID,
		UserID:       t.UserID,
		MessageID:    t.MessageID,
		FileID:       t.FileID,
		MIME:         t.MIME,
		Size:         t.Size,
		MediaGroupID: t.MediaGroupID,
		Caption:      t.Text,
	})
}
