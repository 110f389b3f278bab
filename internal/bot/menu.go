package bot

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/render"
	"github.com/mmynk/splitbot/internal/wizard"
)

func (b *Bot) mainMenu(ctx context.Context, chatID int64) (render.Rendered, *models.Group, error) {
	group, title, err := b.groupTitle(ctx, chatID)
	if err != nil {
		return render.Rendered{}, nil, err
	}
	drafts, err := b.store.ListDrafts(ctx, chatID)
	if err != nil {
		return render.Rendered{}, nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	return b.render.Menu(title, len(drafts)), group, nil
}

// sendMenu posts a fresh main menu and removes the previous one.
func (b *Bot) sendMenu(ctx context.Context, t *turn) error {
	out, group, err := b.mainMenu(ctx, t.ChatID)
	if err != nil {
		return err
	}
	b.deleteMessage(ctx, t.ChatID, group.MenuMessageID)
	b.deleteMessage(ctx, t.ChatID, t.MessageID)

	id, err := b.send(ctx, t.ChatID, out)
	if err != nil {
		return err
	}
	if err := b.store.SetMenuMessage(ctx, t.ChatID, id); err != nil {
		return fmt.Errorf("failed to record menu message: %w", err)
	}
	return nil
}

// onMenu navigates the menu in place.
func (b *Bot) onMenu(ctx context.Context, t *turn, cb render.Callback) error {
	_, title, err := b.groupTitle(ctx, t.ChatID)
	if err != nil {
		return err
	}

	var out render.Rendered
	switch cb.Action {
	case render.MenuMain:
		if out, _, err = b.mainMenu(ctx, t.ChatID); err != nil {
			return err
		}

	case render.MenuExpense:
		return b.startFromMenu(ctx, t, models.KindExpense)

	case render.MenuSettle:
		return b.startFromMenu(ctx, t, models.KindSettlement)

	case render.MenuBalances:
		out = b.render.BalancesMenu(title)

	case render.MenuReports:
		out = b.render.ReportsMenu(title)

	case render.MenuMine:
		summary, err := b.ledger.UserSummary(ctx, t.ChatID, t.UserID)
		if err != nil {
			return err
		}
		ids := []int64{t.UserID}
		for _, e := range summary.Debts {
			ids = append(ids, e.From, e.To)
		}
		users, err := b.users(ctx, ids...)
		if err != nil {
			return err
		}
		out = b.render.MyBalance(t.UserID, summary, users)

	case render.MenuAll:
		_, plan, edges, err := b.ledger.GroupBalances(ctx, t.ChatID)
		if err != nil {
			return err
		}
		var ids []int64
		for _, e := range edges {
			ids = append(ids, e.From, e.To)
		}
		users, err := b.users(ctx, ids...)
		if err != nil {
			return err
		}
		out = b.render.AllBalances(title, edges, plan, users)

	case render.MenuHistory:
		offset, _ := strconv.Atoi(cb.ID)
		offset = max(offset, 0)
		entries, err := b.store.ListHistory(ctx, t.ChatID, render.HistoryPageSize, offset)
		if err != nil {
			return fmt.Errorf("failed to list history: %w", err)
		}
		var ids []int64
		for _, e := range entries {
			ids = append(ids, e.FromUserID)
			if e.ToUserID != 0 {
				ids = append(ids, e.ToUserID)
			}
		}
		users, err := b.users(ctx, ids...)
		if err != nil {
			return err
		}
		out = b.render.History(title, entries, users, offset)

	case render.MenuCategories:
		totals, err := b.store.SpendingByCategory(ctx, t.ChatID)
		if err != nil {
			return fmt.Errorf("failed to load spending: %w", err)
		}
		out = b.render.SpendingByCategory(title, totals)

	case render.MenuHelp:
		out = b.render.Help()

	case render.MenuClose:
		b.deleteMessage(ctx, t.ChatID, t.MessageID)
		return nil

	case render.MenuClear:
		debtor, err := parseID(cb.ID)
		if err != nil {
			return err
		}
		res, err := b.wizard.StartClearDebt(ctx, t.ChatID, t.UserID, debtor)
		if err != nil {
			return err
		}
		return b.apply(ctx, t, res)

	default:
		b.logger.Warn("Unknown menu action", "action", cb.Action)
		return nil
	}
	return b.refresh(ctx, t, 0, out)
}

// startFromMenu opens a form; the menu makes way for it.
func (b *Bot) startFromMenu(ctx context.Context, t *turn, kind models.DraftKind) error {
	res, err := b.wizard.Start(ctx, wizard.StartInput{ChatID: t.ChatID, UserID: t.UserID, Kind: kind})
	if err != nil {
		return err
	}
	if res.Event.Kind == wizard.EventStarted {
		b.deleteMessage(ctx, t.ChatID, t.MessageID)
	}
	return b.apply(ctx, t, res)
}
