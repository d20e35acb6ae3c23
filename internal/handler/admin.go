package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/disgoorg/snowflake/v2"

	"discord-episode-bot/internal/command"
	"discord-episode-bot/internal/gateway"
	"discord-episode-bot/internal/model"
	"discord-episode-bot/internal/store"
)

// Auditor receives ledger entries for manual point adjustments.
type Auditor interface {
	Record(ctx context.Context, userID snowflake.ID, amount int64, entryType string, description string)
}

// AdminHandler handles the manual point adjustment command.
type AdminHandler struct {
	users   store.UserStore
	audit   Auditor
	replies gateway.ReplySink
}

// NewAdminHandler creates an AdminHandler. audit may be nil.
func NewAdminHandler(users store.UserStore, audit Auditor, replies gateway.ReplySink) *AdminHandler {
	return &AdminHandler{users: users, audit: audit, replies: replies}
}

// HandlePoints adjusts the invoker's current points: add, sub or set.
// Lifetime points are untouched, so adjustments never move ranks.
func (h *AdminHandler) HandlePoints(ctx context.Context, inv *command.Invocation) error {
	op, amount := inv.Args[0].Str(), inv.Args[1].Int()
	userID := inv.Msg.AuthorID

	if _, _, err := h.users.GetOrCreate(ctx, userID, inv.Msg.AuthorName); err != nil {
		return err
	}

	var delta int64
	switch op {
	case "add":
		delta = amount
		if err := h.users.AdjustCurrentPoints(ctx, userID, amount); err != nil {
			return err
		}
	case "sub":
		delta = -amount
		if err := h.users.AdjustCurrentPoints(ctx, userID, -amount); err != nil {
			return err
		}
	case "set":
		if err := h.users.SetCurrentPoints(ctx, userID, amount); err != nil {
			return err
		}
	default:
		return h.replies.Reply(ctx, inv.Msg.ChannelID,
			fmt.Sprintf("Unknown operation %q. Use add, sub or set.", op))
	}

	if h.audit != nil {
		h.audit.Record(ctx, userID, delta, model.LedgerAdminAdjust,
			fmt.Sprintf("points %s %d", op, amount))
	}

	rec, err := h.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil
		}
		return err
	}
	return h.replies.Reply(ctx, inv.Msg.ChannelID,
		fmt.Sprintf("Current points: %d.", rec.CurrentPoints))
}
