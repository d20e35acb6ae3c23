package handler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"discord-episode-bot/internal/command"
	"discord-episode-bot/internal/crate"
	"discord-episode-bot/internal/gateway"
	"discord-episode-bot/internal/media"
	"discord-episode-bot/internal/model"
	"discord-episode-bot/internal/pkg/lock"
	"discord-episode-bot/internal/request"
	"discord-episode-bot/internal/store"
)

// ErrNameTaken signals a rename collision with an existing item.
var ErrNameTaken = errors.New("an item with that name already exists")

// LedgerReader provides a user's point history, newest first.
// Satisfied by repository.LedgerRepository.
type LedgerReader interface {
	History(ctx context.Context, userID snowflake.ID, limit int) ([]*model.LedgerEntry, error)
}

// EconomyHandler handles profile, inventory and crate commands.
type EconomyHandler struct {
	users   store.UserStore
	locks   *lock.UserLock
	crates  *crate.Manager
	studio  *media.Studio
	replies gateway.ReplySink
	ledger  LedgerReader
}

// NewEconomyHandler creates an EconomyHandler. ledger may be nil, which
// disables the history command's data source.
func NewEconomyHandler(users store.UserStore, locks *lock.UserLock, crates *crate.Manager, studio *media.Studio, replies gateway.ReplySink, ledger LedgerReader) *EconomyHandler {
	return &EconomyHandler{
		users:   users,
		locks:   locks,
		crates:  crates,
		studio:  studio,
		replies: replies,
		ledger:  ledger,
	}
}

// HandleInfo shows the invoker's profile and stats.
func (h *EconomyHandler) HandleInfo(ctx context.Context, inv *command.Invocation) error {
	rec, _, err := h.users.GetOrCreate(ctx, inv.Msg.AuthorID, inv.Msg.AuthorName)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", rec.Username)
	fmt.Fprintf(&b, "First started: %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Current Points: %d\n", rec.CurrentPoints)
	fmt.Fprintf(&b, "Total Points: %d\n", rec.TotalPoints)
	fmt.Fprintf(&b, "Crates Opened: %d\n", rec.CratesOpened)
	fmt.Fprintf(&b, "Rank: %s\n", rec.Rank())
	fmt.Fprintf(&b, "Episodes watched: %d", rec.EpisodesWatched)

	return h.replies.Reply(ctx, inv.Msg.ChannelID, b.String())
}

// HandleOpenCrate purchases one crate for the invoker.
func (h *EconomyHandler) HandleOpenCrate(ctx context.Context, inv *command.Invocation) error {
	return h.crates.Open(ctx, inv.Msg.AuthorID, inv.Msg.ChannelID)
}

// HandleList lists the invoker's items of one kind.
func (h *EconomyHandler) HandleList(ctx context.Context, inv *command.Invocation) error {
	kind, ok := model.ParseItemKind(inv.Args[0].Str())
	if !ok {
		return h.replies.Reply(ctx, inv.Msg.ChannelID,
			fmt.Sprintf("Unknown item kind %q. Use frame or voiceline.", inv.Args[0].Str()))
	}

	rec, _, err := h.users.GetOrCreate(ctx, inv.Msg.AuthorID, inv.Msg.AuthorName)
	if err != nil {
		return err
	}

	items := rec.ItemsOfKind(kind)
	if len(items) == 0 {
		return h.replies.Reply(ctx, inv.Msg.ChannelID,
			fmt.Sprintf("You don't have any %ss yet. Try opening some crates!", kind))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your %ss:\n", kind)
	for _, item := range items {
		fmt.Fprintf(&b, "%s (from %s)\n", item.Name, item.FromEpisode)
	}
	return h.replies.Reply(ctx, inv.Msg.ChannelID, strings.TrimSuffix(b.String(), "\n"))
}

// HandleGallery sends the invoker one of their unlocked frames.
func (h *EconomyHandler) HandleGallery(ctx context.Context, inv *command.Invocation) error {
	name := inv.Args[0].Str()

	rec, _, err := h.users.GetOrCreate(ctx, inv.Msg.AuthorID, inv.Msg.AuthorName)
	if err != nil {
		return err
	}

	i := rec.FindItem(model.KindFrame, name)
	if i < 0 {
		return h.replies.Reply(ctx, inv.Msg.ChannelID,
			"You don't have that frame. Try opening some crates!")
	}
	item := rec.Inventory[i]

	path := h.studio.FramePath(inv.Msg.AuthorID, item.Index)
	f, err := os.Open(path)
	if err != nil {
		return h.replies.Reply(ctx, inv.Msg.ChannelID, "That frame's file has gone missing.")
	}
	defer f.Close()

	acquired := time.Unix(item.AcquiredAt, 0).Format("2006-01-02 15:04:05")
	if err := h.replies.Reply(ctx, inv.Msg.ChannelID, fmt.Sprintf("Opened %s:", acquired)); err != nil {
		return err
	}
	return h.replies.SendFile(ctx, inv.Msg.ChannelID, fmt.Sprintf("%d.png", item.Index), f)
}

// HandleRename renames one inventory item. The new name must be free
// within the kind and must not be a bare number: numeric names belong
// to the per-kind index sequence, so future crate deliveries stay
// collision-free. The item's index never changes.
func (h *EconomyHandler) HandleRename(ctx context.Context, inv *command.Invocation) error {
	kindArg, from, to := inv.Args[0].Str(), inv.Args[1].Str(), inv.Args[2].Str()

	kind, ok := model.ParseItemKind(kindArg)
	if !ok {
		return h.replies.Reply(ctx, inv.Msg.ChannelID,
			fmt.Sprintf("Unknown item kind %q. Use frame or voiceline.", kindArg))
	}
	if _, err := strconv.ParseInt(to, 10, 64); err == nil {
		return h.replies.Reply(ctx, inv.Msg.ChannelID,
			"Plain numbers are reserved for freshly opened items. Pick a name with a letter in it.")
	}

	err := h.locks.WithLock(inv.Msg.AuthorID, func() error {
		rec, err := h.users.Get(ctx, inv.Msg.AuthorID)
		if err != nil {
			return err
		}
		i := rec.FindItem(kind, from)
		if i < 0 {
			return request.ErrItemNotFound
		}
		if rec.HasItem(kind, to) {
			return ErrNameTaken
		}
		rec.Inventory[i].Name = to
		return h.users.Replace(ctx, rec)
	})

	switch {
	case errors.Is(err, request.ErrItemNotFound), errors.Is(err, store.ErrUserNotFound):
		return h.replies.Reply(ctx, inv.Msg.ChannelID,
			fmt.Sprintf("You don't own a %s named %q.", kind, from))
	case errors.Is(err, ErrNameTaken):
		return h.replies.Reply(ctx, inv.Msg.ChannelID,
			fmt.Sprintf("You already have a %s named %q.", kind, to))
	case err != nil:
		return err
	}

	return h.replies.Reply(ctx, inv.Msg.ChannelID,
		fmt.Sprintf("Renamed %s %q to %q.", kind, from, to))
}

// historyLimit caps how many ledger entries the history command shows.
const historyLimit = 10

// HandleHistory shows the invoker's most recent point changes.
func (h *EconomyHandler) HandleHistory(ctx context.Context, inv *command.Invocation) error {
	if h.ledger == nil {
		return h.replies.Reply(ctx, inv.Msg.ChannelID, "Point history is not available.")
	}

	entries, err := h.ledger.History(ctx, inv.Msg.AuthorID, historyLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return h.replies.Reply(ctx, inv.Msg.ChannelID, "No point history yet. Go listen to some episodes!")
	}

	var b strings.Builder
	b.WriteString("Your last point changes:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%+d %s", e.Amount, e.Type)
		if e.Description != nil {
			fmt.Fprintf(&b, " (%s)", *e.Description)
		}
		fmt.Fprintf(&b, " on %s\n", e.CreatedAt.Format("2006-01-02 15:04"))
	}
	return h.replies.Reply(ctx, inv.Msg.ChannelID, strings.TrimSuffix(b.String(), "\n"))
}
