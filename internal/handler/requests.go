package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/disgoorg/snowflake/v2"

	"discord-episode-bot/internal/command"
	"discord-episode-bot/internal/gateway"
	"discord-episode-bot/internal/metrics"
	"discord-episode-bot/internal/model"
	"discord-episode-bot/internal/pkg/lock"
	"discord-episode-bot/internal/request"
	"discord-episode-bot/internal/store"
)

// RequestHandler handles the staged sell flow: sell stages a request,
// confirm applies it, cancel abandons it, undo buys the item back.
type RequestHandler struct {
	requests  *request.Manager
	users     store.UserStore
	locks     *lock.UserLock
	audit     request.Auditor
	replies   gateway.ReplySink
	sellPrice int64
	prefix    string
}

// NewRequestHandler creates a RequestHandler. audit may be nil.
func NewRequestHandler(requests *request.Manager, users store.UserStore, locks *lock.UserLock, audit request.Auditor, replies gateway.ReplySink, sellPrice int64, prefix string) *RequestHandler {
	return &RequestHandler{
		requests:  requests,
		users:     users,
		locks:     locks,
		audit:     audit,
		replies:   replies,
		sellPrice: sellPrice,
		prefix:    prefix,
	}
}

// HandleSell stages the sale of one item. Ownership is only checked at
// confirm time; staging a sale of a missing item is allowed and fails
// later.
func (h *RequestHandler) HandleSell(ctx context.Context, inv *command.Invocation) error {
	kindArg, name := inv.Args[0].Str(), inv.Args[1].Str()

	kind, ok := model.ParseItemKind(kindArg)
	if !ok {
		return h.replies.Reply(ctx, inv.Msg.ChannelID,
			fmt.Sprintf("Unknown item kind %q. Use frame or voiceline.", kindArg))
	}

	req := request.NewSellRequest(inv.Msg.AuthorID, h.users, h.locks, h.audit, kind, name, h.sellPrice)
	h.requests.Create(req)
	metrics.RequestOutcomes.WithLabelValues("created").Inc()

	return h.replies.Reply(ctx, inv.Msg.ChannelID,
		fmt.Sprintf("Selling %s %q for %d points. Use %sconfirm to complete the sale or %scancel to keep the item.",
			kind, name, h.sellPrice, h.prefix, h.prefix))
}

// HandleConfirm applies the invoker's pending request.
func (h *RequestHandler) HandleConfirm(ctx context.Context, inv *command.Invocation) error {
	msg, err := h.requests.Confirm(ctx, inv.Msg.AuthorID)
	return h.resolve(ctx, inv.Msg.ChannelID, inv.Msg.AuthorID, "confirmed", msg, err)
}

// HandleCancel abandons the invoker's pending request.
func (h *RequestHandler) HandleCancel(ctx context.Context, inv *command.Invocation) error {
	msg, err := h.requests.Cancel(ctx, inv.Msg.AuthorID)
	return h.resolve(ctx, inv.Msg.ChannelID, inv.Msg.AuthorID, "canceled", msg, err)
}

// HandleUndo reverses the invoker's last confirmed request.
func (h *RequestHandler) HandleUndo(ctx context.Context, inv *command.Invocation) error {
	msg, err := h.requests.Undo(ctx, inv.Msg.AuthorID)
	return h.resolve(ctx, inv.Msg.ChannelID, inv.Msg.AuthorID, "undone", msg, err)
}

// resolve maps request engine outcomes to replies. Domain errors become
// replies; anything else propagates as an infrastructure failure.
func (h *RequestHandler) resolve(ctx context.Context, channelID, userID snowflake.ID, outcome, msg string, err error) error {
	switch {
	case err == nil:
		metrics.RequestOutcomes.WithLabelValues(outcome).Inc()
		return h.replies.Reply(ctx, channelID, msg)
	case errors.Is(err, request.ErrNoPendingRequest):
		return h.replies.Reply(ctx, channelID, "You have no request to "+verbFor(outcome)+".")
	case errors.Is(err, request.ErrNotUndoable):
		return h.replies.Reply(ctx, channelID, "Your last request cannot be undone.")
	case errors.Is(err, request.ErrItemNotFound):
		return h.replies.Reply(ctx, channelID, "You don't own that item.")
	case errors.Is(err, request.ErrInsufficientFunds):
		return h.replies.Reply(ctx, channelID, "You don't have enough points to buy the item back.")
	default:
		metrics.RequestOutcomes.WithLabelValues("failed").Inc()
		return err
	}
}

func verbFor(outcome string) string {
	switch outcome {
	case "confirmed":
		return "confirm"
	case "canceled":
		return "cancel"
	default:
		return "undo"
	}
}
