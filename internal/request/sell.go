package request

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/disgoorg/snowflake/v2"

	"discord-episode-bot/internal/model"
	"discord-episode-bot/internal/pkg/lock"
	"discord-episode-bot/internal/store"
)

// SellRequest stages the sale of one inventory item. Confirming removes
// the item, parks a detached copy in the user's last-sold slot and credits
// the sell price; undoing buys the item back at the same price. Undo is
// where the reversibility gets interesting: if the user reacquired an item
// with the same kind and name after the sale, the restored item falls back
// to its immutable index as its name.
type SellRequest struct {
	requester snowflake.ID
	users     store.UserStore
	locks     *lock.UserLock
	audit     Auditor
	kind      model.ItemKind
	name      string
	price     int64

	mu    sync.Mutex
	state State
}

var _ Request = (*SellRequest)(nil)

// NewSellRequest stages the sale of the requester's (kind, name) item for
// the given price. audit may be nil.
func NewSellRequest(requester snowflake.ID, users store.UserStore, locks *lock.UserLock, audit Auditor, kind model.ItemKind, name string, price int64) *SellRequest {
	return &SellRequest{
		requester: requester,
		users:     users,
		locks:     locks,
		audit:     audit,
		kind:      kind,
		name:      name,
		price:     price,
	}
}

// Requester returns the id of the user selling the item.
func (r *SellRequest) Requester() snowflake.ID { return r.requester }

// State returns the request's lifecycle state.
func (r *SellRequest) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *SellRequest) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Confirm removes the item from the inventory, parks it in the last-sold
// slot and credits the sell price. Fails with ErrItemNotFound (leaving the
// request pending) when the user record is missing or owns no such item.
func (r *SellRequest) Confirm(ctx context.Context) (string, error) {
	r.locks.Lock(r.requester)
	defer r.locks.Unlock(r.requester)

	rec, err := r.users.Get(ctx, r.requester)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return "", ErrItemNotFound
		}
		return "", err
	}

	i := rec.FindItem(r.kind, r.name)
	if i < 0 {
		return "", ErrItemNotFound
	}

	item := rec.Inventory[i]
	rec.RemoveItemAt(i)
	rec.LastSoldItem = &item
	rec.CurrentPoints += r.price

	if err := r.users.Replace(ctx, rec); err != nil {
		return "", err
	}
	r.setState(StateCompleted)

	if r.audit != nil {
		r.audit.Record(ctx, r.requester, r.price, model.LedgerSell,
			fmt.Sprintf("sold %s %q", item.Kind, item.Name))
	}
	return fmt.Sprintf("Sold %s %q for %d points. Use undo to buy it back.", item.Kind, item.Name, r.price), nil
}

// Cancel abandons the sale without touching any state.
func (r *SellRequest) Cancel(context.Context) (string, error) {
	r.setState(StateCanceled)
	return fmt.Sprintf("Sale of %s %q canceled.", r.kind, r.name), nil
}

// Undo buys the sold item back. Fails with ErrInsufficientFunds (leaving
// everything untouched, request still completed) when the user cannot
// afford the buy-back.
func (r *SellRequest) Undo(ctx context.Context) (string, error) {
	r.locks.Lock(r.requester)
	defer r.locks.Unlock(r.requester)

	rec, err := r.users.Get(ctx, r.requester)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return "", ErrItemNotFound
		}
		return "", err
	}
	if rec.CurrentPoints < r.price {
		return "", ErrInsufficientFunds
	}
	if rec.LastSoldItem == nil {
		return "", ErrItemNotFound
	}

	item := *rec.LastSoldItem
	renamed := false
	if rec.HasItem(item.Kind, item.Name) {
		// A same-named item was acquired after the sale; fall back to
		// the immutable index so (kind, name) stays unique.
		item.Name = item.DefaultName()
		renamed = true
	}

	rec.Inventory = append(rec.Inventory, item)
	rec.LastSoldItem = nil
	rec.CurrentPoints -= r.price

	if err := r.users.Replace(ctx, rec); err != nil {
		return "", err
	}
	r.setState(StateReverted)

	if r.audit != nil {
		r.audit.Record(ctx, r.requester, -r.price, model.LedgerSellUndo,
			fmt.Sprintf("bought back %s %q", item.Kind, item.Name))
	}

	msg := fmt.Sprintf("Bought %s %q back for %d points.", item.Kind, item.Name, r.price)
	if renamed {
		msg += fmt.Sprintf(" It was renamed to %q because you own another item with its old name.", item.Name)
	}
	return msg, nil
}
