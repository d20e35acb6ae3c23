package request_test

import (
	"context"
	"testing"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-episode-bot/internal/model"
	"discord-episode-bot/internal/pkg/lock"
	"discord-episode-bot/internal/request"
	"discord-episode-bot/internal/store/storetest"
)

const sellPrice = int64(15)

var userID = snowflake.ID(1001)

func seedUser(s *storetest.Store, points int64, items ...model.InventoryItem) {
	s.Seed(&model.UserRecord{
		ID:            userID,
		Username:      "tester",
		CurrentPoints: points,
		TotalPoints:   points,
		Inventory:     items,
	})
}

func frameItem(name string, index int64) model.InventoryItem {
	return model.InventoryItem{Kind: model.KindFrame, Name: name, Index: index, FromEpisode: "hall monitor"}
}

func newSell(s *storetest.Store, kind model.ItemKind, name string) *request.SellRequest {
	return request.NewSellRequest(userID, s, lock.NewUserLock(), nil, kind, name, sellPrice)
}

func TestManagerNoRequest(t *testing.T) {
	ctx := context.Background()
	m := request.NewManager()

	_, err := m.Confirm(ctx, userID)
	assert.ErrorIs(t, err, request.ErrNoPendingRequest)

	_, err = m.Cancel(ctx, userID)
	assert.ErrorIs(t, err, request.ErrNoPendingRequest)

	_, err = m.Undo(ctx, userID)
	assert.ErrorIs(t, err, request.ErrNoPendingRequest)
}

func TestSellConfirm(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	seedUser(s, 100, frameItem("sunny", 1), frameItem("moody", 2))

	m := request.NewManager()
	m.Create(newSell(s, model.KindFrame, "sunny"))

	_, err := m.Confirm(ctx, userID)
	require.NoError(t, err)

	rec := s.Snapshot(userID)
	assert.Equal(t, int64(115), rec.CurrentPoints)
	assert.Len(t, rec.Inventory, 1)
	assert.Equal(t, "moody", rec.Inventory[0].Name)
	require.NotNil(t, rec.LastSoldItem)
	assert.Equal(t, "sunny", rec.LastSoldItem.Name)
}

func TestSellConfirmThenUndoRestoresState(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	seedUser(s, 100, frameItem("sunny", 1), frameItem("moody", 2))
	before := s.Snapshot(userID)

	m := request.NewManager()
	m.Create(newSell(s, model.KindFrame, "sunny"))

	_, err := m.Confirm(ctx, userID)
	require.NoError(t, err)
	_, err = m.Undo(ctx, userID)
	require.NoError(t, err)

	after := s.Snapshot(userID)
	assert.Equal(t, before.CurrentPoints, after.CurrentPoints)
	assert.ElementsMatch(t, before.Inventory, after.Inventory)
	assert.Nil(t, after.LastSoldItem)

	// The undo was terminal; the request is gone.
	_, err = m.Undo(ctx, userID)
	assert.ErrorIs(t, err, request.ErrNoPendingRequest)
}

func TestSellConfirmMissingItemStaysPending(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	seedUser(s, 100, frameItem("sunny", 1))
	before := s.Snapshot(userID)

	m := request.NewManager()
	m.Create(newSell(s, model.KindFrame, "no-such-item"))

	_, err := m.Confirm(ctx, userID)
	assert.ErrorIs(t, err, request.ErrItemNotFound)
	assert.Equal(t, before, s.Snapshot(userID))

	// The request survived the failed precondition and can be canceled.
	_, err = m.Cancel(ctx, userID)
	assert.NoError(t, err)
}

func TestSellCancelIsTerminal(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	seedUser(s, 100, frameItem("sunny", 1))
	before := s.Snapshot(userID)

	m := request.NewManager()
	m.Create(newSell(s, model.KindFrame, "sunny"))

	_, err := m.Cancel(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, before, s.Snapshot(userID))

	_, err = m.Confirm(ctx, userID)
	assert.ErrorIs(t, err, request.ErrNoPendingRequest)
	_, err = m.Undo(ctx, userID)
	assert.ErrorIs(t, err, request.ErrNoPendingRequest)
}

func TestUndoOfPendingRequestNotUndoable(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	seedUser(s, 100, frameItem("sunny", 1))

	m := request.NewManager()
	m.Create(newSell(s, model.KindFrame, "sunny"))

	_, err := m.Undo(ctx, userID)
	assert.ErrorIs(t, err, request.ErrNotUndoable)
}

func TestUndoInsufficientFundsChangesNothing(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	seedUser(s, 0, frameItem("sunny", 1))

	m := request.NewManager()
	m.Create(newSell(s, model.KindFrame, "sunny"))

	_, err := m.Confirm(ctx, userID)
	require.NoError(t, err)

	// Burn the sale proceeds so the buy-back cannot be afforded.
	require.NoError(t, s.SetCurrentPoints(ctx, userID, sellPrice-1))
	before := s.Snapshot(userID)

	_, err = m.Undo(ctx, userID)
	assert.ErrorIs(t, err, request.ErrInsufficientFunds)
	assert.Equal(t, before, s.Snapshot(userID))

	// Still completed, still undoable once funds arrive.
	require.NoError(t, s.SetCurrentPoints(ctx, userID, sellPrice))
	_, err = m.Undo(ctx, userID)
	assert.NoError(t, err)
}

func TestUndoRenamesOnCollision(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	seedUser(s, 100, frameItem("sunny", 1))

	m := request.NewManager()
	m.Create(newSell(s, model.KindFrame, "sunny"))
	_, err := m.Confirm(ctx, userID)
	require.NoError(t, err)

	// Reacquire a same-named frame before undoing.
	require.NoError(t, s.AppendItem(ctx, userID, frameItem("sunny", 7)))

	msg, err := m.Undo(ctx, userID)
	require.NoError(t, err)
	assert.Contains(t, msg, "renamed")

	rec := s.Snapshot(userID)
	require.Len(t, rec.Inventory, 2)
	// The restored item fell back to its index as its name.
	assert.GreaterOrEqual(t, rec.FindItem(model.KindFrame, "1"), 0)
	assert.GreaterOrEqual(t, rec.FindItem(model.KindFrame, "sunny"), 0)
}

func TestCreateSilentlyOverwrites(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	seedUser(s, 100, frameItem("sunny", 1), frameItem("moody", 2))

	m := request.NewManager()
	m.Create(newSell(s, model.KindFrame, "sunny"))
	m.Create(newSell(s, model.KindFrame, "moody"))

	_, err := m.Confirm(ctx, userID)
	require.NoError(t, err)

	rec := s.Snapshot(userID)
	// Only the second request applied.
	assert.GreaterOrEqual(t, rec.FindItem(model.KindFrame, "sunny"), 0)
	assert.Equal(t, -1, rec.FindItem(model.KindFrame, "moody"))
}
