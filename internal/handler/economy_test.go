package handler_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-episode-bot/internal/command"
	"discord-episode-bot/internal/gateway"
	"discord-episode-bot/internal/handler"
	"discord-episode-bot/internal/model"
	"discord-episode-bot/internal/pkg/lock"
	"discord-episode-bot/internal/store/storetest"
)

const ownerID = snowflake.ID(500)

type replyRecorder struct {
	replies []string
}

func (r *replyRecorder) Reply(_ context.Context, _ snowflake.ID, text string) error {
	r.replies = append(r.replies, text)
	return nil
}

func (r *replyRecorder) SendFile(_ context.Context, _ snowflake.ID, _ string, _ io.Reader) error {
	return nil
}

func (r *replyRecorder) last(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, r.replies)
	return r.replies[len(r.replies)-1]
}

// fakeLedger is a canned handler.LedgerReader.
type fakeLedger struct {
	entries  []*model.LedgerEntry
	gotLimit int
}

func (f *fakeLedger) History(_ context.Context, _ snowflake.ID, limit int) ([]*model.LedgerEntry, error) {
	f.gotLimit = limit
	return f.entries, nil
}

func dmFrom(id snowflake.ID) gateway.Message {
	return gateway.Message{ChannelID: 9, AuthorID: id, AuthorName: "owner"}
}

// newEconomyFixture wires an economy handler behind a dispatcher, the way
// production routes commands. Only the rename and history commands are
// registered; the crate pipeline and media studio are not involved.
func newEconomyFixture(ledger handler.LedgerReader) (*command.Dispatcher, *replyRecorder, *storetest.Store) {
	sink := &replyRecorder{}
	users := storetest.New()
	h := handler.NewEconomyHandler(users, lock.NewUserLock(), nil, nil, sink, ledger)

	d := command.NewDispatcher(sink)
	d.Register(command.Spec{
		Name: "rename", Context: command.InPrivate, Access: model.AccessUser,
		Args:    []command.ArgType{command.ArgString, command.ArgString, command.ArgString},
		Handler: h.HandleRename,
	})
	d.Register(command.Spec{
		Name: "history", Context: command.InPrivate, Access: model.AccessUser,
		Handler: h.HandleHistory,
	})
	return d, sink, users
}

func seedOwner(users *storetest.Store, items ...model.InventoryItem) {
	users.Seed(&model.UserRecord{ID: ownerID, Username: "owner", Inventory: items})
}

func TestRenameChangesNameKeepsIndex(t *testing.T) {
	d, sink, users := newEconomyFixture(nil)
	seedOwner(users, model.InventoryItem{Kind: model.KindFrame, Name: "3", Index: 3})

	err := d.Dispatch(context.Background(), dmFrom(ownerID), model.AccessUser,
		"rename", []string{"frame", "3", "hall monitor"})
	require.NoError(t, err)
	assert.Contains(t, sink.last(t), "Renamed")

	rec := users.Snapshot(ownerID)
	require.Len(t, rec.Inventory, 1)
	assert.Equal(t, "hall monitor", rec.Inventory[0].Name)
	assert.Equal(t, int64(3), rec.Inventory[0].Index)
}

func TestRenameRejectsNumericName(t *testing.T) {
	d, sink, users := newEconomyFixture(nil)
	seedOwner(users, model.InventoryItem{Kind: model.KindFrame, Name: "42", Index: 42})

	// A frame renamed to "1" would collide with the default name of the
	// next frame the crate pipeline delivers.
	for _, target := range []string{"1", "007", "-5"} {
		err := d.Dispatch(context.Background(), dmFrom(ownerID), model.AccessUser,
			"rename", []string{"frame", "42", target})
		require.NoError(t, err)
		assert.Contains(t, sink.last(t), "reserved", "target %q", target)
	}

	rec := users.Snapshot(ownerID)
	require.Len(t, rec.Inventory, 1)
	assert.Equal(t, "42", rec.Inventory[0].Name)
	assert.False(t, rec.HasItem(model.KindFrame, "1"))
}

func TestRenameRefusesTakenName(t *testing.T) {
	d, sink, users := newEconomyFixture(nil)
	seedOwner(users,
		model.InventoryItem{Kind: model.KindFrame, Name: "sunny", Index: 1},
		model.InventoryItem{Kind: model.KindFrame, Name: "moody", Index: 2},
	)

	err := d.Dispatch(context.Background(), dmFrom(ownerID), model.AccessUser,
		"rename", []string{"frame", "moody", "sunny"})
	require.NoError(t, err)
	assert.Contains(t, sink.last(t), "already have")

	rec := users.Snapshot(ownerID)
	assert.Equal(t, "moody", rec.Inventory[1].Name)
}

func TestRenameUnknownItem(t *testing.T) {
	d, sink, users := newEconomyFixture(nil)
	seedOwner(users)

	err := d.Dispatch(context.Background(), dmFrom(ownerID), model.AccessUser,
		"rename", []string{"frame", "ghost", "anything"})
	require.NoError(t, err)
	assert.Contains(t, sink.last(t), "don't own")
}

func TestRenameUnknownKind(t *testing.T) {
	d, sink, users := newEconomyFixture(nil)
	seedOwner(users)

	err := d.Dispatch(context.Background(), dmFrom(ownerID), model.AccessUser,
		"rename", []string{"sticker", "a", "b"})
	require.NoError(t, err)
	assert.Contains(t, sink.last(t), "Unknown item kind")
}

func TestHistoryListsRecentChanges(t *testing.T) {
	desc := "finished \"hall monitor\""
	when := time.Date(2026, 8, 30, 12, 30, 0, 0, time.UTC)
	ledger := &fakeLedger{entries: []*model.LedgerEntry{
		{Amount: -30, Type: model.LedgerCrate, CreatedAt: when},
		{Amount: 2, Type: model.LedgerEpisodeBonus, Description: &desc, CreatedAt: when.Add(-time.Hour)},
	}}
	d, sink, users := newEconomyFixture(ledger)
	seedOwner(users)

	err := d.Dispatch(context.Background(), dmFrom(ownerID), model.AccessUser, "history", nil)
	require.NoError(t, err)

	reply := sink.last(t)
	assert.Contains(t, reply, "Your last point changes:")
	assert.Contains(t, reply, "-30 crate on 2026-08-30 12:30")
	assert.Contains(t, reply, "+2 episode_bonus (finished \"hall monitor\")")
	assert.Equal(t, 10, ledger.gotLimit)
}

func TestHistoryEmpty(t *testing.T) {
	d, sink, users := newEconomyFixture(&fakeLedger{})
	seedOwner(users)

	err := d.Dispatch(context.Background(), dmFrom(ownerID), model.AccessUser, "history", nil)
	require.NoError(t, err)
	assert.Contains(t, sink.last(t), "No point history yet")
}

func TestHistoryWithoutLedger(t *testing.T) {
	d, sink, users := newEconomyFixture(nil)
	seedOwner(users)

	err := d.Dispatch(context.Background(), dmFrom(ownerID), model.AccessUser, "history", nil)
	require.NoError(t, err)
	assert.Contains(t, sink.last(t), "not available")
}
