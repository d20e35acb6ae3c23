// Package store defines the keyed user storage contract shared by the
// request engine, the reward scheduler, the crate pipeline and the
// command handlers. The production implementation lives in
// internal/repository; tests use the in-memory store from storetest.
package store

import (
	"context"
	"errors"

	"github.com/disgoorg/snowflake/v2"

	"discord-episode-bot/internal/model"
)

// Common errors for store operations.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInsufficientPoints = errors.New("insufficient points")
)

// UserStore is keyed persistent storage for per-user records.
//
// The delta methods (AwardPoints, AdjustCurrentPoints, RecordEpisodeWatched,
// OpenCrate, AppendItem) must be atomic against concurrent writers. Replace
// is a last-writer-wins full-record write and is reserved for the mutations
// that inherently have to read, filter and rewrite the inventory array
// (sell, undo, rename); callers serialize those per user via lock.UserLock.
type UserStore interface {
	// Get retrieves a user record. Returns ErrUserNotFound if absent.
	Get(ctx context.Context, id snowflake.ID) (*model.UserRecord, error)

	// GetOrCreate retrieves a record, creating an empty one first if
	// absent. The second result reports whether a record was created.
	GetOrCreate(ctx context.Context, id snowflake.ID, username string) (*model.UserRecord, bool, error)

	// Exists reports whether a record exists for the given id.
	Exists(ctx context.Context, id snowflake.ID) (bool, error)

	// Replace writes back a full record previously obtained from Get.
	Replace(ctx context.Context, rec *model.UserRecord) error

	// AwardPoints credits n points to both current and lifetime totals.
	AwardPoints(ctx context.Context, id snowflake.ID, n int64) error

	// AdjustCurrentPoints applies a signed delta to current points only.
	AdjustCurrentPoints(ctx context.Context, id snowflake.ID, delta int64) error

	// SetCurrentPoints sets current points to an exact value.
	SetCurrentPoints(ctx context.Context, id snowflake.ID, value int64) error

	// RecordEpisodeWatched bumps the episodes-watched counter and appends
	// the episode to the user's watched list.
	RecordEpisodeWatched(ctx context.Context, id snowflake.ID, episode string) error

	// OpenCrate atomically debits the crate price, bumps the crates-opened
	// counter and the per-kind sequence counter, and returns the new
	// sequence value. The debit and the sequence assignment happen in one
	// conditional write, so two concurrent purchases can never observe the
	// same sequence id. Returns ErrInsufficientPoints when current points
	// are below price, ErrUserNotFound when no record exists; in both
	// cases nothing is mutated.
	OpenCrate(ctx context.Context, id snowflake.ID, price int64, kind model.ItemKind) (int64, error)

	// AppendItem appends one inventory item to the user's inventory.
	AppendItem(ctx context.Context, id snowflake.ID, item model.InventoryItem) error
}
