// Package repository provides the PostgreSQL data access layer.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/disgoorg/snowflake/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"discord-episode-bot/internal/model"
	"discord-episode-bot/internal/store"
)

// userColumns is the column list every user query selects, in scan order.
const userColumns = `user_id, username, access_level, current_points, total_points,
		crates_opened, frame_seq, voiceline_seq, episodes_watched,
		episode_list, inventory, last_sold_item, created_at, updated_at`

// UserRepository persists user records in the users table. Scalar counters
// are plain columns mutated with SQL deltas; the inventory and the
// last-sold slot are JSONB documents rewritten wholesale by Replace.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

var _ store.UserStore = (*UserRepository)(nil)

// Get retrieves a user record by id.
// Returns store.ErrUserNotFound if the user does not exist.
func (r *UserRepository) Get(ctx context.Context, id snowflake.ID) (*model.UserRecord, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`

	rec, err := scanUser(r.pool.QueryRow(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return rec, nil
}

// Create inserts an empty record for the given user.
func (r *UserRepository) Create(ctx context.Context, id snowflake.ID, username string) (*model.UserRecord, error) {
	const query = `
		INSERT INTO users (user_id, username, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING ` + userColumns

	rec, err := scanUser(r.pool.QueryRow(ctx, query, int64(id), username))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return rec, nil
}

// GetOrCreate retrieves a record, creating one first if it doesn't exist.
func (r *UserRepository) GetOrCreate(ctx context.Context, id snowflake.ID, username string) (*model.UserRecord, bool, error) {
	rec, err := r.Get(ctx, id)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return nil, false, err
	}

	rec, err = r.Create(ctx, id, username)
	if err != nil {
		// Another request might have created the user in between.
		rec, err = r.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return rec, false, nil
	}
	return rec, true, nil
}

// Exists checks if a record exists for the given user id.
func (r *UserRepository) Exists(ctx context.Context, id snowflake.ID) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM users WHERE user_id = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, int64(id)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}

// Replace writes back a full record. Last writer wins; callers serialize
// per user with lock.UserLock.
func (r *UserRepository) Replace(ctx context.Context, rec *model.UserRecord) error {
	const query = `
		UPDATE users
		SET username = $2, access_level = $3, current_points = $4, total_points = $5,
		    crates_opened = $6, frame_seq = $7, voiceline_seq = $8,
		    episodes_watched = $9, episode_list = $10, inventory = $11,
		    last_sold_item = $12, updated_at = NOW()
		WHERE user_id = $1
	`

	inventory, err := marshalInventory(rec.Inventory)
	if err != nil {
		return err
	}
	lastSold, err := marshalLastSold(rec.LastSoldItem)
	if err != nil {
		return err
	}

	episodes := rec.EpisodeList
	if episodes == nil {
		episodes = []string{}
	}

	result, err := r.pool.Exec(ctx, query,
		int64(rec.ID), rec.Username, int(rec.AccessLevel),
		rec.CurrentPoints, rec.TotalPoints, rec.CratesOpened,
		rec.FrameSeq, rec.VoicelineSeq, rec.EpisodesWatched,
		episodes, inventory, lastSold,
	)
	if err != nil {
		return fmt.Errorf("failed to replace user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

// AwardPoints credits n points to both current and lifetime totals.
func (r *UserRepository) AwardPoints(ctx context.Context, id snowflake.ID, n int64) error {
	const query = `
		UPDATE users
		SET current_points = current_points + $2, total_points = total_points + $2,
		    updated_at = NOW()
		WHERE user_id = $1
	`
	return r.exec(ctx, query, int64(id), n)
}

// AdjustCurrentPoints applies a signed delta to current points only.
func (r *UserRepository) AdjustCurrentPoints(ctx context.Context, id snowflake.ID, delta int64) error {
	const query = `
		UPDATE users
		SET current_points = current_points + $2, updated_at = NOW()
		WHERE user_id = $1
	`
	return r.exec(ctx, query, int64(id), delta)
}

// SetCurrentPoints sets current points to an exact value.
func (r *UserRepository) SetCurrentPoints(ctx context.Context, id snowflake.ID, value int64) error {
	const query = `
		UPDATE users
		SET current_points = $2, updated_at = NOW()
		WHERE user_id = $1
	`
	return r.exec(ctx, query, int64(id), value)
}

// RecordEpisodeWatched bumps the episodes-watched counter and appends the
// episode to the watched list.
func (r *UserRepository) RecordEpisodeWatched(ctx context.Context, id snowflake.ID, episode string) error {
	const query = `
		UPDATE users
		SET episodes_watched = episodes_watched + 1,
		    episode_list = array_append(episode_list, $2),
		    updated_at = NOW()
		WHERE user_id = $1
	`
	return r.exec(ctx, query, int64(id), episode)
}

// OpenCrate atomically debits the crate price, bumps the crates-opened
// counter and the per-kind sequence counter, and returns the new sequence
// value. The conditional UPDATE makes the debit and the id assignment one
// write, so concurrent purchases can never share a sequence id.
func (r *UserRepository) OpenCrate(ctx context.Context, id snowflake.ID, price int64, kind model.ItemKind) (int64, error) {
	seqColumn := "frame_seq"
	if kind == model.KindVoiceline {
		seqColumn = "voiceline_seq"
	}

	query := fmt.Sprintf(`
		UPDATE users
		SET current_points = current_points - $2, crates_opened = crates_opened + 1,
		    %[1]s = %[1]s + 1, updated_at = NOW()
		WHERE user_id = $1 AND current_points >= $2
		RETURNING %[1]s
	`, seqColumn)

	var seq int64
	err := r.pool.QueryRow(ctx, query, int64(id), price).Scan(&seq)
	if err == nil {
		return seq, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to open crate: %w", err)
	}

	// No row matched: either the user is unknown or too poor.
	exists, err := r.Exists(ctx, id)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, store.ErrUserNotFound
	}
	return 0, store.ErrInsufficientPoints
}

// AppendItem appends one inventory item to the user's inventory document.
func (r *UserRepository) AppendItem(ctx context.Context, id snowflake.ID, item model.InventoryItem) error {
	const query = `
		UPDATE users
		SET inventory = inventory || $2::jsonb, updated_at = NOW()
		WHERE user_id = $1
	`

	doc, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal inventory item: %w", err)
	}
	return r.exec(ctx, query, int64(id), doc)
}

// exec runs a single-row mutation and maps zero affected rows to
// store.ErrUserNotFound.
func (r *UserRepository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*model.UserRecord, error) {
	var (
		rec      model.UserRecord
		id       int64
		access   int
		invDoc   []byte
		soldDoc  []byte
		episodes []string
	)

	err := row.Scan(
		&id, &rec.Username, &access,
		&rec.CurrentPoints, &rec.TotalPoints, &rec.CratesOpened,
		&rec.FrameSeq, &rec.VoicelineSeq, &rec.EpisodesWatched,
		&episodes, &invDoc, &soldDoc,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ID = snowflake.ID(id)
	rec.AccessLevel = model.AccessLevel(access)
	rec.EpisodeList = episodes

	if len(invDoc) > 0 {
		if err := json.Unmarshal(invDoc, &rec.Inventory); err != nil {
			return nil, fmt.Errorf("failed to decode inventory: %w", err)
		}
	}
	if len(soldDoc) > 0 {
		var item model.InventoryItem
		if err := json.Unmarshal(soldDoc, &item); err != nil {
			return nil, fmt.Errorf("failed to decode last sold item: %w", err)
		}
		rec.LastSoldItem = &item
	}
	return &rec, nil
}

func marshalInventory(items []model.InventoryItem) ([]byte, error) {
	if items == nil {
		items = []model.InventoryItem{}
	}
	doc, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inventory: %w", err)
	}
	return doc, nil
}

func marshalLastSold(item *model.InventoryItem) ([]byte, error) {
	if item == nil {
		return nil, nil
	}
	doc, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal last sold item: %w", err)
	}
	return doc, nil
}
