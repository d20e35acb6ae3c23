package repository

import (
	"context"
	"fmt"

	"github.com/disgoorg/snowflake/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"discord-episode-bot/internal/model"
)

// LedgerRepository records every economic delta applied to a user. The
// ledger is an audit trail only; no balance is derived from it.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new LedgerRepository instance.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Create creates a new ledger entry.
func (r *LedgerRepository) Create(ctx context.Context, userID snowflake.ID, amount int64, entryType string, description *string) (*model.LedgerEntry, error) {
	const query = `
		INSERT INTO ledger (user_id, amount, type, description, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, user_id, amount, type, description, created_at
	`

	var (
		entry model.LedgerEntry
		id    int64
	)
	err := r.pool.QueryRow(ctx, query, int64(userID), amount, entryType, description).Scan(
		&entry.ID,
		&id,
		&entry.Amount,
		&entry.Type,
		&entry.Description,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger entry: %w", err)
	}
	entry.UserID = snowflake.ID(id)

	return &entry, nil
}

// Record writes a ledger entry best-effort: a failed audit write is logged
// and never fails the economic operation it describes.
func (r *LedgerRepository) Record(ctx context.Context, userID snowflake.ID, amount int64, entryType string, description string) {
	var desc *string
	if description != "" {
		desc = &description
	}
	if _, err := r.Create(ctx, userID, amount, entryType, desc); err != nil {
		log.Error().Err(err).
			Int64("user_id", int64(userID)).
			Str("type", entryType).
			Int64("amount", amount).
			Msg("Failed to record ledger entry")
	}
}

// History retrieves a user's ledger entries, newest first.
func (r *LedgerRepository) History(ctx context.Context, userID snowflake.ID, limit int) ([]*model.LedgerEntry, error) {
	const query = `
		SELECT id, user_id, amount, type, description, created_at
		FROM ledger
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, int64(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.LedgerEntry
	for rows.Next() {
		var (
			entry model.LedgerEntry
			id    int64
		)
		err := rows.Scan(
			&entry.ID,
			&id,
			&entry.Amount,
			&entry.Type,
			&entry.Description,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entry.UserID = snowflake.ID(id)
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}

	return entries, nil
}
