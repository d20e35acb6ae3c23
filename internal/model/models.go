// Package model defines the data models for the episode bot.
package model

import (
	"strconv"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// AccessLevel is an ordered permission tier gating command availability.
// The gaps leave room for intermediate tiers.
type AccessLevel int

// Known access levels.
const (
	AccessUser  AccessLevel = 0
	AccessVIP   AccessLevel = 100
	AccessAdmin AccessLevel = 200
)

// String returns a human-readable name for the access level.
func (a AccessLevel) String() string {
	switch {
	case a >= AccessAdmin:
		return "admin"
	case a >= AccessVIP:
		return "vip"
	default:
		return "user"
	}
}

// ItemKind discriminates the inventory item variants.
type ItemKind string

// Inventory item kinds. The kind decides which directory and file
// extension back the item and how it is delivered.
const (
	KindFrame     ItemKind = "frame"
	KindVoiceline ItemKind = "voiceline"
)

// Valid reports whether k is a known item kind.
func (k ItemKind) Valid() bool {
	return k == KindFrame || k == KindVoiceline
}

// ParseItemKind maps user input to an ItemKind.
func ParseItemKind(s string) (ItemKind, bool) {
	switch ItemKind(s) {
	case KindFrame:
		return KindFrame, true
	case KindVoiceline:
		return KindVoiceline, true
	}
	return "", false
}

// InventoryItem is one unlocked media clip in a user's inventory.
// Index is assigned from the per-kind sequence counter at purchase time,
// never changes and never gets reused; it identifies the backing asset
// file on disk. Name starts out as the index rendered as a string and can
// be changed by the user, but stays unique within the kind.
type InventoryItem struct {
	Kind        ItemKind `json:"kind"`
	Name        string   `json:"name"`
	Index       int64    `json:"index"`
	FromEpisode string   `json:"from_episode"`
	AcquiredAt  int64    `json:"acquired_at"`
}

// DefaultName returns the name an item carries at creation and after a
// deterministic de-collision rename: its immutable index as a string.
func (i InventoryItem) DefaultName() string {
	return strconv.FormatInt(i.Index, 10)
}

// UserRecord is the per-user economic and profile state.
type UserRecord struct {
	ID              snowflake.ID    `db:"user_id"`
	Username        string          `db:"username"`
	AccessLevel     AccessLevel     `db:"access_level"`
	CurrentPoints   int64           `db:"current_points"`
	TotalPoints     int64           `db:"total_points"`
	CratesOpened    int64           `db:"crates_opened"`
	FrameSeq        int64           `db:"frame_seq"`
	VoicelineSeq    int64           `db:"voiceline_seq"`
	EpisodesWatched int64           `db:"episodes_watched"`
	EpisodeList     []string        `db:"episode_list"`
	Inventory       []InventoryItem `db:"inventory"`
	LastSoldItem    *InventoryItem  `db:"last_sold_item"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

// FindItem returns the index into Inventory of the item with the given
// kind and name, or -1 if the user owns no such item.
func (u *UserRecord) FindItem(kind ItemKind, name string) int {
	for i, item := range u.Inventory {
		if item.Kind == kind && item.Name == name {
			return i
		}
	}
	return -1
}

// HasItem reports whether the user owns an item of the given kind and name.
func (u *UserRecord) HasItem(kind ItemKind, name string) bool {
	return u.FindItem(kind, name) >= 0
}

// RemoveItemAt removes the inventory entry at position i, preserving order.
func (u *UserRecord) RemoveItemAt(i int) {
	u.Inventory = append(u.Inventory[:i], u.Inventory[i+1:]...)
}

// ItemsOfKind returns the user's items of one kind, in acquisition order.
func (u *UserRecord) ItemsOfKind(kind ItemKind) []InventoryItem {
	var items []InventoryItem
	for _, item := range u.Inventory {
		if item.Kind == kind {
			items = append(items, item)
		}
	}
	return items
}

// Rank returns the listening rank for the user's lifetime points.
func (u *UserRecord) Rank() string {
	rank := rankTable[0].name
	for _, r := range rankTable {
		if u.TotalPoints >= r.minPoints {
			rank = r.name
		}
	}
	return rank
}

// rankTable maps lifetime point thresholds to rank names, ascending.
var rankTable = []struct {
	minPoints int64
	name      string
}{
	{0, "Newcomer"},
	{50, "Regular"},
	{200, "Enthusiast"},
	{500, "Binger"},
	{1500, "Superfan"},
	{5000, "Archivist"},
}

// LedgerEntry records one economic delta applied to a user.
type LedgerEntry struct {
	ID          int64        `db:"id"`
	UserID      snowflake.ID `db:"user_id"`
	Amount      int64        `db:"amount"`
	Type        string       `db:"type"`
	Description *string      `db:"description"`
	CreatedAt   time.Time    `db:"created_at"`
}

// Ledger entry types for categorizing point changes.
const (
	LedgerAccrual      = "accrual"       // Listening time reward tick
	LedgerEpisodeBonus = "episode_bonus" // Episode watched to the end
	LedgerCrate        = "crate"         // Crate purchase debit
	LedgerSell         = "sell"          // Item sale credit
	LedgerSellUndo     = "sell_undo"     // Sale reverted, item bought back
	LedgerAdminAdjust  = "admin_adjust"  // Manual adjustment via points command
)
