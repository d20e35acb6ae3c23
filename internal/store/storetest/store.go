// Package storetest provides an in-memory store.UserStore used by unit
// tests across the request, scheduler, crate and handler packages.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"discord-episode-bot/internal/model"
	"discord-episode-bot/internal/store"
)

// Store is a thread-safe in-memory store.UserStore. The zero value is not
// usable; create instances with New.
type Store struct {
	mu    sync.Mutex
	users map[snowflake.ID]*model.UserRecord
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{users: make(map[snowflake.ID]*model.UserRecord)}
}

var _ store.UserStore = (*Store)(nil)

// Seed inserts a record directly, bypassing the store contract. Test setup
// helper.
func (s *Store) Seed(rec *model.UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[rec.ID] = cloneRecord(rec)
}

// Snapshot returns a deep copy of the stored record, or nil if absent.
// Test assertion helper.
func (s *Store) Snapshot(id snowflake.ID) *model.UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return nil
	}
	return cloneRecord(rec)
}

func (s *Store) Get(_ context.Context, id snowflake.ID) (*model.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return cloneRecord(rec), nil
}

func (s *Store) GetOrCreate(_ context.Context, id snowflake.ID, username string) (*model.UserRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.users[id]; ok {
		return cloneRecord(rec), false, nil
	}
	rec := &model.UserRecord{
		ID:        id,
		Username:  username,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.users[id] = rec
	return cloneRecord(rec), true, nil
}

func (s *Store) Exists(_ context.Context, id snowflake.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[id]
	return ok, nil
}

func (s *Store) Replace(_ context.Context, rec *model.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[rec.ID]; !ok {
		return store.ErrUserNotFound
	}
	clone := cloneRecord(rec)
	clone.UpdatedAt = time.Now()
	s.users[rec.ID] = clone
	return nil
}

func (s *Store) AwardPoints(_ context.Context, id snowflake.ID, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return store.ErrUserNotFound
	}
	rec.CurrentPoints += n
	rec.TotalPoints += n
	return nil
}

func (s *Store) AdjustCurrentPoints(_ context.Context, id snowflake.ID, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return store.ErrUserNotFound
	}
	rec.CurrentPoints += delta
	return nil
}

func (s *Store) SetCurrentPoints(_ context.Context, id snowflake.ID, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return store.ErrUserNotFound
	}
	rec.CurrentPoints = value
	return nil
}

func (s *Store) RecordEpisodeWatched(_ context.Context, id snowflake.ID, episode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return store.ErrUserNotFound
	}
	rec.EpisodesWatched++
	rec.EpisodeList = append(rec.EpisodeList, episode)
	return nil
}

func (s *Store) OpenCrate(_ context.Context, id snowflake.ID, price int64, kind model.ItemKind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return 0, store.ErrUserNotFound
	}
	if rec.CurrentPoints < price {
		return 0, store.ErrInsufficientPoints
	}
	rec.CurrentPoints -= price
	rec.CratesOpened++
	switch kind {
	case model.KindVoiceline:
		rec.VoicelineSeq++
		return rec.VoicelineSeq, nil
	default:
		rec.FrameSeq++
		return rec.FrameSeq, nil
	}
}

func (s *Store) AppendItem(_ context.Context, id snowflake.ID, item model.InventoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return store.ErrUserNotFound
	}
	rec.Inventory = append(rec.Inventory, item)
	return nil
}

func cloneRecord(rec *model.UserRecord) *model.UserRecord {
	clone := *rec
	clone.EpisodeList = append([]string(nil), rec.EpisodeList...)
	clone.Inventory = append([]model.InventoryItem(nil), rec.Inventory...)
	if rec.LastSoldItem != nil {
		item := *rec.LastSoldItem
		clone.LastSoldItem = &item
	}
	return &clone
}
