// Package crate implements the randomized reward pipeline: a purchase
// debits points and assigns a per-kind sequence id atomically, then the
// crate travels through two background stages (payload generation, then
// inventory delivery) decoupled from command handling by buffered
// channels. A crash after the debit loses the crate contents but not the
// debit; that gap is accepted and there is no compensation transaction.
package crate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"discord-episode-bot/internal/episode"
	"discord-episode-bot/internal/gateway"
	"discord-episode-bot/internal/metrics"
	"discord-episode-bot/internal/model"
	"discord-episode-bot/internal/pkg/lock"
	"discord-episode-bot/internal/store"
)

// Generator produces the payload file for one crate and returns its path.
// Implementations shell out to ffmpeg and may take seconds per call.
type Generator interface {
	Frame(ctx context.Context, userID snowflake.ID, seq int64, episodePath string) (string, error)
	Voiceline(ctx context.Context, userID snowflake.ID, seq int64, episodePath string) (string, error)
}

// Auditor receives ledger entries for crate purchases.
type Auditor interface {
	Record(ctx context.Context, userID snowflake.ID, amount int64, entryType string, description string)
}

// Crate is one purchased reward moving through the pipeline.
type Crate struct {
	UserID      snowflake.ID
	ChannelID   snowflake.ID
	Kind        model.ItemKind
	Seq         int64
	Episode     episode.Episode
	PayloadPath string
}

// Config carries the tunable purchase parameters.
type Config struct {
	Price           int64
	VoicelineChance float64
	QueueSize       int
	Prefix          string
}

// Manager runs the crate pipeline.
type Manager struct {
	users   store.UserStore
	locks   *lock.UserLock
	gen     Generator
	library *episode.Library
	replies gateway.ReplySink
	audit   Auditor
	cfg     Config

	pending chan *Crate // purchased, awaiting payload generation
	ready   chan *Crate // generated, awaiting delivery
}

// NewManager creates a crate Manager. audit may be nil.
func NewManager(users store.UserStore, locks *lock.UserLock, gen Generator, library *episode.Library, replies gateway.ReplySink, audit Auditor, cfg Config) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	return &Manager{
		users:   users,
		locks:   locks,
		gen:     gen,
		library: library,
		replies: replies,
		audit:   audit,
		cfg:     cfg,
		pending: make(chan *Crate, cfg.QueueSize),
		ready:   make(chan *Crate, cfg.QueueSize),
	}
}

// Run drives the generation and delivery loops until ctx is canceled.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.generateLoop(ctx) })
	g.Go(func() error { return m.deliverLoop(ctx) })
	return g.Wait()
}

// Open purchases one crate for the user: weighted kind draw, atomic
// debit plus sequence assignment, then enqueue for generation. On
// insufficient points (or a missing record) nothing is mutated and the
// user is told the price.
func (m *Manager) Open(ctx context.Context, userID, channelID snowflake.ID) error {
	kind := model.KindFrame
	if rand.Float64() < m.cfg.VoicelineChance {
		kind = model.KindVoiceline
	}

	seq, err := m.users.OpenCrate(ctx, userID, m.cfg.Price, kind)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientPoints) || errors.Is(err, store.ErrUserNotFound) {
			return m.replies.Reply(ctx, channelID,
				fmt.Sprintf("You need at least %d points to open a crate.", m.cfg.Price))
		}
		return err
	}

	ep, ok := m.library.Any()
	if !ok {
		// The debit stands; an empty catalog is an operator error.
		log.Error().Msg("Crate purchased with an empty episode catalog")
		return m.replies.Reply(ctx, channelID, "Something went wrong opening your crate.")
	}

	if m.audit != nil {
		m.audit.Record(ctx, userID, -m.cfg.Price, model.LedgerCrate,
			fmt.Sprintf("%s crate #%d", kind, seq))
	}
	metrics.CratesPurchased.WithLabelValues(string(kind)).Inc()

	c := &Crate{UserID: userID, ChannelID: channelID, Kind: kind, Seq: seq, Episode: ep}

	log.Info().
		Int64("user_id", int64(userID)).
		Str("kind", string(kind)).
		Int64("seq", seq).
		Str("episode", ep.Name).
		Msg("Crate purchased")

	select {
	case m.pending <- c:
	case <-ctx.Done():
		return ctx.Err()
	}

	return m.replies.Reply(ctx, channelID, "Opening a crate for you... This might take a few seconds...")
}

// generateLoop renders crate payloads one at a time. The ffmpeg work is
// serialized here so a purchase burst never spawns a process storm.
func (m *Manager) generateLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-m.pending:
			path, err := m.generate(ctx, c)
			if err != nil {
				log.Error().Err(err).
					Int64("user_id", int64(c.UserID)).
					Str("kind", string(c.Kind)).
					Int64("seq", c.Seq).
					Msg("Crate generation failed")
				_ = m.replies.Reply(ctx, c.ChannelID, "Something went wrong generating your crate.")
				continue
			}
			c.PayloadPath = path

			select {
			case m.ready <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (m *Manager) generate(ctx context.Context, c *Crate) (string, error) {
	switch c.Kind {
	case model.KindVoiceline:
		return m.gen.Voiceline(ctx, c.UserID, c.Seq, c.Episode.Path)
	default:
		return m.gen.Frame(ctx, c.UserID, c.Seq, c.Episode.Path)
	}
}

// deliverLoop appends generated crates to their owners' inventories and
// announces them.
func (m *Manager) deliverLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-m.ready:
			if err := m.deliver(ctx, c); err != nil {
				log.Error().Err(err).
					Int64("user_id", int64(c.UserID)).
					Int64("seq", c.Seq).
					Msg("Crate delivery failed")
			}
		}
	}
}

// deliver adds the crate's item to the inventory under the user lock so
// the append serializes with full-record writes from sell and rename.
func (m *Manager) deliver(ctx context.Context, c *Crate) error {
	item := model.InventoryItem{
		Kind:        c.Kind,
		Name:        strconv.FormatInt(c.Seq, 10),
		Index:       c.Seq,
		FromEpisode: c.Episode.Name,
		AcquiredAt:  time.Now().Unix(),
	}

	err := m.locks.WithLock(c.UserID, func() error {
		return m.users.AppendItem(ctx, c.UserID, item)
	})
	if err != nil {
		return err
	}
	metrics.CratesDelivered.WithLabelValues(string(c.Kind)).Inc()

	_ = m.replies.Reply(ctx, c.ChannelID, "Crate opened!")

	switch c.Kind {
	case model.KindFrame:
		_ = m.replies.Reply(ctx, c.ChannelID, "You got a Frame Crate!")
		f, err := os.Open(c.PayloadPath)
		if err != nil {
			return fmt.Errorf("failed to open frame payload: %w", err)
		}
		defer f.Close()
		return m.replies.SendFile(ctx, c.ChannelID, fmt.Sprintf("%d.png", c.Seq), f)
	case model.KindVoiceline:
		_ = m.replies.Reply(ctx, c.ChannelID, "You got a Voiceline Crate!")
		return m.replies.Reply(ctx, c.ChannelID,
			fmt.Sprintf("You can play your new voiceline with %svoiceline %d in the server chat.", m.cfg.Prefix, c.Seq))
	}
	return nil
}
