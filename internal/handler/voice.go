// Package handler provides the bot's command handlers. Each handler
// struct groups one concern and holds only the collaborators it needs;
// the command specs binding them to names live in the bot package.
package handler

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog/log"

	"discord-episode-bot/internal/command"
	"discord-episode-bot/internal/episode"
	"discord-episode-bot/internal/gateway"
	"discord-episode-bot/internal/media"
	"discord-episode-bot/internal/model"
	"discord-episode-bot/internal/playback"
	"discord-episode-bot/internal/store"
)

// VoiceHandler handles the voice-session commands: joining, playback
// and voicelines.
type VoiceHandler struct {
	session      *playback.Session
	voice        gateway.Voice
	replies      gateway.ReplySink
	library      *episode.Library
	studio       *media.Studio
	users        store.UserStore
	greetingClip string
}

// NewVoiceHandler creates a VoiceHandler.
func NewVoiceHandler(session *playback.Session, voice gateway.Voice, replies gateway.ReplySink, library *episode.Library, studio *media.Studio, users store.UserStore, greetingClip string) *VoiceHandler {
	return &VoiceHandler{
		session:      session,
		voice:        voice,
		replies:      replies,
		library:      library,
		studio:       studio,
		users:        users,
		greetingClip: greetingClip,
	}
}

// HandleJoin joins the invoker's voice channel.
func (h *VoiceHandler) HandleJoin(ctx context.Context, inv *command.Invocation) error {
	guildID := *inv.Msg.GuildID

	channelID, ok := h.voice.MemberChannel(ctx, guildID, inv.Msg.AuthorID)
	if !ok {
		return h.replies.Reply(ctx, inv.Msg.ChannelID, "You are not in a voice channel!")
	}

	if h.session.Connected() && h.session.GuildID() == guildID && h.session.ChannelID() == channelID {
		return h.replies.Reply(ctx, inv.Msg.ChannelID, "I am already in the channel!")
	}

	if err := h.session.Join(ctx, guildID, channelID); err != nil {
		_ = h.replies.Reply(ctx, inv.Msg.ChannelID, "Failed to join the voice channel.")
		return err
	}

	// Greeting clip is best effort; a missing file never fails the join.
	if h.greetingClip != "" {
		if err := h.session.PlayVoiceline(ctx, h.greetingClip); err != nil {
			log.Debug().Err(err).Msg("Greeting clip skipped")
		}
	}
	return nil
}

// HandleJoinChannel joins a voice channel by id.
func (h *VoiceHandler) HandleJoinChannel(ctx context.Context, inv *command.Invocation) error {
	channelID, err := snowflake.Parse(inv.Args[0].Str())
	if err != nil {
		return h.replies.Reply(ctx, inv.Msg.ChannelID, "Invalid channel!")
	}

	guildID := *inv.Msg.GuildID
	if h.session.Connected() && h.session.GuildID() == guildID && h.session.ChannelID() == channelID {
		return h.replies.Reply(ctx, inv.Msg.ChannelID, "I am already in the channel!")
	}

	if err := h.session.Join(ctx, guildID, channelID); err != nil {
		_ = h.replies.Reply(ctx, inv.Msg.ChannelID, "Failed to join the voice channel.")
		return err
	}
	return nil
}

// HandlePlay plays a random episode from the no-repeat pool.
func (h *VoiceHandler) HandlePlay(ctx context.Context, inv *command.Invocation) error {
	if h.session.Active() {
		return h.replies.Reply(ctx, inv.Msg.ChannelID, "Sorry, an episode is already playing!")
	}
	if done, err := h.ensureVoice(ctx, inv); done || err != nil {
		return err
	}

	ep, ok := h.library.NextRandom()
	if !ok {
		return h.replies.Reply(ctx, inv.Msg.ChannelID, "There are no episodes to play.")
	}
	return h.playEpisode(ctx, inv, ep)
}

// HandleRequest plays a specific episode by filename or number.
func (h *VoiceHandler) HandleRequest(ctx context.Context, inv *command.Invocation) error {
	if h.session.Active() {
		return h.replies.Reply(ctx, inv.Msg.ChannelID, "Sorry, an episode is already playing!")
	}

	ep, ok := h.library.Find(inv.Args[0].Str())
	if !ok {
		return h.replies.Reply(ctx, inv.Msg.ChannelID, "Sorry, that episode does not exist!")
	}

	if done, err := h.ensureVoice(ctx, inv); done || err != nil {
		return err
	}
	return h.playEpisode(ctx, inv, ep)
}

// HandleSkip stops the current episode; the completion bookkeeping still
// runs for everyone listening.
func (h *VoiceHandler) HandleSkip(ctx context.Context, inv *command.Invocation) error {
	h.session.Skip()
	return nil
}

// HandleLeave tears the voice session down.
func (h *VoiceHandler) HandleLeave(ctx context.Context, inv *command.Invocation) error {
	return h.session.Leave(ctx)
}

// HandleVoiceline plays one of the invoker's unlocked voicelines.
func (h *VoiceHandler) HandleVoiceline(ctx context.Context, inv *command.Invocation) error {
	name := inv.Args[0].Str()

	rec, _, err := h.users.GetOrCreate(ctx, inv.Msg.AuthorID, inv.Msg.AuthorName)
	if err != nil {
		return err
	}

	i := rec.FindItem(model.KindVoiceline, name)
	if i < 0 {
		return h.replies.Reply(ctx, inv.Msg.ChannelID,
			"You don't have that voiceline unlocked. Try opening some crates.")
	}

	path := h.studio.VoicelinePath(inv.Msg.AuthorID, rec.Inventory[i].Index)
	if _, err := os.Stat(path); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Voiceline asset missing")
		return h.replies.Reply(ctx, inv.Msg.ChannelID, "That voiceline's file has gone missing.")
	}

	if done, err := h.ensureVoice(ctx, inv); done || err != nil {
		return err
	}

	if err := h.session.PlayVoiceline(ctx, path); err != nil {
		if errors.Is(err, playback.ErrEpisodePlaying) {
			return h.replies.Reply(ctx, inv.Msg.ChannelID, "An episode is playing! Wait until it is over.")
		}
		return err
	}
	return nil
}

// ensureVoice connects the session to the invoker's voice channel if it
// is not there already. Returns done=true when the invocation has been
// answered and should go no further.
func (h *VoiceHandler) ensureVoice(ctx context.Context, inv *command.Invocation) (bool, error) {
	guildID := *inv.Msg.GuildID

	channelID, ok := h.voice.MemberChannel(ctx, guildID, inv.Msg.AuthorID)
	if !ok {
		return true, h.replies.Reply(ctx, inv.Msg.ChannelID, "You are not in a voice channel!")
	}

	if h.session.Connected() && h.session.GuildID() == guildID && h.session.ChannelID() == channelID {
		return false, nil
	}

	if err := h.session.Join(ctx, guildID, channelID); err != nil {
		_ = h.replies.Reply(ctx, inv.Msg.ChannelID, "Failed to join the voice channel.")
		return true, err
	}
	return false, nil
}

func (h *VoiceHandler) playEpisode(ctx context.Context, inv *command.Invocation, ep episode.Episode) error {
	err := h.session.PlayEpisode(ctx, ep, inv.Msg.ChannelID)
	if errors.Is(err, playback.ErrEpisodePlaying) {
		return h.replies.Reply(ctx, inv.Msg.ChannelID, "Sorry, an episode is already playing!")
	}
	if err != nil {
		_ = h.replies.Reply(ctx, inv.Msg.ChannelID, fmt.Sprintf("Failed to play %q.", ep.Name))
		return err
	}
	return nil
}
