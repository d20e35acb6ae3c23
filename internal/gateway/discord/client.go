// Package discord adapts the disgo client to the collaborator
// interfaces the bot core consumes: inbound message events, text and
// file replies, and voice session control with streamed playback.
package discord

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	disgogateway "github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog/log"

	"discord-episode-bot/internal/gateway"
)

// ErrNoVoiceConn is returned when playback is requested without an open
// voice connection for the guild.
var ErrNoVoiceConn = errors.New("no voice connection for guild")

// Gateway wraps a disgo client behind the platform interfaces.
type Gateway struct {
	client     bot.Client
	ffmpegPath string
	handler    func(gateway.Message)
}

var (
	_ gateway.ReplySink = (*Gateway)(nil)
	_ gateway.Voice     = (*Gateway)(nil)
)

// New builds the disgo client with the intents and caches the bot
// needs. The message handler must be set with SetHandler before Open.
func New(token, ffmpegPath string) (*Gateway, error) {
	g := &Gateway{ffmpegPath: ffmpegPath}

	client, err := disgo.New(token,
		bot.WithGatewayConfigOpts(disgogateway.WithIntents(
			disgogateway.IntentGuilds,
			disgogateway.IntentGuildMessages,
			disgogateway.IntentDirectMessages,
			disgogateway.IntentMessageContent,
			disgogateway.IntentGuildVoiceStates,
			disgogateway.IntentGuildMembers,
		)),
		bot.WithCacheConfigOpts(cache.WithCaches(
			cache.FlagGuilds,
			cache.FlagChannels,
			cache.FlagMembers,
			cache.FlagVoiceStates,
		)),
		bot.WithEventListenerFunc(g.onMessageCreate),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build discord client: %w", err)
	}

	g.client = client
	return g, nil
}

// SetHandler installs the inbound message callback. Must be called
// before Open.
func (g *Gateway) SetHandler(fn func(gateway.Message)) { g.handler = fn }

// Open connects to the Discord gateway.
func (g *Gateway) Open(ctx context.Context) error {
	if err := g.client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}
	log.Info().Msg("Discord gateway connected")
	return nil
}

// Close disconnects from Discord.
func (g *Gateway) Close(ctx context.Context) {
	g.client.Close(ctx)
}

// onMessageCreate converts inbound events and hands them to the router.
// Routing runs on its own goroutine so a slow handler never stalls the
// gateway event loop.
func (g *Gateway) onMessageCreate(e *events.MessageCreate) {
	if e.Message.Author.Bot || e.Message.Author.ID == g.client.ID() {
		return
	}
	if g.handler == nil {
		return
	}

	msg := gateway.Message{
		ID:         e.MessageID,
		ChannelID:  e.ChannelID,
		GuildID:    e.GuildID,
		AuthorID:   e.Message.Author.ID,
		AuthorName: e.Message.Author.Username,
		Content:    e.Message.Content,
	}
	go g.handler(msg)
}

// Reply sends a plain text message to a channel.
func (g *Gateway) Reply(ctx context.Context, channelID snowflake.ID, text string) error {
	_, err := g.client.Rest().CreateMessage(channelID,
		discord.NewMessageCreateBuilder().SetContent(text).Build(),
		rest.WithCtx(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendFile attaches a file to a channel message.
func (g *Gateway) SendFile(ctx context.Context, channelID snowflake.ID, name string, r io.Reader) error {
	_, err := g.client.Rest().CreateMessage(channelID,
		discord.NewMessageCreateBuilder().AddFile(name, "", r).Build(),
		rest.WithCtx(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to send file: %w", err)
	}
	return nil
}

// Join connects (or moves) the bot to a voice channel.
func (g *Gateway) Join(ctx context.Context, guildID, channelID snowflake.ID) error {
	conn := g.client.VoiceManager().CreateConn(guildID)
	if err := conn.Open(ctx, channelID, false, false); err != nil {
		return fmt.Errorf("failed to open voice connection: %w", err)
	}
	return nil
}

// Leave disconnects the bot from the guild's voice session.
func (g *Gateway) Leave(ctx context.Context, guildID snowflake.ID) error {
	conn := g.client.VoiceManager().GetConn(guildID)
	if conn == nil {
		return nil
	}
	conn.Close(ctx)
	return nil
}

// Listeners enumerates the members sharing the bot's voice channel,
// with the deaf/AFK flags reward eligibility is judged on.
func (g *Gateway) Listeners(_ context.Context, guildID snowflake.ID) ([]gateway.Listener, error) {
	botState, ok := g.client.Caches().VoiceState(guildID, g.client.ID())
	if !ok || botState.ChannelID == nil {
		return nil, ErrNoVoiceConn
	}
	botChannel := *botState.ChannelID

	var afkChannel *snowflake.ID
	if guild, ok := g.client.Caches().Guild(guildID); ok {
		afkChannel = guild.AfkChannelID
	}

	var listeners []gateway.Listener
	g.client.Caches().VoiceStatesForEach(guildID, func(vs discord.VoiceState) {
		if vs.ChannelID == nil || *vs.ChannelID != botChannel || vs.UserID == g.client.ID() {
			return
		}
		username := ""
		if member, ok := g.client.Caches().Member(guildID, vs.UserID); ok {
			username = member.User.Username
		}
		listeners = append(listeners, gateway.Listener{
			ID:       vs.UserID,
			Username: username,
			Deaf:     vs.GuildDeaf,
			SelfDeaf: vs.SelfDeaf,
			AFK:      afkChannel != nil && *vs.ChannelID == *afkChannel,
		})
	})
	return listeners, nil
}

// MemberChannel returns the voice channel a member currently sits in.
func (g *Gateway) MemberChannel(_ context.Context, guildID, userID snowflake.ID) (snowflake.ID, bool) {
	vs, ok := g.client.Caches().VoiceState(guildID, userID)
	if !ok || vs.ChannelID == nil {
		return 0, false
	}
	return *vs.ChannelID, true
}

// Play streams the media file at path into the guild's voice session.
func (g *Gateway) Play(ctx context.Context, guildID snowflake.ID, path string, onDone func()) (gateway.Player, error) {
	conn := g.client.VoiceManager().GetConn(guildID)
	if conn == nil {
		return nil, ErrNoVoiceConn
	}
	return newPlayer(ctx, g.ffmpegPath, path, conn, onDone)
}
