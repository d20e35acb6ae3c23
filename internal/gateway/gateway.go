// Package gateway defines the contracts the bot consumes from the chat
// and voice platform. The production implementation (disgo) lives in the
// discord subpackage; tests substitute fakes.
package gateway

import (
	"context"
	"io"

	"github.com/disgoorg/snowflake/v2"
)

// Message is one inbound chat message.
type Message struct {
	ID         snowflake.ID
	ChannelID  snowflake.ID
	GuildID    *snowflake.ID // nil for direct messages
	AuthorID   snowflake.ID
	AuthorName string
	Content    string
}

// Private reports whether the message arrived via direct message.
func (m Message) Private() bool { return m.GuildID == nil }

// ReplySink delivers text replies and file attachments to a channel.
type ReplySink interface {
	Reply(ctx context.Context, channelID snowflake.ID, text string) error
	SendFile(ctx context.Context, channelID snowflake.ID, name string, r io.Reader) error
}

// Listener is one member of the current voice session.
type Listener struct {
	ID       snowflake.ID
	Username string
	Deaf     bool
	SelfDeaf bool
	AFK      bool
}

// Eligible reports whether the member counts for listening rewards.
func (l Listener) Eligible() bool { return !l.Deaf && !l.SelfDeaf && !l.AFK }

// Player is a handle to one running playback.
type Player interface {
	// Stop ends the playback. Safe to call more than once.
	Stop()
	// Done reports whether the playback has finished or been stopped.
	Done() bool
}

// Voice is the voice-session capability of the platform.
type Voice interface {
	// Join connects (or moves) the bot to a voice channel.
	Join(ctx context.Context, guildID, channelID snowflake.ID) error

	// Leave disconnects the bot from the guild's voice session.
	Leave(ctx context.Context, guildID snowflake.ID) error

	// Listeners enumerates the members sharing the bot's voice channel.
	Listeners(ctx context.Context, guildID snowflake.ID) ([]Listener, error)

	// MemberChannel returns the voice channel a member currently sits in.
	MemberChannel(ctx context.Context, guildID, userID snowflake.ID) (snowflake.ID, bool)

	// Play starts streaming the media file at path into the guild's voice
	// session. onDone runs exactly once when the playback finishes or is
	// stopped; it may be nil.
	Play(ctx context.Context, guildID snowflake.ID, path string, onDone func()) (Player, error)
}
