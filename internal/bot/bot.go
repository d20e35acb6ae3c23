// Package bot assembles the command table and routes inbound messages
// into the dispatch pipeline.
package bot

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"discord-episode-bot/internal/command"
	"discord-episode-bot/internal/config"
	"discord-episode-bot/internal/crate"
	"discord-episode-bot/internal/episode"
	"discord-episode-bot/internal/gateway"
	"discord-episode-bot/internal/handler"
	"discord-episode-bot/internal/media"
	"discord-episode-bot/internal/model"
	"discord-episode-bot/internal/pkg/lock"
	"discord-episode-bot/internal/playback"
	"discord-episode-bot/internal/request"
	"discord-episode-bot/internal/store"
)

// Bot routes inbound chat messages through the command dispatcher.
type Bot struct {
	cfg        *config.Config
	users      store.UserStore
	replies    gateway.ReplySink
	dispatcher *command.Dispatcher
}

// Dependencies holds everything the bot's handlers need.
type Dependencies struct {
	Config   *config.Config
	Users    store.UserStore
	Locks    *lock.UserLock
	Requests *request.Manager
	Ledger   request.Auditor
	History  handler.LedgerReader
	Replies  gateway.ReplySink
	Voice    gateway.Voice
	Session  *playback.Session
	Library  *episode.Library
	Studio   *media.Studio
	Crates   *crate.Manager
}

// New builds the Bot and registers the full command table.
func New(deps *Dependencies) *Bot {
	b := &Bot{
		cfg:        deps.Config,
		users:      deps.Users,
		replies:    deps.Replies,
		dispatcher: command.NewDispatcher(deps.Replies),
	}

	voiceHandler := handler.NewVoiceHandler(
		deps.Session, deps.Voice, deps.Replies, deps.Library, deps.Studio, deps.Users,
		deps.Config.Content.GreetingClip,
	)
	economyHandler := handler.NewEconomyHandler(deps.Users, deps.Locks, deps.Crates, deps.Studio, deps.Replies, deps.History)
	requestHandler := handler.NewRequestHandler(
		deps.Requests, deps.Users, deps.Locks, deps.Ledger, deps.Replies,
		deps.Config.Crates.SellPrice, deps.Config.Bot.Prefix,
	)
	adminHandler := handler.NewAdminHandler(deps.Users, deps.Ledger, deps.Replies)

	for _, spec := range []command.Spec{
		{Name: "join", Context: command.InPublic, Access: model.AccessUser,
			Help: "join your voice channel", Handler: voiceHandler.HandleJoin},
		{Name: "joinchannel", Context: command.InPublic, Access: model.AccessAdmin,
			Args: []command.ArgType{command.ArgString},
			Help: "join a voice channel by id", Handler: voiceHandler.HandleJoinChannel},
		{Name: "play", Context: command.InPublic, Access: model.AccessUser,
			Help: "play a random episode", Handler: voiceHandler.HandlePlay},
		{Name: "leave", Context: command.InPublic, Access: model.AccessAdmin,
			Help: "leave the voice channel", Handler: voiceHandler.HandleLeave},
		{Name: "request", Context: command.InPublic, Access: model.AccessUser,
			Args: []command.ArgType{command.ArgString},
			Help: "play a specific episode", Handler: voiceHandler.HandleRequest},
		{Name: "skip", Context: command.InPublic, Access: model.AccessAdmin,
			Help: "skip the current episode", Handler: voiceHandler.HandleSkip},
		{Name: "voiceline", Context: command.InPublic, Access: model.AccessUser,
			Args: []command.ArgType{command.ArgString},
			Help: "play one of your voicelines", Handler: voiceHandler.HandleVoiceline},

		{Name: "info", Context: command.Anywhere, Access: model.AccessUser,
			Help: "show your stats", Handler: economyHandler.HandleInfo},
		{Name: "opencrate", Context: command.InPrivate, Access: model.AccessUser,
			Help: "buy a crate", Handler: economyHandler.HandleOpenCrate},
		{Name: "list", Context: command.InPrivate, Access: model.AccessUser,
			Args: []command.ArgType{command.ArgString},
			Help: "list your items of a kind", Handler: economyHandler.HandleList},
		{Name: "gallery", Context: command.InPrivate, Access: model.AccessUser,
			Args: []command.ArgType{command.ArgString},
			Help: "view one of your frames", Handler: economyHandler.HandleGallery},
		{Name: "rename", Context: command.InPrivate, Access: model.AccessUser,
			Args: []command.ArgType{command.ArgString, command.ArgString, command.ArgString},
			Help: "rename an item", Handler: economyHandler.HandleRename},
		{Name: "history", Context: command.InPrivate, Access: model.AccessUser,
			Help: "show your recent point changes", Handler: economyHandler.HandleHistory},

		{Name: "sell", Context: command.InPrivate, Access: model.AccessUser,
			Args: []command.ArgType{command.ArgString, command.ArgString},
			Help: "stage selling an item", Handler: requestHandler.HandleSell},
		{Name: "confirm", Context: command.InPrivate, Access: model.AccessUser,
			Help: "confirm your pending request", Handler: requestHandler.HandleConfirm},
		{Name: "cancel", Context: command.InPrivate, Access: model.AccessUser,
			Help: "cancel your pending request", Handler: requestHandler.HandleCancel},
		{Name: "undo", Context: command.InPrivate, Access: model.AccessUser,
			Help: "undo your last confirmed request", Handler: requestHandler.HandleUndo},

		{Name: "points", Context: command.InPrivate, Access: model.AccessAdmin,
			Args: []command.ArgType{command.ArgString, command.ArgInt},
			Help: "adjust points: add/sub/set amount", Handler: adminHandler.HandlePoints},
		{Name: "help", Context: command.Anywhere, Access: model.AccessUser,
			Help: "show this list", Handler: b.handleHelp},
	} {
		b.dispatcher.Register(spec)
	}

	return b
}

// OnMessage is the inbound routing entry point, invoked by the gateway
// for every user message. Non-command messages are ignored.
func (b *Bot) OnMessage(msg gateway.Message) {
	body, ok := strings.CutPrefix(msg.Content, b.cfg.Bot.Prefix)
	if !ok {
		return
	}
	name, args := command.Split(body)
	if name == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rec, _, err := b.users.GetOrCreate(ctx, msg.AuthorID, msg.AuthorName)
	if err != nil {
		log.Error().Err(err).Int64("user_id", int64(msg.AuthorID)).Msg("Failed to load user record")
		return
	}

	access := rec.AccessLevel
	if b.cfg.IsAdmin(msg.AuthorID) && access < model.AccessAdmin {
		access = model.AccessAdmin
	}

	log.Debug().
		Str("command", name).
		Strs("args", args).
		Str("user", msg.AuthorName).
		Str("access", access.String()).
		Msg("Command received")

	if err := b.dispatcher.Dispatch(ctx, msg, access, name, args); err != nil {
		log.Error().Err(err).Str("command", name).Msg("Command failed")
	}
}

// handleHelp lists every registered command with its requirements.
func (b *Bot) handleHelp(ctx context.Context, inv *command.Invocation) error {
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, spec := range b.dispatcher.Specs() {
		sb.WriteString(b.cfg.Bot.Prefix)
		sb.WriteString(spec.Name)
		if len(spec.Args) > 0 {
			for range spec.Args {
				sb.WriteString(" <arg>")
			}
		}
		sb.WriteString(": ")
		sb.WriteString(spec.Help)
		sb.WriteString(" (")
		sb.WriteString(spec.Context.String())
		if spec.Access > model.AccessUser {
			sb.WriteString(", ")
			sb.WriteString(spec.Access.String())
		}
		sb.WriteString(")\n")
	}
	return b.replies.Reply(ctx, inv.Msg.ChannelID, strings.TrimSuffix(sb.String(), "\n"))
}
