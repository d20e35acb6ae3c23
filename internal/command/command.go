// Package command implements the authorization and dispatch pipeline for
// inbound text commands. Commands are registered once at startup as
// declarative specs (name, context, access, argument signature, handler);
// the dispatcher checks context, access and argument shape in that order
// and only then invokes the handler, with coerced arguments. Every
// rejection produces exactly one user-facing reply and no side effects.
package command

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"discord-episode-bot/internal/gateway"
	"discord-episode-bot/internal/metrics"
	"discord-episode-bot/internal/model"
)

// Context restricts where a command may be invoked.
type Context int

// Command contexts.
const (
	InPublic  Context = iota // guild text channel only
	InPrivate                // direct message only
	Anywhere
)

func (c Context) String() string {
	switch c {
	case InPublic:
		return "public"
	case InPrivate:
		return "private"
	default:
		return "anywhere"
	}
}

// ArgType declares the coercion applied to one positional argument.
type ArgType int

// Argument types.
const (
	ArgString ArgType = iota
	ArgInt
	ArgFloat
)

// Arg is one coerced argument value.
type Arg struct {
	kind ArgType
	s    string
	i    int64
	f    float64
}

// Str returns the argument as text.
func (a Arg) Str() string { return a.s }

// Int returns the parsed integer value. Only valid for ArgInt arguments.
func (a Arg) Int() int64 { return a.i }

// Float returns the parsed numeric value. Valid for ArgFloat and ArgInt.
func (a Arg) Float() float64 { return a.f }

// Invocation carries everything a handler receives for one command call.
type Invocation struct {
	Msg    gateway.Message
	Access model.AccessLevel
	Args   []Arg
}

// HandlerFunc is the target of a dispatched command. Errors returned here
// are infrastructure failures; they abort only this invocation and are
// logged by the dispatcher.
type HandlerFunc func(ctx context.Context, inv *Invocation) error

// Spec declares one command.
type Spec struct {
	Name    string
	Context Context
	Access  model.AccessLevel
	Args    []ArgType
	Help    string
	Handler HandlerFunc
}

// Dispatcher routes inbound commands to their registered handlers.
type Dispatcher struct {
	replies gateway.ReplySink
	specs   map[string]Spec
}

// NewDispatcher creates a dispatcher replying through the given sink.
func NewDispatcher(replies gateway.ReplySink) *Dispatcher {
	return &Dispatcher{
		replies: replies,
		specs:   make(map[string]Spec),
	}
}

// Register adds a command spec to the table. Panics on duplicate names or
// a missing handler; registration happens once at startup and a broken
// table is a programming error.
func (d *Dispatcher) Register(spec Spec) {
	name := strings.ToLower(spec.Name)
	if name == "" || spec.Handler == nil {
		panic(fmt.Sprintf("command: invalid spec %q", spec.Name))
	}
	if _, exists := d.specs[name]; exists {
		panic(fmt.Sprintf("command: duplicate registration of %q", name))
	}
	spec.Name = name
	d.specs[name] = spec
}

// Specs returns all registered specs sorted by name, for the help command.
func (d *Dispatcher) Specs() []Spec {
	specs := make([]Spec, 0, len(d.specs))
	for _, spec := range d.specs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Dispatch routes one parsed command line. name is the bare command name
// (prefix already stripped), args the remaining space-delimited tokens,
// access the invoker's effective access level. User-input problems are
// answered with a reply and a nil error; a non-nil error means the
// handler itself failed.
func (d *Dispatcher) Dispatch(ctx context.Context, msg gateway.Message, access model.AccessLevel, name string, args []string) error {
	spec, ok := d.specs[strings.ToLower(name)]
	if !ok {
		metrics.CommandsRejected.WithLabelValues("unknown").Inc()
		return d.replies.Reply(ctx, msg.ChannelID, fmt.Sprintf("Unknown command %q.", name))
	}

	if reject, reply := d.checkContext(spec, msg); reject {
		metrics.CommandsRejected.WithLabelValues("context").Inc()
		return d.replies.Reply(ctx, msg.ChannelID, reply)
	}

	if access < spec.Access {
		log.Debug().
			Str("command", spec.Name).
			Int64("user_id", int64(msg.AuthorID)).
			Str("required", spec.Access.String()).
			Msg("Insufficient access")
		metrics.CommandsRejected.WithLabelValues("access").Inc()
		return d.replies.Reply(ctx, msg.ChannelID,
			fmt.Sprintf("You do not have sufficient access to use the command %s.", spec.Name))
	}

	coerced, ok := coerceArgs(spec.Args, args)
	if !ok {
		metrics.CommandsRejected.WithLabelValues("arguments").Inc()
		return d.replies.Reply(ctx, msg.ChannelID,
			fmt.Sprintf("Invalid arguments to command %s.", spec.Name))
	}

	metrics.CommandsDispatched.WithLabelValues(spec.Name).Inc()
	inv := &Invocation{Msg: msg, Access: access, Args: coerced}
	if err := spec.Handler(ctx, inv); err != nil {
		log.Error().Err(err).
			Str("command", spec.Name).
			Int64("user_id", int64(msg.AuthorID)).
			Msg("Command handler failed")
		return err
	}
	return nil
}

// checkContext applies the public/private restriction.
func (d *Dispatcher) checkContext(spec Spec, msg gateway.Message) (bool, string) {
	switch spec.Context {
	case InPublic:
		if msg.Private() {
			return true, fmt.Sprintf("The command %s can only be used in a server text channel.", spec.Name)
		}
	case InPrivate:
		if !msg.Private() {
			return true, fmt.Sprintf("The command %s can only be used in a private message.", spec.Name)
		}
	}
	return false, ""
}

// coerceArgs applies the declared argument signature positionally. The
// argument count must match the signature exactly, and every numeric
// token must parse; any failure rejects the invocation as a whole.
func coerceArgs(types []ArgType, args []string) ([]Arg, bool) {
	if len(args) != len(types) {
		return nil, false
	}

	coerced := make([]Arg, len(args))
	for i, t := range types {
		switch t {
		case ArgInt:
			n, err := strconv.ParseInt(args[i], 10, 64)
			if err != nil {
				return nil, false
			}
			coerced[i] = Arg{kind: ArgInt, s: args[i], i: n, f: float64(n)}
		case ArgFloat:
			f, err := strconv.ParseFloat(args[i], 64)
			if err != nil {
				return nil, false
			}
			coerced[i] = Arg{kind: ArgFloat, s: args[i], f: f}
		default:
			coerced[i] = Arg{kind: ArgString, s: args[i]}
		}
	}
	return coerced, true
}

// Split parses a raw message body into command name and arguments after
// the prefix has been stripped. Multiple spaces collapse.
func Split(body string) (string, []string) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
