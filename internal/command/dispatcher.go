// Package command turns operator text ("event restart 5 minutes", "reload",
// "status") into actions on the countdown coordinator.
//
// Lines arrive from the server console, Telegram and cron schedules. Parsing
// happens on the caller's goroutine; anything touching countdown state is
// handed to the tick loop.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"nerdalert/internal/storage"
	logx "nerdalert/pkg/logx"
)

var (
	ErrEmpty          = errors.New("empty command")
	ErrUnknownCommand = errors.New("unknown command")
	ErrUnauthorized   = errors.New("not allowed")
	ErrUsage          = errors.New("bad usage")
)

type Source string

const (
	SourceConsole  Source = "console"
	SourceTelegram Source = "telegram"
	SourceSchedule Source = "schedule"
)

// Request is one parsed command line.
type Request struct {
	ID         string
	Source     Source
	Actor      string
	Privileged bool
	Line       string
	Name       string
	Args       []string
	Logger     logx.Logger

	// Set by handlers for the audit trail.
	Target  string
	Seconds int
	Outcome string
}

type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Privileged  bool

	// Audit records each invocation in the store.
	Audit   bool
	Timeout time.Duration
	Handle  HandlerFunc
}

// Dispatcher routes command lines to registered commands.
type Dispatcher struct {
	prefix string
	log    logx.Logger
	store  storage.Store

	mu       sync.RWMutex
	commands map[string]*entry
	alias    map[string]string
}

type entry struct {
	cmd Command
	h   HandlerFunc
}

const defaultTimeout = 10 * time.Second

func NewDispatcher(prefix string, store storage.Store, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		prefix:   strings.ToLower(strings.TrimSpace(prefix)),
		log:      log,
		store:    store,
		commands: map[string]*entry{},
		alias:    map[string]string{},
	}
}

func (d *Dispatcher) Register(cmd Command) error {
	name := strings.ToLower(strings.TrimSpace(cmd.Name))
	if name == "" || cmd.Handle == nil {
		return fmt.Errorf("command: name and handler are required")
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	mws := []Middleware{MWPanicRecover(), MWRequestLog(), MWAccess(cmd.Privileged)}
	if cmd.Audit {
		mws = append(mws, MWAudit(d.store))
	}
	mws = append(mws, MWTimeout(timeout))

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.commands[name]; ok {
		return fmt.Errorf("command %q already registered", name)
	}
	for _, a := range cmd.Aliases {
		a = strings.ToLower(strings.TrimSpace(a))
		if _, ok := d.commands[a]; ok {
			return fmt.Errorf("alias %q collides with a command", a)
		}
		if _, ok := d.alias[a]; ok {
			return fmt.Errorf("alias %q already registered", a)
		}
	}
	cmd.Name = name
	d.commands[name] = &entry{cmd: cmd, h: Chain(cmd.Handle, mws...)}
	for _, a := range cmd.Aliases {
		d.alias[strings.ToLower(strings.TrimSpace(a))] = name
	}
	return nil
}

// Dispatch parses line and runs the matching command.
//
// Accepted shapes: "<prefix> event ...", "event ...", and Telegram's
// "/event ..." or "/event@botname ...".
func (d *Dispatcher) Dispatch(ctx context.Context, src Source, actor string, privileged bool, line string) (string, error) {
	tokens := Tokenize(line)
	if len(tokens) > 0 && d.prefix != "" && strings.EqualFold(strings.TrimPrefix(tokens[0], "/"), d.prefix) {
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		return "", ErrEmpty
	}

	name := strings.ToLower(strings.TrimPrefix(tokens[0], "/"))
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}

	d.mu.RLock()
	if target, ok := d.alias[name]; ok {
		name = target
	}
	e := d.commands[name]
	d.mu.RUnlock()
	if e == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	id := uuid.NewString()
	req := &Request{
		ID:         id,
		Source:     src,
		Actor:      actor,
		Privileged: privileged,
		Line:       line,
		Name:       name,
		Args:       tokens[1:],
		Logger:     d.log.With(logx.String("req_id", id), logx.String("cmd", name)),
	}
	return e.h(ctx, req)
}

// Commands returns the registered commands sorted by name.
func (d *Dispatcher) Commands() []Command {
	d.mu.RLock()
	cmds := make([]Command, 0, len(d.commands))
	for _, e := range d.commands {
		cmds = append(cmds, e.cmd)
	}
	d.mu.RUnlock()
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// Help lists the commands visible to a caller.
func (d *Dispatcher) Help(privileged bool) string {
	var b strings.Builder
	for _, c := range d.Commands() {
		if c.Privileged && !privileged {
			continue
		}
		usage := c.Usage
		if usage == "" {
			usage = c.Name
		}
		fmt.Fprintf(&b, "%s - %s\n", usage, c.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
