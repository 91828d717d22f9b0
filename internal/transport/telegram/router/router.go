package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"slotwatch/internal/runtime/supervisor"
	kit "slotwatch/internal/transport"
	logx "slotwatch/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

const (
	defaultWorkers  = 2
	defaultQueue    = 64
	defaultTimeout  = 15 * time.Second
	menuSyncTimeout = 5 * time.Second
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Access      Access
	Timeout     time.Duration // 0 means defaultTimeout
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger
	Sender  kit.Sender
}

// Reply sends text back to the requesting chat.
func (r *Request) Reply(ctx context.Context, text string, mode string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: mode, DisablePreview: true})
	return err
}

// Router maps "/name args" messages to commands and runs them on a small
// worker pool.
type Router struct {
	log    logx.Logger
	sender kit.Sender

	mu     sync.RWMutex
	cmds   map[string]Command
	order  []Command
	owners []int64

	jobs chan func()
}

func New(log logx.Logger, sender kit.Sender, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:    log.With(logx.String("comp", "telegram.router")),
		sender: sender,
		cmds:   map[string]Command{},
		owners: append([]int64(nil), owners...),
		jobs:   make(chan func(), defaultQueue),
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.owners {
		if o == id {
			return true
		}
	}
	return false
}

// Register installs the command set, replacing any previous one. A /help
// listing is always added.
func (r *Router) Register(cmds ...Command) {
	table := map[string]Command{}
	order := make([]Command, 0, len(cmds)+1)
	add := func(c Command) {
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			return
		}
		c.Name = name
		order = append(order, c)
		table[name] = c
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, taken := table[a]; !taken {
					table[a] = c
				}
			}
		}
	}
	for _, c := range cmds {
		add(c)
	}
	add(Command{
		Name:        "help",
		Description: "list commands",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(req.FromID), kit.ParseModeNone)
		},
	})

	r.mu.Lock()
	r.cmds = table
	r.order = order
	r.mu.Unlock()
}

func (r *Router) helpText(from int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner := false
	for _, o := range r.owners {
		owner = owner || o == from
	}
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range r.order {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		b.WriteString("/" + c.Name)
		if c.Description != "" {
			b.WriteString(" - " + c.Description)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// SyncMenu publishes the public commands to the platform menu when the
// sender supports it.
func (r *Router) SyncMenu(ctx context.Context) error {
	up, ok := r.sender.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	r.mu.RLock()
	menu := buildMenu(r.order)
	r.mu.RUnlock()
	ctx, cancel := context.WithTimeout(ctx, menuSyncTimeout)
	defer cancel()
	return up.UpdateMenuCommands(ctx, menu)
}

// DispatchLoop consumes updates until ctx ends or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(r.log),
		supervisor.WithCancelOnError(false),
	)
	for i := 0; i < defaultWorkers; i++ {
		name := "command.worker." + strconv.Itoa(i)
		sup.GoRestart(name, func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(job)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}
	r.log.Info("command dispatcher started", logx.Int("workers", defaultWorkers))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

func (r *Router) runJob(job func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in command job", logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

// Route parses one update and queues its command. Non-command text is ignored.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return
	}
	word := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	r.mu.RLock()
	cmd, ok := r.cmds[strings.ToLower(word)]
	r.mu.RUnlock()
	if !ok {
		// Unknown commands in groups are usually meant for other bots.
		if !msg.IsGroup {
			_, _ = r.sender.SendText(ctx, chat, "unknown command, try /help", nil)
		}
		return
	}
	if cmd.Access == AccessOwnerOnly && !r.isOwner(msg.FromID) {
		_, _ = r.sender.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    fields[1:],
		ReqID:   rid,
		Sender:  r.sender,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	final := Chain(cmd.Handle, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(timeout))

	select {
	case r.jobs <- func() { _ = final(ctx, req) }:
	default:
		_, _ = r.sender.SendText(ctx, chat, "busy, try again", nil)
	}
}

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}
