// Package commands answers chat commands read from the transport.
package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	kit "subwatch/internal/transport"
	logx "subwatch/pkg/logx"
	"subwatch/pkg/tgui"
)

type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	Command string
	Args    []string
	Logger  logx.Logger
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			fields := []logx.Field{
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int64("from_id", req.Message.FromID),
				logx.String("cmd", req.Command),
				logx.String("args", tgui.TruncRunes(strings.Join(req.Args, " "), 64)),
				logx.Duration("dur", time.Since(start)),
			}
			if err != nil {
				req.Logger.Warn("command failed", append(fields, logx.Err(err))...)
			} else {
				req.Logger.Info("command ok", fields...)
			}
			return err
		}
	}
}

type Command struct {
	Name        string
	Description string
	Handle      HandlerFunc
}

// Router dispatches "/name args" messages to registered commands.
// Unknown commands and plain text are ignored.
type Router struct {
	mu      sync.RWMutex
	cmds    map[string]Command
	log     logx.Logger
	timeout time.Duration
}

func NewRouter(log logx.Logger, timeout time.Duration) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{cmds: map[string]Command{}, log: log.With(logx.String("comp", "commands")), timeout: timeout}
}

func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		r.cmds[strings.ToLower(c.Name)] = c
	}
}

// Menu lists the commands for the platform command menu, sorted by name.
func (r *Router) Menu() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Run dispatches updates from in until ctx is done or in is closed.
func (r *Router) Run(ctx context.Context, in <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-in:
			if !ok {
				return nil
			}
			_ = r.Dispatch(ctx, u)
		}
	}
}

// Dispatch handles one update. It reports handler errors; they are also
// logged.
func (r *Router) Dispatch(ctx context.Context, u kit.Update) error {
	m := u.Message
	if m == nil {
		return nil
	}
	name, args, ok := parseCommand(m.Text)
	if !ok {
		return nil
	}
	r.mu.RLock()
	cmd, found := r.cmds[name]
	r.mu.RUnlock()
	if !found {
		return nil
	}

	req := &Request{
		Message: m,
		Chat:    kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID},
		Command: name,
		Args:    args,
		Logger:  r.log,
	}
	h := Chain(cmd.Handle, MWRequestLog(), MWPanicRecover(), MWTimeout(r.timeout))
	return h(ctx, req)
}

// parseCommand splits "/name@bot a b" into ("name", [a b]).
func parseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
