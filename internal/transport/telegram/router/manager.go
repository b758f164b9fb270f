package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	rtsup "dayorder/internal/runtime/supervisor"
	"dayorder/internal/transport"
	"dayorder/pkg/logx"
)

const (
	defaultWorkers = 4
	defaultTimeout = 20 * time.Second

	msgUnknown      = "Unknown command. Try /help."
	msgUnauthorized = "🔒 This command is restricted to the bot owner."
	msgBusy         = "⏳ Busy right now, try again in a moment."
)

type Config struct {
	Workers int
	Owners  []int64
	Timeout time.Duration
}

// CommandManager resolves updates to commands and callback routes and runs
// them on a bounded worker pool.
type CommandManager struct {
	log      logx.Logger
	adapter  transport.Adapter
	services *Services

	mu        sync.RWMutex
	root      *cmdNode
	alias     map[string]*cmdNode
	cmds      []Command
	callbacks map[string]CallbackRoute
	owners    map[int64]bool
	botName   string
	workers   int
	timeout   time.Duration
	mw        []Middleware

	supMu sync.Mutex
	sup   *rtsup.Supervisor
}

func New(ad transport.Adapter, svc *Services, log logx.Logger) *CommandManager {
	m := &CommandManager{
		log:       log,
		adapter:   ad,
		services:  svc,
		root:      newRoot(),
		alias:     map[string]*cmdNode{},
		callbacks: map[string]CallbackRoute{},
		owners:    map[int64]bool{},
		workers:   defaultWorkers,
		timeout:   defaultTimeout,
	}
	m.mw = []Middleware{MWRequestLog(), MWReplyError(), MWPanicRecover()}
	return m
}

// Apply updates owners and timeouts immediately. Worker count changes take
// effect on the next DispatchLoop.
func (m *CommandManager) Apply(cfg Config) {
	owners := make(map[int64]bool, len(cfg.Owners))
	for _, id := range cfg.Owners {
		owners[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners = owners
	if cfg.Workers > 0 {
		m.workers = cfg.Workers
	}
	if cfg.Timeout > 0 {
		m.timeout = cfg.Timeout
	}
}

// SetBotUsername lets "/cmd@name" addressed to another bot be ignored.
func (m *CommandManager) SetBotUsername(name string) {
	m.mu.Lock()
	m.botName = strings.ToLower(strings.TrimPrefix(name, "@"))
	m.mu.Unlock()
}

func (m *CommandManager) IsOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owners[id]
}

// Register replaces the command set. /help and /start are always added.
func (m *CommandManager) Register(cmds []Command, cbs []CallbackRoute) error {
	root := newRoot()
	alias := map[string]*cmdNode{}
	all := append([]Command{m.helpCommand()}, cmds...)
	seen := map[string]bool{}
	for _, c := range all {
		route := splitRoute(c.Route)
		if len(route) == 0 {
			return fmt.Errorf("router: empty route")
		}
		key := strings.Join(route, " ")
		if seen[key] {
			return fmt.Errorf("router: duplicate route %q", key)
		}
		if c.Handle == nil {
			return fmt.Errorf("router: route %q has no handler", key)
		}
		seen[key] = true
		root.add(route, c)
	}
	for _, c := range all {
		route := splitRoute(c.Route)
		leaf := root.find(route)
		names := append([]string(nil), c.Aliases...)
		if len(route) > 1 {
			if menu, ok := telegramCommandNameFromRoute(route); ok {
				names = append(names, menu)
			}
		}
		for _, a := range names {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			if _, clash := root.children[a]; clash {
				continue
			}
			alias[a] = leaf
			if sa := sanitizeTelegramCommand(a); sa != "" && sa != a {
				alias[sa] = leaf
			}
		}
	}
	callbacks := make(map[string]CallbackRoute, len(cbs))
	for _, cb := range cbs {
		if cb.Handle == nil || cb.Group == "" || cb.Action == "" {
			return fmt.Errorf("router: invalid callback route %q", cb.key())
		}
		callbacks[cb.key()] = cb
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.cmds = all
	m.callbacks = callbacks
	m.mu.Unlock()
	return nil
}

// UpdateMenu publishes the command menu when the adapter supports it.
func (m *CommandManager) UpdateMenu(ctx context.Context) error {
	up, ok := m.adapter.(transport.CommandMenuUpdater)
	if !ok {
		return nil
	}
	m.mu.RLock()
	cmds := buildTelegramMenuCommands(m.root, m.cmds)
	m.mu.RUnlock()
	return up.UpdateMenuCommands(ctx, cmds)
}

func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.supMu.Lock()
	defer m.supMu.Unlock()
	return m.sup
}

// DispatchLoop consumes in until ctx is cancelled or in is closed. It
// returns the supervisor owning the workers.
func (m *CommandManager) DispatchLoop(ctx context.Context, in <-chan transport.Update) *rtsup.Supervisor {
	m.mu.RLock()
	workers := m.workers
	m.mu.RUnlock()

	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(m.log))
	m.supMu.Lock()
	m.sup = sup
	m.supMu.Unlock()

	jobs := make(chan transport.Update, workers*2)
	for i := 0; i < workers; i++ {
		sup.Go0(fmt.Sprintf("router.worker.%d", i), func(ctx context.Context) {
			for {
				select {
				case <-ctx.Done():
					return
				case up := <-jobs:
					m.Handle(ctx, up)
				}
			}
		})
	}
	sup.Go0("router.dispatch", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case up, ok := <-in:
				if !ok {
					return
				}
				select {
				case jobs <- up:
				case <-ctx.Done():
					return
				case <-time.After(2 * time.Second):
					m.rejectBusy(ctx, up)
				}
			}
		}
	})
	return sup
}

func (m *CommandManager) rejectBusy(ctx context.Context, up transport.Update) {
	m.log.Warn("dispatch queue full, rejecting update", logx.String("kind", string(up.Kind)))
	switch {
	case up.Callback != nil:
		_ = m.adapter.AnswerCallback(ctx, up.Callback.ID, msgBusy)
	case up.Message != nil:
		_, _ = m.adapter.SendText(ctx, transport.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}, msgBusy, nil)
	}
}

// Handle routes one update synchronously.
func (m *CommandManager) Handle(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			m.routeMessage(ctx, up)
		}
	case transport.UpdateCallback:
		if up.Callback != nil {
			m.routeCallback(ctx, up)
		}
	}
}

func (m *CommandManager) newRequest(up transport.Update, chat transport.ChatTarget, from int64) *Request {
	id := newReqID()
	return &Request{
		ID:       id,
		Update:   up,
		Chat:     chat,
		FromID:   from,
		Owner:    m.IsOwner(from),
		Adapter:  m.adapter,
		Services: m.services,
		Logger:   m.log.With(logx.String("req", id), logx.Int64("chat", chat.ChatID), logx.Int64("from", from)),
	}
}

func (m *CommandManager) routeMessage(ctx context.Context, up transport.Update) {
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	toks := tokenizeCommandLine(text[1:])
	if len(toks) == 0 {
		return
	}
	head := strings.ToLower(toks[0])
	if name, target, ok := strings.Cut(head, "@"); ok {
		m.mu.RLock()
		mine := m.botName
		m.mu.RUnlock()
		if mine != "" && target != mine {
			return
		}
		head = name
	}
	toks[0] = head

	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	req := m.newRequest(up, chat, msg.FromID)
	req.FromName = msg.FromUsername

	node, route, rest := m.resolve(toks)
	if node == nil {
		_, _ = m.adapter.SendText(ctx, chat, msgUnknown, nil)
		return
	}
	if node.cmd == nil {
		// Group without its own handler: show its subcommands.
		_, _ = m.adapter.SendText(ctx, chat, m.helpText(route), &transport.SendOptions{ParseMode: transport.ParseModeHTML})
		return
	}
	cmd := *node.cmd
	if cmd.Access == AccessOwnerOnly && !req.Owner {
		req.Logger.Info("unauthorized command", logx.String("route", cmd.Route))
		_, _ = m.adapter.SendText(ctx, chat, msgUnauthorized, nil)
		return
	}
	req.Route = route
	req.Args, req.Flags, req.Bools = parseFlags(rest)
	req.Logger = req.Logger.With(logx.String("cmd", strings.Join(route, " ")))

	timeout := cmd.Timeout
	if timeout <= 0 {
		m.mu.RLock()
		timeout = m.timeout
		m.mu.RUnlock()
	}
	h := Chain(cmd.Handle, append(append([]Middleware(nil), m.mw...), MWTimeout(timeout))...)
	_ = h(ctx, req)
}

// resolve walks the longest matching route. Aliases only apply to the
// first token.
func (m *CommandManager) resolve(toks []string) (node *cmdNode, route, rest []string) {
	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	cur, ok := root.child(toks[0])
	if !ok {
		leaf, ok := alias[toks[0]]
		if !ok || leaf == nil || leaf.cmd == nil {
			return nil, nil, nil
		}
		return leaf, splitRoute(leaf.cmd.Route), toks[1:]
	}
	route = []string{toks[0]}
	i := 1
	for ; i < len(toks); i++ {
		next, ok := cur.child(toks[i])
		if !ok {
			break
		}
		cur = next
		route = append(route, strings.ToLower(toks[i]))
	}
	return cur, route, toks[i:]
}

func (m *CommandManager) routeCallback(ctx context.Context, up transport.Update) {
	cb := up.Callback
	data := strings.TrimPrefix(cb.Data, "\f")
	parts := strings.SplitN(data, ":", 3)
	if len(parts) < 2 {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	m.mu.RLock()
	route, ok := m.callbacks[parts[0]+":"+parts[1]]
	m.mu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "This button has expired.")
		return
	}

	chat := transport.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := m.newRequest(up, chat, cb.FromID)
	if route.Access == AccessOwnerOnly && !req.Owner {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, msgUnauthorized)
		return
	}
	if len(parts) == 3 {
		req.Payload = parts[2]
	}
	req.Source = transport.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	req.Logger = req.Logger.With(logx.String("cb", route.key()))

	m.mu.RLock()
	timeout := m.timeout
	m.mu.RUnlock()
	h := Chain(route.Handle, append(append([]Middleware(nil), m.mw...), MWTimeout(timeout))...)
	if err := h(ctx, req); err == nil {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
	}
}
