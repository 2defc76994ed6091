// Package bridge keeps a page-side bridge connected to its controller and
// answers the commands the controller sends over that connection.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/commands"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/logx"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/protocol"
)

// DefaultReconnectDelay is the pause between a lost connection and the next
// dial attempt.
const DefaultReconnectDelay = 2 * time.Second

const maxFrameSize = 16 << 20

// Option configures a Manager.
type Option func(*Manager)

// WithReconnectDelay overrides DefaultReconnectDelay. Non-positive values are
// ignored.
func WithReconnectDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.delay = d
		}
	}
}

// WithClientName sets the name reported in logs and on /status.
func WithClientName(name string) Option {
	return func(m *Manager) { m.name = name }
}

// Manager owns the controller connection. At most one connection exists at a
// time; when it ends, the manager waits a fixed delay and dials again until
// its context is canceled.
type Manager struct {
	url   string
	name  string
	delay time.Duration
	rt    *commands.Runtime
	st    *tracker
	after func(time.Duration) <-chan time.Time
}

var _ Facade = (*Manager)(nil)

// New returns a manager that serves reg's commands to the controller at url.
func New(url string, reg *commands.Registry, opts ...Option) *Manager {
	m := &Manager{
		url:   url,
		delay: DefaultReconnectDelay,
		st:    newTracker(),
		after: time.After,
	}
	m.rt = commands.NewRuntime(reg, commandMetrics{t: m.st})
	for _, o := range opts {
		o(m)
	}
	return m
}

// Status implements Facade.
func (m *Manager) Status() string {
	if m.st.isOpen() {
		return "connected"
	}
	return "disconnected"
}

// Commands implements Facade.
func (m *Manager) Commands() []string {
	return m.rt.Registry().Names()
}

// Snapshot reports the manager's current state.
func (m *Manager) Snapshot() Snapshot {
	s := Snapshot{
		Status:     m.Status(),
		ClientName: m.name,
		Controller: m.url,
		Commands:   m.Commands(),
		Version:    GetVersionInfo().Version,
	}
	m.st.fill(&s)
	return s
}

// Run connects and serves until ctx is canceled. It only returns ctx's error.
func (m *Manager) Run(ctx context.Context) error {
	for {
		m.st.setState(StateConnecting)
		err := m.connectAndServe(ctx)
		m.st.setState(StateClosed)
		if ctx.Err() != nil {
			m.st.setState(StateDisconnected)
			return ctx.Err()
		}
		m.st.setLastError(err)
		m.st.reconnect()
		logx.Log.Warn().Err(err).Str("controller", m.url).Dur("delay", m.delay).Msg("controller connection lost; reconnecting")
		select {
		case <-ctx.Done():
			m.st.setState(StateDisconnected)
			return ctx.Err()
		case <-m.after(m.delay):
		}
	}
}

func (m *Manager) connectAndServe(ctx context.Context) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ws, _, err := websocket.Dial(connCtx, m.url, nil)
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer func() { _ = ws.CloseNow() }()
	ws.SetReadLimit(maxFrameSize)

	m.st.setOpen(true)
	defer m.st.setOpen(false)

	hello, _ := json.Marshal(protocol.PageClientHello)
	if err := ws.Write(connCtx, websocket.MessageText, hello); err != nil {
		return fmt.Errorf("identify: %w", err)
	}
	m.st.setState(StateIdentified)
	logx.Log.Info().Str("controller", m.url).Str("client", m.name).Msg("connected to controller")

	// sendCh belongs to this connection only. It is never closed; senders give
	// up once connCtx is done, so late results cannot reach a later connection.
	sendCh := make(chan []byte, 16)
	go func() {
		defer cancel()
		for {
			select {
			case <-connCtx.Done():
				return
			case msg := <-sendCh:
				if err := ws.Write(connCtx, websocket.MessageText, msg); err != nil {
					logx.Log.Error().Err(err).Msg("controller write error")
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.Read(connCtx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				lvl := logx.Log.Info()
				if ce.Code != websocket.StatusNormalClosure {
					lvl = logx.Log.Error()
				}
				lvl.Str("reason", ce.Reason).Int("code", int(ce.Code)).Msg("controller connection closed")
			} else if ctx.Err() == nil {
				logx.Log.Error().Err(err).Msg("controller read error")
			}
			return err
		}
		go m.handle(ctx, connCtx, sendCh, data)
	}
}

// handle answers one inbound frame. Commands run under ctx rather than the
// connection context so a dropped connection does not abort them; their
// results are discarded instead.
func (m *Manager) handle(ctx, connCtx context.Context, sendCh chan<- []byte, data []byte) {
	resp := m.respond(ctx, data)
	b, err := json.Marshal(resp)
	if err != nil {
		b, _ = json.Marshal(protocol.Failure(resp.RequestID, err.Error()))
	}
	select {
	case sendCh <- b:
	case <-connCtx.Done():
		logx.Log.Debug().RawJSON("request_id", idOrNull(resp.RequestID)).Msg("dropping response for closed connection")
	}
}

func (m *Manager) respond(ctx context.Context, data []byte) (resp protocol.ResponseEnvelope) {
	env, err := protocol.ParseCommand(data)
	defer func() {
		if v := recover(); v != nil {
			logx.Log.Error().Interface("panic", v).Msg("message handling panic")
			resp = protocol.Failure(env.RequestID, fmt.Sprint(v))
		}
	}()
	if err != nil {
		logx.Log.Warn().Err(err).RawJSON("request_id", idOrNull(env.RequestID)).Msg("malformed command")
		return protocol.Failure(env.RequestID, err.Error())
	}
	return m.rt.Execute(ctx, env)
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
