package tak

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"fusion-svr/internal/cot"
	"fusion-svr/internal/observability"
)

const readBufferSize = 64 * 1024

var (
	ErrNotConnected   = errors.New("tak: not connected")
	errAlreadyRunning = errors.New("tak: connection loop already running")
)

// EventClass names what a listener is subscribed to.
type EventClass string

const (
	EventConnect    EventClass = "connect"
	EventMessage    EventClass = "message"
	EventDisconnect EventClass = "disconnect"
	EventError      EventClass = "error"
)

// Notification is handed to listeners. Event is set for EventMessage and Err
// for EventError.
type Notification struct {
	Class EventClass
	Event *cot.Event
	Err   error
}

// Listener runs on the connection goroutine; a slow listener delays reads.
type Listener func(Notification)

// Dialer opens the raw connection; *net.Dialer and *tls.Dialer satisfy it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Option func(*Gateway)

func WithDialer(d Dialer) Option {
	return func(g *Gateway) { g.dialer = d }
}

// Gateway keeps one session to a TAK server alive. Lost sessions are retried
// after a fixed delay for as long as the loop runs.
type Gateway struct {
	cfg    Config
	logger *slog.Logger
	dialer Dialer

	mu      sync.Mutex
	conn    net.Conn
	state   State
	cancel  context.CancelFunc
	running bool

	wmu sync.Mutex

	lmu       sync.RWMutex
	listeners map[EventClass][]Listener
}

func New(cfg Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	cfg = cfg.withDefaults()
	if cfg.UID == "" {
		cfg.UID = "fusion-" + uuid.NewString()
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		cfg:       cfg,
		logger:    logger.With("component", "tak"),
		listeners: make(map[EventClass][]Listener),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.dialer == nil {
		nd := &net.Dialer{KeepAlive: keepAlivePeriod}
		if cfg.UseTLS {
			tlsCfg, err := cfg.TLSConfig()
			if err != nil {
				return nil, err
			}
			g.dialer = &tls.Dialer{NetDialer: nd, Config: tlsCfg}
		} else {
			g.dialer = nd
		}
	}
	return g, nil
}

func (g *Gateway) UID() string { return g.cfg.UID }

func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// On registers fn for class. Listeners of a class run in registration order.
func (g *Gateway) On(class EventClass, fn Listener) {
	g.lmu.Lock()
	defer g.lmu.Unlock()
	g.listeners[class] = append(g.listeners[class], fn)
}

// -------------------------------------------------------------------
//                        CONNECTION LOOP
// -------------------------------------------------------------------

// Connect starts the connection loop in the background and returns at once.
// Calling it while the loop runs is a no-op.
func (g *Gateway) Connect(ctx context.Context) {
	ctx, ok := g.begin(ctx)
	if !ok {
		return
	}
	go func() {
		defer g.end()
		g.loop(ctx)
	}()
}

// Serve runs the connection loop until ctx is cancelled or Disconnect is
// called.
func (g *Gateway) Serve(ctx context.Context) error {
	ctx, ok := g.begin(ctx)
	if !ok {
		return errAlreadyRunning
	}
	defer g.end()
	g.loop(ctx)
	return ctx.Err()
}

func (g *Gateway) String() string { return "tak-gateway" }

// Disconnect stops the heartbeat, closes the socket and ends the loop
// without scheduling a reconnect. It does not wait for the close to finish.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	cancel := g.cancel
	conn := g.conn
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (g *Gateway) begin(parent context.Context) (context.Context, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	g.cancel = cancel
	g.running = true
	return ctx, true
}

func (g *Gateway) end() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.cancel()
	}
	g.cancel = nil
	g.running = false
}

func (g *Gateway) loop(ctx context.Context) {
	addr := g.cfg.Addr()
	for {
		g.setState(StateConnecting)
		conn, err := g.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			g.setState(StateDisconnected)
			if ctx.Err() != nil {
				return
			}
			g.logger.Error("dial failed", "addr", addr, "err", err)
			g.emit(Notification{Class: EventError, Err: err})
		} else {
			g.session(ctx, conn)
			if ctx.Err() != nil {
				return
			}
		}

		observability.TAKReconnects.Inc()
		g.logger.Info("reconnecting", "addr", addr, "delay", g.cfg.ReconnectDelay.String())

		t := time.NewTimer(g.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (g *Gateway) session(ctx context.Context, conn net.Conn) {
	g.mu.Lock()
	g.conn = conn
	g.state = StateConnected
	g.mu.Unlock()
	observability.TAKConnectionState.Set(float64(StateConnected))

	// unblocks Read when the loop is cancelled
	stopClose := context.AfterFunc(ctx, func() { _ = conn.Close() })

	g.logger.Info("connected", "remote", conn.RemoteAddr().String())
	g.emit(Notification{Class: EventConnect})

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go g.heartbeat(hbCtx)

	err := g.readLoop(conn)

	stopHeartbeat()
	stopClose()
	g.clearConn(conn)
	g.setState(StateDisconnected)

	if err != nil && ctx.Err() == nil {
		g.logger.Warn("read error", "err", err)
		g.emit(Notification{Class: EventError, Err: err})
	}
	g.logger.Warn("connection closed")
	g.emit(Notification{Class: EventDisconnect})
}

func (g *Gateway) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
	observability.TAKConnectionState.Set(float64(s))
}

func (g *Gateway) clearConn(c net.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == c {
		_ = g.conn.Close()
		g.conn = nil
	}
}

func (g *Gateway) getConn() net.Conn {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateConnected {
		return nil
	}
	return g.conn
}

// -------------------------------------------------------------------
//                           READING
// -------------------------------------------------------------------

// readLoop hands every read to the decoder as one document; CoT over TCP has
// no framing here, so a split or coalesced write shows up as a parse error.
func (g *Gateway) readLoop(c net.Conn) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			g.handleChunk(chunk)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (g *Gateway) handleChunk(chunk []byte) {
	start := time.Now()
	ev, err := cot.Decode(chunk)
	observability.ObserveDecodeLatency(start)
	if err != nil {
		observability.ParseErrors.Inc()
		g.logger.Warn("dropping malformed cot", "bytes", len(chunk), "err", err)
		return
	}
	if ev == nil {
		return
	}
	observability.TAKEventsReceived.Inc()
	g.emit(Notification{Class: EventMessage, Event: ev})
}

// -------------------------------------------------------------------
//                           WRITING
// -------------------------------------------------------------------

// SendEvent encodes ev and writes it to the session. It reports false when
// there is no session or the write fails.
func (g *Gateway) SendEvent(ev cot.Event) bool {
	if err := g.write(cot.Encode(ev)); err != nil {
		observability.TAKEventsSent.WithLabelValues("failed").Inc()
		if !errors.Is(err, ErrNotConnected) {
			g.logger.Warn("send failed", "uid", ev.UID, "err", err)
		}
		return false
	}
	observability.TAKEventsSent.WithLabelValues("ok").Inc()
	return true
}

func (g *Gateway) write(b []byte) error {
	c := g.getConn()
	if c == nil {
		return ErrNotConnected
	}
	g.wmu.Lock()
	defer g.wmu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.Write(b); err != nil {
		// a failed write leaves the stream unusable; closing ends the session
		_ = c.Close()
		return err
	}
	return nil
}

func (g *Gateway) heartbeat(ctx context.Context) {
	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if err := g.write(cot.Encode(cot.NewPing(g.cfg.UID, now))); err != nil {
				g.logger.Debug("heartbeat not sent", "err", err)
				continue
			}
			observability.TAKHeartbeats.Inc()
		}
	}
}

func (g *Gateway) emit(n Notification) {
	g.lmu.RLock()
	ls := make([]Listener, len(g.listeners[n.Class]))
	copy(ls, g.listeners[n.Class])
	g.lmu.RUnlock()
	for _, fn := range ls {
		fn(n)
	}
}
