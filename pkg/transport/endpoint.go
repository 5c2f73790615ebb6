package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/m2mlink/m2m-go/pkg/log"
	"github.com/m2mlink/m2m-go/pkg/model"
	"github.com/m2mlink/m2m-go/pkg/registration"
	"github.com/m2mlink/m2m-go/pkg/scheduler"
	"github.com/m2mlink/m2m-go/pkg/security"
	"github.com/m2mlink/m2m-go/pkg/wire"
)

// Endpoint defaults.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultConnectTimeout = 30 * time.Second
)

// EndpointConfig configures an Endpoint.
type EndpointConfig struct {
	// Scheduler receives all outcomes and server requests. Required.
	Scheduler *scheduler.Scheduler

	// Tree answers Read, Write, Execute and Observe requests from the
	// server. Nil answers NOT_FOUND.
	Tree *model.Tree

	// Binding selects UDP or TCP where the server URI allows both.
	Binding registration.BindingMode

	// RequestTimeout bounds each request, measured on the scheduler clock.
	RequestTimeout time.Duration

	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration

	// LocalPort binds the local side. See DialOptions.
	LocalPort int

	// MaxMessageSize limits messages in both directions.
	MaxMessageSize uint32

	// Dialer opens connections. Nil uses Dial.
	Dialer DialFunc

	// Logger is the operational logger. Nil discards.
	Logger *slog.Logger

	// ProtocolLogger receives frame and message events. Nil discards.
	ProtocolLogger log.Logger
}

// Endpoint is the client side of the management protocol. It implements
// registration.Protocol.
//
// Network I/O runs on goroutines owned by the Endpoint. Every outcome and
// every server request is handed to the scheduler with Post, so Outcomes
// and the Tree are only touched on the scheduler goroutine.
type Endpoint struct {
	cfg    EndpointConfig
	sched  *scheduler.Scheduler
	logger *slog.Logger
	plog   log.Logger

	nextID atomic.Uint32

	dialMu sync.Mutex

	mu     sync.Mutex
	conn   Conn
	connID string
	sec    *security.Context
	calls  map[uint32]*call
	closed bool
}

// call is one outstanding request.
type call struct {
	req     *wire.Request
	out     registration.Outcomes
	done    func(*wire.Response)
	sent    time.Time
	conn    Conn
	timeout *scheduler.Handle
	release func()
}

// NewEndpoint creates an Endpoint.
func NewEndpoint(cfg EndpointConfig) (*Endpoint, error) {
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("%w: scheduler required", registration.ErrInvalidParameters)
	}
	if cfg.Binding == "" {
		cfg.Binding = registration.BindingUDP
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.Dialer == nil {
		cfg.Dialer = Dial
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Endpoint{
		cfg:    cfg,
		sched:  cfg.Scheduler,
		logger: logger,
		plog:   log.OrNoop(cfg.ProtocolLogger),
		calls:  make(map[uint32]*call),
	}, nil
}

// SetTree replaces the tree that answers server requests. Call it before
// Run or on the scheduler goroutine.
func (e *Endpoint) SetTree(tree *model.Tree) {
	e.cfg.Tree = tree
}

// Bootstrap implements registration.Protocol. The bootstrap connection is
// closed once the exchange completes.
func (e *Endpoint) Bootstrap(sec *security.Context, endpoint string, out registration.Outcomes) error {
	req := &wire.Request{Operation: wire.OpBootstrap, Endpoint: endpoint}
	return e.start(sec, true, req, out, func(resp *wire.Response) {
		e.closeConn()
		if !resp.IsSuccess() {
			out.Error(registration.KindOf(resp.Status.Err(wire.OpBootstrap)))
			return
		}
		if resp.Bootstrap == nil || resp.Bootstrap.ServerURI == "" {
			out.Error(registration.KindResponseParseFailed)
			return
		}
		out.BootstrapDone(security.FromBootstrapInfo(resp.Bootstrap, sec))
	})
}

// Register implements registration.Protocol. It always opens a new
// connection to the server in sec.
func (e *Endpoint) Register(sec *security.Context, reg registration.Registration, out registration.Outcomes) error {
	req := &wire.Request{
		Operation: wire.OpRegister,
		Endpoint:  reg.Endpoint,
		Lifetime:  seconds(reg.Lifetime),
		Binding:   string(reg.Binding),
		Links:     reg.Links,
		Type:      reg.Type,
		Domain:    reg.Domain,
	}
	return e.start(sec, true, req, out, func(resp *wire.Response) {
		if !resp.IsSuccess() {
			out.Error(registration.KindOf(resp.Status.Err(wire.OpRegister)))
			return
		}
		if resp.Location == "" {
			out.Error(registration.KindResponseParseFailed)
			return
		}
		out.RegistrationDone(registration.Result{
			Location: resp.Location,
			Lifetime: time.Duration(resp.Lifetime) * time.Second,
		})
	})
}

// Update implements registration.Protocol.
func (e *Endpoint) Update(location string, reg registration.Registration, out registration.Outcomes) error {
	req := &wire.Request{
		Operation: wire.OpUpdate,
		Location:  location,
		Lifetime:  seconds(reg.Lifetime),
		Binding:   string(reg.Binding),
		Links:     reg.Links,
	}
	return e.start(nil, false, req, out, func(resp *wire.Response) {
		if !resp.IsSuccess() {
			out.Error(registration.KindOf(resp.Status.Err(wire.OpUpdate)))
			return
		}
		out.UpdateDone(registration.Result{
			Location: resp.Location,
			Lifetime: time.Duration(resp.Lifetime) * time.Second,
		})
	})
}

// Deregister implements registration.Protocol. The connection is closed
// once the server confirms.
func (e *Endpoint) Deregister(location string, out registration.Outcomes) error {
	req := &wire.Request{Operation: wire.OpDeregister, Location: location}
	return e.start(nil, false, req, out, func(resp *wire.Response) {
		if !resp.IsSuccess() {
			out.Error(registration.KindOf(resp.Status.Err(wire.OpDeregister)))
			return
		}
		e.closeConn()
		out.UnregisterDone()
	})
}

// Notify implements registration.Protocol.
func (e *Endpoint) Notify(location string, path model.Path, value []byte, out registration.Outcomes) error {
	p := path
	req := &wire.Request{Operation: wire.OpNotify, Location: location, Path: &p, Payload: value}
	return e.start(nil, false, req, out, func(resp *wire.Response) {
		if !resp.IsSuccess() {
			out.Error(registration.KindOf(resp.Status.Err(wire.OpNotify)))
		}
	})
}

// ConnID returns the identifier of the current connection, if any.
func (e *Endpoint) ConnID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connID
}

// LocalAddr returns the local address of the current connection, or nil.
func (e *Endpoint) LocalAddr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	return e.conn.LocalAddr()
}

// Close drops the connection. Outstanding requests are not reported.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	calls := e.calls
	e.calls = make(map[uint32]*call)
	e.mu.Unlock()

	for _, c := range calls {
		c.timeout.Cancel()
		c.release()
	}
	return e.closeConn()
}

// start registers a call and hands the transmission to a goroutine.
// A nil sec reuses the security context of the current connection.
func (e *Endpoint) start(sec *security.Context, dial bool, req *wire.Request, out registration.Outcomes, done func(*wire.Response)) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrConnectionClosed
	}
	if sec == nil {
		if e.conn == nil || e.sec == nil {
			e.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrNotConnected, req.Operation)
		}
		sec = e.sec
	}
	e.mu.Unlock()

	if err := sec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", registration.ErrInvalidParameters, err)
	}

	req.MessageID = e.nextMessageID()
	if err := sec.SignRequest(req); err != nil {
		return err
	}
	data, err := wire.EncodeRequest(req)
	if err != nil {
		return fmt.Errorf("%w: %v", registration.ErrInvalidParameters, err)
	}

	c := &call{
		req:     req,
		out:     out,
		done:    done,
		release: e.sched.Hold(),
	}
	id := req.MessageID
	e.mu.Lock()
	e.calls[id] = c
	e.mu.Unlock()
	c.timeout = e.sched.Post(func() { e.expire(id) }, e.cfg.RequestTimeout)

	go e.transmit(sec, dial, c, data)
	return nil
}

func (e *Endpoint) transmit(sec *security.Context, dial bool, c *call, data []byte) {
	conn, err := e.connection(sec, dial, c.req.Endpoint)
	if err == nil {
		e.mu.Lock()
		c.conn = conn
		c.sent = time.Now()
		e.mu.Unlock()
		err = conn.WriteMessage(data)
	}
	if err != nil {
		e.logger.Warn("request not sent", "operation", c.req.Operation, "error", err)
		e.fail(c.req.MessageID, err)
		return
	}
	e.logMessage(log.DirectionOut, log.RequestEvent(c.req))
}

// connection returns the connection to use. With dial set, any existing
// connection is replaced.
func (e *Endpoint) connection(sec *security.Context, dial bool, endpoint string) (Conn, error) {
	e.dialMu.Lock()
	defer e.dialMu.Unlock()

	if !dial {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.conn == nil {
			return nil, ErrNotConnected
		}
		return e.conn, nil
	}

	e.closeConn()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ConnectTimeout)
	defer cancel()
	conn, err := e.cfg.Dialer(ctx, sec, DialOptions{
		Endpoint:       endpoint,
		Binding:        e.cfg.Binding,
		LocalPort:      e.cfg.LocalPort,
		MaxMessageSize: e.cfg.MaxMessageSize,
	})
	if err != nil {
		return nil, err
	}

	connID := uuid.New().String()
	if l, ok := conn.(interface{ SetLogger(log.Logger, string) }); ok && e.cfg.ProtocolLogger != nil {
		l.SetLogger(e.cfg.ProtocolLogger, connID)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		conn.Close()
		return nil, ErrConnectionClosed
	}
	e.conn = conn
	e.connID = connID
	e.sec = sec
	e.mu.Unlock()

	e.logger.Info("connected", "remote", conn.RemoteAddr(), "local", conn.LocalAddr(), "conn", connID)
	e.logState(connID, conn, "", "CONNECTED")

	go e.readLoop(conn, connID)
	return conn, nil
}

func (e *Endpoint) readLoop(conn Conn, connID string) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, ErrMessageTooLarge) || errors.Is(err, ErrMessageEmpty) {
				e.logger.Warn("dropping message", "error", err)
				continue
			}
			e.dropped(conn, connID, err)
			return
		}

		msg, err := wire.Decode(data)
		switch {
		case err != nil:
			e.logger.Warn("undecodable message", "error", err)
		case msg.Response != nil:
			e.complete(msg.Response)
		default:
			req := msg.Request
			e.sched.Post(func() { e.serve(conn, req) }, 0)
		}
	}
}

// complete runs on the read loop goroutine.
func (e *Endpoint) complete(resp *wire.Response) {
	e.mu.Lock()
	c := e.calls[resp.MessageID]
	delete(e.calls, resp.MessageID)
	sent := time.Time{}
	if c != nil {
		sent = c.sent
	}
	e.mu.Unlock()

	var elapsed time.Duration
	if !sent.IsZero() {
		elapsed = time.Since(sent)
	}
	e.logMessage(log.DirectionIn, log.ResponseEvent(resp, elapsed))

	if c == nil {
		e.logger.Debug("unmatched response", "messageId", resp.MessageID)
		return
	}
	c.timeout.Cancel()
	e.sched.Post(func() { c.done(resp) }, 0)
	c.release()
}

// fail reports err for one call. Safe from any goroutine.
func (e *Endpoint) fail(id uint32, err error) {
	e.mu.Lock()
	c := e.calls[id]
	delete(e.calls, id)
	e.mu.Unlock()
	if c == nil {
		return
	}
	c.timeout.Cancel()
	kind := kindOf(err)
	e.logError(c.req.Operation, err)
	e.sched.Post(func() { c.out.Error(kind) }, 0)
	c.release()
}

// expire runs on the scheduler goroutine.
func (e *Endpoint) expire(id uint32) {
	e.mu.Lock()
	c := e.calls[id]
	delete(e.calls, id)
	e.mu.Unlock()
	if c == nil {
		return
	}
	e.logger.Warn("request timed out", "operation", c.req.Operation, "messageId", id)
	e.logError(c.req.Operation, registration.ErrTimeout)
	c.out.Error(registration.KindTimeout)
	c.release()
}

// dropped handles the end of a read loop.
func (e *Endpoint) dropped(conn Conn, connID string, err error) {
	e.mu.Lock()
	current := e.conn == conn
	if current {
		e.conn, e.connID = nil, ""
	}
	var lost []uint32
	if current && !e.closed {
		for id, c := range e.calls {
			if c.conn == conn {
				lost = append(lost, id)
			}
		}
	}
	e.mu.Unlock()

	if !current {
		// Replaced or closed on purpose.
		return
	}
	conn.Close()
	e.logger.Warn("connection lost", "conn", connID, "error", err)
	e.logState(connID, conn, "CONNECTED", "DISCONNECTED")
	for _, id := range lost {
		e.fail(id, fmt.Errorf("%w: %v", ErrConnectionClosed, err))
	}
}

func (e *Endpoint) closeConn() error {
	e.mu.Lock()
	conn, connID := e.conn, e.connID
	e.conn, e.connID = nil, ""
	e.mu.Unlock()
	if conn == nil {
		return nil
	}
	e.logState(connID, conn, "CONNECTED", "CLOSED")
	return conn.Close()
}

func (e *Endpoint) nextMessageID() uint32 {
	for {
		if id := e.nextID.Add(1); id != 0 {
			return id
		}
	}
}

func (e *Endpoint) logMessage(dir log.Direction, msg *log.MessageEvent) {
	e.mu.Lock()
	connID := e.connID
	e.mu.Unlock()
	e.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleClient,
		Message:      msg,
	})
}

func (e *Endpoint) logState(connID string, conn Conn, from, to string) {
	e.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    log.RoleClient,
		RemoteAddr:   conn.RemoteAddr().String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: from,
			NewState: to,
		},
	})
}

func (e *Endpoint) logError(op wire.Operation, err error) {
	e.plog.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerWire,
		Category:  log.CategoryError,
		LocalRole: log.RoleClient,
		Error: &log.ErrorEventData{
			Layer:   log.LayerWire,
			Message: err.Error(),
			Context: op.String(),
		},
	})
}

// kindOf extends registration.KindOf with transport errors.
func kindOf(err error) registration.ErrorKind {
	switch {
	case errors.Is(err, ErrFrameTruncated), errors.Is(err, io.EOF):
		return registration.KindNetworkError
	case errors.Is(err, ErrMessageTooLarge):
		return registration.KindInvalidParameters
	case errors.Is(err, ErrNoServerTrust), errors.Is(err, ErrServerKeyPinned):
		return registration.KindNotAllowed
	}
	return registration.KindOf(err)
}

func seconds(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(d / time.Second)
}

var _ registration.Protocol = (*Endpoint)(nil)
