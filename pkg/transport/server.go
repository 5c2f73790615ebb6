package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/m2mlink/m2m-go/pkg/log"
	"github.com/m2mlink/m2m-go/pkg/model"
	"github.com/m2mlink/m2m-go/pkg/security"
	"github.com/m2mlink/m2m-go/pkg/wire"
)

// Server errors.
var (
	ErrUnknownClient  = errors.New("unknown client")
	ErrServerRunning  = errors.New("server already running")
	ErrServerStopped  = errors.New("server stopped")
	ErrRequestTimeout = errors.New("client did not answer")
)

// LocationPrefix prefixes every registration handle issued by Server.
const LocationPrefix = "/rd/"

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address to listen on. Default ":5683".
	Address string

	// Network is "udp" (default) or "tcp".
	Network string

	// TLSConfig enables TLS on a tcp listener. See ServerTLSConfig.
	TLSConfig *tls.Config

	// Security verifies PSK tags on client requests and signs server
	// requests. All clients share its identity and key. Nil or NoSec
	// accepts everything.
	Security *security.Context

	// Bootstrap is handed out on Bootstrap requests. Nil answers NOT_FOUND.
	Bootstrap *security.Context

	// Lifetime overrides the lifetime requested by clients.
	Lifetime time.Duration

	// RequestTimeout bounds Read, Write, Execute and Observe.
	RequestTimeout time.Duration

	// MaxMessageSize limits messages in both directions.
	MaxMessageSize uint32

	// Logger is the operational logger. Nil discards.
	Logger *slog.Logger

	// ProtocolLogger receives frame and message events. Nil discards.
	ProtocolLogger log.Logger

	// OnEvent is called for every accepted client request, outside any lock.
	OnEvent func(ServerEvent)
}

// ClientInfo describes a registered client.
type ClientInfo struct {
	Endpoint   string
	Type       string
	Domain     string
	Location   string
	Links      string
	Binding    string
	Lifetime   time.Duration
	RemoteAddr string
	Registered time.Time
	Updated    time.Time
}

// ServerEvent reports a client request handled by the server.
type ServerEvent struct {
	Operation wire.Operation
	Client    ClientInfo

	// Path and Value are set for Notify.
	Path  model.Path
	Value []byte
}

// peer is the return route to a client.
type peer interface {
	send(data []byte) error
	addr() string
}

type streamPeer struct{ conn *StreamConn }

func (p streamPeer) send(data []byte) error { return p.conn.WriteMessage(data) }
func (p streamPeer) addr() string           { return p.conn.RemoteAddr().String() }

type packetPeer struct {
	pc      net.PacketConn
	to      net.Addr
	maxSize uint32
}

func (p packetPeer) send(data []byte) error {
	if uint32(len(data)) > p.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), p.maxSize)
	}
	_, err := p.pc.WriteTo(data, p.to)
	return err
}

func (p packetPeer) addr() string { return p.to.String() }

type clientRecord struct {
	info ClientInfo
	peer peer
}

// Server is a management server. It accepts registrations and can read,
// write, execute and observe resources on registered clients.
type Server struct {
	config ServerConfig
	logger *slog.Logger
	plog   log.Logger
	connID string

	listener net.Listener
	packet   net.PacketConn

	mu         sync.Mutex
	clients    map[string]*clientRecord // by endpoint
	byLocation map[string]*clientRecord
	waiting    map[uint32]chan *wire.Response
	streams    map[*StreamConn]struct{}

	nextID  atomic.Uint32
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Network == "" {
		config.Network = "udp"
	}
	if config.Network != "udp" && config.Network != "tcp" {
		return nil, fmt.Errorf("unsupported network %q", config.Network)
	}
	if config.TLSConfig != nil && config.Network != "tcp" {
		return nil, fmt.Errorf("TLS requires network tcp")
	}
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		config:     config,
		logger:     logger,
		plog:       log.OrNoop(config.ProtocolLogger),
		connID:     uuid.New().String(),
		clients:    make(map[string]*clientRecord),
		byLocation: make(map[string]*clientRecord),
		waiting:    make(map[uint32]chan *wire.Response),
		streams:    make(map[*StreamConn]struct{}),
	}, nil
}

// Start listens and serves until Stop or ctx cancellation.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.config.Network == "udp" {
		pc, err := net.ListenPacket("udp", s.config.Address)
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		s.packet = pc
		s.running.Store(true)
		s.wg.Add(1)
		go s.packetLoop()
	} else {
		ln, err := net.Listen("tcp", s.config.Address)
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		if s.config.TLSConfig != nil {
			ln = tls.NewListener(ln, s.config.TLSConfig)
		}
		s.listener = ln
		s.running.Store(true)
		s.wg.Add(1)
		go s.acceptLoop()
	}

	go func() {
		<-s.ctx.Done()
		s.Stop()
	}()

	s.logger.Info("management server listening", "network", s.config.Network, "address", s.Addr())
	return nil
}

// Stop closes the listener and all connections and waits for them.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}
	if s.packet != nil {
		s.packet.Close()
	}

	s.mu.Lock()
	for c := range s.streams {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	if s.packet != nil {
		return s.packet.LocalAddr()
	}
	return nil
}

// URI returns a client-usable URI for the listen address.
func (s *Server) URI() string {
	scheme := s.config.Network
	if s.config.TLSConfig != nil {
		scheme = "tls"
	}
	return scheme + "://" + s.Addr().String()
}

// Clients returns the registered clients sorted by endpoint name.
func (s *Server) Clients() []ClientInfo {
	s.mu.Lock()
	out := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c.info)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// Client returns the registration of endpoint.
func (s *Server) Client(endpoint string) (ClientInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[endpoint]
	if !ok {
		return ClientInfo{}, false
	}
	return c.info, true
}

// Read reads a resource on a registered client.
func (s *Server) Read(ctx context.Context, endpoint string, p model.Path) ([]byte, error) {
	resp, err := s.call(ctx, endpoint, &wire.Request{Operation: wire.OpRead, Path: &p})
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// Write writes a resource on a registered client.
func (s *Server) Write(ctx context.Context, endpoint string, p model.Path, value []byte) error {
	_, err := s.call(ctx, endpoint, &wire.Request{Operation: wire.OpWrite, Path: &p, Payload: value})
	return err
}

// Execute executes a resource on a registered client.
func (s *Server) Execute(ctx context.Context, endpoint string, p model.Path, args []byte) error {
	_, err := s.call(ctx, endpoint, &wire.Request{Operation: wire.OpExecute, Path: &p, Payload: args})
	return err
}

// Observe starts or cancels an observation. Starting returns the current
// value.
func (s *Server) Observe(ctx context.Context, endpoint string, p model.Path, enable bool) ([]byte, error) {
	resp, err := s.call(ctx, endpoint, &wire.Request{Operation: wire.OpObserve, Path: &p, Cancel: !enable})
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

func (s *Server) call(ctx context.Context, endpoint string, req *wire.Request) (*wire.Response, error) {
	if !s.running.Load() {
		return nil, ErrServerStopped
	}
	s.mu.Lock()
	c, ok := s.clients[endpoint]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClient, endpoint)
	}

	req.MessageID = s.nextMessageID()
	if sec := s.config.Security; sec != nil {
		if err := sec.SignRequest(req); err != nil {
			return nil, err
		}
	}
	data, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan *wire.Response, 1)
	s.mu.Lock()
	s.waiting[req.MessageID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiting, req.MessageID)
		s.mu.Unlock()
	}()

	if err := c.peer.send(data); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Operation, err)
	}
	s.logMessage(log.DirectionOut, c.peer.addr(), endpoint, log.RequestEvent(req))

	timer := time.NewTimer(s.config.RequestTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if !resp.IsSuccess() {
			return resp, resp.Status.Err(req.Operation)
		}
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s %s", ErrRequestTimeout, req.Operation, endpoint)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, ErrServerStopped
	}
}

func (s *Server) packetLoop() {
	defer s.wg.Done()

	buf := make([]byte, s.config.MaxMessageSize+1)
	for s.running.Load() {
		n, from, err := s.packet.ReadFrom(buf)
		if err != nil {
			if s.running.Load() {
				s.logger.Warn("read error", "error", err)
			}
			continue
		}
		if n == 0 || uint32(n) > s.config.MaxMessageSize {
			s.logger.Debug("dropping datagram", "size", n, "from", from)
			continue
		}
		data := append([]byte(nil), buf[:n]...)
		s.plog.Log(s.frameEvent(log.DirectionIn, from.String(), n, data))
		s.dispatch(packetPeer{pc: s.packet, to: from, maxSize: s.config.MaxMessageSize}, data)
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				s.logger.Warn("accept error", "error", err)
			}
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.HandshakeContext(s.ctx); err != nil {
			conn.Close()
			s.logger.Warn("TLS handshake failed", "remote", conn.RemoteAddr(), "error", err)
			return
		}
		if err := VerifyConnection(tlsConn.ConnectionState()); err != nil {
			conn.Close()
			s.logger.Warn("connection rejected", "remote", conn.RemoteAddr(), "error", err)
			return
		}
	}

	connID := uuid.New().String()
	sc := NewStreamConn(conn, s.config.MaxMessageSize)
	if s.config.ProtocolLogger != nil {
		sc.SetLogger(s.config.ProtocolLogger, connID)
	}

	s.mu.Lock()
	s.streams[sc] = struct{}{}
	s.mu.Unlock()
	s.logConnState(connID, conn.RemoteAddr().String(), "", "CONNECTED")

	p := streamPeer{conn: sc}
	for {
		data, err := sc.ReadMessage()
		if err != nil {
			break
		}
		s.dispatch(p, data)
	}

	sc.Close()
	s.mu.Lock()
	delete(s.streams, sc)
	s.mu.Unlock()
	s.logConnState(connID, conn.RemoteAddr().String(), "CONNECTED", "DISCONNECTED")
}

// dispatch routes one incoming message.
func (s *Server) dispatch(p peer, data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		s.logger.Debug("undecodable message", "from", p.addr(), "error", err)
		return
	}

	if resp := msg.Response; resp != nil {
		s.logMessage(log.DirectionIn, p.addr(), "", log.ResponseEvent(resp, 0))
		s.mu.Lock()
		ch := s.waiting[resp.MessageID]
		s.mu.Unlock()
		if ch != nil {
			select {
			case ch <- resp:
			default:
			}
		}
		return
	}

	req := msg.Request
	s.logMessage(log.DirectionIn, p.addr(), req.Endpoint, log.RequestEvent(req))

	resp, event := s.handleRequest(p, req)
	out, err := wire.EncodeResponse(resp)
	if err != nil {
		s.logger.Warn("encode response", "error", err)
		return
	}
	if err := p.send(out); err != nil {
		s.logger.Warn("send response", "to", p.addr(), "error", err)
		return
	}
	if _, ok := p.(packetPeer); ok {
		s.plog.Log(s.frameEvent(log.DirectionOut, p.addr(), len(out), out))
	}
	s.logMessage(log.DirectionOut, p.addr(), req.Endpoint, log.ResponseEvent(resp, 0))

	if event != nil && s.config.OnEvent != nil {
		s.config.OnEvent(*event)
	}
}

// handleRequest applies a client request. The event is nil when the
// request was rejected.
func (s *Server) handleRequest(p peer, req *wire.Request) (*wire.Response, *ServerEvent) {
	resp := wire.NewResponse(req, wire.StatusSuccess)
	reject := func(status wire.Status, detail string) (*wire.Response, *ServerEvent) {
		resp.Status = status
		resp.Detail = detail
		s.logger.Debug("request rejected", "operation", req.Operation, "status", status, "detail", detail)
		return resp, nil
	}

	if sec := s.config.Security; sec != nil {
		if err := sec.VerifyRequest(req); err != nil {
			return reject(wire.StatusUnauthorized, err.Error())
		}
	}
	if err := req.Validate(); err != nil {
		return reject(wire.StatusBadRequest, err.Error())
	}
	if !req.Operation.IsUplink() {
		return reject(wire.StatusMethodNotAllowed, req.Operation.String())
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Operation {
	case wire.OpBootstrap:
		if s.config.Bootstrap == nil {
			return reject(wire.StatusNotFound, "no bootstrap information")
		}
		resp.Bootstrap = s.config.Bootstrap.BootstrapInfo()
		return resp, &ServerEvent{Operation: req.Operation, Client: ClientInfo{Endpoint: req.Endpoint, RemoteAddr: p.addr()}}

	case wire.OpRegister:
		if old, ok := s.clients[req.Endpoint]; ok {
			delete(s.byLocation, old.info.Location)
		}
		lifetime := s.grant(req.Lifetime)
		c := &clientRecord{
			info: ClientInfo{
				Endpoint:   req.Endpoint,
				Type:       req.Type,
				Domain:     req.Domain,
				Location:   LocationPrefix + uuid.New().String()[:8],
				Links:      req.Links,
				Binding:    req.Binding,
				Lifetime:   lifetime,
				RemoteAddr: p.addr(),
				Registered: now,
				Updated:    now,
			},
			peer: p,
		}
		s.clients[req.Endpoint] = c
		s.byLocation[c.info.Location] = c
		resp.Location = c.info.Location
		resp.Lifetime = seconds(lifetime)
		s.logger.Info("client registered", "endpoint", req.Endpoint, "location", c.info.Location, "lifetime", lifetime)
		return resp, &ServerEvent{Operation: req.Operation, Client: c.info}
	}

	c, ok := s.byLocation[req.Location]
	if !ok {
		return reject(wire.StatusNotFound, "unknown location "+req.Location)
	}
	c.peer = p
	c.info.RemoteAddr = p.addr()

	switch req.Operation {
	case wire.OpUpdate:
		if req.Lifetime > 0 {
			c.info.Lifetime = s.grant(req.Lifetime)
		}
		if req.Links != "" {
			c.info.Links = req.Links
		}
		c.info.Updated = now
		resp.Location = c.info.Location
		resp.Lifetime = seconds(c.info.Lifetime)
		return resp, &ServerEvent{Operation: req.Operation, Client: c.info}

	case wire.OpDeregister:
		delete(s.byLocation, c.info.Location)
		delete(s.clients, c.info.Endpoint)
		s.logger.Info("client deregistered", "endpoint", c.info.Endpoint)
		return resp, &ServerEvent{Operation: req.Operation, Client: c.info}

	default: // OpNotify
		return resp, &ServerEvent{Operation: req.Operation, Client: c.info, Path: *req.Path, Value: req.Payload}
	}
}

func (s *Server) grant(requested uint32) time.Duration {
	if s.config.Lifetime > 0 {
		return s.config.Lifetime
	}
	return time.Duration(requested) * time.Second
}

func (s *Server) nextMessageID() uint32 {
	for {
		if id := s.nextID.Add(1); id != 0 {
			return id
		}
	}
}

func (s *Server) frameEvent(dir log.Direction, remote string, size int, data []byte) log.Event {
	ev := frameEvent(s.connID, dir, size, data)
	ev.LocalRole = log.RoleServer
	ev.RemoteAddr = remote
	return ev
}

func (s *Server) logMessage(dir log.Direction, remote, endpoint string, msg *log.MessageEvent) {
	s.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.connID,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleServer,
		RemoteAddr:   remote,
		Endpoint:     endpoint,
		Message:      msg,
	})
}

func (s *Server) logConnState(connID, remote, from, to string) {
	s.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    log.RoleServer,
		RemoteAddr:   remote,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: from,
			NewState: to,
		},
	})
}
