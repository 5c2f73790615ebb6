package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m2mlink/m2m-go/pkg/model"
	"github.com/m2mlink/m2m-go/pkg/registration"
	"github.com/m2mlink/m2m-go/pkg/scheduler"
	"github.com/m2mlink/m2m-go/pkg/security"
	"github.com/m2mlink/m2m-go/pkg/wire"
)

const testEndpoint = "m2m-device-01"

var (
	counterPath = model.ResourcePath(3200, 0, 5501)
	redPath     = model.ResourcePath(32769, 0, 1)
	discoPath   = model.ResourcePath(32769, 0, 2)
)

type testTree struct {
	*model.Tree
	red      *model.Resource
	executed int
}

func newTestTree(t *testing.T) *testTree {
	t.Helper()
	tt := &testTree{Tree: model.NewTree()}

	button, err := tt.CreateObject(3200)
	require.NoError(t, err)
	bi, err := button.CreateInstanceWithID(0)
	require.NoError(t, err)
	_, err = bi.CreateResource(model.ResourceMetadata{
		ID: 5501, Name: "Digital Input Counter", Type: model.DataTypeInteger,
		Operations: model.OpRead, Observable: true, Default: []byte("3"),
	})
	require.NoError(t, err)

	led, err := tt.CreateObject(32769)
	require.NoError(t, err)
	li, err := led.CreateInstanceWithID(0)
	require.NoError(t, err)
	tt.red, err = li.CreateResource(model.ResourceMetadata{
		ID: 1, Name: "Red", Type: model.DataTypeBool, Operations: model.OpReadWrite, Default: []byte("0"),
	})
	require.NoError(t, err)
	disco, err := li.CreateResource(model.ResourceMetadata{ID: 2, Name: "Disco", Operations: model.OpExecute})
	require.NoError(t, err)
	disco.SetExecuteHandler(func([]byte) error {
		tt.executed++
		return nil
	})
	return tt
}

type eventLog struct {
	mu  sync.Mutex
	ops []wire.Operation
	evs []ServerEvent
}

func (l *eventLog) record(ev ServerEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, ev.Operation)
	l.evs = append(l.evs, ev)
}

func (l *eventLog) operations() []wire.Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]wire.Operation(nil), l.ops...)
}

func startServer(t *testing.T, cfg ServerConfig) (*Server, *eventLog) {
	t.Helper()
	events := &eventLog{}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:0"
	}
	cfg.OnEvent = events.record
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })
	return srv, events
}

// driver walks a session through register, server requests, notify,
// update and deregister.
type driver struct {
	registration.BaseObserver

	sched  *scheduler.Scheduler
	sess   *registration.Session
	srv    *Server
	events []string
	remote chan error
}

func (d *driver) Registered(registration.Result) {
	d.events = append(d.events, "registered")
	go func() { d.remote <- d.exercise() }()
}

func (d *driver) RegistrationUpdated(registration.Result) {
	d.events = append(d.events, "updated")
	if err := d.sess.RequestUnregister(); err != nil {
		d.events = append(d.events, "unregister failed: "+err.Error())
	}
}

func (d *driver) Unregistered() {
	d.events = append(d.events, "unregistered")
}

func (d *driver) Error(kind registration.ErrorKind) {
	d.events = append(d.events, "error:"+kind.String())
	d.sched.Stop()
}

// exercise runs on its own goroutine, like a server operator would.
func (d *driver) exercise() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	v, err := d.srv.Read(ctx, testEndpoint, counterPath)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if string(v) != "3" {
		return fmt.Errorf("read = %q, want 3", v)
	}
	if err := d.srv.Write(ctx, testEndpoint, redPath, []byte("1")); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := d.srv.Execute(ctx, testEndpoint, discoPath, nil); err != nil {
		return fmt.Errorf("execute: %w", err)
	}

	var se *wire.StatusError
	err = d.srv.Write(ctx, testEndpoint, counterPath, []byte("9"))
	if !errors.As(err, &se) || se.Status != wire.StatusMethodNotAllowed {
		return fmt.Errorf("write read-only = %v, want METHOD_NOT_ALLOWED", err)
	}
	err = d.srv.Write(ctx, testEndpoint, redPath, []byte("maybe"))
	if !errors.As(err, &se) || se.Status != wire.StatusNotAcceptable {
		return fmt.Errorf("write bad value = %v, want NOT_ACCEPTABLE", err)
	}
	if _, err := d.srv.Read(ctx, testEndpoint, model.ResourcePath(9, 9, 9)); !errors.As(err, &se) || se.Status != wire.StatusNotFound {
		return fmt.Errorf("read missing = %v, want NOT_FOUND", err)
	}

	if v, err := d.srv.Observe(ctx, testEndpoint, counterPath, true); err != nil || string(v) != "3" {
		return fmt.Errorf("observe = %q, %v", v, err)
	}

	d.sched.Post(func() {
		if err := d.sess.Notify(counterPath, []byte("4")); err != nil {
			d.events = append(d.events, "notify failed: "+err.Error())
		}
		if err := d.sess.RequestUpdate(); err != nil {
			d.events = append(d.events, "update failed: "+err.Error())
		}
	}, 0)
	return nil
}

func runLifecycle(t *testing.T, srv *Server, events *eventLog, sec *security.Context, binding registration.BindingMode) {
	t.Helper()

	tree := newTestTree(t)
	sched := scheduler.New()
	ep, err := NewEndpoint(EndpointConfig{
		Scheduler:      sched,
		Tree:           tree.Tree,
		Binding:        binding,
		RequestTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer ep.Close()

	d := &driver{sched: sched, srv: srv, remote: make(chan error, 1)}
	cfg := registration.DefaultConfig(testEndpoint)
	cfg.Binding = binding
	d.sess = registration.NewSession(sched, ep, d, cfg)

	sched.Post(func() {
		require.NoError(t, d.sess.Register(sec, tree.Links()))
	}, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, sched.Run(ctx))

	select {
	case err := <-d.remote:
		require.NoError(t, err)
	default:
		t.Fatal("server requests did not run")
	}

	assert.Equal(t, []string{"registered", "updated", "unregistered"}, d.events)
	assert.Equal(t, registration.StateUnregistered, d.sess.State())
	assert.True(t, sched.Stopped())

	red, err := tree.red.Bool()
	require.NoError(t, err)
	assert.True(t, red, "server write applied")
	assert.Equal(t, 1, tree.executed)

	// Server events fire after the response is sent.
	require.Eventually(t, func() bool {
		ops := events.operations()
		return len(ops) > 0 && ops[len(ops)-1] == wire.OpDeregister
	}, 2*time.Second, 10*time.Millisecond)
	ops := events.operations()
	assert.Equal(t, wire.OpRegister, ops[0])
	assert.Contains(t, ops, wire.OpNotify)
	assert.Contains(t, ops, wire.OpUpdate)
	assert.Empty(t, srv.Clients())
}

func TestEndpointLifecycleUDP(t *testing.T) {
	srv, events := startServer(t, ServerConfig{Network: "udp"})
	sec := &security.Context{ServerURI: srv.URI()}
	runLifecycle(t, srv, events, sec, registration.BindingUDP)
}

func TestEndpointLifecycleTCPWithPSK(t *testing.T) {
	psk := &security.Context{
		ServerURI: "unused",
		Mode:      security.ModePSK,
		Identity:  testEndpoint,
		Key:       []byte("0123456789abcdef"),
	}
	srv, events := startServer(t, ServerConfig{Network: "tcp", Security: psk})

	sec := psk.Clone()
	sec.ServerURI = "coap://" + srv.Addr().String()
	runLifecycle(t, srv, events, sec, registration.BindingTCP)
}

// outcomeRecorder records the first outcome and stops the scheduler.
type outcomeRecorder struct {
	sched *scheduler.Scheduler

	got  []string
	sec  *security.Context
	last registration.Result
}

func (r *outcomeRecorder) record(s string) {
	r.got = append(r.got, s)
	r.sched.Stop()
}

func (r *outcomeRecorder) BootstrapDone(sec *security.Context) {
	r.sec = sec
	r.record("bootstrap")
}

func (r *outcomeRecorder) RegistrationDone(res registration.Result) {
	r.last = res
	r.record("registered")
}

func (r *outcomeRecorder) UpdateDone(registration.Result) { r.record("updated") }
func (r *outcomeRecorder) UnregisterDone()                { r.record("unregistered") }
func (r *outcomeRecorder) Error(kind registration.ErrorKind) {
	r.record("error:" + kind.String())
}

func runOne(t *testing.T, sched *scheduler.Scheduler, start func() error) {
	t.Helper()
	sched.Post(func() { require.NoError(t, start()) }, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, sched.Run(ctx))
}

func TestEndpointTimeout(t *testing.T) {
	// A socket that never answers.
	silent, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer silent.Close()

	sched := scheduler.New()
	ep, err := NewEndpoint(EndpointConfig{Scheduler: sched, RequestTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer ep.Close()

	rec := &outcomeRecorder{sched: sched}
	sec := &security.Context{ServerURI: "udp://" + silent.LocalAddr().String()}
	reg := registration.Registration{Endpoint: testEndpoint, Lifetime: time.Hour}

	start := time.Now()
	runOne(t, sched, func() error { return ep.Register(sec, reg, rec) })

	assert.Equal(t, []string{"error:Timeout"}, rec.got)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestEndpointLifetimeGranted(t *testing.T) {
	srv, _ := startServer(t, ServerConfig{Lifetime: 90 * time.Second})

	sched := scheduler.New()
	ep, err := NewEndpoint(EndpointConfig{Scheduler: sched})
	require.NoError(t, err)
	defer ep.Close()

	rec := &outcomeRecorder{sched: sched}
	sec := &security.Context{ServerURI: srv.URI()}
	reg := registration.Registration{Endpoint: testEndpoint, Lifetime: time.Hour, Type: "test", Links: "</3/0>"}
	runOne(t, sched, func() error { return ep.Register(sec, reg, rec) })

	require.Equal(t, []string{"registered"}, rec.got)
	assert.Equal(t, 90*time.Second, rec.last.Lifetime)

	info, ok := srv.Client(testEndpoint)
	require.True(t, ok)
	assert.Equal(t, rec.last.Location, info.Location)
	assert.Equal(t, "test", info.Type)
	assert.Equal(t, "</3/0>", info.Links)
	assert.NotEmpty(t, ep.ConnID())
	assert.NotNil(t, ep.LocalAddr())
}

func TestEndpointRejectedWithoutKey(t *testing.T) {
	psk := &security.Context{ServerURI: "unused", Mode: security.ModePSK, Identity: "id", Key: []byte("secret")}
	srv, _ := startServer(t, ServerConfig{Security: psk})

	sched := scheduler.New()
	ep, err := NewEndpoint(EndpointConfig{Scheduler: sched})
	require.NoError(t, err)
	defer ep.Close()

	rec := &outcomeRecorder{sched: sched}
	sec := &security.Context{ServerURI: srv.URI()}
	reg := registration.Registration{Endpoint: testEndpoint, Lifetime: time.Hour}
	runOne(t, sched, func() error { return ep.Register(sec, reg, rec) })

	assert.Equal(t, []string{"error:NotAllowed"}, rec.got)
	assert.Empty(t, srv.Clients())
}

func TestEndpointBootstrap(t *testing.T) {
	mgmt := &security.Context{
		ServerURI: "udp://mgmt.example:5683",
		Mode:      security.ModePSK,
		Identity:  testEndpoint,
		Key:       []byte("k"),
	}
	srv, events := startServer(t, ServerConfig{Bootstrap: mgmt})

	sched := scheduler.New()
	ep, err := NewEndpoint(EndpointConfig{Scheduler: sched})
	require.NoError(t, err)
	defer ep.Close()

	rec := &outcomeRecorder{sched: sched}
	runOne(t, sched, func() error {
		return ep.Bootstrap(&security.Context{ServerURI: srv.URI()}, testEndpoint, rec)
	})

	require.Equal(t, []string{"bootstrap"}, rec.got)
	assert.Equal(t, mgmt.ServerURI, rec.sec.ServerURI)
	assert.Equal(t, security.ModePSK, rec.sec.Mode)
	assert.Equal(t, mgmt.Key, rec.sec.Key)
	assert.Eventually(t, func() bool { return len(events.operations()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []wire.Operation{wire.OpBootstrap}, events.operations())
	assert.Empty(t, ep.ConnID(), "bootstrap connection closed")
}

func TestEndpointBootstrapUnavailable(t *testing.T) {
	srv, _ := startServer(t, ServerConfig{})

	sched := scheduler.New()
	ep, err := NewEndpoint(EndpointConfig{Scheduler: sched})
	require.NoError(t, err)
	defer ep.Close()

	rec := &outcomeRecorder{sched: sched}
	runOne(t, sched, func() error {
		return ep.Bootstrap(&security.Context{ServerURI: srv.URI()}, testEndpoint, rec)
	})
	assert.Equal(t, []string{"error:BootstrapFailed"}, rec.got)
}

func TestEndpointNotConnected(t *testing.T) {
	sched := scheduler.New()
	ep, err := NewEndpoint(EndpointConfig{Scheduler: sched})
	require.NoError(t, err)

	rec := &outcomeRecorder{sched: sched}
	err = ep.Update("/rd/1", registration.Registration{}, rec)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, registration.KindNetworkError, registration.KindOf(err))

	err = ep.Register(&security.Context{Mode: security.ModePSK}, registration.Registration{Endpoint: "x"}, rec)
	assert.ErrorIs(t, err, registration.ErrInvalidParameters)
	assert.Equal(t, 0, sched.Len())

	require.NoError(t, ep.Close())
	err = ep.Register(&security.Context{ServerURI: "udp://127.0.0.1:1"}, registration.Registration{Endpoint: "x"}, rec)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestNewEndpointRequiresScheduler(t *testing.T) {
	_, err := NewEndpoint(EndpointConfig{})
	assert.ErrorIs(t, err, registration.ErrInvalidParameters)
}

func TestServerUnknownClient(t *testing.T) {
	srv, _ := startServer(t, ServerConfig{})
	_, err := srv.Read(context.Background(), "nobody", counterPath)
	assert.ErrorIs(t, err, ErrUnknownClient)

	require.NoError(t, srv.Stop())
	_, err = srv.Read(context.Background(), "nobody", counterPath)
	assert.ErrorIs(t, err, ErrServerStopped)
}

func TestServerRejectsBadNetwork(t *testing.T) {
	_, err := NewServer(ServerConfig{Network: "sctp"})
	assert.Error(t, err)

	server, _ := generateTestCertificate(t, "server")
	tlsConf, err := ServerTLSConfig(server, nil)
	require.NoError(t, err)
	_, err = NewServer(ServerConfig{Network: "udp", TLSConfig: tlsConf})
	assert.Error(t, err)
}

// stalledConn blocks every write until release is closed.
type stalledConn struct {
	release chan struct{}
	written chan []byte
}

func (c *stalledConn) ReadMessage() ([]byte, error) { select {} }
func (c *stalledConn) WriteMessage(data []byte) error {
	<-c.release
	c.written <- data
	return nil
}
func (c *stalledConn) LocalAddr() net.Addr  { return &net.UDPAddr{} }
func (c *stalledConn) RemoteAddr() net.Addr { return &net.UDPAddr{} }
func (c *stalledConn) Close() error         { return nil }

func TestServeDoesNotBlockOnWrite(t *testing.T) {
	tree := newTestTree(t)
	ep, err := NewEndpoint(EndpointConfig{Scheduler: scheduler.New(), Tree: tree.Tree})
	require.NoError(t, err)

	conn := &stalledConn{release: make(chan struct{}), written: make(chan []byte, 1)}
	req := &wire.Request{MessageID: 9, Operation: wire.OpRead, Path: &counterPath}

	served := make(chan struct{})
	go func() {
		ep.serve(conn, req)
		close(served)
	}()
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("serve blocked on the connection write")
	}

	close(conn.release)
	select {
	case data := <-conn.written:
		resp, err := wire.DecodeResponse(data)
		require.NoError(t, err)
		assert.Equal(t, uint32(9), resp.MessageID)
		assert.True(t, resp.IsSuccess())
		assert.Equal(t, "3", string(resp.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("response never written")
	}
}
