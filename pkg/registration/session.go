package registration

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/m2mlink/m2m-go/pkg/log"
	"github.com/m2mlink/m2m-go/pkg/model"
	"github.com/m2mlink/m2m-go/pkg/scheduler"
	"github.com/m2mlink/m2m-go/pkg/security"
)

// Defaults.
const (
	// DefaultLifetime is the registration lifetime requested by default.
	DefaultLifetime = 3600 * time.Second

	// DefaultUpdateMargin is how long before expiry the update is sent.
	DefaultUpdateMargin = 60 * time.Second

	// DefaultEndpointType is the endpoint type announced by default.
	DefaultEndpointType = "test"
)

// Config configures a Session.
type Config struct {
	// Endpoint is the client endpoint name. Required.
	Endpoint string

	// EndpointType is the announced endpoint type.
	EndpointType string

	// Domain is the account domain on the server.
	Domain string

	// Lifetime is the requested registration lifetime.
	Lifetime time.Duration

	// Binding is the announced transport binding.
	Binding BindingMode

	// UpdateMargin is how long before lifetime expiry the update is sent.
	UpdateMargin time.Duration

	// Logger is the operational logger. Nil discards.
	Logger *slog.Logger

	// ProtocolLogger receives state change events. Nil discards.
	ProtocolLogger log.Logger
}

// DefaultConfig returns a Config with defaults for everything but Endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:     endpoint,
		EndpointType: DefaultEndpointType,
		Lifetime:     DefaultLifetime,
		Binding:      BindingUDP,
		UpdateMargin: DefaultUpdateMargin,
	}
}

// UpdateDelay returns when the update for a registration of the given
// lifetime is due: margin before expiry, or at half the lifetime when the
// lifetime is not longer than twice the margin. Zero means no update.
func UpdateDelay(lifetime, margin time.Duration) time.Duration {
	if lifetime <= 0 {
		return 0
	}
	if margin <= 0 || lifetime <= 2*margin {
		return lifetime / 2
	}
	return lifetime - margin
}

// Session is the registration state machine. It must only be used from
// the scheduler goroutine.
type Session struct {
	cfg      Config
	sched    *scheduler.Scheduler
	proto    Protocol
	observer Observer
	logger   *slog.Logger
	plog     log.Logger

	state    State
	failure  ErrorKind
	security *security.Context
	location string
	lifetime time.Duration
	links    string

	update *scheduler.Handle
	tasks  []*scheduler.Handle
}

// NewSession creates a session in StateIdle.
func NewSession(sched *scheduler.Scheduler, proto Protocol, observer Observer, cfg Config) *Session {
	if cfg.Binding == "" {
		cfg.Binding = BindingUDP
	}
	if cfg.EndpointType == "" {
		cfg.EndpointType = DefaultEndpointType
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultLifetime
	}
	if cfg.UpdateMargin <= 0 {
		cfg.UpdateMargin = DefaultUpdateMargin
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if observer == nil {
		observer = BaseObserver{}
	}
	return &Session{
		cfg:      cfg,
		sched:    sched,
		proto:    proto,
		observer: observer,
		logger:   logger,
		plog:     log.OrNoop(cfg.ProtocolLogger),
	}
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Failure returns the kind of the last error. Only meaningful in StateFailed.
func (s *Session) Failure() ErrorKind {
	return s.failure
}

// Location returns the registration handle, empty unless registered.
func (s *Session) Location() string {
	return s.location
}

// Lifetime returns the lifetime granted by the server.
func (s *Session) Lifetime() time.Duration {
	return s.lifetime
}

// Security returns the current security context.
func (s *Session) Security() *security.Context {
	return s.security
}

// Endpoint returns the configured endpoint name.
func (s *Session) Endpoint() string {
	return s.cfg.Endpoint
}

// NextUpdate returns when the next automatic update fires, or the zero time.
func (s *Session) NextUpdate() time.Time {
	if s.update == nil || !s.update.Pending() {
		return time.Time{}
	}
	return s.update.FireTime()
}

// Track ties a task to the session. Tracked tasks are cancelled when the
// session fails or unregisters.
func (s *Session) Track(h *scheduler.Handle) {
	live := s.tasks[:0]
	for _, t := range s.tasks {
		if t.Pending() {
			live = append(live, t)
		}
	}
	s.tasks = append(live, h)
}

// StartBootstrap requests server credentials. Allowed from StateIdle and
// StateFailed.
func (s *Session) StartBootstrap(sec *security.Context) error {
	if s.state != StateIdle && s.state != StateFailed {
		return s.invalid("bootstrap")
	}
	if sec == nil {
		return fmt.Errorf("%w: bootstrap security context required", ErrInvalidParameters)
	}

	s.setState(StateBootstrapping, "")
	if err := s.proto.Bootstrap(sec, s.cfg.Endpoint, s); err != nil {
		s.surface("bootstrap", err)
	}
	return nil
}

// Register registers the given object links with the server in sec.
// A nil sec uses the context obtained by bootstrapping. Allowed from
// StateIdle and StateFailed. StateUnregistered is final because the
// scheduler has been stopped.
func (s *Session) Register(sec *security.Context, links string) error {
	switch s.state {
	case StateIdle, StateFailed:
	default:
		return s.invalid("register")
	}
	if sec == nil {
		sec = s.security
	}
	if sec == nil {
		return fmt.Errorf("%w: no security context", ErrInvalidParameters)
	}
	if s.cfg.Endpoint == "" {
		return fmt.Errorf("%w: endpoint name required", ErrInvalidParameters)
	}

	s.security = sec
	s.links = links
	s.location = ""
	s.setState(StateAwaitingRegistration, "")

	if err := s.proto.Register(sec, s.registration(), s); err != nil {
		s.surface("register", err)
	}
	return nil
}

// RequestUpdate refreshes the registration now. Allowed from StateRegistered.
func (s *Session) RequestUpdate() error {
	if s.state != StateRegistered {
		if s.state.IsBusy() {
			return s.invalid("update")
		}
		return fmt.Errorf("%w: update in %s", ErrNotRegistered, s.state)
	}

	s.update.Cancel()
	s.update = nil
	s.setState(StateAwaitingUpdate, "")

	if err := s.proto.Update(s.location, s.registration(), s); err != nil {
		s.surface("update", err)
	}
	return nil
}

// SetLinks replaces the object links sent with the next update.
func (s *Session) SetLinks(links string) {
	s.links = links
}

// RequestUnregister removes the registration. Allowed from StateRegistered
// and StateFailed.
func (s *Session) RequestUnregister() error {
	if s.state != StateRegistered && s.state != StateFailed {
		if s.state.IsBusy() {
			return s.invalid("unregister")
		}
		return fmt.Errorf("%w: unregister in %s", ErrNotRegistered, s.state)
	}

	s.update.Cancel()
	s.update = nil
	s.setState(StateAwaitingUnregistration, "")

	// Nothing to remove on the server.
	if s.location == "" {
		s.sched.Post(s.UnregisterDone, 0)
		return nil
	}
	if err := s.proto.Deregister(s.location, s); err != nil {
		s.surface("deregister", err)
	}
	return nil
}

// Notify reports a changed resource value to the server.
func (s *Session) Notify(p model.Path, value []byte) error {
	if s.state != StateRegistered && s.state != StateAwaitingUpdate {
		return fmt.Errorf("%w: notify in %s", ErrNotRegistered, s.state)
	}
	if err := s.proto.Notify(s.location, p, value, s); err != nil {
		s.surface("notify", err)
	}
	return nil
}

// BootstrapDone implements Outcomes.
func (s *Session) BootstrapDone(sec *security.Context) {
	if !s.expect(StateBootstrapping, "BootstrapDone") {
		return
	}
	s.security = sec
	s.setState(StateIdle, "bootstrapped")
	s.observer.BootstrapDone(sec)
}

// RegistrationDone implements Outcomes.
func (s *Session) RegistrationDone(res Result) {
	if !s.expect(StateAwaitingRegistration, "RegistrationDone") {
		return
	}
	s.location = res.Location
	s.lifetime = res.Lifetime
	if s.lifetime <= 0 {
		s.lifetime = s.cfg.Lifetime
	}
	s.setState(StateRegistered, "")
	s.scheduleUpdate()
	s.observer.Registered(res)
}

// UpdateDone implements Outcomes.
func (s *Session) UpdateDone(res Result) {
	if !s.expect(StateAwaitingUpdate, "UpdateDone") {
		return
	}
	if res.Lifetime > 0 {
		s.lifetime = res.Lifetime
	}
	if res.Location != "" {
		s.location = res.Location
	}
	s.setState(StateRegistered, "updated")
	s.scheduleUpdate()
	s.observer.RegistrationUpdated(res)
}

// UnregisterDone implements Outcomes. It cancels the session's tasks and
// stops the scheduler.
func (s *Session) UnregisterDone() {
	if !s.expect(StateAwaitingUnregistration, "UnregisterDone") {
		return
	}
	s.cancelTasks()
	s.location = ""
	s.setState(StateUnregistered, "")
	s.observer.Unregistered()
	s.sched.Stop()
}

// Error implements Outcomes. Any state moves to StateFailed and all
// session tasks are cancelled.
func (s *Session) Error(kind ErrorKind) {
	s.cancelTasks()
	s.failure = kind
	s.setState(StateFailed, kind.String())
	s.observer.Error(kind)
}

func (s *Session) registration() Registration {
	return Registration{
		Endpoint: s.cfg.Endpoint,
		Type:     s.cfg.EndpointType,
		Domain:   s.cfg.Domain,
		Lifetime: s.cfg.Lifetime,
		Binding:  s.cfg.Binding,
		Links:    s.links,
	}
}

func (s *Session) scheduleUpdate() {
	s.update.Cancel()
	s.update = nil

	delay := UpdateDelay(s.lifetime, s.cfg.UpdateMargin)
	if delay <= 0 {
		return
	}
	s.update = s.sched.Post(s.autoUpdate, delay)
	s.logger.Debug("registration update scheduled", "delay", delay, "lifetime", s.lifetime)
}

func (s *Session) autoUpdate() {
	s.update = nil
	if err := s.RequestUpdate(); err != nil {
		s.logger.Debug("scheduled update skipped", "error", err)
	}
}

func (s *Session) cancelTasks() {
	s.update.Cancel()
	s.update = nil
	for _, h := range s.tasks {
		h.Cancel()
	}
	s.tasks = nil
}

// surface reports a failure to start a request through the same path as
// asynchronous failures.
func (s *Session) surface(op string, err error) {
	kind := KindOf(err)
	s.logger.Warn("request failed to start", "operation", op, "error", err, "kind", kind)
	s.sched.Post(func() { s.Error(kind) }, 0)
}

// expect drops outcomes that do not match the current state.
func (s *Session) expect(want State, outcome string) bool {
	if s.state == want {
		return true
	}
	s.logger.Warn("dropping unexpected outcome", "outcome", outcome, "state", s.state)
	return false
}

func (s *Session) invalid(op string) error {
	return fmt.Errorf("%w: %s in %s", ErrInvalidState, op, s.state)
}

func (s *Session) setState(next State, reason string) {
	prev := s.state
	s.state = next

	s.logger.Info("registration state", "from", prev, "to", next, "endpoint", s.cfg.Endpoint)
	s.plog.Log(log.Event{
		Timestamp: s.sched.Now(),
		Layer:     log.LayerRegistration,
		Category:  log.CategoryState,
		Endpoint:  s.cfg.Endpoint,
		Location:  s.location,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityRegistration,
			OldState: prev.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})
}

var _ Outcomes = (*Session)(nil)
