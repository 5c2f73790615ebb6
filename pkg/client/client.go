package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/m2mlink/m2m-go/pkg/hardware"
	"github.com/m2mlink/m2m-go/pkg/log"
	"github.com/m2mlink/m2m-go/pkg/model"
	"github.com/m2mlink/m2m-go/pkg/registration"
	"github.com/m2mlink/m2m-go/pkg/scheduler"
	"github.com/m2mlink/m2m-go/pkg/security"
)

// DefaultMaintenanceInterval is the cadence of the maintenance task.
const DefaultMaintenanceInterval = 25 * time.Second

// Client errors.
var (
	ErrAlreadyStarted = errors.New("client already started")
	ErrNotStarted     = errors.New("client not started")
)

// Config configures a Client.
type Config struct {
	// Registration configures the session. Endpoint is required.
	Registration registration.Config

	// Security is the management server, or the bootstrap server when
	// Bootstrap is set.
	Security *security.Context

	// Bootstrap fetches the server credentials before registering.
	Bootstrap bool

	// OnBootstrapped receives the credentials of a successful bootstrap,
	// on the scheduler goroutine, before registration starts.
	OnBootstrapped func(*security.Context)

	// Device fills the device object. Zero uses DefaultDeviceInfo.
	Device DeviceInfo

	// AnimationTurns and AnimationDelay configure the start-up effect.
	// Zero uses the defaults; negative turns disable it.
	AnimationTurns int
	AnimationDelay time.Duration

	// MaintenanceInterval is the period of the maintenance task.
	MaintenanceInterval time.Duration

	// Logger is the operational logger. Nil discards.
	Logger *slog.Logger

	// Trace receives the human-readable status lines. Nil discards.
	Trace log.Sink
}

// Deps are the collaborators of a Client.
type Deps struct {
	// Scheduler runs the client. Required.
	Scheduler *scheduler.Scheduler

	// Protocol talks to the server. Required.
	Protocol registration.Protocol

	// Inputs delivers the unregister and observe triggers. Optional.
	Inputs hardware.Inputs

	// Outputs shows the animation. Optional.
	Outputs hardware.Outputs
}

// TreeServer is implemented by protocols that answer server requests from
// the resource tree.
type TreeServer interface {
	SetTree(tree *model.Tree)
}

// Client composes the resource tree, the registration session and the
// hardware. Construct it with New and call Start or Run.
type Client struct {
	cfg     Config
	sched   *scheduler.Scheduler
	proto   registration.Protocol
	inputs  hardware.Inputs
	outputs hardware.Outputs
	logger  *slog.Logger
	trace   log.Sink

	tree    *model.Tree
	objs    *objects
	session *registration.Session

	maintenance *scheduler.Handle
	flushQueued bool
	release     func()
	started     bool

	animation *scheduler.Handle
	remaining int
	frames    int
}

// New creates a client. Nothing happens until Start.
func New(cfg Config, deps Deps) (*Client, error) {
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("%w: scheduler required", registration.ErrInvalidParameters)
	}
	if deps.Protocol == nil {
		return nil, fmt.Errorf("%w: protocol required", registration.ErrInvalidParameters)
	}
	if cfg.Registration.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint name required", registration.ErrInvalidParameters)
	}
	if cfg.Device == (DeviceInfo{}) {
		cfg.Device = DefaultDeviceInfo()
	}
	if cfg.AnimationTurns == 0 {
		cfg.AnimationTurns = DefaultAnimationTurns
	}
	if cfg.AnimationDelay <= 0 {
		cfg.AnimationDelay = DefaultAnimationDelay
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = DefaultMaintenanceInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	trace := cfg.Trace
	if trace == nil {
		trace = log.NoopSink{}
	}
	if cfg.Registration.Logger == nil {
		cfg.Registration.Logger = logger
	}

	return &Client{
		cfg:     cfg,
		sched:   deps.Scheduler,
		proto:   deps.Protocol,
		inputs:  deps.Inputs,
		outputs: deps.Outputs,
		logger:  logger,
		trace:   trace,
		objs:    &objects{},
	}, nil
}

// Start builds the tree and the session, attaches the triggers, posts the
// initial registration (or bootstrap) and starts the animation. Call it on
// the scheduler goroutine or before the scheduler runs.
func (c *Client) Start() error {
	if c.started {
		return ErrAlreadyStarted
	}

	tree, objs, err := buildTree(c.cfg.Device)
	if err != nil {
		return fmt.Errorf("building resource tree: %w", err)
	}
	c.tree, c.objs = tree, objs
	c.tree.SetNotifier(c)
	c.tree.Subscribe(c)
	c.objs.disco.SetExecuteHandler(c.executeDisco)
	if ts, ok := c.proto.(TreeServer); ok {
		ts.SetTree(c.tree)
	}

	c.session = registration.NewSession(c.sched, c.proto, c, c.cfg.Registration)

	if c.inputs != nil {
		if err := c.inputs.Attach(hardware.TriggerUnregister, c.post(c.unregisterPressed)); err != nil {
			return fmt.Errorf("attaching %s: %w", hardware.TriggerUnregister, err)
		}
		if err := c.inputs.Attach(hardware.TriggerObserve, c.post(c.observePressed)); err != nil {
			return fmt.Errorf("attaching %s: %w", hardware.TriggerObserve, err)
		}
		// Triggers may start new operations after a failure.
		c.release = c.sched.Hold()
	}
	c.started = true

	c.sched.Post(c.connect, 0)
	if c.cfg.AnimationTurns > 0 {
		c.Animate(c.cfg.AnimationTurns, c.cfg.AnimationDelay)
	}
	c.logger.Info("client started", "endpoint", c.cfg.Registration.Endpoint, "objects", c.tree.Links())
	return nil
}

// Run starts the client and runs the scheduler until the client
// unregisters or ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	if err := c.Start(); err != nil {
		return err
	}
	defer c.Close()
	return c.sched.Run(ctx)
}

// Close stops the animation and the maintenance task and lets the
// scheduler drain. It does not unregister.
func (c *Client) Close() {
	c.animation.Cancel()
	c.animation = nil
	c.maintenance.Cancel()
	c.maintenance = nil
	if c.release != nil {
		c.release()
	}
}

// Tree returns the resource tree, nil before Start.
func (c *Client) Tree() *model.Tree {
	return c.tree
}

// Session returns the registration session, nil before Start.
func (c *Client) Session() *registration.Session {
	return c.session
}

// State returns the session state.
func (c *Client) State() registration.State {
	if c.session == nil {
		return registration.StateIdle
	}
	return c.session.State()
}

// Counter returns the click counter value.
func (c *Client) Counter() int64 {
	if c.objs.counter == nil {
		return 0
	}
	n, _ := c.objs.counter.Int()
	return n
}

// Indicators returns the LED state held in the tree.
func (c *Client) Indicators() hardware.State {
	var state hardware.State
	for i, led := range c.objs.leds {
		if led != nil {
			state[i], _ = led.Bool()
		}
	}
	return state
}

// Unregister asks the session to leave the server. It must run on the
// scheduler goroutine.
func (c *Client) Unregister() error {
	if c.session == nil {
		return ErrNotStarted
	}
	return c.session.RequestUnregister()
}

// Press handles a trigger as if its input fired. It must run on the
// scheduler goroutine.
func (c *Client) Press(t hardware.Trigger) error {
	if !c.started {
		return ErrNotStarted
	}
	switch t {
	case hardware.TriggerUnregister:
		c.unregisterPressed()
	case hardware.TriggerObserve:
		c.observePressed()
	default:
		return fmt.Errorf("%w: %s", hardware.ErrUnknownTrigger, t)
	}
	return nil
}

// post wraps a task for an input goroutine: the only work done there is
// the enqueue.
func (c *Client) post(task scheduler.Task) func() {
	return func() { c.sched.Post(task, 0) }
}

func (c *Client) connect() {
	var err error
	if c.cfg.Bootstrap {
		err = c.session.StartBootstrap(c.cfg.Security)
	} else {
		err = c.session.Register(c.cfg.Security, c.tree.Links())
	}
	if err != nil {
		c.reject("connect", err)
	}
}

func (c *Client) unregisterPressed() {
	if err := c.session.RequestUnregister(); err != nil {
		c.reject("unregister", err)
	}
}

func (c *Client) observePressed() {
	n := c.Counter() + 1
	c.trace.Emit(fmt.Sprintf("updating resource to %d", n))
	c.objs.counter.SetInt(n)
}

// reject reports a local error that did not reach the session.
func (c *Client) reject(op string, err error) {
	kind := registration.KindOf(err)
	c.logger.Warn("operation rejected", "operation", op, "error", err, "kind", kind)
	c.trace.Emit("[ERROR] " + kind.String())
}

func (c *Client) executeDisco(args []byte) error {
	a, err := ParseAnimationArgs(args)
	if err != nil {
		return err
	}
	c.trace.Emit(fmt.Sprintf("disco time turns=%d delay=%d!", a.Turns, a.Delay.Milliseconds()))
	c.Animate(a.Turns, a.Delay)
	return nil
}

// startMaintenance installs the maintenance task once per registration.
// The session cancels it when it fails or unregisters.
func (c *Client) startMaintenance() {
	if c.maintenance.Pending() {
		return
	}
	c.maintenance = c.sched.PostPeriodic(c.maintain, c.cfg.MaintenanceInterval)
	c.session.Track(c.maintenance)
}

// maintain reports changes whose notification could not be sent yet.
func (c *Client) maintain() {
	c.flush()
	c.logger.Debug("maintenance",
		"state", c.session.State(),
		"location", c.session.Location(),
		"next_update", c.session.NextUpdate(),
	)
}

// flush sends the notifications owed to the server.
func (c *Client) flush() {
	c.flushQueued = false
	switch c.session.State() {
	case registration.StateRegistered, registration.StateAwaitingUpdate:
	default:
		return
	}
	for _, r := range c.tree.Pending() {
		if err := c.session.Notify(r.Path(), r.Value()); err != nil {
			c.logger.Debug("notify deferred", "path", r.Path(), "error", err)
			return
		}
		r.ClearPending()
	}
}
