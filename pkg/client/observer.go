package client

import (
	"fmt"

	"github.com/m2mlink/m2m-go/pkg/model"
	"github.com/m2mlink/m2m-go/pkg/registration"
	"github.com/m2mlink/m2m-go/pkg/security"
)

// BootstrapDone implements registration.Observer. The session holds the
// received context, so registration follows right away.
func (c *Client) BootstrapDone(sec *security.Context) {
	c.trace.Emit("Bootstrapped")
	c.logger.Info("bootstrapped", "server", sec.ServerURI, "mode", sec.Mode)
	if c.cfg.OnBootstrapped != nil {
		c.cfg.OnBootstrapped(sec)
	}
	if err := c.session.Register(nil, c.tree.Links()); err != nil {
		c.reject("register", err)
	}
}

// Registered implements registration.Observer.
func (c *Client) Registered(res registration.Result) {
	c.trace.Emit("Registered")
	c.logger.Info("registered", "location", res.Location, "lifetime", c.session.Lifetime())
	c.startMaintenance()
	c.flush()
}

// RegistrationUpdated implements registration.Observer.
func (c *Client) RegistrationUpdated(registration.Result) {
	c.trace.Emit("Registration updated")
}

// Unregistered implements registration.Observer. The session stops the
// scheduler afterwards.
func (c *Client) Unregistered() {
	c.trace.Emit("Unregistered")
	c.Close()
}

// Error implements registration.Observer.
func (c *Client) Error(kind registration.ErrorKind) {
	c.trace.Emit("[ERROR] " + kind.String())
}

// ResourceChanged implements model.Notifier. The notification is sent from
// a separate task so that a burst of changes costs one flush.
func (c *Client) ResourceChanged(*model.Resource) {
	if c.flushQueued {
		return
	}
	c.flushQueued = true
	c.sched.Post(c.flush, 0)
}

// OnValueUpdated implements model.ValueSubscriber. LED writes from the
// server are mirrored to the outputs.
func (c *Client) OnValueUpdated(r *model.Resource, _ []byte) {
	c.trace.Emit(fmt.Sprintf("Value updated of Object name %s and Type %d", r.Name(), r.Metadata().Type))
	if i, ok := c.objs.indicatorOf(r); ok {
		on, _ := r.Bool()
		c.setIndicator(i, on)
	}
}

var (
	_ registration.Observer = (*Client)(nil)
	_ model.Notifier        = (*Client)(nil)
	_ model.ValueSubscriber = (*Client)(nil)
)
