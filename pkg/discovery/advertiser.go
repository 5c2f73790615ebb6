package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Advertiser announces management servers on the local network.
type Advertiser interface {
	// AdvertiseServer announces info. An announcement with the same
	// instance name is replaced.
	AdvertiseServer(ctx context.Context, info *ServerInfo) error

	// StopServer withdraws the named announcement.
	StopServer(instanceName string) error

	// StopAll withdraws every announcement.
	StopAll()
}

// AdvertiserConfig configures an MDNSAdvertiser.
type AdvertiserConfig struct {
	// Interface limits announcements to one network interface. Empty
	// means all interfaces.
	Interface string

	// TTL of the published records.
	TTL time.Duration
}

// DefaultAdvertiserConfig announces on all interfaces with a 2 minute TTL.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{TTL: 2 * time.Minute}
}

// MDNSAdvertiser is an Advertiser backed by zeroconf.
type MDNSAdvertiser struct {
	ifaces []net.Interface
	opts   []zeroconf.ServerOption

	mu        sync.Mutex
	announced map[string]*zeroconf.Server
}

// NewMDNSAdvertiser returns an advertiser for config. An unknown
// interface name is an error.
func NewMDNSAdvertiser(config AdvertiserConfig) (*MDNSAdvertiser, error) {
	ifaces, err := selectInterfaces(config.Interface)
	if err != nil {
		return nil, err
	}
	a := &MDNSAdvertiser{ifaces: ifaces, announced: make(map[string]*zeroconf.Server)}
	if config.TTL > 0 {
		a.opts = append(a.opts, zeroconf.TTL(uint32(config.TTL/time.Second)))
	}
	return a, nil
}

// AdvertiseServer implements Advertiser.
func (a *MDNSAdvertiser) AdvertiseServer(_ context.Context, info *ServerInfo) error {
	if err := ValidateInstanceName(info.InstanceName); err != nil {
		return err
	}
	if !schemes[info.Scheme] {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, info.Scheme)
	}
	port := DefaultPort
	if info.Port != 0 {
		port = int(info.Port)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.withdraw(info.InstanceName)

	srv, err := zeroconf.Register(info.InstanceName, ServiceType, Domain, port,
		EncodeServerTXT(info).Strings(), a.ifaces, a.opts...)
	if err != nil {
		return fmt.Errorf("announce %s: %w", info.InstanceName, err)
	}
	a.announced[info.InstanceName] = srv
	return nil
}

// StopServer implements Advertiser.
func (a *MDNSAdvertiser) StopServer(instanceName string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.withdraw(instanceName) {
		return ErrNotFound
	}
	return nil
}

// StopAll implements Advertiser.
func (a *MDNSAdvertiser) StopAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for name := range a.announced {
		a.withdraw(name)
	}
}

// withdraw requires a.mu.
func (a *MDNSAdvertiser) withdraw(name string) bool {
	srv, ok := a.announced[name]
	if ok {
		srv.Shutdown()
		delete(a.announced, name)
	}
	return ok
}

// selectInterfaces resolves an interface name. Empty selects all
// interfaces, reported as nil.
func selectInterfaces(name string) ([]net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", name, err)
	}
	return []net.Interface{*iface}, nil
}

var _ Advertiser = (*MDNSAdvertiser)(nil)
