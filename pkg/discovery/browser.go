package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/m2mlink/m2m-go/pkg/version"
)

// Browser provides mDNS service browsing capabilities.
type Browser interface {
	// BrowseServers searches for management servers. The channel is closed
	// when the context is cancelled or browsing stops.
	BrowseServers(ctx context.Context) (<-chan *ServerService, error)

	// Stop stops all active browsing operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout is the default timeout for browse operations.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
		Interface:     "",
	}
}

// FilterFunc is a function that filters browse results.
type FilterFunc func(*ServerService) bool

// FilterBootstrap matches bootstrap servers when bootstrap is true and
// management servers otherwise.
func FilterBootstrap(bootstrap bool) FilterFunc {
	return func(svc *ServerService) bool {
		return svc.Bootstrap == bootstrap
	}
}

// FilterScheme matches servers offering one of the given schemes.
func FilterScheme(schemes ...string) FilterFunc {
	return func(svc *ServerService) bool {
		for _, s := range schemes {
			if svc.Scheme == s {
				return true
			}
		}
		return false
	}
}

// FilterVersion matches servers whose advertised protocol version is
// compatible with this library. Servers that advertise no version match.
func FilterVersion() FilterFunc {
	return func(svc *ServerService) bool {
		return version.Supported(svc.Version)
	}
}

// ServiceEntry is a resolved DNS-SD entry, independent of the mDNS library.
type ServiceEntry struct {
	Instance string
	Service  string
	Domain   string
	Host     string
	Port     uint16
	Text     []string
	Addrs    []string
}

// ToServerService converts a ServiceEntry to a ServerService.
func (e *ServiceEntry) ToServerService() (*ServerService, error) {
	info, err := DecodeServerTXT(StringsToTXTRecords(e.Text))
	if err != nil {
		return nil, err
	}
	return &ServerService{
		InstanceName: e.Instance,
		Host:         e.Host,
		Port:         e.Port,
		Addresses:    append([]string(nil), e.Addrs...),
		Scheme:       info.Scheme,
		Bootstrap:    info.Bootstrap,
		Version:      info.Version,
	}, nil
}

// FindServer returns the first server reported by b that passes all
// filters.
func FindServer(ctx context.Context, b Browser, filters ...FilterFunc) (*ServerService, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, err := b.BrowseServers(ctx)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case svc, ok := <-results:
			if !ok {
				return nil, ErrNotFound
			}
			if matches(svc, filters) {
				return svc, nil
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrBrowseTimeout
			}
			return nil, ctx.Err()
		}
	}
}

// ResolveServerURI returns uri unchanged unless it is DiscoverURI, in which
// case it browses for a server of the requested kind for at most
// BrowseTimeout.
func ResolveServerURI(ctx context.Context, uri string, b Browser, bootstrap bool) (string, error) {
	if uri != DiscoverURI {
		return uri, nil
	}
	ctx, cancel := context.WithTimeout(ctx, BrowseTimeout)
	defer cancel()

	svc, err := FindServer(ctx, b, FilterBootstrap(bootstrap), FilterVersion())
	if err != nil {
		return "", fmt.Errorf("discover %s: %w", ServiceType, err)
	}
	return svc.URI(), nil
}

func matches(svc *ServerService, filters []FilterFunc) bool {
	for _, f := range filters {
		if !f(svc) {
			return false
		}
	}
	return true
}
