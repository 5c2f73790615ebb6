package discovery

import (
	"context"
	"net"
	"slices"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// MDNSBrowser is a Browser backed by zeroconf.
type MDNSBrowser struct {
	config BrowserConfig
	ifaces []net.Interface

	mu      sync.Mutex
	cancels []context.CancelFunc
}

// NewMDNSBrowser returns a browser for config. An unknown interface name
// is an error.
func NewMDNSBrowser(config BrowserConfig) (*MDNSBrowser, error) {
	ifaces, err := selectInterfaces(config.Interface)
	if err != nil {
		return nil, err
	}
	return &MDNSBrowser{config: config, ifaces: ifaces}, nil
}

// BrowseServers implements Browser. An instance seen on several interfaces
// is reported once; later sightings only extend its addresses.
func (b *MDNSBrowser) BrowseServers(ctx context.Context) (<-chan *ServerService, error) {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancels = append(b.cancels, cancel)
	b.mu.Unlock()

	var opts []zeroconf.ClientOption
	if b.ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(b.ifaces))
	}

	out := make(chan *ServerService)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	go b.collect(ctx, entries, removed, out)
	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
	}()
	return out, nil
}

func (b *MDNSBrowser) collect(ctx context.Context, entries, removed <-chan *zeroconf.ServiceEntry, out chan<- *ServerService) {
	defer close(out)
	seen := make(map[string]*ServerService)

	for {
		select {
		case <-ctx.Done():
			return

		case entry, ok := <-entries:
			if !ok {
				return
			}
			e := fromZeroconf(entry)
			svc, err := e.ToServerService()
			if err != nil {
				continue
			}
			if known := seen[svc.InstanceName]; known != nil {
				known.Addresses = mergeAddresses(known.Addresses, svc.Addresses)
				continue
			}
			seen[svc.InstanceName] = svc
			select {
			case out <- svc:
			case <-ctx.Done():
				return
			}

		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			known := seen[entry.Instance]
			if known == nil {
				continue
			}
			known.Addresses = removeAddresses(known.Addresses, fromZeroconf(entry).Addrs)
			if len(known.Addresses) == 0 {
				delete(seen, entry.Instance)
			}
		}
	}
}

// FindServer browses for at most the configured timeout and returns the
// first server that passes all filters.
func (b *MDNSBrowser) FindServer(ctx context.Context, filters ...FilterFunc) (*ServerService, error) {
	timeout := b.config.BrowseTimeout
	if timeout <= 0 {
		timeout = BrowseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return FindServer(ctx, b, filters...)
}

// Stop implements Browser.
func (b *MDNSBrowser) Stop() {
	b.mu.Lock()
	cancels := b.cancels
	b.cancels = nil
	b.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func fromZeroconf(entry *zeroconf.ServiceEntry) ServiceEntry {
	var addrs []string
	for _, ip := range slices.Concat(entry.AddrIPv4, entry.AddrIPv6) {
		addrs = append(addrs, ip.String())
	}
	return ServiceEntry{
		Instance: entry.Instance,
		Service:  entry.Service,
		Domain:   entry.Domain,
		Host:     entry.HostName,
		Port:     uint16(entry.Port),
		Text:     entry.Text,
		Addrs:    addrs,
	}
}

// mergeAddresses appends the addresses of added not yet in existing.
func mergeAddresses(existing, added []string) []string {
	for _, addr := range added {
		if !slices.Contains(existing, addr) {
			existing = append(existing, addr)
		}
	}
	return existing
}

// removeAddresses drops every address listed in gone.
func removeAddresses(addresses, gone []string) []string {
	return slices.DeleteFunc(slices.Clone(addresses), func(addr string) bool {
		return slices.Contains(gone, addr)
	})
}

var _ Browser = (*MDNSBrowser)(nil)
