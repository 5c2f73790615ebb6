// Package discovery finds management servers with mDNS/DNS-SD.
//
// # Server Discovery (_m2m._udp)
//
// Management servers advertise one instance of this service per listener.
// The instance name is free text chosen by the server operator.
// TXT records include: tr (transport scheme, required), bs (1 for a
// bootstrap server) and optionally pv (protocol version).
//
// A device configured with the server URI "mdns" browses for this
// service at startup and connects to the first matching server:
//
//	uri, err := discovery.ResolveServerURI(ctx, cfg.Server.URI, browser, false)
package discovery
