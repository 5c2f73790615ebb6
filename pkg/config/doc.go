// Package config loads the device configuration.
//
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Missing keys keep their defaults, then environment overrides are
// applied:
//
//	M2M_SERVER_URI    server.uri
//	M2M_ENDPOINT      device.endpoint
//	M2M_PSK_IDENTITY  security.identity
//	M2M_PSK_KEY       security.key (hex)
//	M2M_LOG_LEVEL     logging.level
//
// The server URI "mdns" requests discovery of a server on the local link.
package config
