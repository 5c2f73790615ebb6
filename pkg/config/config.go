package config

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/m2mlink/m2m-go/pkg/registration"
	"github.com/m2mlink/m2m-go/pkg/security"
)

// Config is the complete device configuration.
type Config struct {
	Device    DeviceConfig    `yaml:"device" toml:"device"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Security  SecurityConfig  `yaml:"security" toml:"security"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	MQTT      MQTTConfig      `yaml:"mqtt" toml:"mqtt"`
	Hardware  HardwareConfig  `yaml:"hardware" toml:"hardware"`
	Client    ClientConfig    `yaml:"client" toml:"client"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// DeviceConfig describes the device and the values of the device object.
type DeviceConfig struct {
	Endpoint     string `yaml:"endpoint" toml:"endpoint"`
	Type         string `yaml:"type" toml:"type"`
	Domain       string `yaml:"domain" toml:"domain"`
	Manufacturer string `yaml:"manufacturer" toml:"manufacturer"`
	Model        string `yaml:"model" toml:"model"`
	Serial       string `yaml:"serial" toml:"serial"`
	DeviceType   string `yaml:"device_type" toml:"device_type"`
}

// ServerConfig selects the server and the registration parameters.
type ServerConfig struct {
	URI          string `yaml:"uri" toml:"uri"`
	Bootstrap    bool   `yaml:"bootstrap" toml:"bootstrap"`
	Binding      string `yaml:"binding" toml:"binding"`
	Lifetime     int    `yaml:"lifetime" toml:"lifetime"`           // seconds
	UpdateMargin int    `yaml:"update_margin" toml:"update_margin"` // seconds
}

// SecurityConfig holds the credentials towards the server.
type SecurityConfig struct {
	Mode           string `yaml:"mode" toml:"mode"` // nosec, psk, certificate
	Identity       string `yaml:"identity" toml:"identity"`
	Key            string `yaml:"key" toml:"key"` // hex
	CertFile       string `yaml:"cert_file" toml:"cert_file"`
	KeyFile        string `yaml:"key_file" toml:"key_file"`
	ServerCertFile string `yaml:"server_cert_file" toml:"server_cert_file"`
}

// TransportConfig selects how protocol messages travel.
type TransportConfig struct {
	Kind           string `yaml:"kind" toml:"kind"`                       // socket, mqtt
	RequestTimeout int    `yaml:"request_timeout" toml:"request_timeout"` // seconds
	LocalPort      int    `yaml:"local_port" toml:"local_port"`
	MaxMessageSize int    `yaml:"max_message_size" toml:"max_message_size"`
	ProtocolLog    string `yaml:"protocol_log" toml:"protocol_log"` // .mlog path
}

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	Broker   string `yaml:"broker" toml:"broker"`
	ClientID string `yaml:"client_id" toml:"client_id"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	QoS      int    `yaml:"qos" toml:"qos"`
}

// HardwareConfig selects the button and LED backend.
type HardwareConfig struct {
	Kind       string `yaml:"kind" toml:"kind"` // console, serial, none
	SerialPort string `yaml:"serial_port" toml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate" toml:"baud_rate"`
}

// ClientConfig tunes the device behaviour.
type ClientConfig struct {
	MaintenanceInterval int `yaml:"maintenance_interval" toml:"maintenance_interval"` // seconds
	AnimationTurns      int `yaml:"animation_turns" toml:"animation_turns"`
	AnimationDelay      int `yaml:"animation_delay" toml:"animation_delay"` // milliseconds

	// StateFile keeps bootstrapped credentials across restarts. Empty
	// disables persistence.
	StateFile string `yaml:"state_file" toml:"state_file"`
}

// LoggingConfig configures operational logging.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // text, json
	Output string `yaml:"output" toml:"output"` // stdout, stderr
}

// ErrInvalid is wrapped by all validation errors.
var ErrInvalid = errors.New("invalid configuration")

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Endpoint:     "m2m-device",
			Type:         registration.DefaultEndpointType,
			Manufacturer: "manufacturer",
			Model:        "2015",
			Serial:       "12345",
			DeviceType:   "type",
		},
		Server: ServerConfig{
			URI:          "coap://localhost:5683",
			Binding:      string(registration.BindingUDP),
			Lifetime:     int(registration.DefaultLifetime / time.Second),
			UpdateMargin: int(registration.DefaultUpdateMargin / time.Second),
		},
		Security: SecurityConfig{
			Mode: "nosec",
		},
		Transport: TransportConfig{
			Kind:           "socket",
			RequestTimeout: 10,
		},
		MQTT: MQTTConfig{
			Broker: "tcp://localhost:1883",
			QoS:    1,
		},
		Hardware: HardwareConfig{
			Kind: "console",
		},
		Client: ClientConfig{
			MaintenanceInterval: 25,
			AnimationTurns:      50,
			AnimationDelay:      200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path uses the defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		} else {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("M2M_SERVER_URI"); v != "" {
		cfg.Server.URI = v
	}
	if v := os.Getenv("M2M_ENDPOINT"); v != "" {
		cfg.Device.Endpoint = v
	}
	if v := os.Getenv("M2M_PSK_IDENTITY"); v != "" {
		cfg.Security.Identity = v
	}
	if v := os.Getenv("M2M_PSK_KEY"); v != "" {
		cfg.Security.Key = v
	}
	if v := os.Getenv("M2M_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Device.Endpoint == "" {
		errs = append(errs, "device.endpoint is required")
	}
	if c.Server.URI == "" {
		errs = append(errs, "server.uri is required")
	}
	if _, err := registration.ParseBindingMode(c.Server.Binding); err != nil {
		errs = append(errs, "server.binding must be one of U, UQ, T, TQ")
	}
	if c.Server.Lifetime <= 0 {
		errs = append(errs, "server.lifetime must be positive")
	}
	if c.Server.UpdateMargin < 0 {
		errs = append(errs, "server.update_margin must not be negative")
	}

	mode, err := security.ParseMode(c.Security.Mode)
	if err != nil {
		errs = append(errs, "security.mode must be nosec, psk or certificate")
	}
	switch mode {
	case security.ModePSK:
		if c.Security.Identity == "" {
			errs = append(errs, "security.identity is required in psk mode")
		}
		if _, err := hex.DecodeString(c.Security.Key); err != nil || c.Security.Key == "" {
			errs = append(errs, "security.key must be a non-empty hex string in psk mode")
		}
	case security.ModeCertificate:
		if c.Security.CertFile == "" || c.Security.KeyFile == "" || c.Security.ServerCertFile == "" {
			errs = append(errs, "security.cert_file, key_file and server_cert_file are required in certificate mode")
		}
	}

	switch c.Transport.Kind {
	case "socket":
	case "mqtt":
		if c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required with the mqtt transport")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	default:
		errs = append(errs, "transport.kind must be socket or mqtt")
	}
	if c.Transport.RequestTimeout < 0 {
		errs = append(errs, "transport.request_timeout must not be negative")
	}
	if c.Transport.LocalPort < 0 || c.Transport.LocalPort > 65535 {
		errs = append(errs, "transport.local_port must be between 0 and 65535")
	}

	switch c.Hardware.Kind {
	case "console", "none":
	case "serial":
		if c.Hardware.SerialPort == "" {
			errs = append(errs, "hardware.serial_port is required with serial hardware")
		}
	default:
		errs = append(errs, "hardware.kind must be console, serial or none")
	}

	if c.Client.MaintenanceInterval <= 0 {
		errs = append(errs, "client.maintenance_interval must be positive")
	}
	if c.Client.AnimationTurns < 0 || c.Client.AnimationTurns > 255 {
		errs = append(errs, "client.animation_turns must be between 0 and 255")
	}
	if c.Client.AnimationDelay < 0 || c.Client.AnimationDelay > 65535 {
		errs = append(errs, "client.animation_delay must be between 0 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// Registration returns the session configuration.
func (c *Config) Registration() registration.Config {
	cfg := registration.DefaultConfig(c.Device.Endpoint)
	if c.Device.Type != "" {
		cfg.EndpointType = c.Device.Type
	}
	cfg.Domain = c.Device.Domain
	cfg.Lifetime = time.Duration(c.Server.Lifetime) * time.Second
	cfg.UpdateMargin = time.Duration(c.Server.UpdateMargin) * time.Second
	if b, err := registration.ParseBindingMode(c.Server.Binding); err == nil {
		cfg.Binding = b
	}
	return cfg
}

// RequestTimeout returns the transport request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Transport.RequestTimeout) * time.Second
}

// MaintenanceInterval returns the period of the maintenance task.
func (c *Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.Client.MaintenanceInterval) * time.Second
}

// AnimationDelay returns the delay between animation frames.
func (c *Config) AnimationDelay() time.Duration {
	return time.Duration(c.Client.AnimationDelay) * time.Millisecond
}

// SecurityContext builds the security context for serverURI, reading key
// material from disk in certificate mode.
func (c *Config) SecurityContext(serverURI string) (*security.Context, error) {
	mode, err := security.ParseMode(c.Security.Mode)
	if err != nil {
		return nil, err
	}
	sec := &security.Context{ServerURI: serverURI, Mode: mode}

	switch mode {
	case security.ModePSK:
		sec.Identity = c.Security.Identity
		sec.Key, err = hex.DecodeString(c.Security.Key)
		if err != nil {
			return nil, fmt.Errorf("security.key: %w", err)
		}
	case security.ModeCertificate:
		cert, err := tls.LoadX509KeyPair(c.Security.CertFile, c.Security.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		sec.PublicKey = cert.Certificate[0]
		sec.SecretKey, err = x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("encoding client key: %w", err)
		}
		sec.ServerPublicKey, err = readCertificate(c.Security.ServerCertFile)
		if err != nil {
			return nil, err
		}
	}
	return sec, nil
}

// readCertificate returns the DER bytes of the first certificate in a PEM
// file.
func readCertificate(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server certificate: %w", err)
	}
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("%w: no certificate in %s", ErrInvalid, path)
		}
		if block.Type == "CERTIFICATE" {
			return block.Bytes, nil
		}
	}
}
