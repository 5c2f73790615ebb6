// Command m2m-device runs the device-management client.
//
// The device registers its resource tree with a management server, plays
// the LED start-up animation and keeps the registration alive until the
// unregister button is pressed or the process is signalled.
//
// Usage:
//
//	m2m-device [flags]
//
// Flags:
//
//	-config string        Configuration file (.yaml or .toml)
//	-endpoint string      Endpoint name (overrides the config file)
//	-server string        Server URI, or "mdns" to discover one
//	-log-level string     Log level: debug, info, warn, error
//	-interactive          Interactive shell with simulated buttons
//	-serial string        Serial port of the board (selects serial hardware)
//	-mqtt string          MQTT broker URL (selects the MQTT transport)
//	-protocol-log string  Write protocol events to a .mlog file
//	-state-file string    Keep bootstrapped credentials in this file
//	-reset                Forget the saved state before starting
//
// Examples:
//
//	# Register with a local server and simulate the buttons
//	m2m-device -server coap://localhost:5683 -interactive
//
//	# Use a serial board and discover the server via mDNS
//	m2m-device -config /etc/m2m/device.yaml -server mdns -serial /dev/ttyACM0
//
//	# Bootstrap once, then register directly on later starts
//	m2m-device -config device.yaml -state-file /var/lib/m2m/state.json
//
//	# Talk to the server through an MQTT broker
//	m2m-device -endpoint dev-7 -mqtt tcp://broker:1883
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m2mlink/m2m-go/cmd/m2m-device/interactive"
	"github.com/m2mlink/m2m-go/pkg/config"
	"github.com/m2mlink/m2m-go/pkg/persistence"
)

// shutdownTimeout bounds the deregistration on a signal.
const shutdownTimeout = 5 * time.Second

// Flags override the configuration file.
type Flags struct {
	ConfigFile  string
	Endpoint    string
	Server      string
	LogLevel    string
	Interactive bool
	Serial      string
	MQTT        string
	ProtocolLog string
	StateFile   string
	Reset       bool
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file (.yaml or .toml)")
	flag.StringVar(&flags.Endpoint, "endpoint", "", "Endpoint name (overrides config)")
	flag.StringVar(&flags.Server, "server", "", "Server URI, or \"mdns\" to discover one")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Interactive shell with simulated buttons")
	flag.StringVar(&flags.Serial, "serial", "", "Serial port of the board (selects serial hardware)")
	flag.StringVar(&flags.MQTT, "mqtt", "", "MQTT broker URL (selects the MQTT transport)")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write protocol events to a .mlog file")
	flag.StringVar(&flags.StateFile, "state-file", "", "Keep bootstrapped credentials in this file")
	flag.BoolVar(&flags.Reset, "reset", false, "Forget the saved state before starting")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	applyFlags(cfg, flags)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if flags.Reset && cfg.Client.StateFile != "" {
		if err := persistence.NewDeviceStateStore(cfg.Client.StateFile).Clear(); err != nil {
			log.Fatalf("Failed to reset state: %v", err)
		}
	}

	var (
		shell *interactive.Device
		out   io.Writer = os.Stdout
	)
	logger := cfg.Logging.NewLogger()
	if flags.Interactive {
		shell, err = interactive.New()
		if err != nil {
			log.Fatalf("Failed to start interactive mode: %v", err)
		}
		out = shell.Stdout()
		logger = cfg.Logging.NewLoggerTo(shell.Stderr())
	}

	sigCtx, cancelSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancelSignals()

	dev, err := setup(sigCtx, cfg, logger, out)
	if err != nil {
		log.Fatalf("Failed to set up device: %v", err)
	}
	defer dev.Close()

	logger.Info("m2m device starting",
		"endpoint", cfg.Device.Endpoint,
		"server", dev.serverURI,
		"transport", cfg.Transport.Kind,
		"hardware", cfg.Hardware.Kind,
	)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	if shell != nil {
		shell.Bind(dev.client, dev.sched, dev.console)
		go shell.Run(runCtx, cancelSignals)
	}

	// A signal deregisters first. The session stops the scheduler once the
	// server confirms; the timeout covers an unreachable server.
	go func() {
		select {
		case <-runCtx.Done():
			return
		case <-sigCtx.Done():
		}
		logger.Info("shutting down")
		dev.sched.Post(func() {
			if err := dev.client.Unregister(); err != nil {
				logger.Debug("not unregistering", "error", err)
				stop()
			}
		}, 0)
		select {
		case <-runCtx.Done():
		case <-time.After(shutdownTimeout):
			logger.Warn("deregistration timed out")
			stop()
		}
	}()

	err = dev.client.Run(runCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("client stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("m2m device stopped", "state", dev.client.State())
}

func applyFlags(cfg *config.Config, f Flags) {
	if f.Endpoint != "" {
		cfg.Device.Endpoint = f.Endpoint
	}
	if f.Server != "" {
		cfg.Server.URI = f.Server
	}
	if f.LogLevel != "" {
		cfg.Logging.Level = f.LogLevel
	}
	if f.Serial != "" {
		cfg.Hardware.Kind = "serial"
		cfg.Hardware.SerialPort = f.Serial
	}
	if f.MQTT != "" {
		cfg.Transport.Kind = "mqtt"
		cfg.MQTT.Broker = f.MQTT
	}
	if f.ProtocolLog != "" {
		cfg.Transport.ProtocolLog = f.ProtocolLog
	}
	if f.StateFile != "" {
		cfg.Client.StateFile = f.StateFile
	}
}
