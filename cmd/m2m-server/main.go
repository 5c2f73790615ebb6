// Command m2m-server runs a small management server for m2m-device.
//
// It accepts registrations, prints client notifications and offers a
// command shell to read, write, execute and observe client resources.
//
// Usage:
//
//	m2m-server [flags]
//
// Flags:
//
//	-address string       Listen address (default ":5683")
//	-network string       udp or tcp (default "udp")
//	-psk-identity string  PSK identity shared by all clients
//	-psk string           Hex encoded pre-shared key
//	-lifetime duration    Override the lifetime requested by clients
//	-bootstrap string     Server URI handed out to bootstrapping clients
//	-advertise string     Advertise the server via mDNS under this name
//	-mqtt string          Relay MQTT endpoint topics from this broker
//	-protocol-log string  Write protocol events to a .mlog file
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-interactive          Enable the command shell
//
// Examples:
//
//	# Serve UDP clients and drive them from the shell
//	m2m-server -interactive
//
//	# Advertise on the local network and accept MQTT clients
//	m2m-server -advertise lab -mqtt tcp://localhost:1883
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/m2mlink/m2m-go/pkg/config"
	"github.com/m2mlink/m2m-go/pkg/discovery"
	plog "github.com/m2mlink/m2m-go/pkg/log"
	"github.com/m2mlink/m2m-go/pkg/mqttlink"
	"github.com/m2mlink/m2m-go/pkg/security"
	"github.com/m2mlink/m2m-go/pkg/transport"
	"github.com/m2mlink/m2m-go/pkg/version"
	"github.com/m2mlink/m2m-go/pkg/wire"
)

// Flags holds the command line settings.
type Flags struct {
	Address     string
	Network     string
	PSKIdentity string
	PSK         string
	Lifetime    time.Duration
	Bootstrap   string
	Advertise   string
	MQTT        string
	ProtocolLog string
	LogLevel    string
	Interactive bool
}

var flags Flags

func init() {
	flag.StringVar(&flags.Address, "address", fmt.Sprintf(":%d", transport.DefaultPort), "Listen address")
	flag.StringVar(&flags.Network, "network", "udp", "udp or tcp")
	flag.StringVar(&flags.PSKIdentity, "psk-identity", "", "PSK identity shared by all clients")
	flag.StringVar(&flags.PSK, "psk", "", "Hex encoded pre-shared key")
	flag.DurationVar(&flags.Lifetime, "lifetime", 0, "Override the lifetime requested by clients")
	flag.StringVar(&flags.Bootstrap, "bootstrap", "", "Server URI handed out to bootstrapping clients")
	flag.StringVar(&flags.Advertise, "advertise", "", "Advertise the server via mDNS under this name")
	flag.StringVar(&flags.MQTT, "mqtt", "", "Relay MQTT endpoint topics from this broker")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write protocol events to a .mlog file")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Enable the command shell")
}

func main() {
	flag.Parse()

	logging := config.LoggingConfig{Level: flags.LogLevel}
	var (
		sh  *shell
		out io.Writer = os.Stdout
		err error
	)
	logger := logging.NewLogger()
	if flags.Interactive {
		sh, err = newShell()
		if err != nil {
			log.Fatalf("Failed to start interactive mode: %v", err)
		}
		out = sh.rl.Stdout()
		logger = logging.NewLoggerTo(sh.rl.Stderr())
	}

	sec, err := securityFromFlags(flags)
	if err != nil {
		log.Fatalf("Invalid security settings: %v", err)
	}

	srvCfg := transport.ServerConfig{
		Address:  flags.Address,
		Network:  flags.Network,
		Security: sec,
		Lifetime: flags.Lifetime,
		Logger:   logger,
		OnEvent:  func(ev transport.ServerEvent) { printEvent(out, ev) },
	}
	if flags.Bootstrap != "" {
		bs := security.Context{ServerURI: flags.Bootstrap}
		if sec != nil {
			bs = *sec.Clone()
			bs.ServerURI = flags.Bootstrap
		}
		srvCfg.Bootstrap = &bs
	}
	if flags.ProtocolLog != "" {
		fl, err := plog.NewFileLogger(flags.ProtocolLog)
		if err != nil {
			log.Fatalf("Failed to open protocol log: %v", err)
		}
		defer fl.Close()
		srvCfg.ProtocolLogger = fl
	}

	srv, err := transport.NewServer(srvCfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	defer srv.Stop()

	if flags.Advertise != "" {
		stop, err := advertise(ctx, srv, flags.Advertise, flags.Bootstrap != "")
		if err != nil {
			logger.Warn("mDNS advertising failed", "error", err)
		} else {
			defer stop()
		}
	}

	if flags.MQTT != "" {
		stop, err := startBridge(srv, flags.MQTT, logger)
		if err != nil {
			log.Fatalf("Failed to start MQTT bridge: %v", err)
		}
		defer stop()
	}

	logger.Info("m2m server running", "uri", srv.URI())

	if sh != nil {
		sh.srv = srv
		go sh.run(ctx, cancel)
	}
	<-ctx.Done()
	logger.Info("m2m server stopped")
}

func securityFromFlags(f Flags) (*security.Context, error) {
	if f.PSKIdentity == "" && f.PSK == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(f.PSK)
	if err != nil {
		return nil, fmt.Errorf("psk: %w", err)
	}
	switch {
	case f.PSKIdentity == "":
		return nil, security.ErrMissingIdentity
	case len(key) == 0:
		return nil, security.ErrMissingKey
	}
	return &security.Context{Mode: security.ModePSK, Identity: f.PSKIdentity, Key: key}, nil
}

// advertise announces srv via mDNS and returns the function that stops it.
func advertise(ctx context.Context, srv *transport.Server, name string, bootstrap bool) (func(), error) {
	adv, err := discovery.NewMDNSAdvertiser(discovery.DefaultAdvertiserConfig())
	if err != nil {
		return nil, err
	}
	port, err := listenPort(srv)
	if err != nil {
		return nil, err
	}
	info := &discovery.ServerInfo{
		InstanceName: name,
		Port:         port,
		Scheme:       flags.Network,
		Bootstrap:    bootstrap,
		Version:      version.Current,
	}
	if err := adv.AdvertiseServer(ctx, info); err != nil {
		return nil, err
	}
	return adv.StopAll, nil
}

// startBridge relays MQTT endpoints to srv, which must listen on UDP.
func startBridge(srv *transport.Server, broker string, logger *slog.Logger) (func(), error) {
	if flags.Network != "udp" {
		return nil, fmt.Errorf("the MQTT bridge requires network udp")
	}
	port, err := listenPort(srv)
	if err != nil {
		return nil, err
	}
	mc, err := mqttlink.Connect(mqttlink.Config{
		Broker:   broker,
		ClientID: "m2m-server-bridge",
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	bridge, err := mqttlink.NewBridge(mqttlink.BridgeConfig{
		Broker:     mc,
		ServerAddr: fmt.Sprintf("127.0.0.1:%d", port),
		Logger:     logger,
	})
	if err != nil {
		mc.Close()
		return nil, err
	}
	if err := bridge.Start(); err != nil {
		mc.Close()
		return nil, err
	}
	return func() {
		bridge.Close()
		mc.Close()
	}, nil
}

func listenPort(srv *transport.Server) (uint16, error) {
	_, port, err := net.SplitHostPort(srv.Addr().String())
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("listen port %q: %w", port, err)
	}
	return uint16(n), nil
}

func printEvent(w io.Writer, ev transport.ServerEvent) {
	ts := time.Now().Format(time.TimeOnly)
	switch ev.Operation {
	case wire.OpNotify:
		fmt.Fprintf(w, "[%s] %s notify %s = %q\n", ts, ev.Client.Endpoint, ev.Path, ev.Value)
	case wire.OpRegister:
		fmt.Fprintf(w, "[%s] %s registered at %s (lifetime %s) %s\n",
			ts, ev.Client.Endpoint, ev.Client.Location, ev.Client.Lifetime, ev.Client.Links)
	default:
		fmt.Fprintf(w, "[%s] %s %s\n", ts, ev.Client.Endpoint, ev.Operation)
	}
}
