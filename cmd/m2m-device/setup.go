package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/m2mlink/m2m-go/pkg/client"
	"github.com/m2mlink/m2m-go/pkg/config"
	"github.com/m2mlink/m2m-go/pkg/discovery"
	"github.com/m2mlink/m2m-go/pkg/hardware"
	plog "github.com/m2mlink/m2m-go/pkg/log"
	"github.com/m2mlink/m2m-go/pkg/mqttlink"
	"github.com/m2mlink/m2m-go/pkg/persistence"
	"github.com/m2mlink/m2m-go/pkg/scheduler"
	"github.com/m2mlink/m2m-go/pkg/security"
	"github.com/m2mlink/m2m-go/pkg/transport"
)

// device is the composition root of the process.
type device struct {
	serverURI string
	sched     *scheduler.Scheduler
	endpoint  *transport.Endpoint
	client    *client.Client
	console   *hardware.Console

	closers []io.Closer
}

// Close releases the transport, the hardware and the log files in reverse
// order of creation.
func (d *device) Close() error {
	if d.endpoint != nil {
		d.endpoint.Close()
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i].Close()
	}
	return nil
}

func setup(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) (_ *device, err error) {
	d := &device{}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	d.serverURI, err = resolveServer(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	sec, err := cfg.SecurityContext(d.serverURI)
	if err != nil {
		return nil, err
	}
	bootstrap := cfg.Server.Bootstrap
	var onBootstrapped func(*security.Context)
	if path := cfg.Client.StateFile; path != "" && bootstrap {
		store := persistence.NewDeviceStateStore(path)
		saved, err := store.BootstrappedServer(cfg.Device.Endpoint)
		switch {
		case err != nil:
			logger.Warn("ignoring state file", "file", path, "error", err)
		case saved != nil:
			logger.Info("skipping bootstrap, using saved server", "file", path, "server", saved.ServerURI)
			sec, bootstrap = saved, false
		}
		onBootstrapped = func(received *security.Context) {
			if err := store.SaveBootstrap(cfg.Device.Endpoint, received); err != nil {
				logger.Warn("saving bootstrapped server", "file", path, "error", err)
			}
		}
	}

	var protocolLogger plog.Logger
	if path := cfg.Transport.ProtocolLog; path != "" {
		fl, err := plog.NewFileLogger(path)
		if err != nil {
			return nil, fmt.Errorf("opening protocol log: %w", err)
		}
		d.closers = append(d.closers, fl)
		protocolLogger = fl
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		protocolLogger = plog.Tee(protocolLogger, plog.NewSlogAdapter(logger))
	}

	d.sched = scheduler.NewWithConfig(scheduler.Config{Logger: logger})
	reg := cfg.Registration()
	reg.Logger = logger
	reg.ProtocolLogger = protocolLogger

	epCfg := transport.EndpointConfig{
		Scheduler:      d.sched,
		Binding:        reg.Binding,
		RequestTimeout: cfg.RequestTimeout(),
		LocalPort:      cfg.Transport.LocalPort,
		MaxMessageSize: uint32(cfg.Transport.MaxMessageSize),
		Logger:         logger,
		ProtocolLogger: protocolLogger,
	}
	if cfg.Transport.Kind == "mqtt" {
		clientID := cfg.MQTT.ClientID
		if clientID == "" {
			clientID = cfg.Device.Endpoint
		}
		mc, err := mqttlink.Connect(mqttlink.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: clientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, mc)
		epCfg.Dialer = mqttlink.Dialer(mc)
	}
	d.endpoint, err = transport.NewEndpoint(epCfg)
	if err != nil {
		return nil, err
	}

	deps := client.Deps{Scheduler: d.sched, Protocol: d.endpoint}
	switch cfg.Hardware.Kind {
	case "serial":
		board, err := hardware.OpenSerial(cfg.Hardware.SerialPort, cfg.Hardware.BaudRate, logger)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, board)
		deps.Inputs, deps.Outputs = board, board
	case "console":
		d.console = hardware.NewConsole(out)
		deps.Inputs, deps.Outputs = d.console, d.console
	}

	turns := cfg.Client.AnimationTurns
	if turns == 0 {
		turns = -1
	}
	d.client, err = client.New(client.Config{
		Registration:   reg,
		Security:       sec,
		Bootstrap:      bootstrap,
		OnBootstrapped: onBootstrapped,
		Device: client.DeviceInfo{
			Manufacturer: cfg.Device.Manufacturer,
			Model:        cfg.Device.Model,
			Serial:       cfg.Device.Serial,
			DeviceType:   cfg.Device.DeviceType,
		},
		AnimationTurns:      turns,
		AnimationDelay:      cfg.AnimationDelay(),
		MaintenanceInterval: cfg.MaintenanceInterval(),
		Logger:              logger,
		Trace:               plog.NewWriterSink(out),
	}, deps)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// resolveServer browses for a server when the configured URI is "mdns".
func resolveServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (string, error) {
	if cfg.Server.URI != discovery.DiscoverURI {
		return cfg.Server.URI, nil
	}
	browser, err := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
	if err != nil {
		return "", err
	}
	defer browser.Stop()

	logger.Info("browsing for a management server", "service", discovery.ServiceType, "bootstrap", cfg.Server.Bootstrap)
	uri, err := discovery.ResolveServerURI(ctx, cfg.Server.URI, browser, cfg.Server.Bootstrap)
	if err != nil {
		return "", fmt.Errorf("discovering server: %w", err)
	}
	logger.Info("management server found", "uri", uri)
	return uri, nil
}
