// rflink - 433MHz gateway client
//
// Connects to an RFLink gateway over serial or TCP, decodes the radio
// traffic into device events, and optionally mirrors everything to an
// MQTT broker. With a positional command it acts as a one-shot remote:
//
//	rflink -port /dev/ttyACM0 on newkaku_00cac142_1
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/nerrad567/rflink-core/internal/bridge"
	"github.com/nerrad567/rflink-core/internal/infrastructure/config"
	"github.com/nerrad567/rflink-core/internal/infrastructure/logging"
	"github.com/nerrad567/rflink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/rflink-core/internal/rflink"
	"github.com/nerrad567/rflink-core/internal/transport"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// oneShotActions lists the switch commands accepted as positional
// arguments.
var oneShotActions = map[string]bool{
	"on": true, "off": true, "allon": true, "alloff": true,
	"up": true, "down": true, "stop": true, "pair": true,
}

type cliFlags struct {
	config  string
	port    string
	host    string
	baud    int
	repeat  int
	mode    string
	ignore  string
	verbose bool
	args    []string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, parseFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.config, "config", "", "path to config.yaml (default: $RFLINK_CONFIG or configs/config.yaml)")
	flag.StringVar(&f.port, "port", "", "serial device, or TCP port number when -host is set")
	flag.StringVar(&f.host, "host", "", "TCP host of a remote gateway or relay")
	flag.IntVar(&f.baud, "baud", 0, "serial baud rate")
	flag.IntVar(&f.repeat, "repeat", 0, "transmissions per command")
	flag.StringVar(&f.mode, "m", "event", "incoming packet handling: event or print")
	flag.StringVar(&f.ignore, "ignore", "", "comma-separated device id patterns to ignore (trailing * matches prefixes)")
	flag.BoolVar(&f.verbose, "v", false, "debug logging")
	flag.Parse()
	f.args = flag.Args()
	return f
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context, f cliFlags) error {
	cfg, err := loadConfig(f.config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := applyFlags(cfg, f); err != nil {
		return err
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting rflink", "version", version, "commit", commit)

	session, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			log.Error("error closing session", "error", closeErr)
		}
	}()

	// One-shot command mode: send and exit.
	if len(f.args) > 0 {
		return runOneShot(ctx, session, cfg, f.args)
	}

	ignore := rflink.NewIgnoreList(cfg.Ignore)
	switch f.mode {
	case "event":
		session.OnEvent(func(e rflink.Event) {
			if ignore.Match(e.ID) {
				return
			}
			fmt.Println(e)
		})
	case "print":
		session.OnPacket(func(p rflink.Packet) {
			fmt.Println(p)
		})
	default:
		return fmt.Errorf("unknown mode %q (want event or print)", f.mode)
	}

	if cfg.MQTT.Enabled {
		stopBridge, err := startBridge(session, cfg, ignore, log)
		if err != nil {
			return err
		}
		defer stopBridge()
	}

	log.Info("monitoring, press Ctrl+C to stop")
	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

// loadConfig resolves the config path and falls back to built-in
// defaults when no file is configured and the default path is absent.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("RFLINK_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			return config.Default(), nil
		}
		path = defaultConfigPath
	}
	return config.Load(path)
}

// applyFlags lets command-line flags override the loaded configuration.
// With -host set, -port is the TCP port number; otherwise it names the
// serial device.
func applyFlags(cfg *config.Config, f cliFlags) error {
	if f.host != "" {
		cfg.Gateway.Host = f.host
		cfg.Gateway.Device = ""
		if f.port != "" {
			port, err := strconv.Atoi(f.port)
			if err != nil {
				return fmt.Errorf("-port must be numeric with -host: %q", f.port)
			}
			cfg.Gateway.Port = port
		}
	} else if f.port != "" {
		cfg.Gateway.Device = f.port
		cfg.Gateway.Host = ""
	}
	if f.baud > 0 {
		cfg.Gateway.Baud = f.baud
	}
	if f.repeat > 0 {
		cfg.Commands.Repeat = f.repeat
	}
	if f.verbose {
		cfg.Logging.Level = "debug"
	}
	for _, pattern := range strings.Split(f.ignore, ",") {
		if pattern = strings.TrimSpace(pattern); pattern != "" {
			cfg.Ignore = append(cfg.Ignore, pattern)
		}
	}
	return cfg.Validate()
}

// openSession builds the transport from config and opens the session.
func openSession(ctx context.Context, cfg *config.Config, log *logging.Logger) (*rflink.Session, error) {
	var t rflink.Transport
	if cfg.UseSerial() {
		t = transport.NewSerial(cfg.Gateway.Device, cfg.Gateway.Baud)
	} else {
		t = transport.NewTCP(cfg.Gateway.Host, cfg.Gateway.Port)
	}

	session, err := rflink.NewSession(rflink.SessionConfig{
		Transport:            t,
		AutoReconnect:        cfg.Gateway.AutoReconnect,
		ReconnectInterval:    cfg.GetReconnectInitialDelay(),
		MaxReconnectInterval: cfg.GetReconnectMaxDelay(),
		MaxLineLength:        cfg.Gateway.MaxLineLength,
		Logger:               log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	if err := session.Open(ctx); err != nil {
		return nil, fmt.Errorf("opening gateway: %w", err)
	}
	return session, nil
}

// runOneShot sends a single switch command and waits for its final
// transmission.
func runOneShot(ctx context.Context, session *rflink.Session, cfg *config.Config, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: rflink [flags] <on|off|allon|alloff|up|down|stop|pair> <device_id>")
	}
	action, deviceID := strings.ToLower(args[0]), args[1]
	if !oneShotActions[action] {
		return fmt.Errorf("unknown command %q", action)
	}

	done := make(chan error, 1)
	err := session.Send(rflink.Command{
		DeviceID: deviceID,
		Action:   action,
		Repeat:   cfg.Commands.Repeat,
		Delay:    cfg.GetCommandDelay(),
		Done:     func(err error) { done <- err },
	})
	if err != nil {
		return fmt.Errorf("sending command: %w", err)
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("command delivery: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startBridge connects to the broker and starts the MQTT bridge.
// The returned function tears both down.
func startBridge(session *rflink.Session, cfg *config.Config, ignore *rflink.IgnoreList, log *logging.Logger) (func(), error) {
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	b, err := bridge.New(bridge.Options{
		Session:       session,
		MQTT:          mqttClient,
		Ignore:        ignore,
		QoS:           byte(cfg.MQTT.QoS),
		CommandRepeat: cfg.Commands.Repeat,
		CommandDelay:  cfg.GetCommandDelay(),
		Logger:        log,
	})
	if err != nil {
		_ = mqttClient.Close()
		return nil, fmt.Errorf("creating bridge: %w", err)
	}
	if err := b.Start(); err != nil {
		_ = mqttClient.Close()
		return nil, fmt.Errorf("starting bridge: %w", err)
	}

	return func() {
		log.Info("stopping MQTT bridge")
		b.Stop()
		if err := mqttClient.Close(); err != nil {
			log.Error("error closing MQTT", "error", err)
		}
	}, nil
}
