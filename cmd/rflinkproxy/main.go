// rflinkproxy - multi-client gateway relay
//
// Owns the single connection to an RFLink gateway and re-exposes it on
// a TCP listen port, so several tools (Domoticz, Home Assistant, the
// rflink CLI) can share one piece of hardware. Raw gateway lines fan
// out to every client; client commands are validated and forwarded.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/nerrad567/rflink-core/internal/infrastructure/config"
	"github.com/nerrad567/rflink-core/internal/infrastructure/logging"
	"github.com/nerrad567/rflink-core/internal/relay"
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

type cliFlags struct {
	config     string
	port       string
	host       string
	baud       int
	listenPort int
	verbose    bool
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
	flag.StringVar(&f.host, "host", "", "TCP host of a remote gateway")
	flag.IntVar(&f.baud, "baud", 0, "serial baud rate")
	flag.IntVar(&f.listenPort, "listenport", 0, "TCP port to accept relay clients on")
	flag.BoolVar(&f.verbose, "v", false, "debug logging")
	flag.Parse()
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
	log.Info("starting rflinkproxy", "version", version, "commit", commit)

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
		return fmt.Errorf("creating session: %w", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			log.Error("error closing session", "error", closeErr)
		}
	}()

	hub := relay.NewHub(session, relay.HubConfig{
		ListenAddr:    cfg.Relay.ListenAddr,
		ClientBuffer:  cfg.Relay.ClientBuffer,
		MaxClients:    cfg.Relay.MaxClients,
		CommandRepeat: cfg.Commands.Repeat,
		CommandDelay:  cfg.GetCommandDelay(),
		Logger:        log,
	})
	if err := hub.Start(); err != nil {
		return fmt.Errorf("starting relay: %w", err)
	}
	defer func() {
		log.Info("stopping relay")
		hub.Stop()
	}()

	// The relay needs observers registered before traffic flows, so the
	// hub starts first and the gateway link opens second.
	if err := session.Open(ctx); err != nil {
		return fmt.Errorf("opening gateway: %w", err)
	}

	log.Info("relay running", "listen", hub.Addr().String(), "gateway", t.String())
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
	if f.listenPort > 0 {
		cfg.Relay.ListenAddr = ":" + strconv.Itoa(f.listenPort)
	}
	if f.verbose {
		cfg.Logging.Level = "debug"
	}
	cfg.Relay.Enabled = true
	if !strings.Contains(cfg.Relay.ListenAddr, ":") {
		cfg.Relay.ListenAddr = ":" + cfg.Relay.ListenAddr
	}
	return cfg.Validate()
}
