// Command wstap is the CLI entry point.
//
// This tool attaches to a tap interface and bridges its Ethernet frames to a
// vpn-ws compatible server over a WebSocket (ws:// or wss://), reconnecting
// forever on network failures.
//
//	wstap [flags] <tap-name> <server-url>
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/wstap/internal/config"
	"github.com/1ureka/wstap/internal/transport"
	"github.com/1ureka/wstap/internal/tunnel"
	"github.com/1ureka/wstap/internal/tuntap"
	"github.com/1ureka/wstap/internal/util"
)

var version = "dev"

func main() {
	rootCmd := rootCmd()
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// flags holds the command-line values. Only flags the user actually set
// override the file and environment layers.
type flags struct {
	configPath string
	envPath    string
	exec       string
	key        string
	crt        string
	noVerify   bool
	bridge     bool
	strict     bool
	mtu        int
	metrics    string
	debug      bool
}

func rootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "wstap [flags] <tap-name> <server-url>",
		Short: "Bridge a tap interface to a vpn-ws server over WebSocket",
		Long: `wstap attaches to a tap interface and forwards every Ethernet frame to a
vpn-ws compatible server as a WebSocket binary frame, and back.

The server URL has the form ws://[user:pass@]host[:port][/path] or wss://...
Settings can also come from a YAML file (--config) and WSTAP_* environment
variables; flags win over both.`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &f, args)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	bindFlags(cmd, &f)
	return cmd
}

func bindFlags(cmd *cobra.Command, f *flags) {
	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&f.envPath, "env-file", ".env", "file with WSTAP_* variables, ignored if missing")
	fs.StringVar(&f.exec, "exec", "", "shell command to run once the tap device is up")
	fs.StringVar(&f.key, "key", "", "TLS client private key (PEM)")
	fs.StringVar(&f.crt, "crt", "", "TLS client certificate (PEM)")
	fs.BoolVar(&f.noVerify, "no-verify", false, "skip TLS server certificate verification")
	fs.BoolVar(&f.bridge, "bridge", false, "ask the server to treat this client as a bridge")
	fs.BoolVar(&f.strict, "strict", false, "RFC 6455 compliant handshake and masked pings")
	fs.IntVar(&f.mtu, "mtu", config.DefaultMTU, "largest frame payload read from the device")
	fs.StringVar(&f.metrics, "metrics", "", "serve Prometheus metrics on this address, e.g. 127.0.0.1:9100")
	fs.BoolVar(&f.debug, "debug", false, "enable debug logging")
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(cmd *cobra.Command, f *flags, args []string) (*config.Config, error) {
	cfg := config.Default()

	if f.configPath != "" {
		if err := cfg.LoadFile(f.configPath); err != nil {
			return nil, err
		}
	}

	config.LoadEnv(f.envPath)
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	set := cmd.Flags().Changed
	if set("exec") {
		cfg.Exec = f.exec
	}
	if set("key") {
		cfg.KeyFile = f.key
	}
	if set("crt") {
		cfg.CertFile = f.crt
	}
	if set("no-verify") {
		cfg.NoVerify = f.noVerify
	}
	if set("bridge") {
		cfg.Bridge = f.bridge
	}
	if set("strict") {
		cfg.Strict = f.strict
	}
	if set("mtu") {
		cfg.MTU = f.mtu
	}
	if set("metrics") {
		cfg.MetricsAddr = f.metrics
	}
	if set("debug") {
		cfg.Debug = f.debug
	}

	if len(args) > 0 {
		cfg.Device = args[0]
	}
	if len(args) > 1 {
		cfg.ServerURL = args[1]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func run(cfg *config.Config) error {
	if cfg.Debug {
		util.EnableDebug()
	}
	ignoreSIGPIPE()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pterm.Info.Printfln("wstap v%s", version)

	dev, err := tuntap.Open(cfg.Device)
	if err != nil {
		return transport.Wrap(transport.KindDevice, "open device", err)
	}
	defer dev.Close()

	if cfg.Exec != "" {
		if err := tuntap.RunHook(ctx, cfg.Exec); err != nil {
			return err
		}
		if err := tuntap.Refresh(dev); err != nil {
			return transport.Wrap(transport.KindDevice, "refresh hardware address", err)
		}
	}
	cfg.MAC = dev.HardwareAddr()
	util.LogInfo("device %s up, hardware address %s", dev.Name(), cfg.MAC)

	util.StartStatsReporter(ctx)
	if cfg.MetricsAddr != "" {
		if _, err := util.ServeMetrics(ctx, cfg.MetricsAddr, util.NewMetricsRegistry()); err != nil {
			return err
		}
	}

	connector := &transport.Connector{
		URL:              cfg.ServerURL,
		MAC:              cfg.MAC,
		Bridge:           cfg.Bridge,
		Strict:           cfg.Strict,
		KeyFile:          cfg.KeyFile,
		CertFile:         cfg.CertFile,
		NoVerify:         cfg.NoVerify,
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
	}
	client := tunnel.NewClient(connector, dev, tunnel.Options{
		Keepalive: cfg.Keepalive,
		MTU:       cfg.MTU,
		Strict:    cfg.Strict,
	})

	util.LogInfo("bridging %s to %s", dev.Name(), cfg.ServerURL)
	if err := client.Run(ctx); err != nil {
		return err
	}

	util.LogInfo("shut down")
	return nil
}
