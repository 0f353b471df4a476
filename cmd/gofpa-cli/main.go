package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/joshp123/gofpa/internal/config"
	"github.com/joshp123/gofpa/internal/logging"
)

type globalFlags struct {
	configPath   string
	statePath    string
	refreshToken string
	addr         string
	verbose      bool
	json         bool
}

func main() {
	var flags globalFlags
	flagSet := pflag.NewFlagSet("gofpa-cli", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVarP(&flags.configPath, "config", "c", envOrDefault("GOFPA_CONFIG", config.DefaultPath), "path to config.yaml")
	flagSet.StringVar(&flags.statePath, "state", os.Getenv("GOFPA_STATE"), "session state file (overrides config)")
	flagSet.StringVar(&flags.refreshToken, "refresh-token", os.Getenv("GOFPA_REFRESH_TOKEN"), "refresh token to use instead of the saved session")
	flagSet.StringVar(&flags.addr, "addr", "", "daemon gRPC address")
	flagSet.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging to stderr")
	flagSet.BoolVar(&flags.json, "json", false, "print JSON")
	flagSet.Usage = usage
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	args := flagSet.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	_ = logging.Init(logging.Config{Output: "stderr", Console: true, Debug: flags.verbose, Level: logLevel(flags.verbose)})
	out := outputMode{json: flags.json}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig(flags.configPath)
	if flags.statePath != "" {
		cfg.Session.StatePath = flags.statePath
	}

	switch args[0] {
	case "login":
		loginCmd(ctx, cfg, out, args[1:])
	case "me":
		meCmd(ctx, newApp(ctx, cfg, flags), out)
	case "device":
		deviceCmd(ctx, newApp(ctx, cfg, flags), out, args[1:])
	case "start":
		startCmd(ctx, newApp(ctx, cfg, flags), args[1:])
	case "listen":
		listenCmd(ctx, newApp(ctx, cfg, flags), out, args[1:])
	case "health":
		healthCmd(ctx, resolveAddr(flags.addr, cfg), out, args[1:])
	case "services":
		servicesCmd(ctx, resolveAddr(flags.addr, cfg))
	case "methods":
		methodsCmd(ctx, resolveAddr(flags.addr, cfg), args[1:])
	case "call":
		callCmd(ctx, resolveAddr(flags.addr, cfg), args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

// loadConfig reads the daemon config when present. A missing file yields
// the defaults with the session kept in the user's config directory.
func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg
	}
	if !errors.Is(err, fs.ErrNotExist) {
		fatal("load config", err)
	}
	cfg, err = config.Parse([]byte(fmt.Sprintf("schema_version: %d\n", config.SchemaVersion)))
	if err != nil {
		fatal("default config", err)
	}
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		cfg.Session.StatePath = filepath.Join(dir, "gofpa", "session.json")
	}
	return cfg
}

func logLevel(verbose bool) string {
	if verbose {
		return zerolog.LevelDebugValue
	}
	return zerolog.LevelWarnValue
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func resolveAddr(flagAddr string, cfg *config.Config) string {
	if flagAddr != "" {
		return flagAddr
	}
	if value := os.Getenv("GOFPA_GRPC_ADDR"); value != "" {
		return value
	}
	return cfg.Core.GRPCAddr
}

func usage() {
	fmt.Println("gofpa-cli [flags] <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  login <email>            log in (password prompted) and save the session")
	fmt.Println("  me                       show the account and its devices")
	fmt.Println("  device <device>          show bottles, history and shadow state")
	fmt.Println("  start <bottle_id>        make a bottle")
	fmt.Println("  listen <device>          stream state changes until interrupted")
	fmt.Println("  health [device]          query the daemon health service")
	fmt.Println("  services")
	fmt.Println("  methods <service>")
	fmt.Println("  call <service/method> --data '{}' (or pipe JSON via stdin)")
	fmt.Println("")
	fmt.Println("Flags:")
	fmt.Println("  -c, --config <path>      daemon config (default " + config.DefaultPath + ")")
	fmt.Println("      --state <path>       session state file")
	fmt.Println("      --refresh-token <t>  use this refresh token")
	fmt.Println("      --addr <host:port>   daemon gRPC address")
	fmt.Println("      --json               print JSON")
	fmt.Println("  -v, --verbose            debug logging")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
