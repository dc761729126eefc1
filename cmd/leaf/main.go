package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nuwan94/leaf/internal/config"
	"github.com/nuwan94/leaf/pkg/logger"
	"github.com/nuwan94/leaf/sdk"
)

const version = "leaf v0.3.0"

var errUsage = errors.New("usage")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	args, err := parseFlags(cfg, os.Args[1:])
	if err != nil {
		return err
	}
	if args == nil {
		return nil
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}
	defer logger.Sync()

	switch args[0] {
	case "help":
		printUsage()
		return nil
	case "version":
		fmt.Println(version)
		return nil
	}

	cmd, ok := commands[args[0]]
	if !ok {
		printUsage()
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := sdk.New(cfg, sdk.WithListener(stderrListener{}))
	if err != nil {
		return err
	}
	defer client.Close()

	if cmd.needsSession {
		if _, ok, err := client.Resume(ctx); err != nil {
			return fmt.Errorf("resume session: %w", err)
		} else if !ok {
			return errors.New("not logged in (run: leaf login <email>)")
		}
	}
	return cmd.run(ctx, client, args[1:])
}

// parseFlags applies global flags to cfg and returns the remaining
// arguments. A nil slice means there is nothing left to do.
func parseFlags(cfg *config.Config, args []string) ([]string, error) {
	fs := flag.NewFlagSet("leaf", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	server := fs.String("server", "", "API base URL")
	storage := fs.String("storage", "", "storage backend (file|sqlite|redis|memory)")
	debug := fs.Bool("debug", false, "enable debug logging")
	showHelp := fs.Bool("help", false, "show help")

	if err := fs.Parse(args); err != nil {
		printUsage()
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	if *showHelp || fs.NArg() == 0 {
		printUsage()
		return nil, nil
	}

	if *server != "" {
		cfg.ServerURL = *server
	}
	if *storage != "" {
		cfg.Storage = *storage
	}
	if *debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return fs.Args(), nil
}

func setupLogging(cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if cfg.LogFile != "" {
		logger.SetFile(cfg.LogFile, 0)
	}
	return nil
}

// stderrListener prints session events for the user.
type stderrListener struct{}

func (stderrListener) OnSessionChanged(userID, role string) {
	if userID != "" {
		logger.Debugf("session: %s (%s)", userID, role)
	}
}

func (stderrListener) OnLoggedOut(reason string) {
	if reason == "expired" {
		fmt.Fprintln(os.Stderr, "Your session has expired. Please log in again.")
	}
}

func (stderrListener) OnError(message string) {
	fmt.Fprintf(os.Stderr, "warning: %s\n", message)
}

func printUsage() {
	fmt.Println(`leaf - command line client for the Leaf marketplace

Usage:
  leaf [flags] <command> [args]

Commands:
  login <email> [--password P]       Log in (password also read from LEAF_PASSWORD)
  register --name N --email E        Create an account (--password, --role, --phone, --address)
  logout                             End the session
  whoami                             Show the signed-in user
  refresh                            Rotate the token pair now
  products [--search S] [--category ID] [--farmer ID] [--page N]
  product <id>                       Show one product
  categories                         List categories
  cart                               Show the cart
  cart add <product-id> [qty]        Add a product
  cart set <item-id> <qty>           Change a quantity (0 removes)
  cart remove <item-id>              Remove a line
  cart clear                         Empty the cart
  checkout <shipping address>        Order the cart contents
  orders [--status S]                List orders
  order <id>                         Show one order
  order-status <id> <status>         Update an order (farmer, admin)
  deliveries                         List assigned deliveries (delivery agent)
  delivery-status <id> <status>      Update a delivery (delivery agent)
  prefs                              Show preferences
  prefs set <name> <value>           language | dark-mode | font-scale | filter-on | filter-off
  help                               Show this help message
  version                            Show version information

Flags:
  --server URL      API base URL
  --storage NAME    file | sqlite | redis | memory
  --debug           Enable debug logging

Environment Variables:
  LEAF_SERVER_URL, LEAF_HOME, LEAF_STORAGE, LEAF_REDIS_URL, LEAF_LOG_LEVEL,
  LEAF_LOG_FILE, LEAF_DEBUG, LEAF_HTTP_TIMEOUT, LEAF_REFRESH_LEAD_TIME,
  LEAF_CONFIG (YAML file)`)
}
