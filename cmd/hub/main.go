// Command hub runs a messaging hub node.
package main

import (
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wanhive/hub/internal/api"
	"github.com/wanhive/hub/internal/config"
	"github.com/wanhive/hub/internal/hub"
	"github.com/wanhive/hub/internal/identity"
)

// relayHandler is the default application behavior: messages already
// carry their destination, so routing is a pass-through, and a
// terminal signal cancels the loop.
type relayHandler struct {
	hub.NopHandler
	hub    *hub.Hub
	logger *slog.Logger
}

func (r *relayHandler) ProcessInterrupt(uid uint64, signum int) {
	r.logger.Info("interrupt received", "signal", signum)
	switch syscall.Signal(signum) {
	case syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
		r.hub.Cancel()
	}
}

func logLevel(verbosity int) slog.Level {
	switch {
	case verbosity >= 7:
		return slog.LevelDebug
	case verbosity >= 5:
		return slog.LevelInfo
	case verbosity == 4:
		return slog.LevelWarn
	case verbosity > 0:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "hub.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("configuration file missing, using defaults", "path", *configPath)
		cfg, err = config.Load("")
	}
	if err != nil {
		slog.Error("configuration failed", "error", err)
		os.Exit(1)
	}

	opts := &slog.HandlerOptions{Level: logLevel(cfg.Hub.Verbosity)}
	var handler slog.Handler
	if cfg.Logging.JSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	provider, err := identity.New(cfg)
	if err != nil {
		logger.Error("identity provider failed", "error", err)
		os.Exit(1)
	}

	relay := &relayHandler{logger: logger}
	node := hub.New(provider, relay, logger)
	relay.hub = node

	if cfg.Admin.Enabled {
		address := cfg.Admin.Address
		if address == "" {
			address = ":9090"
		}
		admin := api.NewServer(node, address, logger)
		go func() {
			if err := admin.Start(); err != nil {
				logger.Error("admin surface failed", "error", err)
			}
		}()
		defer admin.Close()
	}

	if !cfg.Hub.Signal {
		// Without the interrupt singleton, bridge termination signals
		// to the cooperative cancel from outside the loop.
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigs
			node.Cancel()
			_ = node.ReportEvents(1)
		}()
	}

	if !node.Execute(nil) {
		os.Exit(1)
	}
}
