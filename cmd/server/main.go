// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/guildplay/internal/api/connect"
	"github.com/osa030/guildplay/internal/app/filter"
	"github.com/osa030/guildplay/internal/app/notification"
	"github.com/osa030/guildplay/internal/app/resolver"
	"github.com/osa030/guildplay/internal/app/session"
	"github.com/osa030/guildplay/internal/infra/config"
	"github.com/osa030/guildplay/internal/infra/discord"
	"github.com/osa030/guildplay/internal/infra/guildstore"
	"github.com/osa030/guildplay/internal/infra/logger"
)

var (
	app        = kingpin.New("guildplay-server", "guildplay music bot server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: from config)").String()

	listFiltersCmd  = app.Command("list-filters", "List available filters and exit")
	listMessagesCmd = app.Command("list-messages", "List message keys and their default text, then exit")
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	switch command {
	case listFiltersCmd.FullCommand():
		printFilters()
		return
	case listMessagesCmd.FullCommand():
		printMessages()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Output:     cfg.Log.Output,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	zlog.Info().Msgf("Loaded config from %s", *configPath)

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %+v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	if !cfg.Discord.Enabled {
		return errors.New("discord.enabled is false: no voice transport is available")
	}
	ctx := context.Background()

	filters, err := filter.NewChainFromConfig(cfg)
	if err != nil {
		return errors.Wrap(err, "invalid filter config")
	}
	resolvers, err := resolver.NewChainFromConfig(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "failed to create resolvers")
	}
	zlog.Info().Msgf("Resolvers: %s", strings.Join(resolvers.Names(), ", "))

	store, err := guildstore.Open(ctx, cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	bot, err := discord.New(cfg.Discord.Token)
	if err != nil {
		return err
	}
	messenger := discord.NewMessenger(bot.Session(), notification.NewCatalog(cfg.Messages))

	sessionMgr, err := session.NewManager(cfg, session.Deps{
		Transport: discord.NewTransport(bot.Session(), cfg.Discord.Bitrate),
		Resolver:  resolvers,
		Filters:   filters,
		Messenger: messenger,
		Settings:  store,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create session manager")
	}
	bot.Route(discord.NewRouter(sessionMgr, messenger, cfg.Discord.Prefix, cfg.Discord.ControlRoles))
	if err := bot.Open(); err != nil {
		sessionMgr.Close()
		return err
	}

	mux := http.NewServeMux()
	controlPath, controlHandler := apiconnect.NewControlServiceHandler(
		apiconnect.NewControlService(sessionMgr),
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg.Admin.Token)),
	)
	mux.Handle(controlPath, controlHandler)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()
	<-serverStartedCh
	time.Sleep(100 * time.Millisecond)

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop taking chat commands before tearing down voice sessions
	if err := bot.Close(); err != nil {
		zlog.Error().Msgf("Failed to close discord: %v", err)
	}
	sessionMgr.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}
	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")
	return runErr
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	for _, factory := range filter.GetRegistered() {
		f := factory()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// printMessages prints the reply catalog so operators can write overrides.
func printMessages() {
	catalog := notification.NewCatalog(nil)
	for _, key := range catalog.Keys() {
		fmt.Printf("  %-28s %s\n", key, catalog.Render(key, nil))
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
