// Package main provides the jukebox daemon entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/jukebox/internal/api/connect"
	"github.com/osa030/jukebox/internal/app/playback"
	"github.com/osa030/jukebox/internal/infra/audio"
	"github.com/osa030/jukebox/internal/infra/config"
	"github.com/osa030/jukebox/internal/infra/logger"
	"github.com/osa030/jukebox/internal/infra/source"
)

var (
	app        = kingpin.New("jukeboxd", "jukebox playback daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/jukebox.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-sources command
	listSourcesCmd = app.Command("list-sources", "List available source types and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the daemon (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Handle list-sources command
	if command == listSourcesCmd.FullCommand() {
		printSources()
		return
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	// Override with command-line flags if specified
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	closer, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closer.Close()

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Daemon error: %v", err)
		closer.Close()
		os.Exit(1)
	}
}

// run executes the main daemon logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	router, err := source.NewRouterFromConfig(cfg.Sources)
	if err != nil {
		return fmt.Errorf("failed to create sources: %w", err)
	}

	engine, err := audio.New(audio.Config{
		Output:     cfg.Audio.Output,
		SampleRate: cfg.Audio.SampleRate,
		Buffer:     cfg.Audio.Buffer(),
		StallCheck: cfg.Audio.StallCheck(),
	})
	if err != nil {
		return fmt.Errorf("failed to create audio engine: %w", err)
	}

	items, err := buildItems(ctx, cfg.Queue, playlistExpander(router))
	if err != nil {
		return fmt.Errorf("failed to build queue: %w", err)
	}

	controller, err := playback.NewController(
		playback.Config{
			ProgressInterval:         cfg.Playback.ProgressInterval(),
			MetadataDebounce:         cfg.Playback.MetadataDebounce(),
			PreviousRestartThreshold: cfg.Playback.PreviousRestartThreshold(),
			DisablePreload:           cfg.Playback.DisablePreload,
		},
		playback.Deps{
			Engine:     engine,
			Loader:     router,
			Metadata:   router,
			Listener:   logListener{},
			NowPlaying: playback.LogNowPlaying{},
		},
		items,
	)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}
	defer controller.Close()

	controller.SetVolume(cfg.Playback.InitialVolume())
	if cfg.Queue.LoadAssets {
		for _, item := range controller.Items() {
			item.RequestLoad()
		}
	}
	zlog.Info().Msgf("Queue ready: items=%d", len(items))

	// Create HTTP mux
	mux := http.NewServeMux()
	controlPath, controlHandler := apiconnect.NewControlService(controller).Handler(
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg.Admin.Token)),
	)
	mux.Handle(controlPath, controlHandler)
	if cfg.Admin.Token == "" {
		zlog.Warn().Msg("Admin token not configured, control surface is unauthenticated")
	}

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to capture server startup errors
	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	// Start server
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		// Signal that we're about to start listening
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	// Wait for server to start listening
	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	// Execute startup hook if configured (after server is running)
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	if cfg.Queue.Autoplay {
		controller.Play()
	}

	// Forward host interruptions to the controller
	stopInterruptions := watchInterruptions(controller)
	defer stopInterruptions()

	// Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		runErr = fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close controller first to terminate active watch streams
	controller.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	// Execute shutdown hook if configured
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return runErr
}

// printSources prints available source types.
func printSources() {
	descriptions := map[string]string{
		"file":    "local paths and file:// URLs (settings: root, max_bytes)",
		"http":    "http:// and https:// URLs (settings: timeout_sec, max_bytes, cache_entries, user_agent)",
		"spotify": "spotify:track: URIs and open.spotify.com track URLs via preview streams (settings: client_id, client_secret, market, artwork)",
	}
	fmt.Println("Available Sources:")
	for _, t := range source.Types() {
		fmt.Printf("  %-10s - %s\n", t, descriptions[t])
	}
	fmt.Printf("\nSpeaker output available: %v\n", audio.Available)
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
