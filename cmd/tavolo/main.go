// Tavolo - authoritative card game server
//
// Tavolo hosts a turn-based card game over TCP. It accepts player
// connections on a length-prefixed binary protocol, runs the game
// rules in a single authoritative loop, exposes a read-only REST API
// for monitoring, and publishes real-time telemetry via MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tavolo-project/tavolo/internal/api"
	"github.com/tavolo-project/tavolo/internal/cli"
	"github.com/tavolo-project/tavolo/internal/config"
	"github.com/tavolo-project/tavolo/internal/events"
	"github.com/tavolo-project/tavolo/internal/history"
	"github.com/tavolo-project/tavolo/internal/server"
	"github.com/tavolo-project/tavolo/internal/telemetry"
	"github.com/tavolo-project/tavolo/internal/util"
)

const (
	AppName    = "Tavolo"
	AppVersion = "1.0.0"
	Banner     = `
  _______                _
 |__   __|              | |
    | | __ ___   _____  | | ___
    | |/ _' \ \ / / _ \ | |/ _ \
    | | (_| |\ V / (_) || | (_) |
    |_|\__,_| \_/ \___/ |_|\___/
                          v%s
 Authoritative card game server
`
)

func main() {
	// Print banner
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (will be reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Tavolo")

	// Load configuration
	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	app := cfg.GetApplication()
	srvCfg := cfg.GetServer()

	// Re-initialize logger with config-based settings
	logCfg := util.LogConfig{
		Level:      app.Logging.Level,
		Directory:  app.Logging.Directory,
		MaxSizeMB:  app.Logging.MaxSizeMB,
		MaxBackups: app.Logging.MaxBackups,
		Console:    app.Logging.Console,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	// Log system info
	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize core components
	eventBus := events.NewEventBus()

	// The game server owns the registry, dispatcher and game master.
	gameServer := server.New(cfg, eventBus)

	// The admin joins through the same TCP protocol as everyone else,
	// authenticated only by this code. Print it where the operator can see it.
	adminCode := gameServer.AdminAccessCode()
	log.Info().Str("admin", srvCfg.AdminName).Msg("admin session created")
	fmt.Printf("Admin access code: %d\n", adminCode)
	fmt.Printf("Join as %q with this code to control the table remotely.\n", srvCfg.AdminName)
	if ip, ipErr := util.GetLocalIP(); ipErr == nil {
		fmt.Printf("Players on this network can connect to %s:%d\n", ip, srvCfg.Port)
	}
	fmt.Println()

	// Match history archive
	var store *history.Store
	if app.History.Enabled {
		store, err = history.NewStore(app.History.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open history store, archiving disabled")
		} else {
			store.Subscribe(eventBus)
		}
	}

	// Read-only REST API
	var apiServer *api.Server
	if app.API.Enabled {
		apiServer = api.NewServer(cfg, gameServer, store)
	}

	// MQTT telemetry
	var mqttHandler *telemetry.MQTTHandler
	if app.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// Interactive CLI
	cliHandler := cli.NewCLI(cfg, eventBus, gameServer, store)

	// ---------------------------------------------------------------
	// Launch concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Task 1: The game server (TCP listener, dispatcher, game master)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", srvCfg.ListenAddress).Int("port", srvCfg.Port).Msg("starting game server")
		if err := gameServer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("game server failed")
			errCh <- fmt.Errorf("game server: %w", err)
		}
	}()

	// Task 2: REST API server
	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", app.API.Port).Msg("starting REST API server")
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("API server failed (non-fatal)")
			}
		}()
	}

	// Task 3: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Task 4: Interactive CLI
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(ctx context.Context, event events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// Stop the game server first so every player receives a farewell
	// ConnectionEnd before the sockets go away.
	gameServer.Stop()

	// Cancel the root context to signal the remaining goroutines
	cancel()

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			log.Warn().Err(err).Msg("API server shutdown error")
		}
	}

	// Wait for all goroutines with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(time.Duration(srvCfg.ShutdownTimeoutSec) * time.Second):
		log.Warn().Msg("shutdown timed out, forcing exit")
	}

	if store != nil {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("history store close error")
		}
	}

	// Stop the event bus last
	eventBus.Stop()

	log.Info().Msg("Tavolo stopped")
}
