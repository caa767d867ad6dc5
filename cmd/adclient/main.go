package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/adsync/internal/client"
	"github.com/mcdev12/adsync/internal/config"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := flag.String("config", "", "path to yaml config file")
	serverHost := flag.String("server", "", "server host (overrides config)")
	serverPort := flag.Int("port", 0, "server port (overrides config)")
	clientID := flag.String("id", "", "client identifier (default: generated)")
	idleTimeout := flag.Duration("idle-timeout", 0, "auto-resume after this long in idle mode (0 = never)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *serverHost != "" {
		cfg.ServerHost = *serverHost
	}
	if *serverPort != 0 {
		cfg.ServerPort = *serverPort
	}
	if *clientID != "" {
		cfg.ClientID = *clientID
	}
	if *idleTimeout != 0 {
		cfg.IdleTimeout = config.Duration(*idleTimeout)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "client_" + uuid.New().String()[:8]
	}

	cache, err := client.NewMediaCache(cfg.CacheDir)
	if err != nil {
		log.Fatal().Err(err).Str("cache_dir", cfg.CacheDir).Msg("failed to open media cache")
	}

	log.Info().
		Str("client_id", cfg.ClientID).
		Str("server", cfg.Addr()).
		Str("cache_dir", cfg.CacheDir).
		Msg("starting display client")

	clk := clockwork.NewRealClock()
	eng := client.NewEngine(cfg.ClientID, cfg.IdleTimeout.Std(), &client.LogSink{Log: log.Logger}, cache, clk, log.Logger)
	sup := client.NewSupervisor(cfg, eng, clk, log.Logger)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup.Start(ctx)
	go eng.Run(ctx)

	// Local key surface on its own goroutine; "q" triggers shutdown.
	go client.NewConsole(eng, sup, os.Stdin, os.Stdout, cancel).Run()

	// Wait for interrupt signal or console quit
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	case <-ctx.Done():
	}

	sup.Disconnect()
	time.Sleep(200 * time.Millisecond)
	log.Info().Msg("display client stopped")
}
