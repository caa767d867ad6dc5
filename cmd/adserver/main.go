package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/adsync/internal/catalog"
	"github.com/mcdev12/adsync/internal/config"
	"github.com/mcdev12/adsync/internal/playback"
	"github.com/mcdev12/adsync/internal/server"
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
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	clk := clockwork.NewRealClock()

	cat, err := catalog.Open(cfg.MediaDir, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Str("media_dir", cfg.MediaDir).Msg("failed to open ad catalog")
	}

	log.Info().
		Str("addr", cfg.Addr()).
		Str("media_dir", cfg.MediaDir).
		Int("ads", cat.Len()).
		Msg("starting ad server")

	srv := server.New(cfg, cat, playback.NewClock(clk, cfg.AdDuration.Std()), clk, log.Logger)
	if _, err := srv.Listen(); err != nil {
		log.Fatal().Err(err).Msg("failed to start listener")
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Operator console on its own goroutine; "exit" triggers shutdown.
	go server.NewConsole(srv, os.Stdin, os.Stdout, cancel).Run()

	// Wait for interrupt signal or console exit
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	case <-ctx.Done():
	}

	// Give the accept loop time to close sessions and persist the catalog
	time.Sleep(500 * time.Millisecond)
	log.Info().Msg("ad server stopped")
}
