// Command server runs the GoRelay message relay.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tyrowin/gorelay/internal/relay"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := relay.LoadConfig(os.Getenv("RELAY_CONFIG"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	server := relay.NewServer(cfg, logger, nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server failed")
		}
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutdown requested")
		if err := server.Shutdown(10 * time.Second); err != nil {
			logger.Error().Err(err).Msg("shutdown did not complete cleanly")
			os.Exit(1)
		}
	}
}
