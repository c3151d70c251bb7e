package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"safecex/internal/adapter"
	"safecex/internal/api"
	"safecex/internal/auth"
	"safecex/internal/config"
	"safecex/internal/events"
	"safecex/internal/market"
	"safecex/internal/orders"
	"safecex/internal/rest"
	"safecex/internal/store"
	"safecex/internal/stream"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.Logging.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	log.Info().
		Str("base_url", cfg.Binance.BaseURL).
		Bool("testnet", cfg.Binance.Testnet).
		Dur("tick_interval", cfg.Adapter.TickInterval).
		Msg("Starting trading adapter")

	signer := auth.NewSignerWithRecvWindow(cfg.Binance.APIKey, cfg.Binance.SecretKey, cfg.Binance.RecvWindow)

	publicClient := rest.NewClient(cfg.Binance.BaseURL, signer,
		rest.WithTimeout(cfg.Binance.Timeout),
		rest.WithMaxRetries(cfg.Binance.MaxRetries),
		rest.WithRateLimit(cfg.Binance.PublicRPS, int(cfg.Binance.PublicRPS)),
	)
	tradingClient := rest.NewClient(cfg.Binance.BaseURL, signer,
		rest.WithTimeout(cfg.Binance.Timeout),
		rest.WithMaxRetries(0),
		rest.WithoutRateLimit(),
	)

	st := store.New()
	catalog := market.NewCatalog()
	emitter := events.New(log.Logger)
	formatter := orders.NewFormatter(catalog, st, log.Logger)
	queue := orders.NewQueue(tradingClient, emitter, log.Logger)
	privateStream := stream.NewPrivate(cfg.Binance.WSURL, publicClient, st, emitter, log.Logger,
		stream.WithPingInterval(cfg.Adapter.PingInterval),
		stream.WithRenewInterval(cfg.Adapter.ListenKeyRenewal),
	)

	core := adapter.New(catalog, st, emitter, formatter, queue,
		publicClient, tradingClient, privateStream, cfg.Adapter.TickInterval, log.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := core.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start adapter")
	}

	group, groupCtx := errgroup.WithContext(ctx)

	var statusServer *api.Server
	if cfg.Server.Enabled {
		statusServer = api.NewServer(api.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}, st, core, log.Logger)

		group.Go(func() error {
			return statusServer.Run()
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()

		log.Info().Msg("Shutting down")
		core.Dispose()

		if statusServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := statusServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Status server shutdown failed")
			}
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Error().Err(err).Msg("Adapter exited with error")
	}

	log.Info().Msg("Adapter stopped")
}
