package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/hopmq/internal/config"
	"github.com/danmuck/hopmq/internal/devbroker"
	"github.com/danmuck/hopmq/internal/observability"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "cmd/devbroker/config.toml", "broker config path")
	flag.Parse()

	observability.InitLogger("devbroker")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "devbroker: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path string) error {
	cfg, err := config.LoadBrokerConfig(path)
	if err != nil {
		return err
	}
	rt, err := cfg.ToBrokerConfig()
	if err != nil {
		return err
	}
	b, err := devbroker.New(rt)
	if err != nil {
		return err
	}
	b.SetObserver(observability.NewBrokerMetrics("devbroker"))
	if err := b.Listen(); err != nil {
		return err
	}
	b.Serve()
	log.Info().Str("addr", b.Addr().String()).Int("vhosts", len(rt.VHosts)).Msg("devbroker listening")

	if cfg.Metrics.ListenAddr != "" {
		router := observability.NewStatusRouter(observability.StatusOptions{
			Node:        "devbroker",
			CorsOrigins: cfg.Metrics.CorsOrigins,
			Queues:      b.Stats,
		})
		go func() {
			if err := observability.ServeStatus(ctx, cfg.Metrics.ListenAddr, router); err != nil {
				log.Error().Err(err).Msg("status router stopped")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("devbroker shutting down")
	return b.Close()
}
