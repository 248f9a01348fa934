package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/hopmq/internal/config"
	"github.com/danmuck/hopmq/internal/observability"
	"github.com/rs/zerolog/log"
)

const defaultConfigPath = "cmd/mqctl/config.toml"

var errUsage = errors.New("usage: mqctl [-config path] [-metrics addr] <declare|push|fetch|demo|mpsc> [args]")

func main() {
	configPath := flag.String("config", defaultConfigPath, "client config path")
	metricsAddr := flag.String("metrics", "", "serve the status router on this address (overrides [metrics].listen_addr)")
	flag.Parse()

	observability.InitLogger("mqctl")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *metricsAddr, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "mqctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, metricsAddr string, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cfg, err := config.LoadClientConfig(configPath)
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		cfg.Metrics.ListenAddr = metricsAddr
	}

	c, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close()

	if cfg.Metrics.ListenAddr != "" {
		router := observability.NewStatusRouter(observability.StatusOptions{
			Node:        "mqctl",
			CorsOrigins: cfg.Metrics.CorsOrigins,
			Sessions:    c.sessions,
		})
		go func() {
			if err := observability.ServeStatus(ctx, cfg.Metrics.ListenAddr, router); err != nil {
				log.Error().Err(err).Msg("status router stopped")
			}
		}()
	}

	return dispatch(ctx, c, args, os.Stdout)
}
