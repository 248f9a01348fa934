package main

import (
	"flag"

	"github.com/danmuck/hopmq/internal/config"
	"github.com/danmuck/hopmq/internal/observability"
	"github.com/rs/zerolog/log"
)

func defaultPath(kind string) string {
	switch kind {
	case "client":
		return "cmd/mqctl/config.toml"
	case "broker":
		return "cmd/devbroker/config.toml"
	}
	log.Fatal().Str("kind", kind).Msg("unknown kind")
	return ""
}

func main() {
	kind := flag.String("kind", "client", "config kind: client|broker")
	output := flag.String("out", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()
	observability.InitLogger("configgen")

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		var err error
		switch *kind {
		case "client":
			_, err = config.LoadClientConfig(path)
		case "broker":
			_, err = config.LoadBrokerConfig(path)
		default:
			log.Fatal().Str("kind", *kind).Msg("unknown kind")
		}
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("invalid config")
		}
		log.Info().Str("kind", *kind).Str("path", path).Msg("validated config")
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal().Err(err).Msg("write template")
	}
	log.Info().Str("kind", *kind).Str("path", target).Msg("wrote config template")
}
