package main

import (
	"flag"

	"github.com/danmuck/txmux/internal/config"
	"github.com/danmuck/txmux/internal/node"
	"github.com/danmuck/txmux/internal/observability"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "full TOML config path")
	overridePath := flag.String("override", "", "partial TOML override path")
	echoPrefix := flag.String("echo-prefix", "", "prefix prepended to echoed response bodies")
	flag.Parse()

	observability.InitLogger("txmuxd")

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load config")
		}
		cfg = loaded
		log.Info().Str("path", *configPath).Msg("loaded config")
	}
	if *overridePath != "" {
		patched, err := applyOverrides(*overridePath, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to apply config overrides")
		}
		cfg = patched
		log.Info().Str("path", *overridePath).Msg("applied config overrides")
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	svc := node.NewService(cfg, node.EchoResponder(*echoPrefix))
	log.Info().
		Str("node", cfg.Node.ID).
		Str("addr", cfg.Listen.Addr).
		Msg("txmuxd starting")
	if err := svc.Run(); err != nil {
		log.Fatal().Err(err).Msg("txmuxd stopped")
	}
}
