package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gaspardpetit/plannerbridge/internal/app"
	"github.com/gaspardpetit/plannerbridge/internal/config"
	"github.com/gaspardpetit/plannerbridge/internal/logx"
	"github.com/gaspardpetit/plannerbridge/internal/status"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := config.LoadEnvFile(config.GetEnv("ENV_FILE", ".env")); err != nil {
		logx.Log.Fatal().Err(err).Msg("load env file")
	}
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.BridgeConfig
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()
	if *showVersion {
		fmt.Printf("plannerbridge version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	cfg.Finalize()
	logx.Configure(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logx.Log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	info := status.VersionInfo{Version: version, BuildSHA: buildSHA, BuildDate: buildDate}
	if err := app.Run(ctx, cfg, info, os.Stdin, os.Stdout); err != nil {
		logx.Log.Fatal().Err(err).Msg("bridge stopped")
	}
}
