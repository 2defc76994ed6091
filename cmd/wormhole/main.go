package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/assistant"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/bridge"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/commands"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/config"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/evaluate"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/logx"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/session"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.BridgeConfig
	cfg.BindFlags()
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "wormhole version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Printf("wormhole version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !config.IsMissing(err) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	logx.Configure(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logx.Log.Fatal().Err(err).Msg("invalid config")
	}
	bridge.SetBuildInfo(version, buildSHA, buildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, closeSrc, err := session.FromConfig(ctx, cfg.Cookies, cfg.CookieFile, cfg.CookieRedisURL, cfg.CookieRedisKey)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("session source")
	}
	defer func() { _ = closeSrc() }()

	handlers := &assistant.Handlers{
		Client:  assistant.NewClient(cfg.BaseURL, cfg.RequestTimeout),
		Session: src,
	}
	opts := []commands.Option{commands.WithDefaults(commands.Defaults{
		Model:         cfg.DefaultModel,
		SystemMessage: cfg.DefaultSystemMessage,
	})}
	if cfg.AllowEvaluate {
		logx.Log.Warn().Msg("evaluate command enabled; the controller can run arbitrary scripts")
		opts = append(opts, commands.WithEvaluator(&evaluate.Evaluator{Timeout: cfg.EvaluateTimeout, Session: src}))
	}
	reg, err := commands.NewRegistry(handlers, opts...)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("command registry")
	}
	m := bridge.New(cfg.ControllerURL, reg,
		bridge.WithReconnectDelay(cfg.ReconnectDelay),
		bridge.WithClientName(cfg.ClientName),
	)

	if cfg.StatusAddr != "" {
		addr, err := bridge.StartStatusServer(ctx, cfg.StatusAddr, m)
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("status server")
		}
		logx.Log.Info().Str("addr", addr).Msg("status server started")
	}
	if cfg.MetricsAddr != "" {
		addr, err := bridge.StartMetricsServer(ctx, cfg.MetricsAddr)
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("metrics server")
		}
		logx.Log.Info().Str("addr", addr).Msg("metrics server started")
	}

	logx.Log.Info().Str("client", cfg.ClientName).Str("controller", cfg.ControllerURL).Strs("commands", m.Commands()).Msg("bridge starting")
	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logx.Log.Fatal().Err(err).Msg("bridge exited")
	}
}
