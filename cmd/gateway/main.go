// Command gateway is the sovereignty-gateway HTTP front-end: it loads
// configuration, builds the resilience core (registry, circuit breakers,
// health monitor, router, reload manager, heal worker), and serves the
// /api/v1 surface httpapi.NewMux defines. There is no database behind
// it, only the file-backed reload.Store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sovereign-gateway/scri/config"
	"github.com/sovereign-gateway/scri/internal/telemetry"
)

// Exit codes: 0 normal shutdown, then one per startup-failure kind.
const (
	exitOK           = 0
	exitConfigParse  = 2
	exitBind         = 3
	exitProviderInit = 4
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitConfigParse)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(runServe(os.Args[2:]))
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(exitConfigParse)
	}
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to TOML config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitConfigParse
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting sovereignty gateway",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("telemetry init failed, continuing without it", zap.Error(err))
	}
	if otelProviders != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelProviders.Shutdown(ctx); err != nil {
				logger.Warn("telemetry shutdown failed", zap.Error(err))
			}
		}()
	}

	gw, err := NewGateway(cfg, logger)
	if err != nil {
		logger.Error("provider init failed", zap.Error(err))
		return exitProviderInit
	}

	if err := gw.Start(); err != nil {
		logger.Error("failed to bind HTTP server", zap.Error(err))
		return exitBind
	}

	gw.WaitForShutdown()
	logger.Info("sovereignty gateway stopped")
	return exitOK
}

func printVersion() {
	fmt.Printf("sovereignty-gateway %s\n", Version)
	fmt.Printf("  build time: %s\n", BuildTime)
	fmt.Printf("  git commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`sovereignty-gateway - normalized multi-provider LLM gateway

Usage:
  gateway <command> [options]

Commands:
  serve     Start the gateway HTTP server
  version   Show version information
  help      Show this help message

Options for 'serve':
  --config <path>   Path to TOML configuration file

Examples:
  gateway serve
  gateway serve --config /etc/sovereign-gateway/config.toml
  gateway version`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := cfg.Format
	if encoding == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoding = "json"
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
