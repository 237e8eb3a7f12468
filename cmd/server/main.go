// Package main provides the entry point for the sector deliberation
// engine server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/sector-deliberation-engine/internal/api"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/config"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/oracle"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/orchestrator"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/store"
	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

func main() {
	configFile := flag.String("config", "", "Optional config file (yaml/json) overlaying defaults")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("starting sector deliberation engine",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("dataDir", cfg.Store.DataDir),
		zap.Bool("useLlm", cfg.UseLLM),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.NewKeyedStore(logger, cfg.Store.DataDir)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.Error(err))
	}
	if err := seedUserAccount(st); err != nil {
		logger.Fatal("failed to seed user account", zap.Error(err))
	}

	// RuleOracle is the only ProposalOracle implementation this engine
	// ships; cfg.UseLLM is carried through config/env for a future
	// LLM-backed oracle but has no effect today (see DESIGN.md).
	oc := oracle.NewRuleOracle()

	orch := orchestrator.New(logger, st, oc, cfg)
	server := api.New(logger, st, orch, cfg.Server)

	go func() {
		if err := orch.Run(ctx); err != nil {
			logger.Error("orchestrator stopped with error", zap.Error(err))
		}
	}()

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server stopped with error", zap.Error(err))
		}
	}()

	logger.Info("server started successfully",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// seedUserAccount ensures the external wallet collection has exactly
// one account, created with a balance of 1,000,000 on first run.
func seedUserAccount(st *store.KeyedStore) error {
	accounts, err := store.List[types.UserAccount](st, store.CollectionUserAccount)
	if err != nil {
		return err
	}
	if len(accounts) > 0 {
		return nil
	}
	_, err = store.Upsert(st, store.CollectionUserAccount, types.UserAccount{
		ID:        "default",
		Balance:   decimal.NewFromInt(1000000),
		UpdatedAt: time.Now(),
	})
	return err
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
