package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/crmai/internal/chat"
	"github.com/kalambet/crmai/internal/composer"
	"github.com/kalambet/crmai/internal/config"
	"github.com/kalambet/crmai/internal/crm"
	"github.com/kalambet/crmai/internal/ollama"
	"github.com/kalambet/crmai/internal/prediction"
	"github.com/kalambet/crmai/internal/renewal"
	"github.com/kalambet/crmai/internal/snapshot"
	"github.com/kalambet/crmai/internal/storage"
)

// services is the wired application graph shared by the HTTP and MCP servers.
type services struct {
	ollama     *ollama.Client
	aggregator *snapshot.Aggregator
	chat       *chat.Orchestrator
	prediction *prediction.Service
}

func buildServices(cfg config.Config, store *storage.Store) services {
	crmClient := crm.NewAPI(cfg.Backend.BaseURL,
		crm.WithToken(cfg.Backend.Token),
		crm.WithTimeouts(cfg.Backend.Timeout, cfg.Backend.TrainTimeout),
	)
	agg := snapshot.NewAggregator(crmClient, cfg.Backend.Timeout)
	llm := ollama.New(cfg.Ollama.BaseURL, ollama.WithGenerateTimeout(cfg.Ollama.Timeout))

	var chatOpts []chat.Option
	var predOpts []prediction.Option
	if store != nil {
		chatOpts = append(chatOpts, chat.WithRecorder(store))
		predOpts = append(predOpts, prediction.WithRecorder(store))
	}

	model := renewal.NewModel(
		renewal.WithTrees(cfg.Model.Trees),
		renewal.WithSeed(uint64(cfg.Model.Seed)),
	)

	return services{
		ollama:     llm,
		aggregator: agg,
		chat: chat.New(agg, composer.New(cfg.Chat.Language, cfg.Chat.Currency), llm, cfg.Ollama.Model,
			chatOpts...),
		prediction: prediction.NewService(crmClient, model, predOpts...),
	}
}

// setupLogging installs a text slog handler on stderr as the default logger.
func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}
