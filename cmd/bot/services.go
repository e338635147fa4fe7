package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ai-relay-bot/internal/backend"
	"ai-relay-bot/internal/config"
	"ai-relay-bot/internal/service"
	"ai-relay-bot/internal/storage"
)

// persistTimeout bounds a single backend write, including its dead letter fallback
const persistTimeout = 30 * time.Second

// services holds the provider clients and the pipeline built from the config
type services struct {
	backend      *backend.Client
	recorder     *service.Recorder
	ollama       *service.OllamaServer
	sessions     *service.SessionRegistry
	hosted       *service.HostedClient
	orchestrator *service.Orchestrator
	quoter       service.PriceQuoter
}

// openStore initializes the dead letter store selected by STORAGE_DRIVER.
// It returns nil when failed writes are not kept.
func openStore(ctx context.Context, cfg *config.Config) (storage.DeadLetterStore, error) {
	var store storage.DeadLetterStore
	switch cfg.StorageDriver {
	case config.StorageDriverNone:
		return nil, nil
	case config.StorageDriverSQLite:
		store = storage.NewSQLiteStore(cfg.DatabasePath)
	case config.StorageDriverMySQL:
		store = storage.NewMySQLStore(storage.MySQLConfig(cfg.MySQL))
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}

	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func newServices(cfg *config.Config, store storage.DeadLetterStore, logger *slog.Logger) *services {
	openAI := service.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Timeout: cfg.ProviderTimeout,
	}

	backendClient := backend.NewClient(cfg.BackendAPIURL, cfg.BackendAPIKey, cfg.ProviderTimeout, logger)

	var deadLetters service.DeadLetterSink
	if store != nil {
		deadLetters = store
	}
	recorder := service.NewRecorder(backendClient, deadLetters, persistTimeout, logger)

	hosted := service.NewHostedClient(service.HostedConfig{
		OpenAIConfig: openAI,
		Model:        cfg.OpenAIModel,
		MaxTokens:    cfg.OpenAIMaxTokens,
	}, logger)

	ollama := service.NewOllamaServer(cfg.OllamaServer, cfg.OllamaModel, cfg.ProviderTimeout, logger)
	sessions := service.NewSessionRegistry(ollama, cfg.SessionIdleTimeout, logger)

	hostedRoute := service.Route{
		Provider:     service.StaticResolver{Client: hosted},
		DefaultModel: cfg.OpenAIModel,
	}

	orchestrator := service.NewOrchestrator(service.OrchestratorDeps{
		Routes: map[service.Kind]service.Route{
			service.KindAsk:    hostedRoute,
			service.KindRecipe: hostedRoute,
			service.KindChat: {
				Provider:      sessions,
				AllowedModels: cfg.OllamaSupportedModels,
				DefaultModel:  cfg.OllamaModel,
				Health:        ollama,
			},
		},
		Moderator: service.NewModerator(openAI, cfg.ModerationModel, logger),
		Images: service.NewImageClient(service.ImageConfig{
			OpenAIConfig: openAI,
			Model:        cfg.ImageModel,
			Size:         cfg.ImageSize,
			Quality:      cfg.ImageQuality,
		}, logger),
		Speech:   service.NewSpeechClient(cfg.VisionBrainAPIURL, cfg.VisionBrainAPIKey, cfg.ProviderTimeout, logger),
		Recorder: recorder,
		Logger:   logger,
	})

	var quoter service.PriceQuoter
	if cfg.CryptoEnabled() {
		quoter = service.NewCryptoClient(cfg.CMCAPIURL, cfg.CMCAPIKey, cfg.ProviderTimeout, logger)
	}

	return &services{
		backend:      backendClient,
		recorder:     recorder,
		ollama:       ollama,
		sessions:     sessions,
		hosted:       hosted,
		orchestrator: orchestrator,
		quoter:       quoter,
	}
}
