package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/localchat/internal/config"
	"github.com/capitalize-ai/localchat/internal/coordinator"
	"github.com/capitalize-ai/localchat/internal/events"
	"github.com/capitalize-ai/localchat/internal/llm"
	"github.com/capitalize-ai/localchat/internal/store"
	"github.com/capitalize-ai/localchat/pkg/logger"
)

// app wires the store, the inference backend and the coordinator.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	store   *store.Store
	llm     llm.Client
	catalog *llm.Catalog
	bus     *events.Bus
	coord   *coordinator.Coordinator
}

func newApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	st, err := store.Open(cfg.DBPath, log)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClient(llm.Provider(cfg.LLMProvider), llm.Options{
		OllamaHost:      cfg.OllamaHost,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	catalog := llm.NewCatalog(client, cfg.ModelCacheTTL)
	bus := events.NewBus(log)

	coord, err := coordinator.New(coordinator.Deps{
		Store:   st,
		LLM:     client,
		Catalog: catalog,
		Bus:     bus,
		Log:     log,
	}, coordinator.Config{
		DefaultModel:     cfg.DefaultModel,
		ChunkSize:        cfg.StreamChunkSize,
		TitleTemperature: cfg.TitleTemperature,
		TitleTimeout:     cfg.TitleTimeout,
	})
	if err != nil {
		_ = bus.Close()
		_ = st.Close()
		return nil, err
	}

	log.Info("llm backend ready", zap.String("provider", client.Name()))

	return &app{
		cfg:     cfg,
		log:     log,
		store:   st,
		llm:     client,
		catalog: catalog,
		bus:     bus,
		coord:   coord,
	}, nil
}

// close stops the coordinator, then the bus and the store. The coordinator's
// consumer must still be running while it closes.
func (a *app) close(ctx context.Context) error {
	err := a.coord.Close(ctx)
	if berr := a.bus.Close(); berr != nil && err == nil {
		err = berr
	}
	if serr := a.store.Close(); serr != nil && err == nil {
		err = serr
	}
	return err
}
