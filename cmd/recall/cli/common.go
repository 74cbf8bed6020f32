package cli

import (
	"fmt"
	"os"

	"github.com/felixgeelhaar/recall/internal/agent"
	"github.com/felixgeelhaar/recall/internal/config"
	"github.com/felixgeelhaar/recall/internal/credential"
	"github.com/felixgeelhaar/recall/internal/guard"
	"github.com/felixgeelhaar/recall/internal/memory"
	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/felixgeelhaar/recall/internal/provider"
	"github.com/felixgeelhaar/recall/internal/runlog"
	"github.com/felixgeelhaar/recall/internal/service"
	"github.com/felixgeelhaar/recall/internal/store"
	"github.com/felixgeelhaar/recall/internal/vector"
)

// app wires the full stack once per command invocation.
type app struct {
	Config   config.Config
	Store    store.Storage
	Service  *service.Service
	Observer *observe.Observer
}

func newApp() *app {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if providerType != "" {
		cfg.Provider = providerType
	}
	if modelName != "" {
		cfg.Model = modelName
	}

	var obs *observe.Observer
	if ciMode {
		obs = observe.NewJSON(os.Stderr, verbose)
	} else {
		obs = observe.New(os.Stderr, verbose)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		obs.Log().Fatal().Err(err).Msg("Failed to create data dir")
	}

	storage, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		obs.Log().Fatal().Err(err).Msg("Failed to init store")
	}

	index, err := vectorIndex(cfg)
	if err != nil {
		obs.Log().Fatal().Err(err).Msg("Failed to init vector index")
	}

	p, err := buildProvider(cfg, storage)
	if err != nil {
		obs.Log().Fatal().Err(err).Msg("Failed to initialize provider")
	}

	mem := memory.New(storage, index, p, cfg.DedupDistance)
	sink := runlog.NewSink(cfg.RunLogMaxBytes)
	loop := agent.NewLoop(agent.LoopConfig{
		Store:       storage,
		Memory:      mem,
		Provider:    p,
		Policy:      guard.Policy{MaxSteps: cfg.MaxSteps, AllowedTools: guard.DefaultPolicy.AllowedTools},
		Sink:        sink,
		Observer:    obs,
		ContextTail: cfg.ContextTail,
		MemoryHits:  cfg.MemoryHits,
	})

	return &app{
		Config:   cfg,
		Store:    storage,
		Service:  service.New(storage, mem, loop, sink, obs),
		Observer: obs,
	}
}

func (a *app) Close() {
	if a.Store != nil {
		_ = a.Store.Close()
	}
	a.Observer.Close()
}

func vectorIndex(cfg config.Config) (*vector.Index, error) {
	return vector.New(cfg.VectorPath(), cfg.EmbedDim)
}

func buildProvider(cfg config.Config, s store.Storage) (provider.Provider, error) {
	creds, err := credential.NewManager()
	if err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "ollama":
		return provider.NewOllamaProvider(cfg.Model, cfg.EmbedModel)
	case "openai":
		apiKey, _ := creds.LoadKey(s, "openai")
		baseURL, _ := s.GetConfig("openai.base_url")
		return provider.NewOpenAIProvider(apiKey, baseURL, cfg.Model)
	case "gemini":
		apiKey, _ := creds.LoadKey(s, "gemini")
		return provider.NewGeminiProvider(apiKey, cfg.Model)
	case "anthropic":
		apiKey, _ := creds.LoadKey(s, "anthropic")
		return provider.NewAnthropicProvider(apiKey, cfg.Model)
	case "stub":
		return provider.NewStubProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}
