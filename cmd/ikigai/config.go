package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mgreenly/ikigai-sub009/internal/config"
	"github.com/mgreenly/ikigai-sub009/internal/provider"
	"github.com/mgreenly/ikigai-sub009/internal/store"
)

// resolveConfigPath mirrors the teacher's resolveConfigPath: an explicit
// --config flag wins, otherwise config.Load is handed an empty string and
// falls back entirely to environment variables and defaults (spec.md §6).
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return ""
}

// openStore constructs the EventStore cfg.Database.Backend names, grounded
// on the teacher's per-backend switch in cmd/nexus/config.go.
func openStore(cfg *config.Config) (store.EventStore, error) {
	switch cfg.Database.Backend {
	case config.StoreMemory, "":
		return store.NewMemory(), nil
	case config.StoreSQLite:
		path := cfg.Database.SQLite
		if path == "" {
			path = filepath.Join(cfg.RuntimeDir, "ikigai.db")
		}
		return store.NewSQLite(path)
	case config.StorePostgres:
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s sslmode=disable",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, cfg.Database.User)
		pgCfg := store.DefaultPostgresConfig()
		pgCfg.DSN = dsn
		return store.NewPostgres(pgCfg)
	default:
		return nil, fmt.Errorf("config: unknown database backend %q", cfg.Database.Backend)
	}
}

// newAdapterFactory returns a session.AdapterFactory that builds one
// Anthropic or OpenAI provider.Adapter per agent, per cfg.Provider.Default,
// reading API keys from the environment the way the teacher's provider
// construction does (internal/agent/providers.go): credentials are never a
// YAML field.
func newAdapterFactory(cfg *config.Config) func(agentID string) provider.Adapter {
	return func(agentID string) provider.Adapter {
		switch cfg.Provider.Default {
		case "openai":
			return provider.NewOpenAI(provider.OpenAIConfig{
				APIKey:       os.Getenv("OPENAI_API_KEY"),
				DefaultModel: cfg.Provider.Model,
			})
		default:
			return provider.NewAnthropic(provider.AnthropicConfig{
				APIKey:       os.Getenv("ANTHROPIC_API_KEY"),
				DefaultModel: cfg.Provider.Model,
			})
		}
	}
}

func defaultRuntimeDir(cfg *config.Config) string {
	if cfg.RuntimeDir != "" {
		return cfg.RuntimeDir
	}
	return os.TempDir()
}
