package memory

import (
	"context"
	"fmt"
	"strings"
)

// StoreConfig selects and configures a Repository backend.
type StoreConfig struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
}

// NewStore creates the configured backend. With no explicit driver it creates a
// postgres-backed store when a database URL is set, otherwise in-memory.
func NewStore(ctx context.Context, cfg StoreConfig) (Repository, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "auto" {
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			driver = "memory"
		} else {
			driver = "postgres"
		}
	}

	switch driver {
	case "memory", "inmemory":
		return NewInMemoryStore(), nil
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("postgres store requires DATABASE_URL")
		}
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	case "sqlite":
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return nil, fmt.Errorf("sqlite store requires SQLITE_PATH")
		}
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}
