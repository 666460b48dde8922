package storage

import (
	"fmt"
	"strings"

	"famcomp/pkg/logx"
)

// DefaultPath is used when the file driver has no path configured.
const DefaultPath = "./famcomp_data/state.json"

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = DefaultPath
		if driver == "sqlite" || driver == "sqlite3" {
			cfg.Path = "./famcomp_data/famcomp.db"
		}
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
