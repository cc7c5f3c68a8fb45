package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/synaptica-ai/reporting/pkg/common/config"
	"github.com/synaptica-ai/reporting/pkg/common/database"
	"github.com/synaptica-ai/reporting/pkg/common/logger"
	"github.com/synaptica-ai/reporting/pkg/terminology"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Backend is an opened population store plus the database that holds the
// service's own tables (saved definitions, materializations).
type Backend struct {
	Store  Store
	DB     *gorm.DB
	Driver string
}

// Open selects the store from cfg.StoreDriver. SQLite and memory backends are
// loaded from cfg.SnapshotPath when set; the memory backend keeps its service
// tables in an in-memory SQLite database.
func Open(ctx context.Context, cfg *config.Config, cat terminology.Catalog) (*Backend, error) {
	switch cfg.StoreDriver {
	case DriverPostgres, "":
		db, err := database.GetPostgres()
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return &Backend{Store: NewSQLStore(db, WithReadOnlyQueries(cfg.StoreReadOnly)), DB: db, Driver: DriverPostgres}, nil

	case DriverSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		store := NewSQLStore(db, WithReadOnlyQueries(cfg.StoreReadOnly))
		if err := prepareSQLite(ctx, store, cfg.SnapshotPath, cat); err != nil {
			_ = database.Close(db)
			return nil, err
		}
		return &Backend{Store: store, DB: db, Driver: DriverSQLite}, nil

	case DriverMemory:
		snap := &Snapshot{}
		if cfg.SnapshotPath != "" {
			loaded, err := LoadSnapshot(cfg.SnapshotPath)
			if err != nil {
				return nil, err
			}
			snap = loaded
		}
		db, err := database.OpenSQLite(":memory:")
		if err != nil {
			return nil, err
		}
		logger.Log.WithFields(map[string]interface{}{
			"people":   len(snap.People),
			"snapshot": cfg.SnapshotPath,
		}).Info("Loaded population into memory store")
		return &Backend{Store: NewMemoryStore(snap, WithCatalog(cat)), DB: db, Driver: DriverMemory}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func prepareSQLite(ctx context.Context, store *SQLStore, snapshotPath string, cat terminology.Catalog) error {
	if err := store.AutoMigrate(); err != nil {
		return fmt.Errorf("migrate population tables: %w", err)
	}
	if snapshotPath != "" {
		snap, err := LoadSnapshot(snapshotPath)
		if err != nil {
			return err
		}
		if err := store.Seed(ctx, snap); err != nil {
			return fmt.Errorf("seed snapshot: %w", err)
		}
	}
	return store.SeedConceptSets(ctx, cat.SetMembers())
}

func (b *Backend) Close() error {
	if b.Driver == DriverPostgres {
		return database.ClosePostgres()
	}
	return database.Close(b.DB)
}
