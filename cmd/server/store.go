package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/linnemanlabs/go-core/log"

	vc "github.com/linnemanlabs/carebridge/internal/cfg"
	"github.com/linnemanlabs/carebridge/internal/postgres"
	"github.com/linnemanlabs/carebridge/internal/triage"
	"github.com/linnemanlabs/carebridge/internal/triage/memstore"
	"github.com/linnemanlabs/carebridge/internal/triage/pgstore"
	"github.com/linnemanlabs/carebridge/internal/triage/sqlitestore"
)

// caseStore is the opened store medium. pool is set only for postgres and is
// shared with the sync bridge.
type caseStore struct {
	triage.Store
	kind  string
	pool  *pgxpool.Pool
	close func()
}

// openStore opens the medium selected by appCfg.
func openStore(ctx context.Context, appCfg *vc.Config, L log.Logger) (*caseStore, error) {
	switch kind := appCfg.StoreKind(); kind {
	case vc.StorePostgres:
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		pgStore, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres store")
		return &caseStore{Store: pgStore, kind: kind, pool: pool, close: pool.Close}, nil

	case vc.StoreSQLite:
		sqlStore, err := sqlitestore.New(ctx, appCfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore init: %w", err)
		}
		L.Info(ctx, "using sqlite store", "path", appCfg.SQLitePath)
		return &caseStore{Store: sqlStore, kind: kind, close: func() {
			if err := sqlStore.Close(); err != nil {
				L.Error(context.Background(), err, "close sqlite store")
			}
		}}, nil

	default:
		L.Info(ctx, "using in-memory store (no database-url or sqlite-path configured)")
		return &caseStore{Store: memstore.New(), kind: kind, close: func() {}}, nil
	}
}
