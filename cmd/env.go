package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxonomy-cli/internal/engine"
	"github.com/sells-group/taxonomy-cli/internal/graph"
	"github.com/sells-group/taxonomy-cli/internal/store"
)

// appEnv holds the store, engine and optional graph backends used by every
// command. Callers should defer env.Close().
type appEnv struct {
	Store    store.Store
	Service  *engine.Service
	Redis    *graph.RedisCache    // may be nil
	Exporter *graph.Neo4jExporter // may be nil
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Exporter != nil {
		_ = e.Exporter.Close(context.Background())
	}
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		st, err := store.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv validates cfg for mode, opens and migrates the store, and builds
// the engine. Redis and Neo4j are wired in when configured.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var opts []engine.Option
	if cfg.Graph.Redis.Addr != "" {
		rc, err := graph.NewRedisCache(ctx, cfg.Graph.Redis)
		if err != nil {
			// The engine still works without a shared cache.
			zap.L().Warn("redis graph cache unavailable, using in-process cache", zap.Error(err))
		} else {
			env.Redis = rc
			opts = append(opts, engine.WithGraphCache(rc))
		}
	}
	if env.Redis == nil {
		opts = append(opts, engine.WithGraphCache(graph.NewMemoryCache(cfg.Graph.CacheTTL)))
	}

	x, err := graph.NewNeo4jExporter(ctx, cfg.Neo4j)
	if err != nil {
		env.Close()
		return nil, err
	}
	if x != nil {
		env.Exporter = x
		opts = append(opts, engine.WithExporter(x))
	}

	env.Service = engine.New(st, cfg.EngineConfig(), opts...)
	return env, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
