package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/config"
	"github.com/sells-group/lead-intake/internal/ingest"
	"github.com/sells-group/lead-intake/internal/scorer"
	"github.com/sells-group/lead-intake/internal/store"
	anthropicpkg "github.com/sells-group/lead-intake/pkg/anthropic"
)

// appEnv holds the long-lived dependencies shared by serve, rescore and ingest.
type appEnv struct {
	Store  store.Store
	Scorer *scorer.Scorer
	Ingest *ingest.Service
}

// Close waits for detached scoring and closes the store.
func (e *appEnv) Close() {
	if e.Ingest != nil {
		e.Ingest.Wait()
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

// initEnv wires store, scorer and ingest service. Config is validated by
// the root pre-run before any subcommand gets here.
func initEnv(ctx context.Context, c *config.Config) (*appEnv, error) {
	st, err := initStore(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	profiles, err := scorer.LoadProfiles(c.Scoring.ProfilesPath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	sc := scorer.New(initAnthropic(c), c.Anthropic, c.Scoring, profiles)
	svc := ingest.NewService(st, sc, ingest.Options{
		CountryCode:  c.Normalize.DefaultCountryCode,
		ScoreTimeout: time.Duration(c.Scoring.DetachedTimeout) * time.Second,
	})

	return &appEnv{Store: st, Scorer: sc, Ingest: svc}, nil
}

// initAnthropic returns nil when no key is configured, which leaves the
// scorer on the heuristic.
func initAnthropic(c *config.Config) anthropicpkg.Client {
	if c.Anthropic.Key == "" || c.Scoring.Disabled {
		zap.L().Warn("LEADS_ANTHROPIC_KEY not set or scoring disabled, using heuristic scoring only")
		return nil
	}
	var opts []anthropicpkg.Option
	if c.Anthropic.BaseURL != "" {
		opts = append(opts, anthropicpkg.WithBaseURL(c.Anthropic.BaseURL))
	}
	return anthropicpkg.NewClient(c.Anthropic.Key, opts...)
}

func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		st, err := store.NewSQLite(sc.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}
