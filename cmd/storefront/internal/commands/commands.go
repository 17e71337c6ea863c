package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/storefront/internal/auth"
	"github.com/wolfeidau/storefront/internal/catalog"
	"github.com/wolfeidau/storefront/internal/client"
	"github.com/wolfeidau/storefront/internal/logger"
	"github.com/wolfeidau/storefront/internal/session"
	"github.com/wolfeidau/storefront/internal/state"
	"github.com/wolfeidau/storefront/internal/storage"
	"github.com/wolfeidau/storefront/internal/telemetry"
)

type Globals struct {
	Debug    bool
	Version  string
	APIURL   string
	StateDir string
	NoCache  bool
	Tracing  bool

	// Out receives command output, stdout when nil.
	Out io.Writer
}

func (g *Globals) out() io.Writer {
	if g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

// app is everything a command needs, wired from the global flags.
type app struct {
	log        zerolog.Logger
	storage    *storage.FileStorage
	store      *session.Store
	controller *state.Controller
	fetcher    *catalog.Fetcher
	shutdown   telemetry.ShutdownFunc
}

func (g *Globals) setup(ctx context.Context, notifier state.Notifier) (*app, error) {
	log.Logger = logger.Setup(g.Debug)
	a := &app{
		log:      log.Logger,
		shutdown: func(context.Context) error { return nil },
	}

	if g.Tracing {
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "storefront",
			Version:     g.Version,
			SampleRatio: 1,
		})
		if err != nil {
			a.log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
		} else {
			a.shutdown = shutdown
		}
	}

	fs, err := storage.NewFileStorage(g.StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state directory: %w", err)
	}
	a.storage = fs
	a.store = session.NewStore(fs)

	config := client.DefaultConfig()
	if g.APIURL != "" {
		config.ServerURL = g.APIURL
	}
	config.Debug = g.Debug
	if !g.NoCache {
		config.CacheDir = filepath.Join(filepath.Dir(fs.Path()), "cache")
	}

	apiClient, err := client.New(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	a.controller = state.New(a.store, auth.NewGateway(apiClient, a.store), notifier)
	a.fetcher = catalog.NewFetcher(apiClient, a.store)

	a.controller.Init(ctx)

	return a, nil
}

func (a *app) close() {
	a.controller.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.log.Error().Err(err).Msg("Failed to shutdown telemetry")
	}
}
