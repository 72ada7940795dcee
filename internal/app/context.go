package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/datallboy/packman/internal/catalog"
	"github.com/datallboy/packman/internal/diskspace"
	"github.com/datallboy/packman/internal/domain"
	"github.com/datallboy/packman/internal/engine"
	"github.com/datallboy/packman/internal/fetch"
	"github.com/datallboy/packman/internal/infra/config"
	"github.com/datallboy/packman/internal/infra/logger"
	"github.com/datallboy/packman/internal/installer"
	"github.com/datallboy/packman/internal/netpolicy"
	"github.com/datallboy/packman/internal/store"
	"github.com/datallboy/packman/internal/verify"
)

// History is the read side of the session journal.
type History interface {
	ListHistory(ctx context.Context, packID string, limit int) ([]domain.SessionRecord, error)
}

// Context holds the core environment and shared resources for packman.
// The CLI and the API both work through it.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	Store   *store.PersistentStore
	Catalog catalog.Source
	Manager *engine.Manager
	History History
}

// NewContext opens the database, builds the engine and loads nothing yet.
// Call LoadCatalog before using the Manager.
func NewContext(cfg *config.Config, log *logger.Logger) (*Context, error) {
	for _, dir := range []string{cfg.DataDir, cfg.TempDir(), cfg.PacksDir(), cfg.StagingDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	db, err := store.NewPersistentStore(cfg.Store.SQLitePath)
	if err != nil {
		return nil, err
	}

	inst := installer.New(cfg.PacksDir(), cfg.StagingDir(), domain.SystemClock{})
	// Leftovers of an install that was interrupted by a crash
	if err := inst.CleanStaging(); err != nil {
		log.Warn("Could not clean staging directory: %v", err)
	}

	prefs := domain.DownloadPreferences{
		WiFiOnly:               cfg.Download.WiFiOnly,
		LargeDownloadThreshold: cfg.Download.LargeDownloadThreshold,
		AllowLargeDownloads:    cfg.Download.AllowLargeDownloads,
	}
	probe := netpolicy.TCPProbe{
		Addr:      cfg.Network.ProbeAddr,
		Timeout:   cfg.Network.ProbeTimeout,
		IsMetered: cfg.Network.Metered,
	}

	mgr := engine.NewManager(engine.Deps{
		Fetcher:   fetch.New(),
		Verifier:  verify.New(),
		Installer: inst,
		Space:     diskspace.NewGuard(diskspace.DiskStats{}, cfg.DataDir),
		Network:   netpolicy.New(probe, prefs),
		Parts:     engine.NewPartFiles(cfg.TempDir()),
		Journal:   db,
		Logger:    log,
		Options: engine.Options{
			Retries:          cfg.Download.Retries,
			Backoff:          cfg.Download.Backoff,
			ProgressInterval: cfg.Download.ProgressInterval,
			ChunkSize:        cfg.Download.ChunkSize,
		},
	})

	return &Context{
		Config:  cfg,
		Logger:  log,
		Store:   db,
		Catalog: newCatalogSource(cfg, db, log),
		Manager: mgr,
		History: db,
	}, nil
}

func newCatalogSource(cfg *config.Config, cache catalog.Cache, log *logger.Logger) catalog.Source {
	var upstream catalog.Source
	if cfg.Catalog.URL != "" {
		upstream = catalog.NewHTTPSource(cfg.Catalog.URL, log)
	} else {
		upstream = catalog.NewFileSource(cfg.Catalog.Path, log)
	}
	return catalog.NewCachedSource(upstream, cache, log)
}

// LoadCatalog refreshes the catalog and rebuilds pack states from disk.
func (a *Context) LoadCatalog(ctx context.Context) error {
	packs, err := a.Catalog.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	a.Manager.SetCatalog(packs)
	a.Logger.Info("Loaded %d pack(s) from %s", len(packs), a.Catalog.Name())

	return a.Manager.Reconcile(ctx)
}

// Close stops every live session, leaving it paused, then closes the database.
func (a *Context) Close() error {
	a.Manager.Close()

	var errs []error
	if err := a.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	a.Logger.Sync()
	return errors.Join(errs...)
}
