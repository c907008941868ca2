package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nexuslabs/nexus/internal/config"
	"github.com/nexuslabs/nexus/internal/logger"
	"github.com/nexuslabs/nexus/internal/metrics"
	"github.com/nexuslabs/nexus/pkg/authz"
	"github.com/nexuslabs/nexus/pkg/backend"
	"github.com/nexuslabs/nexus/pkg/consistency"
	"github.com/nexuslabs/nexus/pkg/diskcache"
	"github.com/nexuslabs/nexus/pkg/eventlog"
	"github.com/nexuslabs/nexus/pkg/leopard"
	"github.com/nexuslabs/nexus/pkg/nsconfig"
	"github.com/nexuslabs/nexus/pkg/permcache"
	"github.com/nexuslabs/nexus/pkg/queryexpansion"
	"github.com/nexuslabs/nexus/pkg/sharelink"
	"github.com/nexuslabs/nexus/pkg/snapshot"
	"github.com/nexuslabs/nexus/pkg/subscription"
	"github.com/nexuslabs/nexus/pkg/syncpipe"
	tuplestore "github.com/nexuslabs/nexus/pkg/tuple/store"
	"github.com/nexuslabs/nexus/pkg/upload"
	"github.com/nexuslabs/nexus/pkg/zone"
)

// maintenanceInterval sets how often the composition root sweeps expired
// tuples and upload sessions. Neither subsystem runs its own background
// ticker; expiry sweeps are invoked lazily (per-call) or by whatever
// long-running process embeds them, which here is this one.
const maintenanceInterval = 5 * time.Minute

// App holds every CORE component the composition root wires together. Its
// fields are the ones a caller embedding Nexus as a library reaches for:
// AuthzChecker to run a permission check, UploadService/ShareLinkService
// to drive those flows, EventLog to append a mutation.
type App struct {
	cfg *config.Config

	tupleStore   *tuplestore.GORMStore
	badgerTable  *leopard.BadgerTable // non-nil only when Leopard.Backend is "badger"
	leopardIndex *leopard.Index
	permCache    *permcache.Cache
	diskCache    *diskcache.Cache
	backend      backend.Backend

	AuthzChecker *authz.Checker

	UploadService    *upload.Service
	ShareLinkService *sharelink.Service

	// SnapshotStore and SyncPipeStore are fully wired; the Service/Pipeline
	// built on top of them each need a collaborator (snapshot.Filesystem,
	// syncpipe.Connector) that belongs to whatever holds a concrete
	// virtual-filesystem tree or remote connection, not this composition
	// root. Callers construct snapshot.NewService/syncpipe.NewPipeline
	// themselves, passing these stores plus their own Filesystem/Connector
	// and, for the pipeline, syncpipe.WithDiskCache(app.diskCache) and
	// syncpipe.WithMetrics(app.metrics) to share this process's cache and
	// collectors.
	SnapshotStore *snapshot.Store
	SyncPipeStore *syncpipe.GormStore

	QueryExpansion *queryexpansion.Service

	SubscriptionMgr *subscription.Manager
	EventLog        eventlog.Writer

	metrics       *metrics.Metrics
	metricsServer *http.Server
}

func newApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{cfg: cfg, metrics: metrics.New()}

	consistMgr := consistency.NewManager()
	zoneMgr := zone.NewManager(cfg.Zone.EnforceIsolation, cfg.Zone.CrossZoneRelations...)

	tupleStore, err := tuplestore.Open(cfg.TupleStore, consistMgr, zoneMgr)
	if err != nil {
		return nil, fmt.Errorf("open tuple store: %w", err)
	}
	app.tupleStore = tupleStore

	var table leopard.Table
	switch cfg.Leopard.Backend {
	case "badger":
		bt, err := leopard.OpenBadgerTable(cfg.Leopard.BadgerDir)
		if err != nil {
			return nil, fmt.Errorf("open leopard badger table: %w", err)
		}
		app.badgerTable = bt
		table = bt
	default:
		table = leopard.NewMemoryTable()
	}
	app.leopardIndex = leopard.NewIndex(table, tupleStore, cfg.Leopard.MaxSize)

	bitmap := permcache.NewReverseIndex()
	permCache, err := permcache.New(cfg.PermCache, bitmap)
	if err != nil {
		return nil, fmt.Errorf("open permission cache: %w", err)
	}
	app.permCache = permCache

	diskCache, err := diskcache.Open(cfg.DiskCache)
	if err != nil {
		return nil, fmt.Errorf("open disk cache: %w", err)
	}
	app.diskCache = diskCache

	// The tuple store notifies the permission cache to invalidate stale
	// results and the Leopard index to maintain its transitive-closure
	// cache incrementally, on every write/delete (spec §4.3, §4.5).
	tupleStore.SetInvalidator(permCache)
	tupleStore.SetMembershipHook(app.leopardIndex)

	back, err := newBackend(ctx, cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}
	app.backend = back

	nsCfg := nsconfig.NewConfig(nsconfig.DefaultFileConfig(), nsconfig.DefaultGroupConfig())
	app.AuthzChecker = authz.NewChecker(tupleStore, nsCfg, zoneMgr,
		authz.WithClosure(app.leopardIndex),
		authz.WithCache(permCache),
		authz.WithMetrics(app.metrics),
		authz.WithLimits(cfg.Authz),
		authz.WithLogger(logger.With("component", "authz")),
	)

	uploadStore, err := upload.OpenStore(cfg.UploadStore)
	if err != nil {
		return nil, fmt.Errorf("open upload store: %w", err)
	}
	app.UploadService = upload.NewService(uploadStore, back, cfg.Upload)

	shareLinkStore, err := sharelink.OpenStore(cfg.ShareLink)
	if err != nil {
		return nil, fmt.Errorf("open sharelink store: %w", err)
	}
	app.ShareLinkService = sharelink.NewService(shareLinkStore, app.AuthzChecker, cfg.ShareLinkToken, true)

	snapshotStore, err := snapshot.OpenStore(cfg.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	app.SnapshotStore = snapshotStore

	syncPipeStore, err := syncpipe.OpenStore(cfg.SyncPipeStore)
	if err != nil {
		return nil, fmt.Errorf("open syncpipe store: %w", err)
	}
	app.SyncPipeStore = syncPipeStore

	queryExpansion, err := queryexpansion.NewService(queryexpansion.StubExpander{Config: cfg.QueryExpansion}, cfg.QueryExpansion, "stub")
	if err != nil {
		return nil, fmt.Errorf("build query expansion service: %w", err)
	}
	app.QueryExpansion = queryExpansion

	// No Dispatcher is wired here: the Subscription Manager's transport
	// (whatever holds the live connection a BatchUpdate gets delivered
	// over) belongs to a caller outside this CORE, same as Filesystem and
	// Connector above.
	app.SubscriptionMgr = subscription.NewManager(nil)
	subAdapter := &subscriberAdapter{mgr: app.SubscriptionMgr}

	var eventLog eventlog.Writer
	switch cfg.EventLog.Mode {
	case "relational":
		eventLog, err = eventlog.OpenRelationalLog(cfg.EventLog.Relational, subAdapter)
	default:
		eventLog, err = eventlog.OpenSegmentLog(cfg.EventLog.Segment, subAdapter)
	}
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	app.EventLog = eventLog

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", app.metrics.Handler())
		app.metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}
	}

	return app, nil
}

// Run starts the metrics server (if configured) and the background
// maintenance sweep, then blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	maintenance := time.NewTicker(maintenanceInterval)
	defer maintenance.Stop()

	errCh := make(chan error, 1)
	if a.metricsServer != nil {
		logger.Info("metrics server listening", "addr", a.metricsServer.Addr)
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return a.stopMetricsServer()
		case err := <-errCh:
			return err
		case <-maintenance.C:
			a.runMaintenance(ctx)
		}
	}
}

func (a *App) runMaintenance(ctx context.Context) {
	if n, err := a.tupleStore.ExpireSweep(ctx); err != nil {
		logger.ErrorCtx(ctx, "tuple store expire sweep failed", "error", err)
	} else if n > 0 {
		logger.InfoCtx(ctx, "tuple store expire sweep", "expired", n)
	}

	if n, err := a.UploadService.CleanupExpired(ctx); err != nil {
		logger.ErrorCtx(ctx, "upload cleanup failed", "error", err)
	} else if n > 0 {
		logger.InfoCtx(ctx, "upload cleanup", "expired", n)
	}
}

func (a *App) stopMetricsServer() error {
	if a.metricsServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}

// Close releases every component that holds an open file handle or
// database connection.
func (a *App) Close() error {
	var errs []error
	if a.badgerTable != nil {
		if err := a.badgerTable.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close leopard badger table: %w", err))
		}
	}
	if err := a.diskCache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close disk cache: %w", err))
	}
	if err := a.EventLog.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close event log: %w", err))
	}
	return errors.Join(errs...)
}
