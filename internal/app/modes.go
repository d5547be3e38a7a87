package app

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/matchbook/internal/dispatch"
	"github.com/alanyoungcy/matchbook/internal/domain"
	"github.com/alanyoungcy/matchbook/internal/pipeline"
	"github.com/alanyoungcy/matchbook/internal/server"
	"github.com/alanyoungcy/matchbook/internal/server/handler"
	"github.com/alanyoungcy/matchbook/internal/server/ws"
	"github.com/alanyoungcy/matchbook/internal/service"
)

// sweepLockTTL bounds how long one instance may hold the archive sweep
// fence before it expires on its own.
const sweepLockTTL = 5 * time.Minute

// ServeMode runs the settlement API: the HTTP server, the WebSocket hub,
// the alert dispatcher, the odds follower, and (when enabled) the scheduled
// archive sweep. It blocks until the context is cancelled or a worker fails.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	startedAt := time.Now().UTC()
	orch := pipeline.NewOrchestrator(a.logger)

	escrowSvc, marketSvc := a.buildSettlement(deps)
	oddsSvc := service.NewOddsService(deps.MarketStore, deps.OddsCache, deps.SignalBus, a.logger)

	// WebSocket hub fans settlement events out to stream clients.
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	orch.Add("ws_hub", hub)

	// Alert dispatcher bridges settlement events to the notifier.
	events, err := deps.SignalBus.Subscribe(ctx, domain.ChannelSettlements)
	if err != nil {
		return fmt.Errorf("serve mode: subscribe settlements: %w", err)
	}
	disp := dispatch.NewDispatcher(events, deps.Notifier, a.logger)
	if ttl := a.cfg.Notify.DedupTTL.Duration; ttl > 0 {
		disp.SetDedupTTL(ttl)
	}
	disp.SetMaxEventAge(a.cfg.Notify.MaxEventAge.Duration)
	disp.SetMinAmount(a.cfg.Notify.MinAmount)
	orch.Add("dispatcher", disp)

	// Odds follower recomputes implied multipliers on every bet and
	// resolution.
	orch.Add("odds", oddsSvc)

	// Archive schedule, fenced so only one instance sweeps.
	var archiveTriggerCh chan struct{}
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		archiveTriggerCh = make(chan struct{}, 1)
		job := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger).
			WithLock(deps.LockManager, sweepLockTTL).
			WithTrigger(archiveTriggerCh)
		cron := a.cfg.Archive.Cron
		orch.AddFunc("archive_cron", func(ctx context.Context) error {
			return job.RunCron(ctx, cron)
		})
	}

	if a.cfg.Server.Enabled {
		a.addHTTPServer(orch, deps, escrowSvc, marketSvc, oddsSvc, hub, archiveTriggerCh, startedAt)
	}

	return orch.Run(ctx)
}

// ArchiveMode runs one archive sweep and exits. Deployments usually invoke
// it from an external scheduler against the same store the serve instances
// use; the sweep fence keeps concurrent invocations from doubling work.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: object storage is not wired")
	}

	job := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger).
		WithLock(deps.LockManager, sweepLockTTL)
	if err := job.Run(ctx); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}

	a.logger.InfoContext(ctx, "archive sweep complete")
	return nil
}

// buildSettlement constructs the escrow and market services with the
// configured fee, audit trail, receipt signer, and lock fencing.
func (a *App) buildSettlement(deps *Dependencies) (*service.EscrowService, *service.MarketService) {
	escrowSvc := service.NewEscrowService(deps.EscrowStore, deps.Treasury, deps.SignalBus, a.logger).
		WithFeeRate(a.cfg.Settlement.FeeBps).
		WithAudit(deps.AuditStore)
	marketSvc := service.NewMarketService(deps.MarketStore, deps.Treasury, deps.StatsCache, deps.SignalBus, a.logger).
		WithAudit(deps.AuditStore)

	if deps.Signer != nil {
		escrowSvc.WithSigner(deps.Signer)
		marketSvc.WithSigner(deps.Signer)
	}
	if a.cfg.Settlement.DistributedLocks {
		ttl := a.cfg.Settlement.LockTTL.Duration
		escrowSvc.WithDistLock(deps.LockManager, ttl)
		marketSvc.WithDistLock(deps.LockManager, ttl)
	}
	return escrowSvc, marketSvc
}

// addHTTPServer registers the API server plus its shutdown watcher on the
// orchestrator. archiveTriggerCh is optional; when non-nil, POST
// /api/archive/trigger requests one sweep ahead of schedule.
func (a *App) addHTTPServer(
	orch *pipeline.Orchestrator,
	deps *Dependencies,
	escrowSvc *service.EscrowService,
	marketSvc *service.MarketService,
	oddsSvc *service.OddsService,
	hub *ws.Hub,
	archiveTriggerCh chan<- struct{},
	startedAt time.Time,
) {
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, a.cfg.Settlement.Backend, a.cfg.Treasury.Backend, startedAt),
		Escrows: handler.NewEscrowHandler(escrowSvc, a.logger),
		Markets: handler.NewMarketHandler(marketSvc, oddsSvc, a.logger),
		Events:  handler.NewEventsHandler(deps.SignalBus, a.logger),
	}
	if archiveTriggerCh != nil {
		handlers.Archive = handler.NewArchiveHandler(a.logger).
			WithTriggerChannel(archiveTriggerCh).
			WithReader(deps.BlobReader)
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		OpsToken:     a.cfg.Server.OpsToken,
		IdentitySkew: a.cfg.Server.IdentitySkew.Duration,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	orch.AddFunc("http_server", func(_ context.Context) error {
		return srv.Start()
	})
	orch.AddFunc("http_shutdown", func(ctx context.Context) error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.Info("HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}
