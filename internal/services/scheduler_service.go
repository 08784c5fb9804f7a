// internal/services/scheduler_service.go
package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/masumi-network/payment-coordinator/internal/config"
)

// SchedulerService drives the periodic jobs: the sync loop and the
// dispatcher family. Each job runs behind a try-acquire mutex; a cycle that
// would overlap the previous one is skipped, never queued.
type SchedulerService struct {
	sync     *SyncService
	dispatch *DispatchService
	cfg      *config.Config
	log      *logrus.Entry

	syncMu     sync.Mutex
	dispatchMu sync.Mutex
	wg         sync.WaitGroup
}

func NewSchedulerService(syncSvc *SyncService, dispatchSvc *DispatchService, cfg *config.Config) *SchedulerService {
	return &SchedulerService{
		sync:     syncSvc,
		dispatch: dispatchSvc,
		cfg:      cfg,
		log:      logrus.WithField("service", "scheduler"),
	}
}

// Start launches the periodic jobs. They stop when the context is
// cancelled; Wait blocks until both have exited.
func (s *SchedulerService) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.loop(ctx, "sync", s.cfg.Engine.SyncInterval, &s.syncMu, func() {
		s.sync.SyncAllSources(ctx)
	})
	go s.loop(ctx, "dispatch", s.cfg.Engine.DispatchInterval, &s.dispatchMu, func() {
		s.dispatch.DispatchAll(ctx)
	})
}

func (s *SchedulerService) Wait() {
	s.wg.Wait()
}

func (s *SchedulerService) loop(ctx context.Context, name string, interval time.Duration, mu *sync.Mutex, run func()) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.WithFields(logrus.Fields{"job": name, "interval": interval}).Info("Scheduler job started")

	for {
		select {
		case <-ctx.Done():
			s.log.WithField("job", name).Info("Scheduler job stopped")
			return
		case <-ticker.C:
			if !mu.TryLock() {
				s.log.WithField("job", name).Debug("Previous cycle still running, skipping")
				continue
			}
			run()
			mu.Unlock()
		}
	}
}
