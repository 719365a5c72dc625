package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ShippingSyncer refreshes shipping statuses from the shipment service
type ShippingSyncer interface {
	SyncShippingStatuses(ctx context.Context) (int, error)
}

type Scheduler struct {
	cron    *cron.Cron
	logger  cron.Logger
	syncer  ShippingSyncer
	timeout time.Duration
}

func New(syncer ShippingSyncer) *Scheduler {
	// cron reports skipped runs and recovered panics through logrus
	logger := cron.PrintfLogger(logrus.WithField("component", "cron"))

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		logger:  logger,
		syncer:  syncer,
		timeout: 30 * time.Second,
	}
}

// Start registers the shipping sync on spec (standard cron syntax or
// descriptors such as "@every 1m") and starts the scheduler.
func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.syncShipping); err != nil {
		return err
	}
	s.cron.Start()
	logrus.WithField("spec", spec).Info("shipping sync scheduled")
	return nil
}

// Stop waits for a running job to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) syncShipping() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.syncer.SyncShippingStatuses(ctx)
	if err != nil {
		logrus.WithError(err).Error("shipping sync failed")
		return
	}
	if n > 0 {
		logrus.WithField("updated", n).Info("shipping statuses synced")
	}
}
