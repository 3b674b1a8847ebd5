package watch

import (
	"context"
	"fmt"

	"github.com/platinummonkey/pluginhost/pkg/observability"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler re-runs discovery on a cron schedule
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	log      logrus.FieldLogger
}

// NewScheduler parses schedule (standard 5-field cron or a descriptor such as
// "@every 5m") and binds rescan to it
func NewScheduler(schedule string, rescan RescanFunc, log logrus.FieldLogger) (*Scheduler, error) {
	if log == nil {
		log = logrus.New()
	}
	log = log.WithField("component", "scheduler")

	s := &Scheduler{
		cron:     cron.New(),
		schedule: schedule,
		log:      log,
	}

	// overlapping runs would only queue behind the manager's scan lock
	_, err := s.cron.AddJob(schedule, cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(
		cron.FuncJob(func() {
			defer observability.RecoverPanic(log, "scheduled plugin rescan")
			log.Debug("Scheduled plugin rescan")
			rescan(context.Background())
		}),
	))
	if err != nil {
		return nil, fmt.Errorf("invalid rescan schedule %q: %w", schedule, err)
	}

	return s, nil
}

// Schedule returns the cron expression
func (s *Scheduler) Schedule() string {
	return s.schedule
}

// Run starts the schedule and blocks until ctx is cancelled and running jobs finish
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.log.Infof("Rescanning plugins on schedule %q", s.schedule)

	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
