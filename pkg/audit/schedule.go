package audit

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// Scheduler drives periodic chain rotation via cron/v3, matching how the
// rest of the system schedules recurring background work (cache TTL
// sweep, telemetry snapshot cadence).
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler starts a rotation job on spec (default "@daily" when
// empty) against chain.
func NewScheduler(chain *Chain, spec string) (*Scheduler, error) {
	if spec == "" {
		spec = "@daily"
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if err := chain.Rotate(context.Background()); err != nil {
			log.Printf("audit: scheduled rotation failed: %v", err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return &Scheduler{cron: c}, nil
}

// Stop halts the rotation job, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() {
	if s == nil || s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
}
