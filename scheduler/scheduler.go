package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"LineDesk/broadcast"
	"LineDesk/menu"
	"LineDesk/steps"
)

// Scheduler drives the three periodic sweeps in-process. Deployments that
// prefer an external scheduler hit the /jobs endpoints instead; both paths
// call the same idempotent engine entry points, so running both only costs
// redundant no-op sweeps.
type Scheduler struct {
	cron       *cron.Cron
	broadcasts *broadcast.Engine
	steps      *steps.Engine
	menus      *menu.Sweeper
}

func New(broadcasts *broadcast.Engine, stepEngine *steps.Engine, menus *menu.Sweeper) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		broadcasts: broadcasts,
		steps:      stepEngine,
		menus:      menus,
	}
}

func (s *Scheduler) Start() error {
	jobs := []struct {
		name string
		run  func(context.Context) int
	}{
		{"broadcasts", s.broadcasts.SweepScheduled},
		{"steps", s.steps.Advance},
		{"menu_windows", s.menus.SweepWindows},
	}
	for _, job := range jobs {
		job := job
		if _, err := s.cron.AddFunc("@every 1m", func() {
			processed := job.run(context.Background())
			if processed > 0 {
				log.Info().Str("sweep", job.name).Int("processed", processed).Msg("sweep run finished")
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	log.Info().Msg("scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
