package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Service is one long-running pipeline component.
type Service interface {
	Start(ctx context.Context) error
	Stop()
}

type stage struct {
	name  string
	delay time.Duration
	svc   Service
}

// Orchestrator starts services in order with per-service start delays and
// stops them in reverse. The stagger lets producers populate the hot store
// before consumers bootstrap their cursors.
type Orchestrator struct {
	stages  []stage
	started []stage
}

// New returns an empty orchestrator.
func New() *Orchestrator {
	return &Orchestrator{}
}

// Add registers a service. delay is measured from the previous service's
// start, not from t=0.
func (o *Orchestrator) Add(name string, delay time.Duration, svc Service) {
	o.stages = append(o.stages, stage{name: name, delay: delay, svc: svc})
}

// Run starts every service and blocks until the context is cancelled, then
// stops them newest first. A start failure stops what already runs and
// returns the error.
func (o *Orchestrator) Run(ctx context.Context) error {
	for _, st := range o.stages {
		if st.delay > 0 {
			select {
			case <-ctx.Done():
				o.stopAll()
				return ctx.Err()
			case <-time.After(st.delay):
			}
		}
		log.Info().Str("service", st.name).Msg("starting service")
		if err := st.svc.Start(ctx); err != nil {
			o.stopAll()
			return fmt.Errorf("failed to start %s: %w", st.name, err)
		}
		o.started = append(o.started, st)
	}

	<-ctx.Done()
	o.stopAll()
	return nil
}

func (o *Orchestrator) stopAll() {
	for i := len(o.started) - 1; i >= 0; i-- {
		st := o.started[i]
		log.Info().Str("service", st.name).Msg("stopping service")
		st.svc.Stop()
	}
	o.started = nil
}
