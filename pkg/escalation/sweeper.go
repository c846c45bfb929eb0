package escalation

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper periodically drains auto-escalated sessions through the
// orchestrator. Deadline timers nudge it so a silent timeout is acted on
// within moments; the ticker is the safety net that catches anything a
// nudge ever misses.
type Sweeper struct {
	orchestrator *Orchestrator
	interval     time.Duration
	logger       *logrus.Logger
	nudgeChan    chan struct{}
	stopChan     chan struct{}
	started      bool
}

// NewSweeper creates a sweeper with the given sweep interval
func NewSweeper(orchestrator *Orchestrator, interval time.Duration, logger *logrus.Logger) *Sweeper {
	return &Sweeper{
		orchestrator: orchestrator,
		interval:     interval,
		logger:       logger,
		nudgeChan:    make(chan struct{}, 1),
		stopChan:     make(chan struct{}),
	}
}

// Start launches the sweep loop
func (s *Sweeper) Start() {
	if s.started {
		return
	}
	s.started = true

	go s.run()
	s.logger.WithField("interval", s.interval).Info("Auto-escalation sweeper started")
}

// Nudge asks for a sweep as soon as possible. Safe to call from timer
// goroutines; a nudge while one is already pending is a no-op.
func (s *Sweeper) Nudge() {
	select {
	case s.nudgeChan <- struct{}{}:
	default:
	}
}

// Stop halts the sweep loop
func (s *Sweeper) Stop() {
	if !s.started {
		return
	}
	close(s.stopChan)
	s.started = false
	s.logger.Info("Auto-escalation sweeper stopped")
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-s.nudgeChan:
			s.orchestrator.ProcessAutoEscalations(context.Background())
		case <-ticker.C:
			s.orchestrator.ProcessAutoEscalations(context.Background())
		}
	}
}
