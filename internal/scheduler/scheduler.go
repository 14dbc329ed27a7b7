// Package scheduler runs the named periodic tasks. Tasks are isolated:
// a panic or error in one never affects another, and a slow tick skips
// its next run instead of overlapping it.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Task is one periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	cron   *cron.Cron
	tasks  []Task
	ready  <-chan struct{}
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a scheduler that starts ticking only after ready closes
// (the chat session handshake).
func New(ready <-chan struct{}, logger zerolog.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cl),
			cron.Recover(cl),
		)),
		ready:  ready,
		logger: logger,
	}
}

func (s *Scheduler) Add(t Task) error {
	if t.Interval <= 0 {
		return fmt.Errorf("task %s: non-positive interval", t.Name)
	}
	s.tasks = append(s.tasks, t)
	return nil
}

// Start registers the tasks and begins ticking once the ready signal
// fires. It blocks until ctx is cancelled or the ready wait is aborted.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, t := range s.tasks {
		t := t
		spec := fmt.Sprintf("@every %s", t.Interval)
		if _, err := s.cron.AddFunc(spec, func() { s.tick(t) }); err != nil {
			return fmt.Errorf("register task %s: %w", t.Name, err)
		}
	}

	select {
	case <-s.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info().Int("tasks", len(s.tasks)).Msg("scheduler started")
	s.cron.Start()
	<-ctx.Done()
	return nil
}

func (s *Scheduler) tick(t Task) {
	start := time.Now()
	log := s.logger.With().Str("task", t.Name).Logger()

	if err := t.Run(s.ctx); err != nil {
		log.Error().Err(err).Dur("took", time.Since(start)).Msg("task failed")
		return
	}

	took := time.Since(start)
	if took > 2*t.Interval {
		log.Warn().Dur("took", took).Dur("interval", t.Interval).Msg("task running slower than its interval")
	} else {
		log.Debug().Dur("took", took).Msg("task done")
	}
}

// Stop halts scheduling and waits up to deadline for in-flight ticks,
// then cancels their context.
func (s *Scheduler) Stop(deadline time.Duration) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-time.After(deadline):
		s.logger.Warn().Dur("deadline", deadline).Msg("tasks still running at stop deadline, cancelling")
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// cronLogger adapts zerolog to cron's logging interface.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.logger.Debug().Fields(kv).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.logger.Error().Err(err).Fields(kv).Msg(msg)
}
