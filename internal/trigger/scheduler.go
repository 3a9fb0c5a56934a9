// Package trigger submits scheduled turns to the task runner on cron
// expressions.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/techs-targe/PromptRig-sub001/internal/task"
)

// Submitter is the task submission surface the scheduler drives.
// Implemented by task.Runner.
type Submitter interface {
	Submit(ctx context.Context, req task.Request) error
}

// Schedule is one cron entry: text fired against a session on a
// standard 5-field cron expression (minute hour dom month dow).
type Schedule struct {
	Cron          string
	Text          string
	SessionID     string
	Model         string
	Temperature   float64
	MaxIterations int
}

// Scheduler manages cron-based task submission.
type Scheduler struct {
	cron      *cron.Cron
	submitter Submitter
}

// NewScheduler creates a scheduler backed by the given submitter.
func NewScheduler(submitter Submitter) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		submitter: submitter,
	}
}

// Register adds one schedule. Each firing submits a fresh task against
// the schedule's session, so consecutive runs continue one conversation.
func (s *Scheduler) Register(sched Schedule) error {
	if sched.SessionID == "" {
		sched.SessionID = "scheduled"
	}
	_, err := s.cron.AddFunc(sched.Cron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		taskID := uuid.NewString()
		log.Info().
			Str("task_id", taskID).
			Str("session_id", sched.SessionID).
			Msg("scheduled_task_fired")

		if err := s.submitter.Submit(ctx, task.Request{
			TaskID:        taskID,
			SessionID:     sched.SessionID,
			UserText:      sched.Text,
			Model:         sched.Model,
			Temperature:   sched.Temperature,
			MaxIterations: sched.MaxIterations,
		}); err != nil {
			log.Error().Err(err).
				Str("session_id", sched.SessionID).
				Msg("scheduled_task_failed")
		}
	})
	if err != nil {
		return fmt.Errorf("registering cron %q: %w", sched.Cron, err)
	}
	return nil
}

// Start begins executing registered cron jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs to complete.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Entries returns the number of registered cron entries.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
