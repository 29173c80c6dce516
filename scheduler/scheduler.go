// Package scheduler wires the cron cadence and the operator command loop
// to the background workers.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"propflow/config"
	"propflow/models"
	"propflow/pipeline"
	"propflow/storage"
)

// Sweeper is the resume worker surface the scheduler drives.
type Sweeper interface {
	Trigger()
	Pause()
	Resume()
}

type Scheduler struct {
	cfg          *config.Config
	orchestrator *pipeline.Orchestrator
	store        *storage.SQLiteStore
	sweeper      Sweeper
	cron         *cron.Cron
	stopCh       chan struct{}
}

func New(cfg *config.Config, orchestrator *pipeline.Orchestrator, store *storage.SQLiteStore, sweeper Sweeper) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		orchestrator: orchestrator,
		store:        store,
		sweeper:      sweeper,
		cron:         cron.New(),
		stopCh:       make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	go s.pollCommands(ctx)

	if s.cfg.Pipeline.SweepCron != "" {
		log.Printf("Starting sweep schedule: %s", s.cfg.Pipeline.SweepCron)
		_, err := s.cron.AddFunc(s.cfg.Pipeline.SweepCron, func() {
			s.sweeper.Trigger()
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else {
		log.Println("No sweep schedule configured, stalled executions recover on command only")
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	close(s.stopCh)
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	poll := s.cfg.Pipeline.CommandPoll
	if poll <= 0 {
		poll = 5 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cmds, err := s.store.GetPendingCommands()
			if err != nil {
				log.Printf("Error getting commands: %v", err)
				continue
			}

			for _, cmd := range cmds {
				log.Printf("Processing command: %s", cmd.Command)
				if err := s.handleCommand(ctx, &cmd); err != nil {
					log.Printf("Command error: %v", err)
				}
				if err := s.store.MarkCommandProcessed(cmd.ID); err != nil {
					log.Printf("Error marking command processed: %v", err)
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdPause:
		s.sweeper.Pause()
		return nil
	case models.CmdResume:
		s.sweeper.Resume()
		return nil
	case models.CmdSweepNow:
		s.sweeper.Trigger()
		log.Println("Sweep triggered via command")
		return nil
	case models.CmdRetry:
		var params models.CommandParams
		if len(cmd.Params) > 0 {
			if err := json.Unmarshal(cmd.Params, &params); err != nil {
				return fmt.Errorf("parse command params: %w", err)
			}
		}
		if params.ExecutionName == "" {
			return fmt.Errorf("retry_execution requires execution_name")
		}
		return s.orchestrator.RetryExecution(ctx, params.ExecutionName)
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}
}
