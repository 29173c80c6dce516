package workers

import (
	"context"
	"log"
	"sync"
	"time"
)

// ResumeWorker re-drives executions that stalled mid-flight, typically
// after a crash or deploy. Sweeps run on an external schedule (cron) or a
// manual trigger; the worker itself only serializes them.
type ResumeWorker struct {
	orchestrator Resumer
	olderThan    time.Duration
	batchSize    int

	triggerCh chan struct{}

	mu     sync.Mutex
	paused bool
}

// Resumer is the orchestrator slice the sweeper needs.
type Resumer interface {
	ResumeStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

func NewResumeWorker(orchestrator Resumer, olderThan time.Duration, batchSize int) *ResumeWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ResumeWorker{
		orchestrator: orchestrator,
		olderThan:    olderThan,
		batchSize:    batchSize,
		triggerCh:    make(chan struct{}, 1),
	}
}

// Trigger requests an immediate sweep. Non-blocking; a sweep already
// queued absorbs the request.
func (w *ResumeWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Pause stops future sweeps until Resume is called. In-flight executions
// finish their current stage.
func (w *ResumeWorker) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
	log.Println("Resume worker paused")
}

func (w *ResumeWorker) Resume() {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
	log.Println("Resume worker resumed")
}

func (w *ResumeWorker) isPaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// Run blocks until the context ends, sweeping whenever triggered.
func (w *ResumeWorker) Run(ctx context.Context) {
	log.Printf("Resume worker started (threshold: %s)", w.olderThan)

	for {
		select {
		case <-ctx.Done():
			log.Println("Resume worker stopped")
			return
		case <-w.triggerCh:
			w.sweep(ctx)
		}
	}
}

func (w *ResumeWorker) sweep(ctx context.Context) {
	if w.isPaused() {
		log.Println("Sweep skipped: worker paused")
		return
	}

	resumed, err := w.orchestrator.ResumeStale(ctx, w.olderThan, w.batchSize)
	if err != nil {
		log.Printf("Sweep error: %v", err)
		return
	}
	if resumed > 0 {
		log.Printf("Sweep resumed %d stalled executions", resumed)
	}
}
