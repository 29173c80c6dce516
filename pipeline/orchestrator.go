package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"propflow/models"
	"propflow/notify"
)

// Store is the durable persistence the orchestrator drives. Satisfied by
// *storage.PostgresStore; tests swap in an in-memory fake.
type Store interface {
	CreateExecution(ctx context.Context, e *models.Execution) error
	UpdateExecution(ctx context.Context, e *models.Execution) error
	GetExecution(ctx context.Context, name string) (*models.Execution, error)
	GetStaleExecutions(ctx context.Context, olderThan time.Duration, limit int) ([]models.Execution, error)

	CreateListing(ctx context.Context, l *models.Listing) error
	UpdateListing(ctx context.Context, l *models.Listing) error
	GetListingByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)

	UpsertAccount(ctx context.Context, a *models.Account) error
	GetAccountByExternalID(ctx context.Context, externalID string) (*models.Account, error)

	CreateReportRequest(ctx context.Context, r *models.ReportRequest) error
	UpdateReportRequest(ctx context.Context, r *models.ReportRequest) error
	GetReportRequestByID(ctx context.Context, id uuid.UUID) (*models.ReportRequest, error)
}

// Relocator moves submitted images into permanent storage.
type Relocator interface {
	Relocate(ctx context.Context, sources []string, destPrefix string) ([]string, error)
}

// Artifacts is the object-storage slice the report pipeline needs.
type Artifacts interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	EnsureFolder(ctx context.Context, prefix string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Notifier sends best-effort lifecycle email.
type Notifier interface {
	ResolveRecipient(ctx context.Context, ownerID *uuid.UUID, contactEmail, contactName string) notify.Recipient
	Dispatch(ctx context.Context, evt notify.EventType, to notify.Recipient, data notify.TemplateData)
}

// Synthesizer produces report sections from a request.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *models.ReportRequest) (*models.ReportSections, error)
}

// Renderer turns sections into the PDF artifact.
type Renderer interface {
	Render(req *models.ReportRequest, sections *models.ReportSections) ([]byte, error)
}

// OpsLog is the local journal. Optional; a nil orchestrator journal is a
// no-op.
type OpsLog interface {
	Log(executionName string, level models.LogLevel, message string) error
}

type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	PresignTTL  time.Duration
}

// Orchestrator sequences the listing-submission and report-generation
// workflows. Each execution is independent; all cross-stage state lives in
// the durable execution row, never in the struct.
type Orchestrator struct {
	store     Store
	relocator Relocator
	artifacts Artifacts
	notifier  Notifier
	synth     Synthesizer
	renderer  Renderer
	ops       OpsLog

	maxAttempts int
	backoffBase time.Duration
	presignTTL  time.Duration
}

func NewOrchestrator(store Store, relocator Relocator, artifacts Artifacts, notifier Notifier, synth Synthesizer, renderer Renderer, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = time.Hour
	}
	return &Orchestrator{
		store:       store,
		relocator:   relocator,
		artifacts:   artifacts,
		notifier:    notifier,
		synth:       synth,
		renderer:    renderer,
		maxAttempts: opts.MaxAttempts,
		backoffBase: opts.BackoffBase,
		presignTTL:  opts.PresignTTL,
	}
}

// SetOpsLog attaches the local journal.
func (o *Orchestrator) SetOpsLog(ops OpsLog) {
	o.ops = ops
}

func (o *Orchestrator) journal(execName string, level models.LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[%s] %s", execName, msg)
	if o.ops != nil {
		if err := o.ops.Log(execName, level, msg); err != nil {
			log.Printf("ops journal write failed: %v", err)
		}
	}
}

// output is the growing result document threaded through the stages. Each
// stage adds fields; nothing is ever removed.
type output map[string]json.RawMessage

func (out output) set(key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	out[key] = b
}

func (out output) get(key string, v any) bool {
	raw, ok := out[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

func jsonMarshal(out output) (json.RawMessage, error) {
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal output: %w", err)
	}
	return b, nil
}

func decodeOutput(raw json.RawMessage) output {
	out := output{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return out
}

// advance persists a state transition together with the accumulated output.
func (o *Orchestrator) advance(ctx context.Context, exec *models.Execution, state models.ExecutionState, out output) error {
	exec.State = state
	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	exec.Output = b
	if err := o.store.UpdateExecution(ctx, exec); err != nil {
		return fmt.Errorf("advance to %s: %w", state, err)
	}
	o.journal(exec.Name, models.LogLevelInfo, "-> %s", state)
	return nil
}

// withRetry runs fn up to maxAttempts times with exponential backoff.
// Permanent errors stop the loop immediately.
func (o *Orchestrator) withRetry(ctx context.Context, exec *models.Execution, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		exec.Attempts++
		if attempt == o.maxAttempts {
			break
		}
		delay := o.backoffBase << (attempt - 1)
		o.journal(exec.Name, models.LogLevelWarn, "attempt %d failed (%v), retrying in %s", attempt, err, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// fail moves the execution to its terminal failure state. Validation
// rejections get REJECTED; everything else FAILED with a generic reason.
func (o *Orchestrator) fail(ctx context.Context, exec *models.Execution, out output, err error, rejected bool) {
	state := models.StateFailed
	if rejected {
		state = models.StateRejected
	}
	exec.LastError = err.Error()
	if advErr := o.advance(ctx, exec, state, out); advErr != nil {
		o.journal(exec.Name, models.LogLevelError, "could not record failure: %v (original: %v)", advErr, err)
		return
	}
	o.journal(exec.Name, models.LogLevelError, "terminal %s: %v", state, err)
}

// =============================================================================
// Status queries
// =============================================================================

// StatusResult is the client-facing answer to an execution status poll.
type StatusResult struct {
	Status      models.ExecutionStatus `json:"status"`
	ArtifactKey string                 `json:"artifactKey,omitempty"`
	DownloadURL string                 `json:"downloadUrl,omitempty"`
	Errors      []string               `json:"errors,omitempty"`
}

// Status resolves an execution reference. On COMPLETED report executions a
// fresh presigned URL is minted: retrieval URLs expire on their own clock
// and are never reused from the stored output.
func (o *Orchestrator) Status(ctx context.Context, name string) (*StatusResult, error) {
	exec, err := o.store.GetExecution(ctx, name)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return &StatusResult{Status: models.StatusUnknown}, nil
	}

	res := &StatusResult{Status: exec.Status()}
	out := decodeOutput(exec.Output)

	var verrs []string
	if out.get("validationErrors", &verrs) {
		res.Errors = verrs
	}

	if exec.Status() == models.StatusCompleted && exec.Kind == models.ExecutionKindReport {
		var key string
		if out.get("artifactKey", &key) && key != "" {
			res.ArtifactKey = key
			url, err := o.artifacts.PresignGet(ctx, key, o.presignTTL)
			if err != nil {
				o.journal(exec.Name, models.LogLevelWarn, "presign on poll failed: %v", err)
			} else {
				res.DownloadURL = url
			}
		}
	}

	return res, nil
}

// =============================================================================
// Crash resumption
// =============================================================================

// ResumeStale re-drives executions whose last transition is older than the
// threshold. Stage writes are idempotent (conditional creates, overwrite
// uploads), so re-running the current stage is safe.
func (o *Orchestrator) ResumeStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := o.store.GetStaleExecutions(ctx, olderThan, limit)
	if err != nil {
		return 0, fmt.Errorf("scan stale executions: %w", err)
	}

	resumed := 0
	for i := range stale {
		exec := &stale[i]
		if exec.State.Terminal() {
			continue
		}
		o.journal(exec.Name, models.LogLevelWarn, "resuming from %s", exec.State)
		if err := o.Resume(ctx, exec); err != nil {
			o.journal(exec.Name, models.LogLevelError, "resume failed: %v", err)
			continue
		}
		resumed++
	}
	return resumed, nil
}

// RetryExecution re-drives one execution by name, operator initiated.
// Terminal executions are left alone; retrying a REJECTED or FAILED run
// means submitting again, not rewriting history.
func (o *Orchestrator) RetryExecution(ctx context.Context, name string) error {
	exec, err := o.store.GetExecution(ctx, name)
	if err != nil {
		return err
	}
	if exec == nil {
		return fmt.Errorf("execution %s not found", name)
	}
	if exec.State.Terminal() {
		return fmt.Errorf("execution %s is already terminal (%s)", name, exec.State)
	}
	return o.Resume(ctx, exec)
}

// Resume continues one in-flight execution from its persisted stage.
func (o *Orchestrator) Resume(ctx context.Context, exec *models.Execution) error {
	out := decodeOutput(exec.Output)

	switch exec.Kind {
	case models.ExecutionKindListing:
		var trigger ListingTrigger
		if !out.get("trigger", &trigger) {
			return fmt.Errorf("execution %s has no recoverable trigger", exec.Name)
		}
		return o.runListing(ctx, exec, &trigger, out)
	case models.ExecutionKindReport:
		var trigger ReportTrigger
		if !out.get("trigger", &trigger) {
			return fmt.Errorf("execution %s has no recoverable trigger", exec.Name)
		}
		return o.runReport(ctx, exec, &trigger, out)
	default:
		return fmt.Errorf("unknown execution kind %q", exec.Kind)
	}
}
