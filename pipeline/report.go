package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"propflow/identity"
	"propflow/models"
	"propflow/notify"
	"propflow/storage"
	"propflow/validate"
)

func reportRank(state models.ExecutionState) int {
	switch state {
	case models.StateRequested:
		return 0
	case models.StateSynthesizing:
		return 1
	case models.StateRendering:
		return 2
	case models.StateArchiving:
		return 3
	case models.StateNotifying:
		return 4
	default:
		return 0
	}
}

// StartReport begins a report-generation execution.
func (o *Orchestrator) StartReport(ctx context.Context, trigger ReportTrigger) error {
	if trigger.RequestedAt.IsZero() {
		trigger.RequestedAt = time.Now()
	}
	name := identity.ExecutionName(string(models.ExecutionKindReport), trigger.ReportID, trigger.RequestedAt)

	out := output{}
	out.set("trigger", trigger)
	out.set("reportId", trigger.ReportID)

	now := time.Now()
	exec := &models.Execution{
		Name:      name,
		Kind:      models.ExecutionKindReport,
		EntityID:  trigger.ReportID,
		State:     models.StateRequested,
		StartedAt: now,
		UpdatedAt: now,
	}
	b, err := jsonMarshal(out)
	if err != nil {
		return err
	}
	exec.Output = b

	if err := o.store.CreateExecution(ctx, exec); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			o.journal(name, models.LogLevelInfo, "duplicate trigger ignored")
			return nil
		}
		return fmt.Errorf("start report execution: %w", err)
	}

	return o.runReport(ctx, exec, &trigger, out)
}

func (o *Orchestrator) runReport(ctx context.Context, exec *models.Execution, trigger *ReportTrigger, out output) error {
	reportID, err := uuid.Parse(trigger.ReportID)
	if err != nil {
		o.fail(ctx, exec, out, fmt.Errorf("bad report id %q: %w", trigger.ReportID, err), false)
		return nil
	}

	if verrs := validate.Report(&trigger.Input); len(verrs) > 0 {
		out.set("validationErrors", verrs)
		o.fail(ctx, exec, out, fmt.Errorf("validation failed with %d violations", len(verrs)), true)
		return nil
	}

	from := reportRank(exec.State)

	// Materialize the request row. Conditional create absorbs reruns.
	req := &models.ReportRequest{
		ID:                reportID,
		ExternalID:        trigger.ExternalID,
		Snapshot:          trigger.Input.PropertySnapshot,
		ReportType:        models.ReportType(trigger.Input.ReportType),
		AdditionalContext: trigger.Input.AdditionalContext,
		IncludeAmenities:  trigger.Input.IncludeAmenities,
		ExecutionName:     exec.Name,
		RequestedAt:       trigger.RequestedAt,
		UpdatedAt:         time.Now(),
	}
	err = o.withRetry(ctx, exec, func(ctx context.Context) error {
		if acct, err := o.lookupAccount(ctx, trigger); err != nil {
			return err
		} else if acct != nil {
			req.OwnerID = &acct.ID
		}
		err := o.store.CreateReportRequest(ctx, req)
		if errors.Is(err, storage.ErrAlreadyExists) {
			stored, gerr := o.store.GetReportRequestByID(ctx, reportID)
			if gerr != nil {
				return gerr
			}
			if stored != nil {
				*req = *stored
			}
			return nil
		}
		return err
	})
	if err != nil {
		o.fail(ctx, exec, out, err, false)
		return nil
	}

	// Stage 1: AI content synthesis.
	var sections *models.ReportSections
	if from <= 1 {
		if err := o.advance(ctx, exec, models.StateSynthesizing, out); err != nil {
			return err
		}
		err := o.withRetry(ctx, exec, func(ctx context.Context) error {
			s, err := o.synth.Synthesize(ctx, req)
			if err != nil {
				return err
			}
			sections = s
			return nil
		})
		if err != nil {
			o.fail(ctx, exec, out, err, false)
			return nil
		}
		out.set("sections", sections)
		req.Sections = sections
		if err := o.store.UpdateReportRequest(ctx, req); err != nil {
			o.journal(exec.Name, models.LogLevelWarn, "persist sections failed: %v", err)
		}
	} else {
		sections = &models.ReportSections{}
		if !out.get("sections", sections) && req.Sections != nil {
			sections = req.Sections
		}
	}

	// Stage 2: document rendering. Business errors here (nothing to
	// render) are terminal, infra errors retry like everything else.
	var pdfB64 string
	if from <= 2 {
		if err := o.advance(ctx, exec, models.StateRendering, out); err != nil {
			return err
		}
		err := o.withRetry(ctx, exec, func(ctx context.Context) error {
			pdf, err := o.renderer.Render(req, sections)
			if err != nil {
				return err
			}
			pdfB64 = base64.StdEncoding.EncodeToString(pdf)
			return nil
		})
		if err != nil {
			o.fail(ctx, exec, out, err, false)
			return nil
		}
		out.set("document", pdfB64)
	} else {
		out.get("document", &pdfB64)
	}

	// Stage 3: artifact storage under the owning account's folder.
	var artifactKey string
	if from <= 3 {
		if err := o.advance(ctx, exec, models.StateArchiving, out); err != nil {
			return err
		}
		err := o.withRetry(ctx, exec, func(ctx context.Context) error {
			pdf, err := base64.StdEncoding.DecodeString(pdfB64)
			if err != nil {
				return Permanent(fmt.Errorf("corrupt document in output: %w", err))
			}
			filename := identity.ArtifactFilename(req.RequestedAt, string(req.ReportType), req.Snapshot.Title, req.ID.String())
			key := fmt.Sprintf("%s/reports/%s", trigger.ownerRef(), filename)
			if err := o.artifacts.Upload(ctx, key, bytes.NewReader(pdf), "application/pdf"); err != nil {
				return err
			}
			artifactKey = key
			return nil
		})
		if err != nil {
			o.fail(ctx, exec, out, err, false)
			return nil
		}
		out.set("artifactKey", artifactKey)
		req.ArtifactKey = artifactKey
		if err := o.store.UpdateReportRequest(ctx, req); err != nil {
			o.journal(exec.Name, models.LogLevelWarn, "persist artifact key failed: %v", err)
		}
	} else {
		out.get("artifactKey", &artifactKey)
	}

	// Stage 4: result notification, best-effort as always.
	if from <= 4 {
		if err := o.advance(ctx, exec, models.StateNotifying, out); err != nil {
			return err
		}
		url, err := o.artifacts.PresignGet(ctx, artifactKey, o.presignTTL)
		if err != nil {
			o.journal(exec.Name, models.LogLevelWarn, "presign for notification failed: %v", err)
		}
		to := o.notifier.ResolveRecipient(ctx, req.OwnerID, "", "")
		o.notifier.Dispatch(ctx, notify.EventReportReady, to, notify.TemplateData{
			ListingTitle: req.Snapshot.Title,
			ReportType:   string(req.ReportType),
			ReportURL:    url,
		})
		req.NotificationSent = true
		if err := o.store.UpdateReportRequest(ctx, req); err != nil {
			o.journal(exec.Name, models.LogLevelWarn, "persist notification flag failed: %v", err)
		}
		out.set("notified", true)
	}

	if err := o.advance(ctx, exec, models.StateSucceeded, out); err != nil {
		return err
	}
	o.journal(exec.Name, models.LogLevelInfo, "report %s archived at %s", reportID, artifactKey)
	return nil
}

func (o *Orchestrator) lookupAccount(ctx context.Context, trigger *ReportTrigger) (*models.Account, error) {
	ref := trigger.ExternalID
	if ref == "" {
		ref = trigger.UserID
	}
	if ref == "" {
		return nil, nil
	}
	return o.store.GetAccountByExternalID(ctx, ref)
}
