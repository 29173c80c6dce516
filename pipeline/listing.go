package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"propflow/identity"
	"propflow/media"
	"propflow/models"
	"propflow/notify"
	"propflow/storage"
	"propflow/validate"
)

// listingRank orders the listing workflow states so a resumed execution
// knows which stages are already behind it.
func listingRank(state models.ExecutionState) int {
	switch state {
	case models.StateReceived:
		return 0
	case models.StateValidating:
		return 1
	case models.StatePreparing:
		return 2
	case models.StateStoring:
		return 3
	case models.StateRelocating:
		return 4
	case models.StateNotifying:
		return 5
	default:
		return 0
	}
}

// StartListing begins a listing-submission execution. Duplicate triggers
// (queue redelivery, double submits within the same second) collapse onto
// one execution via the deterministic name.
func (o *Orchestrator) StartListing(ctx context.Context, trigger ListingTrigger) error {
	if trigger.SubmittedAt.IsZero() {
		trigger.SubmittedAt = time.Now()
	}
	name := identity.ExecutionName(string(models.ExecutionKindListing), trigger.PropertyID, trigger.SubmittedAt)

	out := output{}
	out.set("trigger", trigger)
	out.set("propertyId", trigger.PropertyID)

	now := time.Now()
	exec := &models.Execution{
		Name:      name,
		Kind:      models.ExecutionKindListing,
		EntityID:  trigger.PropertyID,
		State:     models.StateReceived,
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
		return fmt.Errorf("start listing execution: %w", err)
	}

	return o.runListing(ctx, exec, &trigger, out)
}

func (o *Orchestrator) runListing(ctx context.Context, exec *models.Execution, trigger *ListingTrigger, out output) error {
	propID, err := uuid.Parse(trigger.PropertyID)
	if err != nil {
		o.fail(ctx, exec, out, fmt.Errorf("bad property id %q: %w", trigger.PropertyID, err), false)
		return nil
	}

	from := listingRank(exec.State)

	// Validation is pure, so it also re-runs on resume to rebuild the
	// normalized record; only the state transition is skipped.
	if from <= 1 {
		if err := o.advance(ctx, exec, models.StateValidating, out); err != nil {
			return err
		}
	}
	res := validate.Listing(&trigger.Input, time.Now())
	if !res.Valid {
		out.set("validationErrors", res.Errors)
		o.fail(ctx, exec, out, fmt.Errorf("validation failed with %d violations", len(res.Errors)), true)
		return nil
	}

	listing := res.Normalized
	listing.ID = propID
	listing.SubmittedAt = trigger.SubmittedAt

	ownerRef := trigger.Input.ExternalID
	if ownerRef == "" {
		ownerRef = trigger.Input.UserID
	}
	destPrefix := media.DestPrefix(ownerRef, trigger.PropertyID)

	// Account creation and folder creation are independent; both must be
	// done before anything is stored, so they run concurrently and join.
	if from <= 2 {
		if err := o.advance(ctx, exec, models.StatePreparing, out); err != nil {
			return err
		}
		var ownerID *uuid.UUID
		err := o.withRetry(ctx, exec, func(ctx context.Context) error {
			g, gctx := errgroup.WithContext(ctx)
			var acctID *uuid.UUID
			g.Go(func() error {
				id, err := o.ensureAccount(gctx, ownerRef, trigger.Input.ContactEmail, trigger.Input.ContactName)
				if err != nil {
					return err
				}
				acctID = id
				return nil
			})
			g.Go(func() error {
				return o.artifacts.EnsureFolder(gctx, destPrefix)
			})
			if err := g.Wait(); err != nil {
				return err
			}
			ownerID = acctID
			return nil
		})
		if err != nil {
			o.fail(ctx, exec, out, err, false)
			return nil
		}
		if ownerID != nil {
			out.set("ownerId", ownerID)
		}
	}

	var ownerID *uuid.UUID
	out.get("ownerId", &ownerID)
	listing.OwnerID = ownerID
	listing.RecomputeKeys()

	if from <= 3 {
		if err := o.advance(ctx, exec, models.StateStoring, out); err != nil {
			return err
		}
		err := o.withRetry(ctx, exec, func(ctx context.Context) error {
			err := o.store.CreateListing(ctx, listing)
			if errors.Is(err, storage.ErrAlreadyExists) {
				// A previous attempt got the row in; resume past it.
				return nil
			}
			return err
		})
		if err != nil {
			o.fail(ctx, exec, out, err, false)
			return nil
		}
	}

	var finalImages []string
	if from <= 4 {
		if err := o.advance(ctx, exec, models.StateRelocating, out); err != nil {
			return err
		}
		err := o.withRetry(ctx, exec, func(ctx context.Context) error {
			keys, err := o.relocator.Relocate(ctx, trigger.Input.Images, destPrefix)
			if err != nil {
				return err
			}
			finalImages = keys
			return nil
		})
		if err != nil {
			o.fail(ctx, exec, out, err, false)
			return nil
		}
		out.set("images", finalImages)

		err = o.withRetry(ctx, exec, func(ctx context.Context) error {
			stored, err := o.store.GetListingByID(ctx, propID)
			if err != nil {
				return err
			}
			if stored == nil {
				return Permanent(fmt.Errorf("listing %s vanished before image update", propID))
			}
			stored.Images = finalImages
			stored.UpdatedAt = time.Now()
			stored.RecomputeKeys()
			return o.store.UpdateListing(ctx, stored)
		})
		if err != nil {
			o.fail(ctx, exec, out, err, false)
			return nil
		}
	} else {
		out.get("images", &finalImages)
	}

	if from <= 5 {
		if err := o.advance(ctx, exec, models.StateNotifying, out); err != nil {
			return err
		}
		to := o.notifier.ResolveRecipient(ctx, listing.OwnerID, listing.ContactEmail, listing.ContactName)
		o.notifier.Dispatch(ctx, notify.EventSubmittedPending, to, notify.TemplateData{
			ListingTitle: listing.Title,
			ListingCity:  listing.City,
		})
		out.set("notified", true)
	}

	out.set("status", listing.Status)
	if err := o.advance(ctx, exec, models.StateSucceeded, out); err != nil {
		return err
	}
	o.journal(exec.Name, models.LogLevelInfo, "listing %s submitted with %d images", propID, len(finalImages))
	return nil
}

// ensureAccount upserts the registered account for an authenticated
// submitter. Anonymous submissions get no account row.
func (o *Orchestrator) ensureAccount(ctx context.Context, externalID, email, name string) (*uuid.UUID, error) {
	if externalID == "" {
		return nil, nil
	}
	now := time.Now()
	acct := &models.Account{
		ID:         uuid.New(),
		ExternalID: externalID,
		Email:      email,
		Name:       name,
		Tier:       models.TierUser,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.store.UpsertAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	return &acct.ID, nil
}
