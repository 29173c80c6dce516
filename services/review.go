// Package services holds the synchronous, human-paced operations that sit
// outside the async pipelines: admin review and account management.
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"propflow/identity"
	"propflow/media"
	"propflow/models"
	"propflow/notify"
)

var (
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")
)

// Store is the persistence slice the review service needs.
type Store interface {
	GetListingByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	UpdateListing(ctx context.Context, l *models.Listing) error
	DeleteListing(ctx context.Context, id uuid.UUID) error
	GetAccountByExternalID(ctx context.Context, externalID string) (*models.Account, error)
}

// MediaRemover deletes a listing's stored images.
type MediaRemover interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

// Notifier matches notify.Dispatcher.
type Notifier interface {
	ResolveRecipient(ctx context.Context, ownerID *uuid.UUID, contactEmail, contactName string) notify.Recipient
	Dispatch(ctx context.Context, evt notify.EventType, to notify.Recipient, data notify.TemplateData)
}

// ReviewService implements the admin review operations and owner updates.
// All permission checks happen here, before any mutation.
type ReviewService struct {
	store    Store
	media    MediaRemover
	notifier Notifier
}

func NewReviewService(store Store, media MediaRemover, notifier Notifier) *ReviewService {
	return &ReviewService{store: store, media: media, notifier: notifier}
}

// Approve moves a pending listing to ACTIVE and attempts the approval
// notification. The notification outcome never affects the result.
func (s *ReviewService) Approve(ctx context.Context, actor identity.Identity, listingID uuid.UUID) (*models.Listing, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	listing, err := s.store.GetListingByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, ErrNotFound
	}
	if listing.Status == models.ListingStatusActive {
		return listing, nil
	}

	listing.Approve(actor.ID, time.Now())
	if err := s.store.UpdateListing(ctx, listing); err != nil {
		return nil, fmt.Errorf("approve listing: %w", err)
	}

	to := s.notifier.ResolveRecipient(ctx, listing.OwnerID, listing.ContactEmail, listing.ContactName)
	s.notifier.Dispatch(ctx, notify.EventApproved, to, notify.TemplateData{
		ListingTitle: listing.Title,
		ListingCity:  listing.City,
	})

	return listing, nil
}

// Reject moves a listing to REJECTED, hides it, and attempts the rejection
// notification carrying the reason verbatim.
func (s *ReviewService) Reject(ctx context.Context, actor identity.Identity, listingID uuid.UUID, reason string) (*models.Listing, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	listing, err := s.store.GetListingByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, ErrNotFound
	}

	listing.Reject(actor.ID, reason, time.Now())
	if err := s.store.UpdateListing(ctx, listing); err != nil {
		return nil, fmt.Errorf("reject listing: %w", err)
	}

	to := s.notifier.ResolveRecipient(ctx, listing.OwnerID, listing.ContactEmail, listing.ContactName)
	s.notifier.Dispatch(ctx, notify.EventRejected, to, notify.TemplateData{
		ListingTitle: listing.Title,
		RejectReason: reason,
	})

	return listing, nil
}

// UpdateInput carries the owner-editable fields; nil means unchanged.
type UpdateInput struct {
	Title        *string  `json:"title,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	City         *string  `json:"city,omitempty"`
	State        *string  `json:"state,omitempty"`
	PropertyType *string  `json:"propertyType,omitempty"`
	ListingType  *string  `json:"listingType,omitempty"`
	ContactPhone *string  `json:"contactPhone,omitempty"`
	Amenities    []string `json:"amenities,omitempty"`
}

// Update applies an owner or admin edit, recomputing every derived access
// key touched by the changed fields.
func (s *ReviewService) Update(ctx context.Context, actor identity.Identity, listingID uuid.UUID, in UpdateInput) (*models.Listing, error) {
	listing, err := s.authorizeMutation(ctx, actor, listingID)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		listing.Title = *in.Title
	}
	if in.Description != nil {
		listing.Description = *in.Description
	}
	if in.Price != nil {
		if *in.Price <= 0 {
			return nil, fmt.Errorf("price must be greater than 0")
		}
		listing.Price = *in.Price
	}
	if in.City != nil {
		listing.City = *in.City
	}
	if in.State != nil {
		listing.State = *in.State
	}
	if in.PropertyType != nil {
		if !models.ValidPropertyType(*in.PropertyType) {
			return nil, fmt.Errorf("unknown propertyType: %s", *in.PropertyType)
		}
		listing.PropertyType = models.PropertyType(*in.PropertyType)
	}
	if in.ListingType != nil {
		if !models.ValidListingType(*in.ListingType) {
			return nil, fmt.Errorf("unknown listingType: %s", *in.ListingType)
		}
		listing.ListingType = models.ListingType(*in.ListingType)
	}
	if in.ContactPhone != nil {
		listing.ContactPhone = *in.ContactPhone
	}
	if in.Amenities != nil {
		listing.Amenities = in.Amenities
	}

	listing.UpdatedAt = time.Now()
	listing.RecomputeKeys()

	if err := s.store.UpdateListing(ctx, listing); err != nil {
		return nil, fmt.Errorf("update listing: %w", err)
	}
	return listing, nil
}

// Delete removes a listing and its stored media.
func (s *ReviewService) Delete(ctx context.Context, actor identity.Identity, listingID uuid.UUID) error {
	listing, err := s.authorizeMutation(ctx, actor, listingID)
	if err != nil {
		return err
	}

	ownerRef := listing.ExternalID
	if ownerRef == "" {
		ownerRef = "anonymous"
	}
	if s.media != nil {
		if err := s.media.DeletePrefix(ctx, media.DestPrefix(ownerRef, listing.ID.String())+"/"); err != nil {
			// The record removal still proceeds; orphaned objects are
			// cheaper than an undeletable listing.
			log.Printf("Review: media cleanup for %s failed: %v", listing.ID, err)
		}
	}

	if err := s.store.DeleteListing(ctx, listingID); err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	return nil
}

// authorizeMutation loads the listing and enforces owner-or-admin.
func (s *ReviewService) authorizeMutation(ctx context.Context, actor identity.Identity, listingID uuid.UUID) (*models.Listing, error) {
	listing, err := s.store.GetListingByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, ErrNotFound
	}

	if actor.IsAdmin() {
		return listing, nil
	}
	if !actor.Authenticated() || listing.OwnerID == nil {
		return nil, ErrForbidden
	}

	acct, err := s.store.GetAccountByExternalID(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if acct == nil || acct.ID != *listing.OwnerID {
		return nil, ErrForbidden
	}
	return listing, nil
}
