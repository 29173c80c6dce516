package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ListingStatus string

const (
	ListingStatusPending  ListingStatus = "PENDING_REVIEW"
	ListingStatusActive   ListingStatus = "ACTIVE"
	ListingStatusRejected ListingStatus = "REJECTED"
)

type PropertyType string

const (
	PropertyTypeHouse     PropertyType = "house"
	PropertyTypeCondo     PropertyType = "condo"
	PropertyTypeTownhouse PropertyType = "townhouse"
	PropertyTypeLand      PropertyType = "land"
	PropertyTypeMultiUnit PropertyType = "multi_unit"
	PropertyTypeOther     PropertyType = "other"
)

type ListingType string

const (
	ListingTypeSale ListingType = "sale"
	ListingTypeRent ListingType = "rent"
)

func ValidPropertyType(s string) bool {
	switch PropertyType(s) {
	case PropertyTypeHouse, PropertyTypeCondo, PropertyTypeTownhouse, PropertyTypeLand, PropertyTypeMultiUnit, PropertyTypeOther:
		return true
	}
	return false
}

func ValidListingType(s string) bool {
	switch ListingType(s) {
	case ListingTypeSale, ListingTypeRent:
		return true
	}
	return false
}

// Listing is a property submission with a review lifecycle.
type Listing struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	Title         string        `json:"title" db:"title"`
	Description   string        `json:"description" db:"description"`
	Price         float64       `json:"price" db:"price"`
	Address       string        `json:"address" db:"address"`
	City          string        `json:"city" db:"city"`
	State         string        `json:"state" db:"state"`
	ZipCode       string        `json:"zip_code" db:"zip_code"`
	Bedrooms      int           `json:"bedrooms" db:"bedrooms"`
	Bathrooms     int           `json:"bathrooms" db:"bathrooms"`
	SquareFeet    int           `json:"square_feet" db:"square_feet"`
	PropertyType  PropertyType  `json:"property_type" db:"property_type"`
	ListingType   ListingType   `json:"listing_type" db:"listing_type"`
	Images        []string      `json:"images" db:"images"`
	ContactName   string        `json:"contact_name" db:"contact_name"`
	ContactEmail  string        `json:"contact_email" db:"contact_email"`
	ContactPhone  string        `json:"contact_phone" db:"contact_phone"`
	Amenities     []string      `json:"amenities,omitempty" db:"amenities"`
	YearBuilt     *int          `json:"year_built,omitempty" db:"year_built"`
	LotSize       *float64      `json:"lot_size,omitempty" db:"lot_size"`
	ParkingSpaces *int          `json:"parking_spaces,omitempty" db:"parking_spaces"`
	Status        ListingStatus `json:"status" db:"status"`
	IsPublic      bool          `json:"is_public" db:"is_public"`
	OwnerID       *uuid.UUID    `json:"owner_id,omitempty" db:"owner_id"`
	ExternalID    string        `json:"external_id,omitempty" db:"external_id"`
	SubmittedAt   time.Time     `json:"submitted_at" db:"submitted_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
	ApprovedAt    *time.Time    `json:"approved_at,omitempty" db:"approved_at"`
	ApprovedBy    string        `json:"approved_by,omitempty" db:"approved_by"`
	RejectedAt    *time.Time    `json:"rejected_at,omitempty" db:"rejected_at"`
	RejectedBy    string        `json:"rejected_by,omitempty" db:"rejected_by"`
	RejectReason  string        `json:"reject_reason,omitempty" db:"reject_reason"`

	// Denormalized access keys, derived from the attributes above.
	StatusKey   string `json:"-" db:"status_key"`
	LocationKey string `json:"-" db:"location_key"`
	TypeKey     string `json:"-" db:"type_key"`
	ListingKey  string `json:"-" db:"listing_key"`
	OwnerKey    string `json:"-" db:"owner_key"`
}

// RecomputeKeys refreshes every denormalized access key from the primary
// attributes. Must be called before any write that touches status, price,
// city, state, property type, listing type, or owner.
func (l *Listing) RecomputeKeys() {
	ts := l.SubmittedAt.UTC().Unix()
	l.StatusKey = fmt.Sprintf("%s#%011d", l.Status, ts)
	l.LocationKey = fmt.Sprintf("%s#%s#%012.2f", normalizeKeyPart(l.City), normalizeKeyPart(l.State), l.Price)
	l.TypeKey = fmt.Sprintf("%s#%011d", l.PropertyType, ts)
	l.ListingKey = fmt.Sprintf("%s#%012.2f", l.ListingType, l.Price)
	if l.OwnerID != nil {
		l.OwnerKey = fmt.Sprintf("%s#%011d", l.OwnerID, ts)
	} else {
		l.OwnerKey = fmt.Sprintf("anonymous#%011d", ts)
	}
}

// Approve moves a listing to ACTIVE. Visibility is left as-is.
func (l *Listing) Approve(actor string, at time.Time) {
	l.Status = ListingStatusActive
	l.ApprovedAt = &at
	l.ApprovedBy = actor
	l.RejectedAt = nil
	l.RejectedBy = ""
	l.RejectReason = ""
	l.UpdatedAt = at
	l.RecomputeKeys()
}

// Reject moves a listing to REJECTED and always hides it.
func (l *Listing) Reject(actor, reason string, at time.Time) {
	l.Status = ListingStatusRejected
	l.IsPublic = false
	l.RejectedAt = &at
	l.RejectedBy = actor
	l.RejectReason = reason
	l.ApprovedAt = nil
	l.ApprovedBy = ""
	l.UpdatedAt = at
	l.RecomputeKeys()
}

// ListingInput is the raw submission payload before validation.
type ListingInput struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Price         float64  `json:"price"`
	Address       string   `json:"address"`
	City          string   `json:"city"`
	State         string   `json:"state"`
	ZipCode       string   `json:"zipCode"`
	Bedrooms      int      `json:"bedrooms"`
	Bathrooms     int      `json:"bathrooms"`
	SquareFeet    int      `json:"squareFeet"`
	PropertyType  string   `json:"propertyType"`
	ListingType   string   `json:"listingType"`
	Images        []string `json:"images"`
	ContactName   string   `json:"contactName"`
	ContactEmail  string   `json:"contactEmail"`
	ContactPhone  string   `json:"contactPhone"`
	Amenities     []string `json:"amenities,omitempty"`
	YearBuilt     *int     `json:"yearBuilt,omitempty"`
	LotSize       *float64 `json:"lotSize,omitempty"`
	ParkingSpaces *int     `json:"parkingSpaces,omitempty"`
	UserID        string   `json:"userId,omitempty"`
	ExternalID    string   `json:"cognitoUserId,omitempty"`
}
