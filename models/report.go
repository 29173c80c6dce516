package models

import (
	"time"

	"github.com/google/uuid"
)

type ReportType string

const (
	ReportTypeMarketAnalysis      ReportType = "MARKET_ANALYSIS"
	ReportTypeInvestmentAnalysis  ReportType = "INVESTMENT_ANALYSIS"
	ReportTypeComparativeAnalysis ReportType = "COMPARATIVE_ANALYSIS"
	ReportTypeListingOptimization ReportType = "LISTING_OPTIMIZATION"
	ReportTypeCustom              ReportType = "CUSTOM"
)

func ValidReportType(s string) bool {
	switch ReportType(s) {
	case ReportTypeMarketAnalysis, ReportTypeInvestmentAnalysis, ReportTypeComparativeAnalysis,
		ReportTypeListingOptimization, ReportTypeCustom:
		return true
	}
	return false
}

// PropertySnapshot is the frozen view of a property that a report is
// generated from. It is copied into the report request at request time so
// later edits to the listing never change an in-flight report.
type PropertySnapshot struct {
	Title        string   `json:"title"`
	Address      string   `json:"address"`
	City         string   `json:"city"`
	State        string   `json:"state"`
	ZipCode      string   `json:"zipCode"`
	Price        float64  `json:"price"`
	Bedrooms     int      `json:"bedrooms"`
	Bathrooms    int      `json:"bathrooms"`
	SquareFeet   int      `json:"squareFeet"`
	PropertyType string   `json:"propertyType"`
	ListingType  string   `json:"listingType"`
	YearBuilt    *int     `json:"yearBuilt,omitempty"`
	LotSize      *float64 `json:"lotSize,omitempty"`
	Amenities    []string `json:"amenities,omitempty"`
}

// ReportSections holds whatever named sections the synthesis stage managed
// to extract. Absence of a section is normal, not an error.
type ReportSections struct {
	Summary         string `json:"summary,omitempty"`
	Insights        string `json:"insights,omitempty"`
	Recommendations string `json:"recommendations,omitempty"`
	FullText        string `json:"fullText,omitempty"`
}

// ReportRequest is an AI analysis job. It is only ever appended to by the
// pipeline and queried by execution name or owner, never edited by users.
type ReportRequest struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	OwnerID           *uuid.UUID       `json:"owner_id,omitempty" db:"owner_id"`
	ExternalID        string           `json:"external_id,omitempty" db:"external_id"`
	Snapshot          PropertySnapshot `json:"snapshot" db:"snapshot"`
	ReportType        ReportType       `json:"report_type" db:"report_type"`
	AdditionalContext string           `json:"additional_context,omitempty" db:"additional_context"`
	IncludeAmenities  bool             `json:"include_amenities" db:"include_amenities"`
	Sections          *ReportSections  `json:"sections,omitempty" db:"sections"`
	ArtifactKey       string           `json:"artifact_key,omitempty" db:"artifact_key"`
	NotificationSent  bool             `json:"notification_sent" db:"notification_sent"`
	ExecutionName     string           `json:"execution_name" db:"execution_name"`
	FailureReason     string           `json:"failure_reason,omitempty" db:"failure_reason"`
	RequestedAt       time.Time        `json:"requested_at" db:"requested_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// ReportInput is the raw report-request payload.
type ReportInput struct {
	PropertySnapshot
	ReportType        string `json:"reportType"`
	AdditionalContext string `json:"additionalContext,omitempty"`
	IncludeAmenities  bool   `json:"includeDetailedAmenities,omitempty"`
}
