package validate

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"propflow/models"
)

const (
	maxImages         = 20
	yearBuiltFloor    = 1600
	maxTitleLen       = 200
	maxDescriptionLen = 5000
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9\s\-().]{6,19}$`)
	zipPattern   = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
)

// Result is either a normalized listing or the full list of violations.
type Result struct {
	Valid      bool
	Normalized *models.Listing
	Errors     []string
}

// Listing checks a submission against every rule independently so the
// caller sees all violations in one pass, not just the first.
func Listing(in *models.ListingInput, now time.Time) Result {
	var errs []string

	type required struct {
		name  string
		empty bool
	}
	for _, f := range []required{
		{"title", strings.TrimSpace(in.Title) == ""},
		{"description", strings.TrimSpace(in.Description) == ""},
		{"address", strings.TrimSpace(in.Address) == ""},
		{"city", strings.TrimSpace(in.City) == ""},
		{"state", strings.TrimSpace(in.State) == ""},
		{"zipCode", strings.TrimSpace(in.ZipCode) == ""},
		{"propertyType", strings.TrimSpace(in.PropertyType) == ""},
		{"listingType", strings.TrimSpace(in.ListingType) == ""},
		{"contactName", strings.TrimSpace(in.ContactName) == ""},
		{"contactEmail", strings.TrimSpace(in.ContactEmail) == ""},
		{"contactPhone", strings.TrimSpace(in.ContactPhone) == ""},
	} {
		if f.empty {
			errs = append(errs, fmt.Sprintf("Missing required field: %s", f.name))
		}
	}

	if in.ContactEmail != "" && !emailPattern.MatchString(in.ContactEmail) {
		errs = append(errs, "Invalid email format: contactEmail")
	}
	if in.ContactPhone != "" && !phonePattern.MatchString(in.ContactPhone) {
		errs = append(errs, "Invalid phone format: contactPhone")
	}
	if in.ZipCode != "" && !zipPattern.MatchString(in.ZipCode) {
		errs = append(errs, "Invalid zip code format: zipCode")
	}

	if in.Price <= 0 {
		errs = append(errs, "price must be greater than 0")
	}
	if in.SquareFeet <= 0 {
		errs = append(errs, "squareFeet must be greater than 0")
	}
	if in.Bedrooms < 0 {
		errs = append(errs, "bedrooms must not be negative")
	}
	if in.Bathrooms < 0 {
		errs = append(errs, "bathrooms must not be negative")
	}

	if len(in.Images) == 0 {
		errs = append(errs, "at least one image is required")
	} else if len(in.Images) > maxImages {
		errs = append(errs, fmt.Sprintf("too many images: %d (max %d)", len(in.Images), maxImages))
	}

	if in.PropertyType != "" && !models.ValidPropertyType(in.PropertyType) {
		errs = append(errs, fmt.Sprintf("unknown propertyType: %s", in.PropertyType))
	}
	if in.ListingType != "" && !models.ValidListingType(in.ListingType) {
		errs = append(errs, fmt.Sprintf("unknown listingType: %s", in.ListingType))
	}

	if in.YearBuilt != nil {
		max := now.Year() + 1
		if *in.YearBuilt < yearBuiltFloor || *in.YearBuilt > max {
			errs = append(errs, fmt.Sprintf("yearBuilt must be between %d and %d", yearBuiltFloor, max))
		}
	}
	if in.LotSize != nil && *in.LotSize <= 0 {
		errs = append(errs, "lotSize must be greater than 0")
	}
	if in.ParkingSpaces != nil && *in.ParkingSpaces < 0 {
		errs = append(errs, "parkingSpaces must not be negative")
	}

	if len(errs) > 0 {
		return Result{Valid: false, Errors: errs}
	}

	return Result{Valid: true, Normalized: normalize(in, now)}
}

func normalize(in *models.ListingInput, now time.Time) *models.Listing {
	l := &models.Listing{
		Title:         truncate(strings.TrimSpace(in.Title), maxTitleLen),
		Description:   truncate(strings.TrimSpace(in.Description), maxDescriptionLen),
		Price:         in.Price,
		Address:       strings.TrimSpace(in.Address),
		City:          strings.TrimSpace(in.City),
		State:         strings.ToUpper(strings.TrimSpace(in.State)),
		ZipCode:       strings.TrimSpace(in.ZipCode),
		Bedrooms:      in.Bedrooms,
		Bathrooms:     in.Bathrooms,
		SquareFeet:    in.SquareFeet,
		PropertyType:  models.PropertyType(in.PropertyType),
		ListingType:   models.ListingType(in.ListingType),
		Images:        in.Images,
		ContactName:   strings.TrimSpace(in.ContactName),
		ContactEmail:  strings.ToLower(strings.TrimSpace(in.ContactEmail)),
		ContactPhone:  strings.TrimSpace(in.ContactPhone),
		Amenities:     in.Amenities,
		YearBuilt:     in.YearBuilt,
		LotSize:       in.LotSize,
		ParkingSpaces: in.ParkingSpaces,
		Status:        models.ListingStatusPending,
		IsPublic:      true,
		ExternalID:    in.ExternalID,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}
	l.RecomputeKeys()
	return l
}

// Report checks a report request. Same exhaustive style as Listing.
func Report(in *models.ReportInput) []string {
	var errs []string
	if strings.TrimSpace(in.Title) == "" {
		errs = append(errs, "Missing required field: title")
	}
	if strings.TrimSpace(in.Address) == "" {
		errs = append(errs, "Missing required field: address")
	}
	if strings.TrimSpace(in.City) == "" {
		errs = append(errs, "Missing required field: city")
	}
	if in.ReportType == "" {
		errs = append(errs, "Missing required field: reportType")
	} else if !models.ValidReportType(in.ReportType) {
		errs = append(errs, fmt.Sprintf("unknown reportType: %s", in.ReportType))
	}
	if in.Price <= 0 {
		errs = append(errs, "price must be greater than 0")
	}
	return errs
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
