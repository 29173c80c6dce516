package validate

import (
	"strings"
	"testing"
	"time"

	"propflow/models"
)

func validInput() *models.ListingInput {
	return &models.ListingInput{
		Title:        "Sunny 3BR Craftsman",
		Description:  "Renovated kitchen, large backyard, walk to schools.",
		Price:        450000,
		Address:      "42 Maple Street",
		City:         "Portland",
		State:        "or",
		ZipCode:      "97201",
		Bedrooms:     3,
		Bathrooms:    2,
		SquareFeet:   1850,
		PropertyType: "house",
		ListingType:  "sale",
		Images:       []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.jpg"},
		ContactName:  "Dana Reyes",
		ContactEmail: "Dana.Reyes@Example.com",
		ContactPhone: "+1 503-555-0142",
	}
}

func TestListing_Valid(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	res := Listing(validInput(), now)
	if !res.Valid {
		t.Fatalf("expected valid, got errors: %v", res.Errors)
	}
	l := res.Normalized
	if l.Status != models.ListingStatusPending {
		t.Fatalf("expected PENDING_REVIEW, got %s", l.Status)
	}
	if !l.IsPublic {
		t.Fatal("new listings should be public")
	}
	if l.State != "OR" {
		t.Fatalf("state not uppercased: %s", l.State)
	}
	if l.ContactEmail != "dana.reyes@example.com" {
		t.Fatalf("email not lowercased: %s", l.ContactEmail)
	}
	if l.StatusKey == "" || l.LocationKey == "" || l.TypeKey == "" || l.ListingKey == "" || l.OwnerKey == "" {
		t.Fatalf("derived keys not computed: %+v", l)
	}
	if !strings.HasPrefix(l.StatusKey, "PENDING_REVIEW#") {
		t.Fatalf("unexpected status key %s", l.StatusKey)
	}
}

func TestListing_MissingContactEmail(t *testing.T) {
	in := validInput()
	in.ContactEmail = ""

	res := Listing(in, time.Now())
	if res.Valid {
		t.Fatal("expected invalid")
	}
	if res.Normalized != nil {
		t.Fatal("invalid input must not produce a listing")
	}

	found := false
	for _, e := range res.Errors {
		if e == "Missing required field: contactEmail" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected exact missing-field error, got %v", res.Errors)
	}
}

func TestListing_CollectsAllViolations(t *testing.T) {
	in := validInput()
	in.Title = ""
	in.ContactEmail = "not-an-email"
	in.Price = 0
	in.Images = nil
	in.PropertyType = "castle"

	res := Listing(in, time.Now())
	if res.Valid {
		t.Fatal("expected invalid")
	}
	want := []string{
		"Missing required field: title",
		"Invalid email format: contactEmail",
		"price must be greater than 0",
		"at least one image is required",
		"unknown propertyType: castle",
	}
	for _, w := range want {
		found := false
		for _, e := range res.Errors {
			if e == w {
				found = true
			}
		}
		if !found {
			t.Fatalf("missing violation %q in %v", w, res.Errors)
		}
	}
}

func TestListing_EmptyFieldSkipsFormatCheck(t *testing.T) {
	in := validInput()
	in.ZipCode = ""

	res := Listing(in, time.Now())
	for _, e := range res.Errors {
		if e == "Invalid zip code format: zipCode" {
			t.Fatalf("empty zip should only report the missing-field error, got %v", res.Errors)
		}
	}
}

func TestListing_TooManyImages(t *testing.T) {
	in := validInput()
	in.Images = make([]string, 21)
	for i := range in.Images {
		in.Images[i] = "https://cdn.example.com/img.jpg"
	}

	res := Listing(in, time.Now())
	if res.Valid {
		t.Fatal("expected invalid")
	}
	if res.Errors[0] != "too many images: 21 (max 20)" {
		t.Fatalf("unexpected error %q", res.Errors[0])
	}
}

func TestListing_YearBuiltBounds(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		year int
		ok   bool
	}{
		{1599, false},
		{1600, true},
		{2027, true},
		{2028, false},
	}
	for _, tc := range cases {
		in := validInput()
		in.YearBuilt = &tc.year
		res := Listing(in, now)
		if res.Valid != tc.ok {
			t.Fatalf("yearBuilt %d: expected valid=%v, got errors %v", tc.year, tc.ok, res.Errors)
		}
	}
}

func TestListing_PhoneFormats(t *testing.T) {
	good := []string{"+1 503-555-0142", "5035550142", "503 (555) 0142"}
	for _, p := range good {
		in := validInput()
		in.ContactPhone = p
		if res := Listing(in, time.Now()); !res.Valid {
			t.Fatalf("phone %q rejected: %v", p, res.Errors)
		}
	}

	bad := []string{"123", "call me maybe"}
	for _, p := range bad {
		in := validInput()
		in.ContactPhone = p
		if res := Listing(in, time.Now()); res.Valid {
			t.Fatalf("phone %q should be rejected", p)
		}
	}
}

func TestReport_Validation(t *testing.T) {
	in := &models.ReportInput{
		ReportType: "MARKET_ANALYSIS",
	}
	in.Title = "Sunny 3BR Craftsman"
	in.Address = "42 Maple Street"
	in.City = "Portland"
	in.Price = 450000

	if errs := Report(in); len(errs) != 0 {
		t.Fatalf("expected valid, got %v", errs)
	}

	in.ReportType = "VIBES_CHECK"
	errs := Report(in)
	if len(errs) != 1 || errs[0] != "unknown reportType: VIBES_CHECK" {
		t.Fatalf("unexpected errors %v", errs)
	}
}
