package pipeline

import (
	"time"

	"propflow/models"
)

// ListingTrigger is the queue payload that starts a listing-submission
// workflow. SubmittedAt is set by the producer, not the consumer, so a
// redelivered message derives the same execution name.
type ListingTrigger struct {
	PropertyID  string              `json:"propertyId"`
	Input       models.ListingInput `json:"input"`
	SubmittedAt time.Time           `json:"submittedAt"`
}

// ReportTrigger starts a report-generation workflow.
type ReportTrigger struct {
	ReportID    string             `json:"reportId"`
	UserID      string             `json:"userId,omitempty"`
	ExternalID  string             `json:"cognitoUserId,omitempty"`
	Input       models.ReportInput `json:"input"`
	RequestedAt time.Time          `json:"requestedAt"`
}

// ownerRef returns the external identity string a report's artifacts are
// filed under.
func (t *ReportTrigger) ownerRef() string {
	if t.ExternalID != "" {
		return t.ExternalID
	}
	if t.UserID != "" {
		return t.UserID
	}
	return "anonymous"
}
