package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"propflow/identity"
	"propflow/models"
	"propflow/pipeline"
	"propflow/services"
)

const defaultListLimit = 50

// acceptedResponse is the 202 body for async submissions. The execution
// name is the handle clients poll with.
type acceptedResponse struct {
	ID            string `json:"id"`
	ExecutionName string `json:"executionName"`
	Message       string `json:"message"`
}

// submitListing accepts a submission after a structural decode only.
// Field validation happens in the pipeline so the client gets a fast 202
// and the outcome by notification or by polling the execution.
func (s *Server) submitListing(w http.ResponseWriter, r *http.Request) {
	var input models.ListingInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if actor := actorFrom(r); actor.Authenticated() {
		input.ExternalID = actor.ID
	}

	propertyID := uuid.New().String()
	trigger := pipeline.ListingTrigger{
		PropertyID:  propertyID,
		Input:       input,
		SubmittedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(trigger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.producer.Publish(r.Context(), s.queueCfg.ListingsTopic, propertyID, payload); err != nil {
		mapServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{
		ID:            propertyID,
		ExecutionName: identity.ExecutionName(string(models.ExecutionKindListing), propertyID, trigger.SubmittedAt),
		Message:       "Listing submitted for processing. You will be notified of the outcome.",
	})
}

// queryListings serves the secondary access paths. Exactly one filter
// applies per request, matching how the keys are indexed.
func (s *Server) queryListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultListLimit
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 && n <= 200 {
		limit = n
	}

	var (
		listings []models.Listing
		err      error
	)
	ctx := r.Context()
	switch {
	case q.Get("status") != "":
		listings, err = s.store.ListListingsByStatus(ctx, models.ListingStatus(q.Get("status")), limit)
	case q.Get("city") != "":
		listings, err = s.store.ListListingsByLocation(ctx, q.Get("city"), q.Get("state"), limit)
	case q.Get("propertyType") != "":
		listings, err = s.store.ListListingsByPropertyType(ctx, models.PropertyType(q.Get("propertyType")), limit)
	case q.Get("listingType") != "":
		listings, err = s.store.ListListingsByListingType(ctx, models.ListingType(q.Get("listingType")), limit)
	case q.Get("mine") == "true":
		listings, err = s.listOwnListings(r, limit)
	default:
		listings, err = s.store.ListListingsByStatus(ctx, models.ListingStatusActive, limit)
	}
	if err != nil {
		mapServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": s.visibleTo(actorFrom(r), listings),
		"count": len(listings),
	})
}

func (s *Server) listOwnListings(r *http.Request, limit int) ([]models.Listing, error) {
	actor := actorFrom(r)
	if !actor.Authenticated() {
		return nil, services.ErrForbidden
	}
	acct, err := s.store.GetAccountByExternalID(r.Context(), actor.ID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return []models.Listing{}, nil
	}
	return s.store.ListListingsByOwner(r.Context(), acct.ID, limit)
}

// visibleTo filters hidden listings for everyone but admins and owners.
func (s *Server) visibleTo(actor identity.Identity, listings []models.Listing) []models.Listing {
	if actor.IsAdmin() {
		return listings
	}
	visible := make([]models.Listing, 0, len(listings))
	for _, l := range listings {
		if l.IsPublic || (actor.Authenticated() && l.ExternalID == actor.ID) {
			visible = append(visible, l)
		}
	}
	return visible
}

func (s *Server) getListing(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	listing, err := s.store.GetListingByID(r.Context(), id)
	if err != nil {
		mapServiceError(w, err)
		return
	}
	if listing == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	actor := actorFrom(r)
	if !listing.IsPublic && !actor.IsAdmin() && !(actor.Authenticated() && listing.ExternalID == actor.ID) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) updateListing(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	var input services.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	listing, err := s.review.Update(r.Context(), actorFrom(r), id, input)
	if err != nil {
		mapServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) deleteListing(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	if err := s.review.Delete(r.Context(), actorFrom(r), id); err != nil {
		mapServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "listing deleted"})
}

// submitReport gates on account tier synchronously, then queues. The
// permission answer must be immediate; only the generation itself is
// deferred.
func (s *Server) submitReport(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !actor.Authenticated() {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	acct, err := s.store.GetAccountByExternalID(r.Context(), actor.ID)
	if err != nil {
		mapServiceError(w, err)
		return
	}
	if acct == nil || !acct.CanRequestReports() {
		writeError(w, http.StatusForbidden, "report generation requires a paid account")
		return
	}

	var input models.ReportInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	reportID := uuid.New().String()
	trigger := pipeline.ReportTrigger{
		ReportID:    reportID,
		ExternalID:  actor.ID,
		Input:       input,
		RequestedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(trigger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.producer.Publish(r.Context(), s.queueCfg.ReportsTopic, reportID, payload); err != nil {
		mapServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{
		ID:            reportID,
		ExecutionName: identity.ExecutionName(string(models.ExecutionKindReport), reportID, trigger.RequestedAt),
		Message:       "Report requested. You will be notified when it is ready.",
	})
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !actor.Authenticated() {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	acct, err := s.store.GetAccountByExternalID(r.Context(), actor.ID)
	if err != nil {
		mapServiceError(w, err)
		return
	}
	if acct == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []models.ReportRequest{}, "count": 0})
		return
	}

	reports, err := s.store.ListReportRequestsByOwner(r.Context(), acct.ID, defaultListLimit)
	if err != nil {
		mapServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": reports, "count": len(reports)})
}

func (s *Server) executionStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	res, err := s.orchestrator.Status(r.Context(), name)
	if err != nil {
		mapServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) executionLogs(w http.ResponseWriter, r *http.Request) {
	if !actorFrom(r).IsAdmin() {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	name := chi.URLParam(r, "name")
	logs, err := s.ops.GetLogsForExecution(name, 200)
	if err != nil {
		mapServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": logs, "count": len(logs)})
}

// =============================================================================
// Admin
// =============================================================================

func (s *Server) approveListing(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	listing, err := s.review.Approve(r.Context(), actorFrom(r), id)
	if err != nil {
		mapServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) rejectListing(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.Reason) == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	listing, err := s.review.Reject(r.Context(), actorFrom(r), id, body.Reason)
	if err != nil {
		mapServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) upgradeAccount(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var body struct {
		Tier string `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	acct, err := s.accounts.Upgrade(r.Context(), actorFrom(r), id, models.AccountTier(body.Tier))
	if err != nil {
		if strings.HasPrefix(err.Error(), "unknown tier") {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		mapServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}
