package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"propflow/models"
	"propflow/notify"
	"propflow/storage"
)

// =============================================================================
// Fakes
// =============================================================================

type memStore struct {
	mu         sync.Mutex
	executions map[string]*models.Execution
	listings   map[uuid.UUID]*models.Listing
	accounts   map[string]*models.Account
	reports    map[uuid.UUID]*models.ReportRequest

	createListingCalls int
}

func newMemStore() *memStore {
	return &memStore{
		executions: map[string]*models.Execution{},
		listings:   map[uuid.UUID]*models.Listing{},
		accounts:   map[string]*models.Account{},
		reports:    map[uuid.UUID]*models.ReportRequest{},
	}
}

func (m *memStore) CreateExecution(_ context.Context, e *models.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[e.Name]; ok {
		return storage.ErrAlreadyExists
	}
	cp := *e
	m.executions[e.Name] = &cp
	return nil
}

func (m *memStore) UpdateExecution(_ context.Context, e *models.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.executions[e.Name]
	if !ok || stored.FinishedAt != nil {
		return pgx.ErrNoRows
	}
	cp := *e
	cp.UpdatedAt = time.Now()
	if cp.State.Terminal() {
		now := time.Now()
		cp.FinishedAt = &now
	}
	m.executions[e.Name] = &cp
	return nil
}

func (m *memStore) GetExecution(_ context.Context, name string) (*models.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.executions[name]
	if !ok {
		return nil, nil
	}
	cp := *stored
	return &cp, nil
}

func (m *memStore) GetStaleExecutions(_ context.Context, olderThan time.Duration, limit int) ([]models.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Execution
	cutoff := time.Now().Add(-olderThan)
	for _, e := range m.executions {
		if e.FinishedAt == nil && e.UpdatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memStore) CreateListing(_ context.Context, l *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createListingCalls++
	if _, ok := m.listings[l.ID]; ok {
		return storage.ErrAlreadyExists
	}
	cp := *l
	m.listings[l.ID] = &cp
	return nil
}

func (m *memStore) UpdateListing(_ context.Context, l *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listings[l.ID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *l
	m.listings[l.ID] = &cp
	return nil
}

func (m *memStore) GetListingByID(_ context.Context, id uuid.UUID) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.listings[id]
	if !ok {
		return nil, nil
	}
	cp := *stored
	return &cp, nil
}

func (m *memStore) UpsertAccount(_ context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.accounts[a.ExternalID]; ok {
		a.ID = existing.ID
		a.Tier = existing.Tier
		return nil
	}
	cp := *a
	m.accounts[a.ExternalID] = &cp
	return nil
}

func (m *memStore) GetAccountByExternalID(_ context.Context, externalID string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.accounts[externalID]
	if !ok {
		return nil, nil
	}
	cp := *stored
	return &cp, nil
}

func (m *memStore) CreateReportRequest(_ context.Context, r *models.ReportRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[r.ID]; ok {
		return storage.ErrAlreadyExists
	}
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *memStore) UpdateReportRequest(_ context.Context, r *models.ReportRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[r.ID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *memStore) GetReportRequestByID(_ context.Context, id uuid.UUID) (*models.ReportRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.reports[id]
	if !ok {
		return nil, nil
	}
	cp := *stored
	return &cp, nil
}

type fakeRelocator struct {
	fn    func(sources []string) ([]string, error)
	calls int
}

func (f *fakeRelocator) Relocate(_ context.Context, sources []string, destPrefix string) ([]string, error) {
	f.calls++
	if f.fn != nil {
		return f.fn(sources)
	}
	keys := make([]string, len(sources))
	for i := range sources {
		keys[i] = fmt.Sprintf("%s/image-%d.jpg", strings.TrimSuffix(destPrefix, "/"), i)
	}
	return keys, nil
}

type fakeArtifacts struct {
	mu       sync.Mutex
	uploads  map[string][]byte
	folders  []string
	presigns int
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{uploads: map[string][]byte{}}
}

func (f *fakeArtifacts) Upload(_ context.Context, key string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[key] = b
	return nil
}

func (f *fakeArtifacts) EnsureFolder(_ context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folders = append(f.folders, prefix)
	return nil
}

func (f *fakeArtifacts) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presigns++
	return "https://signed.example.com/" + key, nil
}

type sentEvent struct {
	evt notify.EventType
	to  notify.Recipient
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (f *fakeNotifier) ResolveRecipient(_ context.Context, _ *uuid.UUID, contactEmail, contactName string) notify.Recipient {
	return notify.Recipient{Email: contactEmail, Name: contactName}
}

func (f *fakeNotifier) Dispatch(_ context.Context, evt notify.EventType, to notify.Recipient, _ notify.TemplateData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEvent{evt: evt, to: to})
}

func (f *fakeNotifier) events() []notify.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]notify.EventType, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.evt
	}
	return out
}

type fakeSynth struct {
	err error
}

func (f *fakeSynth) Synthesize(_ context.Context, _ *models.ReportRequest) (*models.ReportSections, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.ReportSections{
		Summary:  "Strong entry-level market.",
		Insights: "Inventory is tight below 500k.",
		FullText: "## Executive Summary\nStrong entry-level market.",
	}, nil
}

type fakeRenderer struct {
	err error
}

func (f *fakeRenderer) Render(_ *models.ReportRequest, _ *models.ReportSections) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.4 fake"), nil
}

type env struct {
	store     *memStore
	relocator *fakeRelocator
	artifacts *fakeArtifacts
	notifier  *fakeNotifier
	synth     *fakeSynth
	renderer  *fakeRenderer
	orch      *Orchestrator
}

func newEnv(opts Options) *env {
	e := &env{
		store:     newMemStore(),
		relocator: &fakeRelocator{},
		artifacts: newFakeArtifacts(),
		notifier:  &fakeNotifier{},
		synth:     &fakeSynth{},
		renderer:  &fakeRenderer{},
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = time.Millisecond
	}
	e.orch = NewOrchestrator(e.store, e.relocator, e.artifacts, e.notifier, e.synth, e.renderer, opts)
	return e
}

func listingTrigger(propertyID string) ListingTrigger {
	return ListingTrigger{
		PropertyID: propertyID,
		Input: models.ListingInput{
			Title:        "Sunny 3BR Craftsman",
			Description:  "Renovated kitchen, large backyard.",
			Price:        450000,
			Address:      "42 Maple Street",
			City:         "Portland",
			State:        "OR",
			ZipCode:      "97201",
			Bedrooms:     3,
			Bathrooms:    2,
			SquareFeet:   1850,
			PropertyType: "house",
			ListingType:  "sale",
			Images:       []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.jpg"},
			ContactName:  "Dana Reyes",
			ContactEmail: "dana@example.com",
			ContactPhone: "5035550142",
		},
		SubmittedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func reportTrigger(reportID string) ReportTrigger {
	t := ReportTrigger{
		ReportID:    reportID,
		ExternalID:  "ext-1",
		RequestedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	t.Input.Title = "Sunny 3BR Craftsman"
	t.Input.Address = "42 Maple Street"
	t.Input.City = "Portland"
	t.Input.State = "OR"
	t.Input.Price = 450000
	t.Input.ReportType = "MARKET_ANALYSIS"
	return t
}

// =============================================================================
// Listing workflow
// =============================================================================

func TestListingWorkflow_Success(t *testing.T) {
	e := newEnv(Options{})
	trigger := listingTrigger(uuid.New().String())
	trigger.Input.ExternalID = "ext-7"

	// One of two images is dead; the workflow keeps the survivor.
	e.relocator.fn = func(sources []string) ([]string, error) {
		return []string{"listings/ext-7/" + trigger.PropertyID + "/image-0.jpg"}, nil
	}

	if err := e.orch.StartListing(context.Background(), trigger); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var exec *models.Execution
	for _, stored := range e.store.executions {
		exec = stored
	}
	if exec == nil || exec.State != models.StateSucceeded {
		t.Fatalf("expected SUCCEEDED execution, got %+v", exec)
	}

	id := uuid.MustParse(trigger.PropertyID)
	listing := e.store.listings[id]
	if listing == nil {
		t.Fatal("listing not stored")
	}
	if listing.Status != models.ListingStatusPending {
		t.Fatalf("expected PENDING_REVIEW, got %s", listing.Status)
	}
	if len(listing.Images) != 1 {
		t.Fatalf("expected 1 surviving image, got %v", listing.Images)
	}
	if listing.OwnerID == nil {
		t.Fatal("authenticated submission should link an account")
	}
	if _, ok := e.store.accounts["ext-7"]; !ok {
		t.Fatal("account not upserted")
	}
	if len(e.artifacts.folders) != 1 {
		t.Fatalf("expected folder creation, got %v", e.artifacts.folders)
	}

	events := e.notifier.events()
	if len(events) != 1 || events[0] != notify.EventSubmittedPending {
		t.Fatalf("expected one submission notification, got %v", events)
	}
}

func TestListingWorkflow_ValidationRejected(t *testing.T) {
	e := newEnv(Options{})
	trigger := listingTrigger(uuid.New().String())
	trigger.Input.ContactEmail = ""

	if err := e.orch.StartListing(context.Background(), trigger); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if len(e.store.listings) != 0 {
		t.Fatal("rejected submission must not store a listing")
	}

	var exec *models.Execution
	for _, stored := range e.store.executions {
		exec = stored
	}
	if exec.State != models.StateRejected {
		t.Fatalf("expected REJECTED, got %s", exec.State)
	}

	res, err := e.orch.Status(context.Background(), exec.Name)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if res.Status != models.StatusFailed {
		t.Fatalf("expected FAILED status, got %s", res.Status)
	}
	found := false
	for _, msg := range res.Errors {
		if msg == "Missing required field: contactEmail" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected exact validation message, got %v", res.Errors)
	}

	if len(e.notifier.events()) != 0 {
		t.Fatal("rejected submissions are not notified by the pipeline")
	}
}

func TestStartListing_DuplicateTriggerIgnored(t *testing.T) {
	e := newEnv(Options{})
	trigger := listingTrigger(uuid.New().String())

	if err := e.orch.StartListing(context.Background(), trigger); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if err := e.orch.StartListing(context.Background(), trigger); err != nil {
		t.Fatalf("redelivery must be absorbed, got %v", err)
	}

	if len(e.store.executions) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(e.store.executions))
	}
	if e.store.createListingCalls != 1 {
		t.Fatalf("expected 1 listing insert, got %d", e.store.createListingCalls)
	}
}

func TestListingWorkflow_RelocationExhaustsRetries(t *testing.T) {
	e := newEnv(Options{MaxAttempts: 2})
	e.relocator.fn = func([]string) ([]string, error) {
		return nil, fmt.Errorf("bucket unreachable")
	}

	trigger := listingTrigger(uuid.New().String())
	if err := e.orch.StartListing(context.Background(), trigger); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if e.relocator.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", e.relocator.calls)
	}

	var exec *models.Execution
	for _, stored := range e.store.executions {
		exec = stored
	}
	if exec.State != models.StateFailed {
		t.Fatalf("expected FAILED, got %s", exec.State)
	}
	if exec.LastError == "" {
		t.Fatal("terminal failure should record the error")
	}
}

func TestTerminalExecutionIsImmutable(t *testing.T) {
	e := newEnv(Options{})
	trigger := listingTrigger(uuid.New().String())
	if err := e.orch.StartListing(context.Background(), trigger); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var exec *models.Execution
	for _, stored := range e.store.executions {
		exec = stored
	}
	if exec.State != models.StateSucceeded {
		t.Fatalf("precondition: expected SUCCEEDED, got %s", exec.State)
	}

	if err := e.store.UpdateExecution(context.Background(), exec); err == nil {
		t.Fatal("terminal execution row must not accept updates")
	}
	if err := e.orch.RetryExecution(context.Background(), exec.Name); err == nil {
		t.Fatal("retrying a terminal execution must be refused")
	}
}

func TestResumeStale_ContinuesFromPersistedStage(t *testing.T) {
	e := newEnv(Options{})
	trigger := listingTrigger(uuid.New().String())

	// Simulate a crash after STORING was entered but before the listing
	// row landed.
	out := output{}
	out.set("trigger", trigger)
	out.set("propertyId", trigger.PropertyID)
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	e.store.executions[identityName(trigger)] = &models.Execution{
		Name:      identityName(trigger),
		Kind:      models.ExecutionKindListing,
		EntityID:  trigger.PropertyID,
		State:     models.StateStoring,
		Output:    raw,
		StartedAt: time.Now().Add(-time.Hour),
		UpdatedAt: time.Now().Add(-time.Hour),
	}

	resumed, err := e.orch.ResumeStale(context.Background(), 5*time.Minute, 10)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed != 1 {
		t.Fatalf("expected 1 resumed execution, got %d", resumed)
	}

	exec, _ := e.store.GetExecution(context.Background(), identityName(trigger))
	if exec.State != models.StateSucceeded {
		t.Fatalf("expected SUCCEEDED after resume, got %s", exec.State)
	}
	if _, ok := e.store.listings[uuid.MustParse(trigger.PropertyID)]; !ok {
		t.Fatal("resumed execution should have stored the listing")
	}
	if len(e.artifacts.folders) != 0 {
		t.Fatal("resume must not re-run the completed preparation stage")
	}
}

type downSender struct {
	attempts int
}

func (d *downSender) Send(context.Context, notify.Message) error {
	d.attempts++
	return fmt.Errorf("provider unavailable")
}

func TestWorkflows_SucceedWhenMailProviderIsDown(t *testing.T) {
	e := newEnv(Options{})
	sender := &downSender{}
	e.orch.notifier = notify.NewDispatcher(sender, nil)

	listing := listingTrigger(uuid.New().String())
	if err := e.orch.StartListing(context.Background(), listing); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	exec, _ := e.store.GetExecution(context.Background(), identityName(listing))
	if exec.State != models.StateSucceeded {
		t.Fatalf("listing must succeed despite mail failure, got %s (%s)", exec.State, exec.LastError)
	}
	if sender.attempts == 0 {
		t.Fatal("send was never attempted")
	}

	e.store.accounts["ext-1"] = &models.Account{ID: uuid.New(), ExternalID: "ext-1", Email: "dana@example.com", Tier: models.TierPaid}
	report := reportTrigger(uuid.New().String())
	if err := e.orch.StartReport(context.Background(), report); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	for _, stored := range e.store.executions {
		if stored.Kind == models.ExecutionKindReport && stored.State != models.StateSucceeded {
			t.Fatalf("report must succeed despite mail failure, got %s (%s)", stored.State, stored.LastError)
		}
	}
}

func identityName(trigger ListingTrigger) string {
	return fmt.Sprintf("listing-%s-%d", trigger.PropertyID, trigger.SubmittedAt.UTC().Unix())
}

// =============================================================================
// Report workflow
// =============================================================================

func TestReportWorkflow_Success(t *testing.T) {
	e := newEnv(Options{})
	acctID := uuid.New()
	e.store.accounts["ext-1"] = &models.Account{ID: acctID, ExternalID: "ext-1", Email: "dana@example.com", Tier: models.TierPaid}

	trigger := reportTrigger(uuid.New().String())
	if err := e.orch.StartReport(context.Background(), trigger); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var exec *models.Execution
	for _, stored := range e.store.executions {
		exec = stored
	}
	if exec.State != models.StateSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", exec.State, exec.LastError)
	}

	req := e.store.reports[uuid.MustParse(trigger.ReportID)]
	if req == nil {
		t.Fatal("report request not materialized")
	}
	if req.Sections == nil || req.Sections.Summary == "" {
		t.Fatal("sections not persisted")
	}
	if req.ArtifactKey == "" || !strings.HasPrefix(req.ArtifactKey, "ext-1/reports/") || !strings.HasSuffix(req.ArtifactKey, ".pdf") {
		t.Fatalf("unexpected artifact key %q", req.ArtifactKey)
	}
	if !req.NotificationSent {
		t.Fatal("notification flag not set")
	}
	if req.OwnerID == nil || *req.OwnerID != acctID {
		t.Fatal("report not linked to the owning account")
	}

	if _, ok := e.artifacts.uploads[req.ArtifactKey]; !ok {
		t.Fatalf("artifact not uploaded, have %v", e.artifacts.uploads)
	}

	events := e.notifier.events()
	if len(events) != 1 || events[0] != notify.EventReportReady {
		t.Fatalf("expected report-ready notification, got %v", events)
	}
}

func TestReportWorkflow_RenderFailureNeverYieldsArtifact(t *testing.T) {
	e := newEnv(Options{MaxAttempts: 2})
	e.renderer.err = fmt.Errorf("font table corrupt")

	trigger := reportTrigger(uuid.New().String())
	if err := e.orch.StartReport(context.Background(), trigger); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var exec *models.Execution
	for _, stored := range e.store.executions {
		exec = stored
	}
	if exec.State != models.StateFailed {
		t.Fatalf("expected FAILED, got %s", exec.State)
	}
	if len(e.artifacts.uploads) != 0 {
		t.Fatal("failed render must not upload anything")
	}

	res, err := e.orch.Status(context.Background(), exec.Name)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if res.Status != models.StatusFailed {
		t.Fatalf("expected FAILED status, got %s", res.Status)
	}
	if res.DownloadURL != "" || res.ArtifactKey != "" {
		t.Fatalf("failed report must never expose an artifact: %+v", res)
	}
}

func TestReportWorkflow_InvalidInputRejected(t *testing.T) {
	e := newEnv(Options{})
	trigger := reportTrigger(uuid.New().String())
	trigger.Input.ReportType = "VIBES_CHECK"

	if err := e.orch.StartReport(context.Background(), trigger); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var exec *models.Execution
	for _, stored := range e.store.executions {
		exec = stored
	}
	if exec.State != models.StateRejected {
		t.Fatalf("expected REJECTED, got %s", exec.State)
	}
	if len(e.store.reports) != 0 {
		t.Fatal("rejected request must not be materialized")
	}
}

func TestStatus_FreshURLPerPoll(t *testing.T) {
	e := newEnv(Options{})
	e.store.accounts["ext-1"] = &models.Account{ID: uuid.New(), ExternalID: "ext-1", Email: "dana@example.com", Tier: models.TierPaid}

	trigger := reportTrigger(uuid.New().String())
	if err := e.orch.StartReport(context.Background(), trigger); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var exec *models.Execution
	for _, stored := range e.store.executions {
		exec = stored
	}

	before := e.artifacts.presigns
	res1, err := e.orch.Status(context.Background(), exec.Name)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	res2, err := e.orch.Status(context.Background(), exec.Name)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if res1.Status != models.StatusCompleted || res1.DownloadURL == "" {
		t.Fatalf("expected completed with URL, got %+v", res1)
	}
	if e.artifacts.presigns != before+2 {
		t.Fatalf("each poll must mint a fresh URL, presigns went %d -> %d", before, e.artifacts.presigns)
	}
	if res2.DownloadURL == "" {
		t.Fatal("second poll lost the URL")
	}
}

func TestStatus_UnknownExecution(t *testing.T) {
	e := newEnv(Options{})
	res, err := e.orch.Status(context.Background(), "listing-nope-0")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if res.Status != models.StatusUnknown {
		t.Fatalf("expected UNKNOWN, got %s", res.Status)
	}
}
