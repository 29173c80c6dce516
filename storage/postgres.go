package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"propflow/models"
)

// ErrAlreadyExists is returned by conditional creates when the id (or
// execution name) is already present. Callers treat it as "someone else
// won", not as a failure.
var ErrAlreadyExists = errors.New("record already exists")

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Migrate creates the schema if it is missing. Safe to run on every start.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		external_id TEXT UNIQUE NOT NULL,
		email TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL DEFAULT 'user',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS listings (
		id UUID PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		address TEXT NOT NULL,
		city TEXT NOT NULL,
		state TEXT NOT NULL,
		zip_code TEXT NOT NULL,
		bedrooms INT NOT NULL,
		bathrooms INT NOT NULL,
		square_feet INT NOT NULL,
		property_type TEXT NOT NULL,
		listing_type TEXT NOT NULL,
		images TEXT[] NOT NULL DEFAULT '{}',
		contact_name TEXT NOT NULL,
		contact_email TEXT NOT NULL,
		contact_phone TEXT NOT NULL,
		amenities TEXT[],
		year_built INT,
		lot_size DOUBLE PRECISION,
		parking_spaces INT,
		status TEXT NOT NULL,
		is_public BOOLEAN NOT NULL DEFAULT TRUE,
		owner_id UUID REFERENCES accounts(id),
		external_id TEXT NOT NULL DEFAULT '',
		submitted_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		approved_at TIMESTAMPTZ,
		approved_by TEXT NOT NULL DEFAULT '',
		rejected_at TIMESTAMPTZ,
		rejected_by TEXT NOT NULL DEFAULT '',
		reject_reason TEXT NOT NULL DEFAULT '',
		status_key TEXT NOT NULL,
		location_key TEXT NOT NULL,
		type_key TEXT NOT NULL,
		listing_key TEXT NOT NULL,
		owner_key TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_listings_status_key ON listings(status_key);
	CREATE INDEX IF NOT EXISTS idx_listings_location_key ON listings(location_key);
	CREATE INDEX IF NOT EXISTS idx_listings_type_key ON listings(type_key);
	CREATE INDEX IF NOT EXISTS idx_listings_listing_key ON listings(listing_key);
	CREATE INDEX IF NOT EXISTS idx_listings_owner_key ON listings(owner_key);

	CREATE TABLE IF NOT EXISTS report_requests (
		id UUID PRIMARY KEY,
		owner_id UUID REFERENCES accounts(id),
		external_id TEXT NOT NULL DEFAULT '',
		snapshot JSONB NOT NULL,
		report_type TEXT NOT NULL,
		additional_context TEXT NOT NULL DEFAULT '',
		include_amenities BOOLEAN NOT NULL DEFAULT FALSE,
		sections JSONB,
		artifact_key TEXT NOT NULL DEFAULT '',
		notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
		execution_name TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		requested_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_execution ON report_requests(execution_name);
	CREATE INDEX IF NOT EXISTS idx_reports_owner ON report_requests(owner_id, requested_at DESC);

	CREATE TABLE IF NOT EXISTS executions (
		name TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		state TEXT NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		output JSONB,
		last_error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_executions_stale ON executions(updated_at) WHERE finished_at IS NULL;
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// Listings
// =============================================================================

const listingColumns = `id, title, description, price, address, city, state, zip_code,
	bedrooms, bathrooms, square_feet, property_type, listing_type, images,
	contact_name, contact_email, contact_phone, amenities, year_built, lot_size,
	parking_spaces, status, is_public, owner_id, external_id, submitted_at,
	updated_at, approved_at, approved_by, rejected_at, rejected_by, reject_reason,
	status_key, location_key, type_key, listing_key, owner_key`

// CreateListing inserts a new listing. The insert is conditional on the id:
// a redelivered trigger that already created the row gets ErrAlreadyExists.
func (s *PostgresStore) CreateListing(ctx context.Context, l *models.Listing) error {
	query := `
		INSERT INTO listings (` + listingColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35,$36,$37)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, listingArgs(l)...)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// UpdateListing replaces the whole row (last writer wins). Derived keys
// must already be recomputed by the caller.
func (s *PostgresStore) UpdateListing(ctx context.Context, l *models.Listing) error {
	query := `
		UPDATE listings SET
			title=$2, description=$3, price=$4, address=$5, city=$6, state=$7, zip_code=$8,
			bedrooms=$9, bathrooms=$10, square_feet=$11, property_type=$12, listing_type=$13,
			images=$14, contact_name=$15, contact_email=$16, contact_phone=$17, amenities=$18,
			year_built=$19, lot_size=$20, parking_spaces=$21, status=$22, is_public=$23,
			owner_id=$24, external_id=$25, submitted_at=$26, updated_at=$27, approved_at=$28,
			approved_by=$29, rejected_at=$30, rejected_by=$31, reject_reason=$32,
			status_key=$33, location_key=$34, type_key=$35, listing_key=$36, owner_key=$37
		WHERE id=$1`

	tag, err := s.pool.Exec(ctx, query, listingArgs(l)...)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func listingArgs(l *models.Listing) []any {
	return []any{
		l.ID, l.Title, l.Description, l.Price, l.Address, l.City, l.State, l.ZipCode,
		l.Bedrooms, l.Bathrooms, l.SquareFeet, l.PropertyType, l.ListingType, l.Images,
		l.ContactName, l.ContactEmail, l.ContactPhone, l.Amenities, l.YearBuilt, l.LotSize,
		l.ParkingSpaces, l.Status, l.IsPublic, l.OwnerID, l.ExternalID, l.SubmittedAt,
		l.UpdatedAt, l.ApprovedAt, l.ApprovedBy, l.RejectedAt, l.RejectedBy, l.RejectReason,
		l.StatusKey, l.LocationKey, l.TypeKey, l.ListingKey, l.OwnerKey,
	}
}

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(
		&l.ID, &l.Title, &l.Description, &l.Price, &l.Address, &l.City, &l.State, &l.ZipCode,
		&l.Bedrooms, &l.Bathrooms, &l.SquareFeet, &l.PropertyType, &l.ListingType, &l.Images,
		&l.ContactName, &l.ContactEmail, &l.ContactPhone, &l.Amenities, &l.YearBuilt, &l.LotSize,
		&l.ParkingSpaces, &l.Status, &l.IsPublic, &l.OwnerID, &l.ExternalID, &l.SubmittedAt,
		&l.UpdatedAt, &l.ApprovedAt, &l.ApprovedBy, &l.RejectedAt, &l.RejectedBy, &l.RejectReason,
		&l.StatusKey, &l.LocationKey, &l.TypeKey, &l.ListingKey, &l.OwnerKey,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) GetListingByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`
	return scanListing(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) listListings(ctx context.Context, query string, args ...any) ([]models.Listing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// ListListingsByStatus walks the status access path, newest first.
func (s *PostgresStore) ListListingsByStatus(ctx context.Context, status models.ListingStatus, limit int) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings
		WHERE status = $1 ORDER BY status_key DESC LIMIT $2`
	return s.listListings(ctx, query, status, limit)
}

// ListListingsByLocation walks the city/state access path ordered by price.
func (s *PostgresStore) ListListingsByLocation(ctx context.Context, city, state string, limit int) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings
		WHERE city ILIKE $1 AND state ILIKE $2 ORDER BY location_key LIMIT $3`
	return s.listListings(ctx, query, city, state, limit)
}

func (s *PostgresStore) ListListingsByPropertyType(ctx context.Context, pt models.PropertyType, limit int) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings
		WHERE property_type = $1 ORDER BY type_key DESC LIMIT $2`
	return s.listListings(ctx, query, pt, limit)
}

func (s *PostgresStore) ListListingsByListingType(ctx context.Context, lt models.ListingType, limit int) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings
		WHERE listing_type = $1 ORDER BY listing_key LIMIT $2`
	return s.listListings(ctx, query, lt, limit)
}

func (s *PostgresStore) ListListingsByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings
		WHERE owner_id = $1 ORDER BY owner_key DESC LIMIT $2`
	return s.listListings(ctx, query, ownerID, limit)
}

func (s *PostgresStore) DeleteListing(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id)
	return err
}

// =============================================================================
// Accounts
// =============================================================================

func (s *PostgresStore) UpsertAccount(ctx context.Context, a *models.Account) error {
	query := `
		INSERT INTO accounts (id, external_id, email, name, tier, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_id) DO UPDATE SET
			email = COALESCE(NULLIF(EXCLUDED.email, ''), accounts.email),
			name = COALESCE(NULLIF(EXCLUDED.name, ''), accounts.name),
			updated_at = NOW()
		RETURNING id, tier`

	return s.pool.QueryRow(ctx, query,
		a.ID, a.ExternalID, a.Email, a.Name, a.Tier, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID, &a.Tier)
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.ExternalID, &a.Email, &a.Name, &a.Tier, &a.CreatedAt, &a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `SELECT id, external_id, email, name, tier, created_at, updated_at FROM accounts WHERE id = $1`
	return scanAccount(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) GetAccountByExternalID(ctx context.Context, externalID string) (*models.Account, error) {
	query := `SELECT id, external_id, email, name, tier, created_at, updated_at FROM accounts WHERE external_id = $1`
	return scanAccount(s.pool.QueryRow(ctx, query, externalID))
}

func (s *PostgresStore) UpdateAccountTier(ctx context.Context, id uuid.UUID, tier models.AccountTier) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET tier = $2, updated_at = NOW() WHERE id = $1`, id, tier)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// =============================================================================
// Report requests
// =============================================================================

const reportColumns = `id, owner_id, external_id, snapshot, report_type, additional_context,
	include_amenities, sections, artifact_key, notification_sent, execution_name,
	failure_reason, requested_at, updated_at`

func (s *PostgresStore) CreateReportRequest(ctx context.Context, r *models.ReportRequest) error {
	snapshot, err := json.Marshal(r.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO report_requests (` + reportColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		r.ID, r.OwnerID, r.ExternalID, snapshot, r.ReportType, r.AdditionalContext,
		r.IncludeAmenities, nil, r.ArtifactKey, r.NotificationSent, r.ExecutionName,
		r.FailureReason, r.RequestedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert report request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) UpdateReportRequest(ctx context.Context, r *models.ReportRequest) error {
	var sections []byte
	if r.Sections != nil {
		b, err := json.Marshal(r.Sections)
		if err != nil {
			return fmt.Errorf("marshal sections: %w", err)
		}
		sections = b
	}

	query := `
		UPDATE report_requests SET
			sections=$2, artifact_key=$3, notification_sent=$4, execution_name=$5,
			failure_reason=$6, updated_at=$7
		WHERE id=$1`

	_, err := s.pool.Exec(ctx, query,
		r.ID, sections, r.ArtifactKey, r.NotificationSent, r.ExecutionName,
		r.FailureReason, time.Now())
	return err
}

func scanReport(row pgx.Row) (*models.ReportRequest, error) {
	var r models.ReportRequest
	var snapshot []byte
	var sections []byte
	err := row.Scan(
		&r.ID, &r.OwnerID, &r.ExternalID, &snapshot, &r.ReportType, &r.AdditionalContext,
		&r.IncludeAmenities, &sections, &r.ArtifactKey, &r.NotificationSent, &r.ExecutionName,
		&r.FailureReason, &r.RequestedAt, &r.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &r.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if len(sections) > 0 {
		r.Sections = &models.ReportSections{}
		if err := json.Unmarshal(sections, r.Sections); err != nil {
			return nil, fmt.Errorf("unmarshal sections: %w", err)
		}
	}
	return &r, nil
}

func (s *PostgresStore) GetReportRequestByID(ctx context.Context, id uuid.UUID) (*models.ReportRequest, error) {
	query := `SELECT ` + reportColumns + ` FROM report_requests WHERE id = $1`
	return scanReport(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) GetReportRequestByExecution(ctx context.Context, executionName string) (*models.ReportRequest, error) {
	query := `SELECT ` + reportColumns + ` FROM report_requests WHERE execution_name = $1`
	return scanReport(s.pool.QueryRow(ctx, query, executionName))
}

func (s *PostgresStore) ListReportRequestsByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.ReportRequest, error) {
	query := `SELECT ` + reportColumns + ` FROM report_requests
		WHERE owner_id = $1 ORDER BY requested_at DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ReportRequest
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// =============================================================================
// Executions
// =============================================================================

// CreateExecution is the idempotency gate: the first writer of a name wins,
// everyone else gets ErrAlreadyExists.
func (s *PostgresStore) CreateExecution(ctx context.Context, e *models.Execution) error {
	query := `
		INSERT INTO executions (name, kind, entity_id, state, attempts, output, last_error, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		e.Name, e.Kind, e.EntityID, e.State, e.Attempts, e.Output, e.LastError,
		e.StartedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// UpdateExecution advances the state machine. Terminal rows are never
// touched, so a poll can never observe a regression.
func (s *PostgresStore) UpdateExecution(ctx context.Context, e *models.Execution) error {
	var finishedAt *time.Time
	if e.State.Terminal() {
		now := time.Now()
		finishedAt = &now
		e.FinishedAt = finishedAt
	}

	query := `
		UPDATE executions SET
			state=$2, attempts=$3, output=$4, last_error=$5, updated_at=NOW(), finished_at=$6
		WHERE name=$1 AND finished_at IS NULL`

	tag, err := s.pool.Exec(ctx, query,
		e.Name, e.State, e.Attempts, e.Output, e.LastError, finishedAt)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution %s already finished", e.Name)
	}
	return nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, name string) (*models.Execution, error) {
	query := `SELECT name, kind, entity_id, state, attempts, output, last_error,
		started_at, updated_at, finished_at FROM executions WHERE name = $1`

	var e models.Execution
	err := s.pool.QueryRow(ctx, query, name).Scan(
		&e.Name, &e.Kind, &e.EntityID, &e.State, &e.Attempts, &e.Output, &e.LastError,
		&e.StartedAt, &e.UpdatedAt, &e.FinishedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetStaleExecutions finds in-flight executions whose last transition is
// older than the threshold. These are candidates for crash resumption.
func (s *PostgresStore) GetStaleExecutions(ctx context.Context, olderThan time.Duration, limit int) ([]models.Execution, error) {
	query := `SELECT name, kind, entity_id, state, attempts, output, last_error,
		started_at, updated_at, finished_at
		FROM executions
		WHERE finished_at IS NULL AND updated_at < NOW() - $1::interval
		ORDER BY updated_at LIMIT $2`

	rows, err := s.pool.Query(ctx, query, fmt.Sprintf("%d seconds", int(olderThan.Seconds())), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Execution
	for rows.Next() {
		var e models.Execution
		if err := rows.Scan(&e.Name, &e.Kind, &e.EntityID, &e.State, &e.Attempts, &e.Output,
			&e.LastError, &e.StartedAt, &e.UpdatedAt, &e.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
