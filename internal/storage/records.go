package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/mnboos/job-graph/internal/domain"
)

const recordColumns = `
	id, company_name, title, description, zip, city, address, country, home_office,
	latitude, longitude, first_published_at, first_seen_at, last_seen_at,
	source_urls, raw_payload`

type recordRow struct {
	ID               int64           `db:"id"`
	CompanyName      string          `db:"company_name"`
	Title            string          `db:"title"`
	Description      string          `db:"description"`
	Zip              string          `db:"zip"`
	City             string          `db:"city"`
	Address          string          `db:"address"`
	Country          string          `db:"country"`
	HomeOffice       bool            `db:"home_office"`
	Latitude         sql.NullFloat64 `db:"latitude"`
	Longitude        sql.NullFloat64 `db:"longitude"`
	FirstPublishedAt sql.NullTime    `db:"first_published_at"`
	FirstSeenAt      time.Time       `db:"first_seen_at"`
	LastSeenAt       time.Time       `db:"last_seen_at"`
	SourceURLs       pq.StringArray  `db:"source_urls"`
	RawPayload       types.JSONText  `db:"raw_payload"`
}

func (r *recordRow) toDomain() *domain.JobRecord {
	rec := &domain.JobRecord{
		ID:          r.ID,
		CompanyName: r.CompanyName,
		Title:       r.Title,
		Description: r.Description,
		Zip:         r.Zip,
		City:        r.City,
		Address:     r.Address,
		Country:     r.Country,
		HomeOffice:  r.HomeOffice,
		FirstSeenAt: r.FirstSeenAt,
		LastSeenAt:  r.LastSeenAt,
		SourceURLs:  []string(r.SourceURLs),
		RawPayload:  []byte(r.RawPayload),
	}
	if r.Latitude.Valid && r.Longitude.Valid {
		rec.Coordinate = &domain.Coordinate{Lat: r.Latitude.Float64, Lon: r.Longitude.Float64}
	}
	if r.FirstPublishedAt.Valid {
		t := r.FirstPublishedAt.Time
		rec.FirstPublishedAt = &t
	}
	if rec.SourceURLs == nil {
		rec.SourceURLs = []string{}
	}
	return rec
}

func coordinateArgs(c *domain.Coordinate) (lat, lon sql.NullFloat64) {
	if c == nil {
		return
	}
	return sql.NullFloat64{Float64: c.Lat, Valid: true}, sql.NullFloat64{Float64: c.Lon, Valid: true}
}

func rawPayloadArg(raw []byte) types.JSONText {
	if len(raw) == 0 {
		return types.JSONText("{}")
	}
	return types.JSONText(raw)
}

// RecordStore persists canonical job records in PostgreSQL
type RecordStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewRecordStore creates a new RecordStore instance
func NewRecordStore(db *sqlx.DB, logger *slog.Logger) *RecordStore {
	return &RecordStore{
		db:     db,
		logger: logger,
	}
}

// FindByIdentity retrieves the record with the given natural key
func (s *RecordStore) FindByIdentity(ctx context.Context, id domain.Identity) (*domain.JobRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM job_records
		WHERE company_name = $1 AND title = $2 AND zip = $3`

	var row recordRow
	if err := s.db.GetContext(ctx, &row, query, id.CompanyName, id.Title, id.Zip); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to find job record: %w", err)
	}
	return row.toDomain(), nil
}

// CreateOrGet inserts rec unless a record with the same identity exists, in
// a single statement. The no-op DO UPDATE makes RETURNING yield the existing
// row; xmax = 0 only for a freshly inserted tuple.
func (s *RecordStore) CreateOrGet(ctx context.Context, rec *domain.JobRecord) (*domain.JobRecord, bool, error) {
	query := `
		INSERT INTO job_records (
			company_name, title, zip, description, city, address, country,
			home_office, latitude, longitude, first_published_at, source_urls, raw_payload
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13
		)
		ON CONFLICT (company_name, title, zip)
			DO UPDATE SET company_name = EXCLUDED.company_name
		RETURNING ` + recordColumns + `, (xmax = 0) AS created`

	lat, lon := coordinateArgs(rec.Coordinate)
	var published sql.NullTime
	if rec.FirstPublishedAt != nil {
		published = sql.NullTime{Time: *rec.FirstPublishedAt, Valid: true}
	}
	urls := rec.SourceURLs
	if urls == nil {
		urls = []string{}
	}

	var row struct {
		recordRow
		Created bool `db:"created"`
	}
	err := s.db.QueryRowxContext(ctx, query,
		rec.CompanyName,
		rec.Title,
		rec.Zip,
		rec.Description,
		rec.City,
		rec.Address,
		rec.Country,
		rec.HomeOffice,
		lat,
		lon,
		published,
		pq.StringArray(urls),
		rawPayloadArg(rec.RawPayload),
	).StructScan(&row)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert job record: %w", err)
	}

	if row.Created {
		s.logger.Debug("Job record created",
			slog.Int64("record_id", row.ID),
			slog.String("company", row.CompanyName),
			slog.String("title", row.Title),
		)
	}

	return row.recordRow.toDomain(), row.Created, nil
}

// Save persists the mutable parts of rec and refreshes last_seen_at.
// Source URLs are merged append-only so concurrent writers never drop each
// other's URLs; a stored coordinate is never overwritten.
func (s *RecordStore) Save(ctx context.Context, rec *domain.JobRecord) error {
	query := `
		UPDATE job_records
		SET source_urls = source_urls || ARRAY(
				SELECT u FROM unnest($2::text[]) WITH ORDINALITY AS t(u, ord)
				WHERE NOT (u = ANY(job_records.source_urls))
				ORDER BY ord
			),
			latitude = COALESCE(latitude, $3),
			longitude = COALESCE(longitude, $4),
			last_seen_at = NOW()
		WHERE id = $1
		RETURNING source_urls, last_seen_at
	`

	lat, lon := coordinateArgs(rec.Coordinate)

	var out struct {
		SourceURLs pq.StringArray `db:"source_urls"`
		LastSeenAt time.Time      `db:"last_seen_at"`
	}
	err := s.db.QueryRowxContext(ctx, query, rec.ID, pq.StringArray(rec.SourceURLs), lat, lon).StructScan(&out)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrRecordNotFound
		}
		return fmt.Errorf("failed to save job record: %w", err)
	}

	rec.SourceURLs = []string(out.SourceURLs)
	rec.LastSeenAt = out.LastSeenAt
	return nil
}

// HasMissingCoordinate reports whether any record outside exclude still
// lacks a coordinate, claimed or not
func (s *RecordStore) HasMissingCoordinate(ctx context.Context, exclude []int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM job_records
			WHERE latitude IS NULL AND NOT (id = ANY($1))
		)
	`

	var exists bool
	if err := s.db.GetContext(ctx, &exists, query, pq.Array(nonNilIDs(exclude))); err != nil {
		return false, fmt.Errorf("failed to check for records without coordinate: %w", err)
	}
	return exists, nil
}

// ClaimMissingCoordinate locks the first record without a coordinate that no
// other transaction holds. The lock lives until the claim is committed or released.
func (s *RecordStore) ClaimMissingCoordinate(ctx context.Context, exclude []int64) (domain.Claim, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}

	query := `SELECT ` + recordColumns + `
		FROM job_records
		WHERE latitude IS NULL AND NOT (id = ANY($1))
		ORDER BY id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	var row recordRow
	if err := tx.GetContext(ctx, &row, query, pq.Array(nonNilIDs(exclude))); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNothingToClaim
		}
		return nil, fmt.Errorf("failed to claim job record: %w", err)
	}

	return &pgClaim{tx: tx, record: row.toDomain()}, nil
}

type pgClaim struct {
	tx     *sqlx.Tx
	record *domain.JobRecord
}

func (c *pgClaim) Record() *domain.JobRecord { return c.record }

func (c *pgClaim) Commit(ctx context.Context, coord domain.Coordinate) error {
	query := `
		UPDATE job_records
		SET latitude = $2, longitude = $3
		WHERE id = $1 AND latitude IS NULL
	`
	if _, err := c.tx.ExecContext(ctx, query, c.record.ID, coord.Lat, coord.Lon); err != nil {
		_ = c.tx.Rollback()
		return fmt.Errorf("failed to store coordinate: %w", err)
	}
	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit coordinate: %w", err)
	}
	c.record.Coordinate = &coord
	return nil
}

func (c *pgClaim) Release() error {
	if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return nil
}

func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// RecordFilter narrows ListRecords
type RecordFilter struct {
	Company           string
	MissingCoordinate *bool
	PageSize          int
	Cursor            *RecordCursor
}

// RecordCursor marks the last record of the previous page
type RecordCursor struct {
	FirstSeenAt time.Time
	ID          int64
}

// GetRecord retrieves a record by its primary key
func (s *RecordStore) GetRecord(ctx context.Context, id int64) (*domain.JobRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM job_records WHERE id = $1`

	var row recordRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get job record: %w", err)
	}
	return row.toDomain(), nil
}

// ListRecords returns up to PageSize+1 records, newest first, so callers can
// tell whether another page exists
func (s *RecordStore) ListRecords(ctx context.Context, filter RecordFilter) ([]*domain.JobRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM job_records
		WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Company != "" {
		query += fmt.Sprintf(" AND company_name = $%d", argIdx)
		args = append(args, filter.Company)
		argIdx++
	}

	if filter.MissingCoordinate != nil {
		if *filter.MissingCoordinate {
			query += " AND latitude IS NULL"
		} else {
			query += " AND latitude IS NOT NULL"
		}
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (first_seen_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.FirstSeenAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY first_seen_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list job records: %w", err)
	}

	out := make([]*domain.JobRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}
