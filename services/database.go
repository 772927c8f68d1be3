package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"docconvert/models"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversion_files (
	id           BIGSERIAL PRIMARY KEY,
	content_hash TEXT NOT NULL,
	filename     TEXT NOT NULL,
	mime_type    TEXT NOT NULL DEFAULT '',
	size         BIGINT NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS conversion_files_hash_idx ON conversion_files (content_hash);

CREATE TABLE IF NOT EXISTS file_conversions (
	id             BIGSERIAL PRIMARY KEY,
	source_file_id BIGINT NOT NULL REFERENCES conversion_files (id),
	target_format  TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	converter      TEXT NOT NULL,
	dest_file_id   BIGINT REFERENCES conversion_files (id),
	status_message TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS file_conversions_status_idx ON file_conversions (converter, status);
`

type DatabaseService struct {
	db *sql.DB
}

func NewDatabaseService(databaseURL string) (*DatabaseService, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseService{db: db}, nil
}

func (d *DatabaseService) EnsureSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const conversionColumns = `
	c.id, c.source_file_id, c.target_format, c.status, c.converter,
	COALESCE(c.dest_file_id, 0), c.status_message, c.created_at, c.updated_at,
	f.content_hash, f.filename, f.mime_type, f.size`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversion(row rowScanner) (*models.ConversionRecord, error) {
	var rec models.ConversionRecord
	var file models.SourceFile
	var status string
	err := row.Scan(
		&rec.ID, &rec.SourceFileID, &rec.TargetFormat, &status, &rec.Converter,
		&rec.DestFileID, &rec.StatusMessage, &rec.CreatedAt, &rec.UpdatedAt,
		&file.ContentHash, &file.Filename, &file.MimeType, &file.Size,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = models.Status(status)
	file.ID = rec.SourceFileID
	rec.SourceFile = &file
	return &rec, nil
}

func (d *DatabaseService) GetConversion(ctx context.Context, id int64) (*models.ConversionRecord, error) {
	row := d.db.QueryRowContext(ctx, `SELECT`+conversionColumns+`
		FROM file_conversions c
		JOIN conversion_files f ON f.id = c.source_file_id
		WHERE c.id = $1`, id)
	rec, err := scanConversion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversion %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversion %d: %w", id, err)
	}
	return rec, nil
}

// PendingConversions lists the records of converter that still need
// polling, newest source file first.
func (d *DatabaseService) PendingConversions(ctx context.Context, converter string) ([]*models.ConversionRecord, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT`+conversionColumns+`
		FROM file_conversions c
		JOIN conversion_files f ON f.id = c.source_file_id
		WHERE c.converter = $1 AND c.status IN ($2, $3)
		ORDER BY c.source_file_id DESC, c.id`,
		converter, string(models.StatusPending), string(models.StatusInProgress))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending conversions: %w", err)
	}
	defer rows.Close()

	var records []*models.ConversionRecord
	for rows.Next() {
		rec, err := scanConversion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversion: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpdateConversionStatus never moves a terminal record. Writing the state a
// settled record already has is accepted as a no-op.
func (d *DatabaseService) UpdateConversionStatus(ctx context.Context, id int64, status models.Status, message string) error {
	res, err := d.db.ExecContext(ctx, `UPDATE file_conversions
		SET status = $1, status_message = $2, updated_at = $3
		WHERE id = $4 AND (status NOT IN ($5, $6) OR (status = $1 AND status_message = $2))`,
		string(status), message, time.Now(), id,
		string(models.StatusComplete), string(models.StatusFailed))
	if err != nil {
		return fmt.Errorf("failed to update conversion %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("conversion %d missing or already settled: %w", id, models.ErrNotFound)
	}
	return nil
}

// CompleteConversion records dest and links it to the conversion, marking it
// complete, in one transaction. Settled conversions are left untouched and
// no file row is kept for them.
func (d *DatabaseService) CompleteConversion(ctx context.Context, conversionID int64, dest *models.SourceFile) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var fileID int64
	err = tx.QueryRowContext(ctx, `INSERT INTO conversion_files (content_hash, filename, mime_type, size)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		dest.ContentHash, dest.Filename, dest.MimeType, dest.Size,
	).Scan(&fileID)
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE file_conversions
		SET dest_file_id = $1, status = $2, status_message = '', updated_at = $3
		WHERE id = $4 AND status NOT IN ($2, $5)`,
		fileID, string(models.StatusComplete), time.Now(), conversionID, string(models.StatusFailed))
	if err != nil {
		return fmt.Errorf("failed to complete conversion %d: %w", conversionID, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return fmt.Errorf("conversion %d missing or already settled: %w", conversionID, models.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversion %d: %w", conversionID, err)
	}
	dest.ID = fileID
	return nil
}

// HasActiveConversion reports whether sourceFileID is the source of a
// conversion of converter that is still pending or in progress.
func (d *DatabaseService) HasActiveConversion(ctx context.Context, converter string, sourceFileID int64) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM file_conversions
		WHERE converter = $1 AND source_file_id = $2 AND status IN ($3, $4))`,
		converter, sourceFileID, string(models.StatusPending), string(models.StatusInProgress),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check conversions for file %d: %w", sourceFileID, err)
	}
	return exists, nil
}

func (d *DatabaseService) GetFile(ctx context.Context, id int64) (*models.SourceFile, error) {
	var f models.SourceFile
	err := d.db.QueryRowContext(ctx, `SELECT id, content_hash, filename, mime_type, size
		FROM conversion_files WHERE id = $1`, id,
	).Scan(&f.ID, &f.ContentHash, &f.Filename, &f.MimeType, &f.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file %d: %w", id, err)
	}
	return &f, nil
}

func (d *DatabaseService) Close() error {
	return d.db.Close()
}
