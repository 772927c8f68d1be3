package services

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"strings"

	"docconvert/models"
)

type conversionStore interface {
	UpdateConversionStatus(ctx context.Context, id int64, status models.Status, message string) error
	CompleteConversion(ctx context.Context, conversionID int64, dest *models.SourceFile) error
}

type blobStore interface {
	Upload(ctx context.Context, localPath string, contentHash string, contentType string) error
}

// ConversionRegistry persists lifecycle changes: status in Postgres,
// converted bytes in S3.
type ConversionRegistry struct {
	db    conversionStore
	files blobStore
}

func NewConversionRegistry(db *DatabaseService, files *S3Service) *ConversionRegistry {
	return &ConversionRegistry{db: db, files: files}
}

func (r *ConversionRegistry) UpdateStatus(ctx context.Context, rec *models.ConversionRecord) error {
	return r.db.UpdateConversionStatus(ctx, rec.ID, rec.Status, rec.StatusMessage)
}

// StoreDestinationFile uploads the staged result at localPath, links it to
// rec as its destination file and marks rec complete. The link and the status
// change are written together, so a conversion never ends up linked but
// still in progress.
func (r *ConversionRegistry) StoreDestinationFile(ctx context.Context, rec *models.ConversionRecord, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open staged result: %w", err)
	}
	hash, err := ContentHash(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to hash staged result: %w", err)
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to stat staged result: %w", err)
	}

	contentType := mime.TypeByExtension("." + rec.TargetFormat)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := r.files.Upload(ctx, localPath, hash, contentType); err != nil {
		return err
	}

	dest := &models.SourceFile{
		ContentHash: hash,
		Filename:    destinationName(rec),
		MimeType:    contentType,
		Size:        info.Size(),
	}
	if err := r.db.CompleteConversion(ctx, rec.ID, dest); err != nil {
		return err
	}
	rec.DestFileID = dest.ID
	rec.Status = models.StatusComplete
	rec.StatusMessage = ""
	return nil
}

func destinationName(rec *models.ConversionRecord) string {
	base := fmt.Sprintf("conversion-%d", rec.ID)
	if rec.SourceFile != nil && rec.SourceFile.Filename != "" {
		base = strings.TrimSuffix(rec.SourceFile.Filename, path.Ext(rec.SourceFile.Filename))
	}
	return base + "." + rec.TargetFormat
}
