package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"docconvert/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Service stores file contents addressed by their content hash.
type S3Service struct {
	client   s3iface.S3API
	bucket   string
	uploader *s3manager.Uploader
}

func NewS3Service(cfg *config.Config) *S3Service {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.S3Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AWSS3AccessKey,
			cfg.AWSS3SecretKey,
			"",
		),
	}

	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
	}

	if cfg.S3UsePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess := session.Must(session.NewSession(awsCfg))
	client := s3.New(sess)

	return &S3Service{
		client:   client,
		bucket:   cfg.S3Bucket,
		uploader: s3manager.NewUploaderWithClient(client),
	}
}

// ContentHash returns the hex SHA-256 digest of everything read from r.
func ContentHash(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ObjectKey spreads blobs over two directory levels, like a filedir.
func ObjectKey(contentHash string) string {
	if len(contentHash) < 4 {
		return "filedir/" + contentHash
	}
	return fmt.Sprintf("filedir/%s/%s/%s", contentHash[0:2], contentHash[2:4], contentHash)
}

// Open streams the blob for contentHash. The caller closes the reader.
func (s *S3Service) Open(ctx context.Context, contentHash string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ObjectKey(contentHash)),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s from S3: %w", contentHash, err)
	}
	return out.Body, aws.Int64Value(out.ContentLength), nil
}

func (s *S3Service) Upload(ctx context.Context, localPath string, contentHash string, contentType string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(ObjectKey(contentHash)),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	return nil
}
