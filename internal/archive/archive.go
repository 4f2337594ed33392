// Package archive persists downloaded headshots and packages a session's
// versions into a single ZIP bundle.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/fpang/pro-headshot/internal/media"
)

// Archiver saves a downloaded headshot under name and returns where it went.
type Archiver interface {
	Save(ctx context.Context, name string, img media.EncodedImage) (string, error)
}

// Presigner is implemented by archivers that can hand out a time-limited
// download link for a saved headshot.
type Presigner interface {
	PresignURL(ctx context.Context, name string, expiry time.Duration) (string, error)
}

// DefaultURLExpiry is how long a presigned download link stays valid.
const DefaultURLExpiry = 15 * time.Minute

// FileArchiver writes headshots into a local directory.
type FileArchiver struct {
	dir string
}

// NewFileArchiver creates an archiver rooted at dir. The directory is created
// on first save.
func NewFileArchiver(dir string) *FileArchiver {
	return &FileArchiver{dir: dir}
}

// Save implements Archiver.
func (a *FileArchiver) Save(ctx context.Context, name string, img media.EncodedImage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}
	path := filepath.Join(a.dir, filepath.Base(name))
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Debug().Str("path", path).Int("bytes", len(img.Data)).Msg("Headshot archived locally")
	return path, nil
}

// ObjectPutter is the subset of the S3 client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// projectTag is the URL-encoded S3 object tagging string for cost allocation.
const projectTag = "Project=pro-headshot"

// S3Archiver uploads headshots to a bucket under a key prefix.
type S3Archiver struct {
	client    ObjectPutter
	presigner *s3.PresignClient
	bucket    string
	prefix    string
}

// NewS3Archiver creates an S3-backed archiver. presigner may be nil when
// links are not needed.
func NewS3Archiver(client ObjectPutter, presigner *s3.PresignClient, bucket, prefix string) *S3Archiver {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Archiver{client: client, presigner: presigner, bucket: bucket, prefix: prefix}
}

// Key returns the object key a file name is stored under.
func (a *S3Archiver) Key(name string) string {
	return a.prefix + filepath.Base(name)
}

// Save implements Archiver.
func (a *S3Archiver) Save(ctx context.Context, name string, img media.EncodedImage) (string, error) {
	key := a.Key(name)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(img.Data),
		ContentType: aws.String(img.MIMEType),
		Tagging:     aws.String(projectTag),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload headshot to S3: %w", err)
	}
	location := fmt.Sprintf("s3://%s/%s", a.bucket, key)
	log.Info().Str("location", location).Int("bytes", len(img.Data)).Msg("Headshot archived to S3")
	return location, nil
}

// PresignURL creates a pre-signed GET URL for an archived headshot.
func (a *S3Archiver) PresignURL(ctx context.Context, name string, expiry time.Duration) (string, error) {
	if a.presigner == nil {
		return "", fmt.Errorf("presign: no presign client configured")
	}
	key := a.Key(name)
	result, err := a.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return result.URL, nil
}
