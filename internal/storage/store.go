// Package storage keeps uploaded files: message attachments, avatars, server
// images and worker documents.
package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
)

// Storage buckets.
const (
	BucketAttachments  = "attachments"
	BucketAvatars      = "avatars"
	BucketServerImages = "server_images"
	BucketDocuments    = "documents"
)

// MaxObjectSize bounds a single upload.
const MaxObjectSize = 10 << 20

var knownBuckets = map[string]struct{}{
	BucketAttachments:  {},
	BucketAvatars:      {},
	BucketServerImages: {},
	BucketDocuments:    {},
}

// Object describes a stored file.
type Object struct {
	Bucket      string    `json:"bucket"`
	Path        string    `json:"path"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ObjectStore persists objects addressed by bucket and path.
type ObjectStore interface {
	// Put stores body at bucket/path. Without upsert an existing object is a conflict.
	Put(ctx context.Context, bucket, objectPath, contentType string, body io.Reader, upsert bool) (Object, error)
	Get(ctx context.Context, bucket, objectPath string) (io.ReadCloser, Object, error)
	Delete(ctx context.Context, bucket, objectPath string) error
	Close(ctx context.Context) error
}

// ValidateLocation checks the bucket name and normalizes objectPath.
func ValidateLocation(operation, bucket, objectPath string) (string, error) {
	if _, ok := knownBuckets[bucket]; !ok {
		return "", apperr.Invalid(operation, "bucket", errors.New("unknown bucket"))
	}
	trimmed := strings.TrimSpace(objectPath)
	trimmed = strings.TrimLeft(trimmed, "/")
	if trimmed == "" {
		return "", apperr.Invalid(operation, "path", errors.New("empty"))
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", apperr.Invalid(operation, "path", errors.New("invalid segment"))
		}
	}
	return path.Clean(trimmed), nil
}

// PublicURL is the download address of bucket/objectPath under baseURL.
func PublicURL(baseURL, bucket, objectPath string) string {
	segments := strings.Split(strings.TrimLeft(objectPath, "/"), "/")
	for index, segment := range segments {
		segments[index] = url.PathEscape(segment)
	}
	return strings.TrimRight(baseURL, "/") + "/files/" + url.PathEscape(bucket) + "/" + strings.Join(segments, "/")
}

func readLimited(operation string, body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxObjectSize+1))
	if err != nil {
		return nil, apperr.New(operation, "read_failed", apperr.KindValidation, err)
	}
	if len(data) > MaxObjectSize {
		return nil, apperr.Invalid(operation, "body", errors.New("object too large"))
	}
	return data, nil
}
