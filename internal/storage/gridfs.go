package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	opGridPut    = "storage.put"
	opGridGet    = "storage.get"
	opGridDelete = "storage.delete"

	gridBucketName = "alias_objects"
	connectTimeout = 10 * time.Second
)

// GridFSStore keeps objects in MongoDB GridFS under "<bucket>/<path>" file names.
type GridFSStore struct {
	client *mongo.Client
	bucket *gridfs.Bucket
	clock  func() time.Time
}

type gridFile struct {
	ID         interface{} `bson:"_id"`
	Length     int64       `bson:"length"`
	UploadDate time.Time   `bson:"uploadDate"`
	Metadata   bson.M      `bson:"metadata"`
}

// NewGridFSStore connects to uri and opens the object bucket in database.
func NewGridFSStore(ctx context.Context, uri, database string, clock func() time.Time) (*GridFSStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	bucket, err := gridfs.NewBucket(client.Database(database), options.GridFSBucket().SetName(gridBucketName))
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create GridFS bucket: %w", err)
	}
	if clock == nil {
		clock = time.Now
	}
	return &GridFSStore{client: client, bucket: bucket, clock: clock}, nil
}

func gridName(bucket, key string) string {
	return bucket + "/" + key
}

// Put implements ObjectStore.
func (s *GridFSStore) Put(ctx context.Context, bucket, objectPath, contentType string, body io.Reader, upsert bool) (Object, error) {
	key, err := ValidateLocation(opGridPut, bucket, objectPath)
	if err != nil {
		return Object{}, err
	}
	data, err := readLimited(opGridPut, body)
	if err != nil {
		return Object{}, err
	}
	name := gridName(bucket, key)
	previous, err := s.find(ctx, name)
	if err != nil {
		return Object{}, apperr.New(opGridPut, "lookup_failed", apperr.KindUnavailable, err)
	}
	if len(previous) > 0 && !upsert {
		return Object{}, apperr.New(opGridPut, "already_exists", apperr.KindConflict, nil)
	}

	now := s.clock().UTC()
	metadata := bson.M{
		"bucket":       bucket,
		"path":         key,
		"content_type": contentType,
	}
	stream, err := s.bucket.OpenUploadStream(name, options.GridFSUpload().SetMetadata(metadata))
	if err != nil {
		return Object{}, apperr.New(opGridPut, "upload_failed", apperr.KindUnavailable, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetWriteDeadline(deadline)
	}
	size, copyErr := io.Copy(stream, bytes.NewReader(data))
	closeErr := stream.Close()
	if copyErr != nil || closeErr != nil {
		return Object{}, apperr.New(opGridPut, "upload_failed", apperr.KindUnavailable, errors.Join(copyErr, closeErr))
	}

	// The new revision is in place; older revisions of the same name go away.
	for _, file := range previous {
		if err := s.bucket.Delete(file.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return Object{}, apperr.New(opGridPut, "cleanup_failed", apperr.KindUnavailable, err)
		}
	}
	return Object{Bucket: bucket, Path: key, ContentType: contentType, Size: size, CreatedAt: now}, nil
}

// Get implements ObjectStore.
func (s *GridFSStore) Get(ctx context.Context, bucket, objectPath string) (io.ReadCloser, Object, error) {
	key, err := ValidateLocation(opGridGet, bucket, objectPath)
	if err != nil {
		return nil, Object{}, err
	}
	stream, err := s.bucket.OpenDownloadStreamByName(gridName(bucket, key))
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, Object{}, apperr.New(opGridGet, "object_not_found", apperr.KindNotFound, err)
	}
	if err != nil {
		return nil, Object{}, apperr.New(opGridGet, "download_failed", apperr.KindUnavailable, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetReadDeadline(deadline)
	}

	file := stream.GetFile()
	var metadata bson.M
	if file.Metadata != nil {
		_ = bson.Unmarshal(file.Metadata, &metadata)
	}
	object := Object{
		Bucket:      bucket,
		Path:        key,
		ContentType: stringFromMetadata(metadata, "content_type"),
		Size:        file.Length,
		CreatedAt:   file.UploadDate,
	}
	return stream, object, nil
}

// Delete implements ObjectStore.
func (s *GridFSStore) Delete(ctx context.Context, bucket, objectPath string) error {
	key, err := ValidateLocation(opGridDelete, bucket, objectPath)
	if err != nil {
		return err
	}
	files, err := s.find(ctx, gridName(bucket, key))
	if err != nil {
		return apperr.New(opGridDelete, "lookup_failed", apperr.KindUnavailable, err)
	}
	if len(files) == 0 {
		return apperr.New(opGridDelete, "object_not_found", apperr.KindNotFound, nil)
	}
	for _, file := range files {
		if err := s.bucket.Delete(file.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return apperr.New(opGridDelete, "delete_failed", apperr.KindUnavailable, err)
		}
	}
	return nil
}

// Close implements ObjectStore.
func (s *GridFSStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *GridFSStore) find(ctx context.Context, name string) ([]gridFile, error) {
	cursor, err := s.bucket.Find(bson.M{"filename": name})
	if err != nil {
		return nil, err
	}
	var files []gridFile
	if err := cursor.All(ctx, &files); err != nil {
		return nil, err
	}
	return files, nil
}

func stringFromMetadata(metadata bson.M, key string) string {
	if metadata == nil {
		return ""
	}
	if value, ok := metadata[key].(string); ok {
		return value
	}
	return ""
}
