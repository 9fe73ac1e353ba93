package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	bolt "go.etcd.io/bbolt"
)

const (
	opBoltPut    = "storage.put"
	opBoltGet    = "storage.get"
	opBoltDelete = "storage.delete"
)

var (
	contentBucket = []byte("content")
	metaBucket    = []byte("meta")
)

// BoltStore keeps objects in a local bbolt file. Each storage bucket is a
// top-level bolt bucket with nested content and meta buckets.
type BoltStore struct {
	db    *bolt.DB
	clock func() time.Time
}

// NewBoltStore opens or creates the database at dbPath.
func NewBoltStore(dbPath string, clock func() time.Time) (*BoltStore, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for name := range knownBuckets {
			root, err := tx.CreateBucketIfNotExists([]byte(name))
			if err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
			if _, err := root.CreateBucketIfNotExists(contentBucket); err != nil {
				return err
			}
			if _, err := root.CreateBucketIfNotExists(metaBucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}
	return &BoltStore{db: db, clock: clock}, nil
}

// Put implements ObjectStore.
func (s *BoltStore) Put(ctx context.Context, bucket, objectPath, contentType string, body io.Reader, upsert bool) (Object, error) {
	key, err := ValidateLocation(opBoltPut, bucket, objectPath)
	if err != nil {
		return Object{}, err
	}
	data, err := readLimited(opBoltPut, body)
	if err != nil {
		return Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	object := Object{
		Bucket:      bucket,
		Path:        key,
		ContentType: contentType,
		Size:        int64(len(data)),
		CreatedAt:   s.clock().UTC(),
	}
	meta, err := json.Marshal(object)
	if err != nil {
		return Object{}, apperr.New(opBoltPut, "encode_failed", apperr.KindInternal, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(bucket))
		metas := root.Bucket(metaBucket)
		if !upsert && metas.Get([]byte(key)) != nil {
			return apperr.New(opBoltPut, "already_exists", apperr.KindConflict, nil)
		}
		if err := root.Bucket(contentBucket).Put([]byte(key), data); err != nil {
			return err
		}
		return metas.Put([]byte(key), meta)
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			return Object{}, err
		}
		return Object{}, apperr.New(opBoltPut, "write_failed", apperr.KindInternal, err)
	}
	return object, nil
}

// Get implements ObjectStore.
func (s *BoltStore) Get(ctx context.Context, bucket, objectPath string) (io.ReadCloser, Object, error) {
	key, err := ValidateLocation(opBoltGet, bucket, objectPath)
	if err != nil {
		return nil, Object{}, err
	}
	var (
		object Object
		data   []byte
	)
	err = s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(bucket))
		meta := root.Bucket(metaBucket).Get([]byte(key))
		if meta == nil {
			return apperr.New(opBoltGet, "object_not_found", apperr.KindNotFound, nil)
		}
		if err := json.Unmarshal(meta, &object); err != nil {
			return apperr.New(opBoltGet, "decode_failed", apperr.KindInternal, err)
		}
		// Values are only valid inside the transaction.
		data = append([]byte(nil), root.Bucket(contentBucket).Get([]byte(key))...)
		return nil
	})
	if err != nil {
		return nil, Object{}, err
	}
	return io.NopCloser(bytes.NewReader(data)), object, nil
}

// Delete implements ObjectStore.
func (s *BoltStore) Delete(ctx context.Context, bucket, objectPath string) error {
	key, err := ValidateLocation(opBoltDelete, bucket, objectPath)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(bucket))
		metas := root.Bucket(metaBucket)
		if metas.Get([]byte(key)) == nil {
			return apperr.New(opBoltDelete, "object_not_found", apperr.KindNotFound, nil)
		}
		if err := root.Bucket(contentBucket).Delete([]byte(key)); err != nil {
			return err
		}
		return metas.Delete([]byte(key))
	})
}

// Close implements ObjectStore.
func (s *BoltStore) Close(context.Context) error {
	return s.db.Close()
}
