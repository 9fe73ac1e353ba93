package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store ObjectStore) {
	t.Helper()
	ctx := context.Background()
	path := "user-1/" + time.Now().Format("150405.000000") + "/photo.png"

	object, err := store.Put(ctx, BucketAttachments, path, "image/png", strings.NewReader("first"), false)
	require.NoError(t, err)
	assert.Equal(t, int64(5), object.Size)
	assert.Equal(t, path, object.Path)

	_, err = store.Put(ctx, BucketAttachments, path, "image/png", strings.NewReader("second"), false)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = store.Put(ctx, BucketAttachments, path, "image/jpeg", strings.NewReader("second"), true)
	require.NoError(t, err)

	reader, stored, err := store.Get(ctx, BucketAttachments, path)
	require.NoError(t, err)
	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	assert.Equal(t, "second", string(content))
	assert.Equal(t, "image/jpeg", stored.ContentType)

	_, _, err = store.Get(ctx, BucketAvatars, path)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, store.Delete(ctx, BucketAttachments, path))
	assert.ErrorIs(t, store.Delete(ctx, BucketAttachments, path), apperr.ErrNotFound)
}

func TestBoltStoreRoundTrip(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "objects.db"), nil)
	require.NoError(t, err)
	defer store.Close(context.Background())

	exerciseStore(t, store)
}

func TestBoltStoreRejectsOversizedObjects(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "objects.db"), nil)
	require.NoError(t, err)
	defer store.Close(context.Background())

	_, err = store.Put(context.Background(), BucketDocuments, "big.bin", "application/octet-stream",
		bytes.NewReader(make([]byte, MaxObjectSize+1)), false)
	assert.Equal(t, "storage.put.invalid_body", apperr.CodeOf(err))
}

func TestGridFSStoreRoundTrip(t *testing.T) {
	uri := os.Getenv("ALIAS_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("ALIAS_TEST_MONGO_URI not set")
	}
	store, err := NewGridFSStore(context.Background(), uri, "alias_test", nil)
	require.NoError(t, err)
	defer store.Close(context.Background())

	exerciseStore(t, store)
}

func TestValidateLocation(t *testing.T) {
	testCases := []struct {
		name   string
		bucket string
		path   string
		code   string
		want   string
	}{
		{name: "nested path", bucket: BucketAvatars, path: "/u1/me.png", want: "u1/me.png"},
		{name: "unknown bucket", bucket: "secrets", path: "a", code: "op.invalid_bucket"},
		{name: "empty path", bucket: BucketAvatars, path: "  ", code: "op.invalid_path"},
		{name: "traversal", bucket: BucketAvatars, path: "a/../../etc", code: "op.invalid_path"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got, err := ValidateLocation("op", testCase.bucket, testCase.path)
			if testCase.code != "" {
				assert.Equal(t, testCase.code, apperr.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testCase.want, got)
		})
	}
}

func TestPublicURL(t *testing.T) {
	got := PublicURL("https://alias.example.com/", BucketAttachments, "u1/my file.png")
	assert.Equal(t, "https://alias.example.com/files/attachments/u1/my%20file.png", got)
}
