package lfsprotocol

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kohakuhub/hub/internal/blobstore"
	"github.com/kohakuhub/hub/internal/metadata"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeBackend struct {
	existing map[string]bool
}

func (f *fakeBackend) PresignPut(ctx context.Context, key string, expires time.Duration, contentType, sha256B64 string) (string, map[string]string, time.Time, error) {
	return "https://example.test/put/" + key, map[string]string{"x-amz-checksum-sha256": sha256B64}, time.Now().Add(expires), nil
}
func (f *fakeBackend) PresignGet(ctx context.Context, key string, expires time.Duration, downloadFilename string) (string, error) {
	return "https://example.test/get/" + key, nil
}
func (f *fakeBackend) CreateMultipart(ctx context.Context, key string) (string, error) {
	return "upload-" + key, nil
}
func (f *fakeBackend) PresignPart(ctx context.Context, key, uploadID string, partNumber int) (string, error) {
	return "https://example.test/part", nil
}
func (f *fakeBackend) CompleteMultipart(ctx context.Context, key, uploadID string, parts []blobstore.Part) (int64, string, error) {
	return 0, "", nil
}
func (f *fakeBackend) AbortMultipart(ctx context.Context, key, uploadID string) error { return nil }
func (f *fakeBackend) Head(ctx context.Context, key string) (int64, string, time.Time, error) {
	return 0, "", time.Time{}, nil
}
func (f *fakeBackend) Exists(ctx context.Context, key string) (bool, error) {
	return f.existing[key], nil
}
func (f *fakeBackend) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	return nil
}
func (f *fakeBackend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, nil
}
func (f *fakeBackend) Delete(ctx context.Context, key string) error                 { return nil }
func (f *fakeBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) { return 0, nil }

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(metadata.AllModels()...))
	return db
}

func TestBatchUpload_DedupOnExistingBlob(t *testing.T) {
	db := setupTestDB(t)
	backend := &fakeBackend{existing: map[string]bool{blobstore.LFSKey("deadbeef"): true}}
	engine := NewEngine(db, backend)

	owner := metadata.User{ID: uuid.New(), Username: "alice", NormalizedName: "alice"}
	require.NoError(t, db.Create(&owner).Error)
	repo := metadata.Repository{Namespace: "alice", Name: "demo", RepoType: metadata.RepoTypeModel, OwnerID: owner.ID}
	require.NoError(t, db.Create(&repo).Error)

	resp, err := engine.Batch(context.Background(), &repo, BatchRequest{
		Operation: "upload",
		Objects:   []BatchObject{{OID: "deadbeef", Size: 1024}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, resp.Objects, 1)
	require.Nil(t, resp.Objects[0].Actions)
}

func TestBatchUpload_QuotaExceeded(t *testing.T) {
	db := setupTestDB(t)
	backend := &fakeBackend{existing: map[string]bool{}}
	engine := NewEngine(db, backend)

	owner := metadata.User{ID: uuid.New(), Username: "bob", NormalizedName: "bob"}
	require.NoError(t, db.Create(&owner).Error)
	repo := metadata.Repository{Namespace: "bob", Name: "demo", RepoType: metadata.RepoTypeModel, OwnerID: owner.ID}
	require.NoError(t, db.Create(&repo).Error)

	errQuota := errors.New("quota exceeded")
	_, err := engine.Batch(context.Background(), &repo, BatchRequest{
		Operation: "upload",
		Objects:   []BatchObject{{OID: "cafebabe", Size: 1024}},
	}, func(addBytes int64) error {
		require.Equal(t, int64(1024), addBytes)
		return errQuota
	})
	require.ErrorIs(t, err, errQuota)
}

func TestBatchUpload_MultipartPlanning(t *testing.T) {
	db := setupTestDB(t)
	backend := &fakeBackend{existing: map[string]bool{}}
	engine := NewEngine(db, backend)

	owner := metadata.User{ID: uuid.New(), Username: "carol", NormalizedName: "carol"}
	require.NoError(t, db.Create(&owner).Error)
	repo := metadata.Repository{Namespace: "carol", Name: "demo", RepoType: metadata.RepoTypeModel, OwnerID: owner.ID}
	require.NoError(t, db.Create(&repo).Error)

	bigSize := blobstore.MultipartThreshold + 1
	resp, err := engine.Batch(context.Background(), &repo, BatchRequest{
		Operation: "upload",
		Objects:   []BatchObject{{OID: "bigoid", Size: bigSize}},
	}, func(addBytes int64) error { return nil })
	require.NoError(t, err)
	require.Len(t, resp.Objects, 1)
	require.NotNil(t, resp.Objects[0].Actions)
	actions := *resp.Objects[0].Actions
	require.Contains(t, actions, "1")
	require.Contains(t, actions, "upload_id")
	require.Contains(t, actions, "complete")
}

func TestBatchDownload_MissingObject(t *testing.T) {
	db := setupTestDB(t)
	backend := &fakeBackend{existing: map[string]bool{}}
	engine := NewEngine(db, backend)

	owner := metadata.User{ID: uuid.New(), Username: "dave", NormalizedName: "dave"}
	require.NoError(t, db.Create(&owner).Error)
	repo := metadata.Repository{Namespace: "dave", Name: "demo", RepoType: metadata.RepoTypeModel, OwnerID: owner.ID}
	require.NoError(t, db.Create(&repo).Error)

	resp, err := engine.Batch(context.Background(), &repo, BatchRequest{
		Operation: "download",
		Objects:   []BatchObject{{OID: "unknown", Size: 10}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, resp.Objects, 1)
	require.NotNil(t, resp.Objects[0].Error)
	require.Equal(t, 404, resp.Objects[0].Error.Code)
}
