package commit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kohakuhub/hub/internal/blobstore"
	"github.com/kohakuhub/hub/internal/config"
	"github.com/kohakuhub/hub/internal/gc"
	"github.com/kohakuhub/hub/internal/lakefs"
	"github.com/kohakuhub/hub/internal/metadata"
	"github.com/kohakuhub/hub/internal/naming"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// fakeLakeFS is a minimal in-memory stand-in for the versioned store's
// REST API, just enough surface for the commit engine's calls.
type fakeLakeFS struct {
	mu      sync.Mutex
	heads   map[string]string // branch -> commit id
	commits map[string]bool
	nextID  int
}

func newFakeLakeFS() *fakeLakeFS {
	return &fakeLakeFS{heads: map[string]string{"main": "c0"}, commits: map[string]bool{"c0": true}}
}

func (f *fakeLakeFS) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/repositories/", func(w http.ResponseWriter, r *http.Request) {
		f.route(w, r)
	})
	return httptest.NewServer(mux)
}

func (f *fakeLakeFS) route(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case r.Method == "POST" && strings.HasSuffix(path, "/objects") && r.URL.Query().Get("path") != "":
		body, _ := io.ReadAll(r.Body)
		writeJSON(w, lakefs.ObjectStat{Path: r.URL.Query().Get("path"), Checksum: "git-sha", SizeBytes: int64(len(body)), PhysicalAddress: "s3://bucket/objs/x"})
	case r.Method == "PUT" && strings.HasSuffix(path, "/staging/backing"):
		w.WriteHeader(http.StatusOK)
	case r.Method == "DELETE" && strings.HasSuffix(path, "/objects"):
		w.WriteHeader(http.StatusOK)
	case r.Method == "GET" && strings.HasSuffix(path, "/objects/ls"):
		writeJSON(w, map[string]interface{}{"pagination": map[string]interface{}{"has_more": false}, "results": []interface{}{}})
	case r.Method == "GET" && strings.HasSuffix(path, "/objects/stat"):
		writeJSON(w, lakefs.ObjectStat{Path: r.URL.Query().Get("path"), Checksum: "src-sha", SizeBytes: 42, PhysicalAddress: "s3://bucket/objs/src"})
	case r.Method == "POST" && strings.HasSuffix(path, "/commits") && strings.Contains(path, "/branches/"):
		f.nextID++
		id := fmt.Sprintf("c%d", f.nextID)
		f.commits[id] = true
		f.heads[branchFromCommitsPath(path)] = id
		writeJSON(w, lakefs.CommitInfo{ID: id, Message: "test"})
	case r.Method == "GET" && strings.Contains(path, "/commits/") && !strings.Contains(path, "/branches/"):
		id := lastSegment(path)
		if !f.commits[id] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, lakefs.CommitInfo{ID: id})
	case r.Method == "GET" && strings.Contains(path, "/branches/") && !strings.Contains(path, "/commits"):
		branch := lastSegment(path)
		writeJSON(w, lakefs.Branch{ID: branch, CommitID: f.heads[branch]})
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func lastSegment(path string) string {
	parts := strings.Split(strings.TrimRight(path, "/"), "/")
	return parts[len(parts)-1]
}

func branchFromCommitsPath(path string) string {
	const marker = "/branches/"
	i := strings.Index(path, marker)
	if i < 0 {
		return "main"
	}
	rest := path[i+len(marker):]
	if j := strings.Index(rest, "/"); j >= 0 {
		return rest[:j]
	}
	return rest
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

type memBackend struct {
	mu     sync.Mutex
	blobs  map[string][]byte
}

func newMemBackend() *memBackend { return &memBackend{blobs: map[string][]byte{}} }

func (m *memBackend) PresignPut(ctx context.Context, key string, expires time.Duration, contentType, sha256B64 string) (string, map[string]string, time.Time, error) {
	return "", nil, time.Time{}, nil
}
func (m *memBackend) PresignGet(ctx context.Context, key string, expires time.Duration, downloadFilename string) (string, error) {
	return "", nil
}
func (m *memBackend) CreateMultipart(ctx context.Context, key string) (string, error) { return "", nil }
func (m *memBackend) PresignPart(ctx context.Context, key, uploadID string, partNumber int) (string, error) {
	return "", nil
}
func (m *memBackend) CompleteMultipart(ctx context.Context, key, uploadID string, parts []blobstore.Part) (int64, string, error) {
	return 0, "", nil
}
func (m *memBackend) AbortMultipart(ctx context.Context, key, uploadID string) error { return nil }
func (m *memBackend) Head(ctx context.Context, key string) (int64, string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[key]
	if !ok {
		return 0, "", time.Time{}, fmt.Errorf("not found")
	}
	return int64(len(b)), "", time.Time{}, nil
}
func (m *memBackend) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok, nil
}
func (m *memBackend) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	b, _ := io.ReadAll(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = b
	return nil
}
func (m *memBackend) Download(ctx context.Context, key string) (io.ReadCloser, error) { return nil, nil }
func (m *memBackend) Delete(ctx context.Context, key string) error                    { return nil }
func (m *memBackend) DeletePrefix(ctx context.Context, prefix string) (int, error)     { return 0, nil }
func (m *memBackend) put(key string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = content
}

func setupEngine(t *testing.T) (*Engine, *gorm.DB, *memBackend, func()) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(metadata.AllModels()...))

	fake := newFakeLakeFS()
	srv := fake.server()

	lfsClient := lakefs.NewClient(config.LakeFS{Endpoint: srv.URL, AccessKey: "ak", SecretKey: "sk"})
	backend := newMemBackend()
	logger := logrus.New()
	gcEngine := gc.NewEngine(db, backend, lfsClient, &gc.Locker{}, logger)
	engine := NewEngine(db, backend, lfsClient, gcEngine, "test-bucket", logger)

	return engine, db, backend, srv.Close
}

func TestApply_InlineFileCreatesCommit(t *testing.T) {
	engine, db, _, closeSrv := setupEngine(t)
	defer closeSrv()
	ctx := context.Background()

	owner := metadata.User{ID: uuid.New(), Username: "alice", NormalizedName: "alice"}
	require.NoError(t, db.Create(&owner).Error)
	repo := metadata.Repository{Namespace: "alice", Name: "demo", RepoType: metadata.RepoTypeModel, OwnerID: owner.ID}
	require.NoError(t, db.Create(&repo).Error)

	content := base64.StdEncoding.EncodeToString([]byte("hello world"))
	ops := []Op{{File: &FileOp{Path: "README.md", Content: content, Encoding: "base64"}}}
	header := &Header{Summary: "add readme"}
	rules := naming.EffectiveLFSRules{ThresholdBytes: 10 * 1024 * 1024}

	result, err := engine.Apply(ctx, &repo, "lakefs-repo", "main", nil, header, ops, rules)
	require.NoError(t, err)
	require.NotEmpty(t, result.CommitOid)
	require.NotEqual(t, "c0", result.CommitOid)

	var f metadata.File
	require.NoError(t, db.Where("repository_id = ? AND path_in_repo = ?", repo.ID, "README.md").First(&f).Error)
	require.False(t, f.IsDeleted)
	require.False(t, f.LFS)
}

func TestApply_NoOpsReturnsHeadWithoutNewCommit(t *testing.T) {
	engine, db, _, closeSrv := setupEngine(t)
	defer closeSrv()
	ctx := context.Background()

	owner := metadata.User{ID: uuid.New(), Username: "bob", NormalizedName: "bob"}
	require.NoError(t, db.Create(&owner).Error)
	repo := metadata.Repository{Namespace: "bob", Name: "demo", RepoType: metadata.RepoTypeModel, OwnerID: owner.ID}
	require.NoError(t, db.Create(&repo).Error)

	header := &Header{Summary: "empty"}
	result, err := engine.Apply(ctx, &repo, "lakefs-repo", "main", nil, header, nil, naming.EffectiveLFSRules{})
	require.NoError(t, err)
	require.Equal(t, "c0", result.CommitOid)
}

func TestApply_RejectsInlineFileOverThreshold(t *testing.T) {
	engine, db, _, closeSrv := setupEngine(t)
	defer closeSrv()
	ctx := context.Background()

	owner := metadata.User{ID: uuid.New(), Username: "carol", NormalizedName: "carol"}
	require.NoError(t, db.Create(&owner).Error)
	repo := metadata.Repository{Namespace: "carol", Name: "demo", RepoType: metadata.RepoTypeModel, OwnerID: owner.ID}
	require.NoError(t, db.Create(&repo).Error)

	content := base64.StdEncoding.EncodeToString(make([]byte, 100))
	ops := []Op{{File: &FileOp{Path: "big.bin", Content: content, Encoding: "base64"}}}
	rules := naming.EffectiveLFSRules{ThresholdBytes: 10}

	_, err := engine.Apply(ctx, &repo, "lakefs-repo", "main", nil, &Header{Summary: "x"}, ops, rules)
	require.Error(t, err)
}

func TestApply_LFSFileRequiresUploadedBlob(t *testing.T) {
	engine, db, backend, closeSrv := setupEngine(t)
	defer closeSrv()
	ctx := context.Background()

	owner := metadata.User{ID: uuid.New(), Username: "dave", NormalizedName: "dave"}
	require.NoError(t, db.Create(&owner).Error)
	repo := metadata.Repository{Namespace: "dave", Name: "demo", RepoType: metadata.RepoTypeModel, OwnerID: owner.ID}
	require.NoError(t, db.Create(&repo).Error)

	oid := "deadbeefcafebabe"
	ops := []Op{{LFSFile: &LFSFileOp{Path: "weights.bin", OID: oid, Size: 4, Algo: "sha256"}}}
	_, err := engine.Apply(ctx, &repo, "lakefs-repo", "main", nil, &Header{Summary: "x"}, ops, naming.EffectiveLFSRules{})
	require.Error(t, err)

	backend.put(blobstore.LFSKey(oid), []byte("data"))
	result, err := engine.Apply(ctx, &repo, "lakefs-repo", "main", nil, &Header{Summary: "x"}, ops, naming.EffectiveLFSRules{})
	require.NoError(t, err)
	require.NotEmpty(t, result.CommitOid)

	var f metadata.File
	require.NoError(t, db.Where("repository_id = ? AND path_in_repo = ?", repo.ID, "weights.bin").First(&f).Error)
	require.True(t, f.LFS)
	require.Equal(t, oid, f.SHA256)
}
