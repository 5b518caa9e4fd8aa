package gitbridge

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/kohakuhub/hub/internal/config"
	"github.com/kohakuhub/hub/internal/lakefs"
	"github.com/kohakuhub/hub/internal/metadata"
	"github.com/kohakuhub/hub/internal/naming"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeStore struct {
	objects map[string][]byte
}

func newFakeStore() *httptest.Server {
	f := &fakeStore{objects: map[string][]byte{
		"README.md":  []byte("# hello\n"),
		"weights.bin": []byte("lfs-tracked-pointer-target"),
	}}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/repositories/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/objects/ls"):
			var results []lakefs.ObjectEntry
			for p, content := range f.objects {
				results = append(results, lakefs.ObjectEntry{Path: p, PathType: "object", SizeBytes: int64(len(content))})
			}
			writeJSON(w, map[string]interface{}{
				"pagination": map[string]interface{}{"has_more": false},
				"results":    results,
			})
		case strings.HasSuffix(path, "/objects") && r.Method == "GET":
			p := r.URL.Query().Get("path")
			content, ok := f.objects[p]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(content)
		case strings.Contains(path, "/commits/"):
			writeJSON(w, lakefs.CommitInfo{ID: "c1", Committer: "alice", Message: "initial", CreationDate: 1700000000})
		case strings.Contains(path, "/branches/"):
			writeJSON(w, lakefs.Branch{ID: "main", CommitID: "c1"})
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func setupGitbridge(t *testing.T) (*Engine, *metadata.Repository, func()) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(metadata.AllModels()...))

	srv := newFakeStore()
	lfsClient := lakefs.NewClient(config.LakeFS{Endpoint: srv.URL, AccessKey: "ak", SecretKey: "sk"})
	logger := logrus.New()
	engine := NewEngine(db, lfsClient, config.LFS{}, logger)

	owner := metadata.User{ID: uuid.New(), Username: "alice", NormalizedName: "alice"}
	require.NoError(t, db.Create(&owner).Error)
	repo := metadata.Repository{Namespace: "alice", Name: "demo", RepoType: metadata.RepoTypeModel, OwnerID: owner.ID}
	require.NoError(t, db.Create(&repo).Error)

	f := metadata.File{RepositoryID: repo.ID, PathInRepo: "weights.bin", Size: 26, SHA256: "deadbeef", LFS: true, OwnerID: owner.ID}
	require.NoError(t, db.Create(&f).Error)

	return engine, &repo, srv.Close
}

func TestAdvertiseRefs_WritesCommitSHA(t *testing.T) {
	engine, repo, closeSrv := setupGitbridge(t)
	defer closeSrv()

	var buf bytes.Buffer
	err := engine.AdvertiseRefs(context.Background(), &buf, repo, "lakefs-repo", "main")
	require.NoError(t, err)
	require.Contains(t, buf.String(), "service=git-upload-pack")
	require.Contains(t, buf.String(), "refs/heads/main")
}

func TestUploadPack_ProducesValidPackMagic(t *testing.T) {
	engine, repo, closeSrv := setupGitbridge(t)
	defer closeSrv()

	var buf bytes.Buffer
	err := engine.UploadPack(context.Background(), &buf, repo, "lakefs-repo", "main")
	require.NoError(t, err)
	require.Contains(t, buf.String(), "ACK")
	require.Contains(t, buf.String(), "PACK")
}

func TestInsertObject_LFSTrackedPathBecomesPointer(t *testing.T) {
	engine, repo, closeSrv := setupGitbridge(t)
	defer closeSrv()

	root := newDirNode()
	err := engine.insertObject(context.Background(), repo, "lakefs-repo", "main", "weights.bin", root)
	require.NoError(t, err)

	leaf := root.files["weights.bin"]
	body := stripObjectHeader(leaf.blob.bytes)
	require.True(t, strings.HasPrefix(string(body), "version https://git-lfs.github.com/spec/v1\noid sha256:deadbeef\n"))
}

func TestInsertObject_NonLFSPathInlinesContent(t *testing.T) {
	engine, repo, closeSrv := setupGitbridge(t)
	defer closeSrv()

	root := newDirNode()
	err := engine.insertObject(context.Background(), repo, "lakefs-repo", "main", "README.md", root)
	require.NoError(t, err)

	leaf := root.files["README.md"]
	require.Equal(t, []byte("# hello\n"), stripObjectHeader(leaf.blob.bytes))
}

func TestBuildPack_RoundTripsZlibDeflatedContent(t *testing.T) {
	obj := newBlob([]byte("hello world"))
	packBytes, err := buildPack([]object{obj})
	require.NoError(t, err)
	require.Equal(t, "PACK", string(packBytes[:4]))

	entryStart := 12 // magic(4) + version(4) + count(4)
	// skip the varint header: one byte suffices for an 11-byte object
	zr, err := zlib.NewReader(bytes.NewReader(packBytes[entryStart+1:]))
	require.NoError(t, err)
	content, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(content))
}

func TestTreeFlatten_SortsEntriesGitStyle(t *testing.T) {
	root := newDirNode()
	root.insert("b.txt", fileLeaf{blob: newBlob([]byte("b"))})
	root.insert("a/nested.txt", fileLeaf{blob: newBlob([]byte("n"))})

	var objs []object
	root.flatten(&objs)
	require.True(t, len(objs) >= 3) // two blobs + at least one tree

	found := false
	for _, o := range objs {
		if o.typ == objTree {
			found = true
		}
	}
	require.True(t, found)

	rootBody := string(stripObjectHeader(objs[len(objs)-1].bytes))
	dirAt := strings.Index(rootBody, "40000 a\x00")
	require.GreaterOrEqual(t, dirAt, 0)
	require.Less(t, dirAt, strings.Index(rootBody, "100644 b.txt\x00"))
}

func TestGitattributesBody_IncludesCustomSuffixes(t *testing.T) {
	body := gitattributesBody(naming.EffectiveLFSRules{SuffixPatterns: []string{"*.ckpt"}})
	require.Contains(t, string(body), "*.ckpt filter=lfs")
}
