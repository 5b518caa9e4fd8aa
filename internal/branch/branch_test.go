package branch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/kohakuhub/hub/internal/config"
	"github.com/kohakuhub/hub/internal/gc"
	"github.com/kohakuhub/hub/internal/lakefs"
	"github.com/kohakuhub/hub/internal/metadata"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeServer struct {
	mu    sync.Mutex
	heads map[string]string
}

func newFakeServer() *httptest.Server {
	f := &fakeServer{heads: map[string]string{"main": "c0"}}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/repositories/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		path := r.URL.Path
		switch {
		case r.Method == "DELETE" && strings.Contains(path, "/branches/"):
			w.WriteHeader(http.StatusOK)
		case r.Method == "POST" && strings.Contains(path, "/branches"):
			w.WriteHeader(http.StatusOK)
		case r.Method == "GET" && strings.Contains(path, "/branches/"):
			branch := path[strings.LastIndex(path, "/")+1:]
			writeJSON(w, lakefs.Branch{ID: branch, CommitID: f.heads[branch]})
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

func setup(t *testing.T) (*Engine, *gorm.DB, *metadata.Repository, func()) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(metadata.AllModels()...))

	srv := newFakeServer()
	lfsClient := lakefs.NewClient(config.LakeFS{Endpoint: srv.URL, AccessKey: "ak", SecretKey: "sk"})
	logger := logrus.New()
	gcEngine := gc.NewEngine(db, nil, lfsClient, &gc.Locker{}, logger)
	engine := NewEngine(db, lfsClient, gcEngine, config.LFS{}, logger)

	owner := metadata.User{ID: uuid.New(), Username: "alice", NormalizedName: "alice"}
	require.NoError(t, db.Create(&owner).Error)
	repo := metadata.Repository{Namespace: "alice", Name: "demo", RepoType: metadata.RepoTypeModel, OwnerID: owner.ID}
	require.NoError(t, db.Create(&repo).Error)

	return engine, db, &repo, srv.Close
}

func TestDeleteBranch_RefusesMain(t *testing.T) {
	engine, _, _, closeSrv := setup(t)
	defer closeSrv()

	err := engine.DeleteBranch(context.Background(), "lakefs-repo", "main")
	require.Error(t, err)
}

func TestDeleteBranch_AllowsFeatureBranch(t *testing.T) {
	engine, _, _, closeSrv := setup(t)
	defer closeSrv()

	err := engine.DeleteBranch(context.Background(), "lakefs-repo", "feature-x")
	require.NoError(t, err)
}

func TestReset_RefusesMainWithoutForce(t *testing.T) {
	engine, _, repo, closeSrv := setup(t)
	defer closeSrv()

	_, err := engine.Reset(context.Background(), repo, "lakefs-repo", "main", "c0", false)
	require.Error(t, err)
}

func TestShortOid(t *testing.T) {
	require.Equal(t, "abcdefgh", shortOid("abcdefghijklmnop"))
	require.Equal(t, "ab", shortOid("ab"))
}
