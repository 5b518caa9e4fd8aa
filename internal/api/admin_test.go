package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kohakuhub/hub/internal/blobstore"
)

// fakeBlobs implements blobstore.Backend with DeletePrefix as the only
// method the admin prefix-delete flow actually exercises.
type fakeBlobs struct {
	deletedPrefix string
	deleteCount   int
	deleteErr     error
}

func (f *fakeBlobs) PresignPut(ctx context.Context, key string, expires time.Duration, contentType, sha256B64 string) (string, map[string]string, time.Time, error) {
	return "", nil, time.Time{}, nil
}
func (f *fakeBlobs) PresignGet(ctx context.Context, key string, expires time.Duration, downloadFilename string) (string, error) {
	return "", nil
}
func (f *fakeBlobs) CreateMultipart(ctx context.Context, key string) (string, error) { return "", nil }
func (f *fakeBlobs) PresignPart(ctx context.Context, key, uploadID string, partNumber int) (string, error) {
	return "", nil
}
func (f *fakeBlobs) CompleteMultipart(ctx context.Context, key, uploadID string, parts []blobstore.Part) (int64, string, error) {
	return 0, "", nil
}
func (f *fakeBlobs) AbortMultipart(ctx context.Context, key, uploadID string) error { return nil }
func (f *fakeBlobs) Head(ctx context.Context, key string) (int64, string, time.Time, error) {
	return 0, "", time.Time{}, nil
}
func (f *fakeBlobs) Exists(ctx context.Context, key string) (bool, error) { return false, nil }
func (f *fakeBlobs) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	return nil
}
func (f *fakeBlobs) Download(ctx context.Context, key string) (io.ReadCloser, error) { return nil, nil }
func (f *fakeBlobs) Delete(ctx context.Context, key string) error                    { return nil }
func (f *fakeBlobs) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	f.deletedPrefix = prefix
	return f.deleteCount, f.deleteErr
}

func TestPrefixDeleteRequestConfirmFlow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	blobs := &fakeBlobs{deleteCount: 3}
	h := newAdminHandlers(&Dependencies{Blobs: blobs})

	// Request a token.
	reqBody, _ := json.Marshal(prefixDeleteRequest{Prefix: "lfs/deadbeef"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/admin/storage/delete-prefix", bytes.NewReader(reqBody))
	c.Request.Header.Set("Content-Type", "application/json")
	h.requestPrefixDelete(c)

	if w.Code != http.StatusOK {
		t.Fatalf("requestPrefixDelete: got status %d", w.Code)
	}
	var resp struct {
		ConfirmationToken string `json:"confirmationToken"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ConfirmationToken == "" {
		t.Fatal("expected non-empty confirmation token")
	}

	// Confirm with the issued token.
	confirmBody, _ := json.Marshal(confirmPrefixDeleteRequest{ConfirmationToken: resp.ConfirmationToken})
	w2 := httptest.NewRecorder()
	c2, _ := gin.CreateTestContext(w2)
	c2.Request = httptest.NewRequest(http.MethodPost, "/admin/storage/delete-prefix/confirm", bytes.NewReader(confirmBody))
	c2.Request.Header.Set("Content-Type", "application/json")
	h.confirmPrefixDelete(c2)

	if w2.Code != http.StatusOK {
		t.Fatalf("confirmPrefixDelete: got status %d, body %s", w2.Code, w2.Body.String())
	}
	if blobs.deletedPrefix != "lfs/deadbeef" {
		t.Errorf("DeletePrefix called with %q, want lfs/deadbeef", blobs.deletedPrefix)
	}

	// Token is single-use: a second confirm with the same token must fail.
	w3 := httptest.NewRecorder()
	c3, _ := gin.CreateTestContext(w3)
	c3.Request = httptest.NewRequest(http.MethodPost, "/admin/storage/delete-prefix/confirm", bytes.NewReader(confirmBody))
	c3.Request.Header.Set("Content-Type", "application/json")
	h.confirmPrefixDelete(c3)

	if w3.Code != http.StatusNotFound {
		t.Errorf("reused token: got status %d, want %d", w3.Code, http.StatusNotFound)
	}
}

func TestConfirmPrefixDelete_ExpiredToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	blobs := &fakeBlobs{}
	h := newAdminHandlers(&Dependencies{Blobs: blobs})

	h.pendingMu.Lock()
	h.pending["expired-token"] = pendingPrefixDelete{prefix: "lfs/x", expires: time.Now().Add(-time.Minute)}
	h.pendingMu.Unlock()

	body, _ := json.Marshal(confirmPrefixDeleteRequest{ConfirmationToken: "expired-token"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/admin/storage/delete-prefix/confirm", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	h.confirmPrefixDelete(c)

	if w.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want %d", w.Code, http.StatusBadRequest)
	}
}
