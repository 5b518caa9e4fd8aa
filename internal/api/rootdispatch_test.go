package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestPathSegments(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"/a/b.git/info/refs", []string{"a", "b.git", "info", "refs"}},
		{"/a/b.git/git-upload-pack", []string{"a", "b.git", "git-upload-pack"}},
		{"/", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got := pathSegments(tt.in)
		if len(got) != len(tt.want) {
			t.Fatalf("pathSegments(%q) = %v, want %v", tt.in, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("pathSegments(%q) = %v, want %v", tt.in, got, tt.want)
			}
		}
	}
}

func TestGitSmartHTTPDispatch_UnmatchedPathFallsThroughToNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := gitSmartHTTPDispatch(&gitHandlers{})

	req := httptest.NewRequest(http.MethodGet, "/too/many/segments/here", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	handler(c)

	if w.Code != http.StatusNotFound {
		t.Errorf("got status %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestGitSmartHTTPDispatch_WrongMethodFallsThroughToNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := gitSmartHTTPDispatch(&gitHandlers{})

	// info/refs only matches on GET.
	req := httptest.NewRequest(http.MethodPost, "/ns/name.git/info/refs", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	handler(c)

	if w.Code != http.StatusNotFound {
		t.Errorf("got status %d, want %d", w.Code, http.StatusNotFound)
	}
}
