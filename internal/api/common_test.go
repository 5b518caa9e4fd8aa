package api

import (
	"testing"

	"github.com/kohakuhub/hub/internal/metadata"
)

func TestRepoTypeFromPlural(t *testing.T) {
	tests := []struct {
		in      string
		want    metadata.RepoType
		wantOK  bool
	}{
		{"models", metadata.RepoTypeModel, true},
		{"datasets", metadata.RepoTypeDataset, true},
		{"spaces", metadata.RepoTypeSpace, true},
		{"model", "", false},
		{"bogus", "", false},
	}
	for _, tt := range tests {
		got, ok := repoTypeFromPlural(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("repoTypeFromPlural(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestTrimDotGit(t *testing.T) {
	if got := trimDotGit("myrepo.git"); got != "myrepo" {
		t.Errorf("trimDotGit(myrepo.git) = %q, want myrepo", got)
	}
	if got := trimDotGit("myrepo"); got != "myrepo" {
		t.Errorf("trimDotGit(myrepo) = %q, want myrepo", got)
	}
}

func TestParsePositiveInt(t *testing.T) {
	if n, err := parsePositiveInt("42"); err != nil || n != 42 {
		t.Errorf("parsePositiveInt(42) = (%d, %v), want (42, nil)", n, err)
	}
	if _, err := parsePositiveInt("not-a-number"); err == nil {
		t.Error("parsePositiveInt(not-a-number) expected error")
	}
}
