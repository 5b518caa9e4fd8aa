package main

import (
	"testing"

	"github.com/kohakuhub/hub/internal/metadata"
)

func TestParseRepoRef(t *testing.T) {
	tests := []struct {
		in      string
		want    repoRef
		wantErr bool
	}{
		{"models/alice/gpt", repoRef{metadata.RepoTypeModel, "alice", "gpt"}, false},
		{"model/alice/gpt", repoRef{metadata.RepoTypeModel, "alice", "gpt"}, false},
		{"datasets/bob/reviews", repoRef{metadata.RepoTypeDataset, "bob", "reviews"}, false},
		{"spaces/carol/demo", repoRef{metadata.RepoTypeSpace, "carol", "demo"}, false},
		{"bogus/alice/gpt", repoRef{}, true},
		{"not-enough-parts", repoRef{}, true},
	}
	for _, tt := range tests {
		got, err := parseRepoRef(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseRepoRef(%q): expected error, got none", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseRepoRef(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseRepoRef(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
