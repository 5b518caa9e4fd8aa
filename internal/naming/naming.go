// Package naming derives the storage-layer identity of a repository and
// normalizes account names for collision checks.
package naming

import (
	"fmt"
	"strings"

	"github.com/kohakuhub/hub/internal/metadata"
)

// Normalize lowercases name and strips '-'/'_' so "My-Repo" and "my_repo"
// collide for uniqueness purposes the way the reference Hub treats them.
func Normalize(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", "")
	name = strings.ReplaceAll(name, "_", "")
	return name
}

// LakeFSRepoName derives the versioned-store namespace name for a
// repository. The numeric id suffix means a deleted-and-recreated repo
// of the same (type, namespace, name) never reuses an old store name
// that might still have stranded objects from a squash or move.
func LakeFSRepoName(prefix string, repoType metadata.RepoType, namespace, name string, id uint) string {
	raw := fmt.Sprintf("%s-%s-%s-%s-%d", prefix, repoType, namespace, name, id)
	raw = strings.ToLower(raw)
	return strings.ReplaceAll(raw, "/", "-")
}
