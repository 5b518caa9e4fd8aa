// Package gitbridge synthesizes read-only Git objects (blobs, trees, a
// commit, and a pack) directly from the versioned-object store, with no
// on-disk checkout — the same "no local clone, no shell-out to git"
// shape as the rest of this service's storage access.
package gitbridge

import (
	"crypto/sha1"
	"fmt"
	"sort"
	"strings"
)

// gitObjectType mirrors the pack format's 3-bit type tags.
type gitObjectType int

const (
	objCommit gitObjectType = 1
	objTree   gitObjectType = 2
	objBlob   gitObjectType = 3
)

// object is a synthesized Git object ready for pack encoding: its raw
// (uncompressed, header-included) bytes and the sha1 those bytes hash to.
type object struct {
	typ   gitObjectType
	sha1  [20]byte
	bytes []byte // header + content, the same bytes "git hash-object" would feed to SHA-1
}

const lfsPointerVersion = "https://git-lfs.github.com/spec/v1"

// lfsPointerBody renders the three-line Git-LFS pointer text for oid/size.
func lfsPointerBody(oid string, size int64) []byte {
	return []byte(fmt.Sprintf("version %s\noid sha256:%s\nsize %d\n", lfsPointerVersion, oid, size))
}

// newBlob wraps content with the "blob {n}\0" header and hashes it.
func newBlob(content []byte) object {
	header := fmt.Sprintf("blob %d\x00", len(content))
	full := append([]byte(header), content...)
	return object{typ: objBlob, sha1: sha1.Sum(full), bytes: full}
}

// treeEntry is one line of a tree object before encoding: either a blob
// (file, possibly executable) or a nested tree (directory).
type treeEntry struct {
	name string
	mode string // "100644", "100755", or "40000" for a subtree
	sha1 [20]byte
}

// newTree concatenates sorted "mode name\0<20-byte-sha1>" entries and
// wraps them with the "tree {n}\0" header.
func newTree(entries []treeEntry) object {
	sort.Slice(entries, func(i, j int) bool { return treeSortKey(entries[i]) < treeSortKey(entries[j]) })

	var body []byte
	for _, e := range entries {
		body = append(body, []byte(e.mode+" "+e.name+"\x00")...)
		body = append(body, e.sha1[:]...)
	}
	header := fmt.Sprintf("tree %d\x00", len(body))
	full := append([]byte(header), body...)
	return object{typ: objTree, sha1: sha1.Sum(full), bytes: full}
}

// treeSortKey reproduces Git's tree entry ordering: subtrees sort as if
// their name had a trailing '/'.
func treeSortKey(e treeEntry) string {
	if e.mode == "40000" {
		return e.name + "/"
	}
	return e.name
}

// CommitMeta carries the authorship/timestamp fields pulled from the
// versioned-store commit.
type CommitMeta struct {
	AuthorName  string
	AuthorEmail string
	Message     string
	UnixSeconds int64
	TZOffset    string // e.g. "+0000"
}

// newCommit renders "tree {root}\n" + author/committer lines + the
// message, and hashes it as a commit object.
func newCommit(rootTreeSHA1 [20]byte, meta CommitMeta) object {
	name, email := meta.AuthorName, meta.AuthorEmail
	if name == "" {
		name = "unknown"
	}
	if email == "" {
		email = "unknown@example.com"
	}
	tz := meta.TZOffset
	if tz == "" {
		tz = "+0000"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "tree %x\n", rootTreeSHA1)
	fmt.Fprintf(&b, "author %s <%s> %d %s\n", name, email, meta.UnixSeconds, tz)
	fmt.Fprintf(&b, "committer %s <%s> %d %s\n", name, email, meta.UnixSeconds, tz)
	b.WriteString("\n")
	b.WriteString(meta.Message)
	b.WriteString("\n")

	content := []byte(b.String())
	header := fmt.Sprintf("commit %d\x00", len(content))
	full := append([]byte(header), content...)
	return object{typ: objCommit, sha1: sha1.Sum(full), bytes: full}
}
