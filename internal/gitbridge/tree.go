package gitbridge

import (
	"strings"
)

// dirNode is one level of the synthesized working tree: a set of files
// at this level plus nested directories, built up from flat repo paths
// before being folded into Git tree objects bottom-up.
type dirNode struct {
	files map[string]fileLeaf
	dirs  map[string]*dirNode
}

type fileLeaf struct {
	blob       object
	executable bool
}

func newDirNode() *dirNode {
	return &dirNode{files: map[string]fileLeaf{}, dirs: map[string]*dirNode{}}
}

// insert places leaf at the given slash-separated repo path, creating
// intermediate directories as needed.
func (d *dirNode) insert(path string, leaf fileLeaf) {
	parts := strings.Split(path, "/")
	cur := d
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur.dirs[part]
		if !ok {
			next = newDirNode()
			cur.dirs[part] = next
		}
		cur = next
	}
	cur.files[parts[len(parts)-1]] = leaf
}

// flatten folds the tree bottom-up into Git tree objects, appending
// every object (blobs and trees alike) it creates to out, and returns
// the root tree object.
func (d *dirNode) flatten(out *[]object) object {
	var entries []treeEntry

	for name, child := range d.dirs {
		childTree := child.flatten(out)
		entries = append(entries, treeEntry{name: name, mode: "40000", sha1: childTree.sha1})
	}
	for name, leaf := range d.files {
		mode := "100644"
		if leaf.executable {
			mode = "100755"
		}
		entries = append(entries, treeEntry{name: name, mode: mode, sha1: leaf.blob.sha1})
		*out = append(*out, leaf.blob)
	}

	tree := newTree(entries)
	*out = append(*out, tree)
	return tree
}
