package gitbridge

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing/format/pktline"
	"github.com/kohakuhub/hub/internal/config"
	"github.com/kohakuhub/hub/internal/lakefs"
	"github.com/kohakuhub/hub/internal/metadata"
	"github.com/kohakuhub/hub/internal/naming"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Engine serves a read-only Git smart-HTTP surface (info/refs and
// git-upload-pack) backed entirely by the versioned store: nothing is
// checked out to disk, every object is synthesized on the fly. Writes
// via git push are out of scope — the NDJSON commit endpoint is this
// service's only write path.
type Engine struct {
	db     *gorm.DB
	lfs    *lakefs.Client
	lfsCfg config.LFS
	logger *logrus.Logger
}

func NewEngine(db *gorm.DB, lfs *lakefs.Client, lfsCfg config.LFS, logger *logrus.Logger) *Engine {
	return &Engine{db: db, lfs: lfs, lfsCfg: lfsCfg, logger: logger}
}

const uploadPackService = "git-upload-pack"

// AdvertiseRefs writes the pkt-line ref advertisement for the smart
// "info/refs?service=git-upload-pack" handshake: a service banner, the
// resolved HEAD of ref pointing at a synthesized commit sha, then a
// flush.
func (e *Engine) AdvertiseRefs(ctx context.Context, w io.Writer, repo *metadata.Repository, lakefsRepo, ref string) error {
	commitSHA, _, err := e.synthesizeCommit(ctx, repo, lakefsRepo, ref)
	if err != nil {
		return err
	}

	enc := pktline.NewEncoder(w)
	if err := enc.Encode([]byte(fmt.Sprintf("# service=%s\n", uploadPackService))); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}

	refName := "refs/heads/" + ref
	first := fmt.Sprintf("%x %s\x00report-status side-band-64k agent=kohakuhub-gitbridge\n", commitSHA, refName)
	if err := enc.Encode([]byte(first)); err != nil {
		return err
	}
	if err := enc.Encode([]byte(fmt.Sprintf("%x HEAD\n", commitSHA))); err != nil {
		return err
	}
	return enc.Flush()
}

// UploadPack answers a git-upload-pack POST. Since this bridge never
// keeps a local object store to negotiate "have"s against, it ignores
// the client's haves and always sends the full pack for ref's current
// tip — correct for a fresh clone, over-complete (but still correct)
// for an incremental fetch.
func (e *Engine) UploadPack(ctx context.Context, w io.Writer, repo *metadata.Repository, lakefsRepo, ref string) error {
	commitSHA, commitObj, err := e.synthesizeCommit(ctx, repo, lakefsRepo, ref)
	if err != nil {
		return err
	}

	objs, err := e.collectObjects(ctx, repo, lakefsRepo, ref, commitObj)
	if err != nil {
		return err
	}

	enc := pktline.NewEncoder(w)
	if err := enc.Encode([]byte(fmt.Sprintf("ACK %x\n", commitSHA))); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}

	packBytes, err := buildPack(objs)
	if err != nil {
		return err
	}

	const sideband1 = 1
	const chunk = 65515 // 65520 pktline cap minus the side-band channel byte minus framing slack
	for off := 0; off < len(packBytes); off += chunk {
		end := off + chunk
		if end > len(packBytes) {
			end = len(packBytes)
		}
		payload := append([]byte{sideband1}, packBytes[off:end]...)
		if err := enc.Encode(payload); err != nil {
			return err
		}
	}
	return enc.Flush()
}

// synthesizeCommit resolves ref to a versioned-store commit, builds the
// working tree at that commit, and returns the commit object's sha1
// alongside the object itself (callers reuse it to avoid rebuilding the
// tree twice).
func (e *Engine) synthesizeCommit(ctx context.Context, repo *metadata.Repository, lakefsRepo, ref string) ([20]byte, object, error) {
	commitID, err := e.resolveCommitID(ctx, lakefsRepo, ref)
	if err != nil {
		return [20]byte{}, object{}, err
	}
	info, err := e.lfs.GetCommit(ctx, lakefsRepo, commitID)
	if err != nil {
		return [20]byte{}, object{}, err
	}

	root := newDirNode()
	if err := e.populateTree(ctx, repo, lakefsRepo, ref, root); err != nil {
		return [20]byte{}, object{}, err
	}
	e.injectLFSFiles(root, naming.ResolveLFSRules(e.lfsCfg, repo))

	var objs []object
	rootTree := root.flatten(&objs)

	meta := CommitMeta{
		AuthorName:  info.Committer,
		AuthorEmail: info.Committer + "@kohakuhub.local",
		Message:     info.Message,
		UnixSeconds: info.CreationDate,
	}
	if meta.UnixSeconds == 0 {
		meta.UnixSeconds = time.Now().Unix()
	}
	commitObj := newCommit(rootTree.sha1, meta)
	return commitObj.sha1, commitObj, nil
}

// collectObjects rebuilds the full object set (blobs + trees + commit)
// reachable from ref's tip, reusing the already-synthesized commit
// object so its sha1 stays consistent with what AdvertiseRefs promised.
func (e *Engine) collectObjects(ctx context.Context, repo *metadata.Repository, lakefsRepo, ref string, commitObj object) ([]object, error) {
	root := newDirNode()
	if err := e.populateTree(ctx, repo, lakefsRepo, ref, root); err != nil {
		return nil, err
	}
	e.injectLFSFiles(root, naming.ResolveLFSRules(e.lfsCfg, repo))

	var objs []object
	root.flatten(&objs)
	objs = append(objs, commitObj)
	return objs, nil
}

func (e *Engine) resolveCommitID(ctx context.Context, lakefsRepo, ref string) (string, error) {
	if strings.HasPrefix(ref, "refs/heads/") {
		ref = strings.TrimPrefix(ref, "refs/heads/")
	}
	return e.lfs.GetBranchHEAD(ctx, lakefsRepo, ref)
}

// populateTree lists every object at ref and inserts a blob (inline
// content) or, for objects this repo's File table marks as LFS, a
// placeholder that injectLFSFiles later turns into a pointer blob.
func (e *Engine) populateTree(ctx context.Context, repo *metadata.Repository, lakefsRepo, ref string, root *dirNode) error {
	after := ""
	for {
		entries, hasMore, next, err := e.lfs.ListObjects(ctx, lakefsRepo, ref, "", after, 1000)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.PathType != "object" {
				continue
			}
			if err := e.insertObject(ctx, repo, lakefsRepo, ref, entry.Path, root); err != nil {
				return err
			}
		}
		if !hasMore {
			break
		}
		after = next
	}
	return nil
}

func (e *Engine) insertObject(ctx context.Context, repo *metadata.Repository, lakefsRepo, ref, path string, root *dirNode) error {
	var f metadata.File
	found := e.db.WithContext(ctx).
		Where("repository_id = ? AND path_in_repo = ? AND is_deleted = ?", repo.ID, path, false).
		First(&f).Error == nil

	if found && f.LFS {
		root.insert(path, fileLeaf{blob: newBlob(lfsPointerBody(f.SHA256, f.Size))})
		return nil
	}

	content, err := e.lfs.GetObject(ctx, lakefsRepo, ref, path)
	if err != nil {
		return fmt.Errorf("gitbridge: read %s@%s: %w", path, ref, err)
	}
	root.insert(path, fileLeaf{blob: newBlob(content)})
	return nil
}

// injectLFSFiles adds the synthesized .gitattributes (routing every LFS
// suffix pattern through the LFS filter) and .lfsconfig (pointing the
// LFS client back at this server) at the tree root, unless the repo
// already tracks one of those paths itself.
func (e *Engine) injectLFSFiles(root *dirNode, rules naming.EffectiveLFSRules) {
	if _, exists := root.files[".gitattributes"]; !exists {
		root.files[".gitattributes"] = fileLeaf{blob: newBlob(gitattributesBody(rules))}
	}
	if _, exists := root.files[".lfsconfig"]; !exists {
		root.files[".lfsconfig"] = fileLeaf{blob: newBlob(lfsconfigBody())}
	}
}

func gitattributesBody(rules naming.EffectiveLFSRules) []byte {
	var b strings.Builder
	b.WriteString("*.bin filter=lfs diff=lfs merge=lfs -text\n")
	b.WriteString("*.safetensors filter=lfs diff=lfs merge=lfs -text\n")
	b.WriteString("*.gguf filter=lfs diff=lfs merge=lfs -text\n")
	for _, pattern := range rules.SuffixPatterns {
		fmt.Fprintf(&b, "%s filter=lfs diff=lfs merge=lfs -text\n", pattern)
	}
	return []byte(b.String())
}

func lfsconfigBody() []byte {
	return []byte("[lfs]\n\turl = .\n")
}
