package commit

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kohakuhub/hub/internal/apierror"
	"github.com/kohakuhub/hub/internal/blobstore"
	"github.com/kohakuhub/hub/internal/gc"
	"github.com/kohakuhub/hub/internal/lakefs"
	"github.com/kohakuhub/hub/internal/metadata"
	"github.com/kohakuhub/hub/internal/naming"
	"github.com/kohakuhub/hub/internal/perm"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// commitVisibilityAttempts/Interval bound the poll loop that waits for a
// newly created commit to be fetchable from the versioned store before
// recording it — large commits can take a moment to propagate.
const (
	commitVisibilityAttempts = 120
	commitVisibilityInterval = 500 * time.Millisecond
)

type Engine struct {
	db       *gorm.DB
	blobs    blobstore.Backend
	lfs      *lakefs.Client
	gc       *gc.Engine
	s3Bucket string
	logger   *logrus.Logger
}

func NewEngine(db *gorm.DB, blobs blobstore.Backend, lfs *lakefs.Client, gcEngine *gc.Engine, s3Bucket string, logger *logrus.Logger) *Engine {
	return &Engine{db: db, blobs: blobs, lfs: lfs, gc: gcEngine, s3Bucket: s3Bucket, logger: logger}
}

// Result is what a finalized (or no-op) commit call returns to the caller.
type Result struct {
	CommitURL      string
	CommitOid      string
	PullRequestURL *string
}

type pendingLFS struct {
	Path      string
	OID       string
	Size      int64
	OldSHA256 string
}

// state accumulates per-call bookkeeping across operations before
// finalization decides whether any of it gets persisted.
type state struct {
	filesChanged bool
	bytesDelta   int64
	pending      []pendingLFS
}

// Apply runs a full commit call: parses nothing itself (the caller has
// already split header/ops via ParseNDJSON), applies each op in order
// against the versioned store and the File table, and — if anything
// actually changed — creates one new commit, records history, runs
// retention GC, and updates quota usage.
func (e *Engine) Apply(ctx context.Context, repo *metadata.Repository, lakefsRepo, branch string, principal *perm.Principal, header *Header, ops []Op, rules naming.EffectiveLFSRules) (*Result, error) {
	st := &state{}

	for _, op := range ops {
		var err error
		switch {
		case op.File != nil:
			err = e.applyFile(ctx, repo, lakefsRepo, branch, op.File, rules, st)
		case op.LFSFile != nil:
			err = e.applyLFSFile(ctx, repo, lakefsRepo, branch, op.LFSFile, st)
		case op.DeletedFile != nil:
			err = e.applyDeletedFile(ctx, repo, lakefsRepo, branch, op.DeletedFile, st)
		case op.DeletedFolder != nil:
			err = e.applyDeletedFolder(ctx, repo, lakefsRepo, branch, op.DeletedFolder, st)
		case op.CopyFile != nil:
			err = e.applyCopyFile(ctx, repo, lakefsRepo, branch, op.CopyFile, rules, st)
		}
		if err != nil {
			return nil, err
		}
	}

	if !st.filesChanged {
		head, err := e.lfs.GetBranchHEAD(ctx, lakefsRepo, branch)
		if err != nil {
			return nil, err
		}
		return &Result{CommitOid: head, CommitURL: commitURL(repo, head)}, nil
	}

	return e.finalize(ctx, repo, lakefsRepo, branch, principal, header, st, rules)
}

func (e *Engine) finalize(ctx context.Context, repo *metadata.Repository, lakefsRepo, branch string, principal *perm.Principal, header *Header, st *state, rules naming.EffectiveLFSRules) (*Result, error) {
	info, err := e.lfs.Commit(ctx, lakefsRepo, branch, header.Summary, map[string]string{"description": header.Description})
	if err != nil {
		return nil, err
	}

	if err := e.waitForVisibility(ctx, lakefsRepo, info.ID); err != nil {
		e.logger.WithError(err).WithField("commit_id", info.ID).Warn("commit: visibility poll did not confirm, proceeding anyway")
	}

	row := metadata.Commit{
		ID:           uuid.New(),
		CommitID:     info.ID,
		RepositoryID: repo.ID,
		RepoType:     repo.RepoType,
		Branch:       branch,
		Message:      header.Summary,
		Description:  header.Description,
	}
	if principal != nil {
		row.AuthorID = &principal.UserID
		row.Username = principal.Username
	}
	if err := e.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("commit: insert commit row: %w", err)
	}

	for _, p := range st.pending {
		if err := e.gc.TrackLFSObject(ctx, repo, p.Path, p.OID, p.Size, info.ID, nil); err != nil {
			e.logger.WithError(err).WithField("path", p.Path).Warn("commit: history insert failed")
		}
	}

	for _, p := range st.pending {
		if p.OldSHA256 != "" {
			e.gc.RunGCForFile(ctx, repo, p.Path, rules)
		}
	}

	if st.bytesDelta != 0 {
		if err := perm.AdjustQuota(ctx, e.db, repo.Namespace, st.bytesDelta, repo.Private); err != nil {
			e.logger.WithError(err).Warn("commit: quota adjust failed")
		}
		if err := e.db.WithContext(ctx).Model(&metadata.Repository{}).
			Where("id = ?", repo.ID).
			UpdateColumn("used_bytes", gorm.Expr("used_bytes + ?", st.bytesDelta)).Error; err != nil {
			e.logger.WithError(err).Warn("commit: repository used_bytes update failed")
		}
	}

	return &Result{CommitOid: info.ID, CommitURL: commitURL(repo, info.ID)}, nil
}

func (e *Engine) waitForVisibility(ctx context.Context, lakefsRepo, commitID string) error {
	var lastErr error
	for i := 0; i < commitVisibilityAttempts; i++ {
		if _, err := e.lfs.GetCommit(ctx, lakefsRepo, commitID); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(commitVisibilityInterval):
		}
	}
	return lastErr
}

func (e *Engine) applyFile(ctx context.Context, repo *metadata.Repository, lakefsRepo, branch string, op *FileOp, rules naming.EffectiveLFSRules, st *state) error {
	if !strings.HasPrefix(op.Encoding, "base64") {
		return apierror.Validation("UnsupportedEncoding", fmt.Sprintf("commit: file op for %s requires base64 encoding", op.Path))
	}
	content, err := base64.StdEncoding.DecodeString(op.Content)
	if err != nil {
		return apierror.Validation("BadBase64", fmt.Sprintf("commit: file op for %s has invalid base64: %v", op.Path, err))
	}

	size := int64(len(content))
	if rules.IsLFSPath(op.Path, size) {
		return apierror.Validation("ShouldBeLFS", fmt.Sprintf("commit: %s qualifies as LFS content under repo rules, use lfsFile", op.Path))
	}

	gitSHA1 := gitBlobSHA1(content)

	existing, hasExisting, err := e.lookupFile(ctx, repo.ID, op.Path)
	if err != nil {
		return err
	}
	if hasExisting && !existing.IsDeleted && existing.SHA256 == gitSHA1 && existing.Size == size {
		return nil
	}

	if _, err := e.lfs.UploadObject(ctx, lakefsRepo, branch, op.Path, content); err != nil {
		return fmt.Errorf("commit: upload %s: %w", op.Path, err)
	}

	if err := e.upsertFile(ctx, repo, op.Path, gitSHA1, size, false, &existing, hasExisting); err != nil {
		return err
	}
	st.filesChanged = true
	if hasExisting {
		st.bytesDelta += size - existing.Size
	} else {
		st.bytesDelta += size
	}
	return nil
}

func (e *Engine) applyLFSFile(ctx context.Context, repo *metadata.Repository, lakefsRepo, branch string, op *LFSFileOp, st *state) error {
	existing, hasExisting, err := e.lookupFile(ctx, repo.ID, op.Path)
	if err != nil {
		return err
	}

	oldSHA256 := ""
	if hasExisting && existing.SHA256 != op.OID {
		oldSHA256 = existing.SHA256
	}

	key := blobstore.LFSKey(op.OID)
	physAddr := e.physicalAddress(key)

	size := op.Size
	switch {
	case hasExisting && existing.SHA256 == op.OID && existing.Size == op.Size:
		if existing.IsDeleted {
			if err := e.lfs.LinkPhysicalAddress(ctx, lakefsRepo, branch, op.Path, physAddr, op.OID, op.Size); err != nil {
				return fmt.Errorf("commit: restore %s: %w", op.Path, err)
			}
			if err := e.db.WithContext(ctx).Model(&metadata.File{}).
				Where("id = ?", existing.ID).
				Update("is_deleted", false).Error; err != nil {
				return fmt.Errorf("commit: restore file row %s: %w", op.Path, err)
			}
			st.filesChanged = true
			st.bytesDelta += op.Size
		}
	default:
		exists, err := e.blobs.Exists(ctx, key)
		if err != nil {
			return apierror.Upstream(fmt.Sprintf("commit: exists probe for %s", op.OID), err)
		}
		if !exists {
			return apierror.Validation("MissingLFSBlob", fmt.Sprintf("commit: lfsFile %s references oid %s which was never uploaded", op.Path, op.OID))
		}
		actualSize, _, _, err := e.blobs.Head(ctx, key)
		if err == nil && actualSize != op.Size {
			size = actualSize
		}
		if err := e.lfs.LinkPhysicalAddress(ctx, lakefsRepo, branch, op.Path, physAddr, op.OID, size); err != nil {
			return fmt.Errorf("commit: link %s: %w", op.Path, err)
		}
		if err := e.upsertFile(ctx, repo, op.Path, op.OID, size, true, &existing, hasExisting); err != nil {
			return err
		}
		st.filesChanged = true
		if hasExisting {
			st.bytesDelta += size - existing.Size
		} else {
			st.bytesDelta += size
		}
	}

	st.pending = append(st.pending, pendingLFS{Path: op.Path, OID: op.OID, Size: size, OldSHA256: oldSHA256})
	return nil
}

func (e *Engine) applyDeletedFile(ctx context.Context, repo *metadata.Repository, lakefsRepo, branch string, op *DeletedFileOp, st *state) error {
	if err := e.lfs.DeleteObject(ctx, lakefsRepo, branch, op.Path); err != nil {
		e.logger.WithError(err).WithField("path", op.Path).Warn("commit: best-effort delete failed")
	}

	existing, hasExisting, err := e.lookupFile(ctx, repo.ID, op.Path)
	if err != nil {
		return err
	}
	if !hasExisting || existing.IsDeleted {
		return nil
	}
	if err := e.db.WithContext(ctx).Model(&metadata.File{}).
		Where("id = ?", existing.ID).
		Update("is_deleted", true).Error; err != nil {
		return fmt.Errorf("commit: mark %s deleted: %w", op.Path, err)
	}
	st.filesChanged = true
	st.bytesDelta -= existing.Size
	return nil
}

func (e *Engine) applyDeletedFolder(ctx context.Context, repo *metadata.Repository, lakefsRepo, branch string, op *DeletedFolderOp, st *state) error {
	prefix := op.Path
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	after := ""
	var paths []string
	for {
		entries, hasMore, next, err := e.lfs.ListObjects(ctx, lakefsRepo, branch, prefix, after, 1000)
		if err != nil {
			return fmt.Errorf("commit: list %s: %w", prefix, err)
		}
		for _, entry := range entries {
			if entry.PathType == "object" {
				paths = append(paths, entry.Path)
			}
		}
		if !hasMore {
			break
		}
		after = next
	}

	for _, p := range paths {
		if err := e.lfs.DeleteObject(ctx, lakefsRepo, branch, p); err != nil {
			e.logger.WithError(err).WithField("path", p).Warn("commit: folder delete failed for one entry")
		}
	}

	var removedSize int64
	if err := e.db.WithContext(ctx).Model(&metadata.File{}).
		Where("repository_id = ? AND path_in_repo LIKE ? AND is_deleted = ?", repo.ID, prefix+"%", false).
		Select("COALESCE(SUM(size), 0)").
		Scan(&removedSize).Error; err != nil {
		e.logger.WithError(err).Warn("commit: folder size aggregate failed")
	}

	if err := e.db.WithContext(ctx).Model(&metadata.File{}).
		Where("repository_id = ? AND path_in_repo LIKE ? AND is_deleted = ?", repo.ID, prefix+"%", false).
		Update("is_deleted", true).Error; err != nil {
		return fmt.Errorf("commit: mark folder %s deleted: %w", prefix, err)
	}

	if len(paths) > 0 {
		st.filesChanged = true
		st.bytesDelta -= removedSize
	}
	return nil
}

func (e *Engine) applyCopyFile(ctx context.Context, repo *metadata.Repository, lakefsRepo, branch string, op *CopyFileOp, rules naming.EffectiveLFSRules, st *state) error {
	srcRef := op.SrcRevision
	if srcRef == "" {
		srcRef = branch
	}

	stat, err := e.lfs.StatObject(ctx, lakefsRepo, srcRef, op.SrcPath)
	if err != nil {
		return fmt.Errorf("commit: stat copy source %s@%s: %w", op.SrcPath, srcRef, err)
	}

	if err := e.lfs.LinkPhysicalAddress(ctx, lakefsRepo, branch, op.Path, stat.PhysicalAddress, stat.Checksum, stat.SizeBytes); err != nil {
		return fmt.Errorf("commit: link copy %s: %w", op.Path, err)
	}

	existing, hasExisting, err := e.lookupFile(ctx, repo.ID, op.Path)
	if err != nil {
		return err
	}

	isLFS := rules.IsLFSPath(op.Path, stat.SizeBytes)
	if srcFile, srcHas, err := e.lookupFile(ctx, repo.ID, op.SrcPath); err == nil && srcHas {
		isLFS = srcFile.LFS
	}

	if err := e.upsertFile(ctx, repo, op.Path, stat.Checksum, stat.SizeBytes, isLFS, &existing, hasExisting); err != nil {
		return err
	}
	st.filesChanged = true
	if hasExisting {
		st.bytesDelta += stat.SizeBytes - existing.Size
	} else {
		st.bytesDelta += stat.SizeBytes
	}
	if isLFS {
		st.pending = append(st.pending, pendingLFS{Path: op.Path, OID: stat.Checksum, Size: stat.SizeBytes})
	}
	return nil
}

func (e *Engine) lookupFile(ctx context.Context, repoID uint, path string) (metadata.File, bool, error) {
	var f metadata.File
	err := e.db.WithContext(ctx).Where("repository_id = ? AND path_in_repo = ?", repoID, path).First(&f).Error
	if err == gorm.ErrRecordNotFound {
		return metadata.File{}, false, nil
	}
	if err != nil {
		return metadata.File{}, false, fmt.Errorf("commit: lookup file %s: %w", path, err)
	}
	return f, true, nil
}

func (e *Engine) upsertFile(ctx context.Context, repo *metadata.Repository, path, sha256 string, size int64, isLFS bool, existing *metadata.File, hasExisting bool) error {
	if !hasExisting {
		f := metadata.File{
			ID:           uuid.New(),
			RepositoryID: repo.ID,
			PathInRepo:   path,
			Size:         size,
			SHA256:       sha256,
			LFS:          isLFS,
			IsDeleted:    false,
			OwnerID:      repo.OwnerID,
		}
		if err := e.db.WithContext(ctx).Create(&f).Error; err != nil {
			return fmt.Errorf("commit: insert file %s: %w", path, err)
		}
		*existing = f
		return nil
	}
	if err := e.db.WithContext(ctx).Model(existing).Updates(map[string]interface{}{
		"size":       size,
		"sha256":     sha256,
		"lfs":        isLFS,
		"is_deleted": false,
	}).Error; err != nil {
		return fmt.Errorf("commit: update file %s: %w", path, err)
	}
	return nil
}

func (e *Engine) physicalAddress(key string) string {
	return fmt.Sprintf("s3://%s/%s", e.s3Bucket, key)
}

func gitBlobSHA1(content []byte) string {
	header := fmt.Sprintf("blob %d\x00", len(content))
	h := sha1.New()
	h.Write([]byte(header))
	h.Write(content)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func commitURL(repo *metadata.Repository, commitOid string) string {
	return fmt.Sprintf("/%ss/%s/commit/%s", repo.RepoType, repo.FullID(), commitOid)
}
