// Package gc implements LFS retention and recoverability checks:
// tracking history, pruning superseded versions, and the parallel-probe
// recoverability gate that guards destructive resets.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kohakuhub/hub/internal/blobstore"
	"github.com/kohakuhub/hub/internal/lakefs"
	"github.com/kohakuhub/hub/internal/metadata"
	"github.com/kohakuhub/hub/internal/naming"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type Engine struct {
	db     *gorm.DB
	blobs  blobstore.Backend
	lfs    *lakefs.Client
	locker *Locker
	logger *logrus.Logger
}

func NewEngine(db *gorm.DB, blobs blobstore.Backend, lfs *lakefs.Client, locker *Locker, logger *logrus.Logger) *Engine {
	return &Engine{db: db, blobs: blobs, lfs: lfs, locker: locker, logger: logger}
}

// TrackLFSObject is an unconditional append to LFSObjectHistory — the
// log itself is never deduplicated, only GC's reading of it is.
func (e *Engine) TrackLFSObject(ctx context.Context, repo *metadata.Repository, path, sha256 string, size int64, commitID string, fileID *uuid.UUID) error {
	row := metadata.LFSObjectHistory{
		ID:           uuid.New(),
		RepositoryID: repo.ID,
		FileID:       fileID,
		PathInRepo:   path,
		SHA256:       sha256,
		Size:         size,
		CommitID:     commitID,
	}
	return e.db.WithContext(ctx).Create(&row).Error
}

// GetOldLFSVersions lists history rows for (repo, path) newest-first,
// reduces to unique oids in order, and returns every oid after the
// first keepK — the unique-oid count is what's retained, not rows, so
// reverts and merges touching the same oid again don't count as new
// versions.
func (e *Engine) GetOldLFSVersions(ctx context.Context, repoID uint, path string, keepK int) ([]string, error) {
	var rows []metadata.LFSObjectHistory
	err := e.db.WithContext(ctx).
		Where("repository_id = ? AND path_in_repo = ?", repoID, path).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("gc: list history for %s: %w", path, err)
	}

	seen := map[string]bool{}
	var uniqueOids []string
	for _, row := range rows {
		if seen[row.SHA256] {
			continue
		}
		seen[row.SHA256] = true
		uniqueOids = append(uniqueOids, row.SHA256)
	}

	if len(uniqueOids) <= keepK {
		return nil, nil
	}
	return uniqueOids[keepK:], nil
}

// CleanupLFSObject deletes the blob for sha256 iff no active File row
// anywhere references it and (when repo is zero, meaning "globally") no
// LFSObjectHistory row references it either. When repo is non-zero the
// history purge is scoped to that repo only, leaving other repos'
// records (and the blob, if they still need it) intact.
func (e *Engine) CleanupLFSObject(ctx context.Context, sha256 string, repoID uint) error {
	var activeCount int64
	if err := e.db.WithContext(ctx).Model(&metadata.File{}).
		Where("lfs = ? AND is_deleted = ? AND sha256 = ?", true, false, sha256).
		Count(&activeCount).Error; err != nil {
		return fmt.Errorf("gc: count active files for %s: %w", sha256, err)
	}
	if activeCount > 0 {
		return nil
	}

	if repoID == 0 {
		var historyCount int64
		if err := e.db.WithContext(ctx).Model(&metadata.LFSObjectHistory{}).
			Where("sha256 = ?", sha256).Count(&historyCount).Error; err != nil {
			return fmt.Errorf("gc: count history for %s: %w", sha256, err)
		}
		if historyCount > 0 {
			return nil
		}
	}

	key := blobstore.LFSKey(sha256)
	if err := e.blobs.Delete(ctx, key); err != nil {
		e.logger.WithError(err).WithField("sha256", sha256).Warn("gc: blob delete failed, history purge skipped")
		return nil
	}

	q := e.db.WithContext(ctx).Where("sha256 = ?", sha256)
	if repoID != 0 {
		q = q.Where("repository_id = ?", repoID)
	}
	if err := q.Delete(&metadata.LFSObjectHistory{}).Error; err != nil {
		e.logger.WithError(err).WithField("sha256", sha256).Warn("gc: history purge failed after blob delete")
	}
	return nil
}

// RunGCForFile is the per-commit hook: when auto-GC is enabled, compute
// superseded oids for (repo, path) under the repo's effective
// keep_versions and clean each one up, scoped to this repo.
func (e *Engine) RunGCForFile(ctx context.Context, repo *metadata.Repository, path string, rules naming.EffectiveLFSRules) {
	if !rules.KeepVersionsEnabled() {
		return
	}
	release, ok, err := e.locker.Lock(ctx, repo.ID, path, 30*time.Second)
	if err != nil {
		e.logger.WithError(err).Warn("gc: lock acquisition failed")
		return
	}
	if !ok {
		return
	}
	defer release()

	oldOids, err := e.GetOldLFSVersions(ctx, repo.ID, path, rules.KeepVersions)
	if err != nil {
		e.logger.WithError(err).Warn("gc: list old versions failed")
		return
	}
	for _, oid := range oldOids {
		if err := e.CleanupLFSObject(ctx, oid, repo.ID); err != nil {
			e.logger.WithError(err).WithField("oid", oid).Warn("gc: cleanup failed")
		}
	}
}

// CheckLFSRecoverability probes the blob store, in parallel, for every
// LFSObjectHistory row of commitID.
func (e *Engine) CheckLFSRecoverability(ctx context.Context, repoID uint, commitID string) (ok bool, missingPaths []string, err error) {
	var rows []metadata.LFSObjectHistory
	if err := e.db.WithContext(ctx).
		Where("repository_id = ? AND commit_id = ?", repoID, commitID).
		Find(&rows).Error; err != nil {
		return false, nil, fmt.Errorf("gc: list history for commit %s: %w", commitID, err)
	}

	var missing []string
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			exists, err := e.blobs.Exists(gctx, blobstore.LFSKey(row.SHA256))
			if err != nil {
				return err
			}
			if !exists {
				mu.Lock()
				missing = append(missing, row.PathInRepo)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, nil, fmt.Errorf("gc: recoverability probe: %w", err)
	}
	return len(missing) == 0, missing, nil
}

// CheckCommitRangeRecoverability walks the log from the current branch
// HEAD back to (and including) target, gathering recoverability per
// commit — used by reset's precheck.
func (e *Engine) CheckCommitRangeRecoverability(ctx context.Context, repoID uint, lakefsRepo, target, currentBranch string) (ok bool, missingByCommit map[string][]string, err error) {
	commits, _, _, err := e.lfs.LogCommits(ctx, lakefsRepo, currentBranch, "", 1000)
	if err != nil {
		return false, nil, fmt.Errorf("gc: log commits: %w", err)
	}

	missingByCommit = map[string][]string{}
	allOK := true
	for _, c := range commits {
		commitOK, missing, err := e.CheckLFSRecoverability(ctx, repoID, c.ID)
		if err != nil {
			return false, nil, err
		}
		if !commitOK {
			allOK = false
			missingByCommit[c.ID] = missing
		}
		if c.ID == target {
			break
		}
	}
	return allOK, missingByCommit, nil
}

// CleanupRepositoryStorage runs on repo delete/move: wipes the repo's
// storage-namespace prefix, then for every distinct oid this repo ever
// tracked, attempts a global cleanup (which may be a no-op if another
// repo still references the oid), then drops this repo's history rows.
func (e *Engine) CleanupRepositoryStorage(ctx context.Context, repo *metadata.Repository, storagePrefix string) error {
	if _, err := e.blobs.DeletePrefix(ctx, storagePrefix); err != nil {
		e.logger.WithError(err).Warn("gc: storage prefix delete failed")
	}

	var oids []string
	if err := e.db.WithContext(ctx).Model(&metadata.LFSObjectHistory{}).
		Where("repository_id = ?", repo.ID).
		Distinct("sha256").Pluck("sha256", &oids).Error; err != nil {
		return fmt.Errorf("gc: list repo oids: %w", err)
	}

	for _, oid := range oids {
		if err := e.CleanupLFSObject(ctx, oid, 0); err != nil {
			e.logger.WithError(err).WithField("oid", oid).Warn("gc: global cleanup failed during repo teardown")
		}
	}

	return e.db.WithContext(ctx).Where("repository_id = ?", repo.ID).Delete(&metadata.LFSObjectHistory{}).Error
}
