package gc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kohakuhub/hub/internal/metadata"
	"github.com/kohakuhub/hub/internal/naming"
	"gorm.io/gorm"
)

// SyncFileTableWithCommit lists every object at ref and reconciles the
// File table against it: upsert a row per listed path, insert
// LFSObjectHistory for LFS paths, and mark File rows deleted
// (is_deleted) for paths no longer present. Used by reset (and safe to
// re-run any time the file table and the versioned store might have
// drifted).
func (e *Engine) SyncFileTableWithCommit(ctx context.Context, repo *metadata.Repository, lakefsRepo, ref, commitID string, rules naming.EffectiveLFSRules) error {
	seen := map[string]bool{}
	after := ""
	for {
		entries, hasMore, next, err := e.lfs.ListObjects(ctx, lakefsRepo, ref, "", after, 1000)
		if err != nil {
			return fmt.Errorf("gc: list objects at %s: %w", ref, err)
		}
		for _, entry := range entries {
			if entry.PathType != "object" {
				continue
			}
			seen[entry.Path] = true
			isLFS := rules.IsLFSPath(entry.Path, entry.SizeBytes)
			if err := e.upsertFileFromListing(ctx, repo, entry.Path, entry.Checksum, entry.SizeBytes, isLFS, commitID); err != nil {
				return err
			}
		}
		if !hasMore {
			break
		}
		after = next
	}

	var existing []metadata.File
	if err := e.db.WithContext(ctx).
		Where("repository_id = ? AND is_deleted = ?", repo.ID, false).
		Find(&existing).Error; err != nil {
		return fmt.Errorf("gc: list existing files: %w", err)
	}
	for _, f := range existing {
		if !seen[f.PathInRepo] {
			if err := e.db.WithContext(ctx).Model(&metadata.File{}).
				Where("id = ?", f.ID).Update("is_deleted", true).Error; err != nil {
				return fmt.Errorf("gc: mark %s deleted: %w", f.PathInRepo, err)
			}
		}
	}
	return nil
}

// TrackCommitLFSObjects diffs newCommitID against its parent and
// reconciles added/changed/removed paths — used by revert and merge
// post-processing.
func (e *Engine) TrackCommitLFSObjects(ctx context.Context, repo *metadata.Repository, lakefsRepo, newCommitID, parentCommitID string, rules naming.EffectiveLFSRules) error {
	if parentCommitID == "" {
		return e.SyncFileTableWithCommit(ctx, repo, lakefsRepo, newCommitID, newCommitID, rules)
	}

	diffs, err := e.lfs.Diff(ctx, lakefsRepo, parentCommitID, newCommitID, "")
	if err != nil {
		return fmt.Errorf("gc: diff %s..%s: %w", parentCommitID, newCommitID, err)
	}

	for _, d := range diffs {
		if d.PathType != "object" {
			continue
		}
		switch d.Type {
		case "removed":
			if err := e.db.WithContext(ctx).Model(&metadata.File{}).
				Where("repository_id = ? AND path_in_repo = ?", repo.ID, d.Path).
				Update("is_deleted", true).Error; err != nil {
				return fmt.Errorf("gc: mark %s deleted: %w", d.Path, err)
			}
		case "added", "changed":
			stat, err := e.lfs.StatObject(ctx, lakefsRepo, newCommitID, d.Path)
			if err != nil {
				return fmt.Errorf("gc: stat %s at %s: %w", d.Path, newCommitID, err)
			}
			isLFS := rules.IsLFSPath(d.Path, stat.SizeBytes)
			if err := e.upsertFileFromListing(ctx, repo, d.Path, stat.Checksum, stat.SizeBytes, isLFS, newCommitID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) upsertFileFromListing(ctx context.Context, repo *metadata.Repository, path, checksum string, size int64, isLFS bool, commitID string) error {
	var existing metadata.File
	err := e.db.WithContext(ctx).
		Where("repository_id = ? AND path_in_repo = ?", repo.ID, path).
		First(&existing).Error

	switch {
	case err == gorm.ErrRecordNotFound:
		file := metadata.File{
			ID:           uuid.New(),
			RepositoryID: repo.ID,
			PathInRepo:   path,
			Size:         size,
			SHA256:       checksum,
			LFS:          isLFS,
			IsDeleted:    false,
			OwnerID:      repo.OwnerID,
		}
		if err := e.db.WithContext(ctx).Create(&file).Error; err != nil {
			return fmt.Errorf("gc: insert file %s: %w", path, err)
		}
		existing = file
	case err != nil:
		return fmt.Errorf("gc: lookup file %s: %w", path, err)
	default:
		if err := e.db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
			"size":       size,
			"sha256":     checksum,
			"lfs":        isLFS,
			"is_deleted": false,
		}).Error; err != nil {
			return fmt.Errorf("gc: update file %s: %w", path, err)
		}
	}

	if isLFS {
		return e.TrackLFSObject(ctx, repo, path, checksum, size, commitID, &existing.ID)
	}
	return nil
}
