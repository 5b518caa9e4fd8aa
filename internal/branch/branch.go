// Package branch implements branch/tag lifecycle and the revert/merge/
// reset algebra on top of the versioned-object store, keeping the
// metadata layer (File, Commit, LFSObjectHistory) in sync with
// whatever the store ends up pointing at.
package branch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kohakuhub/hub/internal/apierror"
	"github.com/kohakuhub/hub/internal/config"
	"github.com/kohakuhub/hub/internal/gc"
	"github.com/kohakuhub/hub/internal/lakefs"
	"github.com/kohakuhub/hub/internal/metadata"
	"github.com/kohakuhub/hub/internal/naming"
	"github.com/kohakuhub/hub/internal/perm"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Engine struct {
	db      *gorm.DB
	lfs     *lakefs.Client
	gc      *gc.Engine
	lfsCfg  config.LFS
	logger  *logrus.Logger
}

func NewEngine(db *gorm.DB, lfs *lakefs.Client, gcEngine *gc.Engine, lfsCfg config.LFS, logger *logrus.Logger) *Engine {
	return &Engine{db: db, lfs: lfs, gc: gcEngine, lfsCfg: lfsCfg, logger: logger}
}

const defaultBranch = "main"

func (e *Engine) CreateBranch(ctx context.Context, lakefsRepo, name, source string) error {
	return e.lfs.CreateBranch(ctx, lakefsRepo, name, source)
}

func (e *Engine) DeleteBranch(ctx context.Context, lakefsRepo, name string) error {
	if name == defaultBranch {
		return apierror.Validation("CannotDeleteMain", "branch: the default branch cannot be deleted")
	}
	return e.lfs.DeleteBranch(ctx, lakefsRepo, name)
}

func (e *Engine) CreateTag(ctx context.Context, lakefsRepo, tag, ref string) error {
	return e.lfs.CreateTag(ctx, lakefsRepo, tag, ref)
}

func (e *Engine) DeleteTag(ctx context.Context, lakefsRepo, tag string) error {
	return e.lfs.DeleteTag(ctx, lakefsRepo, tag)
}

// Revert reverts ref on branch and reconciles metadata against the
// resulting new HEAD.
func (e *Engine) Revert(ctx context.Context, repo *metadata.Repository, lakefsRepo, branch, ref string, principal *perm.Principal) (string, error) {
	parentBefore, err := e.lfs.GetBranchHEAD(ctx, lakefsRepo, branch)
	if err != nil {
		return "", err
	}

	if err := e.lfs.Revert(ctx, lakefsRepo, branch, ref, 1); err != nil {
		return "", fmt.Errorf("branch: revert %s on %s: %w", ref, branch, err)
	}

	newHead, err := e.lfs.GetBranchHEAD(ctx, lakefsRepo, branch)
	if err != nil {
		return "", err
	}

	rules := naming.ResolveLFSRules(e.lfsCfg, repo)
	if err := e.gc.TrackCommitLFSObjects(ctx, repo, lakefsRepo, newHead, parentBefore, rules); err != nil {
		e.logger.WithError(err).Warn("branch: post-revert tracking failed")
	}

	if err := e.insertCommitRow(ctx, repo, branch, newHead, principal, fmt.Sprintf("Revert to %s", shortOid(ref))); err != nil {
		e.logger.WithError(err).Warn("branch: commit row insert failed after revert")
	}
	return newHead, nil
}

// Merge merges src into dst.
func (e *Engine) Merge(ctx context.Context, repo *metadata.Repository, lakefsRepo, src, dst, message, strategy string, squash bool, principal *perm.Principal) (string, error) {
	parentBefore, err := e.lfs.GetBranchHEAD(ctx, lakefsRepo, dst)
	if err != nil {
		return "", err
	}

	result, err := e.lfs.Merge(ctx, lakefsRepo, src, dst, message, nil, strategy, squash)
	if err != nil {
		return "", fmt.Errorf("branch: merge %s into %s: %w", src, dst, err)
	}

	rules := naming.ResolveLFSRules(e.lfsCfg, repo)
	if err := e.gc.TrackCommitLFSObjects(ctx, repo, lakefsRepo, result.Reference, parentBefore, rules); err != nil {
		e.logger.WithError(err).Warn("branch: post-merge tracking failed")
	}

	if err := e.insertCommitRow(ctx, repo, dst, result.Reference, principal, message); err != nil {
		e.logger.WithError(err).Warn("branch: commit row insert failed after merge")
	}
	return result.Reference, nil
}

// ResetResult carries either the new HEAD or, when the recoverability
// precheck fails, the set of commits/paths blocking the reset.
type ResetResult struct {
	NewHead         string
	MissingByCommit map[string][]string
}

// Reset rewinds branch to target using a history-preserving diff
// replay rather than a destructive rewrite: the store keeps every
// intervening commit, only the branch pointer and its working tree move.
func (e *Engine) Reset(ctx context.Context, repo *metadata.Repository, lakefsRepo, branch, target string, force bool) (*ResetResult, error) {
	if branch == defaultBranch && !force {
		return nil, apierror.Validation("ForceRequired", "branch: resetting main requires force=true")
	}

	ok, missing, err := e.gc.CheckCommitRangeRecoverability(ctx, repo.ID, lakefsRepo, target, branch)
	if err != nil {
		return nil, err
	}
	if !ok && !force {
		return &ResetResult{MissingByCommit: missing}, apierror.Validation("UnrecoverableLFSObjects", "branch: reset would lose LFS objects no longer retrievable from the blob store")
	}

	currentHead, err := e.lfs.GetBranchHEAD(ctx, lakefsRepo, branch)
	if err != nil {
		return nil, err
	}

	diffs, err := e.lfs.Diff(ctx, lakefsRepo, target, currentHead, "")
	if err != nil {
		return nil, fmt.Errorf("branch: diff %s..%s: %w", target, currentHead, err)
	}

	for _, d := range diffs {
		if d.PathType != "object" {
			continue
		}
		switch d.Type {
		case "added":
			if err := e.lfs.DeleteObject(ctx, lakefsRepo, branch, d.Path); err != nil {
				e.logger.WithError(err).WithField("path", d.Path).Warn("branch: reset delete failed")
			}
		case "removed", "changed":
			content, err := e.lfs.GetObject(ctx, lakefsRepo, target, d.Path)
			if err != nil {
				return nil, fmt.Errorf("branch: fetch %s@%s for reset: %w", d.Path, target, err)
			}
			if _, err := e.lfs.UploadObject(ctx, lakefsRepo, branch, d.Path, content); err != nil {
				return nil, fmt.Errorf("branch: restore %s during reset: %w", d.Path, err)
			}
		}
	}

	info, err := e.lfs.Commit(ctx, lakefsRepo, branch, fmt.Sprintf("Reset to %s", shortOid(target)), map[string]string{"reset_to": target})
	if err != nil {
		return nil, fmt.Errorf("branch: commit reset: %w", err)
	}

	rules := naming.ResolveLFSRules(e.lfsCfg, repo)
	if err := e.gc.SyncFileTableWithCommit(ctx, repo, lakefsRepo, branch, info.ID, rules); err != nil {
		e.logger.WithError(err).Warn("branch: file table sync failed after reset")
	}

	if err := e.insertCommitRow(ctx, repo, branch, info.ID, nil, fmt.Sprintf("Reset to %s", shortOid(target))); err != nil {
		e.logger.WithError(err).Warn("branch: commit row insert failed after reset")
	}

	return &ResetResult{NewHead: info.ID}, nil
}

func (e *Engine) insertCommitRow(ctx context.Context, repo *metadata.Repository, branch, commitID string, principal *perm.Principal, message string) error {
	row := metadata.Commit{
		ID:           uuid.New(),
		CommitID:     commitID,
		RepositoryID: repo.ID,
		RepoType:     repo.RepoType,
		Branch:       branch,
		Message:      message,
	}
	if principal != nil {
		row.AuthorID = &principal.UserID
		row.Username = principal.Username
	}
	return e.db.WithContext(ctx).Create(&row).Error
}

func shortOid(oid string) string {
	if len(oid) > 8 {
		return oid[:8]
	}
	return oid
}
