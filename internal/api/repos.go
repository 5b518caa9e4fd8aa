package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kohakuhub/hub/internal/apierror"
	"github.com/kohakuhub/hub/internal/blobstore"
	"github.com/kohakuhub/hub/internal/metadata"
	"github.com/kohakuhub/hub/internal/naming"
	"github.com/kohakuhub/hub/internal/perm"
)

type repoHandlers struct {
	deps *Dependencies
}

func newRepoHandlers(deps *Dependencies) *repoHandlers {
	return &repoHandlers{deps: deps}
}

// resolveRepo loads the :restype/:ns/:name repo into the context and
// enforces read visibility. Handlers downstream read it via currentRepo.
func (h *repoHandlers) resolveRepo() gin.HandlerFunc {
	return func(c *gin.Context) {
		repoType, ok := repoTypeFromPlural(c.Param("restype"))
		if !ok {
			abortErr(c, apierror.NotFound("RepoTypeInvalid", "unknown repo type "+c.Param("restype")))
			return
		}
		ns := c.Param("ns")
		name := trimDotGit(c.Param("name"))

		var repo metadata.Repository
		err := h.deps.DB.WithContext(c.Request.Context()).
			Where("repo_type = ? AND namespace = ? AND name = ?", repoType, ns, name).
			First(&repo).Error
		if err != nil {
			abortErr(c, apierror.NotFound("RepoNotFound", fmt.Sprintf("%s/%s not found", ns, name)))
			return
		}

		allowed, err := perm.RepoRead(c.Request.Context(), h.deps.DB, &repo, currentPrincipal(c))
		if err != nil {
			abortErr(c, apierror.Internal("permission check failed", err))
			return
		}
		if !allowed {
			abortErr(c, apierror.New(apierror.KindNotAuthenticated, "NotAuthenticated", "repository is private"))
			return
		}

		lakefsRepo := naming.LakeFSRepoName(h.deps.Config.LakeFS.RepoNamespace, repo.RepoType, repo.Namespace, repo.Name, repo.ID)
		c.Set(repoKey, &repo)
		c.Set(lakefsRepoKey, lakefsRepo)
		c.Next()
	}
}

type createRepoRequest struct {
	Type         string `json:"type" binding:"required"`
	Name         string `json:"name" binding:"required"`
	Organization string `json:"organization"`
	Private      bool   `json:"private"`
}

func (h *repoHandlers) create(c *gin.Context) {
	var req createRepoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apierror.Validation("BadRequest", err.Error()))
		return
	}

	repoType, ok := repoTypeFromPlural(req.Type + "s")
	if !ok {
		abortErr(c, apierror.Validation("BadRequestType", "type must be model, dataset, or space"))
		return
	}

	principal := currentPrincipal(c)
	namespace := req.Organization
	if namespace == "" {
		namespace = principal.Username
	}

	allowed, err := perm.NamespacePermission(c.Request.Context(), h.deps.DB, namespace, principal, metadata.RoleMember)
	if err != nil {
		abortErr(c, apierror.Internal("permission check failed", err))
		return
	}
	if !allowed {
		abortErr(c, apierror.Forbidden("Forbidden", "no write access to namespace "+namespace))
		return
	}

	repo := metadata.Repository{
		RepoType:  repoType,
		Namespace: namespace,
		Name:      req.Name,
		Private:   req.Private,
		OwnerID:   principal.UserID,
	}
	if err := h.deps.DB.WithContext(c.Request.Context()).Create(&repo).Error; err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "duplicate") {
			abortErr(c, apierror.Conflict("RepoExists", "repository already exists"))
			return
		}
		abortErr(c, apierror.Internal("create repo row failed", err))
		return
	}

	lakefsRepo := naming.LakeFSRepoName(h.deps.Config.LakeFS.RepoNamespace, repo.RepoType, repo.Namespace, repo.Name, repo.ID)
	storageNamespace := fmt.Sprintf("s3://%s/%s", h.deps.Config.S3.Bucket, lakefsRepo)
	if err := h.deps.LakeFS.CreateRepository(c.Request.Context(), lakefsRepo, storageNamespace, "main"); err != nil {
		h.deps.DB.Delete(&repo)
		abortErr(c, apierror.Upstream("create versioned-store repository failed", err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"url":  fmt.Sprintf("%s/%ss/%s", h.deps.Config.Application.BaseURL, req.Type, repo.FullID()),
		"name": repo.FullID(),
		"id":   repo.FullID(),
	})
}

type deleteRepoRequest struct {
	Type string `json:"type" binding:"required"`
	Name string `json:"name" binding:"required"`
}

func (h *repoHandlers) delete(c *gin.Context) {
	var req deleteRepoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apierror.Validation("BadRequest", err.Error()))
		return
	}

	repoType, ok := repoTypeFromPlural(req.Type + "s")
	if !ok {
		abortErr(c, apierror.Validation("BadRequestType", "type must be model, dataset, or space"))
		return
	}
	ns, name, ok := strings.Cut(req.Name, "/")
	if !ok {
		abortErr(c, apierror.Validation("BadRequestName", "name must be namespace/name"))
		return
	}

	var repo metadata.Repository
	if err := h.deps.DB.WithContext(c.Request.Context()).
		Where("repo_type = ? AND namespace = ? AND name = ?", repoType, ns, name).
		First(&repo).Error; err != nil {
		abortErr(c, apierror.NotFound("RepoNotFound", "repository not found"))
		return
	}

	allowed, err := perm.RepoDelete(c.Request.Context(), h.deps.DB, &repo, currentPrincipal(c))
	if err != nil {
		abortErr(c, apierror.Internal("permission check failed", err))
		return
	}
	if !allowed {
		abortErr(c, apierror.Forbidden("Forbidden", "no delete access"))
		return
	}

	lakefsRepo := naming.LakeFSRepoName(h.deps.Config.LakeFS.RepoNamespace, repo.RepoType, repo.Namespace, repo.Name, repo.ID)
	if err := h.deps.LakeFS.DeleteRepository(c.Request.Context(), lakefsRepo); err != nil {
		abortErr(c, apierror.Upstream("delete versioned-store repository failed", err))
		return
	}

	storagePrefix := lakefsRepo + "/"
	if err := h.deps.GC.CleanupRepositoryStorage(c.Request.Context(), &repo, storagePrefix); err != nil {
		h.deps.Logger.WithError(err).Warn("api: repo storage cleanup failed")
	}

	if err := perm.AdjustQuota(c.Request.Context(), h.deps.DB, repo.Namespace, -repo.UsedBytes, repo.Private); err != nil {
		h.deps.Logger.WithError(err).Warn("api: quota rollback on delete failed")
	}

	if err := h.deps.DB.WithContext(c.Request.Context()).Delete(&repo).Error; err != nil {
		abortErr(c, apierror.Internal("delete repo row failed", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type moveRepoRequest struct {
	Type    string `json:"type" binding:"required"`
	FromRepo string `json:"fromRepo" binding:"required"`
	ToRepo   string `json:"toRepo" binding:"required"`
}

func (h *repoHandlers) move(c *gin.Context) {
	var req moveRepoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apierror.Validation("BadRequest", err.Error()))
		return
	}

	repoType, ok := repoTypeFromPlural(req.Type + "s")
	if !ok {
		abortErr(c, apierror.Validation("BadRequestType", "type must be model, dataset, or space"))
		return
	}
	fromNs, fromName, ok := strings.Cut(req.FromRepo, "/")
	if !ok {
		abortErr(c, apierror.Validation("BadRequestName", "fromRepo must be namespace/name"))
		return
	}
	toNs, toName, ok := strings.Cut(req.ToRepo, "/")
	if !ok {
		abortErr(c, apierror.Validation("BadRequestName", "toRepo must be namespace/name"))
		return
	}

	var repo metadata.Repository
	if err := h.deps.DB.WithContext(c.Request.Context()).
		Where("repo_type = ? AND namespace = ? AND name = ?", repoType, fromNs, fromName).
		First(&repo).Error; err != nil {
		abortErr(c, apierror.NotFound("RepoNotFound", "repository not found"))
		return
	}

	principal := currentPrincipal(c)
	allowed, err := perm.RepoDelete(c.Request.Context(), h.deps.DB, &repo, principal)
	if err != nil {
		abortErr(c, apierror.Internal("permission check failed", err))
		return
	}
	destAllowed, err := perm.NamespacePermission(c.Request.Context(), h.deps.DB, toNs, principal, metadata.RoleMember)
	if err != nil {
		abortErr(c, apierror.Internal("permission check failed", err))
		return
	}
	if !allowed || !destAllowed {
		abortErr(c, apierror.Forbidden("Forbidden", "no permission to move this repository"))
		return
	}

	repo.Namespace = toNs
	repo.Name = toName
	if err := h.deps.DB.WithContext(c.Request.Context()).Save(&repo).Error; err != nil {
		abortErr(c, apierror.Conflict("RepoExists", "destination already exists"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"fromRepo": req.FromRepo, "toRepo": req.ToRepo})
}

const (
	squashPollAttempts = 30
	squashPollInterval = 500 * time.Millisecond
)

type squashRepoRequest struct {
	Type string `json:"type" binding:"required"`
	Name string `json:"name" binding:"required"`
}

// squash renames the repository's metadata row to a temporary name and
// back, retrying the rename-back up to squashPollAttempts times,
// squashPollInterval apart, before giving up with 503
// UpstreamUnavailable. It makes no call to the versioned store: the
// store's commit history is left as it was.
func (h *repoHandlers) squash(c *gin.Context) {
	var req squashRepoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apierror.Validation("BadRequest", err.Error()))
		return
	}

	repoType, ok := repoTypeFromPlural(req.Type + "s")
	if !ok {
		abortErr(c, apierror.Validation("BadRequestType", "type must be model, dataset, or space"))
		return
	}
	ns, name, ok := strings.Cut(req.Name, "/")
	if !ok {
		abortErr(c, apierror.Validation("BadRequestName", "name must be namespace/name"))
		return
	}

	var repo metadata.Repository
	if err := h.deps.DB.WithContext(c.Request.Context()).
		Where("repo_type = ? AND namespace = ? AND name = ?", repoType, ns, name).
		First(&repo).Error; err != nil {
		abortErr(c, apierror.NotFound("RepoNotFound", "repository not found"))
		return
	}

	allowed, err := perm.RepoDelete(c.Request.Context(), h.deps.DB, &repo, currentPrincipal(c))
	if err != nil {
		abortErr(c, apierror.Internal("permission check failed", err))
		return
	}
	if !allowed {
		abortErr(c, apierror.Forbidden("Forbidden", "no permission to squash this repository"))
		return
	}

	original := repo.Name
	tempName := fmt.Sprintf("%s-squash-tmp-%d", original, repo.ID)

	repo.Name = tempName
	if err := h.deps.DB.WithContext(c.Request.Context()).Save(&repo).Error; err != nil {
		abortErr(c, apierror.Internal("rename to temp slot failed", err))
		return
	}

	var renamedBack bool
	for attempt := 0; attempt < squashPollAttempts; attempt++ {
		repo.Name = original
		if err := h.deps.DB.WithContext(c.Request.Context()).Save(&repo).Error; err == nil {
			renamedBack = true
			break
		}
		time.Sleep(squashPollInterval)
	}

	if !renamedBack {
		abortErr(c, apierror.Upstream("squash: original name did not free up in time", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{"squashed": true})
}

func (h *repoHandlers) list(c *gin.Context) {
	var restype string
	switch {
	case strings.HasSuffix(c.Request.URL.Path, "/models"):
		restype = "models"
	case strings.HasSuffix(c.Request.URL.Path, "/datasets"):
		restype = "datasets"
	default:
		restype = "spaces"
	}
	repoType, _ := repoTypeFromPlural(restype)

	q := h.deps.DB.WithContext(c.Request.Context()).Where("repo_type = ?", repoType)
	if author := c.Query("author"); author != "" {
		q = q.Where("namespace = ?", author)
	}
	if search := c.Query("search"); search != "" {
		q = q.Where("name LIKE ?", "%"+search+"%")
	}

	var repos []metadata.Repository
	if err := q.Limit(1000).Find(&repos).Error; err != nil {
		abortErr(c, apierror.Internal("list repos failed", err))
		return
	}

	principal := currentPrincipal(c)
	var out []gin.H
	for _, r := range repos {
		ok, err := perm.RepoRead(c.Request.Context(), h.deps.DB, &r, principal)
		if err != nil || !ok {
			continue
		}
		out = append(out, gin.H{"id": r.FullID(), "private": r.Private})
	}
	c.JSON(http.StatusOK, out)
}

func (h *repoHandlers) info(c *gin.Context) {
	repo := currentRepo(c)
	lakefsRepo := currentLakeFSRepo(c)

	head, err := h.deps.LakeFS.GetBranchHEAD(c.Request.Context(), lakefsRepo, "main")
	if err != nil {
		abortErr(c, apierror.Upstream("resolve main HEAD failed", err))
		return
	}

	var files []metadata.File
	h.deps.DB.WithContext(c.Request.Context()).
		Where("repository_id = ? AND is_deleted = ?", repo.ID, false).Find(&files)

	siblings := make([]gin.H, 0, len(files))
	for _, f := range files {
		siblings = append(siblings, gin.H{"rfilename": f.PathInRepo})
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         repo.FullID(),
		"sha":        head,
		"private":    repo.Private,
		"siblings":   siblings,
		"xetEnabled": false,
	})
}

func (h *repoHandlers) revision(c *gin.Context) {
	repo := currentRepo(c)
	lakefsRepo := currentLakeFSRepo(c)
	rev := c.Param("rev")

	commitID, err := h.resolveRevisionToCommit(c, lakefsRepo, rev)
	if err != nil {
		abortErr(c, err)
		return
	}
	info, err := h.deps.LakeFS.GetCommit(c.Request.Context(), lakefsRepo, commitID)
	if err != nil {
		abortErr(c, apierror.Upstream("get commit failed", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         repo.FullID(),
		"sha":        info.ID,
		"private":    repo.Private,
		"xetEnabled": false,
	})
}

func (h *repoHandlers) resolveRevisionToCommit(c *gin.Context, lakefsRepo, rev string) (string, error) {
	if rev == "" || rev == "main" {
		head, err := h.deps.LakeFS.GetBranchHEAD(c.Request.Context(), lakefsRepo, "main")
		if err != nil {
			return "", apierror.Upstream("resolve revision failed", err)
		}
		return head, nil
	}
	if head, err := h.deps.LakeFS.GetBranchHEAD(c.Request.Context(), lakefsRepo, rev); err == nil {
		return head, nil
	}
	return rev, nil
}

func (h *repoHandlers) tree(c *gin.Context) {
	repo := currentRepo(c)
	lakefsRepo := currentLakeFSRepo(c)
	rev := c.Param("rev")
	prefix := strings.TrimPrefix(c.Param("path"), "/")

	commitID, err := h.resolveRevisionToCommit(c, lakefsRepo, rev)
	if err != nil {
		abortErr(c, err)
		return
	}

	entries, _, _, err := h.deps.LakeFS.ListObjects(c.Request.Context(), lakefsRepo, commitID, prefix, "", 1000)
	if err != nil {
		abortErr(c, apierror.Upstream("list tree failed", err))
		return
	}

	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		entryType := "file"
		if e.PathType != "object" {
			entryType = "directory"
		}

		var f metadata.File
		lfs := false
		sha256 := ""
		found := h.deps.DB.WithContext(c.Request.Context()).
			Where("repository_id = ? AND path_in_repo = ? AND is_deleted = ?", repo.ID, e.Path, false).
			First(&f).Error == nil
		if found {
			lfs = f.LFS
			sha256 = f.SHA256
		}

		entry := gin.H{"type": entryType, "path": e.Path, "size": e.SizeBytes}
		if lfs {
			entry["lfs"] = gin.H{"sha256": sha256, "size": e.SizeBytes}
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, out)
}

func (h *repoHandlers) resolveFile(c *gin.Context) {
	repo := currentRepo(c)
	lakefsRepo := currentLakeFSRepo(c)
	rev := c.Param("rev")
	path := strings.TrimPrefix(c.Param("path"), "/")

	commitID, err := h.resolveRevisionToCommit(c, lakefsRepo, rev)
	if err != nil {
		abortErr(c, err)
		return
	}

	var f metadata.File
	found := h.deps.DB.WithContext(c.Request.Context()).
		Where("repository_id = ? AND path_in_repo = ? AND is_deleted = ?", repo.ID, path, false).
		First(&f).Error == nil

	c.Header("X-Repo-Commit", commitID)

	if found && f.LFS {
		c.Header("ETag", f.SHA256)
		c.Header("Content-Length", fmt.Sprintf("%d", f.Size))
		url, err := h.deps.Blobs.PresignGet(c.Request.Context(), blobstore.LFSKey(f.SHA256), 24*time.Hour, filenameOf(path))
		if err != nil {
			abortErr(c, apierror.Upstream("presign download failed", err))
			return
		}
		c.Redirect(http.StatusFound, url)
		return
	}

	stat, err := h.deps.LakeFS.StatObject(c.Request.Context(), lakefsRepo, commitID, path)
	if err != nil {
		abortErr(c, apierror.NotFound("EntryNotFound", "file not found at this revision"))
		return
	}
	c.Header("Content-Length", fmt.Sprintf("%d", stat.SizeBytes))
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", filenameOf(path)))

	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusOK)
		return
	}

	content, err := h.deps.LakeFS.GetObject(c.Request.Context(), lakefsRepo, commitID, path)
	if err != nil {
		abortErr(c, apierror.Upstream("read object failed", err))
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", content)
}

func filenameOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}
