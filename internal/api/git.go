package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kohakuhub/hub/internal/apierror"
	"github.com/kohakuhub/hub/internal/metadata"
	"github.com/kohakuhub/hub/internal/naming"
	"github.com/kohakuhub/hub/internal/perm"
)

type gitHandlers struct {
	deps *Dependencies
}

func newGitHandlers(deps *Dependencies) *gitHandlers {
	return &gitHandlers{deps: deps}
}

// loadGitRepo resolves {ns}/{name}.git without a type segment in the URL
// (the smart-HTTP wire format has no room for one): it tries model,
// dataset, then space, in that order, and serves whichever exists first.
func (h *gitHandlers) loadGitRepo(c *gin.Context) (*metadata.Repository, string, error) {
	ns := c.Param("ns")
	name := trimDotGit(c.Param("name"))

	for _, t := range []metadata.RepoType{metadata.RepoTypeModel, metadata.RepoTypeDataset, metadata.RepoTypeSpace} {
		var repo metadata.Repository
		err := h.deps.DB.WithContext(c.Request.Context()).
			Where("repo_type = ? AND namespace = ? AND name = ?", t, ns, name).
			First(&repo).Error
		if err == nil {
			allowed, permErr := perm.RepoRead(c.Request.Context(), h.deps.DB, &repo, currentPrincipal(c))
			if permErr != nil {
				return nil, "", apierror.Internal("permission check failed", permErr)
			}
			if !allowed {
				return nil, "", apierror.New(apierror.KindNotAuthenticated, "NotAuthenticated", "repository is private")
			}
			lakefsRepo := naming.LakeFSRepoName(h.deps.Config.LakeFS.RepoNamespace, repo.RepoType, repo.Namespace, repo.Name, repo.ID)
			return &repo, lakefsRepo, nil
		}
	}
	return nil, "", apierror.NotFound("RepoNotFound", ns+"/"+name+" not found")
}

func (h *gitHandlers) infoRefs(c *gin.Context) {
	if c.Query("service") != "git-upload-pack" {
		abortErr(c, apierror.Validation("UnsupportedService", "only git-upload-pack is served"))
		return
	}
	repo, lakefsRepo, err := h.loadGitRepo(c)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.Header("Content-Type", "application/x-git-upload-pack-advertisement")
	c.Status(http.StatusOK)
	if err := h.deps.GitBridge.AdvertiseRefs(c.Request.Context(), c.Writer, repo, lakefsRepo, "main"); err != nil {
		h.deps.Logger.WithError(err).Warn("api: advertise-refs failed mid-stream")
	}
}

func (h *gitHandlers) uploadPack(c *gin.Context) {
	repo, lakefsRepo, err := h.loadGitRepo(c)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.Header("Content-Type", "application/x-git-upload-pack-result")
	c.Status(http.StatusOK)
	if err := h.deps.GitBridge.UploadPack(c.Request.Context(), c.Writer, repo, lakefsRepo, "main"); err != nil {
		h.deps.Logger.WithError(err).Warn("api: upload-pack failed mid-stream")
	}
}
