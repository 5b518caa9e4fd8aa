package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kohakuhub/hub/internal/apierror"
	"github.com/kohakuhub/hub/internal/commit"
	"github.com/kohakuhub/hub/internal/naming"
)

type commitHandlers struct {
	deps *Dependencies
}

func newCommitHandlers(deps *Dependencies) *commitHandlers {
	return &commitHandlers{deps: deps}
}

type preuploadFile struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sample string `json:"sample,omitempty"`
}

type preuploadRequest struct {
	Files []preuploadFile `json:"files"`
}

// preupload classifies each candidate path as "regular" or "lfs" ahead
// of the actual commit, so the client knows which ones need the LFS
// batch dance first.
func (h *commitHandlers) preupload(c *gin.Context) {
	repo := currentRepo(c)
	var req preuploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apierror.Validation("BadRequest", err.Error()))
		return
	}

	rules := naming.ResolveLFSRules(h.deps.Config.LFS, repo)

	out := make([]gin.H, 0, len(req.Files))
	for _, f := range req.Files {
		mode := "regular"
		if rules.IsLFSPath(f.Path, f.Size) {
			mode = "lfs"
		}
		out = append(out, gin.H{"path": f.Path, "uploadMode": mode, "shouldIgnore": false})
	}
	c.JSON(http.StatusOK, gin.H{"files": out})
}

// commit consumes the NDJSON commit body directly off the request so a
// large batch of inline file ops never has to be buffered as one JSON
// document.
func (h *commitHandlers) commit(c *gin.Context) {
	repo := currentRepo(c)
	lakefsRepo := currentLakeFSRepo(c)
	branch := c.Param("branch")
	principal := currentPrincipal(c)

	header, ops, err := commit.ParseNDJSON(c.Request.Body)
	if err != nil {
		abortErr(c, err)
		return
	}

	rules := naming.ResolveLFSRules(h.deps.Config.LFS, repo)
	result, err := h.deps.Commit.Apply(c.Request.Context(), repo, lakefsRepo, branch, principal, header, ops, rules)
	if err != nil {
		abortErr(c, err)
		return
	}

	resp := gin.H{"commitUrl": result.CommitURL, "commitOid": result.CommitOid}
	if result.PullRequestURL != nil {
		resp["pullRequestUrl"] = *result.PullRequestURL
	}
	c.JSON(http.StatusOK, resp)
}

func (h *commitHandlers) listCommits(c *gin.Context) {
	lakefsRepo := currentLakeFSRepo(c)
	branch := c.Param("branch")
	after := c.Query("after")

	commits, hasMore, next, err := h.deps.LakeFS.LogCommits(c.Request.Context(), lakefsRepo, branch, after, 100)
	if err != nil {
		abortErr(c, apierror.Upstream("list commits failed", err))
		return
	}

	out := make([]gin.H, 0, len(commits))
	for _, ci := range commits {
		out = append(out, gin.H{
			"id":        ci.ID,
			"committer": ci.Committer,
			"message":   ci.Message,
			"date":      ci.CreationDate,
		})
	}
	c.JSON(http.StatusOK, gin.H{"commits": out, "hasMore": hasMore, "next": next})
}

func (h *commitHandlers) getCommit(c *gin.Context) {
	lakefsRepo := currentLakeFSRepo(c)
	info, err := h.deps.LakeFS.GetCommit(c.Request.Context(), lakefsRepo, c.Param("id"))
	if err != nil {
		abortErr(c, apierror.NotFound("CommitNotFound", "commit not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":        info.ID,
		"committer": info.Committer,
		"message":   info.Message,
		"date":      info.CreationDate,
	})
}

func (h *commitHandlers) getCommitDiff(c *gin.Context) {
	lakefsRepo := currentLakeFSRepo(c)
	commitID := c.Param("id")

	diff, err := h.deps.LakeFS.Diff(c.Request.Context(), lakefsRepo, commitID+"^", commitID, "")
	if err != nil {
		abortErr(c, apierror.Upstream("diff commit failed", err))
		return
	}

	out := make([]gin.H, 0, len(diff))
	for _, d := range diff {
		out = append(out, gin.H{"path": d.Path, "type": d.Type})
	}
	c.JSON(http.StatusOK, out)
}
