package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kohakuhub/hub/internal/apierror"
)

type branchHandlers struct {
	deps *Dependencies
}

func newBranchHandlers(deps *Dependencies) *branchHandlers {
	return &branchHandlers{deps: deps}
}

type createBranchRequest struct {
	Branch string `json:"branch" binding:"required"`
	Source string `json:"source"`
}

func (h *branchHandlers) create(c *gin.Context) {
	lakefsRepo := currentLakeFSRepo(c)
	var req createBranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apierror.Validation("BadRequest", err.Error()))
		return
	}
	source := req.Source
	if source == "" {
		source = "main"
	}
	if err := h.deps.Branch.CreateBranch(c.Request.Context(), lakefsRepo, req.Branch, source); err != nil {
		abortErr(c, apierror.Upstream("create branch failed", err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"branch": req.Branch})
}

func (h *branchHandlers) delete(c *gin.Context) {
	lakefsRepo := currentLakeFSRepo(c)
	if err := h.deps.Branch.DeleteBranch(c.Request.Context(), lakefsRepo, c.Param("branch")); err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type createTagRequest struct {
	Tag string `json:"tag" binding:"required"`
	Ref string `json:"ref" binding:"required"`
}

func (h *branchHandlers) createTag(c *gin.Context) {
	lakefsRepo := currentLakeFSRepo(c)
	var req createTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apierror.Validation("BadRequest", err.Error()))
		return
	}
	if err := h.deps.Branch.CreateTag(c.Request.Context(), lakefsRepo, req.Tag, req.Ref); err != nil {
		abortErr(c, apierror.Upstream("create tag failed", err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tag": req.Tag})
}

func (h *branchHandlers) deleteTag(c *gin.Context) {
	lakefsRepo := currentLakeFSRepo(c)
	if err := h.deps.Branch.DeleteTag(c.Request.Context(), lakefsRepo, c.Param("tag")); err != nil {
		abortErr(c, apierror.Upstream("delete tag failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type revertRequest struct {
	Ref string `json:"ref" binding:"required"`
}

func (h *branchHandlers) revert(c *gin.Context) {
	repo := currentRepo(c)
	lakefsRepo := currentLakeFSRepo(c)
	var req revertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apierror.Validation("BadRequest", err.Error()))
		return
	}
	newHead, err := h.deps.Branch.Revert(c.Request.Context(), repo, lakefsRepo, c.Param("branch"), req.Ref, currentPrincipal(c))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"newHead": newHead})
}

type resetRequest struct {
	Target string `json:"target" binding:"required"`
	Force  bool   `json:"force"`
}

func (h *branchHandlers) reset(c *gin.Context) {
	repo := currentRepo(c)
	lakefsRepo := currentLakeFSRepo(c)
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apierror.Validation("BadRequest", err.Error()))
		return
	}
	result, err := h.deps.Branch.Reset(c.Request.Context(), repo, lakefsRepo, c.Param("branch"), req.Target, req.Force)
	if err != nil {
		if result != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "missingByCommit": result.MissingByCommit})
			return
		}
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"newHead": result.NewHead})
}

type mergeRequest struct {
	Message  string `json:"message"`
	Strategy string `json:"strategy"`
	Squash   bool   `json:"squash"`
}

func (h *branchHandlers) merge(c *gin.Context) {
	repo := currentRepo(c)
	lakefsRepo := currentLakeFSRepo(c)
	var req mergeRequest
	_ = c.ShouldBindJSON(&req)
	if req.Message == "" {
		req.Message = "Merge " + c.Param("src") + " into " + c.Param("dst")
	}

	ref, err := h.deps.Branch.Merge(c.Request.Context(), repo, lakefsRepo, c.Param("src"), c.Param("dst"), req.Message, req.Strategy, req.Squash, currentPrincipal(c))
	if err != nil {
		abortErr(c, apierror.Upstream("merge failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"reference": ref})
}
