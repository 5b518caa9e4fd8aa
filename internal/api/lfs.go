package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kohakuhub/hub/internal/apierror"
	"github.com/kohakuhub/hub/internal/lfsprotocol"
	"github.com/kohakuhub/hub/internal/metrics"
	"github.com/kohakuhub/hub/internal/perm"
)

type lfsHandlers struct {
	deps *Dependencies
}

func newLFSHandlers(deps *Dependencies) *lfsHandlers {
	return &lfsHandlers{deps: deps}
}

type lfsBatchRequest struct {
	Operation string                     `json:"operation"`
	Transfers []string                   `json:"transfers"`
	Objects   []lfsprotocol.BatchObject  `json:"objects"`
}

func (h *lfsHandlers) batch(c *gin.Context) {
	repo := currentRepo(c)

	var req lfsBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apierror.Validation("BadRequest", err.Error()))
		return
	}

	isBrowser := c.GetHeader("User-Agent") == ""

	engineReq := lfsprotocol.BatchRequest{
		Operation: req.Operation,
		Objects:   req.Objects,
		IsBrowser: isBrowser,
	}

	checkQuota := func(addBytes int64) error {
		return perm.CheckQuota(c.Request.Context(), h.deps.DB, repo.Namespace, addBytes, repo.Private)
	}

	resp, err := h.deps.LFS.Batch(c.Request.Context(), repo, engineReq, checkQuota)
	if err != nil {
		abortErr(c, err)
		return
	}

	metrics.RecordLFSBatch(req.Operation, string(repo.RepoType), len(req.Objects), sumNewBytes(resp))
	c.Header("Content-Type", "application/vnd.git-lfs+json")
	c.JSON(http.StatusOK, resp)
}

func sumNewBytes(resp *lfsprotocol.BatchResponse) int64 {
	var total int64
	for _, o := range resp.Objects {
		if o.Actions != nil && o.Error == nil {
			total += o.Size
		}
	}
	return total
}

type lfsVerifyRequest struct {
	OID  string `json:"oid" binding:"required"`
	Size int64  `json:"size" binding:"required"`
}

func (h *lfsHandlers) verify(c *gin.Context) {
	var req lfsVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apierror.Validation("BadRequest", err.Error()))
		return
	}
	if err := h.deps.LFS.Verify(c.Request.Context(), req.OID, req.Size); err != nil {
		abortErr(c, err)
		return
	}
	c.Status(http.StatusOK)
}

type lfsCompleteRequest struct {
	OID   string                 `json:"oid" binding:"required"`
	Parts []lfsprotocol.RawPart  `json:"parts"`
}

func (h *lfsHandlers) complete(c *gin.Context) {
	var req lfsCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apierror.Validation("BadRequest", err.Error()))
		return
	}

	result, err := h.deps.LFS.CompleteMultipart(c.Request.Context(), req.OID, c.Param("uploadID"), req.Parts)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"size": result.Size, "etag": result.ETag})
}
