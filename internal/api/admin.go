package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kohakuhub/hub/internal/apierror"
	"github.com/kohakuhub/hub/internal/metadata"
)

type adminHandlers struct {
	deps *Dependencies

	pendingMu sync.Mutex
	pending   map[string]pendingPrefixDelete
}

type pendingPrefixDelete struct {
	prefix  string
	expires time.Time
}

const prefixDeleteTokenTTL = 5 * time.Minute

func newAdminHandlers(deps *Dependencies) *adminHandlers {
	return &adminHandlers{deps: deps, pending: map[string]pendingPrefixDelete{}}
}

func (h *adminHandlers) listUsers(c *gin.Context) {
	var users []metadata.User
	q := h.deps.DB.WithContext(c.Request.Context())
	if search := c.Query("search"); search != "" {
		q = q.Where("username LIKE ?", "%"+search+"%")
	}
	if err := q.Order("created_at DESC").Limit(queryLimit(c)).Offset(queryOffset(c)).Find(&users).Error; err != nil {
		abortErr(c, apierror.Internal("list users failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *adminHandlers) listRepos(c *gin.Context) {
	var repos []metadata.Repository
	q := h.deps.DB.WithContext(c.Request.Context())
	if t := c.Query("type"); t != "" {
		q = q.Where("repo_type = ?", t)
	}
	if err := q.Order("created_at DESC").Limit(queryLimit(c)).Offset(queryOffset(c)).Find(&repos).Error; err != nil {
		abortErr(c, apierror.Internal("list repos failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"repos": repos})
}

func (h *adminHandlers) stats(c *gin.Context) {
	ctx := c.Request.Context()
	var userCount, repoCount int64
	var totalUsedBytes int64

	if err := h.deps.DB.WithContext(ctx).Model(&metadata.User{}).Count(&userCount).Error; err != nil {
		abortErr(c, apierror.Internal("stats failed", err))
		return
	}
	if err := h.deps.DB.WithContext(ctx).Model(&metadata.Repository{}).Count(&repoCount).Error; err != nil {
		abortErr(c, apierror.Internal("stats failed", err))
		return
	}
	row := h.deps.DB.WithContext(ctx).Model(&metadata.Repository{}).Select("COALESCE(SUM(used_bytes), 0)").Row()
	_ = row.Scan(&totalUsedBytes)

	c.JSON(http.StatusOK, gin.H{
		"users":          userCount,
		"repos":          repoCount,
		"totalUsedBytes": totalUsedBytes,
	})
}

// recalculate resums a repo's used_bytes from its non-deleted files,
// correcting drift from a crashed commit or a GC run that raced with a
// delete. It recomputes the owner's aggregate used-bytes column too.
func (h *adminHandlers) recalculate(c *gin.Context) {
	ctx := c.Request.Context()
	restype, ok := repoTypeFromPlural(c.Param("restype"))
	if !ok {
		abortErr(c, apierror.Validation("BadRepoType", "unknown repository type"))
		return
	}

	var repo metadata.Repository
	err := h.deps.DB.WithContext(ctx).
		Where("repo_type = ? AND namespace = ? AND name = ?", restype, c.Param("ns"), trimDotGit(c.Param("name"))).
		First(&repo).Error
	if err != nil {
		abortErr(c, apierror.NotFound("RepoNotFound", "repository not found"))
		return
	}

	var total int64
	row := h.deps.DB.WithContext(ctx).Model(&metadata.File{}).
		Where("repository_id = ? AND is_deleted = ?", repo.ID, false).
		Select("COALESCE(SUM(size), 0)").Row()
	if err := row.Scan(&total); err != nil {
		abortErr(c, apierror.Internal("recalculate scan failed", err))
		return
	}

	if err := h.deps.DB.WithContext(ctx).Model(&repo).Update("used_bytes", total).Error; err != nil {
		abortErr(c, apierror.Internal("recalculate update failed", err))
		return
	}

	usedCol := "public_used_bytes"
	if repo.Private {
		usedCol = "private_used_bytes"
	}
	var ownerTotal int64
	ownerRow := h.deps.DB.WithContext(ctx).Model(&metadata.Repository{}).
		Where("owner_id = ? AND private = ?", repo.OwnerID, repo.Private).
		Select("COALESCE(SUM(used_bytes), 0)").Row()
	if err := ownerRow.Scan(&ownerTotal); err != nil {
		abortErr(c, apierror.Internal("recalculate owner scan failed", err))
		return
	}
	if err := h.deps.DB.WithContext(ctx).Model(&metadata.User{}).
		Where("id = ?", repo.OwnerID).Update(usedCol, ownerTotal).Error; err != nil {
		abortErr(c, apierror.Internal("recalculate owner update failed", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"usedBytes": total})
}

type prefixDeleteRequest struct {
	Prefix string `json:"prefix" binding:"required"`
}

// requestPrefixDelete issues a short-lived confirmation token instead of
// deleting immediately: a typo'd prefix here is unrecoverable, so the
// destructive call is split into request+confirm.
func (h *adminHandlers) requestPrefixDelete(c *gin.Context) {
	var req prefixDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apierror.Validation("BadRequest", err.Error()))
		return
	}

	tokenBytes := make([]byte, 16)
	if _, err := rand.Read(tokenBytes); err != nil {
		abortErr(c, apierror.Internal("token generation failed", err))
		return
	}
	token := hex.EncodeToString(tokenBytes)

	h.pendingMu.Lock()
	h.pending[token] = pendingPrefixDelete{prefix: req.Prefix, expires: time.Now().Add(prefixDeleteTokenTTL)}
	h.pendingMu.Unlock()

	c.JSON(http.StatusOK, gin.H{"confirmationToken": token, "prefix": req.Prefix, "expiresInSeconds": int(prefixDeleteTokenTTL.Seconds())})
}

type confirmPrefixDeleteRequest struct {
	ConfirmationToken string `json:"confirmationToken" binding:"required"`
}

func (h *adminHandlers) confirmPrefixDelete(c *gin.Context) {
	var req confirmPrefixDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apierror.Validation("BadRequest", err.Error()))
		return
	}

	h.pendingMu.Lock()
	pending, ok := h.pending[req.ConfirmationToken]
	if ok {
		delete(h.pending, req.ConfirmationToken)
	}
	h.pendingMu.Unlock()

	if !ok {
		abortErr(c, apierror.NotFound("TokenNotFound", "unknown or already-used confirmation token"))
		return
	}
	if time.Now().After(pending.expires) {
		abortErr(c, apierror.Validation("TokenExpired", "confirmation token expired, request a new one"))
		return
	}

	count, err := h.deps.Blobs.DeletePrefix(c.Request.Context(), pending.prefix)
	if err != nil {
		abortErr(c, apierror.Upstream("prefix delete failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"deletedCount": count, "prefix": pending.prefix})
}

func queryLimit(c *gin.Context) int {
	n := 50
	if v := c.Query("limit"); v != "" {
		if parsed, err := parsePositiveInt(v); err == nil && parsed > 0 && parsed <= 500 {
			n = parsed
		}
	}
	return n
}

func queryOffset(c *gin.Context) int {
	n := 0
	if v := c.Query("offset"); v != "" {
		if parsed, err := parsePositiveInt(v); err == nil && parsed >= 0 {
			n = parsed
		}
	}
	return n
}
