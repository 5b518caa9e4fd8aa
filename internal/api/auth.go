package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kohakuhub/hub/internal/apierror"
	"github.com/kohakuhub/hub/internal/auth"
	"github.com/kohakuhub/hub/internal/metadata"
)

type authHandlers struct {
	deps *Dependencies
}

func newAuthHandlers(deps *Dependencies) *authHandlers {
	return &authHandlers{deps: deps}
}

func (h *authHandlers) register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apierror.Validation("BadRequest", err.Error()))
		return
	}

	user, err := h.deps.Auth.Register(c.Request.Context(), req)
	if err != nil {
		if err == auth.ErrUserExists {
			abortErr(c, apierror.Conflict("UserExists", "username or email already registered"))
			return
		}
		abortErr(c, apierror.Internal("register failed", err))
		return
	}

	h.applyDefaultQuota(c, user)
	c.JSON(http.StatusCreated, gin.H{"username": user.Username, "email": user.Email})
}

// applyDefaultQuota seeds a new account's byte ceilings from the
// server-wide quota.default_{private,public}_bytes config; a zero
// default means unlimited, matching internal/perm's nil-is-unlimited
// convention.
func (h *authHandlers) applyDefaultQuota(c *gin.Context, user *metadata.User) {
	updates := map[string]interface{}{}
	if h.deps.Config.Quota.DefaultPrivateBytes > 0 {
		updates["private_quota_bytes"] = h.deps.Config.Quota.DefaultPrivateBytes
	}
	if h.deps.Config.Quota.DefaultPublicBytes > 0 {
		updates["public_quota_bytes"] = h.deps.Config.Quota.DefaultPublicBytes
	}
	if len(updates) == 0 {
		return
	}
	if err := h.deps.DB.WithContext(c.Request.Context()).Model(&metadata.User{}).
		Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		h.deps.Logger.WithError(err).Warn("api: applying default quota failed")
	}
}

func (h *authHandlers) login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, apierror.Validation("BadRequest", err.Error()))
		return
	}

	resp, err := h.deps.Auth.Login(c.Request.Context(), req)
	if err != nil {
		abortErr(c, apierror.New(apierror.KindNotAuthenticated, "InvalidCredentials", "invalid username or password"))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// logout is a no-op beyond acknowledging the request: tokens are
// stateless JWTs with no server-side session to invalidate.
func (h *authHandlers) logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"loggedOut": true})
}

func (h *authHandlers) me(c *gin.Context) {
	principal := currentPrincipal(c)
	user, err := h.deps.Auth.GetUserByUsername(c.Request.Context(), principal.Username)
	if err != nil {
		abortErr(c, apierror.NotFound("UserNotFound", "user not found"))
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *authHandlers) whoAmI(c *gin.Context) {
	principal := currentPrincipal(c)
	if principal == nil {
		c.JSON(http.StatusOK, gin.H{"auth": nil, "type": "anonymous"})
		return
	}
	user, err := h.deps.Auth.GetUserByUsername(c.Request.Context(), principal.Username)
	if err != nil {
		abortErr(c, apierror.NotFound("UserNotFound", "user not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": "user", "name": user.Username, "email": user.Email, "isAdmin": user.IsAdmin})
}
