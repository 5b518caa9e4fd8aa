package api

import (
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kohakuhub/hub/internal/apierror"
	"github.com/kohakuhub/hub/internal/metrics"
	"github.com/kohakuhub/hub/internal/perm"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/sha3"
)

const principalKey = "kohakuhub.principal"

func mountMetrics(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// requireAuth rejects the request with 401 unless the Authorization
// bearer token validates; a valid principal is stashed in the context
// for handlers to read via currentPrincipal.
func requireAuth(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := authenticate(c, deps)
		if err != nil || principal == nil {
			writeError(c, apierror.New(apierror.KindNotAuthenticated, "NotAuthenticated", "missing or invalid bearer token"))
			c.Abort()
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// optionalAuth populates a principal when a bearer token is present and
// valid, but never rejects an anonymous request — read endpoints decide
// for themselves whether the resolved repo is private.
func optionalAuth(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if principal, err := authenticate(c, deps); err == nil && principal != nil {
			c.Set(principalKey, principal)
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, deps *Dependencies) (*perm.Principal, error) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, nil
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return nil, nil
	}

	user, err := deps.Auth.VerifyToken(c.Request.Context(), token)
	if err != nil {
		return nil, err
	}
	return &perm.Principal{UserID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin}, nil
}

func currentPrincipal(c *gin.Context) *perm.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*perm.Principal)
	return p
}

// requireAdminToken gates the admin surface on a constant-time comparison
// of X-Admin-Token against the configured SHA3-512 hash, independent of
// the user JWT scheme — the admin token is an operator secret, not tied
// to any account.
func requireAdminToken(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Config.Admin.TokenHashHex == "" {
			writeError(c, apierror.Forbidden("AdminDisabled", "admin surface is not configured"))
			c.Abort()
			return
		}

		token := c.GetHeader("X-Admin-Token")
		if token == "" {
			writeError(c, apierror.New(apierror.KindNotAuthenticated, "NotAuthenticated", "missing X-Admin-Token"))
			c.Abort()
			return
		}

		sum := sha3.Sum512([]byte(token))
		got := hex.EncodeToString(sum[:])
		want := strings.ToLower(deps.Config.Admin.TokenHashHex)
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			writeError(c, apierror.Forbidden("InvalidAdminToken", "admin token did not match"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// errorMiddleware renders any apierror.Error left on the gin context
// (via c.Error) as the HF-compatible X-Error-Code/X-Error-Message
// headers plus a {"error": ...} JSON body, so handlers can just
// c.Error(err) and return.
func errorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		writeError(c, c.Errors.Last().Err)
	}
}

func writeError(c *gin.Context, err error) {
	if c.Writer.Written() {
		return
	}
	apiErr, ok := err.(*apierror.Error)
	if !ok {
		apiErr = apierror.Internal("unexpected error", err)
	}
	c.Header("X-Error-Code", apiErr.Code)
	c.Header("X-Error-Message", apiErr.Message)
	c.JSON(apiErr.Kind.StatusCode(), gin.H{
		"error":   apiErr.Message,
		"code":    apiErr.Code,
		"details": apiErr.Details,
	})
}

// requestMetrics times every request and records it under its matched
// route template (not the raw path, to keep the label cardinality
// bounded) so /metrics reflects per-endpoint latency.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(route, c.Request.Method, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
