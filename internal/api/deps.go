// Package api wires gin routes to the storage-agnostic engines: NDJSON
// commits, branch/tag algebra, Git-LFS batch/multipart, and the
// read-only Git smart-HTTP bridge. Every engine stays framework-free;
// this package is the only place gin, JWT headers, and HTTP status
// codes are allowed to leak in.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/kohakuhub/hub/internal/auth"
	"github.com/kohakuhub/hub/internal/blobstore"
	"github.com/kohakuhub/hub/internal/branch"
	"github.com/kohakuhub/hub/internal/commit"
	"github.com/kohakuhub/hub/internal/config"
	"github.com/kohakuhub/hub/internal/gc"
	"github.com/kohakuhub/hub/internal/gitbridge"
	"github.com/kohakuhub/hub/internal/lakefs"
	"github.com/kohakuhub/hub/internal/lfsprotocol"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Dependencies is built once in cmd/server and threaded through every
// handler constructor, so nothing under this package re-reads config or
// re-dials a backend per request.
type Dependencies struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *logrus.Logger

	Auth       auth.Service
	JWTManager *auth.JWTManager

	Blobs  blobstore.Backend
	LakeFS *lakefs.Client
	GC     *gc.Engine

	Commit    *commit.Engine
	Branch    *branch.Engine
	LFS       *lfsprotocol.Engine
	GitBridge *gitbridge.Engine
}

// SetupRoutes mounts every spec-surface route on router. It replaces the
// teacher's SSH/distributed-git bootstrap entirely: this service has no
// write path other than the NDJSON commit handler below.
func SetupRoutes(router *gin.Engine, deps *Dependencies) {
	router.Use(requestMetrics())

	router.GET("/health", func(c *gin.Context) {
		if err := deps.DB.Exec("SELECT 1").Error; err != nil {
			c.JSON(503, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})
	mountMetrics(router)

	authH := newAuthHandlers(deps)
	repoH := newRepoHandlers(deps)
	commitH := newCommitHandlers(deps)
	branchH := newBranchHandlers(deps)
	lfsH := newLFSHandlers(deps)
	gitH := newGitHandlers(deps)
	adminH := newAdminHandlers(deps)

	apiGroup := router.Group("/api")
	apiGroup.Use(errorMiddleware())
	{
		apiGroup.POST("/auth/register", authH.register)
		apiGroup.POST("/auth/login", authH.login)
		apiGroup.POST("/auth/logout", authH.logout)
		apiGroup.GET("/auth/me", requireAuth(deps), authH.me)
		apiGroup.GET("/whoami-v2", optionalAuth(deps), authH.whoAmI)

		apiGroup.POST("/repos/create", requireAuth(deps), repoH.create)
		apiGroup.DELETE("/repos/delete", requireAuth(deps), repoH.delete)
		apiGroup.POST("/repos/move", requireAuth(deps), repoH.move)
		apiGroup.POST("/repos/squash", requireAuth(deps), repoH.squash)

		apiGroup.GET("/models", repoH.list)
		apiGroup.GET("/datasets", repoH.list)
		apiGroup.GET("/spaces", repoH.list)

		scoped := apiGroup.Group("/:restype/:ns/:name")
		scoped.Use(optionalAuth(deps), repoH.resolveRepo())
		{
			scoped.GET("", repoH.info)
			scoped.GET("/revision/:rev", repoH.revision)
			scoped.GET("/tree/:rev/*path", repoH.tree)

			scoped.POST("/preupload/:rev", requireAuth(deps), commitH.preupload)
			scoped.POST("/commit/:branch", requireAuth(deps), commitH.commit)
			scoped.GET("/commits/:branch", commitH.listCommits)
			scoped.GET("/commit/:id", commitH.getCommit)
			scoped.GET("/commit/:id/diff", commitH.getCommitDiff)

			scoped.POST("/branch", requireAuth(deps), branchH.create)
			scoped.DELETE("/branch/:branch", requireAuth(deps), branchH.delete)
			scoped.POST("/branch/:branch/revert", requireAuth(deps), branchH.revert)
			scoped.POST("/branch/:branch/reset", requireAuth(deps), branchH.reset)
			scoped.POST("/tag", requireAuth(deps), branchH.createTag)
			scoped.DELETE("/tag/:tag", requireAuth(deps), branchH.deleteTag)
			scoped.POST("/merge/:src/into/:dst", requireAuth(deps), branchH.merge)
		}

		admin := apiGroup.Group("/admin")
		admin.Use(requireAdminToken(deps))
		{
			admin.GET("/users", adminH.listUsers)
			admin.GET("/repos", adminH.listRepos)
			admin.GET("/stats", adminH.stats)
			admin.POST("/repos/:restype/:ns/:name/recalculate", adminH.recalculate)
			admin.POST("/storage/delete-prefix", adminH.requestPrefixDelete)
			admin.POST("/storage/delete-prefix/confirm", adminH.confirmPrefixDelete)
		}
	}

	resolveGroup := router.Group("/:restype/:ns/:name")
	resolveGroup.Use(optionalAuth(deps), repoH.resolveRepo())
	resolveGroup.GET("/resolve/:rev/*path", repoH.resolveFile)
	resolveGroup.HEAD("/resolve/:rev/*path", repoH.resolveFile)

	lfsGroup := router.Group("/:restype/:ns/:name")
	lfsGroup.Use(optionalAuth(deps), repoH.resolveRepo())
	lfsGroup.POST("/info/lfs/objects/batch", lfsH.batch)

	// The batch engine bakes absolute-path hrefs ("/info/lfs/verify",
	// "/info/lfs/complete/{id}") that carry no namespace of their own —
	// multipart completion only needs the oid/upload_id the client
	// already has, so these stay un-namespaced top-level routes rather
	// than nested under /api/{ns}/{name}.git as the wire doc suggests.
	router.POST("/info/lfs/verify", lfsH.verify)
	router.POST("/info/lfs/complete/:uploadID", lfsH.complete)

	// Git smart-HTTP URLs are "/{ns}/{name}.git/..." with no type segment,
	// which collides with the :restype wildcard the routes above use at
	// the same tree position — gin's router rejects two differently
	// named wildcards at one node. Dispatch these by hand off NoRoute
	// instead of trying to merge them into the trie.
	router.NoRoute(gitSmartHTTPDispatch(gitH))
}
