package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kohakuhub/hub/internal/apierror"
)

// gitSmartHTTPDispatch handles "/{ns}/{name}.git/info/refs" and
// "/{ns}/{name}.git/git-upload-pack" by parsing the path manually: these
// URLs are two path segments deep with no type prefix, which can't share
// a gin route tree with the three-segment "/{type}/{ns}/{name}/..."
// family registered at the same root.
func gitSmartHTTPDispatch(gitH *gitHandlers) gin.HandlerFunc {
	return func(c *gin.Context) {
		segs := pathSegments(c.Request.URL.Path)

		switch {
		case len(segs) == 4 && segs[2] == "info" && segs[3] == "refs" && c.Request.Method == http.MethodGet:
			setParams(c, gin.Param{Key: "ns", Value: segs[0]}, gin.Param{Key: "name", Value: segs[1]})
			gitH.infoRefs(c)

		case len(segs) == 3 && segs[2] == "git-upload-pack" && c.Request.Method == http.MethodPost:
			setParams(c, gin.Param{Key: "ns", Value: segs[0]}, gin.Param{Key: "name", Value: segs[1]})
			gitH.uploadPack(c)

		default:
			writeError(c, apierror.NotFound("NotFound", "no route matches "+c.Request.URL.Path))
		}
	}
}

func pathSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func setParams(c *gin.Context, params ...gin.Param) {
	c.Params = append(c.Params, params...)
}
