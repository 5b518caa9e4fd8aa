package api

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kohakuhub/hub/internal/apierror"
	"github.com/kohakuhub/hub/internal/metadata"
)

const repoKey = "kohakuhub.repo"
const lakefsRepoKey = "kohakuhub.lakefsrepo"

// repoTypeFromPlural maps the URL segment ("models", "datasets", "spaces")
// to the stored RepoType. A trailing ".git" on the repo name segment is
// stripped separately, by trimDotGit.
func repoTypeFromPlural(restype string) (metadata.RepoType, bool) {
	switch restype {
	case "models":
		return metadata.RepoTypeModel, true
	case "datasets":
		return metadata.RepoTypeDataset, true
	case "spaces":
		return metadata.RepoTypeSpace, true
	default:
		return "", false
	}
}

func trimDotGit(name string) string {
	return strings.TrimSuffix(name, ".git")
}

func currentRepo(c *gin.Context) *metadata.Repository {
	v, ok := c.Get(repoKey)
	if !ok {
		return nil
	}
	r, _ := v.(*metadata.Repository)
	return r
}

func currentLakeFSRepo(c *gin.Context) string {
	v, _ := c.Get(lakefsRepoKey)
	s, _ := v.(string)
	return s
}

func abortErr(c *gin.Context, err error) {
	c.Error(err)
	writeError(c, err)
	c.Abort()
}

func mustParamErr(field string) *apierror.Error {
	return apierror.Validation("MissingParameter", field+" is required")
}

func parsePositiveInt(s string) (int, error) {
	return strconv.Atoi(s)
}
