package lakefs

import (
	"context"
	"fmt"
	"net/url"
)

// CreateRepository creates a versioned-store repo backed by storageNamespace
// (an s3://bucket/prefix URI) with the given default branch.
func (c *Client) CreateRepository(ctx context.Context, name, storageNamespace, defaultBranch string) error {
	body := map[string]interface{}{
		"name":              name,
		"storage_namespace": storageNamespace,
		"default_branch":    defaultBranch,
	}
	return c.do(ctx, "POST", "/repositories", body, nil)
}

func (c *Client) DeleteRepository(ctx context.Context, name string) error {
	return c.do(ctx, "DELETE", "/repositories/"+url.PathEscape(name), nil, nil)
}

type Branch struct {
	ID       string `json:"id"`
	CommitID string `json:"commit_id"`
}

func (c *Client) CreateBranch(ctx context.Context, repo, name, source string) error {
	body := map[string]string{"name": name, "source": source}
	return c.do(ctx, "POST", fmt.Sprintf("/repositories/%s/branches", url.PathEscape(repo)), body, nil)
}

func (c *Client) DeleteBranch(ctx context.Context, repo, branch string) error {
	return c.do(ctx, "DELETE", fmt.Sprintf("/repositories/%s/branches/%s", url.PathEscape(repo), url.PathEscape(branch)), nil, nil)
}

func (c *Client) GetBranchHEAD(ctx context.Context, repo, branch string) (string, error) {
	var out Branch
	err := c.do(ctx, "GET", fmt.Sprintf("/repositories/%s/branches/%s", url.PathEscape(repo), url.PathEscape(branch)), nil, &out)
	if err != nil {
		return "", err
	}
	return out.CommitID, nil
}

func (c *Client) CreateTag(ctx context.Context, repo, tag, ref string) error {
	body := map[string]string{"id": tag, "ref": ref}
	return c.do(ctx, "POST", fmt.Sprintf("/repositories/%s/tags", url.PathEscape(repo)), body, nil)
}

func (c *Client) DeleteTag(ctx context.Context, repo, tag string) error {
	return c.do(ctx, "DELETE", fmt.Sprintf("/repositories/%s/tags/%s", url.PathEscape(repo), url.PathEscape(tag)), nil, nil)
}
