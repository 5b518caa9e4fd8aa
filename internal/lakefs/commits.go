package lakefs

import (
	"context"
	"fmt"
	"net/url"
)

type CommitInfo struct {
	ID           string            `json:"id"`
	Parents      []string          `json:"parents"`
	Committer    string            `json:"committer"`
	Message      string            `json:"message"`
	CreationDate int64             `json:"creation_date"`
	MetaRangeID  string            `json:"meta_range_id"`
	Metadata     map[string]string `json:"metadata"`
}

// Commit creates a commit on branch with message and free-form metadata,
// returning the new commit id.
func (c *Client) Commit(ctx context.Context, repo, branch, message string, metadata map[string]string) (*CommitInfo, error) {
	body := map[string]interface{}{
		"message":  message,
		"metadata": metadata,
	}
	var out CommitInfo
	path := fmt.Sprintf("/repositories/%s/branches/%s/commits", url.PathEscape(repo), url.PathEscape(branch))
	if err := c.do(ctx, "POST", path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCommit(ctx context.Context, repo, commitID string) (*CommitInfo, error) {
	var out CommitInfo
	path := fmt.Sprintf("/repositories/%s/commits/%s", url.PathEscape(repo), url.PathEscape(commitID))
	if err := c.do(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type logCommitsResponse struct {
	Pagination struct {
		HasMore    bool   `json:"has_more"`
		NextOffset string `json:"next_offset"`
	} `json:"pagination"`
	Results []CommitInfo `json:"results"`
}

// LogCommits lists commits reachable from ref, paginated, newest-first.
func (c *Client) LogCommits(ctx context.Context, repo, ref, after string, amount int) ([]CommitInfo, bool, string, error) {
	if amount <= 0 {
		amount = 100
	}
	path := fmt.Sprintf("/repositories/%s/refs/%s/commits%s", url.PathEscape(repo), url.PathEscape(ref),
		query(map[string]string{"after": after, "amount": itoa(amount)}))
	var out logCommitsResponse
	if err := c.do(ctx, "GET", path, nil, &out); err != nil {
		return nil, false, "", err
	}
	return out.Results, out.Pagination.HasMore, out.Pagination.NextOffset, nil
}

type DiffEntry struct {
	Path     string `json:"path"`
	Type     string `json:"type"` // "added" | "removed" | "changed" | "conflict"
	PathType string `json:"path_type"`
	SizeBytes int64 `json:"size_bytes"`
}

type diffResponse struct {
	Pagination struct {
		HasMore bool `json:"has_more"`
	} `json:"pagination"`
	Results []DiffEntry `json:"results"`
}

// Diff compares left..right (left is the base): "added" exists in right
// but not left, "removed" the reverse, "changed" present in both with
// different content.
func (c *Client) Diff(ctx context.Context, repo, left, right, prefix string) ([]DiffEntry, error) {
	var all []DiffEntry
	after := ""
	for {
		path := fmt.Sprintf("/repositories/%s/refs/%s/diff/%s%s", url.PathEscape(repo),
			url.PathEscape(left), url.PathEscape(right),
			query(map[string]string{"prefix": prefix, "after": after, "amount": "1000"}))
		var out diffResponse
		if err := c.do(ctx, "GET", path, nil, &out); err != nil {
			return nil, err
		}
		all = append(all, out.Results...)
		if !out.Pagination.HasMore || len(out.Results) == 0 {
			break
		}
		after = out.Results[len(out.Results)-1].Path
	}
	return all, nil
}

// Revert reverts commit ref on branch; the store itself returns
// 409 on conflict, surfaced by do() as apierror.Conflict.
func (c *Client) Revert(ctx context.Context, repo, branch, ref string, parentNumber int) error {
	body := map[string]interface{}{
		"ref":           ref,
		"parent_number": parentNumber,
	}
	path := fmt.Sprintf("/repositories/%s/branches/%s/revert", url.PathEscape(repo), url.PathEscape(branch))
	return c.do(ctx, "POST", path, body, nil)
}

type MergeResult struct {
	Reference string `json:"reference"`
}

// Merge merges src into dst with the given strategy ("dest-wins",
// "source-wins", or "" for the store's default three-way merge).
func (c *Client) Merge(ctx context.Context, repo, src, dst, message string, metadata map[string]string, strategy string, squash bool) (*MergeResult, error) {
	body := map[string]interface{}{
		"message":       message,
		"metadata":      metadata,
		"strategy":      strategy,
		"squash_merge":  squash,
	}
	var out MergeResult
	path := fmt.Sprintf("/repositories/%s/refs/%s/merge/%s", url.PathEscape(repo), url.PathEscape(dst), url.PathEscape(src))
	if err := c.do(ctx, "POST", path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
