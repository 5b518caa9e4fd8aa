package lakefs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/kohakuhub/hub/internal/apierror"
)

type ObjectStat struct {
	Path            string `json:"path"`
	Checksum        string `json:"checksum"`
	SizeBytes       int64  `json:"size_bytes"`
	PhysicalAddress string `json:"physical_address"`
	Mtime           int64  `json:"mtime"`
}

type ObjectEntry struct {
	Path      string `json:"path"`
	PathType  string `json:"path_type"` // "object" or "common_prefix"
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

type listObjectsResponse struct {
	Pagination struct {
		HasMore    bool   `json:"has_more"`
		NextOffset string `json:"next_offset"`
	} `json:"pagination"`
	Results []ObjectEntry `json:"results"`
}

// ListObjects lists entries at ref under prefix, paginated. after is the
// opaque cursor from the previous page's NextOffset.
func (c *Client) ListObjects(ctx context.Context, repo, ref, prefix, after string, amount int) ([]ObjectEntry, bool, string, error) {
	if amount <= 0 {
		amount = 1000
	}
	path := fmt.Sprintf("/repositories/%s/refs/%s/objects/ls%s",
		url.PathEscape(repo), url.PathEscape(ref),
		query(map[string]string{"prefix": prefix, "after": after, "amount": itoa(amount)}))

	var out listObjectsResponse
	if err := c.do(ctx, "GET", path, nil, &out); err != nil {
		return nil, false, "", err
	}
	return out.Results, out.Pagination.HasMore, out.Pagination.NextOffset, nil
}

// StatObject returns metadata for a single path at ref, including its
// physical address — needed for link-without-copy operations like
// copyFile and reset/merge restoration.
func (c *Client) StatObject(ctx context.Context, repo, ref, path string) (*ObjectStat, error) {
	p := fmt.Sprintf("/repositories/%s/objects/stat%s", url.PathEscape(repo),
		query(map[string]string{"ref": ref, "path": path}))
	var out ObjectStat
	if err := c.do(ctx, "GET", p, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetObject downloads the bytes for path at ref. Callers: the resolve
// endpoint for non-LFS files, reset when restoring paths from the
// target, and the git bridge for non-LFS blobs.
func (c *Client) GetObject(ctx context.Context, repo, ref, path string) ([]byte, error) {
	reqPath := fmt.Sprintf("/repositories/%s/objects%s", url.PathEscape(repo),
		query(map[string]string{"ref": ref, "path": path}))

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+reqPath, nil)
	if err != nil {
		return nil, apierror.Internal("lakefs: build get-object request", err)
	}
	req.SetBasicAuth(c.accessKey, c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apierror.Upstream("lakefs: get object", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apierror.NotFound("NotFound", fmt.Sprintf("lakefs: object %s@%s not found", path, ref))
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, apierror.Upstream(fmt.Sprintf("lakefs: get object %s@%s: status %d: %s", path, ref, resp.StatusCode, string(body)), nil)
	}
	return io.ReadAll(resp.Body)
}

// UploadObject stages a new blob under the repo's storage namespace on
// branch, at path, returning the resulting ObjectStat (including the
// physical address the store assigned).
func (c *Client) UploadObject(ctx context.Context, repo, branch, path string, content []byte) (*ObjectStat, error) {
	reqPath := fmt.Sprintf("/repositories/%s/branches/%s/objects%s",
		url.PathEscape(repo), url.PathEscape(branch), query(map[string]string{"path": path}))

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+reqPath, bytes.NewReader(content))
	if err != nil {
		return nil, apierror.Internal("lakefs: build upload request", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.SetBasicAuth(c.accessKey, c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apierror.Upstream("lakefs: upload object", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, apierror.Upstream(fmt.Sprintf("lakefs: upload %s: status %d: %s", path, resp.StatusCode, string(body)), nil)
	}

	var out ObjectStat
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apierror.Internal("lakefs: decode upload response", err)
	}
	return &out, nil
}

// LinkPhysicalAddress registers an existing blob (already sitting at
// physicalAddress in the blob store, e.g. a content-addressed LFS key)
// as the content for path on branch, without copying bytes. This is how
// LFS objects and copyFile both avoid byte-level duplication.
func (c *Client) LinkPhysicalAddress(ctx context.Context, repo, branch, path, physicalAddress, checksum string, sizeBytes int64) error {
	reqPath := fmt.Sprintf("/repositories/%s/branches/%s/staging/backing%s",
		url.PathEscape(repo), url.PathEscape(branch), query(map[string]string{"path": path}))
	body := map[string]interface{}{
		"staging": map[string]string{
			"physical_address": physicalAddress,
		},
		"checksum":   checksum,
		"size_bytes": sizeBytes,
		"force":      true,
	}
	return c.do(ctx, "PUT", reqPath, body, nil)
}

func (c *Client) DeleteObject(ctx context.Context, repo, branch, path string) error {
	reqPath := fmt.Sprintf("/repositories/%s/branches/%s/objects%s",
		url.PathEscape(repo), url.PathEscape(branch), query(map[string]string{"path": path}))
	return c.do(ctx, "DELETE", reqPath, nil, nil)
}
