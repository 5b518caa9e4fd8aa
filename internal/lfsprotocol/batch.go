// Package lfsprotocol implements the Git-LFS batch/verify/multipart-complete
// protocol: upload/download planning, multipart delegation, dedup, and
// quota enforcement ahead of any bytes moving.
package lfsprotocol

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kohakuhub/hub/internal/apierror"
	"github.com/kohakuhub/hub/internal/blobstore"
	"github.com/kohakuhub/hub/internal/metadata"
	"gorm.io/gorm"
)

type Engine struct {
	db    *gorm.DB
	blobs blobstore.Backend
}

func NewEngine(db *gorm.DB, blobs blobstore.Backend) *Engine {
	return &Engine{db: db, blobs: blobs}
}

type BatchObject struct {
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

type BatchRequest struct {
	Operation string        `json:"operation"` // "upload" | "download"
	Objects   []BatchObject `json:"objects"`
	IsBrowser bool          `json:"-"`
}

type ObjectError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type UploadAction struct {
	Href   string            `json:"href"`
	Header map[string]string `json:"header,omitempty"`
	ExpiresIn int64          `json:"expires_in,omitempty"`
}

type BatchObjectResponse struct {
	OID     string                  `json:"oid"`
	Size    int64                   `json:"size"`
	Authenticated bool              `json:"authenticated,omitempty"`
	Actions *map[string]UploadAction `json:"actions,omitempty"`
	Error   *ObjectError            `json:"error,omitempty"`
}

type BatchResponse struct {
	Transfer string                `json:"transfer"`
	Objects  []BatchObjectResponse `json:"objects"`
	HashAlgo string                `json:"hash_algo"`
}

const uploadURLExpiry = 24 * time.Hour

// Batch implements both directions of the LFS batch endpoint. checkQuota
// is invoked once, up front, with the sum of sizes not already deduped —
// callers pass a closure over perm.CheckQuota scoped to the repo's
// namespace/visibility so this package stays free of metadata/perm
// wiring decisions.
func (e *Engine) Batch(ctx context.Context, repo *metadata.Repository, req BatchRequest, checkQuota func(addBytes int64) error) (*BatchResponse, error) {
	if req.Operation == "download" {
		return e.batchDownload(ctx, repo, req)
	}
	return e.batchUpload(ctx, repo, req, checkQuota)
}

func (e *Engine) batchDownload(ctx context.Context, repo *metadata.Repository, req BatchRequest) (*BatchResponse, error) {
	resp := &BatchResponse{Transfer: "basic", HashAlgo: "sha256"}
	for _, obj := range req.Objects {
		var file metadata.File
		err := e.db.WithContext(ctx).
			Where("repository_id = ? AND sha256 = ? AND lfs = ? AND is_deleted = ?", repo.ID, obj.OID, true, false).
			First(&file).Error
		if err != nil {
			resp.Objects = append(resp.Objects, BatchObjectResponse{
				OID: obj.OID, Size: obj.Size,
				Error: &ObjectError{Code: 404, Message: "object does not exist"},
			})
			continue
		}

		url, err := e.blobs.PresignGet(ctx, blobstore.LFSKey(obj.OID), uploadURLExpiry, "")
		if err != nil {
			resp.Objects = append(resp.Objects, BatchObjectResponse{
				OID: obj.OID, Size: obj.Size,
				Error: &ObjectError{Code: 500, Message: "failed to presign download"},
			})
			continue
		}
		actions := map[string]UploadAction{"download": {Href: url}}
		resp.Objects = append(resp.Objects, BatchObjectResponse{OID: obj.OID, Size: obj.Size, Actions: &actions})
	}
	return resp, nil
}

func (e *Engine) batchUpload(ctx context.Context, repo *metadata.Repository, req BatchRequest, checkQuota func(int64) error) (*BatchResponse, error) {
	var totalNew int64
	dedup := make([]bool, len(req.Objects))
	for i, obj := range req.Objects {
		exists, err := e.objectAlreadyStored(ctx, repo, obj)
		if err != nil {
			return nil, err
		}
		dedup[i] = exists
		if !exists {
			totalNew += obj.Size
		}
	}

	if totalNew > 0 && checkQuota != nil {
		if err := checkQuota(totalNew); err != nil {
			return nil, err
		}
	}

	resp := &BatchResponse{Transfer: "basic", HashAlgo: "sha256"}
	for i, obj := range req.Objects {
		if dedup[i] {
			resp.Objects = append(resp.Objects, BatchObjectResponse{OID: obj.OID, Size: obj.Size})
			continue
		}

		objResp, err := e.planUpload(ctx, obj, req.IsBrowser)
		if err != nil {
			resp.Objects = append(resp.Objects, BatchObjectResponse{
				OID: obj.OID, Size: obj.Size,
				Error: &ObjectError{Code: 500, Message: err.Error()},
			})
			continue
		}
		resp.Objects = append(resp.Objects, *objResp)
	}
	return resp, nil
}

func (e *Engine) objectAlreadyStored(ctx context.Context, repo *metadata.Repository, obj BatchObject) (bool, error) {
	key := blobstore.LFSKey(obj.OID)
	exists, err := e.blobs.Exists(ctx, key)
	if err != nil {
		return false, apierror.Upstream("lfsprotocol: exists probe failed", err)
	}
	if exists {
		return true, nil
	}

	var count int64
	err = e.db.WithContext(ctx).Model(&metadata.File{}).
		Where("repository_id = ? AND sha256 = ? AND size = ?", repo.ID, obj.OID, obj.Size).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("lfsprotocol: dedup lookup: %w", err)
	}
	return count > 0, nil
}

func (e *Engine) planUpload(ctx context.Context, obj BatchObject, isBrowser bool) (*BatchObjectResponse, error) {
	key := blobstore.LFSKey(obj.OID)

	if obj.Size > blobstore.MultipartThreshold {
		uploadID, err := e.blobs.CreateMultipart(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("create multipart: %w", err)
		}

		partSize := blobstore.PartSize(obj.Size)
		partCount := int((obj.Size + partSize - 1) / partSize)

		actions := map[string]UploadAction{}
		for n := 1; n <= partCount; n++ {
			partURL, err := e.blobs.PresignPart(ctx, key, uploadID, n)
			if err != nil {
				return nil, fmt.Errorf("presign part %d: %w", n, err)
			}
			actions[fmt.Sprintf("%d", n)] = UploadAction{Href: partURL}
		}
		actions["chunk_size"] = UploadAction{Href: fmt.Sprintf("%d", partSize)}
		actions["upload_id"] = UploadAction{Href: uploadID}
		actions["verify"] = UploadAction{Href: "/info/lfs/verify"}
		actions["complete"] = UploadAction{Href: fmt.Sprintf("/info/lfs/complete/%s", uploadID)}

		return &BatchObjectResponse{OID: obj.OID, Size: obj.Size, Actions: &actions}, nil
	}

	headers := map[string]string{}
	if isBrowser {
		headers["Content-Type"] = "application/octet-stream"
	}

	url, respHeaders, _, err := e.blobs.PresignPut(ctx, key, uploadURLExpiry, headers["Content-Type"], "")
	if err != nil {
		return nil, fmt.Errorf("presign put: %w", err)
	}
	for k, v := range respHeaders {
		headers[k] = v
	}

	actions := map[string]UploadAction{
		"upload": {Href: url, Header: headers},
		"verify": {Href: "/info/lfs/verify"},
	}
	return &BatchObjectResponse{OID: obj.OID, Size: obj.Size, Actions: &actions}, nil
}

// NewStagingUpload records a multipart upload in progress so /info/lfs/complete
// can recover the oid/size/path context without the client re-sending it.
func NewStagingUpload(repoID uint, revision, path, oid string, size int64, uploadID string) metadata.StagingUpload {
	return metadata.StagingUpload{
		ID:           uuid.New(),
		RepositoryID: repoID,
		Revision:     revision,
		PathInRepo:   path,
		OID:          oid,
		Size:         size,
		UploadID:     uploadID,
	}
}
