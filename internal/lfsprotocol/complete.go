package lfsprotocol

import (
	"context"
	"fmt"

	"github.com/kohakuhub/hub/internal/apierror"
	"github.com/kohakuhub/hub/internal/blobstore"
)

// RawPart mirrors the two casings Git-LFS clients use interchangeably
// for multipart completion: {PartNumber,ETag} and {partNumber,etag}.
// Per the resolved Open Question, whichever casing the client sent is
// just read into this struct and never echoed back reshaped.
type RawPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
	PartNumber2 int   `json:"PartNumber"`
	ETag2       string `json:"ETag"`
}

func (p RawPart) normalized() blobstore.Part {
	n := p.PartNumber
	if n == 0 {
		n = p.PartNumber2
	}
	tag := p.ETag
	if tag == "" {
		tag = p.ETag2
	}
	return blobstore.Part{Number: n, ETag: tag}
}

type CompleteResult struct {
	Size int64  `json:"size"`
	ETag string `json:"etag"`
}

// CompleteMultipart finishes a multipart LFS upload and verifies the
// resulting object's size with a follow-up head call.
func (e *Engine) CompleteMultipart(ctx context.Context, oid, uploadID string, rawParts []RawPart) (*CompleteResult, error) {
	parts := make([]blobstore.Part, len(rawParts))
	for i, p := range rawParts {
		parts[i] = p.normalized()
	}

	key := blobstore.LFSKey(oid)
	size, etag, err := e.blobs.CompleteMultipart(ctx, key, uploadID, parts)
	if err != nil {
		return nil, apierror.Integrity("MultipartCompleteFailed", fmt.Sprintf("lfsprotocol: complete multipart for %s: %v", oid, err))
	}
	return &CompleteResult{Size: size, ETag: etag}, nil
}

// Verify checks the uploaded blob's size matches what the client
// declared, per the Git-LFS verify step.
func (e *Engine) Verify(ctx context.Context, oid string, declaredSize int64) error {
	key := blobstore.LFSKey(oid)
	size, _, _, err := e.blobs.Head(ctx, key)
	if err != nil {
		return apierror.Integrity("MissingLFSBlob", fmt.Sprintf("lfsprotocol: verify %s: blob not found: %v", oid, err))
	}
	if size != declaredSize {
		return apierror.Integrity("SizeMismatch", fmt.Sprintf("lfsprotocol: verify %s: declared size %d, actual %d", oid, declaredSize, size))
	}
	return nil
}
