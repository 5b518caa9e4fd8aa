package blobstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"time"

	azblob "github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/google/uuid"
)

// AzureBackend implements Backend against Azure Blob Storage. Azure has no
// single-PUT presign concept with an integrity header the way S3 does, so
// PresignPut signs a SAS URL instead and the sha256 check (if any) is left
// to the caller's post-hoc verify step.
type AzureBackend struct {
	cfg          AzureConfig
	credential   *azblob.SharedKeyCredential
	containerURL azblob.ContainerURL
}

func NewAzureBackend(cfg AzureConfig) (*AzureBackend, error) {
	if cfg.AccountName == "" || cfg.AccountKey == "" || cfg.ContainerName == "" {
		return nil, fmt.Errorf("blobstore: azure account name, key and container are required")
	}
	endpoint := cfg.EndpointURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	}
	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("blobstore: azure credential: %w", err)
	}
	containerURL, err := url.Parse(fmt.Sprintf("%s/%s", endpoint, cfg.ContainerName))
	if err != nil {
		return nil, fmt.Errorf("blobstore: azure container url: %w", err)
	}
	container := azblob.NewContainerURL(*containerURL, azblob.NewPipeline(credential, azblob.PipelineOptions{}))
	return &AzureBackend{cfg: cfg, credential: credential, containerURL: container}, nil
}

func (a *AzureBackend) blobURL(key string) azblob.BlockBlobURL {
	return a.containerURL.NewBlockBlobURL(key)
}

func (a *AzureBackend) PresignPut(ctx context.Context, key string, expires time.Duration, contentType, sha256B64 string) (string, map[string]string, time.Time, error) {
	sasValues := azblob.BlobSASSignatureValues{
		ContainerName: a.cfg.ContainerName,
		BlobName:      key,
		Protocol:      azblob.SASProtocolHTTPS,
		StartTime:     time.Now().Add(-5 * time.Minute),
		ExpiryTime:    time.Now().Add(expires),
		Permissions:   azblob.BlobSASPermissions{Read: true, Write: true, Create: true}.String(),
	}
	qs, err := sasValues.NewSASQueryParameters(a.credential)
	if err != nil {
		return "", nil, time.Time{}, fmt.Errorf("blobstore: azure sign put %s: %w", key, err)
	}
	headers := map[string]string{"x-ms-blob-type": "BlockBlob"}
	if contentType != "" {
		headers["Content-Type"] = contentType
	}
	u := a.blobURL(key).URL()
	return fmt.Sprintf("%s?%s", u.String(), qs.Encode()), headers, time.Now().Add(expires), nil
}

func (a *AzureBackend) PresignGet(ctx context.Context, key string, expires time.Duration, downloadFilename string) (string, error) {
	sasValues := azblob.BlobSASSignatureValues{
		ContainerName: a.cfg.ContainerName,
		BlobName:      key,
		Protocol:      azblob.SASProtocolHTTPS,
		StartTime:     time.Now().Add(-5 * time.Minute),
		ExpiryTime:    time.Now().Add(expires),
		Permissions:   azblob.BlobSASPermissions{Read: true}.String(),
	}
	if downloadFilename != "" {
		sasValues.ContentDisposition = fmt.Sprintf(`attachment; filename="%s"`, downloadFilename)
	}
	qs, err := sasValues.NewSASQueryParameters(a.credential)
	if err != nil {
		return "", fmt.Errorf("blobstore: azure sign get %s: %w", key, err)
	}
	u := a.blobURL(key).URL()
	return fmt.Sprintf("%s?%s", u.String(), qs.Encode()), nil
}

// Azure has no native multipart-upload-id concept on block blobs; staged
// blocks are addressed by caller-chosen base64 block IDs instead. The
// "upload ID" we hand back is just a random prefix used to derive those
// block IDs, tracked only in the returned string — Azure itself is
// stateless about it until CommitBlockList.
func (a *AzureBackend) CreateMultipart(ctx context.Context, key string) (string, error) {
	return uuid.NewString(), nil
}

func (a *AzureBackend) PresignPart(ctx context.Context, key, uploadID string, partNumber int) (string, error) {
	blockID := blockIDFor(uploadID, partNumber)
	sasValues := azblob.BlobSASSignatureValues{
		ContainerName: a.cfg.ContainerName,
		BlobName:      key,
		Protocol:      azblob.SASProtocolHTTPS,
		StartTime:     time.Now().Add(-5 * time.Minute),
		ExpiryTime:    time.Now().Add(24 * time.Hour),
		Permissions:   azblob.BlobSASPermissions{Write: true}.String(),
	}
	qs, err := sasValues.NewSASQueryParameters(a.credential)
	if err != nil {
		return "", fmt.Errorf("blobstore: azure sign part %d of %s: %w", partNumber, key, err)
	}
	u := a.blobURL(key).URL()
	return fmt.Sprintf("%s?comp=block&blockid=%s&%s", u.String(), url.QueryEscape(blockID), qs.Encode()), nil
}

func blockIDFor(uploadID string, partNumber int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s-%05d", uploadID, partNumber)))
}

func (a *AzureBackend) CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) (int64, string, error) {
	blockIDs := make([]string, len(parts))
	for i, p := range parts {
		blockIDs[i] = blockIDFor(uploadID, p.Number)
	}
	_, err := a.blobURL(key).CommitBlockList(ctx, blockIDs, azblob.BlobHTTPHeaders{}, azblob.Metadata{}, azblob.BlobAccessConditions{}, azblob.DefaultAccessTier, nil, azblob.ClientProvidedKeyOptions{}, azblob.ImmutabilityPolicyOptions{})
	if err != nil {
		return 0, "", fmt.Errorf("blobstore: azure commit block list %s: %w", key, err)
	}
	size, etag, _, err := a.Head(ctx, key)
	return size, etag, err
}

func (a *AzureBackend) AbortMultipart(ctx context.Context, key, uploadID string) error {
	// Uncommitted blocks expire on their own after 7 days; nothing to abort.
	return nil
}

func (a *AzureBackend) Head(ctx context.Context, key string) (int64, string, time.Time, error) {
	props, err := a.blobURL(key).GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return 0, "", time.Time{}, fmt.Errorf("blobstore: azure head %s: %w", key, err)
	}
	return props.ContentLength(), string(props.ETag()), props.LastModified(), nil
}

func (a *AzureBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.blobURL(key).GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if serr, ok := err.(azblob.StorageError); ok && serr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return false, nil
		}
		return false, fmt.Errorf("blobstore: azure exists %s: %w", key, err)
	}
	return true, nil
}

func (a *AzureBackend) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := azblob.UploadStreamToBlockBlob(ctx, r, a.blobURL(key), azblob.UploadStreamToBlockBlobOptions{BufferSize: 4 * 1024 * 1024, MaxBuffers: 16})
	if err != nil {
		return fmt.Errorf("blobstore: azure upload %s: %w", key, err)
	}
	return nil
}

func (a *AzureBackend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := a.blobURL(key).Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, fmt.Errorf("blobstore: azure download %s: %w", key, err)
	}
	return resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3}), nil
}

func (a *AzureBackend) Delete(ctx context.Context, key string) error {
	_, err := a.blobURL(key).Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
	if err != nil {
		return fmt.Errorf("blobstore: azure delete %s: %w", key, err)
	}
	return nil
}

func (a *AzureBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	marker := azblob.Marker{}
	removed := 0
	for marker.NotDone() {
		list, err := a.containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{Prefix: prefix})
		if err != nil {
			return removed, fmt.Errorf("blobstore: azure list prefix %s: %w", prefix, err)
		}
		for _, v := range list.Segment.BlobItems {
			if _, err := a.blobURL(v.Name).Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{}); err == nil {
				removed++
			}
		}
		marker = list.NextMarker
	}
	return removed, nil
}
