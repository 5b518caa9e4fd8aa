// Package blobstore adapts the application to an S3-compatible object store.
//
// LFS clients never send or receive blob bytes through the application
// process: uploads and downloads get a presigned URL the client talks to
// directly. The application drives the control plane (presigning,
// multipart lifecycle, existence/size probes, prefix deletion) and moves
// bytes itself only through Upload and Download.
package blobstore

import (
	"context"
	"io"
	"time"
)

// Part identifies one completed multipart upload part.
type Part struct {
	Number int
	ETag   string
}

// Backend is the blob store adapter used for all content-addressed LFS bytes.
type Backend interface {
	// PresignPut returns a URL for a single PUT upload. When sha256B64 is
	// non-empty the signature binds an x-amz-checksum-sha256 requirement,
	// so the store itself rejects content that doesn't hash to it.
	PresignPut(ctx context.Context, key string, expires time.Duration, contentType, sha256B64 string) (url string, requiredHeaders map[string]string, expiresAt time.Time, err error)

	// PresignGet returns a URL for a single GET download.
	PresignGet(ctx context.Context, key string, expires time.Duration, downloadFilename string) (string, error)

	CreateMultipart(ctx context.Context, key string) (uploadID string, err error)
	PresignPart(ctx context.Context, key, uploadID string, partNumber int) (string, error)
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) (size int64, etag string, err error)
	AbortMultipart(ctx context.Context, key, uploadID string) error

	Head(ctx context.Context, key string) (size int64, etag string, lastModified time.Time, err error)
	Exists(ctx context.Context, key string) (bool, error)

	// Upload and Download are used for the small amount of application-side
	// I/O that isn't client-driven: admin debugging, GC verification, tests.
	Upload(ctx context.Context, key string, r io.Reader, size int64) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every object under prefix, batching deletes at
	// up to 1000 keys per call. It tolerates partial failures: count
	// reflects objects actually removed, err is non-nil only if the whole
	// operation could not proceed (e.g. a listing failure).
	DeletePrefix(ctx context.Context, prefix string) (count int, err error)
}

// MultipartThreshold is the size (bytes) above which uploads must use
// multipart instead of a single PUT. Default is 5 GiB.
const MultipartThreshold = 5 * 1024 * 1024 * 1024

// MaxPartCount is the client-visible cap on multipart part count.
const MaxPartCount = 10000

// PartSize picks a part size so that ceil(size/partSize) <= MaxPartCount,
// rounded up to whole mebibytes. Never exceeds MaxPartCount parts.
func PartSize(size int64) int64 {
	const mib = 1024 * 1024
	minPartSize := int64(8 * mib)
	if size <= 0 {
		return minPartSize
	}
	parts := (size + minPartSize - 1) / minPartSize
	if parts <= MaxPartCount {
		return minPartSize
	}
	needed := (size + MaxPartCount - 1) / MaxPartCount
	return ((needed + mib - 1) / mib) * mib
}

// Config selects and configures a Backend implementation.
type Config struct {
	Backend string // "s3" or "azure"
	S3      S3Config
	Azure   AzureConfig
}

type S3Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	EndpointURL     string
	ForcePathStyle  bool
}

type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	EndpointURL   string
}
