package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3Backend implements Backend against any S3-compatible object store.
type S3Backend struct {
	cfg       S3Config
	client    *s3.Client
	presigner *s3.PresignClient
}

func NewS3Backend(cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blobstore: s3 bucket is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("blobstore: s3 credentials are required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("blobstore: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3Backend{
		cfg:       cfg,
		client:    client,
		presigner: s3.NewPresignClient(client),
	}, nil
}

func (b *S3Backend) PresignPut(ctx context.Context, key string, expires time.Duration, contentType, sha256B64 string) (string, map[string]string, time.Time, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	}
	headers := map[string]string{}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
		headers["Content-Type"] = contentType
	}
	if sha256B64 != "" {
		input.ChecksumSHA256 = aws.String(sha256B64)
		headers["x-amz-checksum-sha256"] = sha256B64
	}
	res, err := b.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(expires))
	if err != nil {
		return "", nil, time.Time{}, fmt.Errorf("blobstore: presign put %s: %w", key, err)
	}
	return res.URL, headers, time.Now().Add(expires), nil
}

func (b *S3Backend) PresignGet(ctx context.Context, key string, expires time.Duration, downloadFilename string) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	}
	if downloadFilename != "" {
		input.ResponseContentDisposition = aws.String(fmt.Sprintf(`attachment; filename="%s"`, downloadFilename))
	}
	res, err := b.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("blobstore: presign get %s: %w", key, err)
	}
	return res.URL, nil
}

func (b *S3Backend) CreateMultipart(ctx context.Context, key string) (string, error) {
	out, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: create multipart %s: %w", key, err)
	}
	return aws.ToString(out.UploadId), nil
}

func (b *S3Backend) PresignPart(ctx context.Context, key, uploadID string, partNumber int) (string, error) {
	res, err := b.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(b.cfg.Bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(int32(partNumber)),
	}, s3.WithPresignExpires(24*time.Hour))
	if err != nil {
		return "", fmt.Errorf("blobstore: presign part %d of %s: %w", partNumber, key, err)
	}
	return res.URL, nil
}

func (b *S3Backend) CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) (int64, string, error) {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			PartNumber: aws.Int32(int32(p.Number)),
			ETag:       aws.String(p.ETag),
		})
	}
	_, err := b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(b.cfg.Bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return 0, "", fmt.Errorf("blobstore: complete multipart %s: %w", key, err)
	}
	size, etag, _, err := b.Head(ctx, key)
	if err != nil {
		return 0, "", fmt.Errorf("blobstore: head after complete %s: %w", key, err)
	}
	return size, etag, nil
}

func (b *S3Backend) AbortMultipart(ctx context.Context, key, uploadID string) error {
	_, err := b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(b.cfg.Bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return fmt.Errorf("blobstore: abort multipart %s: %w", key, err)
	}
	return nil
}

func (b *S3Backend) Head(ctx context.Context, key string) (int64, string, time.Time, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, "", time.Time{}, fmt.Errorf("blobstore: head %s: %w", key, err)
	}
	return aws.ToInt64(out.ContentLength), aws.ToString(out.ETag), aws.ToTime(out.LastModified), nil
}

func (b *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, _, _, err := b.Head(ctx, key)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return true
	}
	return false
}

func (b *S3Backend) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("blobstore: upload %s: %w", key, err)
	}
	return nil
}

func (b *S3Backend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: download %s: %w", key, err)
	}
	return out.Body, nil
}

func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("blobstore: delete %s: %w", key, err)
	}
	return nil
}

// DeletePrefix paginates the prefix and issues batch deletes of up to 1000
// keys. It keeps going after a batch partially fails, returning the number
// of keys actually removed.
func (b *S3Backend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	removed := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return removed, fmt.Errorf("blobstore: list prefix %s: %w", prefix, err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		for start := 0; start < len(page.Contents); start += 1000 {
			end := start + 1000
			if end > len(page.Contents) {
				end = len(page.Contents)
			}
			ids := make([]types.ObjectIdentifier, 0, end-start)
			for _, obj := range page.Contents[start:end] {
				ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
			}
			out, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(b.cfg.Bucket),
				Delete: &types.Delete{Objects: ids},
			})
			if err != nil {
				// Partial-failure tolerant: keep paginating, report what we have.
				continue
			}
			removed += len(out.Deleted)
		}
	}
	return removed, nil
}

// Sha256Base64 is a helper for building the PresignPut checksum argument.
func Sha256Base64(sum [sha256.Size]byte) string {
	return base64.StdEncoding.EncodeToString(sum[:])
}
