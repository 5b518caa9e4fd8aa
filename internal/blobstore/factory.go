package blobstore

import (
	"fmt"
	"strings"
)

// NewBackend selects a Backend implementation from Config.Backend.
func NewBackend(cfg Config) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "s3", "aws", "":
		return NewS3Backend(cfg.S3)
	case "azure", "azureblob":
		return NewAzureBackend(cfg.Azure)
	default:
		return nil, fmt.Errorf("blobstore: unsupported backend %q", cfg.Backend)
	}
}

// LFSKey returns the content-addressed key for an LFS object. This layout
// is an external contract and must never change.
func LFSKey(oid string) string {
	if len(oid) < 4 {
		return "lfs/" + oid
	}
	return fmt.Sprintf("lfs/%s/%s/%s", oid[0:2], oid[2:4], oid)
}
