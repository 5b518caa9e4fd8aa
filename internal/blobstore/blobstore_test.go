package blobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLFSKey(t *testing.T) {
	assert.Equal(t, "lfs/ab/cd/abcdef0123", LFSKey("abcdef0123"))
	assert.Equal(t, "lfs/ab", LFSKey("ab"))
}

func TestPartSize_NeverExceedsMaxParts(t *testing.T) {
	cases := []int64{0, 1, MultipartThreshold, 50 * 1024 * 1024 * 1024, 6 * 1024 * 1024 * 1024 * 1024}
	for _, size := range cases {
		ps := PartSize(size)
		require.Greater(t, ps, int64(0))
		parts := (size + ps - 1) / ps
		if size > 0 {
			assert.LessOrEqualf(t, parts, int64(MaxPartCount), "size=%d partSize=%d parts=%d", size, ps, parts)
		}
	}
}

func TestNewBackend_UnsupportedKind(t *testing.T) {
	_, err := NewBackend(Config{Backend: "sftp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported backend")
}

func TestNewS3Backend_RequiresCredentials(t *testing.T) {
	_, err := NewS3Backend(S3Config{})
	require.Error(t, err)
}
