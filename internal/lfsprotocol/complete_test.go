package lfsprotocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRawPart_NormalizedPrefersLowerCasing(t *testing.T) {
	p := RawPart{PartNumber: 2, ETag: "abc"}
	n := p.normalized()
	require.Equal(t, 2, n.Number)
	require.Equal(t, "abc", n.ETag)
}

func TestRawPart_NormalizedFallsBackToUpperCasing(t *testing.T) {
	p := RawPart{PartNumber2: 3, ETag2: "xyz"}
	n := p.normalized()
	require.Equal(t, 3, n.Number)
	require.Equal(t, "xyz", n.ETag)
}

func TestVerify_SizeMismatch(t *testing.T) {
	db := setupTestDB(t)
	backend := &fakeBackend{existing: map[string]bool{}}
	engine := NewEngine(db, backend)

	err := engine.Verify(context.Background(), "deadbeef", 999)
	require.Error(t, err)
}
