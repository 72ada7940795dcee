package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/datallboy/packman/internal/domain"
	"github.com/stretchr/testify/require"
)

func writePayload(t *testing.T, data []byte) (string, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.part")
	require.NoError(t, os.WriteFile(path, data, 0644))
	sum := sha256.Sum256(data)
	return path, hex.EncodeToString(sum[:])
}

func TestVerifier_Match(t *testing.T) {
	req := require.New(t)
	data := []byte(strings.Repeat("offline-map-tile", 1000))
	path, sum := writePayload(t, data)

	// Small chunks force several reads
	v := New().WithChunkSize(7)

	got, err := v.Digest(context.Background(), path)
	req.NoError(err)
	req.Equal(sum, got)

	req.NoError(v.Verify(context.Background(), path, sum))
	req.NoError(v.Verify(context.Background(), path, strings.ToUpper(sum)), "comparison ignores case")
}

func TestVerifier_Mismatch(t *testing.T) {
	req := require.New(t)
	path, sum := writePayload(t, []byte("abc"))

	err := New().Verify(context.Background(), path, strings.Repeat("0", 64))
	req.ErrorIs(err, domain.ErrVerificationFailed)

	var verr *domain.VerificationError
	req.ErrorAs(err, &verr)
	req.Equal(sum, verr.Actual)
}

func TestVerifier_Cancelled(t *testing.T) {
	path, sum := writePayload(t, []byte("abc"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New().Verify(ctx, path, sum)
	require.ErrorIs(t, err, context.Canceled)
}

func TestVerifier_MissingFile(t *testing.T) {
	err := New().Verify(context.Background(), filepath.Join(t.TempDir(), "nope"), "aa")
	require.ErrorIs(t, err, os.ErrNotExist)
}
