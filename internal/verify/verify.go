package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/datallboy/packman/internal/domain"
)

const DefaultChunkSize = 1024 * 1024

// Verifier streams a file through a digest in bounded chunks.
type Verifier struct {
	newHash   func() hash.Hash
	chunkSize int
}

func New() *Verifier {
	return &Verifier{newHash: sha256.New, chunkSize: DefaultChunkSize}
}

// WithChunkSize returns a copy reading chunkSize bytes at a time.
func (v *Verifier) WithChunkSize(chunkSize int) *Verifier {
	c := *v
	if chunkSize > 0 {
		c.chunkSize = chunkSize
	}
	return &c
}

// Digest returns the lowercase hex digest of the file at path.
func (v *Verifier) Digest(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := v.newHash()
	buf := make([]byte, v.chunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify compares the file digest to expected, ignoring case.
func (v *Verifier) Verify(ctx context.Context, path, expected string) error {
	sum, err := v.Digest(ctx, path)
	if err != nil {
		return err
	}

	if !strings.EqualFold(sum, strings.TrimSpace(expected)) {
		return &domain.VerificationError{Path: path, Expected: strings.ToLower(expected), Actual: sum}
	}
	return nil
}
