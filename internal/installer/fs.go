package installer

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"
)

var errExchangeUnsupported = errors.New("atomic exchange not supported")

var bufferPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, 1024*1024)
	},
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// copyFile copies sourcePath to destPath and syncs it. The copy stops at the
// next chunk boundary once ctx is cancelled.
func copyFile(ctx context.Context, sourcePath, destPath string) error {
	src, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	buf := bufferPool.Get().([]byte)
	defer bufferPool.Put(buf)

	if _, err := io.CopyBuffer(dst, ctxReader{ctx: ctx, r: src}, buf); err != nil {
		return err
	}

	return dst.Sync()
}

// replaceDir puts staged at target. A plain rename when nothing is there yet,
// an atomic exchange where the platform has one, otherwise rename the old
// directory aside, move the new one in, and roll back on failure. After an
// exchange, staged holds the previous directory.
func replaceDir(staged, target string) error {
	if _, err := os.Lstat(target); errors.Is(err, fs.ErrNotExist) {
		return os.Rename(staged, target)
	}

	err := exchange(staged, target)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errExchangeUnsupported) {
		return err
	}

	aside := staged + ".old"
	if err := os.Rename(target, aside); err != nil {
		return err
	}

	if err := os.Rename(staged, target); err != nil {
		// Put the previous install back
		if rbErr := os.Rename(aside, target); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}

	return os.RemoveAll(aside)
}
