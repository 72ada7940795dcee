package diskspace

import (
	"context"
	"fmt"
	"math"

	"github.com/datallboy/packman/internal/domain"
	"github.com/shirou/gopsutil/v3/disk"
)

// RequiredForDownload is the free space a fresh download needs: the temp file
// plus the staged copy, 2 x size. ok is false when the size is not positive or
// doubling would overflow.
func RequiredForDownload(size int64) (int64, bool) {
	if size <= 0 || size > math.MaxInt64/2 {
		return 0, false
	}
	return size * 2, true
}

// RequiredForResume covers re-downloading the remainder while the partial file
// still occupies space: total + (total - held). held is clamped to [0, total].
func RequiredForResume(total, held int64) (int64, bool) {
	if total <= 0 {
		return 0, false
	}
	if held < 0 {
		held = 0
	}
	if held > total {
		held = total
	}

	remaining := total - held
	if total > math.MaxInt64-remaining {
		return 0, false
	}
	return total + remaining, true
}

// RequiredForInstall is the staged copy alone.
func RequiredForInstall(size int64) (int64, bool) {
	if size <= 0 {
		return 0, false
	}
	return size, true
}

// Stats reports free bytes for the filesystem holding path.
type Stats interface {
	FreeBytes(ctx context.Context, path string) (uint64, error)
}

// DiskStats asks the operating system through gopsutil.
type DiskStats struct{}

func (DiskStats) FreeBytes(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("disk usage for %s: %w", path, err)
	}
	return usage.Free, nil
}

type Guard struct {
	stats Stats
	path  string
}

func NewGuard(stats Stats, path string) *Guard {
	return &Guard{stats: stats, path: path}
}

// Ensure fails with domain.ErrInsufficientStorage when the requirement could not
// be computed or exceeds the free space.
func (g *Guard) Ensure(ctx context.Context, required int64, ok bool) error {
	if !ok || required < 0 {
		return fmt.Errorf("%w: required size overflows", domain.ErrInsufficientStorage)
	}

	free, err := g.stats.FreeBytes(ctx, g.path)
	if err != nil {
		return err
	}

	if uint64(required) > free {
		return fmt.Errorf("%w: need %d bytes, %d free", domain.ErrInsufficientStorage, required, free)
	}
	return nil
}
