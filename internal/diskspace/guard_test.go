package diskspace

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/datallboy/packman/internal/domain"
	"github.com/stretchr/testify/require"
)

type fixedStats struct {
	free uint64
	err  error
}

func (f fixedStats) FreeBytes(context.Context, string) (uint64, error) {
	return f.free, f.err
}

func TestRequiredForDownload(t *testing.T) {
	req := require.New(t)

	n, ok := RequiredForDownload(2048)
	req.True(ok)
	req.Equal(int64(4096), n)

	_, ok = RequiredForDownload(0)
	req.False(ok)

	_, ok = RequiredForDownload(-1)
	req.False(ok)

	n, ok = RequiredForDownload(math.MaxInt64 / 2)
	req.True(ok)
	req.Equal(int64(math.MaxInt64-1), n)

	_, ok = RequiredForDownload(math.MaxInt64/2 + 1)
	req.False(ok, "doubling must not wrap")
}

func TestRequiredForResume(t *testing.T) {
	tests := []struct {
		name        string
		total, held int64
		want        int64
		ok          bool
	}{
		{"nothing held", 100, 0, 200, true},
		{"half held", 100, 50, 150, true},
		{"all held", 100, 100, 100, true},
		{"held beyond total is clamped", 100, 500, 100, true},
		{"negative held is clamped", 100, -5, 200, true},
		{"zero total", 0, 0, 0, false},
		{"overflow", math.MaxInt64, 0, 0, false},
		{"large but fits", math.MaxInt64 - 10, math.MaxInt64 - 20, math.MaxInt64, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RequiredForResume(tt.total, tt.held)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				require.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRequiredForInstall(t *testing.T) {
	n, ok := RequiredForInstall(10)
	require.True(t, ok)
	require.Equal(t, int64(10), n)

	_, ok = RequiredForInstall(0)
	require.False(t, ok)
}

func TestGuard_Ensure(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	g := NewGuard(fixedStats{free: 1000}, "/data")
	req.NoError(g.Ensure(ctx, 1000, true))

	err := g.Ensure(ctx, 1001, true)
	req.ErrorIs(err, domain.ErrInsufficientStorage)

	err = g.Ensure(ctx, 0, false)
	req.ErrorIs(err, domain.ErrInsufficientStorage)

	boom := errors.New("statfs failed")
	err = NewGuard(fixedStats{err: boom}, "/data").Ensure(ctx, 1, true)
	req.ErrorIs(err, boom)
	req.NotErrorIs(err, domain.ErrInsufficientStorage)
}

func TestDiskStats_TempDir(t *testing.T) {
	free, err := DiskStats{}.FreeBytes(context.Background(), t.TempDir())
	require.NoError(t, err)
	require.Greater(t, free, uint64(0))
}
