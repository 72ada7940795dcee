package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/datallboy/packman/internal/diskspace"
	"github.com/datallboy/packman/internal/domain"
	"github.com/datallboy/packman/internal/installer"
	"github.com/datallboy/packman/internal/verify"
	"github.com/stretchr/testify/require"
)

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func makePayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

// fakeFetcher serves an in-memory payload and records every requested offset.
type fakeFetcher struct {
	mu          sync.Mutex
	payload     []byte
	offsets     []int64
	ignoreRange bool
	failures    int
	stallAt     int64
	cancelAt    int64
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, offset int64) (*domain.FetchResponse, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	body := &fakeBody{
		ctx:      ctx,
		payload:  f.payload,
		pos:      offset,
		stallAt:  f.stallAt,
		cancelAt: f.cancelAt,
	}
	partial := !f.ignoreRange
	f.mu.Unlock()

	if fail {
		return nil, errors.New("connection reset by peer")
	}
	if !partial {
		body.pos = 0
	}

	return &domain.FetchResponse{
		Body:    body,
		Partial: partial,
		Length:  int64(len(body.payload)) - body.pos,
	}, nil
}

func (f *fakeFetcher) set(fn func(f *fakeFetcher)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeFetcher) requested() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.offsets...)
}

// fakeBody blocks at stallAt until the context ends, or fails with
// context.Canceled at cancelAt as a transport would.
type fakeBody struct {
	ctx      context.Context
	payload  []byte
	pos      int64
	stallAt  int64
	cancelAt int64
}

func (b *fakeBody) Read(p []byte) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	if b.stallAt > 0 && b.pos >= b.stallAt {
		<-b.ctx.Done()
		return 0, b.ctx.Err()
	}
	if b.cancelAt > 0 && b.pos >= b.cancelAt {
		return 0, context.Canceled
	}

	end := int64(len(b.payload))
	if b.stallAt > 0 && b.stallAt < end {
		end = b.stallAt
	}
	if b.cancelAt > 0 && b.cancelAt < end {
		end = b.cancelAt
	}
	if b.pos >= end {
		return 0, io.EOF
	}

	n := copy(p, b.payload[b.pos:end])
	b.pos += int64(n)
	return n, nil
}

func (b *fakeBody) Close() error { return nil }

type fakeNetwork struct {
	down atomic.Bool
}

func (n *fakeNetwork) Available(ctx context.Context, pack domain.ContentPack) bool {
	return !n.down.Load()
}

type fakeStats struct {
	free atomic.Uint64
}

func (s *fakeStats) FreeBytes(ctx context.Context, path string) (uint64, error) {
	return s.free.Load(), nil
}

type fakeJournal struct {
	mu      sync.Mutex
	records []domain.SessionRecord
}

func (j *fakeJournal) RecordSession(ctx context.Context, rec domain.SessionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

func (j *fakeJournal) outcomes() []domain.SessionOutcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]domain.SessionOutcome, 0, len(j.records))
	for _, r := range j.records {
		out = append(out, r.Outcome)
	}
	return out
}

// hookVerifier runs before on the temp file, then verifies for real.
type hookVerifier struct {
	*verify.Verifier
	before func(path string)
}

func (v *hookVerifier) Verify(ctx context.Context, path, expected string) error {
	if v.before != nil {
		v.before(path)
	}
	return v.Verifier.Verify(ctx, path, expected)
}

// hookInstaller runs before ahead of the real install. With ignoreCancel the
// install completes even after the session was cancelled.
type hookInstaller struct {
	*installer.Installer
	before       func(ctx context.Context) error
	ignoreCancel bool
}

func (i *hookInstaller) Install(ctx context.Context, pack domain.ContentPack, payloadPath string) (domain.InstalledManifest, error) {
	if i.before != nil {
		if err := i.before(ctx); err != nil {
			return domain.InstalledManifest{}, err
		}
	}
	if i.ignoreCancel {
		ctx = context.Background()
	}
	return i.Installer.Install(ctx, pack, payloadPath)
}

type harness struct {
	t        *testing.T
	dir      string
	payload  []byte
	pack     domain.ContentPack
	fetcher  *fakeFetcher
	network  *fakeNetwork
	stats    *fakeStats
	journal  *fakeJournal
	verifier *hookVerifier
	inst     *hookInstaller
	parts    *PartFiles
	m        *Manager
}

func newHarness(t *testing.T, size int) *harness {
	t.Helper()

	dir := t.TempDir()
	payload := makePayload(size)

	h := &harness{
		t:        t,
		dir:      dir,
		payload:  payload,
		fetcher:  &fakeFetcher{payload: payload},
		network:  &fakeNetwork{},
		stats:    &fakeStats{},
		journal:  &fakeJournal{},
		verifier: &hookVerifier{Verifier: verify.New()},
		inst: &hookInstaller{
			Installer: installer.New(filepath.Join(dir, "packs"), filepath.Join(dir, "staging"), nil),
		},
		parts: NewPartFiles(filepath.Join(dir, "tmp")),
		pack: domain.ContentPack{
			ID:          "p",
			Type:        domain.PackTypeMap,
			DisplayName: "Test pack",
			Version:     "1.0",
			SizeBytes:   int64(size),
			SHA256:      digest(payload),
			DownloadURL: "https://cdn.example.com/packs/p.bin",
		},
	}
	h.stats.free.Store(1 << 40)
	h.m = h.newManager(h.pack)

	return h
}

func (h *harness) newManager(catalog ...domain.ContentPack) *Manager {
	m := NewManager(Deps{
		Catalog:   catalog,
		Fetcher:   h.fetcher,
		Verifier:  h.verifier,
		Installer: h.inst,
		Space:     diskspace.NewGuard(h.stats, h.dir),
		Network:   h.network,
		Parts:     h.parts,
		Journal:   h.journal,
		Options: Options{
			Retries:          2,
			Backoff:          time.Millisecond,
			ProgressInterval: time.Nanosecond,
			ChunkSize:        64,
		},
	})
	h.t.Cleanup(m.Close)
	return m
}

// installVersion puts a real install of version on disk, as an earlier run
// would have left it.
func (h *harness) installVersion(version string) domain.InstalledManifest {
	h.t.Helper()

	old := h.pack
	old.Version = version
	src := filepath.Join(h.dir, "old-payload")
	writeFile(h.t, src, []byte("previous version"))

	m, err := h.inst.Installer.Install(context.Background(), old, src)
	require.NoError(h.t, err)
	return m
}

func (h *harness) waitFor(cond func(domain.PackState) bool) domain.PackState {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return cond(h.m.store.Get(h.pack.ID))
	}, 5*time.Second, 2*time.Millisecond)
	return h.m.store.Get(h.pack.ID)
}

func (h *harness) wait(d *Download) (domain.PackState, error) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.Wait(ctx)
}
