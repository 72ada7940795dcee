package engine

import (
	"context"
	"time"

	"github.com/datallboy/packman/internal/domain"
	"github.com/datallboy/packman/internal/infra/logger"
)

// Fetcher is a resumable byte-range fetch. When offset > 0 the response may
// still start at zero, which FetchResponse.Partial reports.
type Fetcher interface {
	Fetch(ctx context.Context, url string, offset int64) (*domain.FetchResponse, error)
}

type Verifier interface {
	Verify(ctx context.Context, path, expected string) error
}

type Installer interface {
	Install(ctx context.Context, pack domain.ContentPack, payloadPath string) (domain.InstalledManifest, error)
	ReadManifest(id string) (domain.InstalledManifest, error)
	Remove(id string) error
}

type SpaceGuard interface {
	Ensure(ctx context.Context, required int64, ok bool) error
}

type NetworkPolicy interface {
	Available(ctx context.Context, pack domain.ContentPack) bool
}

// Journal records finished sessions. Failures are logged and otherwise ignored.
type Journal interface {
	RecordSession(ctx context.Context, rec domain.SessionRecord) error
}

type Options struct {
	Retries          int
	Backoff          time.Duration
	ProgressInterval time.Duration
	ChunkSize        int
}

func (o Options) withDefaults() Options {
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 250 * time.Millisecond
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 256 * 1024
	}
	return o
}

// Deps is everything a Manager needs. Journal, Clock and Logger are optional.
type Deps struct {
	Catalog   []domain.ContentPack
	Fetcher   Fetcher
	Verifier  Verifier
	Installer Installer
	Space     SpaceGuard
	Network   NetworkPolicy
	Parts     *PartFiles
	Journal   Journal
	Clock     domain.Clock
	Logger    *logger.Logger
	Options   Options
}

// Download is the caller's handle on a started or resumed transfer.
type Download struct {
	session *Session
}

func (d *Download) SessionID() string {
	return d.session.ID
}

func (d *Download) PackID() string {
	return d.session.PackID
}

// Done is closed once the session has finished.
func (d *Download) Done() <-chan struct{} {
	return d.session.done
}

// Wait blocks until the session finishes and returns the state it left the
// pack in, with the error that ended it. A superseded session reports the
// state at the moment it exited.
func (d *Download) Wait(ctx context.Context) (domain.PackState, error) {
	select {
	case <-d.session.done:
		return d.session.result, d.session.err
	case <-ctx.Done():
		return domain.PackState{}, ctx.Err()
	}
}
