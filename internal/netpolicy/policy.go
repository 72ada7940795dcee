package netpolicy

import (
	"context"
	"net"
	"time"

	"github.com/datallboy/packman/internal/domain"
)

// Link describes the current network link.
type Link interface {
	Reachable(ctx context.Context) bool
	Metered() bool
}

// Policy decides whether a pack may be downloaded right now.
type Policy struct {
	link  Link
	prefs domain.DownloadPreferences
}

func New(link Link, prefs domain.DownloadPreferences) *Policy {
	return &Policy{link: link, prefs: prefs}
}

// Available is false when the link is down, when Wi-Fi only is set and the
// link is metered, or when a large pack would go over a metered link without
// the user allowing it.
func (p *Policy) Available(ctx context.Context, pack domain.ContentPack) bool {
	if !p.link.Reachable(ctx) {
		return false
	}
	if !p.link.Metered() {
		return true
	}
	if p.prefs.WiFiOnly {
		return false
	}

	large := p.prefs.LargeDownloadThreshold > 0 && pack.SizeBytes > p.prefs.LargeDownloadThreshold
	return !large || p.prefs.AllowLargeDownloads
}

// TCPProbe treats the link as up when Addr accepts a TCP connection. An empty
// Addr is always reachable.
type TCPProbe struct {
	Addr      string
	Timeout   time.Duration
	IsMetered bool
}

func (t TCPProbe) Reachable(ctx context.Context) bool {
	if t.Addr == "" {
		return true
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (t TCPProbe) Metered() bool {
	return t.IsMetered
}
