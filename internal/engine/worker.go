package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/datallboy/packman/internal/domain"
)

// permanentError marks a failure that retrying the fetch cannot fix, such as
// a failed write to the temp file.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// retryable reports whether another fetch attempt could succeed. Errors that
// know better say so through a Retryable method.
func retryable(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// transferKind picks the taxonomy kind for a transfer that gave up.
func transferKind(err error) error {
	var perm *permanentError
	if errors.As(err, &perm) {
		return domain.ErrUnknown
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) && !r.Retryable() {
		return domain.ErrInvalidDownloadTarget
	}
	return domain.ErrNetworkUnavailable
}

// cancelled distinguishes an interrupted session from a genuine fault. A
// transport reporting context.Canceled on its own counts as an interruption.
func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// run drives one session from transfer to install. Only commits made through
// s can change the pack's state, and they stop applying once s is fenced.
func (m *Manager) run(s *Session, pack domain.ContentPack, prior domain.PackState) {
	defer m.wg.Done()

	outcome, err := m.execute(s, pack, prior)

	if cerr := m.parts.CloseFile(pack.ID); cerr != nil {
		m.log.Warn("[%s] closing temp file: %v", pack.ID, cerr)
	}

	if as, ok := m.sessions.Superseded(s); ok {
		// An install that landed before a pause or cancel still counts
		if outcome != domain.OutcomeInstalled || as == domain.OutcomeRemoved {
			outcome = as
		}
	}

	bytes := pack.SizeBytes
	if outcome != domain.OutcomeInstalled {
		bytes, _ = m.parts.Size(pack.ID)
	}
	m.record(s, pack, outcome, bytes, err)

	switch {
	case outcome == domain.OutcomeFenced:
		m.log.Info("[%s] session %s superseded", pack.ID, s.ID)
	case outcome == domain.OutcomeCancelled, outcome == domain.OutcomeRemoved:
		m.log.Info("[%s] session %s stopped: %s", pack.ID, s.ID, outcome)
	case err != nil:
		m.log.Error("[%s] session %s %s: %v", pack.ID, s.ID, outcome, err)
	default:
		m.log.Info("[%s] session %s %s", pack.ID, s.ID, outcome)
	}

	s.result = m.store.Get(pack.ID)
	s.err = err

	m.sessions.End(s)
	s.cancel()
	close(s.done)
}

func (m *Manager) execute(s *Session, pack domain.ContentPack, prior domain.PackState) (domain.SessionOutcome, error) {
	id := pack.ID
	path := m.parts.Path(id)

	if err := m.transfer(s, pack); err != nil {
		if cancelled(s.ctx, err) {
			m.commitPaused(s, pack)
			return domain.OutcomePaused, nil
		}
		err = domain.NewPackError(id, transferKind(err), err)
		m.commitFailure(s, pack, prior, err)
		return domain.OutcomeFailed, err
	}

	if err := m.parts.CloseFile(id); err != nil {
		err = domain.NewPackError(id, domain.ErrUnknown, err)
		m.commitFailure(s, pack, prior, err)
		return domain.OutcomeFailed, err
	}

	s.commit(func(st *domain.PackState) {
		st.Status = domain.StatusVerifying
		st.SetProgress(pack.SizeBytes, pack.SizeBytes)
	})

	if err := m.verifier.Verify(s.ctx, path, pack.SHA256); err != nil {
		if cancelled(s.ctx, err) {
			m.commitPaused(s, pack)
			return domain.OutcomePaused, nil
		}
		if !errors.Is(err, domain.ErrVerificationFailed) {
			err = domain.NewPackError(id, domain.ErrUnknown, err)
			m.commitFailure(s, pack, prior, err)
			return domain.OutcomeFailed, err
		}

		// Corrupt bytes are never worth resuming from
		if rmErr := m.parts.Remove(id); rmErr != nil {
			m.log.Warn("[%s] could not delete corrupt temp file: %v", id, rmErr)
		}
		err = domain.NewPackError(id, domain.ErrVerificationFailed, err)
		m.commitFailure(s, pack, prior, err)
		return domain.OutcomeFailed, err
	}

	s.commit(func(st *domain.PackState) {
		st.Status = domain.StatusInstalling
	})

	manifest, err := m.installer.Install(s.ctx, pack, path)
	if err != nil {
		if cancelled(s.ctx, err) {
			m.commitPaused(s, pack)
			return domain.OutcomePaused, nil
		}
		// The verified temp file stays, so a retry skips the network
		err = domain.NewPackError(id, domain.ErrInstallationFailed, err)
		m.commitFailure(s, pack, prior, err)
		return domain.OutcomeFailed, err
	}

	if err := m.parts.Remove(id); err != nil {
		m.log.Warn("[%s] installed but could not delete temp file: %v", id, err)
	}

	s.commit(func(st *domain.PackState) {
		st.ApplyManifest(manifest, pack.Version)
		st.SetProgress(pack.SizeBytes, pack.SizeBytes)
	})

	return domain.OutcomeInstalled, nil
}

// transfer fills the temp file up to the declared size, resuming from the
// bytes on disk and retrying transport faults with exponential backoff.
func (m *Manager) transfer(s *Session, pack domain.ContentPack) error {
	for attempt := 0; ; attempt++ {
		offset, err := m.parts.Size(pack.ID)
		if err != nil {
			return &permanentError{err: err}
		}
		if offset >= pack.SizeBytes {
			return nil
		}

		err = m.fetchRange(s, pack, offset)
		if err == nil {
			return nil
		}
		if cancelled(s.ctx, err) {
			return err
		}
		if !retryable(err) || attempt >= m.opts.Retries {
			return err
		}

		// Backoff: base, 2x base, 4x base...
		delay := time.Duration(math.Pow(2, float64(attempt))) * m.opts.Backoff
		m.log.Warn("[%s] attempt %d/%d failed: %v, retrying in %s", pack.ID, attempt+1, m.opts.Retries+1, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-s.ctx.Done():
			timer.Stop()
			return s.ctx.Err()
		}
	}
}

// fetchRange requests the payload from offset and appends it to the temp
// file. It returns io.ErrUnexpectedEOF when the body ends early.
func (m *Manager) fetchRange(s *Session, pack domain.ContentPack, offset int64) error {
	resp, err := m.fetcher.Fetch(s.ctx, pack.DownloadURL, offset)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if offset > 0 && !resp.Partial {
		m.log.Warn("[%s] server ignored range from %d, restarting at 0", pack.ID, offset)
		if err := m.parts.Truncate(pack.ID, 0); err != nil {
			return &permanentError{err: fmt.Errorf("truncate temp file: %w", err)}
		}
		offset = 0
		s.commit(func(st *domain.PackState) {
			st.Status = domain.StatusDownloading
			st.SetProgress(0, pack.SizeBytes)
		})
	}

	buf := make([]byte, m.opts.ChunkSize)
	lastEmit := time.Now()

	for offset < pack.SizeBytes {
		if err := s.ctx.Err(); err != nil {
			return err
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			// Anything past the declared size is dropped; the digest decides
			if remaining := pack.SizeBytes - offset; int64(n) > remaining {
				n = int(remaining)
			}
			if err := m.parts.WriteAt(pack.ID, buf[:n], offset); err != nil {
				return &permanentError{err: fmt.Errorf("write temp file: %w", err)}
			}
			offset += int64(n)

			if offset == pack.SizeBytes || time.Since(lastEmit) >= m.opts.ProgressInterval {
				written := offset
				s.commit(func(st *domain.PackState) {
					st.Status = domain.StatusDownloading
					st.SetProgress(written, pack.SizeBytes)
				})
				lastEmit = time.Now()
			}
		}

		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	if offset < pack.SizeBytes {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (m *Manager) commitPaused(s *Session, pack domain.ContentPack) {
	held, _ := m.parts.Size(pack.ID)
	s.commit(func(st *domain.PackState) {
		st.Status = domain.StatusPaused
		st.ErrorMessage = ""
		st.SetProgress(held, pack.SizeBytes)
	})
}

// commitFailure falls back to a prior install when there is one, otherwise
// marks the pack failed with whatever bytes are still on disk.
func (m *Manager) commitFailure(s *Session, pack domain.ContentPack, prior domain.PackState, err error) {
	if restored, ok := m.priorInstall(pack, prior); ok {
		s.commit(func(st *domain.PackState) {
			*st = restored
		})
		return
	}

	held, _ := m.parts.Size(pack.ID)
	msg := err.Error()
	var pe *domain.PackError
	if errors.As(err, &pe) {
		msg = pe.Message()
	}

	s.commit(func(st *domain.PackState) {
		st.Status = domain.StatusFailed
		st.ErrorMessage = msg
		st.SetProgress(held, pack.SizeBytes)
	})
}

func (m *Manager) record(s *Session, pack domain.ContentPack, outcome domain.SessionOutcome, bytes int64, err error) {
	if m.journal == nil {
		return
	}

	rec := domain.SessionRecord{
		SessionID: s.ID,
		PackID:    pack.ID,
		Version:   pack.Version,
		Outcome:   outcome,
		Bytes:     bytes,
		StartedAt: s.StartedAt,
		EndedAt:   m.clock.Now(),
	}
	if err != nil {
		rec.Error = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if jerr := m.journal.RecordSession(ctx, rec); jerr != nil {
		m.log.Warn("[%s] could not journal session %s: %v", pack.ID, s.ID, jerr)
	}
}
