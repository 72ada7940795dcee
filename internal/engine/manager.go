package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/datallboy/packman/internal/diskspace"
	"github.com/datallboy/packman/internal/domain"
	"github.com/datallboy/packman/internal/infra/logger"
	"github.com/samber/lo"
)

// Manager is the pack download orchestrator. Every public operation is safe
// for concurrent callers; operations on one pack id are applied one at a time
// in arrival order.
type Manager struct {
	mu      sync.RWMutex
	catalog map[string]domain.ContentPack
	order   []string

	store    *StateStore
	sessions *SessionManager
	intents  *intentLocks
	parts    *PartFiles

	fetcher   Fetcher
	verifier  Verifier
	installer Installer
	space     SpaceGuard
	network   NetworkPolicy
	journal   Journal
	clock     domain.Clock
	log       *logger.Logger
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(deps Deps) *Manager {
	clock := deps.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}

	store := NewStateStore()
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		store:     store,
		sessions:  NewSessionManager(store, clock),
		intents:   newIntentLocks(),
		parts:     deps.Parts,
		fetcher:   deps.Fetcher,
		verifier:  deps.Verifier,
		installer: deps.Installer,
		space:     deps.Space,
		network:   deps.Network,
		journal:   deps.Journal,
		clock:     clock,
		log:       log,
		opts:      deps.Options.withDefaults(),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.SetCatalog(deps.Catalog)

	return m
}

// SetCatalog replaces the known packs. States of packs that left the catalog
// are kept but no longer listed.
func (m *Manager) SetCatalog(packs []domain.ContentPack) {
	packs = lo.UniqBy(packs, func(p domain.ContentPack) string { return p.ID })

	m.mu.Lock()
	defer m.mu.Unlock()

	m.catalog = lo.KeyBy(packs, func(p domain.ContentPack) string { return p.ID })
	m.order = lo.Map(packs, func(p domain.ContentPack, _ int) string { return p.ID })
}

// AvailablePacks returns the catalog in its original order.
func (m *Manager) AvailablePacks() []domain.ContentPack {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return lo.Map(m.order, func(id string, _ int) domain.ContentPack { return m.catalog[id] })
}

func (m *Manager) lookup(id string) (domain.ContentPack, error) {
	m.mu.RLock()
	pack, ok := m.catalog[id]
	m.mu.RUnlock()

	if !ok {
		return domain.ContentPack{}, domain.NewPackError(id, domain.ErrPackNotFound, nil)
	}
	return pack, nil
}

// States returns the state of every catalog pack.
func (m *Manager) States() map[string]domain.PackState {
	m.mu.RLock()
	ids := append([]string(nil), m.order...)
	m.mu.RUnlock()

	if len(ids) == 0 {
		return map[string]domain.PackState{}
	}
	return m.store.Snapshot(ids...)
}

func (m *Manager) State(id string) (domain.PackState, error) {
	if _, err := m.lookup(id); err != nil {
		return domain.PackState{}, err
	}
	return m.store.Get(id), nil
}

// Subscribe streams state changes until the returned func is called or the
// manager is closed.
func (m *Manager) Subscribe(buffer int) (<-chan domain.PackState, func()) {
	return m.store.Subscribe(buffer)
}

// Start begins a download of id, reusing any bytes already in its temp file.
func (m *Manager) Start(ctx context.Context, id string) (*Download, error) {
	unlock, err := m.intents.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return m.start(ctx, id)
}

func (m *Manager) start(ctx context.Context, id string) (*Download, error) {
	pack, err := m.admissible(id)
	if err != nil {
		return nil, err
	}

	held, err := m.heldBytes(pack)
	if err != nil {
		return nil, err
	}

	if held == pack.SizeBytes {
		// Complete temp file: straight to verify/install, only the staged copy needs room
		need, ok := diskspace.RequiredForInstall(pack.SizeBytes)
		if err := m.space.Ensure(ctx, need, ok); err != nil {
			return nil, packErr(id, err)
		}
		return m.launch(pack, held)
	}

	if !m.network.Available(ctx, pack) {
		return nil, domain.NewPackError(id, domain.ErrNetworkUnavailable, nil)
	}
	need, ok := diskspace.RequiredForDownload(pack.SizeBytes)
	if err := m.space.Ensure(ctx, need, ok); err != nil {
		return nil, packErr(id, err)
	}

	return m.launch(pack, held)
}

// Resume continues a paused or interrupted download from the bytes on disk.
// With nothing to resume it behaves as Start.
func (m *Manager) Resume(ctx context.Context, id string) (*Download, error) {
	unlock, err := m.intents.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	pack, err := m.admissible(id)
	if err != nil {
		return nil, err
	}

	held, err := m.heldBytes(pack)
	if err != nil {
		return nil, err
	}

	// The on-disk size is the only resume offset; a paused state with an empty
	// temp file has nothing to resume.
	if held == 0 || held == pack.SizeBytes {
		return m.start(ctx, id)
	}

	if !m.network.Available(ctx, pack) {
		return nil, domain.NewPackError(id, domain.ErrNetworkUnavailable, nil)
	}
	need, ok := diskspace.RequiredForResume(pack.SizeBytes, held)
	if err := m.space.Ensure(ctx, need, ok); err != nil {
		return nil, packErr(id, err)
	}

	return m.launch(pack, held)
}

// admissible runs the synchronous preconditions shared by start and resume.
func (m *Manager) admissible(id string) (domain.ContentPack, error) {
	pack, err := m.lookup(id)
	if err != nil {
		return pack, err
	}

	if pack.SizeBytes <= 0 {
		return pack, domain.NewPackError(id, domain.ErrInvalidPackSize, fmt.Errorf("declared size %d", pack.SizeBytes))
	}
	if !pack.ValidTarget() {
		return pack, domain.NewPackError(id, domain.ErrInvalidDownloadTarget, fmt.Errorf("cannot download %q into %q", pack.DownloadURL, pack.ID))
	}
	if m.sessions.Active(id) != nil {
		return pack, domain.NewPackError(id, domain.ErrAlreadyInProgress, nil)
	}

	return pack, nil
}

// heldBytes is the size of the temp file. A temp file larger than the
// declared size cannot belong to this version and is discarded.
func (m *Manager) heldBytes(pack domain.ContentPack) (int64, error) {
	held, err := m.parts.Size(pack.ID)
	if err != nil {
		return 0, packErr(pack.ID, err)
	}

	if held > pack.SizeBytes {
		m.log.Warn("[%s] temp file holds %d bytes, more than the declared %d; discarding", pack.ID, held, pack.SizeBytes)
		if err := m.parts.Remove(pack.ID); err != nil {
			return 0, packErr(pack.ID, err)
		}
		return 0, nil
	}

	return held, nil
}

func (m *Manager) launch(pack domain.ContentPack, held int64) (*Download, error) {
	s, prior, err := m.sessions.Begin(m.ctx, pack.ID, func(st *domain.PackState) {
		st.Status = domain.StatusDownloading
		st.ErrorMessage = ""
		st.SetProgress(held, pack.SizeBytes)
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("[%s] session %s started at offset %d/%d", pack.ID, s.ID, held, pack.SizeBytes)

	m.wg.Add(1)
	go m.run(s, pack, prior)

	return &Download{session: s}, nil
}

// Pause stops the live transfer of id and keeps the bytes it wrote.
func (m *Manager) Pause(ctx context.Context, id string) (domain.PackState, error) {
	unlock, err := m.intents.lock(ctx, id)
	if err != nil {
		return domain.PackState{}, err
	}
	defer unlock()

	pack, err := m.lookup(id)
	if err != nil {
		return domain.PackState{}, err
	}

	s := m.sessions.Drain(id, domain.OutcomePaused)
	if s == nil {
		cur := m.store.Get(id)
		if cur.Status != domain.StatusDownloading {
			return cur, nil
		}
	}

	if !m.parts.Exists(id) {
		// The drained session got past the transfer; disk says what happened
		return m.settle(pack), nil
	}

	held, err := m.parts.Size(id)
	if err != nil {
		return m.store.Get(id), packErr(id, err)
	}

	st := m.store.Update(id, func(st *domain.PackState) {
		total := st.TotalBytes
		if total <= 0 {
			total = pack.SizeBytes
		}
		st.Status = domain.StatusPaused
		st.ErrorMessage = ""
		st.SetProgress(held, total)
	})

	m.log.Info("[%s] paused at %d/%d", id, st.DownloadedBytes, st.TotalBytes)
	return st, nil
}

// Cancel stops the live transfer, discards its bytes and falls back to
// whatever is installed.
func (m *Manager) Cancel(ctx context.Context, id string) (domain.PackState, error) {
	unlock, err := m.intents.lock(ctx, id)
	if err != nil {
		return domain.PackState{}, err
	}
	defer unlock()

	pack, err := m.lookup(id)
	if err != nil {
		return domain.PackState{}, err
	}

	m.sessions.Drain(id, domain.OutcomeCancelled)

	if err := m.parts.Remove(id); err != nil {
		return m.store.Get(id), packErr(id, err)
	}

	st := m.settle(pack)
	m.log.Info("[%s] cancelled, now %s", id, st.Status)
	return st, nil
}

// Remove deletes everything on disk for id and forgets it. It wins over any
// transfer or install that was running when it was called.
func (m *Manager) Remove(ctx context.Context, id string) (domain.PackState, error) {
	unlock, err := m.intents.lock(ctx, id)
	if err != nil {
		return domain.PackState{}, err
	}
	defer unlock()

	if _, err := m.lookup(id); err != nil {
		return domain.PackState{}, err
	}

	m.sessions.Drain(id, domain.OutcomeRemoved)

	errs := errors.Join(m.parts.Remove(id), m.installer.Remove(id))

	st := m.store.Update(id, func(st *domain.PackState) {
		st.Reset()
	})

	if errs != nil {
		m.log.Error("[%s] remove left artifacts behind: %v", id, errs)
		return st, packErr(id, errs)
	}

	m.log.Info("[%s] removed", id)
	return st, nil
}

// CheckForUpdates flags every installed pack whose catalog version moved on.
// Packs with a live session are left alone. When ctx ends first it returns
// the packs flagged so far along with the context error.
func (m *Manager) CheckForUpdates(ctx context.Context) ([]domain.PackState, error) {
	var changed []domain.PackState

	for _, pack := range m.AvailablePacks() {
		st, ok, err := m.flagUpdate(ctx, pack)
		if err != nil {
			m.log.Warn("update check stopped at %s after %d packs: %v", pack.ID, len(changed), err)
			return changed, err
		}
		if ok {
			changed = append(changed, st)
		}
	}

	return changed, nil
}

func (m *Manager) flagUpdate(ctx context.Context, pack domain.ContentPack) (domain.PackState, bool, error) {
	unlock, err := m.intents.lock(ctx, pack.ID)
	if err != nil {
		return domain.PackState{}, false, err
	}
	defer unlock()

	cur := m.store.Get(pack.ID)
	if cur.InstalledVersion == "" || cur.InstalledVersion == pack.Version {
		return cur, false, nil
	}
	if m.sessions.Active(pack.ID) != nil {
		return cur, false, nil
	}

	if cur.Status == domain.StatusPaused {
		if err := m.parts.Remove(pack.ID); err != nil {
			m.log.Warn("[%s] could not discard stale temp file: %v", pack.ID, err)
		}
	}

	st, ok := m.store.UpdateIf(pack.ID, func(ss *storeState) bool {
		return ss.sessions[pack.ID] == nil
	}, func(st *domain.PackState) {
		st.Status = domain.StatusUpdateAvailable
		st.ErrorMessage = ""
		st.SetProgress(0, pack.SizeBytes)
	})

	if ok {
		m.log.Info("[%s] update available: %s -> %s", pack.ID, st.InstalledVersion, pack.Version)
	}
	return st, ok, nil
}

// Reconcile rebuilds the state of every catalog pack from disk. Packs with a
// live session are skipped.
func (m *Manager) Reconcile(ctx context.Context) error {
	for _, pack := range m.AvailablePacks() {
		unlock, err := m.intents.lock(ctx, pack.ID)
		if err != nil {
			return err
		}

		if m.sessions.Active(pack.ID) == nil {
			m.settle(pack)
		}
		unlock()
	}
	return nil
}

// settle replaces the state of pack with what disk says, keeping the in-memory
// install fields when the manifest exists but cannot be read.
func (m *Manager) settle(pack domain.ContentPack) domain.PackState {
	cur := m.store.Get(pack.ID)
	next := m.diskState(pack, cur)

	return m.store.Update(pack.ID, func(st *domain.PackState) {
		*st = next
	})
}

func (m *Manager) diskState(pack domain.ContentPack, cur domain.PackState) domain.PackState {
	st := domain.NewPackState(pack.ID)

	mf, err := m.installer.ReadManifest(pack.ID)
	switch {
	case err == nil:
		st.ApplyManifest(mf, pack.Version)
		st.SetProgress(installedProgress(st.Status, pack.SizeBytes))
	case errors.Is(err, fs.ErrNotExist):
	case cur.InstalledVersion != "":
		m.log.Warn("[%s] unreadable manifest, keeping last known install: %v", pack.ID, err)
		restoreInstalled(&st, cur, pack)
	default:
		m.log.Error("[%s] unreadable manifest: %v", pack.ID, err)
		st.Status = domain.StatusFailed
		st.ErrorMessage = err.Error()
	}

	held, present, err := m.parts.Held(pack.ID)
	switch {
	case err != nil:
		m.log.Error("[%s] cannot inspect temp file: %v", pack.ID, err)
		if st.InstalledVersion == "" {
			st.Status = domain.StatusFailed
			st.ErrorMessage = err.Error()
		}
	case present:
		st.Status = domain.StatusPaused
		st.ErrorMessage = ""
		st.SetProgress(held, pack.SizeBytes)
	}

	return st
}

// priorInstall reconstructs the state a failed attempt should fall back to.
// ok is false when nothing was installed before.
func (m *Manager) priorInstall(pack domain.ContentPack, prior domain.PackState) (domain.PackState, bool) {
	mf, err := m.installer.ReadManifest(pack.ID)
	if err == nil {
		st := prior.Clone()
		st.ApplyManifest(mf, pack.Version)
		if prior.Status != domain.StatusInstalled && prior.Status != domain.StatusUpdateAvailable {
			st.SetProgress(installedProgress(st.Status, pack.SizeBytes))
		}
		return st, true
	}

	if errors.Is(err, fs.ErrNotExist) || prior.InstalledVersion == "" {
		return domain.PackState{}, false
	}

	m.log.Warn("[%s] unreadable manifest, restoring pre-attempt install: %v", pack.ID, err)
	st := domain.NewPackState(pack.ID)
	restoreInstalled(&st, prior, pack)
	return st, true
}

func restoreInstalled(st *domain.PackState, from domain.PackState, pack domain.ContentPack) {
	st.ApplyManifest(domain.InstalledManifest{ID: pack.ID, Version: from.InstalledVersion}, pack.Version)
	st.InstalledAt = nil
	if from.InstalledAt != nil {
		at := *from.InstalledAt
		st.InstalledAt = &at
	}

	if from.Status == domain.StatusInstalled || from.Status == domain.StatusUpdateAvailable {
		st.SetProgress(from.DownloadedBytes, from.TotalBytes)
		return
	}
	st.SetProgress(installedProgress(st.Status, pack.SizeBytes))
}

// installedProgress is the byte counters shown for an installed pack: full
// for the current version, zero of the new size when an update is pending.
func installedProgress(status domain.PackStatus, size int64) (int64, int64) {
	if status == domain.StatusInstalled {
		return size, size
	}
	return 0, size
}

// Close stops every session, leaving interrupted packs paused, and shuts the
// state store down.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
	m.parts.CloseAll()
	m.store.Close()
}

func packErr(id string, err error) error {
	var pe *domain.PackError
	if errors.As(err, &pe) {
		return err
	}
	return domain.NewPackError(id, domain.KindOf(err), err)
}
