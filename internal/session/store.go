package session

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"snapkeep/internal/fsutil"
	"snapkeep/internal/snapkeep"
)

// Store owns the process-wide active session and persists finalized
// sessions as <dir>/<id>.json.
type Store struct {
	dir    string
	clock  snapkeep.Clock
	ids    snapkeep.IDGenerator
	logger snapkeep.Logger

	mu        sync.Mutex
	activeID  string
	startedAt time.Time
}

var _ snapkeep.SessionStore = (*Store)(nil)

// NewStore creates a session store writing manifests under dir.
func NewStore(dir string, clock snapkeep.Clock, ids snapkeep.IDGenerator, logger snapkeep.Logger) (*Store, error) {
	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	if logger == nil {
		logger = snapkeep.NewNopLogger()
	}
	return &Store{dir: dir, clock: clock, ids: ids, logger: logger}, nil
}

// Start begins a session, or returns the active one so that a burst of
// file changes coalesces into a single session.
func (s *Store) Start() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID != "" {
		return s.activeID
	}
	s.startedAt = s.clock.Now()
	s.activeID = snapkeep.NewID(snapkeep.PrefixSession, s.startedAt, s.ids)
	s.logger.Debug("session started", "id", s.activeID)
	return s.activeID
}

// Active returns the ID of the active session, if any.
func (s *Store) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID, s.activeID != ""
}

// Finalize persists the active session and clears it. With no active
// session it writes nothing and reports FinalizeNothingActive. If the write
// fails the session stays active.
func (s *Store) Finalize(reason snapkeep.EndReason, files []snapkeep.SessionFile, opts snapkeep.FinalizeOptions) (*snapkeep.FinalizeResult, error) {
	if !reason.Valid() {
		return nil, fmt.Errorf("%w: %q", snapkeep.ErrInvalidReason, reason)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID == "" {
		s.logger.Debug("finalize with no active session", "reason", reason)
		return &snapkeep.FinalizeResult{Status: snapkeep.FinalizeNothingActive}, nil
	}

	if files == nil {
		files = []snapkeep.SessionFile{}
	}
	m := &snapkeep.SessionManifest{
		ID:        s.activeID,
		StartedAt: s.startedAt.UTC(),
		EndedAt:   s.clock.Now().UTC(),
		Reason:    reason,
		Files:     files,
		Tags:      opts.Tags,
		Summary:   opts.Summary,
	}
	if err := fsutil.WriteJSON(s.path(m.ID), m); err != nil {
		return nil, fmt.Errorf("writing session manifest: %w", err)
	}

	s.activeID = ""
	s.startedAt = time.Time{}
	s.logger.Debug("session finalized", "id", m.ID, "reason", reason, "files", len(files))
	return &snapkeep.FinalizeResult{Status: snapkeep.FinalizeDone, Manifest: m}, nil
}

// Cancel discards the active session without writing it.
func (s *Store) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID == "" {
		return false
	}
	s.logger.Debug("session cancelled", "id", s.activeID)
	s.activeID = ""
	s.startedAt = time.Time{}
	return true
}

// List returns finalized sessions newest first.
func (s *Store) List(filter snapkeep.SessionFilter) ([]*snapkeep.SessionManifest, error) {
	ids, err := snapkeep.ListIDs(s.dir, snapkeep.PrefixSession)
	if err != nil {
		return nil, err
	}

	var out []*snapkeep.SessionManifest
	for _, id := range ids {
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
		at := snapkeep.IDTime(id)
		if !filter.After.IsZero() && !at.After(filter.After) {
			continue
		}
		if !filter.Before.IsZero() && !at.Before(filter.Before) {
			continue
		}

		m, err := s.Get(id)
		if err != nil {
			s.logger.Warn("skipping unreadable session manifest", "id", id, "error", err)
			continue
		}
		if m == nil {
			continue
		}
		if filter.Reason != "" && m.Reason != filter.Reason {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Get returns the session with the given ID, or nil if there is none.
func (s *Store) Get(id string) (*snapkeep.SessionManifest, error) {
	if !snapkeep.ValidID(id, snapkeep.PrefixSession) {
		return nil, nil
	}
	var m snapkeep.SessionManifest
	found, err := fsutil.ReadJSON(s.path(id), &m)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", snapkeep.ErrUnreadableManifest, id, err)
	}
	if !found {
		return nil, nil
	}
	return &m, nil
}

// MostRecent returns the newest finalized session, or nil.
func (s *Store) MostRecent() (*snapkeep.SessionManifest, error) {
	list, err := s.List(snapkeep.SessionFilter{Limit: 1})
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

// TotalDuration sums the durations of all finalized sessions.
func (s *Store) TotalDuration() (time.Duration, error) {
	list, err := s.List(snapkeep.SessionFilter{})
	if err != nil {
		return 0, err
	}
	var total time.Duration
	for _, m := range list {
		total += m.Duration()
	}
	return total, nil
}

// Count returns the number of finalized sessions on disk.
func (s *Store) Count() (int, error) {
	ids, err := snapkeep.ListIDs(s.dir, snapkeep.PrefixSession)
	return len(ids), err
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, snapkeep.ManifestFile(id))
}
