// Package audit implements the append-only audit log.
//
// All mutations of the log file go through a single writer goroutine, so the
// read-modify-write of an append never interleaves with another append or
// with rotation. Reads go straight to disk; every write replaces the file
// with an atomic rename, so a reader always sees a complete file.
package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"snapkeep/internal/fsutil"
	"snapkeep/internal/snapkeep"
)

const (
	// FileName is the name of the live log under the storage root.
	FileName = "audit.jsonl"

	archivePrefix = "audit-"
	archiveSuffix = ".jsonl.archive"
)

type job struct {
	run   func() error
	reply chan error
}

// Log is a line-delimited JSON audit log.
type Log struct {
	path   string
	clock  snapkeep.Clock
	ids    snapkeep.IDGenerator
	logger snapkeep.Logger

	mu     sync.RWMutex // guards closed and sends on queue
	closed bool
	queue  chan job
	done   chan struct{}
}

var _ snapkeep.AuditLog = (*Log)(nil)

// Open returns a Log writing to <dir>/audit.jsonl and starts its writer.
// The caller must Close it.
func Open(dir string, clock snapkeep.Clock, ids snapkeep.IDGenerator, logger snapkeep.Logger) (*Log, error) {
	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	if logger == nil {
		logger = snapkeep.NewNopLogger()
	}
	l := &Log{
		path:   filepath.Join(dir, FileName),
		clock:  clock,
		ids:    ids,
		logger: logger,
		queue:  make(chan job),
		done:   make(chan struct{}),
	}
	go l.writer()
	return l, nil
}

// Path returns the location of the live log file.
func (l *Log) Path() string {
	return l.path
}

func (l *Log) writer() {
	defer close(l.done)
	for j := range l.queue {
		j.reply <- j.run()
	}
}

// submit runs fn on the writer goroutine and waits for its result.
func (l *Log) submit(fn func() error) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return snapkeep.ErrClosed
	}
	reply := make(chan error, 1)
	l.queue <- job{run: fn, reply: reply}
	l.mu.RUnlock()
	return <-reply
}

// Close stops accepting writes, lets queued writes finish, and stops the writer.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return nil
}

// Append assigns an ID and timestamp to in and adds it to the end of the log.
// The ID and timestamp are assigned on the writer, so file order, timestamp
// order, and call completion order agree.
func (l *Log) Append(in snapkeep.AuditInput) (*snapkeep.AuditEntry, error) {
	if !in.Action.Valid() {
		return nil, fmt.Errorf("%w: %q", snapkeep.ErrInvalidAction, in.Action)
	}

	var entry *snapkeep.AuditEntry
	err := l.submit(func() error {
		now := l.clock.Now()
		e := &snapkeep.AuditEntry{
			ID:              snapkeep.NewID(snapkeep.PrefixAudit, now, l.ids),
			Timestamp:       now.UTC(),
			FilePath:        in.FilePath,
			ProtectionLevel: in.ProtectionLevel,
			Action:          in.Action,
			Details:         in.Details,
			SnapshotID:      in.SnapshotID,
		}
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encoding audit entry: %w", err)
		}

		current, err := os.ReadFile(l.path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reading audit log: %w", err)
		}
		if len(current) > 0 && current[len(current)-1] != '\n' {
			current = append(current, '\n')
		}
		next := make([]byte, 0, len(current)+len(line)+1)
		next = append(next, current...)
		next = append(next, line...)
		next = append(next, '\n')

		if err := fsutil.WriteFileAtomic(l.path, next); err != nil {
			return fmt.Errorf("writing audit log: %w", err)
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// All returns up to limit entries, newest first.
func (l *Log) All(limit int) ([]*snapkeep.AuditEntry, error) {
	return l.query(limit, func(*snapkeep.AuditEntry) bool { return true })
}

// ForFile returns entries recorded for path, newest first.
func (l *Log) ForFile(path string, limit int) ([]*snapkeep.AuditEntry, error) {
	return l.query(limit, func(e *snapkeep.AuditEntry) bool { return e.FilePath == path })
}

// ByAction returns entries with the given action, newest first.
func (l *Log) ByAction(action snapkeep.AuditAction, limit int) ([]*snapkeep.AuditEntry, error) {
	return l.query(limit, func(e *snapkeep.AuditEntry) bool { return e.Action == action })
}

// InRange returns entries strictly between after and before, newest first.
// A zero bound is open.
func (l *Log) InRange(after, before time.Time, limit int) ([]*snapkeep.AuditEntry, error) {
	return l.query(limit, func(e *snapkeep.AuditEntry) bool {
		if !after.IsZero() && !e.Timestamp.After(after) {
			return false
		}
		if !before.IsZero() && !e.Timestamp.Before(before) {
			return false
		}
		return true
	})
}

// Count returns the number of readable entries in the live log.
func (l *Log) Count() (int, error) {
	entries, err := l.query(0, func(*snapkeep.AuditEntry) bool { return true })
	return len(entries), err
}

// Size returns the size of the live log in bytes.
func (l *Log) Size() (int64, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("stat audit log: %w", err)
	}
	return info.Size(), nil
}

// RotateIfNeeded renames the live log to audit-<unixMillis>.jsonl.archive once
// it is larger than maxBytes. Archives are never merged or compacted.
func (l *Log) RotateIfNeeded(maxBytes int64) (string, error) {
	var archived string
	err := l.submit(func() error {
		size, err := l.Size()
		if err != nil {
			return err
		}
		if size <= maxBytes || size == 0 {
			return nil
		}

		dir := filepath.Dir(l.path)
		millis := l.clock.Now().UnixMilli()
		var dest string
		for {
			dest = filepath.Join(dir, fmt.Sprintf("%s%d%s", archivePrefix, millis, archiveSuffix))
			exists, err := fsutil.Exists(dest)
			if err != nil {
				return err
			}
			if !exists {
				break
			}
			millis++
		}

		if err := os.Rename(l.path, dest); err != nil {
			return fmt.Errorf("rotating audit log: %w", err)
		}
		l.logger.Info("audit log rotated", "archive", filepath.Base(dest), "bytes", size)
		archived = dest
		return nil
	})
	return archived, err
}

// Archives returns the paths of rotated logs, oldest first.
func (l *Log) Archives() ([]string, error) {
	dir := filepath.Dir(l.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading audit directory: %w", err)
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// query reads the whole log and returns matching entries from the end of the
// file backward. Malformed lines are skipped.
func (l *Log) query(limit int, match func(*snapkeep.AuditEntry) bool) ([]*snapkeep.AuditEntry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	lines := bytes.Split(data, []byte{'\n'})
	var out []*snapkeep.AuditEntry
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		var e snapkeep.AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			l.logger.Warn("skipping malformed audit line", "line", i+1, "error", err)
			continue
		}
		if !match(&e) {
			continue
		}
		out = append(out, &e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
