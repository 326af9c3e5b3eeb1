package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"
	"github.com/prometheus/client_golang/prometheus"

	"snapkeep/internal/config"
	"snapkeep/internal/cooldown"
	"snapkeep/internal/engine"
	"snapkeep/internal/export"
	"snapkeep/internal/fs"
	"snapkeep/internal/metrics"
	"snapkeep/internal/snapkeep"
)

// SnapkeepApp is the application layer between the CLI and the storage
// Manager. It builds the manager from config, exposes operations that take
// raw CLI arguments, and records user-visible actions in the audit log.
type SnapkeepApp struct {
	cfg     *config.Config
	mgr     *snapkeep.Manager
	metrics *metrics.Metrics
	keyring *export.Keyring
	run     *Invocation
	logger  snapkeep.Logger
	logFile *os.File

	// workFactor is the scrypt work factor for passphrase exports; 0 keeps age's default.
	workFactor int
}

// NewSnapkeepApp creates a fully wired SnapkeepApp from the given config.
// command identifies the CLI command being run (e.g. "snapshot create").
// When verbose is set, debug logs are echoed to stderr as well as the log file.
// The caller must call Close when done.
func NewSnapkeepApp(cfg *config.Config, command string, verbose bool) (*SnapkeepApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clock := snapkeep.RealClock{}
	run := NewInvocation(command, clock.Now())

	logger, logFile, err := newLogger(cfg.LogDir, run.ID, verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	m := metrics.New(prometheus.NewRegistry())
	build := engine.NewBuilder(engine.Config{
		CatalogType: cfg.Catalog.Type,
		CatalogPath: cfg.Catalog.Path,
		Clock:       clock,
		IDs:         snapkeep.UUIDGenerator{},
		Logger:      log,
	})
	mgr := snapkeep.NewManager(cfg.StorageRoot, build, cooldown.New(clock, log), clock, log, m, snapkeep.ManagerSettings{
		SweepInterval:   cfg.Cooldown.SweepInterval.Duration,
		DefaultCooldown: cfg.Cooldown.DefaultDuration.Duration,
		AuditMaxBytes:   cfg.Audit.MaxBytes,
		GCGracePeriod:   cfg.GC.GracePeriod.Duration,
	})
	if err := mgr.Initialize(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	log.Debug("app started", "command", command, "storage_root", cfg.StorageRoot)
	return &SnapkeepApp{
		cfg:     cfg,
		mgr:     mgr,
		metrics: m,
		keyring: export.NewKeyring(cfg.Export.PublicKeyPath, cfg.Export.PrivateKeyPath),
		run:     run,
		logger:  log,
		logFile: logFile,
	}, nil
}

// Manager exposes the underlying storage manager.
func (a *SnapkeepApp) Manager() *snapkeep.Manager {
	return a.mgr
}

// CreateSnapshot reads the workspace directory and stores it as a snapshot.
// An empty trigger means manual.
func (a *SnapkeepApp) CreateSnapshot(workspace, name string, trigger snapkeep.Trigger) (*snapkeep.SnapshotManifest, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	files, err := fs.Collect(abs, a.cfg.Workspace.Ignore)
	if err != nil {
		return nil, err
	}
	if trigger == "" {
		trigger = snapkeep.TriggerManual
	}

	m, err := a.mgr.CreateSnapshot(files, snapkeep.CreateSnapshotOptions{Name: name, Trigger: trigger})
	if err != nil {
		return nil, err
	}
	a.audit(snapkeep.AuditInput{
		FilePath:   abs,
		Action:     snapkeep.ActionSnapshotCreated,
		SnapshotID: m.ID,
		Details:    a.run.Details(map[string]any{"files": len(m.Files), "bytes": m.TotalSize()}),
	})
	return m, nil
}

// ListSnapshots returns snapshots newest first.
func (a *SnapkeepApp) ListSnapshots(filter snapkeep.SnapshotFilter) ([]*snapkeep.SnapshotManifest, error) {
	return a.mgr.ListSnapshots(filter)
}

// ShowSnapshot returns one snapshot manifest.
func (a *SnapkeepApp) ShowSnapshot(id string) (*snapkeep.SnapshotManifest, error) {
	m, err := a.mgr.GetSnapshot(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", snapkeep.ErrSnapshotNotFound, id)
	}
	return m, nil
}

// DeleteSnapshot removes a snapshot manifest. Its blobs stay until gc.
func (a *SnapkeepApp) DeleteSnapshot(id string) error {
	removed, err := a.mgr.DeleteSnapshot(id)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: %s", snapkeep.ErrSnapshotNotFound, id)
	}
	a.logger.Info("snapshot deleted", "id", id)
	return nil
}

// FileHistory returns the snapshots that contain path, newest first.
func (a *SnapkeepApp) FileHistory(path string, limit int) ([]*snapkeep.SnapshotManifest, error) {
	return a.mgr.FileHistory(filepath.ToSlash(path), limit)
}

// Restore writes snapshot id into dest, which may not exist yet.
func (a *SnapkeepApp) Restore(id, dest string) (*snapkeep.RestoreResult, error) {
	abs, err := filepath.Abs(dest)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	res, err := a.mgr.RestoreSnapshot(id, abs)
	if err != nil {
		return res, err
	}
	if res == nil {
		return nil, fmt.Errorf("%w: %s", snapkeep.ErrSnapshotNotFound, id)
	}
	a.audit(snapkeep.AuditInput{
		FilePath:   abs,
		Action:     snapkeep.ActionSnapshotRestored,
		SnapshotID: id,
		Details: a.run.Details(map[string]any{
			"restored": len(res.Restored),
			"missing":  len(res.Missing),
			"rejected": len(res.Rejected),
		}),
	})
	return res, nil
}

// InitKeys generates the export key pair protected by passphrase.
func (a *SnapkeepApp) InitKeys(passphrase string) error {
	if err := a.keyring.Setup(passphrase); err != nil {
		return err
	}
	a.logger.Info("export keys generated", "public_key", a.cfg.Export.PublicKeyPath)
	return nil
}

// Export writes snapshot id to w as an encrypted bundle. With a passphrase
// the bundle is encrypted to that passphrase alone; age does not allow a
// passphrase alongside other recipients. Otherwise it is encrypted to the
// configured recipients and the local export key.
func (a *SnapkeepApp) Export(id string, w io.Writer, passphrase string) (*export.Bundle, error) {
	sc, err := a.mgr.GetSnapshotWithContent(id)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, fmt.Errorf("%w: %s", snapkeep.ErrSnapshotNotFound, id)
	}

	recipients, err := a.exportRecipients(passphrase)
	if err != nil {
		return nil, err
	}
	b := export.FromContent(sc)
	if err := export.Encode(w, b, recipients...); err != nil {
		return nil, err
	}
	a.logger.Info("snapshot exported", "snapshot", id, "files", len(b.Files), "missing", len(b.Missing))
	return b, nil
}

func (a *SnapkeepApp) exportRecipients(passphrase string) ([]age.Recipient, error) {
	if passphrase != "" {
		r, err := export.PassphraseRecipient(passphrase, a.workFactor)
		if err != nil {
			return nil, err
		}
		return []age.Recipient{r}, nil
	}

	recipients, err := export.ParseRecipients(a.cfg.Export.Recipients)
	if err != nil {
		return nil, err
	}
	if a.keyring.IsConfigured() {
		r, err := a.keyring.Recipient()
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, r)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: run 'snapkeep keys init' or pass a passphrase", export.ErrNoRecipients)
	}
	return recipients, nil
}

// ImportOptions select how a bundle is decrypted. Passphrase unlocks both
// passphrase-encrypted bundles and the local export key; IdentityFile adds
// identities from an age identity file.
type ImportOptions struct {
	Passphrase   string
	IdentityFile string
}

// Import reads an exported bundle and stores it as a new snapshot. The new
// snapshot gets a fresh ID; the original is recorded in the audit log.
func (a *SnapkeepApp) Import(r io.Reader, opts ImportOptions) (*snapkeep.SnapshotManifest, error) {
	identities, err := a.importIdentities(opts)
	if err != nil {
		return nil, err
	}
	b, err := export.Decode(r, identities...)
	if err != nil {
		return nil, err
	}

	trigger := b.Manifest.Trigger
	if !trigger.Valid() {
		trigger = snapkeep.TriggerManual
	}
	m, err := a.mgr.CreateSnapshot(b.Files, snapkeep.CreateSnapshotOptions{
		Name:     b.Manifest.Name,
		Trigger:  trigger,
		Metadata: b.Manifest.Metadata,
	})
	if err != nil {
		return nil, err
	}
	a.audit(snapkeep.AuditInput{
		Action:     snapkeep.ActionSnapshotCreated,
		SnapshotID: m.ID,
		Details: a.run.Details(map[string]any{
			"imported_from": b.Manifest.ID,
			"files":         len(m.Files),
			"missing":       len(b.Missing),
		}),
	})
	return m, nil
}

func (a *SnapkeepApp) importIdentities(opts ImportOptions) ([]age.Identity, error) {
	var identities []age.Identity
	if opts.IdentityFile != "" {
		f, err := os.Open(opts.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("opening identity file: %w", err)
		}
		defer f.Close()
		ids, err := export.ParseIdentities(f)
		if err != nil {
			return nil, err
		}
		identities = append(identities, ids...)
	}
	if opts.Passphrase != "" {
		id, err := export.PassphraseIdentity(opts.Passphrase)
		if err != nil {
			return nil, err
		}
		identities = append(identities, id)

		if a.keyring.IsConfigured() {
			key, err := a.keyring.Unlock(opts.Passphrase)
			if err != nil {
				a.logger.Debug("export key not unlocked", "error", err)
			} else {
				identities = append(identities, key)
			}
		}
	}
	if len(identities) == 0 {
		return nil, errors.New("no identities to decrypt with: pass a passphrase or an identity file")
	}
	return identities, nil
}

// ListSessions returns finalized sessions newest first.
func (a *SnapkeepApp) ListSessions(filter snapkeep.SessionFilter) ([]*snapkeep.SessionManifest, error) {
	return a.mgr.ListSessions(filter)
}

// ShowSession returns one session manifest.
func (a *SnapkeepApp) ShowSession(id string) (*snapkeep.SessionManifest, error) {
	s, err := a.mgr.GetSession(id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return s, nil
}

// AuditQuery selects audit entries. At most one of FilePath and Action is used,
// FilePath taking precedence.
type AuditQuery struct {
	FilePath string
	Action   snapkeep.AuditAction
	Limit    int
}

// AuditEntries returns audit entries newest first.
func (a *SnapkeepApp) AuditEntries(q AuditQuery) ([]*snapkeep.AuditEntry, error) {
	switch {
	case q.FilePath != "":
		return a.mgr.AuditForFile(q.FilePath, q.Limit)
	case q.Action != "":
		if !q.Action.Valid() {
			return nil, fmt.Errorf("%w: %s", snapkeep.ErrInvalidAction, q.Action)
		}
		return a.mgr.AuditByAction(q.Action, q.Limit)
	default:
		return a.mgr.AuditEntries(q.Limit)
	}
}

// RotateAudit archives the audit log if it exceeds maxBytes, or the
// configured limit when maxBytes <= 0.
func (a *SnapkeepApp) RotateAudit(maxBytes int64) (string, error) {
	return a.mgr.RotateAudit(maxBytes)
}

// Stats returns storage statistics. refresh walks the blob tree and
// persists the result.
func (a *SnapkeepApp) Stats(refresh bool) (snapkeep.StorageStats, error) {
	if refresh {
		return a.mgr.RefreshStats()
	}
	return a.mgr.QuickStats()
}

// WritePrometheus refreshes the stats and writes every metric in the
// prometheus text format.
func (a *SnapkeepApp) WritePrometheus(w io.Writer) error {
	if _, err := a.mgr.RefreshStats(); err != nil {
		return err
	}
	return a.metrics.WriteText(w)
}

// CollectGarbage removes unreferenced blobs. grace <= 0 uses the configured period.
func (a *SnapkeepApp) CollectGarbage(dryRun bool, grace time.Duration) (*snapkeep.GCReport, error) {
	return a.mgr.CollectGarbage(snapkeep.GCOptions{DryRun: dryRun, GracePeriod: grace})
}

// Reindex rebuilds the snapshot catalog from the manifests on disk.
func (a *SnapkeepApp) Reindex() (int, error) {
	return a.mgr.Reindex()
}

// audit appends an entry. A failure is logged, not returned; the audited
// operation has already happened.
func (a *SnapkeepApp) audit(in snapkeep.AuditInput) {
	if _, err := a.mgr.AppendAudit(in); err != nil {
		a.logger.Error("audit append failed", "action", in.Action, "snapshot", in.SnapshotID, "error", err)
	}
}

// Close disposes the manager and closes the log file.
func (a *SnapkeepApp) Close() error {
	err := a.mgr.Dispose()
	if err != nil {
		err = fmt.Errorf("closing storage: %w", err)
	}
	a.logger.Debug("app finished", "command", a.run.Command, "elapsed", a.run.Elapsed(time.Now()))
	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}
