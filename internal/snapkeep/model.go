package snapkeep

import "time"

// Trigger records why a snapshot was taken.
type Trigger string

const (
	TriggerAuto       Trigger = "auto"
	TriggerManual     Trigger = "manual"
	TriggerAIDetected Trigger = "ai-detected"
	TriggerPreSave    Trigger = "pre-save"
)

// Valid reports whether t is one of the known triggers.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerAuto, TriggerManual, TriggerAIDetected, TriggerPreSave:
		return true
	}
	return false
}

// FileRef points a snapshot file at its blob.
type FileRef struct {
	BlobHash     string `json:"blobHash"`
	OriginalSize int64  `json:"originalSize"`
}

// AIDetection is the classification supplied by the detection layer.
// The engine stores it verbatim and never computes it.
type AIDetection struct {
	Detected   bool     `json:"detected"`
	Confidence float64  `json:"confidence"`
	Source     string   `json:"source,omitempty"`
	Reasons    []string `json:"reasons,omitempty"`
}

// SnapshotMetadataVersion is the current version of SnapshotMetadata.
// Fields are only ever added, so manifests written by older versions still decode.
const SnapshotMetadataVersion = 1

// SnapshotMetadata carries the optional context attached to a snapshot.
type SnapshotMetadata struct {
	Version     int          `json:"version"`
	RiskScore   *float64     `json:"riskScore,omitempty"`
	AIDetection *AIDetection `json:"aiDetection,omitempty"`
	SessionID   string       `json:"sessionId,omitempty"`
}

// SnapshotManifest describes a snapshot by reference to its blobs.
type SnapshotManifest struct {
	ID        string             `json:"id"`
	CreatedAt time.Time          `json:"createdAt"`
	Name      string             `json:"name"`
	Trigger   Trigger            `json:"trigger"`
	Files     map[string]FileRef `json:"files"`
	Metadata  *SnapshotMetadata  `json:"metadata,omitempty"`
}

// HasFile reports whether the snapshot contains path.
func (m *SnapshotManifest) HasFile(path string) bool {
	_, ok := m.Files[path]
	return ok
}

// TotalSize is the sum of the original sizes of all files in the snapshot.
func (m *SnapshotManifest) TotalSize() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.OriginalSize
	}
	return n
}

// CreateSnapshotOptions are the caller-supplied attributes of a new snapshot.
type CreateSnapshotOptions struct {
	Name     string
	Trigger  Trigger
	Metadata *SnapshotMetadata
}

// SnapshotContent is a manifest with its blobs resolved.
// Missing lists files whose blobs could not be found; they are absent from Files.
type SnapshotContent struct {
	Manifest *SnapshotManifest
	Files    map[string][]byte
	Missing  []string
}

// SnapshotFilter narrows a snapshot listing. Zero values disable a filter;
// Limit <= 0 means no limit. After and Before are exclusive bounds.
type SnapshotFilter struct {
	After   time.Time
	Before  time.Time
	Trigger Trigger
	Limit   int
}

// EndReason records why a session ended.
type EndReason string

const (
	EndIdle        EndReason = "idle"
	EndManual      EndReason = "manual"
	EndWindowClose EndReason = "window-close"
	EndTimeout     EndReason = "timeout"
)

// Valid reports whether r is one of the known end reasons.
func (r EndReason) Valid() bool {
	switch r {
	case EndIdle, EndManual, EndWindowClose, EndTimeout:
		return true
	}
	return false
}

// ChangeStats counts changed lines.
type ChangeStats struct {
	Added   int `json:"added"`
	Deleted int `json:"deleted"`
}

// SessionFile is one file change recorded in a session.
type SessionFile struct {
	Path       string      `json:"path"`
	SnapshotID string      `json:"snapshotId"`
	Changes    ChangeStats `json:"changes"`
}

// SessionManifest is a finalized editing session.
type SessionManifest struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   time.Time     `json:"endedAt"`
	Reason    EndReason     `json:"reason"`
	Files     []SessionFile `json:"files"`
	Tags      []string      `json:"tags,omitempty"`
	Summary   string        `json:"summary,omitempty"`
}

// Duration is the wall-clock length of the session.
func (m *SessionManifest) Duration() time.Duration {
	return m.EndedAt.Sub(m.StartedAt)
}

// FinalizeOptions are optional annotations for a finalized session.
type FinalizeOptions struct {
	Tags    []string
	Summary string
}

// FinalizeStatus distinguishes a persisted session from a finalize call
// that found nothing to finalize.
type FinalizeStatus string

const (
	FinalizeDone          FinalizeStatus = "finalized"
	FinalizeNothingActive FinalizeStatus = "nothing-active"
)

// FinalizeResult is the outcome of finalizing a session.
// Manifest is nil when Status is FinalizeNothingActive.
type FinalizeResult struct {
	Status   FinalizeStatus
	Manifest *SessionManifest
}

// SessionFilter narrows a session listing, with the same conventions as SnapshotFilter.
type SessionFilter struct {
	After  time.Time
	Before time.Time
	Reason EndReason
	Limit  int
}

// ProtectionLevel is the protection tier of a file. The engine treats it as opaque.
type ProtectionLevel string

const (
	LevelWatch     ProtectionLevel = "watch"
	LevelWarning   ProtectionLevel = "warning"
	LevelProtected ProtectionLevel = "protected"
)

// AuditAction is the kind of event recorded in the audit log.
type AuditAction string

const (
	ActionSnapshotCreated   AuditAction = "snapshot_created"
	ActionSnapshotRestored  AuditAction = "snapshot_restored"
	ActionSaveBlocked       AuditAction = "save_blocked"
	ActionSaveWarned        AuditAction = "save_warned"
	ActionCooldownTriggered AuditAction = "cooldown_triggered"
	ActionAIDetected        AuditAction = "ai_detected"
)

// Valid reports whether a is one of the known actions.
func (a AuditAction) Valid() bool {
	switch a {
	case ActionSnapshotCreated, ActionSnapshotRestored, ActionSaveBlocked,
		ActionSaveWarned, ActionCooldownTriggered, ActionAIDetected:
		return true
	}
	return false
}

// AuditInput is an audit event before the log assigns its ID and timestamp.
type AuditInput struct {
	FilePath        string
	ProtectionLevel ProtectionLevel
	Action          AuditAction
	Details         map[string]any
	SnapshotID      string
}

// AuditEntry is one immutable line of the audit log.
type AuditEntry struct {
	ID              string          `json:"id"`
	Timestamp       time.Time       `json:"timestamp"`
	FilePath        string          `json:"filePath"`
	ProtectionLevel ProtectionLevel `json:"protectionLevel"`
	Action          AuditAction     `json:"action"`
	Details         map[string]any  `json:"details,omitempty"`
	SnapshotID      string          `json:"snapshotId,omitempty"`
}

// CooldownEntry is an in-memory suppression window for a file and protection level.
type CooldownEntry struct {
	FilePath        string
	ProtectionLevel ProtectionLevel
	TriggeredAt     time.Time
	ExpiresAt       time.Time
	Action          string
	SnapshotID      string
}

// StoreResult is the outcome of storing a blob.
type StoreResult struct {
	Hash  string
	Size  int64
	IsNew bool
}

// BlobInfo describes a stored blob without its content.
type BlobInfo struct {
	Hash    string
	Size    int64
	ModTime time.Time
}

// StorageStats are aggregate counts recomputed from the stores.
type StorageStats struct {
	SnapshotCount   int   `json:"snapshotCount"`
	SessionCount    int   `json:"sessionCount"`
	BlobCount       int   `json:"blobCount"`
	TotalBlobBytes  int64 `json:"totalBlobBytes"`
	AuditEntryCount int   `json:"auditEntryCount"`
	AuditBytes      int64 `json:"auditBytes"`
	ActiveCooldowns int   `json:"activeCooldowns"`
}

// StorageMetadataVersion is the format version written to storage.json.
const StorageMetadataVersion = 1

// StorageMetadata is the versioned record persisted at the storage root.
type StorageMetadata struct {
	Version   int          `json:"version"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Stats     StorageStats `json:"stats"`
}
