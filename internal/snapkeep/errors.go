package snapkeep

import "errors"

var (
	ErrInvalidTrigger     = errors.New("invalid snapshot trigger")
	ErrInvalidReason      = errors.New("invalid session end reason")
	ErrInvalidAction      = errors.New("invalid audit action")
	ErrPathEscapesRoot    = errors.New("path escapes restore root")
	ErrNotInitialized     = errors.New("storage manager not initialized")
	ErrCatalogDisabled    = errors.New("catalog is disabled")
	ErrUnreadableManifest = errors.New("unreadable manifest")
	ErrClosed             = errors.New("audit log closed")
	ErrSnapshotNotFound   = errors.New("snapshot not found")
)
