package snapkeep

// Recorder receives operational measurements from the Manager.
// The metrics package provides the prometheus-backed implementation.
type Recorder interface {
	BlobStored(isNew bool)
	SnapshotCreated()
	AuditAppended(action AuditAction)
	BlobsCollected(n int)
	StatsRefreshed(stats StorageStats)
}

// NopRecorder discards all measurements.
type NopRecorder struct{}

func (NopRecorder) BlobStored(bool)             {}
func (NopRecorder) SnapshotCreated()            {}
func (NopRecorder) AuditAppended(AuditAction)   {}
func (NopRecorder) BlobsCollected(int)          {}
func (NopRecorder) StatsRefreshed(StorageStats) {}

// InstrumentBlobStore wraps b so every Store call is reported to rec.
func InstrumentBlobStore(b BlobStore, rec Recorder) BlobStore {
	if rec == nil {
		return b
	}
	return &instrumentedBlobStore{BlobStore: b, rec: rec}
}

type instrumentedBlobStore struct {
	BlobStore
	rec Recorder
}

func (s *instrumentedBlobStore) Store(content []byte) (StoreResult, error) {
	res, err := s.BlobStore.Store(content)
	if err == nil {
		s.rec.BlobStored(res.IsNew)
	}
	return res, err
}
