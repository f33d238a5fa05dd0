package sync

import (
	"github.com/tasknexus/backend/internal/db"
)

// WatermarkTracker records the instant of the last successful
// synchronization across all local entities. The watermark bounds delta
// fetches; when no prior sync exists the earliest local modification
// seeds the first sync window instead.
//
// Zero timestamps mean "never touched" and are excluded from every
// computation here (the repository queries filter them out).
type WatermarkTracker struct {
	repo *db.Repository
}

// NewWatermarkTracker creates a WatermarkTracker over the repository.
func NewWatermarkTracker(repo *db.Repository) *WatermarkTracker {
	return &WatermarkTracker{repo: repo}
}

// GetLastSyncTimestamp returns the newest LastSyncedAt across all local
// lists and items, or 0 if nothing has ever synced.
func (w *WatermarkTracker) GetLastSyncTimestamp() (int64, error) {
	return w.repo.MaxLastSyncedAt()
}

// UpdateLastSyncTimestamp stamps every currently-synchronized entity
// with ts, the "mark complete" step after a successful pull batch.
func (w *WatermarkTracker) UpdateLastSyncTimestamp(ts int64) error {
	return w.repo.UpdateAllLastSynced(ts)
}

// IsDeltaSyncAvailable reports whether at least one entity has synced
// before, making a cheaper delta fetch possible.
func (w *WatermarkTracker) IsDeltaSyncAvailable() (bool, error) {
	ts, err := w.repo.MaxLastSyncedAt()
	if err != nil {
		return false, err
	}
	return ts > 0, nil
}

// GetEarliestLastModified returns the oldest LastModified across all
// entities, or 0 when none has one. Used to seed a first-ever sync
// window when no watermark exists yet.
func (w *WatermarkTracker) GetEarliestLastModified() (int64, error) {
	return w.repo.MinLastModified()
}
