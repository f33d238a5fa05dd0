// Package models provides data model definitions for the TaskNexus backend.
package models

import "time"

// TodoList represents a local todo list. A list is synchronized with the
// remote service iff ExternalID is non-empty; an empty ExternalID means
// the list is still awaiting creation on the remote side.
//
// Timestamps are Unix seconds. Zero means "never" (never modified,
// never synced, never deleted) and is excluded from watermark math.
type TodoList struct {
	ID           UUID   `db:"id" json:"id"`
	Name         string `db:"name" json:"name"`
	ExternalID   string `db:"external_id" json:"external_id,omitempty"`
	LastModified int64  `db:"last_modified" json:"last_modified"`
	LastSyncedAt int64  `db:"last_synced_at" json:"last_synced_at,omitempty"`
	PendingSync  bool   `db:"pending_sync" json:"pending_sync"`
	IsDeleted    bool   `db:"is_deleted" json:"is_deleted"`
	DeletedAt    int64  `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt    int64  `db:"created_at" json:"created_at"`

	// Items are loaded separately; insertion order carries no meaning.
	Items []*TodoItem `db:"-" json:"items,omitempty"`
}

// TableName returns the table name for TodoList.
func (TodoList) TableName() string {
	return "todo_lists"
}

// IsSynchronized reports whether the list has ever been pushed to the
// remote service.
func (l *TodoList) IsSynchronized() bool {
	return l.ExternalID != ""
}

// Touch updates LastModified and flags the list for the next push.
func (l *TodoList) Touch() {
	l.LastModified = time.Now().Unix()
	l.PendingSync = true
}

// MarkSynced clears the pending flag and advances LastSyncedAt.
// LastSyncedAt never moves backwards.
func (l *TodoList) MarkSynced(ts int64) {
	l.PendingSync = false
	if ts > l.LastSyncedAt {
		l.LastSyncedAt = ts
	}
}

// SoftDelete marks the list as deleted and pending so the deletion is
// propagated on the next push. Rows are never dropped.
func (l *TodoList) SoftDelete() {
	now := time.Now().Unix()
	l.IsDeleted = true
	l.DeletedAt = now
	l.LastModified = now
	l.PendingSync = true
}

// LastModifiedTime returns LastModified as time.Time.
func (l *TodoList) LastModifiedTime() time.Time {
	return time.Unix(l.LastModified, 0)
}

// LastSyncedAtTime returns LastSyncedAt as time.Time.
func (l *TodoList) LastSyncedAtTime() time.Time {
	return time.Unix(l.LastSyncedAt, 0)
}

// ActiveItems returns the items that are not soft-deleted.
func (l *TodoList) ActiveItems() []*TodoItem {
	var active []*TodoItem
	for _, item := range l.Items {
		if !item.IsDeleted {
			active = append(active, item)
		}
	}
	return active
}
