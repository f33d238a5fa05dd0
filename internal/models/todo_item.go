// Package models provides data model definitions for the TaskNexus backend.
package models

import "time"

// TodoItem represents a single entry inside a TodoList. It carries the
// same sync metadata as its owning list and follows the same rules:
// empty ExternalID means never synchronized, zero timestamps mean
// "never".
type TodoItem struct {
	ID           UUID   `db:"id" json:"id"`
	ListID       UUID   `db:"list_id" json:"list_id"`
	Description  string `db:"description" json:"description"`
	Completed    bool   `db:"completed" json:"completed"`
	ExternalID   string `db:"external_id" json:"external_id,omitempty"`
	LastModified int64  `db:"last_modified" json:"last_modified"`
	LastSyncedAt int64  `db:"last_synced_at" json:"last_synced_at,omitempty"`
	PendingSync  bool   `db:"pending_sync" json:"pending_sync"`
	IsDeleted    bool   `db:"is_deleted" json:"is_deleted"`
	DeletedAt    int64  `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt    int64  `db:"created_at" json:"created_at"`
}

// TableName returns the table name for TodoItem.
func (TodoItem) TableName() string {
	return "todo_items"
}

// IsSynchronized reports whether the item has ever been pushed to the
// remote service.
func (i *TodoItem) IsSynchronized() bool {
	return i.ExternalID != ""
}

// Touch updates LastModified and flags the item for the next push.
func (i *TodoItem) Touch() {
	i.LastModified = time.Now().Unix()
	i.PendingSync = true
}

// MarkSynced clears the pending flag and advances LastSyncedAt.
// LastSyncedAt never moves backwards.
func (i *TodoItem) MarkSynced(ts int64) {
	i.PendingSync = false
	if ts > i.LastSyncedAt {
		i.LastSyncedAt = ts
	}
}

// SoftDelete marks the item as deleted and pending so the deletion is
// propagated on the next push.
func (i *TodoItem) SoftDelete() {
	now := time.Now().Unix()
	i.IsDeleted = true
	i.DeletedAt = now
	i.LastModified = now
	i.PendingSync = true
}

// LastModifiedTime returns LastModified as time.Time.
func (i *TodoItem) LastModifiedTime() time.Time {
	return time.Unix(i.LastModified, 0)
}
