// Package models provides data model definitions for the TaskNexus backend.
package models

import "time"

// EntityType tags which kind of entity a ConflictInfo refers to.
type EntityType string

const (
	EntityTypeList EntityType = "todo_list"
	EntityTypeItem EntityType = "todo_item"
)

// ConflictInfo describes one reconciliation attempt between a local
// entity and its remote counterpart. It is ephemeral: produced per
// attempt, logged, never persisted.
type ConflictInfo struct {
	EntityType       EntityType `json:"entity_type"`
	LocalID          string     `json:"local_id"`
	RemoteID         string     `json:"remote_id"`
	LocalModified    int64      `json:"local_modified"`
	RemoteModified   int64      `json:"remote_modified"`
	LastSyncedAt     int64      `json:"last_synced_at,omitempty"`
	ModifiedFields   []string   `json:"modified_fields,omitempty"`
	Resolution       string     `json:"resolution,omitempty"`
	ResolutionReason string     `json:"resolution_reason,omitempty"`
	DetectedAt       int64      `json:"detected_at"`
}

// HasConflict reports whether both sides touched the entity since they
// last agreed. It requires divergent fields, both modification
// timestamps set, and a prior sync to compare against: without a prior
// sync there is nothing both sides could have diverged from, and the
// caller falls through to plain newest-wins.
func (c *ConflictInfo) HasConflict() bool {
	if len(c.ModifiedFields) == 0 {
		return false
	}
	if c.LocalModified == 0 || c.RemoteModified == 0 {
		return false
	}
	if c.LastSyncedAt == 0 {
		return false
	}
	return c.LocalModified > c.LastSyncedAt || c.RemoteModified > c.LastSyncedAt
}

// ConflictResolved reports whether a resolution strategy actually ran,
// as opposed to the no-conflict fast path.
func (c *ConflictInfo) ConflictResolved() bool {
	return c.HasConflict() && c.ResolutionReason != ""
}

// DetectedAtTime returns DetectedAt as time.Time.
func (c *ConflictInfo) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}
