// Package models provides data model definitions for the TaskNexus backend.
package models

import "time"

// RemoteTodoList is the remote service's representation of a todo list.
// IDs and timestamps are origin-assigned; UpdatedAt is authoritative for
// "when did the remote side change".
type RemoteTodoList struct {
	ID        string            `json:"id"`
	SourceID  string            `json:"source_id"`
	Name      string            `json:"name"`
	CreatedAt int64             `json:"created_at"`
	UpdatedAt int64             `json:"updated_at"`
	Items     []*RemoteTodoItem `json:"items"`
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (r *RemoteTodoList) UpdatedAtTime() time.Time {
	return time.Unix(r.UpdatedAt, 0)
}

// RemoteTodoItem is the remote service's representation of a todo item.
type RemoteTodoItem struct {
	ID          string `json:"id"`
	ListID      string `json:"list_id"`
	SourceID    string `json:"source_id"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (r *RemoteTodoItem) UpdatedAtTime() time.Time {
	return time.Unix(r.UpdatedAt, 0)
}
