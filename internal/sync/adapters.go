package sync

import (
	"github.com/tasknexus/backend/internal/models"
	"github.com/tasknexus/backend/internal/sync/conflict"
)

// newListResolver instantiates the generic resolver for the list pair.
// The only content field a list carries is its name.
func newListResolver(strategy conflict.Strategy) *conflict.Resolver[*models.TodoList, *models.RemoteTodoList] {
	return conflict.NewResolver(conflict.Adapter[*models.TodoList, *models.RemoteTodoList]{
		EntityType:     models.EntityTypeList,
		LocalID:        func(l *models.TodoList) string { return string(l.ID) },
		RemoteID:       func(r *models.RemoteTodoList) string { return r.ID },
		LocalModified:  func(l *models.TodoList) int64 { return l.LastModified },
		RemoteModified: func(r *models.RemoteTodoList) int64 { return r.UpdatedAt },
		LastSyncedAt:   func(l *models.TodoList) int64 { return l.LastSyncedAt },
		DiffFields: func(l *models.TodoList, r *models.RemoteTodoList) []string {
			var fields []string
			if l.Name != r.Name {
				fields = append(fields, "name")
			}
			return fields
		},
		ApplyRemote: func(l *models.TodoList, r *models.RemoteTodoList) {
			l.Name = r.Name
			l.LastModified = r.UpdatedAt
			// Remote is authoritative now; nothing local remains to push.
			l.PendingSync = false
		},
		StampSynced: func(l *models.TodoList, ts int64) {
			if ts > l.LastSyncedAt {
				l.LastSyncedAt = ts
			}
		},
	}, strategy)
}

// newItemResolver instantiates the generic resolver for the item pair.
func newItemResolver(strategy conflict.Strategy) *conflict.Resolver[*models.TodoItem, *models.RemoteTodoItem] {
	return conflict.NewResolver(conflict.Adapter[*models.TodoItem, *models.RemoteTodoItem]{
		EntityType:     models.EntityTypeItem,
		LocalID:        func(i *models.TodoItem) string { return string(i.ID) },
		RemoteID:       func(r *models.RemoteTodoItem) string { return r.ID },
		LocalModified:  func(i *models.TodoItem) int64 { return i.LastModified },
		RemoteModified: func(r *models.RemoteTodoItem) int64 { return r.UpdatedAt },
		LastSyncedAt:   func(i *models.TodoItem) int64 { return i.LastSyncedAt },
		DiffFields: func(i *models.TodoItem, r *models.RemoteTodoItem) []string {
			var fields []string
			if i.Description != r.Description {
				fields = append(fields, "description")
			}
			if i.Completed != r.Completed {
				fields = append(fields, "completed")
			}
			return fields
		},
		ApplyRemote: func(i *models.TodoItem, r *models.RemoteTodoItem) {
			i.Description = r.Description
			i.Completed = r.Completed
			i.LastModified = r.UpdatedAt
			i.PendingSync = false
		},
		StampSynced: func(i *models.TodoItem, ts int64) {
			if ts > i.LastSyncedAt {
				i.LastSyncedAt = ts
			}
		},
	}, strategy)
}
