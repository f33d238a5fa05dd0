// Package db provides CRUD repository operations for TaskNexus data models.
package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tasknexus/backend/internal/models"
	"github.com/tasknexus/backend/internal/uuid"
)

// querier is the subset of sql.DB and sql.Tx the repository needs, so
// the same query code runs inside and outside transactions.
type querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Repository provides CRUD operations for todo lists and items.
type Repository struct {
	db *sql.DB
	q  querier
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, q: db}
}

// WithTx runs fn with a transaction-scoped repository. The transaction
// commits if fn returns nil and rolls back otherwise. Nested calls are
// not supported; the sync orchestrator opens one transaction per list.
func (r *Repository) WithTx(fn func(*Repository) error) error {
	if r.db == nil {
		return fmt.Errorf("repository is transaction-scoped, cannot nest transactions")
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txRepo := &Repository{q: tx}
	if err := fn(txRepo); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =====================================================
// TodoList Operations
// =====================================================

const todoListColumns = `id, name, external_id, last_modified, last_synced_at,
	pending_sync, is_deleted, deleted_at, created_at`

func scanTodoList(row interface{ Scan(...interface{}) error }) (*models.TodoList, error) {
	var l models.TodoList
	err := row.Scan(&l.ID, &l.Name, &l.ExternalID, &l.LastModified, &l.LastSyncedAt,
		&l.PendingSync, &l.IsDeleted, &l.DeletedAt, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateList creates a new todo list. The ID and CreatedAt are assigned
// if unset so the sync pull path can insert pre-stamped rows.
func (r *Repository) CreateList(list *models.TodoList) error {
	now := time.Now().Unix()
	if list.ID == "" {
		list.ID = models.UUID(uuid.New())
	}
	if list.CreatedAt == 0 {
		list.CreatedAt = now
	}
	if list.LastModified == 0 {
		list.LastModified = now
	}

	query := `
	INSERT INTO todo_lists (` + todoListColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.q.Exec(query, list.ID, list.Name, list.ExternalID, list.LastModified,
		list.LastSyncedAt, list.PendingSync, list.IsDeleted, list.DeletedAt, list.CreatedAt)
	return err
}

// GetList retrieves a todo list by ID, including soft-deleted rows so
// tombstones remain addressable.
func (r *Repository) GetList(id string) (*models.TodoList, error) {
	query := `SELECT ` + todoListColumns + ` FROM todo_lists WHERE id = ?`
	return scanTodoList(r.q.QueryRow(query, id))
}

// GetListByExternalID retrieves a todo list by its remote identity,
// including soft-deleted rows (the pull phase restores those).
func (r *Repository) GetListByExternalID(externalID string) (*models.TodoList, error) {
	query := `SELECT ` + todoListColumns + ` FROM todo_lists WHERE external_id = ?`
	return scanTodoList(r.q.QueryRow(query, externalID))
}

// ListActiveLists returns all lists that are not soft-deleted.
func (r *Repository) ListActiveLists() ([]*models.TodoList, error) {
	query := `SELECT ` + todoListColumns + ` FROM todo_lists WHERE is_deleted = 0 ORDER BY created_at`
	return r.queryLists(query)
}

// UpdateList persists all mutable fields of a todo list.
func (r *Repository) UpdateList(list *models.TodoList) error {
	query := `
	UPDATE todo_lists
	SET name = ?, external_id = ?, last_modified = ?, last_synced_at = ?,
		pending_sync = ?, is_deleted = ?, deleted_at = ?
	WHERE id = ?
	`
	res, err := r.q.Exec(query, list.Name, list.ExternalID, list.LastModified,
		list.LastSyncedAt, list.PendingSync, list.IsDeleted, list.DeletedAt, list.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SoftDeleteList marks a list (and all its items) deleted and pending so
// the deletion propagates on the next push.
func (r *Repository) SoftDeleteList(id string) error {
	now := time.Now().Unix()

	res, err := r.q.Exec(`
	UPDATE todo_lists
	SET is_deleted = 1, deleted_at = ?, last_modified = ?, pending_sync = 1
	WHERE id = ? AND is_deleted = 0
	`, now, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	_, err = r.q.Exec(`
	UPDATE todo_items
	SET is_deleted = 1, deleted_at = ?, last_modified = ?, pending_sync = 1
	WHERE list_id = ? AND is_deleted = 0
	`, now, now, id)
	return err
}

// GetPendingLists returns lists that need pushing: flagged pending,
// never synchronized, or containing pending items. Items are attached.
func (r *Repository) GetPendingLists() ([]*models.TodoList, error) {
	query := `
	SELECT ` + todoListColumns + ` FROM todo_lists l
	WHERE l.pending_sync = 1
	   OR (l.external_id = '' AND l.is_deleted = 0)
	   OR EXISTS (SELECT 1 FROM todo_items i WHERE i.list_id = l.id AND i.pending_sync = 1)
	ORDER BY l.created_at
	`
	lists, err := r.queryLists(query)
	if err != nil {
		return nil, err
	}
	for _, list := range lists {
		items, err := r.ListItems(string(list.ID), true)
		if err != nil {
			return nil, err
		}
		list.Items = items
	}
	return lists, nil
}

// GetOrphanedLists returns synchronized, non-deleted lists whose remote
// identity is absent from activeExternalIDs. An empty set means every
// synchronized list is orphaned.
func (r *Repository) GetOrphanedLists(activeExternalIDs []string) ([]*models.TodoList, error) {
	query := `
	SELECT ` + todoListColumns + ` FROM todo_lists
	WHERE external_id != '' AND is_deleted = 0
	`
	args := make([]interface{}, 0, len(activeExternalIDs))
	if len(activeExternalIDs) > 0 {
		query += ` AND external_id NOT IN (` + placeholders(len(activeExternalIDs)) + `)`
		for _, id := range activeExternalIDs {
			args = append(args, id)
		}
	}
	return r.queryLists(query, args...)
}

// GetPendingChangesCount returns the number of lists and items awaiting
// a push.
func (r *Repository) GetPendingChangesCount() (int, error) {
	var lists, items int
	if err := r.q.QueryRow(`SELECT COUNT(*) FROM todo_lists WHERE pending_sync = 1`).Scan(&lists); err != nil {
		return 0, err
	}
	if err := r.q.QueryRow(`SELECT COUNT(*) FROM todo_items WHERE pending_sync = 1`).Scan(&items); err != nil {
		return 0, err
	}
	return lists + items, nil
}

func (r *Repository) queryLists(query string, args ...interface{}) ([]*models.TodoList, error) {
	rows, err := r.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lists []*models.TodoList
	for rows.Next() {
		list, err := scanTodoList(rows)
		if err != nil {
			return nil, err
		}
		lists = append(lists, list)
	}
	return lists, rows.Err()
}

// =====================================================
// TodoItem Operations
// =====================================================

const todoItemColumns = `id, list_id, description, completed, external_id,
	last_modified, last_synced_at, pending_sync, is_deleted, deleted_at, created_at`

func scanTodoItem(row interface{ Scan(...interface{}) error }) (*models.TodoItem, error) {
	var i models.TodoItem
	err := row.Scan(&i.ID, &i.ListID, &i.Description, &i.Completed, &i.ExternalID,
		&i.LastModified, &i.LastSyncedAt, &i.PendingSync, &i.IsDeleted, &i.DeletedAt, &i.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// CreateItem creates a new todo item.
func (r *Repository) CreateItem(item *models.TodoItem) error {
	now := time.Now().Unix()
	if item.ID == "" {
		item.ID = models.UUID(uuid.New())
	}
	if item.CreatedAt == 0 {
		item.CreatedAt = now
	}
	if item.LastModified == 0 {
		item.LastModified = now
	}

	query := `
	INSERT INTO todo_items (` + todoItemColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.q.Exec(query, item.ID, item.ListID, item.Description, item.Completed,
		item.ExternalID, item.LastModified, item.LastSyncedAt, item.PendingSync,
		item.IsDeleted, item.DeletedAt, item.CreatedAt)
	return err
}

// GetItem retrieves a todo item by ID, including soft-deleted rows.
func (r *Repository) GetItem(id string) (*models.TodoItem, error) {
	query := `SELECT ` + todoItemColumns + ` FROM todo_items WHERE id = ?`
	return scanTodoItem(r.q.QueryRow(query, id))
}

// ListItems returns the items of a list. Soft-deleted items are
// included only when includeDeleted is set.
func (r *Repository) ListItems(listID string, includeDeleted bool) ([]*models.TodoItem, error) {
	query := `SELECT ` + todoItemColumns + ` FROM todo_items WHERE list_id = ?`
	if !includeDeleted {
		query += ` AND is_deleted = 0`
	}
	query += ` ORDER BY created_at`
	return r.queryItems(query, listID)
}

// UpdateItem persists all mutable fields of a todo item.
func (r *Repository) UpdateItem(item *models.TodoItem) error {
	query := `
	UPDATE todo_items
	SET description = ?, completed = ?, external_id = ?, last_modified = ?,
		last_synced_at = ?, pending_sync = ?, is_deleted = ?, deleted_at = ?
	WHERE id = ?
	`
	res, err := r.q.Exec(query, item.Description, item.Completed, item.ExternalID,
		item.LastModified, item.LastSyncedAt, item.PendingSync, item.IsDeleted,
		item.DeletedAt, item.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SoftDeleteItem marks an item deleted and pending, and cascades the
// pending flag to the owning list so the push phase picks it up.
func (r *Repository) SoftDeleteItem(id string) error {
	now := time.Now().Unix()

	item, err := r.GetItem(id)
	if err != nil {
		return err
	}

	res, err := r.q.Exec(`
	UPDATE todo_items
	SET is_deleted = 1, deleted_at = ?, last_modified = ?, pending_sync = 1
	WHERE id = ? AND is_deleted = 0
	`, now, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	_, err = r.q.Exec(`UPDATE todo_lists SET pending_sync = 1 WHERE id = ?`, item.ListID)
	return err
}

// GetOrphanedItems returns a list's synchronized, non-deleted items
// whose remote identity is absent from activeExternalIDs.
func (r *Repository) GetOrphanedItems(listID string, activeExternalIDs []string) ([]*models.TodoItem, error) {
	query := `
	SELECT ` + todoItemColumns + ` FROM todo_items
	WHERE list_id = ? AND external_id != '' AND is_deleted = 0
	`
	args := []interface{}{listID}
	if len(activeExternalIDs) > 0 {
		query += ` AND external_id NOT IN (` + placeholders(len(activeExternalIDs)) + `)`
		for _, id := range activeExternalIDs {
			args = append(args, id)
		}
	}
	return r.queryItems(query, args...)
}

func (r *Repository) queryItems(query string, args ...interface{}) ([]*models.TodoItem, error) {
	rows, err := r.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.TodoItem
	for rows.Next() {
		item, err := scanTodoItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// =====================================================
// Watermark Queries
// =====================================================

// MaxLastSyncedAt returns the newest LastSyncedAt across lists and
// items, ignoring zero ("never synced") values. Returns 0 when nothing
// has ever synced.
func (r *Repository) MaxLastSyncedAt() (int64, error) {
	var ts int64
	err := r.q.QueryRow(`
	SELECT COALESCE(MAX(last_synced_at), 0) FROM (
		SELECT last_synced_at FROM todo_lists WHERE last_synced_at > 0
		UNION ALL
		SELECT last_synced_at FROM todo_items WHERE last_synced_at > 0
	)`).Scan(&ts)
	return ts, err
}

// MinLastModified returns the oldest LastModified across lists and
// items, ignoring zero values. Used to seed a first-ever sync window.
func (r *Repository) MinLastModified() (int64, error) {
	var ts int64
	err := r.q.QueryRow(`
	SELECT COALESCE(MIN(last_modified), 0) FROM (
		SELECT last_modified FROM todo_lists WHERE last_modified > 0
		UNION ALL
		SELECT last_modified FROM todo_items WHERE last_modified > 0
	)`).Scan(&ts)
	return ts, err
}

// UpdateAllLastSynced stamps every synchronized entity with ts, the
// "mark complete" step after a successful pull batch. LastSyncedAt
// never moves backwards.
func (r *Repository) UpdateAllLastSynced(ts int64) error {
	if _, err := r.q.Exec(
		`UPDATE todo_lists SET last_synced_at = ? WHERE external_id != '' AND last_synced_at < ?`, ts, ts,
	); err != nil {
		return err
	}
	_, err := r.q.Exec(
		`UPDATE todo_items SET last_synced_at = ? WHERE external_id != '' AND last_synced_at < ?`, ts, ts,
	)
	return err
}

// placeholders returns n comma-separated SQL placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
