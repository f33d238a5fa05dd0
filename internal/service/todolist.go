// Package service implements the business logic in front of the
// repository: validation, pending-flag bookkeeping, and soft deletes.
package service

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/tasknexus/backend/internal/db"
	apperrors "github.com/tasknexus/backend/internal/errors"
	"github.com/tasknexus/backend/internal/logging"
	"github.com/tasknexus/backend/internal/models"
)

const maxNameLength = 255

// TodoListService handles todo list business logic. Every local
// mutation flags the list pending so the next sync cycle pushes it.
type TodoListService struct {
	repo *db.Repository
}

// NewTodoListService creates a new TodoListService.
func NewTodoListService(repo *db.Repository) *TodoListService {
	return &TodoListService{repo: repo}
}

// CreateList creates a new local list awaiting its first push.
func (s *TodoListService) CreateList(name string) (*models.TodoList, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.New(apperrors.ErrListInvalid, "list name is required")
	}
	if len(name) > maxNameLength {
		return nil, apperrors.New(apperrors.ErrListInvalid, "list name is too long")
	}

	list := &models.TodoList{
		Name:        name,
		PendingSync: true,
	}
	if err := s.repo.CreateList(list); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to create list", err)
	}

	logging.Info("List created",
		map[string]interface{}{"list_id": string(list.ID), "name": name})
	return list, nil
}

// GetList returns a list with its active items. Soft-deleted lists are
// not found.
func (s *TodoListService) GetList(id string) (*models.TodoList, error) {
	list, err := s.repo.GetList(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.ErrListNotFound, "list not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to get list", err)
	}
	if list.IsDeleted {
		return nil, apperrors.New(apperrors.ErrListNotFound, "list not found")
	}

	items, err := s.repo.ListItems(id, false)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load items", err)
	}
	list.Items = items
	return list, nil
}

// ListLists returns all active lists without their items.
func (s *TodoListService) ListLists() ([]*models.TodoList, error) {
	lists, err := s.repo.ListActiveLists()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list lists", err)
	}
	return lists, nil
}

// UpdateList renames a list and flags it for the next push.
func (s *TodoListService) UpdateList(id, name string) (*models.TodoList, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.New(apperrors.ErrListInvalid, "list name is required")
	}
	if len(name) > maxNameLength {
		return nil, apperrors.New(apperrors.ErrListInvalid, "list name is too long")
	}

	list, err := s.GetList(id)
	if err != nil {
		return nil, err
	}

	list.Name = name
	list.Touch()
	if err := s.repo.UpdateList(list); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to update list", err)
	}
	return list, nil
}

// DeleteList soft-deletes a list and all its items. The tombstones
// propagate to the remote side on the next push.
func (s *TodoListService) DeleteList(id string) error {
	err := s.repo.SoftDeleteList(id)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.New(apperrors.ErrListNotFound, "list not found")
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete list", err)
	}

	logging.Info("List deleted", map[string]interface{}{"list_id": id})
	return nil
}
