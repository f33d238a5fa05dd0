package service

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/tasknexus/backend/internal/db"
	apperrors "github.com/tasknexus/backend/internal/errors"
	"github.com/tasknexus/backend/internal/models"
)

const maxDescriptionLength = 1024

// TodoItemService handles todo item business logic.
type TodoItemService struct {
	repo *db.Repository
}

// NewTodoItemService creates a new TodoItemService.
func NewTodoItemService(repo *db.Repository) *TodoItemService {
	return &TodoItemService{repo: repo}
}

// CreateItem adds an item to an active list. The owning list is flagged
// pending so the push phase picks the new item up.
func (s *TodoItemService) CreateItem(listID, description string) (*models.TodoItem, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, apperrors.New(apperrors.ErrItemInvalid, "item description is required")
	}
	if len(description) > maxDescriptionLength {
		return nil, apperrors.New(apperrors.ErrItemInvalid, "item description is too long")
	}

	list, err := s.repo.GetList(listID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.ErrListNotFound, "list not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to get list", err)
	}
	if list.IsDeleted {
		return nil, apperrors.New(apperrors.ErrListNotFound, "list not found")
	}

	item := &models.TodoItem{
		ListID:      list.ID,
		Description: description,
		PendingSync: true,
	}

	err = s.repo.WithTx(func(tx *db.Repository) error {
		if err := tx.CreateItem(item); err != nil {
			return err
		}
		list.PendingSync = true
		return tx.UpdateList(list)
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to create item", err)
	}
	return item, nil
}

// GetItem returns an item by ID. Soft-deleted items are not found.
func (s *TodoItemService) GetItem(id string) (*models.TodoItem, error) {
	item, err := s.repo.GetItem(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.ErrItemNotFound, "item not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to get item", err)
	}
	if item.IsDeleted {
		return nil, apperrors.New(apperrors.ErrItemNotFound, "item not found")
	}
	return item, nil
}

// ItemUpdate carries the mutable item fields. Nil fields are left
// untouched.
type ItemUpdate struct {
	Description *string
	Completed   *bool
}

// UpdateItem applies an update and flags the item for the next push.
func (s *TodoItemService) UpdateItem(id string, update ItemUpdate) (*models.TodoItem, error) {
	item, err := s.GetItem(id)
	if err != nil {
		return nil, err
	}

	if update.Description != nil {
		desc := strings.TrimSpace(*update.Description)
		if desc == "" {
			return nil, apperrors.New(apperrors.ErrItemInvalid, "item description is required")
		}
		if len(desc) > maxDescriptionLength {
			return nil, apperrors.New(apperrors.ErrItemInvalid, "item description is too long")
		}
		item.Description = desc
	}
	if update.Completed != nil {
		item.Completed = *update.Completed
	}

	item.Touch()
	if err := s.repo.UpdateItem(item); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to update item", err)
	}
	return item, nil
}

// DeleteItem soft-deletes an item and flags the owning list pending.
func (s *TodoItemService) DeleteItem(id string) error {
	err := s.repo.SoftDeleteItem(id)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.New(apperrors.ErrItemNotFound, "item not found")
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete item", err)
	}
	return nil
}
