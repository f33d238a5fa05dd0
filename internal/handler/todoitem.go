package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tasknexus/backend/internal/service"
)

// TodoItemHandler handles HTTP requests for todo item operations.
type TodoItemHandler struct {
	service *service.TodoItemService
}

// NewTodoItemHandler creates a new TodoItemHandler.
func NewTodoItemHandler(svc *service.TodoItemService) *TodoItemHandler {
	return &TodoItemHandler{service: svc}
}

type createItemRequest struct {
	Description string `json:"description"`
}

type updateItemRequest struct {
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

// HandleCreateItem handles POST /api/v1/lists/{list_id}/items requests.
func (h *TodoItemHandler) HandleCreateItem(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "list_id")
	if listID == "" || len(listID) > 36 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid list id"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	item, err := h.service.CreateItem(listID, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// HandleUpdateItem handles PUT /api/v1/items/{item_id} requests.
func (h *TodoItemHandler) HandleUpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")
	if itemID == "" || len(itemID) > 36 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid item id"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	item, err := h.service.UpdateItem(itemID, service.ItemUpdate{
		Description: req.Description,
		Completed:   req.Completed,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// HandleDeleteItem handles DELETE /api/v1/items/{item_id} requests.
func (h *TodoItemHandler) HandleDeleteItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")
	if itemID == "" || len(itemID) > 36 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid item id"))
		return
	}

	if err := h.service.DeleteItem(itemID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
