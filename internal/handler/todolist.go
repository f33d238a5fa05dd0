package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tasknexus/backend/internal/models"
	"github.com/tasknexus/backend/internal/service"
)

// TodoListHandler handles HTTP requests for todo list operations.
type TodoListHandler struct {
	service *service.TodoListService
}

// NewTodoListHandler creates a new TodoListHandler.
func NewTodoListHandler(svc *service.TodoListService) *TodoListHandler {
	return &TodoListHandler{service: svc}
}

type listRequest struct {
	Name string `json:"name"`
}

// HandleCreateList handles POST /api/v1/lists requests.
func (h *TodoListHandler) HandleCreateList(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req listRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	list, err := h.service.CreateList(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, list)
}

// HandleListLists handles GET /api/v1/lists requests.
func (h *TodoListHandler) HandleListLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.service.ListLists()
	if err != nil {
		writeError(w, err)
		return
	}
	if lists == nil {
		lists = []*models.TodoList{}
	}
	writeJSON(w, http.StatusOK, lists)
}

// HandleGetList handles GET /api/v1/lists/{list_id} requests.
func (h *TodoListHandler) HandleGetList(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "list_id")
	if listID == "" || len(listID) > 36 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid list id"))
		return
	}

	list, err := h.service.GetList(listID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleUpdateList handles PUT /api/v1/lists/{list_id} requests.
func (h *TodoListHandler) HandleUpdateList(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "list_id")
	if listID == "" || len(listID) > 36 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid list id"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req listRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	list, err := h.service.UpdateList(listID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleDeleteList handles DELETE /api/v1/lists/{list_id} requests.
func (h *TodoListHandler) HandleDeleteList(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "list_id")
	if listID == "" || len(listID) > 36 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid list id"))
		return
	}

	if err := h.service.DeleteList(listID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
