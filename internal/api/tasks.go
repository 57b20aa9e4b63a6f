package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Patryk27/free-churro-scheduler/internal/errs"
	"github.com/Patryk27/free-churro-scheduler/internal/storage"
	"github.com/Patryk27/free-churro-scheduler/internal/task"
)

type createTaskRequest struct {
	Def         json.RawMessage `json:"def"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
}

type createTaskResponse struct {
	ID uuid.UUID `json:"id"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(req.Def) == 0 {
		respondError(w, http.StatusBadRequest, "def is required")
		return
	}

	id, err := s.gateway.CreateTask(r.Context(), req.Def, req.ScheduledAt)
	if err != nil {
		s.logger.Error("couldn't create task", "error", err)
		respondError(w, http.StatusInternalServerError, "couldn't create task")
		return
	}

	respondJSON(w, http.StatusCreated, createTaskResponse{ID: id})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed task id")
		return
	}

	t, err := s.gateway.FindTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, errs.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("couldn't look up task", "task", id, "error", err)
		respondError(w, http.StatusInternalServerError, "couldn't look up task")
		return
	}

	respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var filter storage.Filter

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := task.Status(raw)
		if !status.Valid() {
			respondError(w, http.StatusBadRequest, "unrecognized status")
			return
		}
		filter.Status = &status
	}

	tasks, err := s.gateway.FindTasks(r.Context(), filter)
	if err != nil {
		s.logger.Error("couldn't list tasks", "error", err)
		respondError(w, http.StatusInternalServerError, "couldn't list tasks")
		return
	}

	respondJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed task id")
		return
	}

	if err := s.gateway.DeleteTask(r.Context(), id); err != nil {
		if errors.Is(err, errs.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("couldn't delete task", "task", id, "error", err)
		respondError(w, http.StatusInternalServerError, "couldn't delete task")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
