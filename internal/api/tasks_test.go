package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Patryk27/free-churro-scheduler/internal/storage/storagetest"
	"github.com/Patryk27/free-churro-scheduler/internal/task"
)

func newTestServer() (*Server, *storagetest.Gateway) {
	gw := storagetest.New()
	cfg := DefaultConfig()
	cfg.EnableCORS = false
	return New(cfg, gw, nil), gw
}

func TestHandleCreateTask(t *testing.T) {
	s, gw := newTestServer()

	body, err := json.Marshal(createTaskRequest{Def: json.RawMessage(`{"ty":"baz"}`)})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/tasks/", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp createTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	stored, err := gw.FindTask(req.Context(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Pending, stored.Status)
}

func TestHandleCreateTask_RejectsEmptyDef(t *testing.T) {
	s, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/tasks/", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetTask(t *testing.T) {
	s, gw := newTestServer()

	id, err := gw.CreateTask(context.Background(), []byte(`{"ty":"baz"}`), nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/tasks/"+id.String(), nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var got task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, id, got.ID)
}

func TestHandleGetTask_NotFound(t *testing.T) {
	s, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/tasks/"+uuid.New().String(), nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListTasks_FiltersByStatus(t *testing.T) {
	s, gw := newTestServer()

	_, err := gw.CreateTask(context.Background(), []byte(`{"ty":"baz"}`), nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/tasks/?status=pending", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var got []task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 1)
}

func TestHandleListTasks_RejectsUnrecognizedStatus(t *testing.T) {
	s, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/tasks/?status=bogus", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeleteTask(t *testing.T) {
	s, gw := newTestServer()

	id, err := gw.CreateTask(context.Background(), []byte(`{"ty":"baz"}`), nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/tasks/"+id.String(), nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err = gw.FindTask(context.Background(), id)
	assert.Error(t, err)
}
