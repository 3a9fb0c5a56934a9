package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/techs-targe/PromptRig-sub001/internal/store"
	"github.com/techs-targe/PromptRig-sub001/internal/task"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRequest struct {
	SessionID   string   `json:"session_id"`
	Text        string   `json:"text"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type submitResponse struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

func (s *Server) handleTaskSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	model := req.Model
	if model == "" {
		model = s.defaultModel
	}
	temperature := s.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	settings, err := s.st.GetSettings(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("settings_load_failed")
		writeError(w, http.StatusInternalServerError, "internal", "could not load settings")
		return
	}

	taskID := uuid.NewString()
	err = s.runner.Submit(r.Context(), task.Request{
		TaskID:        taskID,
		SessionID:     req.SessionID,
		UserText:      req.Text,
		Model:         model,
		Temperature:   temperature,
		MaxIterations: settings.MaxIterations,
	})
	switch {
	case errors.Is(err, task.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "queue_full", "task queue is full, retry later")
		return
	case err != nil:
		log.Error().Err(err).Msg("task_submit_failed")
		writeError(w, http.StatusInternalServerError, "internal", "could not submit task")
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{
		TaskID:    taskID,
		SessionID: req.SessionID,
		Status:    store.TaskPending,
	})
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.st.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("task_id", id).Msg("task_get_failed")
		writeError(w, http.StatusInternalServerError, "internal", "could not load task")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	since := int64(0)
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "since must be a non-negative integer")
			return
		}
		since = n
	}
	if _, err := s.st.GetTask(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	events, err := s.runner.Events(r.Context(), id, since)
	if err != nil {
		log.Error().Err(err).Str("task_id", id).Msg("events_read_failed")
		writeError(w, http.StatusInternalServerError, "internal", "could not load events")
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"task_id": id, "events": events})
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.runner.Cancel(id) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"task_id": id, "canceled": true})
		return
	}
	t, err := s.st.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("task_id", id).Msg("task_get_failed")
		writeError(w, http.StatusInternalServerError, "internal", "could not load task")
		return
	}
	writeError(w, http.StatusConflict, "not_cancelable", fmt.Sprintf("task is already %s", t.Status))
}

const streamPollInterval = 500 * time.Millisecond

// handleTaskStream re-polls the event feed and pushes new events as SSE.
// The stream ends when the task reaches a terminal status or the
// configured stream timeout elapses, whichever comes first.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.st.GetTask(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	settings, err := s.st.GetSettings(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("settings_load_failed")
		writeError(w, http.StatusInternalServerError, "internal", "could not load settings")
		return
	}
	deadline := time.Now().Add(time.Duration(settings.StreamTimeoutSeconds) * time.Second)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	since := int64(0)
	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	for {
		events, err := s.runner.Events(r.Context(), id, since)
		if err != nil {
			log.Warn().Err(err).Str("task_id", id).Msg("stream_events_read_failed")
		}
		for _, ev := range events {
			payload, _ := json.Marshal(ev)
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Index, ev.Type, payload)
			since = ev.Index + 1
		}
		if len(events) > 0 {
			flusher.Flush()
		}

		t, err := s.st.GetTask(r.Context(), id)
		if err == nil && t.Terminal() {
			// Drain anything the final flush appended after our read.
			if tail, err := s.runner.Events(r.Context(), id, since); err == nil {
				for _, ev := range tail {
					payload, _ := json.Marshal(ev)
					fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Index, ev.Type, payload)
					since = ev.Index + 1
				}
			}
			fmt.Fprintf(w, "event: done\ndata: {\"status\":%q}\n\n", t.Status)
			flusher.Flush()
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			fmt.Fprint(w, "event: timeout\ndata: {}\n\n")
			flusher.Flush()
			return
		}
	}
}
