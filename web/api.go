package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/martinemde/codepair/conversation"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.getStatus)

	mux.HandleFunc("GET /api/tasks", s.listTasks)
	mux.HandleFunc("POST /api/tasks", s.createTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.getTask)
	mux.HandleFunc("GET /api/tasks/{id}/events", s.getTaskEvents)
	mux.HandleFunc("POST /api/tasks/{id}/reply", s.replyTask)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", s.cancelTask)

	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.getRunEvents)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonStatus(w http.ResponseWriter, data any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	jsonStatus(w, map[string]string{"error": msg}, code)
}

// taskView is the live state of an in-memory run.
type taskView struct {
	ID            string `json:"id"`
	Task          string `json:"task"`
	Status        string `json:"status"`
	PendingPrompt string `json:"pending_prompt,omitempty"`
	Events        int    `json:"events"`
}

func viewOf(h *runHub) taskView {
	v := taskView{
		ID:     h.run.ID(),
		Task:   h.run.Task(),
		Status: h.run.Status(),
		Events: len(h.events()),
	}
	if prompt, ok := h.run.Pending(); ok {
		v.PendingPrompt = prompt
	}
	return v
}

// --- Status ---

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	active := 0
	for _, h := range s.hubs() {
		if !h.finished() {
			active++
		}
	}
	jsonResponse(w, map[string]any{
		"status":      "ok",
		"version":     s.version,
		"active_runs": active,
		"journal":     s.store != nil,
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// --- Tasks ---

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	hubs := s.hubs()
	out := make([]taskView, 0, len(hubs))
	for _, h := range hubs {
		out = append(out, viewOf(h))
	}
	jsonResponse(w, out)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Problem string `json:"problem"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	problem := strings.TrimSpace(body.Problem)
	if problem == "" {
		jsonError(w, "problem is required", http.StatusBadRequest)
		return
	}

	hub := s.launch(problem)
	id := hub.run.ID()
	s.logger.Info("task started", "run", id)
	jsonStatus(w, map[string]string{"id": id}, http.StatusAccepted)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	hub, ok := s.lookup(r.PathValue("id"))
	if !ok {
		jsonError(w, "task not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, viewOf(hub))
}

func (s *Server) getTaskEvents(w http.ResponseWriter, r *http.Request) {
	hub, ok := s.lookup(r.PathValue("id"))
	if !ok {
		jsonError(w, "task not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, hub.events())
}

func (s *Server) replyTask(w http.ResponseWriter, r *http.Request) {
	hub, ok := s.lookup(r.PathValue("id"))
	if !ok {
		jsonError(w, "task not found", http.StatusNotFound)
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := hub.run.Reply(body.Content)
	switch {
	case err == nil:
		jsonResponse(w, map[string]string{"status": "accepted"})
	case errors.Is(err, conversation.ErrProtocolViolation):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, conversation.ErrCancelled):
		jsonError(w, "task is no longer accepting input", http.StatusGone)
	default:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	hub, ok := s.lookup(r.PathValue("id"))
	if !ok {
		jsonError(w, "task not found", http.StatusNotFound)
		return
	}
	hub.run.Cancel()
	s.logger.Info("task cancel requested", "run", hub.run.ID())
	jsonStatus(w, map[string]string{"status": "cancelling"}, http.StatusAccepted)
}

// --- Journal ---

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "run journal not configured", http.StatusServiceUnavailable)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		jsonResponse(w, []any{})
		return
	}
	jsonResponse(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "run journal not configured", http.StatusServiceUnavailable)
		return
	}
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) getRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "run journal not configured", http.StatusServiceUnavailable)
		return
	}
	events, err := s.store.GetRunEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []conversation.Event{}
	}
	jsonResponse(w, events)
}
