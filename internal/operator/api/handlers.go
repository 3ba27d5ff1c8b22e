package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/trigg3rX/mmlu-operator/internal/operator/tasks"
	"github.com/trigg3rX/mmlu-operator/internal/operator/types"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Operator string `json:"operator"`
	Uptime   string `json:"uptime"`
}

type AccuracyResponse struct {
	Average float64             `json:"average_pct"`
	Count   int                 `json:"count"`
	Tasks   []tasks.LedgerEntry `json:"tasks"`
}

type TasksResponse struct {
	Count int                `json:"count"`
	Tasks []types.TaskStatus `json:"tasks"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Operator: s.operator.Hex(),
		Uptime:   time.Since(s.startedAt).Truncate(time.Second).String(),
	})
}

func (s *Server) handleAccuracy(w http.ResponseWriter, r *http.Request) {
	avg, n := s.accuracy.Average()
	s.writeJSON(w, http.StatusOK, AccuracyResponse{Average: avg, Count: n, Tasks: s.accuracy.Entries()})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	statuses := s.tasks.Statuses()
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := statuses[:0]
		for _, st := range statuses {
			if string(st.State) == state {
				filtered = append(filtered, st)
			}
		}
		statuses = filtered
	}
	s.writeJSON(w, http.StatusOK, TasksResponse{Count: len(statuses), Tasks: statuses})
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 32)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "task index must be a uint32"})
		return
	}
	st, ok := s.tasks.Status(uint32(index))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "task not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
