package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/golang/glog"

	"github.com/schedule-sync/backend/internal/catalog"
	"github.com/schedule-sync/backend/internal/schedule"
	"github.com/schedule-sync/backend/internal/synchronize"
)

const maxBodySize = 16 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, schedule.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, catalog.ErrUnknownCourse), errors.Is(err, schedule.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, schedule.ErrDuplicateEntry):
		status = http.StatusConflict
	case errors.Is(err, synchronize.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		glog.Errorf("[api] %v", err)
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health.Snapshot())
}

func (s *Server) handleCourses(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		http.Error(w, "catalog not loaded", http.StatusServiceUnavailable)
		return
	}
	limit := s.config.Catalog.MaxResults
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, s.config.Catalog.MaxResults)
	}
	results := s.catalog.Search(r.URL.Query().Get("q"), limit)
	if results == nil {
		results = []catalog.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := s.schedules.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type createRequest struct {
	Name string `json:"name"`
	Term string `json:"term"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !readJSON(w, r, &req) {
		return
	}
	sch, err := s.schedules.Create(r.Context(), req.Name, req.Term)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sch)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	v, err := s.schedules.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameSchedule(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.schedules.Rename(r.PathValue("id"), req.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	ok, err := s.schedules.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "schedule not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addEntryRequest struct {
	CourseID string `json:"courseId"`
}

func (s *Server) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	var req addEntryRequest
	if !readJSON(w, r, &req) {
		return
	}
	e, err := s.schedules.AddCourse(r.PathValue("id"), req.CourseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	var patch schedule.EntryPatch
	if !readJSON(w, r, &patch) {
		return
	}
	if err := s.schedules.UpdateEntry(r.PathValue("id"), r.PathValue("courseId"), patch); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.schedules.RemoveCourse(r.PathValue("id"), r.PathValue("courseId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
