package study

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/studytrack/backend/internal/middleware"
	"github.com/studytrack/backend/internal/models"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(protected *mux.Router) {
	protected.HandleFunc("/projects", h.ListProjects).Methods("GET")
	protected.HandleFunc("/projects", h.CreateProject).Methods("POST")
	protected.HandleFunc("/projects/{id:[0-9]+}/complete", h.CompleteProject).Methods("PUT")
	protected.HandleFunc("/study-sessions", h.ListSessions).Methods("GET")
	protected.HandleFunc("/study-sessions", h.CreateSession).Methods("POST")
}

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var status models.ProjectStatus
	if v := r.URL.Query().Get("status"); v != "" {
		s, err := models.ParseProjectStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = s
	}

	projects, err := h.svc.Projects(r.Context(), userID, status)
	if err != nil {
		serverError(w, r, err, "Failed to get projects")
		return
	}
	if projects == nil {
		projects = []models.Project{}
	}
	writeData(w, http.StatusOK, projects)
}

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	p, err := h.svc.CreateProject(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, r, err, "Failed to create project")
		return
	}
	writeData(w, http.StatusCreated, p)
}

func (h *Handler) CompleteProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid project id")
		return
	}

	resp, err := h.svc.CompleteProject(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, r, err, "Failed to complete project")
		return
	}
	writeData(w, http.StatusOK, resp)
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	q := r.URL.Query()
	page := models.Page{Limit: 20}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v >= 1 && v <= 100 {
		page.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		page.Offset = v
	}

	sessions, err := h.svc.Sessions(r.Context(), userID, page)
	if err != nil {
		serverError(w, r, err, "Failed to get study sessions")
		return
	}
	if sessions == nil {
		sessions = []models.StudySession{}
	}
	writeData(w, http.StatusOK, models.PagedResponse{Items: sessions, Limit: page.Limit, Offset: page.Offset})
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.svc.LogSession(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, r, err, "Failed to record study session")
		return
	}
	writeData(w, http.StatusCreated, resp)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, ErrProjectNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidSession), errors.Is(err, ErrInvalidProject):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		serverError(w, r, err, fallback)
	}
}

func serverError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	log.WithError(err).WithFields(log.Fields{
		"component":  "study",
		"request_id": middleware.RequestID(r.Context()),
	}).Error(msg)
	writeError(w, http.StatusInternalServerError, msg)
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, models.APIResponse{Success: true, Data: data})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Success: false, Error: msg})
}
