package notifications

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
	protected.HandleFunc("/notifications", h.List).Methods("GET")
	protected.HandleFunc("/notifications/unread-count", h.UnreadCount).Methods("GET")
	protected.HandleFunc("/notifications/read-all", h.MarkAllRead).Methods("PUT")
	protected.HandleFunc("/notifications/{id:[0-9]+}/read", h.MarkRead).Methods("PUT")
}

// List returns the caller's notifications, newest first. ?unread=true
// limits the result to unread ones.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	q := r.URL.Query()
	unreadOnly, _ := strconv.ParseBool(q.Get("unread"))
	page := models.Page{Limit: defaultPageSize}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v >= 1 && v <= 100 {
		page.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		page.Offset = v
	}

	items, err := h.svc.List(r.Context(), userID, unreadOnly, page)
	if err != nil {
		serverError(w, r, err, "Failed to get notifications")
		return
	}
	if items == nil {
		items = []models.Notification{}
	}
	writeData(w, http.StatusOK, models.PagedResponse{Items: items, Limit: page.Limit, Offset: page.Offset})
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	n, err := h.svc.UnreadCount(r.Context(), userID)
	if err != nil {
		serverError(w, r, err, "Failed to count notifications")
		return
	}
	writeData(w, http.StatusOK, map[string]int{"unread_count": n})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}

	if err := h.svc.MarkRead(r.Context(), userID, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		serverError(w, r, err, "Failed to mark notification read")
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "Notification marked as read"})
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	n, err := h.svc.MarkAllRead(r.Context(), userID)
	if err != nil {
		serverError(w, r, err, "Failed to mark notifications read")
		return
	}
	writeData(w, http.StatusOK, map[string]int64{"updated": n})
}

func serverError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	log.WithError(err).WithFields(log.Fields{
		"component":  "notifications",
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
