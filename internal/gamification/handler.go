package gamification

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/studytrack/backend/internal/middleware"
	"github.com/studytrack/backend/internal/models"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// ── Points ──────────────────────────────────────────────

func (h *Handler) GetUserPoints(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	bal, err := h.engine.Ledger.Balance(r.Context(), userID)
	if err != nil {
		serverError(w, r, err, "Failed to get points balance")
		return
	}

	writeData(w, http.StatusOK, bal)
}

func (h *Handler) ListPointsRecords(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var recordType models.RecordType
	if v := r.URL.Query().Get("record_type"); v != "" {
		t, err := models.ParseRecordType(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		recordType = t
	}

	page := parsePage(r.URL.Query())
	records, err := h.engine.Ledger.Records(r.Context(), userID, recordType, page)
	if err != nil {
		serverError(w, r, err, "Failed to get points records")
		return
	}

	writeData(w, http.StatusOK, models.PagedResponse{Items: records, Limit: page.Limit, Offset: page.Offset})
}

// ── Products & exchange ─────────────────────────────────

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	var categoryID *int64
	if v := r.URL.Query().Get("category_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid category_id")
			return
		}
		categoryID = &id
	}

	products, err := h.engine.Exchange.Products(r.Context(), categoryID)
	if err != nil {
		serverError(w, r, err, "Failed to get products")
		return
	}

	writeData(w, http.StatusOK, products)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	p, err := h.engine.Exchange.Product(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err, "Failed to get product")
		return
	}

	writeData(w, http.StatusOK, p)
}

func (h *Handler) ListProductCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.engine.Exchange.Categories(r.Context())
	if err != nil {
		serverError(w, r, err, "Failed to get product categories")
		return
	}
	if categories == nil {
		categories = []models.ProductCategory{}
	}

	writeData(w, http.StatusOK, categories)
}

func (h *Handler) ExchangeProduct(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	productID, ok := pathID(w, r)
	if !ok {
		return
	}

	req := models.ExchangeRequest{Quantity: 1}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	resp, err := h.engine.Exchange.Exchange(r.Context(), userID, productID, req.Quantity)
	if err != nil {
		writeEngineError(w, r, err, "Failed to exchange product")
		return
	}

	msg := "Exchange successful"
	if resp.RequiresApproval {
		msg = "Exchange submitted for approval"
	}
	writeJSON(w, http.StatusCreated, models.APIResponse{Success: true, Data: resp, Message: msg})
}

func (h *Handler) ListExchangeRecords(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	status, ok := statusFilter(w, r)
	if !ok {
		return
	}

	page := parsePage(r.URL.Query())
	records, err := h.engine.Exchange.UserRecords(r.Context(), userID, status, page)
	if err != nil {
		serverError(w, r, err, "Failed to get exchange records")
		return
	}

	writeData(w, http.StatusOK, models.PagedResponse{Items: records, Limit: page.Limit, Offset: page.Offset})
}

// ── Achievements ────────────────────────────────────────

func (h *Handler) ListAchievements(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	progress, err := h.engine.Achievements.ListForUser(r.Context(), userID)
	if err != nil {
		serverError(w, r, err, "Failed to get achievements")
		return
	}

	writeData(w, http.StatusOK, progress)
}

func (h *Handler) ListAchievementCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.engine.Achievements.Categories(r.Context())
	if err != nil {
		serverError(w, r, err, "Failed to get achievement categories")
		return
	}
	if categories == nil {
		categories = []models.AchievementCategory{}
	}

	writeData(w, http.StatusOK, categories)
}

// ── Helpers ─────────────────────────────────────────────

// statusFor maps engine errors to HTTP statuses. Anything unknown is a
// storage failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrExchangeNotFound),
		errors.Is(err, ErrProjectNotFound),
		errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidPoints),
		errors.Is(err, ErrUnknownTrigger),
		errors.Is(err, ErrMissingThreshold):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientPoints),
		errors.Is(err, ErrOutOfStock),
		errors.Is(err, ErrExchangeLimitReached),
		errors.Is(err, ErrExchangeNotPending):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeEngineError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		serverError(w, r, err, fallback)
		return
	}
	writeError(w, status, err.Error())
}

func serverError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	log.WithError(err).WithFields(log.Fields{
		"component":  "gamification",
		"request_id": middleware.RequestID(r.Context()),
		"path":       r.URL.Path,
	}).Error(msg)
	writeError(w, http.StatusInternalServerError, msg)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}

func statusFilter(w http.ResponseWriter, r *http.Request) (models.ExchangeStatus, bool) {
	v := r.URL.Query().Get("status")
	if v == "" {
		return "", true
	}
	s, err := models.ParseExchangeStatus(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return s, true
}

func parsePage(q url.Values) models.Page {
	page := models.Page{
		Limit:  intQueryParam(q, "limit", defaultPageSize),
		Offset: intQueryParam(q, "offset", 0),
	}
	if page.Limit < 1 || page.Limit > 100 {
		page.Limit = defaultPageSize
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	return page
}

func intQueryParam(q url.Values, key string, defaultVal int) int {
	s := q.Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
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
