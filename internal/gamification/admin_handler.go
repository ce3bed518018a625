package gamification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/studytrack/backend/internal/middleware"
	"github.com/studytrack/backend/internal/models"
)

// Catalog is the admin-managed configuration: rules, achievements and
// the product catalog. *Store implements it.
type Catalog interface {
	ListPointsRules(ctx context.Context) ([]models.PointsRule, error)
	PointsRule(ctx context.Context, id int64) (*models.PointsRule, error)
	CreatePointsRule(ctx context.Context, r *models.PointsRule) error
	UpdatePointsRule(ctx context.Context, r *models.PointsRule) error
	DeletePointsRule(ctx context.Context, id int64) error

	ListAchievements(ctx context.Context) ([]models.Achievement, error)
	Achievement(ctx context.Context, id int64) (*models.Achievement, error)
	CreateAchievement(ctx context.Context, a *models.Achievement) error
	UpdateAchievement(ctx context.Context, a *models.Achievement) error
	DeleteAchievement(ctx context.Context, id int64) error

	AchievementCategories(ctx context.Context) ([]models.AchievementCategory, error)
	CreateAchievementCategory(ctx context.Context, c *models.AchievementCategory) error
	UpdateAchievementCategory(ctx context.Context, c *models.AchievementCategory) error
	DeleteAchievementCategory(ctx context.Context, id int64) error

	ListProducts(ctx context.Context) ([]models.VirtualProduct, error)
	Product(ctx context.Context, id int64) (*models.VirtualProduct, error)
	CreateProduct(ctx context.Context, p *models.VirtualProduct) error
	UpdateProduct(ctx context.Context, p *models.VirtualProduct) error
	DeleteProduct(ctx context.Context, id int64) error

	ListProductCategories(ctx context.Context) ([]models.ProductCategory, error)
	CreateProductCategory(ctx context.Context, c *models.ProductCategory) error
	UpdateProductCategory(ctx context.Context, c *models.ProductCategory) error
	DeleteProductCategory(ctx context.Context, id int64) error
}

type AdminHandler struct {
	engine  *Engine
	catalog Catalog
}

func NewAdminHandler(engine *Engine, catalog Catalog) *AdminHandler {
	return &AdminHandler{engine: engine, catalog: catalog}
}

// ── Points rules ────────────────────────────────────────

func (h *AdminHandler) ListPointsRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.catalog.ListPointsRules(r.Context())
	if err != nil {
		serverError(w, r, err, "Failed to get points rules")
		return
	}
	writeData(w, http.StatusOK, rules)
}

func (h *AdminHandler) GetPointsRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rule, err := h.catalog.PointsRule(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err, "Failed to get points rule")
		return
	}
	writeData(w, http.StatusOK, rule)
}

func (h *AdminHandler) CreatePointsRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := decodePointsRule(w, r)
	if !ok {
		return
	}
	if err := h.catalog.CreatePointsRule(r.Context(), rule); err != nil {
		serverError(w, r, err, "Failed to create points rule")
		return
	}
	audit(r, "points_rule.create", rule.ID)
	writeData(w, http.StatusCreated, rule)
}

func (h *AdminHandler) UpdatePointsRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rule, ok := decodePointsRule(w, r)
	if !ok {
		return
	}
	rule.ID = id
	if err := h.catalog.UpdatePointsRule(r.Context(), rule); err != nil {
		writeEngineError(w, r, err, "Failed to update points rule")
		return
	}
	audit(r, "points_rule.update", id)
	writeData(w, http.StatusOK, rule)
}

func (h *AdminHandler) DeletePointsRule(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, "points_rule.delete", h.catalog.DeletePointsRule)
}

func decodePointsRule(w http.ResponseWriter, r *http.Request) (*models.PointsRule, bool) {
	var req models.PointsRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}

	trigger, err := models.ParseRuleTrigger(req.TriggerType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return nil, false
	}
	if req.Points <= 0 {
		writeError(w, http.StatusBadRequest, ErrInvalidPoints.Error())
		return nil, false
	}
	cond, err := ParseRuleConditions(req.Conditions)
	if err == nil {
		err = cond.Validate(trigger)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid conditions: %v", err))
		return nil, false
	}

	return &models.PointsRule{
		Name:        req.Name,
		Description: req.Description,
		TriggerType: trigger,
		Conditions:  req.Conditions,
		Points:      req.Points,
		IsActive:    boolOr(req.IsActive, true),
		SortOrder:   req.SortOrder,
	}, true
}

// ── Achievements ────────────────────────────────────────

func (h *AdminHandler) ListAchievements(w http.ResponseWriter, r *http.Request) {
	achievements, err := h.catalog.ListAchievements(r.Context())
	if err != nil {
		serverError(w, r, err, "Failed to get achievements")
		return
	}
	writeData(w, http.StatusOK, achievements)
}

func (h *AdminHandler) GetAchievement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := h.catalog.Achievement(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err, "Failed to get achievement")
		return
	}
	writeData(w, http.StatusOK, a)
}

func (h *AdminHandler) CreateAchievement(w http.ResponseWriter, r *http.Request) {
	a, ok := decodeAchievement(w, r)
	if !ok {
		return
	}
	if err := h.catalog.CreateAchievement(r.Context(), a); err != nil {
		serverError(w, r, err, "Failed to create achievement")
		return
	}
	audit(r, "achievement.create", a.ID)
	writeData(w, http.StatusCreated, a)
}

func (h *AdminHandler) UpdateAchievement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, ok := decodeAchievement(w, r)
	if !ok {
		return
	}
	a.ID = id
	if err := h.catalog.UpdateAchievement(r.Context(), a); err != nil {
		writeEngineError(w, r, err, "Failed to update achievement")
		return
	}
	audit(r, "achievement.update", id)
	writeData(w, http.StatusOK, a)
}

func (h *AdminHandler) DeleteAchievement(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, "achievement.delete", h.catalog.DeleteAchievement)
}

func decodeAchievement(w http.ResponseWriter, r *http.Request) (*models.Achievement, bool) {
	var req models.AchievementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}

	trigger, err := models.ParseAchievementTrigger(req.TriggerType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return nil, false
	}
	if req.Points < 0 {
		writeError(w, http.StatusBadRequest, "points must not be negative")
		return nil, false
	}
	if _, err := ParseThreshold(trigger, req.TriggerConditions); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid trigger_conditions: %v", err))
		return nil, false
	}

	level := req.Level
	if level < 1 {
		level = 1
	}
	return &models.Achievement{
		CategoryID:        req.CategoryID,
		Name:              req.Name,
		Description:       req.Description,
		Icon:              req.Icon,
		TriggerType:       trigger,
		TriggerConditions: req.TriggerConditions,
		Points:            req.Points,
		Level:             level,
		SortOrder:         req.SortOrder,
		IsActive:          boolOr(req.IsActive, true),
	}, true
}

func (h *AdminHandler) ListAchievementCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.AchievementCategories(r.Context())
	if err != nil {
		serverError(w, r, err, "Failed to get achievement categories")
		return
	}
	if categories == nil {
		categories = []models.AchievementCategory{}
	}
	writeData(w, http.StatusOK, categories)
}

func (h *AdminHandler) CreateAchievementCategory(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCategory(w, r)
	if !ok {
		return
	}
	c := &models.AchievementCategory{Name: req.Name, Description: req.Description, Icon: req.Icon, SortOrder: req.SortOrder}
	if err := h.catalog.CreateAchievementCategory(r.Context(), c); err != nil {
		serverError(w, r, err, "Failed to create achievement category")
		return
	}
	audit(r, "achievement_category.create", c.ID)
	writeData(w, http.StatusCreated, c)
}

func (h *AdminHandler) UpdateAchievementCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, ok := decodeCategory(w, r)
	if !ok {
		return
	}
	c := &models.AchievementCategory{ID: id, Name: req.Name, Description: req.Description, Icon: req.Icon, SortOrder: req.SortOrder}
	if err := h.catalog.UpdateAchievementCategory(r.Context(), c); err != nil {
		writeEngineError(w, r, err, "Failed to update achievement category")
		return
	}
	audit(r, "achievement_category.update", id)
	writeData(w, http.StatusOK, c)
}

func (h *AdminHandler) DeleteAchievementCategory(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, "achievement_category.delete", h.catalog.DeleteAchievementCategory)
}

// ── Products ────────────────────────────────────────────

func (h *AdminHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		serverError(w, r, err, "Failed to get products")
		return
	}
	writeData(w, http.StatusOK, products)
}

// GetProduct returns the product whether or not it is active.
func (h *AdminHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.catalog.Product(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err, "Failed to get product")
		return
	}
	writeData(w, http.StatusOK, p)
}

func (h *AdminHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	p, ok := decodeProduct(w, r)
	if !ok {
		return
	}
	if err := h.catalog.CreateProduct(r.Context(), p); err != nil {
		serverError(w, r, err, "Failed to create product")
		return
	}
	audit(r, "product.create", p.ID)
	writeData(w, http.StatusCreated, p)
}

func (h *AdminHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, ok := decodeProduct(w, r)
	if !ok {
		return
	}
	p.ID = id
	if err := h.catalog.UpdateProduct(r.Context(), p); err != nil {
		writeEngineError(w, r, err, "Failed to update product")
		return
	}
	audit(r, "product.update", id)
	writeData(w, http.StatusOK, p)
}

func (h *AdminHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, "product.delete", h.catalog.DeleteProduct)
}

func decodeProduct(w http.ResponseWriter, r *http.Request) (*models.VirtualProduct, bool) {
	var req models.ProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}

	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return nil, false
	}
	if req.PointsRequired <= 0 {
		writeError(w, http.StatusBadRequest, "points_required must be positive")
		return nil, false
	}
	stock := models.UnlimitedStock
	if req.StockQuantity != nil {
		stock = *req.StockQuantity
	}
	if stock < models.UnlimitedStock {
		writeError(w, http.StatusBadRequest, "stock_quantity must be -1 (unlimited) or non-negative")
		return nil, false
	}
	if req.ExchangeLimitPerUser < 0 {
		writeError(w, http.StatusBadRequest, "exchange_limit_per_user must not be negative")
		return nil, false
	}

	return &models.VirtualProduct{
		CategoryID:           req.CategoryID,
		Name:                 req.Name,
		Description:          req.Description,
		ImageURL:             req.ImageURL,
		PointsRequired:       req.PointsRequired,
		StockQuantity:        stock,
		ExchangeLimitPerUser: req.ExchangeLimitPerUser,
		RequiresApproval:     req.RequiresApproval,
		IsActive:             boolOr(req.IsActive, true),
		SortOrder:            req.SortOrder,
	}, true
}

func (h *AdminHandler) ListProductCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.ListProductCategories(r.Context())
	if err != nil {
		serverError(w, r, err, "Failed to get product categories")
		return
	}
	writeData(w, http.StatusOK, categories)
}

func (h *AdminHandler) CreateProductCategory(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCategory(w, r)
	if !ok {
		return
	}
	c := &models.ProductCategory{Name: req.Name, Description: req.Description, SortOrder: req.SortOrder, IsActive: boolOr(req.IsActive, true)}
	if err := h.catalog.CreateProductCategory(r.Context(), c); err != nil {
		serverError(w, r, err, "Failed to create product category")
		return
	}
	audit(r, "product_category.create", c.ID)
	writeData(w, http.StatusCreated, c)
}

func (h *AdminHandler) UpdateProductCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, ok := decodeCategory(w, r)
	if !ok {
		return
	}
	c := &models.ProductCategory{ID: id, Name: req.Name, Description: req.Description, SortOrder: req.SortOrder, IsActive: boolOr(req.IsActive, true)}
	if err := h.catalog.UpdateProductCategory(r.Context(), c); err != nil {
		writeEngineError(w, r, err, "Failed to update product category")
		return
	}
	audit(r, "product_category.update", id)
	writeData(w, http.StatusOK, c)
}

func (h *AdminHandler) DeleteProductCategory(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, "product_category.delete", h.catalog.DeleteProductCategory)
}

func decodeCategory(w http.ResponseWriter, r *http.Request) (models.CategoryRequest, bool) {
	var req models.CategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return req, false
	}
	return req, true
}

// ── Exchange approval ───────────────────────────────────

func (h *AdminHandler) ListExchangeRecords(w http.ResponseWriter, r *http.Request) {
	status, ok := statusFilter(w, r)
	if !ok {
		return
	}
	page := parsePage(r.URL.Query())
	records, err := h.engine.Exchange.Records(r.Context(), status, page)
	if err != nil {
		serverError(w, r, err, "Failed to get exchange records")
		return
	}
	writeData(w, http.StatusOK, models.PagedResponse{Items: records, Limit: page.Limit, Offset: page.Offset})
}

func (h *AdminHandler) ApproveExchange(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req models.ApproveExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Approved == nil {
		writeError(w, http.StatusBadRequest, "approved is required")
		return
	}

	rec, err := h.engine.Exchange.Approve(r.Context(), id, adminID, *req.Approved, req.Notes)
	if err != nil {
		writeEngineError(w, r, err, "Failed to review exchange")
		return
	}
	writeData(w, http.StatusOK, rec)
}

// ── Helpers ─────────────────────────────────────────────

func (h *AdminHandler) delete(w http.ResponseWriter, r *http.Request, action string, del func(context.Context, int64) error) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := del(r.Context(), id); err != nil {
		writeEngineError(w, r, err, "Failed to delete")
		return
	}
	audit(r, action, id)
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "Deleted"})
}

func audit(r *http.Request, action string, id int64) {
	adminID, _ := middleware.UserID(r.Context())
	log.WithFields(log.Fields{
		"component":  "admin",
		"admin_id":   adminID,
		"action":     action,
		"target_id":  id,
		"request_id": middleware.RequestID(r.Context()),
	}).Info("admin change")
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
