package models

import (
	"encoding/json"
	"time"
)

// ── Points ledger ─────────────────────────────────────────

// UserPoints is the per-user balance row.
// TotalPoints == AvailablePoints + UsedPoints must hold after every write.
type UserPoints struct {
	UserID          int64     `json:"user_id"`
	TotalPoints     int64     `json:"total_points"`
	AvailablePoints int64     `json:"available_points"`
	UsedPoints      int64     `json:"used_points"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Consistent reports whether the balance invariants hold.
func (p UserPoints) Consistent() bool {
	return p.AvailablePoints >= 0 && p.TotalPoints == p.AvailablePoints+p.UsedPoints
}

// PointsRecord is an append-only ledger entry.
type PointsRecord struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	RuleID       *int64          `json:"rule_id,omitempty"`
	RecordType   RecordType      `json:"record_type"`
	PointsChange int64           `json:"points_change"`
	BalanceAfter int64           `json:"balance_after"`
	Description  string          `json:"description"`
	RelatedData  json.RawMessage `json:"related_data,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type PointsRule struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	TriggerType RuleTrigger     `json:"trigger_type"`
	Conditions  json.RawMessage `json:"conditions"`
	Points      int64           `json:"points"`
	IsActive    bool            `json:"is_active"`
	SortOrder   int             `json:"sort_order"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ── Achievements ──────────────────────────────────────────

type AchievementCategory struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	SortOrder   int       `json:"sort_order"`
	CreatedAt   time.Time `json:"created_at"`
}

type Achievement struct {
	ID                int64              `json:"id"`
	CategoryID        *int64             `json:"category_id,omitempty"`
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	Icon              string             `json:"icon"`
	TriggerType       AchievementTrigger `json:"trigger_type"`
	TriggerConditions json.RawMessage    `json:"trigger_conditions"`
	Points            int64              `json:"points"`
	Level             int                `json:"level"`
	SortOrder         int                `json:"sort_order"`
	IsActive          bool               `json:"is_active"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// UserAchievementKey identifies the one progress row per user and achievement.
type UserAchievementKey struct {
	UserID        int64
	AchievementID int64
}

type UserAchievement struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	AchievementID   int64           `json:"achievement_id"`
	IsCompleted     bool            `json:"is_completed"`
	CurrentProgress int64           `json:"current_progress"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CompletionData  json.RawMessage `json:"completion_data,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (u UserAchievement) Key() UserAchievementKey {
	return UserAchievementKey{UserID: u.UserID, AchievementID: u.AchievementID}
}

// Achievement progress states as shown to users.
const (
	ProgressNotStarted = "not_started"
	ProgressInProgress = "in_progress"
	ProgressCompleted  = "completed"
)

// AchievementProgress is an achievement definition joined with one user's row.
type AchievementProgress struct {
	Achievement
	State           string     `json:"state"`
	CurrentProgress int64      `json:"current_progress"`
	Target          int64      `json:"target"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// ── Exchange ──────────────────────────────────────────────

type ProductCategory struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	SortOrder   int       `json:"sort_order"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// UnlimitedStock marks a product that never runs out.
const UnlimitedStock = -1

type VirtualProduct struct {
	ID                   int64     `json:"id"`
	CategoryID           *int64    `json:"category_id,omitempty"`
	Name                 string    `json:"name"`
	Description          string    `json:"description"`
	ImageURL             string    `json:"image_url,omitempty"`
	PointsRequired       int64     `json:"points_required"`
	StockQuantity        int       `json:"stock_quantity"`
	ExchangeLimitPerUser int       `json:"exchange_limit_per_user"`
	RequiresApproval     bool      `json:"requires_approval"`
	IsActive             bool      `json:"is_active"`
	SortOrder            int       `json:"sort_order"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (p VirtualProduct) Unlimited() bool {
	return p.StockQuantity == UnlimitedStock
}

type ExchangeRecord struct {
	ID            int64          `json:"id"`
	OrderNo       string         `json:"order_no"`
	UserID        int64          `json:"user_id"`
	ProductID     int64          `json:"product_id"`
	ProductName   string         `json:"product_name,omitempty"`
	PointsSpent   int64          `json:"points_spent"`
	Quantity      int            `json:"quantity"`
	Status        ExchangeStatus `json:"status"`
	ApprovedBy    *int64         `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time     `json:"approved_at,omitempty"`
	ApprovalNotes string         `json:"approval_notes,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ExchangeStatsKey identifies the per-user, per-product usage counter.
type ExchangeStatsKey struct {
	UserID    int64
	ProductID int64
}

type UserExchangeStats struct {
	UserID           int64      `json:"user_id"`
	ProductID        int64      `json:"product_id"`
	ExchangeCount    int        `json:"exchange_count"`
	TotalPointsSpent int64      `json:"total_points_spent"`
	LastExchangeAt   *time.Time `json:"last_exchange_at,omitempty"`
}

// ── Notifications ─────────────────────────────────────────

type Notification struct {
	ID        int64            `json:"id"`
	UserID    int64            `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      json.RawMessage  `json:"data,omitempty"`
	DedupeKey string           `json:"-"`
	IsRead    bool             `json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
}

// ── Request / Response DTOs ───────────────────────────────

type ExchangeRequest struct {
	Quantity int `json:"quantity"`
}

type ApproveExchangeRequest struct {
	Approved *bool  `json:"approved"`
	Notes    string `json:"notes"`
}

type ExchangeResponse struct {
	Record           ExchangeRecord `json:"record"`
	RequiresApproval bool           `json:"requires_approval"`
	Balance          UserPoints     `json:"balance"`
}

type PointsRuleRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	TriggerType string          `json:"trigger_type"`
	Conditions  json.RawMessage `json:"conditions"`
	Points      int64           `json:"points"`
	IsActive    *bool           `json:"is_active"`
	SortOrder   int             `json:"sort_order"`
}

type AchievementRequest struct {
	CategoryID        *int64          `json:"category_id"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Icon              string          `json:"icon"`
	TriggerType       string          `json:"trigger_type"`
	TriggerConditions json.RawMessage `json:"trigger_conditions"`
	Points            int64           `json:"points"`
	Level             int             `json:"level"`
	SortOrder         int             `json:"sort_order"`
	IsActive          *bool           `json:"is_active"`
}

type ProductRequest struct {
	CategoryID           *int64 `json:"category_id"`
	Name                 string `json:"name"`
	Description          string `json:"description"`
	ImageURL             string `json:"image_url"`
	PointsRequired       int64  `json:"points_required"`
	StockQuantity        *int   `json:"stock_quantity"`
	ExchangeLimitPerUser int    `json:"exchange_limit_per_user"`
	RequiresApproval     bool   `json:"requires_approval"`
	IsActive             *bool  `json:"is_active"`
	SortOrder            int    `json:"sort_order"`
}

type CategoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	SortOrder   int    `json:"sort_order"`
	IsActive    *bool  `json:"is_active"`
}

// Page is a limit/offset window for list endpoints.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type PagedResponse struct {
	Items  interface{} `json:"items"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}
