package gamification

import (
	"context"
	"time"

	"github.com/studytrack/backend/internal/models"
)

// Repository is the storage the engine reads from. Every mutation goes
// through InTx so multi-row changes commit or roll back together.
type Repository interface {
	ActivePointsRules(ctx context.Context, trigger models.RuleTrigger) ([]models.PointsRule, error)
	// ActiveAchievements returns achievements ordered by level, then sort_order.
	ActiveAchievements(ctx context.Context, trigger models.AchievementTrigger) ([]models.Achievement, error)
	AllActiveAchievements(ctx context.Context) ([]models.Achievement, error)
	AchievementCategories(ctx context.Context) ([]models.AchievementCategory, error)
	UserAchievements(ctx context.Context, userID int64) ([]models.UserAchievement, error)

	// StudyDays returns the distinct calendar days, in loc, on which the
	// user logged a session, newest first.
	StudyDays(ctx context.Context, userID int64, loc *time.Location) ([]time.Time, error)
	TotalStudyMinutes(ctx context.Context, userID int64) (int64, error)
	CompletedProjectCount(ctx context.Context, userID int64) (int64, error)
	// ProjectStatus returns ErrProjectNotFound unless the project belongs to userID.
	ProjectStatus(ctx context.Context, userID, projectID int64) (models.ProjectStatus, error)

	// EnsureUserPoints returns the balance row, creating a zero row first if needed.
	EnsureUserPoints(ctx context.Context, userID int64) (*models.UserPoints, error)
	PointsRecords(ctx context.Context, userID int64, recordType models.RecordType, page models.Page) ([]models.PointsRecord, error)

	// Product returns ErrProductNotFound when the id does not exist.
	Product(ctx context.Context, productID int64) (*models.VirtualProduct, error)
	ActiveProducts(ctx context.Context, categoryID *int64) ([]models.VirtualProduct, error)
	ProductCategories(ctx context.Context) ([]models.ProductCategory, error)
	// ExchangeRecords lists records for one user, or for everyone when userID is 0.
	ExchangeRecords(ctx context.Context, userID int64, status models.ExchangeStatus, page models.Page) ([]models.ExchangeRecord, error)

	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side, valid only inside Repository.InTx. Lock* methods
// take a row lock held until the transaction ends.
type Tx interface {
	// LockUserPoints creates the zero balance row if missing, then locks it.
	LockUserPoints(ctx context.Context, userID int64) (*models.UserPoints, error)
	UpdateUserPoints(ctx context.Context, p *models.UserPoints) error
	InsertPointsRecord(ctx context.Context, rec *models.PointsRecord) error

	// LockUserAchievement returns nil when the user has no row yet.
	LockUserAchievement(ctx context.Context, key models.UserAchievementKey) (*models.UserAchievement, error)
	// SaveUserAchievement upserts on the key. It reports false, without
	// writing, when the stored row is already completed.
	SaveUserAchievement(ctx context.Context, ua *models.UserAchievement) (bool, error)

	LockProduct(ctx context.Context, productID int64) (*models.VirtualProduct, error)
	UpdateProductStock(ctx context.Context, productID int64, stock int) error
	// ExchangeStats returns nil when the user never exchanged the product.
	ExchangeStats(ctx context.Context, key models.ExchangeStatsKey) (*models.UserExchangeStats, error)
	// AddExchangeStats adds count and points to the counters, creating the
	// row if needed. A nil at keeps the stored last_exchange_at.
	AddExchangeStats(ctx context.Context, key models.ExchangeStatsKey, count int, points int64, at *time.Time) error

	InsertExchangeRecord(ctx context.Context, rec *models.ExchangeRecord) error
	LockExchangeRecord(ctx context.Context, exchangeID int64) (*models.ExchangeRecord, error)
	UpdateExchangeRecord(ctx context.Context, rec *models.ExchangeRecord) error
}
