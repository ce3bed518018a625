package gamification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/studytrack/backend/internal/models"
)

const defaultPageSize = 20

// Store is the Postgres Repository.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func pageArgs(p models.Page) (int, int) {
	limit, offset := p.Limit, p.Offset
	if limit <= 0 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *p, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time
	return &v
}

// jsonArg passes raw JSON to a JSONB column, NULL when empty.
func jsonArg(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// ── Rules & achievements ────────────────────────────────

const pointsRuleColumns = `id, name, description, trigger_type, conditions, points, is_active, sort_order, created_at, updated_at`

func scanPointsRule(row scanner) (models.PointsRule, error) {
	var r models.PointsRule
	var conditions []byte
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.TriggerType, &conditions,
		&r.Points, &r.IsActive, &r.SortOrder, &r.CreatedAt, &r.UpdatedAt)
	r.Conditions = conditions
	return r, err
}

func (s *Store) ActivePointsRules(ctx context.Context, trigger models.RuleTrigger) ([]models.PointsRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pointsRuleColumns+`
		 FROM points_rules
		 WHERE trigger_type = $1 AND is_active = TRUE
		 ORDER BY sort_order, id`,
		trigger,
	)
	if err != nil {
		return nil, fmt.Errorf("query points rules: %w", err)
	}
	defer rows.Close()

	var rules []models.PointsRule
	for rows.Next() {
		r, err := scanPointsRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan points rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

const achievementColumns = `id, category_id, name, description, icon, trigger_type, trigger_conditions,
	points, level, sort_order, is_active, created_at, updated_at`

func scanAchievement(row scanner) (models.Achievement, error) {
	var a models.Achievement
	var categoryID sql.NullInt64
	var conditions []byte
	err := row.Scan(&a.ID, &categoryID, &a.Name, &a.Description, &a.Icon, &a.TriggerType, &conditions,
		&a.Points, &a.Level, &a.SortOrder, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	a.CategoryID = int64Ptr(categoryID)
	a.TriggerConditions = conditions
	return a, err
}

func (s *Store) queryAchievements(ctx context.Context, query string, args ...interface{}) ([]models.Achievement, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query achievements: %w", err)
	}
	defer rows.Close()

	var out []models.Achievement
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ActiveAchievements(ctx context.Context, trigger models.AchievementTrigger) ([]models.Achievement, error) {
	return s.queryAchievements(ctx,
		`SELECT `+achievementColumns+`
		 FROM achievements
		 WHERE trigger_type = $1 AND is_active = TRUE
		 ORDER BY level, sort_order, id`,
		trigger,
	)
}

func (s *Store) AllActiveAchievements(ctx context.Context) ([]models.Achievement, error) {
	return s.queryAchievements(ctx,
		`SELECT `+achievementColumns+`
		 FROM achievements
		 WHERE is_active = TRUE
		 ORDER BY category_id NULLS LAST, level, sort_order, id`,
	)
}

func (s *Store) AchievementCategories(ctx context.Context) ([]models.AchievementCategory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, icon, sort_order, created_at
		 FROM achievement_categories
		 ORDER BY sort_order, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query achievement categories: %w", err)
	}
	defer rows.Close()

	var out []models.AchievementCategory
	for rows.Next() {
		var c models.AchievementCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Icon, &c.SortOrder, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan achievement category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const userAchievementColumns = `id, user_id, achievement_id, is_completed, current_progress,
	completed_at, completion_data, created_at, updated_at`

func scanUserAchievement(row scanner) (models.UserAchievement, error) {
	var ua models.UserAchievement
	var completedAt sql.NullTime
	var data []byte
	err := row.Scan(&ua.ID, &ua.UserID, &ua.AchievementID, &ua.IsCompleted, &ua.CurrentProgress,
		&completedAt, &data, &ua.CreatedAt, &ua.UpdatedAt)
	ua.CompletedAt = timePtr(completedAt)
	ua.CompletionData = data
	return ua, err
}

func (s *Store) UserAchievements(ctx context.Context, userID int64) ([]models.UserAchievement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userAchievementColumns+` FROM user_achievements WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query user achievements: %w", err)
	}
	defer rows.Close()

	var out []models.UserAchievement
	for rows.Next() {
		ua, err := scanUserAchievement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user achievement: %w", err)
		}
		out = append(out, ua)
	}
	return out, rows.Err()
}

// ── Study aggregates ────────────────────────────────────

func (s *Store) StudyDays(ctx context.Context, userID int64, loc *time.Location) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT (started_at AT TIME ZONE $2)::date AS day
		 FROM study_sessions
		 WHERE user_id = $1
		 ORDER BY day DESC`,
		userID, loc.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query study days: %w", err)
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan study day: %w", err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

func (s *Store) TotalStudyMinutes(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(duration_minutes), 0) FROM study_sessions WHERE user_id = $1`,
		userID,
	).Scan(&total)
	return total, err
}

func (s *Store) CompletedProjectCount(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projects WHERE user_id = $1 AND status = 'completed'`,
		userID,
	).Scan(&n)
	return n, err
}

func (s *Store) ProjectStatus(ctx context.Context, userID, projectID int64) (models.ProjectStatus, error) {
	var status models.ProjectStatus
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM projects WHERE id = $1 AND user_id = $2`,
		projectID, userID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrProjectNotFound
	}
	return status, err
}

// ── Points ──────────────────────────────────────────────

const userPointsColumns = `user_id, total_points, available_points, used_points, created_at, updated_at`

func scanUserPoints(row scanner) (*models.UserPoints, error) {
	var p models.UserPoints
	if err := row.Scan(&p.UserID, &p.TotalPoints, &p.AvailablePoints, &p.UsedPoints, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func ensureUserPoints(ctx context.Context, q querier, userID int64) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO user_points (user_id) VALUES ($1)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("upsert user points: %w", err)
	}
	return nil
}

func (s *Store) EnsureUserPoints(ctx context.Context, userID int64) (*models.UserPoints, error) {
	if err := ensureUserPoints(ctx, s.db, userID); err != nil {
		return nil, err
	}
	p, err := scanUserPoints(s.db.QueryRowContext(ctx,
		`SELECT `+userPointsColumns+` FROM user_points WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("get user points: %w", err)
	}
	return p, nil
}

func (s *Store) PointsRecords(ctx context.Context, userID int64, recordType models.RecordType, page models.Page) ([]models.PointsRecord, error) {
	limit, offset := pageArgs(page)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, rule_id, record_type, points_change, balance_after, description, related_data, created_at
		 FROM points_records
		 WHERE user_id = $1 AND ($2::TEXT = '' OR record_type = $2)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3 OFFSET $4`,
		userID, string(recordType), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query points records: %w", err)
	}
	defer rows.Close()

	records := []models.PointsRecord{}
	for rows.Next() {
		var r models.PointsRecord
		var ruleID sql.NullInt64
		var related []byte
		if err := rows.Scan(&r.ID, &r.UserID, &ruleID, &r.RecordType, &r.PointsChange,
			&r.BalanceAfter, &r.Description, &related, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan points record: %w", err)
		}
		r.RuleID = int64Ptr(ruleID)
		r.RelatedData = related
		records = append(records, r)
	}
	return records, rows.Err()
}

// ── Catalog & exchange reads ────────────────────────────

const productColumns = `id, category_id, name, description, image_url, points_required, stock_quantity,
	exchange_limit_per_user, requires_approval, is_active, sort_order, created_at, updated_at`

func scanProduct(row scanner) (*models.VirtualProduct, error) {
	var p models.VirtualProduct
	var categoryID sql.NullInt64
	if err := row.Scan(&p.ID, &categoryID, &p.Name, &p.Description, &p.ImageURL, &p.PointsRequired,
		&p.StockQuantity, &p.ExchangeLimitPerUser, &p.RequiresApproval, &p.IsActive, &p.SortOrder,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.CategoryID = int64Ptr(categoryID)
	return &p, nil
}

func (s *Store) Product(ctx context.Context, productID int64) (*models.VirtualProduct, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM virtual_products WHERE id = $1`, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (s *Store) ActiveProducts(ctx context.Context, categoryID *int64) ([]models.VirtualProduct, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+`
		 FROM virtual_products
		 WHERE is_active = TRUE AND ($1::BIGINT IS NULL OR category_id = $1)
		 ORDER BY sort_order, id`,
		nullInt64(categoryID),
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := []models.VirtualProduct{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (s *Store) ProductCategories(ctx context.Context) ([]models.ProductCategory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, sort_order, is_active, created_at
		 FROM product_categories
		 WHERE is_active = TRUE
		 ORDER BY sort_order, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query product categories: %w", err)
	}
	defer rows.Close()

	var out []models.ProductCategory
	for rows.Next() {
		var c models.ProductCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.SortOrder, &c.IsActive, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const exchangeColumns = `e.id, e.order_no, e.user_id, e.product_id, COALESCE(p.name, ''), e.points_spent, e.quantity,
	e.status, e.approved_by, e.approved_at, e.approval_notes, e.completed_at, e.created_at, e.updated_at`

func scanExchange(row scanner) (*models.ExchangeRecord, error) {
	var r models.ExchangeRecord
	var approvedBy sql.NullInt64
	var approvedAt, completedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.OrderNo, &r.UserID, &r.ProductID, &r.ProductName, &r.PointsSpent, &r.Quantity,
		&r.Status, &approvedBy, &approvedAt, &r.ApprovalNotes, &completedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.ApprovedBy = int64Ptr(approvedBy)
	r.ApprovedAt = timePtr(approvedAt)
	r.CompletedAt = timePtr(completedAt)
	return &r, nil
}

func (s *Store) ExchangeRecords(ctx context.Context, userID int64, status models.ExchangeStatus, page models.Page) ([]models.ExchangeRecord, error) {
	limit, offset := pageArgs(page)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+exchangeColumns+`
		 FROM exchange_records e
		 LEFT JOIN virtual_products p ON p.id = e.product_id
		 WHERE ($1::BIGINT = 0 OR e.user_id = $1) AND ($2::TEXT = '' OR e.status = $2)
		 ORDER BY e.created_at DESC, e.id DESC
		 LIMIT $3 OFFSET $4`,
		userID, string(status), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query exchange records: %w", err)
	}
	defer rows.Close()

	records := []models.ExchangeRecord{}
	for rows.Next() {
		r, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exchange record: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// ── Transactions ────────────────────────────────────────

// InTx runs fn in one database transaction, committing when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) LockUserPoints(ctx context.Context, userID int64) (*models.UserPoints, error) {
	if err := ensureUserPoints(ctx, t.tx, userID); err != nil {
		return nil, err
	}
	return scanUserPoints(t.tx.QueryRowContext(ctx,
		`SELECT `+userPointsColumns+` FROM user_points WHERE user_id = $1 FOR UPDATE`, userID))
}

func (t *sqlTx) UpdateUserPoints(ctx context.Context, p *models.UserPoints) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE user_points SET
		    total_points = $2, available_points = $3, used_points = $4, updated_at = $5
		 WHERE user_id = $1`,
		p.UserID, p.TotalPoints, p.AvailablePoints, p.UsedPoints, p.UpdatedAt,
	)
	return err
}

func (t *sqlTx) InsertPointsRecord(ctx context.Context, rec *models.PointsRecord) error {
	return t.tx.QueryRowContext(ctx,
		`INSERT INTO points_records (user_id, rule_id, record_type, points_change, balance_after, description, related_data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		rec.UserID, nullInt64(rec.RuleID), rec.RecordType, rec.PointsChange, rec.BalanceAfter,
		rec.Description, jsonArg(rec.RelatedData),
	).Scan(&rec.ID, &rec.CreatedAt)
}

func (t *sqlTx) LockUserAchievement(ctx context.Context, key models.UserAchievementKey) (*models.UserAchievement, error) {
	ua, err := scanUserAchievement(t.tx.QueryRowContext(ctx,
		`SELECT `+userAchievementColumns+`
		 FROM user_achievements
		 WHERE user_id = $1 AND achievement_id = $2
		 FOR UPDATE`,
		key.UserID, key.AchievementID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ua, nil
}

// SaveUserAchievement upserts the progress row. The WHERE clause on the
// conflict branch keeps a completed row untouched; no row comes back then.
func (t *sqlTx) SaveUserAchievement(ctx context.Context, ua *models.UserAchievement) (bool, error) {
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO user_achievements (user_id, achievement_id, is_completed, current_progress, completed_at, completion_data)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, achievement_id) DO UPDATE SET
		    is_completed = EXCLUDED.is_completed,
		    current_progress = EXCLUDED.current_progress,
		    completed_at = EXCLUDED.completed_at,
		    completion_data = EXCLUDED.completion_data,
		    updated_at = NOW()
		 WHERE user_achievements.is_completed = FALSE
		 RETURNING id, created_at, updated_at`,
		ua.UserID, ua.AchievementID, ua.IsCompleted, ua.CurrentProgress,
		nullTime(ua.CompletedAt), jsonArg(ua.CompletionData),
	).Scan(&ua.ID, &ua.CreatedAt, &ua.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *sqlTx) LockProduct(ctx context.Context, productID int64) (*models.VirtualProduct, error) {
	p, err := scanProduct(t.tx.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM virtual_products WHERE id = $1 FOR UPDATE`, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	return p, err
}

func (t *sqlTx) UpdateProductStock(ctx context.Context, productID int64, stock int) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE virtual_products SET stock_quantity = $2, updated_at = NOW() WHERE id = $1`,
		productID, stock,
	)
	return err
}

func (t *sqlTx) ExchangeStats(ctx context.Context, key models.ExchangeStatsKey) (*models.UserExchangeStats, error) {
	var st models.UserExchangeStats
	var last sql.NullTime
	err := t.tx.QueryRowContext(ctx,
		`SELECT user_id, product_id, exchange_count, total_points_spent, last_exchange_at
		 FROM user_exchange_stats
		 WHERE user_id = $1 AND product_id = $2
		 FOR UPDATE`,
		key.UserID, key.ProductID,
	).Scan(&st.UserID, &st.ProductID, &st.ExchangeCount, &st.TotalPointsSpent, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.LastExchangeAt = timePtr(last)
	return &st, nil
}

func (t *sqlTx) AddExchangeStats(ctx context.Context, key models.ExchangeStatsKey, count int, points int64, at *time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO user_exchange_stats (user_id, product_id, exchange_count, total_points_spent, last_exchange_at)
		 VALUES ($1, $2, GREATEST($3, 0), GREATEST($4, 0), $5)
		 ON CONFLICT (user_id, product_id) DO UPDATE SET
		    exchange_count = GREATEST(user_exchange_stats.exchange_count + $3, 0),
		    total_points_spent = GREATEST(user_exchange_stats.total_points_spent + $4, 0),
		    last_exchange_at = COALESCE($5, user_exchange_stats.last_exchange_at)`,
		key.UserID, key.ProductID, count, points, nullTime(at),
	)
	return err
}

func (t *sqlTx) InsertExchangeRecord(ctx context.Context, rec *models.ExchangeRecord) error {
	return t.tx.QueryRowContext(ctx,
		`INSERT INTO exchange_records (order_no, user_id, product_id, points_spent, quantity, status, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		rec.OrderNo, rec.UserID, rec.ProductID, rec.PointsSpent, rec.Quantity, rec.Status, nullTime(rec.CompletedAt),
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

func (t *sqlTx) LockExchangeRecord(ctx context.Context, exchangeID int64) (*models.ExchangeRecord, error) {
	// FOR UPDATE OF e: the joined product row is locked later, in its own step.
	r, err := scanExchange(t.tx.QueryRowContext(ctx,
		`SELECT `+exchangeColumns+`
		 FROM exchange_records e
		 LEFT JOIN virtual_products p ON p.id = e.product_id
		 WHERE e.id = $1
		 FOR UPDATE OF e`,
		exchangeID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExchangeNotFound
	}
	return r, err
}

func (t *sqlTx) UpdateExchangeRecord(ctx context.Context, rec *models.ExchangeRecord) error {
	return t.tx.QueryRowContext(ctx,
		`UPDATE exchange_records SET
		    status = $2, approved_by = $3, approved_at = $4, approval_notes = $5,
		    completed_at = $6, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		rec.ID, rec.Status, nullInt64(rec.ApprovedBy), nullTime(rec.ApprovedAt), rec.ApprovalNotes,
		nullTime(rec.CompletedAt),
	).Scan(&rec.UpdatedAt)
}
