package gamification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/studytrack/backend/internal/models"
)

// Admin-side writes for rules, achievements and the product catalog.
// Updates are full replacements of the editable columns.

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ── Points rules ────────────────────────────────────────

func (s *Store) ListPointsRules(ctx context.Context) ([]models.PointsRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pointsRuleColumns+` FROM points_rules ORDER BY trigger_type, sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("query points rules: %w", err)
	}
	defer rows.Close()

	rules := []models.PointsRule{}
	for rows.Next() {
		r, err := scanPointsRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan points rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Store) PointsRule(ctx context.Context, id int64) (*models.PointsRule, error) {
	r, err := scanPointsRule(s.db.QueryRowContext(ctx,
		`SELECT `+pointsRuleColumns+` FROM points_rules WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *Store) CreatePointsRule(ctx context.Context, r *models.PointsRule) error {
	return s.db.QueryRowContext(ctx,
		`INSERT INTO points_rules (name, description, trigger_type, conditions, points, is_active, sort_order)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		r.Name, r.Description, r.TriggerType, jsonOrEmpty(r.Conditions), r.Points, r.IsActive, r.SortOrder,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
}

func (s *Store) UpdatePointsRule(ctx context.Context, r *models.PointsRule) error {
	err := s.db.QueryRowContext(ctx,
		`UPDATE points_rules SET
		    name = $2, description = $3, trigger_type = $4, conditions = $5,
		    points = $6, is_active = $7, sort_order = $8, updated_at = NOW()
		 WHERE id = $1
		 RETURNING created_at, updated_at`,
		r.ID, r.Name, r.Description, r.TriggerType, jsonOrEmpty(r.Conditions), r.Points, r.IsActive, r.SortOrder,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	return notFound(err)
}

// DeletePointsRule removes the rule. Ledger rows keep their rule_id.
func (s *Store) DeletePointsRule(ctx context.Context, id int64) error {
	return affected(s.db.ExecContext(ctx, `DELETE FROM points_rules WHERE id = $1`, id))
}

// ── Achievements ────────────────────────────────────────

func (s *Store) ListAchievements(ctx context.Context) ([]models.Achievement, error) {
	out, err := s.queryAchievements(ctx,
		`SELECT `+achievementColumns+` FROM achievements ORDER BY trigger_type, level, sort_order, id`)
	if out == nil {
		out = []models.Achievement{}
	}
	return out, err
}

func (s *Store) Achievement(ctx context.Context, id int64) (*models.Achievement, error) {
	a, err := scanAchievement(s.db.QueryRowContext(ctx,
		`SELECT `+achievementColumns+` FROM achievements WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *Store) CreateAchievement(ctx context.Context, a *models.Achievement) error {
	return s.db.QueryRowContext(ctx,
		`INSERT INTO achievements (category_id, name, description, icon, trigger_type, trigger_conditions,
		                           points, level, sort_order, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at, updated_at`,
		nullInt64(a.CategoryID), a.Name, a.Description, a.Icon, a.TriggerType, jsonOrEmpty(a.TriggerConditions),
		a.Points, a.Level, a.SortOrder, a.IsActive,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (s *Store) UpdateAchievement(ctx context.Context, a *models.Achievement) error {
	err := s.db.QueryRowContext(ctx,
		`UPDATE achievements SET
		    category_id = $2, name = $3, description = $4, icon = $5, trigger_type = $6,
		    trigger_conditions = $7, points = $8, level = $9, sort_order = $10, is_active = $11,
		    updated_at = NOW()
		 WHERE id = $1
		 RETURNING created_at, updated_at`,
		a.ID, nullInt64(a.CategoryID), a.Name, a.Description, a.Icon, a.TriggerType,
		jsonOrEmpty(a.TriggerConditions), a.Points, a.Level, a.SortOrder, a.IsActive,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return notFound(err)
}

func (s *Store) DeleteAchievement(ctx context.Context, id int64) error {
	return affected(s.db.ExecContext(ctx, `DELETE FROM achievements WHERE id = $1`, id))
}

func (s *Store) CreateAchievementCategory(ctx context.Context, c *models.AchievementCategory) error {
	return s.db.QueryRowContext(ctx,
		`INSERT INTO achievement_categories (name, description, icon, sort_order)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		c.Name, c.Description, c.Icon, c.SortOrder,
	).Scan(&c.ID, &c.CreatedAt)
}

func (s *Store) UpdateAchievementCategory(ctx context.Context, c *models.AchievementCategory) error {
	err := s.db.QueryRowContext(ctx,
		`UPDATE achievement_categories SET name = $2, description = $3, icon = $4, sort_order = $5
		 WHERE id = $1
		 RETURNING created_at`,
		c.ID, c.Name, c.Description, c.Icon, c.SortOrder,
	).Scan(&c.CreatedAt)
	return notFound(err)
}

func (s *Store) DeleteAchievementCategory(ctx context.Context, id int64) error {
	return affected(s.db.ExecContext(ctx, `DELETE FROM achievement_categories WHERE id = $1`, id))
}

// ── Products ────────────────────────────────────────────

func (s *Store) ListProducts(ctx context.Context) ([]models.VirtualProduct, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM virtual_products ORDER BY sort_order, id`)
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

func (s *Store) CreateProduct(ctx context.Context, p *models.VirtualProduct) error {
	return s.db.QueryRowContext(ctx,
		`INSERT INTO virtual_products (category_id, name, description, image_url, points_required, stock_quantity,
		                               exchange_limit_per_user, requires_approval, is_active, sort_order)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at, updated_at`,
		nullInt64(p.CategoryID), p.Name, p.Description, p.ImageURL, p.PointsRequired, p.StockQuantity,
		p.ExchangeLimitPerUser, p.RequiresApproval, p.IsActive, p.SortOrder,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// UpdateProduct locks the row so an edit cannot interleave with an
// exchange that is decrementing the same stock.
func (s *Store) UpdateProduct(ctx context.Context, p *models.VirtualProduct) error {
	return s.InTx(ctx, func(tx Tx) error {
		if _, err := tx.LockProduct(ctx, p.ID); err != nil {
			if errors.Is(err, ErrProductNotFound) {
				return ErrNotFound
			}
			return err
		}
		q := tx.(*sqlTx).tx
		return q.QueryRowContext(ctx,
			`UPDATE virtual_products SET
			    category_id = $2, name = $3, description = $4, image_url = $5, points_required = $6,
			    stock_quantity = $7, exchange_limit_per_user = $8, requires_approval = $9,
			    is_active = $10, sort_order = $11, updated_at = NOW()
			 WHERE id = $1
			 RETURNING created_at, updated_at`,
			p.ID, nullInt64(p.CategoryID), p.Name, p.Description, p.ImageURL, p.PointsRequired,
			p.StockQuantity, p.ExchangeLimitPerUser, p.RequiresApproval, p.IsActive, p.SortOrder,
		).Scan(&p.CreatedAt, &p.UpdatedAt)
	})
}

// DeleteProduct deactivates the product. Exchange history references it,
// so the row itself stays.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	return affected(s.db.ExecContext(ctx,
		`UPDATE virtual_products SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id))
}

func (s *Store) ListProductCategories(ctx context.Context) ([]models.ProductCategory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, sort_order, is_active, created_at
		 FROM product_categories ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("query product categories: %w", err)
	}
	defer rows.Close()

	out := []models.ProductCategory{}
	for rows.Next() {
		var c models.ProductCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.SortOrder, &c.IsActive, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateProductCategory(ctx context.Context, c *models.ProductCategory) error {
	return s.db.QueryRowContext(ctx,
		`INSERT INTO product_categories (name, description, sort_order, is_active)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		c.Name, c.Description, c.SortOrder, c.IsActive,
	).Scan(&c.ID, &c.CreatedAt)
}

func (s *Store) UpdateProductCategory(ctx context.Context, c *models.ProductCategory) error {
	err := s.db.QueryRowContext(ctx,
		`UPDATE product_categories SET name = $2, description = $3, sort_order = $4, is_active = $5
		 WHERE id = $1
		 RETURNING created_at`,
		c.ID, c.Name, c.Description, c.SortOrder, c.IsActive,
	).Scan(&c.CreatedAt)
	return notFound(err)
}

func (s *Store) DeleteProductCategory(ctx context.Context, id int64) error {
	return affected(s.db.ExecContext(ctx, `DELETE FROM product_categories WHERE id = $1`, id))
}

func jsonOrEmpty(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
