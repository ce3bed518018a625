package study

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/studytrack/backend/internal/models"
)

// Store persists projects and study sessions.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const projectColumns = `id, user_id, name, description, status, completed_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(s scanner) (*models.Project, error) {
	var p models.Project
	var completedAt sql.NullTime
	if err := s.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.Status, &completedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return &p, nil
}

func (s *Store) CreateProject(ctx context.Context, p *models.Project) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (user_id, name, description)
		VALUES ($1, $2, $3)
		RETURNING `+projectColumns,
		p.UserID, p.Name, p.Description,
	).Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.Status, new(sql.NullTime), &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// Project returns the user's project, or ErrProjectNotFound when it does
// not exist or belongs to someone else.
func (s *Store) Project(ctx context.Context, userID, id int64) (*models.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context, userID int64, status models.ProjectStatus) ([]models.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE user_id = $1 AND ($2::TEXT = '' OR status = $2)
		ORDER BY created_at DESC, id DESC`,
		userID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// CompleteProject moves an active project to completed. changed is false
// when the project was already completed, in which case nothing is written.
func (s *Store) CompleteProject(ctx context.Context, userID, id int64) (p *models.Project, changed bool, err error) {
	p, err = scanProject(s.db.QueryRowContext(ctx, `
		UPDATE projects
		SET status = 'completed', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status <> 'completed'
		RETURNING `+projectColumns,
		id, userID,
	))
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("complete project: %w", err)
	}

	p, err = s.Project(ctx, userID, id)
	if err != nil {
		return nil, false, err
	}
	return p, false, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *models.StudySession) error {
	var projectID sql.NullInt64
	if sess.ProjectID != nil {
		projectID = sql.NullInt64{Int64: *sess.ProjectID, Valid: true}
	}
	var score sql.NullFloat64
	if sess.EfficiencyScore != nil {
		score = sql.NullFloat64{Float64: *sess.EfficiencyScore, Valid: true}
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO study_sessions (user_id, project_id, started_at, duration_minutes, efficiency_score, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		sess.UserID, projectID, sess.StartedAt, sess.DurationMinutes, score, sess.Notes,
	).Scan(&sess.ID, &sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("create study session: %w", err)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, userID int64, page models.Page) ([]models.StudySession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, project_id, started_at, duration_minutes, efficiency_score, notes, created_at
		FROM study_sessions
		WHERE user_id = $1
		ORDER BY started_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		userID, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list study sessions: %w", err)
	}
	defer rows.Close()

	var out []models.StudySession
	for rows.Next() {
		var sess models.StudySession
		var projectID sql.NullInt64
		var score sql.NullFloat64
		if err := rows.Scan(&sess.ID, &sess.UserID, &projectID, &sess.StartedAt, &sess.DurationMinutes, &score, &sess.Notes, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan study session: %w", err)
		}
		if projectID.Valid {
			v := projectID.Int64
			sess.ProjectID = &v
		}
		if score.Valid {
			v := score.Float64
			sess.EfficiencyScore = &v
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// StudyingUserIDs returns every user that has logged at least one session.
func (s *Store) StudyingUserIDs(ctx context.Context) ([]int64, error) {
	return s.userIDs(ctx, `SELECT DISTINCT user_id FROM study_sessions ORDER BY user_id`)
}

// IdleUserIDs returns users with a study history but no session starting
// in [from, to).
func (s *Store) IdleUserIDs(ctx context.Context, from, to time.Time) ([]int64, error) {
	active, err := s.userIDs(ctx,
		`SELECT DISTINCT user_id FROM study_sessions WHERE started_at >= $1 AND started_at < $2`, from, to)
	if err != nil {
		return nil, err
	}
	if active == nil {
		// A nil array binds as NULL, and NOT (x = ANY(NULL)) matches nothing.
		active = []int64{}
	}
	return s.userIDs(ctx, `
		SELECT DISTINCT user_id FROM study_sessions
		WHERE NOT (user_id = ANY($1))
		ORDER BY user_id`,
		pq.Array(active),
	)
}

func (s *Store) userIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
