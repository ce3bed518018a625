package study

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/studytrack/backend/internal/gamification"
	"github.com/studytrack/backend/internal/models"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrInvalidSession  = errors.New("invalid study session")
	ErrInvalidProject  = errors.New("project name is required")
)

const maxSessionMinutes = 24 * 60

// Repository is the study storage the service runs on. *Store implements it.
type Repository interface {
	CreateProject(ctx context.Context, p *models.Project) error
	Project(ctx context.Context, userID, id int64) (*models.Project, error)
	ListProjects(ctx context.Context, userID int64, status models.ProjectStatus) ([]models.Project, error)
	CompleteProject(ctx context.Context, userID, id int64) (*models.Project, bool, error)
	CreateSession(ctx context.Context, s *models.StudySession) error
	ListSessions(ctx context.Context, userID int64, page models.Page) ([]models.StudySession, error)
}

// Triggers receives the events study activity raises. *gamification.Engine
// implements it.
type Triggers interface {
	OnStudySession(ctx context.Context, userID int64, ev gamification.Event) (models.TriggerOutcome, error)
	OnProjectCompleted(ctx context.Context, userID, projectID int64) (models.TriggerOutcome, error)
}

type Service struct {
	repo     Repository
	triggers Triggers
	now      func() time.Time
}

func NewService(repo Repository, triggers Triggers, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, triggers: triggers, now: now}
}

func (s *Service) CreateProject(ctx context.Context, userID int64, req models.CreateProjectRequest) (*models.Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrInvalidProject
	}
	p := &models.Project{UserID: userID, Name: name, Description: req.Description}
	if err := s.repo.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Projects(ctx context.Context, userID int64, status models.ProjectStatus) ([]models.Project, error) {
	return s.repo.ListProjects(ctx, userID, status)
}

// LogSession records a study session and raises its triggers. The session
// is kept even when trigger processing fails.
func (s *Service) LogSession(ctx context.Context, userID int64, req models.CreateSessionRequest) (*models.CreateSessionResponse, error) {
	if req.DurationMinutes <= 0 || req.DurationMinutes > maxSessionMinutes {
		return nil, fmt.Errorf("%w: duration_minutes must be between 1 and 1440", ErrInvalidSession)
	}
	if sc := req.EfficiencyScore; sc != nil && (*sc < 0 || *sc > 100) {
		return nil, fmt.Errorf("%w: efficiency_score must be between 0 and 100", ErrInvalidSession)
	}
	now := s.now()
	startedAt := now
	if req.StartedAt != nil {
		if req.StartedAt.After(now) {
			return nil, fmt.Errorf("%w: started_at is in the future", ErrInvalidSession)
		}
		startedAt = *req.StartedAt
	}
	if req.ProjectID != nil {
		if _, err := s.repo.Project(ctx, userID, *req.ProjectID); err != nil {
			return nil, err
		}
	}

	sess := &models.StudySession{
		UserID:          userID,
		ProjectID:       req.ProjectID,
		StartedAt:       startedAt,
		DurationMinutes: req.DurationMinutes,
		EfficiencyScore: req.EfficiencyScore,
		Notes:           req.Notes,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	ev := gamification.Event{
		SessionID:       sess.ID,
		DurationMinutes: int64(sess.DurationMinutes),
		EfficiencyScore: sess.EfficiencyScore,
		OccurredAt:      sess.StartedAt,
	}
	if sess.ProjectID != nil {
		ev.ProjectID = *sess.ProjectID
	}
	rewards, err := s.triggers.OnStudySession(ctx, userID, ev)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"component":  "study",
			"user_id":    userID,
			"session_id": sess.ID,
		}).Warn("study session recorded with incomplete rewards")
	}
	return &models.CreateSessionResponse{Session: *sess, Rewards: rewards}, nil
}

func (s *Service) Sessions(ctx context.Context, userID int64, page models.Page) ([]models.StudySession, error) {
	return s.repo.ListSessions(ctx, userID, page)
}

// CompleteProject marks the project completed. Completing an already
// completed project succeeds without raising its triggers again.
func (s *Service) CompleteProject(ctx context.Context, userID, projectID int64) (*models.CompleteProjectResponse, error) {
	p, changed, err := s.repo.CompleteProject(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	resp := &models.CompleteProjectResponse{
		Project: *p,
		Rewards: models.TriggerOutcome{RulesFired: []int64{}, AchievementsUnlocked: []string{}},
	}
	if !changed {
		return resp, nil
	}

	rewards, err := s.triggers.OnProjectCompleted(ctx, userID, projectID)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"component":  "study",
			"user_id":    userID,
			"project_id": projectID,
		}).Warn("project completed with incomplete rewards")
	}
	resp.Rewards = rewards
	return resp, nil
}
