package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/studytrack/backend/internal/models"
)

// Repository is the notification storage the service runs on. *Store
// implements it.
type Repository interface {
	Insert(ctx context.Context, n *models.Notification) (bool, error)
	List(ctx context.Context, userID int64, unreadOnly bool, page models.Page) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
	MarkRead(ctx context.Context, userID, id int64) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
}

// Service stores user-facing notifications. It satisfies the engine's
// Notifier interface.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Notify(ctx context.Context, n models.Notification) error {
	if _, err := models.ParseNotificationType(string(n.Type)); err != nil {
		return err
	}
	written, err := s.repo.Insert(ctx, &n)
	if err != nil {
		return err
	}
	if !written {
		log.WithFields(log.Fields{
			"component":  "notifications",
			"user_id":    n.UserID,
			"dedupe_key": n.DedupeKey,
		}).Debug("duplicate notification skipped")
	}
	return nil
}

// ReminderKey identifies the single study reminder a user may get on day.
func ReminderKey(day time.Time) string {
	return "study_reminder:" + day.Format("2006-01-02")
}

// Remind sends the daily study reminder. Repeated calls for the same user
// and day write one row. It reports whether this call wrote it.
func (s *Service) Remind(ctx context.Context, userID int64, day time.Time) (bool, error) {
	date := day.Format("2006-01-02")
	data, err := json.Marshal(map[string]string{"date": date})
	if err != nil {
		return false, fmt.Errorf("encode reminder data: %w", err)
	}
	n := models.Notification{
		UserID:    userID,
		Type:      models.NotifyReminder,
		Title:     "Time to study",
		Message:   "You have not logged a study session today. Keep your streak going!",
		Data:      data,
		DedupeKey: ReminderKey(day),
	}
	written, err := s.repo.Insert(ctx, &n)
	if err != nil {
		return false, fmt.Errorf("remind user %d: %w", userID, err)
	}
	return written, nil
}

func (s *Service) List(ctx context.Context, userID int64, unreadOnly bool, page models.Page) ([]models.Notification, error) {
	return s.repo.List(ctx, userID, unreadOnly, page)
}

func (s *Service) UnreadCount(ctx context.Context, userID int64) (int, error) {
	return s.repo.UnreadCount(ctx, userID)
}

func (s *Service) MarkRead(ctx context.Context, userID, id int64) error {
	return s.repo.MarkRead(ctx, userID, id)
}

func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}
