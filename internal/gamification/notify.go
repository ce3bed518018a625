package gamification

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/studytrack/backend/internal/models"
)

// Notifier persists user-facing notifications. Delivery is best effort:
// the engine logs a failed Notify and carries on.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, models.Notification) error { return nil }

// outbox collects notifications while a transaction is open. They are sent
// only after commit, so a rolled-back change never notifies anyone.
type outbox []models.Notification

func (o *outbox) add(userID int64, typ models.NotificationType, title, message string, data interface{}) {
	*o = append(*o, models.Notification{
		UserID:  userID,
		Type:    typ,
		Title:   title,
		Message: message,
		Data:    mustJSON(data),
	})
}

func (o outbox) flush(ctx context.Context, n Notifier) {
	for _, item := range o {
		if err := n.Notify(ctx, item); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"component": "gamification",
				"user_id":   item.UserID,
				"type":      item.Type,
			}).Warn("notification not delivered")
		}
	}
}

// mustJSON marshals context payloads. The payloads are maps and structs
// built in this package, so failure means a programming error; it is
// logged and the payload dropped rather than failing the write.
func mustJSON(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).WithField("component", "gamification").Error("marshal related data")
		return nil
	}
	return b
}
