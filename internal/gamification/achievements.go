package gamification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/studytrack/backend/internal/models"
)

// UnlockedAchievement is an achievement completed by one CheckAndUpdate call.
type UnlockedAchievement struct {
	Achievement models.Achievement
	Points      int64
	CompletedAt time.Time
}

// AchievementTracker records progress toward achievements and completes
// them. Completion is terminal: a completed row is never written again.
type AchievementTracker struct {
	repo     Repository
	ledger   *Ledger
	notifier Notifier
	loc      *time.Location
	now      func() time.Time
}

func NewAchievementTracker(repo Repository, ledger *Ledger, notifier Notifier, loc *time.Location, now func() time.Time) *AchievementTracker {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &AchievementTracker{repo: repo, ledger: ledger, notifier: notifier, loc: loc, now: now}
}

// measurement is the user's current standing against one trigger.
type measurement struct {
	value    decimal.Decimal
	progress int64
	// sticky progress only ever grows, e.g. best efficiency score so far.
	sticky bool
}

// CheckAndUpdate evaluates the active achievements of trigger, in level
// then sort order, for userID.
func (t *AchievementTracker) CheckAndUpdate(ctx context.Context, userID int64, trigger models.AchievementTrigger, ev Event) ([]UnlockedAchievement, error) {
	if _, err := models.ParseAchievementTrigger(string(trigger)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrigger, trigger)
	}

	achievements, err := t.repo.ActiveAchievements(ctx, trigger)
	if err != nil {
		return nil, fmt.Errorf("load achievements: %w", err)
	}
	if len(achievements) == 0 {
		return nil, nil
	}

	rows, err := t.repo.UserAchievements(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user achievements: %w", err)
	}
	completed := make(map[int64]bool, len(rows))
	for _, ua := range rows {
		if ua.IsCompleted {
			completed[ua.AchievementID] = true
		}
	}

	logger := log.WithFields(log.Fields{
		"component": "achievements",
		"user_id":   userID,
		"trigger":   trigger,
	})

	now := t.now()
	facts := newUserFacts(t.repo, userID, t.loc, now)
	m, ok, err := t.measure(ctx, facts, trigger, ev)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var (
		unlocked []UnlockedAchievement
		box      outbox
		errs     []error
	)
	for _, a := range achievements {
		if completed[a.ID] {
			continue
		}

		threshold, err := ParseThreshold(a.TriggerType, a.TriggerConditions)
		if err != nil {
			logger.WithError(err).WithField("achievement_id", a.ID).Warn("skipping achievement with invalid conditions")
			continue
		}

		done, err := t.apply(ctx, userID, a, threshold, m, ev, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("achievement %d: %w", a.ID, err))
			continue
		}
		if !done {
			continue
		}

		logger.WithFields(log.Fields{"achievement_id": a.ID, "points": a.Points}).Info("achievement unlocked")
		unlocked = append(unlocked, UnlockedAchievement{Achievement: a, Points: a.Points, CompletedAt: now})

		msg := fmt.Sprintf("You unlocked \"%s\"", a.Name)
		if a.Points > 0 {
			msg = fmt.Sprintf("You unlocked \"%s\" and earned %d points", a.Name, a.Points)
		}
		box.add(userID, models.NotifyAchievement, "Achievement unlocked", msg, map[string]interface{}{
			"achievement_id": a.ID,
			"points":         a.Points,
		})
	}

	box.flush(ctx, t.notifier)
	return unlocked, errors.Join(errs...)
}

// apply writes progress for one achievement and reports whether this call
// completed it. The row lock makes completion and its point reward happen
// exactly once even when two evaluations race.
func (t *AchievementTracker) apply(ctx context.Context, userID int64, a models.Achievement, threshold Threshold, m measurement, ev Event, now time.Time) (bool, error) {
	met := threshold.Met(m.value)
	var done bool

	err := t.repo.InTx(ctx, func(tx Tx) error {
		key := models.UserAchievementKey{UserID: userID, AchievementID: a.ID}
		row, err := tx.LockUserAchievement(ctx, key)
		if err != nil {
			return fmt.Errorf("lock user achievement: %w", err)
		}
		if row != nil && row.IsCompleted {
			return nil
		}
		if row == nil {
			if !met && m.progress == 0 {
				// Nothing to record; the achievement stays not started.
				return nil
			}
			row = &models.UserAchievement{UserID: userID, AchievementID: a.ID}
		}

		progress := m.progress
		if m.sticky && row.CurrentProgress > progress {
			progress = row.CurrentProgress
		}
		if !met && progress == row.CurrentProgress && row.ID != 0 {
			return nil
		}
		row.CurrentProgress = progress

		if met {
			completedAt := now
			row.IsCompleted = true
			row.CompletedAt = &completedAt
			row.CompletionData = mustJSON(map[string]interface{}{
				"points":   a.Points,
				"trigger":  a.TriggerType,
				"event":    ev,
				"progress": progress,
				"target":   threshold.Target(),
			})
		}

		applied, err := tx.SaveUserAchievement(ctx, row)
		if err != nil {
			return fmt.Errorf("save user achievement: %w", err)
		}
		if !applied || !met {
			return nil
		}

		if a.Points > 0 {
			_, err := t.ledger.credit(ctx, tx, userID, a.Points, nil, "Achievement unlocked: "+a.Name, map[string]interface{}{
				"achievement_id":   a.ID,
				"achievement_name": a.Name,
			})
			if err != nil {
				return fmt.Errorf("credit achievement points: %w", err)
			}
		}
		done = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return done, nil
}

// measure computes the user's standing for trigger. ok is false when the
// event carries nothing to measure, e.g. a session without a score.
func (t *AchievementTracker) measure(ctx context.Context, facts *userFacts, trigger models.AchievementTrigger, ev Event) (measurement, bool, error) {
	switch trigger {
	case models.AchievementTotalDuration, models.AchievementTotalHours:
		minutes, err := facts.TotalMinutes(ctx)
		if err != nil {
			return measurement{}, false, err
		}
		return measurement{value: decimal.NewFromInt(minutes), progress: minutes}, true, nil

	case models.AchievementConsecutiveDays:
		streak, err := facts.Streak(ctx)
		if err != nil {
			return measurement{}, false, err
		}
		return measurement{value: decimal.NewFromInt(streak), progress: streak}, true, nil

	case models.AchievementProjectCompletion:
		n, err := facts.CompletedProjects(ctx)
		if err != nil {
			return measurement{}, false, err
		}
		return measurement{value: decimal.NewFromInt(n), progress: n}, true, nil

	case models.AchievementEfficiency:
		if ev.EfficiencyScore == nil {
			return measurement{}, false, nil
		}
		score := decimal.NewFromFloat(*ev.EfficiencyScore)
		return measurement{value: score, progress: score.Floor().IntPart(), sticky: true}, true, nil

	default:
		return measurement{}, false, fmt.Errorf("%w: %s", ErrUnknownTrigger, trigger)
	}
}

// ListForUser returns every active achievement with the user's progress.
func (t *AchievementTracker) ListForUser(ctx context.Context, userID int64) ([]models.AchievementProgress, error) {
	achievements, err := t.repo.AllActiveAchievements(ctx)
	if err != nil {
		return nil, fmt.Errorf("load achievements: %w", err)
	}
	rows, err := t.repo.UserAchievements(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user achievements: %w", err)
	}

	byID := make(map[int64]models.UserAchievement, len(rows))
	for _, ua := range rows {
		byID[ua.AchievementID] = ua
	}

	out := make([]models.AchievementProgress, 0, len(achievements))
	for _, a := range achievements {
		p := models.AchievementProgress{Achievement: a, State: models.ProgressNotStarted}
		if th, err := ParseThreshold(a.TriggerType, a.TriggerConditions); err == nil {
			p.Target = th.Target()
		}
		if ua, ok := byID[a.ID]; ok {
			p.CurrentProgress = ua.CurrentProgress
			p.CompletedAt = ua.CompletedAt
			if ua.IsCompleted {
				p.State = models.ProgressCompleted
			} else {
				p.State = models.ProgressInProgress
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func (t *AchievementTracker) Categories(ctx context.Context) ([]models.AchievementCategory, error) {
	return t.repo.AchievementCategories(ctx)
}
