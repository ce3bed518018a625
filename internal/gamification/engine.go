package gamification

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/studytrack/backend/internal/models"
)

type Options struct {
	// Location is the calendar that decides which day a session belongs to.
	Location       *time.Location
	RefundOnReject bool
	Now            func() time.Time
}

// Engine bundles the ledger, rule evaluator, achievement tracker and
// exchange workflow over one repository, and routes trigger events.
type Engine struct {
	Ledger       *Ledger
	Rules        *RuleEvaluator
	Achievements *AchievementTracker
	Exchange     *ExchangeService

	now func() time.Time
}

func NewEngine(repo Repository, notifier Notifier, opts Options) *Engine {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ledger := NewLedger(repo, notifier, opts.Now)
	return &Engine{
		Ledger:       ledger,
		Rules:        NewRuleEvaluator(repo, ledger, opts.Location, opts.Now),
		Achievements: NewAchievementTracker(repo, ledger, notifier, opts.Location, opts.Now),
		Exchange:     NewExchangeService(repo, ledger, notifier, opts.RefundOnReject, opts.Now),
		now:          opts.Now,
	}
}

// OnStudySession raises the rule and achievement triggers of a logged
// study session. Efficiency triggers only run when the session has a score.
func (e *Engine) OnStudySession(ctx context.Context, userID int64, ev Event) (models.TriggerOutcome, error) {
	rules := []models.RuleTrigger{models.RuleStudyDuration, models.RuleConsecutiveDays}
	achievements := []models.AchievementTrigger{
		models.AchievementTotalDuration,
		models.AchievementTotalHours,
		models.AchievementConsecutiveDays,
	}
	if ev.EfficiencyScore != nil {
		rules = append(rules, models.RuleEfficiencyScore)
		achievements = append(achievements, models.AchievementEfficiency)
	}
	return e.raise(ctx, userID, ev, rules, achievements)
}

// OnProjectCompleted raises the project completion triggers.
func (e *Engine) OnProjectCompleted(ctx context.Context, userID, projectID int64) (models.TriggerOutcome, error) {
	ev := Event{ProjectID: projectID, OccurredAt: e.now()}
	return e.raise(ctx, userID, ev,
		[]models.RuleTrigger{models.RuleProjectCompletion},
		[]models.AchievementTrigger{models.AchievementProjectCompletion})
}

// SweepUser re-checks the achievements that can become due without a new
// event reaching them through the usual path. Points rules are not run, so
// a sweep never pays a rule twice.
func (e *Engine) SweepUser(ctx context.Context, userID int64) ([]UnlockedAchievement, error) {
	ev := Event{OccurredAt: e.now()}
	var (
		unlocked []UnlockedAchievement
		errs     []error
	)
	for _, trigger := range []models.AchievementTrigger{
		models.AchievementConsecutiveDays,
		models.AchievementTotalDuration,
		models.AchievementTotalHours,
		models.AchievementProjectCompletion,
	} {
		got, err := e.Achievements.CheckAndUpdate(ctx, userID, trigger, ev)
		if err != nil {
			errs = append(errs, err)
		}
		unlocked = append(unlocked, got...)
	}
	return unlocked, errors.Join(errs...)
}

// raise runs every trigger even when one fails, so a broken rule cannot
// starve achievements of the same event.
func (e *Engine) raise(ctx context.Context, userID int64, ev Event, rules []models.RuleTrigger, achievements []models.AchievementTrigger) (models.TriggerOutcome, error) {
	outcome := models.TriggerOutcome{
		RulesFired:           []int64{},
		AchievementsUnlocked: []string{},
	}
	var errs []error

	for _, trigger := range rules {
		awards, err := e.Rules.Evaluate(ctx, userID, trigger, ev)
		if err != nil {
			errs = append(errs, err)
		}
		for _, a := range awards {
			outcome.PointsAwarded += a.Points
			outcome.RulesFired = append(outcome.RulesFired, a.RuleID)
		}
	}

	for _, trigger := range achievements {
		unlocked, err := e.Achievements.CheckAndUpdate(ctx, userID, trigger, ev)
		if err != nil {
			errs = append(errs, err)
		}
		for _, u := range unlocked {
			outcome.PointsAwarded += u.Points
			outcome.AchievementsUnlocked = append(outcome.AchievementsUnlocked, u.Achievement.Name)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"component": "engine",
			"user_id":   userID,
		}).Error("trigger processing incomplete")
	}
	return outcome, err
}
