package gamification

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/studytrack/backend/internal/models"
)

// RuleAward is one rule that fired and the ledger entry it produced.
type RuleAward struct {
	RuleID int64
	Name   string
	Points int64
	Record *models.PointsRecord
}

// RuleEvaluator matches trigger events against the active points rules.
type RuleEvaluator struct {
	repo   Repository
	ledger *Ledger
	loc    *time.Location
	now    func() time.Time
}

func NewRuleEvaluator(repo Repository, ledger *Ledger, loc *time.Location, now func() time.Time) *RuleEvaluator {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &RuleEvaluator{repo: repo, ledger: ledger, loc: loc, now: now}
}

// Evaluate credits every active rule of the trigger whose condition holds
// for ev. Rules are independent: each award is its own transaction and a
// failing credit does not stop the others. The returned error joins the
// credit failures; awards that succeeded are returned alongside it.
func (e *RuleEvaluator) Evaluate(ctx context.Context, userID int64, trigger models.RuleTrigger, ev Event) ([]RuleAward, error) {
	if _, err := models.ParseRuleTrigger(string(trigger)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrigger, trigger)
	}

	rules, err := e.repo.ActivePointsRules(ctx, trigger)
	if err != nil {
		return nil, fmt.Errorf("load points rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	logger := log.WithFields(log.Fields{
		"component": "rules",
		"user_id":   userID,
		"trigger":   trigger,
	})

	facts := newUserFacts(e.repo, userID, e.loc, e.now())
	var (
		awards []RuleAward
		errs   []error
	)
	for _, rule := range rules {
		ok, err := e.satisfied(ctx, facts, userID, rule, ev)
		if err != nil {
			if errors.Is(err, ErrMissingThreshold) || errors.Is(err, errMalformedConditions) {
				logger.WithError(err).WithField("rule_id", rule.ID).Warn("skipping rule with invalid conditions")
				continue
			}
			errs = append(errs, fmt.Errorf("rule %d: %w", rule.ID, err))
			continue
		}
		if !ok {
			continue
		}

		ruleID := rule.ID
		rec, err := e.ledger.Credit(ctx, userID, rule.Points, &ruleID, rule.Name, map[string]interface{}{
			"rule_id":   rule.ID,
			"rule_name": rule.Name,
			"trigger":   trigger,
			"event":     ev,
		})
		if err != nil {
			logger.WithError(err).WithField("rule_id", rule.ID).Error("credit rule points")
			errs = append(errs, fmt.Errorf("credit rule %d: %w", rule.ID, err))
			continue
		}

		logger.WithFields(log.Fields{"rule_id": rule.ID, "points": rule.Points}).Info("points rule fired")
		awards = append(awards, RuleAward{RuleID: rule.ID, Name: rule.Name, Points: rule.Points, Record: rec})
	}

	return awards, errors.Join(errs...)
}

var errMalformedConditions = errors.New("malformed rule conditions")

func (e *RuleEvaluator) satisfied(ctx context.Context, facts *userFacts, userID int64, rule models.PointsRule, ev Event) (bool, error) {
	c, err := ParseRuleConditions(rule.Conditions)
	if err != nil {
		return false, fmt.Errorf("%w: %v", errMalformedConditions, err)
	}
	if err := c.Validate(rule.TriggerType); err != nil {
		return false, err
	}

	switch rule.TriggerType {
	case models.RuleStudyDuration:
		return StudyDurationMet(ev, c), nil

	case models.RuleProjectCompletion:
		if ev.ProjectID == 0 {
			return false, nil
		}
		status, err := e.repo.ProjectStatus(ctx, userID, ev.ProjectID)
		if errors.Is(err, ErrProjectNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("project status: %w", err)
		}
		return status == models.ProjectCompleted, nil

	case models.RuleConsecutiveDays:
		streak, err := facts.Streak(ctx)
		if err != nil {
			return false, err
		}
		return streak >= *c.DaysRequired, nil

	case models.RuleEfficiencyScore:
		return EfficiencyMet(ev, *c.MinEfficiency), nil

	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownTrigger, rule.TriggerType)
	}
}
