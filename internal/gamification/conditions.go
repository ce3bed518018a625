package gamification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/studytrack/backend/internal/models"
)

var minutesPerHour = decimal.NewFromInt(60)

// Event is the payload of a trigger event. Which fields are set depends on
// the source: study sessions fill duration and efficiency, project
// completion fills ProjectID.
type Event struct {
	SessionID       int64     `json:"session_id,omitempty"`
	ProjectID       int64     `json:"project_id,omitempty"`
	DurationMinutes int64     `json:"duration_minutes,omitempty"`
	EfficiencyScore *float64  `json:"efficiency_score,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// DurationHours is the session length in hours, exact to the minute.
func (e Event) DurationHours() decimal.Decimal {
	return decimal.NewFromInt(e.DurationMinutes).Div(minutesPerHour)
}

// ── Points rules ────────────────────────────────────────

// RuleConditions holds the thresholds stored in points_rules.conditions.
type RuleConditions struct {
	DurationMinutes *float64 `json:"duration_minutes,omitempty"`
	DaysRequired    *int64   `json:"days_required,omitempty"`
	MinEfficiency   *float64 `json:"min_efficiency,omitempty"`
}

func ParseRuleConditions(raw json.RawMessage) (RuleConditions, error) {
	var c RuleConditions
	if len(raw) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("decode rule conditions: %w", err)
	}
	return c, nil
}

// Validate checks that the threshold the trigger needs is present.
func (c RuleConditions) Validate(trigger models.RuleTrigger) error {
	switch trigger {
	case models.RuleStudyDuration:
		if c.DurationMinutes == nil || *c.DurationMinutes < 0 {
			return fmt.Errorf("%w: duration_minutes", ErrMissingThreshold)
		}
	case models.RuleConsecutiveDays:
		if c.DaysRequired == nil || *c.DaysRequired < 1 {
			return fmt.Errorf("%w: days_required", ErrMissingThreshold)
		}
	case models.RuleEfficiencyScore:
		if c.MinEfficiency == nil {
			return fmt.Errorf("%w: min_efficiency", ErrMissingThreshold)
		}
	case models.RuleProjectCompletion:
		// Completion of the referenced project is the whole condition.
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTrigger, trigger)
	}
	return nil
}

// StudyDurationMet compares the session length in hours against the
// configured minutes converted to hours.
func StudyDurationMet(ev Event, c RuleConditions) bool {
	if c.DurationMinutes == nil {
		return false
	}
	required := decimal.NewFromFloat(*c.DurationMinutes).Div(minutesPerHour)
	return ev.DurationHours().GreaterThanOrEqual(required)
}

func EfficiencyMet(ev Event, min float64) bool {
	if ev.EfficiencyScore == nil {
		return false
	}
	return decimal.NewFromFloat(*ev.EfficiencyScore).GreaterThanOrEqual(decimal.NewFromFloat(min))
}

// ── Achievements ────────────────────────────────────────

// achievementConditions accepts the threshold spellings admins have used.
type achievementConditions struct {
	TotalMinutes     *float64 `json:"total_minutes"`
	Minutes          *float64 `json:"minutes"`
	TotalHours       *float64 `json:"total_hours"`
	Hours            *float64 `json:"hours"`
	DaysRequired     *float64 `json:"days_required"`
	Days             *float64 `json:"days"`
	ProjectsRequired *float64 `json:"projects_required"`
	Count            *float64 `json:"count"`
	MinEfficiency    *float64 `json:"min_efficiency"`
	Efficiency       *float64 `json:"efficiency"`
}

func firstSet(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// Threshold is an achievement target. Durations are always in minutes.
type Threshold struct {
	Value decimal.Decimal
}

// Target is the threshold rounded up to a whole progress unit.
func (t Threshold) Target() int64 {
	return t.Value.Ceil().IntPart()
}

// Met reports whether a measured value reaches the threshold.
func (t Threshold) Met(measured decimal.Decimal) bool {
	return measured.GreaterThanOrEqual(t.Value)
}

// HoursToMinutes converts a possibly fractional hour count exactly.
func HoursToMinutes(hours float64) decimal.Decimal {
	return decimal.NewFromFloat(hours).Mul(minutesPerHour)
}

// ParseThreshold reads the target for an achievement trigger, normalizing
// hours to minutes for both duration triggers.
func ParseThreshold(trigger models.AchievementTrigger, raw json.RawMessage) (Threshold, error) {
	var c achievementConditions
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &c); err != nil {
			return Threshold{}, fmt.Errorf("decode achievement conditions: %w", err)
		}
	}

	var value decimal.Decimal
	switch trigger {
	case models.AchievementTotalDuration, models.AchievementTotalHours:
		minutes := firstSet(c.TotalMinutes, c.Minutes)
		hours := firstSet(c.TotalHours, c.Hours)
		switch {
		case trigger == models.AchievementTotalHours && hours != nil:
			value = HoursToMinutes(*hours)
		case minutes != nil:
			value = decimal.NewFromFloat(*minutes)
		case hours != nil:
			value = HoursToMinutes(*hours)
		default:
			return Threshold{}, fmt.Errorf("%w: total_minutes or total_hours", ErrMissingThreshold)
		}
	case models.AchievementConsecutiveDays:
		v := firstSet(c.DaysRequired, c.Days)
		if v == nil {
			return Threshold{}, fmt.Errorf("%w: days_required", ErrMissingThreshold)
		}
		value = decimal.NewFromFloat(*v)
	case models.AchievementProjectCompletion:
		v := firstSet(c.ProjectsRequired, c.Count)
		if v == nil {
			// A bare project_completion achievement unlocks on the first project.
			value = decimal.NewFromInt(1)
		} else {
			value = decimal.NewFromFloat(*v)
		}
	case models.AchievementEfficiency:
		v := firstSet(c.MinEfficiency, c.Efficiency)
		if v == nil {
			return Threshold{}, fmt.Errorf("%w: min_efficiency", ErrMissingThreshold)
		}
		value = decimal.NewFromFloat(*v)
	default:
		return Threshold{}, fmt.Errorf("%w: %s", ErrUnknownTrigger, trigger)
	}

	if value.IsNegative() {
		return Threshold{}, fmt.Errorf("negative threshold %s", value)
	}
	return Threshold{Value: value}, nil
}

// ── Aggregates ──────────────────────────────────────────

// userFacts caches the aggregate queries one evaluation pass needs, so ten
// rules on the same trigger cost one query each, not ten.
type userFacts struct {
	repo   Repository
	userID int64
	loc    *time.Location
	today  time.Time

	streak   *int64
	minutes  *int64
	projects *int64
}

func newUserFacts(repo Repository, userID int64, loc *time.Location, now time.Time) *userFacts {
	return &userFacts{repo: repo, userID: userID, loc: loc, today: now.In(loc)}
}

func (f *userFacts) Streak(ctx context.Context) (int64, error) {
	if f.streak == nil {
		days, err := f.repo.StudyDays(ctx, f.userID, f.loc)
		if err != nil {
			return 0, fmt.Errorf("study days: %w", err)
		}
		n := int64(ConsecutiveDays(days, f.today))
		f.streak = &n
	}
	return *f.streak, nil
}

func (f *userFacts) TotalMinutes(ctx context.Context) (int64, error) {
	if f.minutes == nil {
		n, err := f.repo.TotalStudyMinutes(ctx, f.userID)
		if err != nil {
			return 0, fmt.Errorf("total study minutes: %w", err)
		}
		f.minutes = &n
	}
	return *f.minutes, nil
}

func (f *userFacts) CompletedProjects(ctx context.Context) (int64, error) {
	if f.projects == nil {
		n, err := f.repo.CompletedProjectCount(ctx, f.userID)
		if err != nil {
			return 0, fmt.Errorf("completed projects: %w", err)
		}
		f.projects = &n
	}
	return *f.projects, nil
}
