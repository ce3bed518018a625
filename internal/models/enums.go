package models

import "fmt"

// RuleTrigger is the event family a PointsRule listens to.
type RuleTrigger string

const (
	RuleStudyDuration     RuleTrigger = "study_duration"
	RuleProjectCompletion RuleTrigger = "project_completion"
	RuleConsecutiveDays   RuleTrigger = "consecutive_days"
	RuleEfficiencyScore   RuleTrigger = "efficiency_score"
)

func ParseRuleTrigger(s string) (RuleTrigger, error) {
	switch t := RuleTrigger(s); t {
	case RuleStudyDuration, RuleProjectCompletion, RuleConsecutiveDays, RuleEfficiencyScore:
		return t, nil
	}
	return "", fmt.Errorf("unknown rule trigger %q", s)
}

// AchievementTrigger is the event family an Achievement listens to.
// total_duration and total_hours measure the same thing; they differ only
// in the unit the admin wrote the threshold in.
type AchievementTrigger string

const (
	AchievementTotalDuration     AchievementTrigger = "total_duration"
	AchievementTotalHours        AchievementTrigger = "total_hours"
	AchievementConsecutiveDays   AchievementTrigger = "consecutive_days"
	AchievementProjectCompletion AchievementTrigger = "project_completion"
	AchievementEfficiency        AchievementTrigger = "efficiency"
)

func ParseAchievementTrigger(s string) (AchievementTrigger, error) {
	switch t := AchievementTrigger(s); t {
	case AchievementTotalDuration, AchievementTotalHours, AchievementConsecutiveDays,
		AchievementProjectCompletion, AchievementEfficiency:
		return t, nil
	}
	return "", fmt.Errorf("unknown achievement trigger %q", s)
}

// RecordType classifies a PointsRecord.
type RecordType string

const (
	RecordEarned RecordType = "earned"
	RecordUsed   RecordType = "used"
	// RecordRefund returns previously used points to the available balance.
	RecordRefund RecordType = "refund"
)

func ParseRecordType(s string) (RecordType, error) {
	switch t := RecordType(s); t {
	case RecordEarned, RecordUsed, RecordRefund:
		return t, nil
	}
	return "", fmt.Errorf("unknown record type %q", s)
}

// ExchangeStatus is the lifecycle state of an ExchangeRecord.
type ExchangeStatus string

const (
	ExchangePending   ExchangeStatus = "pending"
	ExchangeApproved  ExchangeStatus = "approved"
	ExchangeRejected  ExchangeStatus = "rejected"
	ExchangeCompleted ExchangeStatus = "completed"
)

func ParseExchangeStatus(s string) (ExchangeStatus, error) {
	switch t := ExchangeStatus(s); t {
	case ExchangePending, ExchangeApproved, ExchangeRejected, ExchangeCompleted:
		return t, nil
	}
	return "", fmt.Errorf("unknown exchange status %q", s)
}

// Terminal reports whether no further transition is allowed.
func (s ExchangeStatus) Terminal() bool {
	return s != ExchangePending
}

// ProjectStatus is the lifecycle state of a study project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectArchived  ProjectStatus = "archived"
)

func ParseProjectStatus(s string) (ProjectStatus, error) {
	switch t := ProjectStatus(s); t {
	case ProjectActive, ProjectCompleted, ProjectArchived:
		return t, nil
	}
	return "", fmt.Errorf("unknown project status %q", s)
}

// NotificationType tags user-facing notification rows.
type NotificationType string

const (
	NotifyPointsEarned NotificationType = "points_earned"
	NotifyPointsUsed   NotificationType = "points_used"
	NotifyAchievement  NotificationType = "achievement"
	NotifyExchange     NotificationType = "exchange"
	NotifyApproval     NotificationType = "exchange_approval"
	NotifyReminder     NotificationType = "reminder"
)

func ParseNotificationType(s string) (NotificationType, error) {
	switch t := NotificationType(s); t {
	case NotifyPointsEarned, NotifyPointsUsed, NotifyAchievement, NotifyExchange, NotifyApproval, NotifyReminder:
		return t, nil
	}
	return "", fmt.Errorf("unknown notification type %q", s)
}
