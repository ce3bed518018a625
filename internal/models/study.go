package models

import "time"

type Project struct {
	ID          int64         `json:"id"`
	UserID      int64         `json:"user_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      ProjectStatus `json:"status"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type StudySession struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	ProjectID       *int64    `json:"project_id,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	DurationMinutes int       `json:"duration_minutes"`
	EfficiencyScore *float64  `json:"efficiency_score,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type CreateSessionRequest struct {
	ProjectID       *int64     `json:"project_id"`
	StartedAt       *time.Time `json:"started_at"`
	DurationMinutes int        `json:"duration_minutes"`
	EfficiencyScore *float64   `json:"efficiency_score"`
	Notes           string     `json:"notes"`
}

// TriggerOutcome summarizes what a trigger event produced, returned to the
// client so it can surface awards immediately.
type TriggerOutcome struct {
	PointsAwarded        int64    `json:"points_awarded"`
	RulesFired           []int64  `json:"rules_fired"`
	AchievementsUnlocked []string `json:"achievements_unlocked"`
}

type CreateSessionResponse struct {
	Session StudySession   `json:"session"`
	Rewards TriggerOutcome `json:"rewards"`
}

type CompleteProjectResponse struct {
	Project Project        `json:"project"`
	Rewards TriggerOutcome `json:"rewards"`
}
