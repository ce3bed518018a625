// Package jobs runs the background work: the evening study reminder and
// the nightly achievement sweep.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/studytrack/backend/internal/gamification"
)

// Users lists the users a job runs over. *study.Store implements it.
type Users interface {
	StudyingUserIDs(ctx context.Context) ([]int64, error)
	IdleUserIDs(ctx context.Context, from, to time.Time) ([]int64, error)
}

type Reminder interface {
	Remind(ctx context.Context, userID int64, day time.Time) (bool, error)
}

type Sweeper interface {
	SweepUser(ctx context.Context, userID int64) ([]gamification.UnlockedAchievement, error)
}

type Schedule struct {
	Reminder         string
	AchievementSweep string
}

type Scheduler struct {
	cron     *cron.Cron
	users    Users
	reminder Reminder
	sweeper  Sweeper
	schedule Schedule
	loc      *time.Location
	now      func() time.Time
}

// NewScheduler builds a scheduler whose cron specs are read in loc.
func NewScheduler(users Users, reminder Reminder, sweeper Sweeper, schedule Schedule, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger := cron.PrintfLogger(log.StandardLogger())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		users:    users,
		reminder: reminder,
		sweeper:  sweeper,
		schedule: schedule,
		loc:      loc,
		now:      time.Now,
	}
}

// Start registers the jobs and starts the cron loop. It fails on an
// invalid cron spec.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule.Reminder, func() {
		n, err := s.SendReminders(ctx)
		entry := log.WithFields(log.Fields{"component": "jobs", "job": "study_reminder", "sent": n})
		if err != nil {
			entry.WithError(err).Error("study reminder run failed")
			return
		}
		entry.Info("study reminder run finished")
	}); err != nil {
		return fmt.Errorf("schedule study reminder %q: %w", s.schedule.Reminder, err)
	}

	if _, err := s.cron.AddFunc(s.schedule.AchievementSweep, func() {
		n, err := s.SweepAchievements(ctx)
		entry := log.WithFields(log.Fields{"component": "jobs", "job": "achievement_sweep", "unlocked": n})
		if err != nil {
			entry.WithError(err).Error("achievement sweep failed")
			return
		}
		entry.Info("achievement sweep finished")
	}); err != nil {
		return fmt.Errorf("schedule achievement sweep %q: %w", s.schedule.AchievementSweep, err)
	}

	s.cron.Start()
	log.WithFields(log.Fields{
		"component": "jobs",
		"location":  s.loc.String(),
		"reminder":  s.schedule.Reminder,
		"sweep":     s.schedule.AchievementSweep,
	}).Info("scheduler started")
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.WithField("component", "jobs").Info("scheduler stopped")
}

// SendReminders reminds every user with a study history who has not
// logged a session today. A failure for one user does not stop the run.
func (s *Scheduler) SendReminders(ctx context.Context) (int, error) {
	now := s.now().In(s.loc)
	y, m, d := now.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, s.loc)

	ids, err := s.users.IdleUserIDs(ctx, from, from.AddDate(0, 0, 1))
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		written, err := s.reminder.Remind(ctx, id, from)
		if err != nil {
			log.WithError(err).WithField("user_id", id).Warn("study reminder not sent")
			continue
		}
		if written {
			sent++
		}
	}
	return sent, nil
}

// SweepAchievements re-checks achievements for each studying user, one
// user at a time.
func (s *Scheduler) SweepAchievements(ctx context.Context) (int, error) {
	ids, err := s.users.StudyingUserIDs(ctx)
	if err != nil {
		return 0, err
	}

	unlocked := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return unlocked, ctx.Err()
		}
		got, err := s.sweeper.SweepUser(ctx, id)
		if err != nil {
			log.WithError(err).WithField("user_id", id).Warn("achievement sweep incomplete for user")
		}
		unlocked += len(got)
	}
	return unlocked, nil
}
