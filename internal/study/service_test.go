package study

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/studytrack/backend/internal/gamification"
	"github.com/studytrack/backend/internal/middleware"
	"github.com/studytrack/backend/internal/models"
)

var testNow = time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC)

type fakeRepo struct {
	projects map[int64]*models.Project
	sessions []models.StudySession
	nextID   int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{projects: map[int64]*models.Project{}}
}

func (f *fakeRepo) CreateProject(_ context.Context, p *models.Project) error {
	f.nextID++
	p.ID = f.nextID
	p.Status = models.ProjectActive
	cp := *p
	f.projects[p.ID] = &cp
	return nil
}

func (f *fakeRepo) Project(_ context.Context, userID, id int64) (*models.Project, error) {
	p, ok := f.projects[id]
	if !ok || p.UserID != userID {
		return nil, ErrProjectNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) ListProjects(_ context.Context, userID int64, status models.ProjectStatus) ([]models.Project, error) {
	var out []models.Project
	for _, p := range f.projects {
		if p.UserID == userID && (status == "" || p.Status == status) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeRepo) CompleteProject(ctx context.Context, userID, id int64) (*models.Project, bool, error) {
	p, err := f.Project(ctx, userID, id)
	if err != nil {
		return nil, false, err
	}
	if p.Status == models.ProjectCompleted {
		return p, false, nil
	}
	now := testNow
	f.projects[id].Status = models.ProjectCompleted
	f.projects[id].CompletedAt = &now
	cp := *f.projects[id]
	return &cp, true, nil
}

func (f *fakeRepo) CreateSession(_ context.Context, s *models.StudySession) error {
	f.nextID++
	s.ID = f.nextID
	f.sessions = append(f.sessions, *s)
	return nil
}

func (f *fakeRepo) ListSessions(_ context.Context, userID int64, _ models.Page) ([]models.StudySession, error) {
	var out []models.StudySession
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeTriggers struct {
	sessions  []gamification.Event
	completed []int64
	outcome   models.TriggerOutcome
	err       error
}

func (f *fakeTriggers) OnStudySession(_ context.Context, _ int64, ev gamification.Event) (models.TriggerOutcome, error) {
	f.sessions = append(f.sessions, ev)
	return f.outcome, f.err
}

func (f *fakeTriggers) OnProjectCompleted(_ context.Context, _ int64, projectID int64) (models.TriggerOutcome, error) {
	f.completed = append(f.completed, projectID)
	return f.outcome, f.err
}

func newTestService() (*Service, *fakeRepo, *fakeTriggers) {
	repo := newFakeRepo()
	triggers := &fakeTriggers{outcome: models.TriggerOutcome{PointsAwarded: 10, RulesFired: []int64{1}, AchievementsUnlocked: []string{}}}
	return NewService(repo, triggers, func() time.Time { return testNow }), repo, triggers
}

func TestLogSessionRaisesTriggers(t *testing.T) {
	svc, repo, triggers := newTestService()
	ctx := context.Background()
	p, err := svc.CreateProject(ctx, 1, models.CreateProjectRequest{Name: "Algebra"})
	require.NoError(t, err)

	score := 91.5
	resp, err := svc.LogSession(ctx, 1, models.CreateSessionRequest{
		ProjectID:       &p.ID,
		DurationMinutes: 90,
		EfficiencyScore: &score,
	})
	require.NoError(t, err)
	require.Equal(t, int64(10), resp.Rewards.PointsAwarded)
	require.Equal(t, testNow, resp.Session.StartedAt)
	require.Len(t, repo.sessions, 1)

	require.Len(t, triggers.sessions, 1)
	ev := triggers.sessions[0]
	require.Equal(t, int64(90), ev.DurationMinutes)
	require.Equal(t, p.ID, ev.ProjectID)
	require.Equal(t, resp.Session.ID, ev.SessionID)
	require.Equal(t, 91.5, *ev.EfficiencyScore)
}

func TestLogSessionKeepsSessionWhenRewardsFail(t *testing.T) {
	svc, repo, triggers := newTestService()
	triggers.err = errors.New("rule store unavailable")

	resp, err := svc.LogSession(context.Background(), 1, models.CreateSessionRequest{DurationMinutes: 30})
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Len(t, repo.sessions, 1)
}

func TestLogSessionValidation(t *testing.T) {
	svc, repo, triggers := newTestService()
	future := testNow.Add(time.Hour)
	tooHigh := 101.0
	foreign := int64(77)
	repo.projects[foreign] = &models.Project{ID: foreign, UserID: 2, Status: models.ProjectActive}

	tests := []struct {
		name string
		req  models.CreateSessionRequest
		want error
	}{
		{"zero duration", models.CreateSessionRequest{}, ErrInvalidSession},
		{"over a day", models.CreateSessionRequest{DurationMinutes: 1441}, ErrInvalidSession},
		{"score above 100", models.CreateSessionRequest{DurationMinutes: 10, EfficiencyScore: &tooHigh}, ErrInvalidSession},
		{"future start", models.CreateSessionRequest{DurationMinutes: 10, StartedAt: &future}, ErrInvalidSession},
		{"someone else's project", models.CreateSessionRequest{DurationMinutes: 10, ProjectID: &foreign}, ErrProjectNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.LogSession(context.Background(), 1, tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}
	require.Empty(t, repo.sessions)
	require.Empty(t, triggers.sessions)
}

func TestCompleteProjectIsIdempotent(t *testing.T) {
	svc, _, triggers := newTestService()
	ctx := context.Background()
	p, err := svc.CreateProject(ctx, 1, models.CreateProjectRequest{Name: "Thesis"})
	require.NoError(t, err)

	resp, err := svc.CompleteProject(ctx, 1, p.ID)
	require.NoError(t, err)
	require.Equal(t, models.ProjectCompleted, resp.Project.Status)
	require.Equal(t, int64(10), resp.Rewards.PointsAwarded)

	resp, err = svc.CompleteProject(ctx, 1, p.ID)
	require.NoError(t, err)
	require.Zero(t, resp.Rewards.PointsAwarded)
	require.Equal(t, []int64{p.ID}, triggers.completed)

	_, err = svc.CompleteProject(ctx, 2, p.ID)
	require.ErrorIs(t, err, ErrProjectNotFound)
}

func TestStudyEndpoints(t *testing.T) {
	svc, _, _ := newTestService()
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithUserID(req.Context(), 1)))
		})
	})
	NewHandler(svc).RegisterRoutes(r)

	send := func(method, path, body string) (int, map[string]interface{}) {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return rec.Code, out
	}

	code, body := send("POST", "/projects", `{"name": "Chemistry"}`)
	require.Equal(t, http.StatusCreated, code)
	projectID := int64(body["data"].(map[string]interface{})["id"].(float64))

	code, _ = send("POST", "/projects", `{"name": "  "}`)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = send("POST", "/study-sessions", `{"duration_minutes": 45}`)
	require.Equal(t, http.StatusCreated, code)
	rewards := body["data"].(map[string]interface{})["rewards"].(map[string]interface{})
	require.Equal(t, float64(10), rewards["points_awarded"])

	code, _ = send("POST", "/study-sessions", `{"duration_minutes": 0}`)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = send("PUT", "/projects/"+strconv.FormatInt(projectID, 10)+"/complete", "")
	require.Equal(t, http.StatusOK, code)

	code, _ = send("PUT", "/projects/999/complete", "")
	require.Equal(t, http.StatusNotFound, code)

	code, body = send("GET", "/projects?status=completed", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["data"], 1)

	code, _ = send("GET", "/projects?status=paused", "")
	require.Equal(t, http.StatusBadRequest, code)

	code, body = send("GET", "/study-sessions", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["data"].(map[string]interface{})["items"], 1)
}
