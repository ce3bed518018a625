package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/studytrack/backend/internal/middleware"
	"github.com/studytrack/backend/internal/models"
)

// memRepo mirrors the unique (user_id, dedupe_key) index of the table.
type memRepo struct {
	mu   sync.Mutex
	rows []models.Notification
	next int64
}

func (m *memRepo) Insert(_ context.Context, n *models.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.DedupeKey != "" {
		for _, r := range m.rows {
			if r.UserID == n.UserID && r.DedupeKey == n.DedupeKey {
				return false, nil
			}
		}
	}
	m.next++
	n.ID = m.next
	n.CreatedAt = time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC).Add(time.Duration(m.next) * time.Minute)
	m.rows = append(m.rows, *n)
	return true, nil
}

func (m *memRepo) List(_ context.Context, userID int64, unreadOnly bool, page models.Page) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, r := range m.rows {
		if r.UserID == userID && (!unreadOnly || !r.IsRead) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if page.Offset >= len(out) {
		return nil, nil
	}
	out = out[page.Offset:]
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

func (m *memRepo) UnreadCount(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rows {
		if r.UserID == userID && !r.IsRead {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) MarkRead(_ context.Context, userID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id && m.rows[i].UserID == userID {
			m.rows[i].IsRead = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *memRepo) MarkAllRead(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.rows {
		if m.rows[i].UserID == userID && !m.rows[i].IsRead {
			m.rows[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func TestRemindOncePerDay(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo)
	ctx := context.Background()
	day := time.Date(2026, time.March, 10, 20, 0, 0, 0, time.UTC)

	written, err := svc.Remind(ctx, 1, day)
	require.NoError(t, err)
	require.True(t, written)

	written, err = svc.Remind(ctx, 1, day.Add(2*time.Hour))
	require.NoError(t, err)
	require.False(t, written)

	written, err = svc.Remind(ctx, 2, day)
	require.NoError(t, err)
	require.True(t, written)

	written, err = svc.Remind(ctx, 1, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.True(t, written)

	require.Len(t, repo.rows, 3)
	require.Equal(t, "study_reminder:2026-03-10", repo.rows[0].DedupeKey)
	require.Equal(t, models.NotifyReminder, repo.rows[0].Type)
	require.JSONEq(t, `{"date": "2026-03-10"}`, string(repo.rows[0].Data))
}

func TestNotifyRejectsUnknownType(t *testing.T) {
	svc := NewService(&memRepo{})
	err := svc.Notify(context.Background(), models.Notification{UserID: 1, Type: "promo", Title: "x"})
	require.Error(t, err)
}

func TestNotifyWritesUnkeyedNotificationsEveryTime(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo)
	for i := 0; i < 2; i++ {
		require.NoError(t, svc.Notify(context.Background(), models.Notification{
			UserID: 1, Type: models.NotifyPointsEarned, Title: "You earned 10 points",
		}))
	}
	require.Len(t, repo.rows, 2)
}

func newTestRouter(repo *memRepo) http.Handler {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			id, _ := strconv.ParseInt(req.Header.Get("X-Test-User"), 10, 64)
			if id != 0 {
				req = req.WithContext(middleware.WithUserID(req.Context(), id))
			}
			next.ServeHTTP(w, req)
		})
	})
	NewHandler(NewService(repo)).RegisterRoutes(r)
	return r
}

func call(t *testing.T, h http.Handler, method, path string, userID int64) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Test-User", strconv.FormatInt(userID, 10))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestNotificationEndpoints(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo)
	ctx := context.Background()
	for _, title := range []string{"first", "second", "third"} {
		require.NoError(t, svc.Notify(ctx, models.Notification{UserID: 1, Type: models.NotifyAchievement, Title: title}))
	}
	require.NoError(t, svc.Notify(ctx, models.Notification{UserID: 2, Type: models.NotifyAchievement, Title: "other"}))
	h := newTestRouter(repo)

	code, body := call(t, h, "GET", "/notifications/unread-count", 1)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(3), body["data"].(map[string]interface{})["unread_count"])

	code, _ = call(t, h, "PUT", "/notifications/4/read", 1)
	require.Equal(t, http.StatusNotFound, code)

	code, _ = call(t, h, "PUT", "/notifications/3/read", 1)
	require.Equal(t, http.StatusOK, code)

	code, body = call(t, h, "GET", "/notifications?unread=true", 1)
	require.Equal(t, http.StatusOK, code)
	items := body["data"].(map[string]interface{})["items"].([]interface{})
	require.Len(t, items, 2)
	require.Equal(t, "second", items[0].(map[string]interface{})["title"])

	code, body = call(t, h, "PUT", "/notifications/read-all", 1)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(2), body["data"].(map[string]interface{})["updated"])

	code, body = call(t, h, "GET", "/notifications?unread=true", 1)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, body["data"].(map[string]interface{})["items"])

	_, body = call(t, h, "GET", "/notifications/unread-count", 2)
	require.Equal(t, float64(1), body["data"].(map[string]interface{})["unread_count"])
}
