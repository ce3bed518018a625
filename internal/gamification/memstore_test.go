package gamification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/studytrack/backend/internal/models"
)

// memStore is an in-memory Repository. Transactions hold the store mutex
// for their whole duration and restore a snapshot when fn fails, which is
// stricter than row locks but gives the same guarantees for tests.
type memStore struct {
	mu sync.Mutex
	st memState

	// failRecordInsert makes every InsertPointsRecord fail.
	failRecordInsert error
}

type memSession struct {
	userID  int64
	at      time.Time
	minutes int64
}

type memProject struct {
	userID int64
	status models.ProjectStatus
}

type memState struct {
	nextID int64

	points    map[int64]models.UserPoints
	records   []models.PointsRecord
	rules     []models.PointsRule
	achs      []models.Achievement
	achCats   []models.AchievementCategory
	userAchs  map[models.UserAchievementKey]models.UserAchievement
	sessions  []memSession
	projects  map[int64]memProject
	products  map[int64]models.VirtualProduct
	prodCats  []models.ProductCategory
	exchanges map[int64]models.ExchangeRecord
	stats     map[models.ExchangeStatsKey]models.UserExchangeStats
}

func newMemStore() *memStore {
	return &memStore{st: memState{
		points:    map[int64]models.UserPoints{},
		userAchs:  map[models.UserAchievementKey]models.UserAchievement{},
		projects:  map[int64]memProject{},
		products:  map[int64]models.VirtualProduct{},
		exchanges: map[int64]models.ExchangeRecord{},
		stats:     map[models.ExchangeStatsKey]models.UserExchangeStats{},
	}}
}

func (s memState) clone() memState {
	c := s
	c.points = make(map[int64]models.UserPoints, len(s.points))
	for k, v := range s.points {
		c.points[k] = v
	}
	c.records = append([]models.PointsRecord(nil), s.records...)
	c.rules = append([]models.PointsRule(nil), s.rules...)
	c.achs = append([]models.Achievement(nil), s.achs...)
	c.achCats = append([]models.AchievementCategory(nil), s.achCats...)
	c.userAchs = make(map[models.UserAchievementKey]models.UserAchievement, len(s.userAchs))
	for k, v := range s.userAchs {
		c.userAchs[k] = v
	}
	c.sessions = append([]memSession(nil), s.sessions...)
	c.projects = make(map[int64]memProject, len(s.projects))
	for k, v := range s.projects {
		c.projects[k] = v
	}
	c.products = make(map[int64]models.VirtualProduct, len(s.products))
	for k, v := range s.products {
		c.products[k] = v
	}
	c.prodCats = append([]models.ProductCategory(nil), s.prodCats...)
	c.exchanges = make(map[int64]models.ExchangeRecord, len(s.exchanges))
	for k, v := range s.exchanges {
		c.exchanges[k] = v
	}
	c.stats = make(map[models.ExchangeStatsKey]models.UserExchangeStats, len(s.stats))
	for k, v := range s.stats {
		c.stats[k] = v
	}
	return c
}

func (s *memStore) id() int64 {
	s.st.nextID++
	return s.st.nextID
}

// ── Fixtures ────────────────────────────────────────────

func (s *memStore) addRule(trigger models.RuleTrigger, conditions string, points int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := models.PointsRule{
		ID:          s.id(),
		Name:        string(trigger) + " rule",
		TriggerType: trigger,
		Conditions:  []byte(conditions),
		Points:      points,
		IsActive:    true,
		SortOrder:   len(s.st.rules),
	}
	s.st.rules = append(s.st.rules, r)
	return r.ID
}

func (s *memStore) addAchievement(trigger models.AchievementTrigger, conditions string, points int64, level int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := models.Achievement{
		ID:                s.id(),
		Name:              string(trigger) + " achievement",
		TriggerType:       trigger,
		TriggerConditions: []byte(conditions),
		Points:            points,
		Level:             level,
		IsActive:          true,
	}
	s.st.achs = append(s.st.achs, a)
	return a.ID
}

func (s *memStore) addSession(userID int64, at time.Time, minutes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.sessions = append(s.st.sessions, memSession{userID: userID, at: at, minutes: minutes})
}

func (s *memStore) addProject(userID int64, status models.ProjectStatus) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	s.st.projects[id] = memProject{userID: userID, status: status}
	return id
}

func (s *memStore) addProduct(p models.VirtualProduct) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.id()
	if p.Name == "" {
		p.Name = "product"
	}
	s.st.products[p.ID] = p
	return p.ID
}

func (s *memStore) setBalance(userID, available int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.points[userID] = models.UserPoints{UserID: userID, TotalPoints: available, AvailablePoints: available}
}

func (s *memStore) balance(userID int64) models.UserPoints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.points[userID]
}

func (s *memStore) product(id int64) models.VirtualProduct {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.products[id]
}

func (s *memStore) exchange(id int64) models.ExchangeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.exchanges[id]
}

func (s *memStore) statsFor(userID, productID int64) (models.UserExchangeStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.st.stats[models.ExchangeStatsKey{UserID: userID, ProductID: productID}]
	return st, ok
}

func (s *memStore) userAchievement(userID, achievementID int64) (models.UserAchievement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ua, ok := s.st.userAchs[models.UserAchievementKey{UserID: userID, AchievementID: achievementID}]
	return ua, ok
}

func (s *memStore) ledger(userID int64) []models.PointsRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PointsRecord
	for _, r := range s.st.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

// ── Repository ──────────────────────────────────────────

func (s *memStore) ActivePointsRules(_ context.Context, trigger models.RuleTrigger) ([]models.PointsRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PointsRule
	for _, r := range s.st.rules {
		if r.IsActive && r.TriggerType == trigger {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (s *memStore) activeAchievements(match func(models.Achievement) bool) []models.Achievement {
	var out []models.Achievement
	for _, a := range s.st.achs {
		if a.IsActive && match(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].SortOrder < out[j].SortOrder
	})
	return out
}

func (s *memStore) ActiveAchievements(_ context.Context, trigger models.AchievementTrigger) ([]models.Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeAchievements(func(a models.Achievement) bool { return a.TriggerType == trigger }), nil
}

func (s *memStore) AllActiveAchievements(context.Context) ([]models.Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeAchievements(func(models.Achievement) bool { return true }), nil
}

func (s *memStore) AchievementCategories(context.Context) ([]models.AchievementCategory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AchievementCategory(nil), s.st.achCats...), nil
}

func (s *memStore) UserAchievements(_ context.Context, userID int64) ([]models.UserAchievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.UserAchievement
	for k, v := range s.st.userAchs {
		if k.UserID == userID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *memStore) StudyDays(_ context.Context, userID int64, loc *time.Location) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[time.Time]bool{}
	var days []time.Time
	for _, sess := range s.st.sessions {
		if sess.userID != userID {
			continue
		}
		y, m, d := sess.at.In(loc).Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })
	return days, nil
}

func (s *memStore) TotalStudyMinutes(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, sess := range s.st.sessions {
		if sess.userID == userID {
			total += sess.minutes
		}
	}
	return total, nil
}

func (s *memStore) CompletedProjectCount(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.st.projects {
		if p.userID == userID && p.status == models.ProjectCompleted {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ProjectStatus(_ context.Context, userID, projectID int64) (models.ProjectStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.projects[projectID]
	if !ok || p.userID != userID {
		return "", ErrProjectNotFound
	}
	return p.status, nil
}

func (s *memStore) EnsureUserPoints(_ context.Context, userID int64) (*models.UserPoints, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.points[userID]
	if !ok {
		p = models.UserPoints{UserID: userID}
		s.st.points[userID] = p
	}
	return &p, nil
}

func (s *memStore) PointsRecords(_ context.Context, userID int64, recordType models.RecordType, page models.Page) ([]models.PointsRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.PointsRecord{}
	for i := len(s.st.records) - 1; i >= 0; i-- {
		r := s.st.records[i]
		if r.UserID == userID && (recordType == "" || r.RecordType == recordType) {
			out = append(out, r)
		}
	}
	return window(out, page), nil
}

func (s *memStore) Product(_ context.Context, productID int64) (*models.VirtualProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[productID]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

func (s *memStore) ActiveProducts(_ context.Context, categoryID *int64) ([]models.VirtualProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.VirtualProduct{}
	for _, p := range s.st.products {
		if !p.IsActive {
			continue
		}
		if categoryID != nil && (p.CategoryID == nil || *p.CategoryID != *categoryID) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ProductCategories(context.Context) ([]models.ProductCategory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ProductCategory(nil), s.st.prodCats...), nil
}

func (s *memStore) ExchangeRecords(_ context.Context, userID int64, status models.ExchangeStatus, page models.Page) ([]models.ExchangeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.ExchangeRecord{}
	for _, r := range s.st.exchanges {
		if (userID == 0 || r.UserID == userID) && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return window(out, page), nil
}

func window[T any](items []T, page models.Page) []T {
	limit, offset := pageArgs(page)
	if offset >= len(items) {
		return items[:0]
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (s *memStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(memTx{s}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// ── Tx ──────────────────────────────────────────────────

// memTx runs with memStore.mu already held.
type memTx struct {
	s *memStore
}

func (t memTx) LockUserPoints(_ context.Context, userID int64) (*models.UserPoints, error) {
	p, ok := t.s.st.points[userID]
	if !ok {
		p = models.UserPoints{UserID: userID}
		t.s.st.points[userID] = p
	}
	return &p, nil
}

func (t memTx) UpdateUserPoints(_ context.Context, p *models.UserPoints) error {
	t.s.st.points[p.UserID] = *p
	return nil
}

func (t memTx) InsertPointsRecord(_ context.Context, rec *models.PointsRecord) error {
	if t.s.failRecordInsert != nil {
		return t.s.failRecordInsert
	}
	rec.ID = t.s.id()
	rec.CreatedAt = time.Now()
	t.s.st.records = append(t.s.st.records, *rec)
	return nil
}

func (t memTx) LockUserAchievement(_ context.Context, key models.UserAchievementKey) (*models.UserAchievement, error) {
	ua, ok := t.s.st.userAchs[key]
	if !ok {
		return nil, nil
	}
	return &ua, nil
}

func (t memTx) SaveUserAchievement(_ context.Context, ua *models.UserAchievement) (bool, error) {
	existing, ok := t.s.st.userAchs[ua.Key()]
	if ok && existing.IsCompleted {
		return false, nil
	}
	if ok {
		ua.ID = existing.ID
	} else {
		ua.ID = t.s.id()
	}
	t.s.st.userAchs[ua.Key()] = *ua
	return true, nil
}

func (t memTx) LockProduct(_ context.Context, productID int64) (*models.VirtualProduct, error) {
	p, ok := t.s.st.products[productID]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

func (t memTx) UpdateProductStock(_ context.Context, productID int64, stock int) error {
	p := t.s.st.products[productID]
	p.StockQuantity = stock
	t.s.st.products[productID] = p
	return nil
}

func (t memTx) ExchangeStats(_ context.Context, key models.ExchangeStatsKey) (*models.UserExchangeStats, error) {
	st, ok := t.s.st.stats[key]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (t memTx) AddExchangeStats(_ context.Context, key models.ExchangeStatsKey, count int, points int64, at *time.Time) error {
	st, ok := t.s.st.stats[key]
	if !ok {
		st = models.UserExchangeStats{UserID: key.UserID, ProductID: key.ProductID}
	}
	st.ExchangeCount = max(st.ExchangeCount+count, 0)
	st.TotalPointsSpent = max(st.TotalPointsSpent+points, 0)
	if at != nil {
		st.LastExchangeAt = at
	}
	t.s.st.stats[key] = st
	return nil
}

func (t memTx) InsertExchangeRecord(_ context.Context, rec *models.ExchangeRecord) error {
	rec.ID = t.s.id()
	t.s.st.exchanges[rec.ID] = *rec
	return nil
}

func (t memTx) LockExchangeRecord(_ context.Context, exchangeID int64) (*models.ExchangeRecord, error) {
	r, ok := t.s.st.exchanges[exchangeID]
	if !ok {
		return nil, ErrExchangeNotFound
	}
	return &r, nil
}

func (t memTx) UpdateExchangeRecord(_ context.Context, rec *models.ExchangeRecord) error {
	t.s.st.exchanges[rec.ID] = *rec
	return nil
}

// ── Notifier ────────────────────────────────────────────

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, item models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, item)
	return nil
}

func (n *recordingNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, item := range n.sent {
		out = append(out, item.Title)
	}
	return out
}

func (n *recordingNotifier) ofType(t models.NotificationType) []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.Notification
	for _, item := range n.sent {
		if item.Type == t {
			out = append(out, item)
		}
	}
	return out
}

// fixedClock returns a now func pinned to t.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
