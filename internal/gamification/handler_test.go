package gamification

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/studytrack/backend/internal/middleware"
	"github.com/studytrack/backend/internal/models"
)

// asUser authenticates every request as the user in the X-Test-User header.
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v := r.Header.Get("X-Test-User"); v != "" {
			id, _ := strconv.ParseInt(v, 10, 64)
			r = r.WithContext(middleware.WithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func newTestRouter(store *memStore) http.Handler {
	engine, _ := newTestEngine(store)
	r := mux.NewRouter()
	r.Use(asUser)
	NewHandler(engine).RegisterRoutes(r)
	NewAdminHandler(engine, nil).RegisterRoutes(r.PathPrefix("/admin").Subrouter())
	return r
}

func do(t *testing.T, h http.Handler, method, path string, userID int64, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != 0 {
		req.Header.Set("X-Test-User", strconv.FormatInt(userID, 10))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestUserPointsEndpoint(t *testing.T) {
	store := newMemStore()
	store.setBalance(4, 70)
	h := newTestRouter(store)

	rec, body := do(t, h, "GET", "/points-exchange/user-points", 4, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["success"])
	data := body["data"].(map[string]interface{})
	require.Equal(t, float64(70), data["available_points"])

	rec, body = do(t, h, "GET", "/points-exchange/user-points", 0, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, false, body["success"])
}

func TestExchangeEndpointStatuses(t *testing.T) {
	store := newMemStore()
	store.setBalance(1, 100)
	productID := store.addProduct(models.VirtualProduct{
		PointsRequired:       60,
		StockQuantity:        1,
		ExchangeLimitPerUser: 1,
		IsActive:             true,
	})
	h := newTestRouter(store)
	path := "/points-exchange/products/" + strconv.FormatInt(productID, 10) + "/exchange"

	rec, body := do(t, h, "POST", path, 1, `{"quantity": 11}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, ErrInvalidQuantity.Error(), body["error"])

	rec, body = do(t, h, "POST", path, 1, `{"quantity": 1}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "Exchange successful", body["message"])

	rec, body = do(t, h, "POST", path, 1, `{"quantity": 1}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, ErrExchangeLimitReached.Error(), body["error"])

	rec, _ = do(t, h, "POST", "/points-exchange/products/999/exchange", 1, `{"quantity": 1}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPointsRecordsEndpointValidatesFilter(t *testing.T) {
	h := newTestRouter(newMemStore())

	rec, _ := do(t, h, "GET", "/points-exchange/points-records?record_type=bonus", 1, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := do(t, h, "GET", "/points-exchange/points-records?record_type=earned&limit=5", 1, "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]interface{})
	require.Equal(t, float64(5), data["limit"])
	require.Empty(t, data["items"])
}

func TestApproveEndpoint(t *testing.T) {
	store := newMemStore()
	store.setBalance(1, 100)
	productID := store.addProduct(models.VirtualProduct{
		PointsRequired:   50,
		StockQuantity:    models.UnlimitedStock,
		RequiresApproval: true,
		IsActive:         true,
	})
	h := newTestRouter(store)

	rec, body := do(t, h, "POST", "/points-exchange/products/"+strconv.FormatInt(productID, 10)+"/exchange", 1, `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	record := body["data"].(map[string]interface{})["record"].(map[string]interface{})
	exchangeID := int64(record["id"].(float64))
	path := "/admin/exchange-approval/records/" + strconv.FormatInt(exchangeID, 10) + "/approve"

	rec, body = do(t, h, "GET", "/admin/exchange-approval/records?status=pending", 9, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["data"].(map[string]interface{})["items"], 1)

	rec, body = do(t, h, "POST", path, 9, `{"approved": false, "notes": "duplicate"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "rejected", body["data"].(map[string]interface{})["status"])
	require.Equal(t, int64(100), store.balance(1).AvailablePoints)

	rec, _ = do(t, h, "POST", path, 9, `{"approved": true}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestApproveRequiresExplicitDecision(t *testing.T) {
	store := newMemStore()
	store.setBalance(1, 100)
	productID := store.addProduct(models.VirtualProduct{
		PointsRequired:   40,
		StockQuantity:    models.UnlimitedStock,
		RequiresApproval: true,
		IsActive:         true,
	})
	h := newTestRouter(store)

	rec, body := do(t, h, "POST", "/points-exchange/products/"+strconv.FormatInt(productID, 10)+"/exchange", 1, `{"quantity": 1}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	record := body["data"].(map[string]interface{})["record"].(map[string]interface{})
	exchangeID := int64(record["id"].(float64))
	path := "/admin/exchange-approval/records/" + strconv.FormatInt(exchangeID, 10) + "/approve"

	for _, payload := range []string{`{"notes": "looks good"}`, `{}`, `{"approved": null}`} {
		rec, _ = do(t, h, "POST", path, 9, payload)
		require.Equal(t, http.StatusBadRequest, rec.Code, payload)
	}
	require.Equal(t, models.ExchangePending, store.exchange(exchangeID).Status)
	require.Equal(t, int64(60), store.balance(1).AvailablePoints)

	rec, body = do(t, h, "POST", path, 9, `{"approved": true, "notes": "looks good"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "approved", body["data"].(map[string]interface{})["status"])
}

func TestAdminValidationRejectsBadInput(t *testing.T) {
	h := newTestRouter(newMemStore())

	tests := []struct {
		path string
		body string
	}{
		{"/admin/points-rules", `{"name": "x", "trigger_type": "daily_login", "points": 5}`},
		{"/admin/points-rules", `{"name": "x", "trigger_type": "study_duration", "points": 5, "conditions": {}}`},
		{"/admin/points-rules", `{"name": "x", "trigger_type": "study_duration", "points": 0, "conditions": {"duration_minutes": 30}}`},
		{"/admin/achievements", `{"name": "x", "trigger_type": "total_hours", "trigger_conditions": {"days": 3}}`},
		{"/admin/products", `{"name": "x", "points_required": 10, "stock_quantity": -5}`},
		{"/admin/products", `{"name": "", "points_required": 10}`},
	}
	for _, tt := range tests {
		rec, body := do(t, h, "POST", tt.path, 9, tt.body)
		require.Equal(t, http.StatusBadRequest, rec.Code, "%s %s: %v", tt.path, tt.body, body)
	}
}
