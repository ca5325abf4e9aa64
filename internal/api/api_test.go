package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinguin-bot/internal/models"
	"kinguin-bot/internal/services/history"
	"kinguin-bot/internal/services/kinguin"
)

const testSecret = "jwt-test-secret"

type fakeKinguin struct {
	balance   *kinguin.Balance
	orders    *kinguin.OrderPage
	err       error
	lastOrder kinguin.OrderFilters
}

func (f *fakeKinguin) GetBalance(context.Context) (*kinguin.Balance, error) {
	return f.balance, f.err
}

func (f *fakeKinguin) GetOrders(_ context.Context, filters kinguin.OrderFilters) (*kinguin.OrderPage, error) {
	f.lastOrder = filters
	return f.orders, f.err
}

type fakeHistory struct {
	purchases []models.Purchase
	lastLimit int
}

func (f *fakeHistory) GetUserPurchases(userID int64, limit int) ([]models.Purchase, error) {
	f.lastLimit = limit
	var out []models.Purchase
	for _, p := range f.purchases {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeHistory) GetByOrderID(orderID string) (*models.Purchase, error) {
	for i := range f.purchases {
		if f.purchases[i].OrderID == orderID {
			return &f.purchases[i], nil
		}
	}
	return nil, errors.Wrapf(history.ErrPurchaseNotFound, "order %s", orderID)
}

func newTestRouter(k *fakeKinguin, h *fakeHistory) *gin.Engine {
	gin.SetMode(gin.TestMode)
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewRouter(Deps{
		Kinguin:   k,
		History:   h,
		Metrics:   http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("kinguin_api_requests_total 1\n")) }),
		JWTSecret: testSecret,
		Logger:    logrus.NewEntry(l),
	})
}

func authedRequest(t *testing.T, method, target string) *http.Request {
	t.Helper()
	token, err := IssueToken(testSecret, "admin", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestPublicRoutes(t *testing.T) {
	r := newTestRouter(&fakeKinguin{}, &fakeHistory{})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	w = serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "kinguin_api_requests_total")
}

func TestAuthMiddleware(t *testing.T) {
	r := newTestRouter(&fakeKinguin{balance: &kinguin.Balance{Currency: "EUR"}}, &fakeHistory{})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil)
	req.Header.Set("Authorization", "Token abc")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	wrong, err := IssueToken("other-secret", "admin", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil)
	req.Header.Set("Authorization", "Bearer "+wrong)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	expired, err := IssueToken(testSecret, "admin", -time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	good, err := IssueToken(testSecret, "admin", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/balance?token="+good, nil)
	assert.Equal(t, http.StatusOK, serve(r, req).Code)
}

func TestValidateToken_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = ValidateToken(testSecret, signed)
	assert.Error(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "admin"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = ValidateToken(testSecret, noExpiry)
	assert.Error(t, err)
}

func TestGetBalance(t *testing.T) {
	k := &fakeKinguin{balance: &kinguin.Balance{Balance: decimal.RequireFromString("12.50"), Currency: "EUR"}}
	r := newTestRouter(k, &fakeHistory{})

	w := serve(r, authedRequest(t, http.MethodGet, "/api/v1/balance"))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "12.5", body["balance"])
	assert.Equal(t, "EUR", body["currency"])
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not found", &kinguin.NotFoundError{APIError: kinguin.APIError{StatusCode: 404}}, http.StatusNotFound},
		{"api error", &kinguin.APIError{StatusCode: 401, Message: "Invalid API key"}, http.StatusBadGateway},
		{"transport", &kinguin.TransportError{Op: "getBalance", Err: errors.New("timeout")}, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeKinguin{err: tt.err}, &fakeHistory{})
			w := serve(r, authedRequest(t, http.MethodGet, "/api/v1/balance"))
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestGetPurchases(t *testing.T) {
	h := &fakeHistory{purchases: []models.Purchase{
		{UserID: 7, OrderID: "A", Status: "completed", Keys: `[{"serial":"SECRET"}]`},
		{UserID: 8, OrderID: "B", Status: "processing"},
	}}
	r := newTestRouter(&fakeKinguin{}, h)

	w := serve(r, authedRequest(t, http.MethodGet, "/api/v1/purchases?user_id=7&limit=5"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, h.lastLimit)
	assert.NotContains(t, w.Body.String(), "SECRET")

	body := decode(t, w)
	purchases, ok := body["purchases"].([]interface{})
	require.True(t, ok)
	require.Len(t, purchases, 1)

	assert.Equal(t, http.StatusBadRequest, serve(r, authedRequest(t, http.MethodGet, "/api/v1/purchases")).Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, authedRequest(t, http.MethodGet, "/api/v1/purchases?user_id=7&limit=1000")).Code)
}

func TestGetPurchase(t *testing.T) {
	h := &fakeHistory{purchases: []models.Purchase{{UserID: 7, OrderID: "A", Status: "completed"}}}
	r := newTestRouter(&fakeKinguin{}, h)

	w := serve(r, authedRequest(t, http.MethodGet, "/api/v1/purchases/A"))
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(r, authedRequest(t, http.MethodGet, "/api/v1/purchases/missing"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetOrders(t *testing.T) {
	k := &fakeKinguin{orders: &kinguin.OrderPage{
		Results:   []kinguin.Order{{OrderID: "A", Status: kinguin.StatusCompleted}},
		ItemCount: 1,
	}}
	r := newTestRouter(k, &fakeHistory{})

	w := serve(r, authedRequest(t, http.MethodGet, "/api/v1/orders?page=2&limit=20&date_from=2026-01-01T00:00:00Z"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, k.lastOrder.Page)
	assert.Equal(t, 20, k.lastOrder.Limit)
	require.NotNil(t, k.lastOrder.DateFrom)
	assert.Nil(t, k.lastOrder.DateTo)

	body := decode(t, w)
	assert.EqualValues(t, 1, body["item_count"])

	assert.Equal(t, http.StatusBadRequest, serve(r, authedRequest(t, http.MethodGet, "/api/v1/orders?page=0")).Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, authedRequest(t, http.MethodGet, "/api/v1/orders?date_to=yesterday")).Code)
}
