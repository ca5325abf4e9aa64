package bot

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinguin-bot/internal/models"
	"kinguin-bot/internal/services/kinguin"
	"kinguin-bot/internal/services/purchase"
)

type fakeAPI struct {
	balance    *kinguin.Balance
	balanceErr error
	page       *kinguin.ProductPage
	filters    []kinguin.SearchFilters
	products   map[int]*kinguin.Product
}

func (f *fakeAPI) GetBalance(context.Context) (*kinguin.Balance, error) {
	return f.balance, f.balanceErr
}

func (f *fakeAPI) SearchProducts(_ context.Context, filters kinguin.SearchFilters) (*kinguin.ProductPage, error) {
	f.filters = append(f.filters, filters)
	return f.page, nil
}

func (f *fakeAPI) GetProduct(_ context.Context, id int) (*kinguin.Product, error) {
	if p, ok := f.products[id]; ok {
		return p, nil
	}
	return nil, &kinguin.NotFoundError{APIError: kinguin.APIError{StatusCode: http.StatusNotFound, Message: "Not Found"}}
}

type fakePurchaser struct {
	mu       sync.Mutex
	requests []purchase.PurchaseRequest
	result   *purchase.Result
	err      error
}

func (f *fakePurchaser) Purchase(_ context.Context, req purchase.PurchaseRequest) (*purchase.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result, f.err
}

type fakeHistory struct {
	purchases []models.Purchase
	links     map[string]models.FunPayLink
}

func (f *fakeHistory) GetUserPurchases(userID int64, limit int) ([]models.Purchase, error) {
	var out []models.Purchase
	for _, p := range f.purchases {
		if p.UserID == userID && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeHistory) AddFunPayLink(funpayID string, kinguinID int, userID int64) error {
	if f.links == nil {
		f.links = map[string]models.FunPayLink{}
	}
	f.links[funpayID] = models.FunPayLink{FunPayID: funpayID, KinguinID: kinguinID, UserID: userID}
	return nil
}

func (f *fakeHistory) RemoveFunPayLink(funpayID string, userID int64) (bool, error) {
	l, ok := f.links[funpayID]
	if !ok || l.UserID != userID {
		return false, nil
	}
	delete(f.links, funpayID)
	return true, nil
}

func (f *fakeHistory) GetFunPayLinks(userID int64) ([]models.FunPayLink, error) {
	var out []models.FunPayLink
	for _, l := range f.links {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func nullLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testProduct() *kinguin.Product {
	return &kinguin.Product{
		KinguinID: 1949,
		Name:      "Counter-Strike: Source <Steam>",
		Price:     decimal.RequireFromString("3.48"),
		Qty:       5,
		Platform:  "Steam",
		Region:    "Region free",
	}
}

type testDeps struct {
	api       *fakeAPI
	purchaser *fakePurchaser
	history   *fakeHistory
}

func newTestHandler(allowed func(int64) bool) (*Handler, *testDeps) {
	deps := &testDeps{
		api:       &fakeAPI{products: map[int]*kinguin.Product{1949: testProduct()}},
		purchaser: &fakePurchaser{},
		history:   &fakeHistory{},
	}
	return NewHandler(deps.api, deps.purchaser, deps.history, allowed, nullLogger()), deps
}

func TestHandleCommand_Unauthorized(t *testing.T) {
	h, deps := newTestHandler(func(id int64) bool { return id == 1 })

	reply := h.HandleCommand(context.Background(), 2, "balance", "")
	assert.Equal(t, textUnauthorized, reply.Text)

	reply = h.HandleCallback(context.Background(), 2, CallbackConfirm)
	assert.Equal(t, textUnauthorized, reply.Text)
	assert.Empty(t, deps.purchaser.requests)
}

func TestHandleCommand_StartAndHelp(t *testing.T) {
	h, _ := newTestHandler(nil)

	assert.Contains(t, h.HandleCommand(context.Background(), 1, "start", "").Text, "Kinguin Purchase Bot")
	assert.Contains(t, h.HandleCommand(context.Background(), 1, "help", "").Text, "/buy 123456 1")
	assert.Equal(t, textUnknownCommand, h.HandleCommand(context.Background(), 1, "sell", "").Text)
}

func TestHandleCommand_Balance(t *testing.T) {
	h, deps := newTestHandler(nil)
	deps.api.balance = &kinguin.Balance{Balance: decimal.RequireFromString("12.5"), Currency: "EUR"}

	reply := h.HandleCommand(context.Background(), 1, "balance", "")
	assert.Equal(t, "💰 <b>Баланс:</b> 12.50 EUR", reply.Text)

	deps.api.balanceErr = &kinguin.APIError{StatusCode: http.StatusUnauthorized, Message: "Invalid <key>"}
	reply = h.HandleCommand(context.Background(), 1, "balance", "")
	assert.Equal(t, "❌ Ошибка при получении баланса: Invalid &lt;key&gt;", reply.Text)

	deps.api.balanceErr = &kinguin.TransportError{Op: "getBalance", Err: errors.New("dial tcp: refused")}
	reply = h.HandleCommand(context.Background(), 1, "balance", "")
	assert.Contains(t, reply.Text, "недоступен")
	assert.NotContains(t, reply.Text, "dial tcp")
}

func TestHandleCommand_Search(t *testing.T) {
	h, deps := newTestHandler(nil)
	deps.api.page = &kinguin.ProductPage{Results: []kinguin.Product{*testProduct()}, ItemCount: 42}

	reply := h.HandleCommand(context.Background(), 1, "search", " Counter Strike ")
	require.Len(t, deps.api.filters, 1)
	assert.Equal(t, "Counter Strike", deps.api.filters[0].Name)
	assert.Equal(t, searchLimit, deps.api.filters[0].Limit)
	assert.Contains(t, reply.Text, "Counter-Strike: Source &lt;Steam&gt;")
	assert.Contains(t, reply.Text, "<code>1949</code>")
	assert.Contains(t, reply.Text, "Всего найдено: 42")

	assert.Equal(t, textSearchUsage, h.HandleCommand(context.Background(), 1, "search", "").Text)
}

func TestHandleCommand_BuyValidation(t *testing.T) {
	h, _ := newTestHandler(nil)
	ctx := context.Background()

	assert.Equal(t, textBuyUsage, h.HandleCommand(ctx, 1, "buy", "1949").Text)
	assert.Equal(t, textBadNumbers, h.HandleCommand(ctx, 1, "buy", "abc 1").Text)
	assert.Equal(t, textBadQuantity, h.HandleCommand(ctx, 1, "buy", "1949 0").Text)
	assert.Equal(t, insufficientStockText(5), h.HandleCommand(ctx, 1, "buy", "1949 6").Text)
	assert.Contains(t, h.HandleCommand(ctx, 1, "buy", "7 1").Text, "товар не найден")

	// No selection was stored by the failed attempts.
	assert.Equal(t, textSessionExpired, h.HandleCallback(ctx, 1, CallbackConfirm).Text)
}

func TestBuyAndConfirm(t *testing.T) {
	h, deps := newTestHandler(nil)
	ctx := context.Background()
	deps.purchaser.result = &purchase.Result{
		Purchase: &models.Purchase{
			OrderID:    "PHS84FJAG5U",
			TotalPrice: decimal.RequireFromString("6.96"),
			Status:     "completed",
		},
		Keys:      []kinguin.OrderKey{{Serial: "AAAA-BBBB"}},
		Completed: true,
	}

	card := h.HandleCommand(ctx, 1, "buy", "1949 2")
	assert.Contains(t, card.Text, "Итого: €6.96")
	require.Len(t, card.Buttons, 2)
	assert.Equal(t, CallbackConfirm, card.Buttons[0][0].Data)
	assert.Equal(t, CallbackCancel, card.Buttons[1][0].Data)

	reply := h.HandleCallback(ctx, 1, CallbackConfirm)
	assert.Contains(t, reply.Text, "Покупка завершена")
	assert.Contains(t, reply.Text, "<code>AAAA-BBBB</code>")
	require.Len(t, deps.purchaser.requests, 1)
	assert.Equal(t, int64(1), deps.purchaser.requests[0].UserID)
	assert.Equal(t, 2, deps.purchaser.requests[0].Quantity)
	assert.Equal(t, 1949, deps.purchaser.requests[0].Product.KinguinID)

	// The selection is consumed by the first confirmation.
	assert.Equal(t, textSessionExpired, h.HandleCallback(ctx, 1, CallbackConfirm).Text)
	assert.Len(t, deps.purchaser.requests, 1)
}

func TestConfirm_ConcurrentTapsBuyOnce(t *testing.T) {
	h, deps := newTestHandler(nil)
	ctx := context.Background()
	deps.purchaser.result = &purchase.Result{
		Purchase:        &models.Purchase{OrderID: "X", Status: "processing"},
		StillProcessing: true,
	}
	h.HandleCommand(ctx, 1, "buy", "1949 1")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.HandleCallback(ctx, 1, CallbackConfirm)
		}()
	}
	wg.Wait()
	assert.Len(t, deps.purchaser.requests, 1)
}

func TestConfirm_StillProcessingAndErrors(t *testing.T) {
	h, deps := newTestHandler(nil)
	ctx := context.Background()

	deps.purchaser.result = &purchase.Result{
		Purchase:        &models.Purchase{OrderID: "SLOW", Status: "processing", TotalPrice: decimal.RequireFromString("3.48")},
		StillProcessing: true,
	}
	h.HandleCommand(ctx, 1, "buy", "1949 1")
	reply := h.HandleCallback(ctx, 1, CallbackConfirm)
	assert.Contains(t, reply.Text, "Ключи будут отправлены автоматически")

	deps.purchaser.result = nil
	deps.purchaser.err = &kinguin.APIError{StatusCode: http.StatusBadRequest, Message: "Insufficient balance"}
	h.HandleCommand(ctx, 1, "buy", "1949 1")
	reply = h.HandleCallback(ctx, 1, CallbackConfirm)
	assert.Equal(t, "❌ Ошибка при покупке: Insufficient balance", reply.Text)

	deps.purchaser.result = &purchase.Result{Purchase: &models.Purchase{OrderID: "HALF"}}
	deps.purchaser.err = errors.Wrap(context.DeadlineExceeded, "await order HALF")
	h.HandleCommand(ctx, 1, "buy", "1949 1")
	reply = h.HandleCallback(ctx, 1, CallbackConfirm)
	assert.Contains(t, reply.Text, "<code>HALF</code>")
}

func TestCancelPurchase(t *testing.T) {
	h, deps := newTestHandler(nil)
	ctx := context.Background()

	h.HandleCommand(ctx, 1, "buy", "1949 1")
	assert.Equal(t, textPurchaseCancelled, h.HandleCallback(ctx, 1, CallbackCancel).Text)
	assert.Equal(t, textSessionExpired, h.HandleCallback(ctx, 1, CallbackConfirm).Text)
	assert.Empty(t, deps.purchaser.requests)
}

func TestPendingSelectionsArePerUser(t *testing.T) {
	h, deps := newTestHandler(nil)
	ctx := context.Background()
	deps.purchaser.result = &purchase.Result{Purchase: &models.Purchase{OrderID: "A", Status: "completed"}, Completed: true}

	h.HandleCommand(ctx, 1, "buy", "1949 1")
	assert.Equal(t, textSessionExpired, h.HandleCallback(ctx, 2, CallbackConfirm).Text)
	assert.NotEqual(t, textSessionExpired, h.HandleCallback(ctx, 1, CallbackConfirm).Text)
}

func TestHandleCommand_History(t *testing.T) {
	h, deps := newTestHandler(nil)
	ctx := context.Background()

	assert.Equal(t, textHistoryEmpty, h.HandleCommand(ctx, 1, "history", "").Text)

	deps.history.purchases = []models.Purchase{
		{UserID: 1, OrderID: "A", ProductName: "Game <1>", Quantity: 1, TotalPrice: decimal.RequireFromString("3"), Status: "completed", CreatedAt: time.Now()},
		{UserID: 1, OrderID: "B", ProductName: "Game 2", Quantity: 2, TotalPrice: decimal.RequireFromString("4.5"), Status: "weird", CreatedAt: time.Now()},
	}
	reply := h.HandleCommand(ctx, 1, "history", "")
	assert.Contains(t, reply.Text, "1. ✅ <b>Game &lt;1&gt;</b>")
	assert.Contains(t, reply.Text, "2. ❓ <b>Game 2</b>")
	assert.Contains(t, reply.Text, "€4.50")
}

func TestFunPayLinkCommands(t *testing.T) {
	h, _ := newTestHandler(nil)
	ctx := context.Background()

	assert.Equal(t, textLinksEmpty, h.HandleCommand(ctx, 1, "links", "").Text)
	assert.Equal(t, textLinkUsage, h.HandleCommand(ctx, 1, "link", "fp1").Text)
	assert.Equal(t, textBadNumbers, h.HandleCommand(ctx, 1, "link", "fp1 abc").Text)

	assert.Contains(t, h.HandleCommand(ctx, 1, "link", "fp1 1949").Text, "<code>fp1</code>")
	assert.Contains(t, h.HandleCommand(ctx, 1, "links", "").Text, "<code>fp1</code> → <code>1949</code>")

	assert.Equal(t, textLinkNotFound, h.HandleCommand(ctx, 2, "unlink", "fp1").Text)
	assert.Equal(t, textLinkRemoved, h.HandleCommand(ctx, 1, "unlink", "fp1").Text)
	assert.Equal(t, textUnlinkUsage, h.HandleCommand(ctx, 1, "unlink", "").Text)
}
