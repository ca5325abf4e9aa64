package bot

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"kinguin-bot/internal/models"
	"kinguin-bot/internal/services/kinguin"
	"kinguin-bot/internal/services/purchase"
)

const (
	CallbackConfirm = "confirm_purchase"
	CallbackCancel  = "cancel_purchase"

	historyLimit = 10
	searchLimit  = 10
)

type KinguinAPI interface {
	GetBalance(ctx context.Context) (*kinguin.Balance, error)
	SearchProducts(ctx context.Context, filters kinguin.SearchFilters) (*kinguin.ProductPage, error)
	GetProduct(ctx context.Context, kinguinID int) (*kinguin.Product, error)
}

type Purchaser interface {
	Purchase(ctx context.Context, req purchase.PurchaseRequest) (*purchase.Result, error)
}

type History interface {
	GetUserPurchases(userID int64, limit int) ([]models.Purchase, error)
	AddFunPayLink(funpayID string, kinguinID int, userID int64) error
	RemoveFunPayLink(funpayID string, userID int64) (bool, error)
	GetFunPayLinks(userID int64) ([]models.FunPayLink, error)
}

type Button struct {
	Text string
	Data string
}

// Reply is an HTML message with optional inline buttons, one row per slice.
type Reply struct {
	Text    string
	Buttons [][]Button
}

type pendingPurchase struct {
	product  kinguin.Product
	quantity int
}

// Handler implements the chat commands independent of the transport.
type Handler struct {
	api       KinguinAPI
	purchases Purchaser
	history   History
	allowed   func(userID int64) bool
	log       *logrus.Entry

	mu      sync.Mutex
	pending map[int64]pendingPurchase
}

func NewHandler(api KinguinAPI, purchases Purchaser, history History, allowed func(int64) bool, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if allowed == nil {
		allowed = func(int64) bool { return true }
	}
	return &Handler{
		api:       api,
		purchases: purchases,
		history:   history,
		allowed:   allowed,
		log:       log.WithField("component", "bot"),
		pending:   make(map[int64]pendingPurchase),
	}
}

// HandleCommand answers a slash command; args is the text after it.
func (h *Handler) HandleCommand(ctx context.Context, userID int64, command, args string) Reply {
	log := h.log.WithFields(logrus.Fields{"user_id": userID, "command": command})
	if !h.allowed(userID) {
		log.Warn("Unauthorized access attempt")
		return Reply{Text: textUnauthorized}
	}

	fields := strings.Fields(args)
	switch command {
	case "start":
		return Reply{Text: textWelcome}
	case "help":
		return Reply{Text: textHelp}
	case "balance":
		return h.balance(ctx, log)
	case "search":
		return h.search(ctx, log, strings.TrimSpace(args))
	case "buy":
		return h.buy(ctx, log, userID, fields)
	case "history":
		return h.purchaseHistory(log, userID)
	case "link":
		return h.link(log, userID, fields)
	case "unlink":
		return h.unlink(log, userID, fields)
	case "links":
		return h.links(log, userID)
	default:
		return Reply{Text: textUnknownCommand}
	}
}

// HandleCallback answers an inline button press.
func (h *Handler) HandleCallback(ctx context.Context, userID int64, data string) Reply {
	log := h.log.WithFields(logrus.Fields{"user_id": userID, "callback": data})
	if !h.allowed(userID) {
		log.Warn("Unauthorized callback")
		return Reply{Text: textUnauthorized}
	}

	switch data {
	case CallbackConfirm:
		sel, ok := h.takePending(userID)
		if !ok {
			return Reply{Text: textSessionExpired}
		}
		return h.purchase(ctx, log, userID, sel)
	case CallbackCancel:
		h.takePending(userID)
		return Reply{Text: textPurchaseCancelled}
	default:
		return Reply{Text: textUnknownCommand}
	}
}

func (h *Handler) setPending(userID int64, sel pendingPurchase) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending[userID] = sel
}

// takePending removes and returns the user's selection, so a double tap on
// confirm buys only once.
func (h *Handler) takePending(userID int64) (pendingPurchase, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sel, ok := h.pending[userID]
	delete(h.pending, userID)
	return sel, ok
}

func (h *Handler) balance(ctx context.Context, log *logrus.Entry) Reply {
	balance, err := h.api.GetBalance(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to get balance")
		return Reply{Text: errorText("Ошибка при получении баланса", err)}
	}
	return Reply{Text: balanceText(balance)}
}

func (h *Handler) search(ctx context.Context, log *logrus.Entry, query string) Reply {
	if query == "" {
		return Reply{Text: textSearchUsage}
	}
	page, err := h.api.SearchProducts(ctx, kinguin.SearchFilters{Name: query, Limit: searchLimit})
	if err != nil {
		log.WithError(err).Error("Product search failed")
		return Reply{Text: errorText("Ошибка поиска", err)}
	}
	return Reply{Text: searchText(query, page)}
}

func (h *Handler) buy(ctx context.Context, log *logrus.Entry, userID int64, args []string) Reply {
	if len(args) < 2 {
		return Reply{Text: textBuyUsage}
	}
	kinguinID, err := strconv.Atoi(args[0])
	if err != nil || kinguinID <= 0 {
		return Reply{Text: textBadNumbers}
	}
	quantity, err := strconv.Atoi(args[1])
	if err != nil {
		return Reply{Text: textBadNumbers}
	}
	if quantity <= 0 {
		return Reply{Text: textBadQuantity}
	}

	product, err := h.api.GetProduct(ctx, kinguinID)
	if err != nil {
		log.WithError(err).WithField("kinguin_id", kinguinID).Error("Failed to get product")
		return Reply{Text: errorText("Ошибка при получении информации о товаре", err)}
	}
	if product.Qty == 0 {
		return Reply{Text: textOutOfStock}
	}
	if product.Qty < quantity {
		return Reply{Text: insufficientStockText(product.Qty)}
	}

	h.setPending(userID, pendingPurchase{product: *product, quantity: quantity})
	return Reply{
		Text: productCardText(product, quantity),
		Buttons: [][]Button{
			{{Text: "✅ Подтвердить покупку", Data: CallbackConfirm}},
			{{Text: "❌ Отменить", Data: CallbackCancel}},
		},
	}
}

func (h *Handler) purchase(ctx context.Context, log *logrus.Entry, userID int64, sel pendingPurchase) Reply {
	res, err := h.purchases.Purchase(ctx, purchase.PurchaseRequest{
		UserID:   userID,
		Product:  sel.product,
		Quantity: sel.quantity,
	})
	if err != nil {
		log.WithError(err).Error("Purchase failed")
		if res != nil && res.Purchase != nil {
			return Reply{Text: purchaseInterruptedText(res.Purchase, err)}
		}
		return Reply{Text: errorText("Ошибка при покупке", err)}
	}
	return Reply{Text: purchaseResultText(res)}
}

func (h *Handler) purchaseHistory(log *logrus.Entry, userID int64) Reply {
	purchases, err := h.history.GetUserPurchases(userID, historyLimit)
	if err != nil {
		log.WithError(err).Error("Failed to load history")
		return Reply{Text: errorText("Ошибка при загрузке истории", err)}
	}
	if len(purchases) == 0 {
		return Reply{Text: textHistoryEmpty}
	}
	return Reply{Text: historyText(purchases)}
}

func (h *Handler) link(log *logrus.Entry, userID int64, args []string) Reply {
	if len(args) < 2 {
		return Reply{Text: textLinkUsage}
	}
	kinguinID, err := strconv.Atoi(args[1])
	if err != nil || kinguinID <= 0 {
		return Reply{Text: textBadNumbers}
	}
	if err := h.history.AddFunPayLink(args[0], kinguinID, userID); err != nil {
		log.WithError(err).Error("Failed to save link")
		return Reply{Text: errorText("Ошибка при сохранении связи", err)}
	}
	return Reply{Text: linkSavedText(args[0], kinguinID)}
}

func (h *Handler) unlink(log *logrus.Entry, userID int64, args []string) Reply {
	if len(args) < 1 {
		return Reply{Text: textUnlinkUsage}
	}
	removed, err := h.history.RemoveFunPayLink(args[0], userID)
	if err != nil {
		log.WithError(err).Error("Failed to remove link")
		return Reply{Text: errorText("Ошибка при удалении связи", err)}
	}
	if !removed {
		return Reply{Text: textLinkNotFound}
	}
	return Reply{Text: textLinkRemoved}
}

func (h *Handler) links(log *logrus.Entry, userID int64) Reply {
	links, err := h.history.GetFunPayLinks(userID)
	if err != nil {
		log.WithError(err).Error("Failed to load links")
		return Reply{Text: errorText("Ошибка при загрузке связей", err)}
	}
	if len(links) == 0 {
		return Reply{Text: textLinksEmpty}
	}
	return Reply{Text: linksText(links)}
}
