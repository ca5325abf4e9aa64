package bot

import (
	"fmt"
	"html"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"kinguin-bot/internal/models"
	"kinguin-bot/internal/services/kinguin"
	"kinguin-bot/internal/services/purchase"
)

const (
	textUnauthorized = "❌ У вас нет доступа к этому боту."

	textWelcome = "🎮 <b>Kinguin Purchase Bot</b>\n\n" +
		"Доступные команды:\n" +
		"/buy <code>&lt;kinguin_id&gt;</code> <code>&lt;quantity&gt;</code> - Купить товар\n" +
		"/search <code>&lt;название&gt;</code> - Поиск товара\n" +
		"/balance - Проверить баланс\n" +
		"/history - История покупок\n" +
		"/links - Связи с FunPay\n" +
		"/help - Справка"

	textHelp = "📖 <b>Справка</b>\n\n" +
		"<b>Покупка товара:</b>\n" +
		"<code>/buy 123456 1</code> - купить 1 шт товара с ID 123456\n\n" +
		"<b>Поиск:</b>\n" +
		"<code>/search Counter-Strike</code> - первые 10 результатов\n\n" +
		"<b>Проверка баланса:</b>\n" +
		"<code>/balance</code> - показать текущий баланс\n\n" +
		"<b>История:</b>\n" +
		"<code>/history</code> - показать последние 10 покупок\n\n" +
		"<b>FunPay:</b>\n" +
		"<code>/link fp123 123456</code> - связать лот FunPay с товаром\n" +
		"<code>/unlink fp123</code> - удалить связь\n" +
		"<code>/links</code> - список связей\n\n" +
		"После команды /buy вы получите карточку товара с кнопкой подтверждения."

	textUnknownCommand    = "❓ Неизвестная команда. Используйте /help"
	textSearchUsage       = "❌ Использование: <code>/search &lt;название&gt;</code>"
	textBuyUsage          = "❌ Использование: <code>/buy &lt;kinguin_id&gt; &lt;quantity&gt;</code>"
	textLinkUsage         = "❌ Использование: <code>/link &lt;funpay_id&gt; &lt;kinguin_id&gt;</code>"
	textUnlinkUsage       = "❌ Использование: <code>/unlink &lt;funpay_id&gt;</code>"
	textBadNumbers        = "❌ Неверный формат. Используйте числа."
	textBadQuantity       = "❌ Количество должно быть > 0"
	textOutOfStock        = "❌ Товар отсутствует на складе"
	textSessionExpired    = "❌ Сессия покупки истекла. Повторите команду /buy"
	textPurchaseCancelled = "❌ Покупка отменена"
	textHistoryEmpty      = "📋 История покупок пуста"
	textLinksEmpty        = "🔗 Связей пока нет"
	textLinkNotFound      = "❌ Связь не найдена"
	textLinkRemoved       = "✅ Связь удалена"

	// TextProcessing is shown while a confirmed purchase runs.
	TextProcessing = "⏳ Обрабатываю заказ..."
)

var statusEmoji = map[string]string{
	"completed":  "✅",
	"processing": "⏳",
	"new":        "🆕",
	"cancelled":  "❌",
	"refunded":   "↩️",
}

func emojiFor(status string) string {
	if e, ok := statusEmoji[status]; ok {
		return e
	}
	return "❓"
}

func esc(s string) string {
	return html.EscapeString(s)
}

func money(d decimal.Decimal) string {
	return "€" + d.StringFixed(2)
}

// errorText renders err for the chat. Upstream messages are shown, internal
// details are not.
func errorText(prefix string, err error) string {
	var (
		apiErr       *kinguin.APIError
		transportErr *kinguin.TransportError
		reason       string
	)
	switch {
	case errors.Is(err, kinguin.ErrNotFound):
		reason = "товар не найден"
	case errors.Is(err, purchase.ErrInsufficientStock):
		reason = "недостаточно товара на складе"
	case errors.As(err, &apiErr):
		reason = apiErr.Message
	case errors.As(err, &transportErr):
		reason = "сервис Kinguin недоступен, попробуйте позже"
	default:
		reason = "внутренняя ошибка"
	}
	return fmt.Sprintf("❌ %s: %s", prefix, esc(reason))
}

func balanceText(b *kinguin.Balance) string {
	return fmt.Sprintf("💰 <b>Баланс:</b> %s %s", b.Balance.StringFixed(2), esc(b.Currency))
}

func searchText(query string, page *kinguin.ProductPage) string {
	if len(page.Results) == 0 {
		return fmt.Sprintf("🔍 По запросу «%s» ничего не найдено", esc(query))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔍 <b>Результаты поиска:</b> %s\n\n", esc(query))
	for i, p := range page.Results {
		if i == searchLimit {
			break
		}
		fmt.Fprintf(&b, "%d. <b>%s</b>\n   💰 %s | 📦 %d шт | 🖥 %s\n   🆔 <code>%d</code>\n\n",
			i+1, esc(p.Name), money(p.Price), p.Qty, esc(p.Platform), p.KinguinID)
	}
	if page.ItemCount > len(page.Results) {
		fmt.Fprintf(&b, "Всего найдено: %d", page.ItemCount)
	}
	return strings.TrimRight(b.String(), "\n")
}

func insufficientStockText(available int) string {
	return fmt.Sprintf("❌ Недостаточно товара на складе. Доступно: %d", available)
}

func productCardText(p *kinguin.Product, quantity int) string {
	total := p.Price.Mul(decimal.NewFromInt(int64(quantity)))

	var b strings.Builder
	fmt.Fprintf(&b, "🎮 <b>%s</b>\n\n", esc(p.Name))
	fmt.Fprintf(&b, "💰 Цена: %s\n", money(p.Price))
	fmt.Fprintf(&b, "📦 Количество: %d\n", quantity)
	fmt.Fprintf(&b, "💵 Итого: %s\n\n", money(total))
	fmt.Fprintf(&b, "🖥 Платформа: %s\n", esc(p.Platform))
	fmt.Fprintf(&b, "🌍 Регион: %s\n", esc(p.Region))
	fmt.Fprintf(&b, "📊 Доступно: %d шт.", p.Qty)
	if p.IsPreorder {
		b.WriteString("\n⏰ Предзаказ")
		if p.ReleaseDate != nil {
			fmt.Fprintf(&b, ", релиз %s", p.ReleaseDate.Format("02.01.2006"))
		}
	}
	return b.String()
}

func purchaseResultText(res *purchase.Result) string {
	p := res.Purchase

	var b strings.Builder
	switch {
	case res.Completed:
		b.WriteString("✅ <b>Покупка завершена!</b>\n\n")
	case res.StillProcessing:
		b.WriteString("🛒 <b>Заказ создан</b>\n\n")
	default:
		fmt.Fprintf(&b, "%s <b>Заказ не выполнен</b>\n\n", emojiFor(p.Status))
	}
	fmt.Fprintf(&b, "🆔 ID заказа: <code>%s</code>\n", esc(p.OrderID))
	fmt.Fprintf(&b, "💰 Сумма: %s\n", money(p.TotalPrice))
	fmt.Fprintf(&b, "📊 Статус: %s", esc(p.Status))

	if len(res.Keys) > 0 {
		b.WriteString("\n\n🔑 <b>Ключи:</b>\n")
		for i, k := range res.Keys {
			fmt.Fprintf(&b, "%d. <code>%s</code>\n", i+1, esc(k.Serial))
		}
	}
	if res.StillProcessing {
		b.WriteString("\n\n⏳ Заказ обрабатывается. Ключи будут отправлены автоматически.")
	}
	return strings.TrimRight(b.String(), "\n")
}

// purchaseInterruptedText is used when the order exists but a later step
// failed; the background tracker keeps following it.
func purchaseInterruptedText(p *models.Purchase, err error) string {
	return fmt.Sprintf("%s\n\n🆔 ID заказа: <code>%s</code>\n⏳ Статус заказа будет проверен автоматически.",
		errorText("Заказ создан, но не завершен", err), esc(p.OrderID))
}

func historyText(purchases []models.Purchase) string {
	var b strings.Builder
	b.WriteString("📋 <b>История покупок:</b>\n\n")
	for i, p := range purchases {
		fmt.Fprintf(&b, "%d. %s <b>%s</b>\n", i+1, emojiFor(p.Status), esc(p.ProductName))
		fmt.Fprintf(&b, "   💰 %s | 📦 %d шт\n", money(p.TotalPrice), p.Quantity)
		fmt.Fprintf(&b, "   📅 %s\n", p.CreatedAt.Local().Format("02.01.2006 15:04"))
		fmt.Fprintf(&b, "   🆔 <code>%s</code>\n\n", esc(p.OrderID))
	}
	return strings.TrimRight(b.String(), "\n")
}

func linkSavedText(funpayID string, kinguinID int) string {
	return fmt.Sprintf("✅ Лот FunPay <code>%s</code> связан с товаром <code>%d</code>", esc(funpayID), kinguinID)
}

func linksText(links []models.FunPayLink) string {
	var b strings.Builder
	b.WriteString("🔗 <b>Связи FunPay → Kinguin:</b>\n\n")
	for i, l := range links {
		fmt.Fprintf(&b, "%d. <code>%s</code> → <code>%d</code>\n", i+1, esc(l.FunPayID), l.KinguinID)
	}
	return strings.TrimRight(b.String(), "\n")
}
