package bot

import (
	"context"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Bot connects a Handler to the Telegram Bot API via long polling.
type Bot struct {
	api     *tgbotapi.BotAPI
	handler *Handler
	log     *logrus.Entry
	wg      sync.WaitGroup
}

func NewBot(token string, handler *Handler, log *logrus.Entry) (*Bot, error) {
	return NewBotWithClient(token, tgbotapi.APIEndpoint, http.DefaultClient, handler, log)
}

// NewBotWithClient lets tests point the bot at a fake API endpoint.
func NewBotWithClient(token, endpoint string, client *http.Client, handler *Handler, log *logrus.Entry) (*Bot, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, errors.Wrap(err, "connect to telegram")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bot{
		api:     api,
		handler: handler,
		log:     log.WithField("component", "telegram"),
	}, nil
}

func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// Run handles updates until ctx ends, then waits for in-flight handlers.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "callback_query"}
	updates := b.api.GetUpdatesChan(u)

	b.log.WithField("username", b.api.Self.UserName).Info("Polling started")
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func(update tgbotapi.Update) {
				defer b.wg.Done()
				b.handleUpdate(ctx, update)
			}(update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("update_id", update.UpdateID).Errorf("Update handler panicked: %v", r)
		}
	}()

	switch {
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	reply := b.handler.HandleCommand(ctx, msg.From.ID, msg.Command(), msg.CommandArguments())

	out := tgbotapi.NewMessage(msg.Chat.ID, reply.Text)
	out.ParseMode = tgbotapi.ModeHTML
	if markup, ok := keyboard(reply.Buttons); ok {
		out.ReplyMarkup = markup
	}
	if _, err := b.api.Send(out); err != nil {
		b.log.WithError(err).WithField("chat_id", msg.Chat.ID).Error("Failed to send reply")
	}
}

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		b.log.WithError(err).Warn("Failed to answer callback")
	}
	if query.Message == nil || query.From == nil {
		return
	}
	chatID, messageID := query.Message.Chat.ID, query.Message.MessageID

	if query.Data == CallbackConfirm {
		b.edit(chatID, messageID, Reply{Text: TextProcessing})
	}
	b.edit(chatID, messageID, b.handler.HandleCallback(ctx, query.From.ID, query.Data))
}

func (b *Bot) edit(chatID int64, messageID int, reply Reply) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, reply.Text)
	edit.ParseMode = tgbotapi.ModeHTML
	if markup, ok := keyboard(reply.Buttons); ok {
		edit.ReplyMarkup = &markup
	}
	if _, err := b.api.Send(edit); err != nil {
		b.log.WithError(err).WithField("chat_id", chatID).Error("Failed to edit message")
	}
}

// Notify sends an HTML message to a user's private chat.
func (b *Bot) Notify(_ context.Context, userID int64, text string) error {
	msg := tgbotapi.NewMessage(userID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		return errors.Wrapf(err, "send message to %d", userID)
	}
	return nil
}

func keyboard(rows [][]Button) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	markup := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data))
		}
		markup = append(markup, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(markup...), true
}
