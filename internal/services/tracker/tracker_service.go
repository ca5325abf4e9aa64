package tracker

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"kinguin-bot/internal/models"
	"kinguin-bot/internal/services/history"
	"kinguin-bot/internal/services/kinguin"
	"kinguin-bot/internal/websocket"
)

type OrderAPI interface {
	GetOrder(ctx context.Context, orderID string) (*kinguin.Order, error)
	GetOrderKeys(ctx context.Context, orderID string) ([]kinguin.OrderKey, error)
}

type Store interface {
	GetPendingPurchases() ([]models.Purchase, error)
	TransitionStatus(orderID, from, to, keys string) (bool, error)
}

// InFlight reports orders a live purchase is still polling; the sweep
// leaves them to it.
type InFlight interface {
	InFlight(orderID string) bool
}

// Notifier delivers an HTML message to a user.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

type Publisher interface {
	Publish(msg websocket.Message)
}

type TrackerService struct {
	api       OrderAPI
	store     Store
	notifier  Notifier
	publisher Publisher
	inFlight  InFlight
	schedule  string
	cron      *cron.Cron
	log       *logrus.Entry
}

// Summary counts what one sweep did.
type Summary struct {
	Checked int
	Updated int
	Failed  int
}

func NewTrackerService(api OrderAPI, store Store, notifier Notifier, publisher Publisher, inFlight InFlight, schedule string, log *logrus.Entry) *TrackerService {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "tracker")
	return &TrackerService{
		api:       api,
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		inFlight:  inFlight,
		schedule:  schedule,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log)))),
		log:       log,
	}
}

// Start schedules CheckPending. ctx bounds every sweep.
func (t *TrackerService) Start(ctx context.Context) error {
	_, err := t.cron.AddFunc(t.schedule, func() {
		if _, err := t.CheckPending(ctx); err != nil {
			t.log.WithError(err).Error("Pending order sweep failed")
		}
	})
	if err != nil {
		return errors.Wrapf(err, "invalid schedule %q", t.schedule)
	}
	t.cron.Start()
	t.log.WithField("schedule", t.schedule).Info("Pending order tracker started")
	return nil
}

// Stop halts the scheduler; the returned context is done once a running
// sweep has finished.
func (t *TrackerService) Stop() context.Context {
	return t.cron.Stop()
}

// CheckPending looks at every unfinished purchase once. A failing order is
// logged and skipped.
func (t *TrackerService) CheckPending(ctx context.Context) (Summary, error) {
	var summary Summary

	pending, err := t.store.GetPendingPurchases()
	if err != nil {
		return summary, err
	}

	for i := range pending {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		p := &pending[i]
		if t.inFlight != nil && t.inFlight.InFlight(p.OrderID) {
			continue
		}
		summary.Checked++

		updated, err := t.checkOne(ctx, p)
		if err != nil {
			summary.Failed++
			t.log.WithError(err).WithField("order_id", p.OrderID).Warn("Failed to check order")
			continue
		}
		if updated {
			summary.Updated++
		}
	}

	if summary.Checked > 0 {
		t.log.WithFields(logrus.Fields{
			"checked": summary.Checked,
			"updated": summary.Updated,
			"failed":  summary.Failed,
		}).Info("Checked pending orders")
	}
	return summary, nil
}

func (t *TrackerService) checkOne(ctx context.Context, p *models.Purchase) (bool, error) {
	order, err := t.api.GetOrder(ctx, p.OrderID)
	if err != nil {
		return false, err
	}
	if string(order.Status) == p.Status {
		return false, nil
	}

	log := t.log.WithFields(logrus.Fields{
		"order_id": p.OrderID,
		"user_id":  p.UserID,
		"from":     p.Status,
		"to":       order.Status,
	})

	var keys []kinguin.OrderKey
	encoded := ""
	if order.Status == kinguin.StatusCompleted {
		keys, err = t.api.GetOrderKeys(ctx, p.OrderID)
		if err != nil {
			return false, errors.Wrap(err, "fetch keys")
		}
		encoded, err = history.EncodeKeys(keys)
		if err != nil {
			return false, err
		}
	}

	moved, err := t.store.TransitionStatus(p.OrderID, p.Status, string(order.Status), encoded)
	if err != nil {
		return false, err
	}
	if !moved {
		// A purchase that just finished stored the change and told the user.
		log.Debug("Order already updated elsewhere")
		return false, nil
	}
	log.Info("Order status changed")

	if t.publisher != nil {
		t.publisher.Publish(websocket.Message{
			Type: "order_status",
			Data: websocket.OrderEvent{
				OrderID:   p.OrderID,
				UserID:    p.UserID,
				KinguinID: p.KinguinID,
				Product:   p.ProductName,
				Status:    string(order.Status),
			},
		})
	}

	if t.notifier != nil && order.Status.Terminal() {
		text := statusMessage(p, order.Status, keys)
		if err := t.notifier.Notify(ctx, p.UserID, text); err != nil {
			// Status is already stored; the user can still read keys via /history.
			log.WithError(err).Warn("Failed to notify user")
		} else if order.Status == kinguin.StatusCompleted {
			log.WithField("keys", len(keys)).Info("Sent keys to user")
		}
	}
	return true, nil
}

func statusMessage(p *models.Purchase, status kinguin.OrderStatus, keys []kinguin.OrderKey) string {
	var b strings.Builder
	switch status {
	case kinguin.StatusCompleted:
		b.WriteString("✅ <b>Заказ завершен!</b>\n\n")
	case kinguin.StatusCancelled:
		b.WriteString("❌ <b>Заказ отменен</b>\n\n")
	case kinguin.StatusRefunded:
		b.WriteString("↩️ <b>Заказ возвращен</b>\n\n")
	}
	fmt.Fprintf(&b, "🆔 ID: <code>%s</code>\n", html.EscapeString(p.OrderID))
	fmt.Fprintf(&b, "🎮 %s\n", html.EscapeString(p.ProductName))

	if len(keys) > 0 {
		b.WriteString("\n🔑 <b>Ключи:</b>\n")
		for i, k := range keys {
			fmt.Fprintf(&b, "%d. <code>%s</code>\n", i+1, html.EscapeString(k.Serial))
		}
	}
	return b.String()
}
