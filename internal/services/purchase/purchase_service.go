package purchase

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"kinguin-bot/internal/models"
	"kinguin-bot/internal/services/history"
	"kinguin-bot/internal/services/kinguin"
)

var (
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
	ErrInsufficientStock = errors.New("not enough stock")
)

// KinguinAPI is the part of the gateway client a purchase needs.
type KinguinAPI interface {
	CreateOrder(ctx context.Context, req kinguin.CreateOrderRequest) (*kinguin.CreatedOrder, error)
	GetOrder(ctx context.Context, orderID string) (*kinguin.Order, error)
	GetOrderKeys(ctx context.Context, orderID string) ([]kinguin.OrderKey, error)
}

type Store interface {
	AddPurchase(purchase *models.Purchase) error
	UpdateStatus(orderID, status, keys string) error
}

type Recorder interface {
	ObservePoll(attempts int)
	ObservePurchase(status string)
}

type Options struct {
	PollAttempts int
	PollInterval time.Duration
	Recorder     Recorder
	Logger       *logrus.Entry
}

type PurchaseService struct {
	api      KinguinAPI
	store    Store
	recorder Recorder
	attempts int
	interval time.Duration
	log      *logrus.Entry
	newID    func() string
	inFlight sync.Map
}

type PurchaseRequest struct {
	UserID   int64
	Product  kinguin.Product
	Quantity int
}

// Result describes how far a purchase got. Purchase is set as soon as the
// order exists upstream, even when a later step fails.
type Result struct {
	Purchase        *models.Purchase
	Order           *kinguin.Order
	Keys            []kinguin.OrderKey
	Completed       bool
	StillProcessing bool
}

func NewPurchaseService(api KinguinAPI, store Store, opts Options) *PurchaseService {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	attempts := opts.PollAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &PurchaseService{
		api:      api,
		store:    store,
		recorder: opts.Recorder,
		attempts: attempts,
		interval: opts.PollInterval,
		log:      log.WithField("component", "purchase"),
		newID:    uuid.NewString,
	}
}

// Purchase places a single-line order, records it, and waits for fulfilment.
func (s *PurchaseService) Purchase(ctx context.Context, req PurchaseRequest) (*Result, error) {
	if req.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	if req.Quantity > req.Product.Qty {
		return nil, errors.Wrapf(ErrInsufficientStock, "requested %d, available %d", req.Quantity, req.Product.Qty)
	}

	externalID := s.newID()
	created, err := s.api.CreateOrder(ctx, kinguin.CreateOrderRequest{
		Products: []kinguin.OrderLineRequest{{
			KinguinID: req.Product.KinguinID,
			Qty:       req.Quantity,
			Price:     req.Product.Price,
			Name:      req.Product.Name,
			OfferID:   req.Product.OfferID,
		}},
		OrderExternalID: externalID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	s.inFlight.Store(created.OrderID, struct{}{})
	defer s.inFlight.Delete(created.OrderID)

	log := s.log.WithFields(logrus.Fields{
		"order_id":   created.OrderID,
		"user_id":    req.UserID,
		"kinguin_id": req.Product.KinguinID,
	})
	log.WithField("status", created.Status).Info("Order created")

	total := created.TotalPrice
	if total.IsZero() {
		total = req.Product.Price.Mul(decimal.NewFromInt(int64(req.Quantity)))
	}
	row := &models.Purchase{
		UserID:          req.UserID,
		OrderID:         created.OrderID,
		OrderExternalID: externalID,
		KinguinID:       req.Product.KinguinID,
		ProductName:     req.Product.Name,
		Quantity:        req.Quantity,
		Price:           req.Product.Price,
		TotalPrice:      total,
		Status:          string(initialStatus(created.Status)),
	}
	result := &Result{Purchase: row}
	if err := s.store.AddPurchase(row); err != nil {
		log.WithError(err).Error("Failed to record purchase")
		return result, errors.Wrapf(err, "record order %s", created.OrderID)
	}

	var (
		order     *kinguin.Order
		completed bool
	)
	if created.Status.Terminal() {
		order = &kinguin.Order{OrderID: created.OrderID, Status: created.Status, TotalPrice: created.TotalPrice}
		completed = created.Status == kinguin.StatusCompleted
	} else {
		order, completed, err = kinguin.AwaitCompletion(ctx, s.api, created.OrderID, kinguin.PollOptions{
			MaxAttempts: s.attempts,
			Interval:    s.interval,
			Logger:      log,
			OnAttempt:   s.observePoll,
		})
		if err != nil {
			if order != nil {
				s.updateStatus(log, row, order.Status, "")
			}
			result.Order = order
			return result, errors.Wrapf(err, "await order %s", created.OrderID)
		}
	}
	result.Order = order

	switch {
	case completed:
		keys, err := s.api.GetOrderKeys(ctx, created.OrderID)
		if err != nil {
			// The row stays pending so the background sweep fetches the keys later.
			log.WithError(err).Warn("Order completed but keys could not be fetched")
			return result, errors.Wrapf(err, "fetch keys of order %s", created.OrderID)
		}
		encoded, err := history.EncodeKeys(keys)
		if err != nil {
			return result, err
		}
		s.updateStatus(log, row, kinguin.StatusCompleted, encoded)
		result.Keys = keys
		result.Completed = true
	case order != nil && order.Status.Terminal():
		s.updateStatus(log, row, order.Status, "")
	default:
		if order != nil {
			s.updateStatus(log, row, order.Status, "")
		}
		result.StillProcessing = true
		log.WithField("status", row.Status).Info("Order still processing after polling")
	}

	if s.recorder != nil {
		s.recorder.ObservePurchase(row.Status)
	}
	return result, nil
}

// InFlight reports whether a Purchase call is still working on orderID.
func (s *PurchaseService) InFlight(orderID string) bool {
	_, ok := s.inFlight.Load(orderID)
	return ok
}

func (s *PurchaseService) updateStatus(log *logrus.Entry, row *models.Purchase, status kinguin.OrderStatus, keys string) {
	if row.Status == string(status) && keys == "" {
		return
	}
	if err := s.store.UpdateStatus(row.OrderID, string(status), keys); err != nil {
		log.WithError(err).Error("Failed to update purchase status")
		return
	}
	row.Status = string(status)
	if keys != "" {
		row.Keys = keys
	}
	if status == kinguin.StatusCompleted {
		now := time.Now()
		row.CompletedAt = &now
	}
}

// initialStatus keeps a row pending until its keys are stored, so the
// background sweep can still fetch them.
func initialStatus(status kinguin.OrderStatus) kinguin.OrderStatus {
	if status == kinguin.StatusCompleted {
		return kinguin.StatusProcessing
	}
	return status
}

func (s *PurchaseService) observePoll(attempts int) {
	if s.recorder != nil {
		s.recorder.ObservePoll(attempts)
	}
}
