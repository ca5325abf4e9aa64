package kinguin

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// OrderGetter is the single read the poller needs.
type OrderGetter interface {
	GetOrder(ctx context.Context, orderID string) (*Order, error)
}

type PollOptions struct {
	// MaxAttempts bounds the number of GetOrder calls; it must be positive.
	MaxAttempts int
	// Interval is slept before every call, the first one included.
	Interval time.Duration
	Logger   *logrus.Entry
	// OnAttempt, if set, is told how many calls a finished poll used.
	OnAttempt func(attempts int)
}

// AwaitCompletion polls GetOrder until the order reaches a terminal status
// or the attempt budget runs out. completed is true only for StatusCompleted;
// cancelled and refunded orders stop the loop with completed == false.
//
// The returned order is the last snapshot observed, nil if none was. A
// failed GetOrder that is retryable uses up an attempt; a final one (404,
// other 4xx, configuration) is returned immediately. When the last attempt
// failed its error is returned together with the earlier snapshot. When ctx ends between
// attempts no further call is made and ctx.Err() is returned with the last
// snapshot.
func AwaitCompletion(ctx context.Context, orders OrderGetter, orderID string, opts PollOptions) (*Order, bool, error) {
	if opts.MaxAttempts <= 0 {
		return nil, false, &ConfigurationError{Reason: "poll max attempts must be positive"}
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("order_id", orderID)

	var (
		last    *Order
		lastErr error
		attempt int
	)
	defer func() {
		if opts.OnAttempt != nil {
			opts.OnAttempt(attempt)
		}
	}()

	for attempt = 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := sleep(ctx, opts.Interval); err != nil {
			attempt--
			return last, false, err
		}

		order, err := orders.GetOrder(ctx, orderID)
		if err != nil {
			if ctx.Err() != nil {
				return last, false, ctx.Err()
			}
			if !IsRetryable(err) {
				return last, false, err
			}
			lastErr = err
			log.WithError(err).WithField("attempt", attempt).Warn("order poll failed")
			continue
		}

		last, lastErr = order, nil
		log.WithFields(logrus.Fields{"attempt": attempt, "status": order.Status}).Debug("order polled")
		if order.Status.Terminal() {
			return order, order.Status == StatusCompleted, nil
		}
	}
	attempt = opts.MaxAttempts

	return last, false, lastErr
}

// sleep waits for d unless ctx ends first. A zero d still observes ctx.
func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
