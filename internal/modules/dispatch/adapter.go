package dispatch

import (
	"context"

	"github.com/heraldlabs/herald/internal/domain"
)

// UserAlertNotifier adapts the dispatcher to the scheduler's delivery
// interface. Delivery is synchronous: the scheduler records the outcome in
// the alert's execution history.
type UserAlertNotifier struct {
	dispatcher *Dispatcher
}

// NewUserAlertNotifier creates the scheduler-facing adapter.
func NewUserAlertNotifier(dispatcher *Dispatcher) *UserAlertNotifier {
	return &UserAlertNotifier{dispatcher: dispatcher}
}

// NotifyUserAlert builds and dispatches the notification for a triggered
// alert.
func (a *UserAlertNotifier) NotifyUserAlert(ctx context.Context, alert *domain.UserAlert, value float64) error {
	return a.dispatcher.Dispatch(ctx, UserAlertNotification(alert, value))
}
