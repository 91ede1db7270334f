package dispatch

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/events"
)

// EntryNotification describes a newly opened trade.
func EntryNotification(data *events.TradeOpenedData) domain.Notification {
	return domain.Notification{
		ID:     uuid.NewString(),
		UserID: data.UserID,
		Kind:   domain.NotificationEntry,
		Body: fmt.Sprintf("Trade #%d opened: %s %s @ %.8g",
			data.TradeNumber, data.Signal, data.Symbol, data.EntryPrice),
		Metadata: map[string]string{
			"trade_number": strconv.FormatInt(data.TradeNumber, 10),
			"config_id":    strconv.FormatInt(data.ConfigID, 10),
			"symbol":       data.Symbol,
			"signal":       data.Signal,
		},
	}
}

// ExitNotification describes a closed trade including realized P&L when
// known.
func ExitNotification(data *events.TradeClosedData) domain.Notification {
	body := fmt.Sprintf("Trade #%d closed (%s) @ %.8g",
		data.TradeNumber, data.ExitReason, data.ExitPrice)
	if data.PnLAmount != nil {
		body += fmt.Sprintf(", P&L %.2f", *data.PnLAmount)
	}

	return domain.Notification{
		ID:     uuid.NewString(),
		UserID: data.UserID,
		Kind:   domain.NotificationExit,
		Body:   body,
		Metadata: map[string]string{
			"trade_number": strconv.FormatInt(data.TradeNumber, 10),
			"exit_reason":  data.ExitReason,
		},
	}
}

// ReplaceNotification describes an open trade replaced by a newer one.
func ReplaceNotification(data *events.TradeReplacedData) domain.Notification {
	return domain.Notification{
		ID:     uuid.NewString(),
		UserID: data.UserID,
		Kind:   domain.NotificationReplace,
		Body: fmt.Sprintf("Trade #%d replaced by #%d (%s)",
			data.OldTradeNumber, data.NewTradeNumber, data.Reason),
		Metadata: map[string]string{
			"old_trade_number": strconv.FormatInt(data.OldTradeNumber, 10),
			"new_trade_number": strconv.FormatInt(data.NewTradeNumber, 10),
			"reason":           data.Reason,
		},
	}
}

// UserAlertNotification describes a triggered user alert.
func UserAlertNotification(alert *domain.UserAlert, value float64) domain.Notification {
	return domain.Notification{
		ID:     uuid.NewString(),
		UserID: alert.UserID,
		Kind:   domain.NotificationUserAlert,
		Body: fmt.Sprintf("Alert #%d fired: %s at %.8g",
			alert.ID, alert.Symbol, value),
		Metadata: map[string]string{
			"alert_id": strconv.FormatInt(alert.ID, 10),
			"symbol":   alert.Symbol,
			"venue":    alert.Venue,
			"value":    strconv.FormatFloat(value, 'f', -1, 64),
		},
	}
}
