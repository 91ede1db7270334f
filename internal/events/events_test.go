package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	ch1, unsub1 := bus.Subscribe(4)
	ch2, unsub2 := bus.Subscribe(4)
	defer unsub1()
	defer unsub2()

	bus.Publish("intake", &AlertReceivedData{AlertID: "a1", Symbol: "BTC", Signal: "BUY"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			assert.Equal(t, AlertReceived, evt.Type)
			assert.Equal(t, "intake", evt.Module)
			data, ok := evt.Data.(*AlertReceivedData)
			require.True(t, ok)
			assert.Equal(t, "a1", data.AlertID)
		case <-time.After(time.Second):
			t.Fatal("expected event, got none")
		}
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	ch, unsub := bus.Subscribe(1)
	defer unsub()

	bus.Publish("trades", &TradeSkippedData{UserID: "u1", ConfigID: 1, Reason: "cap"})
	bus.Publish("trades", &TradeSkippedData{UserID: "u2", ConfigID: 1, Reason: "cap"})

	evt := <-ch
	data, ok := evt.Data.(*TradeSkippedData)
	require.True(t, ok)
	assert.Equal(t, "u1", data.UserID)

	select {
	case extra := <-ch:
		t.Fatalf("expected second event to be dropped, got %v", extra)
	default:
	}
	assert.Equal(t, int64(1), bus.Dropped(), "the miss is counted")
}

func TestBusUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	_, unsub := bus.Subscribe(1)
	require.Equal(t, 1, bus.SubscriberCount())

	unsub()
	unsub()
	assert.Equal(t, 0, bus.SubscriberCount())

	// Publishing with no subscribers must not panic.
	bus.Publish("intake", &AlertDuplicateData{Fingerprint: "fp", Symbol: "BTC"})
}

func TestEventDataTypesReportTheirType(t *testing.T) {
	cases := []struct {
		data EventData
		want EventType
	}{
		{&AlertReceivedData{}, AlertReceived},
		{&AlertDuplicateData{}, AlertDuplicate},
		{&AlertMatchedData{}, AlertMatched},
		{&AlertFailedData{}, AlertFailed},
		{&TradeOpenedData{}, TradeOpened},
		{&TradeClosedData{}, TradeClosed},
		{&TradeReplacedData{}, TradeReplaced},
		{&TradeSkippedData{}, TradeSkipped},
		{&UserAlertTriggeredData{}, UserAlertTriggered},
		{&UserAlertFailedData{}, UserAlertFailed},
		{&NotificationSentData{}, NotificationSent},
		{&NotificationFailedData{}, NotificationFailed},
		{&QueueSaturatedData{}, QueueSaturated},
		{&BackupFinishedData{}, BackupFinished},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.data.EventType())
	}
}
