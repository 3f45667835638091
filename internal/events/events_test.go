package events

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus(nil)

	var received *Event
	var callCount int

	bus.Subscribe("test_event", func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	require.NoError(t, bus.PublishJSON("test_event", map[string]string{"foo": "bar"}))

	assert.Equal(t, 1, callCount)
	require.NotNil(t, received)
	assert.Equal(t, "test_event", received.Type)

	var decoded map[string]string
	require.NoError(t, received.Decode(&decoded))
	assert.Equal(t, "bar", decoded["foo"])
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus(nil)
	var count1, count2 int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: "event"})

	assert.Equal(t, 1, count1)
	assert.Equal(t, 1, count2)
}

func TestEventBusHandlerErrorIsLoggedAndDoesNotStopOthers(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	bus := NewEventBus(&logger)

	var reached bool
	bus.Subscribe(EventBookingCreated, func(_ *Event) error { return errors.New("sheet down") })
	bus.Subscribe(EventBookingCreated, func(_ *Event) error { reached = true; return nil })

	require.NoError(t, bus.PublishJSON(EventBookingCreated, BookingEventPayload{BookingID: "b1"}))

	assert.True(t, reached)
	assert.Contains(t, buf.String(), "sheet down")
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus(nil)
	assert.NotPanics(t, func() { bus.Publish(&Event{Type: "unknown"}) })
	assert.NoError(t, bus.PublishJSON("unknown", nil))

	var nilBus *EventBus
	assert.NoError(t, nilBus.PublishJSON("unknown", nil))
}

func TestNewJSONEvent(t *testing.T) {
	event, err := NewJSONEvent(EventBookingCancelled, BookingEventPayload{BookingID: "abc", Hour: 9})
	require.NoError(t, err)

	assert.Equal(t, EventBookingCancelled, event.Type)
	assert.False(t, event.CreatedAt.IsZero())

	var decoded BookingEventPayload
	require.NoError(t, event.Decode(&decoded))
	assert.Equal(t, "abc", decoded.BookingID)
	assert.Equal(t, 9, decoded.Hour)
}
