package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherRunsEveryHandler(t *testing.T) {
	d := NewInMemoryDispatcher()
	calls := 0
	d.Subscribe(EventSLAMet, func(context.Context, Event) error {
		calls++
		return errors.New("first failed")
	})
	d.Subscribe(EventSLAMet, func(context.Context, Event) error {
		calls++
		return nil
	})
	d.Subscribe(EventSLABreached, func(context.Context, Event) error {
		t.Fatal("unrelated handler called")
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventSLAMet})
	assert.Equal(t, 2, calls)
	assert.ErrorContains(t, err, "first failed")
}

func TestDispatcherWithoutHandlers(t *testing.T) {
	assert.NoError(t, NewInMemoryDispatcher().Publish(context.Background(), Event{Type: EventSLAWarning}))
}

func TestDecodePayload(t *testing.T) {
	var p SLAWarningPayload
	err := DecodePayload(Event{Type: EventSLAWarning, Payload: SLAWarningPayload{EntityID: "acme", MinutesRemaining: 30}}, &p)
	require.NoError(t, err)
	assert.Equal(t, int64(30), p.MinutesRemaining)

	err = DecodePayload(Event{Type: EventSLAWarning, Payload: []byte(`{"entity_id":"globex"}`)}, &p)
	require.NoError(t, err)
	assert.Equal(t, "globex", p.EntityID)

	assert.Error(t, DecodePayload(Event{Type: EventSLAWarning}, &p))
	assert.Error(t, DecodePayload(Event{Type: EventSLAWarning, Payload: []byte("[")}, &p))
}
