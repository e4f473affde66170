package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tpvsync/internal/events"
)

func TestPublish_DeliversToMatchingSubscribers(t *testing.T) {
	bus := events.NewBus()

	all, cancelAll := bus.Subscribe(4)
	defer cancelAll()
	onlyAuth, cancelAuth := bus.Subscribe(4, events.TopicAuthRequired)
	defer cancelAuth()

	bus.Publish(events.TopicDeadLetter, map[string]any{"mutation_id": "m-1"})
	bus.Publish(events.TopicAuthRequired, nil)

	ev := <-all
	assert.Equal(t, events.TopicDeadLetter, ev.Topic)
	assert.Equal(t, "m-1", ev.Fields["mutation_id"])
	ev = <-all
	assert.Equal(t, events.TopicAuthRequired, ev.Topic)

	ev = <-onlyAuth
	assert.Equal(t, events.TopicAuthRequired, ev.Topic)
	select {
	case ev := <-onlyAuth:
		t.Fatalf("suscriptor filtrado recibió %v", ev)
	default:
	}
}

func TestPublish_NeverBlocksOnFullBuffer(t *testing.T) {
	bus := events.NewBus()

	_, cancel := bus.Subscribe(1, events.TopicSchemaDrift)
	defer cancel()

	// Nadie consume: el segundo publish descarta en vez de bloquear.
	bus.Publish(events.TopicSchemaDrift, nil)
	bus.Publish(events.TopicSchemaDrift, nil)

	assert.Equal(t, int64(1), bus.Dropped())
}

func TestCancel_IsIdempotentAndStopsDelivery(t *testing.T) {
	bus := events.NewBus()

	ch, cancel := bus.Subscribe(4)
	cancel()
	cancel() // segunda vez no debe panicear

	bus.Publish(events.TopicDesync, nil)

	_, open := <-ch
	require.False(t, open, "el canal queda cerrado tras cancel")
	assert.Equal(t, int64(0), bus.Dropped())
}
