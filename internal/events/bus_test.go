package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus[string]()
	defer bus.Close()

	a, cancelA := bus.Subscribe(4)
	defer cancelA()
	b, cancelB := bus.Subscribe(4)
	defer cancelB()

	bus.Publish("hello")

	assert.Equal(t, "hello", <-a)
	assert.Equal(t, "hello", <-b)
}

func TestBusPublishDoesNotBlockOnFullBuffer(t *testing.T) {
	bus := NewBus[int]()
	defer bus.Close()

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		bus.Publish(1)
		bus.Publish(2) // dropped, buffer full
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}

	assert.Equal(t, 1, <-ch)
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus[int]()
	defer bus.Close()

	ch, cancel := bus.Subscribe(1)
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after cancel reaches nobody and must not panic.
	bus.Publish(42)
}

func TestBusCloseClosesAllSubscribers(t *testing.T) {
	bus := NewBus[int]()

	ch, _ := bus.Subscribe(1)
	bus.Close()

	_, ok := <-ch
	require.False(t, ok)

	// Subscribing after close yields a closed channel.
	late, _ := bus.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}
