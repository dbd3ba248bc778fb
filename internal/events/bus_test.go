package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestBusFanOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(10)
	a, unsubA := bus.Subscribe()
	b, unsubB := bus.Subscribe()
	defer unsubA()
	defer unsubB()

	published := bus.Publish(Event{Type: MemoryRecorded, UserID: "u1", SubjectID: "m1"})
	assert.NotEmpty(t, published.ID)
	assert.False(t, published.At.IsZero())

	for _, ch := range []<-chan Event{a, b} {
		select {
		case got := <-ch:
			assert.Equal(t, published.ID, got.ID)
			assert.Equal(t, MemoryRecorded, got.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus(5)
	_, unsub := bus.Subscribe()
	defer unsub()

	var hookDrops int
	bus.SetPublishHook(func(_ Event, dropped int) { hookDrops += dropped })

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBacklog+10; i++ {
			bus.Publish(Event{Type: AlertCreated})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	assert.Equal(t, uint64(10), bus.Dropped())
	assert.Equal(t, 10, hookDrops)
	assert.Len(t, bus.Recent(0), 5)
}

func TestBusRecentOrder(t *testing.T) {
	bus := NewBus(3)
	for _, id := range []string{"1", "2", "3", "4"} {
		bus.Publish(Event{ID: id, Type: AlertResolved})
	}
	recent := bus.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", recent[0].ID)
	assert.Equal(t, "4", recent[1].ID)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(0)
	ch, unsub := bus.Subscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range ch {
		}
	}()

	bus.Publish(Event{Type: ContextItemAddressed})
	unsub()
	unsub()
	wg.Wait()
	assert.Equal(t, 0, bus.SubscriberCount())
}
