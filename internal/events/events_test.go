package events

import (
	"testing"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventOperationQueued, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	err := bus.PublishJSON(EventOperationQueued, QueuedPayload{ID: "op-1", Kind: "booking"})
	if err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if received.Type != EventOperationQueued {
		t.Errorf("expected type %s, got %s", EventOperationQueued, received.Type)
	}

	var decoded QueuedPayload
	if err := received.Decode(&decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded.ID != "op-1" || decoded.Kind != "booking" {
		t.Errorf("unexpected payload: %+v", decoded)
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe(EventSyncCompleted, func(_ *Event) error { count1++; return nil })
	bus.Subscribe(EventSyncCompleted, func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: EventSyncCompleted})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}
}

func TestEventBusSubscribeDuringPublish(t *testing.T) {
	bus := NewEventBus()
	var late int

	bus.Subscribe(EventConnectivityChanged, func(_ *Event) error {
		bus.Subscribe(EventConnectivityChanged, func(_ *Event) error { late++; return nil })
		return nil
	})

	bus.Publish(&Event{Type: EventConnectivityChanged})
	if late != 0 {
		t.Errorf("handler added during publish must not run in the same pass, ran %d", late)
	}
}

func TestNilBus(t *testing.T) {
	var bus *EventBus
	if err := bus.PublishJSON(EventSyncCompleted, SyncPayload{}); err != nil {
		t.Errorf("nil bus should be a no-op, got %v", err)
	}
}
