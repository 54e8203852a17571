package events

import (
	"testing"
	"time"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(EventDeployed)
	b := bus.Subscribe(EventDeployed)
	other := bus.Subscribe(EventPartial)

	bus.Publish(EventDeployed, Payload{"scheduler": "HeuristicGCLScheduler"})

	for _, sub := range []Subscriber{a, b} {
		select {
		case p := <-sub:
			if p["scheduler"] != "HeuristicGCLScheduler" {
				t.Fatalf("unexpected payload %v", p)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
	select {
	case p := <-other:
		t.Fatalf("unrelated subscriber received %v", p)
	default:
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventCycleFailed)
	for i := 0; i < 20; i++ {
		bus.Publish(EventCycleFailed, Payload{"i": i})
	}
	if len(sub) != cap(sub) {
		t.Fatalf("expected full buffer, got %d/%d", len(sub), cap(sub))
	}
}

func TestBusUnsubscribeCloses(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventRolledBack)
	bus.Unsubscribe(EventRolledBack, sub)

	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel")
	}
	bus.Publish(EventRolledBack, Payload{})
}
