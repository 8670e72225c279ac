package events

import (
	"context"
	"testing"
	"time"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeQueue},
		{in: "queue", want: ModeQueue},
		{in: "broadcast", want: ModeBroadcast},
		{in: "fanout", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSharedQueue_EachEventOnce(t *testing.T) {
	bus := NewSharedQueue()
	a := bus.Subscribe()
	b := bus.Subscribe()
	defer a.Close()
	defer b.Close()

	bus.Publish(Update("fuel_level", nil))

	_, okA, _ := a.Next(context.Background(), 20*time.Millisecond)
	_, okB, _ := b.Next(context.Background(), 20*time.Millisecond)
	if okA == okB {
		t.Errorf("delivered to a=%v b=%v, want exactly one", okA, okB)
	}
}

func TestSharedQueue_BuffersWithoutSubscribers(t *testing.T) {
	bus := NewSharedQueue()
	bus.Publish(Update("fuel_level", nil))
	bus.Publish(Update("fuel_level", nil))

	if got := bus.Pending(); got != 2 {
		t.Fatalf("Pending() = %d, want 2", got)
	}

	sub := bus.Subscribe()
	if _, ok, _ := sub.Next(context.Background(), 10*time.Millisecond); !ok {
		t.Error("late subscriber did not receive buffered event")
	}
}

func TestBroadcaster_AllSubscribersReceive(t *testing.T) {
	bus := NewBroadcaster()
	subs := []Subscription{bus.Subscribe(), bus.Subscribe(), bus.Subscribe()}

	bus.Publish(Update("headlights", nil))

	for i, sub := range subs {
		ev, ok, err := sub.Next(context.Background(), 50*time.Millisecond)
		if err != nil || !ok {
			t.Fatalf("subscriber %d: ok %v, err %v", i, ok, err)
		}
		if ev.Key != "headlights" {
			t.Errorf("subscriber %d: Key = %q", i, ev.Key)
		}
		sub.Close()
	}

	if got := bus.Subscribers(); got != 0 {
		t.Errorf("Subscribers() = %d after Close, want 0", got)
	}
}

func TestBroadcaster_CloseIdempotent(t *testing.T) {
	bus := NewBroadcaster()
	sub := bus.Subscribe()
	sub.Close()
	sub.Close()

	// publishing with nobody attached is a no-op
	bus.Publish(Update("fuel_level", nil))
}

func TestNewBus(t *testing.T) {
	if _, ok := NewBus(ModeQueue).(*SharedQueue); !ok {
		t.Error("NewBus(queue) is not a *SharedQueue")
	}
	if _, ok := NewBus(ModeBroadcast).(*Broadcaster); !ok {
		t.Error("NewBus(broadcast) is not a *Broadcaster")
	}
}
