package feed

import (
	"sync"
	"testing"
	"time"
)

func TestBusFiltersByKind(t *testing.T) {
	bus := NewBus()
	logs := bus.Subscribe(4, KindLog)
	all := bus.Subscribe(4)
	defer logs.Close()
	defer all.Close()

	bus.Publish(Connected{At: time.Now()})
	bus.Publish(Log{At: time.Now()})

	select {
	case ev := <-logs.C:
		if ev.Kind() != KindLog {
			t.Fatalf("expected log event, got %s", ev.Kind())
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected log event")
	}
	select {
	case ev := <-logs.C:
		t.Fatalf("unexpected extra event %s", ev.Kind())
	default:
	}
	if len(all.C) != 2 {
		t.Fatalf("expected 2 events for unfiltered subscriber, got %d", len(all.C))
	}
}

func TestBusDropsWhenBufferFull(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	defer sub.Close()

	for i := 0; i < 3; i++ {
		bus.Publish(Error{At: time.Now()})
	}
	if sub.Dropped() != 2 || bus.Dropped() != 2 {
		t.Fatalf("expected 2 drops, got subscriber=%d bus=%d", sub.Dropped(), bus.Dropped())
	}
	if ev := <-sub.C; ev.Kind() != KindError {
		t.Fatalf("expected first event to survive, got %s", ev.Kind())
	}
}

func TestBusStatusKindFollowsFrameType(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(2, KindPipelineStatus)
	defer sub.Close()

	bus.Publish(Status{Type: KindCodeBuildStatus})
	bus.Publish(Status{Type: KindPipelineStatus, Payload: []byte(`{}`)})

	ev := <-sub.C
	status, ok := ev.(Status)
	if !ok || status.Type != KindPipelineStatus {
		t.Fatalf("unexpected event %#v", ev)
	}
}

func TestBusCloseIsIdempotent(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	sub.Close()
	sub.Close()
	if bus.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", bus.Len())
	}
	if _, ok := <-sub.C; ok {
		t.Fatal("expected closed channel")
	}
	bus.Publish(Log{})
}

func TestBusToleratesUnsubscribeDuringPublish(t *testing.T) {
	bus := NewBus()
	keep := bus.Subscribe(1024, KindMetrics)
	defer keep.Close()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				s := bus.Subscribe(1)
				bus.Publish(Log{})
				s.Close()
			}
		}
	}()

	for i := 0; i < 500; i++ {
		bus.Publish(Metrics{})
	}
	close(stop)
	wg.Wait()

	if bus.Len() != 1 {
		t.Fatalf("expected only the long-lived subscriber, got %d", bus.Len())
	}
	if got := len(keep.C); got != 500 {
		t.Fatalf("expected 500 metrics events, got %d", got)
	}
}
