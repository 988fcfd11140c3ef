package events

import (
	"sync"
	"testing"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()

	var got []int
	handler := func(v int) {
		got = append(got, v)
	}
	if err := bus.Subscribe(TopicBacktestProgress, handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bus.Publish(TopicBacktestProgress, 10)
	bus.Publish(TopicBacktestProgress, 55)

	if len(got) != 2 || got[0] != 10 || got[1] != 55 {
		t.Errorf("handler received %v, want [10 55]", got)
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus()

	calls := 0
	first := func(msg string) { calls++ }
	second := func(msg string) { calls++ }

	if err := bus.Subscribe(TopicJobUpdated, first); err != nil {
		t.Fatalf("subscribe first: %v", err)
	}
	if err := bus.Subscribe(TopicJobUpdated, second); err != nil {
		t.Fatalf("subscribe second: %v", err)
	}

	bus.Publish(TopicJobUpdated, "job-1")

	if calls != 2 {
		t.Errorf("expected both subscribers invoked, got %d calls", calls)
	}
}

func TestBus_SubscribeAsync(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	received := 0
	handler := func(step int) {
		mu.Lock()
		received++
		mu.Unlock()
	}
	if err := bus.SubscribeAsync(TopicBacktestStep, handler); err != nil {
		t.Fatalf("subscribe async: %v", err)
	}

	for i := 0; i < 5; i++ {
		bus.Publish(TopicBacktestStep, i)
	}
	bus.WaitAsync()

	mu.Lock()
	defer mu.Unlock()
	if received != 5 {
		t.Errorf("async handler received %d events, want 5", received)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	calls := 0
	handler := func(v int) { calls++ }
	if err := bus.Subscribe(TopicBacktestStopped, handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	bus.Publish(TopicBacktestStopped, 1)

	if err := bus.Unsubscribe(TopicBacktestStopped, handler); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	bus.Publish(TopicBacktestStopped, 2)

	if calls != 1 {
		t.Errorf("expected 1 call after unsubscribe, got %d", calls)
	}
}
