package bus

import (
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestBusDeliversToConcreteKind(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var got []string
	b.Subscribe("part.updated", func(ev Event) {
		mu.Lock()
		got = append(got, ev.EventID())
		mu.Unlock()
	})

	ev := PartUpdatedEvent{Meta: NewMeta("test")}
	if err := b.Publish(ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
}

func TestBusTypeHierarchyFanOut(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	counts := map[string]int{}
	record := func(key string) Handler {
		return func(Event) {
			mu.Lock()
			counts[key]++
			mu.Unlock()
		}
	}
	b.Subscribe("tool.execution.started", record("concrete"))
	b.Subscribe(KindTool, record("super"))
	b.Subscribe(KindAll, record("all"))
	b.Subscribe(KindSession, record("other"))

	b.Publish(ToolExecutionStartedEvent{Meta: NewMeta("test"), ToolName: "bash"})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts["concrete"] == 1 && counts["super"] == 1 && counts["all"] == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if counts["other"] != 0 {
		t.Errorf("session subscriber received a tool event")
	}
}

func TestBusFIFOPerHandler(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var order []string
	b.Subscribe(KindSession, func(ev Event) {
		mu.Lock()
		order = append(order, ev.EventID())
		mu.Unlock()
	})

	var want []string
	for i := 0; i < 250; i++ {
		ev := SessionDeletedEvent{Meta: NewMeta("test")}
		want = append(want, ev.EventID())
		if err := b.Publish(ev); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == len(want)
	})
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("out of order at %d: got %s want %s", i, order[i], want[i])
		}
	}
}

func TestBusHandlerPanicIsolated(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	delivered := 0
	b.Subscribe(KindSystem, func(Event) { panic("boom") })
	b.Subscribe(KindSystem, func(Event) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	b.Publish(WarningEvent{Meta: NewMeta("test"), Text: "w"})
	b.Publish(WarningEvent{Meta: NewMeta("test"), Text: "w2"})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 2
	})
}

func TestBusFilteredSubscription(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	got := 0
	b.SubscribeFiltered(KindSession, func(ev Event) bool {
		e, ok := ev.(SessionDeletedEvent)
		return ok && e.SessionID == "s1"
	}, func(Event) {
		mu.Lock()
		got++
		mu.Unlock()
	})

	b.Publish(SessionDeletedEvent{Meta: NewMeta("test"), SessionID: "s1"})
	b.Publish(SessionDeletedEvent{Meta: NewMeta("test"), SessionID: "s2"})
	b.Publish(SessionDeletedEvent{Meta: NewMeta("test"), SessionID: "s1"})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == 2
	})
}

func TestBusPublishAfterClose(t *testing.T) {
	b := New()
	b.Close()
	if err := b.Publish(WarningEvent{Meta: NewMeta("test")}); err != ErrBusClosed {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
}

func TestBusCloseDrainsQueue(t *testing.T) {
	b := New()

	var mu sync.Mutex
	got := 0
	b.Subscribe(KindAll, func(Event) {
		mu.Lock()
		got++
		mu.Unlock()
	})

	for i := 0; i < 50; i++ {
		b.Publish(WarningEvent{Meta: NewMeta("test")})
	}
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	if got != 50 {
		t.Fatalf("expected 50 events drained before close returned, got %d", got)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	got := 0
	sub := b.Subscribe(KindAll, func(Event) {
		mu.Lock()
		got++
		mu.Unlock()
	})

	b.Publish(WarningEvent{Meta: NewMeta("test")})
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == 1
	})

	sub.Unsubscribe()
	b.Publish(WarningEvent{Meta: NewMeta("test")})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if got != 1 {
		t.Fatalf("handler called after unsubscribe: %d", got)
	}
}

func TestBusBatchLatency(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var deliveredAt time.Time
	b.Subscribe(KindAll, func(Event) {
		mu.Lock()
		if deliveredAt.IsZero() {
			deliveredAt = time.Now()
		}
		mu.Unlock()
	})

	start := time.Now()
	b.Publish(WarningEvent{Meta: NewMeta("test")})
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !deliveredAt.IsZero()
	})

	mu.Lock()
	latency := deliveredAt.Sub(start)
	mu.Unlock()
	if latency > 2*BatchWindow {
		t.Errorf("batch latency %v exceeds %v", latency, 2*BatchWindow)
	}
}
