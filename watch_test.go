package main

import (
	"testing"
	"testing/quick"
)

// ============================================================================
// Change Propagation Tests
// ============================================================================

func TestWatcherDeliversSignal(t *testing.T) {
	w := newGameWatcher()

	ch, cancel := w.subscribe("g1")
	defer cancel()

	w.notify("g1")

	select {
	case <-ch:
	default:
		t.Fatal("expected a pending signal after notify")
	}
}

func TestWatcherCoalescesSignals(t *testing.T) {
	w := newGameWatcher()

	ch, cancel := w.subscribe("g1")
	defer cancel()

	for i := 0; i < 10; i++ {
		w.notify("g1")
	}

	<-ch
	select {
	case <-ch:
		t.Fatal("signals should coalesce into a single pending wakeup")
	default:
	}
}

func TestWatcherScopesByGame(t *testing.T) {
	w := newGameWatcher()

	ch1, cancel1 := w.subscribe("g1")
	defer cancel1()
	ch2, cancel2 := w.subscribe("g2")
	defer cancel2()

	w.notify("g1")

	select {
	case <-ch1:
	default:
		t.Fatal("g1 subscriber missed its signal")
	}
	select {
	case <-ch2:
		t.Fatal("g2 subscriber received a signal for g1")
	default:
	}
}

func TestWatcherCancelReleasesSubscription(t *testing.T) {
	w := newGameWatcher()

	_, cancel := w.subscribe("g1")
	if w.subscriberCount("g1") != 1 {
		t.Fatalf("subscriber count = %d, want 1", w.subscriberCount("g1"))
	}

	cancel()
	if w.subscriberCount("g1") != 0 {
		t.Fatalf("subscriber count after cancel = %d, want 0", w.subscriberCount("g1"))
	}

	// Cancelling twice is harmless.
	cancel()
	if w.subscriberCount("g1") != 0 {
		t.Fatal("double cancel corrupted state")
	}

	// Notify on a game with no subscribers must not panic.
	w.notify("g1")
}

// Every independent subscriber gets woken, regardless of how many there are.
func TestWatcherFanOut(t *testing.T) {
	f := func(subCount uint8) bool {
		count := int(subCount%16) + 1
		w := newGameWatcher()

		chans := make([]<-chan struct{}, count)
		cancels := make([]func(), count)
		for i := 0; i < count; i++ {
			chans[i], cancels[i] = w.subscribe("g")
		}
		defer func() {
			for _, cancel := range cancels {
				cancel()
			}
		}()

		w.notify("g")

		for i, ch := range chans {
			select {
			case <-ch:
			default:
				t.Errorf("subscriber %d of %d missed the signal", i, count)
				return false
			}
		}
		return true
	}

	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}
