package main

import "sync"

// gameWatcher is the change-notification side of the store: every successful
// mutation pokes it, and live streams subscribe to it. Signals are coalesced
// per subscriber (a buffered channel of one), so a slow consumer sees "the
// game changed at least once" rather than a backlog; subscribers always
// re-read current state, never deltas. Subscribers are fully independent.
type gameWatcher struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func newGameWatcher() *gameWatcher {
	return &gameWatcher{subs: make(map[string]map[chan struct{}]struct{})}
}

var watcher = newGameWatcher()

// subscribe registers interest in a game's changes. The returned cancel
// releases the subscription; it is safe to call more than once.
func (w *gameWatcher) subscribe(gameID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	w.mu.Lock()
	if w.subs[gameID] == nil {
		w.subs[gameID] = make(map[chan struct{}]struct{})
	}
	w.subs[gameID][ch] = struct{}{}
	w.mu.Unlock()

	cancel := func() {
		w.mu.Lock()
		if subs, ok := w.subs[gameID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(w.subs, gameID)
			}
		}
		w.mu.Unlock()
	}
	return ch, cancel
}

// notify wakes every subscriber of the game. Sends never block: a subscriber
// that already has a pending signal needs no second one.
func (w *gameWatcher) notify(gameID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.subs[gameID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (w *gameWatcher) subscriberCount(gameID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs[gameID])
}
