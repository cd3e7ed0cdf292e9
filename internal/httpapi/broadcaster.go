package httpapi

import "sync"

// broadcaster fans out encoded BROADCAST frames to every subscribed
// /watch websocket connection for one gateway (SPEC_FULL §6
// [EXPANSION]: a latency optimization atop polling pull).
type broadcaster struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan []byte]struct{})}
}

// subscribe registers a new subscriber channel. The caller must call the
// returned unsubscribe func when done watching.
func (b *broadcaster) subscribe() (ch chan []byte, unsubscribe func()) {
	ch = make(chan []byte, 16)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
}

// publish sends frame to every current subscriber. A subscriber whose
// channel is full misses this frame but stays subscribed; the publisher
// never blocks (best-effort delivery; a watcher that falls behind should
// re-sync via pull).
func (b *broadcaster) publish(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}
