package realtime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bus is the in-process Channel used by single-node deployments and tests.
// Sequence numbers are assigned under the publish lock so subscribers on
// one bus always observe them in order.
type Bus struct {
	mu      sync.Mutex
	seq     uint64
	subs    map[int]*busSub
	nextSub int
}

type busSub struct {
	filter Filter
	ch     chan ChangeEvent
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*busSub)}
}

// Publish stamps the event and fans it out. A subscriber with a full buffer
// is skipped; the periodic full resync repairs the gap on the client side.
func (b *Bus) Publish(ctx context.Context, ev ChangeEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev.Seq = b.seq
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	for _, sub := range b.subs {
		if !sub.filter.Matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			log.Printf("realtime: subscriber buffer full, dropping seq %d", ev.Seq)
		}
	}
	return nil
}

// Subscribe registers a filtered stream.
func (b *Bus) Subscribe(ctx context.Context, f Filter) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	sub := &busSub{filter: f, ch: make(chan ChangeEvent, 256)}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return &Subscription{Events: sub.ch, Cancel: cancel}, nil
}

// Seq returns the last assigned sequence number.
func (b *Bus) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}
