package realtime

import (
	"context"
	"sync"
)

// Mux multiplexes many logical subscriptions onto a bounded pool of
// physical channel subscriptions. Each physical subscription receives the
// full stream once; the mux re-filters per logical subscriber, so adding a
// hundred displays costs at most maxPhysical transport streams.
type Mux struct {
	channel Channel
	max     int

	mu       sync.Mutex
	physical []*muxPhysical
}

type muxPhysical struct {
	sub  *Subscription
	mu   sync.Mutex
	subs map[int]*muxLogical
	next int
}

type muxLogical struct {
	filter Filter
	ch     chan ChangeEvent
}

// NewMux wraps ch with a pool of at most maxPhysical transport streams.
func NewMux(ch Channel, maxPhysical int) *Mux {
	if maxPhysical < 1 {
		maxPhysical = 1
	}
	return &Mux{channel: ch, max: maxPhysical}
}

// Publish passes through to the underlying channel.
func (m *Mux) Publish(ctx context.Context, ev ChangeEvent) error {
	return m.channel.Publish(ctx, ev)
}

// Subscribe attaches a logical subscription to the least-loaded physical
// stream, creating a new one only while the pool is below its bound.
func (m *Mux) Subscribe(ctx context.Context, f Filter) (*Subscription, error) {
	m.mu.Lock()
	p := m.pick()
	if p == nil {
		sub, err := m.channel.Subscribe(ctx, Filter{})
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		p = &muxPhysical{sub: sub, subs: make(map[int]*muxLogical)}
		m.physical = append(m.physical, p)
		go p.dispatch()
	}
	m.mu.Unlock()

	p.mu.Lock()
	id := p.next
	p.next++
	l := &muxLogical{filter: f, ch: make(chan ChangeEvent, 256)}
	p.subs[id] = l
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if s, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(s.ch)
		}
	}
	return &Subscription{Events: l.ch, Cancel: cancel}, nil
}

// pick returns the least-loaded physical stream, or nil if a new one should
// be created. Caller holds m.mu.
func (m *Mux) pick() *muxPhysical {
	if len(m.physical) < m.max {
		return nil
	}
	var best *muxPhysical
	bestLoad := -1
	for _, p := range m.physical {
		p.mu.Lock()
		load := len(p.subs)
		p.mu.Unlock()
		if best == nil || load < bestLoad {
			best, bestLoad = p, load
		}
	}
	return best
}

func (p *muxPhysical) dispatch() {
	for ev := range p.sub.Events {
		p.mu.Lock()
		for _, l := range p.subs {
			if !l.filter.Matches(ev) {
				continue
			}
			select {
			case l.ch <- ev:
			default:
			}
		}
		p.mu.Unlock()
	}
}

// Close cancels every physical subscription.
func (m *Mux) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.physical {
		p.sub.Cancel()
	}
	m.physical = nil
}
