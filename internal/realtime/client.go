package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"expediter/internal/monitoring"
)

// StateSnapshot is the canonical materialized state keyed by record
// (kind:id), with the sequence number it is current as of.
type StateSnapshot struct {
	Records map[string]json.RawMessage
	Seq     uint64
}

// SnapshotSource fetches the canonical full state, used on connect and
// after every reconnect. A snapshot repairs any gap regardless of how many
// events were missed, so the client never replays deltas to catch up.
type SnapshotSource func(ctx context.Context) (StateSnapshot, error)

// Client keeps a display's materialized state correct despite drops and
// duplicates. It deduplicates already-applied sequence ids, resyncs from a
// snapshot after every reconnect, and falls back to reduced-frequency
// polling when the channel is unreachable.
type Client struct {
	channel  Channel
	filter   Filter
	snapshot SnapshotSource
	metrics  *monitoring.Metrics

	backoffBase time.Duration
	backoffMax  time.Duration
	pollEvery   time.Duration

	mu        sync.Mutex
	state     map[string]json.RawMessage
	lastSeq   uint64
	degraded  bool
	onDegrade func(bool)
}

// NewClient creates a sync client. onDegrade (optional) is invoked when the
// connection health changes, for the presentation layer to show.
func NewClient(ch Channel, f Filter, snapshot SnapshotSource, m *monitoring.Metrics, pollEvery time.Duration, onDegrade func(bool)) *Client {
	if pollEvery <= 0 {
		pollEvery = 10 * time.Second
	}
	return &Client{
		channel:     ch,
		filter:      f,
		snapshot:    snapshot,
		metrics:     m,
		backoffBase: 250 * time.Millisecond,
		backoffMax:  15 * time.Second,
		pollEvery:   pollEvery,
		state:       make(map[string]json.RawMessage),
		onDegrade:   onDegrade,
	}
}

// State returns a copy of the materialized records.
func (c *Client) State() map[string]json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]json.RawMessage, len(c.state))
	for k, v := range c.state {
		out[k] = v
	}
	return out
}

// LastSeq returns the sequence the state is current as of.
func (c *Client) LastSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// Degraded reports whether the client is on the polling fallback.
func (c *Client) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Run streams until ctx is cancelled: subscribe, resync, apply deltas, and
// on any drop back off exponentially and start over with a full resync.
func (c *Client) Run(ctx context.Context) {
	delay := c.backoffBase
	for {
		if ctx.Err() != nil {
			return
		}

		sub, err := c.channel.Subscribe(ctx, c.filter)
		if err != nil {
			c.setDegraded(true)
			c.pollOnce(ctx)
			if !c.degradedWait(ctx, delay) {
				return
			}
			delay = nextDelay(delay, c.backoffMax)
			continue
		}

		// Resync after (re)subscribing: events published between the
		// subscription and the snapshot are deduplicated by sequence.
		if err := c.Resync(ctx); err != nil {
			sub.Cancel()
			c.setDegraded(true)
			if !c.degradedWait(ctx, delay) {
				return
			}
			delay = nextDelay(delay, c.backoffMax)
			continue
		}

		c.setDegraded(false)
		delay = c.backoffBase
		c.consume(ctx, sub)
		sub.Cancel()
	}
}

func (c *Client) consume(ctx context.Context, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			c.Apply(ev)
		}
	}
}

// Apply folds one delivered event into the materialized state. Sequence
// numbers are assigned globally across all kinds, so a filtered
// subscription legitimately skips seqs; arrival order within one channel is
// authoritative. Anything at or below lastSeq is a redelivery and is
// dropped.
func (c *Client) Apply(ev ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Seq <= c.lastSeq {
		// Already applied; at-least-once delivery made good on its name.
		return
	}
	c.state[ev.Key()] = ev.Payload
	c.lastSeq = ev.Seq
}

// Resync replaces the whole materialized state with the canonical
// snapshot.
func (c *Client) Resync(ctx context.Context) error {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.state = snap.Records
	if c.state == nil {
		c.state = make(map[string]json.RawMessage)
	}
	c.lastSeq = snap.Seq
	c.mu.Unlock()
	c.metrics.Resync()
	return nil
}

// pollOnce refreshes state from the snapshot source while degraded.
func (c *Client) pollOnce(ctx context.Context) {
	if err := c.Resync(ctx); err != nil {
		log.Printf("realtime: poll failed: %v", err)
	}
}

func (c *Client) setDegraded(d bool) {
	c.mu.Lock()
	changed := c.degraded != d
	c.degraded = d
	cb := c.onDegrade
	c.mu.Unlock()
	if changed && cb != nil {
		cb(d)
	}
}

// degradedWait blocks for the backoff delay before the next subscribe
// attempt, polling the snapshot source at the configured cadence so the
// display keeps moving while the channel is down.
func (c *Client) degradedWait(ctx context.Context, d time.Duration) bool {
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			c.pollOnce(ctx)
		case <-deadline.C:
			return true
		}
	}
}

func nextDelay(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}
