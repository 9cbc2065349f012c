package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const eventsExchange = "expediter.events"

// AMQPChannel is a Channel backed by a RabbitMQ fanout exchange, for
// deployments where displays connect to more than one node. Messages are
// published persistent; consumers ack after handoff, so delivery is
// at-least-once and the sequence number carries the dedup burden.
type AMQPChannel struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	seq  uint64
}

// DialAMQP connects and declares the fanout exchange.
func DialAMQP(url string) (*AMQPChannel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(eventsExchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	return &AMQPChannel{conn: conn, ch: ch}, nil
}

// Close tears down the channel and connection.
func (c *AMQPChannel) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Seq returns the last sequence number assigned by this node.
func (c *AMQPChannel) Seq() uint64 {
	return atomic.LoadUint64(&c.seq)
}

func (c *AMQPChannel) Publish(ctx context.Context, ev ChangeEvent) error {
	ev.Seq = atomic.AddUint64(&c.seq, 1)
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.ch.PublishWithContext(ctx, eventsExchange, "", false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.At,
		ContentType:  "application/json",
		Body:         body,
	})
}

func (c *AMQPChannel) Subscribe(ctx context.Context, f Filter) (*Subscription, error) {
	// Exclusive auto-delete queue per subscriber, bound to the fanout.
	q, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}
	if err := c.ch.QueueBind(q.Name, "", eventsExchange, false, nil); err != nil {
		return nil, fmt.Errorf("amqp queue bind: %w", err)
	}
	deliveries, err := c.ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("amqp consume: %w", err)
	}

	out := make(chan ChangeEvent, 256)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var ev ChangeEvent
				if err := json.Unmarshal(d.Body, &ev); err != nil {
					log.Printf("realtime: dropping malformed event: %v", err)
					_ = d.Ack(false)
					continue
				}
				if f.Matches(ev) {
					select {
					case out <- ev:
					case <-done:
						_ = d.Nack(false, true)
						return
					}
				}
				_ = d.Ack(false)
			}
		}
	}()

	var cancelled atomic.Bool
	cancel := func() {
		if cancelled.CompareAndSwap(false, true) {
			close(done)
		}
	}
	return &Subscription{Events: out, Cancel: cancel}, nil
}
