// Package fanout forwards engine events to things outside the process: a
// message broker for chat notifiers and a time-series sink for trade history.
package fanout

import (
	"context"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

type Message struct {
	Topic   string
	Payload []byte
}

type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// MemBroker delivers in process. Slow subscribers lose messages.
type MemBroker struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[string][]chan Message)}
}

func (b *MemBroker) Publish(_ context.Context, topic string, payload []byte) error {
	// sends never block, so holding the lock keeps Subscribe's close safe
	b.mu.RLock()
	defer b.mu.RUnlock()
	msg := Message{Topic: topic, Payload: payload}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel fed with every message on topics until ctx ends.
func (b *MemBroker) Subscribe(ctx context.Context, topics []string, buf int) <-chan Message {
	if buf <= 0 {
		buf = 64
	}
	ch := make(chan Message, buf)
	b.mu.Lock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], ch)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for _, t := range topics {
			b.subs[t] = without(b.subs[t], ch)
		}
		b.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (b *MemBroker) Close() error { return nil }

func without(list []chan Message, ch chan Message) []chan Message {
	out := list[:0]
	for _, c := range list {
		if c != ch {
			out = append(out, c)
		}
	}
	return out
}

// NatsBroker publishes to NATS. Topics use ':' separators, subjects '.'.
type NatsBroker struct {
	nc *nats.Conn
}

func NewNatsBroker(url string, opts ...nats.Option) (*NatsBroker, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBroker{nc: nc}, nil
}

func (b *NatsBroker) Publish(_ context.Context, topic string, payload []byte) error {
	return b.nc.Publish(topicToSubject(topic), payload)
}

func (b *NatsBroker) Close() error {
	if b.nc == nil {
		return nil
	}
	err := b.nc.Drain()
	b.nc.Close()
	return err
}

func topicToSubject(topic string) string { return strings.ReplaceAll(topic, ":", ".") }
