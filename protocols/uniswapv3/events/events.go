// Package events carries the observable side effects of pools, the factory and the
// distributor to in-process subscribers.
package events

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// Event is a typed payload emitted by a component.
type Event interface {
	EventName() string
}

// Log is an emitted event together with its origin and a process-wide sequence number.
type Log struct {
	Seq     uint64         `json:"seq"`
	Address common.Address `json:"address"`
	Name    string         `json:"name"`
	Event   Event          `json:"event"`
}

// Bus fans logs out to subscribers. Publish blocks until every subscriber has
// received the log, so subscribers must keep draining their channels.
type Bus struct {
	feed event.FeedOf[Log]
	seq  atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Publish sends the events in order, all attributed to address.
// A nil bus drops events.
func (b *Bus) Publish(address common.Address, evs ...Event) {
	if b == nil {
		return
	}
	for _, ev := range evs {
		b.feed.Send(Log{
			Seq:     b.seq.Add(1),
			Address: address,
			Name:    ev.EventName(),
			Event:   ev,
		})
	}
}

// Subscribe delivers every subsequently published log to ch.
func (b *Bus) Subscribe(ch chan<- Log) event.Subscription {
	return b.feed.Subscribe(ch)
}

// Drain returns the logs already buffered in ch without blocking.
func Drain(ch <-chan Log) []Log {
	var out []Log
	for {
		select {
		case l := <-ch:
			out = append(out, l)
		default:
			return out
		}
	}
}

// Named filters logs by event name.
func Named(logs []Log, name string) []Log {
	var out []Log
	for _, l := range logs {
		if l.Name == name {
			out = append(out, l)
		}
	}
	return out
}
