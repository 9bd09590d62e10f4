package vfs

import (
	"context"
	"log/slog"
	"sync"
)

// EventKind is one of the change-event kinds emitted by the store.
type EventKind string

const (
	EventChange          EventKind = "change"
	EventRename           EventKind = "rename"
	EventAddFile         EventKind = "add_file"
	EventRemoveFile      EventKind = "remove_file"
	EventAddDir          EventKind = "add_dir"
	EventRemoveDir       EventKind = "remove_dir"
	EventUpdateDirectory EventKind = "update_directory"
)

// Event is a single change notification emitted by a mutation.
type Event struct {
	Kind EventKind
	Path string
}

// Bus is a typed pub/sub bus used by the VFS store; the kernel subscribes to
// it to forward change events over the bridge.
//
// Delivery snapshots the subscriber list before invoking callbacks so that a
// handler registering or removing a subscription mid-delivery never races the
// in-flight broadcast.
type Bus struct {
	mu   sync.Mutex
	subs map[int]func(Event)
	next int
}

func NewBus() *Bus {
	return &Bus{subs: map[int]func(Event){}}
}

// Subscribe registers cb and returns a handle usable with Unsubscribe.
func (b *Bus) Subscribe(cb func(Event)) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = cb
	return id
}

func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish delivers ev to every currently-registered subscriber. A throwing
// (panicking) subscriber is caught, logged, and does not stop delivery to
// the rest.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.Lock()
	snapshot := make([]func(Event), 0, len(b.subs))
	for _, cb := range b.subs {
		snapshot = append(snapshot, cb)
	}
	b.mu.Unlock()

	for _, cb := range snapshot {
		b.deliverOne(ctx, cb, ev)
	}
}

func (b *Bus) deliverOne(ctx context.Context, cb func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Bus.Publish subscriber panicked", "event", ev, "recover", r)
		}
	}()
	cb(ev)
}
