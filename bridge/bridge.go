package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTimeout is returned by Call when a request's deadline elapses before a
// response arrives.
var ErrTimeout = fmt.Errorf("bridge: request timed out")

// ErrBackpressure is returned by Call when PendingCap pending requests are
// already in flight.
var ErrBackpressure = fmt.Errorf("bridge: too many pending requests")

// RequestHandler answers one request method with a result payload or an
// error.
type RequestHandler func(ctx context.Context, payload json.RawMessage) (any, error)

// Bridge is a duplex endpoint of the RPC bridge: it can issue requests and
// await responses, answer requests from its peer, and send/receive
// broadcasts, all multiplexed over one underlying stream.
type Bridge struct {
	codec *codec

	mu       sync.Mutex
	pending  map[string]chan Envelope
	handlers map[string]RequestHandler

	broadcastMu  sync.RWMutex
	broadcastFn  map[int]func(method string, payload json.RawMessage)
	broadcastIDs []int // insertion order of broadcastFn's keys
	nextSub      int

	nextID    int64
	pendingN  int64
	PendingCap int64

	closed chan struct{}
	closeOnce sync.Once
}

// New wraps rwc (a unix socket connection, or one end of a net.Pipe for
// in-process bridging) as a Bridge endpoint and starts its receive loop.
func New(rwc io.ReadWriteCloser) *Bridge {
	b := &Bridge{
		codec:       newCodec(rwc),
		pending:     map[string]chan Envelope{},
		handlers:    map[string]RequestHandler{},
		broadcastFn: map[int]func(method string, payload json.RawMessage){},
		PendingCap:  1024,
		closed:      make(chan struct{}),
	}
	go b.recvLoop()
	return b
}

// Handle registers the handler for an inbound request method.
func (b *Bridge) Handle(method string, h RequestHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[method] = h
}

// OnBroadcast subscribes to broadcast envelopes (processOutput, processExit,
// processError, fileChange, onServerListen, onServerClose, networkError,
// textSearchResult) and returns an unsubscribe function.
func (b *Bridge) OnBroadcast(fn func(method string, payload json.RawMessage)) func() {
	b.broadcastMu.Lock()
	id := b.nextSub
	b.nextSub++
	b.broadcastFn[id] = fn
	b.broadcastIDs = append(b.broadcastIDs, id)
	b.broadcastMu.Unlock()
	return func() {
		b.broadcastMu.Lock()
		delete(b.broadcastFn, id)
		for i, existing := range b.broadcastIDs {
			if existing == id {
				b.broadcastIDs = append(b.broadcastIDs[:i], b.broadcastIDs[i+1:]...)
				break
			}
		}
		b.broadcastMu.Unlock()
	}
}

// Broadcast sends an unsolicited message to the peer; there is no response
// to await.
func (b *Bridge) Broadcast(method string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bridge: marshal broadcast payload: %w", err)
	}
	return b.codec.send(Envelope{Type: TypeBroadcast, Method: method, Payload: data})
}

// Call issues method as a request to the peer and blocks for its response,
// honoring ctx's deadline.
func (b *Bridge) Call(ctx context.Context, method string, payload any, result any) error {
	if atomic.AddInt64(&b.pendingN, 1) > b.PendingCap {
		atomic.AddInt64(&b.pendingN, -1)
		return ErrBackpressure
	}
	defer atomic.AddInt64(&b.pendingN, -1)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bridge: marshal request payload: %w", err)
	}

	id := fmt.Sprintf("%d", atomic.AddInt64(&b.nextID, 1))
	respCh := make(chan Envelope, 1)

	b.mu.Lock()
	b.pending[id] = respCh
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	if err := b.codec.send(Envelope{Type: TypeRequest, ID: id, Method: method, Payload: data}); err != nil {
		return err
	}

	select {
	case env := <-respCh:
		if env.Type == TypeError {
			return fmt.Errorf("bridge: %s", env.Error)
		}
		if result != nil && len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, result); err != nil {
				return fmt.Errorf("bridge: unmarshal response: %w", err)
			}
		}
		return nil
	case <-ctx.Done():
		return ErrTimeout
	case <-b.closed:
		return fmt.Errorf("bridge: closed")
	}
}

// Close terminates the bridge and its underlying stream. Any in-flight
// Call returns an error; Container dispose uses Close as its top-level
// cancellation point.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return b.codec.close()
}

func (b *Bridge) recvLoop() {
	for {
		env, err := b.codec.recv()
		if err != nil {
			if err != io.EOF {
				slog.Debug("bridge.recvLoop exiting", "error", err)
			}
			return
		}

		switch env.Type {
		case TypeResponse, TypeError:
			b.mu.Lock()
			ch, ok := b.pending[env.ID]
			b.mu.Unlock()
			if ok {
				ch <- env
			}
		case TypeRequest:
			go b.serve(env)
		case TypeBroadcast:
			b.dispatchBroadcast(env)
		}
	}
}

func (b *Bridge) serve(env Envelope) {
	b.mu.Lock()
	h, ok := b.handlers[env.Method]
	b.mu.Unlock()

	if !ok {
		b.codec.send(Envelope{Type: TypeError, ID: env.ID, Error: fmt.Sprintf("bridge: no handler for %q", env.Method)})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := h(ctx, env.Payload)
	if err != nil {
		b.codec.send(Envelope{Type: TypeError, ID: env.ID, Error: err.Error()})
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		b.codec.send(Envelope{Type: TypeError, ID: env.ID, Error: fmt.Sprintf("bridge: marshal result: %v", err)})
		return
	}
	b.codec.send(Envelope{Type: TypeResponse, ID: env.ID, Payload: data})
}

// dispatchBroadcast fans out env to every subscriber in the order it
// registered via OnBroadcast, per the bridge's ordered-delivery guarantee.
func (b *Bridge) dispatchBroadcast(env Envelope) {
	b.broadcastMu.RLock()
	snapshot := make([]func(string, json.RawMessage), 0, len(b.broadcastIDs))
	for _, id := range b.broadcastIDs {
		if fn, ok := b.broadcastFn[id]; ok {
			snapshot = append(snapshot, fn)
		}
	}
	b.broadcastMu.RUnlock()

	for _, fn := range snapshot {
		fn(env.Method, env.Payload)
	}
}
