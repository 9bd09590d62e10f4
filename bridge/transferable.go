package bridge

import "sync"

// Transferable marks a binary payload (file contents, process output
// chunks) whose ownership moves to the receiver instead of being copied, so
// the sender must not read or write it again after Take.
type Transferable struct {
	mu    sync.Mutex
	data  []byte
	taken bool
}

// NewTransferable wraps data as a transferable payload.
func NewTransferable(data []byte) *Transferable {
	return &Transferable{data: data}
}

// Take hands ownership of the payload to the caller; it panics if called
// more than once, since a taken transferable must never be retained by the
// sender.
func (t *Transferable) Take() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.taken {
		panic("bridge: transferable payload already taken")
	}
	t.taken = true
	data := t.data
	t.data = nil
	return data
}

// Taken reports whether the payload has already been transferred.
func (t *Transferable) Taken() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.taken
}
