// Package shutdown implements the one-shot notification channel that carries
// the termination notice from the application host to the backend supervisor.
//
// A channel is created as a linked Sender/Receiver pair. At most one value is
// ever delivered: the Sender refuses a second Send, and the Receiver is
// expected to consume a single value before closing its end.
package shutdown

import (
	"errors"
	"fmt"
	"sync"
)

// Signal is the value transmitted over the channel.
type Signal int

// Terminate asks the supervisor to kill the backend process group.
const Terminate Signal = -1

func (s Signal) String() string {
	if s == Terminate {
		return "terminate"
	}
	return fmt.Sprintf("signal(%d)", int(s))
}

var (
	// ErrChannelClosed reports that the opposite end of the channel has been
	// dropped, or that the local end was already closed.
	ErrChannelClosed = errors.New("shutdown channel closed")
	// ErrAlreadySent reports a second Send on a one-shot sender. It matches
	// ErrChannelClosed.
	ErrAlreadySent = fmt.Errorf("%w: notice already sent", ErrChannelClosed)
)

// New returns a linked sender and receiver sharing a single-slot buffer.
func New() (*Sender, *Receiver) {
	slot := make(chan Signal, 1)
	done := make(chan struct{})
	return &Sender{slot: slot, done: done}, &Receiver{slot: slot, done: done}
}

// Sender is the producing end of the channel.
type Sender struct {
	mu     sync.Mutex
	slot   chan Signal
	done   <-chan struct{}
	sent   bool
	closed bool
}

// Send enqueues sig without blocking.
func (s *Sender) Send(sig Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrChannelClosed
	}
	if s.sent {
		return ErrAlreadySent
	}
	select {
	case <-s.done:
		return ErrChannelClosed
	default:
	}

	// The slot is empty: nothing was sent before and only this sender writes.
	select {
	case s.slot <- sig:
		s.sent = true
		return nil
	case <-s.done:
		return ErrChannelClosed
	}
}

// Close drops the sending end. A value already sent is still delivered.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.slot)
}

// Receiver is the consuming end of the channel.
type Receiver struct {
	slot      <-chan Signal
	done      chan struct{}
	closeOnce sync.Once
}

// Recv blocks until a value arrives or the sender is dropped without sending.
func (r *Receiver) Recv() (Signal, error) {
	select {
	case <-r.done:
		return 0, ErrChannelClosed
	default:
	}
	sig, ok := <-r.slot
	if !ok {
		return 0, ErrChannelClosed
	}
	return sig, nil
}

// Close drops the receiving end. Subsequent sends fail with ErrChannelClosed.
func (r *Receiver) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}
