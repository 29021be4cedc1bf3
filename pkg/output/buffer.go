// Package output holds the log of a running job. A single writer
// appends to it while any number of viewers follow along; every
// viewer sees the whole history, no matter when it started looking.
package output

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Kind says what an entry in the buffer is.
type Kind string

const (
	Message  Kind = "message"
	Started  Kind = "started"
	Finished Kind = "finished"
	Reloaded Kind = "reloaded"
	// Close is always the last entry in a buffer.
	Close Kind = "close"
)

type Entry struct {
	Kind Kind   `json:"event"`
	Data string `json:"data"`
}

// Buffer is an append-only sequence of entries. Writes never block on
// readers; readers are woken whenever something is appended.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	closed  bool
	changed chan struct{}
}

func NewBuffer() *Buffer {
	return &Buffer{changed: make(chan struct{})}
}

// Write implements io.Writer, so a buffer can be handed to a
// subprocess as its stdout and stderr.
func (b *Buffer) Write(p []byte) (int, error) {
	b.WriteEvent(string(p), Message)
	return len(p), nil
}

// WriteEvent appends an entry of the given kind. It does nothing once
// the buffer has been closed.
func (b *Buffer) WriteEvent(data string, kind Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.append(Entry{Kind: kind, Data: data})
}

// Puts writes a message, adding a newline if it doesn't end with one.
func (b *Buffer) Puts(line string) {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	b.WriteEvent(line, Message)
}

func (b *Buffer) Printf(format string, args ...interface{}) {
	b.WriteEvent(fmt.Sprintf(format, args...), Message)
}

// Close appends the terminal entry. Closing twice is harmless.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.append(Entry{Kind: Close})
	b.closed = true
}

func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Entries returns a copy of everything written so far.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := make([]Entry, len(b.entries))
	copy(entries, b.entries)
	return entries
}

// must hold b.mu
func (b *Buffer) append(e Entry) {
	b.entries = append(b.entries, e)
	close(b.changed)
	b.changed = make(chan struct{})
}

// Subscribe returns a reader positioned at the start of the buffer.
func (b *Buffer) Subscribe() *Subscription {
	return &Subscription{buffer: b}
}

// Subscription is one viewer's cursor into a buffer. It is not safe
// for use by more than one goroutine.
type Subscription struct {
	buffer *Buffer
	cursor int
	done   bool
}

// Next blocks until there is an entry after the cursor, and returns
// it. The Close entry is returned like any other; after that, Next
// returns ok == false without blocking.
func (s *Subscription) Next(ctx context.Context) (entry Entry, ok bool, err error) {
	if s.done {
		return Entry{}, false, nil
	}
	b := s.buffer
	for {
		b.mu.Lock()
		if s.cursor < len(b.entries) {
			entry = b.entries[s.cursor]
			s.cursor++
			b.mu.Unlock()
			if entry.Kind == Close {
				s.done = true
			}
			return entry, true, nil
		}
		wait := b.changed
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return Entry{}, false, ctx.Err()
		}
	}
}

// Each calls fn for every entry until the stream ends, fn returns an
// error, or ctx is done.
func (s *Subscription) Each(ctx context.Context, fn func(Entry) error) error {
	for {
		entry, ok, err := s.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
}
