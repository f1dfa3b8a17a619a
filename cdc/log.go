package cdc

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Entry is one payload read from a Log, with the position it was read at.
type Entry struct {
	ID      string
	Payload []byte
}

// Log is the read side of an append-only change log.
type Log interface {
	// Tail returns the position of the newest entry; polling after it
	// yields only entries appended later.
	Tail(ctx context.Context) (string, error)

	// Poll returns up to max entries strictly after position after, in
	// append order. It waits at most timeout for the first entry and
	// returns an empty slice if none arrives.
	Poll(ctx context.Context, after string, timeout time.Duration, max int) ([]Entry, error)
}

// MemoryLog is an in-process Log. IDs are decimal sequence numbers
// starting at 1; "0" is the position before the first entry.
type MemoryLog struct {
	mu      sync.Mutex
	entries [][]byte
	notify  chan struct{}
}

var _ Log = (*MemoryLog)(nil)

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{notify: make(chan struct{})}
}

// Append adds payloads in order and wakes pollers.
func (l *MemoryLog) Append(payloads ...[]byte) {
	if len(payloads) == 0 {
		return
	}
	l.mu.Lock()
	for _, p := range payloads {
		l.entries = append(l.entries, append([]byte(nil), p...))
	}
	close(l.notify)
	l.notify = make(chan struct{})
	l.mu.Unlock()
}

func (l *MemoryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *MemoryLog) Tail(context.Context) (string, error) {
	return strconv.Itoa(l.Len()), nil
}

func (l *MemoryLog) Poll(ctx context.Context, after string, timeout time.Duration, max int) ([]Entry, error) {
	pos, err := strconv.Atoi(after)
	if err != nil || pos < 0 {
		return nil, fmt.Errorf("cdc: invalid memory log position %q", after)
	}
	if max <= 0 {
		max = 1
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		l.mu.Lock()
		if pos < len(l.entries) {
			end := min(len(l.entries), pos+max)
			out := make([]Entry, 0, end-pos)
			for i := pos; i < end; i++ {
				out = append(out, Entry{ID: strconv.Itoa(i + 1), Payload: l.entries[i]})
			}
			l.mu.Unlock()
			return out, nil
		}
		wait := l.notify
		l.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
