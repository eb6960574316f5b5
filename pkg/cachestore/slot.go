// Package cachestore holds the process-wide caches: single-value slots and keyed
// entries, each with a TTL and single-flight refreshes.
package cachestore

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type Entry[T any] struct {
	Value     T
	FetchedAt time.Time
}

func (e Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

type Loader[T any] func(ctx context.Context) (T, error)

// Slot holds one value that is replaced wholesale on refresh. A failed refresh
// never discards the previous value.
type Slot[T any] struct {
	TTL time.Duration
	Now func() time.Time

	// RetryAfter suppresses loads for this long after a failed one. Callers get
	// the held value and the last error without any I/O. Zero retries on every call.
	RetryAfter time.Duration

	mu        sync.RWMutex
	entry     Entry[T]
	populated bool

	failedAt time.Time
	failure  error

	group singleflight.Group
}

func NewSlot[T any](ttl time.Duration) *Slot[T] {
	return &Slot[T]{TTL: ttl, Now: time.Now}
}

func (s *Slot[T]) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Slot[T]) Peek() (Entry[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.entry, s.populated
}

func (s *Slot[T]) Fresh() bool {
	entry, ok := s.Peek()
	return ok && entry.Age(s.now()) < s.TTL
}

// Store replaces the held value, keeping the given fetch time.
func (s *Slot[T]) Store(entry Entry[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entry = entry
	s.populated = true
}

func (s *Slot[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var empty Entry[T]
	s.entry = empty
	s.populated = false
	s.failedAt = time.Time{}
	s.failure = nil
}

// backingOff returns the last load error while still inside the RetryAfter window.
func (s *Slot[T]) backingOff() error {
	if s.RetryAfter <= 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failure != nil && s.now().Sub(s.failedAt) < s.RetryAfter {
		return s.failure
	}
	return nil
}

func (s *Slot[T]) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failedAt = s.now()
	s.failure = err
}

// Refresh runs load and stores its result. Concurrent callers share one in-flight load.
func (s *Slot[T]) Refresh(ctx context.Context, load Loader[T]) (Entry[T], error) {
	return s.refresh(ctx, load, false)
}

func (s *Slot[T]) refresh(ctx context.Context, load Loader[T], keepFresh bool) (Entry[T], error) {
	result := s.group.DoChan("slot", func() (any, error) {
		// a flight that finished just before this one started may already have filled the slot
		if previous, populated := s.Peek(); keepFresh && populated && previous.Age(s.now()) < s.TTL {
			return previous, nil
		}

		value, err := load(ctx)
		if err != nil {
			s.recordFailure(err)
			return nil, err
		}

		entry := Entry[T]{Value: value, FetchedAt: s.now()}

		s.mu.Lock()
		s.entry = entry
		s.populated = true
		s.failure = nil
		s.mu.Unlock()

		return entry, nil
	})

	select {
	case <-ctx.Done():
		return Entry[T]{}, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return Entry[T]{}, res.Err
		}
		return res.Val.(Entry[T]), nil
	}
}

// Get returns the held value when fresh, otherwise refreshes it. When the refresh
// fails but an older value exists, that value is returned with ok set alongside the error.
func (s *Slot[T]) Get(ctx context.Context, load Loader[T]) (entry Entry[T], ok bool, err error) {
	if previous, populated := s.Peek(); populated && previous.Age(s.now()) < s.TTL {
		return previous, true, nil
	}

	if err := s.backingOff(); err != nil {
		previous, populated := s.Peek()
		return previous, populated, err
	}

	entry, err = s.refresh(ctx, load, true)
	if err == nil {
		return entry, true, nil
	}

	previous, populated := s.Peek()
	return previous, populated, err
}
