package playback

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/guildplay/internal/domain/track"
)

// DefaultCapacity is the queue size used when a guild has no max_queue setting.
const DefaultCapacity = 99

// Page is a read-only view of part of the queue.
type Page struct {
	Items         []track.QueuedTrack
	Offset        int           // index of Items[0] in the queue
	Total         int           // number of queued items
	Omitted       int           // items after the page
	Capacity      int           // queue capacity
	TotalDuration time.Duration // sum of known durations across the whole queue
}

// Queue is a bounded FIFO of pending tracks for one guild.
// All methods are safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	items    []track.QueuedTrack
	capacity int
	notify   chan struct{}
}

// NewQueue creates a queue. A non-positive capacity means DefaultCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items:    make([]track.QueuedTrack, 0),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends qt and returns its 1-based position.
// At capacity it returns ErrQueueFull and leaves the queue unchanged.
func (q *Queue) Push(qt track.QueuedTrack) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return 0, ErrQueueFull
	}
	q.items = append(q.items, qt)
	q.signalLocked()
	return len(q.items), nil
}

// PushMany appends as many items as fit and reports how many were dropped.
func (q *Queue) PushMany(qts []track.QueuedTrack) (pushed, dropped int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	room := q.capacity - len(q.items)
	if room < 0 {
		room = 0
	}
	pushed = min(room, len(qts))
	q.items = append(q.items, qts[:pushed]...)
	if pushed > 0 {
		q.signalLocked()
	}
	return pushed, len(qts) - pushed
}

// Pop removes and returns the head.
func (q *Queue) Pop() (track.QueuedTrack, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Next blocks until an item is available or ctx is done.
func (q *Queue) Next(ctx context.Context) (track.QueuedTrack, error) {
	for {
		if qt, ok := q.Pop(); ok {
			return qt, nil
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return track.QueuedTrack{}, ctx.Err()
		}
	}
}

// Move removes the item at from and reinserts it at to.
func (q *Queue) Move(from, to int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.checkIndexLocked(from); err != nil {
		return err
	}
	if err := q.checkIndexLocked(to); err != nil {
		return err
	}
	if from == to {
		return nil
	}

	item := q.items[from]
	q.items = append(q.items[:from], q.items[from+1:]...)
	q.items = append(q.items[:to], append([]track.QueuedTrack{item}, q.items[to:]...)...)
	return nil
}

// Remove deletes the inclusive range [start, end] and returns the removed items.
func (q *Queue) Remove(start, end int) ([]track.QueuedTrack, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.checkIndexLocked(start); err != nil {
		return nil, err
	}
	if err := q.checkIndexLocked(end); err != nil {
		return nil, err
	}
	if start > end {
		return nil, errors.Mark(errors.Newf("start %d is after end %d", start, end), ErrIndex)
	}

	removed := append([]track.QueuedTrack(nil), q.items[start:end+1]...)
	q.items = append(q.items[:start], q.items[end+1:]...)
	return removed, nil
}

// DropFront removes up to n items from the head and returns how many were removed.
func (q *Queue) DropFront(n int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n = max(0, min(n, len(q.items)))
	q.items = append(q.items[:0], q.items[n:]...)
	return n
}

// Shuffle permutes the pending items uniformly at random.
func (q *Queue) Shuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()

	rand.Shuffle(len(q.items), func(i, j int) {
		q.items[i], q.items[j] = q.items[j], q.items[i]
	})
}

// Snapshot returns up to limit items starting at offset.
// An offset past the end yields an IndexError unless the queue is empty.
func (q *Queue) Snapshot(offset, limit int) (Page, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	page := Page{
		Offset:   offset,
		Total:    len(q.items),
		Capacity: q.capacity,
	}
	for _, qt := range q.items {
		if !qt.Track.IsLive() {
			page.TotalDuration += qt.Track.Duration
		}
	}
	if len(q.items) == 0 && offset == 0 {
		return page, nil
	}
	if err := q.checkIndexLocked(offset); err != nil {
		return Page{}, err
	}

	end := len(q.items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page.Items = append([]track.QueuedTrack(nil), q.items[offset:end]...)
	page.Omitted = len(q.items) - end
	return page, nil
}

// Resize changes the capacity. Items beyond the new capacity are truncated
// from the tail and returned.
func (q *Queue) Resize(capacity int) []track.QueuedTrack {
	q.mu.Lock()
	defer q.mu.Unlock()

	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q.capacity = capacity
	if len(q.items) <= capacity {
		return nil
	}
	truncated := append([]track.QueuedTrack(nil), q.items[capacity:]...)
	q.items = q.items[:capacity]
	return truncated
}

// Clear removes all items and returns how many there were.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = q.items[:0]
	return n
}

// Items returns a copy of the pending items.
func (q *Queue) Items() []track.QueuedTrack {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]track.QueuedTrack(nil), q.items...)
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the current capacity.
func (q *Queue) Capacity() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity
}

// popLocked removes the head.
// Must be called with lock held.
func (q *Queue) popLocked() (track.QueuedTrack, bool) {
	if len(q.items) == 0 {
		return track.QueuedTrack{}, false
	}
	qt := q.items[0]
	q.items = append(q.items[:0], q.items[1:]...)
	return qt, true
}

// checkIndexLocked validates i against the current length.
// Must be called with lock held.
func (q *Queue) checkIndexLocked(i int) error {
	if i < 0 || i >= len(q.items) {
		return &IndexError{Index: i, Len: len(q.items)}
	}
	return nil
}

// signalLocked wakes a waiting consumer without blocking.
// Must be called with lock held.
func (q *Queue) signalLocked() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
