package restore

import (
	"context"
	"errors"
	"sync"
)

var ErrAlreadyQueued = errors.New("id already queued")

// FIFOQueue holds pending client ids in submission order plus the id currently
// being worked on. Each push is stamped with a sequence number and only the
// head is ever removed, so a pending id's rank is seq(id) - seq(head) + 1.
type FIFOQueue struct {
	mu       sync.Mutex
	ids      []string
	head     int
	seq      map[string]uint64
	nextSeq  uint64
	inflight string
	notify   chan struct{}
}

func NewFIFOQueue() *FIFOQueue {
	return &FIFOQueue{
		seq:    make(map[string]uint64),
		notify: make(chan struct{}, 1),
	}
}

// Push appends id and returns its position and the total depth as seen at
// the moment it was enqueued.
func (q *FIFOQueue) Push(id string) (position int, total int, err error) {
	q.mu.Lock()
	if _, exists := q.seq[id]; exists || id == q.inflight {
		q.mu.Unlock()
		return 0, 0, ErrAlreadyQueued
	}
	q.ids = append(q.ids, id)
	q.seq[id] = q.nextSeq
	q.nextSeq++
	position, total = q.locateLocked(id)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return position, total, nil
}

// Pop blocks until an id is available or ctx is done. The popped id becomes
// the in-flight id until Done is called.
func (q *FIFOQueue) Pop(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if q.pendingLocked() > 0 {
			id := q.ids[q.head]
			q.ids[q.head] = ""
			q.head++
			delete(q.seq, id)
			q.inflight = id
			q.compactLocked()
			q.mu.Unlock()
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.notify:
		}
	}
}

// Done clears the in-flight marker if it still points at id.
func (q *FIFOQueue) Done(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inflight == id {
		q.inflight = ""
	}
}

func (q *FIFOQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

func (q *FIFOQueue) Inflight() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight
}

func (q *FIFOQueue) SnapshotOrder() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, q.pendingLocked())
	copy(out, q.ids[q.head:])
	return out
}

// Locate returns id's position and the total queue depth from one snapshot.
// Position is 0 for the in-flight id and for ids that are not queued at all.
// The total counts pending ids plus one if a different id is in flight.
func (q *FIFOQueue) Locate(id string) (position int, total int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.locateLocked(id)
}

func (q *FIFOQueue) locateLocked(id string) (position int, total int) {
	total = q.pendingLocked()
	if q.inflight != "" && q.inflight != id {
		total++
	}
	if id == "" || id == q.inflight {
		return 0, total
	}
	s, ok := q.seq[id]
	if !ok {
		return 0, total
	}
	return int(s-q.seq[q.ids[q.head]]) + 1, total
}

func (q *FIFOQueue) pendingLocked() int {
	return len(q.ids) - q.head
}

func (q *FIFOQueue) compactLocked() {
	if q.head < 1024 || q.head*2 < len(q.ids) {
		return
	}
	n := copy(q.ids, q.ids[q.head:])
	clear(q.ids[n:])
	q.ids = q.ids[:n]
	q.head = 0
}
