package restore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/restore_backend/utils"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// RequestStore owns every ClientRequest. Reads hand out copies so callers never
// observe a record mid-mutation.
type RequestStore struct {
	mu       sync.RWMutex
	requests map[string]*ClientRequest
	now      func() time.Time
}

func NewRequestStore() *RequestStore {
	return &RequestStore{
		requests: make(map[string]*ClientRequest),
		now:      time.Now,
	}
}

func (s *RequestStore) Create(username, ip string) ClientRequest {
	req := &ClientRequest{
		ID:       uuid.NewString(),
		Username: username,
		IP:       ip,
		Status:   StatusQueued,
		AddedAt:  s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	return req.clone()
}

func (s *RequestStore) Get(id string) (ClientRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, exists := s.requests[id]
	if !exists {
		return ClientRequest{}, fmt.Errorf("client request %q: %w", id, utils.ErrNotFound)
	}
	return req.clone(), nil
}

func (s *RequestStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests)
}

// Update applies mutate to a copy of the record and commits it only if the
// result is a legal state transition. Identity fields and timestamps that are
// already set cannot be changed.
func (s *RequestStore) Update(id string, mutate func(r *ClientRequest) error) (ClientRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.requests[id]
	if !exists {
		return ClientRequest{}, fmt.Errorf("client request %q: %w", id, utils.ErrNotFound)
	}

	next := cur.clone()
	if err := mutate(&next); err != nil {
		return ClientRequest{}, err
	}
	if err := checkUpdate(cur, &next); err != nil {
		return ClientRequest{}, fmt.Errorf("client request %q: %w", id, err)
	}

	*cur = next
	return cur.clone(), nil
}

func checkUpdate(cur, next *ClientRequest) error {
	if next.ID != cur.ID || next.Username != cur.Username || next.IP != cur.IP || !next.AddedAt.Equal(cur.AddedAt) {
		return fmt.Errorf("%w: immutable field changed", ErrInvalidTransition)
	}
	if next.Status != cur.Status && !canTransition(cur.Status, next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, next.Status)
	}
	if cur.StartedAt != nil && (next.StartedAt == nil || !next.StartedAt.Equal(*cur.StartedAt)) {
		return fmt.Errorf("%w: started_at already set", ErrInvalidTransition)
	}
	if cur.CompletedAt != nil && (next.CompletedAt == nil || !next.CompletedAt.Equal(*cur.CompletedAt)) {
		return fmt.Errorf("%w: completed_at already set", ErrInvalidTransition)
	}
	return nil
}

// MarkProcessing moves a queued request to processing and stamps StartedAt.
func (s *RequestStore) MarkProcessing(id string, at time.Time) (ClientRequest, error) {
	return s.Update(id, func(r *ClientRequest) error {
		r.Status = StatusProcessing
		r.StartedAt = &at
		return nil
	})
}

func (s *RequestStore) MarkCompleted(id string, result RestoreResult, at time.Time) (ClientRequest, error) {
	return s.Update(id, func(r *ClientRequest) error {
		r.Status = StatusCompleted
		r.Result = &result
		r.CompletedAt = &at
		return nil
	})
}

func (s *RequestStore) MarkFailed(id string, message string, at time.Time) (ClientRequest, error) {
	return s.Update(id, func(r *ClientRequest) error {
		r.Status = StatusError
		r.Error = message
		r.CompletedAt = &at
		return nil
	})
}
