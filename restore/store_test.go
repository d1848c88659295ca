package restore

import (
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/restore_backend/utils"
)

func TestRequestStore_CreateAndGet(t *testing.T) {
	s := NewRequestStore()
	req := s.Create("alice", "10.0.0.1")

	if req.ID == "" {
		t.Fatalf("expected an id")
	}
	if req.Status != StatusQueued {
		t.Fatalf("expected queued, got %s", req.Status)
	}
	if req.AddedAt.IsZero() || req.StartedAt != nil || req.CompletedAt != nil {
		t.Fatalf("unexpected timestamps: %+v", req)
	}

	got, err := s.Get(req.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Username != "alice" || got.IP != "10.0.0.1" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestRequestStore_IdsAreUnique(t *testing.T) {
	s := NewRequestStore()
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id := s.Create("u", "").ID
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if s.Len() != 200 {
		t.Fatalf("expected 200 records, got %d", s.Len())
	}
}

func TestRequestStore_UnknownIdIsNotFound(t *testing.T) {
	s := NewRequestStore()
	if _, err := s.Get("missing"); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.MarkProcessing("missing", time.Now()); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestRequestStore_GetReturnsCopy(t *testing.T) {
	s := NewRequestStore()
	req := s.Create("alice", "")
	now := time.Now()
	if _, err := s.MarkProcessing(req.ID, now); err != nil {
		t.Fatalf("MarkProcessing error: %v", err)
	}
	if _, err := s.MarkCompleted(req.ID, RestoreResult{Uid: "u1", ProductIdentifier: "p"}, now.Add(time.Second)); err != nil {
		t.Fatalf("MarkCompleted error: %v", err)
	}

	got, _ := s.Get(req.ID)
	got.Result.Uid = "changed"
	*got.StartedAt = time.Time{}

	again, _ := s.Get(req.ID)
	if again.Result.Uid != "u1" {
		t.Fatalf("store result was mutated through a snapshot")
	}
	if !again.StartedAt.Equal(now) {
		t.Fatalf("store started_at was mutated through a snapshot")
	}
}

func TestRequestStore_Transitions(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name    string
		steps   []func(s *RequestStore, id string) error
		wantErr bool
	}{
		{
			name: "queued to processing to completed",
			steps: []func(s *RequestStore, id string) error{
				func(s *RequestStore, id string) error {
					_, err := s.MarkProcessing(id, now)
					return err
				},
				func(s *RequestStore, id string) error {
					_, err := s.MarkCompleted(id, RestoreResult{}, now.Add(time.Second))
					return err
				},
			},
		},
		{
			name: "queued to processing to error",
			steps: []func(s *RequestStore, id string) error{
				func(s *RequestStore, id string) error {
					_, err := s.MarkProcessing(id, now)
					return err
				},
				func(s *RequestStore, id string) error {
					_, err := s.MarkFailed(id, "boom", now)
					return err
				},
			},
		},
		{
			name: "queued to completed is rejected",
			steps: []func(s *RequestStore, id string) error{
				func(s *RequestStore, id string) error {
					_, err := s.MarkCompleted(id, RestoreResult{}, now)
					return err
				},
			},
			wantErr: true,
		},
		{
			name: "terminal state never changes",
			steps: []func(s *RequestStore, id string) error{
				func(s *RequestStore, id string) error {
					_, err := s.MarkProcessing(id, now)
					return err
				},
				func(s *RequestStore, id string) error {
					_, err := s.MarkFailed(id, "boom", now)
					return err
				},
				func(s *RequestStore, id string) error {
					_, err := s.MarkCompleted(id, RestoreResult{}, now)
					return err
				},
			},
			wantErr: true,
		},
		{
			name: "processing twice is rejected",
			steps: []func(s *RequestStore, id string) error{
				func(s *RequestStore, id string) error {
					_, err := s.MarkProcessing(id, now)
					return err
				},
				func(s *RequestStore, id string) error {
					_, err := s.MarkProcessing(id, now.Add(time.Second))
					return err
				},
			},
			wantErr: true,
		},
		{
			name: "identity fields are immutable",
			steps: []func(s *RequestStore, id string) error{
				func(s *RequestStore, id string) error {
					_, err := s.Update(id, func(r *ClientRequest) error {
						r.Username = "mallory"
						return nil
					})
					return err
				},
			},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		s := NewRequestStore()
		id := s.Create("alice", "").ID
		var err error
		for _, step := range tc.steps {
			if err = step(s, id); err != nil {
				break
			}
		}
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s: expected ErrInvalidTransition, got %v", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func TestRequestStore_RejectedUpdateLeavesRecordUntouched(t *testing.T) {
	s := NewRequestStore()
	id := s.Create("alice", "").ID
	_, _ = s.MarkProcessing(id, time.Now())
	_, _ = s.MarkFailed(id, "first", time.Now())

	if _, err := s.MarkFailed(id, "second", time.Now()); err == nil {
		t.Fatalf("expected error on second terminal transition")
	}
	got, _ := s.Get(id)
	if got.Error != "first" {
		t.Fatalf("expected first error message to stick, got %q", got.Error)
	}
}
