package restore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestFIFOQueue_PopsInPushOrder(t *testing.T) {
	q := NewFIFOQueue()
	for _, id := range []string{"a", "b", "c"} {
		if _, _, err := q.Push(id); err != nil {
			t.Fatalf("Push(%s) error: %v", id, err)
		}
	}
	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop error: %v", err)
		}
		if got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
		q.Done(got)
	}
}

func TestFIFOQueue_RejectsDuplicates(t *testing.T) {
	q := NewFIFOQueue()
	_, _, _ = q.Push("a")
	if _, _, err := q.Push("a"); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
	id, _ := q.Pop(context.Background())
	if _, _, err := q.Push(id); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued for in-flight id, got %v", err)
	}
}

func TestFIFOQueue_PopBlocksUntilPushOrCancel(t *testing.T) {
	q := NewFIFOQueue()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	got := make(chan string, 1)
	go func() {
		id, _ := q.Pop(context.Background())
		got <- id
	}()
	time.Sleep(10 * time.Millisecond)
	_, _, _ = q.Push("late")
	select {
	case id := <-got:
		if id != "late" {
			t.Fatalf("expected late, got %s", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("Pop did not wake up after Push")
	}
}

func TestFIFOQueue_Locate(t *testing.T) {
	q := NewFIFOQueue()
	for _, id := range []string{"a", "b", "c", "d"} {
		_, _, _ = q.Push(id)
	}

	cases := []struct {
		id        string
		wantPos   int
		wantTotal int
	}{
		{"a", 1, 4},
		{"c", 3, 4},
		{"d", 4, 4},
		{"zzz", 0, 4},
	}
	for _, tc := range cases {
		pos, total := q.Locate(tc.id)
		if pos != tc.wantPos || total != tc.wantTotal {
			t.Fatalf("Locate(%s) expected (%d,%d), got (%d,%d)", tc.id, tc.wantPos, tc.wantTotal, pos, total)
		}
	}

	// "a" goes in flight: it reports position 0, the rest move up and the
	// total still counts it for everybody else.
	inflight, _ := q.Pop(context.Background())
	cases = []struct {
		id        string
		wantPos   int
		wantTotal int
	}{
		{inflight, 0, 3},
		{"b", 1, 4},
		{"d", 3, 4},
	}
	for _, tc := range cases {
		pos, total := q.Locate(tc.id)
		if pos != tc.wantPos || total != tc.wantTotal {
			t.Fatalf("after pop, Locate(%s) expected (%d,%d), got (%d,%d)", tc.id, tc.wantPos, tc.wantTotal, pos, total)
		}
	}

	q.Done(inflight)
	if pos, total := q.Locate("b"); pos != 1 || total != 3 {
		t.Fatalf("after done, Locate(b) expected (1,3), got (%d,%d)", pos, total)
	}
}

func TestFIFOQueue_LocateMatchesSnapshotAcrossCompaction(t *testing.T) {
	q := NewFIFOQueue()
	ctx := context.Background()
	for i := 0; i < 3000; i++ {
		_, _, _ = q.Push(fmt.Sprintf("id-%d", i))
	}
	for i := 0; i < 2500; i++ {
		id, _ := q.Pop(ctx)
		q.Done(id)
	}

	order := q.SnapshotOrder()
	if len(order) != 500 || q.PendingCount() != 500 {
		t.Fatalf("expected 500 pending, got %d/%d", len(order), q.PendingCount())
	}
	for i, id := range order {
		pos, _ := q.Locate(id)
		if pos != i+1 {
			t.Fatalf("Locate(%s) expected %d, got %d", id, i+1, pos)
		}
	}
	if order[0] != "id-2500" {
		t.Fatalf("expected head id-2500, got %s", order[0])
	}
}

func TestFIFOQueue_PushReportsPosition(t *testing.T) {
	q := NewFIFOQueue()
	cases := []struct {
		id        string
		wantPos   int
		wantTotal int
	}{
		{"a", 1, 1},
		{"b", 2, 2},
		{"c", 3, 3},
	}
	for _, tc := range cases {
		pos, total, err := q.Push(tc.id)
		if err != nil {
			t.Fatalf("Push(%s) error: %v", tc.id, err)
		}
		if pos != tc.wantPos || total != tc.wantTotal {
			t.Fatalf("Push(%s) expected (%d,%d), got (%d,%d)", tc.id, tc.wantPos, tc.wantTotal, pos, total)
		}
	}

	// "a" in flight still counts toward the total
	_, _ = q.Pop(context.Background())
	if pos, total, _ := q.Push("d"); pos != 3 || total != 4 {
		t.Fatalf("Push(d) expected (3,4), got (%d,%d)", pos, total)
	}
}
