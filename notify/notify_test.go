package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/restore_backend/restore"
	"gorm.io/gorm"
)

func sampleEvent(kind restore.EventKind) restore.Event {
	return restore.Event{
		Kind:       kind,
		ClientId:   "c-1",
		Username:   "alice<script>",
		IP:         "203.0.113.9",
		Uid:        "u-1",
		ProductId:  "locket_1600_1y",
		Note:       "Unlocked locket_1600_1y",
		Payload:    json.RawMessage(`{"a":1}`),
		OccurredAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}
}

func TestFormatTelegramMessage(t *testing.T) {
	cases := []struct {
		kind     restore.EventKind
		contains []string
	}{
		{restore.EventProcessing, []string{"⚙️ <b>PROCESSING</b>"}},
		{restore.EventSuccess, []string{"✅ <b>SUCCESS</b>", "<pre>Unlocked locket_1600_1y</pre>"}},
		{restore.EventError, []string{"❌ <b>ERROR</b>"}},
		{restore.EventKind("other"), []string{"ℹ️ <b>OTHER</b>"}},
	}
	for _, tc := range cases {
		msg, err := FormatTelegramMessage(sampleEvent(tc.kind))
		if err != nil {
			t.Fatalf("%s: format error: %v", tc.kind, err)
		}
		want := append(tc.contains,
			"<code>alice&lt;script&gt;</code>",
			"<code>203.0.113.9</code>",
			"<code>c-1</code>",
			"2026-03-04 05:06:07",
		)
		for _, w := range want {
			if !strings.Contains(msg, w) {
				t.Fatalf("%s: message missing %q:\n%s", tc.kind, w, msg)
			}
		}
	}
}

func TestFormatTelegramMessage_Defaults(t *testing.T) {
	ev := sampleEvent(restore.EventProcessing)
	ev.Uid = ""
	ev.Note = ""
	msg, err := FormatTelegramMessage(ev)
	if err != nil {
		t.Fatalf("format error: %v", err)
	}
	if !strings.Contains(msg, "<code>N/A</code>") {
		t.Fatalf("expected N/A uid:\n%s", msg)
	}
	if strings.Contains(msg, "Note:") {
		t.Fatalf("note section should be omitted:\n%s", msg)
	}
}

func TestTelegramSink_Emit(t *testing.T) {
	var got map[string]string
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "chat not found", http.StatusBadRequest)
			return
		}
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSink("TOKEN", "42")
	s.BaseURL = srv.URL
	if err := s.Emit(context.Background(), sampleEvent(restore.EventSuccess)); err != nil {
		t.Fatalf("Emit error: %v", err)
	}
	if got["chat_id"] != "42" || got["parse_mode"] != "HTML" || !strings.Contains(got["text"], "SUCCESS") {
		t.Fatalf("unexpected payload %v", got)
	}

	fail.Store(true)
	if err := s.Emit(context.Background(), sampleEvent(restore.EventError)); err == nil {
		t.Fatalf("expected error on non-2xx response")
	}
}

func TestTelegramSink_DisabledIsNoop(t *testing.T) {
	s := NewTelegramSink("", "42")
	s.BaseURL = "http://127.0.0.1:1"
	if s.Enabled() {
		t.Fatalf("sink without token must be disabled")
	}
	if err := s.Emit(context.Background(), sampleEvent(restore.EventSuccess)); err != nil {
		t.Fatalf("disabled sink should not fail: %v", err)
	}
}

func TestPubSubSink_Emit(t *testing.T) {
	var (
		topic string
		attrs map[string]string
		data  []byte
	)
	s := &PubSubSink{Topic: "restore-events", Publish: func(ctx context.Context, tp string, obj any, a map[string]string) (string, error) {
		topic, attrs = tp, a
		data, _ = json.Marshal(obj)
		return "msg-1", nil
	}}
	if err := s.Emit(context.Background(), sampleEvent(restore.EventSuccess)); err != nil {
		t.Fatalf("Emit error: %v", err)
	}
	if topic != "restore-events" || attrs["kind"] != "success" || attrs["client_id"] != "c-1" {
		t.Fatalf("unexpected publish %s %v", topic, attrs)
	}
	var decoded restore.Event
	if err := json.Unmarshal(data, &decoded); err != nil || decoded.ProductId != "locket_1600_1y" {
		t.Fatalf("unexpected payload %s (%v)", data, err)
	}

	s.Publish = func(context.Context, string, any, map[string]string) (string, error) {
		return "", errors.New("topic missing")
	}
	if err := s.Emit(context.Background(), sampleEvent(restore.EventError)); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestAuditSink_SkipsWithoutDatabase(t *testing.T) {
	s := &AuditSink{DB: func() *gorm.DB { return nil }}
	if err := s.Emit(context.Background(), sampleEvent(restore.EventSuccess)); err != nil {
		t.Fatalf("expected no error without a database, got %v", err)
	}
}

func TestToRestoreEvent(t *testing.T) {
	ev := sampleEvent(restore.EventSuccess)
	row := ToRestoreEvent(ev)
	if row.ClientId != "c-1" || row.Kind != "success" || row.Uid != "u-1" || string(row.Payload) != `{"a":1}` || !row.OccurredAt.Equal(ev.OccurredAt) {
		t.Fatalf("unexpected row %+v", row)
	}
}
