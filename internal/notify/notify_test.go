package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type recordingNotifier struct {
	sent []Message
	err  error
}

func (r *recordingNotifier) Send(ctx context.Context, msg Message) error {
	r.sent = append(r.sent, msg)
	return r.err
}

func TestMultiNotifierDeliversToAllAndJoinsErrors(t *testing.T) {
	errA := errors.New("a down")
	errC := errors.New("c down")
	a := &recordingNotifier{err: errA}
	b := &recordingNotifier{}
	c := &recordingNotifier{err: errC}

	err := NewMultiNotifier(a, b, c).Send(context.Background(), Message{Title: "t", Body: "b"})
	if !errors.Is(err, errA) || !errors.Is(err, errC) {
		t.Fatalf("expected both failures joined, got %v", err)
	}
	for i, n := range []*recordingNotifier{a, b, c} {
		if len(n.sent) != 1 {
			t.Fatalf("notifier %d: expected one message, got %d", i, len(n.sent))
		}
	}
	if err := NewMultiNotifier(b).Send(context.Background(), Message{}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestBarkNotifierSendsQuery(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/device-key" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		got = map[string]string{"title": q.Get("title"), "body": q.Get("body"), "group": q.Get("group"), "level": q.Get("level")}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bark, err := NewBarkNotifier(srv.URL + "/device-key/")
	if err != nil {
		t.Fatalf("new bark: %v", err)
	}
	if err := bark.Send(context.Background(), Message{Title: "Late", Body: "Task is OVERDUE by 2 hours.", Critical: true}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["title"] != "Late" || got["body"] != "Task is OVERDUE by 2 hours." || got["group"] != "taskboard" || got["level"] != "critical" {
		t.Fatalf("unexpected query: %v", got)
	}
}

func TestBarkNotifierReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	bark, err := NewBarkNotifier(srv.URL)
	if err != nil {
		t.Fatalf("new bark: %v", err)
	}
	if err := bark.Send(context.Background(), Message{Title: "x"}); err == nil {
		t.Fatalf("expected error for 502 response")
	}
	if _, err := NewBarkNotifier("  "); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestRedisDeduper(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})

	deduper := NewRedisDeduper(client, time.Hour)
	ctx := context.Background()
	key := AlarmKey("t1", "overdue")

	added, err := deduper.Add(ctx, key)
	if err != nil || !added {
		t.Fatalf("expected first add to succeed, got %v %v", added, err)
	}
	added, err = deduper.Add(ctx, key)
	if err != nil || added {
		t.Fatalf("expected duplicate, got %v %v", added, err)
	}
	if !m.Exists("taskboard:notified:t1:overdue") {
		t.Fatalf("expected namespaced key in redis, have %v", m.Keys())
	}

	m.FastForward(2 * time.Hour)
	added, err = deduper.Add(ctx, key)
	if err != nil || !added {
		t.Fatalf("expected key to expire after ttl, got %v %v", added, err)
	}

	if err := deduper.Remove(ctx, key); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if added, _ := deduper.Add(ctx, key); !added {
		t.Fatalf("expected key to be addable after remove")
	}
}

func TestNoOpDeduperAlwaysAdds(t *testing.T) {
	var d Deduper = NoOpDeduper{}
	for i := 0; i < 2; i++ {
		if added, err := d.Add(context.Background(), "k"); err != nil || !added {
			t.Fatalf("expected add, got %v %v", added, err)
		}
	}
}
