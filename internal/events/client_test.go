package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEmitPostsEvent(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode: %v", err)
		}
		received <- ev
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.DiscussionConverged(42, "target reached", 3, 91.5)

	select {
	case ev := <-received:
		if ev.Type != EventDiscussionConverged {
			t.Errorf("Type = %q", ev.Type)
		}
		if ev.Source != "agora" {
			t.Errorf("Source = %q", ev.Source)
		}
		if ev.Data["chat_id"] != "42" || ev.Data["reason"] != "target reached" {
			t.Errorf("Data = %v", ev.Data)
		}
		if ev.Data["score"] != "91.5" {
			t.Errorf("score = %q", ev.Data["score"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestDisabledClientDropsEvents(t *testing.T) {
	c := NewClient("")
	if c.Enabled() {
		t.Error("empty endpoint should disable the client")
	}
	// Must not panic or block.
	c.DebateStarted(1, "topic")
}

func TestEmitSurvivesDeadEndpoint(t *testing.T) {
	c := NewClient("http://127.0.0.1:1/event")
	c.DebateFinished(1, "pro", 80, 60)
	// Fire-and-forget: nothing to assert beyond not crashing.
	time.Sleep(50 * time.Millisecond)
}

func TestTruncate(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	got := truncate(string(long), 200)
	if len(got) != 200 {
		t.Errorf("len = %d, want 200", len(got))
	}
	if got[197:] != "..." {
		t.Error("truncated string should end with ellipsis")
	}
}
