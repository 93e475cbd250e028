package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("xoxb-test", "xapp-test")
	c.baseURL = srv.URL
	c.limiter = rate.NewLimiter(rate.Inf, 1) // no throttling in tests
	return c
}

func TestPostMessage(t *testing.T) {
	var gotBody map[string]any
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer xoxb-test" {
			t.Errorf("auth = %s", auth)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1.23"})
	}))

	ts, err := c.PostMessage(context.Background(), "C001", "1.00", "hello")
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if ts != "1.23" {
		t.Errorf("ts = %q", ts)
	}
	if gotBody["channel"] != "C001" || gotBody["thread_ts"] != "1.00" || gotBody["text"] != "hello" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	}))

	err := c.UpdateMessage(context.Background(), "CBAD", "1.0", "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if want := "channel_not_found"; !strings.Contains(err.Error(), want) {
		t.Errorf("error = %v, want containing %q", err, want)
	}
}

func TestTransientRetry(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.AddReaction(ctx, "C001", "1.0", "hourglass"); err != nil {
		t.Fatalf("retry did not recover: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestFromBot(t *testing.T) {
	tests := []struct {
		name string
		ev   MessageEvent
		want bool
	}{
		{"plain user message", MessageEvent{User: "U1"}, false},
		{"bot id set", MessageEvent{BotID: "B1"}, true},
		{"bot_message subtype", MessageEvent{SubType: "bot_message"}, true},
		{"edited bot message", MessageEvent{SubType: "message_changed", Message: &InnerMessage{BotID: "B1"}}, true},
		{"edited user message", MessageEvent{SubType: "message_changed", Message: &InnerMessage{User: "U1"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.FromBot(); got != tt.want {
				t.Errorf("FromBot() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDispatchFiltersNonMessageEvents(t *testing.T) {
	var got []MessageEvent
	sm := NewSocketMode(NewClient("b", "a"), func(ev MessageEvent) {
		got = append(got, ev)
	})

	sm.dispatch(json.RawMessage(`{"event":{"type":"reaction_added","user":"U1"}}`))
	sm.dispatch(json.RawMessage(`{"event":{"type":"message","channel":"C001","user":"U1","text":"hi","ts":"1.0"}}`))

	if len(got) != 1 {
		t.Fatalf("dispatched = %d, want 1", len(got))
	}
	if got[0].Channel != "C001" || got[0].Text != "hi" {
		t.Errorf("event = %+v", got[0])
	}
}
