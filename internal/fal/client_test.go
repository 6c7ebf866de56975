package fal

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

	"github.com/rs/zerolog"
)

func newTestClient(baseURL string, hosts ...string) *Client {
	return NewClient(Config{
		APIKey:       "test-key",
		QueueURL:     baseURL,
		PollInterval: time.Millisecond,
		MaxPolls:     5,
		Timeout:      time.Second,
		AllowedHosts: hosts,
	}, zerolog.Nop())
}

func TestRunSubmitsPollsAndFetches(t *testing.T) {
	var polls int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Key test-key" {
			t.Errorf("authorization = %q", got)
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/workflows/msai/mood-today":
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode body: %v", err)
			}
			if body["image_url"] != "https://cdn.test/a.png" {
				t.Errorf("unexpected input: %v", body)
			}
			_ = json.NewEncoder(w).Encode(map[string]string{
				"request_id":   "req-1",
				"status_url":   srv.URL + "/status/req-1",
				"response_url": srv.URL + "/result/req-1",
			})
		case r.URL.Path == "/status/req-1":
			status := "IN_PROGRESS"
			if atomic.AddInt32(&polls, 1) >= 2 {
				status = "COMPLETED"
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
		case r.URL.Path == "/result/req-1":
			_, _ = w.Write([]byte(`{"images":[{"url":"https://cdn.test/out.png"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	result, err := client.Run(context.Background(), "workflows/msai/mood-today", map[string]any{"image_url": "https://cdn.test/a.png"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.RequestID != "req-1" {
		t.Fatalf("request id = %q, want req-1", result.RequestID)
	}
	if got := OutputURLs(result.Output); len(got) != 1 || got[0] != "https://cdn.test/out.png" {
		t.Fatalf("unexpected outputs: %v", got)
	}
	if n := atomic.LoadInt32(&polls); n != 2 {
		t.Fatalf("polls = %d, want 2", n)
	}
}

func TestRunSurfacesUpstreamErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"bad input"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Run(context.Background(), "workflows/msai/mood-today", map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "status=422") {
		t.Fatalf("expected status error, got %v", err)
	}
	if id := RequestIDOf(err); id != "" {
		t.Fatalf("rejected submit carries request id %q", id)
	}
}

func TestRunGivesUpAfterMaxPolls(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = json.NewEncoder(w).Encode(map[string]string{"request_id": "req-2", "status_url": srv.URL + "/status"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "IN_QUEUE"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Run(context.Background(), "app", map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "timeout after 5 polls") {
		t.Fatalf("expected poll timeout, got %v", err)
	}
	if id := RequestIDOf(err); id != "req-2" {
		t.Fatalf("request id = %q, want req-2", id)
	}
}

func TestRelayEnforcesAllowList(t *testing.T) {
	client := newTestClient("https://queue.test", "queue.fal.run")
	for _, raw := range []string{
		"https://evil.test/steal",
		"http://queue.fal.run/requests/1",
		"not a url",
	} {
		if _, err := client.Relay(context.Background(), raw); !errors.Is(err, ErrRelayHostNotAllowed) {
			t.Fatalf("%q: expected ErrRelayHostNotAllowed, got %v", raw, err)
		}
	}
}

func TestRelayPassesUpstreamThrough(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Key test-key" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"IN_QUEUE"}`))
	}))
	defer srv.Close()

	client := newTestClient("https://queue.test", "127.0.0.1")
	client.httpClient = srv.Client()

	resp, err := client.Relay(context.Background(), srv.URL+"/requests/1/status")
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted || string(resp.Body) != `{"status":"IN_QUEUE"}` || resp.ContentType != "application/json" {
		t.Fatalf("unexpected relay response: %+v", resp)
	}
}

func TestOutputURLs(t *testing.T) {
	result := json.RawMessage(`{
		"video": {"url": "https://cdn.test/v.mp4"},
		"images": [{"url": "https://cdn.test/1.png"}, {"url": "https://cdn.test/1.png"}, {"url": "data:image/png;base64,AAA"}],
		"seed": 42
	}`)
	got := OutputURLs(result)
	want := []string{"https://cdn.test/1.png", "https://cdn.test/v.mp4"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if OutputURLs(json.RawMessage(`not json`)) != nil {
		t.Fatal("expected nil for invalid json")
	}
}
