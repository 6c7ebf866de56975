package alert

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func TestTelegramNotifierSendsToChat(t *testing.T) {
	var buf bytes.Buffer
	api := &fakeSender{}
	n := &TelegramNotifier{api: api, chatID: 42, log: zerolog.New(&buf)}

	n.Alert(context.Background(), "unrecognized amount 1234 usd")

	if len(api.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(api.sent))
	}
	if api.sent[0].ChatID != 42 {
		t.Fatalf("chat id = %d, want 42", api.sent[0].ChatID)
	}
	if !strings.Contains(api.sent[0].Text, "unrecognized amount 1234 usd") {
		t.Fatalf("unexpected text %q", api.sent[0].Text)
	}
	if !strings.Contains(buf.String(), "operator alert") {
		t.Fatalf("expected alert to be logged, got %q", buf.String())
	}
}

func TestTelegramNotifierLogsSendFailure(t *testing.T) {
	var buf bytes.Buffer
	n := &TelegramNotifier{api: &fakeSender{err: errors.New("network down")}, chatID: 1, log: zerolog.New(&buf)}

	n.Alert(context.Background(), "refund failed")

	if !strings.Contains(buf.String(), "network down") {
		t.Fatalf("expected send failure to be logged, got %q", buf.String())
	}
}

// lockedBuffer lets the abandoned send goroutine log while the test reads.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestTelegramNotifierDoesNotBlockOnStalledAPI(t *testing.T) {
	release := make(chan struct{})
	var hits sync.WaitGroup
	hits.Add(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Errorf("unexpected call %s", r.URL.Path)
		}
		hits.Done()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	var logs lockedBuffer
	n := newTelegramNotifier("token", 7, srv.URL+"/bot%s/%s", &http.Client{Timeout: 5 * time.Second}, zerolog.New(&logs))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	n.Alert(ctx, "payment sess_1 matches no plan")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Alert blocked for %s", elapsed)
	}
	hits.Wait()
	if !strings.Contains(logs.String(), "payment sess_1 matches no plan") {
		t.Fatalf("alert was not logged: %q", logs.String())
	}
}

func TestTelegramNotifierCapsWaitWithoutDeadline(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	n := &TelegramNotifier{api: blockingSender(block), chatID: 1, log: zerolog.Nop(), timeout: 50 * time.Millisecond}

	start := time.Now()
	n.Alert(context.Background(), "archive job 3 failed")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Alert blocked for %s", elapsed)
	}
}

type blockingSender chan struct{}

func (b blockingSender) Send(tgbotapi.Chattable) (tgbotapi.Message, error) {
	<-b
	return tgbotapi.Message{}, nil
}
