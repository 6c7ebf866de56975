// Package alert pushes operator-facing alerts for conditions that need a
// human: unmatched payments, failed refunds, exhausted archive retries.
package alert

import (
	"context"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type Notifier interface {
	Alert(ctx context.Context, message string)
}

// LogNotifier only writes alerts to the log.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Alert(_ context.Context, message string) {
	n.log.Error().Str("alert", message).Msg("operator alert")
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts alerts to an operator chat and always logs them.
// Alert waits for delivery at most until ctx is done or sendTimeout passes.
type TelegramNotifier struct {
	api     sender
	chatID  int64
	log     zerolog.Logger
	timeout time.Duration
}

const sendTimeout = 10 * time.Second

// NewTelegramNotifier sends through the public Bot API. It does not call
// getMe, so an unreachable Telegram only costs the alerts themselves.
func NewTelegramNotifier(token string, chatID int64, log zerolog.Logger) *TelegramNotifier {
	return newTelegramNotifier(token, chatID, tgbotapi.APIEndpoint, &http.Client{Timeout: sendTimeout}, log)
}

func newTelegramNotifier(token string, chatID int64, endpoint string, client tgbotapi.HTTPClient, log zerolog.Logger) *TelegramNotifier {
	api := &tgbotapi.BotAPI{Token: token, Client: client, Buffer: 100}
	api.SetAPIEndpoint(endpoint)
	return &TelegramNotifier{api: api, chatID: chatID, log: log, timeout: sendTimeout}
}

func (n *TelegramNotifier) Alert(ctx context.Context, message string) {
	n.log.Error().Str("alert", message).Msg("operator alert")

	timeout := n.timeout
	if timeout <= 0 {
		timeout = sendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg := tgbotapi.NewMessage(n.chatID, "[msai-studio] "+message)
	msg.DisableWebPagePreview = true

	// The send keeps running after we stop waiting; the HTTP client timeout ends it.
	done := make(chan error, 1)
	go func() {
		_, err := n.api.Send(msg)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			n.log.Error().Err(err).Msg("send telegram alert")
		}
	case <-ctx.Done():
		n.log.Warn().Err(ctx.Err()).Msg("telegram alert not confirmed in time")
	}
}
