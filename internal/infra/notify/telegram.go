// Package notify holds the milestone notification sinks: the Telegram
// outbound message, certificate issuance and the in-app inbox.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
)

// TelegramConfig configures the Telegram Bot API sink.
type TelegramConfig struct {
	BaseURL  string
	BotToken string
	ChatID   string
	Timeout  time.Duration
}

// NameResolver looks up the display name of a user.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Telegram posts one message per milestone to a Telegram chat.
type Telegram struct {
	cfg    TelegramConfig
	client *http.Client
	names  NameResolver
}

// NewTelegram creates a Telegram sink. names may be nil; users without a
// name are called "A user".
func NewTelegram(cfg TelegramConfig, names NameResolver) (*Telegram, error) {
	if strings.TrimSpace(cfg.BotToken) == "" || strings.TrimSpace(cfg.ChatID) == "" {
		return nil, fmt.Errorf("%w: telegram bot_token and chat_id are required", domain.ErrInvalidArgument)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Telegram{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		names:  names,
	}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// Notify sends the formatted milestone message.
func (t *Telegram) Notify(ctx context.Context, n domain.MilestoneNotification) error {
	return t.Send(ctx, TelegramMessage(t.name(ctx, n.UserID), n))
}

// Send delivers text to the configured chat.
func (t *Telegram) Send(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage?%s",
		strings.TrimRight(t.cfg.BaseURL, "/"),
		t.cfg.BotToken,
		url.Values{"chat_id": {t.cfg.ChatID}, "text": {text}}.Encode(),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", redactToken(err, t.cfg.BotToken))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram API error: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// name resolves the display name. A lookup failure is not worth losing
// the message over.
func (t *Telegram) name(ctx context.Context, userID string) string {
	if t.names != nil && userID != "" {
		if name, err := t.names.DisplayName(ctx, userID); err == nil {
			if name = strings.TrimSpace(name); name != "" {
				return name
			}
		}
	}
	return "A user"
}

// TelegramMessage renders the chat message for a milestone notification.
func TelegramMessage(name string, n domain.MilestoneNotification) string {
	switch n.Kind {
	case domain.MilestoneXPThreshold:
		return fmt.Sprintf("🏆 %s has reached %d XP milestone in Anuvruddhi!", name, n.Payload.Threshold)
	case domain.MilestoneTaskCertified:
		return fmt.Sprintf("🎓 %s has earned a certificate for %q in Anuvruddhi!", name, n.Payload.TaskName)
	default:
		return fmt.Sprintf("%s reached milestone %s in Anuvruddhi!", name, n.MilestoneID)
	}
}

// redactToken strips the bot token from transport errors, which embed the URL.
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "<redacted>"))
}
