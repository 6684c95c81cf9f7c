package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
	"github.com/anuvruddhi/anuvruddhi/internal/infra/sqlite"
)

func xpNotification() domain.MilestoneNotification {
	return domain.MilestoneNotification{
		ID:          "n1",
		UserID:      "u1",
		MilestoneID: "xp100",
		Kind:        domain.MilestoneXPThreshold,
		Payload:     domain.MilestonePayload{Threshold: 100, XP: 105, Date: "2026-10-01T00:00:00Z"},
		CreatedAt:   time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
}

func taskNotification() domain.MilestoneNotification {
	return domain.MilestoneNotification{
		ID:          "n2",
		UserID:      "u1",
		MilestoneID: "task:t1",
		Kind:        domain.MilestoneTaskCertified,
		Payload:     domain.MilestonePayload{TaskID: "t1", TaskName: "Read a book", Date: "2026-10-01"},
		CreatedAt:   time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
}

// ─── Telegram ───────────────────────────────────────────────────────────────

func TestTelegramMessage(t *testing.T) {
	tests := []struct {
		name string
		n    domain.MilestoneNotification
		want string
	}{
		{"xp", xpNotification(), "🏆 Asha has reached 100 XP milestone in Anuvruddhi!"},
		{"task", taskNotification(), `🎓 Asha has earned a certificate for "Read a book" in Anuvruddhi!`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TelegramMessage("Asha", tt.n); got != tt.want {
				t.Errorf("TelegramMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewTelegram_RequiresCredentials(t *testing.T) {
	_, err := NewTelegram(TelegramConfig{ChatID: "1"}, nil)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestTelegram_Notify(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		gotChat = r.URL.Query().Get("chat_id")
		gotText = r.URL.Query().Get("text")
		mu.Unlock()
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{BaseURL: srv.URL, BotToken: "TOKEN", ChatID: "42"}, staticNames{"u1": "Asha"})
	if err != nil {
		t.Fatalf("NewTelegram() error: %v", err)
	}

	if err := tg.Notify(context.Background(), xpNotification()); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/botTOKEN/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotChat != "42" {
		t.Errorf("chat_id = %q, want 42", gotChat)
	}
	if gotText != "🏆 Asha has reached 100 XP milestone in Anuvruddhi!" {
		t.Errorf("text = %q", gotText)
	}
}

// staticNames resolves display names from a map.
type staticNames map[string]string

func (s staticNames) DisplayName(_ context.Context, userID string) (string, error) {
	return s[userID], nil
}

func TestTelegram_FallbackName(t *testing.T) {
	tests := []struct {
		name  string
		names NameResolver
	}{
		{"no resolver", nil},
		{"unknown user", staticNames{}},
		{"blank name", staticNames{"u1": "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			texts := make(chan string, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				texts <- r.URL.Query().Get("text")
			}))
			defer srv.Close()

			tg, _ := NewTelegram(TelegramConfig{BaseURL: srv.URL, BotToken: "T", ChatID: "1"}, tt.names)
			if err := tg.Notify(context.Background(), taskNotification()); err != nil {
				t.Fatalf("Notify() error: %v", err)
			}
			if text := <-texts; !strings.HasPrefix(text, "🎓 A user ") {
				t.Errorf("text = %q, want fallback name", text)
			}
		})
	}
}

func TestTelegram_NameFromDB(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.SetDisplayName(ctx, "u1", "Asha"); err != nil {
		t.Fatalf("SetDisplayName() error: %v", err)
	}

	texts := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		texts <- r.URL.Query().Get("text")
	}))
	defer srv.Close()

	tg, _ := NewTelegram(TelegramConfig{BaseURL: srv.URL, BotToken: "T", ChatID: "1"}, db)
	if err := tg.Notify(ctx, xpNotification()); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	if text := <-texts; text != "🏆 Asha has reached 100 XP milestone in Anuvruddhi!" {
		t.Errorf("text = %q", text)
	}
}

func TestTelegram_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"Unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	tg, _ := NewTelegram(TelegramConfig{BaseURL: srv.URL, BotToken: "T", ChatID: "1"}, nil)
	err := tg.Notify(context.Background(), xpNotification())
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v, want 401 API error", err)
	}
}

func TestTelegram_TransportErrorRedactsToken(t *testing.T) {
	tg, _ := NewTelegram(TelegramConfig{BaseURL: "http://127.0.0.1:1", BotToken: "SECRET123", ChatID: "1", Timeout: time.Second}, nil)
	err := tg.Send(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if strings.Contains(err.Error(), "SECRET123") {
		t.Errorf("error leaks token: %v", err)
	}
}

// ─── Certificates & Inbox ───────────────────────────────────────────────────

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCertificates_Notify(t *testing.T) {
	db := newTestDB(t)
	sink := NewCertificates(db)
	ctx := context.Background()

	for _, n := range []domain.MilestoneNotification{xpNotification(), taskNotification(), xpNotification()} {
		if err := sink.Notify(ctx, n); err != nil {
			t.Fatalf("Notify(%s) error: %v", n.MilestoneID, err)
		}
	}

	certs, err := db.ListCertificates(ctx, "u1")
	if err != nil {
		t.Fatalf("ListCertificates() error: %v", err)
	}
	if len(certs) != 2 {
		t.Fatalf("len = %d, want 2", len(certs))
	}
	names := map[string]string{}
	for _, c := range certs {
		names[c.MilestoneID] = c.Name
	}
	if names["xp100"] != "100 XP" || names["task:t1"] != "Read a book" {
		t.Errorf("names = %v", names)
	}
}

func TestInbox_Notify(t *testing.T) {
	db := newTestDB(t)
	sink := NewInbox(db)
	ctx := context.Background()

	if err := sink.Notify(ctx, taskNotification()); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	list, err := db.ListNotifications(ctx, "u1", true, 10)
	if err != nil {
		t.Fatalf("ListNotifications() error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}
	if list[0].Title != "🌟 New Certificate Available!" {
		t.Errorf("title = %q", list[0].Title)
	}
	if list[0].Body != "You've earned a certificate for: Read a book" {
		t.Errorf("body = %q", list[0].Body)
	}
}

func TestSinks_StoreFailure(t *testing.T) {
	db := newTestDB(t)
	db.Close()

	if err := NewInbox(db).Notify(context.Background(), xpNotification()); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("inbox err = %v, want ErrStoreUnavailable", err)
	}
	if err := NewCertificates(db).Notify(context.Background(), xpNotification()); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("certificates err = %v, want ErrStoreUnavailable", err)
	}
}
