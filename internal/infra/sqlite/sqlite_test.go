package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// ─── Database Lifecycle ─────────────────────────────────────────────────────

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, "state.db")); os.IsNotExist(err) {
		t.Error("state.db should exist")
	}
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if _, err := db.AddXP(context.Background(), "u1", 42); err != nil {
		t.Fatalf("AddXP() error: %v", err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer db.Close()
	xp, err := db.CumulativeXP(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CumulativeXP() error: %v", err)
	}
	if xp != 42 {
		t.Errorf("xp after reopen = %d, want 42", xp)
	}
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

func TestClosedDB_WrapsStoreUnavailable(t *testing.T) {
	db := newTestDB(t)
	db.Close()

	_, err := db.AddXP(context.Background(), "u1", 5)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("AddXP on closed db = %v, want ErrStoreUnavailable", err)
	}
	if err := db.Ping(context.Background()); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("Ping on closed db = %v, want ErrStoreUnavailable", err)
	}
}

// ─── Cumulative XP ──────────────────────────────────────────────────────────

func TestCumulativeXP_UnknownUser(t *testing.T) {
	db := newTestDB(t)
	xp, err := db.CumulativeXP(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("CumulativeXP() error: %v", err)
	}
	if xp != 0 {
		t.Errorf("xp = %d, want 0", xp)
	}
}

func TestAddXP_Accumulates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, delta := range []int64{20, 30, 0, 55} {
		if _, err := db.AddXP(ctx, "u1", delta); err != nil {
			t.Fatalf("AddXP(%d) error: %v", delta, err)
		}
	}
	xp, _ := db.CumulativeXP(ctx, "u1")
	if xp != 105 {
		t.Errorf("xp = %d, want 105", xp)
	}

	other, _ := db.CumulativeXP(ctx, "u2")
	if other != 0 {
		t.Errorf("other user xp = %d, want 0", other)
	}
}

func TestAddXP_ReturnsNewTotal(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.AddXP(ctx, "u1", 90)
	total, err := db.AddXP(ctx, "u1", 15)
	if err != nil {
		t.Fatalf("AddXP() error: %v", err)
	}
	if total != 105 {
		t.Errorf("total = %d, want 105", total)
	}
}

func TestAddXP_RejectsNegative(t *testing.T) {
	db := newTestDB(t)
	_, err := db.AddXP(context.Background(), "u1", -1)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("AddXP(-1) = %v, want ErrInvalidArgument", err)
	}
}

// ─── Last Completion ────────────────────────────────────────────────────────

func TestLastCompletion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	got, err := db.LastCompletion(ctx, "u1")
	if err != nil || got != "" {
		t.Fatalf("LastCompletion() = %q, %v; want empty", got, err)
	}

	db.AddXP(ctx, "u1", 10)
	if err := db.SetLastCompletion(ctx, "u1", "meditation"); err != nil {
		t.Fatalf("SetLastCompletion() error: %v", err)
	}
	got, _ = db.LastCompletion(ctx, "u1")
	if got != "meditation" {
		t.Errorf("LastCompletion() = %q, want meditation", got)
	}

	// Setting the last completion must not disturb XP.
	xp, _ := db.CumulativeXP(ctx, "u1")
	if xp != 10 {
		t.Errorf("xp = %d, want 10", xp)
	}
}

// ─── Milestone Ledger ───────────────────────────────────────────────────────

func TestSetShownMilestone_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := db.SetShownMilestone(ctx, "u1", "xp100"); err != nil {
			t.Fatalf("SetShownMilestone() error: %v", err)
		}
	}
	db.SetShownMilestone(ctx, "u1", "xp200")

	ids, err := db.ShownMilestones(ctx, "u1")
	if err != nil {
		t.Fatalf("ShownMilestones() error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "xp100" || ids[1] != "xp200" {
		t.Errorf("ShownMilestones() = %v, want [xp100 xp200]", ids)
	}

	other, _ := db.ShownMilestones(ctx, "u2")
	if len(other) != 0 {
		t.Errorf("other user ledger = %v, want empty", other)
	}
}

// ─── Task Records ───────────────────────────────────────────────────────────

func TestTaskRecords_PutAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec := domain.TaskRecord{Name: "Read a book", Completed: true}
	if err := db.PutTaskRecord(ctx, "u1", "t1", rec); err != nil {
		t.Fatalf("PutTaskRecord() error: %v", err)
	}
	rec.Certified = true
	rec.CompletedDate = "2026-10-01"
	if err := db.PutTaskRecord(ctx, "u1", "t1", rec); err != nil {
		t.Fatalf("PutTaskRecord(update) error: %v", err)
	}
	db.PutTaskRecord(ctx, "u1", "t2", domain.TaskRecord{Name: "Run"})

	got, err := db.TaskRecords(ctx, "u1")
	if err != nil {
		t.Fatalf("TaskRecords() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got["t1"] != rec {
		t.Errorf("t1 = %+v, want %+v", got["t1"], rec)
	}
	if got["t2"].Certifiable() {
		t.Error("t2 should not be certifiable")
	}
}

// ─── Habit Streaks ──────────────────────────────────────────────────────────

func TestHabitStreaks_PutAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	day := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	s := domain.Streak{HabitID: "walk", CurrentDays: 3, LongestDays: 5, LastDate: day}
	if err := db.PutHabitStreak(ctx, "u1", s); err != nil {
		t.Fatalf("PutHabitStreak() error: %v", err)
	}

	got, err := db.HabitStreaks(ctx, "u1")
	if err != nil {
		t.Fatalf("HabitStreaks() error: %v", err)
	}
	if !got["walk"].LastDate.Equal(day) || got["walk"].CurrentDays != 3 || got["walk"].LongestDays != 5 {
		t.Errorf("walk = %+v, want %+v", got["walk"], s)
	}
}

// ─── Certificates ───────────────────────────────────────────────────────────

func TestInsertCertificate_OncePerMilestone(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c := domain.Certificate{
		UserID: "u1", MilestoneID: "xp100", Kind: domain.MilestoneXPThreshold,
		Name: "100 XP", XP: 105, Date: "2026-10-01", IssuedAt: time.Now(),
	}
	added, err := db.InsertCertificate(ctx, c)
	if err != nil || !added {
		t.Fatalf("InsertCertificate() = %v, %v; want true", added, err)
	}
	added, err = db.InsertCertificate(ctx, c)
	if err != nil || added {
		t.Fatalf("second InsertCertificate() = %v, %v; want false", added, err)
	}

	certs, err := db.ListCertificates(ctx, "u1")
	if err != nil {
		t.Fatalf("ListCertificates() error: %v", err)
	}
	if len(certs) != 1 || certs[0].Kind != domain.MilestoneXPThreshold || certs[0].XP != 105 {
		t.Errorf("certs = %+v", certs)
	}
}

// ─── Notification Inbox ─────────────────────────────────────────────────────

func TestNotifications_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.InsertNotification(ctx, domain.InboxNotification{
		UserID: "u1", MilestoneID: "xp100", Title: "t", Body: "b", CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("InsertNotification() error: %v", err)
	}
	db.InsertNotification(ctx, domain.InboxNotification{
		UserID: "u2", Title: "other", Body: "b", CreatedAt: time.Now(),
	})

	pending, _ := db.PendingNotificationCount(ctx, "u1")
	if pending != 1 {
		t.Fatalf("pending = %d, want 1", pending)
	}

	if err := db.MarkNotificationShown(ctx, "u1", id); err != nil {
		t.Fatalf("MarkNotificationShown() error: %v", err)
	}
	list, _ := db.ListNotifications(ctx, "u1", true, 10)
	if len(list) != 0 {
		t.Errorf("pending list = %d, want 0", len(list))
	}
	all, _ := db.ListNotifications(ctx, "u1", false, 10)
	if len(all) != 1 || !all[0].Shown {
		t.Errorf("all = %+v, want one shown entry", all)
	}
}

func TestMarkNotificationShown_NotFound(t *testing.T) {
	db := newTestDB(t)
	err := db.MarkNotificationShown(context.Background(), "u1", 999)
	if !errors.Is(err, domain.ErrNotificationNotFound) {
		t.Fatalf("err = %v, want ErrNotificationNotFound", err)
	}
}

func TestMarkNotificationShown_OtherUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	id, _ := db.InsertNotification(ctx, domain.InboxNotification{
		UserID: "u1", Title: "t", Body: "b", CreatedAt: time.Now(),
	})
	err := db.MarkNotificationShown(ctx, "u2", id)
	if !errors.Is(err, domain.ErrNotificationNotFound) {
		t.Fatalf("err = %v, want ErrNotificationNotFound", err)
	}
}

// ─── Meta ───────────────────────────────────────────────────────────────────

func TestMeta(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	v, err := db.GetMeta(ctx, "missing")
	if err != nil || v != "" {
		t.Fatalf("GetMeta(missing) = %q, %v", v, err)
	}
	db.SetMeta(ctx, "telegram_chat:u1", "123")
	db.SetMeta(ctx, "telegram_chat:u1", "456")
	v, _ = db.GetMeta(ctx, "telegram_chat:u1")
	if v != "456" {
		t.Errorf("GetMeta() = %q, want 456", v)
	}
}

func TestDisplayName(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if name, err := db.DisplayName(ctx, "u1"); err != nil || name != "" {
		t.Fatalf("DisplayName(unset) = %q, %v", name, err)
	}
	if err := db.SetDisplayName(ctx, "u1", "Asha"); err != nil {
		t.Fatalf("SetDisplayName() error: %v", err)
	}
	if name, _ := db.DisplayName(ctx, "u1"); name != "Asha" {
		t.Errorf("DisplayName() = %q, want Asha", name)
	}
	if name, _ := db.DisplayName(ctx, "u2"); name != "" {
		t.Errorf("DisplayName(u2) = %q, want empty", name)
	}
	if err := db.SetDisplayName(ctx, "", "x"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("SetDisplayName(empty user) = %v, want ErrInvalidArgument", err)
	}
}
