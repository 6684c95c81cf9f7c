package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
)

// ─── Certificates ───────────────────────────────────────────────────────────

// InsertCertificate issues a certificate. Re-issuing the same milestone for
// the same user is a no-op; the returned bool reports whether a row was added.
func (d *DB) InsertCertificate(ctx context.Context, c domain.Certificate) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO certificates (user_id, milestone_id, kind, name, xp, date, issued_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.UserID, c.MilestoneID, string(c.Kind), c.Name, c.XP, c.Date, c.IssuedAt.Unix(),
	)
	if err != nil {
		return false, storeErr("write_certificate", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListCertificates returns the user's certificates, oldest first.
func (d *DB) ListCertificates(ctx context.Context, userID string) ([]domain.Certificate, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id, milestone_id, kind, name, xp, date, issued_at
		 FROM certificates WHERE user_id = ? ORDER BY issued_at, milestone_id`,
		userID,
	)
	if err != nil {
		return nil, storeErr("read_certificates", err)
	}
	defer rows.Close()

	var certs []domain.Certificate
	for rows.Next() {
		var c domain.Certificate
		var kind string
		var issued int64
		if err := rows.Scan(&c.UserID, &c.MilestoneID, &kind, &c.Name, &c.XP, &c.Date, &issued); err != nil {
			return nil, storeErr("read_certificates", err)
		}
		c.Kind = domain.MilestoneKind(kind)
		c.IssuedAt = time.Unix(issued, 0).UTC()
		certs = append(certs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("read_certificates", err)
	}
	return certs, nil
}

// ─── Notification Inbox ─────────────────────────────────────────────────────

// InsertNotification adds a notification to the user's inbox.
func (d *DB) InsertNotification(ctx context.Context, n domain.InboxNotification) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO notifications (user_id, milestone_id, title, body, created_at, shown)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		n.UserID, n.MilestoneID, n.Title, n.Body, n.CreatedAt.Unix(), n.Shown,
	)
	if err != nil {
		return 0, storeErr("write_notification", err)
	}
	return res.LastInsertId()
}

// ListNotifications returns the user's inbox, newest first. When pendingOnly
// is set, already-shown entries are skipped.
func (d *DB) ListNotifications(ctx context.Context, userID string, pendingOnly bool, limit int) ([]domain.InboxNotification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, milestone_id, title, body, created_at, shown
		 FROM notifications WHERE user_id = ?`
	if pendingOnly {
		query += ` AND shown = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := d.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, storeErr("read_notifications", err)
	}
	defer rows.Close()

	var out []domain.InboxNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, storeErr("read_notifications", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("read_notifications", err)
	}
	return out, nil
}

// MarkNotificationShown flags one inbox entry as seen.
func (d *DB) MarkNotificationShown(ctx context.Context, userID string, id int64) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE notifications SET shown = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return storeErr("mark_notification", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", domain.ErrNotificationNotFound, id)
	}
	return nil
}

// PendingNotificationCount returns how many inbox entries are unseen.
func (d *DB) PendingNotificationCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND shown = 0`, userID,
	).Scan(&count)
	if err != nil {
		return 0, storeErr("count_notifications", err)
	}
	return count, nil
}

func scanNotification(rows *sql.Rows) (domain.InboxNotification, error) {
	var n domain.InboxNotification
	var created int64
	err := rows.Scan(&n.ID, &n.UserID, &n.MilestoneID, &n.Title, &n.Body, &created, &n.Shown)
	n.CreatedAt = time.Unix(created, 0).UTC()
	return n, err
}

// ─── Profile ────────────────────────────────────────────────────────────────

const displayNameKey = "display_name:"

// SetDisplayName stores the name shown for userID in outbound messages.
// An empty name clears it.
func (d *DB) SetDisplayName(ctx context.Context, userID, name string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	return d.SetMeta(ctx, displayNameKey+userID, name)
}

// DisplayName returns the stored name for userID, or "" if none is set.
func (d *DB) DisplayName(ctx context.Context, userID string) (string, error) {
	return d.GetMeta(ctx, displayNameKey+userID)
}
