package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
)

// CertificateStore persists issued certificates.
type CertificateStore interface {
	InsertCertificate(ctx context.Context, c domain.Certificate) (bool, error)
}

// Certificates issues a certificate for every milestone notification.
type Certificates struct {
	store CertificateStore
}

// NewCertificates creates the certificate sink.
func NewCertificates(store CertificateStore) *Certificates {
	return &Certificates{store: store}
}

func (c *Certificates) Name() string { return "certificates" }

// Notify records the certificate. Re-issuing the same milestone is a no-op.
func (c *Certificates) Notify(ctx context.Context, n domain.MilestoneNotification) error {
	cert := domain.Certificate{
		UserID:      n.UserID,
		MilestoneID: n.MilestoneID,
		Kind:        n.Kind,
		XP:          n.Payload.XP,
		Date:        n.Payload.Date,
		IssuedAt:    n.CreatedAt,
	}
	switch n.Kind {
	case domain.MilestoneXPThreshold:
		cert.Name = fmt.Sprintf("%d XP", n.Payload.Threshold)
	case domain.MilestoneTaskCertified:
		cert.Name = n.Payload.TaskName
	default:
		cert.Name = n.MilestoneID
	}
	if cert.IssuedAt.IsZero() {
		cert.IssuedAt = time.Now()
	}
	if _, err := c.store.InsertCertificate(ctx, cert); err != nil {
		return fmt.Errorf("issue certificate %s: %w", n.MilestoneID, err)
	}
	return nil
}

// InboxStore persists inbox notifications.
type InboxStore interface {
	InsertNotification(ctx context.Context, n domain.InboxNotification) (int64, error)
}

// Inbox stores each milestone notification as a pending in-app message.
type Inbox struct {
	store InboxStore
}

// NewInbox creates the inbox sink.
func NewInbox(store InboxStore) *Inbox {
	return &Inbox{store: store}
}

func (i *Inbox) Name() string { return "inbox" }

func (i *Inbox) Notify(ctx context.Context, n domain.MilestoneNotification) error {
	created := n.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := i.store.InsertNotification(ctx, domain.InboxNotification{
		UserID:      n.UserID,
		MilestoneID: n.MilestoneID,
		Title:       n.Title(),
		Body:        n.Body(),
		CreatedAt:   created,
	})
	if err != nil {
		return fmt.Errorf("store inbox notification %s: %w", n.MilestoneID, err)
	}
	return nil
}
