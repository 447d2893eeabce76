// Package notify delivers invite emails outside the request that created the
// invite. A failed delivery never affects the stored invitation.
package notify

import (
	"context"
	"time"

	"kindred-collective-backend/pkg/models"

	"go.uber.org/zap"
)

// InviteEmail is one invite notification, serialised onto the queue as JSON.
type InviteEmail struct {
	InvitationID     string                  `json:"invitation_id"`
	OrganisationID   string                  `json:"organisation_id"`
	OrganisationName string                  `json:"organisation_name"`
	OrganisationType models.OrganisationType `json:"organisation_type"`
	Email            string                  `json:"email"`
	Role             models.OrgRole          `json:"role"`
	InviteURL        string                  `json:"invite_url"`
	InvitedBy        string                  `json:"invited_by"`
	ExpiresAt        time.Time               `json:"expires_at"`
}

// Notifier hands an invite email off for delivery. Implementations must not
// block on the SMTP round trip.
type Notifier interface {
	NotifyInvite(ctx context.Context, msg InviteEmail) error
}

// Sender performs the actual delivery.
type Sender interface {
	Send(ctx context.Context, msg InviteEmail) error
}

// LogNotifier only logs; used when neither Redis nor SMTP is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyInvite(ctx context.Context, msg InviteEmail) error {
	n.logger.Info("invite email not sent: no delivery channel configured",
		zap.String("invitation_id", msg.InvitationID),
		zap.String("organisation_id", msg.OrganisationID),
		zap.String("invite_url", msg.InviteURL),
	)
	return nil
}

// AsyncSender delivers in a background goroutine with its own deadline.
type AsyncSender struct {
	sender  Sender
	timeout time.Duration
	logger  *zap.Logger
}

func NewAsyncSender(sender Sender, timeout time.Duration, logger *zap.Logger) *AsyncSender {
	return &AsyncSender{sender: sender, timeout: timeout, logger: logger}
}

func (a *AsyncSender) NotifyInvite(_ context.Context, msg InviteEmail) error {
	go func() {
		// detached from the request context, which ends with the response
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.sender.Send(ctx, msg); err != nil {
			a.logger.Warn("invite email delivery failed",
				zap.String("invitation_id", msg.InvitationID),
				zap.Error(err),
			)
		}
	}()
	return nil
}
