// Package notify sends operator-facing alerts: operator sign-in magic
// links (teacher's original purpose) and permanent schedule failure alerts
// once a run exhausts its retry budget.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender logs instead of sending — used in ENV=local.
type LogSender struct {
	logger *slog.Logger
}

func (s *LogSender) Send(_ context.Context, to, subject, body string) error {
	s.logger.Info("notification (local dev)", "to", to, "subject", subject, "body", body)
	return nil
}

// ResendSender sends via the Resend API — used in staging/production.
type ResendSender struct {
	client *resend.Client
	from   string
}

func (s *ResendSender) Send(ctx context.Context, to, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	_, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// NewSender returns a LogSender for ENV=local, ResendSender otherwise.
func NewSender(env, apiKey, from string, logger *slog.Logger) Sender {
	if env == "local" {
		return &LogSender{logger: logger}
	}
	return &ResendSender{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

// Notifier wraps a Sender with the two alert shapes the scheduling fabric
// raises: operator sign-in links and permanent schedule failures.
type Notifier struct {
	sender Sender
	opsTo  string
}

func NewNotifier(sender Sender, opsTo string) *Notifier {
	return &Notifier{sender: sender, opsTo: opsTo}
}

// MagicLink emails a one-time sign-in link to an operator (console.toml
// [admin] bootstrap flow).
func (n *Notifier) MagicLink(ctx context.Context, to, link string) error {
	body := fmt.Sprintf(
		`<p>Click the link below to sign in (expires in 15 minutes):</p><p><a href="%s">%s</a></p>`,
		link, link,
	)
	return n.sender.Send(ctx, to, "Your sign-in link", body)
}

// PermanentFailure alerts operators that a schedule exhausted its retry
// budget and will not run again until manually reset (§4.D retry policy,
// invariant 5), mirroring the teacher's reaper alert but routed to the
// fixed ops address rather than a per-job owner.
func (n *Notifier) PermanentFailure(ctx context.Context, eid, instanceID string, retryCount int, lastExitStatus string) error {
	if n.opsTo == "" {
		return nil
	}
	subject := fmt.Sprintf("schedule %s exhausted retries on %s", eid, instanceID)
	body := fmt.Sprintf(
		`<p>Schedule <code>%s</code> on instance <code>%s</code> stopped after %d retries.</p><p>Last exit status: %s</p>`,
		eid, instanceID, retryCount, lastExitStatus,
	)
	return n.sender.Send(ctx, n.opsTo, subject, body)
}
