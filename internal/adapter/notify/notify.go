// Package notify delivers user-facing status mail. Delivery failures are the
// caller's to log; a failed mail never rolls back a job transition.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/roppunt/fixframe/internal/domain"
)

// Mailer sends status messages over SMTP. It implements domain.Notifier.
type Mailer struct {
	addr    string
	auth    smtp.Auth
	from    string
	baseURL string
	send    func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewMailer builds an SMTP notifier. baseURL is the public origin used in
// download links.
func NewMailer(host string, port int, user, pass, from, baseURL string) *Mailer {
	var auth smtp.Auth
	if user != "" {
		auth = smtp.PlainAuth("", user, pass, host)
	}
	return &Mailer{
		addr:    fmt.Sprintf("%s:%d", host, port),
		auth:    auth,
		from:    from,
		baseURL: strings.TrimRight(baseURL, "/"),
		send:    smtp.SendMail,
	}
}

// Notify renders the template for the job and sends it to the job's address.
func (m *Mailer) Notify(ctx context.Context, job *domain.Job, template domain.NotificationTemplate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, body := m.render(job, template)
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + job.Email,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=utf-8",
		"",
		body,
	}, "\r\n")
	return m.send(m.addr, m.auth, m.from, []string{job.Email}, []byte(msg))
}

func (m *Mailer) render(job *domain.Job, template domain.NotificationTemplate) (string, string) {
	switch template {
	case domain.TemplateReady:
		link := fmt.Sprintf("%s/download.html?jobId=%s&token=%s", m.baseURL, job.ID, job.Grant.Token)
		return "Repair complete — download your file",
			fmt.Sprintf("<p>Good news! Your file <strong>%s</strong> has been repaired.</p>"+
				"<p>Download it within 30 days: %s</p>"+
				"<p>Thanks for trusting FixFrame.</p>", job.OriginalName, link)
	default:
		return "Not repairable — refund issued",
			fmt.Sprintf("<p>We tried to repair your file <strong>%s</strong>, but it did not succeed.</p>"+
				"<p>A full refund has been initiated. We will reach out if manual help is possible.</p>"+
				"<p>Team FixFrame</p>", job.OriginalName)
	}
}

// LogNotifier is the fallback when SMTP is not configured: messages land in
// the log instead of a mailbox.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(ctx context.Context, job *domain.Job, template domain.NotificationTemplate) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification (smtp not configured)",
		"job", job.ID, "email", job.Email, "template", string(template))
	return nil
}
