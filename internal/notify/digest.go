// Package notify mails a digest of the failure log, grouped by queue and then
// by exception, through SendGrid.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/nadmax/resqview/internal/failure"
	"github.com/nadmax/resqview/internal/summary"
)

var ErrNoRecipients = errors.New("no digest recipients configured")

type ExceptionCount struct {
	Exception string
	Count     int
}

type QueueDigest struct {
	Queue      string
	Count      int
	Exceptions []ExceptionCount
}

type Digest struct {
	Total       int
	Queues      []QueueDigest
	GeneratedAt time.Time
}

// BuildDigest scans the failure log once and keeps first-seen order at both
// levels.
func BuildDigest(ctx context.Context, agg *summary.Aggregator, now time.Time) (*Digest, error) {
	byQueue, err := agg.ByQueue(ctx)
	if err != nil {
		return nil, err
	}

	d := &Digest{Total: byQueue.Total(), Queues: make([]QueueDigest, 0, len(byQueue.Groups)), GeneratedAt: now}
	for _, g := range byQueue.Groups {
		d.Queues = append(d.Queues, QueueDigest{
			Queue:      g.Key,
			Count:      g.Count,
			Exceptions: countExceptions(g.Records),
		})
	}
	return d, nil
}

func countExceptions(records []*failure.Record) []ExceptionCount {
	out := []ExceptionCount{}
	index := make(map[string]int)
	for _, rec := range records {
		i, ok := index[rec.Exception]
		if !ok {
			i = len(out)
			index[rec.Exception] = i
			out = append(out, ExceptionCount{Exception: rec.Exception})
		}
		out[i].Count++
	}
	return out
}

func (d *Digest) Subject() string {
	return fmt.Sprintf("[resqview] %d failed jobs", d.Total)
}

func (d *Digest) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d failed jobs as of %s\n", d.Total, d.GeneratedAt.Format(failure.TimeLayout))
	for _, q := range d.Queues {
		fmt.Fprintf(&b, "\n%s: %d\n", q.Queue, q.Count)
		for _, e := range q.Exceptions {
			fmt.Fprintf(&b, "  %s: %d\n", e.Exception, e.Count)
		}
	}
	return b.String()
}

// Sender is the part of the SendGrid client the mailer uses.
type Sender interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

type Mailer struct {
	client Sender
	from   *mail.Email
	to     []string
	logger *slog.Logger
}

func NewMailer(apiKey, fromName, fromAddress string, to []string, logger *slog.Logger) *Mailer {
	return NewMailerWithSender(sendgrid.NewSendClient(apiKey), fromName, fromAddress, to, logger)
}

func NewMailerWithSender(client Sender, fromName, fromAddress string, to []string, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{client: client, from: mail.NewEmail(fromName, fromAddress), to: to, logger: logger}
}

// Send mails the digest to every recipient. An empty digest is not sent.
func (m *Mailer) Send(d *Digest) error {
	if len(m.to) == 0 {
		return ErrNoRecipients
	}
	if d.Total == 0 {
		m.logger.Info("failure log is empty, digest not sent")
		return nil
	}

	body := d.Text()
	for _, to := range m.to {
		email := mail.NewSingleEmail(m.from, d.Subject(), mail.NewEmail("", to), body, "<pre>"+html.EscapeString(body)+"</pre>")
		response, err := m.client.Send(email)
		if err != nil {
			return fmt.Errorf("failed to send digest to %s: %w", to, err)
		}
		if response.StatusCode >= 400 {
			return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
		}

		m.logger.Info("digest sent", "to", to, "status", response.StatusCode, "failed_jobs", d.Total)
	}
	return nil
}
