package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/emersion/go-message/mail"

	"github.com/vipul43/inbox-agent/internal/models"
	"github.com/vipul43/inbox-agent/internal/retry"
)

// Notifier delivers the daily digest
type Notifier interface {
	Notify(ctx context.Context, summary *models.DailySummary) error
}

// LogNotifier writes the digest to the log. Used when no address is set.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.WithPrefix("notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, s *models.DailySummary) error {
	n.logger.Info("Daily summary",
		"date", s.SummaryDate,
		"emails", s.EmailsProcessed,
		"important", s.ImportantEmails,
		"tasks", s.TasksExtracted,
		"high_priority", s.HighPriorityTasks,
		"summary", s.SummaryText,
	)
	return nil
}

// MailNotifier sends the digest through the mail provider
type MailNotifier struct {
	provider MailProvider
	to       string
	retry    retry.Policy
	now      func() time.Time
}

// NewMailNotifier sends to the given address. reauth may be nil.
func NewMailNotifier(provider MailProvider, to string, reauth Reauthenticator, policy retry.Policy) *MailNotifier {
	if policy.OnReauth == nil && reauth != nil {
		policy.OnReauth = reauth.ForceRefresh
	}
	return &MailNotifier{provider: provider, to: to, retry: policy, now: time.Now}
}

func (n *MailNotifier) Notify(ctx context.Context, s *models.DailySummary) error {
	raw, err := n.compose(s)
	if err != nil {
		return err
	}
	err = retry.DoErr(ctx, n.retry, func(ctx context.Context) error {
		return n.provider.SendMessage(ctx, raw)
	})
	if err != nil {
		return fmt.Errorf("failed to send daily summary: %w", err)
	}
	return nil
}

// compose renders the digest as an RFC 5322 message
func (n *MailNotifier) compose(s *models.DailySummary) ([]byte, error) {
	var h mail.Header
	h.SetDate(n.now())
	h.SetAddressList("To", []*mail.Address{{Address: n.to}})
	h.SetSubject("Daily Email Summary - " + s.SummaryDate)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, digestBody(s)); err != nil {
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func digestBody(s *models.DailySummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily summary for %s\n\n", s.SummaryDate)
	b.WriteString(s.SummaryText)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Emails processed: %d\n", s.EmailsProcessed)
	fmt.Fprintf(&b, "Important emails: %d\n", s.ImportantEmails)
	fmt.Fprintf(&b, "Tasks extracted: %d\n", s.TasksExtracted)
	fmt.Fprintf(&b, "High priority tasks: %d\n", s.HighPriorityTasks)
	if len(s.TopSenders) > 0 {
		fmt.Fprintf(&b, "Top senders: %s\n", strings.Join(s.TopSenders, ", "))
	}
	fmt.Fprintf(&b, "Tokens used: %d (cost $%.4f)\n", s.TokensUsed, s.Cost)
	return b.String()
}
