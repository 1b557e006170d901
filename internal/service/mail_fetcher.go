package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"

	"github.com/vipul43/inbox-agent/internal/credential"
	"github.com/vipul43/inbox-agent/internal/models"
	"github.com/vipul43/inbox-agent/internal/retry"
)

// Gmail caps a single list page at 500 ids
const maxPageSize = 500

type FetchSettings struct {
	UnreadOnly bool
	Starred    bool
}

type MailFetcher struct {
	provider MailProvider
	messages MessageStore
	settings FetchSettings
	retry    retry.Policy
	now      func() time.Time
	logger   *log.Logger
}

// NewMailFetcher builds the fetcher. reauth refreshes the credential after
// an address exhaustion error and may be nil.
func NewMailFetcher(provider MailProvider, messages MessageStore, settings FetchSettings, reauth Reauthenticator, policy retry.Policy, logger *log.Logger) *MailFetcher {
	logger = logger.WithPrefix("fetcher")
	if policy.OnReauth == nil && reauth != nil {
		policy.OnReauth = reauth.ForceRefresh
	}
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &MailFetcher{
		provider: provider,
		messages: messages,
		settings: settings,
		retry:    policy,
		now:      time.Now,
		logger:   logger,
	}
}

// BuildQuery builds the provider search query for messages after since
func BuildQuery(since time.Time, unreadOnly, starred bool) string {
	query := "after:" + since.Format("2006/01/02")
	switch {
	case unreadOnly && starred:
		query += " (is:unread OR is:starred)"
	case unreadOnly:
		query += " is:unread"
	case starred:
		query += " is:starred"
	}
	return query
}

// FetchRecent lists up to maxResults candidate messages from the last
// hoursBack hours and fetches each one. Messages whose detail fetch fails
// are skipped, except when the credential is unusable.
func (f *MailFetcher) FetchRecent(ctx context.Context, maxResults, hoursBack int) ([]models.Message, error) {
	now := f.now()
	query := BuildQuery(now.Add(-time.Duration(hoursBack)*time.Hour), f.settings.UnreadOnly, f.settings.Starred)

	ids, err := f.listIDs(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}

	f.logger.Info("Fetched message ids", "count", len(ids), "query", query)

	messages := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		raw, err := retry.Do(ctx, f.retry, func(ctx context.Context) (*MailMessage, error) {
			return f.provider.GetMessage(ctx, id)
		})
		if err != nil {
			if errors.Is(err, credential.ErrAuthRequired) {
				return nil, fmt.Errorf("failed to get message %s: %w", id, err)
			}
			f.logger.Warn("Skipping message after failed fetch", "id", id, "error", err)
			continue
		}
		messages = append(messages, normalize(raw, now))
	}

	return messages, nil
}

func (f *MailFetcher) listIDs(ctx context.Context, query string, maxResults int) ([]string, error) {
	var ids []string
	pageToken := ""

	for len(ids) < maxResults {
		pageSize := maxResults - len(ids)
		if pageSize > maxPageSize {
			pageSize = maxPageSize
		}

		token := pageToken
		page, err := retry.Do(ctx, f.retry, func(ctx context.Context) (*MessageIDPage, error) {
			return f.provider.ListMessageIDs(ctx, query, pageSize, token)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}

		ids = append(ids, page.MessageIDs...)
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	if len(ids) > maxResults {
		ids = ids[:maxResults]
	}
	return ids, nil
}

// Persist stores messages by provider id and returns the local id of each
// one, new or existing. Failed rows are reported together.
func (f *MailFetcher) Persist(ctx context.Context, msgs []models.Message) ([]string, error) {
	ids := make([]string, 0, len(msgs))
	created := 0
	var errs []error

	for _, msg := range msgs {
		id, isNew, err := f.messages.Upsert(ctx, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("message %s: %w", msg.ProviderID, err))
			continue
		}
		if isNew {
			created++
		}
		ids = append(ids, id)
	}

	f.logger.Info("Stored messages", "total", len(ids), "new", created, "failed", len(errs))
	return ids, errors.Join(errs...)
}

// normalize maps a provider message onto a new unprocessed Message
func normalize(m *MailMessage, now time.Time) models.Message {
	body := m.BodyText
	if strings.TrimSpace(body) == "" && m.BodyHTML != "" {
		body = htmlToText(m.BodyHTML)
	}
	if strings.TrimSpace(body) == "" {
		body = m.Snippet
	}

	received := m.Date
	if received.IsZero() {
		received = m.InternalDate
	}
	if received.IsZero() {
		received = now
	}

	return models.Message{
		ProviderID: m.ID,
		ThreadID:   m.ThreadID,
		Sender:     m.From,
		Recipient:  m.To,
		Subject:    m.Subject,
		Body:       truncateRunes(strings.TrimSpace(body), models.MaxBodyLength),
		ReceivedAt: received.UTC(),
		Labels:     models.StringList(m.Labels),
		Status:     models.MessageStatusUnprocessed,
	}
}

// htmlToText drops markup, scripts and styles and collapses whitespace
func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br, p, div, li, tr, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	lines := strings.Split(doc.Text(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
