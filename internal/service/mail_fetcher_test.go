package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/vipul43/inbox-agent/internal/credential"
	"github.com/vipul43/inbox-agent/internal/models"
)

func TestBuildQuery(t *testing.T) {
	since := time.Date(2026, 10, 13, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		unreadOnly bool
		starred    bool
		want       string
	}{
		{"both", true, true, "after:2026/10/13 (is:unread OR is:starred)"},
		{"unread only", true, false, "after:2026/10/13 is:unread"},
		{"starred only", false, true, "after:2026/10/13 is:starred"},
		{"no filters", false, false, "after:2026/10/13"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildQuery(since, tt.unreadOnly, tt.starred); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func pagedProvider(pages [][]string) *fakeMailProvider {
	return &fakeMailProvider{
		listFunc: func(ctx context.Context, query string, maxResults int, pageToken string) (*MessageIDPage, error) {
			idx := 0
			if pageToken != "" {
				fmt.Sscanf(pageToken, "page-%d", &idx)
			}
			page := &MessageIDPage{MessageIDs: pages[idx]}
			if idx+1 < len(pages) {
				page.NextPageToken = fmt.Sprintf("page-%d", idx+1)
			}
			return page, nil
		},
		getFunc: func(ctx context.Context, id string) (*MailMessage, error) {
			return &MailMessage{ID: id, Subject: "subject " + id, From: "a@example.com", BodyText: "body " + id}, nil
		},
	}
}

func TestMailFetcher_FetchRecentFollowsPages(t *testing.T) {
	provider := pagedProvider([][]string{{"m1", "m2"}, {"m3", "m4"}, {"m5"}})
	fetcher := NewMailFetcher(provider, nil, FetchSettings{UnreadOnly: true, Starred: true}, nil, testPolicy(), testLogger())
	fetcher.now = func() time.Time { return time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC) }

	msgs, err := fetcher.FetchRecent(context.Background(), 10, 24)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	if provider.queries[0] != "after:2026/10/13 (is:unread OR is:starred)" {
		t.Errorf("unexpected query %q", provider.queries[0])
	}
	if msgs[0].Status != models.MessageStatusUnprocessed || msgs[0].ProviderID != "m1" {
		t.Errorf("unexpected first message: %+v", msgs[0])
	}
}

func TestMailFetcher_FetchRecentStopsAtMax(t *testing.T) {
	provider := pagedProvider([][]string{{"m1", "m2"}, {"m3", "m4"}, {"m5"}})
	fetcher := NewMailFetcher(provider, nil, FetchSettings{}, nil, testPolicy(), testLogger())

	msgs, err := fetcher.FetchRecent(context.Background(), 3, 24)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if len(provider.queries) != 2 {
		t.Errorf("expected 2 list calls, got %d", len(provider.queries))
	}
}

func TestMailFetcher_SkipsFailedDetailFetch(t *testing.T) {
	provider := pagedProvider([][]string{{"m1", "bad", "m3"}})
	okGet := provider.getFunc
	provider.getFunc = func(ctx context.Context, id string) (*MailMessage, error) {
		if id == "bad" {
			return nil, errors.New("not found")
		}
		return okGet(ctx, id)
	}
	fetcher := NewMailFetcher(provider, nil, FetchSettings{}, nil, testPolicy(), testLogger())

	msgs, err := fetcher.FetchRecent(context.Background(), 10, 24)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(msgs) != 2 || msgs[1].ProviderID != "m3" {
		t.Errorf("expected the failed message to be skipped, got %+v", msgs)
	}
}

func TestMailFetcher_AuthRequiredAborts(t *testing.T) {
	provider := pagedProvider([][]string{{"m1", "m2"}})
	provider.getFunc = func(ctx context.Context, id string) (*MailMessage, error) {
		return nil, fmt.Errorf("failed to get message: %w", credential.ErrAuthRequired)
	}
	fetcher := NewMailFetcher(provider, nil, FetchSettings{}, nil, testPolicy(), testLogger())

	_, err := fetcher.FetchRecent(context.Background(), 10, 24)
	if !errors.Is(err, credential.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
}

func TestMailFetcher_AddressExhaustionReauthenticates(t *testing.T) {
	provider := pagedProvider([][]string{{"m1", "m2"}})
	okGet := provider.getFunc
	failures := 1
	provider.getFunc = func(ctx context.Context, id string) (*MailMessage, error) {
		if id == "m1" && failures > 0 {
			failures--
			return nil, addrNotAvailable()
		}
		return okGet(ctx, id)
	}
	reauth := &fakeReauth{}
	fetcher := NewMailFetcher(provider, nil, FetchSettings{}, reauth, testPolicy(), testLogger())

	msgs, err := fetcher.FetchRecent(context.Background(), 10, 24)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("expected both messages after the retry, got %d", len(msgs))
	}
	if reauth.calls != 1 {
		t.Errorf("expected one credential refresh, got %d", reauth.calls)
	}
}

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	internal := time.Date(2026, 10, 13, 20, 0, 0, 0, time.UTC)

	t.Run("html fallback", func(t *testing.T) {
		msg := normalize(&MailMessage{
			ID:       "m1",
			BodyHTML: "<html><head><style>p{}</style></head><body><p>Hello <b>world</b></p><script>x()</script><p>Second</p></body></html>",
		}, now)
		if msg.Body != "Hello world\nSecond" {
			t.Errorf("unexpected body %q", msg.Body)
		}
	})

	t.Run("plain text preferred", func(t *testing.T) {
		msg := normalize(&MailMessage{ID: "m1", BodyText: "plain", BodyHTML: "<p>html</p>"}, now)
		if msg.Body != "plain" {
			t.Errorf("expected plain body, got %q", msg.Body)
		}
	})

	t.Run("body capped in runes", func(t *testing.T) {
		msg := normalize(&MailMessage{ID: "m1", BodyText: strings.Repeat("é", models.MaxBodyLength+50)}, now)
		if n := utf8.RuneCountInString(msg.Body); n != models.MaxBodyLength {
			t.Errorf("expected %d runes, got %d", models.MaxBodyLength, n)
		}
	})

	t.Run("date falls back to internal date then now", func(t *testing.T) {
		msg := normalize(&MailMessage{ID: "m1", InternalDate: internal}, now)
		if !msg.ReceivedAt.Equal(internal) {
			t.Errorf("expected internal date, got %v", msg.ReceivedAt)
		}
		msg = normalize(&MailMessage{ID: "m2"}, now)
		if !msg.ReceivedAt.Equal(now) {
			t.Errorf("expected now, got %v", msg.ReceivedAt)
		}
	})
}

func TestMailFetcher_PersistIsIdempotent(t *testing.T) {
	stores := newTestStores(t)
	fetcher := NewMailFetcher(&fakeMailProvider{}, stores.messages, FetchSettings{}, nil, testPolicy(), testLogger())
	ctx := context.Background()

	msgs := []models.Message{
		{ProviderID: "g1", Subject: "one", ReceivedAt: time.Now()},
		{ProviderID: "g2", Subject: "two", ReceivedAt: time.Now()},
	}

	first, err := fetcher.Persist(ctx, msgs)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	second, err := fetcher.Persist(ctx, msgs)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected two ids each time, got %v and %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("expected the existing id back, got %s and %s", first[i], second[i])
		}
	}
}
