package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/vipul43/inbox-agent/internal/service"
)

const userID = "me"

type Client struct {
	svc    *gmail.Service
	logger *log.Logger
}

// NewClient builds a Gmail client. Every request asks ts for a token, so
// refreshes stay with whoever owns ts.
func NewClient(ctx context.Context, ts oauth2.TokenSource, logger *log.Logger, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return &Client{svc: svc, logger: logger.WithPrefix("gmail")}, nil
}

// ListMessageIDs fetches one page of message IDs matching query
func (c *Client) ListMessageIDs(ctx context.Context, query string, maxResults int, pageToken string) (*service.MessageIDPage, error) {
	listCall := c.svc.Users.Messages.List(userID).Q(query).MaxResults(int64(maxResults)).Context(ctx)
	if pageToken != "" {
		listCall = listCall.PageToken(pageToken)
	}

	listResp, err := listCall.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	c.logger.Debug("Listed message IDs", "count", len(listResp.Messages), "next_page", listResp.NextPageToken != "")

	messageIDs := make([]string, 0, len(listResp.Messages))
	for _, msg := range listResp.Messages {
		messageIDs = append(messageIDs, msg.Id)
	}

	return &service.MessageIDPage{
		MessageIDs:    messageIDs,
		NextPageToken: listResp.NextPageToken,
	}, nil
}

// GetMessage fetches a single message in full format
func (c *Client) GetMessage(ctx context.Context, id string) (*service.MailMessage, error) {
	fullMsg, err := c.svc.Users.Messages.Get(userID, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	msg := c.parseMessage(fullMsg)
	return &msg, nil
}

// MarkAsRead removes the UNREAD label
func (c *Client) MarkAsRead(ctx context.Context, id string) error {
	_, err := c.svc.Users.Messages.Modify(userID, id, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to mark message as read: %w", err)
	}
	return nil
}

// SendMessage sends an RFC 5322 message
func (c *Client) SendMessage(ctx context.Context, raw []byte) error {
	_, err := c.svc.Users.Messages.Send(userID, &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Ping checks access by reading the mailbox profile
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.svc.Users.GetProfile(userID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to get profile: %w", err)
	}
	return nil
}

// parseMessage maps a Gmail message onto MailMessage
func (c *Client) parseMessage(msg *gmail.Message) service.MailMessage {
	mailMsg := service.MailMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Labels:   msg.LabelIds,
	}

	// Internal date is milliseconds since epoch
	if msg.InternalDate > 0 {
		mailMsg.InternalDate = time.UnixMilli(msg.InternalDate)
	}

	if msg.Payload == nil {
		return mailMsg
	}

	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "Subject":
			mailMsg.Subject = header.Value
		case "From":
			mailMsg.From = header.Value
		case "To":
			mailMsg.To = header.Value
		case "Date":
			parsedDate, err := parseEmailDate(header.Value)
			if err != nil {
				c.logger.Debug("Unparseable Date header", "id", msg.Id, "value", header.Value)
			} else {
				mailMsg.Date = parsedDate
			}
		}
	}

	mailMsg.BodyText, mailMsg.BodyHTML = extractBodies(msg.Payload)
	return mailMsg
}

// extractBodies returns the first text/plain and first text/html body
// found anywhere in the payload tree
func extractBodies(payload *gmail.MessagePart) (string, string) {
	var textPlain, textHTML string

	if payload.Body != nil && payload.Body.Data != "" {
		if decoded, err := decodeBody(payload.Body.Data); err == nil {
			switch mimeType(payload.MimeType) {
			case "text/plain":
				textPlain = decoded
			case "text/html":
				textHTML = decoded
			}
		}
	}

	extractBodiesFromParts(payload.Parts, &textPlain, &textHTML)
	return textPlain, textHTML
}

// extractBodiesFromParts walks parts depth first
func extractBodiesFromParts(parts []*gmail.MessagePart, textPlain, textHTML *string) {
	for _, part := range parts {
		// Attachments that happen to be text are not bodies
		if part.Filename == "" && part.Body != nil && part.Body.Data != "" {
			if decoded, err := decodeBody(part.Body.Data); err == nil {
				switch mimeType(part.MimeType) {
				case "text/plain":
					if *textPlain == "" {
						*textPlain = decoded
					}
				case "text/html":
					if *textHTML == "" {
						*textHTML = decoded
					}
				}
			}
		}

		if len(part.Parts) > 0 {
			extractBodiesFromParts(part.Parts, textPlain, textHTML)
		}
	}
}

// Gmail normally sends padded URL-safe base64 but unpadded shows up too.
func decodeBody(data string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return "", err
		}
	}
	return string(decoded), nil
}

func mimeType(v string) string {
	if idx := strings.Index(v, ";"); idx != -1 {
		v = v[:idx]
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// parseEmailDate parses various email date formats
func parseEmailDate(dateStr string) (time.Time, error) {
	formats := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		"2 Jan 2006 15:04:05 -0700",
		time.RFC3339,
	}

	dateStr = strings.TrimSpace(dateStr)

	// Gmail sometimes appends the zone name after the numeric offset, e.g. "(UTC)"
	if idx := strings.Index(dateStr, " ("); idx != -1 {
		dateStr = dateStr[:idx]
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}
