package models

import "time"

type MessageStatus string

const (
	MessageStatusUnprocessed MessageStatus = "unprocessed" // Stored, waiting for analysis
	MessageStatusProcessed   MessageStatus = "processed"   // Analysis written (possibly degraded)
	MessageStatusError       MessageStatus = "error"       // Analysis could not be stored
	MessageStatusIgnored     MessageStatus = "ignored"     // Excluded from analysis
)

// Sentiment labels produced by the importance stage
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
	SentimentUrgent   = "urgent"
)

// MaxBodyLength caps the stored body, counted in runes.
const MaxBodyLength = 5000

// Message is a mail provider message plus its processing record.
// Everything above Status is immutable after creation.
type Message struct {
	ID         string     `gorm:"column:id;primaryKey"`
	ProviderID string     `gorm:"column:provider_id;uniqueIndex"`
	ThreadID   string     `gorm:"column:thread_id"`
	Sender     string     `gorm:"column:sender"`
	Recipient  string     `gorm:"column:recipient"`
	Subject    string     `gorm:"column:subject"`
	Body       string     `gorm:"column:body"`
	ReceivedAt time.Time  `gorm:"column:received_at;index"`
	Labels     StringList `gorm:"column:labels;type:text"`

	Status          MessageStatus `gorm:"column:status;index"`
	Summary         *string       `gorm:"column:summary"`
	ImportanceScore *float64      `gorm:"column:importance_score"`
	Sentiment       *string       `gorm:"column:sentiment"`
	HasActionItems  bool          `gorm:"column:has_action_items"`
	TokensUsed      int           `gorm:"column:tokens_used"`
	Cost            float64       `gorm:"column:cost"`
	ProcessedAt     *time.Time    `gorm:"column:processed_at"`
	LastError       *string       `gorm:"column:last_error"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Message) TableName() string {
	return "messages"
}

// IsUnread reports whether the provider still labels the message unread.
func (m Message) IsUnread() bool {
	return m.Labels.Contains("UNREAD")
}

// ProcessingResult is the analysis written onto a message when it moves
// from unprocessed to processed.
type ProcessingResult struct {
	Summary         string
	ImportanceScore float64
	Sentiment       string
	HasActionItems  bool
	TokensUsed      int
	Cost            float64
	ProcessedAt     time.Time
}
