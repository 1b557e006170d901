package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/vipul43/inbox-agent/internal/models"
	"github.com/vipul43/inbox-agent/internal/openrouter"
)

// Fallback texts used when the AI provider cannot produce a result
const (
	DigestFallbackText = "Unable to generate AI summary at this time."
	DigestEmptyText    = "No emails or tasks processed today."
)

const (
	importanceBodyLimit = 1000
	summaryBodyLimit    = 2000
	digestMessageLimit  = 10
)

// OutcomeKind tags how a stage produced its value
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	// OutcomeUnavailable means the provider refused for quota or rate
	// limits. Value still holds the fallback.
	OutcomeUnavailable
	// OutcomeDegraded means Value came from fallback logic after an error.
	OutcomeDegraded
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeDegraded:
		return "degraded"
	default:
		return "ok"
	}
}

// Usage is token and cost accounting for AI calls
type Usage struct {
	Tokens int
	Cost   float64
}

func (u Usage) Add(o Usage) Usage {
	return Usage{Tokens: u.Tokens + o.Tokens, Cost: u.Cost + o.Cost}
}

// Outcome is the result of one analysis stage
type Outcome[T any] struct {
	Kind  OutcomeKind
	Value T
	Usage Usage
	Err   error
}

type Importance struct {
	Score      float64
	Sentiment  string
	Actionable bool
}

// DefaultImportance is written when stage one fails for reasons other than
// provider unavailability.
var DefaultImportance = Importance{Score: 0.5, Sentiment: models.SentimentNeutral}

// Analysis is the combined result of all stages for one message
type Analysis struct {
	Importance Importance
	Summary    string
	Tasks      []models.ExtractedTask
	Usage      Usage
	// Deferred is set when the provider was unavailable at stage one. The
	// message stays unprocessed and nothing else is filled in.
	Deferred bool
	Degraded bool
}

// Result converts the analysis into the record written on the message
func (a Analysis) Result(at time.Time) models.ProcessingResult {
	return models.ProcessingResult{
		Summary:         a.Summary,
		ImportanceScore: a.Importance.Score,
		Sentiment:       a.Importance.Sentiment,
		HasActionItems:  a.Importance.Actionable || len(a.Tasks) > 0,
		TokensUsed:      a.Usage.Tokens,
		Cost:            a.Usage.Cost,
		ProcessedAt:     at,
	}
}

type AnalysisPipeline struct {
	ai           Completer
	limiter      *rate.Limiter
	costPerToken float64
	now          func() time.Time
	logger       *log.Logger
}

// NewAnalysisPipeline builds the pipeline. limiter is shared by every AI
// call; a nil limiter means no spacing.
func NewAnalysisPipeline(ai Completer, limiter *rate.Limiter, costPerToken float64, logger *log.Logger) *AnalysisPipeline {
	return &AnalysisPipeline{
		ai:           ai,
		limiter:      limiter,
		costPerToken: costPerToken,
		now:          time.Now,
		logger:       logger.WithPrefix("analysis"),
	}
}

// Analyze runs the three stages on msg. An unavailable provider at stage
// one defers the message; later stages fall back and continue.
func (p *AnalysisPipeline) Analyze(ctx context.Context, msg models.Message) Analysis {
	importance := p.ScoreImportance(ctx, msg)
	if importance.Kind == OutcomeUnavailable {
		p.logger.Warn("AI provider unavailable, deferring message", "id", msg.ID, "error", importance.Err)
		return Analysis{Deferred: true, Usage: importance.Usage}
	}

	summary := p.Summarize(ctx, msg)
	extracted := p.ExtractTasks(ctx, msg)

	return Analysis{
		Importance: importance.Value,
		Summary:    summary.Value,
		Tasks:      extracted.Value,
		Usage:      importance.Usage.Add(summary.Usage).Add(extracted.Usage),
		Degraded:   importance.Kind != OutcomeOK || summary.Kind != OutcomeOK || extracted.Kind != OutcomeOK,
	}
}

const importanceSystemPrompt = "You are an expert email analyst. Return only valid JSON."

const importancePromptTemplate = `Analyze this email for importance and sentiment:

From: %s
Subject: %s
Body: %s

Return a JSON response with:
1. importance_score: float (0.0 to 1.0, where 1.0 is most important)
2. sentiment: string ("positive", "negative", "neutral", "urgent")
3. reasoning: string (brief explanation)
4. is_actionable: boolean (contains action items)

Consider these factors for importance:
- Sender (boss, client, important contacts = higher importance)
- Subject urgency keywords (urgent, deadline, ASAP, etc.)
- Content that requires action
- Meeting requests, deadlines, client communications

JSON format only:`

// ScoreImportance is stage one
func (p *AnalysisPipeline) ScoreImportance(ctx context.Context, msg models.Message) Outcome[Importance] {
	content, usage, err := p.complete(ctx, openrouter.Request{
		System:      importanceSystemPrompt,
		Prompt:      fmt.Sprintf(importancePromptTemplate, msg.Sender, msg.Subject, truncateRunes(msg.Body, importanceBodyLimit)),
		MaxTokens:   300,
		Temperature: 0.3,
	})
	if err != nil {
		return failed(err, DefaultImportance, usage)
	}

	var parsed struct {
		ImportanceScore float64 `json:"importance_score"`
		Sentiment       string  `json:"sentiment"`
		IsActionable    bool    `json:"is_actionable"`
	}
	if err := json.Unmarshal([]byte(openrouter.CleanJSONResponse(content)), &parsed); err != nil {
		p.logger.Warn("Unparseable importance response", "id", msg.ID, "error", err)
		return Outcome[Importance]{Kind: OutcomeDegraded, Value: DefaultImportance, Usage: usage, Err: err}
	}

	return Outcome[Importance]{
		Kind: OutcomeOK,
		Value: Importance{
			Score:      clamp01(parsed.ImportanceScore),
			Sentiment:  normalizeSentiment(parsed.Sentiment),
			Actionable: parsed.IsActionable,
		},
		Usage: usage,
	}
}

const summarySystemPrompt = "You are an expert at creating concise, actionable email summaries."

const summaryPromptTemplate = `Summarize this email in 2-3 clear, actionable sentences:

From: %s
Subject: %s
Body: %s

Requirements:
- Focus on key information and any actions needed
- Use professional, clear language
- Highlight deadlines or important dates
- Keep it under 150 words

Summary:`

// Summarize is stage two. Every failure falls back to "<sender>: <subject>".
func (p *AnalysisPipeline) Summarize(ctx context.Context, msg models.Message) Outcome[string] {
	fallback := fmt.Sprintf("%s: %s", msg.Sender, msg.Subject)

	content, usage, err := p.complete(ctx, openrouter.Request{
		System:      summarySystemPrompt,
		Prompt:      fmt.Sprintf(summaryPromptTemplate, msg.Sender, msg.Subject, truncateRunes(msg.Body, summaryBodyLimit)),
		MaxTokens:   200,
		Temperature: 0.3,
	})
	if err != nil {
		return failed(err, fallback, usage)
	}

	summary := strings.TrimSpace(content)
	if summary == "" {
		return Outcome[string]{Kind: OutcomeDegraded, Value: fallback, Usage: usage, Err: errors.New("empty summary")}
	}
	return Outcome[string]{Kind: OutcomeOK, Value: summary, Usage: usage}
}

const extractSystemPrompt = "You are an expert at identifying actionable tasks in emails. Return only valid JSON."

const extractPromptTemplate = `Extract actionable tasks from this email:

From: %s
Subject: %s
Body: %s

Return a JSON response with an array of tasks. For each task include:
- title: string (concise task description)
- description: string (more details if needed)
- due_date: string (ISO format date if mentioned, null if not)
- priority: string ("low", "medium", "high", "urgent")
- confidence: float (0.0 to 1.0 - how confident you are this is a real task)

Only extract tasks that are:
- Clearly actionable (not just FYI)
- Directed at the email recipient
- Specific enough to be acted upon

If no clear tasks, return an empty array.

JSON format:
{"tasks": [...]}`

// ExtractTasks is stage three. Candidates below the confidence gate or
// without a title are dropped here.
func (p *AnalysisPipeline) ExtractTasks(ctx context.Context, msg models.Message) Outcome[[]models.ExtractedTask] {
	content, usage, err := p.complete(ctx, openrouter.Request{
		System:      extractSystemPrompt,
		Prompt:      fmt.Sprintf(extractPromptTemplate, msg.Sender, msg.Subject, truncateRunes(msg.Body, summaryBodyLimit)),
		MaxTokens:   500,
		Temperature: 0.2,
	})
	if err != nil {
		return failed[[]models.ExtractedTask](err, nil, usage)
	}

	var parsed struct {
		Tasks []struct {
			Title       string   `json:"title"`
			Description string   `json:"description"`
			DueDate     *string  `json:"due_date"`
			Priority    string   `json:"priority"`
			Confidence  *float64 `json:"confidence"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(openrouter.CleanJSONResponse(content)), &parsed); err != nil {
		p.logger.Warn("Unparseable task extraction response", "id", msg.ID, "error", err)
		return Outcome[[]models.ExtractedTask]{Kind: OutcomeDegraded, Usage: usage, Err: err}
	}

	now := p.now()
	var out []models.ExtractedTask
	for _, t := range parsed.Tasks {
		task := models.ExtractedTask{
			Title:       strings.TrimSpace(t.Title),
			Description: strings.TrimSpace(t.Description),
			Priority:    models.NormalizePriority(strings.ToLower(strings.TrimSpace(t.Priority))),
		}
		if t.Confidence != nil {
			task.Confidence = *t.Confidence
		}
		if t.DueDate != nil {
			task.DueDate = ParseDueDate(*t.DueDate, now)
		}

		if task.Title == "" {
			p.logger.Debug("Dropping task without title", "id", msg.ID)
			continue
		}
		if !task.MeetsConfidence() {
			p.logger.Info("Skipping low-confidence task", "title", task.Title, "confidence", task.Confidence)
			continue
		}
		out = append(out, task)
	}

	return Outcome[[]models.ExtractedTask]{Kind: OutcomeOK, Value: out, Usage: usage}
}

const digestSystemPrompt = "You are an executive assistant providing daily email and task summaries."

// DailyDigest writes the free-text part of the daily summary
func (p *AnalysisPipeline) DailyDigest(ctx context.Context, msgs []models.Message, tasks []models.Task) Outcome[string] {
	if len(msgs) == 0 && len(tasks) == 0 {
		return Outcome[string]{Kind: OutcomeOK, Value: DigestEmptyText}
	}

	content, usage, err := p.complete(ctx, openrouter.Request{
		System:      digestSystemPrompt,
		Prompt:      buildDigestPrompt(msgs, tasks),
		MaxTokens:   300,
		Temperature: 0.3,
	})
	if err != nil {
		return failed(err, DigestFallbackText, usage)
	}

	text := strings.TrimSpace(content)
	if text == "" {
		return Outcome[string]{Kind: OutcomeDegraded, Value: DigestFallbackText, Usage: usage, Err: errors.New("empty digest")}
	}
	return Outcome[string]{Kind: OutcomeOK, Value: text, Usage: usage}
}

func buildDigestPrompt(msgs []models.Message, tasks []models.Task) string {
	var b strings.Builder
	b.WriteString("Create a concise daily summary for today's email processing:\n\n")

	fmt.Fprintf(&b, "EMAILS PROCESSED (%d total):\n", len(msgs))
	for i, m := range msgs {
		if i == digestMessageLimit {
			break
		}
		summary := ""
		if m.Summary != nil {
			summary = *m.Summary
		}
		fmt.Fprintf(&b, "- From %s: %s\n", m.Sender, summary)
	}

	fmt.Fprintf(&b, "\nTASKS EXTRACTED (%d total):\n", len(tasks))
	for _, t := range tasks {
		due := ""
		if t.DueDate != nil {
			due = fmt.Sprintf(" (due %s)", t.DueDate.Format("2006-01-02"))
		}
		fmt.Fprintf(&b, "- %s%s [%s priority]\n", t.Title, due, t.Priority)
	}

	b.WriteString(`
Create a 3-4 sentence summary highlighting:
1. Key themes from today's emails
2. Most important tasks extracted
3. Any urgent items requiring immediate attention
4. Overall productivity insights

Keep it professional and actionable.`)
	return b.String()
}

// complete waits for the shared limiter and runs one AI call
func (p *AnalysisPipeline) complete(ctx context.Context, r openrouter.Request) (string, Usage, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", Usage{}, fmt.Errorf("failed to wait for rate limiter: %w", err)
		}
	}

	out, err := p.ai.Complete(ctx, r)
	if err != nil {
		return "", Usage{}, err
	}

	return out.Content, Usage{
		Tokens: out.TotalTokens,
		Cost:   float64(out.TotalTokens) * p.costPerToken,
	}, nil
}

// failed maps a call error onto an Unavailable or Degraded outcome
func failed[T any](err error, fallback T, usage Usage) Outcome[T] {
	kind := OutcomeDegraded
	if errors.Is(err, openrouter.ErrUnavailable) {
		kind = OutcomeUnavailable
	}
	return Outcome[T]{Kind: kind, Value: fallback, Usage: usage, Err: err}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func normalizeSentiment(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case models.SentimentPositive, models.SentimentNegative, models.SentimentNeutral, models.SentimentUrgent:
		return s
	default:
		return models.SentimentNeutral
	}
}
