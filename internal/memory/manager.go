// Package memory assembles the conversational context for a turn from three
// tiers: a verbatim buffer of recent messages, semantically similar older
// messages, and a rolling summary of everything evicted from the buffer.
package memory

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"tenderlens/internal/ai"
	"tenderlens/internal/model"
)

// Summarizer extends the rolling summary. Satisfied by *ai.ChatCaller.
type Summarizer interface {
	Complete(ctx context.Context, messages []ai.Message) (string, error)
}

// SessionStore persists the rolling summary and its watermark.
type SessionStore interface {
	UpdateSummary(id uint, summary string, through int) error
}

// Config carries the tier sizes and the token budget.
type Config struct {
	MaxTokens      int
	BufferMessages int
	SemanticTopK   int
	SummaryTrigger int
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2000
	}
	if c.BufferMessages <= 0 {
		c.BufferMessages = 10
	}
	if c.SemanticTopK <= 0 {
		c.SemanticTopK = 5
	}
	if c.SummaryTrigger <= 0 {
		c.SummaryTrigger = 15
	}
	return c
}

// Context is the assembled memory for one turn, already trimmed to budget.
type Context struct {
	Summary  string
	Semantic []model.ChatMessage
	Buffer   []model.ChatMessage
}

type Manager struct {
	summarizer Summarizer
	sessions   SessionStore
	counter    TokenCounter
	cfg        Config
}

func NewManager(summarizer Summarizer, sessions SessionStore, counter TokenCounter, cfg Config) *Manager {
	return &Manager{
		summarizer: summarizer,
		sessions:   sessions,
		counter:    counter,
		cfg:        cfg.withDefaults(),
	}
}

// Assemble builds the turn context from the full persisted history and the
// already-embedded query vector.
//
// The buffer holds the newest messages verbatim. The semantic tier ranks the
// remaining older messages by cosine similarity against the query; messages
// persisted without an embedding are invisible to it. Once the history
// exceeds the summary trigger, the rolling summary is extended over the
// messages evicted from the buffer since the last extension; if the
// summarizer fails, the stale summary is kept.
//
// The result is trimmed to the token budget: summary first, then semantic
// matches (least similar first), then the oldest buffer messages. The
// newest message survives any budget.
func (m *Manager) Assemble(ctx context.Context, session *model.ChatSession, history []model.ChatMessage, queryVector []float32) (*Context, error) {
	bufferStart := len(history) - m.cfg.BufferMessages
	if bufferStart < 0 {
		bufferStart = 0
	}
	buffer := history[bufferStart:]
	older := history[:bufferStart]

	semantic := m.rankSemantic(older, queryVector)

	summary := session.Summary
	if len(history) > m.cfg.SummaryTrigger {
		summary = m.extendSummary(ctx, session, older)
	}

	return m.trimToBudget(summary, semantic, buffer), nil
}

// rankSemantic returns the top-k older messages by cosine similarity,
// most similar first.
func (m *Manager) rankSemantic(older []model.ChatMessage, queryVector []float32) []model.ChatMessage {
	if len(older) == 0 || len(queryVector) == 0 {
		return nil
	}

	type scored struct {
		message    model.ChatMessage
		similarity float64
	}
	candidates := make([]scored, 0, len(older))
	for _, msg := range older {
		vector := msg.EmbeddingVector()
		if len(vector) == 0 {
			continue
		}
		candidates = append(candidates, scored{
			message:    msg,
			similarity: cosineSimilarity(queryVector, vector),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].similarity > candidates[j].similarity
	})
	if len(candidates) > m.cfg.SemanticTopK {
		candidates = candidates[:m.cfg.SemanticTopK]
	}

	result := make([]model.ChatMessage, len(candidates))
	for i, c := range candidates {
		result[i] = c.message
	}
	return result
}

// extendSummary folds messages evicted from the buffer since the last
// extension into the rolling summary. On failure the previous summary is
// returned unchanged; summarization is an optimization, not a dependency.
func (m *Manager) extendSummary(ctx context.Context, session *model.ChatSession, evicted []model.ChatMessage) string {
	if session.SummarizedThrough >= len(evicted) {
		return session.Summary
	}
	fresh := evicted[session.SummarizedThrough:]

	var transcript strings.Builder
	for _, msg := range fresh {
		transcript.WriteString(msg.Role)
		transcript.WriteString(": ")
		transcript.WriteString(msg.Content)
		transcript.WriteString("\n")
	}

	var userPrompt string
	if session.Summary == "" {
		userPrompt = fmt.Sprintf("Summarize the following conversation concisely, keeping every fact, figure and decision:\n\n%s", transcript.String())
	} else {
		userPrompt = fmt.Sprintf("Current summary:\n%s\n\nExtend the summary with the new messages below, keeping every fact, figure and decision. Return only the updated summary.\n\n%s",
			session.Summary, transcript.String())
	}

	messages := []ai.Message{
		{Role: "system", Content: "You maintain a running summary of a conversation about tender documents. Be concise and factual."},
		{Role: "user", Content: userPrompt},
	}
	updated, err := m.summarizer.Complete(ctx, messages)
	if err != nil || strings.TrimSpace(updated) == "" {
		log.Printf("extend session %d summary failed, keeping previous: %v", session.ID, err)
		return session.Summary
	}
	updated = strings.TrimSpace(updated)

	if err := m.sessions.UpdateSummary(session.ID, updated, len(evicted)); err != nil {
		log.Printf("persist session %d summary: %v", session.ID, err)
	}
	session.Summary = updated
	session.SummarizedThrough = len(evicted)
	return updated
}

// trimToBudget drops context until the token budget holds: the summary goes
// first, then semantic matches starting with the least similar, then buffer
// messages starting with the oldest. The newest message is never dropped.
func (m *Manager) trimToBudget(summary string, semantic, buffer []model.ChatMessage) *Context {
	total := m.counter.Count(summary)
	for _, msg := range semantic {
		total += m.counter.Count(msg.Content)
	}
	for _, msg := range buffer {
		total += m.counter.Count(msg.Content)
	}

	if total > m.cfg.MaxTokens && summary != "" {
		total -= m.counter.Count(summary)
		summary = ""
	}
	for total > m.cfg.MaxTokens && len(semantic) > 0 {
		last := semantic[len(semantic)-1]
		semantic = semantic[:len(semantic)-1]
		total -= m.counter.Count(last.Content)
	}
	for total > m.cfg.MaxTokens && len(buffer) > 1 {
		total -= m.counter.Count(buffer[0].Content)
		buffer = buffer[1:]
	}

	return &Context{
		Summary:  summary,
		Semantic: semantic,
		Buffer:   buffer,
	}
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
