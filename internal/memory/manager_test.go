package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderlens/internal/ai"
	"tenderlens/internal/model"
)

type fakeSummarizer struct {
	reply string
	err   error
	calls int
}

func (f *fakeSummarizer) Complete(ctx context.Context, messages []ai.Message) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeSessionStore struct {
	summary string
	through int
	calls   int
}

func (f *fakeSessionStore) UpdateSummary(id uint, summary string, through int) error {
	f.summary = summary
	f.through = through
	f.calls++
	return nil
}

// charCounter makes token budgets exact in tests: one token per character.
type charCounter struct{}

func (charCounter) Count(text string) int { return len(text) }

func newTestManager(summarizer *fakeSummarizer, store *fakeSessionStore, maxTokens int) *Manager {
	return NewManager(summarizer, store, charCounter{}, Config{
		MaxTokens:      maxTokens,
		BufferMessages: 10,
		SemanticTopK:   5,
		SummaryTrigger: 15,
	})
}

func history(n int) []model.ChatMessage {
	msgs := make([]model.ChatMessage, n)
	for i := range msgs {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		msgs[i] = model.ChatMessage{
			ID:        uint(i + 1),
			SessionID: 1,
			Role:      role,
			Content:   fmt.Sprintf("m%d", i+1),
		}
	}
	return msgs
}

func TestAssembleBuffersAllWhenShort(t *testing.T) {
	manager := newTestManager(&fakeSummarizer{}, &fakeSessionStore{}, 2000)
	session := &model.ChatSession{ID: 1}

	ctx, err := manager.Assemble(context.Background(), session, history(4), nil)
	require.NoError(t, err)

	assert.Len(t, ctx.Buffer, 4)
	assert.Empty(t, ctx.Semantic)
	assert.Empty(t, ctx.Summary)
}

func TestAssembleBufferCapsAtConfiguredSize(t *testing.T) {
	manager := newTestManager(&fakeSummarizer{}, &fakeSessionStore{}, 2000)
	session := &model.ChatSession{ID: 1}

	ctx, err := manager.Assemble(context.Background(), session, history(12), nil)
	require.NoError(t, err)

	require.Len(t, ctx.Buffer, 10)
	assert.Equal(t, "m3", ctx.Buffer[0].Content)
	assert.Equal(t, "m12", ctx.Buffer[9].Content)
}

func TestAssembleNoSummaryAtTrigger(t *testing.T) {
	summarizer := &fakeSummarizer{reply: "a summary"}
	manager := newTestManager(summarizer, &fakeSessionStore{}, 2000)
	session := &model.ChatSession{ID: 1}

	ctx, err := manager.Assemble(context.Background(), session, history(15), nil)
	require.NoError(t, err)

	assert.Empty(t, ctx.Summary)
	assert.Zero(t, summarizer.calls)
}

func TestAssembleSummaryAboveTrigger(t *testing.T) {
	summarizer := &fakeSummarizer{reply: "a summary"}
	store := &fakeSessionStore{}
	manager := newTestManager(summarizer, store, 2000)
	session := &model.ChatSession{ID: 1}

	ctx, err := manager.Assemble(context.Background(), session, history(16), nil)
	require.NoError(t, err)

	assert.Equal(t, "a summary", ctx.Summary)
	assert.Equal(t, 1, summarizer.calls)
	assert.Equal(t, "a summary", store.summary)
	assert.Equal(t, 6, store.through)
}

func TestAssembleSummaryWatermarkSkipsRegeneration(t *testing.T) {
	summarizer := &fakeSummarizer{reply: "new summary"}
	manager := newTestManager(summarizer, &fakeSessionStore{}, 2000)
	session := &model.ChatSession{ID: 1, Summary: "old summary", SummarizedThrough: 6}

	ctx, err := manager.Assemble(context.Background(), session, history(16), nil)
	require.NoError(t, err)

	// Nothing new was evicted since the watermark; the old summary stands.
	assert.Equal(t, "old summary", ctx.Summary)
	assert.Zero(t, summarizer.calls)
}

func TestAssembleSummarizerFailureKeepsStaleSummary(t *testing.T) {
	summarizer := &fakeSummarizer{err: errors.New("provider down")}
	store := &fakeSessionStore{}
	manager := newTestManager(summarizer, store, 2000)
	session := &model.ChatSession{ID: 1, Summary: "stale", SummarizedThrough: 2}

	ctx, err := manager.Assemble(context.Background(), session, history(18), nil)
	require.NoError(t, err)

	assert.Equal(t, "stale", ctx.Summary)
	assert.Zero(t, store.calls)
}

func TestAssembleSemanticRanksOlderByCosine(t *testing.T) {
	manager := newTestManager(&fakeSummarizer{}, &fakeSessionStore{}, 2000)
	session := &model.ChatSession{ID: 1}

	msgs := history(13)
	// Only the three oldest are outside the buffer.
	msgs[0].SetEmbedding([]float32{1, 0})    // aligned with query
	msgs[1].SetEmbedding([]float32{0.7, 0.7}) // diagonal
	msgs[2].SetEmbedding([]float32{0, 1})    // orthogonal

	ctx, err := manager.Assemble(context.Background(), session, msgs, []float32{1, 0})
	require.NoError(t, err)

	require.Len(t, ctx.Semantic, 3)
	assert.Equal(t, "m1", ctx.Semantic[0].Content)
	assert.Equal(t, "m2", ctx.Semantic[1].Content)
	assert.Equal(t, "m3", ctx.Semantic[2].Content)
}

func TestAssembleUnembeddedMessagesInvisibleToSemanticTier(t *testing.T) {
	manager := newTestManager(&fakeSummarizer{}, &fakeSessionStore{}, 2000)
	session := &model.ChatSession{ID: 1}

	msgs := history(13)
	msgs[1].SetEmbedding([]float32{1, 0})

	ctx, err := manager.Assemble(context.Background(), session, msgs, []float32{1, 0})
	require.NoError(t, err)

	require.Len(t, ctx.Semantic, 1)
	assert.Equal(t, "m2", ctx.Semantic[0].Content)
}

func TestTrimDropsSummaryFirst(t *testing.T) {
	manager := newTestManager(&fakeSummarizer{}, &fakeSessionStore{}, 20)

	buffer := []model.ChatMessage{
		{Content: "0123456789"},
		{Content: "0123456789"},
	}
	ctx := manager.trimToBudget("a long summary text", nil, buffer)

	assert.Empty(t, ctx.Summary)
	assert.Len(t, ctx.Buffer, 2)
}

func TestTrimDropsSemanticBeforeBuffer(t *testing.T) {
	manager := newTestManager(&fakeSummarizer{}, &fakeSessionStore{}, 20)

	semantic := []model.ChatMessage{
		{Content: "most similar"},
		{Content: "least similar"},
	}
	buffer := []model.ChatMessage{
		{Content: "0123456789"},
		{Content: "0123456789"},
	}
	ctx := manager.trimToBudget("", semantic, buffer)

	// Both semantic entries go before any buffer message does.
	assert.Empty(t, ctx.Semantic)
	assert.Len(t, ctx.Buffer, 2)
}

func TestTrimDropsOldestBufferLast(t *testing.T) {
	manager := newTestManager(&fakeSummarizer{}, &fakeSessionStore{}, 25)

	buffer := []model.ChatMessage{
		{Content: "0123456789"},
		{Content: "0123456789"},
		{Content: "0123456789"},
	}
	ctx := manager.trimToBudget("", nil, buffer)

	require.Len(t, ctx.Buffer, 2)
}

func TestTrimNeverDropsNewestMessage(t *testing.T) {
	manager := newTestManager(&fakeSummarizer{}, &fakeSessionStore{}, 5)

	buffer := []model.ChatMessage{
		{Content: "old old old old"},
		{Content: "the newest message, longer than the whole budget"},
	}
	ctx := manager.trimToBudget("", nil, buffer)

	require.Len(t, ctx.Buffer, 1)
	assert.Equal(t, "the newest message, longer than the whole budget", ctx.Buffer[0].Content)
}

func TestHeuristicCounter(t *testing.T) {
	counter := HeuristicCounter{}
	assert.Equal(t, 0, counter.Count(""))
	assert.Equal(t, 1, counter.Count("ab"))
	assert.Equal(t, 3, counter.Count("twelve chars"))
}
