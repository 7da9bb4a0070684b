package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderlens/internal/ai"
	"tenderlens/internal/memory"
	"tenderlens/internal/model"
	"tenderlens/internal/retrieval"
)

type fakeSessionStore struct {
	sessions map[uint]*model.ChatSession
	nextID   uint
	touched  bool
	deleted  []uint
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[uint]*model.ChatSession), nextID: 1}
}

func (f *fakeSessionStore) Create(session *model.ChatSession) error {
	session.ID = f.nextID
	f.nextID++
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeSessionStore) GetByID(id uint) (*model.ChatSession, error) {
	return f.sessions[id], nil
}

func (f *fakeSessionStore) List() ([]model.ChatSession, error) {
	var out []model.ChatSession
	for _, s := range f.sessions {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeSessionStore) Delete(id uint) error {
	delete(f.sessions, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeSessionStore) TouchActivity(id uint, at time.Time) error {
	f.touched = true
	return nil
}

type fakeMessageStore struct {
	messages []model.ChatMessage
	nextID   uint
	cleared  []uint
}

func (f *fakeMessageStore) Create(message *model.ChatMessage) error {
	f.nextID++
	message.ID = f.nextID
	f.messages = append(f.messages, *message)
	return nil
}

func (f *fakeMessageStore) ListBySessionID(sessionID uint) ([]model.ChatMessage, error) {
	var out []model.ChatMessage
	for _, m := range f.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessageStore) DeleteBySessionID(sessionID uint) error {
	f.cleared = append(f.cleared, sessionID)
	var kept []model.ChatMessage
	for _, m := range f.messages {
		if m.SessionID != sessionID {
			kept = append(kept, m)
		}
	}
	f.messages = kept
	return nil
}

type fakeDocumentGetter struct {
	existing map[uint]bool
}

func (f *fakeDocumentGetter) GetByID(id uint) (*model.Document, error) {
	if !f.existing[id] {
		return nil, nil
	}
	return &model.Document{ID: id, Filename: "tender.pdf"}, nil
}

type fakeHistoryCache struct {
	history    map[uint][]model.ChatMessage
	dirty      map[uint]bool
	deleted    []uint
	setCalls   int
	dirtyCalls int
}

func newFakeHistoryCache() *fakeHistoryCache {
	return &fakeHistoryCache{
		history: make(map[uint][]model.ChatMessage),
		dirty:   make(map[uint]bool),
	}
}

func (f *fakeHistoryCache) GetHistory(ctx context.Context, sessionID uint) ([]model.ChatMessage, bool, error) {
	msgs, ok := f.history[sessionID]
	return msgs, ok, nil
}

func (f *fakeHistoryCache) SetHistory(ctx context.Context, sessionID uint, messages []model.ChatMessage) error {
	f.history[sessionID] = messages
	f.setCalls++
	return nil
}

func (f *fakeHistoryCache) DeleteHistory(ctx context.Context, sessionID uint) error {
	delete(f.history, sessionID)
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func (f *fakeHistoryCache) MarkDirty(ctx context.Context, sessionID uint) error {
	f.dirty[sessionID] = true
	f.dirtyCalls++
	return nil
}

func (f *fakeHistoryCache) IsDirty(ctx context.Context, sessionID uint) (bool, error) {
	return f.dirty[sessionID], nil
}

type fakeRetriever struct {
	results     []retrieval.Result
	lastIDs     []uint
	lastVectors [][]float32
	err         error
}

func (f *fakeRetriever) RetrieveWithVectors(ctx context.Context, vectors [][]float32, documentIDs []uint) ([]retrieval.Result, error) {
	f.lastIDs = documentIDs
	f.lastVectors = vectors
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeAssembler struct{}

func (f *fakeAssembler) Assemble(ctx context.Context, session *model.ChatSession, history []model.ChatMessage, queryVector []float32) (*memory.Context, error) {
	return &memory.Context{Buffer: history, Summary: session.Summary}, nil
}

// fakeChatLLM serves queued replies first, then the default reply, so tests
// can script a reformulation turn followed by the answer turn.
type fakeChatLLM struct {
	reply   string
	replies []string
	err     error
	prompts []string
}

func (f *fakeChatLLM) Complete(ctx context.Context, messages []ai.Message) (string, error) {
	f.prompts = append(f.prompts, messages[len(messages)-1].Content)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) > 0 {
		next := f.replies[0]
		f.replies = f.replies[1:]
		return next, nil
	}
	return f.reply, nil
}

func (f *fakeChatLLM) lastPrompt() string {
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type chatFixture struct {
	service   *ChatService
	sessions  *fakeSessionStore
	messages  *fakeMessageStore
	cache     *fakeHistoryCache
	retriever *fakeRetriever
	llm       *fakeChatLLM
	embedder  *fakeEmbedder
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	sessions := newFakeSessionStore()
	messages := &fakeMessageStore{}
	cache := newFakeHistoryCache()
	retriever := &fakeRetriever{}
	llm := &fakeChatLLM{reply: "the answer"}
	embedder := &fakeEmbedder{vector: []float32{1, 0}}

	service := NewChatService(
		sessions, messages,
		&fakeDocumentGetter{existing: map[uint]bool{1: true, 2: true}},
		cache, retriever, &fakeAssembler{}, llm, embedder,
	)
	return &chatFixture{
		service:   service,
		sessions:  sessions,
		messages:  messages,
		cache:     cache,
		retriever: retriever,
		llm:       llm,
		embedder:  embedder,
	}
}

func (f *chatFixture) createSession(t *testing.T, docIDs ...uint) *model.ChatSession {
	t.Helper()
	session, err := f.service.CreateSession(CreateSessionInput{Title: "t", DocumentIDs: docIDs})
	require.NoError(t, err)
	return session
}

func TestCreateSessionRequiresDocuments(t *testing.T) {
	f := newChatFixture(t)

	_, err := f.service.CreateSession(CreateSessionInput{Title: "t"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.service.CreateSession(CreateSessionInput{Title: "t", DocumentIDs: []uint{99}})
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestCreateSessionDefaultsTitle(t *testing.T) {
	f := newChatFixture(t)

	session, err := f.service.CreateSession(CreateSessionInput{DocumentIDs: []uint{1}})
	require.NoError(t, err)
	assert.Equal(t, "New Chat", session.Title)
	assert.Equal(t, []uint{1}, session.DocumentIDList())
}

func TestSendMessageValidation(t *testing.T) {
	f := newChatFixture(t)
	session := f.createSession(t, 1)

	_, err := f.service.SendMessage(context.Background(), SendMessageInput{SessionID: session.ID, Content: "   "})
	require.ErrorIs(t, err, ErrMessageEmpty)

	_, err = f.service.SendMessage(context.Background(), SendMessageInput{SessionID: 42, Content: "hi"})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSendMessagePersistsTurnWithSources(t *testing.T) {
	f := newChatFixture(t)
	session := f.createSession(t, 1, 2)
	f.retriever.results = []retrieval.Result{
		{DocumentID: 1, PageNumber: 3, Content: "full chunk", Snippet: "snippet", Relevance: 82},
	}

	result, err := f.service.SendMessage(context.Background(), SendMessageInput{SessionID: session.ID, Content: "what pumps?"})
	require.NoError(t, err)

	assert.Equal(t, "the answer", result.Message.Content)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, uint(1), result.Sources[0].DocumentID)
	assert.Equal(t, 82, result.Sources[0].RelevancePercent)
	assert.Equal(t, "snippet", result.Sources[0].TextSnippet)

	require.Len(t, f.messages.messages, 2)
	assert.Equal(t, model.RoleUser, f.messages.messages[0].Role)
	assert.Equal(t, []float32{1, 0}, f.messages.messages[0].EmbeddingVector())
	assert.Equal(t, model.RoleAssistant, f.messages.messages[1].Role)
	require.Len(t, f.messages.messages[1].SourceList(), 1)

	assert.True(t, f.sessions.touched)
	assert.Equal(t, 1, f.cache.dirtyCalls)
	assert.Equal(t, []uint{1, 2}, f.retriever.lastIDs)
	assert.Contains(t, f.llm.lastPrompt(), "what pumps?")
	assert.Contains(t, f.llm.lastPrompt(), "full chunk")
}

func TestSendMessageProviderFailurePersistsApology(t *testing.T) {
	f := newChatFixture(t)
	session := f.createSession(t, 1)
	f.llm.err = errors.New("provider down")

	result, err := f.service.SendMessage(context.Background(), SendMessageInput{SessionID: session.ID, Content: "hello"})
	require.NoError(t, err)

	assert.Equal(t, providerFailureReply, result.Message.Content)

	require.Len(t, f.messages.messages, 2)
	assert.Equal(t, model.RoleAssistant, f.messages.messages[1].Role)
	assert.Equal(t, providerFailureReply, f.messages.messages[1].Content)
}

func TestSendMessageEmptyModelOutputPersistsApology(t *testing.T) {
	f := newChatFixture(t)
	session := f.createSession(t, 1)
	f.llm.reply = "   "

	result, err := f.service.SendMessage(context.Background(), SendMessageInput{SessionID: session.ID, Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, providerFailureReply, result.Message.Content)
}

func TestSendMessageNarrowsToSubset(t *testing.T) {
	f := newChatFixture(t)
	session := f.createSession(t, 1, 2)

	_, err := f.service.SendMessage(context.Background(), SendMessageInput{
		SessionID: session.ID, Content: "hi", DocumentIDs: []uint{2},
	})
	require.NoError(t, err)
	assert.Equal(t, []uint{2}, f.retriever.lastIDs)
}

func TestSendMessageRejectsForeignNarrowing(t *testing.T) {
	f := newChatFixture(t)
	session := f.createSession(t, 1)

	_, err := f.service.SendMessage(context.Background(), SendMessageInput{
		SessionID: session.ID, Content: "hi", DocumentIDs: []uint{2},
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSendMessageEmbedFailureStillAnswers(t *testing.T) {
	f := newChatFixture(t)
	session := f.createSession(t, 1)
	f.embedder.err = errors.New("embedding down")

	result, err := f.service.SendMessage(context.Background(), SendMessageInput{SessionID: session.ID, Content: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "the answer", result.Message.Content)
	assert.Empty(t, result.Sources)
	assert.Nil(t, f.retriever.lastIDs)
}

func TestSendMessageReformulatesFollowUp(t *testing.T) {
	f := newChatFixture(t)
	session := f.createSession(t, 1)
	f.messages.messages = []model.ChatMessage{
		{ID: 1, SessionID: session.ID, Role: model.RoleUser, Content: "what are the pump requirements?"},
		{ID: 2, SessionID: session.ID, Role: model.RoleAssistant, Content: "API 610 compliance on page 12."},
	}
	f.llm.replies = []string{
		"What page contains the API 610 pump compliance requirements?",
		"the answer",
	}

	result, err := f.service.SendMessage(context.Background(), SendMessageInput{
		SessionID: session.ID, Content: "what about that one?",
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", result.Message.Content)

	// First call rewrites the query with the conversation context; second
	// composes the answer.
	require.Len(t, f.llm.prompts, 2)
	assert.Contains(t, f.llm.prompts[0], "Reformulated Query:")
	assert.Contains(t, f.llm.prompts[0], "API 610 compliance on page 12.")
	assert.Contains(t, f.llm.prompts[0], "what about that one?")

	// Retrieval ran over both encodings of the question.
	assert.Len(t, f.retriever.lastVectors, 2)
}

func TestSendMessageSkipsReformulationWithoutHistory(t *testing.T) {
	f := newChatFixture(t)
	session := f.createSession(t, 1)

	_, err := f.service.SendMessage(context.Background(), SendMessageInput{
		SessionID: session.ID, Content: "what are the pump requirements?",
	})
	require.NoError(t, err)

	assert.Len(t, f.llm.prompts, 1)
	assert.Len(t, f.retriever.lastVectors, 1)
}

func TestSendMessageSkipsReformulationForShortQuery(t *testing.T) {
	f := newChatFixture(t)
	session := f.createSession(t, 1)
	f.messages.messages = []model.ChatMessage{
		{ID: 1, SessionID: session.ID, Role: model.RoleUser, Content: "what are the pump requirements?"},
		{ID: 2, SessionID: session.ID, Role: model.RoleAssistant, Content: "API 610 compliance on page 12."},
	}

	_, err := f.service.SendMessage(context.Background(), SendMessageInput{
		SessionID: session.ID, Content: "page 12?",
	})
	require.NoError(t, err)

	assert.Len(t, f.llm.prompts, 1)
	assert.Len(t, f.retriever.lastVectors, 1)
}

func TestSendMessageUnusableReformulationFallsBack(t *testing.T) {
	f := newChatFixture(t)
	session := f.createSession(t, 1)
	f.messages.messages = []model.ChatMessage{
		{ID: 1, SessionID: session.ID, Role: model.RoleUser, Content: "what are the pump requirements?"},
		{ID: 2, SessionID: session.ID, Role: model.RoleAssistant, Content: "API 610 compliance on page 12."},
	}
	// Degenerate model output is discarded; the turn still answers.
	f.llm.replies = []string{"ok", "the answer"}

	result, err := f.service.SendMessage(context.Background(), SendMessageInput{
		SessionID: session.ID, Content: "what about that one?",
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", result.Message.Content)
	assert.Len(t, f.retriever.lastVectors, 1)
}

func TestDeleteSessionCascades(t *testing.T) {
	f := newChatFixture(t)
	session := f.createSession(t, 1)
	_, err := f.service.SendMessage(context.Background(), SendMessageInput{SessionID: session.ID, Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteSession(context.Background(), session.ID))

	assert.Contains(t, f.messages.cleared, session.ID)
	assert.Contains(t, f.cache.deleted, session.ID)
	assert.Contains(t, f.sessions.deleted, session.ID)

	err = f.service.DeleteSession(context.Background(), session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHistoryFallsBackToStoreWhenDirty(t *testing.T) {
	f := newChatFixture(t)
	session := f.createSession(t, 1)

	f.messages.messages = []model.ChatMessage{
		{ID: 1, SessionID: session.ID, Role: model.RoleUser, Content: "from store"},
	}
	f.cache.history[session.ID] = []model.ChatMessage{
		{ID: 1, SessionID: session.ID, Role: model.RoleUser, Content: "from cache"},
	}

	history, err := f.service.History(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "from cache", history[0].Content)

	f.cache.dirty[session.ID] = true
	history, err = f.service.History(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "from store", history[0].Content)
}
