package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"tenderlens/internal/ai"
	"tenderlens/internal/memory"
	"tenderlens/internal/model"
	"tenderlens/internal/retrieval"
)

const providerFailureReply = "I apologize, but I encountered an error processing your request. Please try again."

const chatSystemPrompt = `You are an intelligent tender document analysis assistant.

Your role is to help users understand and analyze tender documents, including:
- Technical specifications and requirements
- Bill of Materials (BoM) and Bill of Quantities (BoQ)
- Compliance criteria and mandatory requirements
- Project timelines and deliverables
- Vendor qualifications and submission guidelines

Guidelines:
1. Provide accurate, concise answers based on the provided document context
2. Always cite specific document references (page numbers, sections) when answering
3. If information is not found in the documents, clearly state that
4. For complex questions, break down your answer into clear sections
5. Highlight mandatory vs. optional requirements when relevant
6. Be professional and precise in your language
7. If a question is ambiguous, ask for clarification

Remember: Your responses should be grounded in the provided document excerpts.`

const reformulationSystemPrompt = `You are a query reformulation assistant for a tender document analysis system.

Your task is to reformulate user queries by incorporating relevant context from the conversation history.

Guidelines:
1. Preserve all specific references: keep page numbers, sections, clauses, and item numbers exactly as stated
2. Resolve pronouns and relative references ("it", "that", "the second one") using the conversation history
3. Add context for vague follow-ups that depend on previous discussion
4. Keep standalone queries as-is: if the query is already complete and self-contained, return it unchanged
5. Never remove or simplify specific details, numbers, or technical terms from the original query
6. Keep the reformulated query concise (1-3 sentences max)

Output ONLY the reformulated query, no explanations or metadata.`

// SessionStore is the persisted session slice the composer needs.
type SessionStore interface {
	Create(session *model.ChatSession) error
	GetByID(id uint) (*model.ChatSession, error)
	List() ([]model.ChatSession, error)
	Delete(id uint) error
	TouchActivity(id uint, at time.Time) error
}

// MessageStore is the persisted message slice the composer needs.
type MessageStore interface {
	Create(message *model.ChatMessage) error
	ListBySessionID(sessionID uint) ([]model.ChatMessage, error)
	DeleteBySessionID(sessionID uint) error
}

// DocumentGetter validates session document sets.
type DocumentGetter interface {
	GetByID(id uint) (*model.Document, error)
}

// HistoryCache fronts the message store for history reads.
type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID uint) ([]model.ChatMessage, bool, error)
	SetHistory(ctx context.Context, sessionID uint, messages []model.ChatMessage) error
	DeleteHistory(ctx context.Context, sessionID uint) error
	MarkDirty(ctx context.Context, sessionID uint) error
	IsDirty(ctx context.Context, sessionID uint) (bool, error)
}

// Retriever finds supporting chunks. Implemented by *retrieval.Engine. It
// takes one or more encodings of the question so a turn can search with both
// the raw query and its reformulation.
type Retriever interface {
	RetrieveWithVectors(ctx context.Context, vectors [][]float32, documentIDs []uint) ([]retrieval.Result, error)
}

// MemoryAssembler builds the turn context. Implemented by *memory.Manager.
type MemoryAssembler interface {
	Assemble(ctx context.Context, session *model.ChatSession, history []model.ChatMessage, queryVector []float32) (*memory.Context, error)
}

// ChatLLM generates the final answer. Implemented by *ai.ChatCaller.
type ChatLLM interface {
	Complete(ctx context.Context, messages []ai.Message) (string, error)
}

// Embedder encodes queries and persisted turns. Implemented by
// *ai.EmbeddingCaller.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type CreateSessionInput struct {
	Title       string
	DocumentIDs []uint
}

type SendMessageInput struct {
	SessionID uint
	Content   string
	// Optional narrowing of retrieval to a subset of the session's
	// document set.
	DocumentIDs []uint
}

type SendMessageResult struct {
	Message *model.ChatMessage `json:"message"`
	Sources []model.Source     `json:"sources"`
	Summary string             `json:"summary,omitempty"`
}

// ChatService is the answer composer: it owns the turn pipeline from user
// message to persisted, cited assistant reply. Turns within one session are
// serialized by a per-session mutex; different sessions proceed in parallel.
type ChatService struct {
	sessions  SessionStore
	messages  MessageStore
	documents DocumentGetter
	cache     HistoryCache
	retriever Retriever
	memory    MemoryAssembler
	llm       ChatLLM
	embedder  Embedder

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func NewChatService(
	sessions SessionStore,
	messages MessageStore,
	documents DocumentGetter,
	cache HistoryCache,
	retriever Retriever,
	memoryAssembler MemoryAssembler,
	llm ChatLLM,
	embedder Embedder,
) *ChatService {
	return &ChatService{
		sessions:  sessions,
		messages:  messages,
		documents: documents,
		cache:     cache,
		retriever: retriever,
		memory:    memoryAssembler,
		llm:       llm,
		embedder:  embedder,
		locks:     make(map[uint]*sync.Mutex),
	}
}

// CreateSession opens a conversation over a fixed document set. Every
// referenced document must exist; the set is immutable afterwards.
func (s *ChatService) CreateSession(input CreateSessionInput) (*model.ChatSession, error) {
	if len(input.DocumentIDs) == 0 {
		return nil, fmt.Errorf("%w: document_ids is empty", ErrInvalidInput)
	}
	for _, id := range input.DocumentIDs {
		doc, err := s.documents.GetByID(id)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, fmt.Errorf("%w: document %d", ErrDocumentNotFound, id)
		}
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "New Chat"
	}

	session := &model.ChatSession{
		Title:          title,
		LastActivityAt: time.Now(),
	}
	session.SetDocumentIDs(input.DocumentIDs)
	if err := s.sessions.Create(session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *ChatService) GetSession(id uint) (*model.ChatSession, error) {
	session, err := s.sessions.GetByID(id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *ChatService) ListSessions() ([]model.ChatSession, error) {
	return s.sessions.List()
}

// DeleteSession removes the session, its messages, and its cache entry.
func (s *ChatService) DeleteSession(ctx context.Context, id uint) error {
	session, err := s.sessions.GetByID(id)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}

	if err := s.messages.DeleteBySessionID(id); err != nil {
		return err
	}
	if err := s.cache.DeleteHistory(ctx, id); err != nil {
		log.Printf("delete cached history for session %d: %v", id, err)
	}
	return s.sessions.Delete(id)
}

// History returns the full message history, served from the cache when it is
// populated and clean.
func (s *ChatService) History(ctx context.Context, sessionID uint) ([]model.ChatMessage, error) {
	if _, err := s.GetSession(sessionID); err != nil {
		return nil, err
	}
	return s.loadHistory(ctx, sessionID)
}

// SendMessage runs one conversational turn: persist the user message,
// retrieve supporting chunks, assemble memory, generate the answer, and
// persist it with citations. The turn always terminates in a persisted
// assistant message; provider failures produce an apologetic one.
func (s *ChatService) SendMessage(ctx context.Context, input SendMessageInput) (*SendMessageResult, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, ErrMessageEmpty
	}

	session, err := s.GetSession(input.SessionID)
	if err != nil {
		return nil, err
	}

	docIDs, err := resolveDocumentIDs(session, input.DocumentIDs)
	if err != nil {
		return nil, err
	}

	lock := s.sessionLock(session.ID)
	lock.Lock()
	defer lock.Unlock()

	history, err := s.loadHistory(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.MarkDirty(ctx, session.ID); err != nil {
		log.Printf("mark session %d history dirty: %v", session.ID, err)
	}

	// Embedding is best effort: without it the turn loses retrieval and the
	// semantic memory tier, not the conversation.
	queryVector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		log.Printf("embed query for session %d failed: %v", session.ID, err)
		queryVector = nil
	}

	userMsg := &model.ChatMessage{
		SessionID: session.ID,
		Role:      model.RoleUser,
		Content:   content,
	}
	userMsg.SetEmbedding(queryVector)
	if err := s.messages.Create(userMsg); err != nil {
		return nil, err
	}

	memCtx, err := s.memory.Assemble(ctx, session, history, queryVector)
	if err != nil {
		return nil, err
	}

	var results []retrieval.Result
	if len(queryVector) > 0 {
		vectors := [][]float32{queryVector}
		// Follow-ups like "what about the second one?" retrieve poorly as
		// written; search with a context-resolved reformulation as well.
		if reformulated := s.reformulateQuery(ctx, content, memCtx); reformulated != "" {
			if vec, embErr := s.embedder.Embed(ctx, reformulated); embErr == nil && len(vec) > 0 {
				vectors = append(vectors, vec)
			} else if embErr != nil {
				log.Printf("embed reformulated query for session %d failed: %v", session.ID, embErr)
			}
		}
		results, err = s.retriever.RetrieveWithVectors(ctx, vectors, docIDs)
		if err != nil {
			log.Printf("retrieve for session %d failed: %v", session.ID, err)
			results = nil
		}
	}

	answer, err := s.llm.Complete(ctx, []ai.Message{
		{Role: "system", Content: chatSystemPrompt},
		{Role: "user", Content: buildUserPrompt(content, memCtx, results)},
	})
	answer = strings.TrimSpace(answer)
	if err != nil || answer == "" {
		if err != nil {
			log.Printf("llm completion for session %d failed: %v", session.ID, err)
		}
		answer = providerFailureReply
	}

	sources := make([]model.Source, len(results))
	for i, res := range results {
		sources[i] = model.Source{
			DocumentID:       res.DocumentID,
			PageNumber:       res.PageNumber,
			RelevancePercent: res.Relevance,
			TextSnippet:      res.Snippet,
		}
	}

	assistantMsg := &model.ChatMessage{
		SessionID: session.ID,
		Role:      model.RoleAssistant,
		Content:   answer,
	}
	assistantMsg.SetSources(sources)
	if vec, err := s.embedder.Embed(ctx, answer); err == nil {
		assistantMsg.SetEmbedding(vec)
	}
	if err := s.messages.Create(assistantMsg); err != nil {
		return nil, err
	}

	updated := append(append([]model.ChatMessage{}, history...), *userMsg, *assistantMsg)
	if err := s.cache.SetHistory(ctx, session.ID, updated); err != nil {
		log.Printf("refresh cached history for session %d: %v", session.ID, err)
	}
	if err := s.sessions.TouchActivity(session.ID, time.Now()); err != nil {
		log.Printf("touch session %d activity: %v", session.ID, err)
	}

	return &SendMessageResult{
		Message: assistantMsg,
		Sources: sources,
		Summary: memCtx.Summary,
	}, nil
}

func (s *ChatService) loadHistory(ctx context.Context, sessionID uint) ([]model.ChatMessage, error) {
	dirty, err := s.cache.IsDirty(ctx, sessionID)
	if err != nil {
		log.Printf("check dirty marker for session %d: %v", sessionID, err)
		dirty = true
	}
	if !dirty {
		if cached, ok, err := s.cache.GetHistory(ctx, sessionID); err == nil && ok {
			return cached, nil
		} else if err != nil {
			log.Printf("read cached history for session %d: %v", sessionID, err)
		}
	}

	history, err := s.messages.ListBySessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if !dirty {
		if err := s.cache.SetHistory(ctx, sessionID, history); err != nil {
			log.Printf("populate cached history for session %d: %v", sessionID, err)
		}
	}
	return history, nil
}

// reformulateQuery rewrites a context-dependent follow-up into a
// self-contained query using the conversation so far. Best effort: any
// failure, or a query with no context to resolve, returns "" and the turn
// searches with the original question only.
func (s *ChatService) reformulateQuery(ctx context.Context, question string, memCtx *memory.Context) string {
	if len(memCtx.Buffer) < 2 {
		return ""
	}
	// Very short queries are greetings or yes/no replies, not follow-ups.
	if len(strings.Fields(question)) < 3 {
		return ""
	}

	out, err := s.llm.Complete(ctx, []ai.Message{
		{Role: "system", Content: reformulationSystemPrompt},
		{Role: "user", Content: buildReformulationPrompt(question, memCtx)},
	})
	if err != nil {
		log.Printf("reformulate query failed: %v", err)
		return ""
	}
	out = strings.TrimSpace(out)
	if len(out) < 10 || out == question {
		return ""
	}
	return out
}

func buildReformulationPrompt(question string, memCtx *memory.Context) string {
	var b strings.Builder

	if memCtx.Summary != "" {
		fmt.Fprintf(&b, "Conversation Summary:\n%s\n\n", memCtx.Summary)
	}

	recent := memCtx.Buffer
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	b.WriteString("Recent Conversation:\n")
	for _, msg := range recent {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}

	fmt.Fprintf(&b, "\nUser's New Query:\n%s\n\nReformulated Query:", question)
	return b.String()
}

func (s *ChatService) sessionLock(sessionID uint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

// resolveDocumentIDs applies the optional per-message narrowing: the
// narrowed set must be a subset of the session's immutable document set.
func resolveDocumentIDs(session *model.ChatSession, narrowed []uint) ([]uint, error) {
	sessionIDs := session.DocumentIDList()
	if len(narrowed) == 0 {
		return sessionIDs, nil
	}

	allowed := make(map[uint]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		allowed[id] = true
	}
	for _, id := range narrowed {
		if !allowed[id] {
			return nil, fmt.Errorf("%w: document %d is not part of this session", ErrInvalidInput, id)
		}
	}
	return narrowed, nil
}

// buildUserPrompt lays the turn context out in sections: summary, relevant
// past discussion, document excerpts, recent conversation, question.
func buildUserPrompt(question string, memCtx *memory.Context, results []retrieval.Result) string {
	var b strings.Builder

	if memCtx.Summary != "" {
		b.WriteString("=== Conversation Summary ===\n")
		b.WriteString(memCtx.Summary)
		b.WriteString("\n\n")
	}

	if len(memCtx.Semantic) > 0 {
		b.WriteString("=== Relevant Past Discussion ===\n")
		for i, msg := range memCtx.Semantic {
			fmt.Fprintf(&b, "%d. %s: %s\n", i+1, msg.Role, msg.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("=== Document Context ===\n")
	if len(results) == 0 {
		b.WriteString("No relevant document excerpts were found.\n")
	}
	for i, res := range results {
		fmt.Fprintf(&b, "[Excerpt %d] Document %d, Page %d (relevance %d%%):\n%s\n\n",
			i+1, res.DocumentID, res.PageNumber, res.Relevance, res.Content)
	}
	b.WriteString("\n")

	if len(memCtx.Buffer) > 0 {
		b.WriteString("=== Recent Conversation ===\n")
		for _, msg := range memCtx.Buffer {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("=== User Question ===\n")
	b.WriteString(question)
	b.WriteString("\n\nYour Answer:")

	return b.String()
}
