package model

import (
	"encoding/json"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Source is one citation attached to an assistant message. The snippet is a
// snapshot taken at answer time, so citations survive document deletion.
type Source struct {
	DocumentID       uint   `json:"document_id"`
	PageNumber       int    `json:"page_number"`
	RelevancePercent int    `json:"relevance_percent"`
	TextSnippet      string `json:"text_snippet"`
}

// ChatMessage is one persisted conversation turn. The embedding feeds the
// semantic memory tier; Sources is non-empty only on assistant messages.
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID uint      `gorm:"not null;index" json:"session_id"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Embedding string    `gorm:"type:text" json:"-"`
	Sources   string    `gorm:"type:text" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// SourceList returns the parsed citations; empty on parse error.
func (m *ChatMessage) SourceList() []Source {
	if m.Sources == "" {
		return nil
	}
	var list []Source
	_ = json.Unmarshal([]byte(m.Sources), &list)
	return list
}

// SetSources stores the citations as JSON.
func (m *ChatMessage) SetSources(list []Source) {
	if len(list) == 0 {
		m.Sources = ""
		return
	}
	b, _ := json.Marshal(list)
	m.Sources = string(b)
}

// EmbeddingVector returns the parsed embedding slice; empty on parse error.
func (m *ChatMessage) EmbeddingVector() []float32 {
	if m.Embedding == "" {
		return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(m.Embedding), &v)
	return v
}

// SetEmbedding stores the embedding as JSON.
func (m *ChatMessage) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		return
	}
	b, _ := json.Marshal(vec)
	m.Embedding = string(b)
}
