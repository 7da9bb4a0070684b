package model

import (
	"encoding/json"
	"time"
)

// ChatSession groups a conversation over a fixed set of documents.
// DocumentIDs is immutable after creation. Summary is the rolling
// condensation of turns evicted from direct context; SummarizedThrough is
// the count of messages already folded into it.
type ChatSession struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Title             string    `gorm:"size:256;not null" json:"title"`
	DocumentIDs       string    `gorm:"type:text;not null" json:"-"`
	Summary           string    `gorm:"type:text" json:"summary,omitempty"`
	SummarizedThrough int       `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
}

// DocumentIDList returns the parsed document id set; empty on parse error.
func (s *ChatSession) DocumentIDList() []uint {
	if s.DocumentIDs == "" {
		return nil
	}
	var ids []uint
	_ = json.Unmarshal([]byte(s.DocumentIDs), &ids)
	return ids
}

// SetDocumentIDs stores the document id set as JSON.
func (s *ChatSession) SetDocumentIDs(ids []uint) {
	if len(ids) == 0 {
		s.DocumentIDs = "[]"
		return
	}
	b, _ := json.Marshal(ids)
	s.DocumentIDs = string(b)
}
