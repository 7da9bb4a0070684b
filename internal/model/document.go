package model

import "time"

const (
	DocumentStatusReady      = "ready"
	DocumentStatusProcessing = "processing"
	DocumentStatusFailed     = "failed"
)

// Document is an uploaded tender PDF. Status is mutated only by the
// extraction orchestrator and the indexing step.
type Document struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Filename         string     `gorm:"size:256;not null" json:"filename"`
	FileSize         int64      `json:"file_size"`
	PageCount        int        `json:"page_count"`
	Status           string     `gorm:"size:16;not null;index" json:"status"`
	TextExtracted    bool       `json:"text_extracted"`
	RequirementCount int        `json:"requirement_count"`
	BomItemCount     int        `json:"bom_item_count"`
	LastExtractionAt *time.Time `json:"last_extraction_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// DocumentPage holds the normalized text of one page. Pages are written once
// at upload and are the input for both extraction jobs and index builds.
type DocumentPage struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	DocumentID uint   `gorm:"not null;index" json:"document_id"`
	PageNumber int    `gorm:"not null" json:"page_number"`
	Text       string `gorm:"type:text" json:"text"`
}
