package model

import "time"

// Requirement is one structured requirement extracted from a tender page.
type Requirement struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	DocumentID        uint      `gorm:"not null;index" json:"document_id"`
	JobID             string    `gorm:"size:36;index" json:"job_id"`
	DocumentSource    string    `gorm:"size:256" json:"document_source"`
	Category          string    `gorm:"size:128" json:"category"`
	RequirementDetail string    `gorm:"type:text;not null" json:"requirement_detail"`
	MandatoryOptional string    `gorm:"size:16" json:"mandatory_optional"`
	PageNumber        int       `json:"page_number"`
	ConfidenceScore   float64   `json:"confidence_score"`
	CreatedAt         time.Time `json:"created_at"`
}
