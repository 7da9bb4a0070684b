package model

import "time"

// BomItem is one bill-of-materials line extracted from a tender page.
// HierarchyLevel is 0 for top-level items.
type BomItem struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	DocumentID     uint      `gorm:"not null;index" json:"document_id"`
	JobID          string    `gorm:"size:36;index" json:"job_id"`
	ItemNumber     string    `gorm:"size:64" json:"item_number"`
	Description    string    `gorm:"type:text;not null" json:"description"`
	Unit           string    `gorm:"size:32" json:"unit"`
	Quantity       float64   `json:"quantity"`
	Notes          string    `gorm:"type:text" json:"notes"`
	HierarchyLevel int       `json:"hierarchy_level"`
	PageNumber     int       `json:"page_number"`
	CreatedAt      time.Time `json:"created_at"`
}
