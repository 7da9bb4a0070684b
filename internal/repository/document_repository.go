package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"tenderlens/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(doc *model.Document) error {
	if err := r.db.Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(id uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) List() ([]model.Document, error) {
	var docs []model.Document
	if err := r.db.Order("created_at DESC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return docs, nil
}

func (r *DocumentRepository) Delete(id uint) error {
	if err := r.db.Delete(&model.Document{}, id).Error; err != nil {
		return fmt.Errorf("delete document failed: %w", err)
	}
	return nil
}

// UpdateStatus moves the document through its lifecycle. Updating a deleted
// document affects zero rows and is not an error; a job finishing after its
// document is gone must be a no-op.
func (r *DocumentRepository) UpdateStatus(id uint, status string) error {
	if err := r.db.Model(&model.Document{}).Where("id = ?", id).
		Update("status", status).Error; err != nil {
		return fmt.Errorf("update document status failed: %w", err)
	}
	return nil
}

// UpdateExtractionStats records the result of a successful extraction run.
func (r *DocumentRepository) UpdateExtractionStats(id uint, jobType string, count int, at time.Time) error {
	updates := map[string]interface{}{
		"status":             model.DocumentStatusReady,
		"last_extraction_at": at,
	}
	switch jobType {
	case model.JobTypeRequirements:
		updates["requirement_count"] = count
	case model.JobTypeBom:
		updates["bom_item_count"] = count
	}
	if err := r.db.Model(&model.Document{}).Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("update document extraction stats failed: %w", err)
	}
	return nil
}
