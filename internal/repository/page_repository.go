package repository

import (
	"fmt"

	"gorm.io/gorm"

	"tenderlens/internal/model"
)

type PageRepository struct {
	db *gorm.DB
}

func NewPageRepository(db *gorm.DB) *PageRepository {
	return &PageRepository{db: db}
}

func (r *PageRepository) CreateBatch(pages []model.DocumentPage) error {
	if len(pages) == 0 {
		return nil
	}
	if err := r.db.Create(&pages).Error; err != nil {
		return fmt.Errorf("create document pages failed: %w", err)
	}
	return nil
}

func (r *PageRepository) ListByDocumentID(documentID uint) ([]model.DocumentPage, error) {
	var pages []model.DocumentPage
	if err := r.db.Where("document_id = ?", documentID).
		Order("page_number ASC").Find(&pages).Error; err != nil {
		return nil, fmt.Errorf("list document pages failed: %w", err)
	}
	return pages, nil
}

func (r *PageRepository) DeleteByDocumentID(documentID uint) error {
	if err := r.db.Where("document_id = ?", documentID).
		Delete(&model.DocumentPage{}).Error; err != nil {
		return fmt.Errorf("delete document pages failed: %w", err)
	}
	return nil
}
