package repository

import (
	"fmt"

	"gorm.io/gorm"

	"tenderlens/internal/model"
)

type RequirementRepository struct {
	db *gorm.DB
}

func NewRequirementRepository(db *gorm.DB) *RequirementRepository {
	return &RequirementRepository{db: db}
}

// ReplaceForDocument deletes all prior requirement rows for the document and
// inserts the new set in one transaction. Re-running extraction leaves
// exactly the new result set behind.
func (r *RequirementRepository) ReplaceForDocument(documentID uint, requirements []model.Requirement) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).
			Delete(&model.Requirement{}).Error; err != nil {
			return err
		}
		if len(requirements) == 0 {
			return nil
		}
		return tx.Create(&requirements).Error
	})
	if err != nil {
		return fmt.Errorf("replace requirements failed: %w", err)
	}
	return nil
}

func (r *RequirementRepository) ListByDocumentID(documentID uint) ([]model.Requirement, error) {
	var list []model.Requirement
	if err := r.db.Where("document_id = ?", documentID).
		Order("page_number ASC, id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list requirements failed: %w", err)
	}
	return list, nil
}

func (r *RequirementRepository) DeleteByDocumentID(documentID uint) error {
	if err := r.db.Where("document_id = ?", documentID).
		Delete(&model.Requirement{}).Error; err != nil {
		return fmt.Errorf("delete requirements failed: %w", err)
	}
	return nil
}
