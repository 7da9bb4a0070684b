package repository

import (
	"fmt"

	"gorm.io/gorm"

	"tenderlens/internal/model"
)

type BomItemRepository struct {
	db *gorm.DB
}

func NewBomItemRepository(db *gorm.DB) *BomItemRepository {
	return &BomItemRepository{db: db}
}

// ReplaceForDocument applies the same delete-then-insert policy as
// requirements, so BoM re-runs never accumulate duplicates.
func (r *BomItemRepository) ReplaceForDocument(documentID uint, items []model.BomItem) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).
			Delete(&model.BomItem{}).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return tx.Create(&items).Error
	})
	if err != nil {
		return fmt.Errorf("replace bom items failed: %w", err)
	}
	return nil
}

func (r *BomItemRepository) ListByDocumentID(documentID uint) ([]model.BomItem, error) {
	var list []model.BomItem
	if err := r.db.Where("document_id = ?", documentID).
		Order("hierarchy_level ASC, item_number ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list bom items failed: %w", err)
	}
	return list, nil
}

func (r *BomItemRepository) DeleteByDocumentID(documentID uint) error {
	if err := r.db.Where("document_id = ?", documentID).
		Delete(&model.BomItem{}).Error; err != nil {
		return fmt.Errorf("delete bom items failed: %w", err)
	}
	return nil
}
