package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"tenderlens/internal/model"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(session *model.ChatSession) error {
	if err := r.db.Create(session).Error; err != nil {
		return fmt.Errorf("create chat session failed: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetByID(id uint) (*model.ChatSession, error) {
	var session model.ChatSession
	if err := r.db.First(&session, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat session failed: %w", err)
	}
	return &session, nil
}

func (r *SessionRepository) List() ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	if err := r.db.Order("last_activity_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list chat sessions failed: %w", err)
	}
	return sessions, nil
}

func (r *SessionRepository) Delete(id uint) error {
	if err := r.db.Delete(&model.ChatSession{}, id).Error; err != nil {
		return fmt.Errorf("delete chat session failed: %w", err)
	}
	return nil
}

// UpdateSummary stores the extended rolling summary and the count of
// messages it now covers.
func (r *SessionRepository) UpdateSummary(id uint, summary string, through int) error {
	if err := r.db.Model(&model.ChatSession{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"summary":            summary,
			"summarized_through": through,
		}).Error; err != nil {
		return fmt.Errorf("update session summary failed: %w", err)
	}
	return nil
}

func (r *SessionRepository) TouchActivity(id uint, at time.Time) error {
	if err := r.db.Model(&model.ChatSession{}).Where("id = ?", id).
		Update("last_activity_at", at).Error; err != nil {
		return fmt.Errorf("touch session activity failed: %w", err)
	}
	return nil
}
