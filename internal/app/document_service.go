package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"tenderlens/internal/model"
	"tenderlens/internal/pkg/pdfextract"
	"tenderlens/internal/pkg/textnorm"
	"tenderlens/internal/repository"
)

// IndexManager is the slice of the vector index the document lifecycle
// needs. Implemented by *index.Manager.
type IndexManager interface {
	Build(ctx context.Context, documentID uint, pages []model.DocumentPage) (int, error)
	Drop(documentID uint) error
}

type DocumentService struct {
	documents    *repository.DocumentRepository
	pages        *repository.PageRepository
	requirements *repository.RequirementRepository
	boms         *repository.BomItemRepository
	jobs         *repository.ExtractionJobRepository
	indexes      IndexManager
	maxBytes     int64
}

func NewDocumentService(
	documents *repository.DocumentRepository,
	pages *repository.PageRepository,
	requirements *repository.RequirementRepository,
	boms *repository.BomItemRepository,
	jobs *repository.ExtractionJobRepository,
	indexes IndexManager,
	maxUploadMB int,
) *DocumentService {
	if maxUploadMB <= 0 {
		maxUploadMB = 100
	}
	return &DocumentService{
		documents:    documents,
		pages:        pages,
		requirements: requirements,
		boms:         boms,
		jobs:         jobs,
		indexes:      indexes,
		maxBytes:     int64(maxUploadMB) << 20,
	}
}

// Upload ingests one tender PDF: extract page text, normalize it, persist
// the document and its pages, and build the vector index. An index build
// failure does not fail the upload; the index is rebuilt lazily on first
// search.
func (s *DocumentService) Upload(ctx context.Context, filename string, size int64, content io.Reader) (*model.Document, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is empty", ErrInvalidInput)
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return nil, fmt.Errorf("%w: only .pdf files are accepted", ErrInvalidInput)
	}
	if size > s.maxBytes {
		return nil, fmt.Errorf("%w: file exceeds %d MB limit", ErrInvalidInput, s.maxBytes>>20)
	}

	rawPages, err := pdfextract.ExtractPages(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	pages := make([]model.DocumentPage, len(rawPages))
	textExtracted := false
	for i, raw := range rawPages {
		text := textnorm.Clean(raw.Text)
		if text != "" {
			textExtracted = true
		}
		pages[i] = model.DocumentPage{
			PageNumber: raw.Number,
			Text:       text,
		}
	}

	doc := &model.Document{
		Filename:      filename,
		FileSize:      size,
		PageCount:     len(pages),
		Status:        model.DocumentStatusReady,
		TextExtracted: textExtracted,
	}
	if err := s.documents.Create(doc); err != nil {
		return nil, err
	}

	for i := range pages {
		pages[i].DocumentID = doc.ID
	}
	if err := s.pages.CreateBatch(pages); err != nil {
		return nil, err
	}

	if textExtracted {
		if _, err := s.indexes.Build(ctx, doc.ID, pages); err != nil {
			log.Printf("build index for document %d failed: %v", doc.ID, err)
		}
	}

	return doc, nil
}

func (s *DocumentService) Get(id uint) (*model.Document, error) {
	doc, err := s.documents.GetByID(id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (s *DocumentService) List() ([]model.Document, error) {
	return s.documents.List()
}

// Delete removes the document and everything derived from it: vector index,
// pages, extraction results, and job history. Chat messages citing the
// document keep their snapshots.
func (s *DocumentService) Delete(id uint) error {
	doc, err := s.documents.GetByID(id)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}

	if err := s.indexes.Drop(id); err != nil {
		return err
	}
	if err := s.pages.DeleteByDocumentID(id); err != nil {
		return err
	}
	if err := s.requirements.DeleteByDocumentID(id); err != nil {
		return err
	}
	if err := s.boms.DeleteByDocumentID(id); err != nil {
		return err
	}
	if err := s.jobs.DeleteByDocumentID(id); err != nil {
		return err
	}
	return s.documents.Delete(id)
}

// Requirements returns the latest extracted requirement set.
func (s *DocumentService) Requirements(documentID uint) ([]model.Requirement, error) {
	if _, err := s.Get(documentID); err != nil {
		return nil, err
	}
	return s.requirements.ListByDocumentID(documentID)
}

// BomItems returns the latest extracted bill-of-materials set.
func (s *DocumentService) BomItems(documentID uint) ([]model.BomItem, error) {
	if _, err := s.Get(documentID); err != nil {
		return nil, err
	}
	return s.boms.ListByDocumentID(documentID)
}
