package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a status change is not allowed
var ErrInvalidTransition = errors.New("invalid status transition")

type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchPartial    BatchStatus = "partial"
)

type DocumentStatus string

const (
	DocumentUploaded          DocumentStatus = "uploaded"
	DocumentProcessing        DocumentStatus = "processing"
	DocumentOCRCompleted      DocumentStatus = "ocr_completed"
	DocumentValidationPending DocumentStatus = "validation_pending"
	DocumentValidated         DocumentStatus = "validated"
	DocumentFailed            DocumentStatus = "failed"
)

type PageStatus string

const (
	PageExtracted         PageStatus = "extracted"
	PageOCRPending        PageStatus = "ocr_pending"
	PageOCRProcessing     PageStatus = "ocr_processing"
	PageOCRCompleted      PageStatus = "ocr_completed"
	PageValidationPending PageStatus = "validation_pending"
	PageValidated         PageStatus = "validated"
	PageFailed            PageStatus = "failed"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchPending:    {BatchProcessing},
	BatchProcessing: {BatchCompleted, BatchFailed, BatchPartial},
}

var documentTransitions = map[DocumentStatus][]DocumentStatus{
	DocumentUploaded:          {DocumentProcessing, DocumentFailed},
	DocumentProcessing:        {DocumentOCRCompleted, DocumentFailed},
	DocumentOCRCompleted:      {DocumentValidationPending},
	DocumentValidationPending: {DocumentValidated},
}

var pageTransitions = map[PageStatus][]PageStatus{
	PageExtracted:         {PageOCRPending},
	PageOCRPending:        {PageOCRProcessing},
	PageOCRProcessing:     {PageOCRCompleted, PageFailed},
	PageOCRCompleted:      {PageValidationPending},
	PageValidationPending: {PageValidated},
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further automatic transition leaves s
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed || s == BatchPartial
}

// Done reports whether the document has finished recognition, successfully or not.
// Validation states count as done since they follow ocr_completed.
func (s DocumentStatus) Done() bool {
	switch s {
	case DocumentOCRCompleted, DocumentValidationPending, DocumentValidated, DocumentFailed:
		return true
	}
	return false
}

// Succeeded reports whether the document completed recognition of every page
func (s DocumentStatus) Succeeded() bool {
	return s.Done() && s != DocumentFailed
}

// Attempted reports whether the page has left the recognition run
func (s PageStatus) Attempted() bool {
	switch s {
	case PageOCRCompleted, PageValidationPending, PageValidated, PageFailed:
		return true
	}
	return false
}

// Succeeded reports whether the page produced a stored recognition result
func (s PageStatus) Succeeded() bool {
	return s.Attempted() && s != PageFailed
}

// Transition moves the batch to status to
func (b *Batch) Transition(to BatchStatus) error {
	if !allowed(batchTransitions, b.Status, to) {
		return fmt.Errorf("batch %s: %s -> %s: %w", b.ID, b.Status, to, ErrInvalidTransition)
	}
	b.Status = to
	b.UpdatedAt = time.Now().UTC()
	if to.Terminal() {
		b.CompletedAt = b.UpdatedAt
	}
	return nil
}

// Transition moves the document to status to
func (d *Document) Transition(to DocumentStatus) error {
	if !allowed(documentTransitions, d.Status, to) {
		return fmt.Errorf("document %s: %s -> %s: %w", d.ID, d.Status, to, ErrInvalidTransition)
	}
	d.Status = to
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// Transition moves the page to status to
func (p *Page) Transition(to PageStatus) error {
	if !allowed(pageTransitions, p.Status, to) {
		return fmt.Errorf("page %d of %s: %s -> %s: %w", p.Number, p.DocumentID, p.Status, to, ErrInvalidTransition)
	}
	p.Status = to
	p.UpdatedAt = time.Now().UTC()
	return nil
}
