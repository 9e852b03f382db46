// Package models defines the batch, document and page entities of the recognition
// pipeline together with their status machines.
package models

import (
	"time"

	"github.com/google/uuid"
)

// DocumentType is the declared type of an ingested file
type DocumentType string

const (
	DocumentTypePDF   DocumentType = "pdf"
	DocumentTypeImage DocumentType = "image"
	DocumentTypeScan  DocumentType = "scan"
	DocumentTypeText  DocumentType = "text"
)

// Batch groups documents submitted together
type Batch struct {
	ID                 string      `json:"id" firestore:"id"`
	Name               string      `json:"name" firestore:"name"`
	Status             BatchStatus `json:"status" firestore:"status"`
	TotalDocuments     int         `json:"total_documents" firestore:"total_documents"`
	ProcessedDocuments int         `json:"processed_documents" firestore:"processed_documents"`
	FailedDocuments    int         `json:"failed_documents" firestore:"failed_documents"`
	CreatedAt          time.Time   `json:"created_at" firestore:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at" firestore:"updated_at"`
	CompletedAt        time.Time   `json:"completed_at,omitempty" firestore:"completed_at"`
}

// Document is one ingested file
type Document struct {
	ID             string         `json:"id" firestore:"id"`
	BatchID        string         `json:"batch_id" firestore:"batch_id"`
	Filename       string         `json:"filename" firestore:"filename"`
	FilePath       string         `json:"file_path" firestore:"file_path"`
	Type           DocumentType   `json:"type" firestore:"type"`
	Status         DocumentStatus `json:"status" firestore:"status"`
	TotalPages     int            `json:"total_pages" firestore:"total_pages"`
	ProcessedPages int            `json:"processed_pages" firestore:"processed_pages"`
	Error          string         `json:"error,omitempty" firestore:"error"`
	CreatedAt      time.Time      `json:"created_at" firestore:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" firestore:"updated_at"`
}

// Page is one rasterized page of a document.
// Handwritten is nil until the classifier has looked at the page.
type Page struct {
	ID          string             `json:"id" firestore:"id"`
	DocumentID  string             `json:"document_id" firestore:"document_id"`
	Number      int                `json:"number" firestore:"number"`
	ImagePath   string             `json:"image_path" firestore:"image_path"`
	Width       int                `json:"width" firestore:"width"`
	Height      int                `json:"height" firestore:"height"`
	Handwritten *bool              `json:"handwritten,omitempty" firestore:"handwritten"`
	Status      PageStatus         `json:"status" firestore:"status"`
	Result      *RecognitionResult `json:"result,omitempty" firestore:"result"`
	Error       string             `json:"error,omitempty" firestore:"error"`
	UpdatedAt   time.Time          `json:"updated_at" firestore:"updated_at"`
}

// BoundingBox locates one recognized word on the page image
type BoundingBox struct {
	Text       string  `json:"text" yaml:"text" firestore:"text"`
	X          int     `json:"x" yaml:"x" firestore:"x"`
	Y          int     `json:"y" yaml:"y" firestore:"y"`
	Width      int     `json:"width" yaml:"width" firestore:"width"`
	Height     int     `json:"height" yaml:"height" firestore:"height"`
	Confidence float64 `json:"confidence" yaml:"confidence" firestore:"confidence"`
}

// RecognitionResult is the output of one engine on one page, or the fused output
// of several engines. A non-empty Error means the engine failed; Text is then empty
// and Confidence zero.
type RecognitionResult struct {
	Engine     string        `json:"engine" yaml:"engine" firestore:"engine"`
	Text       string        `json:"text" yaml:"text" firestore:"text"`
	Confidence float64       `json:"confidence" yaml:"confidence" firestore:"confidence"`
	Duration   time.Duration `json:"duration" yaml:"duration" firestore:"duration"`

	BoundingBoxes []BoundingBox `json:"bounding_boxes,omitempty" yaml:"bounding_boxes,omitempty" firestore:"bounding_boxes"`
	Error         string        `json:"error,omitempty" yaml:"error,omitempty" firestore:"error"`

	// SyntheticConfidence is set when the engine has no confidence signal of its own
	SyntheticConfidence bool `json:"synthetic_confidence,omitempty" yaml:"synthetic_confidence,omitempty" firestore:"synthetic_confidence"`

	// Set on fused results only
	AttemptedEngines  []string         `json:"all_engines,omitempty" yaml:"all_engines,omitempty" firestore:"all_engines"`
	SuccessfulEngines int              `json:"engine_count,omitempty" yaml:"engine_count,omitempty" firestore:"engine_count"`
	Fields            *ExtractedFields `json:"structured_fields,omitempty" yaml:"structured_fields,omitempty" firestore:"structured_fields"`
}

// Failed reports whether the engine signalled an error
func (r *RecognitionResult) Failed() bool {
	return r.Error != ""
}

// ExtractedFields holds the structured values found in recognized text.
// Empty categories are omitted; Stats is always present.
type ExtractedFields struct {
	Dates   []string  `json:"dates,omitempty" yaml:"dates,omitempty" firestore:"dates,omitempty"`
	Phones  []string  `json:"phones,omitempty" yaml:"phones,omitempty" firestore:"phones,omitempty"`
	Emails  []string  `json:"emails,omitempty" yaml:"emails,omitempty" firestore:"emails,omitempty"`
	Amounts []string  `json:"amounts,omitempty" yaml:"amounts,omitempty" firestore:"amounts,omitempty"`
	Stats   TextStats `json:"stats" yaml:"stats" firestore:"stats"`
}

type TextStats struct {
	Characters int `json:"character_count" yaml:"character_count" firestore:"character_count"`
	Words      int `json:"word_count" yaml:"word_count" firestore:"word_count"`
	Lines      int `json:"line_count" yaml:"line_count" firestore:"line_count"`
}

// NewBatch creates a pending batch expecting total documents
func NewBatch(name string, total int) *Batch {
	now := time.Now().UTC()
	return &Batch{
		ID:             uuid.NewString(),
		Name:           name,
		Status:         BatchPending,
		TotalDocuments: total,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewDocument creates an uploaded document belonging to batchID
func NewDocument(batchID, filename, path string, docType DocumentType) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:        uuid.NewString(),
		BatchID:   batchID,
		Filename:  filename,
		FilePath:  path,
		Type:      docType,
		Status:    DocumentUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewPage creates an extracted page
func NewPage(documentID string, number int, imagePath string, width, height int) *Page {
	return &Page{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Number:     number,
		ImagePath:  imagePath,
		Width:      width,
		Height:     height,
		Status:     PageExtracted,
		UpdatedAt:  time.Now().UTC(),
	}
}

// Bool returns a pointer to b, for the tri-state Handwritten flag
func Bool(b bool) *bool {
	return &b
}
