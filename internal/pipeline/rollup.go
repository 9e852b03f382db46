package pipeline

import (
	"fmt"

	"github.com/platinummonkey/oris/internal/models"
)

// RollupDocument recomputes the processed page count of a processing document
// and finalizes it once every page was attempted: ocr_completed when all pages
// succeeded, failed otherwise. A document without pages fails. It reports
// whether the document is now final.
func RollupDocument(doc *models.Document, pages []*models.Page) (bool, error) {
	if doc.TotalPages < len(pages) {
		doc.TotalPages = len(pages)
	}

	var processed, attempted int
	for _, p := range pages {
		if p.Status.Attempted() {
			attempted++
		}
		if p.Status.Succeeded() {
			processed++
		}
	}
	doc.ProcessedPages = min(processed, doc.TotalPages)

	if doc.Status == models.DocumentProcessing && doc.TotalPages == 0 {
		doc.Error = "no pages"
		return true, doc.Transition(models.DocumentFailed)
	}
	if doc.Status != models.DocumentProcessing || attempted < doc.TotalPages {
		return doc.Status.Done(), nil
	}

	if doc.ProcessedPages == doc.TotalPages {
		doc.Error = ""
		return true, doc.Transition(models.DocumentOCRCompleted)
	}

	if doc.Error == "" {
		doc.Error = fmt.Sprintf("%d of %d pages failed", doc.TotalPages-doc.ProcessedPages, doc.TotalPages)
	}
	return true, doc.Transition(models.DocumentFailed)
}

// RollupBatch recomputes the processed and failed document counts of a batch.
// Counts never decrease and processed never exceeds the total. A processing
// batch whose documents are all done becomes completed without failures,
// failed when every document failed, and partial otherwise.
func RollupBatch(b *models.Batch, docs []*models.Document) error {
	var processed, failed int
	for _, d := range docs {
		if d.Status.Done() {
			processed++
		}
		if d.Status == models.DocumentFailed {
			failed++
		}
	}

	b.ProcessedDocuments = min(max(processed, b.ProcessedDocuments), b.TotalDocuments)
	b.FailedDocuments = min(max(failed, b.FailedDocuments), b.ProcessedDocuments)

	if b.Status != models.BatchProcessing || b.ProcessedDocuments < b.TotalDocuments {
		return nil
	}

	switch {
	case b.FailedDocuments == 0:
		return b.Transition(models.BatchCompleted)
	case b.FailedDocuments == b.TotalDocuments:
		return b.Transition(models.BatchFailed)
	default:
		return b.Transition(models.BatchPartial)
	}
}

// Progress returns the completion percentage of a batch
func Progress(b *models.Batch) float64 {
	if b.TotalDocuments == 0 {
		return 100
	}
	return float64(b.ProcessedDocuments) * 100 / float64(b.TotalDocuments)
}
