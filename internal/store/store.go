// Package store persists batches, documents and pages. Two backends exist: a
// JSON state file for single-host use and Firestore for workers sharing state.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/platinummonkey/oris/internal/models"
)

var (
	// ErrNotFound is returned when an entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrLocked is returned when another worker holds a document lock
	ErrLocked = errors.New("document is locked by another worker")

	// ErrExists is returned when creating an entity whose ID is taken
	ErrExists = errors.New("already exists")
)

// Store is the persistence contract of the pipeline. Returned entities are
// copies; changes are written back with the Update methods.
type Store interface {
	CreateBatch(ctx context.Context, b *models.Batch) error
	GetBatch(ctx context.Context, id string) (*models.Batch, error)

	// ListBatches returns batches in creation order. An empty status lists all.
	ListBatches(ctx context.Context, status models.BatchStatus) ([]*models.Batch, error)

	// UpdateBatch applies fn to the stored batch as one serialized
	// read-modify-write and returns the result. fn errors abort the write.
	UpdateBatch(ctx context.Context, id string, fn func(*models.Batch) error) (*models.Batch, error)

	CreateDocument(ctx context.Context, d *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, batchID string) ([]*models.Document, error)
	UpdateDocument(ctx context.Context, d *models.Document) error

	CreatePages(ctx context.Context, pages []*models.Page) error

	// ListPages returns the pages of a document by ascending number
	ListPages(ctx context.Context, documentID string) ([]*models.Page, error)
	UpdatePage(ctx context.Context, p *models.Page) error

	// WithDocumentLock runs fn while holding the document's lock. Concurrent
	// callers for the same document are serialized or rejected with ErrLocked.
	WithDocumentLock(ctx context.Context, documentID string, fn func(ctx context.Context) error) error

	Close() error
}

func cloneBatch(b *models.Batch) *models.Batch {
	c := *b
	return &c
}

func cloneDocument(d *models.Document) *models.Document {
	c := *d
	return &c
}

func clonePage(p *models.Page) *models.Page {
	c := *p
	if p.Handwritten != nil {
		c.Handwritten = models.Bool(*p.Handwritten)
	}
	if p.Result != nil {
		r := *p.Result
		c.Result = &r
	}
	return &c
}

func sortBatches(batches []*models.Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		if batches[i].CreatedAt.Equal(batches[j].CreatedAt) {
			return batches[i].ID < batches[j].ID
		}
		return batches[i].CreatedAt.Before(batches[j].CreatedAt)
	})
}

func sortDocuments(docs []*models.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].Filename < docs[j].Filename
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
}

func sortPages(pages []*models.Page) {
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
}
