package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/platinummonkey/oris/internal/logger"
	"github.com/platinummonkey/oris/internal/models"
)

// DefaultLockTTL is how long a document lease lives without renewal
const DefaultLockTTL = 5 * time.Minute

// FirestoreConfig configures the Firestore backend
type FirestoreConfig struct {
	// Collection prefixes the batches, documents, pages and locks collections
	Collection string
	LockTTL    time.Duration
	Logger     *logger.Logger
}

// FirestoreStore keeps entities in Firestore collections. Document locks are
// leases renewed while the holder runs, so several workers can share a project.
type FirestoreStore struct {
	client *firestore.Client
	owner  string
	prefix string
	ttl    time.Duration
	logger *logger.Logger
}

type lease struct {
	Owner      string    `firestore:"owner"`
	DocumentID string    `firestore:"document_id"`
	ExpiresAt  time.Time `firestore:"expires_at"`
}

// NewFirestoreClient creates a Firestore client for projectID
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

// NewFirestore wraps client. The store closes the client on Close.
func NewFirestore(client *firestore.Client, cfg *FirestoreConfig) *FirestoreStore {
	prefix := cfg.Collection
	if prefix == "" {
		prefix = "oris"
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	return &FirestoreStore{client: client, owner: uuid.NewString(), prefix: prefix, ttl: ttl, logger: log}
}

func (s *FirestoreStore) batches() *firestore.CollectionRef   { return s.client.Collection(s.prefix + "_batches") }
func (s *FirestoreStore) documents() *firestore.CollectionRef { return s.client.Collection(s.prefix + "_documents") }
func (s *FirestoreStore) pages() *firestore.CollectionRef     { return s.client.Collection(s.prefix + "_pages") }
func (s *FirestoreStore) locks() *firestore.CollectionRef     { return s.client.Collection(s.prefix + "_locks") }

func notFound(err error) bool { return status.Code(err) == codes.NotFound }

func wrap(kind, id string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	case codes.AlreadyExists:
		return fmt.Errorf("%s %s: %w", kind, id, ErrExists)
	}
	return fmt.Errorf("%s %s: %w", kind, id, err)
}

func (s *FirestoreStore) CreateBatch(ctx context.Context, b *models.Batch) error {
	if _, err := s.batches().Doc(b.ID).Create(ctx, b); err != nil {
		return wrap("batch", b.ID, err)
	}
	return nil
}

func (s *FirestoreStore) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	snap, err := s.batches().Doc(id).Get(ctx)
	if err != nil {
		return nil, wrap("batch", id, err)
	}
	var b models.Batch
	if err := snap.DataTo(&b); err != nil {
		return nil, fmt.Errorf("failed to decode batch %s: %w", id, err)
	}
	return &b, nil
}

func (s *FirestoreStore) ListBatches(ctx context.Context, st models.BatchStatus) ([]*models.Batch, error) {
	q := s.batches().Query
	if st != "" {
		q = q.Where("status", "==", string(st))
	}

	var out []*models.Batch
	iter := q.Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list batches: %w", err)
		}
		var b models.Batch
		if err := snap.DataTo(&b); err != nil {
			return nil, fmt.Errorf("failed to decode batch %s: %w", snap.Ref.ID, err)
		}
		out = append(out, &b)
	}
	sortBatches(out)
	return out, nil
}

func (s *FirestoreStore) UpdateBatch(ctx context.Context, id string, fn func(*models.Batch) error) (*models.Batch, error) {
	ref := s.batches().Doc(id)
	var updated models.Batch

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var b models.Batch
		if err := snap.DataTo(&b); err != nil {
			return fmt.Errorf("failed to decode batch %s: %w", id, err)
		}
		if err := fn(&b); err != nil {
			return err
		}
		updated = b
		return tx.Set(ref, &b)
	})
	if err != nil {
		if notFound(err) {
			return nil, wrap("batch", id, err)
		}
		return nil, err
	}
	return &updated, nil
}

func (s *FirestoreStore) CreateDocument(ctx context.Context, d *models.Document) error {
	if _, err := s.documents().Doc(d.ID).Create(ctx, d); err != nil {
		return wrap("document", d.ID, err)
	}
	return nil
}

func (s *FirestoreStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	snap, err := s.documents().Doc(id).Get(ctx)
	if err != nil {
		return nil, wrap("document", id, err)
	}
	var d models.Document
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return &d, nil
}

func (s *FirestoreStore) ListDocuments(ctx context.Context, batchID string) ([]*models.Document, error) {
	snaps, err := s.documents().Where("batch_id", "==", batchID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list documents of batch %s: %w", batchID, err)
	}

	out := make([]*models.Document, 0, len(snaps))
	for _, snap := range snaps {
		var d models.Document
		if err := snap.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", snap.Ref.ID, err)
		}
		out = append(out, &d)
	}
	sortDocuments(out)
	return out, nil
}

func (s *FirestoreStore) UpdateDocument(ctx context.Context, d *models.Document) error {
	ref := s.documents().Doc(d.ID)
	if _, err := ref.Get(ctx); err != nil {
		return wrap("document", d.ID, err)
	}
	if _, err := ref.Set(ctx, d); err != nil {
		return fmt.Errorf("failed to update document %s: %w", d.ID, err)
	}
	return nil
}

// CreatePages writes all pages in one transaction so a document never has a
// partial page set
func (s *FirestoreStore) CreatePages(ctx context.Context, pages []*models.Page) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, p := range pages {
			if err := tx.Create(s.pages().Doc(p.ID), p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("pages: %w", ErrExists)
		}
		return fmt.Errorf("failed to create pages: %w", err)
	}
	return nil
}

func (s *FirestoreStore) ListPages(ctx context.Context, documentID string) ([]*models.Page, error) {
	snaps, err := s.pages().Where("document_id", "==", documentID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list pages of document %s: %w", documentID, err)
	}

	out := make([]*models.Page, 0, len(snaps))
	for _, snap := range snaps {
		var p models.Page
		if err := snap.DataTo(&p); err != nil {
			return nil, fmt.Errorf("failed to decode page %s: %w", snap.Ref.ID, err)
		}
		out = append(out, &p)
	}
	sortPages(out)
	return out, nil
}

func (s *FirestoreStore) UpdatePage(ctx context.Context, p *models.Page) error {
	ref := s.pages().Doc(p.ID)
	if _, err := ref.Get(ctx); err != nil {
		return wrap("page", p.ID, err)
	}
	if _, err := ref.Set(ctx, p); err != nil {
		return fmt.Errorf("failed to update page %s: %w", p.ID, err)
	}
	return nil
}

// WithDocumentLock takes a lease on the document, renews it every half TTL
// while fn runs and releases it afterwards. A live lease held by another
// worker yields ErrLocked.
func (s *FirestoreStore) WithDocumentLock(ctx context.Context, documentID string, fn func(ctx context.Context) error) error {
	ref := s.locks().Doc(documentID)
	log := s.logger.WithDocumentID(documentID)

	if err := s.acquire(ctx, ref, documentID); err != nil {
		return err
	}

	renewCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	defer stop()
	go func() {
		ticker := time.NewTicker(s.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				if err := s.acquire(renewCtx, ref, documentID); err != nil {
					log.WithError(err).Warn("Failed to renew document lease")
				}
			}
		}
	}()

	defer func() {
		stop()
		if err := s.release(context.WithoutCancel(ctx), ref); err != nil {
			log.WithError(err).Warn("Failed to release document lease")
		}
	}()

	return fn(ctx)
}

func (s *FirestoreStore) acquire(ctx context.Context, ref *firestore.DocumentRef, documentID string) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && !notFound(err) {
			return err
		}
		if err == nil && snap.Exists() {
			var l lease
			if err := snap.DataTo(&l); err != nil {
				return fmt.Errorf("failed to decode lease: %w", err)
			}
			if l.Owner != s.owner && time.Now().Before(l.ExpiresAt) {
				return fmt.Errorf("document %s: %w", documentID, ErrLocked)
			}
		}
		return tx.Set(ref, &lease{Owner: s.owner, DocumentID: documentID, ExpiresAt: time.Now().Add(s.ttl).UTC()})
	})
}

func (s *FirestoreStore) release(ctx context.Context, ref *firestore.DocumentRef) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if notFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		var l lease
		if err := snap.DataTo(&l); err != nil {
			return err
		}
		if l.Owner != s.owner {
			return nil
		}
		return tx.Delete(ref)
	})
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
