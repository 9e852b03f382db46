package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/oris/internal/fusion"
	"github.com/platinummonkey/oris/internal/logger"
	"github.com/platinummonkey/oris/internal/models"
	"github.com/platinummonkey/oris/internal/pagestore"
	"github.com/platinummonkey/oris/internal/rasterizer"
	"github.com/platinummonkey/oris/internal/store"
)

// DefaultWorkers bounds concurrent documents per batch
const DefaultWorkers = 4

// ProgressFunc is called after every batch rollup
type ProgressFunc func(b *models.Batch)

// Config wires a Processor
type Config struct {
	Store      store.Store
	Pages      pagestore.Store
	Rasterizer *rasterizer.Rasterizer
	Recognizer *Recognizer

	// Engines overrides engine selection for every page when non-empty
	Engines []string

	Workers    int
	OnProgress ProgressFunc
	Logger     *logger.Logger
}

// Processor runs batches through the pipeline
type Processor struct {
	store      store.Store
	pages      pagestore.Store
	rasterizer *rasterizer.Rasterizer
	recognizer *Recognizer
	engines    []string
	workers    int
	onProgress ProgressFunc
	logger     *logger.Logger

	batchMu sync.Mutex
	batches map[string]*sync.Mutex
}

// NewProcessor creates a processor
func NewProcessor(cfg *Config) (*Processor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Pages == nil {
		return nil, fmt.Errorf("page store is required")
	}
	if cfg.Rasterizer == nil {
		return nil, fmt.Errorf("rasterizer is required")
	}
	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("recognizer is required")
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	return &Processor{
		store:      cfg.Store,
		pages:      cfg.Pages,
		rasterizer: cfg.Rasterizer,
		recognizer: cfg.Recognizer,
		engines:    cfg.Engines,
		workers:    workers,
		onProgress: cfg.OnProgress,
		logger:     log,
		batches:    make(map[string]*sync.Mutex),
	}, nil
}

// SubmitBatch rasterizes one document per path and then registers them as a
// pending batch. A document that cannot be rasterized is marked failed with
// no pages; the others wait in uploaded state. The batch is stored last, so a
// worker never sees it before all of its documents exist.
func (p *Processor) SubmitBatch(ctx context.Context, name string, paths []string) (*models.Batch, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("a batch needs at least one document")
	}

	b := models.NewBatch(name, len(paths))
	log := p.logger.WithBatchID(b.ID)

	for _, path := range paths {
		doc := models.NewDocument(b.ID, filepath.Base(path), path, rasterizer.DocumentTypeFromPath(path))
		if err := p.store.CreateDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("failed to create document %s: %w", doc.Filename, err)
		}
		if err := p.ingest(ctx, doc); err != nil {
			return nil, err
		}
	}

	if err := p.store.CreateBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}
	log.WithFields("name", name, "documents", len(paths)).Info("Batch submitted")
	return b, nil
}

// ingest rasterizes doc and creates its pages. Rasterization failures end in
// a failed document, not an error; only store failures are returned.
func (p *Processor) ingest(ctx context.Context, doc *models.Document) error {
	log := p.logger.WithDocumentID(doc.ID).WithFields("filename", doc.Filename)

	raster, err := p.rasterizer.Rasterize(ctx, doc.FilePath, doc.Type, doc.ID)
	if err != nil {
		log.WithError(err).Warn("Document could not be rasterized")
		doc.Error = fmt.Sprintf("rasterization failed: %v", err)
		if terr := doc.Transition(models.DocumentFailed); terr != nil {
			return terr
		}
		return p.store.UpdateDocument(ctx, doc)
	}

	pages := make([]*models.Page, len(raster))
	for i, rp := range raster {
		pages[i] = models.NewPage(doc.ID, rp.Number, rp.Location, rp.Width, rp.Height)
	}
	if err := p.store.CreatePages(ctx, pages); err != nil {
		return fmt.Errorf("failed to create pages of %s: %w", doc.Filename, err)
	}

	doc.TotalPages = len(pages)
	if err := p.store.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to update document %s: %w", doc.Filename, err)
	}
	log.WithFields("pages", len(pages)).Debug("Document ingested")
	return nil
}

// ProcessBatch processes every unfinished document of the batch, up to
// Workers at a time. Cancelling ctx stops starting new documents; documents
// already started run to completion. The batch stays processing when
// cancelled early and can be resumed by calling ProcessBatch again.
func (p *Processor) ProcessBatch(ctx context.Context, batchID string) (*models.Batch, error) {
	log := p.logger.WithBatchID(batchID)

	b, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status.Terminal() {
		log.WithFields("status", b.Status).Info("Batch already finished")
		return b, nil
	}
	if b.Status == models.BatchPending {
		b, err = p.store.UpdateBatch(ctx, batchID, func(b *models.Batch) error {
			return b.Transition(models.BatchProcessing)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to start batch: %w", err)
		}
	}

	docs, err := p.store.ListDocuments(ctx, batchID)
	if err != nil {
		return nil, err
	}
	log.WithFields("documents", len(docs), "workers", p.workers).Info("Processing batch")

	// documents keep running after cancellation
	detached := context.WithoutCancel(ctx)

	var g errgroup.Group
	slots := make(chan struct{}, p.workers)
	for _, doc := range docs {
		if doc.Status.Done() {
			continue
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			log.Warn("Batch cancelled, not dispatching remaining documents")
			break
		}

		id := doc.ID
		g.Go(func() error {
			defer func() { <-slots }()
			if _, err := p.ProcessDocument(detached, id); err != nil {
				log.WithDocumentID(id).WithError(err).Error("Document processing failed")
			}
			if _, err := p.rollupBatch(detached, batchID); err != nil {
				log.WithError(err).Warn("Batch rollup failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	b, err = p.rollupBatch(detached, batchID)
	if err != nil {
		return nil, err
	}

	log.WithFields(
		"status", b.Status,
		"processed", b.ProcessedDocuments,
		"failed", b.FailedDocuments,
		"total", b.TotalDocuments,
	).Info("Batch processing finished")
	return b, nil
}

// rollupBatch recounts the batch from its documents. Rollups of one batch are
// serialized in-process; the store serializes the write itself.
func (p *Processor) rollupBatch(ctx context.Context, batchID string) (*models.Batch, error) {
	mu := p.batchLock(batchID)
	mu.Lock()
	defer mu.Unlock()

	docs, err := p.store.ListDocuments(ctx, batchID)
	if err != nil {
		return nil, err
	}

	b, err := p.store.UpdateBatch(ctx, batchID, func(b *models.Batch) error {
		return RollupBatch(b, docs)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to roll up batch: %w", err)
	}

	if p.onProgress != nil {
		p.onProgress(b)
	}
	return b, nil
}

func (p *Processor) batchLock(id string) *sync.Mutex {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()

	mu, ok := p.batches[id]
	if !ok {
		mu = &sync.Mutex{}
		p.batches[id] = mu
	}
	return mu
}

// ProcessDocument recognizes every page not yet attempted, in page order,
// while holding the document lock, then rolls the page outcomes up into the
// document. A document left processing by an earlier run is resumed.
func (p *Processor) ProcessDocument(ctx context.Context, documentID string) (*models.Document, error) {
	var result *models.Document

	err := p.store.WithDocumentLock(ctx, documentID, func(ctx context.Context) error {
		doc, err := p.store.GetDocument(ctx, documentID)
		if err != nil {
			return err
		}
		result = doc

		if doc.Status.Done() {
			return nil
		}

		log := p.logger.WithDocumentID(doc.ID).WithFields("filename", doc.Filename)

		switch doc.Status {
		case models.DocumentUploaded:
			if err := doc.Transition(models.DocumentProcessing); err != nil {
				return err
			}
			if err := p.store.UpdateDocument(ctx, doc); err != nil {
				return err
			}
		case models.DocumentProcessing:
			log.Info("Resuming document")
		}

		pages, err := p.store.ListPages(ctx, doc.ID)
		if err != nil {
			return err
		}

		for _, page := range pages {
			if page.Status.Attempted() {
				continue
			}
			if err := p.processPage(ctx, doc, page); err != nil {
				return err
			}
		}

		if _, err := RollupDocument(doc, pages); err != nil {
			return err
		}
		if err := p.store.UpdateDocument(ctx, doc); err != nil {
			return err
		}

		log.WithFields(
			"status", doc.Status,
			"processed_pages", doc.ProcessedPages,
			"total_pages", doc.TotalPages,
		).Info("Document processed")
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrLocked) {
			p.logger.WithDocumentID(documentID).Info("Document is being processed by another worker")
		}
		return result, err
	}
	return result, nil
}

// processPage moves one page through recognition. Engine and image failures
// end in a failed page; only store errors are returned. page is updated in place.
func (p *Processor) processPage(ctx context.Context, doc *models.Document, page *models.Page) error {
	log := p.logger.WithDocumentID(doc.ID).WithPage(page.Number)

	for _, next := range []models.PageStatus{models.PageOCRPending, models.PageOCRProcessing} {
		if page.Status == next || page.Status == models.PageOCRProcessing {
			continue
		}
		if err := page.Transition(next); err != nil {
			return err
		}
		if err := p.store.UpdatePage(ctx, page); err != nil {
			return err
		}
	}

	img, err := p.pages.Open(ctx, page.ImagePath)
	if err != nil {
		log.WithError(err).Warn("Page image unavailable")
		return p.failPage(ctx, page, &models.RecognitionResult{Engine: fusion.NoEngine, Error: err.Error()})
	}

	rec := p.recognizer.Recognize(ctx, img, doc.Type, p.engines)
	page.Handwritten = models.Bool(rec.Analysis.Handwritten)

	if !rec.Succeeded() {
		log.WithFields("engines", rec.Selected, "error", rec.Result.Error).Warn("Page recognition failed")
		return p.failPage(ctx, page, &rec.Result)
	}

	result := rec.Result
	page.Result = &result
	page.Error = ""
	if err := page.Transition(models.PageOCRCompleted); err != nil {
		return err
	}
	if err := page.Transition(models.PageValidationPending); err != nil {
		return err
	}

	log.WithFields(
		"engine", result.Engine,
		"confidence", result.Confidence,
		"handwritten", rec.Analysis.Handwritten,
	).Debug("Page recognized")
	return p.store.UpdatePage(ctx, page)
}

func (p *Processor) failPage(ctx context.Context, page *models.Page, res *models.RecognitionResult) error {
	res.Text = ""
	res.Confidence = 0
	if res.Error == "" {
		res.Error = "no usable recognition result"
	}
	page.Result = res
	page.Error = res.Error
	if err := page.Transition(models.PageFailed); err != nil {
		return err
	}
	return p.store.UpdatePage(ctx, page)
}
