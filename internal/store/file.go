package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/platinummonkey/oris/internal/models"
)

// StateFileVersion is the current state file format
const StateFileVersion = 1

// documentLockPoll is how often a waiter retries a document lock held by
// another process
const documentLockPoll = 50 * time.Millisecond

var errLockBusy = errors.New("lock is held")

// State is the on-disk layout of the file store
type State struct {
	Version   int                         `json:"version"`
	Batches   map[string]*models.Batch    `json:"batches"`
	Documents map[string]*models.Document `json:"documents"`
	Pages     map[string]*models.Page     `json:"pages"`
}

// NewState creates an empty state
func NewState() *State {
	return &State{
		Version:   StateFileVersion,
		Batches:   make(map[string]*models.Batch),
		Documents: make(map[string]*models.Document),
		Pages:     make(map[string]*models.Page),
	}
}

// FileStore keeps all entities in a JSON file. Every operation reloads the
// file under an flock on <path>.lock, so several processes on one host can
// share it: a worker sees batches submitted by the CLI and no writer
// overwrites another's changes. Document locks are flocks on files under
// <path>.locks/.
type FileStore struct {
	path string
	mu   sync.RWMutex

	lockMu sync.Mutex
	locks  map[string]chan struct{}
}

// OpenFile checks the state file at path. A missing file starts an empty store
// and is created on first write.
func OpenFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	s := &FileStore{path: path, locks: make(map[string]chan struct{})}
	if err := s.view(func(*State) error { return nil }); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the state file location
func (s *FileStore) Path() string { return s.path }

// view runs fn on the current file contents under a shared lock
func (s *FileStore) view(fn func(*State) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unlock, err := lockFile(s.path+".lock", false, true)
	if err != nil {
		return err
	}
	defer unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	return fn(state)
}

// update runs fn on the current file contents under an exclusive lock and
// writes the result back. Nothing is written when fn fails.
func (s *FileStore) update(fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(s.path+".lock", true, true)
	if err != nil {
		return err
	}
	defer unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	return s.save(state)
}

func (s *FileStore) load() (*State, error) {
	state := NewState()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if state.Version != StateFileVersion {
		return nil, fmt.Errorf("unsupported state file version %d (expected %d)", state.Version, StateFileVersion)
	}
	if state.Batches == nil {
		state.Batches = make(map[string]*models.Batch)
	}
	if state.Documents == nil {
		state.Documents = make(map[string]*models.Document)
	}
	if state.Pages == nil {
		state.Pages = make(map[string]*models.Page)
	}
	return state, nil
}

// save writes the state atomically. Callers hold the exclusive lock.
func (s *FileStore) save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename temp state file: %w", err)
	}
	return nil
}

func (s *FileStore) CreateBatch(ctx context.Context, b *models.Batch) error {
	return s.update(func(state *State) error {
		if _, ok := state.Batches[b.ID]; ok {
			return fmt.Errorf("batch %s: %w", b.ID, ErrExists)
		}
		state.Batches[b.ID] = cloneBatch(b)
		return nil
	})
}

func (s *FileStore) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	var out *models.Batch
	err := s.view(func(state *State) error {
		b, ok := state.Batches[id]
		if !ok {
			return fmt.Errorf("batch %s: %w", id, ErrNotFound)
		}
		out = b
		return nil
	})
	return out, err
}

func (s *FileStore) ListBatches(ctx context.Context, status models.BatchStatus) ([]*models.Batch, error) {
	var out []*models.Batch
	err := s.view(func(state *State) error {
		for _, b := range state.Batches {
			if status == "" || b.Status == status {
				out = append(out, b)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortBatches(out)
	return out, nil
}

func (s *FileStore) UpdateBatch(ctx context.Context, id string, fn func(*models.Batch) error) (*models.Batch, error) {
	var out *models.Batch
	err := s.update(func(state *State) error {
		current, ok := state.Batches[id]
		if !ok {
			return fmt.Errorf("batch %s: %w", id, ErrNotFound)
		}
		if err := fn(current); err != nil {
			return err
		}
		out = cloneBatch(current)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FileStore) CreateDocument(ctx context.Context, d *models.Document) error {
	return s.update(func(state *State) error {
		if _, ok := state.Documents[d.ID]; ok {
			return fmt.Errorf("document %s: %w", d.ID, ErrExists)
		}
		state.Documents[d.ID] = cloneDocument(d)
		return nil
	})
}

func (s *FileStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var out *models.Document
	err := s.view(func(state *State) error {
		d, ok := state.Documents[id]
		if !ok {
			return fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		out = d
		return nil
	})
	return out, err
}

func (s *FileStore) ListDocuments(ctx context.Context, batchID string) ([]*models.Document, error) {
	var out []*models.Document
	err := s.view(func(state *State) error {
		for _, d := range state.Documents {
			if d.BatchID == batchID {
				out = append(out, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortDocuments(out)
	return out, nil
}

func (s *FileStore) UpdateDocument(ctx context.Context, d *models.Document) error {
	return s.update(func(state *State) error {
		if _, ok := state.Documents[d.ID]; !ok {
			return fmt.Errorf("document %s: %w", d.ID, ErrNotFound)
		}
		state.Documents[d.ID] = cloneDocument(d)
		return nil
	})
}

func (s *FileStore) CreatePages(ctx context.Context, pages []*models.Page) error {
	return s.update(func(state *State) error {
		for _, p := range pages {
			if _, ok := state.Pages[p.ID]; ok {
				return fmt.Errorf("page %s: %w", p.ID, ErrExists)
			}
		}
		for _, p := range pages {
			state.Pages[p.ID] = clonePage(p)
		}
		return nil
	})
}

func (s *FileStore) ListPages(ctx context.Context, documentID string) ([]*models.Page, error) {
	var out []*models.Page
	err := s.view(func(state *State) error {
		for _, p := range state.Pages {
			if p.DocumentID == documentID {
				out = append(out, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortPages(out)
	return out, nil
}

func (s *FileStore) UpdatePage(ctx context.Context, p *models.Page) error {
	return s.update(func(state *State) error {
		if _, ok := state.Pages[p.ID]; !ok {
			return fmt.Errorf("page %s: %w", p.ID, ErrNotFound)
		}
		state.Pages[p.ID] = clonePage(p)
		return nil
	})
}

// WithDocumentLock waits for the document's lock or for ctx to end. Waiters in
// one process queue on a channel; another process holding the lock is polled.
func (s *FileStore) WithDocumentLock(ctx context.Context, documentID string, fn func(ctx context.Context) error) error {
	s.lockMu.Lock()
	lock, ok := s.locks[documentID]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[documentID] = lock
	}
	s.lockMu.Unlock()

	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("waiting for document %s: %w", documentID, ctx.Err())
	}
	defer func() { <-lock }()

	dir := s.path + ".locks"
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	ticker := time.NewTicker(documentLockPoll)
	defer ticker.Stop()
	for {
		unlock, err := lockFile(filepath.Join(dir, documentID+".lock"), true, false)
		if err == nil {
			defer unlock()
			return fn(ctx)
		}
		if !errors.Is(err, errLockBusy) {
			return err
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("waiting for document %s: %w", documentID, ctx.Err())
		}
	}
}

// Count returns the number of stored batches, documents and pages
func (s *FileStore) Count() (batches, documents, pages int, err error) {
	err = s.view(func(state *State) error {
		batches, documents, pages = len(state.Batches), len(state.Documents), len(state.Pages)
		return nil
	})
	return batches, documents, pages, err
}

func (s *FileStore) Close() error { return nil }
