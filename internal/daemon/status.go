package daemon

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/platinummonkey/oris/internal/models"
)

// WorkerState represents what the worker is doing
type WorkerState string

const (
	// StateIdle indicates the worker is waiting for the next poll
	StateIdle WorkerState = "idle"

	// StateProcessing indicates a poll is running
	StateProcessing WorkerState = "processing"

	// StateError indicates the last poll failed
	StateError WorkerState = "error"
)

// Status represents the current worker status
type Status struct {
	State WorkerState `json:"state"`

	LastPollTime *time.Time     `json:"last_poll_time,omitempty"`
	NextPollTime *time.Time     `json:"next_poll_time,omitempty"`
	PollDuration *time.Duration `json:"poll_duration,omitempty"`

	// ErrorMessage contains the error from the last failed poll or batch
	ErrorMessage string `json:"error_message,omitempty"`

	// CurrentBatch is the batch being processed, if any
	CurrentBatch *BatchProgress `json:"current_batch,omitempty"`

	LastPollResult *PollSummary `json:"last_poll_result,omitempty"`

	UptimeSeconds int64 `json:"uptime_seconds"`
}

// BatchProgress tracks the batch in progress
type BatchProgress struct {
	BatchID            string    `json:"batch_id"`
	Name               string    `json:"name"`
	StartTime          time.Time `json:"start_time"`
	DocumentsTotal     int       `json:"documents_total"`
	DocumentsProcessed int       `json:"documents_processed"`
	DocumentsFailed    int       `json:"documents_failed"`
	Percent            float64   `json:"percent"`
}

// PollSummary summarises a completed poll
type PollSummary struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	// Batches is how many batches the poll picked up
	Batches   int `json:"batches"`
	Completed int `json:"completed"`
	Partial   int `json:"partial"`
	Failed    int `json:"failed"`

	// Interrupted batches are still processing (cancelled or shut down)
	Interrupted int `json:"interrupted"`

	// Errors counts batches that could not be processed at all
	Errors int `json:"errors"`
}

// StatusTracker tracks the worker's current status in a thread-safe manner
type StatusTracker struct {
	mu         sync.RWMutex
	state      WorkerState
	startTime  time.Time
	lastPoll   *time.Time
	nextPoll   *time.Time
	lastDur    *time.Duration
	errMsg     string
	current    *BatchProgress
	lastResult *PollSummary
}

// NewStatusTracker creates a new status tracker
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{
		state:     StateIdle,
		startTime: time.Now(),
	}
}

// GetStatus returns a snapshot of the current status
func (st *StatusTracker) GetStatus() Status {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var current *BatchProgress
	if st.current != nil {
		cp := *st.current
		current = &cp
	}

	return Status{
		State:          st.state,
		LastPollTime:   st.lastPoll,
		NextPollTime:   st.nextPoll,
		PollDuration:   st.lastDur,
		ErrorMessage:   st.errMsg,
		CurrentBatch:   current,
		LastPollResult: st.lastResult,
		UptimeSeconds:  int64(time.Since(st.startTime).Seconds()),
	}
}

// PollStarted records the start of a poll
func (st *StatusTracker) PollStarted() {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	st.state = StateProcessing
	st.lastPoll = &now
	st.errMsg = ""
}

// BatchStarted records the batch the worker picked up
func (st *StatusTracker) BatchStarted(b *models.Batch) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.current = &BatchProgress{
		BatchID:   b.ID,
		Name:      b.Name,
		StartTime: time.Now(),
	}
	st.update(b)
}

// BatchProgress records the counts of a batch after a rollup. It has the
// signature of the processor's progress callback. Updates for a batch other
// than the current one are ignored.
func (st *StatusTracker) BatchProgress(b *models.Batch) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.current == nil || st.current.BatchID != b.ID {
		return
	}
	st.update(b)
}

func (st *StatusTracker) update(b *models.Batch) {
	st.current.DocumentsTotal = b.TotalDocuments
	st.current.DocumentsProcessed = b.ProcessedDocuments
	st.current.DocumentsFailed = b.FailedDocuments
	st.current.Percent = 100
	if b.TotalDocuments > 0 {
		st.current.Percent = float64(b.ProcessedDocuments) * 100 / float64(b.TotalDocuments)
	}
}

// BatchFinished clears the current batch
func (st *StatusTracker) BatchFinished(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.current = nil
	if err != nil {
		st.errMsg = err.Error()
	}
}

// PollCompleted records a finished poll
func (st *StatusTracker) PollCompleted(summary PollSummary) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.state = StateIdle
	if summary.Errors > 0 {
		st.state = StateError
	}
	st.current = nil
	st.lastResult = &summary

	dur := summary.Duration
	st.lastDur = &dur
}

// PollFailed records a poll that could not list its work
func (st *StatusTracker) PollFailed(err error, duration time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.state = StateError
	st.current = nil
	st.lastDur = &duration

	if err != nil {
		st.errMsg = err.Error()
	}
}

// SetNextPollTime updates when the next poll is scheduled
func (st *StatusTracker) SetNextPollTime(t time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.nextPoll = &t
}

// handleStatus serves the current status as JSON
func (d *Daemon) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := d.statusTracker.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		d.logger.WithError(err).Error("Failed to encode status")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
}
