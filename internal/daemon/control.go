package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
)

// ControlResponse is the standard response for control API calls
type ControlResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// batchControl holds the manual poll trigger and the cancel functions of
// running batches
type batchControl struct {
	mu      sync.Mutex
	trigger chan struct{}
	running map[string]context.CancelFunc
	stopped map[string]bool
}

func newBatchControl() *batchControl {
	return &batchControl{
		trigger: make(chan struct{}, 1),
		running: make(map[string]context.CancelFunc),
		stopped: make(map[string]bool),
	}
}

// triggerPoll queues a poll; false when one is already queued
func (c *batchControl) triggerPoll() bool {
	select {
	case c.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *batchControl) register(id string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running[id] = cancel
}

func (c *batchControl) unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, id)
}

// cancel stops dispatch for a running batch and keeps later polls from
// picking it up again
func (c *batchControl) cancel(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop, ok := c.running[id]
	if !ok {
		return false
	}
	c.stopped[id] = true
	stop()
	return true
}

func (c *batchControl) cancelled(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped[id]
}

// handleTriggerPoll handles POST /api/poll
func (d *Daemon) handleTriggerPoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !d.control.triggerPoll() {
		respondJSON(w, http.StatusConflict, ControlResponse{
			Success: false,
			Message: "A poll is already queued",
		})
		return
	}

	respondJSON(w, http.StatusAccepted, ControlResponse{
		Success: true,
		Message: "Poll queued",
	})
}

// handleCancelBatch handles POST /api/batches/{id}/cancel. Documents already
// started finish; the rest stay unprocessed.
func (d *Daemon) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.PathValue("id")
	if !d.control.cancel(id) {
		respondJSON(w, http.StatusConflict, ControlResponse{
			Success: false,
			Message: "Batch is not being processed",
			Error:   id,
		})
		return
	}

	d.logger.WithBatchID(id).Info("Batch cancelled")
	respondJSON(w, http.StatusAccepted, ControlResponse{
		Success: true,
		Message: "Batch cancelled; documents in progress will finish",
	})
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
