package daemon

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/platinummonkey/oris/internal/models"
)

func TestStatusTracker(t *testing.T) {
	st := NewStatusTracker()

	status := st.GetStatus()
	if status.State != StateIdle {
		t.Errorf("Expected initial state to be idle, got %s", status.State)
	}

	st.PollStarted()
	b := models.NewBatch("factures", 4)
	st.BatchStarted(b)

	status = st.GetStatus()
	if status.State != StateProcessing {
		t.Errorf("Expected state to be processing, got %s", status.State)
	}
	if status.CurrentBatch == nil || status.CurrentBatch.DocumentsTotal != 4 {
		t.Fatalf("CurrentBatch = %+v", status.CurrentBatch)
	}

	b.ProcessedDocuments = 3
	b.FailedDocuments = 1
	st.BatchProgress(b)
	status = st.GetStatus()
	if status.CurrentBatch.DocumentsProcessed != 3 || status.CurrentBatch.DocumentsFailed != 1 {
		t.Errorf("progress = %+v", status.CurrentBatch)
	}
	if status.CurrentBatch.Percent != 75 {
		t.Errorf("Percent = %f, want 75", status.CurrentBatch.Percent)
	}

	// progress of another batch does not overwrite the current one
	other := models.NewBatch("other", 10)
	other.ProcessedDocuments = 10
	st.BatchProgress(other)
	if got := st.GetStatus().CurrentBatch.DocumentsProcessed; got != 3 {
		t.Errorf("foreign progress applied: %d", got)
	}

	st.BatchFinished(nil)
	st.PollCompleted(PollSummary{Duration: time.Second, Batches: 1, Partial: 1})

	status = st.GetStatus()
	if status.State != StateIdle || status.CurrentBatch != nil {
		t.Errorf("after poll: %+v", status)
	}
	if status.LastPollResult == nil || status.LastPollResult.Partial != 1 {
		t.Errorf("LastPollResult = %+v", status.LastPollResult)
	}
	if status.PollDuration == nil || *status.PollDuration != time.Second {
		t.Errorf("PollDuration = %v", status.PollDuration)
	}
}

func TestStatusTracker_SnapshotIsCopy(t *testing.T) {
	st := NewStatusTracker()
	st.BatchStarted(models.NewBatch("x", 2))

	snap := st.GetStatus()
	snap.CurrentBatch.DocumentsProcessed = 99

	if st.GetStatus().CurrentBatch.DocumentsProcessed != 0 {
		t.Error("snapshot shares state with the tracker")
	}
}

func TestStatusTracker_Errors(t *testing.T) {
	st := NewStatusTracker()

	st.PollStarted()
	st.PollFailed(errors.New("connection timeout"), 30*time.Second)

	status := st.GetStatus()
	if status.State != StateError {
		t.Errorf("Expected state to be error, got %s", status.State)
	}
	if status.ErrorMessage != "connection timeout" {
		t.Errorf("ErrorMessage = %q", status.ErrorMessage)
	}

	st.PollStarted()
	if st.GetStatus().ErrorMessage != "" {
		t.Error("a new poll should clear the previous error")
	}

	st.BatchStarted(models.NewBatch("x", 1))
	st.BatchFinished(errors.New("store down"))
	st.PollCompleted(PollSummary{Batches: 1, Errors: 1})
	status = st.GetStatus()
	if status.State != StateError || status.ErrorMessage != "store down" {
		t.Errorf("status = %+v", status)
	}
}

func TestStatusTracker_EmptyBatchProgress(t *testing.T) {
	st := NewStatusTracker()
	st.BatchStarted(models.NewBatch("empty", 0))

	if p := st.GetStatus().CurrentBatch.Percent; p != 100 {
		t.Errorf("Percent = %f, want 100 for an empty batch", p)
	}
}

func TestStatusJSON(t *testing.T) {
	st := NewStatusTracker()
	st.SetNextPollTime(time.Now().Add(time.Minute))
	st.BatchStarted(models.NewBatch("x", 2))

	data, err := json.Marshal(st.GetStatus())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"state", "uptime_seconds", "next_poll_time", "current_batch"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("status JSON lacks %q", key)
		}
	}
}
