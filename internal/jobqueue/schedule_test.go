package jobqueue

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
)

func TestRecurringSubmitterAddAndRemoveSchedule(t *testing.T) {
	store := newTestStore(t)
	sub := NewRecurringSubmitter(store, logr.Discard())

	payload := Payload{Type: "graph_run", GraphFile: "nightly.yaml", Tenant: "acme"}
	if _, err := sub.AddSchedule("* * * * * *", payload); err == nil {
		// six-field (seconds) expressions aren't supported by the
		// standard parser this submitter uses; a five-field expression
		// is required instead.
		t.Fatalf("expected error for unsupported six-field cron expression")
	}

	id, err := sub.AddSchedule("@every 1h", payload)
	if err != nil {
		t.Fatalf("add schedule: %v", err)
	}
	sub.RemoveSchedule(id)
}

func TestRecurringSubmitterEnqueueDirectly(t *testing.T) {
	store := newTestStore(t)
	payload := Payload{Type: "graph_run", GraphFile: "nightly.yaml", Tenant: "acme"}

	if _, err := store.Enqueue(Job{Payload: payload}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	m, err := store.Metrics()
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.Queued != 1 {
		t.Fatalf("queued = %d, want 1", m.Queued)
	}
	_ = time.Second
}
