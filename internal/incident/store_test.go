package incident

import (
	"testing"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
	"github.com/agent-sre/control-plane/internal/signal"
)

func TestStoreSaveAndLoadIncident(t *testing.T) {
	store, err := OpenInMemoryStore()
	if err != nil {
		t.Fatalf("OpenInMemoryStore: %v", err)
	}
	defer store.Close()

	fc := clock.NewFake(time.Unix(0, 0))
	det := NewDetector(60*time.Second, fc, WithStore(store))
	det.Ingest(signal.Signal{Kind: signal.SLOBreach, SourceAgent: "a1", DedupKey: "a1:lat:critical"})

	open := det.OpenIncidents()
	if len(open) != 1 {
		t.Fatalf("expected 1 open incident, got %d", len(open))
	}

	loaded, err := store.LoadIncident(open[0].ID)
	if err != nil {
		t.Fatalf("LoadIncident: %v", err)
	}
	if loaded.AgentID != "a1" {
		t.Fatalf("loaded incident agent = %q, want a1", loaded.AgentID)
	}
}

func TestPersistResolvedSavesPostmortem(t *testing.T) {
	store, err := OpenInMemoryStore()
	if err != nil {
		t.Fatalf("OpenInMemoryStore: %v", err)
	}
	defer store.Close()

	fc := clock.NewFake(time.Unix(0, 0))
	det := NewDetector(60*time.Second, fc, WithStore(store))
	det.Ingest(signal.Signal{Kind: signal.ErrorBudgetExhausted, SourceAgent: "a1", Message: "budget gone"})
	inc := det.open[0]
	fc.Advance(5 * time.Minute)
	inc.Acknowledge()
	inc.Investigate()
	inc.Mitigate()
	if err := inc.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := det.PersistResolved(inc); err != nil {
		t.Fatalf("PersistResolved: %v", err)
	}

	pm, err := store.LoadPostmortem(inc.ID)
	if err != nil {
		t.Fatalf("LoadPostmortem: %v", err)
	}
	if pm.TimeToResolveSec != 300 {
		t.Fatalf("time to resolve = %v, want 300", pm.TimeToResolveSec)
	}
}

func TestStoreListIncidents(t *testing.T) {
	store, err := OpenInMemoryStore()
	if err != nil {
		t.Fatalf("OpenInMemoryStore: %v", err)
	}
	defer store.Close()

	fc := clock.NewFake(time.Unix(0, 0))
	det := NewDetector(60*time.Second, fc, WithStore(store))
	det.Ingest(signal.Signal{Kind: signal.SLOBreach, SourceAgent: "a1", DedupKey: "a1:lat:critical"})
	det.Ingest(signal.Signal{Kind: signal.SLOBreach, SourceAgent: "a2", DedupKey: "a2:lat:critical"})

	all, err := store.ListIncidents()
	if err != nil {
		t.Fatalf("ListIncidents: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 persisted incidents, got %d", len(all))
	}
}
