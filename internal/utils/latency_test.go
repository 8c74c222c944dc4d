package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(10)
	durations := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond}
	for _, d := range durations {
		tracker.Observe(d)
	}

	if tracker.Count() != len(durations) {
		t.Fatalf("expected count %d, got %d", len(durations), tracker.Count())
	}

	p95 := tracker.Percentile(95)
	if p95 < 40*time.Millisecond {
		t.Fatalf("expected percentile >= 40ms, got %v", p95)
	}
}

func TestLatencyTrackerBoundedSize(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 0; i < 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 {
		t.Fatalf("expected tracker size 3, got %d", tracker.Count())
	}
}

func TestLatencyTrackerSummaryEmpty(t *testing.T) {
	tracker := NewLatencyTracker(10)
	summary := tracker.Summary()
	if summary.P50 != 0 || summary.P95 != 0 || summary.P99 != 0 {
		t.Fatalf("expected zero summary for empty tracker, got %+v", summary)
	}
}

func TestLatencyTrackerSummaryOrdered(t *testing.T) {
	tracker := NewLatencyTracker(100)
	for i := 1; i <= 100; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	summary := tracker.Summary()
	if summary.P50 > summary.P95 || summary.P95 > summary.P99 {
		t.Fatalf("expected p50 <= p95 <= p99, got %+v", summary)
	}
	if summary.P99 != tracker.Percentile(99) {
		t.Fatalf("expected Summary().P99 to match Percentile(99): %v vs %v", summary.P99, tracker.Percentile(99))
	}
}
