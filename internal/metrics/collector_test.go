package metrics

import (
	"fmt"
	"testing"
	"time"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with valid config", func(t *testing.T) {
		collector := NewCollector(&Config{Capacity: 100, Namespace: "cloudgate"})
		if collector == nil {
			t.Fatal("NewCollector() returned nil collector")
		}
		if collector.capacity != 100 {
			t.Errorf("capacity = %d, want 100", collector.capacity)
		}
		if collector.Registry() == nil {
			t.Error("collector.registry is nil")
		}
	})

	t.Run("with nil config uses defaults", func(t *testing.T) {
		collector := NewCollector(nil)
		if collector == nil {
			t.Fatal("NewCollector(nil) returned nil collector")
		}
		if collector.capacity != 10000 {
			t.Errorf("default capacity = %d, want 10000", collector.capacity)
		}
	})
}

func TestRecord(t *testing.T) {
	t.Parallel()

	t.Run("stores samples in order", func(t *testing.T) {
		collector := NewCollector(&Config{Capacity: 10})
		for i := 0; i < 3; i++ {
			collector.Record(Metric{
				Operation: "upload",
				Provider:  "dropbox",
				Duration:  time.Duration(i+1) * time.Second,
				Success:   true,
			})
		}
		samples := collector.snapshot(time.Now().Add(-time.Minute))
		if len(samples) != 3 {
			t.Fatalf("snapshot returned %d samples, want 3", len(samples))
		}
		if samples[0].Duration != time.Second {
			t.Errorf("oldest sample duration = %v, want 1s", samples[0].Duration)
		}
	})

	t.Run("evicts oldest when full", func(t *testing.T) {
		collector := NewCollector(&Config{Capacity: 5})
		for i := 0; i < 8; i++ {
			collector.Record(Metric{
				Operation: fmt.Sprintf("op-%d", i),
				Provider:  "mega",
				Success:   true,
			})
		}
		samples := collector.snapshot(time.Now().Add(-time.Minute))
		if len(samples) != 5 {
			t.Fatalf("snapshot returned %d samples, want capacity 5", len(samples))
		}
		if samples[0].Operation != "op-3" {
			t.Errorf("oldest surviving sample = %q, want op-3", samples[0].Operation)
		}
		if samples[4].Operation != "op-7" {
			t.Errorf("newest sample = %q, want op-7", samples[4].Operation)
		}
	})

	t.Run("fills in missing timestamp", func(t *testing.T) {
		collector := NewCollector(&Config{Capacity: 5})
		collector.Record(Metric{Operation: "list", Provider: "gcs", Success: true})
		samples := collector.snapshot(time.Now().Add(-time.Minute))
		if len(samples) != 1 {
			t.Fatalf("snapshot returned %d samples, want 1", len(samples))
		}
		if samples[0].Timestamp.IsZero() {
			t.Error("timestamp was not filled in")
		}
	})
}

func TestSnapshotCutoff(t *testing.T) {
	t.Parallel()

	collector := NewCollector(&Config{Capacity: 10})
	collector.Record(Metric{
		Operation: "upload",
		Provider:  "backblaze",
		Timestamp: time.Now().Add(-48 * time.Hour),
		Success:   true,
	})
	collector.Record(Metric{
		Operation: "upload",
		Provider:  "backblaze",
		Timestamp: time.Now(),
		Success:   true,
	})

	samples := collector.snapshot(time.Now().Add(-24 * time.Hour))
	if len(samples) != 1 {
		t.Fatalf("snapshot returned %d samples, want 1 inside the window", len(samples))
	}
}

func TestConcurrentRecord(t *testing.T) {
	t.Parallel()

	collector := NewCollector(&Config{Capacity: 100})
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 50; i++ {
				collector.Record(Metric{Operation: "upload", Provider: "onedrive", Success: true})
			}
		}()
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	samples := collector.snapshot(time.Now().Add(-time.Minute))
	if len(samples) != 100 {
		t.Errorf("snapshot returned %d samples, want full ring of 100", len(samples))
	}
}
