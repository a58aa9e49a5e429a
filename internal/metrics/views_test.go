package metrics

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		operations  int
		successRate float64
		meanMS      float64
		want        string
	}{
		{"no samples defaults healthy", 0, 0, 0, "healthy"},
		{"fast and reliable", 10, 0.9, 2000, "healthy"},
		{"exactly at healthy floor", 10, 0.8, 4999, "healthy"},
		{"reliable but slow", 10, 0.9, 6000, "degraded"},
		{"flaky but fast", 10, 0.6, 2000, "degraded"},
		{"unreliable but under degraded latency", 10, 0.1, 9000, "degraded"},
		{"unreliable and slow", 10, 0.4, 12000, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.operations, tt.successRate, tt.meanMS)
			if got != tt.want {
				t.Errorf("Classify(%d, %v, %v) = %q, want %q",
					tt.operations, tt.successRate, tt.meanMS, got, tt.want)
			}
		})
	}
}

func TestProviderPerformance(t *testing.T) {
	t.Parallel()

	collector := NewCollector(&Config{Capacity: 100})
	for i := 0; i < 10; i++ {
		collector.Record(Metric{
			Operation: "upload",
			Provider:  "dropbox",
			Duration:  2 * time.Second,
			Success:   i != 0,
		})
	}
	for i := 0; i < 10; i++ {
		collector.Record(Metric{
			Operation: "upload",
			Provider:  "mega",
			Duration:  12 * time.Second,
			Success:   i < 4,
		})
	}

	reports := collector.ProviderPerformance([]string{"dropbox", "mega", "gcs"})
	if len(reports) != 3 {
		t.Fatalf("got %d reports, want 3", len(reports))
	}

	byName := make(map[string]ProviderReport)
	for _, r := range reports {
		byName[r.Provider] = r
	}

	if got := byName["dropbox"].Status; got != "healthy" {
		t.Errorf("dropbox status = %q, want healthy", got)
	}
	if got := byName["mega"].Status; got != "unhealthy" {
		t.Errorf("mega status = %q, want unhealthy", got)
	}
	if got := byName["gcs"].Status; got != "healthy" {
		t.Errorf("gcs with no samples = %q, want healthy", got)
	}
	if got := byName["gcs"].Operations; got != 0 {
		t.Errorf("gcs operations = %d, want 0", got)
	}
	if got := byName["dropbox"].SuccessRate; got != 0.9 {
		t.Errorf("dropbox success rate = %v, want 0.9", got)
	}
}

func TestSystem(t *testing.T) {
	t.Parallel()

	collector := NewCollector(&Config{Capacity: 100})
	collector.Record(Metric{Operation: "upload", Provider: "gcs", Duration: time.Second, Success: true})
	collector.Record(Metric{Operation: "download", Provider: "gcs", Duration: 3 * time.Second, Success: false})

	report := collector.System()
	if report.TotalOperations != 2 {
		t.Errorf("total operations = %d, want 2", report.TotalOperations)
	}
	if report.SuccessRate != 0.5 {
		t.Errorf("success rate = %v, want 0.5", report.SuccessRate)
	}
	if report.MeanDurationMS != 2000 {
		t.Errorf("mean duration = %v, want 2000", report.MeanDurationMS)
	}
	if report.HeapSysBytes == 0 {
		t.Error("heap sys bytes not populated")
	}
}

func TestHourlyActivity(t *testing.T) {
	t.Parallel()

	collector := NewCollector(&Config{Capacity: 100})
	collector.Record(Metric{Operation: "upload", Provider: "gcs", Duration: 3 * time.Second, Success: true})
	collector.Record(Metric{Operation: "upload", Provider: "mega", Duration: time.Second, Success: false})
	collector.Record(Metric{Operation: "delete", Provider: "gcs", Duration: 500 * time.Millisecond, Success: true})
	collector.Record(Metric{
		Operation: "download",
		Provider:  "gcs",
		Timestamp: time.Now().Add(-2 * time.Hour),
		Success:   true,
	})

	reports := collector.HourlyActivity()
	if len(reports) != 2 {
		t.Fatalf("got %d activity rows, want 2 (stale download excluded)", len(reports))
	}
	if reports[0].Operation != "delete" || reports[0].Count != 1 {
		t.Errorf("first row = %+v, want delete count 1", reports[0])
	}
	if reports[0].SuccessRate != 1 || reports[0].MeanDurationMS != 500 {
		t.Errorf("delete row = %+v, want success rate 1 mean 500", reports[0])
	}
	if reports[1].Operation != "upload" || reports[1].Count != 2 || reports[1].Failures != 1 {
		t.Errorf("second row = %+v, want upload count 2 failures 1", reports[1])
	}
	if reports[1].SuccessRate != 0.5 || reports[1].MeanDurationMS != 2000 {
		t.Errorf("upload row = %+v, want success rate 0.5 mean 2000", reports[1])
	}
}
