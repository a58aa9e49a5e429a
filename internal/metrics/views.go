package metrics

import (
	"runtime"
	"sort"
	"time"
)

// SystemReport summarizes the last 24 hours plus process vitals.
type SystemReport struct {
	TotalOperations int     `json:"totalOperations"`
	SuccessRate     float64 `json:"successRate"`
	MeanDurationMS  float64 `json:"meanDurationMs"`
	HeapAllocBytes  uint64  `json:"heapAllocBytes"`
	HeapSysBytes    uint64  `json:"heapSysBytes"`
	NumGoroutine    int     `json:"numGoroutine"`
	UptimeSeconds   float64 `json:"uptimeSeconds"`
}

// ProviderReport summarizes one provider over the last 24 hours.
type ProviderReport struct {
	Provider       string  `json:"provider"`
	Operations     int     `json:"operations"`
	SuccessRate    float64 `json:"successRate"`
	MeanDurationMS float64 `json:"meanDurationMs"`
	Status         string  `json:"status"`
}

// ActivityReport summarizes one operation kind over the last hour.
type ActivityReport struct {
	Operation      string  `json:"operation"`
	Count          int     `json:"count"`
	Failures       int     `json:"failures"`
	SuccessRate    float64 `json:"successRate"`
	MeanDurationMS float64 `json:"meanDurationMs"`
}

// Provider status thresholds.
const (
	healthySuccessRate  = 0.80
	healthyMeanMS       = 5000
	degradedSuccessRate = 0.50
	degradedMeanMS      = 10000
)

// Classify maps a provider's recent success rate and mean latency onto a
// status string. A provider with no recent samples is treated as healthy.
func Classify(operations int, successRate float64, meanDurationMS float64) string {
	if operations == 0 {
		return "healthy"
	}
	if successRate >= healthySuccessRate && meanDurationMS < healthyMeanMS {
		return "healthy"
	}
	if successRate >= degradedSuccessRate || meanDurationMS < degradedMeanMS {
		return "degraded"
	}
	return "unhealthy"
}

// System reports aggregate figures over the last 24 hours.
func (c *Collector) System() SystemReport {
	samples := c.snapshot(time.Now().Add(-24 * time.Hour))

	var successes int
	var totalDuration time.Duration
	for _, m := range samples {
		if m.Success {
			successes++
		}
		totalDuration += m.Duration
	}

	report := SystemReport{
		TotalOperations: len(samples),
		NumGoroutine:    runtime.NumGoroutine(),
		UptimeSeconds:   c.Uptime().Seconds(),
	}
	if len(samples) > 0 {
		report.SuccessRate = float64(successes) / float64(len(samples))
		report.MeanDurationMS = float64(totalDuration.Milliseconds()) / float64(len(samples))
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	report.HeapAllocBytes = ms.HeapAlloc
	report.HeapSysBytes = ms.HeapSys

	return report
}

// ProviderPerformance reports per-provider figures over the last 24 hours.
// Providers in the registered list with no samples still get a row.
func (c *Collector) ProviderPerformance(registered []string) []ProviderReport {
	samples := c.snapshot(time.Now().Add(-24 * time.Hour))

	type acc struct {
		count     int
		successes int
		duration  time.Duration
	}
	byProvider := make(map[string]*acc)
	for _, name := range registered {
		byProvider[name] = &acc{}
	}
	for _, m := range samples {
		if m.Provider == "" {
			continue
		}
		a, ok := byProvider[m.Provider]
		if !ok {
			a = &acc{}
			byProvider[m.Provider] = a
		}
		a.count++
		if m.Success {
			a.successes++
		}
		a.duration += m.Duration
	}

	reports := make([]ProviderReport, 0, len(byProvider))
	for name, a := range byProvider {
		r := ProviderReport{Provider: name, Operations: a.count}
		if a.count > 0 {
			r.SuccessRate = float64(a.successes) / float64(a.count)
			r.MeanDurationMS = float64(a.duration.Milliseconds()) / float64(a.count)
		}
		r.Status = Classify(a.count, r.SuccessRate, r.MeanDurationMS)
		reports = append(reports, r)
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Provider < reports[j].Provider
	})
	return reports
}

// HourlyActivity counts operations by kind over the last hour.
func (c *Collector) HourlyActivity() []ActivityReport {
	samples := c.snapshot(time.Now().Add(-time.Hour))

	type acc struct {
		count    int
		failures int
		duration time.Duration
	}
	byOp := make(map[string]*acc)
	for _, m := range samples {
		a, ok := byOp[m.Operation]
		if !ok {
			a = &acc{}
			byOp[m.Operation] = a
		}
		a.count++
		if !m.Success {
			a.failures++
		}
		a.duration += m.Duration
	}

	reports := make([]ActivityReport, 0, len(byOp))
	for op, a := range byOp {
		r := ActivityReport{Operation: op, Count: a.count, Failures: a.failures}
		r.SuccessRate = float64(a.count-a.failures) / float64(a.count)
		r.MeanDurationMS = float64(a.duration.Milliseconds()) / float64(a.count)
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Operation < reports[j].Operation
	})
	return reports
}
