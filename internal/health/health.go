// Package health aggregates component probes into one report. Verdicts are
// worst-wins: any failing component makes the whole report unhealthy.
package health

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/cloudgate/cloudgate/internal/config"
	"github.com/cloudgate/cloudgate/internal/metrics"
	"github.com/cloudgate/cloudgate/internal/provider"
)

// Status is a component verdict.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// worse reports whether a is a worse verdict than b.
func worse(a, b Status) bool {
	rank := map[Status]int{StatusOK: 0, StatusWarning: 1, StatusError: 2}
	return rank[a] > rank[b]
}

// Result is one component's probe outcome.
type Result struct {
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
}

// Report is the aggregate of all probes.
type Report struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Results   []Result  `json:"results"`
}

// Pinger is the catalog connectivity probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Lister is the provider reachability probe; a root listing proves auth and
// transport in one call.
type Lister interface {
	Name() string
	List(ctx context.Context, folder string) ([]provider.FileListItem, error)
}

// ProviderResolver resolves the configured providers for probing.
type ProviderResolver func(ctx context.Context) []Lister

// Aggregator runs all component probes.
type Aggregator struct {
	cfg       config.HealthConfig
	db        Pinger
	collector *metrics.Collector
	resolve   ProviderResolver
	startTime time.Time
}

// NewAggregator builds an aggregator over the catalog, the metrics collector
// and a provider resolver.
func NewAggregator(cfg config.HealthConfig, db Pinger, collector *metrics.Collector, resolve ProviderResolver) *Aggregator {
	return &Aggregator{
		cfg:       cfg,
		db:        db,
		collector: collector,
		resolve:   resolve,
		startTime: time.Now(),
	}
}

// Check runs every probe and folds the verdicts.
func (a *Aggregator) Check(ctx context.Context) *Report {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ProbeTimeout)
	defer cancel()

	results := []Result{
		a.checkDatabase(ctx),
		a.checkMemory(),
		a.checkUptime(),
		a.checkMetrics(),
		a.checkProviders(ctx),
	}

	overall := StatusOK
	for _, r := range results {
		if worse(r.Status, overall) {
			overall = r.Status
		}
	}

	return &Report{
		Status:    overall,
		Timestamp: time.Now(),
		Results:   results,
	}
}

func (a *Aggregator) checkDatabase(ctx context.Context) Result {
	start := time.Now()
	err := a.db.Ping(ctx)
	elapsed := time.Since(start)

	result := Result{Component: "database", Duration: elapsed}
	switch {
	case err != nil:
		result.Status = StatusError
		result.Message = fmt.Sprintf("ping failed: %v", err)
	case elapsed > a.cfg.DatabaseWarnAfter:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("ping slow: %v", elapsed)
	default:
		result.Status = StatusOK
		result.Message = "connected"
	}
	return result
}

func (a *Aggregator) checkMemory() Result {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	result := Result{Component: "memory"}
	if ms.HeapSys > 0 && float64(ms.HeapAlloc) > 0.8*float64(ms.HeapSys) {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("heap pressure: %d of %d bytes in use", ms.HeapAlloc, ms.HeapSys)
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("heap %d of %d bytes in use", ms.HeapAlloc, ms.HeapSys)
	}
	return result
}

func (a *Aggregator) checkUptime() Result {
	return Result{
		Component: "uptime",
		Status:    StatusOK,
		Message:   time.Since(a.startTime).Round(time.Second).String(),
	}
}

// checkMetrics folds recent per-provider performance into one verdict. A
// provider the collector classifies as unhealthy degrades the report without
// failing it; live reachability is checkProviders' job.
func (a *Aggregator) checkMetrics() Result {
	reports := a.collector.ProviderPerformance(nil)

	var unhealthy, degraded int
	for _, r := range reports {
		switch r.Status {
		case "unhealthy":
			unhealthy++
		case "degraded":
			degraded++
		}
	}

	result := Result{Component: "metrics"}
	switch {
	case unhealthy > 0 || degraded > 0:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("%d unhealthy, %d degraded providers in the last 24h", unhealthy, degraded)
	default:
		result.Status = StatusOK
		result.Message = "recent operations nominal"
	}
	return result
}

// checkProviders probes every resolvable provider concurrently with a root
// listing. All reachable is ok; more than half unreachable is an error;
// anything in between is a warning.
func (a *Aggregator) checkProviders(ctx context.Context) Result {
	providers := a.resolve(ctx)
	if len(providers) == 0 {
		return Result{
			Component: "providers",
			Status:    StatusWarning,
			Message:   "no providers configured",
		}
	}

	type probe struct {
		name    string
		status  Status
		elapsed time.Duration
	}

	start := time.Now()
	probes := make([]probe, len(providers))
	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p Lister) {
			defer wg.Done()
			probeStart := time.Now()
			_, err := p.List(ctx, "")
			elapsed := time.Since(probeStart)

			pr := probe{name: p.Name(), elapsed: elapsed}
			switch {
			case err != nil:
				pr.status = StatusError
			case elapsed > a.cfg.ProviderWarnAfter:
				pr.status = StatusWarning
			default:
				pr.status = StatusOK
			}
			probes[i] = pr
		}(i, p)
	}
	wg.Wait()

	var failed, slow int
	for _, pr := range probes {
		switch pr.status {
		case StatusError:
			failed++
		case StatusWarning:
			slow++
		}
	}

	result := Result{Component: "providers", Duration: time.Since(start)}
	switch {
	case failed > len(probes)/2:
		result.Status = StatusError
		result.Message = fmt.Sprintf("%d of %d providers unreachable", failed, len(probes))
	case failed > 0 || slow > 0:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("%d unreachable, %d slow of %d providers", failed, slow, len(probes))
	default:
		result.Status = StatusOK
		result.Message = fmt.Sprintf("all %d providers reachable", len(probes))
	}
	return result
}
