// Package health provides health monitoring and aggregation services
package health

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Static errors for health package
var (
	ErrHealthCheckNotFound      = errors.New("health check not found")
	ErrMonitoringAlreadyRunning = errors.New("monitoring is already running")
)

// Aggregator implements the HealthAggregator interface: it holds the
// registered checkers, the last result of each, and the worst-state logic
// that collapses them into one AggregatedStatus.
type Aggregator struct {
	mu          sync.RWMutex
	checkers    map[string]HealthChecker
	checkTypes  map[string]CheckType
	lastResults map[string]*CheckResult
	config      *AggregatorConfig
	callbacks   []StatusChangeCallback
	lastStatus  *AggregatedStatus
}

// AggregatorConfig represents configuration for the health aggregator
type AggregatorConfig struct {
	CheckInterval    time.Duration `json:"check_interval"`
	Timeout          time.Duration `json:"timeout"`
	EnableHistory    bool          `json:"enable_history"`
	HistorySize      int           `json:"history_size"`
	ParallelChecks   bool          `json:"parallel_checks"`
	FailureThreshold int           `json:"failure_threshold"`
}

// NewAggregator creates a new health aggregator
func NewAggregator(config *AggregatorConfig) *Aggregator {
	if config == nil {
		config = &AggregatorConfig{
			CheckInterval:    30 * time.Second,
			Timeout:          10 * time.Second,
			EnableHistory:    true,
			HistorySize:      100,
			ParallelChecks:   true,
			FailureThreshold: 3,
		}
	}

	return &Aggregator{
		checkers:    make(map[string]HealthChecker),
		checkTypes:  make(map[string]CheckType),
		lastResults: make(map[string]*CheckResult),
		config:      config,
		callbacks:   make([]StatusChangeCallback, 0),
	}
}

// RegisterCheck registers a health check with the aggregator, defaulting
// its CheckType to general; use RegisterTypedCheck to mark a check as
// readiness- or liveness-affecting.
func (a *Aggregator) RegisterCheck(ctx context.Context, checker HealthChecker) error {
	return a.RegisterTypedCheck(ctx, checker, CheckTypeGeneral)
}

// RegisterTypedCheck registers checker and records which status
// (readiness/liveness/general) it feeds into.
func (a *Aggregator) RegisterTypedCheck(ctx context.Context, checker HealthChecker, t CheckType) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkers[checker.Name()] = checker
	a.checkTypes[checker.Name()] = t
	return nil
}

// UnregisterCheck removes a health check from the aggregator
func (a *Aggregator) UnregisterCheck(ctx context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.checkers[name]; !ok {
		return ErrHealthCheckNotFound
	}
	delete(a.checkers, name)
	delete(a.checkTypes, name)
	delete(a.lastResults, name)
	return nil
}

// CheckAll runs every registered check (in parallel when configured),
// applies worst-state aggregation, and fires callbacks on any overall
// status change.
func (a *Aggregator) CheckAll(ctx context.Context) (*AggregatedStatus, error) {
	a.mu.RLock()
	checkers := make(map[string]HealthChecker, len(a.checkers))
	for k, v := range a.checkers {
		checkers[k] = v
	}
	parallel := a.config.ParallelChecks
	timeout := a.config.Timeout
	a.mu.RUnlock()

	results := make(map[string]*CheckResult, len(checkers))
	run := func(name string, checker HealthChecker) *CheckResult {
		checkCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			checkCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		result, err := checker.Check(checkCtx)
		if err != nil || result == nil {
			result = &CheckResult{Name: name, Status: StatusCritical, Timestamp: time.Now()}
			if err != nil {
				result.Error = err.Error()
			}
		}
		return result
	}

	if parallel {
		var mu sync.Mutex
		var wg sync.WaitGroup
		for name, checker := range checkers {
			name, checker := name, checker
			wg.Add(1)
			go func() {
				defer wg.Done()
				r := run(name, checker)
				mu.Lock()
				results[name] = r
				mu.Unlock()
			}()
		}
		wg.Wait()
	} else {
		for name, checker := range checkers {
			results[name] = run(name, checker)
		}
	}

	status := a.aggregate(results)

	a.mu.Lock()
	for name, r := range results {
		a.lastResults[name] = r
	}
	previous := a.lastStatus
	a.lastStatus = status
	callbacks := append([]StatusChangeCallback(nil), a.callbacks...)
	a.mu.Unlock()

	if previous == nil || previous.OverallStatus != status.OverallStatus {
		for _, cb := range callbacks {
			_ = cb(ctx, previous, status)
		}
	}

	return status, nil
}

// aggregate applies worst-state logic: the overall/readiness/liveness
// status is the worst status among the checks contributing to it.
// Readiness and liveness exclude CheckTypeGeneral checks, the way a
// background diagnostic shouldn't flip a load balancer's routing
// decision.
func (a *Aggregator) aggregate(results map[string]*CheckResult) *AggregatedStatus {
	a.mu.RLock()
	types := make(map[string]CheckType, len(a.checkTypes))
	for k, v := range a.checkTypes {
		types[k] = v
	}
	a.mu.RUnlock()

	summary := &StatusSummary{TotalChecks: len(results)}
	overall, readiness, liveness := StatusHealthy, StatusHealthy, StatusHealthy
	if len(results) == 0 {
		overall, readiness, liveness = StatusUnknown, StatusUnknown, StatusUnknown
	}

	for name, r := range results {
		switch r.Status {
		case StatusHealthy:
			summary.PassingChecks++
		case StatusWarning:
			summary.WarningChecks++
		case StatusCritical:
			summary.CriticalChecks++
		case StatusUnknown:
			summary.UnknownChecks++
		default:
			summary.FailingChecks++
		}

		overall = worstOf(overall, r.Status)
		switch types[name] {
		case CheckTypeReadiness:
			readiness = worstOf(readiness, r.Status)
		case CheckTypeLiveness:
			liveness = worstOf(liveness, r.Status)
		case CheckTypeDeepHealth:
			readiness = worstOf(readiness, r.Status)
			liveness = worstOf(liveness, r.Status)
		case CheckTypeGeneral:
			// general checks affect overall only
		default:
			readiness = worstOf(readiness, r.Status)
			liveness = worstOf(liveness, r.Status)
		}
	}

	return &AggregatedStatus{
		OverallStatus:   overall,
		ReadinessStatus: readiness,
		LivenessStatus:  liveness,
		Timestamp:       time.Now(),
		CheckResults:    results,
		Summary:         summary,
	}
}

func worstOf(a, b HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{StatusHealthy: 0, StatusUnknown: 1, StatusWarning: 2, StatusCritical: 3}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// CheckOne runs a specific health check by name
func (a *Aggregator) CheckOne(ctx context.Context, name string) (*CheckResult, error) {
	a.mu.RLock()
	checker, exists := a.checkers[name]
	timeout := a.config.Timeout
	a.mu.RUnlock()

	if !exists {
		return nil, ErrHealthCheckNotFound
	}

	checkCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := checker.Check(checkCtx)
	if err != nil {
		result = &CheckResult{
			Name:      name,
			Status:    StatusCritical,
			Error:     err.Error(),
			Timestamp: time.Now(),
		}
	}

	a.mu.Lock()
	a.lastResults[name] = result
	a.mu.Unlock()

	return result, nil
}

// GetStatus returns the current aggregated health status without running
// checks, recomputed from the last result recorded for each checker.
func (a *Aggregator) GetStatus(ctx context.Context) (*AggregatedStatus, error) {
	a.mu.RLock()
	results := make(map[string]*CheckResult, len(a.lastResults))
	for k, v := range a.lastResults {
		results[k] = v
	}
	a.mu.RUnlock()

	return a.aggregate(results), nil
}

// IsReady returns true if the system is ready to accept traffic
func (a *Aggregator) IsReady(ctx context.Context) (bool, error) {
	status, err := a.GetStatus(ctx)
	if err != nil {
		return false, err
	}
	return status.ReadinessStatus == StatusHealthy, nil
}

// IsLive returns true if the system is alive (for liveness probes)
func (a *Aggregator) IsLive(ctx context.Context) (bool, error) {
	status, err := a.GetStatus(ctx)
	if err != nil {
		return false, err
	}
	return status.LivenessStatus == StatusHealthy || status.LivenessStatus == StatusWarning, nil
}

// Monitor implements the HealthMonitor interface: it periodically drives
// an Aggregator through CheckAll and retains a bounded history per check.
type Monitor struct {
	aggregator *Aggregator
	interval   time.Duration
	running    bool
	cancel     context.CancelFunc
	mu         sync.Mutex
	history    map[string][]*CheckResult
	histSize   int
}

// NewMonitor creates a new health monitor
func NewMonitor(aggregator *Aggregator) *Monitor {
	return &Monitor{
		aggregator: aggregator,
		interval:   30 * time.Second,
		history:    make(map[string][]*CheckResult),
		histSize:   aggregator.config.HistorySize,
	}
}

// StartMonitoring begins continuous health monitoring with the specified interval
func (m *Monitor) StartMonitoring(ctx context.Context, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrMonitoringAlreadyRunning
	}
	if interval <= 0 {
		interval = m.interval
	}
	m.interval = interval
	m.running = true

	monitorCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.monitorLoop(monitorCtx)

	return nil
}

// StopMonitoring stops continuous health monitoring
func (m *Monitor) StopMonitoring(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

// IsMonitoring returns true if monitoring is currently active
func (m *Monitor) IsMonitoring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// GetHistory returns health check history for analysis
func (m *Monitor) GetHistory(ctx context.Context, checkName string, since time.Time) ([]*CheckResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history, exists := m.history[checkName]
	if !exists {
		return nil, nil
	}

	filtered := make([]*CheckResult, 0, len(history))
	for _, result := range history {
		if result.Timestamp.After(since) {
			filtered = append(filtered, result)
		}
	}
	return filtered, nil
}

// SetCallback sets a callback function to be called on status changes
func (m *Monitor) SetCallback(callback StatusChangeCallback) error {
	m.aggregator.mu.Lock()
	defer m.aggregator.mu.Unlock()
	m.aggregator.callbacks = append(m.aggregator.callbacks, callback)
	return nil
}

// monitorLoop runs CheckAll on every tick, appending results to each
// check's bounded history ring.
func (m *Monitor) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status, err := m.aggregator.CheckAll(ctx)
			if err != nil {
				continue
			}
			m.mu.Lock()
			for name, result := range status.CheckResults {
				h := append(m.history[name], result)
				if m.histSize > 0 && len(h) > m.histSize {
					h = h[len(h)-m.histSize:]
				}
				m.history[name] = h
			}
			m.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// BasicChecker implements a basic HealthChecker from a plain check
// function, for ad hoc checks that don't warrant their own type.
type BasicChecker struct {
	name        string
	description string
	checkFunc   func(context.Context) error
}

// NewBasicChecker creates a new basic health checker
func NewBasicChecker(name, description string, checkFunc func(context.Context) error) *BasicChecker {
	return &BasicChecker{
		name:        name,
		description: description,
		checkFunc:   checkFunc,
	}
}

// Check performs a health check and returns the current status
func (c *BasicChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()

	result := &CheckResult{
		Name:      c.name,
		Timestamp: start,
		Status:    StatusHealthy,
	}

	if c.checkFunc != nil {
		if err := c.checkFunc(ctx); err != nil {
			result.Status = StatusCritical
			result.Error = err.Error()
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Name returns the unique name of this health check
func (c *BasicChecker) Name() string {
	return c.name
}

// Description returns a human-readable description of what this check validates
func (c *BasicChecker) Description() string {
	return c.description
}
