package blockflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultGuardCacheSize = 1000
	defaultGuardCacheTTL  = 60 * time.Second
)

// GuardEvaluation summarizes one batch of guard evaluations.
type GuardEvaluation struct {
	// Results holds one entry per evaluated guard, in evaluation order.
	// Guards skipped by a critical short-circuit have no entry.
	Results []*GuardResult

	// Counts tallies failing results per severity.
	Counts map[GuardSeverity]int

	// ShouldBlock is true when execution must not proceed normally.
	ShouldBlock bool

	// Blocking is the most severe failing result when ShouldBlock is set.
	// Ties are broken by evaluation order.
	Blocking *GuardResult
}

type guardCacheEntry struct {
	result    *GuardResult
	timestamp time.Time
}

// GuardManagerOptions configures a GuardManager.
type GuardManagerOptions struct {
	// CacheSize caps the number of cached pre-execution results.
	CacheSize int

	// CacheTTL is the freshness window for cached results.
	CacheTTL time.Duration

	// BlockOnWarning makes failing Warning results block execution.
	BlockOnWarning bool

	Logger *slog.Logger
}

// GuardManager evaluates guard batches, caches pre-execution results, and
// decides whether execution should be blocked or redirected. The cache is
// shared across concurrent activity and is safe for concurrent use.
type GuardManager struct {
	cacheSize      int
	cacheTTL       time.Duration
	blockOnWarning bool
	logger         *slog.Logger

	mutex sync.Mutex
	cache map[string]guardCacheEntry
}

// NewGuardManager creates a guard manager.
func NewGuardManager(opts GuardManagerOptions) *GuardManager {
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultGuardCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultGuardCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &GuardManager{
		cacheSize:      opts.CacheSize,
		cacheTTL:       opts.CacheTTL,
		blockOnWarning: opts.BlockOnWarning,
		logger:         opts.Logger,
		cache:          map[string]guardCacheEntry{},
	}
}

// Evaluate runs the guards in order against the context. With useCache set,
// results may be served from the cache; post-execution evaluations must pass
// useCache=false because they depend on the just-produced block result.
//
// A guard that returns an error is converted into a failing result with
// severity Error rather than aborting the batch. A failing Critical guard
// short-circuits the batch.
func (m *GuardManager) Evaluate(ctx context.Context, guards []Guard, ec *ExecutionContext, useCache bool) *GuardEvaluation {
	evaluation := &GuardEvaluation{Counts: map[GuardSeverity]int{}}
	for _, guard := range guards {
		result := m.evaluateOne(ctx, guard, ec, useCache)
		evaluation.Results = append(evaluation.Results, result)
		if !result.Valid {
			evaluation.Counts[result.Severity]++
			if result.Severity == SeverityCritical {
				// A critical failure pre-empts further checks.
				break
			}
		}
	}
	for _, result := range evaluation.Results {
		if result.Valid {
			continue
		}
		blocking := result.Severity >= SeverityError ||
			(result.Severity == SeverityWarning && m.blockOnWarning)
		if !blocking {
			continue
		}
		evaluation.ShouldBlock = true
		if evaluation.Blocking == nil || result.Severity > evaluation.Blocking.Severity {
			evaluation.Blocking = result
		}
	}
	return evaluation
}

// FailingWarning returns the first failing Warning-severity result, if any.
// Callers use it to apply a workflow-level block-on-warning policy on top of
// the manager's own setting.
func (e *GuardEvaluation) FailingWarning() *GuardResult {
	for _, result := range e.Results {
		if !result.Valid && result.Severity == SeverityWarning {
			return result
		}
	}
	return nil
}

func (m *GuardManager) evaluateOne(ctx context.Context, guard Guard, ec *ExecutionContext, useCache bool) *GuardResult {
	cacheKey := fmt.Sprintf("%s:%s:%s", guard.Name(), ec.ExecutionID(), ec.CurrentBlock())
	if useCache {
		if result, ok := m.cachedResult(cacheKey); ok {
			return result
		}
	}

	result, err := guard.Evaluate(ctx, ec)
	if err != nil {
		// Guard evaluation must never crash the run.
		m.logger.Warn("guard evaluation failed",
			"guard", guard.Name(),
			"block", ec.CurrentBlock(),
			"error", err)
		result = &GuardResult{
			GuardName: guard.Name(),
			Valid:     false,
			Severity:  SeverityError,
			Message:   fmt.Sprintf("guard %q evaluation failed: %v", guard.Name(), err),
		}
	}
	if result == nil {
		result = &GuardResult{GuardName: guard.Name(), Valid: true}
	}
	if result.GuardName == "" {
		result.GuardName = guard.Name()
	}
	if result.Severity == SeverityInfo {
		// Results that do not set a severity inherit the guard's declared one.
		result.Severity = guard.Severity()
	}

	if useCache {
		m.storeResult(cacheKey, result)
	}
	return result
}

func (m *GuardManager) cachedResult(key string) (*GuardResult, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry, ok := m.cache[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.timestamp) > m.cacheTTL {
		delete(m.cache, key)
		return nil, false
	}
	return entry.result, true
}

func (m *GuardManager) storeResult(key string, result *GuardResult) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if len(m.cache) >= m.cacheSize {
		m.evictOldestLocked()
	}
	m.cache[key] = guardCacheEntry{result: result, timestamp: time.Now()}
}

// evictOldestLocked removes the entry with the oldest timestamp. Caller holds
// the mutex.
func (m *GuardManager) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range m.cache {
		if oldestKey == "" || entry.timestamp.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.timestamp
		}
	}
	if oldestKey != "" {
		delete(m.cache, oldestKey)
	}
}

// CacheLen returns the number of cached guard results.
func (m *GuardManager) CacheLen() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return len(m.cache)
}

// ClearCache drops all cached guard results.
func (m *GuardManager) ClearCache() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.cache = map[string]guardCacheEntry{}
}
