package pipeline

import (
	"sync"
	"time"
)

// ProgressStats mirrors ConcurrentProgressTracker.get_stats's return
// dict, translated to a struct. Rates are fractions (0..1), not
// percentages — callers format for display.
type ProgressStats struct {
	Total           int
	Completed       int
	Failed          int
	InProgress      int
	Remaining       int
	ProgressPercent float64
	SuccessRate     float64
	CacheHitRate    float64
	Elapsed         time.Duration
	CompletionRate  float64 // items/sec
	ETA             time.Duration
	AverageTime     time.Duration
	FailedPositions []int
}

// ProgressTracker tracks batch progress (C6), grounded on
// concurrent/progress_tracker.py's ConcurrentProgressTracker: the
// per-item start/elapsed bookkeeping, success/failure/cache sets, and
// the elapsed/rate/ETA/success-rate/cache-hit-rate/avg-ms derived
// metrics are translated line-for-line; callbacks are notified from a
// goroutine so the tracker never blocks a worker on a slow subscriber.
type ProgressTracker struct {
	mu sync.Mutex

	total      int
	completed  int
	failed     int
	inProgress map[int]struct{}
	itemStart  map[int]time.Time
	itemMillis map[int]float64

	successful map[int]struct{}
	failedMsgs map[int]string
	cached     map[int]struct{}

	startTime time.Time
	callbacks []ProgressCallback
}

// NewProgressTracker creates a tracker for a batch of totalItems.
func NewProgressTracker(totalItems int) *ProgressTracker {
	return &ProgressTracker{
		total:      totalItems,
		inProgress: make(map[int]struct{}),
		itemStart:  make(map[int]time.Time),
		itemMillis: make(map[int]float64),
		successful: make(map[int]struct{}),
		failedMsgs: make(map[int]string),
		cached:     make(map[int]struct{}),
		startTime:  time.Now(),
	}
}

// AddCallback registers a progress callback, mirroring add_callback.
func (t *ProgressTracker) AddCallback(cb ProgressCallback) {
	t.mu.Lock()
	t.callbacks = append(t.callbacks, cb)
	t.mu.Unlock()
}

// StartItem marks itemID as started, mirroring start_item.
func (t *ProgressTracker) StartItem(itemID int) {
	t.mu.Lock()
	t.inProgress[itemID] = struct{}{}
	t.itemStart[itemID] = time.Now()
	stats := t.statsLocked()
	cbs := append([]ProgressCallback(nil), t.callbacks...)
	t.mu.Unlock()

	t.notify(stats, cbs)
}

// CompleteItem marks itemID as completed, mirroring complete_item.
func (t *ProgressTracker) CompleteItem(itemID int, success bool, errMsg string, fromCache bool) {
	t.mu.Lock()
	delete(t.inProgress, itemID)

	if start, ok := t.itemStart[itemID]; ok {
		t.itemMillis[itemID] = float64(time.Since(start).Microseconds()) / 1000.0
	}

	if success {
		t.completed++
		t.successful[itemID] = struct{}{}
		if fromCache {
			t.cached[itemID] = struct{}{}
		}
	} else {
		t.failed++
		if errMsg == "" {
			errMsg = "unknown error"
		}
		t.failedMsgs[itemID] = errMsg
	}

	stats := t.statsLocked()
	cbs := append([]ProgressCallback(nil), t.callbacks...)
	t.mu.Unlock()

	t.notify(stats, cbs)
}

func (t *ProgressTracker) notify(stats ProgressStats, cbs []ProgressCallback) {
	for _, cb := range cbs {
		go cb(stats)
	}
}

// Stats returns a snapshot of progress statistics, mirroring get_stats.
func (t *ProgressTracker) Stats() ProgressStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statsLocked()
}

func (t *ProgressTracker) statsLocked() ProgressStats {
	elapsed := time.Since(t.startTime)
	elapsedSeconds := elapsed.Seconds()

	var completionRate float64
	if elapsedSeconds > 0 {
		completionRate = float64(t.completed) / elapsedSeconds
	}

	processed := t.completed + t.failed
	remaining := t.total - processed

	var eta time.Duration
	if completionRate > 0 {
		eta = time.Duration(float64(remaining)/completionRate) * time.Second
	}

	var progressPercent float64
	if t.total > 0 {
		progressPercent = float64(processed) / float64(t.total)
	}

	var successRate float64 = 1
	if processed > 0 {
		successRate = float64(t.completed) / float64(processed)
	}

	var cacheHitRate float64
	if t.completed > 0 {
		cacheHitRate = float64(len(t.cached)) / float64(t.completed)
	}

	var avgMillis float64
	var sum float64
	var n int
	for id, ms := range t.itemMillis {
		if _, ok := t.successful[id]; ok && ms > 0 {
			sum += ms
			n++
		}
	}
	if n > 0 {
		avgMillis = sum / float64(n)
	}

	failedPositions := make([]int, 0, len(t.failedMsgs))
	for id := range t.failedMsgs {
		failedPositions = append(failedPositions, id)
		if len(failedPositions) >= 10 {
			break
		}
	}

	return ProgressStats{
		Total:           t.total,
		Completed:       t.completed,
		Failed:          t.failed,
		InProgress:      len(t.inProgress),
		Remaining:       remaining,
		ProgressPercent: progressPercent,
		SuccessRate:     successRate,
		CacheHitRate:    cacheHitRate,
		Elapsed:         elapsed,
		CompletionRate:  completionRate,
		ETA:             eta,
		AverageTime:     time.Duration(avgMillis * float64(time.Millisecond)),
		FailedPositions: failedPositions,
	}
}

// Reset reinitializes the tracker for a new batch of totalItems,
// mirroring ConcurrentProgressTracker.reset.
func (t *ProgressTracker) Reset(totalItems int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = totalItems
	t.completed = 0
	t.failed = 0
	t.inProgress = make(map[int]struct{})
	t.itemStart = make(map[int]time.Time)
	t.itemMillis = make(map[int]float64)
	t.successful = make(map[int]struct{})
	t.failedMsgs = make(map[int]string)
	t.cached = make(map[int]struct{})
	t.startTime = time.Now()
}
