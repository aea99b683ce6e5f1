// Watcher polls the CMS for content changes and hot-swaps the active
// snapshot in the Manager when a new revision validates.
package content

import (
	"context"
	"fmt"
	"time"

	"github.com/greenleafcpa/greenleaf-web/internal/log"
)

const (
	// DefaultPollInterval is how often the watcher queries the CMS.
	DefaultPollInterval = time.Minute

	// maxBackoff caps exponential backoff on consecutive fetch errors.
	maxBackoff = 5 * time.Minute

	defaultStaleThreshold = 30 * time.Minute
)

// pollResult describes what happened during a single poll cycle.
type pollResult int

const (
	pollNoChange        pollResult = iota // revision matches current
	pollSwapped                           // new revision decoded, validated and swapped
	pollFetchError                        // CMS query failed - caller should back off
	pollDecodeError                       // CMS answered but the result did not decode
	pollValidationError                   // decoded but failed sanity checks
)

// Fetcher returns the raw bytes of one snapshot query. *cms.Client satisfies it.
type Fetcher interface {
	FetchSnapshotDocs(ctx context.Context) ([]byte, error)
}

// WatcherMetrics is implemented by the metrics package to observe watcher behavior.
type WatcherMetrics interface {
	IncWatcherPolls()
	IncWatcherSwaps()
	IncWatcherError(errType string)
	ObserveFetchDuration(seconds float64)
	SetWatcherLastSuccess(unixSeconds float64)
	SetWatcherStale(stale bool)
}

// WatcherOptions configures the content watcher.
type WatcherOptions struct {
	Logger       log.Logger
	Fetcher      Fetcher
	Manager      *Manager
	PollInterval time.Duration

	// Validation is applied to every new revision before it is swapped in.
	// Nil uses DefaultValidationOptions().
	Validation *ValidationOptions

	// OnSwap is called synchronously on the poll goroutine after a successful swap.
	OnSwap func(revision string)

	Metrics WatcherMetrics

	// StaleThreshold is how long without a successful CMS query before the
	// watcher reports stale content. Zero defaults to 30 minutes.
	StaleThreshold time.Duration
}

// Watcher polls for content changes and hot-swaps snapshots into the manager.
type Watcher struct {
	fetcher    Fetcher
	manager    *Manager
	logger     log.Logger
	interval   time.Duration
	validation ValidationOptions
	onSwap     func(revision string)
	metrics    WatcherMetrics

	currentRev string

	consecutiveErrs int

	staleThreshold time.Duration
	lastSuccessAt  time.Time
	staleLogged    bool

	pollCount int64
	swapCount int64
}

// NewWatcher creates a content watcher. Call Run to start the poll loop.
func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	// seed from the manager so an unchanged CMS does not trigger a swap on the first poll
	currentRev := ""
	if snap, ok := opts.Manager.Get(); ok {
		currentRev = snap.Revision
	}

	validation := DefaultValidationOptions()
	if opts.Validation != nil {
		validation = *opts.Validation
	}

	staleThreshold := opts.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = defaultStaleThreshold
	}

	return &Watcher{
		fetcher:        opts.Fetcher,
		manager:        opts.Manager,
		logger:         opts.Logger,
		interval:       interval,
		validation:     validation,
		onSwap:         opts.OnSwap,
		metrics:        opts.Metrics,
		currentRev:     currentRev,
		staleThreshold: staleThreshold,
		lastSuccessAt:  time.Now(),
	}
}

// Run starts the poll loop and blocks until ctx is cancelled.
// The first poll happens immediately so a seed snapshot is replaced quickly.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "content watcher starting",
		"poll_interval", w.interval.String(),
		"current_revision", truncRev(w.currentRev),
	)

	w.afterPoll(ctx, w.checkOnce(ctx), nil)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "content watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"swaps", w.swapCount,
			)
			return ctx.Err()
		case <-ticker.C:
			w.afterPoll(ctx, w.checkOnce(ctx), ticker)
		}
	}
}

// afterPoll adjusts cadence and staleness state after a poll.
func (w *Watcher) afterPoll(ctx context.Context, result pollResult, ticker *time.Ticker) {
	if result == pollFetchError {
		w.consecutiveErrs++
		backoff := w.backoffDuration()
		w.logger.Warn(ctx, "content watcher: backing off",
			"consecutive_errors", w.consecutiveErrs,
			"next_poll_in", backoff.String(),
		)
		if ticker != nil {
			ticker.Reset(backoff)
		}

		if time.Since(w.lastSuccessAt) > w.staleThreshold && !w.staleLogged {
			w.logger.Error(ctx, fmt.Errorf("last successful CMS query was %s ago", time.Since(w.lastSuccessAt).Truncate(time.Second)),
				"content watcher: content is stale",
			)
			w.staleLogged = true
			if w.metrics != nil {
				w.metrics.SetWatcherStale(true)
			}
		}
		return
	}

	if w.consecutiveErrs > 0 {
		w.logger.Info(ctx, "content watcher: recovered, resuming normal interval",
			"had_consecutive_errors", w.consecutiveErrs,
		)
		w.consecutiveErrs = 0
		if ticker != nil {
			ticker.Reset(w.interval)
		}
	}
	if w.staleLogged {
		w.logger.Info(ctx, "content watcher: staleness recovered")
		w.staleLogged = false
		if w.metrics != nil {
			w.metrics.SetWatcherStale(false)
		}
	}
}

// checkOnce performs a single fetch-compare-validate-swap cycle.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncWatcherPolls()
	}

	start := time.Now()
	raw, err := w.fetcher.FetchSnapshotDocs(ctx)
	if w.metrics != nil {
		w.metrics.ObserveFetchDuration(time.Since(start).Seconds())
	}
	if err != nil {
		w.logger.Error(ctx, err, "content watcher: CMS query failed")
		if w.metrics != nil {
			w.metrics.IncWatcherError("fetch")
		}
		return pollFetchError
	}

	now := time.Now()
	w.lastSuccessAt = now
	if w.metrics != nil {
		w.metrics.SetWatcherLastSuccess(float64(now.Unix()))
	}

	rev := Revision(raw)
	if sameRevision(rev, w.currentRev) {
		return pollNoChange
	}

	w.logger.Info(ctx, "content watcher: new revision detected",
		"old_revision", truncRev(w.currentRev),
		"new_revision", truncRev(rev),
	)

	snap, err := NewSnapshot(raw, SourceCMS)
	if err != nil {
		w.logger.Error(ctx, err, "content watcher: failed to decode snapshot",
			"revision", truncRev(rev),
		)
		if w.metrics != nil {
			w.metrics.IncWatcherError("decode")
		}
		return pollDecodeError
	}

	if err := ValidateSnapshot(snap, w.validation); err != nil {
		w.logger.Error(ctx, err, "content watcher: new revision failed validation, keeping current content",
			"rejected_revision", truncRev(rev),
			"current_revision", truncRev(w.currentRev),
		)
		if w.metrics != nil {
			w.metrics.IncWatcherError("validation")
		}
		return pollValidationError
	}

	oldRev := w.currentRev
	w.manager.Set(*snap)
	w.swapCount++
	w.currentRev = rev

	counts := snap.Counts()
	w.logger.Info(ctx, "content watcher: snapshot swapped",
		"old_revision", truncRev(oldRev),
		"new_revision", truncRev(rev),
		"services", counts.Services,
		"posts", counts.Posts,
		"total_swaps", w.swapCount,
	)

	if w.metrics != nil {
		w.metrics.IncWatcherSwaps()
	}

	if w.onSwap != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error(ctx, fmt.Errorf("OnSwap panic: %v", r),
						"content watcher: OnSwap callback panicked, continuing",
						"revision", truncRev(rev),
					)
				}
			}()
			w.onSwap(rev)
		}()
	}

	return pollSwapped
}

// backoffDuration computes exponential backoff capped at maxBackoff.
// consecutiveErrs=1 → 2x interval, =2 → 4x, =3 → 8x, etc.
// Doubling stops at maxBackoff so long outages cannot overflow the duration.
func (w *Watcher) backoffDuration() time.Duration {
	d := w.interval
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	for i := 0; i < w.consecutiveErrs && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

// truncRev returns the first 12 characters of a revision for logging.
func truncRev(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
