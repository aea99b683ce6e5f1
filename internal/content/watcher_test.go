package content

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/greenleafcpa/greenleaf-web/internal/log"
)

// fakeFetcher returns queued results in order, repeating the last one.
type fakeFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	raw []byte
	err error
}

func (f *fakeFetcher) push(raw []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, fetchResult{raw, err})
}

func (f *fakeFetcher) FetchSnapshotDocs(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return nil, errors.New("no result queued")
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r.raw, r.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeWatcherMetrics struct {
	mu     sync.Mutex
	polls  int
	swaps  int
	errors map[string]int
	stale  bool
}

func (m *fakeWatcherMetrics) IncWatcherPolls() {
	m.mu.Lock()
	m.polls++
	m.mu.Unlock()
}

func (m *fakeWatcherMetrics) IncWatcherSwaps() {
	m.mu.Lock()
	m.swaps++
	m.mu.Unlock()
}

func (m *fakeWatcherMetrics) IncWatcherError(errType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = map[string]int{}
	}
	m.errors[errType]++
}

func (m *fakeWatcherMetrics) ObserveFetchDuration(float64) {}

func (m *fakeWatcherMetrics) SetWatcherLastSuccess(float64) {}

func (m *fakeWatcherMetrics) SetWatcherStale(stale bool) {
	m.mu.Lock()
	m.stale = stale
	m.mu.Unlock()
}

func newTestWatcher(f Fetcher, mgr *Manager, opts ...func(*WatcherOptions)) *Watcher {
	wopts := WatcherOptions{
		Logger:       log.Nop(),
		Fetcher:      f,
		Manager:      mgr,
		PollInterval: time.Second,
	}
	for _, fn := range opts {
		fn(&wopts)
	}
	return NewWatcher(wopts)
}

func TestBackoffDuration_Progression(t *testing.T) {
	w := &Watcher{interval: 30 * time.Second}

	tests := []struct {
		consecutiveErrs int
		want            time.Duration
	}{
		{0, 30 * time.Second},
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{3, 240 * time.Second},
		{4, 5 * time.Minute}, // 480s capped
		{10, 5 * time.Minute},
	}
	for _, tt := range tests {
		w.consecutiveErrs = tt.consecutiveErrs
		if got := w.backoffDuration(); got != tt.want {
			t.Fatalf("consecutiveErrs=%d: backoff=%v, want %v", tt.consecutiveErrs, got, tt.want)
		}
	}
}

func TestBackoffDuration_LongOutageStaysCapped(t *testing.T) {
	for _, interval := range []time.Duration{time.Second, DefaultPollInterval, time.Hour} {
		w := &Watcher{interval: interval}
		for _, errs := range []int{27, 28, 40, 64, 1000} {
			w.consecutiveErrs = errs
			if got := w.backoffDuration(); got <= 0 || got > maxBackoff {
				t.Fatalf("interval=%v consecutiveErrs=%d: backoff=%v, want (0, %v]", interval, errs, got, maxBackoff)
			}
		}
	}
}

func TestAfterPoll_LongOutageResetsTickerSafely(t *testing.T) {
	w := newTestWatcher(&fakeFetcher{}, NewManager(), func(o *WatcherOptions) {
		o.PollInterval = DefaultPollInterval
	})
	w.consecutiveErrs = 63
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	w.afterPoll(context.Background(), pollFetchError, ticker)
	if w.consecutiveErrs != 64 {
		t.Fatalf("consecutiveErrs = %d, want 64", w.consecutiveErrs)
	}
}

func TestNewWatcher_Defaults(t *testing.T) {
	w := NewWatcher(WatcherOptions{Manager: NewManager(), PollInterval: -1})
	if w.interval != DefaultPollInterval {
		t.Errorf("interval = %v, want %v", w.interval, DefaultPollInterval)
	}
	if w.logger == nil {
		t.Error("nil logger should default to Nop")
	}
	if w.validation != DefaultValidationOptions() {
		t.Errorf("validation = %+v", w.validation)
	}
	if w.staleThreshold != defaultStaleThreshold {
		t.Errorf("staleThreshold = %v", w.staleThreshold)
	}
	if w.currentRev != "" {
		t.Errorf("empty manager should give empty revision, got %q", w.currentRev)
	}
}

func TestNewWatcher_SeedsCurrentRevision(t *testing.T) {
	mgr := NewManager()
	snap := testSnapshot(t)
	mgr.Set(*snap)
	if w := newTestWatcher(&fakeFetcher{}, mgr); w.currentRev != snap.Revision {
		t.Fatalf("currentRev = %q, want %q", w.currentRev, snap.Revision)
	}
}

func TestCheckOnce_NoChange(t *testing.T) {
	raw := rawDocs(t, testDocs())
	mgr := NewManager()
	snap, _ := NewSnapshot(raw, SourceSeed)
	mgr.Set(*snap)

	f := &fakeFetcher{}
	f.push(raw, nil)
	w := newTestWatcher(f, mgr)

	if got := w.checkOnce(context.Background()); got != pollNoChange {
		t.Fatalf("result = %v, want pollNoChange", got)
	}
	if mgr.Source() != SourceSeed {
		t.Fatal("unchanged content should not be re-swapped")
	}
}

func TestCheckOnce_Swap(t *testing.T) {
	mgr := NewManager()
	mgr.Set(*testSnapshot(t))

	raw := rawDocs(t, testDocs("tax-preparation", "bookkeeping"))
	f := &fakeFetcher{}
	f.push(raw, nil)

	var swapped []string
	m := &fakeWatcherMetrics{}
	w := newTestWatcher(f, mgr, func(o *WatcherOptions) {
		o.OnSwap = func(rev string) { swapped = append(swapped, rev) }
		o.Metrics = m
	})

	if got := w.checkOnce(context.Background()); got != pollSwapped {
		t.Fatalf("result = %v, want pollSwapped", got)
	}
	want := Revision(raw)
	if mgr.ContentRevision() != want || mgr.Source() != SourceCMS {
		t.Fatalf("manager = %q %q", mgr.ContentRevision(), mgr.Source())
	}
	if len(swapped) != 1 || swapped[0] != want {
		t.Fatalf("OnSwap calls = %v", swapped)
	}
	if m.polls != 1 || m.swaps != 1 {
		t.Fatalf("metrics polls=%d swaps=%d", m.polls, m.swaps)
	}

	// same bytes again is a no-op
	if got := w.checkOnce(context.Background()); got != pollNoChange {
		t.Fatalf("second result = %v, want pollNoChange", got)
	}
}

func TestCheckOnce_FailuresKeepCurrent(t *testing.T) {
	invalid := testDocs()
	invalid.Services = nil

	tests := []struct {
		name    string
		raw     []byte
		err     error
		want    pollResult
		errType string
	}{
		{"fetch error", nil, errors.New("dial tcp: timeout"), pollFetchError, "fetch"},
		{"decode error", []byte(`{"services":"nope"}`), nil, pollDecodeError, "decode"},
		{"validation error", rawDocs(t, invalid), nil, pollValidationError, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewManager()
			current := testSnapshot(t)
			mgr.Set(*current)

			f := &fakeFetcher{}
			f.push(tt.raw, tt.err)
			m := &fakeWatcherMetrics{}
			w := newTestWatcher(f, mgr, func(o *WatcherOptions) { o.Metrics = m })

			if got := w.checkOnce(context.Background()); got != tt.want {
				t.Fatalf("result = %v, want %v", got, tt.want)
			}
			if mgr.ContentRevision() != current.Revision {
				t.Fatal("active snapshot must not change on failure")
			}
			if m.errors[tt.errType] != 1 {
				t.Fatalf("errors = %v, want %s=1", m.errors, tt.errType)
			}
		})
	}
}

func TestCheckOnce_OnSwapPanicRecovered(t *testing.T) {
	f := &fakeFetcher{}
	f.push(rawDocs(t, testDocs()), nil)
	w := newTestWatcher(f, NewManager(), func(o *WatcherOptions) {
		o.OnSwap = func(string) { panic("boom") }
	})
	if got := w.checkOnce(context.Background()); got != pollSwapped {
		t.Fatalf("result = %v, want pollSwapped", got)
	}
}

func TestAfterPoll_StaleTransitions(t *testing.T) {
	m := &fakeWatcherMetrics{}
	w := newTestWatcher(&fakeFetcher{}, NewManager(), func(o *WatcherOptions) {
		o.Metrics = m
		o.StaleThreshold = time.Minute
	})
	w.lastSuccessAt = time.Now().Add(-2 * time.Minute)

	w.afterPoll(context.Background(), pollFetchError, nil)
	if !m.stale || !w.staleLogged || w.consecutiveErrs != 1 {
		t.Fatalf("expected stale after long error streak: stale=%v errs=%d", m.stale, w.consecutiveErrs)
	}

	w.afterPoll(context.Background(), pollNoChange, nil)
	if m.stale || w.staleLogged || w.consecutiveErrs != 0 {
		t.Fatal("successful poll should clear stale state and error streak")
	}
}

func TestRun_InitialPollAndStop(t *testing.T) {
	mgr := NewManager()
	f := &fakeFetcher{}
	f.push(rawDocs(t, testDocs()), nil)
	w := newTestWatcher(f, mgr, func(o *WatcherOptions) { o.PollInterval = time.Hour })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for mgr.ReadyErr() != nil {
		if time.Now().After(deadline) {
			t.Fatal("initial poll did not swap content")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestRun_DetectsChangeOnTick(t *testing.T) {
	mgr := NewManager()
	first := rawDocs(t, testDocs("a"))
	second := rawDocs(t, testDocs("a", "b"))
	f := &fakeFetcher{}
	f.push(first, nil)
	f.push(second, nil)
	w := newTestWatcher(f, mgr, func(o *WatcherOptions) { o.PollInterval = 10 * time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	want := Revision(second)
	deadline := time.Now().Add(2 * time.Second)
	for mgr.ContentRevision() != want {
		if time.Now().After(deadline) {
			t.Fatalf("revision = %q after %d polls, want %q", truncRev(mgr.ContentRevision()), f.callCount(), truncRev(want))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTruncRev(t *testing.T) {
	tests := map[string]string{
		"":                 "",
		"abc":              "abc",
		"abcdef123456":     "abcdef123456",
		"abcdef1234567890": "abcdef123456",
	}
	for in, want := range tests {
		if got := truncRev(in); got != want {
			t.Errorf("truncRev(%q) = %q, want %q", in, got, want)
		}
	}
}
