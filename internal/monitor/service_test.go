package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"RatingWatch/internal/provider"
)

// seqFetcher returns queued results in order; the last entry repeats.
type seqFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	batch provider.Batch
	err   error
}

func (f *seqFetcher) Name() string { return "seq" }

func (f *seqFetcher) Fetch(_ context.Context) (provider.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	r := f.results[idx]
	return r.batch, r.err
}

func (f *seqFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestTriggerOnceRecordsFetchFailure(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &seqFetcher{results: []fetchResult{{err: errors.New("provider down")}}}
	svc, _ := newTestService(t, cfg, fetcher)

	changes := svc.TriggerOnce()
	if len(changes) != 0 {
		t.Errorf("expected no changes on failure, got %+v", changes)
	}

	state := svc.State()
	if state.LastError == nil || *state.LastError != "provider down" {
		t.Errorf("expected last_error to carry the failure, got %v", state.LastError)
	}
	if state.TotalSnapshots != 0 {
		t.Errorf("expected total_snapshots unchanged, got %d", state.TotalSnapshots)
	}
	if state.LastRun == nil {
		t.Error("expected last_run to be set even on failure")
	}
	if state.LastSuccess != nil {
		t.Errorf("expected no last_success, got %v", state.LastSuccess)
	}
	// max_retries=0 means exactly one attempt.
	if fetcher.callCount() != 1 {
		t.Errorf("expected a single attempt, got %d", fetcher.callCount())
	}
}

func TestFetchRetryExhaustsAttempts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitor.MaxRetries = 2
	fetcher := &seqFetcher{results: []fetchResult{{err: errors.New("still down")}}}
	svc, _ := newTestService(t, cfg, fetcher)

	_, err := svc.fetchWithRetry(context.Background())
	if err == nil || err.Error() != "still down" {
		t.Fatalf("expected the last failure to surface, got %v", err)
	}
	// Initial attempt plus max_retries retries.
	if fetcher.callCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", fetcher.callCount())
	}
}

func TestFetchRetryRecoversMidway(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitor.MaxRetries = 3
	fetcher := &seqFetcher{results: []fetchResult{
		{err: errors.New("flaky")},
		{err: errors.New("flaky")},
		{batch: provider.Batch{{"Symbol": "AAPL", "AnalystRating": "Buy", "Price": 1.0}}},
	}}
	svc, _ := newTestService(t, cfg, fetcher)

	batch, err := svc.fetchWithRetry(context.Background())
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if len(batch) != 1 {
		t.Errorf("expected the successful batch, got %+v", batch)
	}
	if fetcher.callCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", fetcher.callCount())
	}
}

func TestTriggerOnceSuccessUpdatesState(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &seqFetcher{results: []fetchResult{
		{err: errors.New("first cycle fails")},
		{batch: provider.Batch{
			{"Symbol": "AAPL", "AnalystRating": "Buy", "Price": 189.2},
			{"Symbol": "MSFT", "AnalystRating": "Neutral", "Price": 327.5},
		}},
	}}
	svc, _ := newTestService(t, cfg, fetcher)

	svc.TriggerOnce()
	if state := svc.State(); state.LastError == nil {
		t.Fatal("expected an error after the failing cycle")
	}

	changes := svc.TriggerOnce()
	if len(changes) != 0 {
		t.Errorf("first observations must not produce changes, got %+v", changes)
	}
	state := svc.State()
	if state.LastError != nil {
		t.Errorf("expected last_error cleared after success, got %v", *state.LastError)
	}
	if state.LastSuccess == nil {
		t.Error("expected last_success to be set")
	}
	if state.TotalSnapshots != 2 {
		t.Errorf("expected total_snapshots=2, got %d", state.TotalSnapshots)
	}
	if state.TotalRatingChanges != 0 {
		t.Errorf("expected total_rating_changes=0, got %d", state.TotalRatingChanges)
	}
}

func TestStartAndStop(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &seqFetcher{results: []fetchResult{
		{batch: provider.Batch{{"Symbol": "AAPL", "AnalystRating": "Buy", "Price": 1.0}}},
	}}
	svc, _ := newTestService(t, cfg, fetcher)

	svc.Start()
	svc.Start() // second call is a no-op
	if !svc.IsRunning() {
		t.Fatal("expected running after Start")
	}

	// Stop must return promptly without waiting out the full interval:
	// the loop runs its first cycle and then observes cancellation at
	// the sleep boundary.
	done := make(chan struct{})
	go func() {
		svc.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return promptly")
	}

	if svc.IsRunning() {
		t.Error("expected not running after Stop")
	}
	if fetcher.callCount() == 0 {
		t.Error("expected at least one cycle before Stop")
	}
	if state := svc.State(); state.LastRun == nil {
		t.Error("expected last_run set by the initial cycle")
	}

	svc.Stop() // stop when not running is a no-op
}

// overlapFetcher counts cycles that enter Fetch while another is still
// inside. A slow fetch widens the window so an unserialised cycle would
// be caught.
type overlapFetcher struct {
	inFlight int32
	overlaps int32
	calls    int32
}

func (f *overlapFetcher) Name() string { return "overlap" }

func (f *overlapFetcher) Fetch(_ context.Context) (provider.Batch, error) {
	if atomic.AddInt32(&f.inFlight, 1) > 1 {
		atomic.AddInt32(&f.overlaps, 1)
	}
	time.Sleep(20 * time.Millisecond)
	atomic.AddInt32(&f.inFlight, -1)
	atomic.AddInt32(&f.calls, 1)
	return provider.Batch{{"Symbol": "AAPL", "AnalystRating": "Buy", "Price": 1.0}}, nil
}

func TestTriggerOnceSerialisedWithLoop(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &overlapFetcher{}
	svc, _ := newTestService(t, cfg, fetcher)

	svc.Start() // the loop's first cycle races the manual triggers below
	defer svc.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.TriggerOnce()
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&fetcher.overlaps); n != 0 {
		t.Errorf("expected cycles to run one at a time, saw %d overlapping fetches", n)
	}
	if n := atomic.LoadInt32(&fetcher.calls); n < 4 {
		t.Errorf("expected at least 4 completed cycles, got %d", n)
	}
}

func TestStateIsACopy(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &seqFetcher{results: []fetchResult{
		{batch: provider.Batch{{"Symbol": "AAPL", "AnalystRating": "Buy", "Price": 1.0}}},
		{batch: provider.Batch{{"Symbol": "AAPL", "AnalystRating": "Sell", "Price": 2.0}}},
	}}
	svc, _ := newTestService(t, cfg, fetcher)

	svc.TriggerOnce()
	svc.TriggerOnce()

	state := svc.State()
	if len(state.LastChanges) != 1 {
		t.Fatalf("expected 1 change in state, got %d", len(state.LastChanges))
	}
	state.LastChanges[0].Symbol = "MUTATED"
	if again := svc.State(); again.LastChanges[0].Symbol != "AAPL" {
		t.Error("State() must return a copy, internal state was mutated")
	}
}

func TestTriggerOnceResultIsACopy(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &seqFetcher{results: []fetchResult{
		{batch: provider.Batch{{"Symbol": "AAPL", "AnalystRating": "Buy", "Price": 1.0}}},
		{batch: provider.Batch{{"Symbol": "AAPL", "AnalystRating": "Sell", "Price": 2.0}}},
	}}
	svc, _ := newTestService(t, cfg, fetcher)

	svc.TriggerOnce()
	changes := svc.TriggerOnce()
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}

	changes[0].Symbol = "MUTATED"
	if state := svc.State(); state.LastChanges[0].Symbol != "AAPL" {
		t.Error("TriggerOnce must return a copy, internal state was mutated")
	}
}

func TestRunStateToDict(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &seqFetcher{results: []fetchResult{
		{batch: provider.Batch{{"Symbol": "AAPL", "AnalystRating": "Buy", "Price": 1.0}}},
	}}
	svc, _ := newTestService(t, cfg, fetcher)
	svc.TriggerOnce()

	state := svc.State()
	dict := state.ToDict()
	if dict["last_error"] != nil {
		t.Errorf("expected null last_error, got %v", dict["last_error"])
	}
	if _, ok := dict["last_run"].(string); !ok {
		t.Errorf("expected ISO last_run string, got %v", dict["last_run"])
	}
	if dict["total_snapshots"] != 1 {
		t.Errorf("expected total_snapshots=1, got %v", dict["total_snapshots"])
	}
	if changes, ok := dict["last_changes"].([]map[string]any); !ok || len(changes) != 0 {
		t.Errorf("expected empty last_changes list, got %v", dict["last_changes"])
	}
}
