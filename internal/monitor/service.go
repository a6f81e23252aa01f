package monitor

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"RatingWatch/internal/config"
	"RatingWatch/internal/model"
	"RatingWatch/internal/provider"
	"RatingWatch/internal/store"
)

// Service runs the periodic fetch-ingest workflow and owns the run state.
type Service struct {
	cfg     *config.Config
	store   *store.Store
	fetcher provider.Fetcher

	// cycleMu serializes cycle execution so a manual TriggerOnce never
	// overlaps the periodic loop on the same store.
	cycleMu sync.Mutex

	mu      sync.Mutex
	state   model.RunState
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewService creates a monitor service around a store and a fetcher.
func NewService(cfg *config.Config, st *store.Store, fetcher provider.Fetcher) *Service {
	return &Service{cfg: cfg, store: st, fetcher: fetcher}
}

// Start begins the monitoring loop. It is a no-op if already running.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true
	go s.runLoop(s.stopCh, s.doneCh)
	log.Printf("[INFO] monitor started: interval=%ds range=(%d, %d) source=%s",
		s.cfg.Monitor.IntervalSeconds, s.cfg.Monitor.RangeStart, s.cfg.Monitor.RangeEnd, s.fetcher.Name())
}

// Stop signals the loop and waits for the in-flight cycle to finish.
// Calling Stop when not running is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	log.Println("[INFO] monitor stopped")
}

// IsRunning reports whether the periodic loop is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerOnce executes a single cycle immediately, independent of the
// periodic timer, and returns the detected changes. Failures are recorded
// in the run state instead of being returned.
func (s *Service) TriggerOnce() []model.RatingChange {
	return s.runCycle(context.Background())
}

// State returns a copy of the current run state.
func (s *Service) State() model.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *Service) runLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	interval := time.Duration(s.cfg.Monitor.IntervalSeconds) * time.Second
	for {
		s.runCycle(context.Background())
		select {
		case <-stopCh:
			return
		case <-time.After(interval):
		}
	}
}

// runCycle executes fetch -> ingest -> state update. Any failure is
// caught here, recorded as last_error and logged; it never escapes.
func (s *Service) runCycle(ctx context.Context) []model.RatingChange {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	now := time.Now().UTC()
	s.mu.Lock()
	s.state.LastRun = &now
	s.mu.Unlock()

	batch, err := s.fetchWithRetry(ctx)
	var changes []model.RatingChange
	var processed int
	if err == nil {
		changes, processed, err = s.Ingest(batch, now)
	}
	if err != nil {
		msg := err.Error()
		s.mu.Lock()
		s.state.LastError = &msg
		s.mu.Unlock()
		log.Printf("[ERROR] monitoring cycle failed: %v", err)
		return []model.RatingChange{}
	}

	s.mu.Lock()
	s.state.TotalSnapshots += processed
	s.state.TotalRatingChanges += len(changes)
	s.state.LastChanges = changes
	s.state.LastSuccess = &now
	s.state.LastError = nil
	s.mu.Unlock()

	// Hand the caller its own slice; changes now backs state.LastChanges.
	out := make([]model.RatingChange, len(changes))
	copy(out, changes)

	for i := range changes {
		c := &changes[i]
		log.Printf("[INFO] analyst rating changed for %s: %s -> %s (price %s -> %s)",
			c.Symbol, derefStr(c.OldRating), derefStr(c.NewRating),
			derefFloat(c.PriceBefore), derefFloat(c.PriceAfter))
	}
	return out
}

// fetchWithRetry wraps the blocking provider call with bounded
// linear-backoff retries: the first try is undelayed, each retry waits
// backoff * attempt, and the last failure is returned once retries are
// exhausted.
func (s *Service) fetchWithRetry(ctx context.Context) (provider.Batch, error) {
	backoff := time.Duration(s.cfg.Monitor.RetryBackoffSeconds) * time.Second
	delay := backoff
	var lastErr error
	attempt := 0
	for attempt <= s.cfg.Monitor.MaxRetries {
		batch, err := s.fetcher.Fetch(ctx)
		if err == nil {
			return batch, nil
		}
		lastErr = err
		attempt++
		if attempt > s.cfg.Monitor.MaxRetries {
			break
		}
		log.Printf("[WARN] fetch attempt %d failed: %v, retrying in %s", attempt, err, delay)
		time.Sleep(delay)
		delay += backoff
	}
	return nil, lastErr
}

func derefStr(s *string) string {
	if s == nil {
		return "<none>"
	}
	return *s
}

func derefFloat(f *float64) string {
	if f == nil {
		return "<none>"
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
