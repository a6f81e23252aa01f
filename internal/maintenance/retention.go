package maintenance

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"RatingWatch/internal/config"
	"RatingWatch/internal/model"
	"RatingWatch/internal/store"
)

// Janitor prunes old snapshots on a cron schedule. Dependent rating
// changes are removed by the store's cascading foreign key.
type Janitor struct {
	cron   *cron.Cron
	store  *store.Store
	maxAge time.Duration
}

// NewJanitor creates a retention job from config. A zero max_age_days
// disables pruning entirely.
func NewJanitor(cfg *config.Config, st *store.Store) *Janitor {
	return &Janitor{
		cron:   cron.New(cron.WithSeconds()),
		store:  st,
		maxAge: time.Duration(cfg.Retention.MaxAgeDays) * 24 * time.Hour,
	}
}

// Register adds the prune task under the given cron spec and starts the
// scheduler. It is a no-op when retention is disabled.
func (j *Janitor) Register(spec string) error {
	if j.maxAge == 0 {
		log.Println("[INFO] snapshot retention disabled")
		return nil
	}
	if _, err := j.cron.AddFunc(spec, j.prune); err != nil {
		return fmt.Errorf("register retention task: %w", err)
	}
	j.cron.Start()
	log.Printf("[INFO] snapshot retention scheduled: %s (max age %s)", spec, j.maxAge)
	return nil
}

// Stop stops the cron scheduler.
func (j *Janitor) Stop() {
	j.cron.Stop()
}

func (j *Janitor) prune() {
	cutoff := model.FormatTime(time.Now().UTC().Add(-j.maxAge))
	deleted, err := j.store.PruneSnapshotsBefore(cutoff)
	if err != nil {
		log.Printf("[ERROR] prune snapshots: %v", err)
		return
	}
	log.Printf("[INFO] pruned %d snapshots older than %s", deleted, cutoff)
}
