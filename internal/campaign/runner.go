package campaign

import (
	"context"
	"time"

	"github.com/eracle/linkreach/internal/logging"
	"github.com/eracle/linkreach/internal/models"
	"github.com/eracle/linkreach/internal/store"
)

// TickStats summarizes one full pass over the input set.
type TickStats struct {
	Processed int
	Advanced  int
	Completed int
	Failed    int
	Pending   int
}

// Runner iterates the input set once per tick and feeds each profile to
// the state machine. One runner per account; profiles are handled
// strictly one at a time because the browser session behind the actions
// is a single non-shareable resource.
type Runner struct {
	st      *store.Store
	machine *Machine
	key     models.RunKey
	urls    []string
	log     *logging.Logger

	// Pace is called between profiles to keep a human-like cadence.
	// Nil means no delay (tests).
	Pace func()
}

func NewRunner(st *store.Store, machine *Machine, key models.RunKey, urls []string, log *logging.Logger) *Runner {
	return &Runner{st: st, machine: machine, key: key, urls: urls, log: log.With("module", "runner", "campaign", key.Campaign, "handle", key.Handle)}
}

// Start creates or resumes the campaign run record and returns its short
// id. Safe to call on every invocation.
func (r *Runner) Start(ctx context.Context) (string, error) {
	shortID, err := r.st.EnsureCampaignRun(ctx, r.key, len(r.urls))
	if err != nil {
		return "", err
	}
	r.log.Info("campaign run ready", "run_id", shortID, "total_profiles", len(r.urls))
	return shortID, nil
}

// RunTick walks the input set in order, giving each profile exactly one
// shot at advancing. The machine commits each transition together with
// its run counters, so an interrupt between profiles loses nothing.
func (r *Runner) RunTick(ctx context.Context) (TickStats, error) {
	var stats TickStats
	for i, url := range r.urls {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		res, err := r.machine.Tick(ctx, url)
		if err != nil {
			// Store faults are not locally recoverable; abort rather
			// than risk silent data loss.
			return stats, err
		}
		stats.Processed++
		if res.Advanced() {
			stats.Advanced++
		}
		switch res.To {
		case models.StateCompleted:
			if res.Advanced() {
				stats.Completed++
			}
		case models.StateFailed:
			if res.Advanced() {
				stats.Failed++
			}
		default:
			stats.Pending++
		}
		if r.Pace != nil && res.Advanced() && i < len(r.urls)-1 {
			r.Pace()
		}
	}
	r.log.Info("tick finished", "processed", stats.Processed, "advanced", stats.Advanced,
		"completed", stats.Completed, "failed", stats.Failed, "pending", stats.Pending)
	return stats, nil
}

// Done reports whether every profile in the input set is terminal.
func (r *Runner) Done(ctx context.Context) (bool, error) {
	for _, url := range r.urls {
		p, err := r.st.GetProfile(ctx, url)
		if err != nil {
			return false, err
		}
		if p == nil || !p.State.Terminal() {
			return false, nil
		}
	}
	return true, nil
}

// Run ticks until every profile is terminal or ctx is cancelled, waiting
// interval between passes that still have pending work.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	if _, err := r.Start(ctx); err != nil {
		return err
	}
	for {
		if _, err := r.RunTick(ctx); err != nil {
			return err
		}
		done, err := r.Done(ctx)
		if err != nil {
			return err
		}
		if done {
			r.log.Info("campaign run complete")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
