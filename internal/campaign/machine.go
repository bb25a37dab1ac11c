// Package campaign drives profiles through the outreach workflow:
//
//	discovered -> enriched -> connection_requested -> connected -> completed
//
// with failed reachable from every non-terminal state. The store is the
// single source of truth; no workflow state lives in memory between
// ticks, so an interrupted run resumes exactly where the database says
// it stopped.
package campaign

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eracle/linkreach/internal/logging"
	"github.com/eracle/linkreach/internal/models"
	"github.com/eracle/linkreach/internal/store"
)

// Actions is the external collaborator performing browser/API work. The
// machine only interprets its results; it never touches the page itself.
// Failures must be reported as models.ActionError so the machine can tell
// retryable and throttled from terminal; anything else is treated as
// terminal.
type Actions interface {
	Enrich(ctx context.Context, url string) (*models.ResolvedProfile, json.RawMessage, error)
	SendConnectionRequest(ctx context.Context, url string, profile *models.ResolvedProfile) error
	CheckAcceptance(ctx context.Context, url string) (models.Acceptance, error)
	SendFollowUp(ctx context.Context, url string, profile *models.ResolvedProfile) error
}

// Result describes what one tick did to one profile. Milestones lists the
// run counters newly reached by this tick (at most one transition, but a
// completing transition reports both followup_sent and completed).
type Result struct {
	From       models.ProfileState
	To         models.ProfileState
	Milestones []models.RunCounter
}

func (r Result) Advanced() bool { return r.From != r.To }

// Machine decides the next legal action for one profile and is the sole
// writer of workflow state. It knows its run key so every transition and
// the counters it reaches commit in one store transaction.
type Machine struct {
	st   *store.Store
	acts Actions
	key  models.RunKey
	// maxRetries bounds recoverable failures per step; 0 retries forever.
	maxRetries int
	log        *logging.Logger
}

func NewMachine(st *store.Store, acts Actions, key models.RunKey, maxRetries int, log *logging.Logger) *Machine {
	return &Machine{st: st, acts: acts, key: key, maxRetries: maxRetries, log: log.With("module", "campaign")}
}

// Tick attempts exactly one action for url and commits the outcome before
// returning. Recoverable action failures are swallowed (state unchanged,
// retry next tick); fatal ones move the profile to failed. Only store
// faults propagate as errors — they abort the run.
func (m *Machine) Tick(ctx context.Context, url string) (Result, error) {
	if err := m.st.EnsureProfile(ctx, url); err != nil {
		return Result{}, err
	}
	p, err := m.st.GetProfile(ctx, url)
	if err != nil {
		return Result{}, err
	}

	res := Result{From: p.State, To: p.State}
	if p.State.Terminal() {
		return res, nil
	}

	switch p.State {
	case models.StateDiscovered:
		return m.enrich(ctx, p, res)
	case models.StateEnriched:
		return m.connect(ctx, p, res)
	case models.StateConnectionRequested:
		return m.checkAcceptance(ctx, p, res)
	case models.StateConnected:
		return m.followUp(ctx, p, res)
	}
	// A state outside the table means the row was tampered with; refuse
	// to act on it.
	return res, m.failProfile(ctx, p.URL, &res, fmt.Errorf("unrecognized state %q", p.State))
}

func (m *Machine) enrich(ctx context.Context, p *models.Profile, res Result) (Result, error) {
	structured, raw, err := m.acts.Enrich(ctx, p.URL)
	if err != nil {
		return m.handleFailure(ctx, p, res, err)
	}
	if err := m.st.UpsertProfile(ctx, p.URL, structured, raw); err != nil {
		return res, err
	}
	return m.advance(ctx, p, res, models.StateEnriched, models.CounterEnriched)
}

func (m *Machine) connect(ctx context.Context, p *models.Profile, res Result) (Result, error) {
	if err := m.acts.SendConnectionRequest(ctx, p.URL, p.Structured); err != nil {
		return m.handleFailure(ctx, p, res, err)
	}
	return m.advance(ctx, p, res, models.StateConnectionRequested, models.CounterConnectSent)
}

func (m *Machine) checkAcceptance(ctx context.Context, p *models.Profile, res Result) (Result, error) {
	acc, err := m.acts.CheckAcceptance(ctx, p.URL)
	if err != nil {
		return m.handleFailure(ctx, p, res, err)
	}
	switch acc {
	case models.AcceptanceAccepted:
		return m.advance(ctx, p, res, models.StateConnected, models.CounterAccepted)
	case models.AcceptancePending:
		m.log.Debug("connection still pending", "url", p.URL)
		return res, nil
	case models.AcceptanceWithdrawn:
		return res, m.failProfile(ctx, p.URL, &res, fmt.Errorf("connection request withdrawn or rejected"))
	}
	return res, m.failProfile(ctx, p.URL, &res, fmt.Errorf("unrecognized acceptance %q", acc))
}

func (m *Machine) followUp(ctx context.Context, p *models.Profile, res Result) (Result, error) {
	if err := m.acts.SendFollowUp(ctx, p.URL, p.Structured); err != nil {
		return m.handleFailure(ctx, p, res, err)
	}
	return m.advance(ctx, p, res, models.StateCompleted, models.CounterFollowupSent, models.CounterCompleted)
}

func (m *Machine) advance(ctx context.Context, p *models.Profile, res Result, to models.ProfileState, milestones ...models.RunCounter) (Result, error) {
	if err := m.st.AdvanceProfile(ctx, m.key, p.URL, to, milestones...); err != nil {
		return res, err
	}
	res.To = to
	res.Milestones = append(res.Milestones, milestones...)
	m.log.Info("profile advanced", "url", p.URL, "from", res.From, "to", to)
	return res, nil
}

// handleFailure applies the failure column of the transition table. Store
// faults still propagate; action failures never do. Throttling is not a
// failure of the profile: it holds state and spends no retry budget.
func (m *Machine) handleFailure(ctx context.Context, p *models.Profile, res Result, actionErr error) (Result, error) {
	switch models.ClassifyAction(actionErr) {
	case models.ErrThrottled:
		m.log.Info("action throttled, profile waits for next tick", "url", p.URL, "state", p.State, "err", actionErr)
		return res, nil
	case models.ErrRecoverable:
		attempts := p.Retries + 1
		if m.maxRetries > 0 && attempts >= m.maxRetries {
			m.log.Warn("retry budget exhausted", "url", p.URL, "attempts", attempts, "err", actionErr)
			return res, m.failProfile(ctx, p.URL, &res,
				fmt.Errorf("gave up after %d attempts: %w", attempts, actionErr))
		}
		if err := m.st.IncrementRetries(ctx, p.URL); err != nil {
			return res, err
		}
		m.log.Warn("recoverable failure, will retry next tick", "url", p.URL, "state", p.State, "attempt", attempts, "err", actionErr)
		return res, nil
	}
	return res, m.failProfile(ctx, p.URL, &res, actionErr)
}

func (m *Machine) failProfile(ctx context.Context, url string, res *Result, cause error) error {
	if err := m.st.SetFailure(ctx, url, cause.Error()); err != nil {
		return err
	}
	res.To = models.StateFailed
	m.log.Error("profile failed", "url", url, "cause", cause)
	return nil
}
