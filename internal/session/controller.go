package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/csai/cyborg-arviz-agent/internal/gameapi"
	"github.com/csai/cyborg-arviz-agent/internal/graph"
	"github.com/csai/cyborg-arviz-agent/internal/metrics"
	"github.com/csai/cyborg-arviz-agent/internal/state"
)

// Transport is the game server API the controller needs.
type Transport interface {
	Start(ctx context.Context, req gameapi.StartRequest) (string, error)
	Advance(ctx context.Context, gameID string) (*graph.Snapshot, error)
	FetchHistorical(ctx context.Context, gameID string, step int) (*graph.Snapshot, error)
	End(ctx context.Context, gameID string) (string, error)
}

type Options struct {
	Profile string
	BaseURL string
	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// Status is a read-only summary for front-ends.
type Status struct {
	State     State     `json:"state"`
	Phase     Phase     `json:"phase"`
	Loading   bool      `json:"loading"`
	Headline  string    `json:"headline"`
	HasGraph  bool      `json:"has_graph"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Controller runs session operations one at a time. A call made while
// another is in flight fails with ErrBusy instead of queueing.
type Controller struct {
	transport Transport
	store     state.Store
	view      *graph.View
	log       *slog.Logger
	metrics   *metrics.Registry
	profile   string
	baseURL   string

	loading atomic.Bool

	mu        sync.RWMutex
	st        State
	startedAt time.Time
}

// NewController restores the persisted session for opts.Profile, if any.
func NewController(ctx context.Context, tr Transport, store state.Store, view *graph.View, opts Options) (*Controller, error) {
	if opts.Profile == "" {
		opts.Profile = "default"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if view == nil {
		view = graph.NewView()
	}
	c := &Controller{
		transport: tr,
		store:     store,
		view:      view,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		profile:   opts.Profile,
		baseURL:   opts.BaseURL,
	}
	rec, ok, err := store.Get(ctx, opts.Profile)
	if err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}
	if ok && rec.GameID != "" {
		c.st = fromRecord(rec)
		c.startedAt = rec.StartedAt
		if rec.BaseURL != "" && opts.BaseURL != "" && rec.BaseURL != opts.BaseURL {
			c.log.Warn("session_base_url_changed",
				slog.String("game_id", rec.GameID),
				slog.String("recorded", rec.BaseURL),
				slog.String("configured", opts.BaseURL))
		}
		c.log.Info("session_restored",
			slog.String("profile", c.profile),
			slog.String("game_id", rec.GameID),
			slog.Int("current_step", rec.CurrentStep),
			slog.Int("latest_step", rec.LatestStep))
	}
	c.setStepGauge(c.st)
	return c, nil
}

func (c *Controller) View() *graph.View { return c.view }

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.st
}

func (c *Controller) Loading() bool { return c.loading.Load() }

func (c *Controller) Status() Status {
	c.mu.RLock()
	st, startedAt := c.st, c.startedAt
	c.mu.RUnlock()
	return Status{
		State:     st,
		Phase:     st.Phase(),
		Loading:   c.loading.Load(),
		Headline:  st.Headline(),
		HasGraph:  c.view.Current() != nil,
		StartedAt: startedAt,
	}
}

// Start creates a game on the server. On failure nothing is recorded.
func (c *Controller) Start(ctx context.Context, redAgent, blueAgent string, maxSteps int) (State, error) {
	if err := c.acquire(); err != nil {
		return c.State(), err
	}
	defer c.release()

	cur := c.State()
	eff, err := PlanStart(cur, redAgent, blueAgent, maxSteps)
	if err != nil {
		return cur, err
	}
	gameID, err := c.transport.Start(ctx, eff.Start)
	if err != nil {
		c.logFailure("game_start_failed", eff, err)
		return cur, err
	}
	next := Apply(cur, eff, gameID)
	c.commit(ctx, next, nil, true)
	if c.metrics != nil {
		c.metrics.IncSessionStart()
	}
	c.log.Info("game_started",
		slog.String("game_id", gameID),
		slog.String("red_agent", redAgent),
		slog.String("blue_agent", blueAgent),
		slog.Int("max_steps", maxSteps))
	return next, nil
}

// Next moves the display one step forward, minting the step on the server
// when it does not exist yet.
func (c *Controller) Next(ctx context.Context) (State, error) {
	return c.step(ctx, PlanNext)
}

// Previous moves the display one step back by replaying it.
func (c *Controller) Previous(ctx context.Context) (State, error) {
	return c.step(ctx, PlanPrevious)
}

func (c *Controller) step(ctx context.Context, plan func(State) (Effect, error)) (State, error) {
	if err := c.acquire(); err != nil {
		return c.State(), err
	}
	defer c.release()

	cur := c.State()
	eff, err := plan(cur)
	if err != nil {
		return cur, err
	}
	snap, err := c.fetch(ctx, eff)
	if err != nil {
		c.logFailure("session_step_failed", eff, err)
		return cur, err
	}
	next := Apply(cur, eff, "")
	c.commit(ctx, next, snap, false)
	c.log.Info("session_stepped",
		slog.String("game_id", next.GameID),
		slog.String("effect", string(eff.Kind)),
		slog.Int("current_step", next.CurrentStep),
		slog.Int("latest_step", next.LatestStep))
	return next, nil
}

// End deletes the game on the server and returns its closing message. When
// the server call fails the game is presumed alive and stays recorded.
func (c *Controller) End(ctx context.Context) (State, string, error) {
	if err := c.acquire(); err != nil {
		return c.State(), "", err
	}
	defer c.release()

	cur := c.State()
	eff, err := PlanEnd(cur)
	if err != nil {
		return cur, "", err
	}
	message, err := c.transport.End(ctx, eff.GameID)
	if err != nil {
		c.logFailure("game_end_failed", eff, err)
		return cur, "", err
	}
	next := Apply(cur, eff, "")
	c.mu.Lock()
	c.st = next
	c.startedAt = time.Time{}
	c.view.Clear()
	c.mu.Unlock()
	if err := c.store.Delete(ctx, c.profile); err != nil {
		c.log.Error("session_persist_failed", slog.String("profile", c.profile), slog.String("error", err.Error()))
	}
	c.setStepGauge(next)
	if c.metrics != nil {
		c.metrics.IncSessionEnd()
	}
	c.log.Info("game_ended", slog.String("game_id", eff.GameID), slog.String("message", message))
	return next, message, nil
}

// Resume reloads the graph for the current step after a restart. It is a
// no-op when there is nothing to show or a graph is already presented.
func (c *Controller) Resume(ctx context.Context) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	cur := c.State()
	if !cur.Active() || cur.CurrentStep == 0 || c.view.Current() != nil {
		return nil
	}
	eff := Effect{Kind: EffectFetchHistorical, GameID: cur.GameID, Step: cur.CurrentStep}
	snap, err := c.fetch(ctx, eff)
	if err != nil {
		c.logFailure("session_resume_failed", eff, err)
		return err
	}
	c.view.Replace(snap)
	return nil
}

func (c *Controller) fetch(ctx context.Context, eff Effect) (*graph.Snapshot, error) {
	switch eff.Kind {
	case EffectAdvance:
		return c.transport.Advance(ctx, eff.GameID)
	case EffectFetchHistorical:
		return c.transport.FetchHistorical(ctx, eff.GameID, eff.Step)
	}
	return nil, fmt.Errorf("effect %s does not fetch a graph", eff.Kind)
}

// commit publishes the new state together with its graph and persists it.
// Persistence errors are logged: the server has already moved on.
func (c *Controller) commit(ctx context.Context, next State, snap *graph.Snapshot, started bool) {
	c.mu.Lock()
	c.st = next
	if started {
		c.startedAt = time.Now().UTC()
	}
	startedAt := c.startedAt
	if snap != nil {
		c.view.Replace(snap)
	}
	c.mu.Unlock()

	c.setStepGauge(next)
	rec := toRecord(c.profile, c.baseURL, next, startedAt)
	if err := c.store.Upsert(ctx, rec); err != nil {
		c.log.Error("session_persist_failed", slog.String("profile", c.profile), slog.String("error", err.Error()))
	}
}

func (c *Controller) acquire() error {
	if !c.loading.CompareAndSwap(false, true) {
		return ErrBusy
	}
	if c.metrics != nil {
		c.metrics.SetLoading(true)
	}
	return nil
}

func (c *Controller) release() {
	c.loading.Store(false)
	if c.metrics != nil {
		c.metrics.SetLoading(false)
	}
}

func (c *Controller) setStepGauge(s State) {
	if c.metrics != nil {
		c.metrics.SetCurrentStep(s.CurrentStep)
	}
}

func (c *Controller) logFailure(event string, eff Effect, err error) {
	attrs := []any{
		slog.String("effect", string(eff.Kind)),
		slog.String("game_id", eff.GameID),
		slog.Int("step", eff.Step),
		slog.String("error", err.Error()),
	}
	var apiErr *gameapi.Error
	if errors.As(err, &apiErr) {
		attrs = append(attrs, slog.String("kind", string(apiErr.Kind)))
		if apiErr.Status != 0 {
			attrs = append(attrs, slog.Int("status", apiErr.Status))
		}
	}
	c.log.Warn(event, attrs...)
}

func fromRecord(rec state.SessionRecord) State {
	return State{
		GameID:      rec.GameID,
		RedAgent:    rec.RedAgent,
		BlueAgent:   rec.BlueAgent,
		MaxSteps:    rec.MaxSteps,
		CurrentStep: rec.CurrentStep,
		LatestStep:  rec.LatestStep,
	}
}

func toRecord(profile, baseURL string, s State, startedAt time.Time) state.SessionRecord {
	return state.SessionRecord{
		Profile:     profile,
		GameID:      s.GameID,
		RedAgent:    s.RedAgent,
		BlueAgent:   s.BlueAgent,
		MaxSteps:    s.MaxSteps,
		CurrentStep: s.CurrentStep,
		LatestStep:  s.LatestStep,
		BaseURL:     baseURL,
		StartedAt:   startedAt,
	}
}
