// Package session drives one CybORG game: which step is shown, which steps
// the server has already produced, and which calls are legal next.
//
// The planner functions are pure. Each takes the current State and returns
// the Effect to perform against the game server, or a guard error; Apply
// computes the successor once that effect has succeeded. Controller wires
// them to a transport, a store and a graph.View.
package session

import (
	"errors"
	"fmt"

	"github.com/csai/cyborg-arviz-agent/internal/gameapi"
)

var (
	ErrGameActive      = errors.New("game_active")
	ErrNoGame          = errors.New("no_game")
	ErrFinalStep       = errors.New("final_step")
	ErrFirstStep       = errors.New("first_step")
	ErrInvalidMaxSteps = errors.New("invalid_max_steps")
	ErrMissingAgent    = errors.New("missing_agent")
	ErrBusy            = errors.New("operation_in_flight")
)

type Phase string

const (
	PhaseNoGame   Phase = "no_game"
	PhaseActive   Phase = "active"
	PhaseFinished Phase = "finished"
)

// State is the client-side view of a game. CurrentStep is the step on
// display; LatestStep is the highest step the server has produced for us.
// 0 <= CurrentStep <= LatestStep and CurrentStep <= MaxSteps while active.
type State struct {
	GameID      string `json:"game_id,omitempty"`
	RedAgent    string `json:"red_agent,omitempty"`
	BlueAgent   string `json:"blue_agent,omitempty"`
	MaxSteps    int    `json:"max_steps"`
	CurrentStep int    `json:"current_step"`
	LatestStep  int    `json:"latest_step"`
}

func (s State) Active() bool { return s.GameID != "" }

func (s State) Phase() Phase {
	switch {
	case !s.Active():
		return PhaseNoGame
	case s.CurrentStep >= s.MaxSteps:
		return PhaseFinished
	default:
		return PhaseActive
	}
}

// Headline is the one-line status shown above the controls.
func (s State) Headline() string {
	switch {
	case !s.Active():
		return "No Game has started yet"
	case s.CurrentStep == 0:
		return fmt.Sprintf("Initialized Game: %s", s.GameID)
	case s.CurrentStep >= s.MaxSteps:
		return fmt.Sprintf("Reached Round %d, End of Game!", s.CurrentStep)
	default:
		return fmt.Sprintf("Round: %d", s.CurrentStep)
	}
}

type EffectKind string

const (
	EffectStart           EffectKind = "start"
	EffectAdvance         EffectKind = "advance"
	EffectFetchHistorical EffectKind = "fetch_historical"
	EffectEnd             EffectKind = "end"
)

// Effect is the single server call a transition needs.
type Effect struct {
	Kind   EffectKind
	GameID string
	// Step is the step that will be on display after the effect succeeds.
	Step  int
	Start gameapi.StartRequest
}

func PlanStart(s State, redAgent, blueAgent string, maxSteps int) (Effect, error) {
	if s.Active() {
		return Effect{}, ErrGameActive
	}
	if maxSteps < 1 {
		return Effect{}, ErrInvalidMaxSteps
	}
	if redAgent == "" || blueAgent == "" {
		return Effect{}, ErrMissingAgent
	}
	return Effect{
		Kind:  EffectStart,
		Start: gameapi.StartRequest{RedAgent: redAgent, BlueAgent: blueAgent, MaxSteps: maxSteps},
	}, nil
}

// PlanNext mints a new step when the newest known step is on display and
// replays an already produced step otherwise.
func PlanNext(s State) (Effect, error) {
	if !s.Active() {
		return Effect{}, ErrNoGame
	}
	if s.CurrentStep >= s.MaxSteps {
		return Effect{}, ErrFinalStep
	}
	if s.CurrentStep == s.LatestStep {
		return Effect{Kind: EffectAdvance, GameID: s.GameID, Step: s.CurrentStep + 1}, nil
	}
	return Effect{Kind: EffectFetchHistorical, GameID: s.GameID, Step: s.CurrentStep + 1}, nil
}

func PlanPrevious(s State) (Effect, error) {
	if !s.Active() {
		return Effect{}, ErrNoGame
	}
	if s.CurrentStep <= 1 {
		return Effect{}, ErrFirstStep
	}
	return Effect{Kind: EffectFetchHistorical, GameID: s.GameID, Step: s.CurrentStep - 1}, nil
}

func PlanEnd(s State) (Effect, error) {
	if !s.Active() {
		return Effect{}, ErrNoGame
	}
	return Effect{Kind: EffectEnd, GameID: s.GameID}, nil
}

// Apply returns the state after e succeeded. gameID is the id issued by the
// server and is only read for EffectStart.
func Apply(s State, e Effect, gameID string) State {
	switch e.Kind {
	case EffectStart:
		return State{
			GameID:    gameID,
			RedAgent:  e.Start.RedAgent,
			BlueAgent: e.Start.BlueAgent,
			MaxSteps:  e.Start.MaxSteps,
		}
	case EffectAdvance:
		s.CurrentStep = e.Step
		s.LatestStep++
		return s
	case EffectFetchHistorical:
		s.CurrentStep = e.Step
		return s
	case EffectEnd:
		return State{}
	}
	return s
}
