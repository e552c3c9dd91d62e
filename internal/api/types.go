package api

import (
	"encoding/json"

	"github.com/csai/cyborg-arviz-agent/internal/session"
)

// StartSessionRequest fields are optional; zero values fall back to the
// configured defaults.
type StartSessionRequest struct {
	RedAgent  string `json:"red_agent"`
	BlueAgent string `json:"blue_agent"`
	MaxSteps  int    `json:"max_steps"`
}

type SessionResponse struct {
	OK      bool           `json:"ok"`
	Session session.Status `json:"session"`
}

type EndSessionResponse struct {
	OK      bool           `json:"ok"`
	Message string         `json:"message"`
	Session session.Status `json:"session"`
}

type GraphResponse struct {
	OK         bool            `json:"ok"`
	Step       int             `json:"step"`
	RedAction  string          `json:"red_action"`
	BlueAction string          `json:"blue_action"`
	Graph      json.RawMessage `json:"graph"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Uptime     int64  `json:"uptime_seconds"`
	GameActive bool   `json:"game_active"`
	Loading    bool   `json:"loading"`
}

type ReadyResponse struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
}
