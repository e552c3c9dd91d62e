package state

import "time"

// SessionRecord is the persisted form of one client's game session.
type SessionRecord struct {
	Profile     string    `json:"profile"`
	GameID      string    `json:"game_id"`
	RedAgent    string    `json:"red_agent"`
	BlueAgent   string    `json:"blue_agent"`
	MaxSteps    int       `json:"max_steps"`
	CurrentStep int       `json:"current_step"`
	LatestStep  int       `json:"latest_step"`
	BaseURL     string    `json:"base_url,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Document struct {
	Sessions  map[string]SessionRecord `json:"sessions"`
	UpdatedAt time.Time                `json:"updated_at"`
}
