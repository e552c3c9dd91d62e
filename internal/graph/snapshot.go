// Package graph holds the network graph returned by the simulation server for
// one step and the view model that presents the latest one.
package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

var ErrMissingSide = errors.New("snapshot is missing a side")

const (
	SideRed  = "Red"
	SideBlue = "Blue"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

type Node struct {
	ID       string    `json:"id"`
	Status   string    `json:"status,omitempty"`
	Type     string    `json:"type,omitempty"`
	Position *Position `json:"position,omitempty"`
}

// Compromised reports whether the node status marks attacker access.
func (n Node) Compromised() bool {
	switch strings.ToLower(n.Status) {
	case "", "none", "unknown", "safe", "clean":
		return false
	}
	return true
}

type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Side is one participant's view of the network at a step.
type Side struct {
	ActionInfo json.RawMessage `json:"action_info"`
	Nodes      []Node          `json:"nodes"`
	Edges      []Edge          `json:"links"`
}

// UnmarshalJSON accepts the edge collection under either "links"
// (networkx node-link output) or "edges".
func (s *Side) UnmarshalJSON(b []byte) error {
	var raw struct {
		ActionInfo json.RawMessage `json:"action_info"`
		Nodes      []Node          `json:"nodes"`
		Links      []Edge          `json:"links"`
		Edges      []Edge          `json:"edges"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.ActionInfo = raw.ActionInfo
	s.Nodes = raw.Nodes
	s.Edges = raw.Links
	if s.Edges == nil {
		s.Edges = raw.Edges
	}
	return nil
}

// ActionSummary renders the free-form action_info for display: JSON strings
// are unquoted, anything else is compacted.
func (s Side) ActionSummary() string {
	if len(s.ActionInfo) == 0 || string(s.ActionInfo) == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(s.ActionInfo, &str); err == nil {
		return str
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, s.ActionInfo); err != nil {
		return string(s.ActionInfo)
	}
	return buf.String()
}

func (s Side) CompromisedCount() int {
	n := 0
	for _, node := range s.Nodes {
		if node.Compromised() {
			n++
		}
	}
	return n
}

// StatusCounts groups nodes by status; nodes without one count as "unknown".
func (s Side) StatusCounts() map[string]int {
	out := map[string]int{}
	for _, node := range s.Nodes {
		status := node.Status
		if status == "" {
			status = "unknown"
		}
		out[status]++
	}
	return out
}

// Snapshot is the graph for one step. Raw holds the response body exactly as
// received.
type Snapshot struct {
	Red  Side   `json:"Red"`
	Blue Side   `json:"Blue"`
	Raw  []byte `json:"-"`
}

// Side returns the named participant view.
func (s *Snapshot) Side(name string) (Side, bool) {
	switch name {
	case SideRed:
		return s.Red, true
	case SideBlue:
		return s.Blue, true
	}
	return Side{}, false
}

// Decode parses a snapshot body. Both sides must be present.
func Decode(body []byte, unmarshal func([]byte, any) error) (*Snapshot, error) {
	if unmarshal == nil {
		unmarshal = json.Unmarshal
	}
	var probe struct {
		Red  json.RawMessage `json:"Red"`
		Blue json.RawMessage `json:"Blue"`
	}
	if err := unmarshal(body, &probe); err != nil {
		return nil, err
	}
	if isNull(probe.Red) || isNull(probe.Blue) {
		return nil, ErrMissingSide
	}
	snap := &Snapshot{}
	if err := json.Unmarshal(probe.Red, &snap.Red); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(probe.Blue, &snap.Blue); err != nil {
		return nil, err
	}
	snap.Raw = append([]byte(nil), body...)
	return snap, nil
}

func isNull(b json.RawMessage) bool {
	return len(b) == 0 || string(b) == "null"
}

// SortedStatuses returns the keys of counts in a stable order.
func SortedStatuses(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
