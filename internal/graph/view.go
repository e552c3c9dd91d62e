package graph

import "sync/atomic"

// View holds the snapshot currently presented to the renderer. Readers never
// observe a partially replaced graph.
type View struct {
	current atomic.Pointer[Snapshot]
}

func NewView() *View { return &View{} }

func (v *View) Replace(s *Snapshot) { v.current.Store(s) }

func (v *View) Clear() { v.current.Store(nil) }

// Current returns the presented snapshot or nil.
func (v *View) Current() *Snapshot { return v.current.Load() }

func (v *View) ActionSummaries() (red, blue string, ok bool) {
	s := v.current.Load()
	if s == nil {
		return "", "", false
	}
	return s.Red.ActionSummary(), s.Blue.ActionSummary(), true
}

// Nodes returns a copy of the named side's nodes.
func (v *View) Nodes(side string) []Node {
	s := v.current.Load()
	if s == nil {
		return nil
	}
	sv, ok := s.Side(side)
	if !ok {
		return nil
	}
	return append([]Node(nil), sv.Nodes...)
}

// Edges returns a copy of the named side's edges.
func (v *View) Edges(side string) []Edge {
	s := v.current.Load()
	if s == nil {
		return nil
	}
	sv, ok := s.Side(side)
	if !ok {
		return nil
	}
	return append([]Edge(nil), sv.Edges...)
}
