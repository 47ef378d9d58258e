package events

// Viewer identifies who is reading the log.
type Viewer struct {
	PlayerID string
	Team     string
	// Omniscient viewers (replay tooling, spectators after the game) see everything.
	Omniscient bool
}

// Omniscient is the viewer used by replay and storage.
var Omniscient = Viewer{Omniscient: true}

// CanSee reports whether v may read e.
func (v Viewer) CanSee(e GameEvent) bool {
	if v.Omniscient {
		return true
	}
	switch e.Visibility {
	case VisibilityPublic:
		return true
	case VisibilityActor:
		return v.PlayerID != "" && e.ActorID == v.PlayerID
	case VisibilityTeam:
		return v.Team != "" && e.Team == v.Team
	default:
		return false
	}
}

// Filter narrows a read of the log.
type Filter struct {
	Types  []EventType
	Viewer *Viewer
	Limit  int
}

// Match reports whether e passes the filter. A nil Viewer means public events only.
func (f Filter) Match(e GameEvent) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Viewer == nil {
		return e.Visibility == VisibilityPublic
	}
	return f.Viewer.CanSee(e)
}
