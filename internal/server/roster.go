// Package server tracks which sessions are registered and under what name.
package server

import (
	"sort"

	"github.com/samber/lo"
)

// Roster maps session ids to display names. It is the single source of truth
// for "who is online" and is mutated exclusively from the hub's run loop, so
// it needs no locking of its own.
type Roster struct {
	names map[string]string
}

// NewRoster returns an empty roster.
func NewRoster() *Roster {
	return &Roster{names: make(map[string]string)}
}

// Set binds a display name to a session id. It reports whether the session
// was newly registered; re-registering overwrites the stored name and
// returns false.
func (r *Roster) Set(sessionID, username string) bool {
	_, registered := r.names[sessionID]
	r.names[sessionID] = username
	return !registered
}

// Name returns the display name registered for the session, if any.
func (r *Roster) Name(sessionID string) (string, bool) {
	name, ok := r.names[sessionID]
	return name, ok
}

// Remove unregisters the session and returns the name it was registered
// under. Removing an unknown session is a no-op.
func (r *Roster) Remove(sessionID string) (string, bool) {
	name, ok := r.names[sessionID]
	if ok {
		delete(r.names, sessionID)
	}
	return name, ok
}

// Len returns the number of registered sessions.
func (r *Roster) Len() int {
	return len(r.names)
}

// Snapshot projects the roster into a slice for broadcasting, sorted by
// username then session id so clients render a stable listing.
func (r *Roster) Snapshot() []RosterEntry {
	entries := lo.MapToSlice(r.names, func(id, name string) RosterEntry {
		return RosterEntry{SessionID: id, Username: name}
	})
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Username != entries[j].Username {
			return entries[i].Username < entries[j].Username
		}
		return entries[i].SessionID < entries[j].SessionID
	})
	return entries
}
