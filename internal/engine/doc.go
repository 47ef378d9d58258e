// Package engine contains the authoritative game loop of a Mafia table.
//
// ARCHITECTURAL RULE: game state is a projection. Nothing mutates State except
// State.Apply, and State.Apply is only fed events that were durably appended to
// the game's EventLog. Replaying the log from sequence 1 rebuilds the same state.
package engine
