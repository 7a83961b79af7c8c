// Package session orchestrates one companion call: it resolves who the call
// belongs to, wires the takeover monitor and pause controller into the live
// room, records the transcript, and coordinates post-session notification
// work.
//
// # Architecture
//
//   - Session: top-level orchestrator owning the session lifetime
//   - Monitor: reconciles supervisor-presence signals from room events and
//     a periodic poll into one authoritative takeover state
//   - PauseController: turns takeover transitions into runtime interrupts
//     and resume announcements, and filters user speech while paused
//   - Identity: resolves which logical call a room instance represents
//
// # Data Flow
//
//	Room events ──┬─→ Monitor ─→ PauseController ─→ agent runtime
//	Poll (2s) ────┘
//
//	Runtime events ─→ takeover filter ─→ transcript.Recorder ─→ store/room
//
//	Session end ─→ notify.Coordinator ─→ ops API ─→ completion ─→ exit
//
// # Takeover reconciliation
//
// Room event delivery is not guaranteed exhaustive; a metadata update or a
// track event can be missed under transport hiccups. Both the event path
// and the poll therefore feed candidate states into a single reconcile
// loop, which is the only writer of the takeover state. A candidate equal
// to the current state is a no-op, so the two channels firing for the same
// underlying change produce exactly one pause or resume.
package session
