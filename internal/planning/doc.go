// Package planning allocates a backlog of stories across teams and iterations.
//
// Features are ranked by a Prioritizer, flattened into a story sequence, and
// negotiated one story at a time by a Coordinator. For each story a Planner
// computes the earliest iteration its dependencies allow and asks the owning
// team's Ledger for the first iteration with enough buffered capacity. Every
// decision is emitted as an Event; the accumulated Plan is read back from the
// Coordinator once the event stream ends.
//
// The package is single-threaded: a Coordinator and its ledgers must be driven
// from one goroutine.
package planning
