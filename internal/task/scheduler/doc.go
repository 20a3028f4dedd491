// Package scheduler owns the poll loop: it samples the clock at a fixed
// cadence, hands due slots to the dispatcher and advances the cursor.
//
// The cursor and the active schedule are owned by the loop goroutine.
// Other goroutines talk to it through Replace and read it through Snapshot.
package scheduler
