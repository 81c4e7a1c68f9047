// Package broadcast owns the set of live dashboard connections.
//
// The Registry groups connections by identity, caps how many each identity may
// hold, and fans broadcast frames out to all of them. Connections whose send
// fails during a sweep are pruned once the sweep completes. The identity map is
// mutated only through Registry methods and guarded by a single mutex; sends
// run outside the lock so one slow client does not stall the others.
package broadcast
