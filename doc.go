// Package rewind ties the deterministic rewindable timeline and the clock
// synchronisation controller together under one on-disk configuration.
//
// The core lives in the subpackages: timeline implements per-entity input and
// state tracks, the rewind-and-replay seek engine and reconciliation against
// an authority; clocksync steers a follower's game clock to run just far
// enough ahead of the authority that its inputs arrive in the authority's
// future; transport supplies the unreliable datagram channel the sync
// messages ride on.
package rewind
