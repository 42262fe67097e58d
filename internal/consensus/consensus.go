// Package consensus implements the per-height Sumeragi state machine:
// block proposal by the current leader, committee signing and commit
// quorum collection, and view-change coordination when the leader or a
// forwarded transaction goes unacknowledged. It composes internal/core,
// internal/topology, internal/txqueue, and internal/transport into a
// single engine task that owns all consensus state exclusively.
package consensus
