// Package topology computes committee role assignments for a given height
// and view-change count from an ordered peer list, and the deterministic
// rotation rule applied after each commit and each view change.
//
// The rotation rule mirrors the round-robin proposer-selection idiom in the
// teacher's internal/consensus/consensus_state.go (GetProposerForHeight):
// that code picked a proposer by indexing a sorted slice by height modulo
// its length. Topology generalizes the same "rotate a fixed peer order by a
// deterministic offset" idea to a full committee (leader, validators,
// proxy-tail, observers) and to the two distinct rotation triggers: block
// commit and view change.
package topology

import "github.com/irohad/sumeragi/internal/core"

// Role is the position a peer holds in the current topology.
type Role uint8

const (
	RoleObserver Role = iota
	RoleValidator
	RoleProxyTail
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleProxyTail:
		return "proxy_tail"
	case RoleValidator:
		return "validator"
	default:
		return "observer"
	}
}

// Topology is an ordered list of peer identities with derived role
// assignments for one (height, view-change count) pair. The first position
// is leader, the last is proxy-tail, the remainder up to the committee size
// of 3f+1 validate, and anything beyond that is an observer.
//
// Open question resolved here: the exact tie-breaking rule for which
// peer becomes leader on a view change is left unspecified in the visible
// source. This implementation fixes the rule as: each view change rotates
// the ordered peer list right by one additional position (on top of any
// commit rotation already applied for this height), so the new leader is
// the peer that was last in the order immediately before the view change.
// When the list has no observers that peer is the proxy-tail; with
// observers it is the last observer. This is deterministic and depends
// only on (committed peer set, height, view count).
type Topology struct {
	order []core.PeerIdentity
	f     int // tolerated Byzantine fault count; committee size is 3f+1
	view  uint64
}

// New builds a topology from an ordered peer list and a tolerated fault
// count f. The committee size is 3f+1; peers beyond that are observers.
func New(order []core.PeerIdentity, f int) Topology {
	cp := make([]core.PeerIdentity, len(order))
	copy(cp, order)
	return Topology{order: cp, f: f}
}

// CommitteeSize returns 3f+1, the number of peers that hold voting roles
// (leader, validators, proxy-tail) in this topology.
func (t Topology) CommitteeSize() int {
	return 3*t.f + 1
}

// F returns the tolerated Byzantine fault count.
func (t Topology) F() int { return t.f }

// View returns the current view-change count for this topology instance.
func (t Topology) View() uint64 { return t.view }

// Peers returns the full ordered peer list backing this topology.
func (t Topology) Peers() []core.PeerIdentity {
	out := make([]core.PeerIdentity, len(t.order))
	copy(out, t.order)
	return out
}

// effectiveOrder returns t.order rotated right by the view count, so that
// each view change shifts the leader to the peer previously last in the
// order.
func (t Topology) effectiveOrder() []core.PeerIdentity {
	n := len(t.order)
	if n == 0 {
		return nil
	}
	shift := int(t.view % uint64(n))
	if shift == 0 {
		return t.Peers()
	}
	out := make([]core.PeerIdentity, n)
	for i := 0; i < n; i++ {
		out[i] = t.order[(i-shift+n)%n]
	}
	return out
}

// Leader returns the peer at the first position of the effective order.
func (t Topology) Leader() (core.PeerIdentity, bool) {
	eff := t.effectiveOrder()
	if len(eff) == 0 {
		return core.PeerIdentity{}, false
	}
	return eff[0], true
}

// ProxyTail returns the peer at the last committee position.
func (t Topology) ProxyTail() (core.PeerIdentity, bool) {
	eff := t.effectiveOrder()
	size := t.CommitteeSize()
	if len(eff) == 0 {
		return core.PeerIdentity{}, false
	}
	idx := size - 1
	if idx >= len(eff) {
		idx = len(eff) - 1
	}
	return eff[idx], true
}

// Validators returns the committee peers that vote but are neither leader
// nor proxy-tail.
func (t Topology) Validators() []core.PeerIdentity {
	eff := t.effectiveOrder()
	size := t.CommitteeSize()
	if len(eff) <= 2 {
		return nil
	}
	end := size - 1
	if end > len(eff) {
		end = len(eff)
	}
	if end <= 1 {
		return nil
	}
	out := make([]core.PeerIdentity, end-1)
	copy(out, eff[1:end])
	return out
}

// Observers returns peers outside the voting committee.
func (t Topology) Observers() []core.PeerIdentity {
	eff := t.effectiveOrder()
	size := t.CommitteeSize()
	if size >= len(eff) {
		return nil
	}
	out := make([]core.PeerIdentity, len(eff)-size)
	copy(out, eff[size:])
	return out
}

// RoleOf reports the role held by peer in this topology.
func (t Topology) RoleOf(peer core.PeerIdentity) Role {
	if leader, ok := t.Leader(); ok && leader.Equal(peer) {
		return RoleLeader
	}
	if tail, ok := t.ProxyTail(); ok && tail.Equal(peer) && t.CommitteeSize() > 1 {
		return RoleProxyTail
	}
	for _, v := range t.Validators() {
		if v.Equal(peer) {
			return RoleValidator
		}
	}
	return RoleObserver
}

// AfterCommit returns the topology for the next height: the peer order is
// rotated by one position and the view count resets to zero, so role
// rotation is predictable to all honest peers after every committed
// block.
func (t Topology) AfterCommit() Topology {
	n := len(t.order)
	if n == 0 {
		return Topology{f: t.f}
	}
	rotated := make([]core.PeerIdentity, n)
	for i := 0; i < n; i++ {
		rotated[i] = t.order[(i+1)%n]
	}
	return Topology{order: rotated, f: t.f, view: 0}
}

// AfterViewChange returns the topology for the next view at the same
// height: the effective leader shifts to the peer previously last in the
// order, per the fixed tie-breaking rule documented on the Topology type.
func (t Topology) AfterViewChange() Topology {
	return Topology{order: t.Peers(), f: t.f, view: t.view + 1}
}

// WithMembership returns a topology with the same view count but a new
// underlying peer set, used when committee membership itself changes
// (e.g. reconciling against `sumeragi.trusted_peers` after a reconfiguring
// commit). Not exercised by the per-height state machine directly, but kept
// as the seam §4.3's "update after a commit" operation needs when peer set
// membership, not just order, changes.
func (t Topology) WithMembership(order []core.PeerIdentity) Topology {
	cp := make([]core.PeerIdentity, len(order))
	copy(cp, order)
	return Topology{order: cp, f: t.f, view: t.view}
}
