package topology_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irohad/sumeragi/internal/core"
	"github.com/irohad/sumeragi/internal/crypto"
	"github.com/irohad/sumeragi/internal/topology"
)

func peers(t *testing.T, n int) []core.PeerIdentity {
	t.Helper()
	out := make([]core.PeerIdentity, n)
	for i := 0; i < n; i++ {
		kp, err := crypto.GenerateKeyPair(crypto.Ed25519)
		require.NoError(t, err)
		out[i] = core.PeerIdentity{Address: string(rune('A' + i)), PublicKey: kp.Public}
	}
	return out
}

func TestCommitteeSizeIsThreeFPlusOne(t *testing.T) {
	topo := topology.New(peers(t, 4), 1)
	assert.Equal(t, 4, topo.CommitteeSize())
}

func TestSinglePeerCommitteeLeaderIsProxyTail(t *testing.T) {
	ps := peers(t, 1)
	topo := topology.New(ps, 0)
	leader, ok := topo.Leader()
	require.True(t, ok)
	tail, ok := topo.ProxyTail()
	require.True(t, ok)
	assert.True(t, leader.Equal(tail))
	assert.True(t, leader.Equal(ps[0]))
}

func TestFourPeerTopologyAssignsDistinctRoles(t *testing.T) {
	ps := peers(t, 4)
	topo := topology.New(ps, 1)

	leader, _ := topo.Leader()
	tail, _ := topo.ProxyTail()
	validators := topo.Validators()
	observers := topo.Observers()

	assert.True(t, leader.Equal(ps[0]))
	assert.True(t, tail.Equal(ps[3]))
	assert.Len(t, validators, 2)
	assert.Empty(t, observers)
}

func TestObserversBeyondCommittee(t *testing.T) {
	ps := peers(t, 6) // f=1 -> committee size 4, 2 observers
	topo := topology.New(ps, 1)
	assert.Len(t, topo.Observers(), 2)
}

func TestAfterCommitRotatesLeaderToPreviousSecondPeer(t *testing.T) {
	ps := peers(t, 4)
	topo := topology.New(ps, 1)
	next := topo.AfterCommit()

	leader, _ := next.Leader()
	assert.True(t, leader.Equal(ps[1]))
	assert.Equal(t, uint64(0), next.View())
}

func TestAfterViewChangeMakesPreviousProxyTailTheLeader(t *testing.T) {
	ps := peers(t, 4)
	topo := topology.New(ps, 1)
	prevTail, _ := topo.ProxyTail()

	next := topo.AfterViewChange()
	newLeader, _ := next.Leader()

	assert.True(t, newLeader.Equal(prevTail))
	assert.Equal(t, uint64(1), next.View())
}

func TestSameInputsYieldSameTopologyDeterministically(t *testing.T) {
	ps := peers(t, 4)
	a := topology.New(ps, 1)
	b := topology.New(ps, 1)

	leaderA, _ := a.Leader()
	leaderB, _ := b.Leader()
	assert.True(t, leaderA.Equal(leaderB))
	assert.Equal(t, a.Validators(), b.Validators())
}

func TestRoleOfMatchesLeaderValidatorProxyTail(t *testing.T) {
	ps := peers(t, 4)
	topo := topology.New(ps, 1)

	assert.Equal(t, topology.RoleLeader, topo.RoleOf(ps[0]))
	assert.Equal(t, topology.RoleValidator, topo.RoleOf(ps[1]))
	assert.Equal(t, topology.RoleProxyTail, topo.RoleOf(ps[3]))
}
