package peering

import (
	"math/rand"
	"testing"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T, port Port, others []Port, n int, clk clock.Clock) *Node {
	t.Helper()
	node, err := NewNode(port, others, n,
		WithClock(clk),
		WithRand(rand.New(rand.NewSource(1))),
	)
	require.NoError(t, err)
	t.Cleanup(node.Terminate)
	return node
}

// TestHandleHelloPromotesToBiOnMutualVisibility covers spec §4.1's
// unknown|uni -> bi transition and invariants I3/I5 (P3, P4).
func TestHandleHelloPromotesToBiOnMutualVisibility(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Now())
	node := newTestNode(t, 20001, []Port{20002}, 1, clk)

	node.handleHello(Hello{ID: 20002, UniNeighbours: []Port{20001}}, clk.Now())

	export := node.Export()
	assert.Equal(t, []Port{20002}, export.Bi)

	info := export.Peers[20002]
	assert.True(t, info.BecameNeighbour)
	assert.False(t, info.ConnectionStartingTime.IsZero())
	assert.Equal(t, 1, info.PacketsReceived)
}

// TestHandleHelloRespectsDegreeCap covers invariant I2 (P2) and the
// §9 open question: promotion is silently dropped once |bi|==N.
func TestHandleHelloRespectsDegreeCap(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Now())
	node := newTestNode(t, 20010, []Port{20011, 20012}, 1, clk)

	node.handleHello(Hello{ID: 20011, UniNeighbours: []Port{20010}}, clk.Now())
	node.handleHello(Hello{ID: 20012, UniNeighbours: []Port{20010}}, clk.Now())

	export := node.Export()
	require.Len(t, export.Bi, 1)
	assert.LessOrEqual(t, len(export.Bi), node.target)
	assert.NotContains(t, export.Bi, Port(20012))
	assert.NotContains(t, export.Uni, Port(20012))
}

// TestHandleHelloDemotesBiToUniOnLostMutualVisibility covers the
// bi -> uni transition, invariant I3/I4, and P4 (monotonic
// BecameNeighbour survives the demotion).
func TestHandleHelloDemotesBiToUniOnLostMutualVisibility(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Now())
	node := newTestNode(t, 20020, []Port{20021}, 1, clk)

	node.handleHello(Hello{ID: 20021, UniNeighbours: []Port{20020}}, clk.Now())
	require.Contains(t, node.Export().Bi, Port(20021))

	clk.Increment(time.Second)
	node.handleHello(Hello{ID: 20021}, clk.Now()) // no longer mutual

	export := node.Export()
	assert.NotContains(t, export.Bi, Port(20021))
	assert.Contains(t, export.Uni, Port(20021))

	info := export.Peers[20021]
	assert.True(t, info.ConnectionStartingTime.IsZero())
	assert.GreaterOrEqual(t, info.ConnectionLength, time.Second)
	assert.True(t, info.BecameNeighbour)
}

// TestHandleHelloMovesUnknownToUniWithoutMutualVisibility covers the
// unknown -> uni transition of spec §4.1.
func TestHandleHelloMovesUnknownToUniWithoutMutualVisibility(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Now())
	node := newTestNode(t, 20025, []Port{20026}, 1, clk)

	node.handleHello(Hello{ID: 20026}, clk.Now())

	export := node.Export()
	assert.Contains(t, export.Uni, Port(20026))
	assert.NotContains(t, export.Bi, Port(20026))
}

// TestStopEvictsToUnknownAndFinalizesConnectionLength covers spec
// §4.1 Stop() and invariants I3/I4.
func TestStopEvictsToUnknownAndFinalizesConnectionLength(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Now())
	node := newTestNode(t, 20030, []Port{20031}, 1, clk)

	node.handleHello(Hello{ID: 20031, UniNeighbours: []Port{20030}}, clk.Now())
	clk.Increment(3 * time.Second)

	node.Stop()

	export := node.Export()
	assert.Empty(t, export.Bi)
	assert.Empty(t, export.Uni)

	info := export.Peers[20031]
	assert.True(t, info.ConnectionStartingTime.IsZero())
	assert.GreaterOrEqual(t, info.ConnectionLength, 3*time.Second)
	assert.True(t, info.BecameNeighbour)
}

// TestStopIsIdempotentWithSetSemantics resolves spec §9's open
// question in favour of set semantics: calling Stop twice must not
// duplicate entries in unknown.
func TestStopIsIdempotentWithSetSemantics(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Now())
	node := newTestNode(t, 20035, []Port{20036}, 1, clk)

	node.handleHello(Hello{ID: 20036, UniNeighbours: []Port{20035}}, clk.Now())
	node.Stop()
	node.Stop()

	node.mu.Lock()
	_, present := node.unknown[20036]
	size := len(node.unknown)
	node.mu.Unlock()

	assert.True(t, present)
	assert.Equal(t, 1, size)
}

// TestScanOnceEvictsStalePeers covers the staleness law P6.
func TestScanOnceEvictsStalePeers(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Now())
	node := newTestNode(t, 20040, []Port{20041}, 1, clk)

	node.handleHello(Hello{ID: 20041, UniNeighbours: []Port{20040}}, clk.Now())
	require.Contains(t, node.Export().Bi, Port(20041))

	clk.Increment(StalenessThreshold + time.Second)
	node.scanOnce()

	export := node.Export()
	assert.NotContains(t, export.Bi, Port(20041))
	assert.NotContains(t, export.Uni, Port(20041))
}

// TestScanOnceSparesFreshPeers ensures the scanner does not evict a
// peer that has been heard from within the staleness window.
func TestScanOnceSparesFreshPeers(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Now())
	node := newTestNode(t, 20045, []Port{20046}, 1, clk)

	node.handleHello(Hello{ID: 20046, UniNeighbours: []Port{20045}}, clk.Now())
	clk.Increment(StalenessThreshold - time.Second)
	node.scanOnce()

	assert.Contains(t, node.Export().Bi, Port(20046))
}

func TestPickNomineeFallsBackToUniWhenUnknownEmpty(t *testing.T) {
	node := newTestNode(t, 20050, []Port{20051}, 1, clock.NewClock())

	node.mu.Lock()
	delete(node.unknown, 20051)
	node.uni[20051] = struct{}{}
	nominee, ok := node.pickNomineeLocked()
	node.mu.Unlock()

	require.True(t, ok)
	assert.Equal(t, Port(20051), nominee)
}

func TestPickNomineeReturnsFalseWhenNoPeersKnown(t *testing.T) {
	node := newTestNode(t, 20055, nil, 1, clock.NewClock())

	node.mu.Lock()
	_, ok := node.pickNomineeLocked()
	node.mu.Unlock()

	assert.False(t, ok)
}
