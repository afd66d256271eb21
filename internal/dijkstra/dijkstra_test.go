package dijkstra

import (
	"log/slog"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/openfpga/routerd/internal/iface"
	"github.com/openfpga/routerd/internal/nf"
	"github.com/openfpga/routerd/internal/packet"
	"github.com/openfpga/routerd/internal/pwospf"
	"github.com/openfpga/routerd/internal/rtable"
	"github.com/stretchr/testify/require"
)

func ip4(a, b, c, d byte) netip.Addr { return netip.AddrFrom4([4]byte{a, b, c, d}) }

var mask24 = netip.AddrFrom4([4]byte{255, 255, 255, 0})

// lineEnv builds router A of the linear topology A–B–C:
//
//	A(eth0 10.0.0.1) — 10.0.0.0/24 — B(10.0.0.2) — 10.1.0.0/24 — C(10.1.0.2 with subnet 10.2.0.0/24)
type lineEnv struct {
	engine *Engine
	topo   *pwospf.Topology
	routes *rtable.Table
	dev    *nf.MockDevice
}

func newLineEnv(t *testing.T) *lineEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	tbl, err := iface.NewTable([]iface.Interface{
		{Name: "eth0", IP: ip4(10, 0, 0, 1), Mask: mask24, MAC: packet.MAC{1}},
	})
	require.NoError(t, err)

	dev := nf.NewMockDevice()
	routes := rtable.New(log, dev, tbl)
	topo := pwospf.NewTopology(1, 0, tbl)
	now := time.Now()

	// B heard on eth0.
	topo.ObserveHello(tbl.ByIndex(0), ip4(10, 0, 0, 2), 2, now)

	// B advertises both its subnets; C advertises its side.
	topo.ApplyLSU(2, 0, 1, []packet.Advertisement{
		{Subnet: ip4(10, 0, 0, 0), Mask: mask24, RouterID: 1},
		{Subnet: ip4(10, 1, 0, 0), Mask: mask24, RouterID: 3},
	}, now)
	topo.ApplyLSU(3, 0, 1, []packet.Advertisement{
		{Subnet: ip4(10, 1, 0, 0), Mask: mask24, RouterID: 2},
		{Subnet: ip4(10, 2, 0, 0), Mask: mask24, RouterID: 0},
	}, now)

	engine, err := New(&Config{
		Logger: log,
		Ifaces: tbl,
		Topo:   topo,
		Routes: routes,
	})
	require.NoError(t, err)
	return &lineEnv{engine: engine, topo: topo, routes: routes, dev: dev}
}

func TestRouterd_Dijkstra_LinearConvergence(t *testing.T) {
	t.Parallel()
	env := newLineEnv(t)
	require.NoError(t, env.engine.Recompute())

	byDest := map[netip.Addr]rtable.Route{}
	for _, r := range env.routes.Rows() {
		byDest[r.Dest] = r
	}

	// Directly connected subnet: gateway 0.0.0.0 out eth0.
	direct, ok := byDest[ip4(10, 0, 0, 0)]
	require.True(t, ok)
	require.Equal(t, ip4(0, 0, 0, 0), direct.Gateway)
	require.Equal(t, "eth0", direct.Iface)
	require.False(t, direct.Static)

	// B's far subnet: via B.
	mid, ok := byDest[ip4(10, 1, 0, 0)]
	require.True(t, ok)
	require.Equal(t, ip4(10, 0, 0, 2), mid.Gateway)
	require.Equal(t, "eth0", mid.Iface)

	// C's stub subnet two hops out: still via B on eth0.
	far, ok := byDest[ip4(10, 2, 0, 0)]
	require.True(t, ok)
	require.Equal(t, ip4(10, 0, 0, 2), far.Gateway)
	require.Equal(t, "eth0", far.Iface)
}

func TestRouterd_Dijkstra_InactiveAdjacencyNotTraversed(t *testing.T) {
	t.Parallel()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	tbl, err := iface.NewTable([]iface.Interface{
		{Name: "eth0", IP: ip4(10, 0, 0, 1), Mask: mask24, MAC: packet.MAC{1}},
	})
	require.NoError(t, err)
	dev := nf.NewMockDevice()
	routes := rtable.New(log, dev, tbl)
	topo := pwospf.NewTopology(1, 0, tbl)

	// B advertises toward us, but we never heard a HELLO from B, so the
	// adjacency stays one-sided and inactive.
	topo.ApplyLSU(2, 0, 1, []packet.Advertisement{
		{Subnet: ip4(10, 0, 0, 0), Mask: mask24, RouterID: 1},
		{Subnet: ip4(10, 1, 0, 0), Mask: mask24, RouterID: 0},
	}, time.Now())

	engine, err := New(&Config{Logger: log, Ifaces: tbl, Topo: topo, Routes: routes})
	require.NoError(t, err)
	require.NoError(t, engine.Recompute())

	for _, r := range routes.Rows() {
		require.NotEqual(t, ip4(10, 1, 0, 0), r.Dest, "unreachable subnet must not be routed")
	}
}

func TestRouterd_Dijkstra_StaticRowsSurviveRecompute(t *testing.T) {
	t.Parallel()
	env := newLineEnv(t)
	require.NoError(t, env.routes.AddStatic(rtable.Route{
		Dest: ip4(0, 0, 0, 0), Mask: ip4(0, 0, 0, 0),
		Gateway: ip4(10, 0, 0, 254), Iface: "eth0", Port: 0,
	}))

	require.NoError(t, env.engine.Recompute())
	require.NoError(t, env.engine.Recompute())

	var statics int
	for _, r := range env.routes.Rows() {
		if r.Static {
			statics++
		}
	}
	require.Equal(t, 1, statics)
}

func TestRouterd_Dijkstra_IdempotentRunsProduceIdenticalState(t *testing.T) {
	t.Parallel()
	env := newLineEnv(t)

	require.NoError(t, env.engine.Recompute())
	first := env.routes.Rows()
	env.dev.ResetLog()
	require.NoError(t, env.engine.Recompute())
	second := env.routes.Rows()

	require.Empty(t, cmp.Diff(first, second, cmp.Comparer(func(a, b netip.Addr) bool { return a == b })))

	// And the hardware writes of the second run match a fresh replay of
	// the same rows.
	writes := env.dev.Writes()
	env.dev.ResetLog()
	require.NoError(t, env.engine.Recompute())
	require.Empty(t, cmp.Diff(writes, env.dev.Writes()))
}

func TestRouterd_Dijkstra_NotifyWakesRun(t *testing.T) {
	t.Parallel()
	env := newLineEnv(t)

	ctx, cancel := testContext(t)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = env.engine.Run(ctx)
	}()

	env.engine.Notify()
	require.Eventually(t, func() bool {
		return len(env.routes.Rows()) > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
