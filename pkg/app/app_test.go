package app

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/tangleproto/tanglenode/pkg/config"
	"github.com/tangleproto/tanglenode/pkg/kvstore"
)

func testApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	cfg.ExpectedPort = 0 // let the OS pick an ephemeral port
	return New(cfg, kvstore.NewMemoryBackend(), prometheus.NewRegistry())
}

func TestNewWiresEveryComponent(t *testing.T) {
	a := testApp(t)

	require.NotNil(t, a.tg)
	require.NotNil(t, a.ledgerDB)
	require.NotNil(t, a.table)
	require.NotNil(t, a.proc)
	require.NotNil(t, a.prop)
	require.NotNil(t, a.validator)
	require.NotNil(t, a.solidifier)
	require.NotNil(t, a.confirmer)
	require.NotNil(t, a.tips)
	require.NotNil(t, a.respond)
	require.NotNil(t, a.sup)
	require.Equal(t, uint32(0), a.LatestSolidMilestoneIndex())
}

func TestRunStartsAndStopsOnContextCancel(t *testing.T) {
	a := testApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond) // let the accept loop and workers start

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	// Shutdown is idempotent: a second call must not block or panic.
	a.Shutdown()
}

func TestDisconnectWorkerOnUnknownPeerIsNoop(t *testing.T) {
	a := testApp(t)
	require.NotPanics(t, func() { a.disconnectWorker("no-such-peer") })
}

func TestNotifyMilestoneChangeWithNoRegisteredPeersIsNoop(t *testing.T) {
	a := testApp(t)
	require.NotPanics(t, a.notifyMilestoneChange)
}

func TestRegisterUnregisterMilestoneSignal(t *testing.T) {
	a := testApp(t)

	ch := a.registerMilestoneSignal("p1")
	a.notifyMilestoneChange()

	select {
	case <-ch:
	default:
		t.Fatal("expected a signal on the registered channel")
	}

	a.unregisterMilestoneSignal("p1")
	a.notifyMilestoneChange() // must not panic once unregistered
}

func TestHeartbeatSnapshotReflectsCurrentIndices(t *testing.T) {
	a := testApp(t)
	a.lsmi.Store(7)

	hb := a.heartbeatSnapshot()
	require.Equal(t, uint32(7), hb.LSMI)
	require.Equal(t, a.validator.LatestIndex(), hb.LMI)
}
