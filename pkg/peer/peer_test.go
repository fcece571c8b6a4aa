package peer

import (
	"bytes"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/tangleproto/tanglenode/pkg/config"
	"github.com/tangleproto/tanglenode/pkg/packet"
)

type fakeWriter struct {
	bytes.Buffer
	closed bool
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ExpectedPort = 15600
	cfg.NetworkID = [32]byte{1}
	cfg.MinimumWeightMag = 14
	return cfg
}

func TestHandshakeSuccessTransitionsToReady(t *testing.T) {
	cfg := testConfig()
	p := New("p1", "1.2.3.4:15600", OriginInbound, &fakeWriter{}, cfg)
	p.MarkConnected()
	require.Equal(t, AwaitingHandshake, p.State())

	now := time.Now()
	hs := &packet.Handshake{
		Port:              cfg.ExpectedPort,
		TimestampMs:       uint64(now.UnixMilli()),
		NetworkID:         cfg.NetworkID,
		MWM:               cfg.MinimumWeightMag,
		SupportedVersions: []byte{0x01},
	}
	require.NoError(t, p.ValidateHandshake(hs, now, 0))
	require.Equal(t, Ready, p.State())
}

func TestHandshakeWrongPortStaysAwaiting(t *testing.T) {
	cfg := testConfig()
	p := New("p1", "addr", OriginInbound, &fakeWriter{}, cfg)
	p.MarkConnected()

	now := time.Now()
	hs := &packet.Handshake{
		Port:              9999,
		TimestampMs:       uint64(now.UnixMilli()),
		NetworkID:         cfg.NetworkID,
		MWM:               cfg.MinimumWeightMag,
		SupportedVersions: []byte{0x01},
	}
	err := p.ValidateHandshake(hs, now, 0)
	require.Error(t, err)
	require.Equal(t, AwaitingHandshake, p.State())
}

func TestHandshakeSkewTooLarge(t *testing.T) {
	cfg := testConfig()
	p := New("p1", "addr", OriginInbound, &fakeWriter{}, cfg)
	p.MarkConnected()

	now := time.Now()
	hs := &packet.Handshake{
		Port:              cfg.ExpectedPort,
		TimestampMs:       uint64(now.Add(-10 * time.Second).UnixMilli()),
		NetworkID:         cfg.NetworkID,
		MWM:               cfg.MinimumWeightMag,
		SupportedVersions: []byte{0x01},
	}
	err := p.ValidateHandshake(hs, now, 0)
	require.Error(t, err)
	require.Equal(t, AwaitingHandshake, p.State())
	require.Equal(t, float64(1), testutil.ToFloat64(p.Metrics.InvalidHandshakes))
}

func TestSendDropsNewWhenRequestQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.OutboundQueueBounds.MessageRequest = 1
	p := New("p1", "addr", OriginInbound, &fakeWriter{}, cfg)

	pkt := packet.Packet{Type: packet.KindMessageRequest, Body: []byte{1}}
	require.NoError(t, p.Send(pkt))
	require.ErrorIs(t, p.Send(pkt), ErrBackpressure)
}

func TestSendDropsOldestForHeartbeat(t *testing.T) {
	cfg := testConfig()
	cfg.OutboundQueueBounds.Heartbeat = 1
	p := New("p1", "addr", OriginInbound, &fakeWriter{}, cfg)

	first := packet.Packet{Type: packet.KindHeartbeat, Body: []byte{1}}
	second := packet.Packet{Type: packet.KindHeartbeat, Body: []byte{2}}
	require.NoError(t, p.Send(first))
	require.NoError(t, p.Send(second))

	got := <-p.heartbeatQ
	require.Equal(t, second, got)
}

func TestDisconnectedClosesTermChannel(t *testing.T) {
	p := New("p1", "addr", OriginInbound, &fakeWriter{}, testConfig())
	p.Disconnected()
	select {
	case <-p.Done():
	default:
		t.Fatal("expected term channel closed")
	}
}

func TestRefreshSyncStatusFlagsPeerBeyondDelta(t *testing.T) {
	cfg := testConfig()
	cfg.OutOfSyncDelta = 2
	p := New("p1", "addr", OriginInbound, &fakeWriter{}, cfg)

	p.ApplyHeartbeat(&packet.Heartbeat{LSMI: 100})

	p.RefreshSyncStatus(101)
	require.False(t, p.Metrics.OutOfSync, "within delta should not be flagged")

	p.RefreshSyncStatus(103)
	require.True(t, p.Metrics.OutOfSync, "beyond delta should be flagged")

	p.RefreshSyncStatus(102)
	require.False(t, p.Metrics.OutOfSync, "falling back within delta should clear the flag")
}
