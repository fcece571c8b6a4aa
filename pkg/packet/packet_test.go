package packet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func samplePackets() []Packet {
	hs := &Handshake{Port: 15600, TimestampMs: 123, NetworkID: [32]byte{1, 2, 3}, MWM: 14, SupportedVersions: []byte{0x01}}
	mr := &MilestoneRequest{Index: 42}
	mreq := &MessageRequest{MessageID: [32]byte{9, 9, 9}}
	mb := &MessageBroadcast{RawMessage: []byte("hello tangle")}
	hb := &Heartbeat{LSMI: 10, PruningIndex: 1, LMI: 12, ConnectedPeers: 3, SyncedPeers: 2}

	return []Packet{
		{Type: KindHandshake, Body: hs.Encode()},
		{Type: KindMilestoneRequest, Body: mr.Encode()},
		{Type: KindMessageRequest, Body: mreq.Encode()},
		{Type: KindMessageBroadcast, Body: mb.Encode()},
		{Type: KindHeartbeat, Body: hb.Encode()},
	}
}

func TestPacketRoundTrip(t *testing.T) {
	for _, p := range samplePackets() {
		encoded := Encode(p)
		parser := NewParser(64 * 1024)
		packets, err := parser.Feed(encoded)
		require.NoError(t, err)
		require.Len(t, packets, 1)
		require.Equal(t, p, packets[0])
	}
}

func TestParserHandlesSplitReads(t *testing.T) {
	pkts := samplePackets()
	var all []byte
	for _, p := range pkts {
		all = append(all, Encode(p)...)
	}

	parser := NewParser(64 * 1024)
	var got []Packet
	for i := 0; i < len(all); i++ {
		out, err := parser.Feed(all[i : i+1])
		require.NoError(t, err)
		got = append(got, out...)
	}
	require.Equal(t, pkts, got)
}

func TestParserRejectsUnknownType(t *testing.T) {
	parser := NewParser(64 * 1024)
	_, err := parser.Feed([]byte{0xFF, 0x00, 0x00})
	require.ErrorIs(t, err, ErrInvalidTypeTag)
}

func TestParserRejectsOversizedBody(t *testing.T) {
	parser := NewParser(8)
	header := []byte{byte(KindHeartbeat), 100, 0}
	_, err := parser.Feed(header)
	require.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestParserRejectsMalformedBody(t *testing.T) {
	parser := NewParser(64 * 1024)
	body := []byte{1, 2, 3} // too short for MilestoneRequest (needs 4)
	header := []byte{byte(KindMilestoneRequest), byte(len(body)), 0}
	_, err := parser.Feed(append(header, body...))
	require.ErrorIs(t, err, ErrMalformedBody)
}
