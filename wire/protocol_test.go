package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ukf-tracker/fusion"
)

func TestCRC16(t *testing.T) {
	t.Parallel()
	// CRC-16/XMODEM check value.
	assert.Equal(t, uint16(0x31C3), CRC16([]byte("123456789")))
	assert.Equal(t, uint16(0), CRC16(nil))
}

func TestEncodePacket_HeaderBitfields(t *testing.T) {
	t.Parallel()
	body := make([]byte, 300)
	pkt, err := EncodePacket(0xDEADBEEF, 0x2A5, 0x5, body)
	require.NoError(t, err)
	require.Len(t, pkt, WrapLen+300)

	hdr, err := ParseHeader(pkt)
	require.NoError(t, err)
	assert.Equal(t, Header{Magic: Magic, Addr: 0xDEADBEEF, Flags: 0x5, Type: 0x2A5, BodyLen: 300}, *hdr)

	p, err := ParsePacket(pkt, 0, true)
	require.NoError(t, err)
	assert.Equal(t, WrapLen+300, p.TotalLen)
}

func TestEncodePacket_Limits(t *testing.T) {
	t.Parallel()
	_, err := EncodePacket(1, TypePosition, 0, make([]byte, MaxBodyLen+1))
	assert.ErrorIs(t, err, ErrTooLarge)
	_, err = EncodePacket(1, MaxType+1, 0, nil)
	assert.ErrorIs(t, err, ErrType)
}

func TestParsePacket_Errors(t *testing.T) {
	t.Parallel()
	pkt, err := EncodePacket(7, TypePosition, 0, []byte{1, 2, 3})
	require.NoError(t, err)

	_, err = ParsePacket(pkt[:5], 0, true)
	assert.ErrorIs(t, err, ErrShort)

	bad := append([]byte(nil), pkt...)
	bad[0] = 0
	_, err = ParsePacket(bad, 0, true)
	assert.ErrorIs(t, err, ErrMagic)

	corrupt := append([]byte(nil), pkt...)
	corrupt[HdrLen] ^= 0xFF
	_, err = ParsePacket(corrupt, 0, true)
	assert.ErrorIs(t, err, ErrCRC)
	_, err = ParsePacket(corrupt, 0, false)
	assert.NoError(t, err)

	long, err := EncodePacket(7, TypePosition, 0, make([]byte, 40))
	require.NoError(t, err)
	_, err = ParsePacket(long[:30], 0, true)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeDatagram(t *testing.T) {
	t.Parallel()
	pos := fusion.PositionMeasurement{TimestampUs: 1477010443000000, X: 0.312242, Y: 0.5803398}
	rb := fusion.RangeBearingMeasurement{TimestampUs: 1477010443050000, Range: 1.014892, Bearing: 0.5543338, RangeRate: 4.892807}

	p1, err := EncodeMeasurement(0x10, pos)
	require.NoError(t, err)
	p2, err := EncodeMeasurement(0x11, rb)
	require.NoError(t, err)
	batch, err := EncodeBatch(0xAA, -40, p1, p2)
	require.NoError(t, err)

	// Leading garbage, a direct packet and a batch in one datagram.
	dgram := append([]byte{0x01, 0x02, 0x03}, p1...)
	dgram = append(dgram, batch...)

	got := DecodeDatagram(dgram, true)
	want := []Frame{
		{Addr: 0x10, Measurement: pos},
		{Addr: 0x10, Gateway: 0xAA, Measurement: pos},
		{Addr: 0x11, Gateway: 0xAA, Measurement: rb},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodeDatagram mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeMeasurement_SecondsPrefix(t *testing.T) {
	t.Parallel()
	m := fusion.PositionMeasurement{TimestampUs: 42, X: 1, Y: 2}
	plain, err := EncodeMeasurement(3, m)
	require.NoError(t, err)
	p, err := ParsePacket(plain, 0, true)
	require.NoError(t, err)

	prefixed := append([]byte{9}, p.Body...)
	pkt, err := EncodePacket(3, TypePosition, FlagSeconds, prefixed)
	require.NoError(t, err)
	p, err = ParsePacket(pkt, 0, true)
	require.NoError(t, err)
	got, err := DecodeMeasurement(p, 0)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestDecodeMeasurement_Errors(t *testing.T) {
	t.Parallel()
	_, err := DecodeMeasurement(&Packet{Type: TypePosition, Body: make([]byte, 10)}, 0)
	assert.ErrorIs(t, err, ErrTruncated)
	_, err = DecodeMeasurement(&Packet{Type: 0x99}, 0)
	assert.ErrorIs(t, err, ErrType)
	_, err = EncodeMeasurement(1, nil)
	assert.Error(t, err)
}
