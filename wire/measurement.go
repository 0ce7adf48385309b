package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"ukf-tracker/fusion"
)

const (
	positionBodyLen     = 8 + 2*8
	rangeBearingBodyLen = 8 + 3*8
	batchPrefixLen      = 6
)

// Frame is a measurement decoded from a datagram.
type Frame struct {
	// Addr is the target the measurement belongs to.
	Addr uint32
	// Gateway is the forwarding gateway, zero for direct packets.
	Gateway     uint32
	Measurement fusion.Measurement
}

func putF64(b []byte, v float64) { binary.LittleEndian.PutUint64(b, math.Float64bits(v)) }
func getF64(b []byte) float64    { return math.Float64frombits(binary.LittleEndian.Uint64(b)) }

// EncodeMeasurement frames m as a position or range-bearing packet.
func EncodeMeasurement(addr uint32, m fusion.Measurement) ([]byte, error) {
	switch v := m.(type) {
	case fusion.PositionMeasurement:
		body := make([]byte, positionBodyLen)
		binary.LittleEndian.PutUint64(body[0:], uint64(v.TimestampUs))
		putF64(body[8:], v.X)
		putF64(body[16:], v.Y)
		return EncodePacket(addr, TypePosition, 0, body)
	case fusion.RangeBearingMeasurement:
		body := make([]byte, rangeBearingBodyLen)
		binary.LittleEndian.PutUint64(body[0:], uint64(v.TimestampUs))
		putF64(body[8:], v.Range)
		putF64(body[16:], v.Bearing)
		putF64(body[24:], v.RangeRate)
		return EncodePacket(addr, TypeRangeBearing, 0, body)
	}
	return nil, fmt.Errorf("encode measurement: unsupported %T", m)
}

// DecodeMeasurement decodes a position or range-bearing packet. parentFlags
// are the flags of an enclosing batch, if any.
func DecodeMeasurement(p *Packet, parentFlags uint8) (fusion.Measurement, error) {
	body := p.Body
	if (p.Flags|parentFlags)&FlagSeconds != 0 && len(body) > 0 {
		body = body[1:]
	}
	switch p.Type {
	case TypePosition:
		if len(body) < positionBodyLen {
			return nil, fmt.Errorf("position body: %w", ErrTruncated)
		}
		return fusion.PositionMeasurement{
			TimestampUs: int64(binary.LittleEndian.Uint64(body[0:])),
			X:           getF64(body[8:]),
			Y:           getF64(body[16:]),
		}, nil
	case TypeRangeBearing:
		if len(body) < rangeBearingBodyLen {
			return nil, fmt.Errorf("range-bearing body: %w", ErrTruncated)
		}
		return fusion.RangeBearingMeasurement{
			TimestampUs: int64(binary.LittleEndian.Uint64(body[0:])),
			Range:       getF64(body[8:]),
			Bearing:     getF64(body[16:]),
			RangeRate:   getF64(body[24:]),
		}, nil
	}
	return nil, fmt.Errorf("%w: 0x%x", ErrType, p.Type)
}

// EncodeBatch wraps already framed packets into a gateway batch.
func EncodeBatch(gateway uint32, rssi int16, packets ...[]byte) ([]byte, error) {
	body := make([]byte, batchPrefixLen)
	binary.LittleEndian.PutUint32(body[0:], gateway)
	binary.LittleEndian.PutUint16(body[4:], uint16(rssi))
	for _, p := range packets {
		body = append(body, p...)
	}
	return EncodePacket(gateway, TypeGatewayBatch, 0, body)
}

// DecodeDatagram extracts every measurement in a datagram. Batches are
// unpacked one level deep; unknown packet types are skipped.
func DecodeDatagram(data []byte, verifyCRC bool) []Frame {
	var out []Frame
	for _, p := range Split(data, verifyCRC) {
		out = append(out, decodePacket(p, verifyCRC)...)
	}
	return out
}

func decodePacket(p *Packet, verifyCRC bool) []Frame {
	if p.Type != TypeGatewayBatch {
		m, err := DecodeMeasurement(p, 0)
		if err != nil {
			return nil
		}
		return []Frame{{Addr: p.Addr, Measurement: m}}
	}

	body := p.Body
	if p.Flags&FlagSeconds != 0 && len(body) > 0 {
		body = body[1:]
	}
	if len(body) < batchPrefixLen {
		return nil
	}
	gw := binary.LittleEndian.Uint32(body[0:4])
	var out []Frame
	for _, in := range Split(body[batchPrefixLen:], verifyCRC) {
		if in.Type == TypeGatewayBatch {
			continue
		}
		m, err := DecodeMeasurement(in, p.Flags)
		if err != nil {
			continue
		}
		out = append(out, Frame{Addr: in.Addr, Gateway: gw, Measurement: m})
	}
	return out
}
