// Package wire implements the framed datagram format shared by the UDP
// ingest server and the binary measurement log.
//
// Every packet is a 9 byte header, a body of up to MaxBodyLen bytes and a
// CRC-16/XMODEM trailer over header and body:
//
//	0..1  magic 0x7857 (LE)
//	2..5  source address (LE)
//	6     flags:3 | type_low:5
//	7     type_high:5 | len_low:3
//	8     len_high
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	Magic   = 0x7857
	HdrLen  = 9
	WrapLen = 11

	MaxBodyLen = 0x7FF
	MaxType    = 0x3FF

	// TypeGatewayBatch carries several packets forwarded by a gateway.
	TypeGatewayBatch = 0x48
	TypePosition     = 0x50
	TypeRangeBearing = 0x60

	// FlagSeconds marks a one byte seconds prefix on the body.
	FlagSeconds = 0x2
)

var (
	ErrShort     = errors.New("packet too short")
	ErrMagic     = errors.New("bad magic")
	ErrTruncated = errors.New("packet body truncated")
	ErrCRC       = errors.New("crc mismatch")
	ErrTooLarge  = errors.New("packet body too large")
	ErrType      = errors.New("unexpected packet type")
)

type Header struct {
	Magic   uint16
	Addr    uint32
	Flags   uint8
	Type    uint16
	BodyLen int
}

// ParseHeader parses the header at the start of data.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HdrLen {
		return nil, ErrShort
	}
	magic := binary.LittleEndian.Uint16(data[0:2])
	if magic != Magic {
		return nil, fmt.Errorf("%w: 0x%x", ErrMagic, magic)
	}
	b6, b7 := data[6], data[7]
	typLow := uint16(b6 >> 3)
	typHigh := uint16(b7 & 0x1F)
	lenLow := int(b7 >> 5)
	lenHigh := int(data[8])
	return &Header{
		Magic:   magic,
		Addr:    binary.LittleEndian.Uint32(data[2:6]),
		Flags:   b6 & 0x7,
		Type:    typLow + typHigh<<5,
		BodyLen: lenLow + lenHigh<<3,
	}, nil
}

// Packet is one decoded frame. Body aliases the input buffer.
type Packet struct {
	Addr     uint32
	Type     uint16
	Flags    uint8
	Body     []byte
	TotalLen int
}

// ParsePacket decodes the packet starting at offset.
func ParsePacket(data []byte, offset int, verifyCRC bool) (*Packet, error) {
	if len(data)-offset < WrapLen {
		return nil, ErrShort
	}
	hdr, err := ParseHeader(data[offset:])
	if err != nil {
		return nil, err
	}
	bodyStart := offset + HdrLen
	bodyEnd := bodyStart + hdr.BodyLen
	if bodyEnd+2 > len(data) {
		return nil, ErrTruncated
	}
	if verifyCRC {
		crcRead := binary.LittleEndian.Uint16(data[bodyEnd : bodyEnd+2])
		if CRC16(data[offset:bodyEnd]) != crcRead {
			return nil, ErrCRC
		}
	}
	return &Packet{
		Addr:     hdr.Addr,
		Type:     hdr.Type,
		Flags:    hdr.Flags,
		Body:     data[bodyStart:bodyEnd],
		TotalLen: hdr.BodyLen + WrapLen,
	}, nil
}

// EncodePacket frames body with a header and CRC trailer.
func EncodePacket(addr uint32, typ uint16, flags uint8, body []byte) ([]byte, error) {
	if len(body) > MaxBodyLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(body))
	}
	if typ > MaxType {
		return nil, fmt.Errorf("%w: 0x%x", ErrType, typ)
	}
	n := len(body)
	out := make([]byte, HdrLen+n+2)
	binary.LittleEndian.PutUint16(out[0:], Magic)
	binary.LittleEndian.PutUint32(out[2:], addr)
	out[6] = flags&0x7 | uint8(typ&0x1F)<<3
	out[7] = uint8(typ>>5)&0x1F | uint8(n&0x7)<<5
	out[8] = uint8(n >> 3)
	copy(out[HdrLen:], body)
	binary.LittleEndian.PutUint16(out[HdrLen+n:], CRC16(out[:HdrLen+n]))
	return out, nil
}

// CRC16 is CRC-16/XMODEM (poly 0x1021, init 0).
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Split walks data and returns every well-formed packet, skipping garbage
// byte by byte until the next magic.
func Split(data []byte, verifyCRC bool) []*Packet {
	var out []*Packet
	pos := 0
	for pos+WrapLen <= len(data) {
		if binary.LittleEndian.Uint16(data[pos:pos+2]) != Magic {
			pos++
			continue
		}
		p, err := ParsePacket(data, pos, verifyCRC)
		if err != nil {
			pos++
			continue
		}
		out = append(out, p)
		pos += p.TotalLen
	}
	return out
}
