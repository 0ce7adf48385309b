package binlog

import (
	"encoding/binary"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

const (
	PcapMagic = 0xA1B2C3D4

	// FlagData marks a received datagram: RX_PKT | RBB_PKT | PROT_UDP.
	FlagData = 0x109
	// FlagStats marks a periodic stats block; readers skip it.
	FlagStats = 0x10
)

// PcapWriter records datagrams in pcap framing with an extra 8 byte record
// header carrying a flag and the sender's port and IPv4 address.
type PcapWriter struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
	n   int
}

func NewPcapWriter(path string) (*PcapWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	pw, err := NewPcapWriterTo(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return pw, nil
}

// NewPcapWriterTo writes the global header to w and returns a writer on it.
func NewPcapWriterTo(w io.Writer) (*PcapWriter, error) {
	pw := &PcapWriter{
		w:   w,
		buf: make([]byte, pcapRecordLen),
	}
	if err := pw.writeGlobalHeader(); err != nil {
		return nil, err
	}
	return pw, nil
}

func (pw *PcapWriter) writeGlobalHeader() error {
	// Magic(4), Major(2), Minor(2), Zone(4), Sig(4), Snap(4), Link(4)
	b := make([]byte, pcapGlobalLen)
	binary.LittleEndian.PutUint32(b[0:], PcapMagic)
	binary.LittleEndian.PutUint16(b[4:], 2)
	binary.LittleEndian.PutUint16(b[6:], 4)
	binary.LittleEndian.PutUint32(b[16:], 65535)
	binary.LittleEndian.PutUint32(b[20:], 1)
	_, err := pw.w.Write(b)
	return err
}

// WritePacket records data with the current wall clock time.
func (pw *PcapWriter) WritePacket(flag uint16, addr *net.UDPAddr, data []byte) error {
	return pw.WritePacketAt(time.Now(), flag, addr, data)
}

// WritePacketAt records data with an explicit capture time.
func (pw *PcapWriter) WritePacketAt(ts time.Time, flag uint16, addr *net.UDPAddr, data []byte) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	totalLen := uint32(len(data) + phdr2Len)
	binary.LittleEndian.PutUint32(pw.buf[0:], uint32(ts.Unix()))
	binary.LittleEndian.PutUint32(pw.buf[4:], uint32(ts.Nanosecond()/1000))
	binary.LittleEndian.PutUint32(pw.buf[8:], totalLen)
	binary.LittleEndian.PutUint32(pw.buf[12:], totalLen)
	if _, err := pw.w.Write(pw.buf[:pcapRecordLen]); err != nil {
		return err
	}

	binary.LittleEndian.PutUint16(pw.buf[0:], flag)
	port := uint16(0)
	var ip4 net.IP
	if addr != nil {
		port = uint16(addr.Port)
		ip4 = addr.IP.To4()
	}
	binary.LittleEndian.PutUint16(pw.buf[2:], port)
	if ip4 != nil {
		// Network byte order, as stored by the capture tools.
		copy(pw.buf[4:8], ip4)
	} else {
		binary.LittleEndian.PutUint32(pw.buf[4:], 0)
	}
	if _, err := pw.w.Write(pw.buf[:phdr2Len]); err != nil {
		return err
	}

	if _, err := pw.w.Write(data); err != nil {
		return err
	}
	pw.n++
	return nil
}

// Count returns the number of records written.
func (pw *PcapWriter) Count() int {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.n
}

func (pw *PcapWriter) Close() error {
	if c, ok := pw.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
