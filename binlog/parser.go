package binlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"sort"
	"time"

	"ukf-tracker/fusion"
	"ukf-tracker/wire"
)

const (
	pcapGlobalLen = 24 // <IHHiiii
	pcapRecordLen = 16 // <IIII
	phdr2Len      = 8  // <HHI
)

// AnyAddr selects every target in Measurements.
const AnyAddr = ^uint32(0)

// ErrNotBinlog is returned when the global header magic is wrong.
var ErrNotBinlog = errors.New("not a binlog")

// Record is one raw datagram as stored in the log.
type Record struct {
	Timestamp float64 // capture time, seconds
	Flag      uint16
	Addr      *net.UDPAddr
	Payload   []byte
}

// Time returns the capture time at microsecond resolution.
func (r Record) Time() time.Time {
	sec, frac := math.Modf(r.Timestamp)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1000)
}

// Event holds the measurements decoded from one data record.
type Event struct {
	Timestamp float64
	Frames    []wire.Frame
}

// ReadRecords streams the records of a binlog to fn. Truncated trailing
// records end the stream without error.
func ReadRecords(r io.Reader, fn func(Record) error) error {
	hdr := make([]byte, pcapGlobalLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return fmt.Errorf("pcap header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != PcapMagic {
		return ErrNotBinlog
	}

	rec := make([]byte, pcapRecordLen)
	phdr := make([]byte, phdr2Len)
	for {
		if _, err := io.ReadFull(r, rec); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("pcap record: %w", err)
		}
		tsSec := binary.LittleEndian.Uint32(rec[0:4])
		tsUsec := binary.LittleEndian.Uint32(rec[4:8])
		inclLen := binary.LittleEndian.Uint32(rec[8:12])
		if inclLen < phdr2Len {
			if _, err := io.CopyN(io.Discard, r, int64(inclLen)); err != nil {
				return nil
			}
			continue
		}

		if _, err := io.ReadFull(r, phdr); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("pcap phdr2: %w", err)
		}
		payload := make([]byte, int(inclLen)-phdr2Len)
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("pcap payload: %w", err)
		}
		ip := make(net.IP, 4)
		copy(ip, phdr[4:8])
		err := fn(Record{
			Timestamp: float64(tsSec) + float64(tsUsec)/1e6,
			Flag:      binary.LittleEndian.Uint16(phdr[0:2]),
			Addr:      &net.UDPAddr{IP: ip, Port: int(binary.LittleEndian.Uint16(phdr[2:4]))},
			Payload:   payload,
		})
		if err != nil {
			return err
		}
	}
}

type BinlogParser struct {
	Path      string
	VerifyCRC bool

	Events []Event
	// Skipped counts data records without a single decodable measurement.
	Skipped int
}

func NewBinlogParser(path string) *BinlogParser {
	return &BinlogParser{Path: path, VerifyCRC: true}
}

func (p *BinlogParser) Parse() error {
	f, err := os.Open(p.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	return p.ParseReader(f)
}

func (p *BinlogParser) ParseReader(r io.Reader) error {
	return ReadRecords(r, func(rec Record) error {
		if rec.Flag == FlagStats {
			return nil
		}
		frames := wire.DecodeDatagram(rec.Payload, p.VerifyCRC)
		if len(frames) == 0 {
			p.Skipped++
			return nil
		}
		p.Events = append(p.Events, Event{Timestamp: rec.Timestamp, Frames: frames})
		return nil
	})
}

// Measurements returns the measurements of target addr (or every target for
// AnyAddr) in log order.
func (p *BinlogParser) Measurements(addr uint32) []fusion.Measurement {
	var out []fusion.Measurement
	for _, e := range p.Events {
		for _, f := range e.Frames {
			if addr == AnyAddr || f.Addr == addr {
				out = append(out, f.Measurement)
			}
		}
	}
	return out
}

// Targets returns the distinct target addresses seen, ascending.
func (p *BinlogParser) Targets() []uint32 {
	seen := map[uint32]bool{}
	for _, e := range p.Events {
		for _, f := range e.Frames {
			seen[f.Addr] = true
		}
	}
	out := make([]uint32, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EarliestEventTs returns the earliest capture time, or 0 for an empty log.
func (p *BinlogParser) EarliestEventTs() float64 {
	if len(p.Events) == 0 {
		return 0
	}
	min := math.MaxFloat64
	for _, e := range p.Events {
		if e.Timestamp < min {
			min = e.Timestamp
		}
	}
	return min
}
