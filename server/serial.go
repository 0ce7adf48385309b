package server

import (
	"bufio"
	"context"
	"io"
	"sync/atomic"

	"go.bug.st/serial"

	"ukf-tracker/binlog"
	"ukf-tracker/monitoring"
)

// OpenSerial opens a serial port in 8N1 mode.
func OpenSerial(path string, baud int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(path, mode)
}

// SerialIngest reads text log lines ("L ..." / "R ...") from a port and
// feeds them to a Tracker under a fixed target address.
type SerialIngest struct {
	port    io.ReadCloser
	tracker *Tracker
	addr    uint32

	lines atomic.Int64
	bad   atomic.Int64
}

func NewSerialIngest(port io.ReadCloser, tracker *Tracker, addr uint32) *SerialIngest {
	return &SerialIngest{port: port, tracker: tracker, addr: addr}
}

// Counts returns the measurement lines accepted and the malformed lines
// skipped.
func (s *SerialIngest) Counts() (lines, bad int64) {
	return s.lines.Load(), s.bad.Load()
}

// Run reads until the port hits EOF or ctx is cancelled, then closes the
// port.
func (s *SerialIngest) Run(ctx context.Context) error {
	defer s.port.Close()
	stop := context.AfterFunc(ctx, func() { s.port.Close() })
	defer stop()

	scan := bufio.NewScanner(s.port)
	for scan.Scan() {
		e, ok, err := binlog.ParseTextLine(scan.Text())
		if err != nil {
			s.bad.Add(1)
			monitoring.Logf("serial: %v", err)
			continue
		}
		if !ok {
			continue
		}
		s.lines.Add(1)
		s.tracker.Feed(s.addr, e.Measurement)
	}
	if ctx.Err() != nil {
		return nil
	}
	return scan.Err()
}
