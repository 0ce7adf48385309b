package server

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"ukf-tracker/binlog"
	"ukf-tracker/monitoring"
	"ukf-tracker/wire"
)

const (
	DefaultPort   = 44333
	MaxPacketSize = 65535
)

// UdpServer receives measurement datagrams, records them and hands the
// decoded frames to a Tracker.
type UdpServer struct {
	conn      *net.UDPConn
	tracker   *Tracker
	pcap      *binlog.PcapWriter
	verifyCRC bool
	running   atomic.Bool

	datagrams atomic.Int64
	frames    atomic.Int64
}

// NewUdpServer listens on addr ("host:port"; an empty address uses
// DefaultPort on all interfaces).
func NewUdpServer(addr string, tracker *Tracker) (*UdpServer, error) {
	if addr == "" {
		addr = fmt.Sprintf(":%d", DefaultPort)
	}
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", uaddr)
	if err != nil {
		return nil, err
	}
	conn.SetReadBuffer(256 * 1024)

	return &UdpServer{
		conn:      conn,
		tracker:   tracker,
		verifyCRC: true,
	}, nil
}

func (s *UdpServer) SetPcapWriter(pw *binlog.PcapWriter) {
	s.pcap = pw
}

// SetVerifyCRC toggles trailer checking; some gateways send zero CRCs.
func (s *UdpServer) SetVerifyCRC(v bool) {
	s.verifyCRC = v
}

func (s *UdpServer) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

func (s *UdpServer) Tracker() *Tracker { return s.tracker }

// Counts returns the datagrams received and the frames decoded from them.
func (s *UdpServer) Counts() (datagrams, frames int64) {
	return s.datagrams.Load(), s.frames.Load()
}

// Start serves until Stop is called.
func (s *UdpServer) Start() {
	s.running.Store(true)
	buf := make([]byte, MaxPacketSize)
	monitoring.Logf("UDP Server listening on %s", s.conn.LocalAddr().String())

	for s.running.Load() {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if s.running.Load() {
				monitoring.Logf("Read error: %v", err)
			}
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.handlePacket(data, addr, time.Now())
	}
}

func (s *UdpServer) Stop() {
	s.running.Store(false)
	s.conn.Close()
}

func (s *UdpServer) handlePacket(data []byte, addr *net.UDPAddr, ts time.Time) {
	s.datagrams.Add(1)
	if s.pcap != nil {
		if err := s.pcap.WritePacketAt(ts, binlog.FlagData, addr, data); err != nil {
			monitoring.Logf("binlog write: %v", err)
		}
	}
	frames := wire.DecodeDatagram(data, s.verifyCRC)
	if len(frames) == 0 {
		return
	}
	s.frames.Add(int64(len(frames)))
	s.tracker.HandleFrames(frames, addr)
}
