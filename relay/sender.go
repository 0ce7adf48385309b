package relay

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"ukf-tracker/fusion"
	"ukf-tracker/monitoring"
)

const (
	tcpQueueLen     = 1000
	tcpDialTimeout  = 2 * time.Second
	tcpWriteTimeout = 5 * time.Second
	tcpRetryDelay   = 500 * time.Millisecond
)

type message struct {
	data  []byte
	class uint32
}

type udpTarget struct {
	addr *net.UDPAddr
	mask uint32
}

// tcpTarget owns one outbound connection fed from a bounded queue. It
// dials lazily and redials after a failed write.
type tcpTarget struct {
	addr  string
	mask  uint32
	queue chan message
	wg    sync.WaitGroup

	// lost counts queued messages that could not be written.
	lost *atomic.Int64
}

func accepts(mask, class uint32) bool { return mask&class == class }

// Sender fans messages out to UDP targets and to TCP targets that
// reconnect on failure. A message reaches a target when the target mask
// covers the message class.
type Sender struct {
	mu      sync.RWMutex
	udp     []udpTarget
	tcp     []*tcpTarget
	conn    *net.UDPConn
	header  []byte
	running bool

	sent    atomic.Int64
	dropped atomic.Int64
}

func NewSender() *Sender {
	return &Sender{}
}

// NewSenderFromConfig builds a sender with one target per config entry.
// A zero mask subscribes the target to every class.
func NewSenderFromConfig(targets []fusion.RelayTargetConfig) (*Sender, error) {
	s := NewSender()
	for _, t := range targets {
		if err := s.AddTarget(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Sender) AddTarget(t fusion.RelayTargetConfig) error {
	mask := t.Mask
	if mask == 0 {
		mask = FlagAll
	}
	addr := net.JoinHostPort(t.Addr, strconv.Itoa(t.Port))
	switch t.Type {
	case "udp", "":
		return s.AddUDPSender(addr, mask)
	case "tcp":
		s.AddTCPSender(addr, mask)
		return nil
	}
	return fmt.Errorf("relay target %s: unknown type %q", addr, t.Type)
}

// SetHeader prefixes every message with hdr and a colon. An empty header
// sends messages bare.
func (s *Sender) SetHeader(hdr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header = nil
	if hdr != "" {
		s.header = []byte(hdr + ":")
	}
}

func (s *Sender) AddUDPSender(addr string, mask uint32) error {
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("relay target %s: %w", addr, err)
	}
	s.mu.Lock()
	s.udp = append(s.udp, udpTarget{addr: uaddr, mask: mask})
	s.mu.Unlock()
	return nil
}

// AddTCPSender registers a TCP target. The address is only dialled once
// the sender runs.
func (s *Sender) AddTCPSender(addr string, mask uint32) {
	s.mu.Lock()
	s.tcp = append(s.tcp, &tcpTarget{
		addr:  addr,
		mask:  mask,
		queue: make(chan message, tcpQueueLen),
		lost:  &s.dropped,
	})
	s.mu.Unlock()
}

// Targets returns the number of configured targets.
func (s *Sender) Targets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.udp) + len(s.tcp)
}

func (s *Sender) Start() error {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	s.running = true
	for _, t := range s.tcp {
		t.wg.Add(1)
		go t.run()
	}
	return nil
}

// Stop closes the UDP socket and waits for the TCP queues to drain. It is
// safe to call more than once.
func (s *Sender) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.conn != nil {
		s.conn.Close()
	}
	tcp := s.tcp
	s.mu.Unlock()
	for _, t := range tcp {
		close(t.queue)
		t.wg.Wait()
	}
}

// Sent and Dropped count per-target deliveries since Start.
func (s *Sender) Sent() int64    { return s.sent.Load() }
func (s *Sender) Dropped() int64 { return s.dropped.Load() }

func (s *Sender) frame(data []byte) []byte {
	if len(s.header) == 0 {
		return data
	}
	out := make([]byte, 0, len(s.header)+len(data))
	return append(append(out, s.header...), data...)
}

// Send delivers data to every target subscribed to class. UDP writes
// happen inline; TCP messages are queued and dropped when a queue is full.
func (s *Sender) Send(data []byte, class uint32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return
	}
	msg := message{data: s.frame(data), class: class}

	for _, t := range s.udp {
		if !accepts(t.mask, class) {
			continue
		}
		if _, err := s.conn.WriteToUDP(msg.data, t.addr); err != nil {
			s.dropped.Add(1)
			continue
		}
		s.sent.Add(1)
	}
	for _, t := range s.tcp {
		if !accepts(t.mask, class) {
			continue
		}
		select {
		case t.queue <- msg:
			s.sent.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
}

func (t *tcpTarget) dial() net.Conn {
	conn, err := net.DialTimeout("tcp", t.addr, tcpDialTimeout)
	if err != nil {
		return nil
	}
	return conn
}

func (t *tcpTarget) run() {
	defer t.wg.Done()
	var conn net.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for msg := range t.queue {
		if conn == nil {
			if conn = t.dial(); conn == nil {
				time.Sleep(tcpRetryDelay)
				if conn = t.dial(); conn == nil {
					t.lost.Add(1)
					continue
				}
			}
		}
		conn.SetWriteDeadline(time.Now().Add(tcpWriteTimeout))
		if _, err := conn.Write(msg.data); err != nil {
			monitoring.Logf("relay: TCP write to %s failed: %v", t.addr, err)
			t.lost.Add(1)
			conn.Close()
			conn = nil
		}
	}
}
