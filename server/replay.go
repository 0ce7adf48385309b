package server

import (
	"context"
	"net"
	"os"
	"time"

	"ukf-tracker/binlog"
	"ukf-tracker/monitoring"
)

// pacer sleeps so that records are released at speed times their recorded
// rate. A non-positive speed never sleeps.
type pacer struct {
	speed     float64
	firstTs   float64
	startReal time.Time
	started   bool
}

func (p *pacer) wait(ctx context.Context, ts float64) error {
	if !p.started {
		p.firstTs, p.startReal, p.started = ts, time.Now(), true
		return nil
	}
	if p.speed <= 0 {
		return ctx.Err()
	}
	target := time.Duration((ts - p.firstTs) / p.speed * float64(time.Second))
	if d := target - time.Since(p.startReal); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return ctx.Err()
}

// replayRecords streams the data records of a binlog to fn, paced at speed.
func replayRecords(ctx context.Context, path string, speed float64, fn func(binlog.Record) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	p := &pacer{speed: speed}
	count := 0
	err = binlog.ReadRecords(f, func(r binlog.Record) error {
		if r.Flag == binlog.FlagStats {
			return nil
		}
		if err := p.wait(ctx, r.Timestamp); err != nil {
			return err
		}
		count++
		if count <= 10 {
			monitoring.Logf("Replay Pkt #%d: TS=%.3f Len=%d Flag=%x From=%v", count, r.Timestamp, len(r.Payload), r.Flag, r.Addr)
		}
		return fn(r)
	})
	return count, err
}

// Replay feeds a recorded binlog through the server as if the datagrams had
// just arrived. Speed 0 replays as fast as possible.
func (s *UdpServer) Replay(ctx context.Context, path string, speed float64) error {
	monitoring.Logf("Replaying %s at %.1fx speed...", path, speed)
	n, err := replayRecords(ctx, path, speed, func(r binlog.Record) error {
		s.handlePacket(r.Payload, r.Addr, r.Time())
		return nil
	})
	monitoring.Logf("Replay loop ended. Total Packets: %d", n)
	return err
}

// ReplayTo sends the datagrams of a binlog to dest over UDP.
func ReplayTo(ctx context.Context, path string, dest *net.UDPAddr, speed float64) (int, error) {
	conn, err := net.DialUDP("udp", nil, dest)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	return replayRecords(ctx, path, speed, func(r binlog.Record) error {
		_, err := conn.Write(r.Payload)
		return err
	})
}
