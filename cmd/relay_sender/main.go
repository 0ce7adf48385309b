package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math"
	"os/signal"
	"syscall"
	"time"

	"ukf-tracker/fusion"
	"ukf-tracker/relay"
)

func main() {
	udpAddr := flag.String("udp", "127.0.0.1:5555", "UDP destination (estimates and summaries)")
	tcpAddr := flag.String("tcp", "127.0.0.1:6666", "TCP destination (warnings and resets)")
	header := flag.String("hdr", "TRK", "Header string")
	addr := flag.Uint("addr", 0xB50AC, "Target address stamped on synthetic messages")
	flag.Parse()

	sender := relay.NewSender()
	sender.SetHeader(*header)

	if err := sender.AddUDPSender(*udpAddr, relay.FlagEstimate|relay.FlagSummary); err != nil {
		log.Fatalf("Failed to add UDP sender: %v", err)
	}
	sender.AddTCPSender(*tcpAddr, relay.FlagWarning|relay.FlagReset)

	if err := sender.Start(); err != nil {
		log.Fatalf("Failed to start sender: %v", err)
	}
	defer sender.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log.Println("Sender started. Press Ctrl+C to exit.")

	target := uint32(*addr)
	nis := fusion.NewNISLog(fusion.SensorPosition)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	start := time.Now()
	for seq := uint16(0); ; seq++ {
		select {
		case <-ctx.Done():
			log.Printf("Sent %d, dropped %d", sender.Sent(), sender.Dropped())
			return
		case now := <-tick.C:
			// A synthetic target on a 10 m circle at 1 rad/s.
			t := now.Sub(start).Seconds()
			res := fusion.FusionResult{
				TimestampUs: now.UnixMicro(),
				Sensor:      fusion.SensorPosition,
				X:           10 * math.Cos(t),
				Y:           10 * math.Sin(t),
				Speed:       10,
				Heading:     fusion.NormalizeAngle(t + math.Pi/2),
				YawRate:     1,
				Flag:        fusion.FlagUpdated,
				NIS:         2,
			}
			res.Vx, res.Vy = res.Speed*math.Cos(res.Heading), res.Speed*math.Sin(res.Heading)
			nis.Append(res.NIS)

			// Estimate (UDP only)
			msg, class := relay.Format(target, seq, res)
			sender.Send(msg, class)

			if seq%10 == 9 {
				// Warning (TCP only)
				bad := res
				bad.Flag, bad.NIS, bad.Err = fusion.FlagRejected, math.NaN(), errors.New("synthetic rejection")
				msg, class = relay.Format(target, seq, bad)
				sender.Send(msg, class)
				// Summary (UDP only)
				sender.Send(relay.FormatSummary(target, nis.Summary()), relay.FlagSummary)
			}
		}
	}
}
