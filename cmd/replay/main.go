package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"ukf-tracker/binlog"
	"ukf-tracker/server"
)

func main() {
	binlogPath := flag.String("binlog", "", "Input binlog file")
	capturePath := flag.String("capture", "", "Input libpcap capture, converted to a binlog before replay")
	port := flag.Int("port", server.DefaultPort, "UDP destination port to keep from -capture (0 keeps all)")
	destAddr := flag.String("dest", "127.0.0.1:44333", "Destination UDP address")
	speed := flag.Float64("speed", 1.0, "Replay speed multiplier (0 for max speed)")
	flag.Parse()

	if *binlogPath == "" && *capturePath == "" {
		log.Fatal("--binlog or --capture required")
	}

	path := *binlogPath
	if *capturePath != "" {
		dir, err := os.MkdirTemp("", "replay")
		if err != nil {
			log.Fatalf("Temp dir failed: %v", err)
		}
		defer os.RemoveAll(dir)
		path = filepath.Join(dir, "capture.binlog")
		n, err := binlog.ImportCapture(*capturePath, path, *port)
		if err != nil {
			log.Fatalf("Import capture failed: %v", err)
		}
		log.Printf("Imported %d datagrams from %s", n, *capturePath)
	}

	raddr, err := net.ResolveUDPAddr("udp", *destAddr)
	if err != nil {
		log.Fatalf("Invalid dest address: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Replaying %s to %s...", path, *destAddr)
	count, err := server.ReplayTo(ctx, path, raddr, *speed)
	if err != nil && ctx.Err() == nil {
		log.Printf("Replay error: %v", err)
	}
	log.Printf("Done. Sent %d packets.", count)
}
