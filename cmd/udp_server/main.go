package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ukf-tracker/binlog"
	"ukf-tracker/fusion"
	"ukf-tracker/relay"
	"ukf-tracker/server"
	"ukf-tracker/store"
	"ukf-tracker/web"
)

func main() {
	listen := flag.String("listen", fmt.Sprintf(":%d", server.DefaultPort), "UDP address to listen on")
	httpAddr := flag.String("http", "", "HTTP/WebSocket address (e.g. :8080). Empty to disable.")
	distDir := flag.String("dist", "", "Static files served next to the API (optional)")
	configPath := flag.String("config", "", "YAML tracker config (optional)")
	binlogPath := flag.String("binlog", "", "Path or directory for the output binlog (optional)")
	dbPath := flag.String("db", "", "SQLite database to record estimates into (optional)")
	serialPath := flag.String("serial", "", "Serial device carrying text log lines (optional)")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	targetHex := flag.String("target", "", "Target address in hex (default: first target seen)")
	relayHdr := flag.String("relay-header", "", "Prefix for relayed messages (optional)")
	summaryEvery := flag.Duration("summary-every", time.Minute, "Relay NIS summaries at this interval (0 disables)")
	noCRC := flag.Bool("no-crc", false, "Skip CRC verification of binary packets")
	flag.Parse()

	fc := &fusion.FileConfig{Filter: fusion.DefaultConfig(), Pipeline: fusion.DefaultPipelineConfig()}
	if *configPath != "" {
		var err error
		log.Println("Loading configuration...")
		if fc, err = fusion.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	pipeline, err := fusion.NewFusionPipeline(fc.Filter, fc.Pipeline)
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}
	var target uint32
	lock := false
	if *targetHex != "" {
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToUpper(*targetHex), "0X"), 16, 32)
		if err != nil {
			log.Fatalf("Invalid target %q: %v", *targetHex, err)
		}
		target, lock = uint32(v), true
	}
	tracker := server.NewTracker(pipeline, target, lock)

	udpSvr, err := server.NewUdpServer(*listen, tracker)
	if err != nil {
		log.Fatalf("Failed to create UDP server: %v", err)
	}
	udpSvr.SetVerifyCRC(!*noCRC)

	var webSvr *web.Server
	if *httpAddr != "" {
		webSvr = web.NewServer(tracker)
		go func() {
			if err := webSvr.Start(*httpAddr, *distDir); err != nil {
				log.Printf("HTTP server error: %v", err)
			}
		}()
		tracker.SetWebHub(webSvr.Hub)
	}

	var sender *relay.Sender
	if len(fc.Relay) > 0 {
		sender, err = relay.NewSenderFromConfig(fc.Relay)
		if err != nil {
			log.Fatalf("Failed to configure relay: %v", err)
		}
		for _, t := range fc.Relay {
			log.Printf("Added relay %s sender: %s:%d (mask %x)", strings.ToUpper(t.Type), t.Addr, t.Port, t.Mask)
		}
		sender.SetHeader(*relayHdr)
		if err := sender.Start(); err != nil {
			log.Fatalf("Failed to start relay: %v", err)
		}
		tracker.SetRelay(sender)
		defer sender.Stop()
	}

	var recorder *store.Recorder
	if *dbPath != "" {
		db, err := store.Open(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()
		recorder, err = db.NewRecorder("udp:"+*listen, fc.Filter)
		if err != nil {
			log.Fatalf("Failed to start run: %v", err)
		}
		tracker.SetRecorder(recorder)
		log.Printf("Recording run %s to %s", recorder.RunID(), *dbPath)
	}

	if *binlogPath != "" {
		// Auto-generate name if directory
		path := *binlogPath
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			path = filepath.Join(path, fmt.Sprintf("PKTSBIN_%s.binlog", time.Now().Format("20060102150405")))
		}
		pw, err := binlog.NewPcapWriter(path)
		if err != nil {
			log.Fatalf("Failed to create binlog writer: %v", err)
		}
		defer pw.Close()
		udpSvr.SetPcapWriter(pw)
		log.Printf("Logging packets to %s", path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *serialPath != "" {
		port, err := server.OpenSerial(*serialPath, *baud)
		if err != nil {
			log.Fatalf("Failed to open serial port: %v", err)
		}
		ingest := server.NewSerialIngest(port, tracker, target)
		go func() {
			if err := ingest.Run(ctx); err != nil {
				log.Printf("Serial ingest stopped: %v", err)
			}
		}()
		log.Printf("Reading %s at %d baud", *serialPath, *baud)
	}

	if sender != nil && *summaryEvery > 0 {
		go func() {
			tick := time.NewTicker(*summaryEvery)
			defer tick.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-tick.C:
					tracker.PublishSummaries()
				}
			}
		}()
	}

	// Start Server in a goroutine
	go udpSvr.Start()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	cancel()
	udpSvr.Stop()
	if webSvr != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := webSvr.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
		done()
	}
	tracker.PublishSummaries()
	if recorder != nil {
		if err := recorder.Finish(tracker.NISSummaries()); err != nil {
			log.Printf("Failed to finish run: %v", err)
		}
	}

	datagrams, frames := udpSvr.Counts()
	st := tracker.PipelineStats()
	log.Printf("Received %d datagrams, %d frames; updated %d, rejected %d, resets %d",
		datagrams, frames, st.Updated, st.Rejected, st.Resets)
	for _, s := range tracker.NISSummaries() {
		log.Printf("NIS %s: n=%d mean=%.3f above chi2_95=%.1f%%", s.Sensor, s.Count, s.Mean, 100*s.Exceed95)
	}
}
