package main

import (
	"flag"
	"log"
	"net"
	"os"
	"time"

	"ukf-tracker/binlog"
	"ukf-tracker/eval"
	"ukf-tracker/fusion"
	"ukf-tracker/wire"
)

func main() {
	logPath := flag.String("log", "", "Output text log with ground truth")
	binlogPath := flag.String("binlog", "", "Output binlog of gateway datagrams")
	configPath := flag.String("config", "", "YAML tracker config supplying sensor noise (optional)")
	steps := flag.Int("steps", 500, "Number of measurements")
	dtMs := flag.Int("dt-ms", 50, "Measurement interval in milliseconds")
	seed := flag.Uint64("seed", 1, "Noise seed")
	sensors := flag.String("sensors", "LR", "Sensor cycle, e.g. LR, L, RRL")
	addr := flag.Uint("addr", 0xB50AC, "Target address written to the binlog")
	gateway := flag.Uint("gateway", 1, "Gateway address written to the binlog")
	batch := flag.Int("batch", 1, "Measurements per gateway datagram")
	flag.Parse()

	if *logPath == "" && *binlogPath == "" {
		log.Fatal("--log or --binlog required")
	}

	cfg := fusion.DefaultConfig()
	if *configPath != "" {
		fc, err := fusion.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = fc.Filter
	}

	sc := eval.DefaultScenario()
	sc.Steps = *steps
	sc.DtUs = int64(*dtMs) * 1000
	sc.Seed = *seed
	sc.Sensors = sc.Sensors[:0]
	for _, c := range *sensors {
		kind, err := fusion.ParseSensorKind(string(c))
		if err != nil {
			log.Fatalf("Invalid sensor cycle %q: %v", *sensors, err)
		}
		sc.Sensors = append(sc.Sensors, kind)
	}
	if len(sc.Sensors) == 0 || sc.Steps <= 0 || sc.DtUs <= 0 {
		log.Fatal("--sensors, --steps and --dt-ms must be non-empty and positive")
	}
	entries := eval.Generate(sc, cfg)

	if *logPath != "" {
		f, err := os.Create(*logPath)
		if err != nil {
			log.Fatalf("Create log failed: %v", err)
		}
		if err := binlog.WriteTextLog(f, entries); err != nil {
			log.Fatalf("Write log failed: %v", err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("Close log failed: %v", err)
		}
		log.Printf("Wrote %d lines to %s", len(entries), *logPath)
	}

	if *binlogPath != "" {
		n, err := writeBinlog(*binlogPath, entries, uint32(*addr), uint32(*gateway), max(*batch, 1))
		if err != nil {
			log.Fatalf("Write binlog failed: %v", err)
		}
		log.Printf("Wrote %d datagrams to %s", n, *binlogPath)
	}
}

// writeBinlog packs entries into gateway batches and records each batch
// at the timestamp of its last measurement.
func writeBinlog(path string, entries []binlog.Entry, addr, gateway uint32, batch int) (int, error) {
	pw, err := binlog.NewPcapWriter(path)
	if err != nil {
		return 0, err
	}
	defer pw.Close()

	src := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}
	var pending [][]byte
	var lastTs int64
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		data, err := wire.EncodeBatch(gateway, -60, pending...)
		if err != nil {
			return err
		}
		pending = pending[:0]
		return pw.WritePacketAt(time.UnixMicro(lastTs), binlog.FlagData, src, data)
	}
	for _, e := range entries {
		pkt, err := wire.EncodeMeasurement(addr, e.Measurement)
		if err != nil {
			return pw.Count(), err
		}
		pending = append(pending, pkt)
		lastTs = e.Measurement.Timestamp()
		if len(pending) >= batch {
			if err := flush(); err != nil {
				return pw.Count(), err
			}
		}
	}
	if err := flush(); err != nil {
		return pw.Count(), err
	}
	return pw.Count(), nil
}
