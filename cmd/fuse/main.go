package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ukf-tracker/binlog"
	"ukf-tracker/eval"
	"ukf-tracker/fusion"
	"ukf-tracker/store"
	"ukf-tracker/wire"
)

func main() {
	logPath := flag.String("log", "", "Input text log (L/R lines, optional ground truth)")
	binlogPath := flag.String("binlog", "", "Input binlog recorded by udp_server")
	pcapPath := flag.String("pcap", "", "Input libpcap capture of gateway traffic")
	port := flag.Int("port", 44333, "UDP destination port to keep from -pcap (0 keeps all)")
	targetHex := flag.String("target", "", "Target address in hex (default: first target seen)")
	allTargets := flag.Bool("all", false, "Process every target in the binlog/pcap")
	configPath := flag.String("config", "", "YAML tracker config (optional)")
	outPath := flag.String("out", "fused.csv", "Output CSV path")
	pngDir := flag.String("png", "", "Directory for trajectory and NIS PNG plots (optional)")
	htmlPath := flag.String("html", "", "Output HTML NIS chart (optional)")
	dbPath := flag.String("db", "", "SQLite database to record the run into (optional)")
	noCRC := flag.Bool("no-crc", false, "Skip CRC verification of binary packets")
	flag.Parse()

	inputs := 0
	for _, p := range []string{*logPath, *binlogPath, *pcapPath} {
		if p != "" {
			inputs++
		}
	}
	if inputs != 1 {
		fmt.Println("exactly one of --log, --binlog or --pcap required")
		os.Exit(1)
	}

	fc := &fusion.FileConfig{Filter: fusion.DefaultConfig(), Pipeline: fusion.DefaultPipelineConfig()}
	if *configPath != "" {
		var err error
		if fc, err = fusion.LoadConfig(*configPath); err != nil {
			fmt.Printf("load config failed: %v\n", err)
			os.Exit(1)
		}
	}

	if *logPath != "" {
		entries, err := binlog.LoadTextLog(*logPath)
		if err != nil {
			fmt.Printf("read log failed: %v\n", err)
			os.Exit(1)
		}
		rep, err := eval.Run(entries, fc.Filter, fc.Pipeline)
		if err != nil {
			fmt.Printf("run failed: %v\n", err)
			os.Exit(1)
		}
		finish(rep, 0, *outPath, "log:"+*logPath, fc.Filter, *pngDir, *htmlPath, *dbPath)
		return
	}

	var frames []wire.Frame
	var source string
	if *binlogPath != "" {
		parser := binlog.NewBinlogParser(*binlogPath)
		parser.VerifyCRC = !*noCRC
		if err := parser.Parse(); err != nil {
			fmt.Printf("parse binlog failed: %v\n", err)
			os.Exit(1)
		}
		for _, e := range parser.Events {
			frames = append(frames, e.Frames...)
		}
		if parser.Skipped > 0 {
			fmt.Printf("skipped %d undecodable records\n", parser.Skipped)
		}
		source = "binlog:" + *binlogPath
	} else {
		f, err := os.Open(*pcapPath)
		if err != nil {
			fmt.Printf("open pcap failed: %v\n", err)
			os.Exit(1)
		}
		recs, err := binlog.ReadCapture(f, *port)
		f.Close()
		if err != nil {
			fmt.Printf("read pcap failed: %v\n", err)
			os.Exit(1)
		}
		for _, r := range recs {
			frames = append(frames, wire.DecodeDatagram(r.Payload, !*noCRC)...)
		}
		source = "pcap:" + *pcapPath
	}

	targets := collectTargets(frames)
	if len(targets) == 0 {
		fmt.Println("no targets found")
		os.Exit(1)
	}
	if !*allTargets {
		if *targetHex != "" {
			addr, err := parseAddrHex(*targetHex)
			if err != nil {
				fmt.Printf("invalid target: %v\n", err)
				os.Exit(1)
			}
			targets = []uint32{addr}
		} else {
			targets = targets[:1]
		}
	}

	for _, addr := range targets {
		var ms []fusion.Measurement
		for _, f := range frames {
			if f.Addr == addr {
				ms = append(ms, f.Measurement)
			}
		}
		if len(ms) == 0 {
			fmt.Printf("target %08X: no measurements\n", addr)
			continue
		}
		rep, err := eval.RunMeasurements(ms, fc.Filter, fc.Pipeline)
		if err != nil {
			fmt.Printf("target %08X failed: %v\n", addr, err)
			continue
		}
		out, png, html := *outPath, *pngDir, *htmlPath
		if *allTargets {
			out = suffixed(out, addr)
			if html != "" {
				html = suffixed(html, addr)
			}
			if png != "" {
				png = filepath.Join(png, fmt.Sprintf("%08X", addr))
			}
		}
		fmt.Printf("Target %08X: %d measurements\n", addr, len(ms))
		finish(rep, addr, out, fmt.Sprintf("%s#%08X", source, addr), fc.Filter, png, html, *dbPath)
	}
}

func finish(rep *eval.Report, addr uint32, out, source string, cfg fusion.Config, pngDir, htmlPath, dbPath string) {
	if err := writeReport(out, rep); err != nil {
		fmt.Printf("write csv failed: %v\n", err)
		os.Exit(1)
	}
	st := rep.Stats
	fmt.Printf("Written %d rows to %s (init %d, updated %d, rejected %d, ignored %d, resets %d)\n",
		len(rep.Samples), out, st.Initialized, st.Updated, st.Rejected, st.Ignored, st.Resets)
	if rep.RMSE != nil {
		fmt.Printf("RMSE x %.4f y %.4f vx %.4f vy %.4f\n", rep.RMSE[0], rep.RMSE[1], rep.RMSE[2], rep.RMSE[3])
	}
	for _, s := range rep.NIS {
		fmt.Printf("NIS %-13s n=%-5d dof=%d mean=%.3f chi2_95=%.3f above=%.1f%%\n",
			s.Sensor, s.Count, s.DOF, s.Mean, s.Threshold95, 100*s.Exceed95)
	}

	if pngDir != "" {
		if err := os.MkdirAll(pngDir, 0o755); err != nil {
			fmt.Printf("png dir failed: %v\n", err)
		} else {
			if err := eval.SaveTrajectoryPNG(filepath.Join(pngDir, "trajectory.png"), rep); err != nil {
				fmt.Printf("trajectory plot failed: %v\n", err)
			}
			for _, l := range rep.Logs {
				path := filepath.Join(pngDir, fmt.Sprintf("nis_%s.png", strings.ToLower(l.Sensor().String())))
				if err := eval.SaveNISPNG(path, l); err != nil {
					fmt.Printf("nis plot failed: %v\n", err)
				}
			}
		}
	}
	if htmlPath != "" {
		if err := writeHTML(htmlPath, source, rep.Logs); err != nil {
			fmt.Printf("html chart failed: %v\n", err)
		}
	}
	if dbPath != "" {
		runID, err := record(dbPath, addr, source, cfg, rep)
		if err != nil {
			fmt.Printf("record run failed: %v\n", err)
		} else {
			fmt.Printf("Recorded run %s in %s\n", runID, dbPath)
		}
	}
}

func writeReport(path string, rep *eval.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return rep.WriteCSV(f)
}

func writeHTML(path, title string, logs []*fusion.NISLog) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return eval.WriteNISChart(f, title, logs...)
}

func record(path string, addr uint32, source string, cfg fusion.Config, rep *eval.Report) (string, error) {
	db, err := store.Open(path)
	if err != nil {
		return "", err
	}
	defer db.Close()
	rec, err := db.NewRecorder(source, cfg)
	if err != nil {
		return "", err
	}
	for _, s := range rep.Samples {
		if s.Result.Flag == fusion.FlagIgnored {
			continue
		}
		if err := rec.Record(addr, s.Result); err != nil {
			return rec.RunID(), err
		}
	}
	return rec.RunID(), rec.Finish(rep.NIS)
}

func parseAddrHex(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	return uint32(v), err
}

// collectTargets returns target addresses in order of first appearance.
func collectTargets(frames []wire.Frame) []uint32 {
	seen := map[uint32]bool{}
	var out []uint32
	for _, f := range frames {
		if !seen[f.Addr] {
			seen[f.Addr] = true
			out = append(out, f.Addr)
		}
	}
	return out
}

func suffixed(path string, addr uint32) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s_%08X%s", strings.TrimSuffix(path, ext), addr, ext)
}
