package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"ukf-tracker/binlog"
	"ukf-tracker/fusion"
)

type targetScan struct {
	counts  map[fusion.SensorKind]int
	truth   int
	firstTs int64
	lastTs  int64
	zeroDt  int
	backDt  int
	maxGap  int64
	n       int
}

func (s *targetScan) add(m fusion.Measurement) {
	ts := m.Timestamp()
	if s.n > 0 {
		dt := ts - s.lastTs
		switch {
		case dt == 0:
			s.zeroDt++
		case dt < 0:
			s.backDt++
		case dt > s.maxGap:
			s.maxGap = dt
		}
	} else {
		s.firstTs = ts
	}
	if s.n == 0 || ts > s.lastTs {
		s.lastTs = ts
	}
	s.counts[m.Sensor()]++
	s.n++
}

func main() {
	logPath := flag.String("log", "", "Input text log")
	binlogPath := flag.String("binlog", "", "Input binlog")
	flag.Parse()

	if (*logPath == "") == (*binlogPath == "") {
		fmt.Println("exactly one of --log or --binlog required")
		os.Exit(1)
	}

	scans := map[uint32]*targetScan{}
	get := func(addr uint32) *targetScan {
		s, ok := scans[addr]
		if !ok {
			s = &targetScan{counts: map[fusion.SensorKind]int{}}
			scans[addr] = s
		}
		return s
	}

	if *logPath != "" {
		entries, err := binlog.LoadTextLog(*logPath)
		if err != nil {
			fmt.Printf("read log failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Scanning %s...\n", *logPath)
		s := get(0)
		for _, e := range entries {
			s.add(e.Measurement)
			if e.Truth != nil {
				s.truth++
			}
		}
	} else {
		parser := binlog.NewBinlogParser(*binlogPath)
		if err := parser.Parse(); err != nil {
			fmt.Printf("parse binlog failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Scanning %s: %d records, %d undecodable\n", *binlogPath, len(parser.Events)+parser.Skipped, parser.Skipped)
		if len(parser.Events) > 0 {
			first := binlog.Record{Timestamp: parser.EarliestEventTs()}
			fmt.Printf("First capture at %s\n", first.Time().UTC().Format(time.RFC3339Nano))
		}
		for _, e := range parser.Events {
			for _, f := range e.Frames {
				get(f.Addr).add(f.Measurement)
			}
		}
	}

	addrs := make([]uint32, 0, len(scans))
	for a := range scans {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for _, a := range addrs {
		s := scans[a]
		span := time.Duration(s.lastTs-s.firstTs) * time.Microsecond
		fmt.Printf("Target %08X: %d measurements (position %d, range_bearing %d) over %s\n",
			a, s.n, s.counts[fusion.SensorPosition], s.counts[fusion.SensorRangeBearing], span)
		fmt.Printf("  dt: %d zero, %d backwards, max gap %s\n",
			s.zeroDt, s.backDt, time.Duration(s.maxGap)*time.Microsecond)
		if s.maxGap > int64(fusion.DefaultMaxGapSeconds*1e6) {
			fmt.Printf("  gap exceeds %.0fs watchdog: filter will reset\n", fusion.DefaultMaxGapSeconds)
		}
		if s.truth > 0 {
			fmt.Printf("  %d lines with ground truth\n", s.truth)
		}
	}
}
