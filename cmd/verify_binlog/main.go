package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"

	"ukf-tracker/binlog"
)

func main() {
	file1 := flag.String("1", "", "Original binlog")
	file2 := flag.String("2", "", "Replayed binlog")
	flag.Parse()

	if *file1 == "" || *file2 == "" {
		log.Fatal("Usage: verify_binlog -1 <original> -2 <replayed>")
	}

	pkts1, err := readPayloads(*file1)
	if err != nil {
		log.Fatalf("Error reading %s: %v", *file1, err)
	}
	pkts2, err := readPayloads(*file2)
	if err != nil {
		log.Fatalf("Error reading %s: %v", *file2, err)
	}

	fmt.Printf("Original datagrams: %d\n", len(pkts1))
	fmt.Printf("Replayed datagrams: %d\n", len(pkts2))

	mismatches := 0
	for i := 0; i < min(len(pkts1), len(pkts2)); i++ {
		if !bytes.Equal(pkts1[i], pkts2[i]) {
			fmt.Printf("Mismatch at datagram %d: len1=%d len2=%d\n", i, len(pkts1[i]), len(pkts2[i]))
			mismatches++
			if mismatches > 10 {
				fmt.Println("Too many mismatches, stopping.")
				break
			}
		}
	}

	if len(pkts1) != len(pkts2) {
		fmt.Printf("Count mismatch: %d vs %d\n", len(pkts1), len(pkts2))
		mismatches++
	}

	if mismatches == 0 {
		fmt.Println("SUCCESS: All payloads match.")
	} else {
		fmt.Println("FAILURE: Mismatches found.")
		os.Exit(1)
	}
}

// readPayloads returns the data record payloads of a binlog in order.
func readPayloads(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out [][]byte
	err = binlog.ReadRecords(f, func(r binlog.Record) error {
		if r.Flag != binlog.FlagStats {
			out = append(out, r.Payload)
		}
		return nil
	})
	return out, err
}
