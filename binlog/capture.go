package binlog

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ReadCapture reads a standard libpcap capture (Ethernet/IPv4/UDP) and
// returns the UDP payloads sent to port as records. Port 0 keeps every UDP
// packet.
func ReadCapture(r io.Reader, port int) ([]Record, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("capture header: %w", err)
	}
	var out []Record
	src := gopacket.NewPacketSource(pr, pr.LinkType())
	for {
		pkt, err := src.NextPacket()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("capture packet: %w", err)
		}
		udpLayer := pkt.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if port != 0 && int(udp.DstPort) != port {
			continue
		}
		var srcIP net.IP
		if ipLayer := pkt.Layer(layers.LayerTypeIPv4); ipLayer != nil {
			srcIP = ipLayer.(*layers.IPv4).SrcIP
		}
		ts := pkt.Metadata().Timestamp
		out = append(out, Record{
			Timestamp: float64(ts.UnixNano()) / 1e9,
			Flag:      FlagData,
			Addr:      &net.UDPAddr{IP: srcIP, Port: int(udp.SrcPort)},
			Payload:   append([]byte(nil), udp.Payload...),
		})
	}
}

// ImportCapture converts the UDP payloads of a standard capture file into a
// binlog, returning the number of records written.
func ImportCapture(capturePath, binlogPath string, port int) (int, error) {
	f, err := os.Open(capturePath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	recs, err := ReadCapture(f, port)
	if err != nil {
		return 0, err
	}
	pw, err := NewPcapWriter(binlogPath)
	if err != nil {
		return 0, err
	}
	defer pw.Close()
	for _, r := range recs {
		if err := pw.WritePacketAt(r.Time(), r.Flag, r.Addr, r.Payload); err != nil {
			return pw.Count(), err
		}
	}
	return pw.Count(), nil
}
