package relay

import (
	"fmt"
	"math"
	"strings"
	"time"

	"ukf-tracker/fusion"
)

// ClassOf maps a pipeline result flag to the relay message class, or 0 when
// the result is not relayed.
func ClassOf(flag int) uint32 {
	switch flag {
	case fusion.FlagInit, fusion.FlagUpdated:
		return FlagEstimate
	case fusion.FlagReset:
		return FlagReset
	case fusion.FlagRejected:
		return FlagWarning
	}
	return 0
}

func fmtTime(tsUs int64) string {
	return time.UnixMicro(tsUs).UTC().Format("20060102150405.000")
}

func fmtNIS(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return fmt.Sprintf("%.3f", v)
}

// maxMessageLen is the largest length the three digit field can carry.
const maxMessageLen = 999

// reasonReplacer keeps error text inside a single comma separated field.
var reasonReplacer = strings.NewReplacer(",", ";", "\r", " ", "\n", " ")

// fillLength writes the total message length into the three spaces that
// follow the tag: "display:   ," becomes "display: 87,".
func fillLength(b []byte) []byte {
	n := len(b)
	if n >= 100 {
		b[tagLen] = byte('0' + (n/100)%10)
	}
	b[tagLen+1] = byte('0' + (n/10)%10)
	b[tagLen+2] = byte('0' + n%10)
	return b
}

// FormatEstimate formats a state estimate:
//
//	display:LLL,ADDR,SEQ,TIME,SENSOR,FLAG,X,Y,SPEED,HEADING,YAWRATE,NIS\r\n
func FormatEstimate(addr uint32, seq uint16, r fusion.FusionResult) []byte {
	body := fmt.Sprintf("display:   ,%08X,%d,%s,%s,%d,%.3f,%.3f,%.3f,%.4f,%.4f,%s\r\n",
		addr, seq, fmtTime(r.TimestampUs), r.Sensor, r.Flag,
		r.X, r.Y, r.Speed, r.Heading, r.YawRate, fmtNIS(r.NIS))
	return fillLength([]byte(body))
}

// FormatWarning formats a rejected or reset result with its reason.
func FormatWarning(addr uint32, seq uint16, r fusion.FusionResult) []byte {
	reason := "reset"
	if r.Err != nil {
		reason = reasonReplacer.Replace(r.Err.Error())
	}
	head := fmt.Sprintf("warning:   ,%08X,%d,%s,%s,%d,",
		addr, seq, fmtTime(r.TimestampUs), r.Sensor, r.Flag)
	// The reason is cut so the length field still fits in three digits.
	if room := maxMessageLen - len(head) - 2; len(reason) > room {
		reason = strings.ToValidUTF8(reason[:max(room, 0)], "")
	}
	return fillLength([]byte(head + reason + "\r\n"))
}

// FormatSummary formats one NIS consistency summary line.
func FormatSummary(addr uint32, s fusion.NISSummary) []byte {
	body := fmt.Sprintf("summary:   ,%08X,%s,%d,%d,%s,%.3f,%.4f\r\n",
		addr, s.Sensor, s.Count, s.DOF, fmtNIS(s.Mean), s.Threshold95, s.Exceed95)
	return fillLength([]byte(body))
}

// Format picks the message for a result and returns it with its class.
// The returned class is 0 when nothing should be sent.
func Format(addr uint32, seq uint16, r fusion.FusionResult) ([]byte, uint32) {
	class := ClassOf(r.Flag)
	switch class {
	case FlagEstimate:
		return FormatEstimate(addr, seq, r), class
	case FlagWarning, FlagReset:
		return FormatWarning(addr, seq, r), class
	}
	return nil, 0
}
