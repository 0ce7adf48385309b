package binlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"ukf-tracker/fusion"
)

// ErrMalformedLine is wrapped by every text log parse error.
var ErrMalformedLine = errors.New("malformed log line")

// GroundTruth is the reference state attached to a text log line.
type GroundTruth struct {
	X, Y    float64
	Vx, Vy  float64
	Yaw     float64
	YawRate float64
	HasYaw  bool
}

// Entry is one text log line.
type Entry struct {
	Measurement fusion.Measurement
	Truth       *GroundTruth
}

// ReadTextLog parses whitespace separated lines of the form
//
//	L x y timestamp [gt_x gt_y gt_vx gt_vy [gt_yaw gt_yawrate]]
//	R rho phi rho_dot timestamp [gt_x gt_y gt_vx gt_vy [gt_yaw gt_yawrate]]
//
// Blank lines and lines starting with # are ignored.
func ReadTextLog(r io.Reader) ([]Entry, error) {
	var out []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		e, ok, err := ParseTextLine(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if ok {
			out = append(out, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseTextLine parses a single text log line. It reports false for blank
// and comment lines.
func ParseTextLine(line string) (Entry, bool, error) {
	text := strings.TrimSpace(line)
	if text == "" || strings.HasPrefix(text, "#") {
		return Entry{}, false, nil
	}
	e, err := parseLine(strings.Fields(text))
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func LoadTextLog(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTextLog(f)
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, s := range fields {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedLine, s, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseLine(fields []string) (Entry, error) {
	kind, err := fusion.ParseSensorKind(fields[0])
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	nz := kind.Dim()
	if len(fields) < nz+2 {
		return Entry{}, fmt.Errorf("%w: %s needs %d fields, got %d", ErrMalformedLine, kind, nz+2, len(fields))
	}
	vals, err := parseFloats(fields[1 : nz+1])
	if err != nil {
		return Entry{}, err
	}
	ts, err := strconv.ParseInt(fields[nz+1], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: timestamp %q", ErrMalformedLine, fields[nz+1])
	}

	var e Entry
	switch kind {
	case fusion.SensorPosition:
		e.Measurement = fusion.PositionMeasurement{TimestampUs: ts, X: vals[0], Y: vals[1]}
	case fusion.SensorRangeBearing:
		e.Measurement = fusion.RangeBearingMeasurement{TimestampUs: ts, Range: vals[0], Bearing: vals[1], RangeRate: vals[2]}
	}

	rest := fields[nz+2:]
	switch len(rest) {
	case 0:
	case 4, 6:
		gt, err := parseFloats(rest)
		if err != nil {
			return Entry{}, err
		}
		e.Truth = &GroundTruth{X: gt[0], Y: gt[1], Vx: gt[2], Vy: gt[3]}
		if len(gt) == 6 {
			e.Truth.Yaw, e.Truth.YawRate, e.Truth.HasYaw = gt[4], gt[5], true
		}
	default:
		return Entry{}, fmt.Errorf("%w: %d ground truth fields", ErrMalformedLine, len(rest))
	}
	return e, nil
}

func fmtF(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// WriteTextLog writes entries in the format read by ReadTextLog.
func WriteTextLog(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		var cols []string
		switch m := e.Measurement.(type) {
		case fusion.PositionMeasurement:
			cols = []string{"L", fmtF(m.X), fmtF(m.Y)}
		case fusion.RangeBearingMeasurement:
			cols = []string{"R", fmtF(m.Range), fmtF(m.Bearing), fmtF(m.RangeRate)}
		default:
			return fmt.Errorf("write text log: unsupported %T", e.Measurement)
		}
		cols = append(cols, strconv.FormatInt(e.Measurement.Timestamp(), 10))
		if gt := e.Truth; gt != nil {
			cols = append(cols, fmtF(gt.X), fmtF(gt.Y), fmtF(gt.Vx), fmtF(gt.Vy))
			if gt.HasYaw {
				cols = append(cols, fmtF(gt.Yaw), fmtF(gt.YawRate))
			}
		}
		if _, err := bw.WriteString(strings.Join(cols, "\t") + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
