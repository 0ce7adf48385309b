package relay

import (
	"bufio"
	"errors"
	"math"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ukf-tracker/fusion"
)

func sampleResult() fusion.FusionResult {
	return fusion.FusionResult{
		TimestampUs: 1477010443050000,
		Sensor:      fusion.SensorRangeBearing,
		X:           0.86,
		Y:           0.6,
		Speed:       5.2,
		Heading:     0.01,
		YawRate:     0.002,
		Flag:        fusion.FlagUpdated,
		NIS:         1.25,
	}
}

func lengthField(t *testing.T, b []byte) int {
	t.Helper()
	require.Greater(t, len(b), tagLen+3)
	n, err := strconv.Atoi(strings.TrimSpace(string(b[tagLen : tagLen+3])))
	require.NoError(t, err)
	return n
}

func TestFormatEstimate(t *testing.T) {
	t.Parallel()
	b := FormatEstimate(0xAB, 7, sampleResult())
	s := string(b)

	assert.True(t, strings.HasPrefix(s, "display:"))
	assert.True(t, strings.HasSuffix(s, "\r\n"))
	assert.Equal(t, len(b), lengthField(t, b))

	fields := strings.Split(strings.TrimSuffix(s, "\r\n"), ",")
	require.Len(t, fields, 12)
	assert.Equal(t, "000000AB", fields[1])
	assert.Equal(t, "7", fields[2])
	assert.Equal(t, "20161021004043.050", fields[3])
	assert.Equal(t, "range_bearing", fields[4])
	assert.Equal(t, "2", fields[5])
	assert.Equal(t, "0.860", fields[6])
	assert.Equal(t, "1.250", fields[11])
}

func TestFormat_Classes(t *testing.T) {
	t.Parallel()
	r := sampleResult()
	r.NIS = math.NaN()
	r.Flag = fusion.FlagInit
	b, class := Format(1, 0, r)
	assert.Equal(t, uint32(FlagEstimate), class)
	assert.True(t, strings.HasSuffix(string(b), ",-\r\n"))

	r.Flag = fusion.FlagRejected
	r.Err = errors.New("bad, very bad")
	b, class = Format(1, 0, r)
	assert.Equal(t, uint32(FlagWarning), class)
	assert.True(t, strings.HasPrefix(string(b), "warning:"))
	assert.Contains(t, string(b), "bad; very bad")
	assert.Equal(t, len(b), lengthField(t, b))

	r.Flag = fusion.FlagReset
	r.Err = nil
	_, class = Format(1, 0, r)
	assert.Equal(t, uint32(FlagReset), class)

	r.Flag = fusion.FlagIgnored
	b, class = Format(1, 0, r)
	assert.Nil(t, b)
	assert.Zero(t, class)
}

func TestFormatSummary(t *testing.T) {
	t.Parallel()
	l := fusion.NewNISLog(fusion.SensorPosition)
	l.Append(1)
	l.Append(3)
	b := FormatSummary(2, l.Summary())
	assert.True(t, strings.HasPrefix(string(b), "summary:"))
	assert.Contains(t, string(b), ",position,2,2,2.000,")
	assert.Equal(t, len(b), lengthField(t, b))
}

func TestFillLength_ThreeDigits(t *testing.T) {
	t.Parallel()
	b := []byte("display:   ," + strings.Repeat("x", 120))
	fillLength(b)
	assert.Equal(t, "132", string(b[tagLen:tagLen+3]))
}

func TestFormatWarning_LongReasonTruncated(t *testing.T) {
	t.Parallel()
	r := sampleResult()
	r.Flag = fusion.FlagRejected
	r.Err = errors.New(strings.Repeat("é,x\n", 500))

	msg := FormatWarning(0xB50AC, 7, r)
	assert.LessOrEqual(t, len(msg), maxMessageLen)
	assert.Equal(t, len(msg), lengthField(t, msg))
	assert.True(t, strings.HasSuffix(string(msg), "\r\n"))
	assert.Equal(t, 1, strings.Count(string(msg), "\n"))
	assert.True(t, utf8.Valid(msg))

	fields := strings.Split(strings.TrimSuffix(string(msg), "\r\n"), ",")
	assert.Len(t, fields, 7)
	assert.True(t, strings.HasPrefix(fields[6], "é;x "))
}

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func targetFor(t *testing.T, addr net.Addr, typ string, mask uint32) fusion.RelayTargetConfig {
	t.Helper()
	host, port, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return fusion.RelayTargetConfig{Addr: host, Port: p, Type: typ, Mask: mask}
}

func TestSender_UDPMask(t *testing.T) {
	t.Parallel()
	all := listenUDP(t)
	summaries := listenUDP(t)

	s, err := NewSenderFromConfig([]fusion.RelayTargetConfig{
		targetFor(t, all.LocalAddr(), "udp", 0),
		targetFor(t, summaries.LocalAddr(), "udp", FlagSummary),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Targets())
	s.SetHeader("trk")
	require.NoError(t, s.Start())
	defer s.Stop()

	msg := FormatEstimate(1, 1, sampleResult())
	s.Send(msg, FlagEstimate)

	buf := make([]byte, 2048)
	require.NoError(t, all.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := all.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "trk:"+string(msg), string(buf[:n]))

	require.NoError(t, summaries.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = summaries.ReadFromUDP(buf)
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
	assert.Equal(t, int64(1), s.Sent())
}

func TestSender_TCP(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		got <- line
	}()

	s := NewSender()
	require.NoError(t, s.AddTarget(targetFor(t, ln.Addr(), "tcp", FlagEstimate|FlagReset)))
	require.NoError(t, s.Start())

	msg := FormatEstimate(3, 9, sampleResult())
	s.Send(msg, FlagEstimate)
	s.Stop()

	select {
	case line := <-got:
		assert.Equal(t, string(msg), line)
	case <-time.After(5 * time.Second):
		t.Fatal("no TCP message received")
	}
}

func TestSender_NotRunning(t *testing.T) {
	t.Parallel()
	s := NewSender()
	s.Send([]byte("x"), FlagEstimate)
	s.Stop()
	assert.Zero(t, s.Sent())

	assert.Error(t, s.AddTarget(fusion.RelayTargetConfig{Addr: "127.0.0.1", Port: 1, Type: "serial"}))
}
