package server

import (
	"math"
	"net"
	"sync"

	"ukf-tracker/fusion"
	"ukf-tracker/monitoring"
	"ukf-tracker/relay"
	"ukf-tracker/web"
	"ukf-tracker/wire"
)

// Recorder persists pipeline results.
type Recorder interface {
	Record(addr uint32, r fusion.FusionResult) error
}

// TrackerStats counts frames seen by a Tracker.
type TrackerStats struct {
	Frames int
	// OtherTargets counts frames dropped because they belong to a target
	// other than the tracked one.
	OtherTargets int
	Published    int
}

// Tracker feeds the measurements of a single target through a pipeline and
// publishes the results. The tracked address is fixed at construction or
// locked to the first target seen.
type Tracker struct {
	mu       sync.Mutex
	pipeline *fusion.FusionPipeline
	target   uint32
	locked   bool
	seq      uint16

	latest    web.Estimate
	hasLatest bool
	lastGw    map[uint32]*net.UDPAddr
	stats     TrackerStats

	sender   *relay.Sender
	webHub   *web.Hub
	recorder Recorder
}

// NewTracker tracks target. With lock false the first target seen is
// tracked instead.
func NewTracker(pipeline *fusion.FusionPipeline, target uint32, lock bool) *Tracker {
	return &Tracker{
		pipeline: pipeline,
		target:   target,
		locked:   lock,
		lastGw:   make(map[uint32]*net.UDPAddr),
	}
}

func (t *Tracker) SetRelay(s *relay.Sender) { t.sender = s }

func (t *Tracker) SetWebHub(h *web.Hub) { t.webHub = h }

func (t *Tracker) SetRecorder(r Recorder) { t.recorder = r }

// Target returns the tracked address and whether it is locked yet.
func (t *Tracker) Target() (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target, t.locked
}

func (t *Tracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// PipelineStats returns the counters of the underlying pipeline.
func (t *Tracker) PipelineStats() fusion.PipelineStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pipeline.Stats()
}

// Gateway returns the UDP address addr was last heard from.
func (t *Tracker) Gateway(addr uint32) (*net.UDPAddr, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.lastGw[addr]
	return a, ok
}

// HandleFrames processes decoded frames in order and returns the results of
// the tracked target.
func (t *Tracker) HandleFrames(frames []wire.Frame, src *net.UDPAddr) []fusion.FusionResult {
	var out []fusion.FusionResult
	for _, f := range frames {
		if src != nil {
			t.mu.Lock()
			t.lastGw[f.Addr] = src
			t.mu.Unlock()
		}
		if r, ok := t.Feed(f.Addr, f.Measurement); ok {
			out = append(out, r)
		}
	}
	return out
}

// Feed processes one measurement of addr. It reports false when addr is not
// the tracked target.
func (t *Tracker) Feed(addr uint32, m fusion.Measurement) (fusion.FusionResult, bool) {
	t.mu.Lock()
	t.stats.Frames++
	if !t.locked {
		t.target, t.locked = addr, true
		monitoring.Logf("tracking target %08X", addr)
	}
	if addr != t.target {
		t.stats.OtherTargets++
		t.mu.Unlock()
		return fusion.FusionResult{}, false
	}
	res := t.pipeline.Process(m)
	seq := t.seq
	t.seq++
	if res.Flag == fusion.FlagInit || res.Flag == fusion.FlagUpdated {
		t.latest = web.NewEstimate(addr, res)
		t.hasLatest = true
	}
	t.mu.Unlock()

	t.publish(addr, seq, res)
	return res, true
}

func (t *Tracker) publish(addr uint32, seq uint16, res fusion.FusionResult) {
	if math.Abs(res.X) > 1e4 || math.Abs(res.Y) > 1e4 {
		monitoring.Logf("WARNING: large coordinate for %08X: x=%.2f y=%.2f", addr, res.X, res.Y)
	}
	published := false
	if t.sender != nil {
		if msg, class := relay.Format(addr, seq, res); class != 0 {
			t.sender.Send(msg, class)
			published = true
		}
	}
	if t.webHub != nil && res.Flag != fusion.FlagIgnored {
		if err := t.webHub.BroadcastJSON(web.NewEstimate(addr, res)); err != nil {
			monitoring.Logf("web broadcast: %v", err)
		}
		published = true
	}
	if t.recorder != nil && res.Flag != fusion.FlagIgnored {
		if err := t.recorder.Record(addr, res); err != nil {
			monitoring.Logf("record result: %v", err)
		}
		published = true
	}
	if published {
		t.mu.Lock()
		t.stats.Published++
		t.mu.Unlock()
	}
}

// Latest returns the most recent estimate. Results that carry no state
// (rejections and resets) do not replace a valid estimate.
func (t *Tracker) Latest() (web.Estimate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest, t.hasLatest
}

// NISLogs returns copies of the NIS logs of the enabled sensors.
func (t *Tracker) NISLogs() []*fusion.NISLog {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*fusion.NISLog
	for _, kind := range []fusion.SensorKind{fusion.SensorPosition, fusion.SensorRangeBearing} {
		if l := t.pipeline.Filter().NISLog(kind); l != nil {
			out = append(out, l.Clone())
		}
	}
	return out
}

// NISSummaries summarises the current NIS logs.
func (t *Tracker) NISSummaries() []fusion.NISSummary {
	logs := t.NISLogs()
	out := make([]fusion.NISSummary, len(logs))
	for i, l := range logs {
		out[i] = l.Summary()
	}
	return out
}

// PublishSummaries relays one summary line per sensor to the summary
// targets and returns the number of lines sent.
func (t *Tracker) PublishSummaries() int {
	if t.sender == nil {
		return 0
	}
	addr, _ := t.Target()
	sums := t.NISSummaries()
	for _, s := range sums {
		t.sender.Send(relay.FormatSummary(addr, s), relay.FlagSummary)
	}
	return len(sums)
}

var _ web.StateProvider = (*Tracker)(nil)
