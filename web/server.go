package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"time"

	"ukf-tracker/eval"
	"ukf-tracker/fusion"
	"ukf-tracker/monitoring"
)

// Estimate is the JSON form of a pipeline result pushed to websocket
// clients and served by /api/state.
type Estimate struct {
	Addr        uint32   `json:"addr"`
	TimestampUs int64    `json:"ts_us"`
	Sensor      string   `json:"sensor"`
	Flag        int      `json:"flag"`
	X           float64  `json:"x"`
	Y           float64  `json:"y"`
	Vx          float64  `json:"vx"`
	Vy          float64  `json:"vy"`
	Speed       float64  `json:"speed"`
	Heading     float64  `json:"heading"`
	YawRate     float64  `json:"yaw_rate"`
	NIS         *float64 `json:"nis,omitempty"`
	Error       string   `json:"error,omitempty"`
}

func NewEstimate(addr uint32, r fusion.FusionResult) Estimate {
	e := Estimate{
		Addr:        addr,
		TimestampUs: r.TimestampUs,
		Sensor:      r.Sensor.String(),
		Flag:        r.Flag,
		X:           r.X,
		Y:           r.Y,
		Vx:          r.Vx,
		Vy:          r.Vy,
		Speed:       r.Speed,
		Heading:     r.Heading,
		YawRate:     r.YawRate,
	}
	if !math.IsNaN(r.NIS) && !math.IsInf(r.NIS, 0) {
		nis := r.NIS
		e.NIS = &nis
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	return e
}

// StateProvider exposes the tracker state to the HTTP API. Implementations
// must be safe for concurrent use and return copies.
type StateProvider interface {
	Latest() (Estimate, bool)
	NISLogs() []*fusion.NISLog
}

type Server struct {
	Hub   *Hub
	State StateProvider

	srv *http.Server
}

func NewServer(state StateProvider) *Server {
	return &Server{
		Hub:   NewHub(),
		State: state,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("web: encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.State == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "no tracker attached")
		return
	}
	e, ok := s.State.Latest()
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "no estimate yet")
		return
	}
	s.writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleNIS(w http.ResponseWriter, r *http.Request) {
	if s.State == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "no tracker attached")
		return
	}
	out := []fusion.NISSummary{}
	for _, l := range s.State.NISLogs() {
		out = append(out, l.Summary())
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNISChart(w http.ResponseWriter, r *http.Request) {
	if s.State == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "no tracker attached")
		return
	}
	var buf bytes.Buffer
	if err := eval.WriteNISChart(&buf, "Live NIS", s.State.NISLogs()...); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "render error: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// Handler returns the HTTP routes: /ws, /api/state, /api/nis, /nis.html and,
// when distDir is set, a static frontend at /.
func (s *Server) Handler(distDir string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(s.Hub, w, r)
	})
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/nis", s.handleNIS)
	mux.HandleFunc("GET /nis.html", s.handleNISChart)
	if distDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(distDir)))
	}
	return mux
}

// Start runs the hub and serves HTTP on addr until Shutdown.
func (s *Server) Start(addr string, distDir string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln, distDir)
}

func (s *Server) Serve(ln net.Listener, distDir string) error {
	go s.Hub.Run()
	s.srv = &http.Server{
		Handler:           s.Handler(distDir),
		ReadHeaderTimeout: 5 * time.Second,
	}
	monitoring.Logf("HTTP Server listening on %s", ln.Addr())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.Hub.Stop()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
