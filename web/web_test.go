package web

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ukf-tracker/fusion"
	"ukf-tracker/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

type fakeState struct {
	est  Estimate
	ok   bool
	logs []*fusion.NISLog
}

func (f *fakeState) Latest() (Estimate, bool)  { return f.est, f.ok }
func (f *fakeState) NISLogs() []*fusion.NISLog { return f.logs }

func sampleLogs() []*fusion.NISLog {
	pos := fusion.NewNISLog(fusion.SensorPosition)
	for _, v := range []float64{0.5, 1.5, 2.5, 9} {
		pos.Append(v)
	}
	return []*fusion.NISLog{pos, fusion.NewNISLog(fusion.SensorRangeBearing)}
}

func TestNewEstimate(t *testing.T) {
	t.Parallel()
	r := fusion.FusionResult{TimestampUs: 5, Sensor: fusion.SensorPosition, X: 1, Flag: fusion.FlagInit, NIS: math.NaN()}
	e := NewEstimate(9, r)
	assert.Nil(t, e.NIS)
	assert.Equal(t, "position", e.Sensor)
	b, err := json.Marshal(e)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "nis")

	r.NIS = 1.5
	r.Err = errors.New("boom")
	e = NewEstimate(9, r)
	require.NotNil(t, e.NIS)
	assert.Equal(t, 1.5, *e.NIS)
	assert.Equal(t, "boom", e.Error)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestServer_State(t *testing.T) {
	t.Parallel()
	st := &fakeState{}
	h := NewServer(st).Handler("")

	rr := get(t, h, "/api/state")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	st.est = Estimate{Addr: 3, TimestampUs: 100, Sensor: "position", X: 1.5, Y: -2}
	st.ok = true
	rr = get(t, h, "/api/state")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var got Estimate
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, st.est, got)

	rr = get(t, NewServer(nil).Handler(""), "/api/state")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestServer_NIS(t *testing.T) {
	t.Parallel()
	h := NewServer(&fakeState{logs: sampleLogs()}).Handler("")

	rr := get(t, h, "/api/nis")
	require.Equal(t, http.StatusOK, rr.Code)
	var got []fusion.NISSummary
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, 4, got[0].Count)
	assert.InDelta(t, 3.375, got[0].Mean, 1e-12)
	assert.Equal(t, 0.25, got[0].Exceed95)
	assert.Equal(t, 0, got[1].Count)

	rr = get(t, h, "/nis.html")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, rr.Body.String(), "Live NIS")
}

func TestServer_Static(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>tracker</h1>"), 0o644))
	rr := get(t, NewServer(&fakeState{}).Handler(dir), "/")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "tracker")
}

func TestHub_Broadcast(t *testing.T) {
	t.Parallel()
	s := NewServer(&fakeState{})
	go s.Hub.Run()
	defer s.Hub.Stop()
	ts := httptest.NewServer(s.Handler(""))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.Hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	want := NewEstimate(4, fusion.FusionResult{TimestampUs: 7, Sensor: fusion.SensorRangeBearing, X: 2, Flag: fusion.FlagUpdated, NIS: 0.7})
	require.NoError(t, s.Hub.BroadcastJSON(want))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var got Estimate
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, want, got)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return s.Hub.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastJSONError(t *testing.T) {
	t.Parallel()
	h := NewHub()
	assert.Error(t, h.BroadcastJSON(math.NaN()))
	h.Stop()
	h.Stop()
}
