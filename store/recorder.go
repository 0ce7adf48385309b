package store

import (
	"sync"

	"ukf-tracker/fusion"
)

// Recorder writes the results of one run. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	db    *DB
	runID string
	n     int
}

// NewRecorder starts a run labelled source.
func (db *DB) NewRecorder(source string, cfg fusion.Config) (*Recorder, error) {
	id, err := db.CreateRun(source, cfg)
	if err != nil {
		return nil, err
	}
	return &Recorder{db: db, runID: id}, nil
}

func (r *Recorder) RunID() string { return r.runID }

// Count returns the number of results recorded.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *Recorder) Record(addr uint32, res fusion.FusionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.db.InsertEstimate(r.runID, addr, res); err != nil {
		return err
	}
	r.n++
	return nil
}

// Finish closes the run with its NIS summaries.
func (r *Recorder) Finish(summaries []fusion.NISSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.FinishRun(r.runID, summaries)
}
