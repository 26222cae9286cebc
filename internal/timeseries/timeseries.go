// Package timeseries implements the repeater's round-robin counter store:
// fixed 60-second step, multi-resolution archives for packet-type and
// metric graphs.
//
// No RRDtool-equivalent Go library exists anywhere in the example pack (an
// explicit grep across every example repo and other_examples/ turned up
// nothing); this is grounded directly on the schema in
// original_source/repeater/data_acquisition/rrdtool_handler.py (step=60s,
// the DS list, the four RRA archives) and reimplemented as an in-process
// round-robin array, justified stdlib-only in DESIGN.md.
package timeseries

import (
	"encoding/gob"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

const stepSeconds = 60

// Archive resolutions, matching rrdtool_handler.py exactly.
var archiveSpecs = []struct {
	name       string
	consol     string // "AVERAGE", "MAX", "MIN"
	stepPoints int    // primary steps per archive point
	numPoints  int
}{
	{"avg_1m_7d", "AVERAGE", 1, 10080},  // 1 min x 7 days
	{"avg_5m_30d", "AVERAGE", 5, 8640},  // 5 min x 30 days
	{"avg_1h_1y", "AVERAGE", 60, 8760},  // 1 hour x 1 year
	{"max_1m_7d", "MAX", 1, 10080},      // 1 min x 7 days
	{"min_1m_7d", "MIN", 1, 10080},      // 1 min x 7 days
}

// Aggregate counter/gauge data sources: rrdtool_handler.py's 7 aggregate
// metrics plus neighbor_count. The 17 per-type counters are added
// separately by New and DataSourceNames.
var metricNames = []string{"rx_count", "tx_count", "drop_count", "avg_rssi", "avg_snr", "avg_length", "avg_score", "neighbor_count"}

// DataSourceNames returns every data source name the store tracks: the
// aggregate metrics plus the 17 packet-type counters, for callers (the HTTP
// graph endpoints) that need to enumerate all series without reaching into
// package internals.
func DataSourceNames() []string {
	names := make([]string, 0, len(metricNames)+17)
	names = append(names, metricNames...)
	for i := 0; i < 16; i++ {
		names = append(names, typeDSName(i))
	}
	names = append(names, typeDSName(-1))
	return names
}

func typeDSName(payloadType int) string {
	if payloadType >= 0 && payloadType <= 15 {
		return fmt.Sprintf("type_%d", payloadType)
	}
	return "type_other"
}

// isCounterName reports whether a data source holds monotonic cumulative
// totals (rx/tx/drop and per-payload-type counts) rather than an
// instantaneous gauge. Counter data sources are stored as the raw
// cumulative value per bucket and have per-bucket deltas derived at read
// time by GetData; gauges are stored and read back as-is.
func isCounterName(name string) bool {
	switch name {
	case "rx_count", "tx_count", "drop_count":
		return true
	}
	return strings.HasPrefix(name, "type_")
}

// point is one archive sample.
type point struct {
	bucket int64 // unix seconds / stepSeconds*stepPoints, truncated
	value  float64
	n      int // number of raw samples folded into this point (for AVERAGE)
}

type ring struct {
	consol     string
	stepPoints int
	numPoints  int
	points     []point // ordered oldest->newest
}

// add folds one sample into the archive. For counter data sources v is
// already a monotonic cumulative total, so same-bucket hits simply
// overwrite with the latest total rather than consolidating under
// consol's AVERAGE/MAX/MIN rule, which only applies to gauges.
func (r *ring) add(ts int64, v float64, isCounter bool) {
	bucket := ts / (stepSeconds * int64(r.stepPoints))
	if len(r.points) > 0 && r.points[len(r.points)-1].bucket == bucket {
		last := &r.points[len(r.points)-1]
		switch {
		case isCounter:
			last.value = v
		case r.consol == "MAX":
			if v > last.value {
				last.value = v
			}
		case r.consol == "MIN":
			if v < last.value {
				last.value = v
			}
		default: // AVERAGE
			last.value = (last.value*float64(last.n) + v) / float64(last.n+1)
			last.n++
		}
		return
	}
	r.points = append(r.points, point{bucket: bucket, value: v, n: 1})
	if len(r.points) > r.numPoints {
		r.points = r.points[len(r.points)-r.numPoints:]
	}
}

func (r *ring) since(t time.Time) []point {
	cutoff := t.Unix() / (stepSeconds * int64(r.stepPoints))
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i].bucket >= cutoff })
	return r.points[idx:]
}

// sinceWithBaseline is like since, but also returns the value of the point
// immediately preceding the cutoff (0 if none), so a caller can derive the
// first in-window delta for a counter data source.
func (r *ring) sinceWithBaseline(t time.Time) (pts []point, baseline float64) {
	cutoff := t.Unix() / (stepSeconds * int64(r.stepPoints))
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i].bucket >= cutoff })
	if idx > 0 {
		baseline = r.points[idx-1].value
	}
	return r.points[idx:], baseline
}

// dsState holds all five archives for one data source.
type dsState struct {
	archives map[string]*ring
}

func newDSState() *dsState {
	d := &dsState{archives: make(map[string]*ring)}
	for _, spec := range archiveSpecs {
		d.archives[spec.name] = &ring{consol: spec.consol, stepPoints: spec.stepPoints, numPoints: spec.numPoints}
	}
	return d
}

// Store is the round-robin counter store.
type Store struct {
	mu         sync.Mutex
	ds         map[string]*dsState
	lastUpdate time.Time
	path       string
}

// New creates an empty in-memory Store.
func New() *Store {
	s := &Store{ds: make(map[string]*dsState)}
	for _, name := range metricNames {
		s.ds[name] = newDSState()
	}
	for i := 0; i < 16; i++ {
		s.ds[typeDSName(i)] = newDSState()
	}
	s.ds[typeDSName(-1)] = newDSState() // "other"
	return s
}

// Update records one sample round for every data source at timestamp ts.
// Counter-kind values (rx/tx/drop/per-type) are monotonic cumulative
// totals; gauge-kind values are instantaneous. Skips if ts is not after the
// last recorded update, matching rrdtool_handler.py's
// update_packet_metrics behavior.
func (s *Store) Update(ts time.Time, counters map[string]float64, gauges map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !ts.After(s.lastUpdate) {
		return
	}
	s.lastUpdate = ts

	for name, v := range counters {
		ds, ok := s.ds[name]
		if !ok {
			ds = newDSState()
			s.ds[name] = ds
		}
		for _, a := range ds.archives {
			a.add(ts.Unix(), v, true)
		}
	}
	for name, v := range gauges {
		ds, ok := s.ds[name]
		if !ok {
			ds = newDSState()
			s.ds[name] = ds
		}
		for _, a := range ds.archives {
			a.add(ts.Unix(), v, false)
		}
	}
}

// Series is one data source's samples over a window, as (timestamp, value).
type Series struct {
	Timestamps []time.Time
	Values     []float64
}

// GetData fetches a data source's samples between start and end at the
// named resolution ("avg_1m_7d", "avg_5m_30d", "avg_1h_1y", "max_1m_7d",
// "min_1m_7d"), reshaped for the dashboard's graph APIs.
func (s *Store) GetData(name, resolution string, start, end time.Time) (Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.ds[name]
	if !ok {
		return Series{}, fmt.Errorf("unknown data source %q", name)
	}
	a, ok := ds.archives[resolution]
	if !ok {
		return Series{}, fmt.Errorf("unknown resolution %q", resolution)
	}

	pts, baseline := a.sinceWithBaseline(start)
	counter := isCounterName(name)
	prev := baseline

	var out Series
	for _, p := range pts {
		ts := time.Unix(p.bucket*stepSeconds*int64(a.stepPoints), 0)
		if ts.After(end) {
			break
		}
		out.Timestamps = append(out.Timestamps, ts)
		if counter {
			out.Values = append(out.Values, p.value-prev)
			prev = p.value
		} else {
			out.Values = append(out.Values, p.value)
		}
	}
	return out, nil
}

// PacketTypeStats derives per-type totals as max-min over the valid 1-min
// points in the window, requiring at least 10 valid points else ok=false —
// matching rrdtool_handler.py's get_packet_type_stats.
func (s *Store) PacketTypeStats(since, until time.Time) (totals map[string]float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals = make(map[string]float64)
	anyValid := false
	for i := -1; i < 16; i++ {
		name := typeDSName(i)
		ds, exists := s.ds[name]
		if !exists {
			continue
		}
		a := ds.archives["avg_1m_7d"]
		pts := a.since(since)
		var filtered []point
		for _, p := range pts {
			ts := time.Unix(p.bucket*stepSeconds, 0)
			if !ts.After(until) {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) < 10 {
			totals[name] = 0
			continue
		}
		anyValid = true
		min, max := filtered[0].value, filtered[0].value
		for _, p := range filtered {
			if p.value < min {
				min = p.value
			}
			if p.value > max {
				max = p.value
			}
		}
		totals[name] = max - min
	}
	return totals, anyValid
}

// Snapshot writes the store to path as a gob-encoded file. The daemon does
// not call Snapshot or Restore, so its series start empty on every run.
func (s *Store) Snapshot(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}
	defer f.Close()

	type wirePoint struct {
		Bucket int64
		Value  float64
		N      int
	}
	type wireRing struct {
		Consol     string
		StepPoints int
		NumPoints  int
		Points     []wirePoint
	}
	wire := make(map[string]map[string]wireRing)
	for dsName, ds := range s.ds {
		wire[dsName] = make(map[string]wireRing)
		for arName, a := range ds.archives {
			wr := wireRing{Consol: a.consol, StepPoints: a.stepPoints, NumPoints: a.numPoints}
			for _, p := range a.points {
				wr.Points = append(wr.Points, wirePoint{Bucket: p.bucket, Value: p.value, N: p.n})
			}
			wire[dsName][arName] = wr
		}
	}

	enc := gob.NewEncoder(f)
	return enc.Encode(wire)
}

// Restore loads a previously Snapshot-ted store from path. Missing files
// are treated as an empty store (first run).
func Restore(path string) (*Store, error) {
	s := New()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening snapshot file: %w", err)
	}
	defer f.Close()

	type wirePoint struct {
		Bucket int64
		Value  float64
		N      int
	}
	type wireRing struct {
		Consol     string
		StepPoints int
		NumPoints  int
		Points     []wirePoint
	}
	var wire map[string]map[string]wireRing
	if err := gob.NewDecoder(f).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decoding snapshot file: %w", err)
	}

	for dsName, archives := range wire {
		ds := newDSState()
		for arName, wr := range archives {
			r := &ring{consol: wr.Consol, stepPoints: wr.StepPoints, numPoints: wr.NumPoints}
			for _, p := range wr.Points {
				r.points = append(r.points, point{bucket: p.Bucket, value: p.Value, n: p.N})
			}
			ds.archives[arName] = r
		}
		s.ds[dsName] = ds
	}
	return s, nil
}
