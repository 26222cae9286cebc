package timeseries

import (
	"testing"
	"time"
)

func TestUpdateAndGetData(t *testing.T) {
	s := New()
	base := time.Unix(1_700_000_000, 0)

	// rx_count is fed as a monotonic cumulative total (1, 2, 3, ...,
	// 15); GetData must derive each bucket's delta rather than echo the
	// raw cumulative value.
	for i := 0; i < 15; i++ {
		ts := base.Add(time.Duration(i) * 60 * time.Second)
		s.Update(ts, map[string]float64{"rx_count": float64(i + 1)}, map[string]float64{"avg_rssi": -80 + float64(i)})
	}

	series, err := s.GetData("rx_count", "avg_1m_7d", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if len(series.Values) != 15 {
		t.Fatalf("got %d points, want 15", len(series.Values))
	}
	var sum float64
	for _, v := range series.Values {
		sum += v
	}
	if sum != 15 {
		t.Errorf("sum of deltas = %v, want 15 (matches number of inserts)", sum)
	}
	if series.Values[len(series.Values)-1] != 1 {
		t.Errorf("last delta = %v, want 1", series.Values[len(series.Values)-1])
	}

	gauge, err := s.GetData("avg_rssi", "avg_1m_7d", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetData gauge: %v", err)
	}
	if gauge.Values[len(gauge.Values)-1] != -80+14 {
		t.Errorf("last gauge value = %v, want %v", gauge.Values[len(gauge.Values)-1], -80+14)
	}
}

func TestUpdateSkipsNonAdvancingTimestamp(t *testing.T) {
	s := New()
	base := time.Unix(1_700_000_000, 0)
	s.Update(base, map[string]float64{"rx_count": 5}, nil)
	s.Update(base, map[string]float64{"rx_count": 999}, nil) // should be skipped

	series, _ := s.GetData("rx_count", "avg_1m_7d", base.Add(-time.Minute), base.Add(time.Minute))
	if len(series.Values) != 1 || series.Values[0] != 5 {
		t.Fatalf("got %v, want single value 5", series.Values)
	}
}

func TestPacketTypeStatsRequiresMinimumSamples(t *testing.T) {
	s := New()
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * 60 * time.Second)
		s.Update(ts, map[string]float64{"type_4": float64(i)}, nil)
	}
	_, ok := s.PacketTypeStats(base.Add(-time.Hour), base.Add(time.Hour))
	if ok {
		t.Fatal("expected insufficient-sample window to report ok=false")
	}
}

func TestPacketTypeStatsMaxMinusMin(t *testing.T) {
	s := New()
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 12; i++ {
		ts := base.Add(time.Duration(i) * 60 * time.Second)
		s.Update(ts, map[string]float64{"type_4": float64(10 + i)}, nil)
	}
	totals, ok := s.PacketTypeStats(base.Add(-time.Hour), base.Add(time.Hour))
	if !ok {
		t.Fatal("expected sufficient samples")
	}
	if totals["type_4"] != 11 { // (10+11)-10
		t.Errorf("type_4 total = %v, want 11", totals["type_4"])
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := New()
	base := time.Unix(1_700_000_000, 0)
	s.Update(base, map[string]float64{"rx_count": 42}, map[string]float64{"avg_rssi": -90})

	path := t.TempDir() + "/metrics.rrd.gob"
	if err := s.Snapshot(path); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	restored, err := Restore(path)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	series, _ := restored.GetData("rx_count", "avg_1m_7d", base.Add(-time.Minute), base.Add(time.Minute))
	if len(series.Values) != 1 || series.Values[0] != 42 {
		t.Fatalf("restored series = %v, want [42]", series.Values)
	}
}
