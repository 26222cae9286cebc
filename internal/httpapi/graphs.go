package httpapi

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kabili207/meshcore-go/core/codec"
	"github.com/kabili207/meshcore-go/internal/timeseries"
)

// mapResolution translates the dashboard's generic resolution query param
// ("average"/"max"/"min", or blank) onto one of the Time-Series Store's
// named archives, passing through anything that already names one (e.g.
// "avg_5m_30d") verbatim.
func mapResolution(r string) string {
	switch r {
	case "", "average", "avg":
		return "avg_1m_7d"
	case "max":
		return "max_1m_7d"
	case "min":
		return "min_1m_7d"
	default:
		return r
	}
}

func rrdWindow(r *http.Request) (start, end time.Time) {
	end = time.Now()
	if v := r.URL.Query().Get("end_time"); v != "" {
		if ts, err := parseUnixParam(v); err == nil {
			end = ts
		}
	}
	start = end.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("start_time"); v != "" {
		if ts, err := parseUnixParam(v); err == nil {
			start = ts
		}
	}
	return start, end
}

// handleRRDData serves the raw round-robin archive window for every data
// source, matching original_source/repeater/web/api_endpoints.py's rrd_data
// endpoint: one flat object carrying start_time/end_time/step/timestamps
// plus one value array per data source name.
func (s *Server) handleRRDData(w http.ResponseWriter, r *http.Request) {
	resolution := mapResolution(r.URL.Query().Get("resolution"))
	start, end := rrdWindow(r)

	names := timeseries.DataSourceNames()
	out := make(map[string]any, len(names)+4)
	var timestamps []int64
	for i, name := range names {
		series, err := s.cfg.Series.GetData(name, resolution, start, end)
		if err != nil {
			fail(w, http.StatusInternalServerError, err)
			return
		}
		if i == 0 {
			timestamps = make([]int64, len(series.Timestamps))
			for j, ts := range series.Timestamps {
				timestamps[j] = ts.Unix()
			}
		}
		out[name] = series.Values
	}
	if len(timestamps) == 0 {
		fail(w, http.StatusServiceUnavailable, fmt.Errorf("no RRD data available"))
		return
	}
	out["start_time"] = start.Unix()
	out["end_time"] = end.Unix()
	out["step"] = 60
	out["timestamps"] = timestamps
	ok(w, out)
}

// packetTypeNameFromDS converts a "type_4"/"type_other" data-source name
// into the human-readable payload type name used on the dashboard's
// packet-type breakdown chart.
func packetTypeNameFromDS(dsName string) string {
	if dsName == "type_other" {
		return "OTHER"
	}
	n, err := strconv.Atoi(strings.TrimPrefix(dsName, "type_"))
	if err != nil {
		return dsName
	}
	return codec.PayloadTypeName(uint8(n))
}

type graphSeries struct {
	Name string   `json:"name"`
	Type string   `json:"type"`
	Data [][2]any `json:"data"`
}

// handlePacketTypeGraphData serves a bar-chart-ready breakdown of packet
// counts by type over the requested window, matching
// api_endpoints.py's packet_type_graph_data.
func (s *Server) handlePacketTypeGraphData(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)
	endMs := end.UnixMilli()

	totals, valid := s.cfg.Series.PacketTypeStats(start, end)
	if !valid {
		fail(w, http.StatusServiceUnavailable, fmt.Errorf("no packet type data available"))
		return
	}

	var series []graphSeries
	for name, count := range totals {
		if count <= 0 {
			continue
		}
		series = append(series, graphSeries{
			Name: packetTypeNameFromDS(name),
			Type: "bar",
			Data: [][2]any{{endMs, count}},
		})
	}
	sort.Slice(series, func(i, j int) bool {
		return series[i].Data[0][1].(float64) > series[j].Data[0][1].(float64)
	})

	ok(w, map[string]any{
		"start_time":  start.Unix(),
		"end_time":    end.Unix(),
		"step":        3600,
		"timestamps":  []int64{start.Unix(), end.Unix()},
		"series":      series,
		"data_source": "store",
		"chart_type":  "bar",
	})
}

// metricFriendlyNames/metricOrder give the dashboard's metrics_graph_data
// endpoint its display names and a stable ordering, matching
// api_endpoints.py's metric_names dict.
var metricOrder = []string{"rx_count", "tx_count", "drop_count", "avg_rssi", "avg_snr", "avg_length", "avg_score", "neighbor_count"}

var metricFriendlyNames = map[string]string{
	"rx_count":       "Received Packets",
	"tx_count":       "Transmitted Packets",
	"drop_count":     "Dropped Packets",
	"avg_rssi":       "Average RSSI (dBm)",
	"avg_snr":        "Average SNR (dB)",
	"avg_length":     "Average Packet Length",
	"avg_score":      "Average Score",
	"neighbor_count": "Neighbor Count",
}

// handleMetricsGraphData serves line-chart-ready series for the requested
// aggregate metrics, matching api_endpoints.py's metrics_graph_data. Counter
// metrics (rx/tx/drop) return per-bucket deltas and gauges return the raw
// averaged value, both already handled by timeseries.Store.GetData.
func (s *Server) handleMetricsGraphData(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	resolution := mapResolution(r.URL.Query().Get("resolution"))
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	requested := metricOrder
	if v := r.URL.Query().Get("metrics"); v != "" && v != "all" {
		requested = strings.Split(v, ",")
	}

	var timestamps []int64
	var series []map[string]any
	for i, name := range requested {
		data, err := s.cfg.Series.GetData(name, resolution, start, end)
		if err != nil {
			fail(w, http.StatusBadRequest, fmt.Errorf("metric %q: %w", name, err))
			return
		}
		if i == 0 {
			timestamps = make([]int64, len(data.Timestamps))
			for j, ts := range data.Timestamps {
				timestamps[j] = ts.Unix()
			}
		}
		label := metricFriendlyNames[name]
		if label == "" {
			label = name
		}
		series = append(series, map[string]any{"key": name, "name": label, "data": data.Values})
	}

	ok(w, map[string]any{
		"start_time": start.Unix(),
		"end_time":   end.Unix(),
		"step":       60,
		"timestamps": timestamps,
		"series":     series,
	})
}

// handleLogs serves recently captured log lines from the in-memory
// LogSink, matching api_endpoints.py's logs endpoint — including its
// placeholder single entry when nothing has been logged yet.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	var entries []LogEntry
	if s.cfg.Logs != nil {
		entries = s.cfg.Logs.Logs()
	}
	if len(entries) == 0 {
		entries = []LogEntry{{Message: "No logs available", Timestamp: time.Now(), Level: "INFO"}}
	}
	ok(w, map[string]any{"logs": entries})
}
