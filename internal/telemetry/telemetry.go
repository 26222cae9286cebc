// Package telemetry implements the Telemetry Aggregator (C6): fans each
// completed engine.Record out to the Relational Store, the Time-Series
// Store, the local MQTT broker, and the Upstream Publisher.
//
// Grounded on original_source/repeater/engine.py's inline fan-out calls
// (store, rrdtool, mqtt, letsmesh all invoked directly from __call__),
// generalized here into one component with one fan-out method, and on
// original_source/repeater/data_acquisition/mqtt_handler.py for the local
// MQTT topic/payload shape.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/kabili207/meshcore-go/core/codec"
	"github.com/kabili207/meshcore-go/internal/engine"
	"github.com/kabili207/meshcore-go/internal/store"
)

// RecordStore is the subset of store.Store the aggregator needs.
type RecordStore interface {
	StorePacket(ctx context.Context, rec *store.PacketRecord) error
	StoreAdvert(ctx context.Context, rec *store.AdvertRecord) (isNew bool, err error)
	CumulativeCounts(ctx context.Context) (store.CumulativeCounts, error)
}

// SeriesStore is the subset of timeseries.Store the aggregator needs.
type SeriesStore interface {
	Update(ts time.Time, counters, gauges map[string]float64)
}

// MQTTPublisher is the local-MQTT leg: a thin wrapper over
// github.com/eclipse/paho.mqtt.golang's Client.Publish.
type MQTTPublisher interface {
	Publish(topic string, payload []byte) error
}

// UpstreamPublisher is the subset of upstream.Publisher the aggregator
// needs: the packet/advert legs of the broker's §6 "reformatted record"
// publish. Heartbeat/status publishing is owned entirely by the Publisher
// itself, since it needs node/radio configuration the aggregator doesn't
// carry.
type UpstreamPublisher interface {
	PublishPacket(ctx context.Context, payload map[string]any) error
	PublishAdvert(ctx context.Context, payload map[string]any) error
}

// Config configures an Aggregator.
type Config struct {
	Store     RecordStore
	Series    SeriesStore
	MQTT      MQTTPublisher     // nil disables the local-MQTT leg
	Upstream  UpstreamPublisher // nil disables the upstream leg
	NodeName  string
	BaseTopic string // default "meshcore/repeater"
	Logger    *slog.Logger
}

// Aggregator is the Telemetry Aggregator (C6).
type Aggregator struct {
	cfg Config
	log *slog.Logger
}

// New creates an Aggregator.
func New(cfg Config) *Aggregator {
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "meshcore/repeater"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{cfg: cfg, log: logger.WithGroup("telemetry")}
}

// Observe fans a completed packet Record out to every configured sink. Each
// leg is independent and best-effort: a failure in one (e.g. MQTT broker
// unreachable) is logged and does not block the others.
func (a *Aggregator) Observe(ctx context.Context, rec *engine.Record) {
	packetRec := toPacketRecord(rec)

	if err := a.cfg.Store.StorePacket(ctx, packetRec); err != nil {
		a.log.Error("failed to persist packet record", "error", err)
	}

	a.updateSeries(ctx, rec)

	if a.cfg.MQTT != nil {
		a.publishMQTT("packet", packetRec)
	}

	if a.cfg.Upstream != nil {
		if err := a.cfg.Upstream.PublishPacket(ctx, recordToMap(packetRec)); err != nil {
			a.log.Debug("upstream publish failed", "error", err)
		}
	}
}

// ObserveAdvert persists a neighbor observation and fans it out to local
// MQTT and the upstream broker, mirroring Observe's shape for record_advert
// (§4.7). The store's upsert is the sole authority on whether this pubkey
// is a new neighbor; rec.IsNewNeighbor is overwritten with that result
// before any fan-out, so a caller's own seen-before tracking can never
// diverge from what the store persisted.
func (a *Aggregator) ObserveAdvert(ctx context.Context, rec *store.AdvertRecord) (isNew bool, err error) {
	isNew, err = a.cfg.Store.StoreAdvert(ctx, rec)
	if err != nil {
		a.log.Error("failed to persist advert record", "error", err)
		return isNew, err
	}
	rec.IsNewNeighbor = isNew

	if a.cfg.MQTT != nil {
		a.publishMQTT("advert", rec)
	}
	if a.cfg.Upstream != nil {
		if err := a.cfg.Upstream.PublishAdvert(ctx, advertToMap(rec)); err != nil {
			a.log.Debug("upstream advert publish failed", "error", err)
		}
	}
	return isNew, nil
}

// ObserveNoise fans a noise-floor sample out to the Relational Store (when
// it implements StoreNoise, as *store.Store does), the Time-Series Store and
// local MQTT, mirroring engine.py's periodic noise-floor sampling leg.
func (a *Aggregator) ObserveNoise(ctx context.Context, dbm float64, at time.Time) {
	if ns, ok := a.cfg.Store.(interface {
		StoreNoise(ctx context.Context, dbm float64, at time.Time) error
	}); ok {
		if err := ns.StoreNoise(ctx, dbm, at); err != nil {
			a.log.Error("failed to persist noise floor sample", "error", err)
		}
	}
	a.cfg.Series.Update(at, nil, map[string]float64{"noise_floor": dbm})
	if a.cfg.MQTT != nil {
		a.publishMQTT("noise_floor", map[string]any{"timestamp": at.Unix(), "noise_floor_dbm": dbm})
	}
}

// updateSeries feeds the time-series store the current monotonic
// cumulative totals (§4.8), sourced from the Relational Store rather than
// incremented in-process, so every bucket's value is the true running
// total and GetData's per-bucket delta derivation round-trips to the
// number of inserts in the window (§8).
func (a *Aggregator) updateSeries(ctx context.Context, rec *engine.Record) {
	cumulative, err := a.cfg.Store.CumulativeCounts(ctx)
	if err != nil {
		a.log.Error("failed to read cumulative counts for time series", "error", err)
		return
	}

	counters := map[string]float64{
		"rx_count":   float64(cumulative.Rx),
		"tx_count":   float64(cumulative.Tx),
		"drop_count": float64(cumulative.Drop),
	}
	var other int64
	for t, c := range cumulative.ByType {
		if t > 15 {
			other += c
			continue
		}
		counters[typeCounterName(t)] = float64(c)
	}
	counters["type_other"] = float64(other)

	gauges := map[string]float64{
		"avg_rssi":   float64(rec.RSSI),
		"avg_snr":    rec.SNR,
		"avg_length": float64(rec.Length),
		"avg_score":  rec.Score,
	}

	a.cfg.Series.Update(rec.Timestamp, counters, gauges)
}

func typeCounterName(payloadType uint8) string {
	if payloadType > 15 {
		return "type_other"
	}
	return fmt.Sprintf("type_%d", payloadType)
}

func (a *Aggregator) publishMQTT(recordType string, payload any) {
	topic := fmt.Sprintf("%s/%s/%s", a.cfg.BaseTopic, a.cfg.NodeName, recordType)
	body, err := json.Marshal(payload)
	if err != nil {
		a.log.Error("failed to marshal mqtt payload", "error", err)
		return
	}
	if err := a.cfg.MQTT.Publish(topic, body); err != nil {
		a.log.Debug("mqtt publish failed", "error", err)
	}
}

func toPacketRecord(rec *engine.Record) *store.PacketRecord {
	return &store.PacketRecord{
		Timestamp:      rec.Timestamp,
		Type:           rec.Type,
		Route:          rec.Route,
		Length:         rec.Length,
		RSSI:           rec.RSSI,
		SNR:            rec.SNR,
		Score:          rec.Score,
		Transmitted:    rec.Transmitted,
		IsDuplicate:    rec.IsDuplicate,
		DropReason:     rec.DropReason,
		SrcHash:        rec.SrcHash,
		DstHash:        rec.DstHash,
		PathHash:       rec.PathHash,
		Header:         rec.Header,
		TransportCodes: rec.TransportCodes,
		Payload:        rec.Payload,
		PayloadLength:  rec.PayloadLength,
		TxDelayMS:      rec.TxDelayMS,
		PacketHash:     rec.PacketHash,
		OriginalPath:   engine.JSONPath(rec.OriginalPath),
		ForwardedPath:  engine.JSONPath(rec.ForwardedPath),
		RawPacket:      rec.RawPacket,
	}
}

// recordToMap builds the packet-varying fields of the upstream broker's §6
// per-packet schema (`meshcore/<iata>/<pubkey>/packets`). The constant
// fields — origin, origin_id, type="PACKET" — are filled in by the
// Publisher itself, which is the only place that knows the node's identity
// and name.
func recordToMap(rec *store.PacketRecord) map[string]any {
	ts := rec.Timestamp.UTC()
	return map[string]any{
		"timestamp":   ts.Format(time.RFC3339),
		"direction":   "rx",
		"time":        ts.Format("15:04:05"),
		"date":        ts.Format("2/1/2006"),
		"len":         rec.Length,
		"packet_type": rec.Type,
		"route":       routeSymbol(rec.Header),
		"payload_len": rec.PayloadLength,
		"raw":         rec.RawPacket,
		"SNR":         rec.SNR,
		"RSSI":        rec.RSSI,
		"score":       int(math.Round(rec.Score * 1000)),
		"duration":    rec.TxDelayMS,
		"hash":        rec.PacketHash,
	}
}

// routeSymbol renders a header's route type as the upstream schema's
// "F"|"D"|numeric: flood and direct get their letter codes, the
// transport-flood/transport-direct variants report their raw route value.
func routeSymbol(header uint8) any {
	switch header & codec.PHRouteMask {
	case codec.RouteTypeFlood:
		return "F"
	case codec.RouteTypeDirect:
		return "D"
	default:
		return header & codec.PHRouteMask
	}
}

// advertToMap builds the upstream broker's per-advert payload. No §6 topic
// is defined separately for adverts, so the Publisher reuses the packets
// topic with a distinguishing packet_type tag (see DESIGN.md).
func advertToMap(rec *store.AdvertRecord) map[string]any {
	ts := rec.Timestamp.UTC()
	return map[string]any{
		"timestamp":       ts.Format(time.RFC3339),
		"direction":       "rx",
		"packet_type":     "ADVERT",
		"node_name":       rec.NodeName,
		"pubkey":          rec.PubKey,
		"is_repeater":     rec.IsRepeater,
		"route":           rec.RouteType,
		"contact_type":    rec.ContactType,
		"RSSI":            rec.RSSI,
		"SNR":             rec.SNR,
		"is_new_neighbor": rec.IsNewNeighbor,
	}
}
