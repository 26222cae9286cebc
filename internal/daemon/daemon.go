// Package daemon wires every component (C1-C11) into a running repeater
// process (C12): config/identity load, store/timeseries open,
// engine/router/helpers construction, transport selection, and the
// goroutine lifecycle for the Router, Background Timers, Upstream
// heartbeat, and HTTP Control Surface — cancelled together on shutdown.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kabili207/meshcore-go/core"
	"github.com/kabili207/meshcore-go/core/clock"
	"github.com/kabili207/meshcore-go/core/codec"
	"github.com/kabili207/meshcore-go/core/crypto"
	"github.com/kabili207/meshcore-go/device/advert"
	"github.com/kabili207/meshcore-go/internal/airtime"
	"github.com/kabili207/meshcore-go/internal/config"
	"github.com/kabili207/meshcore-go/internal/dedupe"
	"github.com/kabili207/meshcore-go/internal/engine"
	"github.com/kabili207/meshcore-go/internal/helpers"
	"github.com/kabili207/meshcore-go/internal/httpapi"
	"github.com/kabili207/meshcore-go/internal/radio"
	"github.com/kabili207/meshcore-go/internal/router"
	"github.com/kabili207/meshcore-go/internal/store"
	"github.com/kabili207/meshcore-go/internal/telemetry"
	"github.com/kabili207/meshcore-go/internal/timers"
	"github.com/kabili207/meshcore-go/internal/timeseries"
	"github.com/kabili207/meshcore-go/internal/upstream"
	"github.com/kabili207/meshcore-go/transport"
	mqtttransport "github.com/kabili207/meshcore-go/transport/mqtt"
	serialtransport "github.com/kabili207/meshcore-go/transport/serial"
)

// firmwareVersion is reported to the upstream broker's status.firmware_version
// field; it identifies this daemon build, independent of the configured
// node name.
const firmwareVersion = "repeaterd-go/1"

// Daemon holds every wired component and drives the process lifecycle.
type Daemon struct {
	cfg *config.Config
	log *slog.Logger

	store     *store.Store
	transport transport.Transport
	radio     *radio.Adapter
	engine    *engine.Engine
	router    *router.Router
	airtime   *airtime.Accountant

	upstreamPub *upstream.Publisher
	localMQTT   *localMQTTPublisher
	supervisor  *timers.Supervisor
	httpServer  *http.Server
}

// New loads configuration and identity and wires every component. It does
// not start any goroutines or network connections — call Run for that.
func New(configPath string, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logSink := httpapi.NewLogSink(200)
	logger = slog.New(newMultiHandler(logger.Handler(), logSink))

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("fatal-startup: loading config: %w", err)
	}

	pub, priv, err := config.LoadOrCreateIdentity(cfg)
	if err != nil {
		return nil, fmt.Errorf("fatal-startup: loading identity: %w", err)
	}

	var pubArr [32]byte
	copy(pubArr[:], pub)
	selfID := core.MeshCoreID(pubArr)

	st, err := store.Open(fmt.Sprintf("%s/repeater.db", cfg.StorageDir), logger)
	if err != nil {
		return nil, fmt.Errorf("fatal-startup: opening store: %w", err)
	}

	series := timeseries.New()

	tp, err := buildTransport(cfg, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("fatal-startup: building transport: %w", err)
	}

	radioDriver := radio.NewAdapter(tp, cfg.Radio.SpreadingFactor, cfg.Radio.Bandwidth)

	dedupeCache := dedupe.New(dedupe.Config{TTL: time.Duration(cfg.Repeater.CacheTTL) * time.Second})
	airtimeMgr := airtime.New(airtime.Config{
		MaxAirtimePerMinute: cfg.DutyCycle.MaxAirtimePerMinute,
		EnforcementEnabled:  cfg.DutyCycle.EnforcementEnabled,
	})
	transportKeys := engine.NewTransportKeyCache(transportKeySource{store: st})

	mode := engine.ModeForward
	if cfg.Repeater.Mode == "monitor" {
		mode = engine.ModeMonitor
	}

	eng := engine.New(engine.Config{
		SelfHash:            pubArr[0],
		Mode:                mode,
		GlobalFloodAllow:    cfg.Mesh.GlobalFloodAllow,
		SpreadingFactor:     cfg.Radio.SpreadingFactor,
		BandwidthKHz:        cfg.Radio.Bandwidth,
		TxDelayFactor:       cfg.Delays.TxDelayFactor,
		DirectTxDelayFactor: cfg.Delays.DirectTxDelayFactor,
		UseScoreForTx:       cfg.Repeater.UseScoreForTx,
		ScoreThreshold:      cfg.Repeater.ScoreThreshold,
		Airtime:             airtimeMgr,
		Dedupe:              dedupeCache,
		TransportKeys:       transportKeys,
		Radio:               radioDriver,
		Logger:              logger,
	})

	var mqttLeg telemetry.MQTTPublisher
	var localMQTT *localMQTTPublisher
	if cfg.MQTT.Enabled {
		localMQTT = newLocalMQTTPublisher(cfg, logger)
		mqttLeg = localMQTT
	}

	var upstreamPub *upstream.Publisher
	var upstreamLeg telemetry.UpstreamPublisher
	if cfg.LetsMesh.Enabled {
		identity := &crypto.KeyPair{PublicKey: pub, PrivateKey: priv}
		broker := upstream.DefaultBrokers[0]
		if cfg.LetsMesh.BrokerIndex >= 0 && cfg.LetsMesh.BrokerIndex < len(upstream.DefaultBrokers) {
			broker = upstream.DefaultBrokers[cfg.LetsMesh.BrokerIndex]
		}
		upstreamPub = upstream.New(upstream.Config{
			Identity:              identity,
			Broker:                broker,
			NodeName:              cfg.Repeater.NodeName,
			IataCode:              cfg.LetsMesh.IataCode,
			StatusInterval:        time.Duration(cfg.LetsMesh.StatusInterval) * time.Second,
			Owner:                 cfg.LetsMesh.Owner,
			Email:                 cfg.LetsMesh.Email,
			FirmwareVersion:       firmwareVersion,
			Radio:                 cfg.Radio,
			DisallowedPacketTypes: cfg.LetsMesh.DisallowedPacketTypes,
			Logger:                logger,
		})
		upstreamLeg = upstreamPub
	}

	aggregator := telemetry.New(telemetry.Config{
		Store:     st,
		Series:    series,
		MQTT:      mqttLeg,
		Upstream:  upstreamLeg,
		NodeName:  cfg.Repeater.NodeName,
		BaseTopic: cfg.MQTT.BaseTopic,
		Logger:    logger,
	})
	eng.SetRecordHandler(func(rec *engine.Record) {
		aggregator.Observe(context.Background(), rec)
	})

	advertHelper := helpers.NewAdvert(aggregator, pubArr, logger)
	traceHelper := helpers.NewTrace(selfID, logger)

	var discoveryProcessor router.DiscoveryProcessor
	if cfg.Repeater.AllowDiscovery {
		discoveryProcessor = helpers.NewDiscovery(pubArr, logger)
	}

	rt := router.New(router.Config{
		Advert:    advertHelper,
		Trace:     traceHelper,
		Discovery: discoveryProcessor,
		Engine:    eng,
		Radio:     radioDriver,
		Logger:    logger,
	})

	d := &Daemon{
		cfg: cfg, log: logger,
		store: st, transport: tp, radio: radioDriver,
		engine: eng, router: rt, airtime: airtimeMgr,
		upstreamPub: upstreamPub, localMQTT: localMQTT,
	}

	advertBuilder := advert.NewSelfAdvertBuilder(&advert.SelfAdvertConfig{
		PrivateKey: priv,
		PublicKey:  pubArr,
		Clock:      clock.New(),
		AppData:    selfAppData(cfg),
	})
	sendAdvert := d.makeSendAdvert(advertBuilder)

	d.supervisor = timers.New(timers.Config{
		Radio:               radioDriver,
		Telemetry:           aggregator,
		SendAdvert:          sendAdvert,
		AdvertIntervalHours: cfg.Repeater.SendAdvertIntervalHours,
		Logger:              logger,
	})

	var cadEngine *httpapi.CADCalibrationEngine
	if cfg.Radio.SpreadingFactor > 0 {
		cadEngine = httpapi.NewCADCalibrationEngine(radioDriver, logger)
	}

	httpSrv := httpapi.New(httpapi.Config{
		Store:       st,
		Series:      series,
		Stats:       d,
		SendAdvert:  sendAdvert,
		SetMode:     d.setMode,
		SetDuty:     d.setDutyCycle,
		SetFlood:    d.setGlobalFloodPolicy,
		CAD:         cadEngine,
		Logs:        logSink,
		CORSEnabled: cfg.Web.CORSEnabled,
		Logger:      logger,
	})
	d.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: httpSrv.Handler(),
	}

	tp.SetPacketHandler(d.handlePacket)

	return d, nil
}

func selfAppData(cfg *config.Config) *codec.AdvertAppData {
	appData := &codec.AdvertAppData{
		NodeType: codec.NodeTypeRepeater,
		Name:     cfg.Repeater.NodeName,
	}
	if cfg.Repeater.Latitude != 0 || cfg.Repeater.Longitude != 0 {
		lat, lon := cfg.Repeater.Latitude, cfg.Repeater.Longitude
		appData.Lat = &lat
		appData.Lon = &lon
	}
	return appData
}

// transportKeySource adapts *store.Store to engine's unexported
// storeKeyLister contract, converting store.TransportKey rows to
// engine.StoredTransportKey.
type transportKeySource struct {
	store *store.Store
}

func (t transportKeySource) ListTransportKeys(ctx context.Context) ([]engine.StoredTransportKey, error) {
	rows, err := t.store.ListTransportKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]engine.StoredTransportKey, len(rows))
	for i, r := range rows {
		out[i] = engine.StoredTransportKey{ID: r.ID, FloodPolicy: r.FloodPolicy, KeyMaterial: r.TransportKey}
	}
	return out, nil
}

func (t transportKeySource) TouchTransportKey(ctx context.Context, id uint64) error {
	return t.store.TouchTransportKey(ctx, id)
}

// localMQTTPublisher adapts an eclipse/paho.mqtt.golang client to
// telemetry.MQTTPublisher, for the repeater's own local-broker telemetry
// feed (separate from any mqtt transport.Transport binding used for the
// mesh itself).
type localMQTTPublisher struct {
	client paho.Client
}

func newLocalMQTTPublisher(cfg *config.Config, logger *slog.Logger) *localMQTTPublisher {
	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Broker, cfg.MQTT.Port)).
		SetClientID(fmt.Sprintf("repeaterd-%s", cfg.Repeater.NodeName)).
		SetAutoReconnect(true)
	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	client := paho.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(5*time.Second) && token.Error() != nil {
		logger.Warn("local mqtt connect failed, will retry in background", "error", token.Error())
	}
	return &localMQTTPublisher{client: client}
}

func (p *localMQTTPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, false, payload)
	token.Wait()
	return token.Error()
}

func (d *Daemon) makeSendAdvert(build advert.AdvertBuilder) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		pkt := build()
		if pkt == nil {
			return false, fmt.Errorf("failed to build self-advert")
		}
		if err := d.radio.Send(ctx, pkt, false); err != nil {
			return false, fmt.Errorf("radio-transient: sending advert: %w", err)
		}
		return true, nil
	}
}

func (d *Daemon) setMode(mode string) error {
	if mode == "monitor" {
		d.engine.SetMode(engine.ModeMonitor)
	} else {
		d.engine.SetMode(engine.ModeForward)
	}
	return nil
}

func (d *Daemon) setDutyCycle(enabled bool) error {
	d.airtime.SetEnforcement(enabled)
	d.cfg.DutyCycle.EnforcementEnabled = enabled
	return nil
}

func (d *Daemon) setGlobalFloodPolicy(allow bool) error {
	d.engine.SetGlobalFloodAllow(allow)
	return nil
}

// Stats implements httpapi.StatsProvider (GET /api/stats).
func (d *Daemon) Stats(ctx context.Context) (map[string]any, error) {
	counts := d.engine.Counters.Snapshot()
	cumulative, err := d.store.CumulativeCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("persistence-degraded: %w", err)
	}
	return map[string]any{
		"node_name":  d.cfg.Repeater.NodeName,
		"mode":       d.cfg.Repeater.Mode,
		"received":   counts.Received,
		"forwarded":  counts.Forwarded,
		"duplicates": counts.Duplicates,
		"cumulative": cumulative,
	}, nil
}

func (d *Daemon) handlePacket(pkt *codec.Packet, source transport.PacketSource) {
	rec := &engine.Received{Packet: pkt, Timestamp: time.Now()}
	d.router.HandlePacket(context.Background(), rec)
}

func buildTransport(cfg *config.Config, logger *slog.Logger) (transport.Transport, error) {
	if cfg.MQTT.Broker != "" {
		return mqtttransport.New(mqtttransport.Config{
			Broker:   cfg.MQTT.Broker,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Logger:   logger,
		}), nil
	}
	return serialtransport.New(serialtransport.Config{Logger: logger}), nil
}

// Run starts every background goroutine and blocks until ctx is
// cancelled, then tears everything down: the Router's packet handler is
// transport-driven so it stops implicitly once the transport does; the
// timer supervisor and upstream heartbeat each catch cancellation and
// exit cleanly, and the upstream publisher sends a final offline status
// before its connection is closed.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := d.transport.Start(ctx); err != nil {
		return fmt.Errorf("fatal-startup: starting transport: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.supervisor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		if d.upstreamPub != nil {
			d.upstreamPub.Run(ctx)
		}
	}()

	go func() {
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.Error("http server stopped unexpectedly", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = d.httpServer.Shutdown(shutdownCtx)

	d.supervisor.Stop()
	_ = d.transport.Stop()
	wg.Wait()

	if d.localMQTT != nil {
		d.localMQTT.client.Disconnect(250)
	}

	return d.store.Close()
}
