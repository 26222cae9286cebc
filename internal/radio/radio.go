// Package radio defines the external radio-driver contract.
//
// Driver is the seam between the Repeater Engine/Router and whatever
// physical or virtual LoRa radio is attached; the daemon wires a concrete
// transport.Transport (mqtt or serial, both kept from the teacher) behind
// it via Adapter. Grounded on original_source/repeater/engine.py's
// get_noise_floor/get_stats radio accessors and web/cad_calibration_engine.py
// for the CAD contract.
package radio

import (
	"context"
	"fmt"

	"github.com/kabili207/meshcore-go/core/codec"
	"github.com/kabili207/meshcore-go/transport"
)

// Driver is the contract any radio binding (physical SX126x/SX127x driver,
// serial companion radio, simulator) must satisfy to back the Repeater
// Engine and Router.
type Driver interface {
	// Send transmits pkt. If waitForAck is true and the underlying
	// transport supports acknowledgement, Send blocks until the ACK
	// arrives or the context is cancelled.
	Send(ctx context.Context, pkt *codec.Packet, waitForAck bool) error

	// GetNoiseFloor returns the radio's current background noise-floor
	// reading in dBm, or ok=false if the binding does not expose one
	// (mirrors engine.py's hasattr(radio, 'get_noise_floor') guard).
	GetNoiseFloor(ctx context.Context) (dbm float64, ok bool)

	// PerformCAD runs one channel-activity-detection sweep and reports
	// whether activity was detected, for the HTTP Control Surface's CAD
	// calibration stream.
	PerformCAD(ctx context.Context) (detected bool, err error)

	// SetCustomCADThresholds configures the CAD detector's threshold in
	// raw radio units, as tuned by the calibration sweep.
	SetCustomCADThresholds(ctx context.Context, threshold int) error

	// SpreadingFactor and BandwidthKHz report the radio's current PHY
	// parameters, consumed by the Airtime Accountant.
	SpreadingFactor() int
	BandwidthKHz() float64
}

// Adapter wraps a transport.Transport (mqtt or serial) to satisfy Driver.
// Neither transport binding exposes noise-floor or CAD telemetry, so those
// methods report ok=false / a not-supported error — the physical-radio
// case is left to a future SPI/GPIO driver, out of scope per the Non-goals.
type Adapter struct {
	transport transport.Transport
	sf        int
	bwKHz     float64
}

// NewAdapter wraps t with the given fixed PHY parameters.
func NewAdapter(t transport.Transport, sf int, bwKHz float64) *Adapter {
	return &Adapter{transport: t, sf: sf, bwKHz: bwKHz}
}

func (a *Adapter) Send(ctx context.Context, pkt *codec.Packet, waitForAck bool) error {
	return a.transport.SendPacket(pkt)
}

func (a *Adapter) GetNoiseFloor(ctx context.Context) (float64, bool) {
	return 0, false
}

func (a *Adapter) PerformCAD(ctx context.Context) (bool, error) {
	return false, fmt.Errorf("radio: CAD not supported by this transport binding")
}

func (a *Adapter) SetCustomCADThresholds(ctx context.Context, threshold int) error {
	return fmt.Errorf("radio: CAD thresholds not supported by this transport binding")
}

func (a *Adapter) SpreadingFactor() int     { return a.sf }
func (a *Adapter) BandwidthKHz() float64    { return a.bwKHz }
