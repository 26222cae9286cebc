package engine

import (
	"math"
	"math/rand"
	"time"
)

const maxTxDelay = 5 * time.Second

// TxDelayParams bundles the inputs to transmit-delay computation.
type TxDelayParams struct {
	IsFlood             bool
	AirtimeMS           float64
	TxDelayFactor       float64
	DirectTxDelayFactor float64
	Score               float64
	UseScoreForTx       bool
	// Rand overrides math/rand's default source, for deterministic tests.
	Rand func() float64
}

// TxDelay computes the transmit delay for a forwarded packet:
//
//	FLOOD: base = (airtime * 52/50) / 2; delay = base * uniform(0,5) * tx_delay_factor / 1000 (ms->s)
//	DIRECT: delay = direct_tx_delay_factor (seconds)
//
// If delay >= 0.05s and score-based TX is enabled, delay *= max(0.2, 1-score).
// Capped at 5s.
func TxDelay(p TxDelayParams) time.Duration {
	var delaySec float64

	if p.IsFlood {
		base := (p.AirtimeMS * 52 / 50) / 2
		randFn := p.Rand
		if randFn == nil {
			randFn = rand.Float64
		}
		jitter := randFn() * 5
		delaySec = (base * jitter * p.TxDelayFactor) / 1000
	} else {
		delaySec = p.DirectTxDelayFactor
	}

	if delaySec >= 0.05 && p.UseScoreForTx {
		mult := math.Max(0.2, 1-p.Score)
		delaySec *= mult
	}

	d := time.Duration(delaySec * float64(time.Second))
	if d > maxTxDelay {
		d = maxTxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}
