package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operations counts deposit/withdraw requests by outcome. The committed
// series mirrors the ledger's observability counters; rejected operations are
// labelled with the stage that refused them.
var Operations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vaultbank",
	Subsystem: "custody",
	Name:      "operations_total",
	Help:      "Deposit and withdrawal requests by operation and outcome.",
}, []string{"op", "outcome"})

// ExposureUSD reports the tracked bank-wide exposure in whole reference
// currency units.
var ExposureUSD = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "vaultbank",
	Subsystem: "custody",
	Name:      "exposure_usd",
	Help:      "Tracked bank-wide exposure in USD.",
})

// SetExposure converts an 8-decimal fixed-point exposure figure to the gauge.
func SetExposure(exposure *big.Int) {
	if exposure == nil {
		return
	}
	value, _ := new(big.Float).Quo(new(big.Float).SetInt(exposure), big.NewFloat(1e8)).Float64()
	ExposureUSD.Set(value)
}
