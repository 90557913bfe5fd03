// Package metrics registers the bundler's gauges, meters and timers
// against go-ethereum's metrics registry, following preconf/metrics.go's
// component/subsystem/name naming convention and update-on-event style.
package metrics

import (
	"time"

	"github.com/ethereum/go-ethereum/metrics"
)

var (
	// Mempool occupancy, broken out by entity role per SUPPLEMENTED
	// FEATURES' metrics shape (crates/mempool/src/metrics.rs).
	MempoolSizeGauge          = metrics.NewRegisteredGauge("bundler/mempool/size", nil)
	MempoolSizeBySenderGauge  = metrics.NewRegisteredGauge("bundler/mempool/size/sender", nil)
	MempoolSizeByFactoryGauge = metrics.NewRegisteredGauge("bundler/mempool/size/factory", nil)
	MempoolSizeByPaymasterGauge = metrics.NewRegisteredGauge("bundler/mempool/size/paymaster", nil)

	// Validator stage outcomes.
	ValidationSanityRejectedMeter     = metrics.NewRegisteredMeter("bundler/validator/sanity/rejected", nil)
	ValidationSimulationRejectedMeter = metrics.NewRegisteredMeter("bundler/validator/simulation/rejected", nil)
	ValidationOpcodeRejectedMeter     = metrics.NewRegisteredMeter("bundler/validator/opcode/rejected", nil)
	ValidationReputationRejectedMeter = metrics.NewRegisteredMeter("bundler/validator/reputation/rejected", nil)
	ValidationAcceptedMeter           = metrics.NewRegisteredMeter("bundler/validator/accepted", nil)

	// Bundling loop outcomes.
	BundleBuiltMeter      = metrics.NewRegisteredMeter("bundler/bundle/built", nil)
	BundleEmptyMeter      = metrics.NewRegisteredMeter("bundler/bundle/empty", nil)
	BundleLandedMeter     = metrics.NewRegisteredMeter("bundler/bundle/landed", nil)
	BundleNotLandedMeter  = metrics.NewRegisteredMeter("bundler/bundle/not_landed", nil)
	BundleUserOpsGauge    = metrics.NewRegisteredGauge("bundler/bundle/user_ops", nil)
	BundleTickTimer       = metrics.NewRegisteredTimer("bundler/bundle/tick", nil)
	FlashbotsAcceptedMeter = metrics.NewRegisteredMeter("bundler/flashbots/accepted", nil)
	FlashbotsRejectedMeter = metrics.NewRegisteredMeter("bundler/flashbots/rejected", nil)

	// P2P gossip.
	P2PPeerCountGauge     = metrics.NewRegisteredGauge("bundler/p2p/peers", nil)
	P2PInboundMeter       = metrics.NewRegisteredMeter("bundler/p2p/inbound", nil)
	P2PRateLimitedMeter   = metrics.NewRegisteredMeter("bundler/p2p/rate_limited", nil)

	// JSON-RPC request handling.
	RPCRequestTimer = metrics.NewRegisteredTimer("bundler/rpc/request", nil)
)

// UpdateMempoolSize reports per-entity mempool occupancy, matching the
// gauge breakout SUPPLEMENTED FEATURES names.
func UpdateMempoolSize(total, bySender, byFactory, byPaymaster int) {
	MempoolSizeGauge.Update(int64(total))
	MempoolSizeBySenderGauge.Update(int64(bySender))
	MempoolSizeByFactoryGauge.Update(int64(byFactory))
	MempoolSizeByPaymasterGauge.Update(int64(byPaymaster))
}

// TimeTick updates BundleTickTimer with the duration since start, the
// same before/after timing pattern as preconf's MetricsPreconfTxPoolHandleCost.
func TimeTick(start time.Time) {
	BundleTickTimer.Update(time.Since(start))
}
