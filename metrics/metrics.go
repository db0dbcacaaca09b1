package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Redeem results
const (
	ResultSuccess          = "success"
	ResultInvalidSignature = "invalid_signature"
	ResultAlreadyRedeemed  = "already_redeemed"
	ResultError            = "error"
)

// Metrics contains all Prometheus metrics of the bridge
type Metrics struct {
	Swaps              *prometheus.CounterVec
	SwappedAmount      *prometheus.CounterVec
	Redemptions        *prometheus.CounterVec
	ValidatorRotations *prometheus.CounterVec

	// Off-chain workers
	SignaturesProduced *prometheus.CounterVec
	RelayAttempts      *prometheus.CounterVec
	LastObservedNonce  *prometheus.GaugeVec
	Operations         *prometheus.GaugeVec
}

// NewMetrics registers on the default registry
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry initializes and registers Prometheus metrics with a custom registry
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		Swaps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mabridge_swaps_total",
			Help: "The total number of swaps recorded",
		}, []string{"chain_id", "dest_chain_id"}),
		SwappedAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mabridge_swapped_amount_total",
			Help: "The burned amount in token base units, as float",
		}, []string{"chain_id"}),
		Redemptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mabridge_redemptions_total",
			Help: "Redeem calls by result",
		}, []string{"chain_id", "result"}),
		ValidatorRotations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mabridge_validator_rotations_total",
			Help: "The number of validator changes",
		}, []string{"chain_id"}),
		SignaturesProduced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mabridge_signatures_total",
			Help: "The number of canonical messages signed by the validator",
		}, []string{"source_chain_id"}),
		RelayAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mabridge_relay_attempts_total",
			Help: "Relay worker redeem attempts by result",
		}, []string{"dest_chain_id", "result"}),
		LastObservedNonce: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mabridge_last_observed_nonce",
			Help: "The highest swap nonce processed by the observer",
		}, []string{"chain_id"}),
		Operations: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mabridge_operations",
			Help: "Relay operations by status",
		}, []string{"status"}),
	}
}
