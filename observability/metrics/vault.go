package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type VaultMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	settlements  *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	liquidator   *prometheus.CounterVec
	reinvested   *prometheus.CounterVec
	poolClaim    *prometheus.GaugeVec
	rateLimited  *prometheus.CounterVec
}

var (
	vaultOnce     sync.Once
	vaultRegistry *VaultMetrics
)

// Vault returns the process-wide vault metrics, registering them with the
// default Prometheus registry on first use.
func Vault() *VaultMetrics {
	vaultOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_operations_total",
				Help: "Count of vault operations by vault, operation and outcome.",
			}, []string{"vault", "op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "vault_operation_duration_seconds",
				Help:    "Latency of vault operations.",
				Buckets: prometheus.DefBuckets,
			}, []string{"op"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_settlements_total",
				Help: "Count of state-changing settlement calls by mode.",
			}, []string{"vault", "mode"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_deleverages_total",
				Help: "Count of deleverage calls by settlement style.",
			}, []string{"vault", "style"}),
			liquidator: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_liquidator_runs_total",
				Help: "Flash-loan liquidations attempted by the liquidation helper, by outcome.",
			}, []string{"vault", "outcome"}),
			reinvested: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_reinvested_claim_total",
				Help: "Pool claim added by reward reinvestment, in whole claim tokens.",
			}, []string{"vault"}),
			poolClaim: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "vault_pool_claim",
				Help: "Pool claim staked by the vault, in whole claim tokens.",
			}, []string{"vault"}),
			rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vaultd_rate_limited_total",
				Help: "Requests rejected by the per-principal rate limiter.",
			}, []string{"principal"}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.latency,
			vaultRegistry.settlements,
			vaultRegistry.liquidations,
			vaultRegistry.liquidator,
			vaultRegistry.reinvested,
			vaultRegistry.poolClaim,
			vaultRegistry.rateLimited,
		)
	})
	return vaultRegistry
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// ObserveOperation records one finished operation.
func (m *VaultMetrics) ObserveOperation(vault, op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(label(vault), label(op), label(outcome)).Inc()
	m.latency.WithLabelValues(label(op)).Observe(elapsed.Seconds())
}

func (m *VaultMetrics) ObserveSettlement(vault, mode string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(label(vault), label(mode)).Inc()
}

func (m *VaultMetrics) ObserveDeleverage(vault string, transferShares bool) {
	if m == nil {
		return
	}
	style := "redeem"
	if transferShares {
		style = "transfer"
	}
	m.liquidations.WithLabelValues(label(vault), style).Inc()
}

// ObserveLiquidation records one liquidation helper run.
func (m *VaultMetrics) ObserveLiquidation(vault, outcome string) {
	if m == nil {
		return
	}
	m.liquidator.WithLabelValues(label(vault), label(outcome)).Inc()
}

func (m *VaultMetrics) ObserveReinvest(vault string, claim float64) {
	if m == nil || claim <= 0 {
		return
	}
	m.reinvested.WithLabelValues(label(vault)).Add(claim)
}

func (m *VaultMetrics) SetPoolClaim(vault string, claim float64) {
	if m == nil {
		return
	}
	m.poolClaim.WithLabelValues(label(vault)).Set(claim)
}

func (m *VaultMetrics) ObserveRateLimited(principal string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(label(principal)).Inc()
}
