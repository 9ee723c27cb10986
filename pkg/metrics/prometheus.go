/**
 * @description
 * Prometheus collector for the treasury-service. Uses a private registry so the
 * /metrics endpoint exposes only treasury counters, not the default Go runtime set
 * of whatever other library registers globally.
 *
 * All record methods are nil-receiver safe so tests can run the service without a
 * collector.
 *
 * @dependencies
 * - github.com/prometheus/client_golang: Registry, counters, and HTTP handler.
 */

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry        *prometheus.Registry
	purchases       *prometheus.CounterVec
	batchDeposits   prometheus.Counter
	batchEntries    prometheus.Counter
	commissionPaid  prometheus.Counter
	rewardsClaimed  prometheus.Counter
	withdrawals     prometheus.Counter
	withdrawnAmount prometheus.Counter
	outboxPublished prometheus.Counter
	outboxFailed    prometheus.Counter
	reconcileDrift  prometheus.Gauge
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		purchases: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_purchases_total",
			Help: "Total number of recorded purchases",
		}, []string{"tier"}),
		batchDeposits: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "treasury_batch_deposits_total",
			Help: "Total number of applied batch deposits",
		}),
		batchEntries: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "treasury_batch_deposit_entries_total",
			Help: "Total number of entries applied across batch deposits",
		}),
		commissionPaid: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "treasury_commission_paid_total",
			Help: "Total referral commission paid out, in minor units",
		}),
		rewardsClaimed: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "treasury_rewards_claimed_total",
			Help: "Total reward shares paid out, in minor units",
		}),
		withdrawals: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "treasury_withdrawals_total",
			Help: "Total number of executed withdrawals",
		}),
		withdrawnAmount: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "treasury_withdrawn_amount_total",
			Help: "Total amount withdrawn, in minor units",
		}),
		outboxPublished: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "treasury_outbox_published_total",
			Help: "Total outbox events published to the broker",
		}),
		outboxFailed: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "treasury_outbox_failed_total",
			Help: "Total outbox publish attempts that failed",
		}),
		reconcileDrift: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "treasury_reconcile_drift",
			Help: "Difference between treasury total deposits and the sum of account balances",
		}),
	}
}

func (c *Collector) PurchaseRecorded(tier string) {
	if c == nil {
		return
	}
	c.purchases.WithLabelValues(tier).Inc()
}

func (c *Collector) BatchDepositApplied(entries int) {
	if c == nil {
		return
	}
	c.batchDeposits.Inc()
	c.batchEntries.Add(float64(entries))
}

func (c *Collector) CommissionPaid(amount int64) {
	if c == nil {
		return
	}
	c.commissionPaid.Add(float64(amount))
}

func (c *Collector) RewardClaimed(share int64) {
	if c == nil {
		return
	}
	c.rewardsClaimed.Add(float64(share))
}

func (c *Collector) WithdrawalExecuted(amount int64) {
	if c == nil {
		return
	}
	c.withdrawals.Inc()
	c.withdrawnAmount.Add(float64(amount))
}

func (c *Collector) OutboxPublished() {
	if c == nil {
		return
	}
	c.outboxPublished.Inc()
}

func (c *Collector) OutboxFailed() {
	if c == nil {
		return
	}
	c.outboxFailed.Inc()
}

func (c *Collector) ReconcileDrift(drift int64) {
	if c == nil {
		return
	}
	c.reconcileDrift.Set(float64(drift))
}

// Handler serves the private registry for the /metrics route.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
